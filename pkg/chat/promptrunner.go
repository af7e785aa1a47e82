package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// PromptGetter resolves a named prompt on one connection. Implemented by
// mcpconn.Registry.
type PromptGetter interface {
	GetPrompt(ctx context.Context, serverID, name string, args map[string]string) (*mcp.GetPromptResult, error)
}

// PromptRunner fetches server-defined prompts and converts them into
// conversation messages. It does not touch chat history itself; the caller
// decides what to do with the returned stubs.
type PromptRunner struct {
	getter PromptGetter
}

// NewPromptRunner constructs a PromptRunner.
func NewPromptRunner(getter PromptGetter) *PromptRunner {
	return &PromptRunner{getter: getter}
}

// Run requests the named prompt from the connection identified by serverID
// with args substituted, and returns its messages in the order the server
// produced them.
func (r *PromptRunner) Run(ctx context.Context, serverID, name string, args map[string]string) ([]Message, error) {
	result, err := r.getter.GetPrompt(ctx, serverID, name, args)
	if err != nil {
		return nil, fmt.Errorf("chat: get prompt %q: %w", name, err)
	}

	messages := make([]Message, 0, len(result.Messages))
	for _, pm := range result.Messages {
		messages = append(messages, Message{
			ID:      uuid.NewString(),
			Role:    promptRole(pm.Role),
			Content: promptText(pm.Content),
		})
	}
	return messages, nil
}

func promptRole(role mcp.Role) Role {
	if role == "assistant" {
		return RoleAssistant
	}
	return RoleUser
}

func promptText(content mcp.Content) string {
	if text, ok := content.(*mcp.TextContent); ok {
		return text.Text
	}
	return ""
}
