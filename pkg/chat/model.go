package chat

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Role is a conversation role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model. Arguments are kept
// as raw JSON until the owning wrapper decodes them.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry of a conversation history.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	// ToolCallID links a tool-result message back to the call it answers.
	ToolCallID string `json:"toolCallId,omitempty"`
}

// ToolSpec describes one invocable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// Completion is one model response: assistant text, tool-call requests, or
// both.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// LanguageModel is the reasoning loop behind a chat turn. The model's
// internals are opaque here; the turn only feeds it history plus tool specs
// and acts on what comes back.
type LanguageModel interface {
	Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Completion, error)
}
