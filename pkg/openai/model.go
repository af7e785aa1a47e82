// Package openai adapts the OpenAI chat completion API to the chat
// package's LanguageModel interface, including function-call style tool use.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openaiClient "github.com/sashabaranov/go-openai"

	"github.com/halcyonlabs/mcpchat/pkg/chat"
)

const defaultModel = openaiClient.GPT4o

// Options configure a Model.
type Options struct {
	// APIKey authenticates against the API. Required.
	APIKey string
	// Model names the completion model. Defaults to gpt-4o.
	Model string
	// BaseURL overrides the API endpoint for compatible providers.
	BaseURL string
	// HTTPClient overrides the transport. Optional.
	HTTPClient *http.Client
}

// Model is an OpenAI-backed LanguageModel.
type Model struct {
	client *openaiClient.Client
	model  string
}

// NewModel constructs a Model from options.
func NewModel(opts Options) *Model {
	config := openaiClient.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		config.HTTPClient = opts.HTTPClient
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	return &Model{
		client: openaiClient.NewClientWithConfig(config),
		model:  model,
	}
}

// Complete runs one non-streaming completion over the conversation with the
// given tools offered as functions.
func (m *Model) Complete(ctx context.Context, messages []chat.Message, tools []chat.ToolSpec) (chat.Completion, error) {
	request := openaiClient.ChatCompletionRequest{
		Model:    m.model,
		Messages: toChatMessages(messages),
		Tools:    toTools(tools),
	}

	response, err := m.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return chat.Completion{}, fmt.Errorf("openai: create chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return chat.Completion{}, fmt.Errorf("openai: completion returned no choices")
	}

	choice := response.Choices[0].Message
	completion := chat.Completion{Text: choice.Content}
	for _, call := range choice.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, chat.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return completion, nil
}

func toChatMessages(messages []chat.Message) []openaiClient.ChatCompletionMessage {
	out := make([]openaiClient.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted := openaiClient.ChatCompletionMessage{
			Role:       toRole(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openaiClient.ToolCall{
				ID:   call.ID,
				Type: openaiClient.ToolTypeFunction,
				Function: openaiClient.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		out = append(out, converted)
	}
	return out
}

func toTools(tools []chat.ToolSpec) []openaiClient.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openaiClient.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openaiClient.Tool{
			Type: openaiClient.ToolTypeFunction,
			Function: &openaiClient.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		})
	}
	return out
}

func toRole(role chat.Role) string {
	switch role {
	case chat.RoleSystem:
		return openaiClient.ChatMessageRoleSystem
	case chat.RoleAssistant:
		return openaiClient.ChatMessageRoleAssistant
	case chat.RoleTool:
		return openaiClient.ChatMessageRoleTool
	default:
		return openaiClient.ChatMessageRoleUser
	}
}
