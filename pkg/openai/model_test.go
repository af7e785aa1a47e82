package openai

import (
	"encoding/json"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	openaiClient "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/mcpchat/pkg/chat"
)

func TestToChatMessages(t *testing.T) {
	t.Parallel()

	messages := toChatMessages([]chat.Message{
		{Role: chat.RoleSystem, Content: "you are helpful"},
		{Role: chat.RoleUser, Content: "weather in oslo?"},
		{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{
			{ID: "call-1", Name: "aaaa1111__forecast", Arguments: json.RawMessage(`{"city":"oslo"}`)},
		}},
		{Role: chat.RoleTool, Content: "rainy", ToolCallID: "call-1"},
	})

	require.Len(t, messages, 4)
	assert.Equal(t, openaiClient.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(t, openaiClient.ChatMessageRoleUser, messages[1].Role)

	require.Len(t, messages[2].ToolCalls, 1)
	assert.Equal(t, openaiClient.ToolTypeFunction, messages[2].ToolCalls[0].Type)
	assert.Equal(t, "aaaa1111__forecast", messages[2].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"oslo"}`, messages[2].ToolCalls[0].Function.Arguments)

	assert.Equal(t, openaiClient.ChatMessageRoleTool, messages[3].Role)
	assert.Equal(t, "call-1", messages[3].ToolCallID)
}

func TestToTools(t *testing.T) {
	t.Parallel()

	assert.Nil(t, toTools(nil))

	tools := toTools([]chat.ToolSpec{{
		Name:        "aaaa1111__forecast",
		Description: "city forecast",
		Schema:      &jsonschema.Schema{Type: "object"},
	}})
	require.Len(t, tools, 1)
	assert.Equal(t, openaiClient.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "aaaa1111__forecast", tools[0].Function.Name)
	assert.NotNil(t, tools[0].Function.Parameters)
}
