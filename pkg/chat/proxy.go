package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/halcyonlabs/mcpchat/pkg/mcpconn"
)

// Caller dispatches a tool invocation to the connection that owns it.
// Implemented by mcpconn.Registry.
type Caller interface {
	CallTool(ctx context.Context, serverID, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ProxyTool is one aggregated tool handed to the proxy: the discovered tool
// plus the connection it came from.
type ProxyTool struct {
	ServerID string
	Tool     *mcp.Tool
}

// Wrapper is one invocable tool as presented to the model. The owning server
// is bound into the wrapper when it is built; invocation arguments never
// carry routing information.
type Wrapper struct {
	// Name is the namespaced invocation name shown to the model.
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	// ServerID and NativeName identify the upstream tool the wrapper
	// forwards to.
	ServerID   string
	NativeName string
}

// Spec describes the wrapper to the model.
func (w Wrapper) Spec() ToolSpec {
	return ToolSpec{Name: w.Name, Description: w.Description, Schema: w.InputSchema}
}

// Proxy turns the aggregated tool list into wrappers and routes each
// invocation back through the connection registry, writing lifecycle
// annotations to the response stream around the call.
type Proxy struct {
	caller Caller
	logger *slog.Logger
}

// NewProxy constructs a Proxy over the given dispatcher.
func NewProxy(caller Caller, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{caller: caller, logger: logger}
}

// Wrappers builds one wrapper per aggregated tool. Wrappers are data, not
// code: the same invocation path serves every tool, parameterized by the
// bound server ID and native name.
func (p *Proxy) Wrappers(tools []ProxyTool) []Wrapper {
	out := make([]Wrapper, 0, len(tools))
	for _, t := range tools {
		schema, _ := t.Tool.InputSchema.(*jsonschema.Schema)
		out = append(out, Wrapper{
			Name:        invocationName(t.ServerID, t.Tool.Name),
			Description: t.Tool.Description,
			InputSchema: schema,
			ServerID:    t.ServerID,
			NativeName:  t.Tool.Name,
		})
	}
	return out
}

// Invoke forwards one model-requested tool call through the registry and
// returns the tool-result message to append to history. Tool failures are
// folded into the result content so the model can react; only
// mcpconn.ErrUnknownServer is fatal to the turn.
func (p *Proxy) Invoke(ctx context.Context, w Wrapper, call ToolCall, events chan<- Event) (Message, error) {
	events <- Event{Type: EventTypeAnnotation, Annotation: &Annotation{
		Type:       "status",
		Value:      StatusProcessing,
		ToolCallID: call.ID,
		ToolName:   w.Name,
	}}
	defer func() {
		events <- Event{Type: EventTypeAnnotation, Annotation: &Annotation{
			Type:       "status",
			Value:      StatusProcessed,
			ToolCallID: call.ID,
			ToolName:   w.Name,
		}}
	}()

	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return p.errorResult(call, fmt.Errorf("decode arguments: %w", err)), nil
		}
	}

	result, err := p.caller.CallTool(ctx, w.ServerID, w.NativeName, args)
	if err != nil {
		if errors.Is(err, mcpconn.ErrUnknownServer) {
			return Message{}, err
		}
		p.logger.Warn("tool call failed", "tool", w.Name, "server", w.ServerID, "error", err)
		return p.errorResult(call, err), nil
	}

	return Message{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		Content:    resultText(result),
		ToolCallID: call.ID,
	}, nil
}

func (p *Proxy) errorResult(call ToolCall, err error) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		Content:    fmt.Sprintf("tool call failed: %v", err),
		ToolCallID: call.ID,
	}
}

// resultText flattens a tool result to text for the conversation history.
func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError && text == "" {
		text = "tool reported an error"
	}
	return text
}

// invocationName namespaces a tool name with a short form of its server ID
// so the same native name from two servers stays distinguishable to the
// model while fitting provider name-length limits.
func invocationName(serverID, toolName string) string {
	short := serverID
	if i := strings.IndexByte(short, '-'); i > 0 {
		short = short[:i]
	}
	return short + "__" + toolName
}
