package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// maxToolRounds bounds how many reasoning/tool-call rounds one turn may
// take, so a model that keeps requesting tools cannot run a turn forever.
const maxToolRounds = 10

// Turn drives one chat exchange: it feeds history and the wrapped tool set
// to the model, dispatches requested tool calls through the proxy, and
// repeats until the model answers with plain text or the round bound is hit.
type Turn struct {
	model  LanguageModel
	proxy  *Proxy
	logger *slog.Logger
}

// NewTurn constructs a Turn runner.
func NewTurn(model LanguageModel, proxy *Proxy, logger *slog.Logger) *Turn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Turn{model: model, proxy: proxy, logger: logger}
}

// Run executes the turn, streaming events as they happen, and returns the
// messages produced (assistant and tool messages, in order) for the caller
// to append to its history. The events channel is closed when the turn ends.
func (t *Turn) Run(ctx context.Context, history []Message, tools []Wrapper, events chan<- Event) ([]Message, error) {
	defer close(events)

	specs := make([]ToolSpec, 0, len(tools))
	byName := make(map[string]Wrapper, len(tools))
	for _, w := range tools {
		specs = append(specs, w.Spec())
		byName[w.Name] = w
	}

	var produced []Message
	conversation := append([]Message(nil), history...)

	for round := 0; round < maxToolRounds; round++ {
		completion, err := t.model.Complete(ctx, conversation, specs)
		if err != nil {
			err = fmt.Errorf("chat: complete: %w", err)
			events <- Event{Type: EventTypeError, Err: err}
			return produced, err
		}

		if completion.Text != "" {
			events <- Event{Type: EventTypeText, Text: completion.Text}
		}
		assistant := Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		}
		conversation = append(conversation, assistant)
		produced = append(produced, assistant)

		if len(completion.ToolCalls) == 0 {
			events <- Event{Type: EventTypeEnd}
			return produced, nil
		}

		results, err := t.dispatch(ctx, completion.ToolCalls, byName, events)
		if err != nil {
			events <- Event{Type: EventTypeError, Err: err}
			return produced, err
		}
		conversation = append(conversation, results...)
		produced = append(produced, results...)
	}

	t.logger.Warn("tool round bound reached", "rounds", maxToolRounds)
	events <- Event{Type: EventTypeEnd}
	return produced, nil
}

// dispatch runs one round of tool calls. Calls may target different servers,
// so they run concurrently; result order follows request order regardless of
// completion order.
func (t *Turn) dispatch(ctx context.Context, calls []ToolCall, byName map[string]Wrapper, events chan<- Event) ([]Message, error) {
	results := make([]Message, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wrapper, ok := byName[call.Name]
		if !ok {
			results[i] = Message{
				ID:         uuid.NewString(),
				Role:       RoleTool,
				Content:    fmt.Sprintf("unknown tool %q", call.Name),
				ToolCallID: call.ID,
			}
			continue
		}
		wg.Add(1)
		go func(i int, call ToolCall, wrapper Wrapper) {
			defer wg.Done()
			results[i], errs[i] = t.proxy.Invoke(ctx, wrapper, call, events)
		}(i, call, wrapper)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("chat: dispatch tool call: %w", err)
		}
	}
	return results, nil
}
