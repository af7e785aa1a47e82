// Package chat runs bounded chat turns against a language model, exposing
// the aggregated MCP tool set through invocable wrappers that route each
// call back to its owning server and annotate the outgoing response stream
// with tool lifecycle status.
package chat

import "strings"

// EventType identifies an event on the response stream.
type EventType int

const (
	// EventTypeText carries a chunk of assistant text.
	EventTypeText EventType = iota
	// EventTypeAnnotation carries a tool lifecycle status annotation.
	EventTypeAnnotation
	// EventTypeError reports a turn-ending failure.
	EventTypeError
	// EventTypeEnd marks the end of the stream.
	EventTypeEnd
)

// Annotation is a status marker written to the stream around a tool call so
// the consumer can render invocation progress.
type Annotation struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
}

const (
	// StatusProcessing is emitted immediately before a tool call is
	// dispatched.
	StatusProcessing = "processing"
	// StatusProcessed is emitted once the call settles, success or not.
	StatusProcessed = "processed"
)

// Event is one element of a chat turn's response stream.
type Event struct {
	Type       EventType
	Text       string
	Annotation *Annotation
	Err        error
}

// StreamResult is a readable response stream for one chat turn.
type StreamResult struct {
	Stream <-chan Event
}

// ReadAll drains the stream and concatenates its text chunks. Used by
// callers that do not care about incremental delivery.
func (r *StreamResult) ReadAll() string {
	var b strings.Builder
	for event := range r.Stream {
		if event.Type == EventTypeText {
			b.WriteString(event.Text)
		}
	}
	return b.String()
}
