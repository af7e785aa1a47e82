package webapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/halcyonlabs/mcpchat/pkg/chat"
)

// streamEvent is the wire shape of one server-sent chat event.
type streamEvent struct {
	Type       string           `json:"type"`
	Text       string           `json:"text,omitempty"`
	Annotation *chat.Annotation `json:"annotation,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func toStreamEvent(event chat.Event) streamEvent {
	switch event.Type {
	case chat.EventTypeText:
		return streamEvent{Type: "text", Text: event.Text}
	case chat.EventTypeAnnotation:
		return streamEvent{Type: "annotation", Annotation: event.Annotation}
	case chat.EventTypeError:
		return streamEvent{Type: "error", Error: event.Err.Error()}
	default:
		return streamEvent{Type: "end"}
	}
}

// streamState pushes a full session snapshot to the client on every
// mutation, starting with the current one.
func (h *Handler) streamState(w http.ResponseWriter, r *http.Request) {
	flusher, ok := sseSetup(w)
	if !ok {
		return
	}

	snapshots, cancel := h.agent.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot, open := <-snapshots:
			if !open {
				return
			}
			if err := sseWrite(w, flusher, snapshot); err != nil {
				return
			}
		}
	}
}

type chatRequest struct {
	Messages []chat.Message `json:"messages"`
}

// chatTurn runs one bounded chat turn over the aggregated tool set and
// streams its events.
func (h *Handler) chatTurn(w http.ResponseWriter, r *http.Request) {
	if h.opts.Model == nil {
		writeError(w, http.StatusServiceUnavailable, "no language model configured")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "body must carry at least one message")
		return
	}

	flusher, ok := sseSetup(w)
	if !ok {
		return
	}

	proxy := chat.NewProxy(h.agent.Registry(), h.opts.Logger)
	wrappers := proxy.Wrappers(h.agent.State().ProxyTools())
	turn := chat.NewTurn(h.opts.Model, proxy, h.opts.Logger)

	events := make(chan chat.Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := turn.Run(r.Context(), req.Messages, wrappers, events); err != nil {
			h.opts.Logger.Error("chat turn failed", "error", err)
		}
	}()

	for event := range events {
		if err := sseWrite(w, flusher, toStreamEvent(event)); err != nil {
			// Client went away; keep draining so the turn can finish.
			go func() {
				for range events {
				}
			}()
			break
		}
	}
	<-done
}

func sseSetup(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func sseWrite(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
