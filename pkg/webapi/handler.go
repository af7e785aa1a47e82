// Package webapi exposes the chat session core over HTTP: server
// add/remove, prompt runs, the OAuth redirect callback, a server-sent
// stream of session snapshots, and the chat turn stream.
package webapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"github.com/halcyonlabs/mcpchat/pkg/chat"
	"github.com/halcyonlabs/mcpchat/pkg/mcpconn"
	"github.com/halcyonlabs/mcpchat/pkg/session"
)

// stateNeedsAuthorization is the wire-level state reported when adding a
// server parked on delegated authorization; the caller is expected to
// navigate to the accompanying authorization URL.
const stateNeedsAuthorization = "NEEDS_AUTHORIZATION"

// Options configure the HTTP handler.
type Options struct {
	// Agent is the session facade the handler operates on. Required.
	Agent *session.Agent
	// Model powers chat turns. Optional; without it POST /chat is
	// unavailable.
	Model chat.LanguageModel
	// RedirectPath is where the OAuth callback sends the browser after
	// completing the flow, with the code and state parameters stripped.
	// Defaults to "/".
	RedirectPath string
	// AllowedOrigins restricts CORS. Empty allows any origin, which suits
	// local development.
	AllowedOrigins []string
	// Logger receives structured diagnostics.
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.RedirectPath == "" {
		opts.RedirectPath = "/"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Handler is the HTTP surface over one session agent.
type Handler struct {
	opts  Options
	agent *session.Agent
}

// New builds the routed handler, CORS included.
func New(opts *Options) http.Handler {
	h := &Handler{opts: opts.withDefaults(), agent: opts.Agent}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers", h.listServers)
	mux.HandleFunc("POST /servers", h.addServer)
	mux.HandleFunc("DELETE /servers/{id}", h.removeServer)
	mux.HandleFunc("POST /prompts/run", h.runPrompt)
	mux.HandleFunc("GET /oauth/callback", h.oauthCallback)
	mux.HandleFunc("GET /state", h.streamState)
	mux.HandleFunc("POST /chat", h.chatTurn)

	return cors.New(cors.Options{
		AllowedOrigins: h.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

type addServerRequest struct {
	URL string `json:"url"`
}

type addServerResponse struct {
	ID               string `json:"id"`
	State            string `json:"state"`
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
	Error            string `json:"error,omitempty"`
}

func (h *Handler) addServer(w http.ResponseWriter, r *http.Request) {
	var req addServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "body must be a JSON object with a non-empty url")
		return
	}

	result, err := h.agent.AddServer(r.Context(), req.URL)
	resp := addServerResponse{ID: result.ID, State: string(result.State)}
	if result.AuthorizationURL != "" {
		resp.State = stateNeedsAuthorization
		resp.AuthorizationURL = result.AuthorizationURL
	}
	if err != nil {
		// The failed connection is part of the session state; the caller
		// sees it in the server list, so this is a result, not an HTTP
		// error.
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) removeServer(w http.ResponseWriter, r *http.Request) {
	err := h.agent.RemoveServer(r.Context(), r.PathValue("id"))
	if errors.Is(err, mcpconn.ErrUnknownServer) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.agent.State())
}

type runPromptRequest struct {
	ServerID string            `json:"serverId"`
	Name     string            `json:"name"`
	Args     map[string]string `json:"args,omitempty"`
}

func (h *Handler) runPrompt(w http.ResponseWriter, r *http.Request) {
	var req runPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServerID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "body must carry serverId and name")
		return
	}

	messages, err := h.agent.RunPrompt(r.Context(), req.ServerID, req.Name, req.Args)
	if errors.Is(err, mcpconn.ErrUnknownServer) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// oauthCallback is the re-entry point after the user authorized at the
// authorization server. It completes the exchange, reconnects the server,
// and bounces the browser back to the application with the OAuth query
// parameters stripped.
func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "callback requires code and state parameters")
		return
	}

	result, err := h.agent.HandleAuthorizationCallback(r.Context(), state, code)
	if err != nil {
		h.opts.Logger.Error("authorization callback failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.opts.Logger.Info("authorization completed", "server", result.ID, "state", result.State)
	http.Redirect(w, r, h.opts.RedirectPath, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
