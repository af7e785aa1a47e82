package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/halcyonlabs/mcpchat/pkg/chat"
	"github.com/halcyonlabs/mcpchat/pkg/mcpconn"
)

// Authorization is the slice of the authorization coordinator the agent
// needs. Implemented by mcpauth.Coordinator.
type Authorization interface {
	ResolveState(ctx context.Context, state string) (string, error)
	CompleteAuthorization(ctx context.Context, serverURL, code string) (*oauth2.Token, error)
	Clear(ctx context.Context, serverURL string) error
}

// AddServerResult is what a caller gets back from AddServer: the connection
// identity, the state it landed in, and, when the server demanded delegated
// authorization, the URL to send the user to.
type AddServerResult struct {
	ID               string        `json:"id"`
	State            mcpconn.State `json:"state"`
	AuthorizationURL string        `json:"authorizationUrl,omitempty"`
}

// Agent is the per-session facade over the connection registry, the
// authorization coordinator, and the state store. A single mutex serializes
// connection-set mutations so concurrent add/remove requests cannot
// interleave, and every mutation ends with exactly one store replacement.
type Agent struct {
	registry *mcpconn.Registry
	auth     Authorization
	store    *Store
	prompts  *chat.PromptRunner
	logger   *slog.Logger

	mu sync.Mutex
}

// NewAgent wires an Agent over its collaborators.
func NewAgent(registry *mcpconn.Registry, auth Authorization, store *Store, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		registry: registry,
		auth:     auth,
		store:    store,
		prompts:  chat.NewPromptRunner(registry),
		logger:   logger,
	}
}

// AddServer connects (or reconnects) the server at url. The snapshot is
// republished whatever the outcome, so observers see failed and
// authenticating servers too.
func (a *Agent) AddServer(ctx context.Context, url string) (AddServerResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	result, err := a.registry.AddServer(ctx, url)
	a.publish()

	return AddServerResult{
		ID:               result.Connection.ID,
		State:            result.Connection.State,
		AuthorizationURL: result.AuthorizationURL,
	}, err
}

// RemoveServer drops the connection and its stored credentials, then
// republishes the snapshot.
func (a *Agent) RemoveServer(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	conn, ok := a.registry.Connection(id)
	if !ok {
		return fmt.Errorf("%w: %s", mcpconn.ErrUnknownServer, id)
	}
	if err := a.registry.RemoveServer(id); err != nil {
		return err
	}
	if a.auth != nil {
		if err := a.auth.Clear(ctx, conn.URL); err != nil {
			a.logger.Warn("clear credentials", "url", conn.URL, "error", err)
		}
	}
	a.publish()
	return nil
}

// HandleAuthorizationCallback finishes a delegated-authorization round trip:
// it maps the opaque state back to the server that started the flow,
// exchanges the code for tokens, and reconnects the server, which now dials
// with credentials available.
func (a *Agent) HandleAuthorizationCallback(ctx context.Context, state, code string) (AddServerResult, error) {
	serverURL, err := a.auth.ResolveState(ctx, state)
	if err != nil {
		return AddServerResult{}, err
	}
	if _, err := a.auth.CompleteAuthorization(ctx, serverURL, code); err != nil {
		return AddServerResult{}, err
	}
	return a.AddServer(ctx, serverURL)
}

// RunPrompt fetches a server-defined prompt as conversation message stubs.
// Read-only: no snapshot is republished.
func (a *Agent) RunPrompt(ctx context.Context, serverID, name string, args map[string]string) ([]chat.Message, error) {
	return a.prompts.Run(ctx, serverID, name, args)
}

// State returns the current session snapshot.
func (a *Agent) State() State {
	return a.store.Current()
}

// Subscribe registers a snapshot observer on the underlying store.
func (a *Agent) Subscribe() (<-chan State, func()) {
	return a.store.Subscribe()
}

// Registry exposes the connection registry for tool dispatch during chat
// turns.
func (a *Agent) Registry() *mcpconn.Registry {
	return a.registry
}

// Close tears down every connection.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registry.Close()
}

func (a *Agent) publish() {
	a.store.Replace(Snapshot(a.registry.ListConnections()))
}
