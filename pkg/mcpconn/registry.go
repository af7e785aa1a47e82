// Package mcpconn owns the per-session set of upstream MCP server
// connections and drives each one through its lifecycle state machine. It
// layers idempotent add/remove semantics, delegated-authorization detection,
// and capability discovery on top of the modelcontextprotocol/go-sdk client
// so callers can treat every server as a (url, state, capabilities) record
// and route tool calls and prompt requests by connection ID.
package mcpconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrUnknownServer is returned when a connection ID does not resolve to a
// ready connection. It signals a contract violation by the caller (stale ID,
// removed server) rather than a transport fault.
var ErrUnknownServer = errors.New("mcpconn: unknown server")

// Authorizer mints an authorization URL for a server that demanded
// delegated authorization. Implemented by mcpauth.Coordinator.
type Authorizer interface {
	BuildAuthorizationRequest(ctx context.Context, serverURL string) (string, error)
}

// HeaderProvider supplies the Authorization header value (for example
// "Bearer <token>") for outbound requests to serverURL. An empty value means
// no credentials are available and the request goes out anonymous.
type HeaderProvider func(ctx context.Context, serverURL string) (string, error)

// Options configure a Registry.
type Options struct {
	// ClientName and ClientVersion identify this client during the MCP
	// initialize handshake.
	ClientName    string
	ClientVersion string
	// ConnectTimeout bounds a single connect-plus-discovery attempt.
	ConnectTimeout time.Duration
	// HTTPClient is the base client decorated with auth headers. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	// AuthHeader supplies per-server Authorization headers. Optional.
	AuthHeader HeaderProvider
	// Authorizer builds authorization URLs when a server answers a connect
	// attempt with an authorization demand. Optional; without it such
	// servers are marked failed instead of authenticating.
	Authorizer Authorizer
	// Transport overrides transport construction for a server URL. When nil
	// the registry picks an SSE or Streamable HTTP transport based on the
	// URL. Used by tests to splice in in-memory transports.
	Transport func(serverURL string) mcp.Transport
	// Logger receives structured diagnostics.
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcpchat"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Summary is the immutable public view of one connection. Capability slices
// are only populated once the connection reached StateReady.
type Summary struct {
	ID        string
	URL       string
	State     State
	Tools     []*mcp.Tool
	Prompts   []*mcp.Prompt
	Resources []*mcp.Resource
	// Err records the fault that moved the connection to StateFailed.
	Err error
}

// AddResult is the outcome of AddServer. A non-empty AuthorizationURL means
// the server demanded delegated authorization: the connection is parked in
// StateAuthenticating and the caller must complete the redirect round trip
// before re-adding the server.
type AddResult struct {
	Connection       Summary
	AuthorizationURL string
}

// NeedsAuthorization reports whether the caller must complete an
// authorization round trip before the server becomes usable.
func (r AddResult) NeedsAuthorization() bool { return r.AuthorizationURL != "" }

type entry struct {
	summary Summary
	session *mcp.ClientSession
}

// Registry owns every connection for one chat session. All connection-set
// mutations are serialized by a single mutex: the critical section
// deliberately spans the network dial so two concurrent AddServer calls for
// the same session cannot interleave.
type Registry struct {
	opts Options

	mu    sync.RWMutex
	conns map[string]*entry // connection ID -> entry
	byURL map[string]string // server URL -> connection ID

	addMu sync.Mutex
}

// NewRegistry constructs a Registry. Pass nil options for defaults.
func NewRegistry(opts *Options) *Registry {
	return &Registry{
		opts:  opts.withDefaults(),
		conns: make(map[string]*entry),
		byURL: make(map[string]string),
	}
}

// AddServer is an idempotent upsert keyed by URL: an existing connection for
// the same URL is replaced by a fresh connect attempt, which is how a caller
// reconnects after completing authorization. The returned error is non-nil
// only when the connection ended up in StateFailed; an authorization demand
// is a normal branch reported through AddResult, not an error.
func (r *Registry) AddServer(ctx context.Context, serverURL string) (AddResult, error) {
	r.addMu.Lock()
	defer r.addMu.Unlock()

	id := r.replaceEntry(serverURL)
	r.setState(id, StateConnecting, nil)

	connectCtx, cancel := context.WithTimeout(ctx, r.opts.ConnectTimeout)
	defer cancel()

	session, err := r.dial(connectCtx, serverURL)
	if err != nil {
		if isUnauthorized(err) {
			return r.parkForAuthorization(ctx, id, serverURL, err)
		}
		r.setState(id, StateFailed, err)
		return AddResult{Connection: r.summary(id)}, fmt.Errorf("mcpconn: connect %s: %w", serverURL, err)
	}

	r.setState(id, StateDiscovering, nil)
	tools, prompts, resources, err := r.discover(connectCtx, session)
	if err != nil {
		_ = session.Close()
		r.setState(id, StateFailed, err)
		return AddResult{Connection: r.summary(id)}, fmt.Errorf("mcpconn: discover %s: %w", serverURL, err)
	}

	r.mu.Lock()
	e := r.conns[id]
	e.session = session
	e.summary = Summary{
		ID:        id,
		URL:       serverURL,
		State:     mustValid(StateReady),
		Tools:     tools,
		Prompts:   prompts,
		Resources: resources,
	}
	r.mu.Unlock()

	r.opts.Logger.Info("server ready", "id", id, "url", serverURL,
		"tools", len(tools), "prompts", len(prompts), "resources", len(resources))
	return AddResult{Connection: r.summary(id)}, nil
}

// RemoveServer drops the connection with the given ID. The transport is
// closed only when the connection reached StateReady; entries parked in
// authenticating or failed states have no live transport to release.
func (r *Registry) RemoveServer(id string) error {
	r.addMu.Lock()
	defer r.addMu.Unlock()

	r.mu.Lock()
	e, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	session := e.session
	state := e.summary.State
	delete(r.conns, id)
	delete(r.byURL, e.summary.URL)
	r.mu.Unlock()

	if state == StateReady && session != nil {
		if err := session.Close(); err != nil {
			r.opts.Logger.Warn("close session", "id", id, "error", err)
		}
	}
	return nil
}

// ListConnections returns a snapshot of every connection summary, ordered by
// URL for deterministic output.
func (r *Registry) ListConnections() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.summary)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Connection returns the summary for one connection ID.
func (r *Registry) Connection(id string) (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return Summary{}, false
	}
	return e.summary, true
}

// CallTool forwards a tool invocation to the ready connection identified by
// serverID. Calls to the same server are serialized by the session's
// transport; the registry adds no locking of its own around the network call.
func (r *Registry) CallTool(ctx context.Context, serverID, name string, args map[string]any) (*mcp.CallToolResult, error) {
	session, err := r.readySession(serverID)
	if err != nil {
		return nil, err
	}
	return session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

// GetPrompt resolves a named prompt with arguments on the ready connection
// identified by serverID.
func (r *Registry) GetPrompt(ctx context.Context, serverID, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, err := r.readySession(serverID)
	if err != nil {
		return nil, err
	}
	params := &mcp.GetPromptParams{Name: name}
	if len(args) > 0 {
		params.Arguments = args
	}
	return session.GetPrompt(ctx, params)
}

// Close tears down every ready connection. The registry is unusable after.
func (r *Registry) Close() error {
	r.addMu.Lock()
	defer r.addMu.Unlock()

	r.mu.Lock()
	var sessions []*mcp.ClientSession
	for _, e := range r.conns {
		if e.summary.State == StateReady && e.session != nil {
			sessions = append(sessions, e.session)
		}
	}
	r.conns = make(map[string]*entry)
	r.byURL = make(map[string]string)
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) readySession(serverID string) (*mcp.ClientSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverID)
	}
	if e.summary.State != StateReady || e.session == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrUnknownServer, serverID, e.summary.State)
	}
	return e.session, nil
}

// replaceEntry reuses the connection ID when the URL is already known so the
// identity stays stable across an authorization-driven reconnect, closing
// any live transport from the previous incarnation. Partial discovery from
// the old entry is discarded wholesale.
func (r *Registry) replaceEntry(serverURL string) string {
	r.mu.Lock()
	id, known := r.byURL[serverURL]
	var old *mcp.ClientSession
	if known {
		if e := r.conns[id]; e != nil && e.summary.State == StateReady {
			old = e.session
		}
	} else {
		id = uuid.NewString()
		r.byURL[serverURL] = id
	}
	r.conns[id] = &entry{summary: Summary{ID: id, URL: serverURL, State: StateConnecting}}
	r.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			r.opts.Logger.Warn("close replaced session", "url", serverURL, "error", err)
		}
	}
	return id
}

func (r *Registry) parkForAuthorization(ctx context.Context, id, serverURL string, cause error) (AddResult, error) {
	if r.opts.Authorizer == nil {
		err := fmt.Errorf("mcpconn: %s requires authorization and no authorizer is configured: %w", serverURL, cause)
		r.setState(id, StateFailed, err)
		return AddResult{Connection: r.summary(id)}, err
	}
	authURL, err := r.opts.Authorizer.BuildAuthorizationRequest(ctx, serverURL)
	if err != nil {
		err = fmt.Errorf("mcpconn: build authorization request for %s: %w", serverURL, err)
		r.setState(id, StateFailed, err)
		return AddResult{Connection: r.summary(id)}, err
	}
	r.setState(id, StateAuthenticating, nil)
	r.opts.Logger.Info("server requires authorization", "id", id, "url", serverURL)
	return AddResult{Connection: r.summary(id), AuthorizationURL: authURL}, nil
}

func (r *Registry) dial(ctx context.Context, serverURL string) (*mcp.ClientSession, error) {
	transport := r.transportFor(serverURL)
	client := mcp.NewClient(&mcp.Implementation{
		Name:    r.opts.ClientName,
		Version: r.opts.ClientVersion,
	}, nil)
	return client.Connect(ctx, transport, nil)
}

func (r *Registry) transportFor(serverURL string) mcp.Transport {
	if r.opts.Transport != nil {
		return r.opts.Transport(serverURL)
	}
	httpClient := r.decorateHTTPClient(serverURL)
	if strings.HasSuffix(strings.TrimSuffix(strings.TrimSpace(serverURL), "/"), "/sse") {
		return &mcp.SSEClientTransport{Endpoint: serverURL, HTTPClient: httpClient}
	}
	return &mcp.StreamableClientTransport{Endpoint: serverURL, HTTPClient: httpClient}
}

func (r *Registry) discover(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Tool, []*mcp.Prompt, []*mcp.Resource, error) {
	tools, err := r.listTools(ctx, session)
	if err != nil {
		return nil, nil, nil, err
	}
	prompts, err := r.listPrompts(ctx, session)
	if err != nil {
		return nil, nil, nil, err
	}
	resources, err := r.listResources(ctx, session)
	if err != nil {
		return nil, nil, nil, err
	}
	return tools, prompts, resources, nil
}

func (r *Registry) listTools(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Tool, error) {
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		if isMethodUnavailableError(err) {
			return nil, nil
		}
		return nil, err
	}
	return res.Tools, nil
}

func (r *Registry) listPrompts(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Prompt, error) {
	res, err := session.ListPrompts(ctx, nil)
	if err != nil {
		if isMethodUnavailableError(err) {
			return nil, nil
		}
		return nil, err
	}
	return res.Prompts, nil
}

func (r *Registry) listResources(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Resource, error) {
	res, err := session.ListResources(ctx, nil)
	if err != nil {
		if isMethodUnavailableError(err) {
			return nil, nil
		}
		return nil, err
	}
	return res.Resources, nil
}

func (r *Registry) setState(id string, state State, cause error) {
	state = mustValid(state)
	r.mu.Lock()
	if e, ok := r.conns[id]; ok {
		e.summary = Summary{
			ID:    id,
			URL:   e.summary.URL,
			State: state,
			Err:   cause,
		}
	}
	r.mu.Unlock()
}

func (r *Registry) summary(id string) Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.summary
	}
	return Summary{ID: id, State: StateFailed}
}
