package mcpconn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	server *mcp.Server
}

// newFakeServer builds an in-process MCP server exposing one tool per entry
// in replies (tool name -> text returned by the handler) and a "greet"
// prompt that echoes its "name" argument.
func newFakeServer(name string, replies map[string]string) *fakeServer {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: "1.0.0"}, &mcp.ServerOptions{
		HasTools:   true,
		HasPrompts: true,
	})
	for tool, reply := range replies {
		reply := reply
		server.AddTool(&mcp.Tool{
			Name:        tool,
			Description: "test tool " + tool,
			InputSchema: &jsonschema.Schema{Type: "object"},
		}, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: reply}},
			}, nil
		})
	}
	server.AddPrompt(&mcp.Prompt{
		Name:      "greet",
		Arguments: []*mcp.PromptArgument{{Name: "name"}},
	}, func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		who := ""
		if req.Params != nil {
			who = req.Params.Arguments["name"]
		}
		return &mcp.GetPromptResult{Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: "hello " + who}},
		}}, nil
	})
	return &fakeServer{server: server}
}

// transport returns a Registry transport hook that wires every dial to a
// fresh in-memory session against this server.
func (f *fakeServer) transport(t *testing.T) func(string) mcp.Transport {
	t.Helper()
	return func(string) mcp.Transport {
		serverTransport, clientTransport := mcp.NewInMemoryTransports()
		session, err := f.server.Connect(context.Background(), serverTransport, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = session.Close() })
		return clientTransport
	}
}

type errTransport struct{ err error }

func (t errTransport) Connect(context.Context) (mcp.Connection, error) { return nil, t.err }

type stubAuthorizer struct {
	url  string
	err  error
	urls []string
}

func (s *stubAuthorizer) BuildAuthorizationRequest(_ context.Context, serverURL string) (string, error) {
	s.urls = append(s.urls, serverURL)
	return s.url, s.err
}

func TestAddServerReachesReady(t *testing.T) {
	t.Parallel()

	upstream := newFakeServer("weather", map[string]string{"forecast": "sunny"})
	registry := NewRegistry(&Options{Transport: upstream.transport(t), ConnectTimeout: 5 * time.Second})

	result, err := registry.AddServer(context.Background(), "https://weather.example/sse")
	require.NoError(t, err)
	require.False(t, result.NeedsAuthorization())

	conn := result.Connection
	assert.Equal(t, StateReady, conn.State)
	assert.Equal(t, "https://weather.example/sse", conn.URL)
	assert.NotEmpty(t, conn.ID)
	require.Len(t, conn.Tools, 1)
	assert.Equal(t, "forecast", conn.Tools[0].Name)
	require.Len(t, conn.Prompts, 1)
	assert.Equal(t, "greet", conn.Prompts[0].Name)
}

func TestAddServerIsIdempotentPerURL(t *testing.T) {
	t.Parallel()

	upstream := newFakeServer("weather", map[string]string{"forecast": "sunny"})
	registry := NewRegistry(&Options{Transport: upstream.transport(t)})

	first, err := registry.AddServer(context.Background(), "https://weather.example/sse")
	require.NoError(t, err)
	second, err := registry.AddServer(context.Background(), "https://weather.example/sse")
	require.NoError(t, err)

	assert.Equal(t, first.Connection.ID, second.Connection.ID, "re-add keeps the connection identity")
	require.Len(t, registry.ListConnections(), 1)
}

func TestAddServerUnauthorizedParksConnection(t *testing.T) {
	t.Parallel()

	authorizer := &stubAuthorizer{url: "https://auth.example/authorize?code_challenge=abc"}
	registry := NewRegistry(&Options{
		Transport:  func(string) mcp.Transport { return errTransport{errors.New("initialize: 401 Unauthorized")} },
		Authorizer: authorizer,
	})

	result, err := registry.AddServer(context.Background(), "https://weather.example/sse")
	require.NoError(t, err, "an authorization demand is not a failure")
	require.True(t, result.NeedsAuthorization())
	assert.Equal(t, authorizer.url, result.AuthorizationURL)
	assert.Equal(t, StateAuthenticating, result.Connection.State)
	assert.Equal(t, []string{"https://weather.example/sse"}, authorizer.urls)
}

func TestAddServerTransportFaultFails(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(&Options{
		Transport: func(string) mcp.Transport { return errTransport{errors.New("dial tcp: connection refused")} },
	})

	result, err := registry.AddServer(context.Background(), "https://down.example/mcp")
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.Connection.State)
	assert.Error(t, result.Connection.Err)

	conns := registry.ListConnections()
	require.Len(t, conns, 1, "failed connections stay visible until removed")
	assert.Equal(t, StateFailed, conns[0].State)
}

func TestRemoveServerWhileAuthenticating(t *testing.T) {
	t.Parallel()

	authorizer := &stubAuthorizer{url: "https://auth.example/authorize"}
	registry := NewRegistry(&Options{
		Transport:  func(string) mcp.Transport { return errTransport{errors.New("401 unauthorized")} },
		Authorizer: authorizer,
	})

	result, err := registry.AddServer(context.Background(), "https://weather.example/sse")
	require.NoError(t, err)

	// No transport was ever established, so removal must not attempt a close.
	require.NoError(t, registry.RemoveServer(result.Connection.ID))
	assert.Empty(t, registry.ListConnections())
}

func TestRemoveServerUnknownID(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil)
	err := registry.RemoveServer("nope")
	require.ErrorIs(t, err, ErrUnknownServer)
}

func TestCallToolRoutesByConnectionID(t *testing.T) {
	t.Parallel()

	serverA := newFakeServer("a", map[string]string{"search": "results from A"})
	serverB := newFakeServer("b", map[string]string{"search": "results from B"})
	registry := NewRegistry(&Options{
		Transport: func(url string) mcp.Transport {
			if url == "https://a.example/sse" {
				return serverA.transport(t)(url)
			}
			return serverB.transport(t)(url)
		},
	})

	resA, err := registry.AddServer(context.Background(), "https://a.example/sse")
	require.NoError(t, err)
	resB, err := registry.AddServer(context.Background(), "https://b.example/sse")
	require.NoError(t, err)

	result, err := registry.CallTool(context.Background(), resB.Connection.ID, "search", map[string]any{"q": "go"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "results from B", text.Text, "colliding tool names must resolve by connection, not name")

	result, err = registry.CallTool(context.Background(), resA.Connection.ID, "search", nil)
	require.NoError(t, err)
	text, ok = result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "results from A", text.Text)
}

func TestCallToolUnknownServer(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil)
	_, err := registry.CallTool(context.Background(), "missing", "search", nil)
	require.ErrorIs(t, err, ErrUnknownServer)
}

func TestGetPromptSubstitutesArguments(t *testing.T) {
	t.Parallel()

	upstream := newFakeServer("weather", nil)
	registry := NewRegistry(&Options{Transport: upstream.transport(t)})

	res, err := registry.AddServer(context.Background(), "https://weather.example/sse")
	require.NoError(t, err)

	prompt, err := registry.GetPrompt(context.Background(), res.Connection.ID, "greet", map[string]string{"name": "ada"})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	text, ok := prompt.Messages[0].Content.(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "hello ada", text.Text)
}

func TestStateValid(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateConnecting, StateAuthenticating, StateDiscovering, StateReady, StateFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, State("needs-authorization").Valid(), "retired vocabulary must not round-trip")
	assert.False(t, State("").Valid())
}

func TestIsUnauthorized(t *testing.T) {
	t.Parallel()

	assert.True(t, isUnauthorized(errors.New("POST https://x: 401 Unauthorized")))
	assert.True(t, isUnauthorized(errors.New("invalid_token: expired")))
	assert.True(t, isUnauthorized(errors.New("GET https://x: 403 Forbidden")))
	assert.False(t, isUnauthorized(errors.New("dial tcp: connection refused")))
	assert.False(t, isUnauthorized(nil))
}
