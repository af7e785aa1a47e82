package mcpauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// authServer is a minimal authorization server: RFC 8414 metadata, RFC 7591
// registration, and a token endpoint that accepts one known code.
type authServer struct {
	*httptest.Server

	registrations atomic.Int64
	tokenRequests []url.Values
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	as := &authServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ServerMetadata{
			Issuer:                        as.URL,
			AuthorizationEndpoint:         as.URL + "/authorize",
			TokenEndpoint:                 as.URL + "/token",
			RegistrationEndpoint:          as.URL + "/register",
			ResponseTypesSupported:        []string{"code"},
			GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
			CodeChallengeMethodsSupported: []string{"S256"},
		})
	})

	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		as.registrations.Add(1)
		var req clientRegistrationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "none", req.TokenEndpointAuthMethod)
		assert.Contains(t, req.GrantTypes, "refresh_token")
		require.NotEmpty(t, req.RedirectURIs)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(clientRegistrationResponse{ClientID: "dyn-client-1"})
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		as.tokenRequests = append(as.tokenRequests, r.PostForm)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "issued-access-token",
			"refresh_token": "issued-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	as.Server = httptest.NewServer(mux)
	t.Cleanup(as.Close)
	return as
}

func newTestCoordinator(t *testing.T, as *authServer) (*Coordinator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	coord := NewCoordinator(store, &CoordinatorOptions{
		RedirectURL: "http://localhost:8484/oauth/callback",
		ClientName:  "mcpchat-test",
		HTTPClient:  as.Client(),
	})
	return coord, store
}

func TestBuildAuthorizationRequest(t *testing.T) {
	as := newAuthServer(t)
	coord, store := newTestCoordinator(t, as)
	ctx := context.Background()
	serverURL := as.URL + "/sse"

	authURL, err := coord.BuildAuthorizationRequest(ctx, serverURL)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "dyn-client-1", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "http://localhost:8484/oauth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	require.NotEmpty(t, q.Get("state"))

	// The verifier must be stored for the callback, and the state parameter
	// must resolve back to the server that started the flow.
	_, err = store.Verifier(ctx, serverURL)
	require.NoError(t, err)
	resolved, err := coord.ResolveState(ctx, q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, serverURL, resolved)
}

func TestBuildAuthorizationRequestReusesRegisteredClient(t *testing.T) {
	as := newAuthServer(t)
	coord, _ := newTestCoordinator(t, as)
	ctx := context.Background()
	serverURL := as.URL + "/sse"

	_, err := coord.BuildAuthorizationRequest(ctx, serverURL)
	require.NoError(t, err)
	_, err = coord.BuildAuthorizationRequest(ctx, serverURL)
	require.NoError(t, err)

	assert.Equal(t, int64(1), as.registrations.Load(), "client registration happens once per server")
}

func TestCompleteAuthorizationRoundTrip(t *testing.T) {
	as := newAuthServer(t)
	coord, store := newTestCoordinator(t, as)
	ctx := context.Background()
	serverURL := as.URL + "/sse"

	_, err := coord.BuildAuthorizationRequest(ctx, serverURL)
	require.NoError(t, err)

	tok, err := coord.CompleteAuthorization(ctx, serverURL, "the-code")
	require.NoError(t, err)
	assert.Equal(t, "issued-access-token", tok.AccessToken)
	assert.Equal(t, "issued-refresh-token", tok.RefreshToken)

	// The exchange must carry the code and the original verifier.
	require.Len(t, as.tokenRequests, 1)
	form := as.tokenRequests[0]
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	storedVerifier, err := store.Verifier(ctx, serverURL)
	require.NoError(t, err)
	assert.Equal(t, storedVerifier, form.Get("code_verifier"))

	// Tokens are persisted for the reconnect that follows.
	stored, ok, err := store.Tokens(ctx, serverURL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "issued-access-token", stored.AccessToken)
}

func TestCompleteAuthorizationWithoutVerifier(t *testing.T) {
	as := newAuthServer(t)
	coord, store := newTestCoordinator(t, as)
	ctx := context.Background()
	serverURL := as.URL + "/sse"

	_, err := coord.BuildAuthorizationRequest(ctx, serverURL)
	require.NoError(t, err)

	// A cleared bundle simulates a stale or cross-session callback.
	require.NoError(t, store.Clear(ctx, serverURL))

	_, err = coord.CompleteAuthorization(ctx, serverURL, "the-code")
	require.ErrorIs(t, err, ErrMissingVerifier)
	assert.Empty(t, as.tokenRequests, "no exchange is attempted without a verifier")
}

func TestAuthorizationHeader(t *testing.T) {
	as := newAuthServer(t)
	coord, store := newTestCoordinator(t, as)
	ctx := context.Background()
	serverURL := as.URL + "/sse"

	// Nothing stored: anonymous.
	header, err := coord.AuthorizationHeader(ctx, serverURL)
	require.NoError(t, err)
	assert.Empty(t, header)

	// A live token is used as-is.
	require.NoError(t, store.SaveTokens(ctx, serverURL, &oauth2.Token{
		AccessToken: "live-token",
		Expiry:      time.Now().Add(time.Hour),
	}))
	header, err = coord.AuthorizationHeader(ctx, serverURL)
	require.NoError(t, err)
	assert.Equal(t, "Bearer live-token", header)
}

func TestAuthorizationHeaderRefreshesExpiredToken(t *testing.T) {
	as := newAuthServer(t)
	coord, store := newTestCoordinator(t, as)
	ctx := context.Background()
	serverURL := as.URL + "/sse"

	require.NoError(t, store.SaveClientInformation(ctx, serverURL, ClientInformation{ClientID: "dyn-client-1"}))
	require.NoError(t, store.SaveTokens(ctx, serverURL, &oauth2.Token{
		AccessToken:  "expired-token",
		RefreshToken: "old-refresh-token",
		Expiry:       time.Now().Add(-time.Minute),
	}))

	header, err := coord.AuthorizationHeader(ctx, serverURL)
	require.NoError(t, err)
	assert.Equal(t, "Bearer issued-access-token", header)

	require.Len(t, as.tokenRequests, 1)
	form := as.tokenRequests[0]
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "old-refresh-token", form.Get("refresh_token"))

	// The refreshed token replaces the stored one.
	stored, ok, err := store.Tokens(ctx, serverURL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "issued-access-token", stored.AccessToken)
}

func TestDiscoverServerMetadataRejectsMissingEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ServerMetadata{Issuer: "https://x.example"})
	}))
	defer srv.Close()

	_, err := DiscoverServerMetadata(context.Background(), srv.Client(), srv.URL+"/sse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required endpoints")
}
