package mcpauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// CoordinatorOptions configure a Coordinator.
type CoordinatorOptions struct {
	// RedirectURL is where the authorization server sends the user back with
	// the authorization code. Required.
	RedirectURL string
	// ClientName is used when registering a client dynamically.
	ClientName string
	// Scopes requested during authorization. Optional; many MCP servers
	// grant a default scope set.
	Scopes []string
	// HTTPClient is used for metadata discovery, registration, and token
	// exchange. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger receives structured diagnostics.
	Logger *slog.Logger
}

func (o *CoordinatorOptions) withDefaults() CoordinatorOptions {
	opts := CoordinatorOptions{}
	if o != nil {
		opts = *o
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcpchat"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Coordinator drives the delegated-authorization flow for MCP servers: it
// builds PKCE authorization URLs, completes the code exchange after the
// redirect, and serves bearer tokens (refreshing when possible) for outbound
// requests. It never navigates anywhere itself; the caller owns the browser
// redirect.
type Coordinator struct {
	store Store
	opts  CoordinatorOptions
}

// NewCoordinator constructs a Coordinator over the given credential store.
func NewCoordinator(store Store, opts *CoordinatorOptions) *Coordinator {
	return &Coordinator{store: store, opts: opts.withDefaults()}
}

// BuildAuthorizationRequest prepares everything needed before sending the
// user to the authorization server: it discovers the server's metadata,
// registers a client if none is stored, generates and persists a fresh PKCE
// verifier, and returns the authorization URL carrying the S256 challenge
// and an opaque state parameter bound to serverURL.
func (c *Coordinator) BuildAuthorizationRequest(ctx context.Context, serverURL string) (string, error) {
	meta, err := DiscoverServerMetadata(ctx, c.opts.HTTPClient, serverURL)
	if err != nil {
		return "", err
	}

	info, err := c.clientInformation(ctx, serverURL, meta)
	if err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	if err := c.store.SaveVerifier(ctx, serverURL, verifier); err != nil {
		return "", fmt.Errorf("mcpauth: persist verifier: %w", err)
	}

	state := uuid.NewString()
	if err := c.store.SaveAuthorizationState(ctx, state, serverURL); err != nil {
		return "", fmt.Errorf("mcpauth: persist authorization state: %w", err)
	}

	authURL := c.oauthConfig(meta, info).AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	c.opts.Logger.Info("built authorization request", "server", serverURL, "issuer", meta.Issuer)
	return authURL, nil
}

// CompleteAuthorization exchanges the authorization code returned by the
// redirect using the verifier persisted by BuildAuthorizationRequest, and
// stores the issued tokens. A missing verifier (stale or cross-session
// callback) fails with ErrMissingVerifier.
func (c *Coordinator) CompleteAuthorization(ctx context.Context, serverURL, code string) (*oauth2.Token, error) {
	verifier, err := c.store.Verifier(ctx, serverURL)
	if err != nil {
		return nil, err
	}

	meta, err := DiscoverServerMetadata(ctx, c.opts.HTTPClient, serverURL)
	if err != nil {
		return nil, err
	}
	info, ok, err := c.store.ClientInformation(ctx, serverURL)
	if err != nil {
		return nil, fmt.Errorf("mcpauth: load client information: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("mcpauth: no registered client for %s", serverURL)
	}

	tok, err := c.oauthConfig(meta, info).Exchange(c.httpContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("mcpauth: exchange authorization code: %w", err)
	}
	if err := c.store.SaveTokens(ctx, serverURL, tok); err != nil {
		return nil, fmt.Errorf("mcpauth: persist tokens: %w", err)
	}

	c.logTokenClaims(serverURL, tok)
	return tok, nil
}

// ResolveState maps the opaque state parameter of a returning callback to
// the server URL the authorization request was built for.
func (c *Coordinator) ResolveState(ctx context.Context, state string) (string, error) {
	serverURL, ok, err := c.store.AuthorizationState(ctx, state)
	if err != nil {
		return "", fmt.Errorf("mcpauth: resolve authorization state: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("mcpauth: unknown authorization state %q", state)
	}
	return serverURL, nil
}

// AuthorizationHeader returns the Authorization header value for requests to
// serverURL, refreshing an expired token when a refresh token is available.
// An empty value with nil error means no credentials are stored and the
// request should go out anonymous. The signature matches
// mcpconn.HeaderProvider.
func (c *Coordinator) AuthorizationHeader(ctx context.Context, serverURL string) (string, error) {
	tok, ok, err := c.store.Tokens(ctx, serverURL)
	if err != nil {
		return "", fmt.Errorf("mcpauth: load tokens: %w", err)
	}
	if !ok || tok.AccessToken == "" {
		return "", nil
	}
	if tok.Valid() || tok.RefreshToken == "" {
		return "Bearer " + tok.AccessToken, nil
	}

	refreshed, err := c.refresh(ctx, serverURL, tok)
	if err != nil {
		// Let the server reject the stale token; that resurfaces the
		// authorization flow through the connection registry.
		c.opts.Logger.Warn("token refresh failed", "server", serverURL, "error", err)
		return "Bearer " + tok.AccessToken, nil
	}
	return "Bearer " + refreshed.AccessToken, nil
}

// Clear drops the stored credential bundle for serverURL.
func (c *Coordinator) Clear(ctx context.Context, serverURL string) error {
	return c.store.Clear(ctx, serverURL)
}

func (c *Coordinator) refresh(ctx context.Context, serverURL string, tok *oauth2.Token) (*oauth2.Token, error) {
	meta, err := DiscoverServerMetadata(ctx, c.opts.HTTPClient, serverURL)
	if err != nil {
		return nil, err
	}
	info, ok, err := c.store.ClientInformation(ctx, serverURL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no registered client for %s", serverURL)
	}

	refreshed, err := c.oauthConfig(meta, info).TokenSource(c.httpContext(ctx), tok).Token()
	if err != nil {
		return nil, err
	}
	if refreshed.AccessToken != tok.AccessToken {
		if err := c.store.SaveTokens(ctx, serverURL, refreshed); err != nil {
			return nil, err
		}
		c.opts.Logger.Info("refreshed access token", "server", serverURL)
	}
	return refreshed, nil
}

// clientInformation returns the stored client identity for serverURL,
// registering one dynamically when the server offers a registration
// endpoint and nothing is stored yet.
func (c *Coordinator) clientInformation(ctx context.Context, serverURL string, meta *ServerMetadata) (ClientInformation, error) {
	info, ok, err := c.store.ClientInformation(ctx, serverURL)
	if err != nil {
		return ClientInformation{}, fmt.Errorf("mcpauth: load client information: %w", err)
	}
	if ok {
		return info, nil
	}
	if meta.RegistrationEndpoint == "" {
		return ClientInformation{}, fmt.Errorf("mcpauth: %s has no registration endpoint and no client is stored", serverURL)
	}

	info, err = registerClient(ctx, c.opts.HTTPClient, meta.RegistrationEndpoint, c.opts.ClientName, c.opts.RedirectURL)
	if err != nil {
		return ClientInformation{}, err
	}
	if err := c.store.SaveClientInformation(ctx, serverURL, info); err != nil {
		return ClientInformation{}, fmt.Errorf("mcpauth: persist client information: %w", err)
	}
	c.opts.Logger.Info("registered client", "server", serverURL, "client_id", info.ClientID)
	return info, nil
}

func (c *Coordinator) oauthConfig(meta *ServerMetadata, info ClientInformation) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     info.ClientID,
		ClientSecret: info.ClientSecret,
		RedirectURL:  c.opts.RedirectURL,
		Scopes:       c.opts.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  meta.AuthorizationEndpoint,
			TokenURL: meta.TokenEndpoint,
			// Public PKCE clients send credentials in the request body.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// httpContext plumbs the configured HTTP client into the oauth2 package.
func (c *Coordinator) httpContext(ctx context.Context) context.Context {
	if c.opts.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.opts.HTTPClient)
}

// logTokenClaims surfaces a few claims from JWT-shaped access tokens for
// debugging. The token is not validated here; the issuing server already
// vouched for it over TLS.
func (c *Coordinator) logTokenClaims(serverURL string, tok *oauth2.Token) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err != nil {
		return
	}
	c.opts.Logger.Debug("authorization completed",
		"server", serverURL,
		"subject", claims["sub"],
		"scope", claims["scope"],
		"expires", claims["exp"])
}
