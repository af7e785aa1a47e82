// Package mcpauth implements the delegated-authorization side of connecting
// to MCP servers: OAuth 2.0 authorization-server metadata discovery
// (RFC 8414), dynamic client registration (RFC 7591), and the PKCE
// authorization-code flow, with credentials persisted in a session-scoped
// store so the flow survives the browser redirect round trip.
package mcpauth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ErrMissingVerifier is returned when completing an authorization flow whose
// PKCE verifier is no longer in the store, which happens on stale or
// cross-session callbacks.
var ErrMissingVerifier = errors.New("mcpauth: missing verifier")

// ClientInformation is the registered OAuth client identity for one server,
// as issued by its registration endpoint.
type ClientInformation struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	// ClientIDIssuedAt and ClientSecretExpiresAt are Unix timestamps echoed
	// by the registration endpoint. Zero when the server omitted them.
	ClientIDIssuedAt      int64 `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt int64 `json:"client_secret_expires_at,omitempty"`
}

// Store persists the credential bundle for each server URL: the PKCE
// verifier, the registered client information, and the issued tokens, plus
// the opaque state parameter minted for each pending authorization request.
// An implementation is scoped to one user session; two sessions never share
// a store's keyspace. The store must be durable across the redirect round
// trip because the process completing the callback may not be the one that
// built the authorization request.
type Store interface {
	SaveVerifier(ctx context.Context, serverURL, verifier string) error
	// Verifier returns ErrMissingVerifier when no verifier is stored for
	// serverURL.
	Verifier(ctx context.Context, serverURL string) (string, error)

	SaveClientInformation(ctx context.Context, serverURL string, info ClientInformation) error
	ClientInformation(ctx context.Context, serverURL string) (ClientInformation, bool, error)

	SaveTokens(ctx context.Context, serverURL string, tok *oauth2.Token) error
	Tokens(ctx context.Context, serverURL string) (*oauth2.Token, bool, error)

	// SaveAuthorizationState records the state parameter of a pending
	// authorization request so the callback can recover which server the
	// returning code belongs to.
	SaveAuthorizationState(ctx context.Context, state, serverURL string) error
	AuthorizationState(ctx context.Context, state string) (serverURL string, ok bool, err error)

	// Clear removes the verifier, client information, and tokens for
	// serverURL. Called on server removal or logout, never implicitly.
	Clear(ctx context.Context, serverURL string) error
}
