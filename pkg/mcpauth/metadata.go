package mcpauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const wellKnownPath = "/.well-known/oauth-authorization-server"

// maxMetadataBytes bounds how much of a metadata or registration response we
// are willing to read.
const maxMetadataBytes = 1 << 20

// ServerMetadata is the authorization-server metadata document of RFC 8414.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// DiscoverServerMetadata fetches the RFC 8414 metadata document for the
// authorization server guarding serverURL. The issuer is derived from the
// server URL's origin, which is where MCP servers host their well-known
// document.
func DiscoverServerMetadata(ctx context.Context, client *http.Client, serverURL string) (*ServerMetadata, error) {
	issuer, err := issuerFromServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+wellKnownPath, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpauth: build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcpauth: fetch server metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcpauth: server metadata request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("mcpauth: read server metadata: %w", err)
	}

	var meta ServerMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("mcpauth: decode server metadata: %w", err)
	}
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return nil, fmt.Errorf("mcpauth: server metadata for %s is missing required endpoints", issuer)
	}
	return &meta, nil
}

// issuerFromServerURL reduces a server URL to its origin, dropping path,
// query, and fragment.
func issuerFromServerURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("mcpauth: parse server URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("mcpauth: server URL %q has no origin", serverURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
