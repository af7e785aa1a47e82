package mcpconn

import (
	"net/http"
	"strings"
)

// decorateHTTPClient clones the base client so the decorated transport never
// leaks into callers that share the base.
func (r *Registry) decorateHTTPClient(serverURL string) *http.Client {
	base := r.opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	if r.opts.AuthHeader == nil {
		return base
	}
	clone := *base
	clone.Transport = &authHeaderTransport{
		next:      defaultRoundTripper(base.Transport),
		serverURL: serverURL,
		provider:  r.opts.AuthHeader,
	}
	return &clone
}

type authHeaderTransport struct {
	next      http.RoundTripper
	serverURL string
	provider  HeaderProvider
}

func (t *authHeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") == "" {
		header, err := t.provider(req.Context(), t.serverURL)
		if err != nil {
			return nil, err
		}
		if header != "" {
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", header)
		}
	}
	return t.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

// isUnauthorized reports whether a connect error is the server demanding
// delegated authorization rather than a transport fault. The go-sdk
// transports surface the HTTP status line in the error text, so matching on
// it is the only signal available without unwrapping private types.
func isUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "401") ||
		strings.Contains(lower, "403") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "invalid_token")
}

// isMethodUnavailableError reports whether err means the server simply does
// not implement a discovery method, in which case the result is coerced to
// an empty list instead of failing the connection. Servers word this
// condition inconsistently, so several phrasings are accepted.
func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, phrase := range []string{
		"method not found",
		"not implemented",
		"unsupported",
		"does not support",
		"unimplemented",
	} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
