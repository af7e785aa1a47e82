package mcpconn

import "fmt"

// State is the lifecycle state of a managed server connection. The set is
// closed: any value outside the declared constants is a programming error,
// not a default to fall back on.
type State string

const (
	// StateConnecting means a transport dial is in progress.
	StateConnecting State = "connecting"
	// StateAuthenticating means the server demanded delegated authorization;
	// the connection is parked until the redirect round trip completes and
	// the caller re-adds the server with fresh credentials.
	StateAuthenticating State = "authenticating"
	// StateDiscovering means the transport is up and capability discovery is
	// in progress. Discovery results are not trusted until StateReady.
	StateDiscovering State = "discovering"
	// StateReady means the connection is live and its capability lists are
	// authoritative.
	StateReady State = "ready"
	// StateFailed is terminal until the caller re-issues AddServer.
	StateFailed State = "failed"
)

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	switch s {
	case StateConnecting, StateAuthenticating, StateDiscovering, StateReady, StateFailed:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

func mustValid(s State) State {
	if !s.Valid() {
		panic(fmt.Sprintf("mcpconn: invalid connection state %q", string(s)))
	}
	return s
}
