package mcpauth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// MemoryStore is an in-process Store used by tests and single-process
// deployments that do not need credentials to outlive the process.
type MemoryStore struct {
	mu        sync.RWMutex
	verifiers map[string]string
	clients   map[string]ClientInformation
	tokens    map[string]*oauth2.Token
	states    map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		verifiers: make(map[string]string),
		clients:   make(map[string]ClientInformation),
		tokens:    make(map[string]*oauth2.Token),
		states:    make(map[string]string),
	}
}

func (s *MemoryStore) SaveVerifier(_ context.Context, serverURL, verifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifiers[serverURL] = verifier
	return nil
}

func (s *MemoryStore) Verifier(_ context.Context, serverURL string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifiers[serverURL]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingVerifier, serverURL)
	}
	return v, nil
}

func (s *MemoryStore) SaveClientInformation(_ context.Context, serverURL string, info ClientInformation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[serverURL] = info
	return nil
}

func (s *MemoryStore) ClientInformation(_ context.Context, serverURL string) (ClientInformation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.clients[serverURL]
	return info, ok, nil
}

func (s *MemoryStore) SaveTokens(_ context.Context, serverURL string, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[serverURL] = tok
	return nil
}

func (s *MemoryStore) Tokens(_ context.Context, serverURL string) (*oauth2.Token, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[serverURL]
	return tok, ok, nil
}

func (s *MemoryStore) SaveAuthorizationState(_ context.Context, state, serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = serverURL
	return nil
}

func (s *MemoryStore) AuthorizationState(_ context.Context, state string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	url, ok := s.states[state]
	return url, ok, nil
}

func (s *MemoryStore) Clear(_ context.Context, serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verifiers, serverURL)
	delete(s.clients, serverURL)
	delete(s.tokens, serverURL)
	return nil
}
