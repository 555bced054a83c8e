package session

import (
	"context"
	"sync"
)

// MemoryCredentialStore keeps credentials in process. It backs tests and the
// one-shot CLI paths where nothing should touch disk.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds Credentials
	saves int
}

func NewMemoryCredentialStore(initial Credentials) *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: initial}
}

func (s *MemoryCredentialStore) Load(context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, nil
}

func (s *MemoryCredentialStore) Save(_ context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.saves++
	return nil
}

// Saves reports how many times Save was called.
func (s *MemoryCredentialStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
