package auth

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps credentials in-memory. It is safe for concurrent use and
// primarily intended for development or single-instance deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryStore constructs an in-memory store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

// Insert adds a new credential, rejecting duplicate usernames.
func (s *MemoryStore) Insert(_ context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.creds[cred.Username]; exists {
		return ErrUserExists
	}
	s.creds[cred.Username] = cloneCredential(cred)
	return nil
}

// Update replaces the stored credential for an existing username.
func (s *MemoryStore) Update(_ context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.creds[cred.Username]; !exists {
		return ErrUserNotFound
	}
	s.creds[cred.Username] = cloneCredential(cred)
	return nil
}

// Delete removes the credential for the username.
func (s *MemoryStore) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.creds[username]; !exists {
		return ErrUserNotFound
	}
	delete(s.creds, username)
	return nil
}

// Lookup fetches the credential for the username.
func (s *MemoryStore) Lookup(_ context.Context, username string) (Credential, bool, error) {
	s.mu.RLock()
	cred, ok := s.creds[username]
	s.mu.RUnlock()
	if !ok {
		return Credential{}, false, nil
	}
	return cloneCredential(cred), true, nil
}

// List returns the stored usernames in sorted order.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

// Ping always reports success for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneCredential(cred Credential) Credential {
	out := Credential{Username: cred.Username}
	out.PasswordHash = append([]byte(nil), cred.PasswordHash...)
	out.Salt = append([]byte(nil), cred.Salt...)
	return out
}
