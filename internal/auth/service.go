package auth

import (
	"context"
	"fmt"
	"log/slog"
)

// Service owns the credential store and its read-through cache and implements
// the Authenticator consumed by the HTTP layer. It is safe for concurrent use.
type Service struct {
	store  Store
	cache  *credentialCache
	logger *slog.Logger
}

// ServiceConfig wires a Service. Store is required; Logger defaults to
// slog.Default and CacheSize to an internal bound.
type ServiceConfig struct {
	Store     Store
	Logger    *slog.Logger
	CacheSize int
}

// NewService constructs a Service around the provided store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  cfg.Store,
		cache:  newCredentialCache(cfg.CacheSize),
		logger: logger,
	}, nil
}

// AddUser hashes the password with a fresh salt and inserts the credential.
func (s *Service) AddUser(ctx context.Context, username, password string) error {
	username = NormalizeUsername(username)
	if username == "" {
		return ErrUsernameRequired
	}
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	hash, salt, err := hashPassword(password)
	if err != nil {
		return err
	}
	cred := Credential{Username: username, PasswordHash: hash, Salt: salt}
	if err := s.store.Insert(ctx, cred); err != nil {
		return err
	}
	s.cache.Put(cred)
	return nil
}

// SetPassword replaces the stored hash for the user, regenerating the salt.
// The cache entry is dropped only after the store accepts the write, so a
// cached pre-edit credential can never authenticate post-edit.
func (s *Service) SetPassword(ctx context.Context, username, password string) error {
	username = NormalizeUsername(username)
	if username == "" {
		return ErrUsernameRequired
	}
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	hash, salt, err := hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.Update(ctx, Credential{Username: username, PasswordHash: hash, Salt: salt}); err != nil {
		return err
	}
	s.cache.Evict(username)
	return nil
}

// RemoveUser deletes the credential and invalidates the cache entry.
func (s *Service) RemoveUser(ctx context.Context, username string) error {
	username = NormalizeUsername(username)
	if username == "" {
		return ErrUsernameRequired
	}
	if err := s.store.Delete(ctx, username); err != nil {
		return err
	}
	s.cache.Evict(username)
	return nil
}

// ListUsers returns the stored usernames.
func (s *Service) ListUsers(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// Authenticate reports whether the username/password pair matches a stored
// credential. Store failures and unknown users both report false; the
// distinction is logged, never exposed to the protocol.
func (s *Service) Authenticate(ctx context.Context, username, password string) bool {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return false
	}
	cred, cached := s.cache.Get(username)
	if !cached {
		stored, found, err := s.store.Lookup(ctx, username)
		if err != nil {
			s.logger.Error("credential lookup failed", "username", username, "error", err)
			return false
		}
		if !found {
			return false
		}
		s.cache.Put(stored)
		cred = stored
	}
	return verifyPassword(cred, password)
}

// Ping reports backing-store reachability for health checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
