// Package auth implements credential storage, the password hashing policy,
// and the authenticator consumed by the HTTP Basic-auth layer.
package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrUserExists is returned when inserting a username that is already stored.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when updating or deleting an unknown username.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameRequired is returned when an operation receives an empty username.
	ErrUsernameRequired = errors.New("username is required")
	// ErrPasswordTooShort is returned when a password fails the minimum length policy.
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
)

// Credential is the stored record for a single user: the username key, the
// PBKDF2-derived key, and the per-user random salt. The plaintext password is
// never persisted.
type Credential struct {
	Username     string
	PasswordHash []byte
	Salt         []byte
}

// Store persists credentials. Implementations must treat Username as the
// unique key and must not retain plaintext passwords.
type Store interface {
	Insert(ctx context.Context, cred Credential) error
	Update(ctx context.Context, cred Credential) error
	Delete(ctx context.Context, username string) error
	Lookup(ctx context.Context, username string) (Credential, bool, error)
	List(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// Authenticator validates a username/password pair. A failed lookup is
// indistinguishable from a wrong password: both report false.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) bool
}

// NormalizeUsername trims surrounding whitespace and applies Unicode NFC so
// the same credential matches regardless of the client's composition form.
func NormalizeUsername(username string) string {
	return norm.NFC.String(strings.TrimSpace(username))
}
