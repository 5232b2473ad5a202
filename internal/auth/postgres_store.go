package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists credentials to a Postgres table, allowing multiple
// service replicas to share the user database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createCredentialsTable = `
CREATE TABLE IF NOT EXISTS credentials (
    username      TEXT PRIMARY KEY,
    password_hash BYTEA NOT NULL,
    salt          BYTEA NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgresStore opens a Postgres-backed credential store using the provided
// DSN and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres credential dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres credential config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres credential pool: %w", err)
	}
	if _, err := pool.Exec(ctx, createCredentialsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure credentials schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Insert adds a new credential row, mapping unique violations onto ErrUserExists.
func (s *PostgresStore) Insert(ctx context.Context, cred Credential) error {
	if s.pool == nil {
		return fmt.Errorf("postgres credential pool not configured")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO credentials (username, password_hash, salt, updated_at)
VALUES ($1, $2, $3, now())
`, cred.Username, cred.PasswordHash, cred.Salt)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	return err
}

// Update replaces the hash and salt for an existing username.
func (s *PostgresStore) Update(ctx context.Context, cred Credential) error {
	if s.pool == nil {
		return fmt.Errorf("postgres credential pool not configured")
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE credentials SET password_hash = $2, salt = $3, updated_at = now()
WHERE username = $1
`, cred.Username, cred.PasswordHash, cred.Salt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete removes the credential row for the username.
func (s *PostgresStore) Delete(ctx context.Context, username string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres credential pool not configured")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE username = $1`, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Lookup fetches the credential for the username.
func (s *PostgresStore) Lookup(ctx context.Context, username string) (Credential, bool, error) {
	if s.pool == nil {
		return Credential{}, false, fmt.Errorf("postgres credential pool not configured")
	}
	row := s.pool.QueryRow(ctx, `
SELECT password_hash, salt FROM credentials WHERE username = $1
`, username)
	cred := Credential{Username: username}
	if err := row.Scan(&cred.PasswordHash, &cred.Salt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, false, nil
		}
		return Credential{}, false, err
	}
	return cred, true, nil
}

// List returns the stored usernames in sorted order.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres credential pool not configured")
	}
	rows, err := s.pool.Query(ctx, `SELECT username FROM credentials ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Ping verifies the pool can reach the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres credential pool not configured")
	}
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
