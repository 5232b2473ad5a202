// Command bootstrap-user seeds or updates a viewer account in the credential
// store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"sentrycam/internal/auth"
)

func main() {
	var (
		postgresDSN string
		username    string
		password    string
	)

	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&username, "username", "", "Username for the account")
	flag.StringVar(&password, "password", "", "Password for the account")
	flag.Parse()

	if postgresDSN == "" {
		postgresDSN = strings.TrimSpace(os.Getenv("SENTRYCAM_USERS_DSN"))
	}
	if postgresDSN == "" {
		fatalf("--postgres-dsn or SENTRYCAM_USERS_DSN must be provided")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := auth.NewPostgresStore(ctx, postgresDSN)
	if err != nil {
		fatalf("open credential store: %v", err)
	}
	defer store.Close(context.Background())

	users, err := auth.NewService(auth.ServiceConfig{Store: store})
	if err != nil {
		fatalf("initialise credential service: %v", err)
	}

	state := "created"
	if err := users.AddUser(ctx, username, password); err != nil {
		if !errors.Is(err, auth.ErrUserExists) {
			fatalf("create user: %v", err)
		}
		if err := users.SetPassword(ctx, username, password); err != nil {
			fatalf("update password: %v", err)
		}
		state = "updated"
	}

	fmt.Printf("User %s %s successfully.\n", auth.NormalizeUsername(username), state)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
