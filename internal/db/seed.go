package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultGenres are inserted on every bootstrap; existing rows are kept.
var DefaultGenres = []string{
	"Action",
	"Adventure",
	"Comedy",
	"Drama",
	"Fantasy",
	"Horror",
	"Romance",
	"Slice of Life",
}

// SeedConfig controls the rows written by Seed.
type SeedConfig struct {
	Genres        []string
	AdminEmail    string
	AdminPassword string
}

// Seed writes the reference rows in one transaction. Every insert is
// ON CONFLICT DO NOTHING, so re-running it never duplicates a row and
// never overwrites an admin account that was changed after seeding.
func Seed(ctx context.Context, db *sql.DB, cfg SeedConfig) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, name := range cfg.Genres {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO genres (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
			name,
		); err != nil {
			return fmt.Errorf("seed genre %q: %w", name, err)
		}
	}

	if cfg.AdminEmail != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (name, email, password_hash, role, email_confirmed)
			VALUES ($1, $2, $3, 'admin', TRUE)
			ON CONFLICT (email) DO NOTHING
		`, "Administrator", strings.ToLower(strings.TrimSpace(cfg.AdminEmail)), string(hash)); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}
