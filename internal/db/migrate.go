package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations applies every pending embedded migration.
//
// A database that is already current is not an error. When ctx ends
// first the run is asked to stop after the statement in flight, and
// ctx.Err() is returned; the migration lock is released in the
// background once that statement finishes.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("acquire connection: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{})
	if err != nil {
		_ = src.Close()
		_ = conn.Close()
		return fmt.Errorf("init migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return fmt.Errorf("init migrate: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Up() }()

	select {
	case err := <-done:
		_, _ = m.Close()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	case <-ctx.Done():
		m.GracefulStop <- true
		go func() {
			<-done
			_, _ = m.Close()
		}()
		return ctx.Err()
	}
}
