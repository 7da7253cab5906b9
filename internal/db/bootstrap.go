package db

import (
	"context"
	"database/sql"
	"errors"
)

// Bootstrap brings a database to the schema and seed state the server
// expects. Run is idempotent and may be retried after a failure.
type Bootstrap struct {
	DB   *sql.DB
	Seed SeedConfig

	// migrate is swapped in tests; nil means RunMigrations.
	migrate func(ctx context.Context, db *sql.DB) error
}

// Run applies migrations, then seed rows.
func (b Bootstrap) Run(ctx context.Context) error {
	if b.DB == nil {
		return errors.New("bootstrap: no database")
	}
	migrateFn := b.migrate
	if migrateFn == nil {
		migrateFn = RunMigrations
	}
	if err := migrateFn(ctx, b.DB); err != nil {
		return err
	}
	return Seed(ctx, b.DB, b.Seed)
}
