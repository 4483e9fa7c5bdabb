package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("postgres: migrate requires a database handle")
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return WrapError("migrate", err)
	}
	return nil
}
