package store

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	"kestrel-irp/core/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ApplyMigrations brings the local schema up to date (sqlite dialect,
// the default deployment). Use ApplyMigrationsDialect for postgres.
func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	return ApplyMigrationsDialect(ctx, db, "sqlite3", logger)
}

func ApplyMigrationsDialect(ctx context.Context, db *sql.DB, dialect string, logger *utils.Logger) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return err
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return err
	}
	logger.Printf("DB migrations applied version=%d", version)
	return nil
}
