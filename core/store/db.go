package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"kestrel-irp/config"
	"kestrel-irp/core/utils"
)

var ErrConflict = errors.New("conflict")

// NewDB opens the local database. The service runs on sqlite by default;
// postgres is available through db_driver/db_url for shared deployments.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			return nil, errors.New("db_path required for sqlite")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, err
			}
		}
		dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		logger.Printf("DB sqlite open path=%s", path)
		return db, nil
	case "postgres", "pgx":
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		logger.Printf("DB postgres open")
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

// GooseDialect maps the configured driver to a goose dialect name.
func GooseDialect(cfg *config.AppConfig) string {
	switch strings.ToLower(strings.TrimSpace(cfg.DBDriver)) {
	case "postgres", "pgx":
		return "postgres"
	default:
		return "sqlite3"
	}
}
