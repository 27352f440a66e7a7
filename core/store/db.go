package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// OpenDB opens the configured database. Postgres is the production driver;
// sqlite exists for the test runtime.
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var db *sql.DB
	var err error
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres", "pgx":
		db, err = sql.Open("pgx", dsn)
	case "sqlite", "sqlite3":
		db, err = sql.Open("sqlite", dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// sqlite has no version() function, so the probe failing means sqlite.
func isPostgresDB(ctx context.Context, db *sql.DB) (bool, error) {
	var version string
	if err := db.QueryRowContext(ctx, `SELECT version()`).Scan(&version); err != nil {
		return false, nil
	}
	return strings.HasPrefix(version, "PostgreSQL"), nil
}
