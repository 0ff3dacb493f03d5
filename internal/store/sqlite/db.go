// Package sqlite implements the store.TaskRepo and store.LearningRepo
// contracts over an embedded SQLite database, using the same pure-Go,
// CGo-free driver the teacher chose for its own embedded cache
// (github.com/ncruces/go-sqlite3), plus WAL mode for concurrent readers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/overseer/internal/store/migrate"
)

// DB wraps a *sql.DB with the pragmas and migration bootstrap the
// orchestrator's store needs.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates (if needed) and opens the database at path, applies pending
// migrations, and returns a ready-to-use DB. The caller must Close it.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}
	}

	var conn *sql.DB
	var err error
	if os.Getenv("OVERSEER_DB_DRIVER") == "libsql" {
		conn, err = openLibsql(path)
	} else {
		conn, err = sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	conn.SetMaxOpenConns(1) // single-writer discipline per spec's resource model
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, path: path}

	if err := migrate.Run(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return db, nil
}

// RawDB exposes the underlying connection for callers that need direct SQL
// access beyond the repository types.
func (db *DB) RawDB() *sql.DB { return db.conn }

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "sqlite: warning: wal checkpoint failed: %v\n", err)
	}
	err := db.conn.Close()
	db.conn = nil
	return err
}
