package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS comments (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL,
		room_id    TEXT NOT NULL,
		author     TEXT NOT NULL,
		author_name TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_room ON comments (room_id, seq)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL,
		created_at    TIMESTAMP NOT NULL
	)`,
}

// Open opens the database at path and creates the schema if missing.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
	}
	return db, nil
}
