package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var sqliteQueries = sqlQueries{
	upsertSession: `INSERT OR REPLACE INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	deleteMessages:         `DELETE FROM session_messages WHERE session_id = ?`,
	insertMessage:          `INSERT INTO session_messages (session_id, seq, sender, text, timestamp) VALUES (?, ?, ?, ?, ?)`,
	selectSession:          `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`,
	selectSessionByContact: `SELECT ` + sessionColumns + ` FROM sessions WHERE contact = ? ORDER BY created_at DESC LIMIT 1`,
	selectMessages:         `SELECT sender, text, timestamp FROM session_messages WHERE session_id = ? ORDER BY seq ASC`,
	deleteSession:          `DELETE FROM sessions WHERE id = ?`,
	listSessions:           `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`,
	upsertReview: `INSERT OR REPLACE INTO reviews (` + reviewColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	selectReview:   `SELECT ` + reviewColumns + ` FROM reviews WHERE session_id = ?`,
	listReviews:    `SELECT ` + reviewColumns + ` FROM reviews ORDER BY completed_at DESC`,
	insertReceipt:  `INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`,
	selectReceipts: `SELECT recipient, status, time FROM receipts ORDER BY id ASC`,
}

// SQLiteStore is the default persistent store, kept in the state directory.
type SQLiteStore struct {
	sqlBackend
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("SQLite database directory verified/created", "dir", dir)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{sqlBackend{db: db, q: sqliteQueries, name: "SQLiteStore"}}, nil
}
