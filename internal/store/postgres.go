package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var postgresQueries = sqlQueries{
	upsertSession: `INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			channel = EXCLUDED.channel,
			contact = EXCLUDED.contact,
			collected_name = EXCLUDED.collected_name,
			date_of_birth = EXCLUDED.date_of_birth,
			computed_age = EXCLUDED.computed_age,
			current_step_index = EXCLUDED.current_step_index,
			flow_state = EXCLUDED.flow_state,
			answers = EXCLUDED.answers,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`,
	deleteMessages:         `DELETE FROM session_messages WHERE session_id = $1`,
	insertMessage:          `INSERT INTO session_messages (session_id, seq, sender, text, timestamp) VALUES ($1, $2, $3, $4, $5)`,
	selectSession:          `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`,
	selectSessionByContact: `SELECT ` + sessionColumns + ` FROM sessions WHERE contact = $1 ORDER BY created_at DESC LIMIT 1`,
	selectMessages:         `SELECT sender, text, timestamp FROM session_messages WHERE session_id = $1 ORDER BY seq ASC`,
	deleteSession:          `DELETE FROM sessions WHERE id = $1`,
	listSessions:           `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`,
	upsertReview: `INSERT INTO reviews (` + reviewColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (session_id) DO UPDATE SET
			reference = EXCLUDED.reference,
			patient_name = EXCLUDED.patient_name,
			date_of_birth = EXCLUDED.date_of_birth,
			age = EXCLUDED.age,
			channel = EXCLUDED.channel,
			reason = EXCLUDED.reason,
			status = EXCLUDED.status,
			fields = EXCLUDED.fields,
			summary = EXCLUDED.summary,
			key_points = EXCLUDED.key_points,
			notes = EXCLUDED.notes,
			transcript = EXCLUDED.transcript,
			updated_at = EXCLUDED.updated_at,
			approved_at = EXCLUDED.approved_at`,
	selectReview:   `SELECT ` + reviewColumns + ` FROM reviews WHERE session_id = $1`,
	listReviews:    `SELECT ` + reviewColumns + ` FROM reviews ORDER BY completed_at DESC`,
	insertReceipt:  `INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`,
	selectReceipts: `SELECT recipient, status, time FROM receipts ORDER BY id ASC`,
}

// PostgresStore persists intake data in PostgreSQL.
type PostgresStore struct {
	sqlBackend
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{sqlBackend{db: db, q: postgresQueries, name: "PostgresStore"}}, nil
}
