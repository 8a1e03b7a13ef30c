package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/IntakeFlow/internal/models"
)

// sqlQueries holds the dialect-specific statements used by sqlBackend.
type sqlQueries struct {
	upsertSession          string
	deleteMessages         string
	insertMessage          string
	selectSession          string
	selectSessionByContact string
	selectMessages         string
	deleteSession          string
	listSessions           string
	upsertReview           string
	selectReview           string
	listReviews            string
	insertReceipt          string
	selectReceipts         string
}

const sessionColumns = `id, channel, contact, collected_name, date_of_birth, computed_age,
	current_step_index, flow_state, answers, created_at, updated_at, completed_at`

const reviewColumns = `session_id, reference, patient_name, date_of_birth, age, channel, reason,
	status, fields, summary, key_points, notes, transcript, started_at, completed_at, updated_at, approved_at`

// sqlBackend implements Store on top of database/sql. SQLiteStore and
// PostgresStore differ only in their driver and statements.
type sqlBackend struct {
	db   *sql.DB
	q    sqlQueries
	name string // used as the log prefix
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// SaveSession upserts the session row and rewrites its transcript in one transaction.
func (b *sqlBackend) SaveSession(s models.IntakeSession) error {
	if err := validateSession(s); err != nil {
		return err
	}
	answers, err := encodeJSON(s.Answers)
	if err != nil {
		return fmt.Errorf("failed to encode answers: %w", err)
	}

	tx, err := b.db.Begin()
	if err != nil {
		slog.Error(b.name+" SaveSession begin failed", "error", err, "sessionID", s.ID)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(b.q.upsertSession,
		s.ID, s.Channel, nilIfEmpty(s.Contact), nilIfEmpty(s.CollectedName), nullableDate(s.DateOfBirth),
		nullableInt(s.ComputedAge), s.CurrentStepIndex, s.FlowState, answers,
		s.CreatedAt, s.UpdatedAt, nullableTime(s.CompletedAt)); err != nil {
		slog.Error(b.name+" SaveSession upsert failed", "error", err, "sessionID", s.ID)
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	if _, err := tx.Exec(b.q.deleteMessages, s.ID); err != nil {
		slog.Error(b.name+" SaveSession clear messages failed", "error", err, "sessionID", s.ID)
		return fmt.Errorf("failed to clear messages for session %s: %w", s.ID, err)
	}
	for i, m := range s.Messages {
		if _, err := tx.Exec(b.q.insertMessage, s.ID, i, m.Sender, m.Text, m.Timestamp); err != nil {
			slog.Error(b.name+" SaveSession insert message failed", "error", err, "sessionID", s.ID, "seq", i)
			return fmt.Errorf("failed to save message %d for session %s: %w", i, s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error(b.name+" SaveSession commit failed", "error", err, "sessionID", s.ID)
		return fmt.Errorf("failed to commit session %s: %w", s.ID, err)
	}
	slog.Debug(b.name+" SaveSession succeeded", "sessionID", s.ID, "state", s.FlowState, "messages", len(s.Messages))
	return nil
}

// GetSession retrieves a session and its transcript.
func (b *sqlBackend) GetSession(id string) (*models.IntakeSession, error) {
	s, err := b.scanSession(b.db.QueryRow(b.q.selectSession, id))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(b.name+" GetSession not found", "sessionID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error(b.name+" GetSession failed", "error", err, "sessionID", id)
		return nil, err
	}
	if err := b.loadMessages(s); err != nil {
		return nil, err
	}
	return s, nil
}

// FindSessionByContact retrieves the newest session for a messaging contact.
func (b *sqlBackend) FindSessionByContact(contact string) (*models.IntakeSession, error) {
	if contact == "" {
		return nil, nil
	}
	s, err := b.scanSession(b.db.QueryRow(b.q.selectSessionByContact, contact))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(b.name+" FindSessionByContact failed", "error", err, "contact", contact)
		return nil, err
	}
	if err := b.loadMessages(s); err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSession removes a session and its transcript.
func (b *sqlBackend) DeleteSession(id string) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(b.q.deleteMessages, id); err != nil {
		slog.Error(b.name+" DeleteSession clear messages failed", "error", err, "sessionID", id)
		return err
	}
	if _, err := tx.Exec(b.q.deleteSession, id); err != nil {
		slog.Error(b.name+" DeleteSession failed", "error", err, "sessionID", id)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session delete: %w", err)
	}
	slog.Debug(b.name+" DeleteSession succeeded", "sessionID", id)
	return nil
}

// ListSessions returns all sessions, newest first, with their transcripts.
func (b *sqlBackend) ListSessions() ([]models.IntakeSession, error) {
	rows, err := b.db.Query(b.q.listSessions)
	if err != nil {
		slog.Error(b.name+" ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	var sessions []models.IntakeSession
	for rows.Next() {
		s, err := b.scanSession(rows)
		if err != nil {
			rows.Close()
			slog.Error(b.name+" ListSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	rows.Close()

	// Transcripts are loaded after the cursor is closed; the SQLite pool holds a single connection.
	for i := range sessions {
		if err := b.loadMessages(&sessions[i]); err != nil {
			return nil, err
		}
	}
	slog.Debug(b.name+" ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

func (b *sqlBackend) scanSession(row rowScanner) (*models.IntakeSession, error) {
	var s models.IntakeSession
	var r sessionRow
	if err := row.Scan(&s.ID, &s.Channel, &r.contact, &r.name, &r.dob, &r.age,
		&s.CurrentStepIndex, &s.FlowState, &r.answers, &s.CreatedAt, &s.UpdatedAt, &r.completedAt); err != nil {
		return nil, err
	}
	if err := r.apply(&s); err != nil {
		return nil, err
	}
	if !models.IsValidFlowState(s.FlowState) {
		return nil, fmt.Errorf("session %s has unknown flow state %q", s.ID, s.FlowState)
	}
	return &s, nil
}

func (b *sqlBackend) loadMessages(s *models.IntakeSession) error {
	rows, err := b.db.Query(b.q.selectMessages, s.ID)
	if err != nil {
		slog.Error(b.name+" loadMessages query failed", "error", err, "sessionID", s.ID)
		return fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	s.Messages = []models.ConversationMessage{}
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.Sender, &m.Text, &m.Timestamp); err != nil {
			return fmt.Errorf("failed to scan message row: %w", err)
		}
		s.Messages = append(s.Messages, m)
	}
	return rows.Err()
}

// SaveReview upserts a staff review.
func (b *sqlBackend) SaveReview(r models.IntakeReview) error {
	if r.SessionID == "" {
		return fmt.Errorf("review session ID cannot be empty")
	}
	fields, keyPoints, transcript, err := reviewJSONColumns(r)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(b.q.upsertReview,
		r.SessionID, r.Reference, r.PatientName, r.DateOfBirth, r.Age, r.Channel, nilIfEmpty(r.Reason),
		r.Status, fields, nilIfEmpty(r.Summary), keyPoints, nilIfEmpty(r.Notes), transcript,
		r.StartedAt, r.CompletedAt, r.UpdatedAt, nullableTime(r.ApprovedAt))
	if err != nil {
		slog.Error(b.name+" SaveReview failed", "error", err, "sessionID", r.SessionID)
		return fmt.Errorf("failed to save review %s: %w", r.SessionID, err)
	}
	slog.Debug(b.name+" SaveReview succeeded", "sessionID", r.SessionID, "status", r.Status)
	return nil
}

// GetReview retrieves the review for a session.
func (b *sqlBackend) GetReview(sessionID string) (*models.IntakeReview, error) {
	r, err := scanReview(b.db.QueryRow(b.q.selectReview, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(b.name+" GetReview failed", "error", err, "sessionID", sessionID)
		return nil, err
	}
	return r, nil
}

// ListReviews returns all reviews, most recently completed first.
func (b *sqlBackend) ListReviews() ([]models.IntakeReview, error) {
	rows, err := b.db.Query(b.q.listReviews)
	if err != nil {
		slog.Error(b.name+" ListReviews query failed", "error", err)
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()
	var reviews []models.IntakeReview
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			slog.Error(b.name+" ListReviews scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan review row: %w", err)
		}
		reviews = append(reviews, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review rows: %w", err)
	}
	return reviews, nil
}

func scanReview(row rowScanner) (*models.IntakeReview, error) {
	var r models.IntakeReview
	var extra reviewRow
	var reason, summary, notes sql.NullString
	if err := row.Scan(&r.SessionID, &r.Reference, &r.PatientName, &r.DateOfBirth, &r.Age, &r.Channel, &reason,
		&r.Status, &extra.fields, &summary, &extra.keyPoints, &notes, &extra.transcript,
		&r.StartedAt, &r.CompletedAt, &r.UpdatedAt, &extra.approvedAt); err != nil {
		return nil, err
	}
	r.Reason = reason.String
	r.Summary = summary.String
	r.Notes = notes.String
	if err := extra.apply(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// AddReceipt stores an outbound message receipt.
func (b *sqlBackend) AddReceipt(r models.Receipt) error {
	if _, err := b.db.Exec(b.q.insertReceipt, r.To, r.Status, r.Time); err != nil {
		slog.Error(b.name+" AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug(b.name+" AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

// GetReceipts returns all stored receipts in insertion order.
func (b *sqlBackend) GetReceipts() ([]models.Receipt, error) {
	rows, err := b.db.Query(b.q.selectReceipts)
	if err != nil {
		slog.Error(b.name+" GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// Close closes the database connection.
func (b *sqlBackend) Close() error {
	slog.Debug("Closing " + b.name + " database connection")
	err := b.db.Close()
	if err != nil {
		slog.Error("Failed to close "+b.name+" database", "error", err)
	}
	return err
}
