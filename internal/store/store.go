// Package store provides storage backends for IntakeFlow.
//
// It includes an in-memory store used by tests and the kiosk, and persistent
// SQLite and PostgreSQL stores for the server.
package store

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/IntakeFlow/internal/models"
)

// Store persists intake sessions, staff reviews and outbound message receipts.
// Lookups return (nil, nil) when the record does not exist.
type Store interface {
	SaveSession(s models.IntakeSession) error
	GetSession(id string) (*models.IntakeSession, error)
	FindSessionByContact(contact string) (*models.IntakeSession, error)
	DeleteSession(id string) error
	ListSessions() ([]models.IntakeSession, error)

	SaveReview(r models.IntakeReview) error
	GetReview(sessionID string) (*models.IntakeReview, error)
	ListReviews() ([]models.IntakeReview, error)

	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // database connection string or SQLite file path
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the DSN for a PostgreSQL store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the file path for a SQLite store.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else (file paths and file: URIs).
func DetectDSNType(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(trimmed, "host=") || strings.Contains(trimmed, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the store matching the DSN, or an in-memory store when the DSN is empty.
func New(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		slog.Debug("store.New: no DSN provided, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		st, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		st, err := NewSQLiteStore(WithSQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	}
}

// InMemoryStore is a simple in-memory store. Values are copied on the way in
// and out so callers never share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.IntakeSession
	reviews  map[string]models.IntakeReview
	receipts []models.Receipt
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.IntakeSession),
		reviews:  make(map[string]models.IntakeReview),
	}
}

func (s *InMemoryStore) SaveSession(session models.IntakeSession) error {
	if err := validateSession(session); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemoryStore) GetSession(id string) (*models.IntakeSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	out := session.Clone()
	return &out, nil
}

// FindSessionByContact returns the most recently created session for a contact.
func (s *InMemoryStore) FindSessionByContact(contact string) (*models.IntakeSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.IntakeSession
	for _, session := range s.sessions {
		if session.Contact != contact || contact == "" {
			continue
		}
		if found == nil || session.CreatedAt.After(found.CreatedAt) {
			c := session.Clone()
			found = &c
		}
	}
	return found, nil
}

func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// ListSessions returns all sessions ordered by creation time, newest first.
func (s *InMemoryStore) ListSessions() ([]models.IntakeSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.IntakeSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SaveReview(r models.IntakeReview) error {
	if r.SessionID == "" {
		return fmt.Errorf("review session ID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[r.SessionID] = cloneReview(r)
	return nil
}

func (s *InMemoryStore) GetReview(sessionID string) (*models.IntakeReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[sessionID]
	if !ok {
		return nil, nil
	}
	out := cloneReview(r)
	return &out, nil
}

// ListReviews returns all reviews ordered by completion time, newest first.
func (s *InMemoryStore) ListReviews() ([]models.IntakeReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.IntakeReview, 0, len(s.reviews))
	for _, r := range s.reviews {
		out = append(out, cloneReview(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func cloneReview(r models.IntakeReview) models.IntakeReview {
	out := r
	out.Fields = append([]models.ReviewField(nil), r.Fields...)
	out.KeyPoints = append([]string(nil), r.KeyPoints...)
	out.Transcript = append([]models.ConversationMessage(nil), r.Transcript...)
	if r.ApprovedAt != nil {
		at := *r.ApprovedAt
		out.ApprovedAt = &at
	}
	return out
}
