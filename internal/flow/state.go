package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/IntakeFlow/internal/models"
)

// SessionManager drives intake sessions through the Controller and persists
// every accepted transition. Submit operations return the unchanged snapshot
// alongside a ValidationError or StateError so callers can re-prompt.
type SessionManager interface {
	// Start creates a new session for the channel and schedules the greeting
	Start(ctx context.Context, channel models.Channel, contact string) (*models.IntakeSession, error)

	// Get retrieves a session by ID
	Get(ctx context.Context, id string) (*models.IntakeSession, error)

	// FindByContact retrieves the newest session for a messaging contact, or nil
	FindByContact(ctx context.Context, contact string) (*models.IntakeSession, error)

	// SubmitName records the patient's name
	SubmitName(ctx context.Context, id, text string) (*models.IntakeSession, error)

	// SubmitDateOfBirth records the date of birth and applies the age gate
	SubmitDateOfBirth(ctx context.Context, id, raw string) (*models.IntakeSession, error)

	// SubmitAnswer records the answer for the current step
	SubmitAnswer(ctx context.Context, id, text string) (*models.IntakeSession, error)

	// StartOver resets the session and schedules the greeting again
	StartOver(ctx context.Context, id string) (*models.IntakeSession, error)

	// EndIntake discards the session
	EndIntake(ctx context.Context, id string) error
}

// Timer defines the interface for scheduling delayed actions.
type Timer interface {
	// ScheduleAfter schedules a function to run after a delay
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// Cancel cancels a scheduled function by ID
	Cancel(id string) error

	// Stop cancels all scheduled functions
	Stop()
}

// CompletionHook runs after a session reaches the completed state.
type CompletionHook func(ctx context.Context, session models.IntakeSession) error

// MessageHook receives the assistant messages appended by one transition,
// including the delayed greeting.
type MessageHook func(ctx context.Context, session models.IntakeSession, messages []models.ConversationMessage)
