package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/IntakeFlow/internal/models"
	"github.com/BTreeMap/IntakeFlow/internal/store"
)

// DefaultTypingDelay is how long the assistant "types" before greeting.
const DefaultTypingDelay = 500 * time.Millisecond

// errRestartCompleted diverts StartOver on a completed session to a new session.
var errRestartCompleted = errors.New("completed session restarts as a new session")

// StoreBasedSessionManager implements SessionManager using a Store backend.
// Events for one session are applied one at a time.
type StoreBasedSessionManager struct {
	store       store.Store
	ctrl        *Controller
	timer       Timer
	typingDelay time.Duration

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	pending map[string]string // session ID -> greeting timer ID

	hooksMu         sync.RWMutex
	completionHooks []CompletionHook
	messageHooks    []MessageHook
}

// ManagerOption configures a StoreBasedSessionManager.
type ManagerOption func(*StoreBasedSessionManager)

// WithTypingDelay sets the delay before the greeting is appended. Zero greets synchronously.
func WithTypingDelay(d time.Duration) ManagerOption {
	return func(sm *StoreBasedSessionManager) {
		sm.typingDelay = d
	}
}

// WithTimer sets the timer used for the greeting delay.
func WithTimer(t Timer) ManagerOption {
	return func(sm *StoreBasedSessionManager) {
		sm.timer = t
	}
}

// NewStoreBasedSessionManager creates a new SessionManager backed by a Store.
func NewStoreBasedSessionManager(st store.Store, ctrl *Controller, opts ...ManagerOption) *StoreBasedSessionManager {
	sm := &StoreBasedSessionManager{
		store:       st,
		ctrl:        ctrl,
		typingDelay: DefaultTypingDelay,
		locks:       make(map[string]*sync.Mutex),
		pending:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(sm)
	}
	if sm.timer == nil {
		sm.timer = NewSimpleTimer()
	}
	slog.Debug("Creating StoreBasedSessionManager", "typingDelay", sm.typingDelay)
	return sm
}

// Controller returns the controller used to apply events.
func (sm *StoreBasedSessionManager) Controller() *Controller {
	return sm.ctrl
}

// OnCompleted registers a hook that runs when a session completes.
func (sm *StoreBasedSessionManager) OnCompleted(hook CompletionHook) {
	sm.hooksMu.Lock()
	defer sm.hooksMu.Unlock()
	sm.completionHooks = append(sm.completionHooks, hook)
}

// OnAssistantMessages registers a hook that receives new assistant messages.
func (sm *StoreBasedSessionManager) OnAssistantMessages(hook MessageHook) {
	sm.hooksMu.Lock()
	defer sm.hooksMu.Unlock()
	sm.messageHooks = append(sm.messageHooks, hook)
}

// Start creates a new session and schedules the greeting.
func (sm *StoreBasedSessionManager) Start(ctx context.Context, channel models.Channel, contact string) (*models.IntakeSession, error) {
	if !models.IsValidChannel(channel) {
		return nil, models.ErrInvalidChannel
	}
	now := sm.ctrl.Now()
	session := models.IntakeSession{
		ID:        uuid.NewString(),
		Channel:   channel,
		Contact:   contact,
		CreatedAt: now,
		UpdatedAt: now,
	}
	session.Reset()

	if err := sm.store.SaveSession(session); err != nil {
		slog.Error("SessionManager.Start: save failed", "error", err, "channel", channel)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	slog.Info("SessionManager.Start: session created", "sessionID", session.ID, "channel", channel, "contact_set", contact != "")
	return sm.scheduleGreeting(ctx, &session)
}

// Get retrieves a session by ID.
func (sm *StoreBasedSessionManager) Get(ctx context.Context, id string) (*models.IntakeSession, error) {
	return sm.load(id)
}

// FindByContact retrieves the newest session for a contact, or nil.
func (sm *StoreBasedSessionManager) FindByContact(ctx context.Context, contact string) (*models.IntakeSession, error) {
	s, err := sm.store.FindSessionByContact(contact)
	if err != nil {
		slog.Error("SessionManager.FindByContact: lookup failed", "error", err, "contact", contact)
		return nil, fmt.Errorf("failed to look up session for contact: %w", err)
	}
	return s, nil
}

// SubmitName records the patient's name.
func (sm *StoreBasedSessionManager) SubmitName(ctx context.Context, id, text string) (*models.IntakeSession, error) {
	return sm.apply(ctx, id, "SubmitName", func(s models.IntakeSession) (models.IntakeSession, error) {
		return sm.ctrl.SubmitName(s, text)
	})
}

// SubmitDateOfBirth records the date of birth and applies the age gate.
func (sm *StoreBasedSessionManager) SubmitDateOfBirth(ctx context.Context, id, raw string) (*models.IntakeSession, error) {
	return sm.apply(ctx, id, "SubmitDateOfBirth", func(s models.IntakeSession) (models.IntakeSession, error) {
		return sm.ctrl.SubmitDateOfBirth(s, raw)
	})
}

// SubmitAnswer records the answer for the current step.
func (sm *StoreBasedSessionManager) SubmitAnswer(ctx context.Context, id, text string) (*models.IntakeSession, error) {
	return sm.apply(ctx, id, "SubmitAnswer", func(s models.IntakeSession) (models.IntakeSession, error) {
		return sm.ctrl.SubmitAnswer(s, text)
	})
}

// StartOver resets the session and schedules the greeting again. A completed
// session keeps its review: it is detached from its contact and the restart
// continues in a new session with a new ID.
func (sm *StoreBasedSessionManager) StartOver(ctx context.Context, id string) (*models.IntakeSession, error) {
	s, err := sm.apply(ctx, id, "StartOver", func(s models.IntakeSession) (models.IntakeSession, error) {
		if s.FlowState == models.FlowStateCompleted {
			return s, errRestartCompleted
		}
		return sm.ctrl.StartOver(s), nil
	})
	if errors.Is(err, errRestartCompleted) {
		return sm.restartCompleted(ctx, *s)
	}
	if err != nil {
		return s, err
	}
	return sm.scheduleGreeting(ctx, s)
}

func (sm *StoreBasedSessionManager) restartCompleted(ctx context.Context, done models.IntakeSession) (*models.IntakeSession, error) {
	if done.Contact != "" {
		_, err := sm.apply(ctx, done.ID, "StartOver", func(s models.IntakeSession) (models.IntakeSession, error) {
			s.Contact = ""
			return s, nil
		})
		if err != nil {
			return nil, err
		}
	}
	next, err := sm.Start(ctx, done.Channel, done.Contact)
	if err != nil {
		return nil, err
	}
	slog.Info("SessionManager.StartOver: completed session restarted", "sessionID", done.ID, "newSessionID", next.ID)
	return next, nil
}

// EndIntake cancels any pending greeting and deletes the session.
func (sm *StoreBasedSessionManager) EndIntake(ctx context.Context, id string) error {
	lock := sm.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := sm.load(id); err != nil {
		return err
	}
	return sm.endLocked(id)
}

// endLocked deletes the session. The caller holds the session lock.
func (sm *StoreBasedSessionManager) endLocked(id string) error {
	sm.mu.Lock()
	if timerID, ok := sm.pending[id]; ok {
		sm.timer.Cancel(timerID)
		delete(sm.pending, id)
	}
	delete(sm.locks, id)
	sm.mu.Unlock()

	if err := sm.store.DeleteSession(id); err != nil {
		slog.Error("SessionManager.EndIntake: delete failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to end intake %s: %w", id, err)
	}
	slog.Info("SessionManager.EndIntake: session discarded", "sessionID", id)
	return nil
}

// apply runs one controller operation under the session lock and persists
// the result. A rejected event returns the unchanged snapshot with the error.
func (sm *StoreBasedSessionManager) apply(ctx context.Context, id, op string, fn func(models.IntakeSession) (models.IntakeSession, error)) (*models.IntakeSession, error) {
	lock := sm.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := sm.load(id)
	if err != nil {
		return nil, err
	}
	next, err := fn(*current)
	if err != nil {
		slog.Debug("SessionManager."+op+": event rejected", "sessionID", id, "state", current.FlowState, "error", err)
		if current.FlowState == models.FlowStateCompleted {
			sm.forgetLock(id)
		}
		return current, err
	}
	next.UpdatedAt = sm.ctrl.Now()
	if err := sm.store.SaveSession(next); err != nil {
		slog.Error("SessionManager."+op+": save failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to save session %s: %w", id, err)
	}
	slog.Debug("SessionManager."+op+": applied", "sessionID", id, "from", current.FlowState, "to", next.FlowState, "step", next.CurrentStepIndex)
	if next.FlowState == models.FlowStateCompleted {
		sm.forgetLock(id)
	}

	sm.notifyMessages(ctx, next, newAssistantMessages(*current, next))
	if current.FlowState != models.FlowStateCompleted && next.FlowState == models.FlowStateCompleted {
		sm.runCompletionHooks(ctx, next)
	}
	return &next, nil
}

// scheduleGreeting greets the session after the typing delay. With no delay
// the greeting is applied before returning and the greeted snapshot is returned.
func (sm *StoreBasedSessionManager) scheduleGreeting(ctx context.Context, s *models.IntakeSession) (*models.IntakeSession, error) {
	id := s.ID
	if sm.typingDelay <= 0 {
		return sm.greet(ctx, id)
	}
	timerID, err := sm.timer.ScheduleAfter(sm.typingDelay, func() {
		if _, err := sm.greet(context.Background(), id); err != nil {
			slog.Debug("SessionManager: delayed greeting skipped", "sessionID", id, "error", err)
		}
	})
	if err != nil {
		slog.Error("SessionManager: failed to schedule greeting", "error", err, "sessionID", id)
		return s, nil
	}
	sm.mu.Lock()
	sm.pending[id] = timerID
	sm.mu.Unlock()
	return s, nil
}

func (sm *StoreBasedSessionManager) greet(ctx context.Context, id string) (*models.IntakeSession, error) {
	sm.mu.Lock()
	delete(sm.pending, id)
	sm.mu.Unlock()
	return sm.apply(ctx, id, "Greet", func(s models.IntakeSession) (models.IntakeSession, error) {
		return sm.ctrl.Greet(s), nil
	})
}

func (sm *StoreBasedSessionManager) load(id string) (*models.IntakeSession, error) {
	s, err := sm.store.GetSession(id)
	if err != nil {
		slog.Error("SessionManager: failed to load session", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return s, nil
}

func (sm *StoreBasedSessionManager) lockFor(id string) *sync.Mutex {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	lock, ok := sm.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		sm.locks[id] = lock
	}
	return lock
}

// forgetLock drops the lock entry of a session that takes no more events.
func (sm *StoreBasedSessionManager) forgetLock(id string) {
	sm.mu.Lock()
	delete(sm.locks, id)
	sm.mu.Unlock()
}

func (sm *StoreBasedSessionManager) notifyMessages(ctx context.Context, s models.IntakeSession, messages []models.ConversationMessage) {
	if len(messages) == 0 {
		return
	}
	sm.hooksMu.RLock()
	hooks := append([]MessageHook(nil), sm.messageHooks...)
	sm.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, s.Clone(), messages)
	}
}

func (sm *StoreBasedSessionManager) runCompletionHooks(ctx context.Context, s models.IntakeSession) {
	sm.hooksMu.RLock()
	hooks := append([]CompletionHook(nil), sm.completionHooks...)
	sm.hooksMu.RUnlock()
	for i, hook := range hooks {
		if err := hook(ctx, s.Clone()); err != nil {
			slog.Error("SessionManager: completion hook failed", "error", err, "sessionID", s.ID, "hook", i)
		}
	}
}

// newAssistantMessages returns the assistant messages next appended to prev.
func newAssistantMessages(prev, next models.IntakeSession) []models.ConversationMessage {
	if len(next.Messages) <= len(prev.Messages) {
		return nil
	}
	var out []models.ConversationMessage
	for _, m := range next.Messages[len(prev.Messages):] {
		if m.Sender == models.SenderAssistant {
			out = append(out, m)
		}
	}
	return out
}
