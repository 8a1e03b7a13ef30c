package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakeFlow/internal/models"
	"github.com/BTreeMap/IntakeFlow/internal/recovery"
)

// DefaultStaleAfter is how long an unfinished session may sit idle before
// the sweeper discards it.
const DefaultStaleAfter = 24 * time.Hour

// RecoverState re-schedules greetings that were pending when the process
// stopped: sessions still awaiting a name with an empty transcript.
func (sm *StoreBasedSessionManager) RecoverState(ctx context.Context, registry *recovery.Registry) error {
	active, err := registry.ActiveSessions()
	if err != nil {
		return err
	}
	recovered := 0
	for i := range active {
		s := active[i]
		if s.FlowState != models.FlowStateAwaitingName || len(s.Messages) > 0 {
			continue
		}
		if _, err := sm.scheduleGreeting(ctx, &s); err != nil {
			slog.Warn("SessionManager.RecoverState: greeting not restored", "sessionID", s.ID, "error", err)
			continue
		}
		recovered++
	}
	registry.Record("greeting", recovered)
	slog.Debug("SessionManager.RecoverState: done", "active", len(active), "greetings", recovered)
	return nil
}

// ExpireStale discards unfinished sessions that have not changed for longer
// than maxIdle. Completed sessions are kept for staff review.
func (sm *StoreBasedSessionManager) ExpireStale(ctx context.Context, maxIdle time.Duration) (int, error) {
	sessions, err := sm.store.ListSessions()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	cutoff := sm.ctrl.Now().Add(-maxIdle)
	expired := 0
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if s.FlowState == models.FlowStateCompleted || !lastActivity(s).Before(cutoff) {
			continue
		}
		ok, err := sm.expireIfIdle(s.ID, cutoff)
		if err != nil {
			slog.Warn("SessionManager.ExpireStale: failed to discard session", "sessionID", s.ID, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		slog.Info("SessionManager.ExpireStale: discarded idle sessions", "count", expired, "maxIdle", maxIdle)
	}
	return expired, nil
}

// expireIfIdle re-reads the session under its lock and discards it only if
// it is still unfinished and idle since before cutoff.
func (sm *StoreBasedSessionManager) expireIfIdle(id string, cutoff time.Time) (bool, error) {
	lock := sm.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := sm.load(id)
	if errors.Is(err, models.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if s.FlowState == models.FlowStateCompleted || !lastActivity(*s).Before(cutoff) {
		slog.Debug("SessionManager.ExpireStale: session active again", "sessionID", id)
		return false, nil
	}
	return true, sm.endLocked(id)
}

func lastActivity(s models.IntakeSession) time.Time {
	if s.UpdatedAt.After(s.CreatedAt) {
		return s.UpdatedAt
	}
	return s.CreatedAt
}
