package recovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/IntakeFlow/internal/models"
	"github.com/BTreeMap/IntakeFlow/internal/store"
)

// Mock recoverable for testing
type mockRecoverable struct {
	kind          string
	count         int
	recoverError  error
	recoverCalled bool
}

func (m *mockRecoverable) RecoverState(ctx context.Context, registry *Registry) error {
	m.recoverCalled = true
	if m.recoverError != nil {
		return m.recoverError
	}
	registry.Record(m.kind, m.count)
	return nil
}

func TestNewRegistry(t *testing.T) {
	st := store.NewInMemoryStore()
	registry := NewRegistry(st)

	if registry.Store() != st {
		t.Error("Registry store does not match provided store")
	}
	if len(registry.Recovered()) != 0 {
		t.Errorf("expected no recovered counts, got %v", registry.Recovered())
	}
}

func TestRegistryRecord(t *testing.T) {
	registry := NewRegistry(store.NewInMemoryStore())
	registry.Record("greeting", 2)
	registry.Record("greeting", 1)
	registry.Record("ignored", 0)

	got := registry.Recovered()
	if got["greeting"] != 3 {
		t.Errorf("greeting count = %d, want 3", got["greeting"])
	}
	if _, ok := got["ignored"]; ok {
		t.Error("zero counts should not be recorded")
	}

	got["greeting"] = 100
	if registry.Recovered()["greeting"] != 3 {
		t.Error("Recovered should return a copy")
	}
}

func TestRegistryActiveSessions(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC)
	for i, state := range []models.FlowState{models.FlowStateAwaitingName, models.FlowStateCompleted, models.FlowStateInProgress} {
		s := models.IntakeSession{
			ID:        fmt.Sprintf("s%d", i),
			Channel:   models.ChannelText,
			FlowState: state,
			Messages:  []models.ConversationMessage{},
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if err := st.SaveSession(s); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	active, err := NewRegistry(st).ActiveSessions()
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}
	for _, s := range active {
		if s.FlowState == models.FlowStateCompleted {
			t.Errorf("completed session %s listed as active", s.ID)
		}
	}
}

func TestManagerRecoverAllSuccess(t *testing.T) {
	manager := NewManager(store.NewInMemoryStore())

	mock1 := &mockRecoverable{kind: "greeting", count: 2}
	mock2 := &mockRecoverable{kind: "greeting", count: 1}
	manager.Register(mock1)
	manager.Register(mock2)

	if err := manager.RecoverAll(context.Background()); err != nil {
		t.Errorf("RecoverAll failed: %v", err)
	}
	if !mock1.recoverCalled || !mock2.recoverCalled {
		t.Error("all recoverables should be called")
	}
	if got := manager.Registry().Recovered()["greeting"]; got != 3 {
		t.Errorf("greeting count = %d, want 3", got)
	}
}

func TestManagerRecoverAllWithErrors(t *testing.T) {
	manager := NewManager(store.NewInMemoryStore())

	mock1 := &mockRecoverable{recoverError: fmt.Errorf("recovery failed")}
	mock2 := &mockRecoverable{kind: "greeting", count: 1}
	manager.Register(mock1)
	manager.Register(mock2)

	if err := manager.RecoverAll(context.Background()); err == nil {
		t.Error("Expected error from RecoverAll when components fail")
	}
	if !mock1.recoverCalled || !mock2.recoverCalled {
		t.Error("All recoverables should be called despite errors")
	}
}

func TestManagerRecoverAllCancelled(t *testing.T) {
	manager := NewManager(store.NewInMemoryStore())
	mock := &mockRecoverable{}
	manager.Register(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := manager.RecoverAll(ctx); err == nil {
		t.Error("expected context error")
	}
	if mock.recoverCalled {
		t.Error("recoverable should not run after cancellation")
	}
}
