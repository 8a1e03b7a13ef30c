// Package recovery restores in-flight work after an IntakeFlow restart.
//
// Scheduled work such as the delayed greeting lives only in memory. Components
// that own such work implement Recoverable and are run once at startup, before
// the API and messaging channels begin accepting traffic.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/IntakeFlow/internal/models"
	"github.com/BTreeMap/IntakeFlow/internal/store"
)

// Recoverable is a component that can restore its state from the store.
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context, registry *Registry) error
}

// Registry gives recoverable components access to shared services and
// collects what each one restored.
type Registry struct {
	store store.Store

	mu        sync.Mutex
	recovered map[string]int
}

// NewRegistry creates a registry over the given store.
func NewRegistry(st store.Store) *Registry {
	return &Registry{store: st, recovered: make(map[string]int)}
}

// Store provides access to the store for recovery operations.
func (r *Registry) Store() store.Store {
	return r.store
}

// Record notes that n items of the given kind were restored.
func (r *Registry) Record(kind string, n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered[kind] += n
}

// Recovered returns a copy of the recovered counts by kind.
func (r *Registry) Recovered() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.recovered))
	for k, v := range r.recovered {
		out[k] = v
	}
	return out
}

// ActiveSessions lists sessions that have not reached the completed state.
func (r *Registry) ActiveSessions() ([]models.IntakeSession, error) {
	sessions, err := r.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	active := sessions[:0]
	for _, s := range sessions {
		if s.FlowState != models.FlowStateCompleted {
			active = append(active, s)
		}
	}
	return active, nil
}

// Manager orchestrates recovery of all registered components.
type Manager struct {
	registry     *Registry
	recoverables []Recoverable
}

// NewManager creates a new recovery manager.
func NewManager(st store.Store) *Manager {
	return &Manager{registry: NewRegistry(st)}
}

// Register adds a component that can be recovered.
func (m *Manager) Register(r Recoverable) {
	m.recoverables = append(m.recoverables, r)
}

// Registry provides access to the recovery registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// RecoverAll runs every registered component. A failing component does not
// stop the others; the returned error counts the failures.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(m.recoverables))

	recoveredCount := 0
	errorCount := 0
	for _, r := range m.recoverables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.RecoverState(ctx, m.registry); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", fmt.Sprintf("%T", r))
			errorCount++
			continue
		}
		recoveredCount++
	}

	counts := m.registry.Recovered()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		slog.Info("Recovered", "kind", k, "count", counts[k])
	}
	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount)

	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(m.recoverables))
	}
	return nil
}
