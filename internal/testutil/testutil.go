// Package testutil provides common test fixtures and helpers for IntakeFlow tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/IntakeFlow/internal/flow"
	"github.com/BTreeMap/IntakeFlow/internal/models"
	"github.com/BTreeMap/IntakeFlow/internal/store"
)

// Now is the fixed clock used by fixtures.
var Now = time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC)

// Answers are sample replies for the default script's answer steps.
var Answers = []string{
	"Sore throat and a mild fever since Tuesday",
	"Ibuprofen twice a day",
	"Yes, that's right",
}

// Stack bundles an in-memory store with the intake services built on it.
type Stack struct {
	Store      *store.InMemoryStore
	Controller *flow.Controller
	Sessions   *flow.StoreBasedSessionManager
	Reviews    *flow.ReviewService
}

// NewStack creates an intake stack with a fixed clock and no typing delay.
// Completed sessions create reviews without a summariser.
func NewStack(t *testing.T, opts ...flow.ControllerOption) *Stack {
	t.Helper()
	st := store.NewInMemoryStore()
	opts = append([]flow.ControllerOption{flow.WithClock(func() time.Time { return Now })}, opts...)
	ctrl := flow.NewController(opts...)
	sm := flow.NewStoreBasedSessionManager(st, ctrl, flow.WithTypingDelay(0))
	reviews := flow.NewReviewService(st, ctrl, nil)
	sm.OnCompleted(reviews.CreateFromSession)
	t.Cleanup(func() { st.Close() })
	return &Stack{Store: st, Controller: ctrl, Sessions: sm, Reviews: reviews}
}

// YearsAgo formats the date n years before Now in the canonical layout.
func YearsAgo(n int) string {
	return Now.AddDate(-n, 0, 0).Format(models.DateLayout)
}

// CompleteIntake drives a new session on channel through every step and
// returns the completed snapshot.
func (s *Stack) CompleteIntake(t *testing.T, channel models.Channel, name string) *models.IntakeSession {
	t.Helper()
	ctx := context.Background()
	session, err := s.Sessions.Start(ctx, channel, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session, err = s.Sessions.SubmitName(ctx, session.ID, name); err != nil {
		t.Fatalf("SubmitName: %v", err)
	}
	if session, err = s.Sessions.SubmitDateOfBirth(ctx, session.ID, YearsAgo(34)); err != nil {
		t.Fatalf("SubmitDateOfBirth: %v", err)
	}
	for _, answer := range Answers {
		if session, err = s.Sessions.SubmitAnswer(ctx, session.ID, answer); err != nil {
			t.Fatalf("SubmitAnswer(%q): %v", answer, err)
		}
	}
	if session.FlowState != models.FlowStateCompleted {
		t.Fatalf("expected completed session, got %s", session.FlowState)
	}
	return session
}

// AssertHTTPStatus checks the HTTP status code and stops the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, want int, rec *httptest.ResponseRecorder, what string) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("%s: expected HTTP %d, got %d (body %s)", what, want, rec.Code, rec.Body.String())
	}
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON %q: %v", data, err)
	}
}
