package flow

import (
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/IntakeFlow/internal/models"
)

var testNow = time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC)

func newTestController(opts ...ControllerOption) *Controller {
	opts = append([]ControllerOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewController(opts...)
}

func freshSession() models.IntakeSession {
	s := models.IntakeSession{ID: "sess-test", Channel: models.ChannelText}
	s.Reset()
	return s
}

// yearsAgo formats the date n years before testNow in the canonical layout.
func yearsAgo(n int) string {
	return testNow.AddDate(-n, 0, 0).Format(models.DateLayout)
}

func awaitingDOB(t *testing.T, c *Controller) models.IntakeSession {
	t.Helper()
	s, err := c.SubmitName(c.Greet(freshSession()), "Jane Doe")
	if err != nil {
		t.Fatalf("SubmitName: %v", err)
	}
	return s
}

func inProgress(t *testing.T, c *Controller) models.IntakeSession {
	t.Helper()
	s, err := c.SubmitDateOfBirth(awaitingDOB(t, c), yearsAgo(30))
	if err != nil {
		t.Fatalf("SubmitDateOfBirth: %v", err)
	}
	return s
}

func lastMessage(s models.IntakeSession) models.ConversationMessage {
	return s.Messages[len(s.Messages)-1]
}

func TestGreet(t *testing.T) {
	c := newTestController()
	s := c.Greet(freshSession())
	if len(s.Messages) != 1 || s.Messages[0].Sender != models.SenderAssistant {
		t.Fatalf("expected one assistant greeting, got %+v", s.Messages)
	}
	if s.Messages[0].Text != DefaultScript().Greeting {
		t.Errorf("unexpected greeting %q", s.Messages[0].Text)
	}
	if s.Messages[0].Timestamp != "10:30 AM" {
		t.Errorf("timestamp = %q, want 10:30 AM", s.Messages[0].Timestamp)
	}
	again := c.Greet(s)
	if len(again.Messages) != 1 {
		t.Errorf("greeting twice should be a no-op, got %d messages", len(again.Messages))
	}
}

func TestSubmitName(t *testing.T) {
	c := newTestController()
	s, err := c.SubmitName(c.Greet(freshSession()), "  Jane   Doe ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.FlowState != models.FlowStateAwaitingDOB {
		t.Errorf("flow state = %s, want %s", s.FlowState, models.FlowStateAwaitingDOB)
	}
	if s.CollectedName != "Jane Doe" {
		t.Errorf("collected name = %q", s.CollectedName)
	}
	if got := lastMessage(s).Text; got != "Thanks, Jane. What's your date of birth?" {
		t.Errorf("unexpected prompt %q", got)
	}
	if s.Messages[1].Sender != models.SenderPatient || s.Messages[1].Text != "Jane Doe" {
		t.Errorf("patient name message missing: %+v", s.Messages)
	}
}

func TestSubmitNameRejectsBlank(t *testing.T) {
	c := newTestController()
	before := c.Greet(freshSession())
	for _, input := range []string{"", "   ", "\t\n"} {
		s, err := c.SubmitName(before, input)
		if !models.IsValidationError(err) {
			t.Fatalf("SubmitName(%q) error = %v, want ValidationError", input, err)
		}
		if s.FlowState != models.FlowStateAwaitingName || len(s.Messages) != len(before.Messages) {
			t.Errorf("session changed after rejected name: %+v", s)
		}
	}
}

func TestSubmitNameWrongState(t *testing.T) {
	c := newTestController()
	s := awaitingDOB(t, c)
	_, err := c.SubmitName(s, "Someone Else")
	if !models.IsStateError(err) {
		t.Errorf("expected StateError, got %v", err)
	}
}

func TestSubmitDateOfBirthAgeGate(t *testing.T) {
	tests := []struct {
		name      string
		dob       string
		wantState models.FlowState
		wantStep  int
		wantAge   int
	}{
		{"thirty years old", yearsAgo(30), models.FlowStateInProgress, 1, 30},
		{"ten years old", yearsAgo(10), models.FlowStateBlocked, 0, 10},
		{"exactly fifteen today", yearsAgo(15), models.FlowStateInProgress, 1, 15},
		{"fifteen tomorrow", testNow.AddDate(-15, 0, 1).Format(models.DateLayout), models.FlowStateBlocked, 0, 14},
		{"born today", testNow.Format(models.DateLayout), models.FlowStateBlocked, 0, 0},
		{"slash format", "03/15/1985", models.FlowStateInProgress, 1, 40},
		{"long format", "March 15, 1985", models.FlowStateInProgress, 1, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController()
			s, err := c.SubmitDateOfBirth(awaitingDOB(t, c), tt.dob)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.FlowState != tt.wantState {
				t.Errorf("flow state = %s, want %s", s.FlowState, tt.wantState)
			}
			if s.CurrentStepIndex != tt.wantStep {
				t.Errorf("step = %d, want %d", s.CurrentStepIndex, tt.wantStep)
			}
			if s.ComputedAge == nil || *s.ComputedAge != tt.wantAge {
				t.Errorf("computed age = %v, want %d", s.ComputedAge, tt.wantAge)
			}
		})
	}
}

func TestSubmitDateOfBirthMessages(t *testing.T) {
	c := newTestController()
	before := awaitingDOB(t, c)

	s, err := c.SubmitDateOfBirth(before, "1985-03-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Messages) != len(before.Messages)+2 {
		t.Fatalf("expected patient echo and next prompt, got %+v", s.Messages)
	}
	echo := s.Messages[len(before.Messages)]
	if echo.Sender != models.SenderPatient || echo.Text != "March 15, 1985" {
		t.Errorf("unexpected echo %+v", echo)
	}
	if got := lastMessage(s).Text; got != "Got it. What's the reason for your visit today?" {
		t.Errorf("unexpected prompt %q", got)
	}

	blocked, err := c.SubmitDateOfBirth(before, yearsAgo(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocked.Messages) != len(before.Messages)+1 || lastMessage(blocked).Sender != models.SenderPatient {
		t.Errorf("blocked session should append no assistant prompt, got %+v", blocked.Messages)
	}
}

func TestSubmitDateOfBirthValidation(t *testing.T) {
	tests := []struct {
		raw    string
		reason string
	}{
		{"", models.ReasonMissing},
		{"   ", models.ReasonMissing},
		{"not-a-date", models.ReasonUnparseable},
		{"1985-02-30", models.ReasonUnparseable},
		{"13/01/1985", models.ReasonUnparseable},
		{testNow.AddDate(0, 0, 1).Format(models.DateLayout), models.ReasonFuture},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			c := newTestController()
			before := awaitingDOB(t, c)
			s, err := c.SubmitDateOfBirth(before, tt.raw)
			if !models.IsValidationError(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			ve := err.(*models.ValidationError)
			if ve.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", ve.Reason, tt.reason)
			}
			if s.FlowState != models.FlowStateAwaitingDOB {
				t.Errorf("flow state changed to %s", s.FlowState)
			}
			if s.DateOfBirth != nil || s.ComputedAge != nil || len(s.Messages) != len(before.Messages) {
				t.Errorf("session changed after rejected input: %+v", s)
			}
		})
	}
}

func TestSubmitDateOfBirthWrongState(t *testing.T) {
	c := newTestController()
	_, err := c.SubmitDateOfBirth(c.Greet(freshSession()), "1985-03-15")
	if !models.IsStateError(err) {
		t.Errorf("expected StateError before name, got %v", err)
	}
	_, err = c.SubmitDateOfBirth(inProgress(t, c), "1985-03-15")
	if !models.IsStateError(err) {
		t.Errorf("expected StateError while in progress, got %v", err)
	}
}

func TestConfigurableMinimumAge(t *testing.T) {
	c := newTestController(WithMinimumAge(18))
	s, err := c.SubmitDateOfBirth(awaitingDOB(t, c), yearsAgo(16))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.FlowState != models.FlowStateBlocked {
		t.Errorf("expected Blocked with threshold 18, got %s", s.FlowState)
	}
	snap := c.Snapshot(s)
	if snap.Guardian == nil || !strings.Contains(snap.Guardian.Body, "under 18") {
		t.Errorf("guardian notice should name the threshold, got %+v", snap.Guardian)
	}
}

func TestBlockedSessionRejectsAnswers(t *testing.T) {
	c := newTestController()
	s, err := c.SubmitDateOfBirth(awaitingDOB(t, c), yearsAgo(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		next, err := c.SubmitAnswer(s, "I have a cough")
		if !models.IsStateError(err) {
			t.Fatalf("expected StateError, got %v", err)
		}
		if next.CurrentStepIndex != s.CurrentStepIndex || next.FlowState != models.FlowStateBlocked {
			t.Fatalf("blocked session changed: %+v", next)
		}
		s = next
	}
}

func TestSubmitAnswerAdvancesToCompletion(t *testing.T) {
	c := newTestController()
	s := inProgress(t, c)

	answers := []string{"Headache for two days", "Ibuprofen", "Yes, that's right"}
	wantSteps := []int{2, 3, 3}
	for i, answer := range answers {
		var err error
		s, err = c.SubmitAnswer(s, answer)
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		if s.CurrentStepIndex != wantSteps[i] {
			t.Errorf("after answer %d step = %d, want %d", i, s.CurrentStepIndex, wantSteps[i])
		}
	}
	if s.FlowState != models.FlowStateCompleted {
		t.Fatalf("flow state = %s, want completed", s.FlowState)
	}
	if s.CompletedAt == nil || !s.CompletedAt.Equal(testNow) {
		t.Errorf("completed at = %v", s.CompletedAt)
	}
	if lastMessage(s).Text != DefaultScript().Closing {
		t.Errorf("expected closing message, got %q", lastMessage(s).Text)
	}
	if reason, ok := s.Answer(ReasonStep); !ok || reason != "Headache for two days" {
		t.Errorf("reason answer = %q %v", reason, ok)
	}
	if len(s.Answers) != 3 || s.Answers[1].Label != "Current medications" {
		t.Errorf("unexpected answers %+v", s.Answers)
	}

	_, err := c.SubmitAnswer(s, "one more")
	if !models.IsStateError(err) {
		t.Errorf("expected StateError after completion, got %v", err)
	}
}

func TestFinalStepAnswerCompletes(t *testing.T) {
	c := newTestController()
	s := inProgress(t, c)
	s.CurrentStepIndex = 3

	next, err := c.SubmitAnswer(s, "Yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.FlowState != models.FlowStateCompleted {
		t.Errorf("flow state = %s, want completed", next.FlowState)
	}
	if next.CurrentStepIndex != 3 {
		t.Errorf("step index = %d, want 3", next.CurrentStepIndex)
	}
}

func TestSubmitAnswerRejectsBlank(t *testing.T) {
	c := newTestController()
	s := inProgress(t, c)
	next, err := c.SubmitAnswer(s, "  ")
	if !models.IsValidationError(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if next.CurrentStepIndex != s.CurrentStepIndex || len(next.Messages) != len(s.Messages) {
		t.Errorf("session changed after blank answer")
	}
}

func TestStartOverFromEveryState(t *testing.T) {
	c := newTestController()
	blocked, _ := c.SubmitDateOfBirth(awaitingDOB(t, c), yearsAgo(10))
	completed := inProgress(t, c)
	for _, a := range []string{"Cough", "None", "Yes"} {
		completed, _ = c.SubmitAnswer(completed, a)
	}

	sessions := map[string]models.IntakeSession{
		"fresh":        freshSession(),
		"greeted":      c.Greet(freshSession()),
		"awaiting dob": awaitingDOB(t, c),
		"blocked":      blocked,
		"in progress":  inProgress(t, c),
		"completed":    completed,
	}
	for name, s := range sessions {
		t.Run(name, func(t *testing.T) {
			got := c.StartOver(s)
			if got.FlowState != models.FlowStateAwaitingName || got.CurrentStepIndex != 0 {
				t.Errorf("got state %s step %d", got.FlowState, got.CurrentStepIndex)
			}
			if got.Messages == nil || len(got.Messages) != 0 {
				t.Errorf("expected empty message list, got %+v", got.Messages)
			}
			if got.CollectedName != "" || got.DateOfBirth != nil || got.ComputedAge != nil || got.Answers != nil || got.CompletedAt != nil {
				t.Errorf("fields not cleared: %+v", got)
			}
			if got.ID != s.ID || got.Channel != s.Channel {
				t.Errorf("envelope not preserved")
			}
		})
	}
}

func TestOperationsDoNotMutateInput(t *testing.T) {
	c := newTestController()
	s := awaitingDOB(t, c)
	count := len(s.Messages)
	if _, err := c.SubmitDateOfBirth(s, "1985-03-15"); err != nil {
		t.Fatal(err)
	}
	if len(s.Messages) != count || s.FlowState != models.FlowStateAwaitingDOB {
		t.Error("SubmitDateOfBirth mutated its input")
	}
}

func TestComputeAge(t *testing.T) {
	today := models.Date{Year: 2025, Month: time.June, Day: 15}
	tests := []struct {
		dob  models.Date
		want int
	}{
		{models.Date{Year: 1985, Month: time.March, Day: 15}, 40},
		{models.Date{Year: 1985, Month: time.June, Day: 15}, 40},
		{models.Date{Year: 1985, Month: time.June, Day: 16}, 39},
		{models.Date{Year: 1985, Month: time.December, Day: 1}, 39},
		{models.Date{Year: 2010, Month: time.June, Day: 14}, 15},
		{models.Date{Year: 2025, Month: time.June, Day: 15}, 0},
	}
	for _, tt := range tests {
		if got := ComputeAge(tt.dob, today); got != tt.want {
			t.Errorf("ComputeAge(%s) = %d, want %d", tt.dob, got, tt.want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	c := newTestController()
	snap := c.Snapshot(inProgress(t, c))
	if strings.Join(snap.StepLabels, ",") != "Basics,Symptoms,Medications,Confirm" {
		t.Errorf("unexpected step labels %v", snap.StepLabels)
	}
	if snap.Guardian != nil {
		t.Error("guardian notice should only be present when blocked")
	}

	blocked, _ := c.SubmitDateOfBirth(awaitingDOB(t, c), yearsAgo(10))
	snap = c.Snapshot(blocked)
	if snap.Guardian == nil || snap.Guardian.Title != "A parent or legal guardian is required" {
		t.Fatalf("expected guardian notice, got %+v", snap.Guardian)
	}
	if !strings.Contains(snap.Guardian.Body, "under 15") {
		t.Errorf("guardian body = %q", snap.Guardian.Body)
	}
}
