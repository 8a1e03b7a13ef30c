// Package flow implements the intake state machine and the services that drive it.
package flow

import (
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakeFlow/internal/models"
)

// DefaultMinimumAge is the youngest age allowed to complete an intake alone.
const DefaultMinimumAge = 15

// dateOfBirthLayouts are tried in order; the first is the canonical form.
var dateOfBirthLayouts = []string{
	models.DateLayout,
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// Controller applies patient input to an intake session. It performs no IO:
// each operation takes a snapshot and returns the next snapshot. On error the
// input snapshot is returned unchanged.
type Controller struct {
	minimumAge int
	now        func() time.Time
	script     PromptScript
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithMinimumAge sets the age gate threshold.
func WithMinimumAge(age int) ControllerOption {
	return func(c *Controller) {
		c.minimumAge = age
	}
}

// WithClock sets the source of "today" and message timestamps.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		c.now = now
	}
}

// WithScript replaces the built-in prompt script.
func WithScript(script PromptScript) ControllerOption {
	return func(c *Controller) {
		c.script = script
	}
}

// NewController creates a Controller with the default threshold and script.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		minimumAge: DefaultMinimumAge,
		now:        time.Now,
		script:     DefaultScript(),
	}
	for _, opt := range opts {
		opt(c)
	}
	slog.Debug("Controller created", "minimumAge", c.minimumAge, "steps", len(c.script.Steps))
	return c
}

// MinimumAge returns the configured age gate threshold.
func (c *Controller) MinimumAge() int { return c.minimumAge }

// Script returns the prompt script in use.
func (c *Controller) Script() PromptScript { return c.script }

// Now returns the controller's current time.
func (c *Controller) Now() time.Time { return c.now() }

// FinalStep is the index of the last scripted step.
func (c *Controller) FinalStep() int { return len(c.script.Steps) - 1 }

// Greet appends the opening prompt to a fresh session. Any other session is
// returned as is.
func (c *Controller) Greet(s models.IntakeSession) models.IntakeSession {
	if s.FlowState != models.FlowStateAwaitingName || len(s.Messages) > 0 {
		return s
	}
	next := s.Clone()
	c.appendMessage(&next, models.SenderAssistant, c.script.Greeting)
	return next
}

// SubmitName records the patient's name and asks for their date of birth.
func (c *Controller) SubmitName(s models.IntakeSession, text string) (models.IntakeSession, error) {
	if s.FlowState != models.FlowStateAwaitingName {
		return s, &models.StateError{Op: "submit name", State: s.FlowState}
	}
	name := strings.Join(strings.Fields(text), " ")
	if name == "" {
		return s, &models.ValidationError{Field: "name", Reason: models.ReasonEmpty}
	}

	next := s.Clone()
	next.CollectedName = name
	next.FlowState = models.FlowStateAwaitingDOB
	c.appendMessage(&next, models.SenderPatient, name)
	c.appendMessage(&next, models.SenderAssistant, c.script.DateOfBirthPrompt(next.FirstName()))
	slog.Debug("Controller.SubmitName: name recorded", "sessionID", s.ID)
	return next, nil
}

// SubmitDateOfBirth validates the date of birth and applies the age gate.
func (c *Controller) SubmitDateOfBirth(s models.IntakeSession, raw string) (models.IntakeSession, error) {
	if s.FlowState != models.FlowStateAwaitingDOB {
		return s, &models.StateError{Op: "submit date of birth", State: s.FlowState}
	}
	today := models.DateOf(c.now())
	dob, err := ParseDateOfBirth(raw, today)
	if err != nil {
		return s, err
	}
	age := ComputeAge(dob, today)

	next := s.Clone()
	next.DateOfBirth = &dob
	next.ComputedAge = &age
	c.appendMessage(&next, models.SenderPatient, dob.LongForm())
	if age < c.minimumAge {
		next.FlowState = models.FlowStateBlocked
		slog.Info("Controller.SubmitDateOfBirth: session blocked by age gate", "sessionID", s.ID, "age", age, "minimumAge", c.minimumAge)
		return next, nil
	}
	next.FlowState = models.FlowStateInProgress
	next.CurrentStepIndex = 1
	c.appendMessage(&next, models.SenderAssistant, c.script.Steps[1].Prompt)
	slog.Debug("Controller.SubmitDateOfBirth: age verified", "sessionID", s.ID, "age", age)
	return next, nil
}

// SubmitAnswer records the answer for the current step and moves to the next
// one. The answer to the final step completes the intake.
func (c *Controller) SubmitAnswer(s models.IntakeSession, text string) (models.IntakeSession, error) {
	if s.FlowState != models.FlowStateInProgress {
		return s, &models.StateError{Op: "submit answer", State: s.FlowState}
	}
	answer := strings.TrimSpace(text)
	if answer == "" {
		return s, &models.ValidationError{Field: "answer", Reason: models.ReasonEmpty}
	}

	next := s.Clone()
	step := next.CurrentStepIndex
	next.Answers = append(next.Answers, models.StepAnswer{Step: step, Label: c.script.FieldLabel(step), Text: answer})
	c.appendMessage(&next, models.SenderPatient, answer)

	if step >= c.FinalStep() {
		now := c.now()
		next.FlowState = models.FlowStateCompleted
		next.CompletedAt = &now
		c.appendMessage(&next, models.SenderAssistant, c.script.Closing)
		slog.Info("Controller.SubmitAnswer: intake completed", "sessionID", s.ID)
		return next, nil
	}
	next.CurrentStepIndex = step + 1
	c.appendMessage(&next, models.SenderAssistant, c.script.Steps[next.CurrentStepIndex].Prompt)
	slog.Debug("Controller.SubmitAnswer: advanced", "sessionID", s.ID, "step", next.CurrentStepIndex)
	return next, nil
}

// StartOver returns the session to its initial state from any state.
func (c *Controller) StartOver(s models.IntakeSession) models.IntakeSession {
	next := s.Clone()
	next.Reset()
	slog.Debug("Controller.StartOver: session reset", "sessionID", s.ID, "from", s.FlowState)
	return next
}

func (c *Controller) appendMessage(s *models.IntakeSession, sender models.Sender, text string) {
	s.Messages = append(s.Messages, models.ConversationMessage{
		Sender:    sender,
		Text:      text,
		Timestamp: c.now().Format(models.TimestampLayout),
	})
}

// ParseDateOfBirth parses raw patient input as a calendar date no later than today.
func ParseDateOfBirth(raw string, today models.Date) (models.Date, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return models.Date{}, &models.ValidationError{Field: "date_of_birth", Reason: models.ReasonMissing}
	}
	for _, layout := range dateOfBirthLayouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		dob := models.DateOf(t)
		if dob.After(today) {
			return models.Date{}, &models.ValidationError{Field: "date_of_birth", Reason: models.ReasonFuture}
		}
		return dob, nil
	}
	return models.Date{}, &models.ValidationError{Field: "date_of_birth", Reason: models.ReasonUnparseable}
}

// ComputeAge returns the age in whole years on today.
func ComputeAge(dob, today models.Date) int {
	age := today.Year - dob.Year
	if today.Month < dob.Month || (today.Month == dob.Month && today.Day < dob.Day) {
		age--
	}
	return age
}

// Snapshot is the session as shown to the rendering layer.
type Snapshot struct {
	models.IntakeSession
	StepLabels []string        `json:"step_labels"`
	Guardian   *GuardianNotice `json:"guardian,omitempty"`
}

// Snapshot decorates a session with the stepper labels and, when blocked,
// the guardian notice.
func (c *Controller) Snapshot(s models.IntakeSession) Snapshot {
	snap := Snapshot{IntakeSession: s, StepLabels: c.script.StepLabels()}
	if s.FlowState == models.FlowStateBlocked {
		notice := c.script.GuardianFor(c.minimumAge)
		snap.Guardian = &notice
	}
	return snap
}
