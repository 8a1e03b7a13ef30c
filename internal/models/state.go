package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the canonical wire format for calendar dates.
const DateLayout = "2006-01-02"

// TimestampLayout is the display format for conversation message timestamps.
const TimestampLayout = "3:04 PM"

// Date is a calendar date without a time of day or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// String returns the date in YYYY-MM-DD form.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// LongForm returns the date as a patient would say it, e.g. "March 15, 1985".
func (d Date) LongForm() string {
	return fmt.Sprintf("%s %d, %d", d.Month, d.Day, d.Year)
}

// Before reports whether d falls strictly before o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// After reports whether d falls strictly after o.
func (d Date) After(o Date) bool {
	return o.Before(d)
}

// IsZero reports whether d is the zero date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// MarshalJSON encodes the date as a YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// ConversationMessage is one entry of a session transcript. Messages are
// only ever appended, never edited.
type ConversationMessage struct {
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// StepAnswer is the patient's free-text answer to one scripted step.
type StepAnswer struct {
	Step  int    `json:"step"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// IntakeSession is the state of one patient's intake. The controller owns the
// flow fields; the envelope fields (ID, Channel, Contact, timestamps) are set
// by the session manager.
type IntakeSession struct {
	ID               string                `json:"id"`
	Channel          Channel               `json:"channel"`
	Contact          string                `json:"contact,omitempty"`
	CollectedName    string                `json:"collected_name,omitempty"`
	DateOfBirth      *Date                 `json:"date_of_birth,omitempty"`
	ComputedAge      *int                  `json:"computed_age,omitempty"`
	CurrentStepIndex int                   `json:"current_step_index"`
	FlowState        FlowState             `json:"flow_state"`
	Messages         []ConversationMessage `json:"messages"`
	Answers          []StepAnswer          `json:"answers,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}

// Reset returns the flow fields to their initial values, keeping the envelope.
func (s *IntakeSession) Reset() {
	s.CollectedName = ""
	s.DateOfBirth = nil
	s.ComputedAge = nil
	s.CurrentStepIndex = 0
	s.FlowState = FlowStateAwaitingName
	s.Messages = []ConversationMessage{}
	s.Answers = nil
	s.CompletedAt = nil
}

// Clone returns a deep copy so snapshots handed to callers never alias stored state.
func (s IntakeSession) Clone() IntakeSession {
	out := s
	if s.DateOfBirth != nil {
		dob := *s.DateOfBirth
		out.DateOfBirth = &dob
	}
	if s.ComputedAge != nil {
		age := *s.ComputedAge
		out.ComputedAge = &age
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		out.CompletedAt = &at
	}
	out.Messages = make([]ConversationMessage, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.Answers != nil {
		out.Answers = make([]StepAnswer, len(s.Answers))
		copy(out.Answers, s.Answers)
	}
	return out
}

// Answer returns the recorded answer for a step, if any.
func (s IntakeSession) Answer(step int) (string, bool) {
	for _, a := range s.Answers {
		if a.Step == step {
			return a.Text, true
		}
	}
	return "", false
}

// FirstName returns the first word of the collected name.
func (s IntakeSession) FirstName() string {
	for i, r := range s.CollectedName {
		if r == ' ' {
			return s.CollectedName[:i]
		}
	}
	return s.CollectedName
}
