package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestDateCompareAndFormat(t *testing.T) {
	d := Date{Year: 1985, Month: time.March, Day: 15}
	if d.String() != "1985-03-15" {
		t.Errorf("String() = %q", d.String())
	}
	if d.LongForm() != "March 15, 1985" {
		t.Errorf("LongForm() = %q", d.LongForm())
	}

	later := Date{Year: 1985, Month: time.March, Day: 16}
	if !d.Before(later) || d.After(later) || !later.After(d) {
		t.Error("day ordering is wrong")
	}
	if d.Before(d) || d.After(d) {
		t.Error("a date is neither before nor after itself")
	}
	if !(Date{}).IsZero() || d.IsZero() {
		t.Error("IsZero is wrong")
	}
}

func TestDateJSON(t *testing.T) {
	d := Date{Year: 2001, Month: time.December, Day: 3}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"2001-12-03"` {
		t.Errorf("Marshal = %s", data)
	}
	var back Date
	if err := json.Unmarshal(data, &back); err != nil || back != d {
		t.Errorf("Unmarshal = %v, %v", back, err)
	}
	if err := json.Unmarshal([]byte(`"12/03/2001"`), &back); err == nil {
		t.Error("expected error for non-canonical date")
	}
}

func TestValidationErrorPatientMessage(t *testing.T) {
	tests := []struct {
		field, reason, want string
	}{
		{"date_of_birth", ReasonMissing, "Please enter your date of birth"},
		{"date_of_birth", ReasonUnparseable, "Please enter DOB in MM/DD/YYYY"},
		{"date_of_birth", ReasonFuture, "Date of birth cannot be in the future"},
		{"name", ReasonEmpty, "Please tell us your full name"},
		{"answer", ReasonEmpty, "Please enter a response"},
	}
	for _, tt := range tests {
		ve := &ValidationError{Field: tt.field, Reason: tt.reason}
		if got := ve.PatientMessage(); got != tt.want {
			t.Errorf("%s/%s: PatientMessage() = %q, want %q", tt.field, tt.reason, got, tt.want)
		}
	}
}

func TestErrorHelpersUnwrap(t *testing.T) {
	ve := fmt.Errorf("submit: %w", &ValidationError{Field: "name", Reason: ReasonEmpty})
	se := fmt.Errorf("submit: %w", &StateError{Op: "submit answer", State: FlowStateBlocked})

	if !IsValidationError(ve) || IsValidationError(se) {
		t.Error("IsValidationError mismatch")
	}
	if !IsStateError(se) || IsStateError(ve) {
		t.Error("IsStateError mismatch")
	}
	if !strings.Contains(se.Error(), "cannot submit answer while session is blocked") {
		t.Errorf("StateError message = %q", se.Error())
	}
}

func TestIntakeSessionResetAndClone(t *testing.T) {
	dob := Date{Year: 1990, Month: time.January, Day: 2}
	age := 35
	s := IntakeSession{
		ID:               "s1",
		Channel:          ChannelVoice,
		CollectedName:    "Jane Doe",
		DateOfBirth:      &dob,
		ComputedAge:      &age,
		CurrentStepIndex: 2,
		FlowState:        FlowStateInProgress,
		Messages:         []ConversationMessage{{Sender: SenderAssistant, Text: "hi"}},
		Answers:          []StepAnswer{{Step: 1, Label: "Reason for visit", Text: "cough"}},
	}

	c := s.Clone()
	c.Messages[0].Text = "changed"
	c.Answers[0].Text = "changed"
	*c.DateOfBirth = Date{}
	if s.Messages[0].Text != "hi" || s.Answers[0].Text != "cough" || s.DateOfBirth.IsZero() {
		t.Error("Clone shares state with the original")
	}

	s.Reset()
	if s.ID != "s1" || s.Channel != ChannelVoice {
		t.Error("Reset must keep the envelope")
	}
	if s.CollectedName != "" || s.DateOfBirth != nil || s.ComputedAge != nil || s.CurrentStepIndex != 0 ||
		s.FlowState != FlowStateAwaitingName || len(s.Messages) != 0 || s.Answers != nil {
		t.Errorf("Reset left flow fields set: %+v", s)
	}
}

func TestIntakeSessionHelpers(t *testing.T) {
	s := IntakeSession{CollectedName: "Jane Q Doe", Answers: []StepAnswer{{Step: 2, Text: "none"}}}
	if s.FirstName() != "Jane" {
		t.Errorf("FirstName() = %q", s.FirstName())
	}
	if got, ok := s.Answer(2); !ok || got != "none" {
		t.Errorf("Answer(2) = %q, %v", got, ok)
	}
	if _, ok := s.Answer(1); ok {
		t.Error("Answer(1) should be missing")
	}
	if (IntakeSession{CollectedName: "Cher"}).FirstName() != "Cher" {
		t.Error("single-word name should be its own first name")
	}
}

func TestStartSessionRequestValidate(t *testing.T) {
	r := StartSessionRequest{}
	if err := r.Validate(); err != nil || r.Channel != ChannelText {
		t.Errorf("empty channel should default to text, got %q, %v", r.Channel, err)
	}
	r = StartSessionRequest{Channel: "fax"}
	if err := r.Validate(); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestReviewUpdateRequestValidate(t *testing.T) {
	notes := "call back"
	long := strings.Repeat("x", MaxNotesLength+1)
	tests := []struct {
		name string
		req  ReviewUpdateRequest
		want error
	}{
		{"empty", ReviewUpdateRequest{}, ErrEmptyReviewUpdate},
		{"notes only", ReviewUpdateRequest{Notes: &notes}, nil},
		{"notes too long", ReviewUpdateRequest{Notes: &long}, ErrNotesTooLong},
		{"field too long", ReviewUpdateRequest{Fields: map[string]string{"Current medications": strings.Repeat("x", MaxFreeTextLength+1)}}, ErrFreeTextTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.want == nil && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	for _, label := range []string{"", " "} {
		err := (ReviewUpdateRequest{Fields: map[string]string{label: "x"}}).Validate()
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "fields" || ve.Reason != ReasonEmpty {
			t.Errorf("label %q: expected fields/empty ValidationError, got %v", label, err)
		}
	}
}

func TestConfidenceLower(t *testing.T) {
	if ConfidenceHigh.Lower() != ConfidenceMedium || ConfidenceMedium.Lower() != ConfidenceLow || ConfidenceLow.Lower() != ConfidenceLow {
		t.Error("Lower() steps are wrong")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := SuccessWithMessage("done", 1)
	if ok.Status != string(APIStatusOK) || ok.Message != "done" || ok.Result != 1 {
		t.Errorf("SuccessWithMessage = %+v", ok)
	}
	bad := ErrorWithResult("nope", "snapshot")
	if bad.Status != string(APIStatusError) || bad.Result != "snapshot" {
		t.Errorf("ErrorWithResult = %+v", bad)
	}
}
