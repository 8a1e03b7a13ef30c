package models

import (
	"errors"
	"fmt"
)

// Validation failure reasons.
const (
	ReasonMissing     = "missing"
	ReasonUnparseable = "unparseable"
	ReasonFuture      = "future"
	ReasonEmpty       = "empty"
)

// Sentinel errors for lookups.
var (
	ErrSessionNotFound = errors.New("intake session not found")
	ErrReviewNotFound  = errors.New("intake review not found")
	ErrReviewExists    = errors.New("intake review already exists")
)

// ValidationError reports malformed or missing patient input. The caller
// re-prompts the same step; the session is unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PatientMessage is the inline message shown next to the rejected input.
func (e *ValidationError) PatientMessage() string {
	switch {
	case e.Field == "date_of_birth" && e.Reason == ReasonMissing:
		return "Please enter your date of birth"
	case e.Field == "date_of_birth" && e.Reason == ReasonUnparseable:
		return "Please enter DOB in MM/DD/YYYY"
	case e.Field == "date_of_birth" && e.Reason == ReasonFuture:
		return "Date of birth cannot be in the future"
	case e.Field == "name":
		return "Please tell us your full name"
	default:
		return "Please enter a response"
	}
}

// StateError reports an operation invoked while the session is in an
// incompatible flow state, e.g. answering while blocked.
type StateError struct {
	Op    string
	State FlowState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s while session is %s", e.Op, e.State)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStateError reports whether err is or wraps a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
