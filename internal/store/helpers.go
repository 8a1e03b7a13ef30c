package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/IntakeFlow/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableDate returns the YYYY-MM-DD form of d, or nil.
func nullableDate(d *models.Date) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

// nullableInt returns *v, or nil.
func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// nullableTime returns *t, or nil.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// encodeJSON marshals v for a TEXT/JSONB column. Empty slices are stored as NULL.
func encodeJSON(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" || string(data) == "[]" {
		return nil, nil
	}
	return string(data), nil
}

// sessionRow holds the nullable columns of a sessions row while scanning.
type sessionRow struct {
	contact     sql.NullString
	name        sql.NullString
	dob         sql.NullString
	age         sql.NullInt64
	answers     sql.NullString
	completedAt sql.NullTime
}

// apply copies the scanned nullable columns onto s.
func (r sessionRow) apply(s *models.IntakeSession) error {
	s.Contact = r.contact.String
	s.CollectedName = r.name.String
	if r.dob.Valid && r.dob.String != "" {
		d, err := models.ParseDate(r.dob.String)
		if err != nil {
			return fmt.Errorf("invalid stored date of birth %q: %w", r.dob.String, err)
		}
		s.DateOfBirth = &d
	}
	if r.age.Valid {
		age := int(r.age.Int64)
		s.ComputedAge = &age
	}
	if r.answers.Valid && r.answers.String != "" {
		if err := json.Unmarshal([]byte(r.answers.String), &s.Answers); err != nil {
			return fmt.Errorf("invalid stored answers: %w", err)
		}
	}
	if r.completedAt.Valid {
		at := r.completedAt.Time
		s.CompletedAt = &at
	}
	s.Messages = []models.ConversationMessage{}
	return nil
}

// reviewRow holds the JSON and nullable columns of a reviews row while scanning.
type reviewRow struct {
	fields     sql.NullString
	keyPoints  sql.NullString
	transcript sql.NullString
	approvedAt sql.NullTime
}

// apply decodes the scanned JSON columns onto r.
func (row reviewRow) apply(r *models.IntakeReview) error {
	if row.fields.Valid && row.fields.String != "" {
		if err := json.Unmarshal([]byte(row.fields.String), &r.Fields); err != nil {
			return fmt.Errorf("invalid stored review fields: %w", err)
		}
	}
	if row.keyPoints.Valid && row.keyPoints.String != "" {
		if err := json.Unmarshal([]byte(row.keyPoints.String), &r.KeyPoints); err != nil {
			return fmt.Errorf("invalid stored key points: %w", err)
		}
	}
	if row.transcript.Valid && row.transcript.String != "" {
		if err := json.Unmarshal([]byte(row.transcript.String), &r.Transcript); err != nil {
			return fmt.Errorf("invalid stored transcript: %w", err)
		}
	}
	if row.approvedAt.Valid {
		at := row.approvedAt.Time
		r.ApprovedAt = &at
	}
	return nil
}

// reviewJSONColumns encodes the JSON-valued review columns.
func reviewJSONColumns(r models.IntakeReview) (fields, keyPoints, transcript interface{}, err error) {
	if fields, err = encodeJSON(r.Fields); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode review fields: %w", err)
	}
	if keyPoints, err = encodeJSON(r.KeyPoints); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode key points: %w", err)
	}
	if transcript, err = encodeJSON(r.Transcript); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode transcript: %w", err)
	}
	return fields, keyPoints, transcript, nil
}

// validateSession rejects sessions that cannot be stored.
func validateSession(s models.IntakeSession) error {
	if s.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if !models.IsValidFlowState(s.FlowState) {
		return fmt.Errorf("session %s has unknown flow state %q", s.ID, s.FlowState)
	}
	return nil
}
