package models

import "time"

// Review field labels.
const (
	FieldPatientName = "Patient name"
	FieldDateOfBirth = "Date of birth"
	FieldAge         = "Age"
)

// ReviewField is one captured value on the staff review screen.
type ReviewField struct {
	Label      string     `json:"label"`
	Value      string     `json:"value"`
	Confidence Confidence `json:"confidence"`
	Edited     bool       `json:"edited,omitempty"`
}

// IntakeReview is the staff-facing record created when an intake completes.
type IntakeReview struct {
	SessionID   string                `json:"session_id"`
	Reference   string                `json:"reference"`
	PatientName string                `json:"patient_name"`
	DateOfBirth string                `json:"date_of_birth"`
	Age         int                   `json:"age"`
	Channel     Channel               `json:"channel"`
	Reason      string                `json:"reason,omitempty"`
	Status      ReviewStatus          `json:"status"`
	Fields      []ReviewField         `json:"fields"`
	Summary     string                `json:"summary,omitempty"`
	KeyPoints   []string              `json:"key_points,omitempty"`
	Notes       string                `json:"notes,omitempty"`
	Transcript  []ConversationMessage `json:"transcript"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	ApprovedAt  *time.Time            `json:"approved_at,omitempty"`
}

// DashboardRow is one line of the staff dashboard table.
type DashboardRow struct {
	ID        string       `json:"id"`
	Reference string       `json:"reference,omitempty"`
	Patient   string       `json:"patient"`
	Channel   Channel      `json:"channel"`
	Created   time.Time    `json:"created"`
	Status    ReviewStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
}

// DashboardStats are the summary tiles above the dashboard table.
type DashboardStats struct {
	TotalIntakes         int     `json:"total_intakes"`
	NeedsReview          int     `json:"needs_review"`
	MissingInfo          int     `json:"missing_info"`
	InProgress           int     `json:"in_progress"`
	AvgCompletionMinutes float64 `json:"avg_completion_minutes"`
	ApprovedToday        int     `json:"approved_today"`
}
