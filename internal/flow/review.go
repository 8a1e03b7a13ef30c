package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/IntakeFlow/internal/models"
	"github.com/BTreeMap/IntakeFlow/internal/store"
	"github.com/BTreeMap/IntakeFlow/internal/util"
)

// ReviewFilterAll lists live sessions and reviews of every status.
const ReviewFilterAll = "all"

// referenceAttempts bounds the search for an unused intake reference.
const referenceAttempts = 10

// ReasonUnknownField is reported when staff edit a field the review does not have.
const ReasonUnknownField = "unknown"

// Summarizer produces the staff-facing summary of a completed intake.
type Summarizer interface {
	Summarize(ctx context.Context, review models.IntakeReview) (summary string, keyPoints []string, err error)
}

// ReviewService turns completed sessions into reviews and serves the staff dashboard.
type ReviewService struct {
	store      store.Store
	ctrl       *Controller
	summarizer Summarizer
	newRef     func() string

	mu sync.Mutex // serialises staff edits
}

// NewReviewService creates a ReviewService. summarizer may be nil.
func NewReviewService(st store.Store, ctrl *Controller, summarizer Summarizer) *ReviewService {
	slog.Debug("Creating ReviewService", "summarizer_set", summarizer != nil)
	return &ReviewService{
		store:      st,
		ctrl:       ctrl,
		summarizer: summarizer,
		newRef:     util.GenerateIntakeReference,
	}
}

// CreateFromSession builds and stores the review for a completed session.
// It is registered as a SessionManager completion hook.
func (rs *ReviewService) CreateFromSession(ctx context.Context, s models.IntakeSession) error {
	if s.FlowState != models.FlowStateCompleted {
		return &models.StateError{Op: "create review", State: s.FlowState}
	}
	existing, err := rs.store.GetReview(s.ID)
	if err != nil {
		return fmt.Errorf("failed to check review for session %s: %w", s.ID, err)
	}
	if existing != nil {
		slog.Error("ReviewService.CreateFromSession: review already exists", "sessionID", s.ID, "reference", existing.Reference)
		return fmt.Errorf("%w: %s", models.ErrReviewExists, s.ID)
	}
	ref, err := rs.uniqueReference()
	if err != nil {
		return err
	}
	review := BuildReview(s, rs.ctrl.Script(), ref, rs.ctrl.Now())
	if rs.summarizer != nil {
		summary, keyPoints, err := rs.summarizer.Summarize(ctx, review)
		if err != nil {
			slog.Warn("ReviewService.CreateFromSession: summary unavailable", "error", err, "sessionID", s.ID)
		} else {
			review.Summary = summary
			review.KeyPoints = keyPoints
		}
	}
	if err := rs.store.SaveReview(review); err != nil {
		return fmt.Errorf("failed to save review for session %s: %w", s.ID, err)
	}
	slog.Info("ReviewService.CreateFromSession: review created", "sessionID", s.ID, "reference", review.Reference)
	return nil
}

func (rs *ReviewService) uniqueReference() (string, error) {
	reviews, err := rs.store.ListReviews()
	if err != nil {
		return "", fmt.Errorf("failed to list reviews: %w", err)
	}
	used := make(map[string]bool, len(reviews))
	for _, r := range reviews {
		used[r.Reference] = true
	}
	for i := 0; i < referenceAttempts; i++ {
		if ref := rs.newRef(); !used[ref] {
			return ref, nil
		}
	}
	return "", fmt.Errorf("no unused intake reference after %d attempts", referenceAttempts)
}

// BuildReview creates the review record for a completed session.
func BuildReview(s models.IntakeSession, script PromptScript, reference string, now time.Time) models.IntakeReview {
	review := models.IntakeReview{
		SessionID:   s.ID,
		Reference:   reference,
		PatientName: s.CollectedName,
		Channel:     s.Channel,
		Status:      models.ReviewStatusNeedsReview,
		Transcript:  append([]models.ConversationMessage(nil), s.Messages...),
		StartedAt:   s.CreatedAt,
		CompletedAt: now,
		UpdatedAt:   now,
	}
	if s.CompletedAt != nil {
		review.CompletedAt = *s.CompletedAt
	}
	if s.DateOfBirth != nil {
		review.DateOfBirth = s.DateOfBirth.String()
	}
	if s.ComputedAge != nil {
		review.Age = *s.ComputedAge
	}
	if reason, ok := s.Answer(ReasonStep); ok {
		review.Reason = reason
	}

	review.Fields = []models.ReviewField{
		{Label: models.FieldPatientName, Value: s.CollectedName, Confidence: models.ConfidenceHigh},
		{Label: models.FieldDateOfBirth, Value: dateValue(s.DateOfBirth), Confidence: models.ConfidenceHigh},
		{Label: models.FieldAge, Value: strconv.Itoa(review.Age), Confidence: models.ConfidenceHigh},
	}
	for _, a := range s.Answers {
		label := a.Label
		if label == "" {
			label = script.FieldLabel(a.Step)
		}
		review.Fields = append(review.Fields, models.ReviewField{
			Label:      label,
			Value:      a.Text,
			Confidence: answerConfidence(a.Text, s.Channel),
		})
	}
	return review
}

// answerConfidence grades a free-text answer. One-word answers are low;
// voice transcriptions drop one level.
func answerConfidence(text string, channel models.Channel) models.Confidence {
	c := models.ConfidenceMedium
	if len(strings.Fields(text)) < 2 {
		c = models.ConfidenceLow
	}
	if channel == models.ChannelVoice {
		c = c.Lower()
	}
	return c
}

func dateValue(d *models.Date) string {
	if d == nil {
		return ""
	}
	return d.LongForm()
}

// List returns dashboard rows matching the filter: "all" (or empty), a review
// status, or "in-progress" for live sessions still collecting answers.
func (rs *ReviewService) List(ctx context.Context, filter string) ([]models.DashboardRow, error) {
	if filter == "" {
		filter = ReviewFilterAll
	}
	if filter != ReviewFilterAll && !models.IsValidReviewStatus(models.ReviewStatus(filter)) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidReviewStatus, filter)
	}
	status := models.ReviewStatus(filter)

	var rows []models.DashboardRow
	if filter == ReviewFilterAll || status == models.ReviewStatusInProgress {
		live, err := rs.liveRows()
		if err != nil {
			return nil, err
		}
		rows = append(rows, live...)
	}
	if status != models.ReviewStatusInProgress {
		reviews, err := rs.store.ListReviews()
		if err != nil {
			return nil, fmt.Errorf("failed to list reviews: %w", err)
		}
		for _, r := range reviews {
			if filter != ReviewFilterAll && r.Status != status {
				continue
			}
			rows = append(rows, models.DashboardRow{
				ID:        r.SessionID,
				Reference: r.Reference,
				Patient:   r.PatientName,
				Channel:   r.Channel,
				Created:   r.StartedAt,
				Status:    r.Status,
				Reason:    r.Reason,
			})
		}
	}
	slog.Debug("ReviewService.List", "filter", filter, "count", len(rows))
	return rows, nil
}

func (rs *ReviewService) liveRows() ([]models.DashboardRow, error) {
	sessions, err := rs.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var rows []models.DashboardRow
	for _, s := range sessions {
		if s.FlowState != models.FlowStateInProgress {
			continue
		}
		reason, _ := s.Answer(ReasonStep)
		rows = append(rows, models.DashboardRow{
			ID:      s.ID,
			Patient: s.CollectedName,
			Channel: s.Channel,
			Created: s.CreatedAt,
			Status:  models.ReviewStatusInProgress,
			Reason:  reason,
		})
	}
	return rows, nil
}

// Stats returns the dashboard summary tiles.
func (rs *ReviewService) Stats(ctx context.Context) (models.DashboardStats, error) {
	var stats models.DashboardStats
	live, err := rs.liveRows()
	if err != nil {
		return stats, err
	}
	reviews, err := rs.store.ListReviews()
	if err != nil {
		return stats, fmt.Errorf("failed to list reviews: %w", err)
	}

	today := models.DateOf(rs.ctrl.Now())
	var total time.Duration
	for _, r := range reviews {
		switch r.Status {
		case models.ReviewStatusNeedsReview:
			stats.NeedsReview++
		case models.ReviewStatusMissingInfo:
			stats.MissingInfo++
		case models.ReviewStatusApproved:
			if r.ApprovedAt != nil && models.DateOf(r.ApprovedAt.In(rs.ctrl.Now().Location())) == today {
				stats.ApprovedToday++
			}
		}
		total += r.CompletedAt.Sub(r.StartedAt)
	}
	stats.InProgress = len(live)
	stats.TotalIntakes = len(reviews) + len(live)
	if len(reviews) > 0 {
		stats.AvgCompletionMinutes = total.Minutes() / float64(len(reviews))
	}
	return stats, nil
}

// Get returns the review for a session.
func (rs *ReviewService) Get(ctx context.Context, sessionID string) (*models.IntakeReview, error) {
	r, err := rs.store.GetReview(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load review %s: %w", sessionID, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrReviewNotFound, sessionID)
	}
	return r, nil
}

// Update applies staff edits to field values and notes.
func (rs *ReviewService) Update(ctx context.Context, sessionID string, req models.ReviewUpdateRequest) (*models.IntakeReview, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return rs.mutate(ctx, sessionID, "Update", func(r *models.IntakeReview) error {
		for label, value := range req.Fields {
			idx := fieldIndex(r.Fields, label)
			if idx < 0 {
				return &models.ValidationError{Field: label, Reason: ReasonUnknownField}
			}
			r.Fields[idx].Value = value
			r.Fields[idx].Edited = true
			switch label {
			case models.FieldPatientName:
				r.PatientName = value
			case rs.ctrl.Script().FieldLabel(ReasonStep):
				r.Reason = value
			}
		}
		if req.Notes != nil {
			r.Notes = *req.Notes
		}
		return nil
	})
}

// Approve marks the review approved.
func (rs *ReviewService) Approve(ctx context.Context, sessionID string) (*models.IntakeReview, error) {
	return rs.mutate(ctx, sessionID, "Approve", func(r *models.IntakeReview) error {
		if r.Status != models.ReviewStatusApproved {
			now := rs.ctrl.Now()
			r.Status = models.ReviewStatusApproved
			r.ApprovedAt = &now
		}
		return nil
	})
}

// MarkMissingInfo flags the review as needing more information from the patient.
func (rs *ReviewService) MarkMissingInfo(ctx context.Context, sessionID string) (*models.IntakeReview, error) {
	return rs.mutate(ctx, sessionID, "MarkMissingInfo", func(r *models.IntakeReview) error {
		r.Status = models.ReviewStatusMissingInfo
		r.ApprovedAt = nil
		return nil
	})
}

func (rs *ReviewService) mutate(ctx context.Context, sessionID, op string, fn func(*models.IntakeReview) error) (*models.IntakeReview, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, err := rs.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	r.UpdatedAt = rs.ctrl.Now()
	if err := rs.store.SaveReview(*r); err != nil {
		slog.Error("ReviewService."+op+": save failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to save review %s: %w", sessionID, err)
	}
	slog.Debug("ReviewService."+op+" succeeded", "sessionID", sessionID, "status", r.Status)
	return r, nil
}

func fieldIndex(fields []models.ReviewField, label string) int {
	for i, f := range fields {
		if f.Label == label {
			return i
		}
	}
	return -1
}
