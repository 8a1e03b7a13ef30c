package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakeFlow/internal/models"
)

// maxKeyPoints caps the bullet list shown on the review screen.
const maxKeyPoints = 5

const summarySystemPrompt = `You summarize patient intake conversations for clinic staff.
Reply with a JSON object: {"summary": "<two sentences>", "key_points": ["<short point>", ...]}.
Use only facts the patient stated. Do not diagnose. At most 5 key points.`

// generator is the part of Client used by Summarizer.
type generator interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Summarizer writes the staff-facing summary of a completed intake. Without a
// client, or when the model reply cannot be used, it falls back to a summary
// assembled from the captured fields.
type Summarizer struct {
	gen generator
}

// NewSummarizer creates a Summarizer. client may be nil.
func NewSummarizer(client *Client) *Summarizer {
	if client == nil {
		return &Summarizer{}
	}
	return &Summarizer{gen: client}
}

type summaryReply struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// Summarize returns a summary and key points for the review.
func (s *Summarizer) Summarize(ctx context.Context, review models.IntakeReview) (string, []string, error) {
	if s.gen == nil {
		summary, points := FallbackSummary(review)
		return summary, points, nil
	}
	out, err := s.gen.GeneratePrompt(ctx, summarySystemPrompt, transcriptPrompt(review))
	if err != nil {
		slog.Warn("Summarizer.Summarize: model call failed, using fallback", "error", err, "sessionID", review.SessionID)
		summary, points := FallbackSummary(review)
		return summary, points, nil
	}
	reply, err := parseSummaryReply(out)
	if err != nil {
		slog.Warn("Summarizer.Summarize: unusable model reply, using fallback", "error", err, "sessionID", review.SessionID)
		summary, points := FallbackSummary(review)
		return summary, points, nil
	}
	return reply.Summary, reply.KeyPoints, nil
}

func transcriptPrompt(review models.IntakeReview) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n", review.Channel)
	b.WriteString("Transcript:\n")
	for _, m := range review.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Text)
	}
	return b.String()
}

func parseSummaryReply(out string) (summaryReply, error) {
	text := strings.TrimSpace(out)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var reply summaryReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &reply); err != nil {
		return summaryReply{}, fmt.Errorf("decode summary: %w", err)
	}
	if strings.TrimSpace(reply.Summary) == "" {
		return summaryReply{}, fmt.Errorf("summary is empty")
	}
	if len(reply.KeyPoints) > maxKeyPoints {
		reply.KeyPoints = reply.KeyPoints[:maxKeyPoints]
	}
	return reply, nil
}

// FallbackSummary builds a summary from the review fields alone.
func FallbackSummary(review models.IntakeReview) (string, []string) {
	summary := fmt.Sprintf("%s, age %d, completed a %s intake.", review.PatientName, review.Age, review.Channel)
	if review.Reason != "" {
		summary += " Reason for visit: " + review.Reason + "."
	}
	var points []string
	for _, f := range review.Fields {
		switch f.Label {
		case models.FieldPatientName, models.FieldDateOfBirth, models.FieldAge:
			continue
		}
		if f.Value == "" {
			continue
		}
		points = append(points, f.Label+": "+f.Value)
		if len(points) == maxKeyPoints {
			break
		}
	}
	return summary, points
}
