package models

// FlowState represents the current phase of the intake state machine for one session.
type FlowState string

// Flow state constants.
const (
	FlowStateAwaitingName FlowState = "awaiting_name"
	FlowStateAwaitingDOB  FlowState = "awaiting_dob"
	FlowStateBlocked      FlowState = "blocked"     // age gate tripped; guardian required
	FlowStateInProgress   FlowState = "in_progress" // age verified, collecting answers
	FlowStateCompleted    FlowState = "completed"
)

// IsTerminal reports whether no further data-collection transitions are allowed.
func (s FlowState) IsTerminal() bool {
	return s == FlowStateBlocked || s == FlowStateCompleted
}

// IsValidFlowState checks if the given flow state is known.
func IsValidFlowState(s FlowState) bool {
	switch s {
	case FlowStateAwaitingName, FlowStateAwaitingDOB, FlowStateBlocked, FlowStateInProgress, FlowStateCompleted:
		return true
	default:
		return false
	}
}

// Channel identifies how the patient is doing the intake.
type Channel string

// Channel constants.
const (
	ChannelVoice Channel = "voice"
	ChannelText  Channel = "text"
)

// IsValidChannel checks if the given channel is supported.
func IsValidChannel(c Channel) bool {
	return c == ChannelVoice || c == ChannelText
}

// Sender identifies the author of a conversation message.
type Sender string

// Sender constants.
const (
	SenderAssistant Sender = "assistant"
	SenderPatient   Sender = "patient"
)

// ReviewStatus is the staff-facing status of an intake on the dashboard.
type ReviewStatus string

// Review status constants.
const (
	ReviewStatusNeedsReview ReviewStatus = "needs-review"
	ReviewStatusApproved    ReviewStatus = "approved"
	ReviewStatusMissingInfo ReviewStatus = "missing-info"
	// ReviewStatusInProgress is only reported for live sessions; it is never stored on a review.
	ReviewStatusInProgress ReviewStatus = "in-progress"
)

// IsValidReviewStatus checks if the given review status is known.
func IsValidReviewStatus(s ReviewStatus) bool {
	switch s {
	case ReviewStatusNeedsReview, ReviewStatusApproved, ReviewStatusMissingInfo, ReviewStatusInProgress:
		return true
	default:
		return false
	}
}

// Confidence grades how much staff should trust a captured review field.
type Confidence string

// Confidence constants.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Lower returns the next lower confidence level, bottoming out at low.
func (c Confidence) Lower() Confidence {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
