// Package models defines the core data structures for IntakeFlow.
//
// It includes the intake session and transcript types, staff review records,
// messaging receipts, and the JSON envelope shared by all API responses.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxFreeTextLength defines the maximum allowed length for a patient answer
	MaxFreeTextLength = 4096
	// MaxNotesLength defines the maximum allowed length for staff review notes
	MaxNotesLength = 8192
)

// Error variables for request validation
var (
	ErrInvalidChannel      = errors.New("channel must be either voice or text")
	ErrFreeTextTooLong     = errors.New("text exceeds maximum length")
	ErrNotesTooLong        = errors.New("notes exceed maximum length")
	ErrEmptyReviewUpdate   = errors.New("review update must change at least one field or the notes")
	ErrInvalidReviewStatus = errors.New("invalid review status")
)

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records the delivery status of a message sent over a messaging channel.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response is an inbound message from a patient on a messaging channel.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// StartSessionRequest is the payload for POST /intake/sessions.
type StartSessionRequest struct {
	Channel Channel `json:"channel"`
}

// Validate validates a StartSessionRequest. An empty channel defaults to text.
func (r *StartSessionRequest) Validate() error {
	if r.Channel == "" {
		r.Channel = ChannelText
	}
	if !IsValidChannel(r.Channel) {
		return ErrInvalidChannel
	}
	return nil
}

// TextRequest carries a patient's free-text input (name or answer).
type TextRequest struct {
	Text string `json:"text"`
}

// Validate only enforces the length bound; emptiness is the controller's call.
func (r TextRequest) Validate() error {
	if len(r.Text) > MaxFreeTextLength {
		return ErrFreeTextTooLong
	}
	return nil
}

// DateOfBirthRequest carries the raw date-of-birth form value.
type DateOfBirthRequest struct {
	DateOfBirth string `json:"date_of_birth"`
}

// ReviewUpdateRequest is the payload for PATCH /staff/intakes/{id}.
// Fields maps a review field label to its corrected value.
type ReviewUpdateRequest struct {
	Fields map[string]string `json:"fields,omitempty"`
	Notes  *string           `json:"notes,omitempty"`
}

// Validate validates a ReviewUpdateRequest.
func (r ReviewUpdateRequest) Validate() error {
	if len(r.Fields) == 0 && r.Notes == nil {
		return ErrEmptyReviewUpdate
	}
	if r.Notes != nil && len(*r.Notes) > MaxNotesLength {
		return ErrNotesTooLong
	}
	for label, value := range r.Fields {
		if strings.TrimSpace(label) == "" {
			return &ValidationError{Field: "fields", Reason: ReasonEmpty}
		}
		if len(value) > MaxFreeTextLength {
			return ErrFreeTextTooLong
		}
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// ErrorWithResult creates an error API response that still carries data,
// e.g. the unchanged session snapshot after a rejected input.
func ErrorWithResult(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		WithResult(result).
		Build()
}
