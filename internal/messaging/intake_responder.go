package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/IntakeFlow/internal/flow"
	"github.com/BTreeMap/IntakeFlow/internal/models"
	"github.com/BTreeMap/IntakeFlow/internal/store"
)

// StartOverKeyword restarts the intake when sent as a whole message.
const StartOverKeyword = "start over"

// IntakeSessions is the part of the session manager the responder drives.
type IntakeSessions interface {
	flow.SessionManager
	OnAssistantMessages(hook flow.MessageHook)
	Controller() *flow.Controller
}

// IntakeResponder runs text intakes over one messaging Service. Each sender
// gets a session keyed by "<name>:<number>", so several services can share
// one session manager.
type IntakeResponder struct {
	name     string
	svc      Service
	sessions IntakeSessions
	store    store.Store

	wg sync.WaitGroup
}

// NewIntakeResponder creates a responder and subscribes it to assistant
// messages for its own contacts.
func NewIntakeResponder(name string, svc Service, sessions IntakeSessions, st store.Store) *IntakeResponder {
	r := &IntakeResponder{name: name, svc: svc, sessions: sessions, store: st}
	sessions.OnAssistantMessages(r.deliver)
	slog.Debug("IntakeResponder created", "service", name)
	return r
}

// ContactKey returns the session contact for a canonical number on this service.
func (r *IntakeResponder) ContactKey(number string) string {
	return r.name + ":" + number
}

func (r *IntakeResponder) numberFor(contact string) (string, bool) {
	return strings.CutPrefix(contact, r.name+":")
}

// Start consumes responses and receipts until ctx is cancelled or the
// service closes its channels.
func (r *IntakeResponder) Start(ctx context.Context) {
	slog.Info("IntakeResponder starting", "service", r.name)
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case resp, ok := <-r.svc.Responses():
				if !ok {
					return
				}
				if err := r.HandleResponse(ctx, resp); err != nil {
					slog.Error("IntakeResponder failed to handle response", "error", err, "service", r.name, "from", resp.From)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer r.wg.Done()
		for {
			select {
			case receipt, ok := <-r.svc.Receipts():
				if !ok {
					return
				}
				if err := r.store.AddReceipt(receipt); err != nil {
					slog.Error("IntakeResponder failed to store receipt", "error", err, "to", receipt.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the consumer goroutines exit.
func (r *IntakeResponder) Wait() {
	r.wg.Wait()
}

// HandleResponse applies one inbound message to the sender's session.
func (r *IntakeResponder) HandleResponse(ctx context.Context, resp models.Response) error {
	number, err := r.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	contact := r.ContactKey(number)
	text := strings.TrimSpace(resp.Body)

	session, err := r.sessions.FindByContact(ctx, contact)
	if err != nil {
		return err
	}
	if session == nil || session.FlowState == models.FlowStateCompleted {
		// A fresh session greets through the message hook.
		_, err := r.sessions.Start(ctx, models.ChannelText, contact)
		return err
	}
	if strings.EqualFold(text, StartOverKeyword) {
		_, err := r.sessions.StartOver(ctx, session.ID)
		return err
	}

	var next *models.IntakeSession
	switch session.FlowState {
	case models.FlowStateAwaitingName:
		if len(session.Messages) == 0 {
			slog.Debug("IntakeResponder message before greeting ignored", "sessionID", session.ID)
			return nil
		}
		next, err = r.sessions.SubmitName(ctx, session.ID, text)
	case models.FlowStateAwaitingDOB:
		next, err = r.sessions.SubmitDateOfBirth(ctx, session.ID, text)
	case models.FlowStateInProgress:
		next, err = r.sessions.SubmitAnswer(ctx, session.ID, text)
	case models.FlowStateBlocked:
		return r.sendGuardianNotice(ctx, number)
	default:
		return fmt.Errorf("unexpected flow state %s", session.FlowState)
	}

	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		return r.svc.SendMessage(ctx, number, ve.PatientMessage())
	case models.IsStateError(err):
		slog.Debug("IntakeResponder event rejected", "sessionID", session.ID, "error", err)
		return nil
	case err != nil:
		return err
	}
	if next.FlowState == models.FlowStateBlocked {
		return r.sendGuardianNotice(ctx, number)
	}
	return nil
}

// GuardianMessage renders the guardian-required notice as one text message.
func GuardianMessage(ctrl *flow.Controller) string {
	notice := ctrl.Script().GuardianFor(ctrl.MinimumAge())
	parts := []string{notice.Title, notice.Body}
	if notice.Emergency != "" {
		parts = append(parts, notice.Emergency)
	}
	parts = append(parts, fmt.Sprintf("Reply %q to begin again.", StartOverKeyword))
	return strings.Join(parts, "\n\n")
}

func (r *IntakeResponder) sendGuardianNotice(ctx context.Context, number string) error {
	return r.svc.SendMessage(ctx, number, GuardianMessage(r.sessions.Controller()))
}

// deliver sends new assistant messages to this service's contacts.
func (r *IntakeResponder) deliver(ctx context.Context, session models.IntakeSession, messages []models.ConversationMessage) {
	number, ok := r.numberFor(session.Contact)
	if !ok {
		return
	}
	for _, m := range messages {
		if err := r.svc.SendMessage(ctx, number, m.Text); err != nil {
			slog.Error("IntakeResponder failed to deliver message", "error", err, "service", r.name, "sessionID", session.ID)
			return
		}
	}
}
