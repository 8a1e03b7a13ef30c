package messaging

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/IntakeFlow/internal/models"
	"github.com/BTreeMap/IntakeFlow/internal/twiliowhatsapp"
)

// twimlEmpty acknowledges a webhook without an automatic reply; replies are
// sent through the REST API once the flow has run.
const twimlEmpty = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Service over Twilio SMS or WhatsApp. Inbound
// messages and status callbacks arrive through WebhookHandler.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	receipts  chan models.Receipt
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool

	validator  *client.RequestValidator // nil accepts unsigned requests
	webhookURL string                   // public webhook URL; empty rebuilds it from the request
}

// TwilioServiceOption configures a TwilioService.
type TwilioServiceOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature
// does not match authToken. webhookURL is the URL configured in Twilio; when
// empty it is rebuilt from the request.
func WithSignatureValidation(authToken, webhookURL string) TwilioServiceOption {
	return func(s *TwilioService) {
		v := client.NewRequestValidator(authToken)
		s.validator = &v
		s.webhookURL = webhookURL
	}
}

// NewTwilioService creates a TwilioService around a Twilio client or MockClient.
func NewTwilioService(sender twiliowhatsapp.Sender, opts ...TwilioServiceOption) *TwilioService {
	s := &TwilioService{
		client:    sender,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("Creating TwilioService", "signature_validation", s.validator != nil)
	return s
}

// ValidateAndCanonicalizeRecipient reduces a phone number or Twilio address to digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := CanonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op; Twilio pushes events to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped and closes its channels.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	slog.Info("TwilioService stopped and channels closed")
	return nil
}

// SendMessage sends a message via Twilio and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusFailed, Time: time.Now().Unix()})
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns the channel for message receipts.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel for inbound patient messages.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// WebhookHandler handles Twilio's inbound message webhook and its status
// callbacks. Inbound messages are emitted on Responses; delivery updates on Receipts.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService failed to parse webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if !s.validSignature(r) {
		slog.Warn("TwilioService webhook rejected: bad signature", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	status := r.FormValue("MessageStatus")

	switch {
	case from != "" && body != "":
		canonical, err := s.ValidateAndCanonicalizeRecipient(from)
		if err != nil {
			slog.Warn("TwilioService webhook rejected sender", "from", from, "error", err)
			http.Error(w, "Invalid sender", http.StatusBadRequest)
			return
		}
		slog.Info("TwilioService inbound message", "from", canonical, "body_length", len(body))
		s.emitResponse(models.Response{From: canonical, Body: body, Time: time.Now().Unix()})
	case status != "":
		s.handleStatusCallback(r.FormValue("To"), status)
	default:
		slog.Warn("TwilioService webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(twimlEmpty))
}

// validSignature checks X-Twilio-Signature against the POST form parameters.
func (s *TwilioService) validSignature(r *http.Request) bool {
	if s.validator == nil {
		return true
	}
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return s.validator.Validate(s.requestURL(r), params, signature)
}

func (s *TwilioService) requestURL(r *http.Request) string {
	if s.webhookURL != "" {
		return s.webhookURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *TwilioService) handleStatusCallback(to, status string) {
	var st models.MessageStatus
	switch status {
	case "delivered":
		st = models.MessageStatusDelivered
	case "read":
		st = models.MessageStatusRead
	case "failed", "undelivered":
		st = models.MessageStatusFailed
	default:
		slog.Debug("TwilioService ignoring status callback", "status", status)
		return
	}
	canonical, err := CanonicalizePhone(to)
	if err != nil {
		slog.Debug("TwilioService status callback without recipient", "status", status)
		return
	}
	s.emitReceipt(models.Receipt{To: canonical, Status: st, Time: time.Now().Unix()})
}

func (s *TwilioService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// emitReceipt and emitResponse hold the read lock while sending so Stop
// cannot close a channel mid-send.
func (s *TwilioService) emitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

func (s *TwilioService) emitResponse(response models.Response) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound response (service stopped)", "from", response.From)
		return
	}
	select {
	case s.responses <- response:
		slog.Debug("TwilioService emitted inbound response", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", response.From)
	}
}
