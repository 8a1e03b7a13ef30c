package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/BTreeMap/IntakeFlow/internal/models"
	"github.com/BTreeMap/IntakeFlow/internal/twiliowhatsapp"
)

func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 010-2000", "15550102000", false},
		{"whatsapp:+15550102000", "15550102000", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("CanonicalizePhone(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+1 555 010 2000", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].To != "15550102000" {
		t.Errorf("unexpected sent messages %+v", sent)
	}
	receipt := <-svc.Receipts()
	if receipt.To != "15550102000" || receipt.Status != models.MessageStatusSent {
		t.Errorf("unexpected receipt %+v", receipt)
	}
}

func TestTwilioService_SendFailureEmitsFailedReceipt(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	mock.Err = errors.New("rate limited")
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "15550102000", "hello"); err == nil {
		t.Fatal("expected error")
	}
	if receipt := <-svc.Receipts(); receipt.Status != models.MessageStatusFailed {
		t.Errorf("expected failed receipt, got %+v", receipt)
	}
}

func TestTwilioService_Stop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "15550102000", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("responses channel should be closed")
	}
}

func postForm(handler http.HandlerFunc, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestTwilioService_WebhookInboundMessage(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postForm(svc.WebhookHandler, url.Values{"From": {"whatsapp:+15550102000"}, "Body": {"Jane Doe"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("content type = %q", ct)
	}
	resp := <-svc.Responses()
	if resp.From != "15550102000" || resp.Body != "Jane Doe" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestTwilioService_WebhookStatusCallback(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postForm(svc.WebhookHandler, url.Values{"To": {"+15550102000"}, "MessageStatus": {"delivered"}, "MessageSid": {"SM1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	receipt := <-svc.Receipts()
	if receipt.To != "15550102000" || receipt.Status != models.MessageStatusDelivered {
		t.Errorf("unexpected receipt %+v", receipt)
	}
}

func TestTwilioService_WebhookRejects(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	if rec := postForm(svc.WebhookHandler, url.Values{"Body": {"hello"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing sender: status = %d", rec.Code)
	}
	if rec := postForm(svc.WebhookHandler, url.Values{"From": {"abc"}, "Body": {"hello"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid sender: status = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/webhooks/twilio", nil)
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: status = %d", rec.Code)
	}
}

// twilioSignature computes X-Twilio-Signature for a form POST to rawURL.
func twilioSignature(authToken, rawURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	payload := rawURL
	for _, k := range keys {
		payload += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedPost(h http.HandlerFunc, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestTwilioService_WebhookSignature(t *testing.T) {
	const token = "test-auth-token"
	const publicURL = "https://clinic.example/webhooks/twilio"
	form := url.Values{"From": {"+15550102000"}, "Body": {"start over"}}

	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidation(token, publicURL))

	if rec := signedPost(svc.WebhookHandler, form, ""); rec.Code != http.StatusForbidden {
		t.Errorf("unsigned: status = %d, want 403", rec.Code)
	}
	if rec := signedPost(svc.WebhookHandler, form, twilioSignature("other-token", publicURL, form)); rec.Code != http.StatusForbidden {
		t.Errorf("wrong token: status = %d, want 403", rec.Code)
	}
	forged := url.Values{"From": {"+15550109999"}, "Body": {"start over"}}
	if rec := signedPost(svc.WebhookHandler, forged, twilioSignature(token, publicURL, form)); rec.Code != http.StatusForbidden {
		t.Errorf("altered form: status = %d, want 403", rec.Code)
	}
	select {
	case resp := <-svc.Responses():
		t.Fatalf("rejected request emitted %+v", resp)
	default:
	}

	rec := signedPost(svc.WebhookHandler, form, twilioSignature(token, publicURL, form))
	if rec.Code != http.StatusOK {
		t.Fatalf("signed: status = %d, want 200", rec.Code)
	}
	if resp := <-svc.Responses(); resp.From != "15550102000" || resp.Body != "start over" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestTwilioService_WebhookSignatureFromRequestURL(t *testing.T) {
	const token = "test-auth-token"
	form := url.Values{"To": {"+15550102000"}, "MessageStatus": {"delivered"}}
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidation(token, ""))

	// httptest requests are addressed to example.com.
	rec := signedPost(svc.WebhookHandler, form, twilioSignature(token, "http://example.com/webhooks/twilio", form))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if receipt := <-svc.Receipts(); receipt.Status != models.MessageStatusDelivered {
		t.Errorf("unexpected receipt %+v", receipt)
	}
}
