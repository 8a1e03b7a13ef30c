// Package api provides the HTTP server for IntakeFlow.
//
// It exposes JSON endpoints for the patient intake screens and the staff
// dashboard, plus the Twilio webhook when text intake over Twilio is enabled.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakeFlow/internal/flow"
	"github.com/BTreeMap/IntakeFlow/internal/store"
)

const (
	// DefaultAPIAddr is the listen address when none is configured.
	DefaultAPIAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// MaxRequestBodyBytes caps JSON request bodies.
	MaxRequestBodyBytes = 1 << 20
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	TwilioWebhook http.HandlerFunc
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTwilioWebhook mounts the Twilio inbound webhook at /webhooks/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) {
		o.TwilioWebhook = h
	}
}

// Server serves the intake and staff APIs.
type Server struct {
	sessions flow.SessionManager
	ctrl     *flow.Controller
	reviews  *flow.ReviewService
	st       store.Store
	opts     Opts
}

// NewServer creates a Server.
func NewServer(sessions flow.SessionManager, ctrl *flow.Controller, reviews *flow.ReviewService, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAPIAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating API server", "addr", cfg.Addr, "twilio_webhook", cfg.TwilioWebhook != nil)
	return &Server{sessions: sessions, ctrl: ctrl, reviews: reviews, st: st, opts: cfg}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /intake/sessions", s.startSessionHandler)
	mux.HandleFunc("GET /intake/sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("POST /intake/sessions/{id}/name", s.submitNameHandler)
	mux.HandleFunc("POST /intake/sessions/{id}/dob", s.submitDateOfBirthHandler)
	mux.HandleFunc("POST /intake/sessions/{id}/answers", s.submitAnswerHandler)
	mux.HandleFunc("POST /intake/sessions/{id}/start-over", s.startOverHandler)
	mux.HandleFunc("DELETE /intake/sessions/{id}", s.endIntakeHandler)

	mux.HandleFunc("GET /staff/intakes", s.listIntakesHandler)
	mux.HandleFunc("GET /staff/stats", s.statsHandler)
	mux.HandleFunc("GET /staff/receipts", s.receiptsHandler)
	mux.HandleFunc("GET /staff/intakes/{id}", s.getReviewHandler)
	mux.HandleFunc("PATCH /staff/intakes/{id}", s.updateReviewHandler)
	mux.HandleFunc("POST /staff/intakes/{id}/approve", s.approveReviewHandler)
	mux.HandleFunc("POST /staff/intakes/{id}/missing-info", s.missingInfoHandler)

	if s.opts.TwilioWebhook != nil {
		mux.HandleFunc("POST /webhooks/twilio", s.opts.TwilioWebhook)
	}
	return logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("IntakeFlow API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("IntakeFlow API shutting down", "timeout", DefaultShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}
	return nil
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("API request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
