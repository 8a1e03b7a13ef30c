package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakeFlow/internal/api"
	"github.com/BTreeMap/IntakeFlow/internal/flow"
	"github.com/BTreeMap/IntakeFlow/internal/genai"
	"github.com/BTreeMap/IntakeFlow/internal/lockfile"
	"github.com/BTreeMap/IntakeFlow/internal/messaging"
	"github.com/BTreeMap/IntakeFlow/internal/recovery"
	"github.com/BTreeMap/IntakeFlow/internal/scheduler"
	"github.com/BTreeMap/IntakeFlow/internal/store"
	"github.com/BTreeMap/IntakeFlow/internal/twiliowhatsapp"
	"github.com/BTreeMap/IntakeFlow/internal/whatsapp"
)

// channelResponder is a started messaging channel with its intake responder.
type channelResponder struct {
	svc       messaging.Service
	responder *messaging.IntakeResponder
	close     func()
}

// run wires the modules together and serves until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.New(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	ctrlOpts, err := buildControllerOptions(flags)
	if err != nil {
		return err
	}
	ctrl := flow.NewController(ctrlOpts...)

	timer := flow.NewSimpleTimer()
	defer timer.Stop()
	sessions := flow.NewStoreBasedSessionManager(st, ctrl,
		flow.WithTypingDelay(*flags.typingDelay),
		flow.WithTimer(timer))

	var genaiClient *genai.Client
	if genaiOpts := buildGenAIOptions(flags); genaiOpts != nil {
		if genaiClient, err = genai.NewClient(genaiOpts...); err != nil {
			return fmt.Errorf("failed to create GenAI client: %w", err)
		}
	} else {
		slog.Info("OpenAI not configured, review summaries use the captured fields")
	}
	reviews := flow.NewReviewService(st, ctrl, genai.NewSummarizer(genaiClient))
	sessions.OnCompleted(reviews.CreateFromSession)

	rm := recovery.NewManager(st)
	rm.Register(sessions)
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Recovery finished with errors", "error", err)
	}

	sched := scheduler.NewScheduler()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
		defer cancel()
		sched.Stop(stopCtx)
	}()
	staleAfter := *flags.staleAfter
	if err := sched.AddJob("expire-stale-intakes", *flags.sweepSchedule, func() {
		if _, err := sessions.ExpireStale(ctx, staleAfter); err != nil {
			slog.Error("Stale intake sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}

	apiOpts := buildAPIOptions(flags)
	var channels []channelResponder

	if twOpts := buildTwilioOptions(flags); twOpts != nil {
		client, err := twiliowhatsapp.NewClient(twOpts...)
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client, buildTwilioServiceOptions(flags)...)
		channels = append(channels, channelResponder{svc: svc, responder: messaging.NewIntakeResponder("twilio", svc, sessions, st)})
		apiOpts = append(apiOpts, api.WithTwilioWebhook(svc.WebhookHandler))
		slog.Info("Twilio text intake enabled", "whatsapp", client.IsWhatsApp())
	}

	if *flags.whatsApp {
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		svc := messaging.NewWhatsAppService(client)
		channels = append(channels, channelResponder{
			svc:       svc,
			responder: messaging.NewIntakeResponder("whatsapp", svc, sessions, st),
			close:     client.Disconnect,
		})
		slog.Info("WhatsApp text intake enabled")
	}

	for _, ch := range channels {
		if err := ch.svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		ch.responder.Start(ctx)
	}
	defer stopChannels(channels)

	server := api.NewServer(sessions, ctrl, reviews, st, apiOpts...)
	return server.Run(ctx)
}

// stopChannels stops every messaging service and waits for its responder,
// bounded by the shutdown timeout.
func stopChannels(channels []channelResponder) {
	for _, ch := range channels {
		if err := ch.svc.Stop(); err != nil {
			slog.Warn("Failed to stop messaging service", "error", err)
		}
		done := make(chan struct{})
		go func(r *messaging.IntakeResponder) {
			r.Wait()
			close(done)
		}(ch.responder)
		select {
		case <-done:
		case <-time.After(api.DefaultShutdownTimeout):
			slog.Warn("Timed out waiting for intake responder to stop")
		}
		if ch.close != nil {
			ch.close()
		}
	}
}
