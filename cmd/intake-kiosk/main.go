// Command intake-kiosk runs one patient intake at a time in the terminal.
//
// Sessions are written to the same database as the IntakeFlow server when
// -db-dsn (or $DATABASE_URL) is set, so completed intakes appear on the staff
// dashboard. Without a DSN the kiosk keeps everything in memory.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/IntakeFlow/internal/flow"
	"github.com/BTreeMap/IntakeFlow/internal/genai"
	"github.com/BTreeMap/IntakeFlow/internal/models"
	"github.com/BTreeMap/IntakeFlow/internal/store"
	"github.com/BTreeMap/IntakeFlow/internal/tui"
	"github.com/BTreeMap/IntakeFlow/internal/util"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	dbDSN := flag.String("db-dsn", os.Getenv("DATABASE_URL"), "application database DSN; empty keeps sessions in memory (overrides $DATABASE_URL)")
	minimumAge := flag.Int("minimum-age", util.ParseIntEnv("INTAKE_MINIMUM_AGE", flow.DefaultMinimumAge), "youngest age allowed to complete intake alone (overrides $INTAKE_MINIMUM_AGE)")
	scriptFile := flag.String("script-file", os.Getenv("INTAKE_SCRIPT_FILE"), "YAML prompt script (overrides $INTAKE_SCRIPT_FILE)")
	typingDelay := flag.Duration("typing-delay", util.ParseDurationEnv("INTAKE_TYPING_DELAY", flow.DefaultTypingDelay), "delay before the assistant greets (overrides $INTAKE_TYPING_DELAY)")
	logFile := flag.String("log-file", "", "write logs to this file; logs are discarded when empty")
	flag.Parse()

	// The TUI owns the terminal, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctrlOpts := []flow.ControllerOption{flow.WithMinimumAge(*minimumAge)}
	if *scriptFile != "" {
		script, err := flow.LoadScriptFile(*scriptFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading script: %v\n", err)
			os.Exit(1)
		}
		ctrlOpts = append(ctrlOpts, flow.WithScript(script))
	}

	st, err := store.New(*dbDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctrl := flow.NewController(ctrlOpts...)
	timer := flow.NewSimpleTimer()
	defer timer.Stop()
	sessions := flow.NewStoreBasedSessionManager(st, ctrl, flow.WithTypingDelay(*typingDelay), flow.WithTimer(timer))

	// Completed kiosk intakes get a review with the field-based summary.
	reviews := flow.NewReviewService(st, ctrl, genai.NewSummarizer(nil))
	sessions.OnCompleted(reviews.CreateFromSession)

	p := tea.NewProgram(
		tui.NewKiosk(sessions, ctrl, models.ChannelText),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running kiosk: %v\n", err)
		os.Exit(1)
	}
}
