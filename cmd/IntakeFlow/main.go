package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"

	"github.com/BTreeMap/IntakeFlow/internal/api"
	"github.com/BTreeMap/IntakeFlow/internal/flow"
	"github.com/BTreeMap/IntakeFlow/internal/genai"
	"github.com/BTreeMap/IntakeFlow/internal/messaging"
	"github.com/BTreeMap/IntakeFlow/internal/scheduler"
	"github.com/BTreeMap/IntakeFlow/internal/store"
	"github.com/BTreeMap/IntakeFlow/internal/twiliowhatsapp"
	"github.com/BTreeMap/IntakeFlow/internal/util"
	"github.com/BTreeMap/IntakeFlow/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for IntakeFlow state data
	DefaultStateDir = "/var/lib/intakeflow"
	// DefaultAppDBFileName is the default SQLite database filename
	DefaultAppDBFileName = "intakeflow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if *flags.landingQR {
		if err := printLandingQR(os.Stdout, *flags.landingURL); err != nil {
			slog.Error("Failed to print landing QR code", "error", err)
			os.Exit(1)
		}
		return
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping IntakeFlow with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := run(ctx, flags); err != nil {
		slog.Error("IntakeFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("IntakeFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	StateDir         string
	APIAddr          string
	OpenAIKey        string
	OpenAIModel      string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioWebhookURL string
	MinimumAge       int
	ScriptFile       string
	TypingDelay      time.Duration
	StaleAfter       time.Duration
	SweepSchedule    string
	WhatsAppEnabled  bool
	LandingURL       string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	whatsAppDSN   *string
	apiAddr       *string
	openaiKey     *string
	openaiModel   *string
	minimumAge    *int
	scriptFile    *string
	typingDelay   *time.Duration
	staleAfter    *time.Duration
	sweepSchedule *string
	whatsApp      *bool
	landingQR     *bool
	landingURL    *string
	twilioWebhook *string

	twilioAccountSID string
	twilioAuthToken  string
	twilioFromNumber string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:         os.Getenv("INTAKEFLOW_STATE_DIR"),
		APIAddr:          os.Getenv("API_ADDR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		MinimumAge:       util.ParseIntEnv("INTAKE_MINIMUM_AGE", flow.DefaultMinimumAge),
		ScriptFile:       os.Getenv("INTAKE_SCRIPT_FILE"),
		TypingDelay:      util.ParseDurationEnv("INTAKE_TYPING_DELAY", flow.DefaultTypingDelay),
		StaleAfter:       util.ParseDurationEnv("INTAKE_STALE_AFTER", flow.DefaultStaleAfter),
		SweepSchedule:    os.Getenv("INTAKE_SWEEP_SCHEDULE"),
		WhatsAppEnabled:  util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		LandingURL:       os.Getenv("INTAKE_LANDING_URL"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No INTAKEFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("INTAKEFLOW_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// DATABASE_URL selects the application database; otherwise SQLite in the state directory
	config.ApplicationDBDSN = config.DatabaseURL
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}

	if config.SweepSchedule == "" {
		config.SweepSchedule = scheduler.DefaultSweepSchedule
	}
	if config.LandingURL == "" {
		config.LandingURL = "http://localhost" + api.DefaultAPIAddr + "/intake"
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"INTAKEFLOW_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"INTAKE_MINIMUM_AGE", config.MinimumAge,
		"INTAKE_SCRIPT_FILE", config.ScriptFile,
		"INTAKE_TYPING_DELAY", config.TypingDelay,
		"INTAKE_STALE_AFTER", config.StaleAfter,
		"WHATSAPP_ENABLED", config.WhatsAppEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		qrOutput:      fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:       fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for IntakeFlow data (overrides $INTAKEFLOW_STATE_DIR)"),
		dbDSN:         fs.String("db-dsn", config.ApplicationDBDSN, "application database DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		whatsAppDSN:   fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "WhatsApp device database DSN (overrides $WHATSAPP_DB_DSN)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key for review summaries (overrides $OPENAI_API_KEY)"),
		openaiModel:   fs.String("openai-model", config.OpenAIModel, "OpenAI model for review summaries (overrides $OPENAI_MODEL)"),
		minimumAge:    fs.Int("minimum-age", config.MinimumAge, "youngest age allowed to complete intake alone (overrides $INTAKE_MINIMUM_AGE)"),
		scriptFile:    fs.String("script-file", config.ScriptFile, "YAML prompt script (overrides $INTAKE_SCRIPT_FILE)"),
		typingDelay:   fs.Duration("typing-delay", config.TypingDelay, "delay before the assistant greets (overrides $INTAKE_TYPING_DELAY)"),
		staleAfter:    fs.Duration("stale-after", config.StaleAfter, "discard unfinished intakes idle this long (overrides $INTAKE_STALE_AFTER)"),
		sweepSchedule: fs.String("sweep-schedule", config.SweepSchedule, "cron schedule for the stale intake sweep (overrides $INTAKE_SWEEP_SCHEDULE)"),
		whatsApp:      fs.Bool("whatsapp", config.WhatsAppEnabled, "enable text intake over a linked WhatsApp device (overrides $WHATSAPP_ENABLED)"),
		landingQR:     fs.Bool("landing-qr", false, "print the patient landing page as a QR code and exit"),
		landingURL:    fs.String("landing-url", config.LandingURL, "patient landing page URL (overrides $INTAKE_LANDING_URL)"),
		twilioWebhook: fs.String("twilio-webhook-url", config.TwilioWebhookURL, "public URL Twilio posts to, used to check request signatures (overrides $TWILIO_WEBHOOK_URL)"),

		twilioAccountSID: config.TwilioAccountSID,
		twilioAuthToken:  config.TwilioAuthToken,
		twilioFromNumber: config.TwilioFromNumber,
	}

	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	if *flags.minimumAge < 1 {
		return flags, fmt.Errorf("minimum age must be positive, got %d", *flags.minimumAge)
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"minimumAge", *flags.minimumAge,
		"scriptFile", *flags.scriptFile,
		"typingDelay", *flags.typingDelay,
		"whatsApp", *flags.whatsApp)

	// Follow a -state-dir override when the DSN is still the default SQLite path
	if *flags.dbDSN == config.ApplicationDBDSN && config.DatabaseURL == "" && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags, nil
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		dirs = append(dirs, filepath.Dir(*flags.dbDSN))
	}
	for _, dir := range dirs {
		slog.Debug("Creating state directory", "state_dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
	}
	return nil
}

// printLandingQR writes the patient landing URL as a terminal QR code.
func printLandingQR(w io.Writer, url string) error {
	if url == "" {
		return errors.New("landing URL is empty")
	}
	fmt.Fprintf(w, "Scan to start your intake: %s\n", url)
	qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
	return nil
}

// buildControllerOptions constructs intake controller options
func buildControllerOptions(flags Flags) ([]flow.ControllerOption, error) {
	opts := []flow.ControllerOption{flow.WithMinimumAge(*flags.minimumAge)}
	if *flags.scriptFile != "" {
		script, err := flow.LoadScriptFile(*flags.scriptFile)
		if err != nil {
			return nil, err
		}
		slog.Debug("Loaded prompt script", "path", *flags.scriptFile, "steps", len(script.Steps))
		opts = append(opts, flow.WithScript(script))
	}
	return opts, nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithStateDir(*flags.stateDir)}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsAppDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsAppDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio options; nil means Twilio is not configured.
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	if flags.twilioAccountSID == "" || flags.twilioAuthToken == "" || flags.twilioFromNumber == "" {
		return nil
	}
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(flags.twilioAccountSID),
		twiliowhatsapp.WithAuthToken(flags.twilioAuthToken),
		twiliowhatsapp.WithFromNumber(flags.twilioFromNumber),
	}
}

// buildTwilioServiceOptions constructs webhook options. Signatures are always
// checked against the auth token.
func buildTwilioServiceOptions(flags Flags) []messaging.TwilioServiceOption {
	return []messaging.TwilioServiceOption{
		messaging.WithSignatureValidation(flags.twilioAuthToken, *flags.twilioWebhook),
	}
}

// buildGenAIOptions constructs GenAI options; nil means summaries use the fallback.
func buildGenAIOptions(flags Flags) []genai.Option {
	if *flags.openaiKey == "" {
		return nil
	}
	genaiOpts := []genai.Option{genai.WithAPIKey(*flags.openaiKey)}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
