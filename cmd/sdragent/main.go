package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/agent"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/api"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/buffer"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/chunker"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/crm"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/genai"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/lockfile"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/messaging"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/qualify"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/store"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/twiliowhatsapp"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/util"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for agent state data
	DefaultStateDir = "/var/lib/sdragent"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "sdragent.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Only one instance may operate on a state directory.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	slog.Info("Bootstrapping SDR agent with configured modules")
	if err := run(flags); err != nil {
		slog.Error("SDR agent failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("SDR agent exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	WhatsAppDSN string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	Transport   string
	CRMWebhook  string
	NumericCode bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput   *string
	numeric    *bool
	stateDir   *string
	dbDSN      *string
	waDSN      *string
	openaiKey  *string
	apiAddr    *string
	transport  *string
	crmWebhook *string
}

// initializeLogger sets up structured logging; LOG_LEVEL controls verbosity.
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseURL: os.Getenv("DATABASE_URL"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:    os.Getenv("SDRAGENT_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		Transport:   os.Getenv("TRANSPORT"),
		CRMWebhook:  os.Getenv("CRM_WEBHOOK_URL"),
		NumericCode: util.ParseBoolEnv("NUMERIC_CODE", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SDRAGENT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}

	if config.Transport == "" {
		config.Transport = "whatsmeow"
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"SDRAGENT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TRANSPORT", config.Transport,
		"CRM_WEBHOOK_URL_SET", config.CRMWebhook != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:   flag.String("qr-output", "", "path to write login QR code"),
		numeric:    flag.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code (overrides $NUMERIC_CODE)"),
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for agent data (overrides $SDRAGENT_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN for the agent store (overrides $DATABASE_URL)"),
		waDSN:      flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:  flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		transport:  flag.String("transport", config.Transport, "message transport: whatsmeow, twilio or mock (overrides $TRANSPORT)"),
		crmWebhook: flag.String("crm-webhook-url", config.CRMWebhook, "CRM webhook base URL (overrides $CRM_WEBHOOK_URL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"waDSN_set", *flags.waDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.waDSN} {
		if store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildStore constructs the persistence backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildMessagingService constructs the message transport for the configured
// channel.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch *flags.transport {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	case "mock":
		slog.Warn("Using mock message transport, outbound messages are discarded")
		return messaging.NewMockService(), nil
	default:
		var waOpts []whatsapp.Option
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}

// buildCRM constructs the CRM collaborator, falling back to local-only
// archival when no webhook is configured.
func buildCRM(flags Flags, st store.Store) qualify.CRM {
	if *flags.crmWebhook != "" {
		client, err := crm.NewClient(crm.WithWebhookURL(*flags.crmWebhook), crm.WithStore(st))
		if err == nil {
			return client
		}
		slog.Error("Failed to create CRM client, falling back to local archival", "error", err)
	}
	return crm.NewNoopClient(st)
}

// run wires all components together and blocks until shutdown.
func run(flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	generator, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	messenger, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	machine := qualify.NewMachine(st, generator, buildCRM(flags, st),
		qualify.WithBillThreshold(util.ParseFloatEnv("BILL_THRESHOLD", qualify.DefaultBillThreshold)),
		qualify.WithStallLimit(util.ParseIntEnv("STALL_LIMIT", qualify.DefaultStallLimit)),
	)
	engine := chunker.NewEngine()

	sdragent := agent.NewAgent(messenger, st, machine, engine,
		agent.WithBufferOptions(
			buffer.WithDebounce(util.ParseDurationEnv("DEBOUNCE_WINDOW", buffer.DefaultDebounce)),
			buffer.WithMaxBufferSize(util.ParseIntEnv("MAX_BUFFER_SIZE", buffer.DefaultMaxBufferSize)),
		),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sdragent.Start(ctx); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(sdragent, apiOpts...)
	server.Start()

	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping components")

	if err := server.Stop(); err != nil {
		slog.Error("API server shutdown failed", "error", err)
	}
	sdragent.Stop()
	if err := messenger.Stop(); err != nil {
		slog.Error("Messaging service shutdown failed", "error", err)
	}
	return nil
}
