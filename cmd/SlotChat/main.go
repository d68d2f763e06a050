package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/SlotChat/internal/api"
	"github.com/BTreeMap/SlotChat/internal/genai"
	"github.com/BTreeMap/SlotChat/internal/lockfile"
	"github.com/BTreeMap/SlotChat/internal/scheduler"
	"github.com/BTreeMap/SlotChat/internal/store"
	"github.com/BTreeMap/SlotChat/internal/twiliowhatsapp"
	"github.com/BTreeMap/SlotChat/internal/util"
	"github.com/BTreeMap/SlotChat/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SlotChat state data
	DefaultStateDir = "/var/lib/slotchat"
	// DefaultWhatsAppDBFileName is the whatsmeow device store inside the state directory
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// GenAIDebugDirName is where request/response dumps go when --genai-debug is set
	GenAIDebugDirName = "genai-debug"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	initializeLogger(flags.Debug)

	lock, err := lockfile.Acquire(flags.StateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	modules := buildModules(flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping SlotChat", "version", version, "api_addr", flags.APIAddr,
		"whatsapp", flags.WhatsAppEnabled, "twilio", flags.TwilioEnabled, "database_set", flags.DatabaseURL != "")
	if err := api.Run(ctx, modules); err != nil {
		slog.Error("SlotChat failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("SlotChat exited successfully")
}

// Config holds environment configuration
type Config struct {
	OpenAIKey        string
	GenAIModel       string
	GenAIBaseURL     string
	GenAITemperature float64
	GenAITimeout     time.Duration
	StateDir         string
	DatabaseURL      string
	ConditionsPath   string
	Retention        time.Duration
	APIAddr          string
	CORSOrigins      []string
	WhatsAppEnabled  bool
	WhatsAppDSN      string
	TwilioEnabled    bool
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioWebhookURL string
	Debug            bool
}

// Flags holds the effective configuration after command line overrides.
type Flags struct {
	Config
	QROutput    string
	NumericCode bool
	GenAIDebug  bool
}

// initializeLogger sets up structured logging on stdout.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
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
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		GenAIModel:       util.GetEnv("GENAI_MODEL", genai.DefaultModel),
		GenAIBaseURL:     util.GetEnv("GENAI_BASE_URL", ""),
		GenAITemperature: util.ParseFloatEnv("GENAI_TEMPERATURE", genai.DefaultTemperature),
		GenAITimeout:     util.ParseDurationEnv("GENAI_TIMEOUT", genai.DefaultTimeout),
		StateDir:         util.GetEnv("SLOTCHAT_STATE_DIR", DefaultStateDir),
		DatabaseURL:      util.GetEnv("DATABASE_URL", ""),
		ConditionsPath:   util.GetEnv("SLOTCHAT_CONDITIONS", ""),
		Retention:        util.ParseDurationEnv("SLOTCHAT_RETENTION", scheduler.DefaultRetention),
		APIAddr:          util.GetEnv("API_ADDR", api.DefaultServerAddress),
		CORSOrigins:      util.SplitList(util.GetEnv("CORS_ORIGINS", "*")),
		WhatsAppEnabled:  util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		WhatsAppDSN:      util.GetEnv("WHATSAPP_DB_DSN", ""),
		TwilioEnabled:    util.ParseBoolEnv("TWILIO_ENABLED", false),
		TwilioAccountSID: util.GetEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  util.GetEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: util.GetEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWebhookURL: util.GetEnv("TWILIO_WEBHOOK_URL", ""),
		Debug:            util.ParseBoolEnv("SLOTCHAT_DEBUG", false),
	}

	slog.Debug("environment variables loaded",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GENAI_MODEL", config.GenAIModel,
		"SLOTCHAT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"WHATSAPP_ENABLED", config.WhatsAppEnabled,
		"TWILIO_ENABLED", config.TwilioEnabled)

	return config
}

// parseCommandLineFlags parses args with environment values as defaults.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	f := Flags{Config: config}
	var cors string
	if len(config.CORSOrigins) > 0 {
		cors = strings.Join(config.CORSOrigins, ",")
	}

	fs.StringVar(&f.StateDir, "state-dir", config.StateDir, "state directory for SlotChat data (overrides $SLOTCHAT_STATE_DIR)")
	fs.StringVar(&f.DatabaseURL, "db-dsn", config.DatabaseURL, "session database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)")
	fs.StringVar(&f.ConditionsPath, "conditions", config.ConditionsPath, "YAML condition table (overrides $SLOTCHAT_CONDITIONS)")
	fs.DurationVar(&f.Retention, "retention", config.Retention, "how long dedup records and delivered replies are kept (overrides $SLOTCHAT_RETENTION)")
	fs.StringVar(&f.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.GenAIModel, "genai-model", config.GenAIModel, "chat completion model (overrides $GENAI_MODEL)")
	fs.Float64Var(&f.GenAITemperature, "genai-temperature", config.GenAITemperature, "sampling temperature (overrides $GENAI_TEMPERATURE)")
	fs.DurationVar(&f.GenAITimeout, "genai-timeout", config.GenAITimeout, "per-call generation timeout (overrides $GENAI_TIMEOUT)")
	fs.BoolVar(&f.GenAIDebug, "genai-debug", false, "write generation requests and replies under the state directory")
	fs.StringVar(&f.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cors, "cors-origins", cors, "comma-separated allowed origins (overrides $CORS_ORIGINS)")
	fs.BoolVar(&f.WhatsAppEnabled, "whatsapp", config.WhatsAppEnabled, "enable the WhatsApp channel (overrides $WHATSAPP_ENABLED)")
	fs.StringVar(&f.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&f.QROutput, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&f.NumericCode, "numeric-code", false, "use numeric login code instead of QR code")
	fs.BoolVar(&f.TwilioEnabled, "twilio", config.TwilioEnabled, "enable the Twilio WhatsApp channel (overrides $TWILIO_ENABLED)")
	fs.StringVar(&f.TwilioWebhookURL, "twilio-webhook-url", config.TwilioWebhookURL, "public webhook URL for Twilio signature checks (overrides $TWILIO_WEBHOOK_URL)")
	fs.BoolVar(&f.Debug, "debug", config.Debug, "enable debug logging (overrides $SLOTCHAT_DEBUG)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	f.CORSOrigins = util.SplitList(cors)

	if f.WhatsAppDSN == "" {
		f.WhatsAppDSN = "file:" + filepath.Join(f.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if f.Retention <= 0 {
		return Flags{}, errors.New("retention must be positive")
	}
	if f.GenAITemperature < 0 || f.GenAITemperature > 2 {
		return Flags{}, errors.New("genai-temperature must be between 0 and 2")
	}
	return f, nil
}

// buildModules turns the effective configuration into per-module options.
func buildModules(f Flags) api.Modules {
	return api.Modules{
		Store:            buildStoreOptions(f),
		GenAI:            buildGenAIOptions(f),
		WhatsApp:         buildWhatsAppOptions(f),
		Twilio:           buildTwilioOptions(f),
		API:              buildAPIOptions(f),
		ConditionsPath:   f.ConditionsPath,
		EnableWhatsApp:   f.WhatsAppEnabled,
		EnableTwilio:     f.TwilioEnabled,
		TwilioWebhookURL: f.TwilioWebhookURL,
		TwilioAuthToken:  f.TwilioAuthToken,
		Retention:        f.Retention,
	}
}

// buildStoreOptions selects the session backend. No DSN keeps sessions in memory.
func buildStoreOptions(f Flags) []store.Option {
	if f.DatabaseURL == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	}
	if store.DetectDSNType(f.DatabaseURL) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(f.DatabaseURL)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", f.DatabaseURL)
	return []store.Option{store.WithSQLiteDSN(f.DatabaseURL)}
}

func buildGenAIOptions(f Flags) []genai.Option {
	opts := []genai.Option{
		genai.WithModel(f.GenAIModel),
		genai.WithTemperature(f.GenAITemperature),
		genai.WithTimeout(f.GenAITimeout),
	}
	if f.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(f.OpenAIKey))
	}
	if f.GenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(f.GenAIBaseURL))
	}
	if f.GenAIDebug {
		opts = append(opts, genai.WithDebugDir(filepath.Join(f.StateDir, GenAIDebugDirName)))
	}
	return opts
}

func buildWhatsAppOptions(f Flags) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(f.WhatsAppDSN)}
	if f.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(f.QROutput))
	}
	if f.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

func buildTwilioOptions(f Flags) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if f.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(f.TwilioAccountSID))
	}
	if f.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(f.TwilioAuthToken))
	}
	if f.TwilioFromNumber != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(f.TwilioFromNumber))
	}
	return opts
}

func buildAPIOptions(f Flags) []api.Option {
	return []api.Option{
		api.WithAddr(f.APIAddr),
		api.WithCORSOrigins(f.CORSOrigins),
		api.WithVersion(version),
	}
}
