package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/AssessPipe/internal/api"
	"github.com/BTreeMap/AssessPipe/internal/assessment"
	"github.com/BTreeMap/AssessPipe/internal/genai"
	"github.com/BTreeMap/AssessPipe/internal/lockfile"
	"github.com/BTreeMap/AssessPipe/internal/metrics"
	"github.com/BTreeMap/AssessPipe/internal/notify"
	"github.com/BTreeMap/AssessPipe/internal/pricing"
	"github.com/BTreeMap/AssessPipe/internal/prompt"
	"github.com/BTreeMap/AssessPipe/internal/store"
	"github.com/BTreeMap/AssessPipe/internal/util"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for AssessPipe state data
	DefaultStateDir = "/var/lib/assesspipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "assesspipe.db"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Config holds environment configuration
type Config struct {
	OpenAIKey      string
	APIAddr        string
	Profile        string
	DatabaseURL    string
	StateDir       string
	PricingCatalog string
	PromptDir      string
	GenAITimeout   time.Duration
	LogLevel       string
	NotifyEnabled  bool
	NotifyTo       []string
	LeadsToken     string
}

// Flags holds command line flag values for the serve command
type Flags struct {
	apiAddr        string
	profile        string
	stateDir       string
	dbDSN          string
	inMemory       bool
	openaiKey      string
	pricingCatalog string
	promptDir      string
	genaiTimeout   time.Duration
	notify         bool
	notifyTo       []string
	leadsToken     string
}

// newRootCmd builds the command tree. Environment values become flag defaults.
func newRootCmd() *cobra.Command {
	config := loadEnvironmentConfig()
	logLevel := config.LogLevel

	root := &cobra.Command{
		Use:          "assesspipe",
		Short:        "Assessment, chat and pricing service for lead-generation sites",
		SilenceUsage: true,
		Version:      version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initializeLogger(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")

	root.AddCommand(newServeCmd(config), newQuoteCmd(config), newPromptCmd(config))
	return root
}

// initializeLogger sets up structured logging at the given level, defaulting to debug
func initializeLogger(level string) {
	lvl := slog.LevelDebug
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = slog.LevelDebug
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
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
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		APIAddr:        os.Getenv("API_ADDR"),
		Profile:        os.Getenv("APP_PROFILE"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("ASSESSPIPE_STATE_DIR"),
		PricingCatalog: os.Getenv("PRICING_CATALOG"),
		PromptDir:      os.Getenv("PROMPT_DIR"),
		GenAITimeout:   util.ParseDurationEnv("GENAI_TIMEOUT", assessment.DefaultTimeout),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		NotifyEnabled:  util.ParseBoolEnv("LEAD_NOTIFY_ENABLED", false),
		NotifyTo:       util.SplitList(os.Getenv("LEAD_NOTIFY_TO")),
		LeadsToken:     os.Getenv("LEADS_API_TOKEN"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Profile == "" {
		config.Profile = assessment.ProfileSpark
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}

	slog.Debug("environment variables loaded",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"APP_PROFILE", config.Profile,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ASSESSPIPE_STATE_DIR", config.StateDir,
		"PRICING_CATALOG", config.PricingCatalog,
		"PROMPT_DIR", config.PromptDir,
		"GENAI_TIMEOUT", config.GenAITimeout,
		"LEAD_NOTIFY_ENABLED", config.NotifyEnabled,
		"LEAD_NOTIFY_TO_COUNT", len(config.NotifyTo),
		"LEADS_API_TOKEN_SET", config.LeadsToken != "")

	return config
}

// newServeCmd creates the 'assesspipe serve' command
func newServeCmd(config Config) *cobra.Command {
	var flags Flags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolveDSN(&flags, config)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	f.StringVar(&flags.profile, "profile", config.Profile, "application profile: spark or visaplace (overrides $APP_PROFILE)")
	f.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for AssessPipe data (overrides $ASSESSPIPE_STATE_DIR)")
	f.StringVar(&flags.dbDSN, "db-dsn", config.DatabaseURL, "lead store DSN; PostgreSQL URL or SQLite path (overrides $DATABASE_URL)")
	f.BoolVar(&flags.inMemory, "in-memory", false, "keep leads in memory only")
	f.StringVar(&flags.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	f.StringVar(&flags.pricingCatalog, "pricing-catalog", config.PricingCatalog, "pricing catalog YAML file (overrides $PRICING_CATALOG)")
	f.StringVar(&flags.promptDir, "prompt-dir", config.PromptDir, "directory of prompt template overrides (overrides $PROMPT_DIR)")
	f.DurationVar(&flags.genaiTimeout, "genai-timeout", config.GenAITimeout, "timeout for one model call (overrides $GENAI_TIMEOUT)")
	f.BoolVar(&flags.notify, "notify", config.NotifyEnabled, "send lead notifications through Twilio (overrides $LEAD_NOTIFY_ENABLED)")
	f.StringSliceVar(&flags.notifyTo, "notify-to", config.NotifyTo, "lead notification recipients (overrides $LEAD_NOTIFY_TO)")
	f.StringVar(&flags.leadsToken, "leads-token", config.LeadsToken, "bearer token for GET /api/leads; the endpoint is off when empty (overrides $LEADS_API_TOKEN)")
	return cmd
}

// resolveDSN defaults the lead store to SQLite in the state directory.
// --in-memory keeps leads in process memory instead.
func resolveDSN(flags *Flags, config Config) {
	if flags.inMemory {
		flags.dbDSN = ""
		slog.Debug("In-memory lead store requested")
		return
	}
	if flags.dbDSN == "" {
		flags.dbDSN = filepath.Join(flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", flags.dbDSN, "state_dir_overridden", flags.stateDir != config.StateDir)
	}
}

// runServe wires the modules together and serves until ctx is cancelled.
func runServe(ctx context.Context, flags Flags) error {
	if err := ensureDirectoriesExist(flags); err != nil {
		return fmt.Errorf("failed to create required directories: %w", err)
	}

	if storeKind(flags.dbDSN) == "sqlite3" {
		lock, err := lockfile.Acquire(sqliteDir(flags.dbDSN))
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	profile, err := assessment.LookupProfile(flags.profile)
	if err != nil {
		return err
	}
	prompts, err := prompt.New(buildPromptOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	var gen genai.ClientInterface
	if flags.openaiKey != "" {
		client, err := genai.NewClient(buildGenAIOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to create GenAI client: %w", err)
		}
		gen = client
	} else {
		slog.Warn("OPENAI_API_KEY not set; model-backed requests will fail with a configuration error")
	}
	svc := assessment.NewService(profile, prompts, gen, buildAssessmentOptions(flags)...)

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open lead store: %w", err)
	}
	defer st.Close()

	catalog, err := loadCatalog(flags.pricingCatalog, profile)
	if err != nil {
		return err
	}

	m := metrics.New()
	apiOpts := buildAPIOptions(flags)
	apiOpts = append(apiOpts,
		api.WithLeadRepo(st),
		api.WithMetrics(m),
		api.WithVersion(version),
	)
	if catalog != nil {
		apiOpts = append(apiOpts, api.WithCatalog(catalog))
	}

	if flags.notify {
		notifier, dispatcher, err := buildNotifier(flags, st, m)
		if err != nil {
			return err
		}
		if err := dispatcher.RecoverStale(ctx); err != nil {
			slog.Warn("Failed to requeue stale lead notifications", "error", err)
		}
		go dispatcher.Run(ctx)
		apiOpts = append(apiOpts, api.WithNotifier(notifier))
	}

	slog.Info("Bootstrapping AssessPipe with configured modules",
		"profile", profile.Name,
		"version", version,
		"store", storeKind(flags.dbDSN),
		"pricing", catalog != nil,
		"notify", flags.notify)
	return api.NewServer(svc, apiOpts...).Run(ctx)
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if flags.dbDSN == "" || store.DetectDSNType(flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := sqliteDir(flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// sqliteDir returns the directory holding a SQLite database file.
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	return filepath.Dir(path)
}

func storeKind(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return store.DetectDSNType(dsn)
}

// loadCatalog returns the pricing catalog from path, the embedded default for
// profiles that sell packages, or nil when pricing is disabled.
func loadCatalog(path string, profile *assessment.Profile) (*pricing.Catalog, error) {
	if path != "" {
		c, err := pricing.LoadCatalog(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load pricing catalog: %w", err)
		}
		return c, nil
	}
	if profile.Name != assessment.ProfileVisaPlace {
		return nil, nil
	}
	c, err := pricing.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load default pricing catalog: %w", err)
	}
	return c, nil
}

// buildNotifier creates the lead notifier and its Twilio dispatcher
func buildNotifier(flags Flags, st store.Store, m *metrics.Metrics) (*notify.LeadNotifier, *notify.Dispatcher, error) {
	if len(flags.notifyTo) == 0 {
		return nil, nil, fmt.Errorf("lead notifications enabled but no recipients configured (set LEAD_NOTIFY_TO)")
	}
	sender, err := notify.NewClient()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
	}
	notifier := notify.NewLeadNotifier(st, flags.notifyTo)
	dispatcher := notify.NewDispatcher(st, sender, notify.WithObserver(m))
	return notifier, dispatcher, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if flags.dbDSN != "" {
		if store.DetectDSNType(flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(flags.openaiKey))
	}
	return genaiOpts
}

// buildPromptOptions constructs prompt table options
func buildPromptOptions(flags Flags) []prompt.Option {
	var promptOpts []prompt.Option
	if flags.promptDir != "" {
		promptOpts = append(promptOpts, prompt.WithOverrideDir(flags.promptDir))
	}
	return promptOpts
}

// buildAssessmentOptions constructs assessment service options
func buildAssessmentOptions(flags Flags) []assessment.Option {
	var opts []assessment.Option
	if flags.genaiTimeout > 0 {
		opts = append(opts, assessment.WithTimeout(flags.genaiTimeout))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.apiAddr))
	}
	if flags.genaiTimeout > 0 {
		apiOpts = append(apiOpts, api.WithWriteTimeout(flags.genaiTimeout+15*time.Second))
	}
	if flags.leadsToken != "" {
		apiOpts = append(apiOpts, api.WithLeadsToken(flags.leadsToken))
	}
	return apiOpts
}
