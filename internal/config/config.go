// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Portal   PortalConfig   `mapstructure:"portal" yaml:"portal"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Resolver ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Jobs     JobsConfig     `mapstructure:"jobs" yaml:"jobs"`
	API      APIConfig      `mapstructure:"api" yaml:"api"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL selects
// the in-memory job store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DisableGPU      bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string `mapstructure:"args" yaml:"args"`
	ViewportWidth   int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height" yaml:"viewport_height"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	Timezone        string   `mapstructure:"timezone" yaml:"timezone"`
	Locale          string   `mapstructure:"locale" yaml:"locale"`
	Languages       []string `mapstructure:"languages" yaml:"languages"`
	// PollInterval is how often waits re-check the DOM.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// PortalConfig describes the fixed, well-known parts of the target UI.
// Data tables and forms are resolved at runtime and are not listed here.
type PortalConfig struct {
	// BaseURL is used when a workflow call or job does not name one.
	BaseURL            string `mapstructure:"base_url" yaml:"base_url"`
	LoginPath          string `mapstructure:"login_path" yaml:"login_path"`
	ListingPath        string `mapstructure:"listing_path" yaml:"listing_path"`
	UsernameLocator    string `mapstructure:"username_locator" yaml:"username_locator"`
	PasswordLocator    string `mapstructure:"password_locator" yaml:"password_locator"`
	LoginSubmitLocator string `mapstructure:"login_submit_locator" yaml:"login_submit_locator"`
	OTPLocator         string `mapstructure:"otp_locator" yaml:"otp_locator"`
	VerifyLocator      string `mapstructure:"verify_locator" yaml:"verify_locator"`
	LandmarkText       string `mapstructure:"landmark_text" yaml:"landmark_text"`
	TableLocator       string `mapstructure:"table_locator" yaml:"table_locator"`
	AddUserLocator     string `mapstructure:"add_user_locator" yaml:"add_user_locator"`
	FormLocator        string `mapstructure:"form_locator" yaml:"form_locator"`
	FormContext        string `mapstructure:"form_context" yaml:"form_context"`
	SearchLocator      string `mapstructure:"search_locator" yaml:"search_locator"`
	DeleteLocator      string `mapstructure:"delete_locator" yaml:"delete_locator"`
	ConfirmLocator     string `mapstructure:"confirm_locator" yaml:"confirm_locator"`
}

// AuthConfig holds authentication inputs that are not per-call credentials.
type AuthConfig struct {
	OTPCode string `mapstructure:"otp_code" yaml:"otp_code"`
}

// TimeoutConfig holds every bounded wait and settle delay used by the workflows.
type TimeoutConfig struct {
	Navigation   time.Duration `mapstructure:"navigation" yaml:"navigation"`
	LoginForm    time.Duration `mapstructure:"login_form" yaml:"login_form"`
	MFADetect    time.Duration `mapstructure:"mfa_detect" yaml:"mfa_detect"`
	Landmark     time.Duration `mapstructure:"landmark" yaml:"landmark"`
	Table        time.Duration `mapstructure:"table" yaml:"table"`
	PageSettle   time.Duration `mapstructure:"page_settle" yaml:"page_settle"`
	AddUser      time.Duration `mapstructure:"add_user" yaml:"add_user"`
	Form         time.Duration `mapstructure:"form" yaml:"form"`
	SubmitSettle time.Duration `mapstructure:"submit_settle" yaml:"submit_settle"`
	Verify       time.Duration `mapstructure:"verify" yaml:"verify"`
	SearchSettle time.Duration `mapstructure:"search_settle" yaml:"search_settle"`
	Confirm      time.Duration `mapstructure:"confirm" yaml:"confirm"`
	DeleteSettle time.Duration `mapstructure:"delete_settle" yaml:"delete_settle"`
	VerifyAbsent time.Duration `mapstructure:"verify_absent" yaml:"verify_absent"`
	PageClose    time.Duration `mapstructure:"page_close" yaml:"page_close"`
}

// EngineConfig configures the workflow engine.
type EngineConfig struct {
	ConfidenceThreshold   float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	LowConfidenceStrategy string  `mapstructure:"low_confidence_strategy" yaml:"low_confidence_strategy"`
	DefaultMaxPages       int     `mapstructure:"default_max_pages" yaml:"default_max_pages"`
}

// ResolverConfig selects the selector resolution backend.
type ResolverConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// LLMConfig configures the LLM-backed resolver.
type LLMConfig struct {
	APIKey           string        `mapstructure:"api_key" yaml:"api_key"`
	Model            string        `mapstructure:"model" yaml:"model"`
	Temperature      float32       `mapstructure:"temperature" yaml:"temperature"`
	APITimeout       time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxRetryElapsed  time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
	MaxSnapshotBytes int           `mapstructure:"max_snapshot_bytes" yaml:"max_snapshot_bytes"`
}

// SessionConfig controls session persistence between process runs.
type SessionConfig struct {
	Persist bool   `mapstructure:"persist" yaml:"persist"`
	File    string `mapstructure:"file" yaml:"file"`
}

// JobsConfig configures the job runner.
type JobsConfig struct {
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryInitial      time.Duration `mapstructure:"retry_initial" yaml:"retry_initial"`
	RatePerSecond     float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	ListLimit         int           `mapstructure:"list_limit" yaml:"list_limit"`
}

// APIConfig configures the job API server.
type APIConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	_ = cfg.expandPaths()
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "portalpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.timezone", "America/Los_Angeles")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.languages", []string{"en-US", "en"})
	v.SetDefault("browser.poll_interval", "100ms")

	// -- Portal --
	v.SetDefault("portal.base_url", "http://localhost:8000")
	v.SetDefault("portal.login_path", "/mock-saas")
	v.SetDefault("portal.listing_path", "/mock-saas")
	v.SetDefault("portal.username_locator", `input[name="username"]`)
	v.SetDefault("portal.password_locator", `input[name="password"]`)
	v.SetDefault("portal.login_submit_locator", `button[type="submit"]`)
	v.SetDefault("portal.otp_locator", `input[name="otp"]`)
	v.SetDefault("portal.verify_locator", `button:has-text("Verify")`)
	v.SetDefault("portal.landmark_text", "User Management")
	v.SetDefault("portal.table_locator", "table")
	v.SetDefault("portal.add_user_locator", `button:has-text("Add User")`)
	v.SetDefault("portal.form_locator", "form")
	v.SetDefault("portal.form_context", "add-user")
	v.SetDefault("portal.search_locator", `input[placeholder*="Search"]`)
	v.SetDefault("portal.delete_locator", `button:has-text("Remove"), button:has-text("Delete")`)
	v.SetDefault("portal.confirm_locator", `button:has-text("Confirm"), button:has-text("Yes")`)

	// -- Auth --
	v.SetDefault("auth.otp_code", "123456")

	// -- Timeouts --
	v.SetDefault("timeouts.navigation", "30s")
	v.SetDefault("timeouts.login_form", "10s")
	v.SetDefault("timeouts.mfa_detect", "5s")
	v.SetDefault("timeouts.landmark", "10s")
	v.SetDefault("timeouts.table", "10s")
	v.SetDefault("timeouts.page_settle", "2s")
	v.SetDefault("timeouts.add_user", "10s")
	v.SetDefault("timeouts.form", "5s")
	v.SetDefault("timeouts.submit_settle", "2s")
	v.SetDefault("timeouts.verify", "5s")
	v.SetDefault("timeouts.search_settle", "1s")
	v.SetDefault("timeouts.confirm", "2s")
	v.SetDefault("timeouts.delete_settle", "2s")
	v.SetDefault("timeouts.verify_absent", "2s")
	v.SetDefault("timeouts.page_close", "10s")

	// -- Engine --
	v.SetDefault("engine.confidence_threshold", 0.7)
	v.SetDefault("engine.low_confidence_strategy", "proceed")
	v.SetDefault("engine.default_max_pages", 5)

	// -- Resolver --
	v.SetDefault("resolver.backend", "rules")

	// -- LLM --
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.max_retry_elapsed", "2m")
	v.SetDefault("llm.max_snapshot_bytes", 24000)

	// -- Session --
	v.SetDefault("session.persist", true)
	v.SetDefault("session.file", "~/.portalpilot/session.json")

	// -- Jobs --
	v.SetDefault("jobs.queue_size", 100)
	v.SetDefault("jobs.worker_concurrency", 1)
	v.SetDefault("jobs.default_timeout", "5m")
	v.SetDefault("jobs.max_retries", 0)
	v.SetDefault("jobs.retry_initial", "2s")
	v.SetDefault("jobs.rate_per_second", 1.0)
	v.SetDefault("jobs.burst", 1)
	v.SetDefault("jobs.list_limit", 20)

	// -- API --
	v.SetDefault("api.addr", ":8001")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.shutdown_timeout", "20s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive values are commonly supplied through the environment only.
	_ = v.BindEnv("llm.api_key", "PORTALPILOT_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "PORTALPILOT_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in file paths.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Session.File, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.ConfidenceThreshold < 0.0 || c.Engine.ConfidenceThreshold > 1.0 {
		return fmt.Errorf("engine.confidence_threshold must be between 0.0 and 1.0")
	}
	switch strings.ToLower(c.Engine.LowConfidenceStrategy) {
	case "proceed", "adapt":
	default:
		return fmt.Errorf("engine.low_confidence_strategy must be one of proceed, adapt (got %q)", c.Engine.LowConfidenceStrategy)
	}
	switch strings.ToLower(c.Resolver.Backend) {
	case "rules":
	case "llm":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required when resolver.backend is llm (hint: set GEMINI_API_KEY)")
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when resolver.backend is llm")
		}
	default:
		return fmt.Errorf("resolver.backend must be one of rules, llm (got %q)", c.Resolver.Backend)
	}
	if c.Jobs.WorkerConcurrency <= 0 {
		return fmt.Errorf("jobs.worker_concurrency must be a positive integer")
	}
	if c.Jobs.QueueSize <= 0 {
		return fmt.Errorf("jobs.queue_size must be a positive integer")
	}
	if c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs.max_retries cannot be negative")
	}
	if c.Session.Persist && c.Session.File == "" {
		return fmt.Errorf("session.file is required when session.persist is enabled")
	}
	return c.Timeouts.Validate()
}

// Validate checks that every required wait is positive. Settle delays may be zero.
func (t TimeoutConfig) Validate() error {
	required := map[string]time.Duration{
		"navigation":    t.Navigation,
		"login_form":    t.LoginForm,
		"mfa_detect":    t.MFADetect,
		"landmark":      t.Landmark,
		"table":         t.Table,
		"add_user":      t.AddUser,
		"form":          t.Form,
		"verify":        t.Verify,
		"verify_absent": t.VerifyAbsent,
	}
	for name, d := range required {
		if d <= 0 {
			return fmt.Errorf("timeouts.%s must be a positive duration", name)
		}
	}
	return nil
}
