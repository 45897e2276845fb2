package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Browser     BrowserConfig     `toml:"browser"`
	Session     SessionConfig     `toml:"session"`
	Steps       StepPolicyConfig  `toml:"steps"`
	Platforms   PlatformDirConfig `toml:"platforms"`
	Credentials CredentialsConfig `toml:"credentials"`
	Directory   DirectoryConfig   `toml:"directory"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	OTP         OTPConfig         `toml:"otp"`
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type FilesystemConfig struct {
	Profiles    string `toml:"profiles"`    // Browser profile directories, one per (tenant, platform)
	Artifacts   string `toml:"artifacts"`   // Downloaded export files
	Screenshots string `toml:"screenshots"` // Diagnostic screenshots from auth attempts
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// BrowserConfig contains Chrome launch options shared by all sessions
type BrowserConfig struct {
	Headless     bool   `toml:"headless"`
	NoSandbox    bool   `toml:"no_sandbox"`
	DisableGPU   bool   `toml:"disable_gpu"`
	UserAgent    string `toml:"user_agent"`
	WindowWidth  int    `toml:"window_width"`
	WindowHeight int    `toml:"window_height"`
}

// SessionConfig controls browser session lifecycle
type SessionConfig struct {
	ExpiryDays int  `toml:"expiry_days"` // Fixed validity window for a verified session
	KeepAlive  bool `toml:"keep_alive"`  // Keep browser processes warm between syncs
}

// StepPolicy defines the timeout and retry budget for one browser step type.
// The same policy primitive is applied uniformly to every call site so
// failure/retry semantics are auditable in one place.
type StepPolicy struct {
	Timeout  time.Duration `toml:"timeout"`
	Attempts int           `toml:"attempts"`
	Backoff  time.Duration `toml:"backoff"`
}

// StepPolicyConfig is the coherent policy table covering every step type.
type StepPolicyConfig struct {
	Navigate StepPolicy `toml:"navigate"`
	Fill     StepPolicy `toml:"fill"`
	Click    StepPolicy `toml:"click"`
	Download StepPolicy `toml:"download"`
	Verify   StepPolicy `toml:"verify"`
}

// PlatformDirConfig contains configuration for platform profile file loading
type PlatformDirConfig struct {
	Dir string `toml:"dir"` // Directory containing platform profile files (TOML)
}

// CredentialsConfig contains configuration for credential file loading
type CredentialsConfig struct {
	Dir string `toml:"dir"` // Directory containing tenant credential files (TOML)
}

// DirectoryConfig contains configuration for the fleet/driver directory loader
type DirectoryConfig struct {
	Dir string `toml:"dir"` // Directory containing tenant vehicle/driver files (TOML)
}

// SchedulerConfig contains configuration for scheduled sync runs
type SchedulerConfig struct {
	Enabled bool            `toml:"enabled"`
	Syncs   []ScheduledSync `toml:"syncs"`
}

// ScheduledSync describes one recurring sync for a tenant
type ScheduledSync struct {
	Tenant    string   `toml:"tenant" validate:"required"`
	Platforms []string `toml:"platforms" validate:"required,min=1"`
	Schedule  string   `toml:"schedule" validate:"required"` // Cron expression
	RangeDays int      `toml:"range_days"`                   // Date range to extract, counted back from now
}

// OTPConfig contains mailbox polling configuration for one-time codes.
// When a platform declares an OTP sender, the second factor can be read from
// this mailbox instead of waiting for a human.
type OTPConfig struct {
	Enabled  bool   `toml:"enabled"`
	Server   string `toml:"server"` // IMAP host:port
	Username string `toml:"username"`
	Password string `toml:"password"`
	Folder   string `toml:"folder"`
	Timeout  string `toml:"timeout"` // How long to poll for a code, e.g. "2m"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in fleetsync.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Filesystem: FilesystemConfig{
				Profiles:    "./data/profiles",
				Artifacts:   "./data/artifacts",
				Screenshots: "./data/screenshots",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Browser: BrowserConfig{
			Headless:     true,
			NoSandbox:    false,
			DisableGPU:   true,
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			WindowWidth:  1920,
			WindowHeight: 1080,
		},
		Session: SessionConfig{
			ExpiryDays: 30,
			KeepAlive:  true,
		},
		// One coherent policy table rather than per-call-site literals.
		Steps: StepPolicyConfig{
			Navigate: StepPolicy{Timeout: 30 * time.Second, Attempts: 2, Backoff: 2 * time.Second},
			Fill:     StepPolicy{Timeout: 10 * time.Second, Attempts: 3, Backoff: 500 * time.Millisecond},
			Click:    StepPolicy{Timeout: 10 * time.Second, Attempts: 3, Backoff: 500 * time.Millisecond},
			Download: StepPolicy{Timeout: 60 * time.Second, Attempts: 1, Backoff: 0},
			Verify:   StepPolicy{Timeout: 20 * time.Second, Attempts: 2, Backoff: 3 * time.Second},
		},
		Platforms: PlatformDirConfig{
			Dir: "./platforms",
		},
		Credentials: CredentialsConfig{
			Dir: "./credentials",
		},
		Directory: DirectoryConfig{
			Dir: "./fleet",
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
		},
		OTP: OTPConfig{
			Enabled: false,
			Folder:  "INBOX",
			Timeout: "2m",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Session.ExpiryDays <= 0 {
		return fmt.Errorf("session.expiry_days must be positive, got %d", c.Session.ExpiryDays)
	}

	validate := validator.New()
	for i := range c.Scheduler.Syncs {
		if err := validate.Struct(&c.Scheduler.Syncs[i]); err != nil {
			return fmt.Errorf("scheduler.syncs[%d] invalid: %w", i, err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FLEETSYNC_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if badgerPath := os.Getenv("FLEETSYNC_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if profiles := os.Getenv("FLEETSYNC_PROFILES_DIR"); profiles != "" {
		config.Storage.Filesystem.Profiles = profiles
	}
	if artifacts := os.Getenv("FLEETSYNC_ARTIFACTS_DIR"); artifacts != "" {
		config.Storage.Filesystem.Artifacts = artifacts
	}

	if level := os.Getenv("FLEETSYNC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FLEETSYNC_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if headless := os.Getenv("FLEETSYNC_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if noSandbox := os.Getenv("FLEETSYNC_BROWSER_NO_SANDBOX"); noSandbox != "" {
		if n, err := strconv.ParseBool(noSandbox); err == nil {
			config.Browser.NoSandbox = n
		}
	}

	if dir := os.Getenv("FLEETSYNC_PLATFORMS_DIR"); dir != "" {
		config.Platforms.Dir = dir
	}
	if dir := os.Getenv("FLEETSYNC_CREDENTIALS_DIR"); dir != "" {
		config.Credentials.Dir = dir
	}

	if pw := os.Getenv("FLEETSYNC_OTP_PASSWORD"); pw != "" {
		config.OTP.Password = pw
	}
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
