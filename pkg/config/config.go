package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "IGHARVEST_"

// Config holds all configuration options for the harvester
type Config struct {
	// HTTP API
	Server ServerConfig `yaml:"server" json:"server"`

	// Upstream client settings
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// Outbound rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Session service
	Session SessionConfig `yaml:"session" json:"session"`

	// Extraction pipeline
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Text-completion provider
	LLM LLMConfig `yaml:"llm" json:"llm"`

	// Persistence
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// LoginRatePerMinute bounds POST /login and /login/2fa per client address.
	LoginRatePerMinute int `yaml:"login_rate_per_minute" json:"login_rate_per_minute"`
	LoginBurst         int `yaml:"login_burst" json:"login_burst"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// InstagramConfig holds Instagram-specific configuration
type InstagramConfig struct {
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	AppID          string        `yaml:"app_id" json:"app_id"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	// SafeMediaFetch routes media byte downloads through an SSRF-guarded client.
	SafeMediaFetch bool `yaml:"safe_media_fetch" json:"safe_media_fetch"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	// Burst > 0 switches from a sliding window to a token bucket
	Burst int `yaml:"burst" json:"burst"`
}

// SessionConfig holds session service settings
type SessionConfig struct {
	Workers        int           `yaml:"workers" json:"workers"`
	CallTimeout    time.Duration `yaml:"call_timeout" json:"call_timeout"`
	RestoreOnStart bool          `yaml:"restore_on_start" json:"restore_on_start"`
	// ImportDir holds <username>.json session blobs written by `session import`.
	ImportDir string `yaml:"import_dir" json:"import_dir"`
}

// PipelineConfig holds extraction pipeline settings
type PipelineConfig struct {
	Targets         []string `yaml:"targets" json:"targets"`
	SnapshotTargets []string `yaml:"snapshot_targets" json:"snapshot_targets"`
	IntervalSeconds int      `yaml:"interval_seconds" json:"interval_seconds"`
	RunOnStart      bool     `yaml:"run_on_start" json:"run_on_start"`
	MarketHint      string   `yaml:"market_hint" json:"market_hint"`
	IncludeVideos   bool     `yaml:"include_videos" json:"include_videos"`
	ArchiveDir      string   `yaml:"archive_dir" json:"archive_dir"`
	Resume          bool     `yaml:"resume" json:"resume"`
	CheckpointDir   string   `yaml:"checkpoint_dir" json:"checkpoint_dir"`
}

// Interval returns the loop interval.
func (p PipelineConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// LLMConfig holds the completion provider settings
type LLMConfig struct {
	APIKey         string        `yaml:"api_key" json:"api_key"`
	Model          string        `yaml:"model" json:"model"`
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	MaxTokens      int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature    float64       `yaml:"temperature" json:"temperature"`
	Retries        int           `yaml:"retries" json:"retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	MaxImageChars  int           `yaml:"max_image_chars" json:"max_image_chars"`
}

// DatabaseConfig holds persistence settings
type DatabaseConfig struct {
	Driver      string `yaml:"driver" json:"driver"`
	URL         string `yaml:"url" json:"url"`
	AutoMigrate bool   `yaml:"auto_migrate" json:"auto_migrate"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       60 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			LoginRatePerMinute: 10,
			LoginBurst:         5,
		},
		Instagram: InstagramConfig{
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			AppID:          "936619743392459",
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			SafeMediaFetch: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Session: SessionConfig{
			Workers:        8,
			CallTimeout:    60 * time.Second,
			RestoreOnStart: true,
			ImportDir:      defaultImportDir(),
		},
		Pipeline: PipelineConfig{
			IntervalSeconds: 3600,
			RunOnStart:      true,
			CheckpointDir:   "",
		},
		LLM: LLMConfig{
			Model:          "gpt-4o-mini",
			BaseURL:        "https://api.openai.com/v1",
			Timeout:        30 * time.Second,
			MaxTokens:      800,
			Temperature:    0,
			Retries:        1,
			RetryBaseDelay: time.Second,
			MaxImageChars:  12000,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite",
			URL:         "file:igharvest.db?_pragma=busy_timeout(5000)",
			AutoMigrate: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "",
		},
	}
}

func defaultImportDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".igharvest/sessions"
	}
	return filepath.Join(home, ".config", "igharvest", "sessions")
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	// Server
	setString("HOST", &c.Server.Host)
	setInt("PORT", &c.Server.Port)
	setDuration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	setInt("LOGIN_RATE_PER_MINUTE", &c.Server.LoginRatePerMinute)

	// Instagram
	setString("USER_AGENT", &c.Instagram.UserAgent)
	setDuration("REQUEST_TIMEOUT", &c.Instagram.RequestTimeout)
	setBool("SAFE_MEDIA_FETCH", &c.Instagram.SafeMediaFetch)
	setInt("REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)
	setInt("RATE_LIMIT_BURST", &c.RateLimit.Burst)

	// Session
	setInt("WORKERS", &c.Session.Workers)
	setDuration("CALL_TIMEOUT", &c.Session.CallTimeout)
	setBool("RESTORE_ON_START", &c.Session.RestoreOnStart)
	setString("SESSION_DIR", &c.Session.ImportDir)

	// Pipeline
	if v := os.Getenv(EnvPrefix + "TARGETS"); v != "" {
		c.Pipeline.Targets = SplitList(v)
	}
	if v := os.Getenv(EnvPrefix + "SNAPSHOT_TARGETS"); v != "" {
		c.Pipeline.SnapshotTargets = SplitList(v)
	}
	setInt("INTERVAL_SECONDS", &c.Pipeline.IntervalSeconds)
	setBool("RUN_ON_START", &c.Pipeline.RunOnStart)
	setString("MARKET_HINT", &c.Pipeline.MarketHint)
	setString("ARCHIVE_DIR", &c.Pipeline.ArchiveDir)

	// LLM; the provider's conventional variable is honoured as well
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	setString("LLM_API_KEY", &c.LLM.APIKey)
	setString("LLM_MODEL", &c.LLM.Model)
	setString("LLM_BASE_URL", &c.LLM.BaseURL)
	setDuration("LLM_TIMEOUT", &c.LLM.Timeout)
	setInt("LLM_RETRIES", &c.LLM.Retries)

	// Database
	setString("DB_DRIVER", &c.Database.Driver)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	setString("DATABASE_URL", &c.Database.URL)
	setBool("AUTO_MIGRATE", &c.Database.AutoMigrate)

	// Logging
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)
	setString("LOG_FILE", &c.Logging.File)
	if debug := os.Getenv(EnvPrefix + "DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		c.Logging.Level = "debug"
	}

	return errors.Join(errs...)
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igharvest.yaml",
		".igharvest.yml",
		filepath.Join(home, ".config", "igharvest", "config.yaml"),
		filepath.Join(home, ".config", "igharvest", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server port must be between 1 and 65535"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.Server.LoginRatePerMinute <= 0 {
		errs = append(errs, errors.New("login rate per minute must be positive"))
	}

	if c.Instagram.RequestTimeout <= 0 {
		errs = append(errs, errors.New("instagram request timeout must be positive"))
	}
	if c.Instagram.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit burst cannot be negative"))
	}

	if c.Session.Workers <= 0 {
		errs = append(errs, errors.New("session workers must be positive"))
	}
	if c.Session.CallTimeout <= 0 {
		errs = append(errs, errors.New("session call timeout must be positive"))
	}

	if c.Pipeline.IntervalSeconds <= 0 {
		errs = append(errs, errors.New("pipeline interval must be positive"))
	}

	if c.LLM.Retries < 0 {
		errs = append(errs, errors.New("llm retries cannot be negative"))
	}
	if c.LLM.RetryBaseDelay < 0 {
		errs = append(errs, errors.New("llm retry base delay cannot be negative"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm timeout must be positive"))
	}
	if c.LLM.MaxImageChars <= 0 {
		errs = append(errs, errors.New("llm max image chars must be positive"))
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database url is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.LLM.APIKey != "" {
		cp.LLM.APIKey = "********"
	}
	if strings.Contains(cp.Database.URL, "@") {
		cp.Database.URL = "********"
	}
	return &cp
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in flags are applied.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if host, ok := flags["host"].(string); ok && host != "" {
		c.Server.Host = host
	}
	if port, ok := flags["port"].(int); ok && port > 0 {
		c.Server.Port = port
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Session.Workers = workers
	}
	if targets, ok := flags["targets"].([]string); ok && len(targets) > 0 {
		c.Pipeline.Targets = targets
	}
	if interval, ok := flags["interval"].(int); ok && interval > 0 {
		c.Pipeline.IntervalSeconds = interval
	}
	if driver, ok := flags["db-driver"].(string); ok && driver != "" {
		c.Database.Driver = driver
	}
	if dbURL, ok := flags["db-url"].(string); ok && dbURL != "" {
		c.Database.URL = dbURL
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat, ok := flags["log-format"].(string); ok && logFormat != "" {
		c.Logging.Format = logFormat
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
