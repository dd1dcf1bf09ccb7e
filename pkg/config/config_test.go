package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// clearEnv blanks variables that would otherwise leak in from the host.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"OPENAI_API_KEY", "DATABASE_URL",
		EnvPrefix + "TARGETS", EnvPrefix + "PORT", EnvPrefix + "LOG_LEVEL",
		EnvPrefix + "DEBUG", EnvPrefix + "DATABASE_URL", EnvPrefix + "LLM_API_KEY",
	} {
		t.Setenv(name, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 3600, cfg.Pipeline.IntervalSeconds)
	assert.Equal(t, time.Hour, cfg.Pipeline.Interval())
	assert.Equal(t, 1, cfg.LLM.Retries)
	assert.Equal(t, time.Second, cfg.LLM.RetryBaseDelay)
	assert.Equal(t, 12000, cfg.LLM.MaxImageChars)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 800, cfg.LLM.MaxTokens)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"PORT", "9090")
	t.Setenv(EnvPrefix+"TARGETS", "shop_one, shop_two ,,post:Cx1")
	t.Setenv(EnvPrefix+"CALL_TIMEOUT", "5s")
	t.Setenv(EnvPrefix+"DEBUG", "true")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv(EnvPrefix+"DB_DRIVER", "postgres")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"shop_one", "shop_two", "post:Cx1"}, cfg.Pipeline.Targets)
	assert.Equal(t, 5*time.Second, cfg.Session.CallTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Database.URL)
}

func TestLoadFromEnvReportsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"PORT", "eighty")
	t.Setenv(EnvPrefix+"CALL_TIMEOUT", "soon")

	err := DefaultConfig().LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvPrefix+"PORT")
	assert.Contains(t, err.Error(), EnvPrefix+"CALL_TIMEOUT")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 8123
session:
  workers: 3
  call_timeout: 45s
pipeline:
  targets: [alpha, beta]
  market_hint: Lidl
llm:
  retry_base_delay: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Session.Workers)
	assert.Equal(t, 45*time.Second, cfg.Session.CallTimeout)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Pipeline.Targets)
	assert.Equal(t, "Lidl", cfg.Pipeline.MarketHint)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.RetryBaseDelay)
	// untouched keys keep their defaults
	assert.Equal(t, 3600, cfg.Pipeline.IntervalSeconds)
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0644))
	err = cfg.LoadFromFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"no workers", func(c *Config) { c.Session.Workers = 0 }, "session workers"},
		{"negative retries", func(c *Config) { c.LLM.Retries = -1 }, "llm retries"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "unsupported database driver"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Port = -1
		cfg.Session.Workers = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server port")
		assert.Contains(t, err.Error(), "session workers")
	})
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"port":      9999,
		"targets":   []string{"a"},
		"log-level": "warn",
		"db-url":    "",
	})

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"a"}, cfg.Pipeline.Targets)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, DefaultConfig().Database.URL, cfg.Database.URL)
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\n  host: 127.0.0.1\nlogging:\n  level: error\n"), 0644))

	t.Setenv(EnvPrefix+"LOG_LEVEL", "warn")
	t.Setenv(EnvPrefix+"PORT", "7100")

	cfg, err := Load(path, map[string]interface{}{"port": 7200})
	require.NoError(t, err)

	assert.Equal(t, 7200, cfg.Server.Port)        // flag
	assert.Equal(t, "warn", cfg.Logging.Level)    // env
	assert.Equal(t, "127.0.0.1", cfg.Server.Host) // file
}

func TestLoadValidationFailure(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0644))

	cfg, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Nil(t, cfg)
}

func TestSaveAndRedact(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-secret"
	cfg.Database.URL = "postgres://user:pw@db/harvest"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var loaded Config
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	assert.Equal(t, cfg.Session.CallTimeout, loaded.Session.CallTimeout)

	red := cfg.Redacted()
	assert.Equal(t, "********", red.LLM.APIKey)
	assert.Equal(t, "********", red.Database.URL)
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
}
