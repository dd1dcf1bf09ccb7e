package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"igharvest/pkg/config"
	"igharvest/pkg/logger"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFormat  string
	dbDriver   string
	dbURL      string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "igharvest",
	Short: "Instagram media API and product extraction pipeline",
	Long: `igharvest serves Instagram profiles, posts and stories over HTTP through a
single logged-in session, and runs a pipeline that asks a language model to
recognize retail products in story and post images and stores them.

Configuration is read from (highest priority first):
  - Command line flags
  - Environment variables (IGHARVEST_*, OPENAI_API_KEY, DATABASE_URL)
  - .env files
  - Configuration file (.igharvest.yaml, ~/.config/igharvest/config.yaml)
  - Default values`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .igharvest.yaml or ~/.config/igharvest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", "", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL")

	rootCmd.SetVersionTemplate(`igharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads the configuration with the global flags and extra
// command flags applied on top.
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := map[string]interface{}{
		"log-level":  logLevel,
		"log-format": logFormat,
		"db-driver":  dbDriver,
		"db-url":     dbURL,
	}
	for k, v := range extra {
		flags[k] = v
	}
	return config.Load(configFile, flags)
}

// setup loads the configuration and initializes the global logger.
func setup(extra map[string]interface{}) (*config.Config, logger.Logger, error) {
	cfg, err := loadConfig(extra)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Debug("igharvest starting")
	return cfg, log, nil
}
