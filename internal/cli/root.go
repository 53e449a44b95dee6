// Package cli implements the command-line interface for offlog.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kilupskalvis/offlog/internal/config"
	"github.com/kilupskalvis/offlog/internal/control"
	"github.com/kilupskalvis/offlog/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagDataDir      string
	flagLogLevel     string
	flagLogFormat    string
	flagControlURL   string
	flagControlToken string
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Logger *slog.Logger
	Store  store.Backend
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}

// initContext loads the configuration and sets up logging.
func initContext() *cmdContext {
	cfg, err := config.Load(flagDataDir)
	if err != nil {
		exitError("%v", err)
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if flagControlURL != "" {
		cfg.Control.URL = flagControlURL
	}
	if flagControlToken != "" {
		cfg.Control.Token = flagControlToken
	}
	if err := cfg.Validate(); err != nil {
		exitError("%v", err)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return &cmdContext{Config: cfg, Logger: logger}
}

// initStoreContext also opens the configured store.
func initStoreContext() *cmdContext {
	c := initContext()
	st, err := openStore(c.Config)
	if err != nil {
		exitError("failed to open store: %v", err)
	}
	c.Store = st
	return c
}

// controlClient returns a client for the running daemon.
func (c *cmdContext) controlClient() *control.Client {
	return control.NewClient(c.Config.ControlURL(), c.Config.Control.Token)
}

var rootCmd = &cobra.Command{
	Use:   "offlog",
	Short: "Offline durability for food-log submissions",
	Long: `offlog keeps food-log submissions from being lost when the network is
unavailable. A local proxy queues failed submissions and a background worker
replays them once connectivity returns. Photo captures are buffered locally
and deduplicated by content until they are processed.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDataDir, "data-dir", config.DefaultDataDir(), "Data directory (env: OFFLOG_DATA_DIR)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format (json|text)")
	pf.StringVar(&flagControlURL, "control-url", "", "Control API base URL (env: OFFLOG_CONTROL_URL)")
	pf.StringVar(&flagControlToken, "token", "", "Control API token (env: OFFLOG_CONTROL_TOKEN)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mutationsCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(configCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
