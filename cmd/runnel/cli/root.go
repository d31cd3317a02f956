// Package cli implements the runnel command line.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepnoodle-ai/runnel/config"
	"github.com/deepnoodle-ai/runnel/engine"
	"github.com/deepnoodle-ai/runnel/events"
	"github.com/deepnoodle-ai/runnel/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	eventsPath string
)

var rootCmd = &cobra.Command{
	Use:   "runnel",
	Short: "Runnel runs node-and-edge automation workflows",
	Long: `Runnel executes workflow definitions made of trigger, action and logic
nodes connected by optionally conditional edges.

Workflows are YAML or JSON files. Settings are read from --config and from
RUNNEL_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Sprint(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a runnel config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&eventsPath, "events", "", "Record events to a directory, or to a SQLite database when the path ends in .db or .sqlite")
}

// loadConfig reads settings and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	applyEventsFlag(cfg, eventsPath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEventsFlag points the event store at path, choosing the backend from
// the file extension.
func applyEventsFlag(cfg *config.Config, path string) {
	if path == "" {
		return
	}
	cfg.Events.Path = path
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		cfg.Events.Backend = config.BackendSQLite
	default:
		cfg.Events.Backend = config.BackendFile
	}
}

// newEngine builds an engine from cfg. The returned cleanup function stops
// scheduled jobs and closes the event store.
func newEngine(cfg *config.Config) (*engine.Engine, log.Logger, func(), error) {
	logger := cfg.Logger()
	store, err := cfg.OpenEventStore()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error opening event store: %w", err)
	}
	opts, err := cfg.EngineOptions(logger, store)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	eng := engine.New(opts)
	cleanup := func() {
		if err := eng.Close(); err != nil {
			logger.Warn("failed to stop engine", "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Warn("failed to close event store", "error", err)
		}
	}
	return eng, logger, cleanup, nil
}

// openStore opens the configured event store for reading. A missing store
// is an error since there is nothing to show.
func openStore(cfg *config.Config) (events.Store, error) {
	if cfg.Events.Backend == "" || cfg.Events.Backend == config.BackendNone {
		return nil, fmt.Errorf("no event store configured; pass --events or set events.backend")
	}
	if _, err := os.Stat(cfg.Events.Path); os.IsNotExist(err) {
		return nil, fmt.Errorf("event store not found: %s\nRun some workflows with 'runnel run --events' to record executions", cfg.Events.Path)
	}
	return cfg.OpenEventStore()
}
