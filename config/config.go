// Package config loads runnel settings from a YAML or JSON file, applies
// RUNNEL_* environment overrides and converts the result into engine options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/deepnoodle-ai/runnel/engine"
	"github.com/deepnoodle-ai/runnel/events"
	"github.com/deepnoodle-ai/runnel/log"
	"github.com/deepnoodle-ai/runnel/script"
)

// Event store backends
const (
	BackendNone   = "none"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds engine and CLI settings. Durations use Go duration syntax,
// e.g. "30s" or "1m30s".
type Config struct {
	LogLevel      string `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	HTTPTimeout   string `yaml:"http_timeout,omitempty" json:"http_timeout,omitempty"`
	ScriptTimeout string `yaml:"script_timeout,omitempty" json:"script_timeout,omitempty"`
	MaxEdgeVisits int    `yaml:"max_edge_visits,omitempty" json:"max_edge_visits,omitempty"`
	RunTimeout    string `yaml:"run_timeout,omitempty" json:"run_timeout,omitempty"`
	Events        Events `yaml:"events,omitempty" json:"events,omitempty"`
}

// Events selects where execution events are written.
type Events struct {
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:      "warn",
		HTTPTimeout:   engine.DefaultHTTPTimeout.String(),
		ScriptTimeout: script.DefaultTimeout.String(),
		MaxEdgeVisits: engine.DefaultMaxEdgeVisits,
		Events:        Events{Backend: BackendNone},
	}
}

// Load reads the file at path, if any, on top of the defaults and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		loaded, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		config.merge(loaded)
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) merge(other *Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.HTTPTimeout != "" {
		c.HTTPTimeout = other.HTTPTimeout
	}
	if other.ScriptTimeout != "" {
		c.ScriptTimeout = other.ScriptTimeout
	}
	if other.MaxEdgeVisits != 0 {
		c.MaxEdgeVisits = other.MaxEdgeVisits
	}
	if other.RunTimeout != "" {
		c.RunTimeout = other.RunTimeout
	}
	if other.Events.Backend != "" {
		c.Events.Backend = other.Events.Backend
	}
	if other.Events.Path != "" {
		c.Events.Path = other.Events.Path
	}
}

// ApplyEnv overrides settings from RUNNEL_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	fields := map[string]*string{
		"RUNNEL_LOG_LEVEL":      &c.LogLevel,
		"RUNNEL_HTTP_TIMEOUT":   &c.HTTPTimeout,
		"RUNNEL_SCRIPT_TIMEOUT": &c.ScriptTimeout,
		"RUNNEL_RUN_TIMEOUT":    &c.RunTimeout,
		"RUNNEL_EVENTS_BACKEND": &c.Events.Backend,
		"RUNNEL_EVENTS_PATH":    &c.Events.Path,
	}
	for name, field := range fields {
		if value, ok := lookup(name); ok && value != "" {
			*field = value
		}
	}
	if value, ok := lookup("RUNNEL_MAX_EDGE_VISITS"); ok && value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid RUNNEL_MAX_EDGE_VISITS %q: %w", value, err)
		}
		c.MaxEdgeVisits = n
	}
	return nil
}

// Validate checks that every setting can be converted.
func (c *Config) Validate() error {
	if c.LogLevel != "" && !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	for name, value := range map[string]string{
		"http_timeout":   c.HTTPTimeout,
		"script_timeout": c.ScriptTimeout,
		"run_timeout":    c.RunTimeout,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.MaxEdgeVisits < 0 {
		return fmt.Errorf("max_edge_visits must be non-negative")
	}
	switch c.Events.Backend {
	case "", BackendNone:
	case BackendFile, BackendSQLite:
		if c.Events.Path == "" {
			return fmt.Errorf("events backend %q requires a path", c.Events.Backend)
		}
	default:
		return fmt.Errorf("unknown events backend: %s", c.Events.Backend)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative: %s", value)
	}
	return d, nil
}

// Logger returns a structured logger at the configured level.
func (c *Config) Logger() log.Logger {
	return log.New(log.LevelFromString(c.LogLevel))
}

// OpenEventStore opens the configured event store. The caller closes it.
func (c *Config) OpenEventStore() (events.Store, error) {
	switch c.Events.Backend {
	case BackendFile:
		return events.NewFileStore(c.Events.Path), nil
	case BackendSQLite:
		store, err := events.NewSQLiteStore(c.Events.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "", BackendNone:
		return events.NewNullStore(), nil
	}
	return nil, fmt.Errorf("unknown events backend: %s", c.Events.Backend)
}

// EngineOptions converts the settings into engine.Options.
func (c *Config) EngineOptions(logger log.Logger, store events.Store) (engine.Options, error) {
	if err := c.Validate(); err != nil {
		return engine.Options{}, err
	}
	httpTimeout, _ := parseDuration(c.HTTPTimeout)
	scriptTimeout, _ := parseDuration(c.ScriptTimeout)
	runTimeout, _ := parseDuration(c.RunTimeout)
	return engine.Options{
		HTTPTimeout:   httpTimeout,
		ScriptTimeout: scriptTimeout,
		MaxEdgeVisits: c.MaxEdgeVisits,
		RunTimeout:    runTimeout,
		Logger:        logger,
		EventStore:    store,
	}, nil
}
