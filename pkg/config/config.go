// Package config loads tracker settings from a YAML file under the
// workspace, with SKILLWATCH_* environment variables overriding file
// values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/B-Whitt/skillwatch/pkg/lockfile"
)

// Config holds every tunable of the tracker. Durations use Go syntax
// ("30m", "1s") in both YAML and environment values.
type Config struct {
	Workspace string `yaml:"workspace" env:"SKILLWATCH_WORKSPACE"`
	StateFile string `yaml:"state_file" env:"SKILLWATCH_STATE_FILE"`

	PollInterval   time.Duration `yaml:"poll_interval" env:"SKILLWATCH_POLL_INTERVAL"`
	LockTimeout    time.Duration `yaml:"lock_timeout" env:"SKILLWATCH_LOCK_TIMEOUT"`
	LockStaleAfter time.Duration `yaml:"lock_stale_after" env:"SKILLWATCH_LOCK_STALE_AFTER"`

	MaxRunDuration time.Duration `yaml:"max_run_duration" env:"SKILLWATCH_MAX_RUN_DURATION"`
	MaxEventGap    time.Duration `yaml:"max_event_gap" env:"SKILLWATCH_MAX_EVENT_GAP"`

	// SweepCron schedules automatic stale sweeps ("*/5 * * * *"). When
	// empty, SweepInterval is used instead; when both are empty no
	// automatic sweep runs.
	SweepCron     string        `yaml:"sweep_cron" env:"SKILLWATCH_SWEEP_CRON"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SKILLWATCH_SWEEP_INTERVAL"`

	FeedAddr  string `yaml:"feed_addr" env:"SKILLWATCH_FEED_ADDR"`
	HistoryDB string `yaml:"history_db" env:"SKILLWATCH_HISTORY_DB"`

	Toasts   bool   `yaml:"toasts" env:"SKILLWATCH_TOASTS"`
	LogLevel string `yaml:"log_level" env:"SKILLWATCH_LOG_LEVEL"`
}

// DefaultWorkspace is ~/.skillwatch, falling back to the current directory
// when the home directory cannot be resolved.
func DefaultWorkspace() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".skillwatch"
	}
	return filepath.Join(home, ".skillwatch")
}

// Default returns the built-in configuration.
func Default() *Config {
	ws := DefaultWorkspace()
	return &Config{
		Workspace:      ws,
		PollInterval:   time.Second,
		LockTimeout:    5 * time.Second,
		LockStaleAfter: 30 * time.Second,
		MaxRunDuration: 30 * time.Minute,
		MaxEventGap:    10 * time.Minute,
		SweepInterval:  time.Minute,
		FeedAddr:       "127.0.0.1:7634",
		Toasts:         true,
		LogLevel:       "info",
	}
}

// ConfigPath returns the standard config file location.
func ConfigPath() string {
	return filepath.Join(DefaultWorkspace(), "config.yaml")
}

// Load builds the effective config: defaults, then the YAML file at path
// (a missing file is fine), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config atomically.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return lockfile.WriteAtomic(path, data)
}

// yamlConfig mirrors Config with durations as strings, since yaml.v3 has
// no native "30m" handling for time.Duration.
type yamlConfig struct {
	Workspace      string `yaml:"workspace,omitempty"`
	StateFile      string `yaml:"state_file,omitempty"`
	PollInterval   string `yaml:"poll_interval,omitempty"`
	LockTimeout    string `yaml:"lock_timeout,omitempty"`
	LockStaleAfter string `yaml:"lock_stale_after,omitempty"`
	MaxRunDuration string `yaml:"max_run_duration,omitempty"`
	MaxEventGap    string `yaml:"max_event_gap,omitempty"`
	SweepCron      string `yaml:"sweep_cron,omitempty"`
	SweepInterval  string `yaml:"sweep_interval,omitempty"`
	FeedAddr       string `yaml:"feed_addr,omitempty"`
	HistoryDB      string `yaml:"history_db,omitempty"`
	Toasts         *bool  `yaml:"toasts,omitempty"`
	LogLevel       string `yaml:"log_level,omitempty"`
}

// UnmarshalYAML overlays file values onto whatever the Config already
// holds; absent keys leave fields untouched.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw yamlConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Workspace != "" {
		c.Workspace = raw.Workspace
	}
	if raw.StateFile != "" {
		c.StateFile = raw.StateFile
	}
	if raw.FeedAddr != "" {
		c.FeedAddr = raw.FeedAddr
	}
	if raw.HistoryDB != "" {
		c.HistoryDB = raw.HistoryDB
	}
	if raw.SweepCron != "" {
		c.SweepCron = raw.SweepCron
	}
	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	if raw.Toasts != nil {
		c.Toasts = *raw.Toasts
	}
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"poll_interval", raw.PollInterval, &c.PollInterval},
		{"lock_timeout", raw.LockTimeout, &c.LockTimeout},
		{"lock_stale_after", raw.LockStaleAfter, &c.LockStaleAfter},
		{"max_run_duration", raw.MaxRunDuration, &c.MaxRunDuration},
		{"max_event_gap", raw.MaxEventGap, &c.MaxEventGap},
		{"sweep_interval", raw.SweepInterval, &c.SweepInterval},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// MarshalYAML writes durations in Go syntax so saved files stay
// human-editable.
func (c *Config) MarshalYAML() (interface{}, error) {
	toasts := c.Toasts
	out := yamlConfig{
		Workspace: c.Workspace,
		StateFile: c.StateFile,
		SweepCron: c.SweepCron,
		FeedAddr:  c.FeedAddr,
		HistoryDB: c.HistoryDB,
		Toasts:    &toasts,
		LogLevel:  c.LogLevel,
	}
	for _, d := range []struct {
		src time.Duration
		dst *string
	}{
		{c.PollInterval, &out.PollInterval},
		{c.LockTimeout, &out.LockTimeout},
		{c.LockStaleAfter, &out.LockStaleAfter},
		{c.MaxRunDuration, &out.MaxRunDuration},
		{c.MaxEventGap, &out.MaxEventGap},
		{c.SweepInterval, &out.SweepInterval},
	} {
		if d.src != 0 {
			*d.dst = d.src.String()
		}
	}
	return out, nil
}

// Validate rejects values that would make the tracker misbehave rather
// than merely run with odd tuning.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive, got %s", c.LockTimeout)
	}
	if c.MaxRunDuration < 0 || c.MaxEventGap < 0 {
		return fmt.Errorf("staleness ceilings must not be negative")
	}
	if c.SweepCron != "" {
		if !gronx.New().IsValid(c.SweepCron) {
			return fmt.Errorf("sweep_cron %q is not a valid cron expression", c.SweepCron)
		}
	}
	return nil
}

// StatePath resolves the shared state file location: an explicit
// state_file wins, otherwise <workspace>/executions.json.
func (c *Config) StatePath() string {
	if c.StateFile != "" {
		return c.StateFile
	}
	return filepath.Join(c.Workspace, "executions.json")
}

// HistoryPath resolves the sqlite archive location: an explicit history_db
// wins, otherwise <workspace>/history.db.
func (c *Config) HistoryPath() string {
	if c.HistoryDB != "" {
		return c.HistoryDB
	}
	return filepath.Join(c.Workspace, "history.db")
}
