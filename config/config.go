// Package config holds the Configuration data model (spec §3) and its
// load/validate/defaults lifecycle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/devbackup/devbackup/logging"
	"github.com/devbackup/devbackup/utils"
)

// envPrefix is the environment-variable namespace viper binds into, mirroring
// the teacher's own cmd/root.go (viper.SetEnvPrefix("COCOON")).
const envPrefix = "DEVBACKUP"

// SchedulerConfig describes how often backups should run.
type SchedulerConfig struct {
	Type            string `yaml:"type" mapstructure:"type"`
	IntervalSeconds int    `yaml:"interval_seconds" mapstructure:"interval_seconds"`
}

// RetentionConfig is the {hourly, daily, weekly} retention policy triple (spec §4.4.7).
type RetentionConfig struct {
	Hourly int `yaml:"hourly" mapstructure:"hourly"`
	Daily  int `yaml:"daily" mapstructure:"daily"`
	Weekly int `yaml:"weekly" mapstructure:"weekly"`
}

// RetryConfig governs retries of a failed snapshot create (spec supplement, §4.4).
type RetryConfig struct {
	Count        int `yaml:"count" mapstructure:"count"`
	DelaySeconds int `yaml:"delay_seconds" mapstructure:"delay_seconds"`
}

// NotificationsConfig is consumed by an external collaborator (spec §1); the
// core only carries the flags through.
type NotificationsConfig struct {
	OnSuccess bool `yaml:"on_success" mapstructure:"on_success"`
	OnFailure bool `yaml:"on_failure" mapstructure:"on_failure"`
}

// Config is the Configuration data model (spec §3). Immutable after Load.
type Config struct {
	Destination string   `yaml:"backup_destination"   mapstructure:"backup_destination"`
	Sources     []string `yaml:"source_directories"   mapstructure:"source_directories"`
	Excludes    []string `yaml:"exclude_patterns"     mapstructure:"exclude_patterns"`

	Scheduler     SchedulerConfig     `yaml:"scheduler"     mapstructure:"scheduler"`
	Retention     RetentionConfig     `yaml:"retention"     mapstructure:"retention"`
	Logging       logging.Config      `yaml:"logging"       mapstructure:"logging"`
	Retry         RetryConfig         `yaml:"retry"         mapstructure:"retry"`
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`

	// StateDir holds devbackup's own runtime files (lock, IPC socket,
	// run-state) — ambient to the core, not part of spec §3's data model,
	// since those are implementation details of this Go module rather than
	// user-facing configuration.
	StateDir string `yaml:"state_dir" mapstructure:"state_dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	home, err := homedir.Dir()
	if err != nil {
		home = os.TempDir()
	}
	return &Config{
		Excludes: []string{
			".git/", "node_modules/", "__pycache__/", ".venv/", "*.tmp",
		},
		Scheduler: SchedulerConfig{Type: "interval", IntervalSeconds: 3600}, //nolint:mnd
		Retention: RetentionConfig{Hourly: 24, Daily: 7, Weekly: 4},         //nolint:mnd
		Logging: logging.Config{
			Level:       "info",
			MaxSizeMB:   100, //nolint:mnd
			BackupCount: 5,   //nolint:mnd
		},
		Retry:         RetryConfig{Count: 3, DelaySeconds: 30}, //nolint:mnd
		Notifications: NotificationsConfig{OnFailure: true},
		StateDir:      filepath.Join(home, ".devbackup"),
	}
}

// Load reads configuration from path (if non-empty, a YAML document), layers
// DEVBACKUP_*-prefixed environment overrides on top via viper (mirroring the
// teacher's own cmd/root.go: SetEnvPrefix + AutomaticEnv + explicit BindEnv
// for the knobs operators actually override), then validates the result.
// Defaults come from DefaultConfig and are overwritten field-by-field by
// whatever the file and environment actually set.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvOverrides(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("read config %s: %v", path, err)}
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("parse config %s: %v", path, err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := utils.EnsureDirs(cfg.StateDir); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("ensure state dir: %v", err)}
	}
	return cfg, nil
}

// setDefaults registers every leaf of cfg (as produced by DefaultConfig) with
// viper under its mapstructure key, so Unmarshal always has a complete key
// set to merge the config file and bound environment variables into —
// without this, keys neither in the file nor explicitly overridden would be
// absent from viper's merged settings and Unmarshal would leave them zeroed.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backup_destination", cfg.Destination)
	v.SetDefault("source_directories", cfg.Sources)
	v.SetDefault("exclude_patterns", cfg.Excludes)
	v.SetDefault("scheduler.type", cfg.Scheduler.Type)
	v.SetDefault("scheduler.interval_seconds", cfg.Scheduler.IntervalSeconds)
	v.SetDefault("retention.hourly", cfg.Retention.Hourly)
	v.SetDefault("retention.daily", cfg.Retention.Daily)
	v.SetDefault("retention.weekly", cfg.Retention.Weekly)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.log_file", cfg.Logging.LogFile)
	v.SetDefault("logging.error_log_file", cfg.Logging.ErrorLogFile)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.backup_count", cfg.Logging.BackupCount)
	v.SetDefault("retry.count", cfg.Retry.Count)
	v.SetDefault("retry.delay_seconds", cfg.Retry.DelaySeconds)
	v.SetDefault("notifications.on_success", cfg.Notifications.OnSuccess)
	v.SetDefault("notifications.on_failure", cfg.Notifications.OnFailure)
	v.SetDefault("state_dir", cfg.StateDir)
}

// bindEnvOverrides explicitly binds the handful of environment variables
// operators actually set to their mapstructure keys, the same way the
// teacher's cmd/root.go pairs AutomaticEnv with explicit BindPFlag calls for
// its own handful of flags. DEVBACKUP_SOURCES is comma-separated; viper's
// default decode hook splits it into a slice during Unmarshal.
func bindEnvOverrides(v *viper.Viper) {
	_ = v.BindEnv("backup_destination", "DEVBACKUP_DESTINATION")
	_ = v.BindEnv("source_directories", "DEVBACKUP_SOURCES")
	_ = v.BindEnv("logging.level", "DEVBACKUP_LOG_LEVEL")
	_ = v.BindEnv("state_dir", "DEVBACKUP_STATE_DIR")
	_ = v.BindEnv("scheduler.interval_seconds", "DEVBACKUP_SCHEDULER_INTERVAL_SECONDS")
}

// Validate checks required fields are present and internally consistent.
func (c *Config) Validate() error {
	if c.Destination == "" {
		return &ConfigError{Reason: "backup_destination is required"}
	}
	if len(c.Sources) == 0 {
		return &ConfigError{Reason: "source_directories must not be empty"}
	}
	if c.Retention.Hourly < 0 || c.Retention.Daily < 0 || c.Retention.Weekly < 0 {
		return &ConfigError{Reason: "retention counts must be non-negative"}
	}
	if c.Retry.Count < 0 {
		return &ConfigError{Reason: "retry.count must be non-negative"}
	}
	return nil
}

// LockPath is the path to the Atomic Lock's lock file.
func (c *Config) LockPath() string { return filepath.Join(c.StateDir, "devbackup.lock") }

// SocketPath is the path to the IPC Server's Unix socket.
func (c *Config) SocketPath() string { return filepath.Join(c.StateDir, "devbackup.sock") }

// RunStatePath is the path to the persisted RunState JSON file.
func (c *Config) RunStatePath() string { return filepath.Join(c.StateDir, "run-state.json") }

// RunStateLockPath is the flock file protecting RunStatePath.
func (c *Config) RunStateLockPath() string { return filepath.Join(c.StateDir, "run-state.lock") }

// ConfigError indicates malformed or missing configuration (spec §7).
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %s", e.Reason) }
