// File: internal/config/config.go
// Package config loads and validates application configuration from
// defaults, an optional YAML file, and MARKETSTAGE_* environment
// variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/Hawhaz/marketstage/internal/humanize"
	"github.com/Hawhaz/marketstage/internal/listing"
	"github.com/Hawhaz/marketstage/internal/locator"
	"github.com/Hawhaz/marketstage/internal/recovery"
)

// LoggerConfig controls structured logging output.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls the Chrome process and page lifecycle.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ChromePath        string        `mapstructure:"chrome_path" yaml:"chrome_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ScreenshotDir     string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// SessionConfig selects and configures the session snapshot backend.
type SessionConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"` // file | postgres
	Dir         string `mapstructure:"dir" yaml:"dir"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// SubmissionConfig bounds a staging run.
type SubmissionConfig struct {
	Deadline           time.Duration `mapstructure:"deadline" yaml:"deadline"`
	Concurrency        int           `mapstructure:"concurrency" yaml:"concurrency"`
	StartRatePerMinute int           `mapstructure:"start_rate_per_minute" yaml:"start_rate_per_minute"`
}

// Config is the root application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Behavior   humanize.Config  `mapstructure:"behavior" yaml:"behavior"`
	Locator    locator.Config   `mapstructure:"locator" yaml:"locator"`
	Recovery   recovery.Policy  `mapstructure:"recovery" yaml:"recovery"`
	Listing    listing.Caps     `mapstructure:"listing" yaml:"listing"`
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	Submission SubmissionConfig `mapstructure:"submission" yaml:"submission"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.service_name", "marketstage")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.screenshot_dir", "screenshots")

	v.SetDefault("behavior.profile", "normal")
	v.SetDefault("behavior.fitts_a", 100.0)
	v.SetDefault("behavior.fitts_b", 120.0)
	v.SetDefault("behavior.max_deviation_ratio", 0.12)
	v.SetDefault("behavior.perlin_amplitude", 2.0)
	v.SetDefault("behavior.move_delay_mean_ms", 9.0)
	v.SetDefault("behavior.move_delay_std_dev_ms", 3.0)
	v.SetDefault("behavior.key_delay_log_mu", 4.2)
	v.SetDefault("behavior.key_delay_log_sigma", 0.35)
	v.SetDefault("behavior.typo_rate", 0.04)

	v.SetDefault("locator.probe_timeout", 2*time.Second)
	v.SetDefault("locator.probe_budget", 10*time.Second)

	v.SetDefault("recovery.max_transient_retries", 3)
	v.SetDefault("recovery.max_structural_retries", 1)
	v.SetDefault("recovery.backoff_base", 500*time.Millisecond)
	v.SetDefault("recovery.backoff_factor", 2.0)
	v.SetDefault("recovery.backoff_max", 8*time.Second)

	v.SetDefault("listing.max_images_item", 10)
	v.SetDefault("listing.max_images_property", 50)

	v.SetDefault("session.backend", "file")
	v.SetDefault("session.dir", "~/.marketstage/sessions")

	v.SetDefault("submission.deadline", 10*time.Minute)
	v.SetDefault("submission.concurrency", 1)
	v.SetDefault("submission.start_rate_per_minute", 2)
}

// Load reads configuration from the given file path (optional), the
// environment, and built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MARKETSTAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("marketstage")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.marketstage")
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicit path must exist; the default search path is optional.
		var notFound viper.ConfigFileNotFoundError
		if path != "" {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	if cfg.Session.Dir != "" {
		expanded, err := homedir.Expand(cfg.Session.Dir)
		if err != nil {
			return nil, fmt.Errorf("config: expanding session dir: %w", err)
		}
		cfg.Session.Dir = expanded
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Session.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Session.Backend)
	}
	if c.Session.Backend == "postgres" && c.Session.PostgresDSN == "" {
		return fmt.Errorf("config: postgres backend requires session.postgres_dsn")
	}
	if c.Submission.Concurrency < 1 {
		return fmt.Errorf("config: submission.concurrency must be at least 1")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("config: browser.navigation_timeout must be positive")
	}
	return nil
}
