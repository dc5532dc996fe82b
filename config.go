package livewatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/livewatch/internal/extract"
)

// Config holds all livewatch configuration.
type Config struct {
	// DataDir is where snapshot files and the cycle log database live.
	DataDir string `yaml:"data_dir"`

	// Listen is the address of the read-only HTTP API. Empty disables it.
	Listen string `yaml:"listen"`

	// HistoryRetention bounds the removed-record history.
	HistoryRetention time.Duration `yaml:"history_retention"`

	// Endpoints are the feed categories to watch.
	Endpoints []extract.Endpoint `yaml:"endpoints"`

	Session   SessionConfig   `yaml:"session"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig      `yaml:"http"`
	Browser   BrowserConfig   `yaml:"browser"`
}

// SessionConfig controls the session pool's lifecycle policy.
type SessionConfig struct {
	Cooldown          time.Duration `yaml:"cooldown"`
	CleanupThreshold  int           `yaml:"cleanup_threshold"`
	MaxErrorTolerance int           `yaml:"max_error_tolerance"`
	ErrorCeiling      int           `yaml:"error_ceiling"`
}

// SchedulerConfig controls the extraction loop.
type SchedulerConfig struct {
	Tick            time.Duration `yaml:"tick"`
	RecheckInterval time.Duration `yaml:"recheck_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	ExtractTimeout  time.Duration `yaml:"extract_timeout"`
	CrashThreshold  int           `yaml:"crash_threshold"`
	LogRetention    time.Duration `yaml:"log_retention"`
}

// HTTPConfig controls the plain-HTTP extraction mode.
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
	RateEvery time.Duration `yaml:"rate_every"`
}

// BrowserConfig controls the shared Chrome instance.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
}

// LoadConfig reads a YAML configuration file, applies defaults and
// validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("livewatch: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("livewatch: parse config: %w", err)
	}

	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 24 * time.Hour
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].Mode == "" {
			c.Endpoints[i].Mode = extract.ModeBrowser
		}
	}
	// Component-level zero values fall through to the component defaults;
	// only cross-cutting values are pinned here.
	if c.Scheduler.Tick <= 0 {
		c.Scheduler.Tick = 2 * time.Second
	}
}

func (c *Config) validate() error {
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	seen := make(map[string]bool, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		if ep.Category == "" {
			return fmt.Errorf("%w: endpoint %q has no category", ErrInvalidConfig, ep.URL)
		}
		if ep.URL == "" {
			return fmt.Errorf("%w: endpoint %q has no url", ErrInvalidConfig, ep.Category)
		}
		if seen[ep.Category] {
			return fmt.Errorf("%w: duplicate category %q", ErrInvalidConfig, ep.Category)
		}
		seen[ep.Category] = true
		if ep.Mode != extract.ModeBrowser && ep.Mode != extract.ModeHTTP {
			return fmt.Errorf("%w: endpoint %q has unknown mode %q", ErrInvalidConfig, ep.Category, ep.Mode)
		}
	}
	return nil
}

// needsBrowser reports whether any endpoint needs the shared browser.
func (c *Config) needsBrowser() bool {
	for _, ep := range c.Endpoints {
		if ep.Mode == extract.ModeBrowser {
			return true
		}
	}
	return false
}
