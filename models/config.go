// Package models defines data structures for configuration and ingested market data.
package models

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// OpenBarPolicy controls what happens when an intraday bar that already exists
// is fetched again.
type OpenBarPolicy string

const (
	// OpenBarSkip never touches a stored bar (first write wins).
	OpenBarSkip OpenBarPolicy = "skip"
	// OpenBarUpdate refreshes high/low/close/volume of a stored bar while its
	// interval has not elapsed yet.
	OpenBarUpdate OpenBarPolicy = "update-open"
)

// Config holds runtime configuration for loader runs.
// Values come from an optional YAML file and are overridden by CLI flags.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Provider ProviderConfig `yaml:"provider"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Intraday IntradayConfig `yaml:"intraday"`

	WorkerCount int `yaml:"workers"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`
}

type ProviderConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        uint64        `yaml:"max_retries"`
	CacheDir          string        `yaml:"cache_dir"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

type JobsConfig struct {
	StaleAfter     time.Duration `yaml:"stale_after"`
	OnActive       string        `yaml:"on_active"` // skip | wait | force-stale
	MaxFetchMisses int           `yaml:"max_fetch_misses"`
}

type IntradayConfig struct {
	Interval      time.Duration `yaml:"interval"`
	OpenBarPolicy OpenBarPolicy `yaml:"open_bar_policy"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "mktdata.db",
		},
		Provider: ProviderConfig{
			BaseURL:           "https://www.alphavantage.co/query",
			RequestsPerMinute: 5,
			Timeout:           30 * time.Second,
			MaxRetries:        4,
			CacheTTL:          0,
		},
		Jobs: JobsConfig{
			StaleAfter:     6 * time.Hour,
			OnActive:       "skip",
			MaxFetchMisses: 25,
		},
		Intraday: IntradayConfig{
			Interval:      5 * time.Minute,
			OpenBarPolicy: OpenBarSkip,
		},
		WorkerCount: 4,
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
// A missing file is not an error when path is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database dsn is empty"))
	}
	if c.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.WorkerCount))
	}
	if c.Provider.RequestsPerMinute < 1 {
		errs = append(errs, fmt.Errorf("requests_per_minute must be >= 1, got %d", c.Provider.RequestsPerMinute))
	}
	switch c.Jobs.OnActive {
	case "skip", "wait", "force-stale":
	default:
		errs = append(errs, fmt.Errorf("unknown on_active policy %q", c.Jobs.OnActive))
	}
	switch c.Intraday.OpenBarPolicy {
	case OpenBarSkip, OpenBarUpdate:
	default:
		errs = append(errs, fmt.Errorf("unknown open_bar_policy %q", c.Intraday.OpenBarPolicy))
	}
	if c.Intraday.Interval <= 0 {
		errs = append(errs, errors.New("intraday interval must be positive"))
	}
	return errors.Join(errs...)
}
