package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Feed identifies one live GTFS-RT endpoint.
type Feed struct {
	Label string `mapstructure:"label"`
	URL   string `mapstructure:"url"`
}

// Config holds all configuration for the collector and scorer services
type Config struct {
	// Observation store
	DatabasePath string `mapstructure:"database_path"`

	// Feed polling
	Feeds          []Feed        `mapstructure:"feeds"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	WindowSec      int           `mapstructure:"window_sec"`

	// Retention of old observations
	RetentionDuration time.Duration `mapstructure:"retention"`

	// Scoring
	ScorerInterval time.Duration `mapstructure:"scorer_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	ModelsDir      string        `mapstructure:"models_dir"`
}

// defaultFeeds are the eight MTA subway GTFS-RT line-family feeds.
// The subway feeds require no API key; the %2F in the path is mandatory.
func defaultFeeds() []map[string]string {
	base := "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs"
	return []map[string]string{
		{"label": "ACE", "url": base + "-ace"},
		{"label": "BDFM", "url": base + "-bdfm"},
		{"label": "G", "url": base + "-g"},
		{"label": "JZ", "url": base + "-jz"},
		{"label": "NQRW", "url": base + "-nqrw"},
		{"label": "L", "url": base + "-l"},
		{"label": "SI", "url": base + "-si"},
		{"label": "1234567", "url": base},
	}
}

// Load reads configuration from an optional config file and environment variables.
// Env vars use the HEADWAY_ prefix (e.g. HEADWAY_DATABASE_PATH).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("HEADWAY")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", "/data/headway.db")

	v.SetDefault("feeds", defaultFeeds())
	v.SetDefault("poll_interval", "30s")
	v.SetDefault("request_timeout", "20s")
	v.SetDefault("max_attempts", 5)
	v.SetDefault("retry_base_delay", "1s")
	v.SetDefault("window_sec", 300)

	v.SetDefault("retention", "72h")

	v.SetDefault("scorer_interval", "30s")
	v.SetDefault("batch_size", 128)
	v.SetDefault("models_dir", "/data/models")
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if len(c.Feeds) == 0 {
		return fmt.Errorf("at least one feed must be configured")
	}
	for _, f := range c.Feeds {
		if f.Label == "" || f.URL == "" {
			return fmt.Errorf("feed entries require both label and url")
		}
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s")
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("request_timeout must be at least 1s")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.WindowSec < 1 {
		return fmt.Errorf("window_sec must be at least 1")
	}
	if c.RetentionDuration <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.ScorerInterval < time.Second {
		return fmt.Errorf("scorer_interval must be at least 1s")
	}
	return nil
}
