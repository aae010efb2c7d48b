// Package config loads FieldCheck sync configuration from a file and
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings the sync core needs from the host app.
type Config struct {
	// Remote endpoint
	EndpointURL string        `mapstructure:"endpoint_url"`
	AuthToken   string        `mapstructure:"auth_token"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	// Local storage
	DataDir string `mapstructure:"data_dir"`

	// Sync behavior
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	DeviceName    string        `mapstructure:"device_name"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_timeout", 30*time.Second)
	v.SetDefault("sync_interval", 15*time.Minute)
	v.SetDefault("probe_interval", 30*time.Second)
	v.SetDefault("max_attempts", 5)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from the given file (optional) with
// FIELDCHECK_* environment variables taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FIELDCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.EndpointURL == "" {
		return fmt.Errorf("endpoint_url is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.SyncInterval < time.Minute {
		return fmt.Errorf("sync_interval must be at least 1m, got %s", c.SyncInterval)
	}
	return nil
}
