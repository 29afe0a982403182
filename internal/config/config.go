package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	// NodeName identifies this node in channel envelopes and logs.
	NodeName string `env:"NODE_NAME" envDefault:"replica-node"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Replication defaults; per-connection settings override these.
	DefaultPageSize        int `env:"DEFAULT_PAGE_SIZE" envDefault:"500"`
	DefaultRateLimitPerMin int `env:"DEFAULT_RATE_LIMIT_PER_MIN" envDefault:"60"`
	ApprovalWindowHours    int `env:"APPROVAL_WINDOW_HOURS" envDefault:"24"`

	ChannelTimeoutSeconds int `env:"CHANNEL_TIMEOUT_SECONDS" envDefault:"30"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) ChannelTimeout() time.Duration {
	return time.Duration(c.ChannelTimeoutSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be positive")
	}
	if c.DefaultRateLimitPerMin <= 0 {
		return fmt.Errorf("DEFAULT_RATE_LIMIT_PER_MIN must be positive")
	}
	if c.ChannelTimeoutSeconds <= 0 {
		return fmt.Errorf("CHANNEL_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
