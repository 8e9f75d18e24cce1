package natscomm

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultPrefix         = "tensormesh"
	DefaultConnectTimeout = 5 * time.Second
)

// Config describes one worker's identity in a NATS-backed fabric. Workers
// of one job share URL, Prefix and WorldSize and differ only in Rank.
type Config struct {
	// URL of the NATS server, e.g. "nats://127.0.0.1:4222".
	URL string `yaml:"url"`

	// Prefix namespaces all subjects of this job so that several jobs can
	// share one NATS deployment.
	Prefix string `yaml:"prefix"`

	// Rank is this worker's global rank, 0 <= Rank < WorldSize.
	Rank int `yaml:"rank"`

	// WorldSize is the total number of workers in the job.
	WorldSize int `yaml:"world_size"`

	// ConnectTimeout bounds the initial connection and the start-up
	// barrier. It does not bound collective operations; those follow the
	// no-timeout rule of the core.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LoadConfig reads a worker configuration from a YAML file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url is required")
	}
	if c.WorldSize <= 0 {
		return fmt.Errorf("config: world_size must be positive, got %d", c.WorldSize)
	}
	if c.Rank < 0 || c.Rank >= c.WorldSize {
		return fmt.Errorf("config: rank %d out of range [0,%d)", c.Rank, c.WorldSize)
	}
	return nil
}
