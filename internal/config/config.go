// Package config provides configuration loading for the optimizer
// server. Values come from a YAML file; durations are expressed in
// seconds and exposed through accessor methods.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full server configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Baseline    BaselineConfig    `yaml:"baseline"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	PriceFeed   PriceFeedConfig   `yaml:"priceFeed"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host                  string  `yaml:"host"`
	Port                  int     `yaml:"port"`
	ReadTimeoutSeconds    int     `yaml:"readTimeoutSeconds"`
	WriteTimeoutSeconds   int     `yaml:"writeTimeoutSeconds"`
	IdleTimeoutSeconds    int     `yaml:"idleTimeoutSeconds"`
	RequestTimeoutSeconds int     `yaml:"requestTimeoutSeconds"`
	RateLimitRPS          float64 `yaml:"rateLimitRps"`
	RateLimitBurst        int     `yaml:"rateLimitBurst"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BaselineConfig locates the pool statistics manifest.
type BaselineConfig struct {
	ManifestPath string `yaml:"manifestPath"`
}

// MaintenanceConfig configures the housekeeping loop.
type MaintenanceConfig struct {
	IntervalSeconds int `yaml:"intervalSeconds"`
}

// PriceFeedConfig configures the cloud price poller. Leave Enabled
// false to run purely on agent-reported prices.
type PriceFeedConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Region              string   `yaml:"region"`
	InstanceTypes       []string `yaml:"instanceTypes"`
	PollIntervalSeconds int      `yaml:"pollIntervalSeconds"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks required fields and applies defaults for the
// optional ones.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 30
	}
	if c.Server.IdleTimeoutSeconds == 0 {
		c.Server.IdleTimeoutSeconds = 120
	}
	if c.Server.RequestTimeoutSeconds == 0 {
		c.Server.RequestTimeoutSeconds = 15
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = 20
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rateLimitRps must be positive")
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 40
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Maintenance.IntervalSeconds == 0 {
		c.Maintenance.IntervalSeconds = 3600
	}
	if c.Maintenance.IntervalSeconds < 60 {
		return fmt.Errorf("maintenance.intervalSeconds must be >= 60")
	}

	if c.PriceFeed.Enabled {
		if c.PriceFeed.Region == "" {
			return fmt.Errorf("priceFeed.region is required when the feed is enabled")
		}
		if len(c.PriceFeed.InstanceTypes) == 0 {
			return fmt.Errorf("priceFeed.instanceTypes cannot be empty when the feed is enabled")
		}
		if c.PriceFeed.PollIntervalSeconds == 0 {
			c.PriceFeed.PollIntervalSeconds = 300
		}
		if c.PriceFeed.PollIntervalSeconds < 60 {
			return fmt.Errorf("priceFeed.pollIntervalSeconds must be >= 60")
		}
	}

	return nil
}

// ReadTimeout returns the read timeout as a duration.
func (s *ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the write timeout as a duration.
func (s *ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// IdleTimeout returns the idle timeout as a duration.
func (s *ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-request timeout as a duration.
func (s *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// Interval returns the maintenance interval as a duration.
func (m *MaintenanceConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// PollInterval returns the poll interval as a duration.
func (p *PriceFeedConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}
