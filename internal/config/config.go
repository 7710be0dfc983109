// Package config loads the device agent's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the agent configuration
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Device   DeviceConfig   `yaml:"device"`
	Region   RegionConfig   `yaml:"region"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
}

// AgentConfig identifies the agent instance
type AgentConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// DeviceConfig carries the device identity and join policy
type DeviceConfig struct {
	DevEUI       string        `yaml:"dev_eui"`
	JoinEUI      string        `yaml:"join_eui"`
	AppKey       string        `yaml:"app_key"`
	JoinAttempts int           `yaml:"join_attempts"`
	JoinBackoff  time.Duration `yaml:"join_backoff"`
}

// RegionConfig selects the regional channel plan
type RegionConfig struct {
	Name string `yaml:"name"`
}

// APIConfig represents the REST control surface configuration
type APIConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
	if appKey := os.Getenv("APP_KEY"); appKey != "" {
		c.Device.AppKey = appKey
	}
}

func (c *Config) setDefaults() {
	if c.Agent.Name == "" {
		c.Agent.Name = "lorawan-device-agent"
	}
	if c.Region.Name == "" {
		c.Region.Name = "EU868"
	}
	if c.Device.JoinAttempts == 0 {
		c.Device.JoinAttempts = 3
	}
	if c.Device.JoinBackoff == 0 {
		c.Device.JoinBackoff = 10 * time.Second
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if len(c.Device.DevEUI) != 16 {
		return fmt.Errorf("device.dev_eui must be 16 hex characters")
	}
	if len(c.Device.JoinEUI) != 16 {
		return fmt.Errorf("device.join_eui must be 16 hex characters")
	}
	if len(c.Device.AppKey) != 32 {
		return fmt.Errorf("device.app_key must be 32 hex characters")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	return nil
}
