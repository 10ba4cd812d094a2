package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"DualSpectra/internal/model"
)

// ServerConfig holds listener and content settings for the measurement server.
type ServerConfig struct {
	BindAddr      string `yaml:"bind_addr"`
	HTTP2Port     int    `yaml:"http2_port"`
	HTTP3Port     int    `yaml:"http3_port"`
	TLSCertPath   string `yaml:"tls_cert_path"`
	TLSKeyPath    string `yaml:"tls_key_path"`
	ContentRoot   string `yaml:"content_root"`
	IdleTimeout   string `yaml:"idle_timeout"`
	ShutdownGrace string `yaml:"shutdown_grace"`
	LogLevel      string `yaml:"log_level"`
}

// NATSConfig configures the per-sample NATS publisher.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// GobConfig configures the on-disk gob snapshot writer.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// ClickHouseConfig holds the connection settings for the ClickHouse writer.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WriterDef defines a single snapshot writer from the config file.
type WriterDef struct {
	Type             string           `yaml:"type"`
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	Gob              GobConfig        `yaml:"gob"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
}

// ExportConfig groups the optional metric export paths.
type ExportConfig struct {
	NATS    NATSConfig  `yaml:"nats"`
	Writers []WriterDef `yaml:"writers"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Export ExportConfig `yaml:"export"`
}

// Default values applied when the config file omits a field.
const (
	DefaultBindAddr      = "0.0.0.0"
	DefaultHTTP2Port     = 8443
	DefaultHTTP3Port     = 8444
	DefaultIdleTimeout   = "60s"
	DefaultShutdownGrace = "5s"
	DefaultLogLevel      = "info"
)

// LoadConfig reads the configuration from a YAML file and returns a Config
// struct with defaults applied.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = DefaultBindAddr
	}
	if c.Server.HTTP2Port == 0 {
		c.Server.HTTP2Port = DefaultHTTP2Port
	}
	if c.Server.HTTP3Port == 0 {
		c.Server.HTTP3Port = DefaultHTTP3Port
	}
	if c.Server.IdleTimeout == "" {
		c.Server.IdleTimeout = DefaultIdleTimeout
	}
	if c.Server.ShutdownGrace == "" {
		c.Server.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = DefaultLogLevel
	}
}

// Validate checks that every field needed to bind the listeners is present
// and well-formed. It is called before any listener binds.
func (c *Config) Validate() error {
	if c.Server.TLSCertPath == "" || c.Server.TLSKeyPath == "" {
		return fmt.Errorf("%w: tls_cert_path and tls_key_path are required", model.ErrConfigError)
	}
	if c.Server.ContentRoot == "" {
		return fmt.Errorf("%w: content_root is required", model.ErrConfigError)
	}
	if c.Server.HTTP2Port <= 0 || c.Server.HTTP2Port > 65535 {
		return fmt.Errorf("%w: invalid http2_port: %d", model.ErrConfigError, c.Server.HTTP2Port)
	}
	if c.Server.HTTP3Port <= 0 || c.Server.HTTP3Port > 65535 {
		return fmt.Errorf("%w: invalid http3_port: %d", model.ErrConfigError, c.Server.HTTP3Port)
	}
	if c.Server.LogLevel != "info" && c.Server.LogLevel != "debug" {
		return fmt.Errorf("%w: log_level must be \"info\" or \"debug\", got %q", model.ErrConfigError, c.Server.LogLevel)
	}
	if _, err := c.ParseIdleTimeout(); err != nil {
		return err
	}
	if _, err := c.ParseShutdownGrace(); err != nil {
		return err
	}
	return nil
}

// ParseIdleTimeout returns the idle timeout as a duration.
func (c *Config) ParseIdleTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Server.IdleTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid idle_timeout %q: %w", c.Server.IdleTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("idle_timeout must be positive, got %q", c.Server.IdleTimeout)
	}
	return d, nil
}

// ParseShutdownGrace returns the shutdown grace period as a duration.
func (c *Config) ParseShutdownGrace() (time.Duration, error) {
	d, err := time.ParseDuration(c.Server.ShutdownGrace)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdown_grace %q: %w", c.Server.ShutdownGrace, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("shutdown_grace must be positive, got %q", c.Server.ShutdownGrace)
	}
	return d, nil
}
