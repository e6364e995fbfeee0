package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Output formats understood by the CLI.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	ScanPeriod     time.Duration `yaml:"scan_period" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	AutoSubscribe  bool          `yaml:"auto_subscribe" default:"true"`
	OutputFormat   string        `yaml:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file on top of the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values that YAML decoding cannot.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.OutputFormat) {
	case FormatTable, FormatJSON:
	default:
		return fmt.Errorf("unsupported output format %q (use %s or %s)", c.OutputFormat, FormatTable, FormatJSON)
	}
	if c.ScanPeriod < 0 {
		return fmt.Errorf("scan_period must not be negative")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
