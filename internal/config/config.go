package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the answering service base URL when nothing else is set.
const DefaultEndpoint = "http://localhost:5000"

// EnvEndpoint overrides the configured endpoint.
const EnvEndpoint = "WINGCHAT_BACKEND_URL"

const fileName = "config.yaml"

// Config is persisted in ~/.wingchat/config.yaml.
type Config struct {
	Endpoint     string        `yaml:"endpoint,omitempty"`
	ReplyTimeout string        `yaml:"reply_timeout,omitempty"` // e.g. "90s"; empty waits forever
	Logging      LoggingConfig `yaml:"logging,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// Load reads config.yaml from dir. A missing file is not an error: the
// zero-value config is used. The environment override and defaults are
// applied afterwards.
func Load(dir string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if ep := os.Getenv(EnvEndpoint); ep != "" {
		cfg.Endpoint = ep
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Endpoint = strings.TrimRight(strings.TrimSpace(c.Endpoint), "/")
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must be an http or https URL, got %q", c.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint has no host: %q", c.Endpoint)
	}
	if _, err := c.ReplyTimeoutDuration(); err != nil {
		return err
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}

// ReplyTimeoutDuration parses ReplyTimeout. Empty means zero (disabled).
func (c *Config) ReplyTimeoutDuration() (time.Duration, error) {
	if c.ReplyTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ReplyTimeout)
	if err != nil {
		return 0, fmt.Errorf("reply_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("reply_timeout must not be negative")
	}
	return d, nil
}

// Save writes config.yaml to dir.
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fileName), data, 0644)
}
