package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehttp/internal/link"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" toml:"log_level" default:"warn"`

	// Role is how the node meets the gateway: "scan" or "advertise".
	Role string `yaml:"role" toml:"role" default:"scan"`
	// Peer, when set, is dialled directly instead of scanning.
	Peer string `yaml:"peer" toml:"peer"`

	ScanTimeout     time.Duration `yaml:"scan_timeout" toml:"scan_timeout" default:"10s"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" toml:"connect_timeout" default:"10s"`
	TransferTimeout time.Duration `yaml:"transfer_timeout" toml:"transfer_timeout" default:"30s"`

	FragmentSize int `yaml:"fragment_size" toml:"fragment_size" default:"18"`
	PageSize     int `yaml:"page_size" toml:"page_size" default:"22"`
	BodyCapacity int `yaml:"body_capacity" toml:"body_capacity" default:"512"`

	SocketPath string `yaml:"socket_path" toml:"socket_path" default:"/tmp/blehttp.sock"`

	Gateway GatewayConfig `yaml:"gateway" toml:"gateway"`
}

// GatewayConfig configures the gateway (peer) side
type GatewayConfig struct {
	Name        string        `yaml:"name" toml:"name" default:"blehttp-gw"`
	HoldTimeout time.Duration `yaml:"hold_timeout" toml:"hold_timeout" default:"5s"`
	HTTPTimeout time.Duration `yaml:"http_timeout" toml:"http_timeout" default:"15s"`
	BodyLimit   int           `yaml:"body_limit" toml:"body_limit" default:"512"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) file over the defaults.
// Keys missing from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be fixed up by defaults
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	role, err := link.ParseRole(c.Role)
	if err != nil {
		return err
	}
	if role == link.RoleAdvertise && c.Peer != "" {
		return fmt.Errorf("peer %q requires role scan: an advertising node is dialled by the gateway", c.Peer)
	}
	switch {
	case c.FragmentSize <= 0:
		return fmt.Errorf("fragment_size must be positive, got %d", c.FragmentSize)
	case c.PageSize <= 0:
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	case c.BodyCapacity < c.PageSize:
		return fmt.Errorf("body_capacity (%d) must hold at least one page (%d)", c.BodyCapacity, c.PageSize)
	}
	return nil
}

// Level parses LogLevel
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", c.LogLevel)
	}
	return level, nil
}

// SessionOptions returns the link session settings
func (c *Config) SessionOptions() link.Options {
	role, _ := link.ParseRole(c.Role)
	return link.Options{
		Role:         role,
		FragmentSize: c.FragmentSize,
		PageSize:     c.PageSize,
		BodyCapacity: c.BodyCapacity,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, _ := c.Level()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
