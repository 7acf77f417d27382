// Package config handles configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/btproxy/btproxyd/pkg/logger"
)

// Default config file locations, checked in order when no explicit path is
// given.
var configPaths = []string{
	"./btproxyd.yaml",
	"./btproxyd.yml",
	"~/.config/btproxyd/config.yaml",
	"/etc/btproxyd/config.yaml",
}

// Config is the root configuration for the proxy daemon.
type Config struct {
	Server  ServerConfig  `yaml:"server" validate:"required"`
	Device  DeviceConfig  `yaml:"device" validate:"required"`
	Logging logger.Config `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig controls the ESPHome native API listener and connection
// pool sizing.
type ServerConfig struct {
	// BindAddress is the host:port the API listener binds to.
	BindAddress string `yaml:"bind_address" validate:"required"`

	// Password, if set, is required on ConnectRequest before a client is
	// authenticated.
	Password string `yaml:"password"`

	// MaxConnections bounds the BLE connection slot pool.
	MaxConnections int `yaml:"max_connections" validate:"min=0,max=64"`

	// ActiveConnectionsEnabled gates whether BluetoothDeviceRequest
	// connect attempts are honored at all.
	ActiveConnectionsEnabled bool `yaml:"active_connections_enabled"`

	// ReadTimeout is loaded and saved with the config but not read by the
	// API server, which drops a client after a fixed 30 seconds without
	// receiving any data.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight client disconnects.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DeviceConfig controls the identity the proxy reports to clients.
type DeviceConfig struct {
	Name         string `yaml:"name" validate:"required"`
	FriendlyName string `yaml:"friendly_name"`
}

// MetricsConfig controls the Prometheus/health HTTP surface.
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BindAddress string `yaml:"bind_address"`
}

// Load loads configuration from path, or from the first default location
// that exists, or returns DefaultConfig if none is found.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}

	for _, p := range configPaths {
		if len(p) > 0 && p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	cfg := DefaultConfig()
	return cfg, Validate(cfg)
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies struct tag validation to cfg.
func Validate(cfg *Config) error {
	validate := validator.New()
	return validate.Struct(cfg)
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns the proxy's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:     ":6053",
			MaxConnections:  8,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 3 * time.Second,
		},
		Device: DeviceConfig{
			Name:         "btproxyd",
			FriendlyName: "Bluetooth Proxy",
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			BindAddress: ":9090",
		},
	}
}
