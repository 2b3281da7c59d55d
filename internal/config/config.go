// Package config loads the bridge settings.
//
// Values come from, in increasing precedence: struct defaults, the YAML
// settings file, and SHOTBRIDGE_* environment variables (a .env file is
// loaded into the environment first when present).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/registry"
	"github.com/srg/shotbridge/internal/session"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where serve looks for settings when --config is not given.
const DefaultPath = "settings.yaml"

// Environment overrides.
const (
	EnvHost      = "SHOTBRIDGE_HOST"
	EnvPort      = "SHOTBRIDGE_PORT"
	EnvDataDir   = "SHOTBRIDGE_DATA_DIR"
	EnvStaticDir = "SHOTBRIDGE_STATIC_DIR"
	EnvTitleFile = "SHOTBRIDGE_TITLE_FILE"
	EnvLogLevel  = "SHOTBRIDGE_LOG_LEVEL"
)

// Config holds application configuration
type Config struct {
	Network  NetworkConfig `yaml:"network"`
	Paths    PathsConfig   `yaml:"paths"`
	Title    TitleConfig   `yaml:"title"`
	BLE      BLEConfig     `yaml:"ble"`
	Hub      HubConfig     `yaml:"hub"`
	Device   DeviceConfig  `yaml:"device"`
	LogLevel string        `yaml:"log_level" default:"info"`
}

type NetworkConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port int    `yaml:"port" default:"8000"`
}

type PathsConfig struct {
	DataDir    string `yaml:"data_dir" default:"data"`
	ArchiveDir string `yaml:"archive_dir" default:"data/archive"`
	StaticDir  string `yaml:"static_dir" default:"static"`
	TitleFile  string `yaml:"title_file" default:"title.txt"`
}

type TitleConfig struct {
	Default string `yaml:"default" default:"SG Timer"`
}

// BLEConfig describes how timers are found and talked to.
type BLEConfig struct {
	NamePrefix       string        `yaml:"name_prefix" default:"SG-SST"`
	ScanTimeout      time.Duration `yaml:"scan_timeout" default:"4s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"30s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"5s"`
	VersionReadDelay time.Duration `yaml:"version_read_delay" default:"500ms"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval" default:"5s"`
	ServiceUUID      string        `yaml:"service_uuid" default:"7520ffff-14d2-4cda-8b6b-697c554c9311"`
	EventUUID        string        `yaml:"event_uuid" default:"75200001-14d2-4cda-8b6b-697c554c9311"`
	APIVersionUUID   string        `yaml:"api_version_uuid" default:"7520fffe-14d2-4cda-8b6b-697c554c9311"`
}

type HubConfig struct {
	// ClientQueue bounds the messages buffered for one push subscriber.
	ClientQueue int `yaml:"client_queue" default:"64"`
}

type DeviceConfig struct {
	QueueSize int `yaml:"queue_size" default:"1024"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads the settings file at path over the defaults, applies
// environment overrides and validates the result. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment. Variables that
// are already set win. A missing file is ignored.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from SHOTBRIDGE_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvHost); v != "" {
		c.Network.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvPort, v)
		}
		c.Network.Port = port
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv(EnvStaticDir); v != "" {
		c.Paths.StaticDir = v
	}
	if v := os.Getenv(EnvTitleFile); v != "" {
		c.Paths.TitleFile = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate checks that the config values are usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Network.Host) == "" {
		return fmt.Errorf("network.host must not be empty")
	}
	if c.Network.Port < 1 || c.Network.Port > 65535 {
		return fmt.Errorf("network.port must be between 1 and 65535, got %d", c.Network.Port)
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"ble.scan_timeout", c.BLE.ScanTimeout},
		{"ble.connect_timeout", c.BLE.ConnectTimeout},
		{"ble.read_timeout", c.BLE.ReadTimeout},
		{"ble.watchdog_interval", c.BLE.WatchdogInterval},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.val)
		}
	}
	if c.BLE.VersionReadDelay < 0 {
		return fmt.Errorf("ble.version_read_delay must not be negative, got %s", c.BLE.VersionReadDelay)
	}

	for key, val := range map[string]string{
		"ble.service_uuid":     c.BLE.ServiceUUID,
		"ble.event_uuid":       c.BLE.EventUUID,
		"ble.api_version_uuid": c.BLE.APIVersionUUID,
	} {
		if strings.TrimSpace(val) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
		if _, err := device.ValidateUUID(val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if c.Hub.ClientQueue <= 0 {
		return fmt.Errorf("hub.client_queue must be positive, got %d", c.Hub.ClientQueue)
	}
	if c.Device.QueueSize <= 0 {
		return fmt.Errorf("device.queue_size must be positive, got %d", c.Device.QueueSize)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel accepts the levels the CLI documents.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", level)
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Network.Host, strconv.Itoa(c.Network.Port))
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions converts the BLE and device settings for new sessions.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		EventUUID:        c.BLE.EventUUID,
		APIVersionUUID:   c.BLE.APIVersionUUID,
		ConnectTimeout:   c.BLE.ConnectTimeout,
		ReadTimeout:      c.BLE.ReadTimeout,
		VersionReadDelay: c.BLE.VersionReadDelay,
		WatchdogInterval: c.BLE.WatchdogInterval,
		QueueSize:        c.Device.QueueSize,
	}
}

func (c *Config) RegistryOptions() registry.Options {
	return registry.Options{
		NamePrefix:  c.BLE.NamePrefix,
		ScanTimeout: c.BLE.ScanTimeout,
		Session:     c.SessionOptions(),
	}
}
