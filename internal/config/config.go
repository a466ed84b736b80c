// Package config provides configuration loading, defaults and validation for
// the netio-mcp server.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ResourceFilter holds allowlist and denylist glob patterns.
type ResourceFilter struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// SafetyConfig groups the outlet filter.
type SafetyConfig struct {
	Outlets ResourceFilter `yaml:"outlets"`
}

// AuditConfig controls audit logging behaviour.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// ServerConfig holds network and authentication settings of the MCP endpoint.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// DeviceConfig holds the connection details of the NETIO device.
type DeviceConfig struct {
	// Address is a host, host:port or http(s):// base URL.
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Path is the JSON API path on the device.
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
	// OutletCount is used for "all outlets" until the device has reported
	// its own count.
	OutletCount int `yaml:"outlet_count"`
}

// PollingConfig controls the background reader.
type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MQTTConfig holds the MQTT bridge settings.
type MQTTConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Broker           string        `yaml:"broker"`
	ClientID         string        `yaml:"client_id"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	BaseTopic        string        `yaml:"base_topic"`
	HADiscovery      bool          `yaml:"ha_discovery"`
	HADiscoveryTopic string        `yaml:"ha_discovery_topic"`
	Timeout          time.Duration `yaml:"timeout"`
}

// LoggingConfig selects log level and output format ("json" or "console").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the top-level configuration structure for the netio-mcp server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Device  DeviceConfig  `yaml:"device"`
	Polling PollingConfig `yaml:"polling"`
	Safety  SafetyConfig  `yaml:"safety"`
	Audit   AuditConfig   `yaml:"audit"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig, so
// keys absent from the file keep their defaults. On error, nil is returned
// for the config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a new Config populated with default values. Each call
// returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Device: DeviceConfig{
			Username:    "netio",
			Password:    "netio",
			Path:        "/netio.json",
			Timeout:     2 * time.Second,
			OutletCount: 4,
		},
		Polling: PollingConfig{
			Interval: time.Second,
		},
		Audit: AuditConfig{
			Enabled: true,
			LogPath: "/config/audit.log",
		},
		MQTT: MQTTConfig{
			ClientID:         "netio-mcp",
			BaseTopic:        "netio",
			HADiscoveryTopic: "homeassistant",
			Timeout:          5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Recognized variables:
//   - NETIO_ADDRESS, NETIO_USERNAME, NETIO_PASSWORD override cfg.Device
//   - NETIO_MCP_AUTH_TOKEN overrides cfg.Server.AuthToken
//   - NETIO_MQTT_BROKER overrides cfg.MQTT.Broker and enables the bridge
//   - NETIO_LOG_LEVEL overrides cfg.Logging.Level
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NETIO_ADDRESS"); v != "" {
		cfg.Device.Address = v
	}
	if v := os.Getenv("NETIO_USERNAME"); v != "" {
		cfg.Device.Username = v
	}
	if v := os.Getenv("NETIO_PASSWORD"); v != "" {
		cfg.Device.Password = v
	}
	if v := os.Getenv("NETIO_MCP_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("NETIO_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("NETIO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

var topicRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// MinPollInterval is the shortest accepted polling interval.
const MinPollInterval = 100 * time.Millisecond

// Validate reports every problem with cfg joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Device.Address) == "" {
		errs = append(errs, errors.New("device.address is required"))
	}
	if c.Device.Timeout <= 0 {
		errs = append(errs, errors.New("device.timeout must be positive"))
	}
	if c.Device.OutletCount < 0 {
		errs = append(errs, errors.New("device.outlet_count must not be negative"))
	}
	if c.Polling.Interval < MinPollInterval {
		errs = append(errs, fmt.Errorf("polling.interval must be at least %s", MinPollInterval))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
		}
		if _, err := CheckMQTTTopic(c.MQTT.BaseTopic); err != nil {
			errs = append(errs, fmt.Errorf("mqtt.base_topic: %w", err))
		}
		if _, err := CheckMQTTTopic(c.MQTT.HADiscoveryTopic); c.MQTT.HADiscovery && err != nil {
			errs = append(errs, fmt.Errorf("mqtt.ha_discovery_topic: %w", err))
		}
	}
	return errors.Join(errs...)
}

// CheckMQTTTopic lower-cases topic and checks it only contains letters,
// digits and underscores.
func CheckMQTTTopic(topic string) (string, error) {
	lower := strings.ToLower(topic)
	if !topicRe.MatchString(lower) {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lower, nil
}

// EnsureAuthToken generates a random auth token and sets it on cfg if
// cfg.Server.AuthToken is empty. It returns the token (existing or generated)
// and any error encountered during generation.
func EnsureAuthToken(cfg *Config) (string, error) {
	if cfg.Server.AuthToken != "" {
		return cfg.Server.AuthToken, nil
	}
	token, err := GenerateRandomToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	return token, nil
}

// GenerateRandomToken returns a 32-character hex-encoded cryptographically
// random token string.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Redacted returns a copy of cfg with secrets masked, for logging.
func (c Config) Redacted() Config {
	const mask = "*redacted*"
	if c.Device.Password != "" {
		c.Device.Password = mask
	}
	if c.Server.AuthToken != "" {
		c.Server.AuthToken = mask
	}
	if c.MQTT.Password != "" {
		c.MQTT.Password = mask
	}
	return c
}
