package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// Config holds settings shared by the watch, phone and relay commands.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Device identity within a pairing
	Device    string `yaml:"device"`
	PairingID string `yaml:"pairing_id"`

	Transport     string `yaml:"transport"`
	RelayURL      string `yaml:"relay_url"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`

	// HTTP listen port of the relay
	Port string `yaml:"port"`
	// HTTP listen port of a device's timer state API, disabled when empty
	APIPort string `yaml:"api_port"`

	// decoded by UnmarshalYAML so files accept plain seconds too
	Duration    time.Duration `yaml:"-"`
	SendTimeout time.Duration `yaml:"-"`
}

// NewConfigFromEnv reads BLUETIME_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	return Config{
		LogLevel:      getEnv("BLUETIME_LOG_LEVEL", "info"),
		Device:        getEnv("BLUETIME_DEVICE", ""),
		PairingID:     getEnv("BLUETIME_PAIRING_ID", ""),
		Transport:     getEnv("BLUETIME_TRANSPORT", TransportWebSocket),
		RelayURL:      getEnv("BLUETIME_RELAY_URL", "ws://localhost:8082/ws/pair"),
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		SubjectPrefix: getEnv("BLUETIME_SUBJECT_PREFIX", "bluetime"),
		Port:          getEnv("BLUETIME_PORT", "8082"),
		APIPort:       getEnv("BLUETIME_API_PORT", ""),
		Duration:      getEnvAsDuration("BLUETIME_DURATION", 300*time.Second),
		SendTimeout:   getEnvAsDuration("BLUETIME_SEND_TIMEOUT", 5*time.Second),
	}
}

// Load returns the environment config overlaid with the YAML file at path,
// if path is not empty.
func Load(path string) (Config, error) {
	cfg := NewConfigFromEnv()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	// fields absent from the file keep their env values
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, cfg.Validate()
}

// UnmarshalYAML decodes durations with ParseDuration, like the environment.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	raw := struct {
		plain       `yaml:",inline"`
		Duration    *yaml.Node `yaml:"duration"`
		SendTimeout *yaml.Node `yaml:"send_timeout"`
	}{plain: plain(*c)}

	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = Config(raw.plain)

	if raw.Duration != nil {
		d, err := ParseDuration(raw.Duration.Value)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		c.Duration = d
	}
	if raw.SendTimeout != nil {
		d, err := ParseDuration(raw.SendTimeout.Value)
		if err != nil {
			return fmt.Errorf("send_timeout: %w", err)
		}
		c.SendTimeout = d
	}
	return nil
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWebSocket, TransportNATS:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

// ParseDuration parses a Go duration string or a number of seconds.
func ParseDuration(value string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return d, nil
}
