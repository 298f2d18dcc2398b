package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a value is missing.
const (
	DefaultAPIPort         = 8080
	DefaultPollInterval    = 5 * time.Second
	MinPollInterval        = 1 * time.Second
	DefaultRestoreDuration = 300 * time.Millisecond
	DefaultTelemetryTopic  = "devices/+/telemetry"
	DefaultRegisterTopic   = "gateways/+/register"
	DefaultClientID        = "overlay-engine"
	DefaultConfigPath      = "config/engine.yaml"
)

// RecognitionMode selects how the tracker recognizes the serviced object.
type RecognitionMode string

const (
	RecognitionImage  RecognitionMode = "image"
	RecognitionObject RecognitionMode = "object"
)

type EngineConfig struct {
	Version int `yaml:"version"`
	Engine  struct {
		Name                  string          `yaml:"name"`
		TelemetryPollInterval time.Duration   `yaml:"telemetry_poll_interval"`
		RecognitionMode       RecognitionMode `yaml:"recognition_mode"`
		RestoreDuration       time.Duration   `yaml:"restore_duration"`
		Procedures            string          `yaml:"procedures"`
	} `yaml:"engine"`
	Network struct {
		APIPort int `yaml:"api_port"`
	} `yaml:"network"`
	MQTT struct {
		URL            string `yaml:"url"`
		ClientID       string `yaml:"client_id"`
		TelemetryTopic string `yaml:"telemetry_topic"`
		RegisterTopic  string `yaml:"register_topic"`
	} `yaml:"mqtt"`
	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
		// Password is never read from the file; see ResolveSecrets.
		Password string `yaml:"-"`
	} `yaml:"postgres"`
}

// Path returns the config file path from OVERLAY_CONFIG or the default.
func Path() string {
	if p := os.Getenv("OVERLAY_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// APIPort returns the configured API port, defaulting to 8080 if not set.
func (c *EngineConfig) APIPort() int {
	if c.Network.APIPort == 0 {
		return DefaultAPIPort
	}
	return c.Network.APIPort
}

// PollInterval returns the telemetry poll interval with the 1s floor
// applied.
func (c *EngineConfig) PollInterval() time.Duration {
	d := c.Engine.TelemetryPollInterval
	if d == 0 {
		return DefaultPollInterval
	}
	if d < MinPollInterval {
		return MinPollInterval
	}
	return d
}

// RestoreDuration returns the journal restore animation length.
func (c *EngineConfig) RestoreDuration() time.Duration {
	if c.Engine.RestoreDuration <= 0 {
		return DefaultRestoreDuration
	}
	return c.Engine.RestoreDuration
}

// PostgresDSN builds a lib/pq connection string. It is empty when no
// host is configured.
func (c *EngineConfig) PostgresDSN() string {
	pg := c.Postgres
	if pg.Host == "" {
		return ""
	}
	port := pg.Port
	if port == 0 {
		port = 5432
	}
	ssl := pg.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s", pg.Host, port, pg.User, pg.Database, ssl)
	if pg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", pg.Password)
	}
	return dsn
}

func (c *EngineConfig) applyDefaults() {
	if c.Engine.RecognitionMode == "" {
		c.Engine.RecognitionMode = RecognitionImage
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.TelemetryTopic == "" {
		c.MQTT.TelemetryTopic = DefaultTelemetryTopic
	}
	if c.MQTT.RegisterTopic == "" {
		c.MQTT.RegisterTopic = DefaultRegisterTopic
	}
}

func (c *EngineConfig) validate() error {
	switch c.Engine.RecognitionMode {
	case RecognitionImage, RecognitionObject:
	default:
		return fmt.Errorf("unsupported recognition_mode: %q", c.Engine.RecognitionMode)
	}
	if c.Engine.TelemetryPollInterval < 0 {
		return fmt.Errorf("telemetry_poll_interval must not be negative")
	}
	if p := c.Network.APIPort; p < 0 || p > 65535 {
		return fmt.Errorf("invalid api_port: %d", p)
	}
	return nil
}

// Parse decodes and validates an engine.yaml document.
func Parse(b []byte) (*EngineConfig, error) {
	var cfg EngineConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported engine.yaml version: %d", cfg.Version)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads engine.yaml from path and resolves secrets.
func Load(path string) (*EngineConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := cfg.ResolveSecrets(); err != nil {
		return nil, err
	}
	return cfg, nil
}
