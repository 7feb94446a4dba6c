package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pulsekit/pulsekit/engine/internal/dsp"
)

// Default values for the engine configuration.
const (
	DefaultSampleRate        = 30.0
	DefaultBufferSeconds     = 10.0
	MaxBufferSeconds         = 600
	DefaultHeartRateInterval = time.Second
	DefaultSessionTTL        = 2 * time.Minute
	DefaultWindowSize        = 300
	DefaultStride            = 150

	DefaultGRPCPort = 50051
	DefaultHTTPPort = 8080

	DefaultNATSSubject = "pulsekit.heart_rate"
	DefaultMQTTTopic   = "pulsekit/ble/samples"
	DefaultMQTTClient  = "pulsekit-engine"
)

// Config is the root of the engine configuration file.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	Engine   EngineConfig `yaml:"engine"`
	Server   ServerConfig `yaml:"server"`
	Alerts   AlertsConfig `yaml:"alerts"`
	Bus      BusConfig    `yaml:"bus"`
}

// EngineConfig holds the signal-processing settings.
type EngineConfig struct {
	// SampleRate is the nominal rate in Hz for sessions that do not declare
	// their own (default 30, the camera rate).
	SampleRate float64 `yaml:"sample_rate"`

	// DSP configures every stream filter created after load.
	DSP dsp.Config `yaml:"dsp"`

	// BufferSeconds is the length of each session's rolling buffers (default 10).
	BufferSeconds float64 `yaml:"buffer_seconds"`

	// HeartRateInterval is how often live heart rates are recomputed (default 1s).
	HeartRateInterval time.Duration `yaml:"heart_rate_interval"`

	// SessionTTL evicts sessions that receive no samples for this long (default 2m).
	SessionTTL time.Duration `yaml:"session_ttl"`

	// WindowSize and Stride are the offline pipeline defaults (300 / 150).
	WindowSize int `yaml:"window_size"`
	Stride     int `yaml:"stride"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	// GRPCPort is the port the sample ingest service listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API, /metrics and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key and HTTP header to read the key from.
	// Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold alert over live heart-rate updates.
type AlertRule struct {
	// Name identifies the alert and is its deduplication key.
	Name string `yaml:"name"`

	// Condition is "<field> <op> <value>", e.g. "bpm > 120", "signal == lost".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires after an alert fires. Defaults to 5 minutes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// BusConfig configures the optional message bus integrations. An empty URL
// or broker disables that side.
type BusConfig struct {
	NATS NATSConfig `yaml:"nats"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// NATSConfig configures heart-rate publishing.
type NATSConfig struct {
	URL string `yaml:"url"`

	// Subject is the prefix; updates go to "<subject>.<session_id>".
	Subject string `yaml:"subject"`
}

// MQTTConfig configures the BLE bridge subscription.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config { return defaults() }

func defaults() *Config {
	return &Config{
		LogLevel: "info",
		Engine: EngineConfig{
			SampleRate:        DefaultSampleRate,
			DSP:               dsp.DefaultConfig(),
			BufferSeconds:     DefaultBufferSeconds,
			HeartRateInterval: DefaultHeartRateInterval,
			SessionTTL:        DefaultSessionTTL,
			WindowSize:        DefaultWindowSize,
			Stride:            DefaultStride,
		},
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
		},
		Bus: BusConfig{
			NATS: NATSConfig{Subject: DefaultNATSSubject},
			MQTT: MQTTConfig{Topic: DefaultMQTTTopic, ClientID: DefaultMQTTClient},
		},
	}
}

func validate(cfg *Config) error {
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}

	e := cfg.Engine
	if !(e.SampleRate > 0) || e.SampleRate > dsp.MaxSampleRate {
		return fmt.Errorf("engine.sample_rate must be in (0, %g], got %g", dsp.MaxSampleRate, e.SampleRate)
	}
	if err := e.DSP.Validate(e.SampleRate); err != nil {
		return fmt.Errorf("engine.dsp: %w", err)
	}
	if e.BufferSeconds <= 0 || e.BufferSeconds > MaxBufferSeconds {
		return fmt.Errorf("engine.buffer_seconds must be in (0, %d], got %g", MaxBufferSeconds, e.BufferSeconds)
	}
	if e.HeartRateInterval <= 0 {
		return fmt.Errorf("engine.heart_rate_interval must be positive")
	}
	if e.SessionTTL < 0 {
		return fmt.Errorf("engine.session_ttl must not be negative")
	}
	if e.WindowSize <= 0 || e.Stride <= 0 {
		return fmt.Errorf("engine.window_size and engine.stride must be positive")
	}

	for name, port := range map[string]int{
		"server.grpc_port": cfg.Server.GRPCPort,
		"server.http_port": cfg.Server.HTTPPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s %d is out of range [1, 65535]", name, port)
		}
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}

	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if strings.TrimSpace(r.Condition) == "" {
			return fmt.Errorf("alerts.rules[%d] %q: condition is required", i, r.Name)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: type %q unknown: want slack|teams|http", i, w.Type)
		}
	}

	if cfg.Bus.MQTT.QoS > 2 {
		return fmt.Errorf("bus.mqtt.qos %d is out of range [0, 2]", cfg.Bus.MQTT.QoS)
	}
	return nil
}

// ParseLevel maps a log_level value onto a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level %q unknown: want debug|info|warn|error", s)
}
