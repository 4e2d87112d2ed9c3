package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables overlaid on the file.
const (
	EnvAPIKey        = "VAPI_API_KEY"
	EnvWebhookSecret = "VAPI_WEBHOOK_SECRET"
	EnvPort          = "PORT"
	EnvConfigPath    = "CALLSIM_CONFIG"
)

// Bus kinds.
const (
	BusNone = "none"
	BusMQTT = "mqtt"
	BusNATS = "nats"
)

type Config struct {
	Platform PlatformConfig     `yaml:"platform"`
	Server   ServerConfig       `yaml:"server"`
	Registry RegistryConfig     `yaml:"registry"`
	Bus      BusConfig          `yaml:"bus"`
	Dialing  DialingConfig      `yaml:"dialing"`
	Defaults DefaultsConfig     `yaml:"defaults"`
	Personas map[string]Persona `yaml:"personas"`
	Lines    map[string]Line    `yaml:"lines"`
}

type PlatformConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type ServerConfig struct {
	Port             int           `yaml:"port"`
	WebhookPath      string        `yaml:"webhook_path"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	Heartbeat        time.Duration `yaml:"heartbeat"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

type RegistryConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type BusConfig struct {
	Kind        string     `yaml:"kind"`
	TopicPrefix string     `yaml:"topic_prefix"`
	QueueSize   int        `yaml:"queue_size"`
	MQTT        MQTTConfig `yaml:"mqtt"`
	NATS        NATSConfig `yaml:"nats"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type DialingConfig struct {
	CountryCode string `yaml:"country_code"`
}

type DefaultsConfig struct {
	Persona string `yaml:"persona"`
	Line    string `yaml:"line"`
}

// Persona is a simulated prospect hosted as an assistant on the platform.
type Persona struct {
	AssistantID string `yaml:"assistant_id"`
	Name        string `yaml:"name"`
	Label       string `yaml:"label"`
	Difficulty  string `yaml:"difficulty"`

	// Overrides are pushed to the assistant verbatim by sync.
	Overrides map[string]any `yaml:"overrides"`
}

// DisplayLabel is the short name shown on the dashboard.
func (p Persona) DisplayLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Name
}

// Line is a platform phone number used to place outbound calls.
type Line struct {
	PhoneNumberID  string `yaml:"phone_number_id"`
	Number         string `yaml:"number"`
	Name           string `yaml:"name"`
	DefaultPersona string `yaml:"default_persona"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Platform: PlatformConfig{
			BaseURL: "https://api.vapi.ai",
		},
		Server: ServerConfig{
			Port:             3000,
			WebhookPath:      "/webhook",
			MaxBodyBytes:     1 << 20,
			Heartbeat:        30 * time.Second,
			SubscriberBuffer: 64,
		},
		Registry: RegistryConfig{
			Retention:     time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Bus: BusConfig{
			Kind:        BusNone,
			TopicPrefix: "callsim",
			QueueSize:   256,
			MQTT: MQTTConfig{
				Broker:   "tcp://localhost:1883",
				ClientID: "callsim",
			},
			NATS: NATSConfig{
				URL: "nats://localhost:4222",
			},
		},
		Dialing: DialingConfig{
			CountryCode: "+1",
		},
		Defaults: DefaultsConfig{
			Persona: "joey-optimized",
			Line:    "joeyOptimized",
		},
		Personas: map[string]Persona{
			"joey-optimized": {
				AssistantID: "46dec9e9-a844-4f66-b08a-ddc44735d403",
				Name:        "Joey - Optimized",
				Label:       "Joey (Optimized)",
				Difficulty:  "medium",
				Overrides: map[string]any{
					"firstMessage":     "This is Joey. What's going on?",
					"firstMessageMode": "assistant-speaks-first",
				},
			},
			"joey-vp-growth": {
				AssistantID: "bb3b91d8-1685-4903-a124-305420959429",
				Name:        "Joey Gilkey - VP Growth",
				Label:       "Joey (VP Growth)",
				Difficulty:  "medium",
				Overrides: map[string]any{
					"firstMessage":     "This is Joey. What's this about?",
					"firstMessageMode": "assistant-speaks-first",
				},
			},
			"joey-elite": {
				AssistantID: "c068d8e8-ee09-4055-95a0-5ecf0da4c6df",
				Name:        "Joey Gilkey - VP Growth (Elite)",
				Label:       "Joey (Elite)",
				Difficulty:  "hard",
				Overrides: map[string]any{
					"firstMessage":     "Joey. You've got 60 seconds. Go.",
					"firstMessageMode": "assistant-speaks-first",
				},
			},
		},
		Lines: map[string]Line{
			"siptip": {
				PhoneNumberID:  "8e3e9f68-2ef3-433f-8f50-1efb37e89919",
				Number:         "+19122962442",
				Name:           "siptip",
				DefaultPersona: "joey-vp-growth",
			},
			"joeyOptimized": {
				PhoneNumberID:  "7f635232-905d-4185-a9d2-4d905b323779",
				Number:         "+16592167227",
				Name:           "Joey (Optimized)",
				DefaultPersona: "joey-optimized",
			},
			"joeyVpGrowth": {
				PhoneNumberID:  "aa27f637-0d91-4968-a656-80f09fc1863a",
				Number:         "+16173708226",
				Name:           "Joey - VP Growth",
				DefaultPersona: "joey-vp-growth",
			},
		},
	}
}

// Load reads a YAML file over the built-in defaults, overlays the
// environment and validates the result. Personas and lines in the file
// replace built-in entries with the same key.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault returns the built-in configuration with the environment
// overlaid.
func LoadDefault() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads path, or the file named by CALLSIM_CONFIG when path is
// empty, or the defaults when neither is set. It returns the path used.
func Resolve(path string) (*Config, string, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		cfg, err := LoadDefault()
		return cfg, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Platform.APIKey = v
	}
	if v := os.Getenv(EnvWebhookSecret); v != "" {
		c.Platform.WebhookSecret = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be a number, got %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	return nil
}

var countryCodeRE = regexp.MustCompile(`^\+[0-9]{1,3}$`)

func (c *Config) validate() error {
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.WebhookPath, "/") {
		return fmt.Errorf("server.webhook_path must start with /, got %q", c.Server.WebhookPath)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if c.Server.Heartbeat <= 0 {
		return fmt.Errorf("server.heartbeat must be positive")
	}
	if c.Server.SubscriberBuffer < 1 {
		return fmt.Errorf("server.subscriber_buffer must be at least 1, got %d", c.Server.SubscriberBuffer)
	}
	if c.Registry.Retention <= 0 {
		return fmt.Errorf("registry.retention must be positive")
	}
	if c.Registry.SweepInterval <= 0 {
		return fmt.Errorf("registry.sweep_interval must be positive")
	}

	switch c.Bus.Kind {
	case BusNone:
	case BusMQTT:
		if c.Bus.MQTT.Broker == "" {
			return fmt.Errorf("bus.mqtt.broker is required")
		}
		if c.Bus.MQTT.ClientID == "" {
			return fmt.Errorf("bus.mqtt.client_id is required")
		}
	case BusNATS:
		if c.Bus.NATS.URL == "" {
			return fmt.Errorf("bus.nats.url is required")
		}
	default:
		return fmt.Errorf("bus.kind must be one of none, mqtt, nats, got %q", c.Bus.Kind)
	}
	if c.Bus.Kind != BusNone {
		if c.Bus.TopicPrefix == "" {
			return fmt.Errorf("bus.topic_prefix is required")
		}
		if c.Bus.QueueSize < 1 {
			return fmt.Errorf("bus.queue_size must be at least 1, got %d", c.Bus.QueueSize)
		}
	}

	if !countryCodeRE.MatchString(c.Dialing.CountryCode) {
		return fmt.Errorf("dialing.country_code must look like +1, got %q", c.Dialing.CountryCode)
	}

	for _, key := range sortedKeys(c.Personas) {
		if c.Personas[key].AssistantID == "" {
			return fmt.Errorf("personas.%s.assistant_id is required", key)
		}
	}
	for _, key := range sortedKeys(c.Lines) {
		line := c.Lines[key]
		if line.PhoneNumberID == "" {
			return fmt.Errorf("lines.%s.phone_number_id is required", key)
		}
		if line.DefaultPersona != "" {
			if _, ok := c.Personas[line.DefaultPersona]; !ok {
				return fmt.Errorf("lines.%s.default_persona %q is not a configured persona", key, line.DefaultPersona)
			}
		}
	}
	if _, ok := c.Personas[c.Defaults.Persona]; !ok {
		return fmt.Errorf("defaults.persona %q is not a configured persona", c.Defaults.Persona)
	}
	if _, ok := c.Lines[c.Defaults.Line]; !ok {
		return fmt.Errorf("defaults.line %q is not a configured line", c.Defaults.Line)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
