package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds
const (
	TransportHomeAssistant = "homeassistant"
	TransportHue           = "hue"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig           `yaml:"log"`
	Transport       TransportConfig     `yaml:"transport"`
	HomeAssistant   HomeAssistantConfig `yaml:"homeassistant"`
	Hue             HueConfig           `yaml:"hue"`
	Groups          map[string][]string `yaml:"groups"`
	Flash           FlashConfig         `yaml:"flash"`
	Chime           ChimeConfig         `yaml:"chime"`
	Ring            RingConfig          `yaml:"ring"`
	MQTT            MQTTConfig          `yaml:"mqtt"`
	API             APIConfig           `yaml:"api"`
	Database        DatabaseConfig      `yaml:"database"`
	Ledger          LedgerConfig        `yaml:"ledger"`
	Influx          InfluxConfig        `yaml:"influx"`
	EventBus        EventBusConfig      `yaml:"eventbus"`
	ShutdownTimeout Duration            `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// TransportConfig selects and tunes the device transport
type TransportConfig struct {
	Kind           string   `yaml:"kind"`            // homeassistant | hue
	CommandTimeout Duration `yaml:"command_timeout"` // Per-call timeout (default: 5s)
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`  // Calls per second (default: 20)
}

// HomeAssistantConfig contains Home Assistant connection settings
type HomeAssistantConfig struct {
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Timeout       Duration `yaml:"timeout"`
	Discover      bool     `yaml:"discover"`       // Browse mDNS when url is empty
	EventEntities []string `yaml:"event_entities"` // Doorbell event entities to watch

	// Websocket reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // default: 1s
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // default: 1m
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // default: 2.0
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge   string   `yaml:"bridge"`
	Token    string   `yaml:"token"`
	CacheTTL Duration `yaml:"cache_ttl"` // Group membership cache TTL (default: 5m)
}

// FlashConfig holds flash defaults
type FlashConfig struct {
	Targets         []string `yaml:"targets"`
	Flashes         int      `yaml:"flashes"`
	On              Duration `yaml:"on"`
	Off             Duration `yaml:"off"`
	BrightnessPct   float64  `yaml:"brightness_pct"`
	Brightness      float64  `yaml:"brightness"` // Raw 1-255, overrides brightness_pct
	Color           string   `yaml:"color"`
	Restore         *bool    `yaml:"restore"` // default: true
	RestoreSettle   Duration `yaml:"restore_settle"`
	Refresh         *bool    `yaml:"refresh"` // default: true for homeassistant
	RefreshDelay    Duration `yaml:"refresh_delay"`
	SuppressWhileOn []string `yaml:"suppress_while_on"`
}

// GetRestore returns whether flashes restore prior state
func (c *FlashConfig) GetRestore() bool {
	return c.Restore == nil || *c.Restore
}

// ChimeConfig holds chime defaults
type ChimeConfig struct {
	Players        []string `yaml:"players"`
	MediaURL       string   `yaml:"media_url"`
	MediaType      string   `yaml:"media_type"`
	Volume         float64  `yaml:"volume"`
	Duration       Duration `yaml:"duration"` // 0 = use media length
	Stagger        Duration `yaml:"stagger"`
	SnapshotDomain string   `yaml:"snapshot_domain"`
	WithGroup      *bool    `yaml:"with_group"` // default: true
}

// GetWithGroup returns whether player snapshots include the speaker group
func (c *ChimeConfig) GetWithGroup() bool {
	return c.WithGroup == nil || *c.WithGroup
}

// RingConfig contains orchestration settings
type RingConfig struct {
	Cooldown     Duration `yaml:"cooldown"`
	FlashEnabled *bool    `yaml:"flash_enabled"` // default: true
	ChimeEnabled *bool    `yaml:"chime_enabled"` // default: true
	FilterScript string   `yaml:"filter_script"` // Optional Lua accept(event) script
}

// GetFlashEnabled returns whether rings flash by default
func (c *RingConfig) GetFlashEnabled() bool {
	return c.FlashEnabled == nil || *c.FlashEnabled
}

// GetChimeEnabled returns whether rings chime by default
func (c *RingConfig) GetChimeEnabled() bool {
	return c.ChimeEnabled == nil || *c.ChimeEnabled
}

// MQTTConfig contains the MQTT trigger settings
type MQTTConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Topic          string   `yaml:"topic"`
	StatusTopic    string   `yaml:"status_topic"` // Optional retained run outcome topic
	QoS            byte     `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// APIConfig contains HTTP API server settings
type APIConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// Addr returns host:port
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"` // default: in-memory
}

// LedgerConfig contains run ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// InfluxConfig contains metrics export settings
type InfluxConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     uint     `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration YAML and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Transport defaults
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = TransportHomeAssistant
	}
	if cfg.Transport.CommandTimeout == 0 {
		cfg.Transport.CommandTimeout = Duration(5 * time.Second)
	}
	if cfg.Transport.RateLimitRPS == 0 {
		cfg.Transport.RateLimitRPS = 20.0
	}

	// Home Assistant defaults
	if cfg.HomeAssistant.Timeout == 0 {
		cfg.HomeAssistant.Timeout = Duration(10 * time.Second)
	}
	if len(cfg.HomeAssistant.EventEntities) == 0 {
		cfg.HomeAssistant.EventEntities = []string{"event.front_door_ding"}
	}
	if cfg.HomeAssistant.MinRetryBackoff == 0 {
		cfg.HomeAssistant.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.HomeAssistant.MaxRetryBackoff == 0 {
		cfg.HomeAssistant.MaxRetryBackoff = Duration(1 * time.Minute)
	}
	if cfg.HomeAssistant.RetryMultiplier == 0 {
		cfg.HomeAssistant.RetryMultiplier = 2.0
	}

	// Hue defaults
	if cfg.Hue.CacheTTL == 0 {
		cfg.Hue.CacheTTL = Duration(5 * time.Minute)
	}

	// Flash defaults
	if cfg.Flash.Flashes == 0 {
		cfg.Flash.Flashes = 3
	}
	if cfg.Flash.On == 0 {
		cfg.Flash.On = Duration(250 * time.Millisecond)
	}
	if cfg.Flash.Off == 0 {
		cfg.Flash.Off = Duration(250 * time.Millisecond)
	}
	if cfg.Flash.BrightnessPct == 0 && cfg.Flash.Brightness == 0 {
		cfg.Flash.BrightnessPct = 50
	}
	if cfg.Flash.RestoreSettle == 0 {
		cfg.Flash.RestoreSettle = Duration(300 * time.Millisecond)
	}
	if cfg.Flash.RefreshDelay == 0 {
		cfg.Flash.RefreshDelay = Duration(250 * time.Millisecond)
	}
	if cfg.Flash.Refresh == nil {
		refresh := cfg.Transport.Kind == TransportHomeAssistant
		cfg.Flash.Refresh = &refresh
	}

	// Chime defaults
	if cfg.Chime.Volume == 0 {
		cfg.Chime.Volume = 0.4
	}
	if cfg.Chime.MediaType == "" {
		cfg.Chime.MediaType = "music"
	}
	if cfg.Chime.Stagger == 0 {
		cfg.Chime.Stagger = Duration(200 * time.Millisecond)
	}
	if cfg.Chime.SnapshotDomain == "" {
		cfg.Chime.SnapshotDomain = "sonos"
	}

	// Ring defaults
	if cfg.Ring.Cooldown == 0 {
		cfg.Ring.Cooldown = Duration(4 * time.Second)
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "ringflash"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "doorbell/ring"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 9090
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.RequestTimeout == 0 {
		cfg.API.RequestTimeout = Duration(60 * time.Second)
	}

	// Database defaults to in-memory; nothing outlives the process unless a path is set
	if cfg.Database.Path == "" {
		cfg.Database.Path = ":memory:"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(1 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 7
	}

	// Influx defaults
	if cfg.Influx.Bucket == "" {
		cfg.Influx.Bucket = "ringflash"
	}
	if cfg.Influx.BatchSize == 0 {
		cfg.Influx.BatchSize = 100
	}
	if cfg.Influx.FlushInterval == 0 {
		cfg.Influx.FlushInterval = Duration(10 * time.Second)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks settings that have no sensible default
func (cfg *Config) Validate() error {
	switch cfg.Transport.Kind {
	case TransportHomeAssistant:
		if cfg.HomeAssistant.URL == "" && !cfg.HomeAssistant.Discover {
			return fmt.Errorf("homeassistant.url is required unless homeassistant.discover is set")
		}
	case TransportHue:
		if cfg.Hue.Bridge == "" || cfg.Hue.Token == "" {
			return fmt.Errorf("hue.bridge and hue.token are required for the hue transport")
		}
	default:
		return fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if cfg.Influx.Enabled && (cfg.Influx.URL == "" || cfg.Influx.Org == "") {
		return fmt.Errorf("influx.url and influx.org are required when influx is enabled")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
