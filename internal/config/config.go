package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Transcript orderings accepted in transcript.ordering.
const (
	OrderingArrival  = "arrival"
	OrderingSequence = "sequence"
)

// Stream transports accepted in stream.transport.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Stream   struct {
		URL            string `json:"url"`
		Transport      string `json:"transport"`
		SessionParam   string `json:"session_param"`
		MaxConnections int    `json:"max_connections"`
		DedupeWindow   int    `json:"dedupe_window"`
		Retry          struct {
			MaxAttempts    int     `json:"max_attempts"`
			InitialDelayMS int     `json:"initial_delay_ms"`
			Multiplier     float64 `json:"multiplier"`
			MaxDelayMS     int     `json:"max_delay_ms"`
		} `json:"retry"`
	} `json:"stream"`
	Outbound struct {
		URL            string `json:"url"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"outbound"`
	Transcript struct {
		Ordering string `json:"ordering"`
	} `json:"transcript"`
	Journal struct {
		Enabled bool `json:"enabled"`
	} `json:"journal"`
	Render struct {
		HTML  bool   `json:"html"`
		Model string `json:"model"`
	} `json:"render"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
}

// DefaultPath returns ~/.botstream/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".botstream", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".botstream"),
		LogLevel: "info",
	}
	cfg.Stream.URL = "http://localhost:8080/events"
	cfg.Stream.Transport = TransportSSE
	cfg.Stream.SessionParam = "sessionId"
	cfg.Stream.MaxConnections = 6
	cfg.Stream.DedupeWindow = 1024
	cfg.Stream.Retry.MaxAttempts = 5
	cfg.Stream.Retry.InitialDelayMS = 1000
	cfg.Stream.Retry.Multiplier = 2.0
	cfg.Stream.Retry.MaxDelayMS = 30000
	cfg.Outbound.URL = "http://localhost:8080/messages"
	cfg.Outbound.TimeoutSeconds = 10
	cfg.Transcript.Ordering = OrderingArrival
	cfg.Render.HTML = true
	cfg.Render.Model = "gpt-4"
	cfg.HTTP.Listen = "127.0.0.1:7070"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	for _, o := range envOverrides {
		if v := os.Getenv(o.env); v != "" {
			o.apply(cfg, v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envOverride struct {
	key   string
	env   string
	apply func(*Config, string)
}

var envOverrides = []envOverride{
	{"stream.url", "BOTSTREAM_STREAM_URL", func(c *Config, v string) { c.Stream.URL = v }},
	{"outbound.url", "BOTSTREAM_SEND_URL", func(c *Config, v string) { c.Outbound.URL = v }},
	{"log_level", "BOTSTREAM_LOG_LEVEL", func(c *Config, v string) { c.LogLevel = v }},
}

// OverriddenBy returns the environment variable currently overriding key, or
// "" when the file value is in effect.
func OverriddenBy(key string) string {
	for _, o := range envOverrides {
		if o.key == key && os.Getenv(o.env) != "" {
			return o.env
		}
	}
	return ""
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	switch c.Stream.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("stream.transport: unsupported value %q", c.Stream.Transport)
	}
	switch c.Transcript.Ordering {
	case OrderingArrival, OrderingSequence:
	default:
		return fmt.Errorf("transcript.ordering: unsupported value %q", c.Transcript.Ordering)
	}
	if c.Stream.MaxConnections < 1 {
		return fmt.Errorf("stream.max_connections must be at least 1")
	}
	return nil
}

// InitialDelay returns the first reconnect delay.
func (c *Config) InitialDelay() time.Duration {
	return time.Duration(c.Stream.Retry.InitialDelayMS) * time.Millisecond
}

// MaxDelay returns the reconnect delay ceiling.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Stream.Retry.MaxDelayMS) * time.Millisecond
}

// SendTimeout returns the outbound request timeout.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Outbound.TimeoutSeconds) * time.Second
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	return writeMap(path, m)
}

func writeMap(path string, m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into the nested map form used on disk.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting as a flat dot-separated map. With mask set,
// credentials embedded in URLs are hidden.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue reads one dot-separated key from the file at path, creating the
// file with defaults if it does not exist yet.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readMap(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes one dot-separated key into the existing file at path.
// Values that parse as JSON (numbers, booleans) are stored typed; anything
// else is stored as a string. The file is left untouched when the result
// would not load.
func SetValue(path, key, raw string) error {
	m, err := readMap(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)

	candidates := []any{parseValue(raw)}
	if _, ok := candidates[0].(string); !ok {
		// "123" is still a valid string setting
		candidates = append(candidates, raw)
	}
	var first error
	for _, v := range candidates {
		flat[key] = v
		next := Unflatten(flat)
		err := check(next)
		if err == nil {
			return writeMap(path, next)
		}
		if first == nil {
			first = err
		}
	}
	return fmt.Errorf("set %s: %w", key, first)
}

// check decodes m over the defaults and validates the result.
func check(m map[string]any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	cfg := defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool:
			return v
		}
	}
	return raw
}
