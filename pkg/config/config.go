// Package config loads client configuration from YAML files with
// defaults suitable for the public endpoints.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol version sent in the connect handshake.
const ProtocolVersion = 31

// Config is the full client configuration.
type Config struct {
	// API is the signed-request HTTP channel.
	API APIConfig `yaml:"api"`

	// Stream is the websocket channel.
	Stream StreamConfig `yaml:"stream"`

	// Reconnect tunes the backoff policy after abnormal closes.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// Keystore is where identity and session are persisted.
	Keystore KeystoreConfig `yaml:"keystore"`

	// LogFile receives protocol event records when set.
	LogFile string `yaml:"log_file"`
}

// APIConfig configures the REST endpoint and its rate limit.
type APIConfig struct {
	// BaseURL is the REST endpoint root.
	BaseURL string `yaml:"base_url"`

	// RateLimit is the number of requests per window.
	RateLimit int `yaml:"rate_limit"`

	// RateWindow is the rolling rate-limit window.
	RateWindow time.Duration `yaml:"rate_window"`

	// Timeout bounds a single HTTP call.
	Timeout time.Duration `yaml:"timeout"`
}

// StreamConfig configures the websocket endpoint and handshake.
type StreamConfig struct {
	// URL is the websocket endpoint.
	URL string `yaml:"url"`

	// Locale is sent in the connect handshake metadata.
	Locale string `yaml:"locale"`

	// Platform is sent in the connect handshake metadata.
	Platform string `yaml:"platform"`

	// ClientVersion is sent in the connect handshake metadata.
	ClientVersion string `yaml:"client_version"`

	// HandshakeTimeout bounds dial plus connect handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// PingInterval is the keepalive ping period.
	PingInterval time.Duration `yaml:"ping_interval"`

	// PongTimeout enables strict liveness when positive.
	PongTimeout time.Duration `yaml:"pong_timeout"`
}

// ReconnectConfig tunes the reconnect backoff.
type ReconnectConfig struct {
	// BaseDelay is the first attempt delay.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxAttempts caps consecutive failed attempts.
	MaxAttempts int `yaml:"max_attempts"`

	// Jitter is the random delay fraction in [0,1].
	Jitter float64 `yaml:"jitter"`
}

// KeystoreConfig configures credential persistence.
type KeystoreConfig struct {
	// Path is the keystore file location. Empty selects the in-memory
	// store.
	Path string `yaml:"path"`
}

// Default returns the configuration defaults. Endpoint URLs have no
// defaults and must be provided.
func Default() *Config {
	return &Config{
		API: APIConfig{
			RateLimit:  10,
			RateWindow: time.Minute,
			Timeout:    15 * time.Second,
		},
		Stream: StreamConfig{
			Locale:           "en",
			Platform:         "webtrading",
			ClientVersion:    "1.0.0",
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Second,
			MaxAttempts: 5,
		},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes over the defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for usability.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("config: api.base_url is required")
	}
	if c.Stream.URL == "" {
		return errors.New("config: stream.url is required")
	}
	if c.API.RateLimit <= 0 {
		return fmt.Errorf("config: api.rate_limit must be positive, got %d", c.API.RateLimit)
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("config: reconnect.max_attempts must be positive, got %d", c.Reconnect.MaxAttempts)
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return fmt.Errorf("config: reconnect.jitter must be in [0,1], got %v", c.Reconnect.Jitter)
	}
	return nil
}

// HandshakeMetadata builds the connect frame metadata.
func (c *Config) HandshakeMetadata(sessionToken string) map[string]string {
	metadata := map[string]string{
		"locale":        c.Stream.Locale,
		"platformId":    c.Stream.Platform,
		"clientVersion": c.Stream.ClientVersion,
	}
	if sessionToken != "" {
		metadata["sessionToken"] = sessionToken
	}
	return metadata
}
