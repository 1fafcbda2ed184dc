package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
api:
  base_url: https://api.example.com/v1
  rate_limit: 20
stream:
  url: wss://stream.example.com
  locale: de
  ping_interval: 10s
reconnect:
  max_attempts: 3
  jitter: 0.25
keystore:
  path: /tmp/tradewire/keys.json
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.API.BaseURL != "https://api.example.com/v1" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.RateLimit != 20 {
		t.Errorf("RateLimit = %d, want 20", cfg.API.RateLimit)
	}
	// Unset fields keep their defaults.
	if cfg.API.RateWindow != time.Minute {
		t.Errorf("RateWindow = %v, want default 1m", cfg.API.RateWindow)
	}
	if cfg.Stream.Locale != "de" {
		t.Errorf("Locale = %q, want de", cfg.Stream.Locale)
	}
	if cfg.Stream.PingInterval != 10*time.Second {
		t.Errorf("PingInterval = %v, want 10s", cfg.Stream.PingInterval)
	}
	if cfg.Stream.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want default 10s", cfg.Stream.HandshakeTimeout)
	}
	if cfg.Reconnect.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Reconnect.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want default 1s", cfg.Reconnect.BaseDelay)
	}
	if cfg.Keystore.Path != "/tmp/tradewire/keys.json" {
		t.Errorf("Keystore.Path = %q", cfg.Keystore.Path)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Stream.URL != "wss://stream.example.com" {
		t.Errorf("Stream.URL = %q", cfg.Stream.URL)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"MissingBaseURL", func(c *Config) { c.API.BaseURL = "" }, "api.base_url"},
		{"MissingStreamURL", func(c *Config) { c.Stream.URL = "" }, "stream.url"},
		{"ZeroRateLimit", func(c *Config) { c.API.RateLimit = 0 }, "rate_limit"},
		{"NegativeAttempts", func(c *Config) { c.Reconnect.MaxAttempts = -1 }, "max_attempts"},
		{"JitterOutOfRange", func(c *Config) { c.Reconnect.Jitter = 1.5 }, "jitter"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.API.BaseURL = "https://api.example.com"
			cfg.Stream.URL = "wss://stream.example.com"
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestHandshakeMetadata(t *testing.T) {
	cfg := Default()
	metadata := cfg.HandshakeMetadata("tok-1")
	if metadata["locale"] != "en" || metadata["sessionToken"] != "tok-1" {
		t.Errorf("metadata = %v", metadata)
	}
	if _, ok := cfg.HandshakeMetadata("")["sessionToken"]; ok {
		t.Error("empty session token must not appear in metadata")
	}
}
