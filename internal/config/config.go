// Package config holds runtime settings for the chatterbox client core.
//
// Settings are resolved in three layers, later ones winning:
// built-in defaults, a JSON file (-c/-config), command-line flags.
package config

import "time"

// Config holds runtime settings for the client.
//
// Fields:
//   - APIBaseURL: base URL of the REST backend (auth + chat endpoints).
//   - WSURL: websocket endpoint for the real-time channel.
//   - VaultPath: sqlite file holding the encrypted credential vault.
//   - DeviceSecret: secret the vault storage key is derived from.
//   - RequestTimeout: bound on any single HTTP call, refresh included.
//   - ConnectTimeout: bound on a websocket connection attempt.
type Config struct {
	APIBaseURL     string
	WSURL          string
	VaultPath      string
	DeviceSecret   string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

// LoadDefaults populates c with sensible development defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://localhost:8000/api"
	c.WSURL = "ws://localhost:8000/ws/chat/"
	c.VaultPath = "chatterbox.db"
	c.DeviceSecret = "chatterbox-dev-secret"
	c.RequestTimeout = 10 * time.Second
	c.ConnectTimeout = 15 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
