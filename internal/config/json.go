package config

import (
	"encoding/json"
	"os"

	"github.com/chatterbox-im/chatterbox/internal/flagx"
	"github.com/chatterbox-im/chatterbox/internal/timex"
)

// JSONConfig is a DTO used exclusively for JSON unmarshalling. Durations
// may be given as strings like "10s" or as integer nanoseconds.
type JSONConfig struct {
	APIBaseURL     string         `json:"api_base_url"`
	WSURL          string         `json:"ws_url"`
	VaultPath      string         `json:"vault_path"`
	RequestTimeout timex.Duration `json:"request_timeout"`
	ConnectTimeout timex.Duration `json:"connect_timeout"`
}

// parseJSON overlays cfg with values from the JSON file named by the
// -c/-config flags. Missing flag means no JSON layer. Read or unmarshal
// errors panic: a config file that exists but cannot be used is a startup
// defect, not a condition to run through.
func parseJSON(cfg *Config) {
	jsonConfigFile := flagx.JSONConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JSONConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.APIBaseURL != "" {
		cfg.APIBaseURL = jc.APIBaseURL
	}
	if jc.WSURL != "" {
		cfg.WSURL = jc.WSURL
	}
	if jc.VaultPath != "" {
		cfg.VaultPath = jc.VaultPath
	}
	if jc.RequestTimeout.Duration != 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.ConnectTimeout.Duration != 0 {
		cfg.ConnectTimeout = jc.ConnectTimeout.Duration
	}
}
