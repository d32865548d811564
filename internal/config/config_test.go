package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var cfg Config
	cfg.LoadDefaults()

	require.Equal(t, "http://localhost:8000/api", cfg.APIBaseURL)
	require.Equal(t, "ws://localhost:8000/ws/chat/", cfg.WSURL)
	require.Equal(t, "chatterbox.db", cfg.VaultPath)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout)
	require.Equal(t, 15*time.Second, cfg.ConnectTimeout)
}

func TestParseJSON_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"api_base_url": "https://chat.example.com/api",
		"ws_url": "wss://chat.example.com/ws/chat/",
		"request_timeout": "30s"
	}`), 0o600))

	oldArgs := os.Args
	os.Args = []string{"chatterbox", "-c", path}
	t.Cleanup(func() { os.Args = oldArgs })

	var cfg Config
	cfg.LoadDefaults()
	parseJSON(&cfg)

	require.Equal(t, "https://chat.example.com/api", cfg.APIBaseURL)
	require.Equal(t, "wss://chat.example.com/ws/chat/", cfg.WSURL)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	// Fields missing from the file keep their defaults.
	require.Equal(t, "chatterbox.db", cfg.VaultPath)
	require.Equal(t, 15*time.Second, cfg.ConnectTimeout)
}

func TestParseFlags_Overlay(t *testing.T) {
	oldArgs := os.Args
	os.Args = []string{"chatterbox", "-a", "https://api.example.com", "-t", "20"}
	t.Cleanup(func() { os.Args = oldArgs })

	var cfg Config
	cfg.LoadDefaults()
	parseFlags(&cfg)

	require.Equal(t, "https://api.example.com", cfg.APIBaseURL)
	require.Equal(t, 20*time.Second, cfg.RequestTimeout)
}

func TestParseFlags_DeviceSecretFromEnv(t *testing.T) {
	oldArgs := os.Args
	os.Args = []string{"chatterbox"}
	t.Cleanup(func() { os.Args = oldArgs })
	t.Setenv("CHATTERBOX_DEVICE_SECRET", "from-env")

	var cfg Config
	cfg.LoadDefaults()
	parseFlags(&cfg)

	require.Equal(t, "from-env", cfg.DeviceSecret)
}

func TestJSONConfig_DTOShape(t *testing.T) {
	var jc JSONConfig
	require.NoError(t, json.Unmarshal([]byte(`{"request_timeout": 1000000000}`), &jc))
	require.Equal(t, time.Second, jc.RequestTimeout.Duration)
}
