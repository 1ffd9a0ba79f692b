package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: test-service
alpaca:
  key_id: file-key
  secret_key: file-secret
  paper: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("default feed = %s, want iex", cfg.Alpaca.Feed)
	}
	if cfg.Alpaca.DataWSURL != "wss://stream.data.alpaca.markets/v2/iex" {
		t.Errorf("data ws url = %s", cfg.Alpaca.DataWSURL)
	}
	if cfg.Alpaca.TradingWSURL != "wss://paper-api.alpaca.markets/stream" {
		t.Errorf("paper trading ws url = %s", cfg.Alpaca.TradingWSURL)
	}
	if cfg.Trigger.SweepIntervalSecs != 60 {
		t.Errorf("sweep interval = %d, want 60", cfg.Trigger.SweepIntervalSecs)
	}
	if cfg.Feed.HeartbeatSecs != 30 || cfg.Feed.ReconnectDelaySecs != 5 {
		t.Errorf("feed timings = %d/%d, want 30/5", cfg.Feed.HeartbeatSecs, cfg.Feed.ReconnectDelaySecs)
	}
}

func TestLoadConfigEnvOverridesCredentials(t *testing.T) {
	path := writeConfig(t, `
alpaca:
  key_id: file-key
  secret_key: file-secret
`)
	t.Setenv("ALPACA_KEY_ID", "env-key")
	t.Setenv("ALPACA_SECRET_KEY", "env-secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Alpaca.KeyID != "env-key" || cfg.Alpaca.SecretKey != "env-secret" {
		t.Errorf("env credentials not applied: %s/%s", cfg.Alpaca.KeyID, cfg.Alpaca.SecretKey)
	}
}

func TestLoadConfigMissingCredentials(t *testing.T) {
	path := writeConfig(t, `
app:
  name: test
`)
	t.Setenv("ALPACA_KEY_ID", "")
	t.Setenv("ALPACA_SECRET_KEY", "")

	if _, err := LoadConfig(path); err == nil {
		t.Error("config without credentials accepted")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
