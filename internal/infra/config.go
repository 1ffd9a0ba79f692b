// Package infra holds process-wide support: configuration, logging, and
// rate limiting.
package infra

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration, loaded from YAML with
// credentials overridable from the environment.
type Config struct {
	App struct {
		Name        string `yaml:"name"`
		LogLevel    string `yaml:"log_level"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"app"`

	Alpaca struct {
		KeyID        string `yaml:"key_id"`
		SecretKey    string `yaml:"secret_key"`
		Paper        bool   `yaml:"paper"`
		RestURL      string `yaml:"rest_url"`
		DataWSURL    string `yaml:"data_ws_url"`
		TradingWSURL string `yaml:"trading_ws_url"`
		// Feed selects the market data plan segment ("iex" or "sip").
		Feed string `yaml:"feed"`
	} `yaml:"alpaca"`

	Trigger struct {
		SweepIntervalSecs int `yaml:"sweep_interval_secs"`
	} `yaml:"trigger"`

	Feed struct {
		HeartbeatSecs      int `yaml:"heartbeat_secs"`
		ReconnectDelaySecs int `yaml:"reconnect_delay_secs"`
	} `yaml:"feed"`

	Broker struct {
		RequestsPerMinute int `yaml:"requests_per_minute"`
	} `yaml:"broker"`

	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
}

// LoadConfig reads the YAML config at path. A .env file beside the
// process, if present, is loaded first; ALPACA_KEY_ID and
// ALPACA_SECRET_KEY always win over the file so secrets never need to
// live in the config.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if key := os.Getenv("ALPACA_KEY_ID"); key != "" {
		cfg.Alpaca.KeyID = key
	}
	if secret := os.Getenv("ALPACA_SECRET_KEY"); secret != "" {
		cfg.Alpaca.SecretKey = secret
	}

	cfg.applyDefaults()

	if cfg.Alpaca.KeyID == "" || cfg.Alpaca.SecretKey == "" {
		return nil, fmt.Errorf("missing brokerage credentials (set ALPACA_KEY_ID / ALPACA_SECRET_KEY)")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "alpaca-api-service"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = "iex"
	}
	if c.Alpaca.DataWSURL == "" {
		c.Alpaca.DataWSURL = fmt.Sprintf("wss://stream.data.alpaca.markets/v2/%s", c.Alpaca.Feed)
	}
	if c.Alpaca.TradingWSURL == "" {
		if c.Alpaca.Paper {
			c.Alpaca.TradingWSURL = "wss://paper-api.alpaca.markets/stream"
		} else {
			c.Alpaca.TradingWSURL = "wss://api.alpaca.markets/stream"
		}
	}
	if c.Trigger.SweepIntervalSecs <= 0 {
		c.Trigger.SweepIntervalSecs = 60
	}
	if c.Feed.HeartbeatSecs <= 0 {
		c.Feed.HeartbeatSecs = 30
	}
	if c.Feed.ReconnectDelaySecs <= 0 {
		c.Feed.ReconnectDelaySecs = 5
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "data/orders.db"
	}
}
