// Package app wires the process together: config, logger, store, feeds,
// managers, and the trigger engine.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/broker"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/domain"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/feed"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/infra"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/marketdata"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/storage"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/tradestream"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/trigger"
)

// Service is the assembled process.
type Service struct {
	Config     *infra.Config
	Store      *storage.OrderStore
	MarketConn *feed.Conn
	TradeConn  *feed.Conn
	Market     *marketdata.Manager
	Trades     *tradestream.Handler
	Engine     *trigger.Engine
}

// pingFrame is the application-level keep-alive both feeds accept.
var pingFrame = []byte(`{"action":"ping"}`)

// marketAuthFrame builds the market-data credential frame.
func marketAuthFrame(creds feed.Credentials) ([]byte, error) {
	return json.Marshal(map[string]string{
		"action": "auth",
		"key":    creds.KeyID,
		"secret": creds.SecretKey,
	})
}

// tradingAuthFrame builds the trading-stream credential frame.
func tradingAuthFrame(creds feed.Credentials) ([]byte, error) {
	return json.Marshal(map[string]any{
		"action": "auth",
		"data": map[string]string{
			"key_id":     creds.KeyID,
			"secret_key": creds.SecretKey,
		},
	})
}

// Bootstrap loads config and builds every component, unstarted.
func Bootstrap(configPath string) (*Service, error) {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(infra.NewLogger(cfg))

	if dir := filepath.Dir(cfg.Storage.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := storage.NewOrderStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	heartbeat := time.Duration(cfg.Feed.HeartbeatSecs) * time.Second
	reconnect := time.Duration(cfg.Feed.ReconnectDelaySecs) * time.Second

	marketConn := feed.New(feed.Config{
		Name:              "market_data",
		URL:               cfg.Alpaca.DataWSURL,
		SandboxURL:        cfg.Alpaca.DataWSURL,
		AuthFrame:         marketAuthFrame,
		PingFrame:         pingFrame,
		HeartbeatInterval: heartbeat,
		ReconnectDelay:    reconnect,
	})
	tradeConn := feed.New(feed.Config{
		Name:              "trade_updates",
		URL:               cfg.Alpaca.TradingWSURL,
		SandboxURL:        cfg.Alpaca.TradingWSURL,
		AuthFrame:         tradingAuthFrame,
		PingFrame:         pingFrame,
		HeartbeatInterval: heartbeat,
		ReconnectDelay:    reconnect,
	})

	market := marketdata.New(marketConn)
	trades := tradestream.New(tradeConn)

	submitter := broker.NewClient(broker.ClientConfig{
		BaseURL:           cfg.Alpaca.RestURL,
		Paper:             cfg.Alpaca.Paper,
		KeyID:             cfg.Alpaca.KeyID,
		SecretKey:         cfg.Alpaca.SecretKey,
		RequestsPerMinute: cfg.Broker.RequestsPerMinute,
	})

	engine := trigger.NewEngine(market, submitter)
	engine.SweepInterval = time.Duration(cfg.Trigger.SweepIntervalSecs) * time.Second

	svc := &Service{
		Config:     cfg,
		Store:      store,
		MarketConn: marketConn,
		TradeConn:  tradeConn,
		Market:     market,
		Trades:     trades,
		Engine:     engine,
	}
	svc.wireHistory()
	return svc, nil
}

// wireHistory subscribes the order store to every lifecycle topic.
func (s *Service) wireHistory() {
	record := func(order domain.ConditionalOrder) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Store.Record(ctx, order); err != nil {
			slog.Error("order history write failed", "id", order.ID, "err", err)
		}
	}
	s.Engine.Created().Subscribe(record)
	s.Engine.Cancelled().Subscribe(record)
	s.Engine.Expired().Subscribe(record)
	s.Engine.Triggered().Subscribe(func(t trigger.TriggeredOrder) { record(t.Order) })
	s.Engine.Filled().Subscribe(func(t trigger.TriggeredOrder) { record(t.Order) })
}

// Run connects both feeds and starts monitoring; it blocks until ctx is
// cancelled, then tears everything down.
func (s *Service) Run(ctx context.Context) error {
	creds := feed.Credentials{KeyID: s.Config.Alpaca.KeyID, SecretKey: s.Config.Alpaca.SecretKey}

	s.MarketConn.Connect(ctx, creds, s.Config.Alpaca.Paper)
	s.TradeConn.Connect(ctx, creds, s.Config.Alpaca.Paper)
	s.Engine.StartMonitoring()

	<-ctx.Done()

	s.Engine.StopMonitoring()
	s.Engine.Drain()
	s.MarketConn.Close()
	s.TradeConn.Close()
	if err := s.Store.Close(); err != nil {
		slog.Warn("order store close failed", "err", err)
	}
	return nil
}
