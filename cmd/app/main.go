package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/app"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	svc, err := app.Bootstrap(*configPath)
	if err != nil {
		slog.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if addr := svc.Config.App.MetricsAddr; addr != "" {
		metricsSrv = metrics.Serve(addr)
		slog.Info("metrics listening", "addr", addr)
	}

	slog.Info("service starting", "paper", svc.Config.Alpaca.Paper)
	if err := svc.Run(ctx); err != nil {
		slog.Error("service stopped with error", "err", err)
		os.Exit(1)
	}

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}
	slog.Info("service stopped")
}
