// Package metrics exposes process counters on a /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Market ticks decoded from the price feed"},
		[]string{"symbol"},
	)
	FramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "frames_dropped_total", Help: "Inbound frames dropped during decode"},
		[]string{"reason"},
	)
	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_reconnects_total", Help: "Reconnect attempts scheduled per feed"},
		[]string{"feed"},
	)
	TriggerFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trigger_fires_total", Help: "Conditional orders whose trigger condition matched"},
		[]string{"symbol"},
	)
	OrderSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_submissions_total", Help: "Brokerage order submissions after a trigger"},
		[]string{"result"},
	)
	TradeUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trade_updates_total", Help: "Trade-stream events decoded"},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		FramesDropped,
		FeedReconnects,
		TriggerFires,
		OrderSubmissions,
		TradeUpdates,
	)
}

// Serve starts the metrics endpoint on addr and returns the server so the
// caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
