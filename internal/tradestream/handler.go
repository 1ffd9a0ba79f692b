// Package tradestream decodes the authenticated trading-event feed:
// order lifecycle notifications and, for fills, a derived position view.
// It republishes decoded events for the outward notification layer and
// deliberately does not retry, persist, or reconcile.
package tradestream

import (
	"encoding/json"
	"log/slog"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/domain"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/event"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/feed"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/metrics"
)

// Wire is the slice of the feed connection the handler needs.
type Wire interface {
	Send(payload any) error
	Frames() *event.Topic[[]byte]
	States() *event.Topic[feed.StateChange]
	Authenticated()
	AuthFailed(reason string)
}

// listenFrame requests the order-update stream after authorization.
type listenFrame struct {
	Action string     `json:"action"`
	Data   listenData `json:"data"`
}

type listenData struct {
	Streams []string `json:"streams"`
}

// Handler decodes the trading-event stream.
type Handler struct {
	wire Wire

	orderUpdates    event.Topic[domain.TradeUpdate]
	positionUpdates event.Topic[domain.PositionUpdate]
}

// New wires a handler to its feed connection.
func New(wire Wire) *Handler {
	h := &Handler{wire: wire}
	wire.Frames().Subscribe(h.handleFrame)
	wire.States().Subscribe(h.handleState)
	return h
}

// OrderUpdates publishes every decoded order-lifecycle event.
func (h *Handler) OrderUpdates() *event.Topic[domain.TradeUpdate] { return &h.orderUpdates }

// PositionUpdates publishes the position deltas derived from fills.
func (h *Handler) PositionUpdates() *event.Topic[domain.PositionUpdate] { return &h.positionUpdates }

func (h *Handler) handleState(sc feed.StateChange) {
	if sc.To != feed.StateAuthenticated {
		return
	}
	frame := listenFrame{Action: "listen", Data: listenData{Streams: []string{streamTradeUpdates}}}
	if err := h.wire.Send(frame); err != nil {
		slog.Warn("trade stream listen request failed", "err", err)
	}
}

func (h *Handler) handleFrame(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		slog.Warn("trade stream frame decode failed", "err", err)
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		return
	}

	switch env.Stream {
	case streamAuthorization:
		h.handleAuthorization(env.Data)
	case streamListening:
		var data listeningData
		if err := json.Unmarshal(env.Data, &data); err == nil {
			slog.Info("trade stream listening", "streams", data.Streams)
		}
	case streamTradeUpdates:
		h.handleTradeUpdate(env.Data)
	default:
		slog.Warn("unknown trade stream frame", "stream", env.Stream)
		metrics.FramesDropped.WithLabelValues("unknown_stream").Inc()
	}
}

func (h *Handler) handleAuthorization(data json.RawMessage) {
	var auth authorizationData
	if err := json.Unmarshal(data, &auth); err != nil {
		slog.Warn("authorization frame decode failed", "err", err)
		return
	}
	if auth.Status == "authorized" {
		h.wire.Authenticated()
		return
	}
	h.wire.AuthFailed(auth.Status)
}

func (h *Handler) handleTradeUpdate(data json.RawMessage) {
	update, err := decodeTradeUpdate(data)
	if err != nil {
		slog.Warn("trade update dropped", "err", err)
		metrics.FramesDropped.WithLabelValues("bad_trade_update").Inc()
		return
	}

	metrics.TradeUpdates.WithLabelValues(string(update.Event)).Inc()
	h.orderUpdates.Publish(update)

	// Fills carrying a resulting position size also yield an approximate
	// position delta; side comes from the sign of the quantity.
	if update.PositionQty != nil &&
		(update.Event == domain.TradeEventFill || update.Event == domain.TradeEventPartialFill) {
		h.positionUpdates.Publish(domain.PositionUpdate{
			Symbol: update.Order.Symbol,
			Qty:    *update.PositionQty,
			Side:   domain.SideForQty(*update.PositionQty),
			At:     update.At,
		})
	}
}
