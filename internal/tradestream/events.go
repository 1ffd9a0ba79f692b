package tradestream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/domain"
)

// Stream names on the trading-event connection.
const (
	streamAuthorization = "authorization"
	streamListening     = "listening"
	streamTradeUpdates  = "trade_updates"
)

// envelope wraps every inbound trading-event frame.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type authorizationData struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type listeningData struct {
	Streams []string `json:"streams"`
}

// rawTradeUpdate is the wire shape of one order-lifecycle event.
type rawTradeUpdate struct {
	Event       string             `json:"event"`
	Price       *decimal.Decimal   `json:"price"`
	Qty         *decimal.Decimal   `json:"qty"`
	PositionQty *decimal.Decimal   `json:"position_qty"`
	Reason      string             `json:"reason"`
	Timestamp   string             `json:"timestamp"`
	Order       domain.BrokerOrder `json:"order"`
}

// passthroughEvents are administrative kinds forwarded without
// event-specific decoding.
var passthroughEvents = map[string]bool{
	"done_for_day":           true,
	"stopped":                true,
	"suspended":              true,
	"calculated":             true,
	"pending_new":            true,
	"pending_cancel":         true,
	"pending_replace":        true,
	"order_cancel_rejected":  true,
	"order_replace_rejected": true,
}

// decodeTradeUpdate normalizes one trade_updates payload.
func decodeTradeUpdate(data json.RawMessage) (domain.TradeUpdate, error) {
	var raw rawTradeUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.TradeUpdate{}, fmt.Errorf("decode trade update: %w", err)
	}

	kind := domain.TradeEvent(raw.Event)
	switch kind {
	case domain.TradeEventNew, domain.TradeEventFill, domain.TradeEventPartialFill,
		domain.TradeEventCanceled, domain.TradeEventExpired,
		domain.TradeEventReplaced, domain.TradeEventRejected:
	default:
		if !passthroughEvents[raw.Event] {
			return domain.TradeUpdate{}, fmt.Errorf("unknown trade event kind %q", raw.Event)
		}
	}

	update := domain.TradeUpdate{
		Event:  kind,
		Order:  raw.Order,
		Reason: raw.Reason,
		At:     parseEventTime(raw.Timestamp),
	}
	if kind == domain.TradeEventFill || kind == domain.TradeEventPartialFill {
		update.FillPrice = raw.Price
		update.FillQty = raw.Qty
		update.PositionQty = raw.PositionQty
	}
	return update, nil
}

func parseEventTime(raw string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Now().UTC()
	}
	return ts
}
