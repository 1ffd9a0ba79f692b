package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeEvent is the event kind on the brokerage trade-update stream.
type TradeEvent string

const (
	TradeEventNew         TradeEvent = "new"
	TradeEventFill        TradeEvent = "fill"
	TradeEventPartialFill TradeEvent = "partial_fill"
	TradeEventCanceled    TradeEvent = "canceled"
	TradeEventExpired     TradeEvent = "expired"
	TradeEventReplaced    TradeEvent = "replaced"
	TradeEventRejected    TradeEvent = "rejected"
)

// BrokerOrder is the order snapshot carried on every trade-update event.
// Field names follow the brokerage wire format.
type BrokerOrder struct {
	ID            string           `json:"id"`
	ClientOrderID string           `json:"client_order_id"`
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	Qty           decimal.Decimal  `json:"qty"`
	FilledQty     decimal.Decimal  `json:"filled_qty"`
	LimitPrice    *decimal.Decimal `json:"limit_price"`
	StopPrice     *decimal.Decimal `json:"stop_price"`
	TimeInForce   string           `json:"time_in_force"`
	Status        string           `json:"status"`
}

// TradeUpdate is a decoded trade-stream event: the order snapshot plus
// the event-specific fields (fill price/qty, resulting position, reject
// reason). Administrative kinds pass through with just the snapshot.
type TradeUpdate struct {
	Event       TradeEvent
	Order       BrokerOrder
	FillPrice   *decimal.Decimal
	FillQty     *decimal.Decimal
	PositionQty *decimal.Decimal
	Reason      string
	At          time.Time
}

// PositionSide is the direction of a derived position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionFlat  PositionSide = "flat"
)

// PositionUpdate is the approximate position view synthesized from a fill
// event's resulting position size. It intentionally omits fields the fill
// event does not carry (cost basis, market value).
type PositionUpdate struct {
	Symbol string
	Qty    decimal.Decimal
	Side   PositionSide
	At     time.Time
}

// SideForQty derives the position side from the sign of the quantity.
func SideForQty(qty decimal.Decimal) PositionSide {
	switch qty.Sign() {
	case 1:
		return PositionLong
	case -1:
		return PositionShort
	default:
		return PositionFlat
	}
}
