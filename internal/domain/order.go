package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderKind is the brokerage order type submitted when a conditional
// order triggers.
type OrderKind string

const (
	KindMarket    OrderKind = "market"
	KindLimit     OrderKind = "limit"
	KindStop      OrderKind = "stop"
	KindStopLimit OrderKind = "stop_limit"
)

// TimeInForce controls how long a conditional order stays eligible.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// Status is a conditional order's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusTriggered Status = "triggered"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusExpired
}

// statusGraph is the only set of legal lifecycle transitions.
var statusGraph = map[Status][]Status{
	StatusPending:   {StatusTriggered, StatusCancelled, StatusExpired},
	StatusTriggered: {StatusFilled},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, next := range statusGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrInvalidSide      = errors.New("side must be buy or sell")
	ErrInvalidCondition = errors.New("invalid trigger condition")
	ErrMissingSymbol    = errors.New("symbol is required")
)

// ConditionalOrder is a client-side stop/stop-limit order held in memory
// until its trigger condition matches a streamed tick. Owned exclusively
// by the trigger engine; everyone else sees copies.
type ConditionalOrder struct {
	ID          string
	Symbol      string
	Side        Side
	Qty         decimal.Decimal
	Kind        OrderKind
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce TimeInForce
	Condition   *Condition
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transition moves the order to the given status, refusing illegal edges.
func (o *ConditionalOrder) Transition(to Status, at time.Time) bool {
	if !CanTransition(o.Status, to) {
		return false
	}
	o.Status = to
	o.UpdatedAt = at
	return true
}

// NormalizeSymbol uppercases and trims a client-supplied symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
