package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickSourceKind tags which frame kind produced a tick.
type TickSourceKind string

const (
	TickFromTrade TickSourceKind = "trade"
	TickFromQuote TickSourceKind = "quote"
)

// Tick is a single normalized price observation for one symbol. Trade
// frames carry price and size; quote frames carry bid/ask, from which the
// price is derived. One live tick is cached per symbol and overwritten on
// each new frame.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Volume    *decimal.Decimal
	BidPrice  *decimal.Decimal
	BidSize   *decimal.Decimal
	AskPrice  *decimal.Decimal
	AskSize   *decimal.Decimal
	Timestamp time.Time
	Source    TickSourceKind
}

// QuoteMidpoint derives a tick price from a quote. Midpoint when both
// sides are populated, otherwise the populated side.
func QuoteMidpoint(bid, ask decimal.Decimal) decimal.Decimal {
	two := decimal.NewFromInt(2)
	switch {
	case bid.IsPositive() && ask.IsPositive():
		return bid.Add(ask).Div(two)
	case ask.IsPositive():
		return ask
	default:
		return bid
	}
}
