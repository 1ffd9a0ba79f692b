// Package broker is the brokerage REST collaborator: order submission
// over HTTP, consumed by the trigger engine through a narrow interface.
package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderRequest is the submission payload, mirroring the brokerage order
// endpoint's fields.
type OrderRequest struct {
	Symbol      string           `json:"symbol"`
	Qty         decimal.Decimal  `json:"qty"`
	Side        string           `json:"side"`
	Type        string           `json:"type"`
	TimeInForce string           `json:"time_in_force"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice   *decimal.Decimal `json:"stop_price,omitempty"`
}

// Order is the brokerage's view of a submitted order; the ID correlates
// the eventual fill on the trading-event stream.
type Order struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
}

// OrderSubmitter is what the trigger engine depends on.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
}
