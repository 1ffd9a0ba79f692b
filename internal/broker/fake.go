package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Fake records submissions instead of calling the brokerage. It backs
// tests and dry runs.
type Fake struct {
	mu       sync.Mutex
	requests []OrderRequest
	nextID   int

	// Err, when set, makes every submission fail.
	Err error
}

// NewFake returns an accepting fake submitter.
func NewFake() *Fake { return &Fake{} }

// SubmitOrder records the request and returns a synthetic order id.
func (f *Fake) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return Order{}, f.Err
	}

	f.nextID++
	f.requests = append(f.requests, req)
	order := Order{
		ID:     fmt.Sprintf("fake-%d", f.nextID),
		Symbol: req.Symbol,
		Status: "accepted",
	}
	slog.Info("fake submit order", "id", order.ID, "symbol", req.Symbol, "side", req.Side, "qty", req.Qty)
	return order, nil
}

// Requests returns a copy of everything submitted so far.
func (f *Fake) Requests() []OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OrderRequest, len(f.requests))
	copy(out, f.requests)
	return out
}
