// Package trigger owns the conditional orders: client-side stop and
// stop-limit semantics evaluated against streamed ticks, converted into
// real brokerage orders at most once when their condition matches.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/broker"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/domain"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/event"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/metrics"
)

const (
	defaultSweepInterval = 60 * time.Second
	submitTimeout        = 15 * time.Second
)

// TickSource is the capability the engine needs from the market data
// layer: reference-counted symbol subscriptions and the tick topic.
type TickSource interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
	Ticks() *event.Topic[domain.Tick]
}

// CreateRequest is a client request for a new conditional order.
type CreateRequest struct {
	Symbol      string
	Side        domain.Side
	Qty         decimal.Decimal
	Kind        domain.OrderKind
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce domain.TimeInForce
	Condition   *domain.Condition
}

// TriggeredOrder pairs an order with the tick that fired it.
type TriggeredOrder struct {
	Order domain.ConditionalOrder
	Tick  domain.Tick
}

// trackedOrder carries the engine's bookkeeping alongside the order:
// whether this order currently holds a feed-subscription reference.
type trackedOrder struct {
	order      *domain.ConditionalOrder
	subscribed bool
}

// Engine is the conditional-order registry and trigger evaluator.
// Exactly one trigger fires per order: the pending -> triggered
// transition is taken under the lock, so a second tick arriving before
// the submission completes cannot double-fire.
type Engine struct {
	source    TickSource
	submitter broker.OrderSubmitter

	mu       sync.Mutex
	orders   map[string]*trackedOrder
	bySymbol map[string]map[string]struct{}

	monitoring bool
	tickSub    int
	sweepStop  chan struct{}

	created   event.Topic[domain.ConditionalOrder]
	triggered event.Topic[TriggeredOrder]
	filled    event.Topic[TriggeredOrder]
	cancelled event.Topic[domain.ConditionalOrder]
	expired   event.Topic[domain.ConditionalOrder]

	// SweepInterval and Now are tunable before StartMonitoring; tests
	// inject a fake clock through Now.
	SweepInterval time.Duration
	Now           func() time.Time

	submissions sync.WaitGroup
}

// NewEngine builds an engine over the injected tick source and order
// submitter.
func NewEngine(source TickSource, submitter broker.OrderSubmitter) *Engine {
	return &Engine{
		source:        source,
		submitter:     submitter,
		orders:        make(map[string]*trackedOrder),
		bySymbol:      make(map[string]map[string]struct{}),
		SweepInterval: defaultSweepInterval,
		Now:           time.Now,
	}
}

// Created publishes every accepted order.
func (e *Engine) Created() *event.Topic[domain.ConditionalOrder] { return &e.created }

// Triggered publishes orders whose condition matched, with the tick.
func (e *Engine) Triggered() *event.Topic[TriggeredOrder] { return &e.triggered }

// Filled publishes orders whose brokerage submission succeeded.
func (e *Engine) Filled() *event.Topic[TriggeredOrder] { return &e.filled }

// Cancelled publishes client-cancelled orders.
func (e *Engine) Cancelled() *event.Topic[domain.ConditionalOrder] { return &e.cancelled }

// Expired publishes orders retired by the expiry sweep.
func (e *Engine) Expired() *event.Topic[domain.ConditionalOrder] { return &e.expired }

// CreateOrder validates the request, registers the order as pending,
// and subscribes its symbol on the price feed.
func (e *Engine) CreateOrder(req CreateRequest) (domain.ConditionalOrder, error) {
	symbol := domain.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return domain.ConditionalOrder{}, domain.ErrMissingSymbol
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return domain.ConditionalOrder{}, domain.ErrInvalidSide
	}
	if !req.Qty.IsPositive() {
		return domain.ConditionalOrder{}, domain.ErrInvalidQuantity
	}
	if req.Condition != nil {
		if err := req.Condition.Validate(); err != nil {
			return domain.ConditionalOrder{}, err
		}
	}

	tif := req.TimeInForce
	if tif != domain.TIFDay && tif != domain.TIFGTC {
		// Unsupported time-in-force values are coerced rather than
		// rejected; day is the conservative choice.
		tif = domain.TIFDay
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.KindMarket
	}

	now := e.Now()
	order := &domain.ConditionalOrder{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        req.Side,
		Qty:         req.Qty,
		Kind:        kind,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		TimeInForce: tif,
		Condition:   req.Condition,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	e.mu.Lock()
	e.orders[order.ID] = &trackedOrder{order: order, subscribed: true}
	if e.bySymbol[symbol] == nil {
		e.bySymbol[symbol] = make(map[string]struct{})
	}
	e.bySymbol[symbol][order.ID] = struct{}{}
	e.mu.Unlock()

	e.source.Subscribe(symbol)

	snapshot := *order
	slog.Info("conditional order created",
		"id", order.ID, "symbol", symbol, "side", order.Side,
		"qty", order.Qty, "tif", order.TimeInForce,
	)
	e.created.Publish(snapshot)
	return snapshot, nil
}

// CancelOrder cancels a pending order. Unknown ids and orders no longer
// pending return false and change nothing; cancelling an already-terminal
// order is deliberately a no-op, not an error.
func (e *Engine) CancelOrder(id string) bool {
	e.mu.Lock()
	tracked, ok := e.orders[id]
	if !ok || tracked.order.Status != domain.StatusPending {
		e.mu.Unlock()
		return false
	}
	tracked.order.Transition(domain.StatusCancelled, e.Now())
	release := tracked.subscribed
	tracked.subscribed = false
	e.removeFromIndex(tracked.order)
	snapshot := *tracked.order
	e.mu.Unlock()

	if release {
		e.source.Unsubscribe(snapshot.Symbol)
	}
	slog.Info("conditional order cancelled", "id", id, "symbol", snapshot.Symbol)
	e.cancelled.Publish(snapshot)
	return true
}

// Order returns a snapshot of one order for status polling.
func (e *Engine) Order(id string) (domain.ConditionalOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tracked, ok := e.orders[id]
	if !ok {
		return domain.ConditionalOrder{}, false
	}
	return *tracked.order, true
}

// Orders returns snapshots of every known order.
func (e *Engine) Orders() []domain.ConditionalOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.ConditionalOrder, 0, len(e.orders))
	for _, tracked := range e.orders {
		out = append(out, *tracked.order)
	}
	return out
}

// StartMonitoring wires tick evaluation and the expiry sweep. Idempotent.
func (e *Engine) StartMonitoring() {
	e.mu.Lock()
	if e.monitoring {
		e.mu.Unlock()
		return
	}
	e.monitoring = true
	stop := make(chan struct{})
	e.sweepStop = stop
	resubscribe := e.pendingWithoutRef()
	e.mu.Unlock()

	for _, symbol := range resubscribe {
		e.source.Subscribe(symbol)
	}
	e.tickSub = e.source.Ticks().Subscribe(e.handleTick)

	go e.sweepLoop(stop)
	slog.Info("trigger monitoring started")
}

// StopMonitoring stops tick evaluation and the sweep, releasing every
// feed-subscription reference held by pending orders. Idempotent. It does
// not cancel in-flight submissions; it only stops new triggers.
func (e *Engine) StopMonitoring() {
	e.mu.Lock()
	if !e.monitoring {
		e.mu.Unlock()
		return
	}
	e.monitoring = false
	stop := e.sweepStop
	e.sweepStop = nil

	var release []string
	for _, tracked := range e.orders {
		if tracked.order.Status == domain.StatusPending && tracked.subscribed {
			tracked.subscribed = false
			release = append(release, tracked.order.Symbol)
		}
	}
	e.mu.Unlock()

	e.source.Ticks().Unsubscribe(e.tickSub)
	close(stop)
	for _, symbol := range release {
		e.source.Unsubscribe(symbol)
	}
	slog.Info("trigger monitoring stopped")
}

// Drain waits for in-flight submissions to finish; shutdown helper.
func (e *Engine) Drain() {
	e.submissions.Wait()
}

// pendingWithoutRef lists symbols of pending orders that lost their
// subscription reference (created while monitoring was stopped, or
// released by StopMonitoring). Caller holds the lock.
func (e *Engine) pendingWithoutRef() []string {
	var symbols []string
	for _, tracked := range e.orders {
		if tracked.order.Status == domain.StatusPending && !tracked.subscribed {
			tracked.subscribed = true
			symbols = append(symbols, tracked.order.Symbol)
		}
	}
	return symbols
}

// handleTick evaluates every pending order on the tick's symbol. Orders
// whose condition matches (or that have none) move to triggered under
// the lock, then submit asynchronously.
func (e *Engine) handleTick(tick domain.Tick) {
	e.mu.Lock()
	ids := e.bySymbol[tick.Symbol]
	var fired []domain.ConditionalOrder
	for id := range ids {
		tracked := e.orders[id]
		order := tracked.order
		if order.Status != domain.StatusPending {
			continue
		}
		if order.Condition != nil && !order.Condition.Matches(tick) {
			continue
		}
		order.Transition(domain.StatusTriggered, e.Now())
		e.removeFromIndex(order)
		fired = append(fired, *order)
	}
	e.mu.Unlock()

	for _, order := range fired {
		metrics.TriggerFires.WithLabelValues(order.Symbol).Inc()
		slog.Info("conditional order triggered",
			"id", order.ID, "symbol", order.Symbol, "price", tick.Price,
		)
		e.triggered.Publish(TriggeredOrder{Order: order, Tick: tick})

		e.submissions.Add(1)
		go e.submit(order, tick)
	}
}

// submit places the real brokerage order. On success the order becomes
// filled; on failure it stays triggered — no retry and no reversion to
// pending, the inconsistency is surfaced through logs and metrics.
func (e *Engine) submit(order domain.ConditionalOrder, tick domain.Tick) {
	defer e.submissions.Done()

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	_, err := e.submitter.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:      order.Symbol,
		Qty:         order.Qty,
		Side:        string(order.Side),
		Type:        string(order.Kind),
		TimeInForce: string(order.TimeInForce),
		LimitPrice:  order.LimitPrice,
		StopPrice:   order.StopPrice,
	})
	if err != nil {
		metrics.OrderSubmissions.WithLabelValues("error").Inc()
		slog.Error("order submission failed; order left triggered",
			"id", order.ID, "symbol", order.Symbol, "err", err,
		)
		return
	}
	metrics.OrderSubmissions.WithLabelValues("ok").Inc()

	e.mu.Lock()
	tracked, ok := e.orders[order.ID]
	if !ok || !tracked.order.Transition(domain.StatusFilled, e.Now()) {
		e.mu.Unlock()
		return
	}
	release := tracked.subscribed
	tracked.subscribed = false
	snapshot := *tracked.order
	e.mu.Unlock()

	if release {
		e.source.Unsubscribe(snapshot.Symbol)
	}
	e.filled.Publish(TriggeredOrder{Order: snapshot, Tick: tick})
}

// SweepExpired retires pending day orders created on an earlier calendar
// day. The comparison is a local-time date change, not a precise session
// close.
func (e *Engine) SweepExpired() {
	now := e.Now()
	today := now.Local().Format("2006-01-02")

	type sweptOrder struct {
		order   domain.ConditionalOrder
		release bool
	}

	e.mu.Lock()
	var swept []sweptOrder
	for _, tracked := range e.orders {
		order := tracked.order
		if order.Status != domain.StatusPending || order.TimeInForce != domain.TIFDay {
			continue
		}
		if order.CreatedAt.Local().Format("2006-01-02") == today {
			continue
		}
		order.Transition(domain.StatusExpired, now)
		release := tracked.subscribed
		tracked.subscribed = false
		e.removeFromIndex(order)
		swept = append(swept, sweptOrder{order: *order, release: release})
	}
	e.mu.Unlock()

	for _, s := range swept {
		if s.release {
			e.source.Unsubscribe(s.order.Symbol)
		}
		slog.Info("conditional order expired", "id", s.order.ID, "symbol", s.order.Symbol)
		e.expired.Publish(s.order)
	}
}

func (e *Engine) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.SweepExpired()
		}
	}
}

// removeFromIndex drops an order from the symbol index once it leaves
// pending. Caller holds the lock.
func (e *Engine) removeFromIndex(order *domain.ConditionalOrder) {
	ids := e.bySymbol[order.Symbol]
	delete(ids, order.ID)
	if len(ids) == 0 {
		delete(e.bySymbol, order.Symbol)
	}
}

// String implements fmt.Stringer for log-friendly engine summaries.
func (e *Engine) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	pending := 0
	for _, tracked := range e.orders {
		if tracked.order.Status == domain.StatusPending {
			pending++
		}
	}
	return fmt.Sprintf("trigger.Engine{orders=%d pending=%d symbols=%d}", len(e.orders), pending, len(e.bySymbol))
}
