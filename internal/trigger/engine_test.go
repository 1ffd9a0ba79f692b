package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/broker"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/domain"
	"github.com/qtmspin/alpaca-api-service-sub001/internal/event"
)

// fakeSource records subscription traffic and lets tests inject ticks.
type fakeSource struct {
	mu         sync.Mutex
	subscribes []string
	unsubs     []string
	ticks      event.Topic[domain.Tick]
}

func (f *fakeSource) Subscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, symbol)
}

func (f *fakeSource) Unsubscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, symbol)
}

func (f *fakeSource) Ticks() *event.Topic[domain.Tick] { return &f.ticks }

func (f *fakeSource) unsubCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.unsubs {
		if s == symbol {
			n++
		}
	}
	return n
}

// failingSubmitter rejects every submission.
type failingSubmitter struct{}

func (failingSubmitter) SubmitOrder(context.Context, broker.OrderRequest) (broker.Order, error) {
	return broker.Order{}, errors.New("brokerage unavailable")
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine(t *testing.T) (*Engine, *fakeSource, *broker.Fake) {
	t.Helper()
	source := &fakeSource{}
	submitter := broker.NewFake()
	engine := NewEngine(source, submitter)
	return engine, source, submitter
}

func stopLimitRequest() CreateRequest {
	limit := dec("150.10")
	stop := dec("150")
	return CreateRequest{
		Symbol:      "aapl",
		Side:        domain.SideBuy,
		Qty:         dec("10"),
		Kind:        domain.KindStopLimit,
		LimitPrice:  &limit,
		StopPrice:   &stop,
		TimeInForce: domain.TIFGTC,
		Condition:   &domain.Condition{Field: domain.FieldPrice, Operator: domain.OpGTE, Value: dec("150")},
	}
}

func tick(symbol, price string) domain.Tick {
	return domain.Tick{Symbol: symbol, Price: dec(price), Timestamp: time.Now(), Source: domain.TickFromTrade}
}

func TestCreateOrderValidation(t *testing.T) {
	engine, source, _ := newTestEngine(t)

	if _, err := engine.CreateOrder(CreateRequest{Side: domain.SideBuy, Qty: dec("1")}); !errors.Is(err, domain.ErrMissingSymbol) {
		t.Errorf("missing symbol: err = %v", err)
	}
	if _, err := engine.CreateOrder(CreateRequest{Symbol: "AAPL", Side: "hold", Qty: dec("1")}); !errors.Is(err, domain.ErrInvalidSide) {
		t.Errorf("bad side: err = %v", err)
	}
	if _, err := engine.CreateOrder(CreateRequest{Symbol: "AAPL", Side: domain.SideBuy, Qty: dec("0")}); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("zero qty: err = %v", err)
	}
	if _, err := engine.CreateOrder(CreateRequest{Symbol: "AAPL", Side: domain.SideBuy, Qty: dec("-5")}); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("negative qty: err = %v", err)
	}
	badCond := &domain.Condition{Field: "spread", Operator: domain.OpGTE, Value: dec("1")}
	if _, err := engine.CreateOrder(CreateRequest{Symbol: "AAPL", Side: domain.SideBuy, Qty: dec("1"), Condition: badCond}); !errors.Is(err, domain.ErrInvalidCondition) {
		t.Errorf("bad condition: err = %v", err)
	}

	order, err := engine.CreateOrder(CreateRequest{Symbol: " aapl ", Side: domain.SideBuy, Qty: dec("1"), TimeInForce: "fok"})
	if err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
	if order.Symbol != "AAPL" {
		t.Errorf("symbol not normalized: %q", order.Symbol)
	}
	if order.TimeInForce != domain.TIFDay {
		t.Errorf("unsupported tif coerced to %q, want day", order.TimeInForce)
	}
	if order.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", order.Status)
	}
	if order.ID == "" {
		t.Error("order id not assigned")
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.subscribes) != 1 || source.subscribes[0] != "AAPL" {
		t.Errorf("subscribes = %v, want [AAPL]", source.subscribes)
	}
}

func TestTriggerScenarioStopBuy(t *testing.T) {
	engine, source, submitter := newTestEngine(t)
	engine.StartMonitoring()
	defer engine.StopMonitoring()

	var filled []TriggeredOrder
	var filledMu sync.Mutex
	engine.Filled().Subscribe(func(o TriggeredOrder) {
		filledMu.Lock()
		filled = append(filled, o)
		filledMu.Unlock()
	})

	order, err := engine.CreateOrder(stopLimitRequest())
	if err != nil {
		t.Fatal(err)
	}

	// Below the threshold: nothing may fire.
	source.ticks.Publish(tick("AAPL", "149.99"))
	engine.Drain()
	if got, _ := engine.Order(order.ID); got.Status != domain.StatusPending {
		t.Fatalf("status after sub-threshold tick = %s, want pending", got.Status)
	}
	if len(submitter.Requests()) != 0 {
		t.Fatal("submission issued below threshold")
	}

	// At the threshold: exactly one submission, order ends filled.
	source.ticks.Publish(tick("AAPL", "150.00"))
	engine.Drain()

	requests := submitter.Requests()
	if len(requests) != 1 {
		t.Fatalf("submissions = %d, want exactly 1", len(requests))
	}
	req := requests[0]
	if req.Symbol != "AAPL" || req.Side != "buy" || req.Type != "stop_limit" || !req.Qty.Equal(dec("10")) {
		t.Errorf("submitted request = %+v", req)
	}
	if req.LimitPrice == nil || req.StopPrice == nil {
		t.Error("limit/stop prices not forwarded")
	}

	got, _ := engine.Order(order.ID)
	if got.Status != domain.StatusFilled {
		t.Errorf("status = %s, want filled", got.Status)
	}

	filledMu.Lock()
	defer filledMu.Unlock()
	if len(filled) != 1 || !filled[0].Tick.Price.Equal(dec("150.00")) {
		t.Errorf("filled events = %+v, want one carrying the 150.00 tick", filled)
	}

	// A later tick must not re-fire the already-filled order.
	source.ticks.Publish(tick("AAPL", "151"))
	engine.Drain()
	if len(submitter.Requests()) != 1 {
		t.Error("terminal order re-triggered")
	}
}

func TestNoConditionTriggersOnNextTick(t *testing.T) {
	engine, source, submitter := newTestEngine(t)
	engine.StartMonitoring()
	defer engine.StopMonitoring()

	order, err := engine.CreateOrder(CreateRequest{
		Symbol: "MSFT", Side: domain.SideSell, Qty: dec("2"), TimeInForce: domain.TIFGTC,
	})
	if err != nil {
		t.Fatal(err)
	}

	source.ticks.Publish(tick("MSFT", "0.01"))
	engine.Drain()

	got, _ := engine.Order(order.ID)
	if got.Status != domain.StatusFilled {
		t.Errorf("status = %s, want filled regardless of tick value", got.Status)
	}
	if len(submitter.Requests()) != 1 {
		t.Errorf("submissions = %d, want 1", len(submitter.Requests()))
	}
}

func TestCancelSemantics(t *testing.T) {
	engine, source, _ := newTestEngine(t)
	engine.StartMonitoring()
	defer engine.StopMonitoring()

	order, _ := engine.CreateOrder(CreateRequest{Symbol: "AAPL", Side: domain.SideBuy, Qty: dec("1"), TimeInForce: domain.TIFGTC})

	if !engine.CancelOrder(order.ID) {
		t.Fatal("cancel of pending order returned false")
	}
	got, _ := engine.Order(order.ID)
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	// Cancelling again, or cancelling unknown ids, is a silent no-op.
	if engine.CancelOrder(order.ID) {
		t.Error("second cancel returned true")
	}
	if engine.CancelOrder("no-such-id") {
		t.Error("cancel of unknown id returned true")
	}
	if got, _ := engine.Order(order.ID); got.Status != domain.StatusCancelled {
		t.Errorf("status changed by no-op cancel: %s", got.Status)
	}
	if source.unsubCount("AAPL") != 1 {
		t.Errorf("unsubscribes = %d, want exactly 1", source.unsubCount("AAPL"))
	}
}

func TestReferenceReleaseAfterAllCancelled(t *testing.T) {
	engine, source, _ := newTestEngine(t)
	engine.StartMonitoring()
	defer engine.StopMonitoring()

	var ids []string
	for i := 0; i < 3; i++ {
		order, err := engine.CreateOrder(CreateRequest{Symbol: "AAPL", Side: domain.SideBuy, Qty: dec("1"), TimeInForce: domain.TIFGTC})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, order.ID)
	}

	for i, id := range ids {
		if !engine.CancelOrder(id) {
			t.Fatalf("cancel %d failed", i)
		}
	}

	// One unsubscribe per cancelled order; the subscription manager's
	// reference counting collapses them to one wire unsubscribe.
	if source.unsubCount("AAPL") != 3 {
		t.Errorf("unsubscribe calls = %d, want 3 (one per order)", source.unsubCount("AAPL"))
	}
}

func TestSubmissionFailureLeavesOrderTriggered(t *testing.T) {
	source := &fakeSource{}
	engine := NewEngine(source, failingSubmitter{})
	engine.StartMonitoring()
	defer engine.StopMonitoring()

	order, _ := engine.CreateOrder(CreateRequest{Symbol: "AAPL", Side: domain.SideBuy, Qty: dec("1"), TimeInForce: domain.TIFGTC})

	source.ticks.Publish(tick("AAPL", "1"))
	engine.Drain()

	got, _ := engine.Order(order.ID)
	if got.Status != domain.StatusTriggered {
		t.Errorf("status after failed submission = %s, want triggered (no retry, no reversion)", got.Status)
	}

	// The stuck order must not fire again on later ticks.
	source.ticks.Publish(tick("AAPL", "2"))
	engine.Drain()
	if got, _ := engine.Order(order.ID); got.Status != domain.StatusTriggered {
		t.Errorf("stuck order changed status: %s", got.Status)
	}
}

func TestSweepExpired(t *testing.T) {
	engine, source, _ := newTestEngine(t)

	base := time.Date(2024, 3, 1, 15, 0, 0, 0, time.Local)
	engine.Now = func() time.Time { return base }

	dayOrder, _ := engine.CreateOrder(CreateRequest{Symbol: "AAPL", Side: domain.SideBuy, Qty: dec("1"), TimeInForce: domain.TIFDay})
	gtcOrder, _ := engine.CreateOrder(CreateRequest{Symbol: "MSFT", Side: domain.SideBuy, Qty: dec("1"), TimeInForce: domain.TIFGTC})

	// Same calendar day: nothing expires.
	engine.Now = func() time.Time { return base.Add(5 * time.Hour) }
	engine.SweepExpired()
	if got, _ := engine.Order(dayOrder.ID); got.Status != domain.StatusPending {
		t.Fatalf("day order expired on its creation day: %s", got.Status)
	}

	// Next calendar day: the day order expires, the gtc order survives.
	var expired []domain.ConditionalOrder
	engine.Expired().Subscribe(func(o domain.ConditionalOrder) { expired = append(expired, o) })
	engine.Now = func() time.Time { return base.AddDate(0, 0, 1) }
	engine.SweepExpired()

	if got, _ := engine.Order(dayOrder.ID); got.Status != domain.StatusExpired {
		t.Errorf("day order status = %s, want expired", got.Status)
	}
	if got, _ := engine.Order(gtcOrder.ID); got.Status != domain.StatusPending {
		t.Errorf("gtc order status = %s, want pending", got.Status)
	}
	if len(expired) != 1 || expired[0].ID != dayOrder.ID {
		t.Errorf("expired events = %+v", expired)
	}
	if source.unsubCount("AAPL") != 1 {
		t.Errorf("expired order not unsubscribed")
	}
}

func TestMonitoringToggleIdempotent(t *testing.T) {
	engine, source, submitter := newTestEngine(t)

	engine.StartMonitoring()
	engine.StartMonitoring()

	order, _ := engine.CreateOrder(CreateRequest{Symbol: "AAPL", Side: domain.SideBuy, Qty: dec("1"), TimeInForce: domain.TIFGTC})

	// Starting twice must not double-deliver ticks.
	source.ticks.Publish(tick("AAPL", "1"))
	engine.Drain()
	if len(submitter.Requests()) != 1 {
		t.Fatalf("submissions = %d, want 1", len(submitter.Requests()))
	}
	_ = order

	engine.StopMonitoring()
	engine.StopMonitoring()

	// Stopped: new pending orders do not fire.
	second, _ := engine.CreateOrder(CreateRequest{Symbol: "TSLA", Side: domain.SideBuy, Qty: dec("1"), TimeInForce: domain.TIFGTC})
	source.ticks.Publish(tick("TSLA", "1"))
	engine.Drain()
	if got, _ := engine.Order(second.ID); got.Status != domain.StatusPending {
		t.Errorf("order fired while monitoring stopped: %s", got.Status)
	}

	// Restarting resumes evaluation.
	engine.StartMonitoring()
	defer engine.StopMonitoring()
	source.ticks.Publish(tick("TSLA", "1"))
	engine.Drain()
	if got, _ := engine.Order(second.ID); got.Status != domain.StatusFilled {
		t.Errorf("order did not fire after restart: %s", got.Status)
	}
}

func TestStopMonitoringReleasesReferences(t *testing.T) {
	engine, source, _ := newTestEngine(t)
	engine.StartMonitoring()

	engine.CreateOrder(CreateRequest{Symbol: "AAPL", Side: domain.SideBuy, Qty: dec("1"), TimeInForce: domain.TIFGTC})
	engine.CreateOrder(CreateRequest{Symbol: "MSFT", Side: domain.SideBuy, Qty: dec("1"), TimeInForce: domain.TIFGTC})

	engine.StopMonitoring()

	if source.unsubCount("AAPL") != 1 || source.unsubCount("MSFT") != 1 {
		t.Errorf("stop did not release references: %v", source.unsubs)
	}

	// Restart re-acquires exactly one reference per pending order.
	engine.StartMonitoring()
	defer engine.StopMonitoring()

	source.mu.Lock()
	defer source.mu.Unlock()
	count := 0
	for _, s := range source.subscribes {
		if s == "AAPL" {
			count++
		}
	}
	if count != 2 { // create + restart
		t.Errorf("AAPL subscribed %d times, want 2", count)
	}
}
