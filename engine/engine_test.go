package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"quoteflow/config"
	"quoteflow/models"
	"quoteflow/state"
	"quoteflow/strategy"
)

type fakeGateway struct {
	mu        sync.Mutex
	submitted [][]models.Quote
	amends    []strategy.Amend
	cancels   []string
	cancelAll int
}

func (g *fakeGateway) SubmitBatch(ctx context.Context, quotes []models.Quote) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, quotes)
	return nil
}

func (g *fakeGateway) Amend(ctx context.Context, a strategy.Amend) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amends = append(g.amends, a)
	return nil
}

func (g *fakeGateway) AmendBatch(ctx context.Context, amends []strategy.Amend) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amends = append(g.amends, amends...)
	return nil
}

func (g *fakeGateway) Cancel(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, orderID)
	return nil
}

func (g *fakeGateway) CancelBatch(ctx context.Context, orderIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, orderIDs...)
	return nil
}

func (g *fakeGateway) CancelAll(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelAll++
	return nil
}

func (g *fakeGateway) SubmitTracked(ctx context.Context, q models.Quote) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, []models.Quote{q})
	return "chase-1", nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Strategy.Symbol = "BTCUSDT"
	cfg.Strategy.AccountSize = 10000
	cfg.Strategy.TickSize = 0.5
	cfg.Strategy.LotSize = 0.001
	cfg.Strategy.MaxOrders = 8
	cfg.Strategy.MinOrderSize = 0.01
	cfg.Strategy.MaxOrderSize = 0.1
	cfg.Strategy.InventoryExtreme = 0.6
	cfg.Strategy.TargetSpread = 1.0
	cfg.Strategy.AmendBuffer = 0.5
	cfg.Strategy.MomentumLengths = []int{60, 30, 10}
	cfg.Strategy.QuoteInterval = config.Duration(10 * time.Millisecond)
	cfg.Strategy.WarmupKlines = 1
	return cfg
}

func warmState() *state.State {
	st := state.New("BTCUSDT", 10000, 500)
	st.Book.LoadSnapshot(
		[]models.PriceLevel{{Price: 100, Size: 1}},
		[]models.PriceLevel{{Price: 100.5, Size: 1}},
	)
	st.ApplyKline(models.Kline{Start: 1, Close: 100, Confirmed: true})
	st.SetVolatility(2.0)
	return st
}

func testEngine(cfg *config.Config, st *state.State, gw strategy.OrderGateway) *Engine {
	e := New(cfg, st, gw)
	e.ctx = context.Background()
	return e
}

func TestRunCycleSubmitsFreshLadder(t *testing.T) {
	gw := &fakeGateway{}
	e := testEngine(testConfig(), warmState(), gw)

	if err := e.runCycle(); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(gw.submitted) != 1 {
		t.Fatalf("expected one submit batch, got %d", len(gw.submitted))
	}
	if len(gw.submitted[0]) != 8 {
		t.Fatalf("expected full ladder, got %d quotes", len(gw.submitted[0]))
	}
}

func TestRunCycleSkipsDegenerateBook(t *testing.T) {
	gw := &fakeGateway{}
	st := state.New("BTCUSDT", 10000, 500)
	// Crossed best levels must not produce quotes.
	st.Book.LoadSnapshot(
		[]models.PriceLevel{{Price: 101, Size: 1}},
		[]models.PriceLevel{{Price: 100, Size: 1}},
	)
	st.SetVolatility(2.0)
	e := testEngine(testConfig(), st, gw)

	if err := e.runCycle(); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(gw.submitted) != 0 {
		t.Fatalf("degenerate book must not quote")
	}
	if e.cyclesSkipped != 1 {
		t.Fatalf("skip not counted: %d", e.cyclesSkipped)
	}
}

func TestWarmupGate(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.WarmupKlines = 5
	st := warmState()
	e := testEngine(cfg, st, &fakeGateway{})

	if e.warm() {
		t.Fatalf("one kline must not satisfy a 5-kline warmup")
	}
	for i := 2; i <= 5; i++ {
		st.ApplyKline(models.Kline{Start: int64(i), Close: 100, Confirmed: true})
	}
	if !e.warm() {
		t.Fatalf("warmup gate should pass")
	}
}

func TestChaseFollowsAndFills(t *testing.T) {
	gw := &fakeGateway{}
	st := warmState()
	// The chase order appears in state after placement.
	st.ApplyOrderUpdates([]models.OrderUpdate{
		{OrderID: "chase-1", Side: models.SideBuy, Price: 100, Size: 0.01, Status: models.OrderStatusNew},
	})

	done := make(chan error, 1)
	go func() {
		done <- Chase(context.Background(), gw, st, models.SideBuy, 0.01, time.Millisecond)
	}()

	// Move the touch so the chase amends, then fill the order.
	time.Sleep(5 * time.Millisecond)
	st.Book.UpdateBBA(&models.PriceLevel{Price: 100.5, Size: 1}, nil)
	time.Sleep(5 * time.Millisecond)
	st.ApplyOrderUpdates([]models.OrderUpdate{{OrderID: "chase-1", Status: models.OrderStatusFilled}})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("chase: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("chase did not finish")
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.amends) == 0 {
		t.Fatalf("chase never followed the touch")
	}
}

func TestChaseCancelsOnContextEnd(t *testing.T) {
	gw := &fakeGateway{}
	st := warmState()
	st.ApplyOrderUpdates([]models.OrderUpdate{
		{OrderID: "chase-1", Side: models.SideBuy, Price: 100, Size: 0.01, Status: models.OrderStatusNew},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Chase(ctx, gw, st, models.SideBuy, 0.01, time.Millisecond)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("chase did not exit on cancellation")
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.cancels) != 1 || gw.cancels[0] != "chase-1" {
		t.Fatalf("resting order not cleaned up: %v", gw.cancels)
	}
}
