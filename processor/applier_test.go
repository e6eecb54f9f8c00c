package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"quoteflow/config"
	quoting "quoteflow/internal/channel/quoting"
	"quoteflow/logger"
	"quoteflow/models"
	"quoteflow/state"
)

func testApplier(t *testing.T) (*Applier, *quoting.Channels, *state.State) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Strategy.Symbol = "BTCUSDT"
	cfg.Strategy.VolatilityLength = 3
	cfg.Strategy.VolatilityMult = 2
	cfg.Strategy.VolatilityOffset = 0.001

	st := state.New("BTCUSDT", 10000, 500)
	ch := quoting.NewChannels(16, 16, 16)
	a := &Applier{
		config:   cfg,
		channels: ch,
		state:    st,
		ctx:      context.Background(),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
	return a, ch, st
}

func TestApplyMarketSnapshotAndDelta(t *testing.T) {
	a, _, st := testApplier(t)
	log := a.log.WithComponent("test")

	a.applyMarket(models.MarketEvent{
		Exchange: "bybit",
		Type:     models.EventSnapshot,
		Bids:     []models.PriceLevel{{Price: 100, Size: 1}},
		Asks:     []models.PriceLevel{{Price: 101, Size: 1}},
	}, log)
	if !st.Book.Ready() {
		t.Fatalf("snapshot must mark the book ready")
	}

	a.applyMarket(models.MarketEvent{
		Exchange: "bybit",
		Type:     models.EventDelta,
		Bids:     []models.PriceLevel{{Price: 99.5, Size: 2}},
	}, log)
	if bids := st.Book.Bids(); len(bids) != 2 {
		t.Fatalf("delta not applied: %+v", bids)
	}
}

func TestApplyMarketResetDropsBook(t *testing.T) {
	a, _, st := testApplier(t)
	log := a.log.WithComponent("test")

	a.applyMarket(models.MarketEvent{
		Exchange: "bybit",
		Type:     models.EventSnapshot,
		Bids:     []models.PriceLevel{{Price: 100, Size: 1}},
		Asks:     []models.PriceLevel{{Price: 101, Size: 1}},
	}, log)
	a.applyMarket(models.MarketEvent{Exchange: "bybit", Type: models.EventReset}, log)

	if st.Book.Ready() {
		t.Fatalf("reset must leave the book awaiting a snapshot")
	}
}

func TestApplyMarketDeltaBeforeSnapshotCounted(t *testing.T) {
	a, _, st := testApplier(t)
	log := a.log.WithComponent("test")

	a.applyMarket(models.MarketEvent{
		Exchange: "bybit",
		Type:     models.EventDelta,
		Bids:     []models.PriceLevel{{Price: 99.5, Size: 2}},
	}, log)
	if a.deltasRejected != 1 {
		t.Fatalf("rejected delta not counted: %d", a.deltasRejected)
	}
	if st.Book.Ready() {
		t.Fatalf("book must stay unready")
	}
}

func TestApplyMarketTickerAndCross(t *testing.T) {
	a, _, st := testApplier(t)
	log := a.log.WithComponent("test")

	a.applyMarket(models.MarketEvent{
		Exchange:  "bybit",
		Type:      models.EventTicker,
		Asks:      []models.PriceLevel{{Price: 101.5, Size: 3}},
		MarkPrice: 100.7,
	}, log)
	if got := st.Book.BBA().Ask.Price; got != 101.5 {
		t.Fatalf("ask BBA not updated: %v", got)
	}
	if st.MarkPrice() != 100.7 {
		t.Fatalf("mark price not stored: %v", st.MarkPrice())
	}

	a.applyMarket(models.MarketEvent{
		Exchange: "binance",
		Type:     models.EventBBA,
		BBA: &models.BBA{
			Bid: models.PriceLevel{Price: 100.4, Size: 1},
			Ask: models.PriceLevel{Price: 100.6, Size: 1},
		},
	}, log)
	if got := st.CrossBBA().Bid.Price; got != 100.4 {
		t.Fatalf("cross BBA not stored: %v", got)
	}
}

func TestApplyMarketKlineRecomputesVolatility(t *testing.T) {
	a, _, st := testApplier(t)
	log := a.log.WithComponent("test")

	klines := []models.Kline{
		{Start: 1, Close: 100, Confirmed: true},
		{Start: 2, Close: 102, Confirmed: true},
		{Start: 3, Close: 101, Confirmed: true},
	}
	a.applyMarket(models.MarketEvent{Exchange: "bybit", Type: models.EventKline, Klines: klines}, log)

	if st.KlineCount() != 3 {
		t.Fatalf("klines not applied: %d", st.KlineCount())
	}
	// Band width over a non-flat series plus the configured floor.
	if v := st.Volatility(); v <= a.config.Strategy.VolatilityOffset {
		t.Fatalf("volatility not recomputed: %v", v)
	}
}

func TestApplyPrivateExecutionForwardsFill(t *testing.T) {
	a, ch, st := testApplier(t)
	log := a.log.WithComponent("test")

	a.applyPrivate(models.PrivateEvent{
		Type: models.EventExecution,
		Executions: []models.Execution{
			{OrderID: "x", Side: models.SideBuy, Price: 100, Size: 0.5, Time: 1700000000000},
		},
		Timestamp: time.Now(),
	}, log)

	select {
	case rec := <-ch.Fills:
		if rec.OrderID != "x" || rec.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected fill record: %+v", rec)
		}
	default:
		t.Fatalf("fill not forwarded")
	}
	if len(st.Executions()) != 1 {
		t.Fatalf("execution not retained")
	}
}

func TestApplyPrivateOrderSyncReplaces(t *testing.T) {
	a, _, st := testApplier(t)
	log := a.log.WithComponent("test")

	st.ApplyOrderUpdates([]models.OrderUpdate{
		{OrderID: "stale", Side: models.SideBuy, Price: 99, Size: 1, Status: models.OrderStatusNew},
	})
	a.applyPrivate(models.PrivateEvent{
		Type: models.EventOrderSync,
		OpenOrders: map[string]models.Order{
			"fresh": {ID: "fresh", Side: models.SideSell, Price: 101, Size: 1},
		},
	}, log)

	orders := st.Orders()
	if _, ok := orders["stale"]; ok {
		t.Fatalf("stale order survived resync")
	}
	if _, ok := orders["fresh"]; !ok {
		t.Fatalf("resynced order missing")
	}
}
