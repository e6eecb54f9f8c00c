package state

import (
	"testing"

	"quoteflow/models"
)

func TestApplyKlineConfirmAndReplace(t *testing.T) {
	s := New("BTCUSDT", 10000, 500)

	s.ApplyKline(models.Kline{Start: 1, Close: 100, Confirmed: true})
	s.ApplyKline(models.Kline{Start: 2, Close: 101, Confirmed: false})
	if got := s.KlineCount(); got != 2 {
		t.Fatalf("expected 2 klines, got %d", got)
	}

	// Unconfirmed updates keep replacing the open candle.
	s.ApplyKline(models.Kline{Start: 2, Close: 103, Confirmed: false})
	closes := s.Closes()
	if closes[len(closes)-1] != 103 {
		t.Fatalf("open candle not replaced: %v", closes)
	}
	if s.KlineCount() != 2 {
		t.Fatalf("replace must not grow history")
	}

	// Confirmation appends the next candle.
	s.ApplyKline(models.Kline{Start: 2, Close: 104, Confirmed: true})
	if s.KlineCount() != 3 {
		t.Fatalf("confirmed candle must append")
	}
}

func TestKlineHistoryBounded(t *testing.T) {
	s := New("BTCUSDT", 10000, 5)
	for i := 0; i < 20; i++ {
		s.ApplyKline(models.Kline{Start: int64(i), Close: float64(i), Confirmed: true})
	}
	if got := s.KlineCount(); got != 5 {
		t.Fatalf("history not trimmed: %d", got)
	}
	closes := s.Closes()
	if closes[0] != 15 || closes[4] != 19 {
		t.Fatalf("wrong window retained: %v", closes)
	}
}

func TestApplyOrderUpdates(t *testing.T) {
	s := New("BTCUSDT", 10000, 500)

	s.ApplyOrderUpdates([]models.OrderUpdate{
		{OrderID: "a", Side: models.SideBuy, Price: 100, Size: 1, Status: models.OrderStatusNew},
		{OrderID: "b", Side: models.SideSell, Price: 102, Size: 1, Status: models.OrderStatusNew},
	})
	if got := len(s.Orders()); got != 2 {
		t.Fatalf("expected 2 orders, got %d", got)
	}

	s.ApplyOrderUpdates([]models.OrderUpdate{
		{OrderID: "a", Status: models.OrderStatusFilled},
	})
	orders := s.Orders()
	if _, ok := orders["a"]; ok {
		t.Fatalf("filled order still present")
	}
	if _, ok := orders["b"]; !ok {
		t.Fatalf("unrelated order removed")
	}
}

func TestReplaceOrdersIsolatesCaller(t *testing.T) {
	s := New("BTCUSDT", 10000, 500)
	src := map[string]models.Order{"x": {ID: "x", Side: models.SideBuy, Price: 99, Size: 1}}
	s.ReplaceOrders(src)

	// Mutating the caller's map after the swap must not leak into state.
	src["y"] = models.Order{ID: "y"}
	if got := len(s.Orders()); got != 1 {
		t.Fatalf("state aliased caller map: %d orders", got)
	}
}

func TestInventoryCumulativeDelta(t *testing.T) {
	inv := NewInventory(10000)

	inv.ApplyPositions([]models.Position{
		{Side: models.SideBuy, Value: 2500},
		{Side: models.SideSell, Value: 500},
	})
	if got := inv.Delta(); got != 0.2 {
		t.Fatalf("delta = %v, want 0.2", got)
	}

	// Second observation accumulates on top of the first.
	inv.ApplyPositions([]models.Position{{Side: models.SideSell, Value: 1000}})
	if got := inv.Delta(); got != 0.1 {
		t.Fatalf("delta = %v, want 0.1", got)
	}
}

func TestInventorySeedReplacesDrift(t *testing.T) {
	inv := NewInventory(10000)
	inv.ApplyPositions([]models.Position{{Side: models.SideBuy, Value: 5000}})

	// A full snapshot overrides whatever accumulated before it.
	inv.SeedPositions([]models.Position{{Side: models.SideSell, Value: 1000}})
	if got := inv.Delta(); got != -0.1 {
		t.Fatalf("delta = %v, want -0.1", got)
	}
}

func TestInventorySkipsEmptySide(t *testing.T) {
	inv := NewInventory(10000)
	inv.ApplyPositions([]models.Position{{Side: "", Value: 9999}})
	if got := inv.Delta(); got != 0 {
		t.Fatalf("empty side must be skipped, got %v", got)
	}
}
