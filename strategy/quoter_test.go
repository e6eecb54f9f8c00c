package strategy

import (
	"math"
	"testing"

	"quoteflow/models"
)

func balancedInputs() Inputs {
	return Inputs{
		BBA: models.BBA{
			Bid: models.PriceLevel{Price: 100, Size: 1},
			Ask: models.PriceLevel{Price: 100.5, Size: 1},
		},
		Volatility: 2.0,
	}
}

func TestGenerateQuotesTwoSided(t *testing.T) {
	e := NewQuoteEngine(testParams())
	in := balancedInputs()
	in.Momentum = 0.2

	quotes := e.GenerateQuotes(in)
	if len(quotes) != testParams().MaxOrders {
		t.Fatalf("expected %d quotes, got %d", testParams().MaxOrders, len(quotes))
	}

	var bids, asks []models.Quote
	for _, q := range quotes {
		if q.Side == models.SideBuy {
			if len(asks) > 0 {
				t.Fatalf("bids must precede asks in the ladder")
			}
			bids = append(bids, q)
		} else {
			asks = append(asks, q)
		}
	}
	if len(bids) == 0 || len(asks) == 0 {
		t.Fatalf("moderate skew must quote both sides: %d bids, %d asks", len(bids), len(asks))
	}
	// Positive skew hands the larger share to the bid side.
	if len(bids) < len(asks) {
		t.Fatalf("bid side should lead: %d bids vs %d asks", len(bids), len(asks))
	}

	for i := 1; i < len(bids); i++ {
		if bids[i].Price > bids[i-1].Price {
			t.Fatalf("bids not descending: %v then %v", bids[i-1].Price, bids[i].Price)
		}
	}
	for i := 1; i < len(asks); i++ {
		if asks[i].Price < asks[i-1].Price {
			t.Fatalf("asks not ascending: %v then %v", asks[i-1].Price, asks[i].Price)
		}
	}

	tick := testParams().TickSize
	lot := testParams().LotSize
	for _, q := range quotes {
		if r := math.Mod(q.Price+1e-9, tick); r > 2e-9 && tick-r > 2e-9 {
			t.Fatalf("price %v not on tick grid", q.Price)
		}
		if r := math.Mod(q.Size+1e-9, lot); r > 2e-9 && lot-r > 2e-9 {
			t.Fatalf("size %v not on lot grid", q.Size)
		}
		if q.Size < 0 {
			t.Fatalf("negative size %v", q.Size)
		}
	}
}

func TestGenerateQuotesLongSaturation(t *testing.T) {
	e := NewQuoteEngine(testParams())
	in := balancedInputs()
	in.InventoryDelta = testParams().InventoryExtreme + 0.1

	quotes := e.GenerateQuotes(in)
	if len(quotes) != testParams().MaxOrders {
		t.Fatalf("saturated side must use all slots, got %d", len(quotes))
	}
	for _, q := range quotes {
		if q.Side != models.SideSell {
			t.Fatalf("saturated long inventory must quote asks only, got %v", q.Side)
		}
		if q.Price < in.BBA.Ask.Price {
			t.Fatalf("ask %v crosses best ask %v", q.Price, in.BBA.Ask.Price)
		}
	}
	// Liquidation sizing is uniform across the ladder.
	for _, q := range quotes[1:] {
		if q.Size != quotes[0].Size {
			t.Fatalf("liquidation sizes not uniform: %v vs %v", q.Size, quotes[0].Size)
		}
	}
}

func TestGenerateQuotesShortSaturation(t *testing.T) {
	e := NewQuoteEngine(testParams())
	in := balancedInputs()
	in.InventoryDelta = -(testParams().InventoryExtreme + 0.1)

	quotes := e.GenerateQuotes(in)
	if len(quotes) != testParams().MaxOrders {
		t.Fatalf("saturated side must use all slots, got %d", len(quotes))
	}
	for _, q := range quotes {
		if q.Side != models.SideBuy {
			t.Fatalf("saturated short inventory must quote bids only, got %v", q.Side)
		}
		if q.Price > in.BBA.Bid.Price {
			t.Fatalf("bid %v crosses best bid %v", q.Price, in.BBA.Bid.Price)
		}
	}
}

func TestGenerateQuotesInventoryLeansLadder(t *testing.T) {
	e := NewQuoteEngine(testParams())

	neutral := balancedInputs()
	long := balancedInputs()
	long.InventoryDelta = 0.3

	countAsks := func(quotes []models.Quote) int {
		n := 0
		for _, q := range quotes {
			if q.Side == models.SideSell {
				n++
			}
		}
		return n
	}

	if countAsks(e.GenerateQuotes(long)) <= countAsks(e.GenerateQuotes(neutral)) {
		t.Fatalf("long inventory should shift slots toward the ask side")
	}
}
