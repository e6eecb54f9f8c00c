package strategy

import (
	"math"

	"quoteflow/indicator"
	"quoteflow/models"
)

// Params are the exchange and risk constraints the quote engine works
// within. All fields are required; validation happens at config load.
type Params struct {
	TickSize         float64
	LotSize          float64
	MaxOrders        int
	MinOrderSize     float64
	MaxOrderSize     float64
	InventoryExtreme float64
	TargetSpread     float64
}

// Inputs is the read-only snapshot of shared state a single quoting cycle
// operates on.
type Inputs struct {
	BBA            models.BBA
	Volatility     float64
	Momentum       float64
	MarkSpread     float64
	InventoryDelta float64
}

// QuoteEngine synthesizes a skewed two-sided ladder from market features.
// It is a pure function of its inputs; no state survives between calls.
type QuoteEngine struct {
	params Params
}

// NewQuoteEngine builds an engine with the given constraints.
func NewQuoteEngine(p Params) *QuoteEngine {
	return &QuoteEngine{params: p}
}

// skews derives the bid and ask skews from the blended directional signal
// plus the inventory correction. At most one side carries signal skew; the
// inventory term then leans quoting toward closing the imbalance, and a
// delta beyond the extreme threshold saturates that side to exactly 1.
func (e *QuoteEngine) skews(in Inputs) (bidSkew, askSkew float64) {
	skew := RawSkew(in.Momentum, in.MarkSpread)
	if skew >= 0 {
		bidSkew = clip(skew, 0, 1)
	} else {
		askSkew = clip(-skew, 0, 1)
	}

	delta := in.InventoryDelta
	if delta < 0 {
		bidSkew += -delta
	}
	if delta > 0 {
		askSkew += delta
	}
	if delta < -e.params.InventoryExtreme {
		bidSkew = 1
	}
	if delta > e.params.InventoryExtreme {
		askSkew = 1
	}
	return bidSkew, askSkew
}

// priceRanges lays out the price points for each side. A saturated side
// quotes alone, stepping one tick per order away from its best. Otherwise
// orders are split in favor of the more-skewed side, the near edge of that
// side is tightened to one tick inside the opposite best, and the passive
// side is pushed out by the target spread.
func (e *QuoteEngine) priceRanges(in Inputs, bidSkew, askSkew float64) (bidPrices, askPrices []float64) {
	bestBid := in.BBA.Bid.Price
	bestAsk := in.BBA.Ask.Price
	baseRange := in.Volatility / 2

	if bidSkew >= 1 {
		n := e.params.MaxOrders
		return indicator.Linspace(bestBid, bestBid-e.params.TickSize*float64(n), n), nil
	}
	if askSkew >= 1 {
		n := e.params.MaxOrders
		return nil, indicator.Linspace(bestAsk, bestAsk+e.params.TickSize*float64(n), n)
	}

	lead := int(float64(e.params.MaxOrders) / 2 * (1 + math.Max(bidSkew, askSkew)))
	if lead > e.params.MaxOrders {
		lead = e.params.MaxOrders
	}
	var numBids, numAsks int
	if bidSkew >= askSkew {
		numBids, numAsks = lead, e.params.MaxOrders-lead
	} else {
		numAsks, numBids = lead, e.params.MaxOrders-lead
	}

	// Outer bounds widen as skew falls away: passive side rests deeper.
	bidLower := bestBid - baseRange*(1-bidSkew)
	askUpper := bestAsk + baseRange*(1-askSkew)

	if bidSkew >= askSkew {
		bestBid = bestAsk - e.params.TickSize
		bestAsk += e.params.TargetSpread
	} else {
		bestAsk = bestBid + e.params.TickSize
		bestBid -= e.params.TargetSpread
	}

	return indicator.Linspace(bestBid, bidLower, numBids),
		indicator.Linspace(bestAsk, askUpper, numAsks)
}

// sizeRanges lays out order sizes. A saturated side quotes a uniform
// liquidation size; otherwise the leading side's minimum grows with
// sqrt(skew) while both maxima shrink with (1-skew).
func (e *QuoteEngine) sizeRanges(bidSkew, askSkew float64, numBids, numAsks int) (bidSizes, askSizes []float64) {
	minSize := e.params.MinOrderSize
	maxSize := e.params.MaxOrderSize

	if bidSkew >= 1 || askSkew >= 1 {
		uniform := (minSize + maxSize/2) / 2
		sizes := make([]float64, 0, numBids+numAsks)
		for i := 0; i < numBids+numAsks; i++ {
			sizes = append(sizes, uniform)
		}
		if bidSkew >= 1 {
			return sizes, nil
		}
		return nil, sizes
	}

	bidMin := minSize * (1 + math.Sqrt(bidSkew))
	askMin := minSize * (1 + math.Sqrt(askSkew))
	bidMax := maxSize * (1 - bidSkew)
	askMax := maxSize * (1 - askSkew)

	bidStart := minSize
	if bidSkew >= askSkew {
		bidStart = bidMin
	}
	askStart := minSize
	if askSkew > bidSkew {
		askStart = askMin
	}

	return indicator.Linspace(bidStart, bidMax, numBids),
		indicator.Linspace(askStart, askMax, numAsks)
}

// GenerateQuotes produces the ladder for one cycle: bids first (most
// aggressive leading), then asks. Prices are floored to the tick size and
// sizes to the lot size.
func (e *QuoteEngine) GenerateQuotes(in Inputs) []models.Quote {
	bidSkew, askSkew := e.skews(in)
	bidPrices, askPrices := e.priceRanges(in, bidSkew, askSkew)
	bidSizes, askSizes := e.sizeRanges(bidSkew, askSkew, len(bidPrices), len(askPrices))

	quotes := make([]models.Quote, 0, len(bidPrices)+len(askPrices))
	for i := range bidPrices {
		quotes = append(quotes, models.Quote{
			Side:  models.SideBuy,
			Price: indicator.RoundToStep(bidPrices[i], e.params.TickSize),
			Size:  indicator.RoundToStep(bidSizes[i], e.params.LotSize),
		})
	}
	for i := range askPrices {
		quotes = append(quotes, models.Quote{
			Side:  models.SideSell,
			Price: indicator.RoundToStep(askPrices[i], e.params.TickSize),
			Size:  indicator.RoundToStep(askSizes[i], e.params.LotSize),
		})
	}
	return quotes
}
