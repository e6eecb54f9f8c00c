// Package strategy converts the shared market/account view into a quote
// ladder and reconciles that ladder against the exchange's resting orders.
package strategy

import (
	"math"

	"quoteflow/indicator"
)

const (
	momentumWeight   = 0.5
	markSpreadWeight = 0.5
)

// MarkSpread measures the displacement of the exchange mark price from the
// size-weighted mid, on the same log-return*100 scale as the trend score.
// A mark above the local mid reads positive and leans the ladder toward the
// bids. Returns 0 when either input is unavailable.
func MarkSpread(markPrice, weightedMid float64) float64 {
	if markPrice <= 0 || weightedMid <= 0 {
		return 0
	}
	return math.Log(markPrice/weightedMid) * 100
}

// Momentum scores the close series over the configured lookback horizons,
// longest first.
func Momentum(closes []float64, lengths []int) float64 {
	return indicator.TrendScore(closes, lengths)
}

// RawSkew blends momentum and mark spread into the directional signal the
// quote engine splits into bid and ask skews.
func RawSkew(momentum, markSpread float64) float64 {
	return momentumWeight*momentum + markSpreadWeight*markSpread
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
