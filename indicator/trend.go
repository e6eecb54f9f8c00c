package indicator

import "math"

// TrendScore condenses momentum over several lookback horizons into one
// value. Lengths must be supplied longest to shortest; each sub-score is
// the log return of the current price against the EWMA value `length` bars
// back, scaled by 100. Sub-scores are blended with exponentially decaying
// weights lambda^i, lambda = 1 - 2/(N+1), so the longest horizons dominate.
// An EWMA value of exactly zero yields a zero sub-score rather than a log
// domain error.
func TrendScore(closes []float64, lengths []int) float64 {
	if len(closes) == 0 || len(lengths) == 0 {
		return 0
	}
	longest := lengths[0]
	for _, l := range lengths {
		if l > longest {
			longest = l
		}
	}
	if len(closes) < longest {
		return 0
	}

	current := closes[len(closes)-1]
	ewma := EWMA(closes, longest)

	n := len(lengths)
	lambda := 1 - 2/float64(n+1)

	var weighted, weightSum float64
	weight := 1.0
	for i, length := range lengths {
		val := ewma[len(ewma)-length]
		var score float64
		if val != 0 {
			score = math.Log(current/val) * 100
		}
		if i > 0 {
			weight *= lambda
		}
		weighted += score * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return 0
	}
	return weighted / weightSum
}
