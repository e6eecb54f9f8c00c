// Package indicator holds the numeric kernels used by the quoting model:
// exponentially weighted averages, Bollinger band width volatility and the
// multi-horizon trend score. All functions are pure transforms over float64
// slices owned by the caller.
package indicator

import "math"

// EWMA computes the exponentially weighted moving average of the series
// with smoothing factor alpha = 2/(window+1), seeded with the first value.
func EWMA(series []float64, window int) []float64 {
	if len(series) == 0 {
		return nil
	}
	out := make([]float64, len(series))
	alpha := 2 / float64(window+1)
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		out[i] = alpha*series[i] + (1-alpha)*out[i-1]
	}
	return out
}

// StdDev returns the population standard deviation of the series.
func StdDev(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	var mean float64
	for _, v := range series {
		mean += v
	}
	mean /= float64(len(series))

	var variance float64
	for _, v := range series {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(series))
	return math.Sqrt(variance)
}
