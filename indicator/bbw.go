package indicator

// BollingerBandWidth computes 2 * stdMult * std(last length closes) divided
// by the EWMA of the full series over the same window. The caller adds any
// configured volatility offset on top.
func BollingerBandWidth(series []float64, length, stdMult int) float64 {
	if len(series) < length || length <= 0 {
		return 0
	}
	tail := series[len(series)-length:]
	ewma := EWMA(series, length)
	last := ewma[len(ewma)-1]
	if last == 0 {
		return 0
	}
	return 2 * float64(stdMult) * StdDev(tail) / last
}
