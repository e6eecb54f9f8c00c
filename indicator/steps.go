package indicator

import "math"

// Linspace returns n evenly spaced values from start to end inclusive.
func Linspace(start, end float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// RoundToStep floors a value to the nearest valid multiple of step, the
// rounding the exchange applies to prices (tick size) and sizes (lot
// size). A tiny epsilon absorbs float artifacts so an exact multiple is
// not pushed down a step.
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step+1e-9) * step
}
