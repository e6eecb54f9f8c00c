package strategy

import (
	"math"
	"testing"
)

func TestMarkSpread(t *testing.T) {
	if got := MarkSpread(0, 100); got != 0 {
		t.Fatalf("missing mark price must yield 0, got %v", got)
	}
	if got := MarkSpread(100, 0); got != 0 {
		t.Fatalf("missing mid must yield 0, got %v", got)
	}

	got := MarkSpread(101, 100)
	want := math.Log(1.01) * 100
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("MarkSpread = %v, want %v", got, want)
	}
	if MarkSpread(100, 101) >= 0 {
		t.Fatalf("mark below mid must skew negative")
	}
}

func TestMarkSpreadLeanDirection(t *testing.T) {
	// A mark 1% above the local mid must push the blended skew toward the
	// bids, not the asks.
	spread := MarkSpread(101, 100)
	if spread <= 0 {
		t.Fatalf("mark above mid must read positive, got %v", spread)
	}
	if skew := RawSkew(0, spread); skew <= 0 {
		t.Fatalf("positive mark spread must yield a positive raw skew, got %v", skew)
	}
}

func TestRawSkewBlend(t *testing.T) {
	if got := RawSkew(0.4, 0.2); math.Abs(got-0.3) > 1e-12 {
		t.Fatalf("RawSkew = %v, want 0.3", got)
	}
	if got := RawSkew(0, 0); got != 0 {
		t.Fatalf("neutral signal must be 0, got %v", got)
	}
}
