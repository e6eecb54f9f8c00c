package state

import (
	"sync"

	"quoteflow/models"
)

// Inventory tracks the running position delta relative to account size.
// The tracker is cumulative: each ApplyPositions call adds the increment
// implied by its rows, so callers must only feed genuinely new
// observations to avoid double counting.
type Inventory struct {
	mu          sync.RWMutex
	accountSize float64
	delta       float64
}

// NewInventory creates a tracker normalizing against the given account size.
func NewInventory(accountSize float64) *Inventory {
	return &Inventory{accountSize: accountSize}
}

// ApplyPositions folds a batch of position rows into the delta. Rows with
// an empty side are skipped; Buy value adds, Sell value subtracts.
func (inv *Inventory) ApplyPositions(rows []models.Position) {
	if inv.accountSize == 0 {
		return
	}

	var val float64
	for _, row := range rows {
		switch row.Side {
		case models.SideBuy:
			val += row.Value
		case models.SideSell:
			val -= row.Value
		default:
			continue
		}
	}

	inv.mu.Lock()
	inv.delta += val / inv.accountSize
	inv.mu.Unlock()
}

// Delta returns the current signed inventory delta.
func (inv *Inventory) Delta() float64 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.delta
}

// SetDelta overrides the delta, used when reseeding from a full position
// snapshot after reconnect.
func (inv *Inventory) SetDelta(d float64) {
	inv.mu.Lock()
	inv.delta = d
	inv.mu.Unlock()
}

// SeedPositions replaces the delta with the absolute value implied by a
// full REST position snapshot, discarding any accumulated drift.
func (inv *Inventory) SeedPositions(rows []models.Position) {
	if inv.accountSize == 0 {
		return
	}

	var val float64
	for _, row := range rows {
		switch row.Side {
		case models.SideBuy:
			val += row.Value
		case models.SideSell:
			val -= row.Value
		}
	}
	inv.SetDelta(val / inv.accountSize)
}
