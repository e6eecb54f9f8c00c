// Package state owns the process-wide view of market and account data:
// order book, kline history, mark price, volatility, inventory and the
// current resting-order set. Feed appliers are the only writers; the
// quoting loop and dashboard read concurrently. Writers replace whole
// values (map swap, slice copy) rather than mutating in place so a reader
// never observes a half-updated view.
package state

import (
	"sync"

	"quoteflow/book"
	"quoteflow/models"
)

const maxExecutions = 256

// State is the shared store for one traded symbol.
type State struct {
	Book      *book.Book
	Inventory *Inventory

	mu         sync.RWMutex
	symbol     string
	klines     []models.Kline
	maxKlines  int
	volatility float64
	markPrice  float64
	orders     map[string]models.Order
	executions []models.Execution
	crossBBA   models.BBA
}

// New creates an empty state for the given symbol. maxKlines bounds the
// candle history retained for the volatility and trend kernels.
func New(symbol string, accountSize float64, maxKlines int) *State {
	return &State{
		Book:      book.New(symbol),
		Inventory: NewInventory(accountSize),
		symbol:    symbol,
		maxKlines: maxKlines,
		orders:    make(map[string]models.Order),
	}
}

// Symbol returns the traded instrument.
func (s *State) Symbol() string { return s.symbol }

// SetKlines replaces the candle history, oldest first. Used by the initial
// REST seed before the websocket stream takes over.
func (s *State) SetKlines(klines []models.Kline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.klines = append(s.klines[:0], klines...)
	s.trimKlines()
}

// ApplyKline merges one streamed candle: confirmed candles append, an
// unconfirmed candle replaces the most recent one in place.
func (s *State) ApplyKline(k models.Kline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k.Confirmed || len(s.klines) == 0 {
		s.klines = append(s.klines, k)
		s.trimKlines()
		return
	}
	s.klines[len(s.klines)-1] = k
}

func (s *State) trimKlines() {
	if s.maxKlines > 0 && len(s.klines) > s.maxKlines {
		s.klines = append(s.klines[:0], s.klines[len(s.klines)-s.maxKlines:]...)
	}
}

// Closes returns a copy of the close-price series, oldest first.
func (s *State) Closes() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]float64, len(s.klines))
	for i, k := range s.klines {
		out[i] = k.Close
	}
	return out
}

// KlineCount returns the number of retained candles.
func (s *State) KlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.klines)
}

// SetVolatility stores the freshly computed volatility value.
func (s *State) SetVolatility(v float64) {
	s.mu.Lock()
	s.volatility = v
	s.mu.Unlock()
}

// Volatility returns the last computed volatility value.
func (s *State) Volatility() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volatility
}

// SetMarkPrice stores the ticker mark price.
func (s *State) SetMarkPrice(p float64) {
	s.mu.Lock()
	s.markPrice = p
	s.mu.Unlock()
}

// MarkPrice returns the last ticker mark price.
func (s *State) MarkPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markPrice
}

// SetCrossBBA stores the best bid/ask observed on the secondary exchange.
func (s *State) SetCrossBBA(b models.BBA) {
	s.mu.Lock()
	s.crossBBA = b
	s.mu.Unlock()
}

// CrossBBA returns the secondary-exchange best bid/ask.
func (s *State) CrossBBA() models.BBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.crossBBA
}

// ReplaceOrders swaps in a full open-order snapshot from the REST resync.
func (s *State) ReplaceOrders(orders map[string]models.Order) {
	fresh := make(map[string]models.Order, len(orders))
	for id, o := range orders {
		fresh[id] = o
	}
	s.mu.Lock()
	s.orders = fresh
	s.mu.Unlock()
}

// ApplyOrderUpdates folds private-feed order transitions into the current
// set: New entries are inserted, Filled and Cancelled ones removed. The map
// is rebuilt and swapped so concurrent readers keep a consistent copy.
func (s *State) ApplyOrderUpdates(updates []models.OrderUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[string]models.Order, len(s.orders)+len(updates))
	for id, o := range s.orders {
		fresh[id] = o
	}
	for _, u := range updates {
		switch u.Status {
		case models.OrderStatusNew:
			fresh[u.OrderID] = models.Order{ID: u.OrderID, Side: u.Side, Price: u.Price, Size: u.Size}
		case models.OrderStatusFilled, models.OrderStatusCancelled:
			delete(fresh, u.OrderID)
		}
	}
	s.orders = fresh
}

// Orders returns a copy of the current resting-order set.
func (s *State) Orders() map[string]models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.Order, len(s.orders))
	for id, o := range s.orders {
		out[id] = o
	}
	return out
}

// AppendExecutions records recent fills for the dashboard and chase loop.
func (s *State) AppendExecutions(execs []models.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions = append(s.executions, execs...)
	if len(s.executions) > maxExecutions {
		s.executions = append(s.executions[:0], s.executions[len(s.executions)-maxExecutions:]...)
	}
}

// Executions returns a copy of the recent fill history, oldest first.
func (s *State) Executions() []models.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Execution, len(s.executions))
	copy(out, s.executions)
	return out
}
