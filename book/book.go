// Package book maintains a local price-level order book rebuilt from a
// snapshot plus a stream of incremental updates.
package book

import (
	"sort"
	"sync"

	"quoteflow/models"
)

// bookSide is one side of the book, kept strictly ascending by price with
// no duplicates. Best bid is the last element of the bid side, best ask the
// first element of the ask side.
type bookSide struct {
	levels []models.PriceLevel
}

func (s *bookSide) search(price float64) int {
	return sort.Search(len(s.levels), func(i int) bool {
		return s.levels[i].Price >= price
	})
}

// loadSnapshot replaces the side wholesale. Levels with non-positive size
// are dropped; the rest are sorted ascending by price.
func (s *bookSide) loadSnapshot(levels []models.PriceLevel) {
	s.levels = s.levels[:0]
	for _, l := range levels {
		if l.Size > 0 {
			s.levels = append(s.levels, l)
		}
	}
	sort.Slice(s.levels, func(i, j int) bool {
		return s.levels[i].Price < s.levels[j].Price
	})
}

// applyDelta merges an unordered batch of level updates. The batch is one
// logical operation: every price mentioned in the batch is first removed,
// then every update with positive size is inserted at its sorted position.
// Deletes are addressed by price, so a deletion for an absent price is a
// no-op. A batch that lists the same price twice with positive sizes
// inserts a duplicate; the caller's sorted-side check rejects the delta and
// the side stays corrupted until the next snapshot.
func (s *bookSide) applyDelta(updates []models.PriceLevel) {
	for _, u := range updates {
		i := s.search(u.Price)
		if i < len(s.levels) && s.levels[i].Price == u.Price {
			s.levels = append(s.levels[:i], s.levels[i+1:]...)
		}
	}
	for _, u := range updates {
		if u.Size <= 0 {
			continue
		}
		i := s.search(u.Price)
		s.levels = append(s.levels, models.PriceLevel{})
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = u
	}
}

func (s *bookSide) sorted() bool {
	for i := 1; i < len(s.levels); i++ {
		if s.levels[i-1].Price >= s.levels[i].Price {
			return false
		}
	}
	return true
}

func (s *bookSide) snapshot() []models.PriceLevel {
	out := make([]models.PriceLevel, len(s.levels))
	copy(out, s.levels)
	return out
}

// Book pairs the two sides with the independently streamed best bid/ask.
// Writers are the feed applier only; the quoting loop reads concurrently,
// so every mutation happens under the lock and reads hand out copies.
type Book struct {
	mu     sync.RWMutex
	symbol string
	bids   bookSide
	asks   bookSide
	bba    models.BBA
	ready  bool
}

// New returns an empty book for the given symbol. The book stays not-ready
// until the first snapshot arrives; deltas received before that are
// rejected so a half-initialized side is never updated.
func New(symbol string) *Book {
	return &Book{symbol: symbol}
}

// Symbol returns the instrument this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// LoadSnapshot replaces both sides wholesale and realigns the BBA with the
// snapshot extremums.
func (b *Book) LoadSnapshot(bids, asks []models.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.loadSnapshot(bids)
	b.asks.loadSnapshot(asks)
	if n := len(b.bids.levels); n > 0 {
		b.bba.Bid = b.bids.levels[n-1]
	}
	if len(b.asks.levels) > 0 {
		b.bba.Ask = b.asks.levels[0]
	}
	b.ready = true
}

// ApplyDelta merges a batch of bid and ask updates. Applying a delta to a
// book that has not been seeded with a snapshot is an invariant violation:
// the session contract guarantees snapshot-before-deltas.
func (b *Book) ApplyDelta(bids, asks []models.PriceLevel) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ready {
		return &models.InvariantError{Component: "book", Detail: "delta before snapshot"}
	}
	b.bids.applyDelta(bids)
	b.asks.applyDelta(asks)
	if !b.bids.sorted() || !b.asks.sorted() {
		return &models.InvariantError{Component: "book", Detail: "side unsorted after delta"}
	}
	return nil
}

// UpdateBBA applies a ticker update. Either pointer may be nil when the
// exchange only refreshed one side.
func (b *Book) UpdateBBA(bid, ask *models.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bid != nil {
		b.bba.Bid = *bid
	}
	if ask != nil {
		b.bba.Ask = *ask
	}
}

// BBA returns the current best bid and ask.
func (b *Book) BBA() models.BBA {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bba
}

// Ready reports whether the book has been seeded with a snapshot.
func (b *Book) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// Reset discards all book state. Called on feed reconnect before the fresh
// snapshot is requested.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.levels = b.bids.levels[:0]
	b.asks.levels = b.asks.levels[:0]
	b.ready = false
}

// Bids returns a copy of the bid side, ascending by price.
func (b *Book) Bids() []models.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.snapshot()
}

// Asks returns a copy of the ask side, ascending by price.
func (b *Book) Asks() []models.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.snapshot()
}

// Depth returns the number of levels on each side.
func (b *Book) Depth() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids.levels), len(b.asks.levels)
}
