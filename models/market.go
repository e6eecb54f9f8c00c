package models

import (
	"strconv"
	"time"
)

// Side identifies the direction of an order, quote or position using the
// exchange's own vocabulary.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PriceLevel is a single order book level. A level carried in a delta with
// Size <= 0 means "remove this price".
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BBA holds the best bid and best ask of the book. It is updated from the
// dedicated ticker stream independently of full depth deltas.
type BBA struct {
	Bid PriceLevel `json:"bid"`
	Ask PriceLevel `json:"ask"`
}

// Mid returns the midpoint of the current best bid and ask.
func (b BBA) Mid() float64 {
	return (b.Bid.Price + b.Ask.Price) / 2
}

// WeightedMid returns the size-weighted midpoint, the reference price used
// for the mark spread feature.
func (b BBA) WeightedMid() float64 {
	total := b.Bid.Size + b.Ask.Size
	if total == 0 {
		return b.Mid()
	}
	imb := b.Bid.Size / total
	return b.Ask.Price*imb + b.Bid.Price*(1-imb)
}

// Kline is a single candle. Unconfirmed klines replace the most recent
// candle in place; confirmed klines append a new one.
type Kline struct {
	Start     int64   `json:"start"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Turnover  float64 `json:"turnover"`
	Confirmed bool    `json:"confirmed"`
}

// Trade is a public trade print.
type Trade struct {
	Time  int64   `json:"time"`
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// MarketEventType discriminates the payload carried by a MarketEvent.
type MarketEventType string

const (
	EventSnapshot MarketEventType = "snapshot"
	EventDelta    MarketEventType = "delta"
	EventBBA      MarketEventType = "bba"
	EventTicker   MarketEventType = "ticker"
	EventTrade    MarketEventType = "trade"
	EventKline    MarketEventType = "kline"
	EventReset    MarketEventType = "reset"
)

// MarketEvent is a normalized market data message produced by the readers
// and consumed by the state applier. Only the fields relevant to Type are
// populated.
type MarketEvent struct {
	Exchange  string
	Symbol    string
	Type      MarketEventType
	Bids      []PriceLevel
	Asks      []PriceLevel
	BBA       *BBA
	MarkPrice float64
	Trades    []Trade
	Klines    []Kline
	Timestamp time.Time
}

// ParseLevels converts the wire representation of book levels (arrays of
// price/size strings) into PriceLevels. Malformed rows fail with
// ErrDataFormat so feed loops can drop the message without dying.
func ParseLevels(rows [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, ErrDataFormat
		}
		price, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, ErrDataFormat
		}
		size, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, ErrDataFormat
		}
		levels = append(levels, PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

// ParsePrice parses a single price or size field carried as a string.
func ParsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrDataFormat
	}
	return v, nil
}
