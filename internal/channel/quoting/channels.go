package quoting

import (
	"context"
	"sync"

	"quoteflow/logger"
	"quoteflow/models"
)

type ChannelStats struct {
	MarketSent     int64
	PrivateSent    int64
	FillSent       int64
	MarketDropped  int64
	PrivateDropped int64
	FillDropped    int64
}

// Channels carries events from the exchange feeds into the state applier
// and fills into the recorder. Market and private events are dropped when
// their buffer is full; the next snapshot or resync repairs the view.
type Channels struct {
	Market  chan models.MarketEvent
	Private chan models.PrivateEvent
	Fills   chan models.FillRecord

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(marketBufferSize, privateBufferSize, fillBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Market:  make(chan models.MarketEvent, marketBufferSize),
		Private: make(chan models.PrivateEvent, privateBufferSize),
		Fills:   make(chan models.FillRecord, fillBufferSize),
		log:     log,
	}

	log.WithComponent("quoting_channels").WithFields(logger.Fields{
		"market_buffer_size":  marketBufferSize,
		"private_buffer_size": privateBufferSize,
		"fill_buffer_size":    fillBufferSize,
	}).Info("quoting channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Market)
	close(c.Private)
	close(c.Fills)
	c.log.WithComponent("quoting_channels").Info("quoting channels closed")
}

func (c *Channels) incrementSent(field *int64) {
	c.statsMutex.Lock()
	*field++
	c.statsMutex.Unlock()
}

func (c *Channels) SendMarket(ctx context.Context, ev models.MarketEvent) bool {
	select {
	case c.Market <- ev:
		c.incrementSent(&c.stats.MarketSent)
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementSent(&c.stats.MarketDropped)
		return false
	}
}

func (c *Channels) SendPrivate(ctx context.Context, ev models.PrivateEvent) bool {
	select {
	case c.Private <- ev:
		c.incrementSent(&c.stats.PrivateSent)
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementSent(&c.stats.PrivateDropped)
		return false
	}
}

func (c *Channels) SendFill(ctx context.Context, rec models.FillRecord) bool {
	select {
	case c.Fills <- rec:
		c.incrementSent(&c.stats.FillSent)
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementSent(&c.stats.FillDropped)
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
