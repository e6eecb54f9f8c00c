// Package binance streams the cross-exchange best bid and ask used as a
// sanity reference against the primary venue.
package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	appconfig "quoteflow/config"
	quoting "quoteflow/internal/channel/quoting"
	"quoteflow/logger"
	"quoteflow/models"
)

// CrossFeed subscribes to the Binance futures book ticker for the
// configured reference symbol.
type CrossFeed struct {
	config   *appconfig.Config
	channels *quoting.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// NewCrossFeed creates the reference feed.
func NewCrossFeed(cfg *appconfig.Config, ch *quoting.Channels) *CrossFeed {
	return &CrossFeed{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start subscribes to the book ticker stream.
func (f *CrossFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("cross feed already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	cfg := f.config.Source.Binance
	log := f.log.WithComponent("binance_cross_feed").WithFields(logger.Fields{"operation": "Start"})

	if !cfg.Enabled {
		log.Warn("binance cross feed is disabled")
		return fmt.Errorf("binance cross feed is disabled")
	}

	log.WithFields(logger.Fields{"symbol": cfg.Symbol}).Info("starting binance cross feed")

	f.wg.Add(1)
	go f.streamBookTicker(cfg.Symbol)

	f.wg.Add(1)
	go f.streamAggTrades(cfg.Symbol)

	log.Info("binance cross feed started successfully")
	return nil
}

// Stop terminates the websocket subscription.
func (f *CrossFeed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("binance_cross_feed").Info("stopping binance cross feed")
	f.wg.Wait()
	f.log.WithComponent("binance_cross_feed").Info("binance cross feed stopped")
}

func (f *CrossFeed) streamBookTicker(symbol string) {
	defer f.wg.Done()

	log := f.log.WithComponent("binance_cross_feed").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "book_ticker_stream",
	})

	handler := func(event *futures.WsBookTickerEvent) {
		bba, err := parseBookTicker(event)
		if err != nil {
			log.WithError(err).Warn("dropping malformed book ticker")
			return
		}

		ev := models.MarketEvent{
			Exchange:  "binance",
			Symbol:    symbol,
			Type:      models.EventBBA,
			BBA:       bba,
			Timestamp: time.Now(),
		}
		if f.channels.SendMarket(f.ctx, ev) {
			logger.IncrementMarketRead(len(event.BestBidPrice) + len(event.BestAskPrice))
		} else if f.ctx.Err() == nil {
			log.Warn("market channel full, dropping cross ticker")
		}
	}

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}

	for {
		doneC, stopC, err := futures.WsBookTickerServe(symbol, handler, errHandler)
		if err != nil {
			log.WithError(err).Error("failed to subscribe to book ticker stream")
			return
		}

		select {
		case <-f.ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
			// stream ended, resubscribe
		}
	}
}

func (f *CrossFeed) streamAggTrades(symbol string) {
	defer f.wg.Done()

	log := f.log.WithComponent("binance_cross_feed").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "agg_trade_stream",
	})

	handler := func(event *futures.WsAggTradeEvent) {
		trade, err := parseAggTrade(event)
		if err != nil {
			log.WithError(err).Warn("dropping malformed agg trade")
			return
		}

		ev := models.MarketEvent{
			Exchange:  "binance",
			Symbol:    symbol,
			Type:      models.EventTrade,
			Trades:    []models.Trade{trade},
			Timestamp: time.Now(),
		}
		if f.channels.SendMarket(f.ctx, ev) {
			logger.IncrementMarketRead(len(event.Price) + len(event.Quantity))
		} else if f.ctx.Err() == nil {
			log.Warn("market channel full, dropping cross trade")
		}
	}

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}

	for {
		doneC, stopC, err := futures.WsAggTradeServe(symbol, handler, errHandler)
		if err != nil {
			log.WithError(err).Error("failed to subscribe to agg trade stream")
			return
		}

		select {
		case <-f.ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
			// stream ended, resubscribe
		}
	}
}

func parseAggTrade(event *futures.WsAggTradeEvent) (models.Trade, error) {
	price, err := models.ParsePrice(event.Price)
	if err != nil {
		return models.Trade{}, err
	}
	size, err := models.ParsePrice(event.Quantity)
	if err != nil {
		return models.Trade{}, err
	}
	side := models.SideBuy
	if event.Maker {
		side = models.SideSell
	}
	return models.Trade{
		Time:  event.TradeTime,
		Side:  side,
		Price: price,
		Size:  size,
	}, nil
}

func parseBookTicker(event *futures.WsBookTickerEvent) (*models.BBA, error) {
	bidPrice, err := models.ParsePrice(event.BestBidPrice)
	if err != nil {
		return nil, err
	}
	bidSize, err := models.ParsePrice(event.BestBidQty)
	if err != nil {
		return nil, err
	}
	askPrice, err := models.ParsePrice(event.BestAskPrice)
	if err != nil {
		return nil, err
	}
	askSize, err := models.ParsePrice(event.BestAskQty)
	if err != nil {
		return nil, err
	}
	return &models.BBA{
		Bid: models.PriceLevel{Price: bidPrice, Size: bidSize},
		Ask: models.PriceLevel{Price: askPrice, Size: askSize},
	}, nil
}
