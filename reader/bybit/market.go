// Package bybit streams public market data and private account data from
// the Bybit v5 websocket API into the quoting channels.
package bybit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	json "github.com/goccy/go-json"

	appconfig "quoteflow/config"
	quoting "quoteflow/internal/channel/quoting"
	"quoteflow/logger"
	"quoteflow/models"
)

// MarketFeed subscribes to the order book, ticker, trade and kline streams
// for a single symbol and normalizes them into MarketEvents.
type MarketFeed struct {
	config   *appconfig.Config
	channels *quoting.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbol   string
}

// NewMarketFeed creates a market data feed for the configured symbol.
func NewMarketFeed(cfg *appconfig.Config, ch *quoting.Channels) *MarketFeed {
	return &MarketFeed{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbol:   cfg.Strategy.Symbol,
	}
}

// Start opens the public websocket and subscribes to all market topics.
func (f *MarketFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("market feed already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	log := f.log.WithComponent("bybit_market_feed").WithFields(logger.Fields{"operation": "Start"})

	src := f.config.Source.Bybit
	log.WithFields(logger.Fields{
		"symbol": f.symbol,
		"depth":  src.Depth,
		"url":    src.PublicWSURL,
	}).Info("starting bybit market feed")

	f.wg.Add(1)
	go f.stream(src)

	log.Info("bybit market feed started successfully")
	return nil
}

// Stop terminates the websocket subscription.
func (f *MarketFeed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("bybit_market_feed").Info("stopping bybit market feed")
	f.wg.Wait()
	f.log.WithComponent("bybit_market_feed").Info("bybit market feed stopped")
}

func (f *MarketFeed) stream(src appconfig.BybitSourceConfig) {
	defer f.wg.Done()

	log := f.log.WithComponent("bybit_market_feed").WithFields(logger.Fields{
		"symbol": f.symbol,
		"worker": "market_stream",
	})

	args := []string{
		fmt.Sprintf("orderbook.%d.%s", src.Depth, f.symbol),
		fmt.Sprintf("tickers.%s", f.symbol),
		fmt.Sprintf("publicTrade.%s", f.symbol),
		fmt.Sprintf("kline.%s.%s", src.KlineInterval, f.symbol),
	}

	handler := func(message string) error {
		if err := f.handleMessage(message); err != nil {
			log.WithError(err).Warn("dropping malformed market message")
		}
		logger.IncrementMarketRead(len(message))
		return nil
	}

	for {
		// Drop stale depth before (re)subscribing; the exchange replays a
		// full snapshot on every new subscription.
		f.send(models.MarketEvent{
			Exchange:  "bybit",
			Symbol:    f.symbol,
			Type:      models.EventReset,
			Timestamp: time.Now(),
		})

		ws := bybit.NewBybitPublicWebSocket(src.PublicWSURL, handler)
		ws.Connect().SendSubscription(args)

		select {
		case <-f.ctx.Done():
			ws.Disconnect()
			return
		}
	}
}

type wsEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

func (f *MarketFeed) handleMessage(message string) error {
	var env wsEnvelope
	if err := json.Unmarshal([]byte(message), &env); err != nil {
		return nil
	}
	if env.Topic == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(env.Topic, "orderbook."):
		return f.handleOrderbook(env)
	case strings.HasPrefix(env.Topic, "tickers."):
		return f.handleTicker(env)
	case strings.HasPrefix(env.Topic, "publicTrade."):
		return f.handleTrades(env)
	case strings.HasPrefix(env.Topic, "kline."):
		return f.handleKline(env)
	}
	return nil
}

func (f *MarketFeed) handleOrderbook(env wsEnvelope) error {
	var data struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return models.ErrDataFormat
	}

	bids, err := models.ParseLevels(data.Bids)
	if err != nil {
		return err
	}
	asks, err := models.ParseLevels(data.Asks)
	if err != nil {
		return err
	}

	eventType := models.EventDelta
	if env.Type == "snapshot" {
		eventType = models.EventSnapshot
		logger.LogDataFlowEntry(f.log.WithComponent("bybit_market_feed"),
			"bybit_ws", "market_channel", len(bids)+len(asks), "orderbook_entries")
	}

	f.send(models.MarketEvent{
		Exchange:  "bybit",
		Symbol:    f.symbol,
		Type:      eventType,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	})
	return nil
}

func (f *MarketFeed) handleTicker(env wsEnvelope) error {
	var data struct {
		MarkPrice string `json:"markPrice"`
		Bid1Price string `json:"bid1Price"`
		Bid1Size  string `json:"bid1Size"`
		Ask1Price string `json:"ask1Price"`
		Ask1Size  string `json:"ask1Size"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return models.ErrDataFormat
	}

	ev := models.MarketEvent{
		Exchange:  "bybit",
		Symbol:    f.symbol,
		Type:      models.EventTicker,
		Timestamp: time.Now(),
	}

	// Ticker deltas only carry the fields that changed; a best level is
	// applied only when price and size arrive together.
	if data.Bid1Price != "" && data.Bid1Size != "" {
		price, err := models.ParsePrice(data.Bid1Price)
		if err != nil {
			return err
		}
		size, err := models.ParsePrice(data.Bid1Size)
		if err != nil {
			return err
		}
		ev.Bids = []models.PriceLevel{{Price: price, Size: size}}
	}
	if data.Ask1Price != "" && data.Ask1Size != "" {
		price, err := models.ParsePrice(data.Ask1Price)
		if err != nil {
			return err
		}
		size, err := models.ParsePrice(data.Ask1Size)
		if err != nil {
			return err
		}
		ev.Asks = []models.PriceLevel{{Price: price, Size: size}}
	}
	if data.MarkPrice != "" {
		price, err := models.ParsePrice(data.MarkPrice)
		if err != nil {
			return err
		}
		ev.MarkPrice = price
	}

	if len(ev.Bids) == 0 && len(ev.Asks) == 0 && ev.MarkPrice == 0 {
		return nil
	}
	f.send(ev)
	return nil
}

func (f *MarketFeed) handleTrades(env wsEnvelope) error {
	var data []struct {
		Time  int64  `json:"T"`
		Side  string `json:"S"`
		Size  string `json:"v"`
		Price string `json:"p"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return models.ErrDataFormat
	}

	trades := make([]models.Trade, 0, len(data))
	for _, row := range data {
		price, err := models.ParsePrice(row.Price)
		if err != nil {
			return err
		}
		size, err := models.ParsePrice(row.Size)
		if err != nil {
			return err
		}
		trades = append(trades, models.Trade{
			Time:  row.Time,
			Side:  models.Side(row.Side),
			Price: price,
			Size:  size,
		})
	}
	if len(trades) == 0 {
		return nil
	}

	f.send(models.MarketEvent{
		Exchange:  "bybit",
		Symbol:    f.symbol,
		Type:      models.EventTrade,
		Trades:    trades,
		Timestamp: time.Now(),
	})
	return nil
}

func (f *MarketFeed) handleKline(env wsEnvelope) error {
	var data []struct {
		Start    int64  `json:"start"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
		Turnover string `json:"turnover"`
		Confirm  bool   `json:"confirm"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return models.ErrDataFormat
	}

	klines := make([]models.Kline, 0, len(data))
	for _, row := range data {
		k := models.Kline{Start: row.Start, Confirmed: row.Confirm}
		var err error
		if k.Open, err = models.ParsePrice(row.Open); err != nil {
			return err
		}
		if k.High, err = models.ParsePrice(row.High); err != nil {
			return err
		}
		if k.Low, err = models.ParsePrice(row.Low); err != nil {
			return err
		}
		if k.Close, err = models.ParsePrice(row.Close); err != nil {
			return err
		}
		if k.Volume, err = models.ParsePrice(row.Volume); err != nil {
			return err
		}
		if k.Turnover, err = models.ParsePrice(row.Turnover); err != nil {
			return err
		}
		klines = append(klines, k)
	}
	if len(klines) == 0 {
		return nil
	}

	f.send(models.MarketEvent{
		Exchange:  "bybit",
		Symbol:    f.symbol,
		Type:      models.EventKline,
		Klines:    klines,
		Timestamp: time.Now(),
	})
	return nil
}

func (f *MarketFeed) send(ev models.MarketEvent) {
	if f.channels.SendMarket(f.ctx, ev) {
		return
	}
	if f.ctx.Err() == nil {
		f.log.WithComponent("bybit_market_feed").Warn("market channel full, dropping event")
	}
}
