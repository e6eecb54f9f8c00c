// Package processor drains the feed channels into the shared state. The
// applier is the sole writer of the state store; everything downstream
// (quoting loop, dashboard, recorder) reads from it.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quoteflow/config"
	"quoteflow/indicator"
	quoting "quoteflow/internal/channel/quoting"
	"quoteflow/logger"
	"quoteflow/models"
	"quoteflow/state"
)

// Applier consumes market and private events and folds them into State.
type Applier struct {
	config   *config.Config
	channels *quoting.Channels
	state    *state.State
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// Metrics
	marketApplied  int64
	privateApplied int64
	deltasRejected int64
}

// NewApplier wires the applier between the channels and the state store.
func NewApplier(cfg *config.Config, ch *quoting.Channels, st *state.State) *Applier {
	a := &Applier{
		config:   cfg,
		channels: ch,
		state:    st,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}

	a.log.WithComponent("state_applier").Info("state applier initialized")
	return a
}

// Start launches the market and private workers.
func (a *Applier) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("applier already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("state_applier").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting state applier")

	a.wg.Add(1)
	go a.marketWorker()

	a.wg.Add(1)
	go a.privateWorker()

	go a.metricsReporter(ctx)

	log.Info("state applier started successfully")
	return nil
}

// Stop waits for the workers to drain.
func (a *Applier) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.log.WithComponent("state_applier").Info("stopping state applier")
	a.wg.Wait()
	a.log.WithComponent("state_applier").Info("state applier stopped")
}

func (a *Applier) marketWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("state_applier").WithFields(logger.Fields{"worker": "market"})

	for {
		select {
		case <-a.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case ev, ok := <-a.channels.Market:
			if !ok {
				return
			}
			a.applyMarket(ev, log)
		}
	}
}

func (a *Applier) applyMarket(ev models.MarketEvent, log *logger.Entry) {
	a.mu.Lock()
	a.marketApplied++
	a.mu.Unlock()

	if ev.Exchange == "binance" {
		if ev.BBA != nil {
			a.state.SetCrossBBA(*ev.BBA)
		}
		if ev.Type == models.EventTrade {
			logger.RecordChannelMessage("cross_trades", len(ev.Trades))
		}
		return
	}

	switch ev.Type {
	case models.EventReset:
		a.state.Book.Reset()
	case models.EventSnapshot:
		a.state.Book.LoadSnapshot(ev.Bids, ev.Asks)
	case models.EventDelta:
		if err := a.state.Book.ApplyDelta(ev.Bids, ev.Asks); err != nil {
			a.mu.Lock()
			a.deltasRejected++
			a.mu.Unlock()
			log.WithError(err).Warn("order book delta rejected")
		}
	case models.EventTicker, models.EventBBA:
		var bid, ask *models.PriceLevel
		if len(ev.Bids) > 0 {
			bid = &ev.Bids[0]
		}
		if len(ev.Asks) > 0 {
			ask = &ev.Asks[0]
		}
		if bid != nil || ask != nil {
			a.state.Book.UpdateBBA(bid, ask)
		}
		if ev.MarkPrice > 0 {
			a.state.SetMarkPrice(ev.MarkPrice)
		}
	case models.EventKline:
		for _, k := range ev.Klines {
			a.state.ApplyKline(k)
		}
		a.recomputeVolatility()
	case models.EventTrade:
		// Trades feed the runtime report only; the strategy reads
		// momentum from the candle series.
		logger.RecordChannelMessage("public_trades", len(ev.Trades))
	}
}

// recomputeVolatility refreshes the band-width volatility after any candle
// mutation so the next quoting cycle prices against current conditions.
func (a *Applier) recomputeVolatility() {
	s := a.config.Strategy
	closes := a.state.Closes()
	if len(closes) < s.VolatilityLength {
		return
	}
	bbw := indicator.BollingerBandWidth(closes, s.VolatilityLength, s.VolatilityMult)
	a.state.SetVolatility(bbw + s.VolatilityOffset)
}

func (a *Applier) privateWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("state_applier").WithFields(logger.Fields{"worker": "private"})

	for {
		select {
		case <-a.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case ev, ok := <-a.channels.Private:
			if !ok {
				return
			}
			a.applyPrivate(ev, log)
		}
	}
}

func (a *Applier) applyPrivate(ev models.PrivateEvent, log *logger.Entry) {
	a.mu.Lock()
	a.privateApplied++
	a.mu.Unlock()

	switch ev.Type {
	case models.EventOrder:
		a.state.ApplyOrderUpdates(ev.Orders)
	case models.EventExecution:
		a.state.AppendExecutions(ev.Executions)
		a.forwardFills(ev, log)
	case models.EventPosition:
		a.state.Inventory.ApplyPositions(ev.Positions)
	case models.EventPositionSeed:
		a.state.Inventory.SeedPositions(ev.Positions)
	case models.EventOrderSync:
		a.state.ReplaceOrders(ev.OpenOrders)
	}
}

func (a *Applier) forwardFills(ev models.PrivateEvent, log *logger.Entry) {
	recv := ev.Timestamp.UnixMilli()
	for _, exec := range ev.Executions {
		rec := models.FillRecord{
			Symbol:   a.state.Symbol(),
			OrderID:  exec.OrderID,
			Side:     string(exec.Side),
			Price:    exec.Price,
			Size:     exec.Size,
			ExecTime: exec.Time,
			RecvTime: recv,
		}
		if !a.channels.SendFill(a.ctx, rec) && a.ctx.Err() == nil {
			log.Warn("fill channel full, dropping record")
		}
	}
}

func (a *Applier) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	log := a.log.WithComponent("state_applier")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.RLock()
			fields := logger.Fields{
				"market_applied":  a.marketApplied,
				"private_applied": a.privateApplied,
				"deltas_rejected": a.deltasRejected,
				"klines":          a.state.KlineCount(),
				"open_orders":     len(a.state.Orders()),
			}
			a.mu.RUnlock()
			log.WithFields(fields).Info("applier metrics")
		}
	}
}
