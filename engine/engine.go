// Package engine runs the quoting control loop: on a fixed interval it
// snapshots the shared state, synthesizes the quote ladder and executes
// the reconciliation plan against the exchange.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quoteflow/config"
	"quoteflow/logger"
	"quoteflow/state"
	"quoteflow/strategy"
)

// Engine owns the quoting cycle for one symbol.
type Engine struct {
	config     *config.Config
	state      *state.State
	quoter     *strategy.QuoteEngine
	reconciler *strategy.Reconciler
	gateway    strategy.OrderGateway
	ctx        context.Context
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log

	// Metrics
	cycles        int64
	cyclesSkipped int64
	cyclesFailed  int64
}

// New wires the engine together from the configured strategy parameters.
func New(cfg *config.Config, st *state.State, gw strategy.OrderGateway) *Engine {
	s := cfg.Strategy
	e := &Engine{
		config: cfg,
		state:  st,
		quoter: strategy.NewQuoteEngine(strategy.Params{
			TickSize:         s.TickSize,
			LotSize:          s.LotSize,
			MaxOrders:        s.MaxOrders,
			MinOrderSize:     s.MinOrderSize,
			MaxOrderSize:     s.MaxOrderSize,
			InventoryExtreme: s.InventoryExtreme,
			TargetSpread:     s.TargetSpread,
		}),
		reconciler: strategy.NewReconciler(s.AmendBuffer),
		gateway:    gw,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
	}

	e.log.WithComponent("quote_engine").WithFields(logger.Fields{
		"symbol":         s.Symbol,
		"max_orders":     s.MaxOrders,
		"quote_interval": s.QuoteInterval.String(),
	}).Info("quote engine initialized")
	return e
}

// Start launches the quoting loop after the warmup gate passes.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("quote engine already running")
	}
	e.running = true
	e.ctx = ctx
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run()

	go e.metricsReporter(ctx)

	e.log.WithComponent("quote_engine").Info("quote engine started")
	return nil
}

// Stop cancels outstanding quotes and waits for the loop to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.log.WithComponent("quote_engine").Info("stopping quote engine")
	e.wg.Wait()

	// Leave the book clean on shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.gateway.CancelAll(ctx); err != nil {
		e.log.WithComponent("quote_engine").WithError(err).Warn("failed to cancel quotes on shutdown")
	}
	e.log.WithComponent("quote_engine").Info("quote engine stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()

	log := e.log.WithComponent("quote_engine").WithFields(logger.Fields{
		"symbol": e.config.Strategy.Symbol,
	})

	if !e.awaitWarmup(log) {
		return
	}
	log.Info("warmup complete, quoting live")

	ticker := time.NewTicker(time.Duration(e.config.Strategy.QuoteInterval))
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			log.Info("quote loop stopped due to context cancellation")
			return
		case <-ticker.C:
			if err := e.runCycle(); err != nil {
				e.mu.Lock()
				e.cyclesFailed++
				e.mu.Unlock()
				log.WithError(err).Warn("quote cycle failed")
			}
		}
	}
}

// awaitWarmup blocks until the book has a snapshot and enough candle
// history exists to seed the indicators. Returns false when cancelled.
func (e *Engine) awaitWarmup(log *logger.Entry) bool {
	ticker := time.NewTicker(time.Duration(e.config.Strategy.QuoteInterval))
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return false
		case <-ticker.C:
			if e.warm() {
				return true
			}
			log.WithFields(logger.Fields{
				"book_ready": e.state.Book.Ready(),
				"klines":     e.state.KlineCount(),
			}).Debug("warming up")
		}
	}
}

func (e *Engine) warm() bool {
	return e.state.Book.Ready() &&
		e.state.KlineCount() >= e.config.Strategy.WarmupKlines &&
		e.state.Volatility() > 0
}

// runCycle executes one quoting pass. Failures are returned for logging
// and the next tick retries from a fresh state snapshot.
func (e *Engine) runCycle() error {
	in, ok := e.buildInputs()
	if !ok {
		e.mu.Lock()
		e.cyclesSkipped++
		e.mu.Unlock()
		return nil
	}

	ladder := e.quoter.GenerateQuotes(in)
	plan := e.reconciler.Reconcile(e.state.Orders(), ladder)

	e.mu.Lock()
	e.cycles++
	e.mu.Unlock()
	logger.IncrementQuoteCycle()

	if plan.Empty() {
		return nil
	}
	return strategy.ExecutePlan(e.ctx, e.gateway, plan)
}

// buildInputs assembles the read-only feature snapshot for one cycle.
// A degenerate book (missing or crossed best levels) skips the cycle.
func (e *Engine) buildInputs() (strategy.Inputs, bool) {
	bba := e.state.Book.BBA()
	if bba.Bid.Price <= 0 || bba.Ask.Price <= 0 || bba.Bid.Price >= bba.Ask.Price {
		return strategy.Inputs{}, false
	}
	vol := e.state.Volatility()
	if vol <= 0 {
		return strategy.Inputs{}, false
	}

	return strategy.Inputs{
		BBA:            bba,
		Volatility:     vol,
		Momentum:       strategy.Momentum(e.state.Closes(), e.config.Strategy.MomentumLengths),
		MarkSpread:     strategy.MarkSpread(e.state.MarkPrice(), bba.WeightedMid()),
		InventoryDelta: e.state.Inventory.Delta(),
	}, true
}

func (e *Engine) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	log := e.log.WithComponent("quote_engine")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.RLock()
			fields := logger.Fields{
				"cycles":         e.cycles,
				"cycles_skipped": e.cyclesSkipped,
				"cycles_failed":  e.cyclesFailed,
				"inventory":      e.state.Inventory.Delta(),
				"open_orders":    len(e.state.Orders()),
			}
			e.mu.RUnlock()
			log.WithFields(fields).Info("engine metrics")
		}
	}
}
