package engine

import (
	"context"
	"time"

	"quoteflow/logger"
	"quoteflow/models"
	"quoteflow/state"
	"quoteflow/strategy"
)

// chaseGateway is the gateway surface the limit chase needs.
type chaseGateway interface {
	SubmitTracked(ctx context.Context, q models.Quote) (string, error)
	Amend(ctx context.Context, a strategy.Amend) error
	Cancel(ctx context.Context, orderID string) error
}

// Chase works a single order at the touch until it fills: it rests at the
// best price of its side and amends whenever the touch moves away. On
// cancellation the resting order is removed best effort before returning.
func Chase(ctx context.Context, gw chaseGateway, st *state.State, side models.Side, size float64, pollInterval time.Duration) error {
	log := logger.GetLogger().WithComponent("limit_chase").WithFields(logger.Fields{
		"symbol": st.Symbol(),
		"side":   string(side),
		"size":   size,
	})

	price := touchPrice(st, side)
	orderID, err := gw.SubmitTracked(ctx, models.Quote{Side: side, Price: price, Size: size})
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{"order_id": orderID, "price": price}).Info("chase order placed")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort cleanup with a context that outlives the caller's.
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := gw.Cancel(cleanupCtx, orderID); err != nil {
				log.WithError(err).Warn("failed to cancel chase order")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if _, open := st.Orders()[orderID]; !open {
				log.WithFields(logger.Fields{"order_id": orderID}).Info("chase order filled")
				return nil
			}
			target := touchPrice(st, side)
			if target == price || target <= 0 {
				continue
			}
			if err := gw.Amend(ctx, strategy.Amend{OrderID: orderID, Price: target, Size: size}); err != nil {
				return err
			}
			price = target
		}
	}
}

func touchPrice(st *state.State, side models.Side) float64 {
	bba := st.Book.BBA()
	if side == models.SideBuy {
		return bba.Bid.Price
	}
	return bba.Ask.Price
}
