// Package gateway wraps the Bybit v5 trade REST API behind the small
// surface the reconciliation plan executor needs. Every call is rate
// limited, retried with linear backoff and signed fresh per attempt.
package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	bybitmodels "github.com/bybit-exchange/bybit.go.api/models"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	appconfig "quoteflow/config"
	"quoteflow/logger"
	"quoteflow/models"
	"quoteflow/strategy"
)

const (
	categoryLinear = "linear"

	// The first few orders of a fresh ladder are submitted one by one so
	// the touch is re-established as fast as possible; the rest go out in
	// batch requests.
	singleSubmitCount = 4
	batchChunkSize    = 10
)

// Gateway is a symbol-bound Bybit trade client.
type Gateway struct {
	cfg     appconfig.GatewayConfig
	symbol  string
	client  *bybit.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// New creates a gateway for the given symbol using the configured
// credentials and base URL.
func New(cfg appconfig.GatewayConfig, symbol string) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		symbol:  symbol,
		client:  bybit.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit.WithBaseURL(cfg.BaseURL)),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		log:     logger.GetLogger(),
	}

	g.log.WithComponent("order_gateway").WithFields(logger.Fields{
		"symbol":   symbol,
		"base_url": cfg.BaseURL,
	}).Info("order gateway initialized")

	return g
}

// do runs one signed request with rate limiting and retries. The request
// closure builds a fresh service per attempt so each retry carries a new
// timestamp signature.
func (g *Gateway) do(ctx context.Context, op string, req func(context.Context) (*bybit.ServerResponse, error)) error {
	log := g.log.WithComponent("order_gateway").WithFields(logger.Fields{
		"operation": op,
		"symbol":    g.symbol,
	})

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		resp, err := req(ctx)
		if err == nil && resp.RetCode != 0 {
			err = fmt.Errorf("%s: retCode %d: %s", op, resp.RetCode, resp.RetMsg)
			reportLimitFromMessage(g.log, g.symbol, op, resp.RetMsg)
		}
		if err == nil {
			logger.LogPerformanceEntry(log, "order_gateway", op, time.Since(start), nil)
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		backoff := time.Duration(attempt+1) * time.Second
		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempt + 1,
			"backoff": backoff.String(),
		}).Warn("gateway request failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	log.WithError(lastErr).Error("gateway request exhausted retries")
	return &models.TransientError{Op: op, Err: lastErr}
}

func (g *Gateway) orderParams(q models.Quote) map[string]interface{} {
	return map[string]interface{}{
		"category":    categoryLinear,
		"symbol":      g.symbol,
		"side":        string(q.Side),
		"orderType":   "Limit",
		"timeInForce": "PostOnly",
		"qty":         formatFloat(q.Size),
		"price":       formatFloat(q.Price),
		"orderLinkId": uuid.NewString(),
	}
}

// Submit places a single post-only limit order.
func (g *Gateway) Submit(ctx context.Context, q models.Quote) error {
	params := g.orderParams(q)
	return g.do(ctx, "place_order", func(ctx context.Context) (*bybit.ServerResponse, error) {
		return g.client.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	})
}

// SubmitBatch places a ladder. The most aggressive orders go out as
// singles, the remainder in batch chunks.
func (g *Gateway) SubmitBatch(ctx context.Context, quotes []models.Quote) error {
	n := singleSubmitCount
	if n > len(quotes) {
		n = len(quotes)
	}
	for _, q := range quotes[:n] {
		if err := g.Submit(ctx, q); err != nil {
			return err
		}
	}

	rest := quotes[n:]
	for start := 0; start < len(rest); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(rest) {
			end = len(rest)
		}
		request := make([]map[string]interface{}, 0, end-start)
		for _, q := range rest[start:end] {
			p := g.orderParams(q)
			delete(p, "category")
			request = append(request, p)
		}
		params := map[string]interface{}{
			"category": categoryLinear,
			"request":  request,
		}
		err := g.do(ctx, "place_batch_order", func(ctx context.Context) (*bybit.ServerResponse, error) {
			return batchServerResponse(g.client.NewUtaBybitServiceWithParams(params).PlaceBatchOrder(ctx))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Amend changes the price and size of a resting order.
func (g *Gateway) Amend(ctx context.Context, a strategy.Amend) error {
	params := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   g.symbol,
		"orderId":  a.OrderID,
		"price":    formatFloat(a.Price),
		"qty":      formatFloat(a.Size),
	}
	return g.do(ctx, "amend_order", func(ctx context.Context) (*bybit.ServerResponse, error) {
		return g.client.NewUtaBybitServiceWithParams(params).AmendOrder(ctx)
	})
}

// AmendBatch amends a set of resting orders in chunks.
func (g *Gateway) AmendBatch(ctx context.Context, amends []strategy.Amend) error {
	for start := 0; start < len(amends); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(amends) {
			end = len(amends)
		}
		request := make([]map[string]interface{}, 0, end-start)
		for _, a := range amends[start:end] {
			request = append(request, map[string]interface{}{
				"symbol":  g.symbol,
				"orderId": a.OrderID,
				"price":   formatFloat(a.Price),
				"qty":     formatFloat(a.Size),
			})
		}
		params := map[string]interface{}{
			"category": categoryLinear,
			"request":  request,
		}
		err := g.do(ctx, "amend_batch_order", func(ctx context.Context) (*bybit.ServerResponse, error) {
			return batchServerResponse(g.client.NewUtaBybitServiceWithParams(params).AmendBatchOrder(ctx))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Cancel removes a single resting order.
func (g *Gateway) Cancel(ctx context.Context, orderID string) error {
	params := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   g.symbol,
		"orderId":  orderID,
	}
	return g.do(ctx, "cancel_order", func(ctx context.Context) (*bybit.ServerResponse, error) {
		return g.client.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	})
}

// CancelBatch removes a set of resting orders in chunks.
func (g *Gateway) CancelBatch(ctx context.Context, orderIDs []string) error {
	for start := 0; start < len(orderIDs); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(orderIDs) {
			end = len(orderIDs)
		}
		request := make([]map[string]interface{}, 0, end-start)
		for _, id := range orderIDs[start:end] {
			request = append(request, map[string]interface{}{
				"symbol":  g.symbol,
				"orderId": id,
			})
		}
		params := map[string]interface{}{
			"category": categoryLinear,
			"request":  request,
		}
		err := g.do(ctx, "cancel_batch_order", func(ctx context.Context) (*bybit.ServerResponse, error) {
			return batchServerResponse(g.client.NewUtaBybitServiceWithParams(params).CancelBatchOrder(ctx))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CancelAll removes every resting order on the symbol.
func (g *Gateway) CancelAll(ctx context.Context) error {
	params := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   g.symbol,
	}
	return g.do(ctx, "cancel_all_orders", func(ctx context.Context) (*bybit.ServerResponse, error) {
		return g.client.NewUtaBybitServiceWithParams(params).CancelAllOrders(ctx)
	})
}

// batchServerResponse adapts the batch endpoints' response type to the
// generic one consumed by do, carrying over the fields do inspects.
func batchServerResponse(resp *bybitmodels.BatchOrderServerResponse, err error) (*bybit.ServerResponse, error) {
	if err != nil || resp == nil {
		return nil, err
	}
	return &bybit.ServerResponse{
		RetCode: resp.RetCode,
		RetMsg:  resp.RetMsg,
		Result:  resp.Result,
		Time:    resp.Time,
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
