package gateway

import (
	"context"
	"fmt"

	bybit "github.com/bybit-exchange/bybit.go.api"
	json "github.com/goccy/go-json"

	"quoteflow/models"
)

type openOrdersResult struct {
	List []struct {
		OrderID string `json:"orderId"`
		Side    string `json:"side"`
		Price   string `json:"price"`
		Qty     string `json:"qty"`
	} `json:"list"`
}

type positionResult struct {
	List []struct {
		Side          string `json:"side"`
		PositionValue string `json:"positionValue"`
	} `json:"list"`
}

// query runs a read endpoint through the same limiter and retry policy as
// the trade endpoints and decodes Result into out.
func (g *Gateway) query(ctx context.Context, op string, out interface{}, req func(context.Context) (*bybit.ServerResponse, error)) error {
	return g.do(ctx, op, func(ctx context.Context) (*bybit.ServerResponse, error) {
		resp, err := req(ctx)
		if err != nil || resp.RetCode != 0 {
			return resp, err
		}
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return resp, fmt.Errorf("%s: encode result: %w", op, err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, fmt.Errorf("%s: decode result: %w", op, err)
		}
		return resp, nil
	})
}

// SubmitTracked places a single post-only limit order and returns the
// exchange order id, which the chase loop needs to follow the touch.
func (g *Gateway) SubmitTracked(ctx context.Context, q models.Quote) (string, error) {
	params := g.orderParams(q)
	var result struct {
		OrderID string `json:"orderId"`
	}
	err := g.query(ctx, "place_order", &result, func(ctx context.Context) (*bybit.ServerResponse, error) {
		return g.client.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.OrderID, nil
}

// OpenOrders fetches the full resting-order set for the symbol. Used by
// the periodic resync that repairs drift between the private stream and
// the exchange.
func (g *Gateway) OpenOrders(ctx context.Context) (map[string]models.Order, error) {
	params := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   g.symbol,
	}
	var result openOrdersResult
	err := g.query(ctx, "get_open_orders", &result, func(ctx context.Context) (*bybit.ServerResponse, error) {
		return g.client.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	})
	if err != nil {
		return nil, err
	}

	orders := make(map[string]models.Order, len(result.List))
	for _, row := range result.List {
		price, err := models.ParsePrice(row.Price)
		if err != nil {
			return nil, err
		}
		size, err := models.ParsePrice(row.Qty)
		if err != nil {
			return nil, err
		}
		orders[row.OrderID] = models.Order{
			ID:    row.OrderID,
			Side:  models.Side(row.Side),
			Price: price,
			Size:  size,
		}
	}
	return orders, nil
}

// Positions fetches the current position rows for the symbol.
func (g *Gateway) Positions(ctx context.Context) ([]models.Position, error) {
	params := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   g.symbol,
	}
	var result positionResult
	err := g.query(ctx, "get_position_list", &result, func(ctx context.Context) (*bybit.ServerResponse, error) {
		return g.client.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	})
	if err != nil {
		return nil, err
	}

	rows := make([]models.Position, 0, len(result.List))
	for _, row := range result.List {
		if row.Side == "" {
			continue
		}
		value, err := models.ParsePrice(row.PositionValue)
		if err != nil {
			return nil, err
		}
		rows = append(rows, models.Position{Side: models.Side(row.Side), Value: value})
	}
	return rows, nil
}
