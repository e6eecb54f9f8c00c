package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	appconfig "quoteflow/config"
	quoting "quoteflow/internal/channel/quoting"
	"quoteflow/logger"
	"quoteflow/models"
)

const (
	privatePingInterval = 20 * time.Second
	reconnectBackoff    = time.Second
)

// OrderSource is the REST surface the periodic resync needs. The order
// gateway implements it.
type OrderSource interface {
	OpenOrders(ctx context.Context) (map[string]models.Order, error)
	Positions(ctx context.Context) ([]models.Position, error)
}

// PrivateFeed streams order, execution and position updates over the
// authenticated websocket and periodically resyncs the open-order set
// over REST to repair any drift.
type PrivateFeed struct {
	config   *appconfig.Config
	channels *quoting.Channels
	source   OrderSource
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbol   string
}

// NewPrivateFeed creates the account data feed. source may be nil, which
// disables the REST resync worker.
func NewPrivateFeed(cfg *appconfig.Config, ch *quoting.Channels, source OrderSource) *PrivateFeed {
	return &PrivateFeed{
		config:   cfg,
		channels: ch,
		source:   source,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbol:   cfg.Strategy.Symbol,
	}
}

// Start opens the private websocket and, when a REST source is wired,
// the resync worker.
func (f *PrivateFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("private feed already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	log := f.log.WithComponent("bybit_private_feed").WithFields(logger.Fields{"operation": "Start"})

	if f.config.Gateway.APIKey == "" || f.config.Gateway.APISecret == "" {
		return fmt.Errorf("private feed requires api credentials")
	}

	f.wg.Add(1)
	go f.stream()

	if f.source != nil {
		f.wg.Add(1)
		go f.resyncWorker()
	}

	log.WithFields(logger.Fields{"symbol": f.symbol}).Info("bybit private feed started")
	return nil
}

// Stop terminates the websocket and resync workers.
func (f *PrivateFeed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("bybit_private_feed").Info("stopping bybit private feed")
	f.wg.Wait()
	f.log.WithComponent("bybit_private_feed").Info("bybit private feed stopped")
}

func (f *PrivateFeed) stream() {
	defer f.wg.Done()

	log := f.log.WithComponent("bybit_private_feed").WithFields(logger.Fields{
		"symbol": f.symbol,
		"worker": "private_stream",
	})

	for {
		if f.ctx.Err() != nil {
			return
		}
		if err := f.runConnection(log); err != nil && f.ctx.Err() == nil {
			log.WithError(err).Warn("private websocket dropped, reconnecting")
		}
		select {
		case <-f.ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

// runConnection dials, authenticates, subscribes and pumps messages until
// the connection fails or the context ends.
func (f *PrivateFeed) runConnection(log *logger.Entry) error {
	conn, _, err := websocket.DefaultDialer.DialContext(f.ctx, f.config.Source.Bybit.PrivateWSURL, nil)
	if err != nil {
		return fmt.Errorf("dial private websocket: %w", err)
	}
	defer conn.Close()

	if err := f.authenticate(conn); err != nil {
		return err
	}
	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"order", "execution", "position"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe private topics: %w", err)
	}
	log.Info("private websocket authenticated and subscribed")

	// Streamed position rows are incremental; a fresh connection reseeds
	// the inventory from the full REST snapshot first.
	f.seedPositions(log)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(privatePingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-f.ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		logger.IncrementPrivateRead(len(raw))
		if err := f.handleMessage(raw); err != nil {
			log.WithError(err).Warn("dropping malformed private message")
		}
	}
}

// authenticate signs "GET/realtime" + expiry with the API secret, the
// handshake Bybit requires on the private stream.
func (f *PrivateFeed) authenticate(conn *websocket.Conn) error {
	expires := time.Now().Add(time.Second).UnixMilli()
	mac := hmac.New(sha256.New, []byte(f.config.Gateway.APISecret))
	fmt.Fprintf(mac, "GET/realtime%d", expires)
	signature := hex.EncodeToString(mac.Sum(nil))

	auth := map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{f.config.Gateway.APIKey, expires, signature},
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("authenticate private websocket: %w", err)
	}
	return nil
}

type privateEnvelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func (f *PrivateFeed) handleMessage(raw []byte) error {
	var env privateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}

	switch env.Topic {
	case "order":
		return f.handleOrders(env.Data)
	case "execution":
		return f.handleExecutions(env.Data)
	case "position":
		return f.handlePositions(env.Data)
	}
	return nil
}

func (f *PrivateFeed) handleOrders(data json.RawMessage) error {
	var rows []struct {
		OrderID     string `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Price       string `json:"price"`
		Qty         string `json:"qty"`
		OrderStatus string `json:"orderStatus"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return models.ErrDataFormat
	}

	updates := make([]models.OrderUpdate, 0, len(rows))
	for _, row := range rows {
		if row.Symbol != f.symbol {
			continue
		}
		price, err := models.ParsePrice(row.Price)
		if err != nil {
			return err
		}
		size, err := models.ParsePrice(row.Qty)
		if err != nil {
			return err
		}
		updates = append(updates, models.OrderUpdate{
			OrderID: row.OrderID,
			Side:    models.Side(row.Side),
			Price:   price,
			Size:    size,
			Status:  models.OrderStatus(row.OrderStatus),
		})
	}
	if len(updates) == 0 {
		return nil
	}

	f.send(models.PrivateEvent{
		Type:      models.EventOrder,
		Orders:    updates,
		Timestamp: time.Now(),
	})
	return nil
}

func (f *PrivateFeed) handleExecutions(data json.RawMessage) error {
	var rows []struct {
		OrderID  string `json:"orderId"`
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Price    string `json:"execPrice"`
		Qty      string `json:"execQty"`
		ExecTime string `json:"execTime"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return models.ErrDataFormat
	}

	execs := make([]models.Execution, 0, len(rows))
	for _, row := range rows {
		if row.Symbol != f.symbol {
			continue
		}
		price, err := models.ParsePrice(row.Price)
		if err != nil {
			return err
		}
		size, err := models.ParsePrice(row.Qty)
		if err != nil {
			return err
		}
		execTime, err := models.ParsePrice(row.ExecTime)
		if err != nil {
			return err
		}
		execs = append(execs, models.Execution{
			OrderID: row.OrderID,
			Side:    models.Side(row.Side),
			Price:   price,
			Size:    size,
			Time:    int64(execTime),
		})
	}
	if len(execs) == 0 {
		return nil
	}

	f.send(models.PrivateEvent{
		Type:       models.EventExecution,
		Executions: execs,
		Timestamp:  time.Now(),
	})
	return nil
}

func (f *PrivateFeed) handlePositions(data json.RawMessage) error {
	var rows []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		PositionValue string `json:"positionValue"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return models.ErrDataFormat
	}

	positions := make([]models.Position, 0, len(rows))
	for _, row := range rows {
		if row.Symbol != f.symbol || row.Side == "" {
			continue
		}
		value, err := models.ParsePrice(row.PositionValue)
		if err != nil {
			return err
		}
		positions = append(positions, models.Position{
			Side:  models.Side(row.Side),
			Value: value,
		})
	}
	if len(positions) == 0 {
		return nil
	}

	f.send(models.PrivateEvent{
		Type:      models.EventPosition,
		Positions: positions,
		Timestamp: time.Now(),
	})
	return nil
}

func (f *PrivateFeed) seedPositions(log *logger.Entry) {
	if f.source == nil {
		return
	}
	positions, err := f.source.Positions(f.ctx)
	if err != nil {
		if f.ctx.Err() == nil {
			log.WithError(err).Warn("position seed failed")
		}
		return
	}
	f.send(models.PrivateEvent{
		Type:      models.EventPositionSeed,
		Positions: positions,
		Timestamp: time.Now(),
	})
}

// resyncWorker periodically replaces the open-order view from REST. The
// websocket is authoritative between resyncs; the REST snapshot catches
// anything the stream missed.
func (f *PrivateFeed) resyncWorker() {
	defer f.wg.Done()

	log := f.log.WithComponent("bybit_private_feed").WithFields(logger.Fields{
		"symbol": f.symbol,
		"worker": "order_resync",
	})

	ticker := time.NewTicker(time.Duration(f.config.Gateway.ResyncInterval))
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			orders, err := f.source.OpenOrders(f.ctx)
			if err != nil {
				if f.ctx.Err() == nil {
					log.WithError(err).Warn("open order resync failed")
				}
				continue
			}
			f.send(models.PrivateEvent{
				Type:       models.EventOrderSync,
				OpenOrders: orders,
				Timestamp:  time.Now(),
			})
		}
	}
}

func (f *PrivateFeed) send(ev models.PrivateEvent) {
	if f.channels.SendPrivate(f.ctx, ev) {
		return
	}
	if f.ctx.Err() == nil {
		f.log.WithComponent("bybit_private_feed").Warn("private channel full, dropping event")
	}
}
