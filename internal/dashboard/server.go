// Package dashboard hosts a small Gin HTTP server exposing the live
// quoting state: best bid/ask, inventory, volatility, resting orders,
// recent fills and channel statistics.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"quoteflow/config"
	"quoteflow/internal/channel/quoting"
	"quoteflow/logger"
	"quoteflow/state"
)

// Server serves the monitoring endpoints for one quoting process.
type Server struct {
	cfg        config.DashboardConfig
	state      *state.State
	channels   *quoting.Channels
	log        *logger.Log
	httpServer *http.Server
}

// NewServer constructs the dashboard server when the feature is enabled.
// When disabled the returned server is nil and all methods are no-ops.
func NewServer(cfg config.DashboardConfig, st *state.State, ch *quoting.Channels) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Addr = normalizeAddress(cfg.Addr)
	return &Server{
		cfg:      cfg,
		state:    st,
		channels: ch,
		log:      logger.GetLogger(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: router,
	}
	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"addr": s.cfg.Addr,
	}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/api/status", s.handleStatus)
	router.GET("/api/orders", s.handleOrders)
	router.GET("/api/fills", s.handleFills)
	router.GET("/api/channels", s.handleChannels)

	return router, nil
}

func (s *Server) handleStatus(c *gin.Context) {
	bba := s.state.Book.BBA()
	cross := s.state.CrossBBA()
	c.JSON(http.StatusOK, gin.H{
		"symbol":          s.state.Symbol(),
		"book_ready":      s.state.Book.Ready(),
		"best_bid":        bba.Bid.Price,
		"best_ask":        bba.Ask.Price,
		"mark_price":      s.state.MarkPrice(),
		"cross_bid":       cross.Bid.Price,
		"cross_ask":       cross.Ask.Price,
		"volatility":      s.state.Volatility(),
		"inventory_delta": s.state.Inventory.Delta(),
		"kline_count":     s.state.KlineCount(),
		"open_orders":     len(s.state.Orders()),
	})
}

func (s *Server) handleOrders(c *gin.Context) {
	orders := s.state.Orders()
	payload := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		payload = append(payload, gin.H{
			"order_id": o.ID,
			"side":     o.Side,
			"price":    o.Price,
			"size":     o.Size,
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": payload})
}

func (s *Server) handleFills(c *gin.Context) {
	execs := s.state.Executions()
	payload := make([]gin.H, 0, len(execs))
	for _, e := range execs {
		payload = append(payload, gin.H{
			"order_id": e.OrderID,
			"side":     e.Side,
			"price":    e.Price,
			"size":     e.Size,
			"time":     e.Time,
		})
	}
	c.JSON(http.StatusOK, gin.H{"fills": payload})
}

func (s *Server) handleChannels(c *gin.Context) {
	stats := s.channels.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"market_sent":     stats.MarketSent,
		"market_dropped":  stats.MarketDropped,
		"private_sent":    stats.PrivateSent,
		"private_dropped": stats.PrivateDropped,
		"fill_sent":       stats.FillSent,
		"fill_dropped":    stats.FillDropped,
	})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}
	if strings.HasPrefix(addr, ":") {
		return "0.0.0.0" + addr
	}
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, port)
	}
	return addr
}
