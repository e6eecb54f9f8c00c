package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"quoteflow/config"
	"quoteflow/internal/channel/quoting"
	"quoteflow/models"
	"quoteflow/state"
)

func testServer(t *testing.T) (*Server, *state.State) {
	t.Helper()

	st := state.New("BTCUSDT", 10000, 100)
	st.Book.LoadSnapshot(
		[]models.PriceLevel{{Price: 100, Size: 1}},
		[]models.PriceLevel{{Price: 100.5, Size: 1}},
	)
	st.SetVolatility(1.5)

	cfg := config.DashboardConfig{Enabled: true, Addr: ":9090"}
	s := NewServer(cfg, st, quoting.NewChannels(8, 8, 8))
	if s == nil {
		t.Fatalf("enabled dashboard must not be nil")
	}
	return s, st
}

func TestNewServerDisabled(t *testing.T) {
	if s := NewServer(config.DashboardConfig{}, nil, nil); s != nil {
		t.Fatalf("disabled dashboard must be nil")
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, st := testServer(t)
	st.ApplyOrderUpdates([]models.OrderUpdate{
		{OrderID: "o1", Side: models.SideBuy, Price: 99, Size: 0.1, Status: models.OrderStatusNew},
	})

	router, err := s.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["symbol"] != "BTCUSDT" {
		t.Fatalf("unexpected symbol: %v", body["symbol"])
	}
	if body["best_bid"].(float64) != 100 || body["best_ask"].(float64) != 100.5 {
		t.Fatalf("unexpected bba: %v / %v", body["best_bid"], body["best_ask"])
	}
	if body["open_orders"].(float64) != 1 {
		t.Fatalf("unexpected open order count: %v", body["open_orders"])
	}
}

func TestFillsEndpoint(t *testing.T) {
	s, st := testServer(t)
	st.AppendExecutions([]models.Execution{
		{OrderID: "o1", Side: models.SideSell, Price: 100.5, Size: 0.2, Time: 1700000000000},
	})

	router, err := s.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/fills", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}

	var body struct {
		Fills []map[string]interface{} `json:"fills"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Fills) != 1 || body.Fills[0]["order_id"] != "o1" {
		t.Fatalf("unexpected fills payload: %v", body.Fills)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":               "0.0.0.0:8080",
		":9090":          "0.0.0.0:9090",
		"localhost":      "localhost:8080",
		"127.0.0.1:8081": "127.0.0.1:8081",
		"*:8082":         "0.0.0.0:8082",
	}
	for in, want := range cases {
		if got := normalizeAddress(in); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
