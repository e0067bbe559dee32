package backtest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/backtest"
	"github.com/PapaPablano/swiftbolt/internal/model"
	"github.com/PapaPablano/swiftbolt/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := backtest.NewService(ms, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/backtests", svc.RunBacktest)
	r.Get("/api/v1/backtests", svc.ListRuns)
	r.Get("/api/v1/backtests/{runID}", svc.GetRun)
	r.Get("/api/v1/backtests/{runID}/equity", svc.GetEquity)
	r.Get("/api/v1/backtests/{runID}/trades", svc.GetTrades)
	r.Delete("/api/v1/backtests/{runID}", svc.DeleteRun)
	r.Get("/api/v1/strategies", svc.ListStrategies)
	r.Post("/api/v1/pricing/price", svc.PriceOption)
	r.Post("/api/v1/pricing/implied-vol", svc.ImpliedVol)

	return ms, r
}

func testBars(prices ...float64) []model.Bar {
	start := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, len(prices))
	for i, p := range prices {
		bars[i] = model.Bar{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      d(p),
			High:      d(p),
			Low:       d(p),
			Close:     d(p),
		}
	}
	return bars
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	httpReq := httptest.NewRequest(method, path, &buf)
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

// --- Backtest execution tests ---

func TestRunBacktest_BuyAndHold(t *testing.T) {
	ms, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/backtests", backtest.RunRequest{
		Symbol:         "SPY",
		Strategy:       "buy-and-hold",
		Params:         map[string]float64{"quantity": 10},
		InitialCapital: d(10000),
		Bars:           testBars(100, 102, 105),
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var run model.Run
	json.Unmarshal(w.Body.Bytes(), &run)

	if run.ID == "" {
		t.Error("expected non-empty run id")
	}
	if run.Status != model.RunCompleted {
		t.Errorf("expected completed run, got %s", run.Status)
	}
	if len(run.Equity) != 3 {
		t.Errorf("expected 3 equity samples, got %d", len(run.Equity))
	}
	// 10000 − 1000 + 10×105 = 10050
	if !run.FinalEquity.Equal(d(10050)) {
		t.Errorf("expected final equity 10050, got %s", run.FinalEquity)
	}
	if run.Stats.TotalReturn <= 0 {
		t.Errorf("expected positive total return, got %g", run.Stats.TotalReturn)
	}

	// The run must be persisted.
	stored, err := ms.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if !stored.FinalEquity.Equal(run.FinalEquity) {
		t.Error("stored run differs from response")
	}
}

func TestRunBacktest_ValidationErrors(t *testing.T) {
	_, router := newTestEnv(t)

	tests := []struct {
		name string
		req  backtest.RunRequest
		code int
	}{
		{"missing symbol", backtest.RunRequest{
			Strategy: "buy-and-hold", InitialCapital: d(1000), Bars: testBars(100),
		}, http.StatusBadRequest},
		{"zero capital", backtest.RunRequest{
			Symbol: "SPY", Strategy: "buy-and-hold", Bars: testBars(100),
		}, http.StatusBadRequest},
		{"unknown strategy", backtest.RunRequest{
			Symbol: "SPY", Strategy: "nope", InitialCapital: d(1000), Bars: testBars(100),
		}, http.StatusBadRequest},
		{"empty bars", backtest.RunRequest{
			Symbol: "SPY", Strategy: "buy-and-hold", InitialCapital: d(1000),
		}, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/v1/backtests", tc.req)
			if w.Code != tc.code {
				t.Errorf("expected %d, got %d: %s", tc.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestRunBacktest_MalformedHistoryRejected(t *testing.T) {
	_, router := newTestEnv(t)

	bars := testBars(100, 101)
	bars[1].Timestamp = bars[0].Timestamp // duplicate timestamp

	w := doJSON(t, router, "POST", "/api/v1/backtests", backtest.RunRequest{
		Symbol:         "SPY",
		Strategy:       "buy-and-hold",
		InitialCapital: d(10000),
		Bars:           bars,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Run query tests ---

func TestGetRun_NotFound(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/backtests/no-such-run", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRunLifecycle_ListEquityTradesDelete(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/backtests", backtest.RunRequest{
		Symbol:         "SPY",
		Strategy:       "buy-and-hold",
		InitialCapital: d(10000),
		Bars:           testBars(100, 101, 102),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("run failed: %s", w.Body.String())
	}
	var run model.Run
	json.Unmarshal(w.Body.Bytes(), &run)

	w = doJSON(t, router, "GET", "/api/v1/backtests", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list failed: %d", w.Code)
	}
	var runs []model.Run
	json.Unmarshal(w.Body.Bytes(), &runs)
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("expected listing with the run, got %+v", runs)
	}

	w = doJSON(t, router, "GET", "/api/v1/backtests/"+run.ID+"/equity", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("equity failed: %d", w.Code)
	}
	var equity []model.EquitySample
	json.Unmarshal(w.Body.Bytes(), &equity)
	if len(equity) != 3 {
		t.Errorf("expected 3 samples, got %d", len(equity))
	}

	w = doJSON(t, router, "GET", "/api/v1/backtests/"+run.ID+"/trades", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("trades failed: %d", w.Code)
	}

	w = doJSON(t, router, "DELETE", "/api/v1/backtests/"+run.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", w.Code)
	}
	w = doJSON(t, router, "GET", "/api/v1/backtests/"+run.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestListStrategies(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/strategies", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var names []string
	json.Unmarshal(w.Body.Bytes(), &names)
	if len(names) < 3 {
		t.Errorf("expected at least 3 strategies, got %v", names)
	}
}

// --- Pricing endpoint tests ---

func TestPriceOption(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/pricing/price", backtest.PriceRequest{
		Spot: 100, Strike: 100, TimeToExpiry: 1, RiskFreeRate: 0.05,
		Sigma: 0.2, Type: model.Call,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result struct {
		Price float64 `json:"price"`
		Delta float64 `json:"delta"`
	}
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Price < 10.44 || result.Price > 10.46 {
		t.Errorf("expected ≈ 10.45, got %g", result.Price)
	}
	if result.Delta < 0.63 || result.Delta > 0.64 {
		t.Errorf("expected delta ≈ 0.637, got %g", result.Delta)
	}

	w = doJSON(t, router, "POST", "/api/v1/pricing/price", backtest.PriceRequest{
		Spot: -1, Strike: 100, TimeToExpiry: 1, Sigma: 0.2, Type: model.Call,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad input, got %d", w.Code)
	}
}

func TestImpliedVol(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/pricing/implied-vol", backtest.PriceRequest{
		Spot: 100, Strike: 100, TimeToExpiry: 1, RiskFreeRate: 0.05,
		MarketPrice: 10.4506, Type: model.Call,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]float64
	json.Unmarshal(w.Body.Bytes(), &resp)
	if iv := resp["implied_vol"]; iv < 0.199 || iv > 0.201 {
		t.Errorf("expected ≈ 0.20, got %g", iv)
	}

	// A price below intrinsic is unattainable at any volatility.
	w = doJSON(t, router, "POST", "/api/v1/pricing/implied-vol", backtest.PriceRequest{
		Spot: 100, Strike: 80, TimeToExpiry: 1, RiskFreeRate: 0.05,
		MarketPrice: 1.0, Type: model.Call,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}
