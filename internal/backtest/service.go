// Package backtest provides the HTTP handlers for running backtests,
// querying stored runs, and pricing individual options.
//
// All monetary values use shopspring/decimal — never float64 for money.
package backtest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/engine"
	"github.com/PapaPablano/swiftbolt/internal/metrics"
	"github.com/PapaPablano/swiftbolt/internal/model"
	"github.com/PapaPablano/swiftbolt/internal/perf"
	"github.com/PapaPablano/swiftbolt/internal/pricing"
	"github.com/PapaPablano/swiftbolt/internal/risk"
	"github.com/PapaPablano/swiftbolt/internal/store"
	"github.com/PapaPablano/swiftbolt/internal/strategy"
)

// Service handles backtest operations. Runs execute synchronously on
// the request goroutine; each run builds its own engine and ledger so
// concurrent requests do not share state.
type Service struct {
	store   store.Store
	limiter *risk.PositionLimiter
}

// NewService creates a new backtest service. Pass nil for limiter to
// run without position limits.
func NewService(st store.Store, limiter *risk.PositionLimiter) *Service {
	return &Service{store: st, limiter: limiter}
}

// --- Request/Response types ---

// RunRequest is the JSON body for POST /backtests.
type RunRequest struct {
	Symbol   string          `json:"symbol"`
	Strategy string          `json:"strategy"`
	Params   strategy.Params `json:"params,omitempty"`

	InitialCapital    decimal.Decimal `json:"initial_capital"`
	CommissionPerUnit decimal.Decimal `json:"commission_per_unit"`
	SlippagePct       decimal.Decimal `json:"slippage_pct"`
	RiskFreeRate      float64         `json:"risk_free_rate"`
	AllowShort        bool            `json:"allow_short"`
	PeriodsPerYear    float64         `json:"periods_per_year,omitempty"`

	Bars   []model.Bar           `json:"bars"`
	Chains [][]model.OptionQuote `json:"chains,omitempty"`
}

// PriceRequest is the JSON body for POST /pricing/price and
// /pricing/implied-vol. Sigma is ignored for implied-vol requests;
// MarketPrice is ignored for price requests.
type PriceRequest struct {
	Spot         float64          `json:"spot"`
	Strike       float64          `json:"strike"`
	TimeToExpiry float64          `json:"time_to_expiry"`
	RiskFreeRate float64          `json:"risk_free_rate"`
	Sigma        float64          `json:"sigma,omitempty"`
	MarketPrice  float64          `json:"market_price,omitempty"`
	Type         model.OptionType `json:"type"`
}

// --- HTTP Handlers ---

// RunBacktest handles POST /api/v1/backtests
// Runs the simulation synchronously, persists the result, and returns
// the full run record.
func (s *Service) RunBacktest(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if !req.InitialCapital.IsPositive() {
		writeError(w, "initial_capital must be positive", http.StatusBadRequest)
		return
	}

	strat, err := strategy.New(req.Strategy, req.Symbol, req.Params)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := engine.Config{
		Symbol:            req.Symbol,
		InitialCapital:    req.InitialCapital,
		CommissionPerUnit: req.CommissionPerUnit,
		SlippagePct:       req.SlippagePct,
		RiskFreeRate:      req.RiskFreeRate,
		AllowShort:        req.AllowShort,
	}

	eng := engine.New(cfg, pricing.NewModel(req.RiskFreeRate), engine.WithLimiter(s.limiter))

	started := time.Now()
	res, err := eng.Run(r.Context(), strat, req.Bars, req.Chains)
	if err != nil {
		if errors.Is(err, engine.ErrMalformedHistory) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.RunsTotal.WithLabelValues(res.Status, strat.Name()).Inc()
	metrics.RunDuration.WithLabelValues(strat.Name()).Observe(time.Since(started).Seconds())
	metrics.RunSteps.Observe(float64(len(res.Equity)))
	metrics.OrdersExecuted.Add(float64(res.OrdersExecuted))
	metrics.OrdersRejected.Add(float64(res.OrdersRejected))

	analyzer := perf.Analyzer{PeriodsPerYear: req.PeriodsPerYear, RiskFree: req.RiskFreeRate}
	stats := analyzer.Analyze(res.Equity, res.Trades)

	run := &model.Run{
		ID:             uuid.New().String(),
		Symbol:         req.Symbol,
		Strategy:       strat.Name(),
		Status:         res.Status,
		AbortReason:    res.AbortReason,
		InitialCapital: req.InitialCapital,
		FinalEquity:    res.FinalEquity,
		CreatedAt:      time.Now().UTC(),
		Stats:          stats,
		Equity:         res.Equity,
		Trades:         res.Trades,
		FinalPositions: res.FinalPositions,
	}

	if err := s.store.CreateRun(r.Context(), run); err != nil {
		writeError(w, "failed to persist run", http.StatusInternalServerError)
		return
	}

	slog.Info("backtest completed",
		"run_id", run.ID,
		"strategy", strat.Name(),
		"symbol", req.Symbol,
		"status", res.Status,
		"steps", len(res.Equity),
		"trades", len(res.Trades),
		"executed", res.OrdersExecuted,
		"rejected", res.OrdersRejected,
		"final_equity", res.FinalEquity.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(run)
}

// ListRuns handles GET /api/v1/backtests
func (s *Service) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// GetRun handles GET /api/v1/backtests/{runID}
func (s *Service) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// GetEquity handles GET /api/v1/backtests/{runID}/equity
func (s *Service) GetEquity(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	equity := run.Equity
	if equity == nil {
		equity = []model.EquitySample{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(equity)
}

// GetTrades handles GET /api/v1/backtests/{runID}/trades
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	trades := run.Trades
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// DeleteRun handles DELETE /api/v1/backtests/{runID}
func (s *Service) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.store.DeleteRun(r.Context(), runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "run not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to delete run", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStrategies handles GET /api/v1/strategies
func (s *Service) ListStrategies(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(strategy.Names())
}

// PriceOption handles POST /api/v1/pricing/price
// Returns the theoretical value and Greeks for one contract.
func (s *Service) PriceOption(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := pricing.NewModel(req.RiskFreeRate).Price(
		req.Spot, req.Strike, req.TimeToExpiry, req.Sigma, req.Type)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ImpliedVol handles POST /api/v1/pricing/implied-vol
// Inverts the pricing model for the volatility that matches the quoted
// market price.
func (s *Service) ImpliedVol(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	iv, err := pricing.NewModel(req.RiskFreeRate).ImpliedVolatility(
		req.MarketPrice, req.Spot, req.Strike, req.TimeToExpiry, req.Type)
	if err != nil {
		metrics.IVFailures.Inc()
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]float64{"implied_vol": iv})
}

// loadRun fetches the run named in the URL, writing the error response
// on failure.
func (s *Service) loadRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	runID := chi.URLParam(r, "runID")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "run not found", http.StatusNotFound)
		} else {
			writeError(w, "failed to load run", http.StatusInternalServerError)
		}
		return nil, false
	}
	return run, true
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
