// Package engine runs deterministic bar-by-bar backtest simulations.
//
// Each step marks open positions to market, hands the strategy an
// immutable snapshot, executes the intents it returns through the cost
// model and ledger, and appends one equity sample. Identical inputs
// always produce identical results: intents execute in the order the
// strategy returned them and position iteration is sorted by symbol.
//
// Order rejections do not stop a run. A rejected intent is logged and
// counted, and the simulation continues with the next intent. Only
// malformed history aborts a run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/cost"
	"github.com/PapaPablano/swiftbolt/internal/ledger"
	"github.com/PapaPablano/swiftbolt/internal/model"
	"github.com/PapaPablano/swiftbolt/internal/option"
	"github.com/PapaPablano/swiftbolt/internal/pricing"
	"github.com/PapaPablano/swiftbolt/internal/risk"
)

var (
	// ErrMalformedHistory is returned when the input series violates the
	// ordering or price constraints. The wrapped message names the
	// offending step.
	ErrMalformedHistory = errors.New("engine: malformed history")

	// ErrAlreadyRun is returned when Run is called twice on one engine.
	ErrAlreadyRun = errors.New("engine: already run")

	// ErrNoStrategy is returned when Run is called without a strategy.
	ErrNoStrategy = errors.New("engine: nil strategy")
)

// Engine states.
const (
	StateNotStarted = "not_started"
	StateRunning    = "running"
	StateCompleted  = "completed"
	StateAborted    = "aborted"
	StateStopped    = "stopped"
)

// Config holds the knobs of one simulation.
type Config struct {
	// Symbol is the underlying the bar series describes. Bars mark this
	// symbol at their close.
	Symbol string `json:"symbol"`

	InitialCapital    decimal.Decimal `json:"initial_capital"`
	CommissionPerUnit decimal.Decimal `json:"commission_per_unit"`
	SlippagePct       decimal.Decimal `json:"slippage_pct"`

	// RiskFreeRate is the continuously compounded annual rate used for
	// theoretical marks of option positions absent from the chain.
	RiskFreeRate float64 `json:"risk_free_rate"`

	AllowShort        bool `json:"allow_short"`
	AllowNegativeCash bool `json:"allow_negative_cash"`
}

// Snapshot is the read-only view of the simulation handed to a strategy
// at each step. Positions is a copy; mutating it has no effect.
type Snapshot struct {
	Step      int
	Time      time.Time
	Cash      decimal.Decimal
	Equity    decimal.Decimal
	Positions []model.Position
	Bar       model.Bar
	Chain     []model.OptionQuote
}

// Strategy decides what to trade at each step.
type Strategy interface {
	// Name identifies the strategy in run records and logs.
	Name() string

	// OnBar receives the step snapshot and returns the orders to place,
	// executed in the returned order.
	OnBar(snap Snapshot) []model.OrderIntent
}

// Func adapts a plain function into a Strategy.
type Func struct {
	StrategyName string
	Fn           func(snap Snapshot) []model.OrderIntent
}

func (f Func) Name() string { return f.StrategyName }

func (f Func) OnBar(snap Snapshot) []model.OrderIntent { return f.Fn(snap) }

// Result is the outcome of one simulation run.
type Result struct {
	Status      string `json:"status"`
	AbortReason string `json:"abort_reason,omitempty"`

	FinalCash   decimal.Decimal `json:"final_cash"`
	FinalEquity decimal.Decimal `json:"final_equity"`

	Equity         []model.EquitySample `json:"equity"`
	Trades         []model.Trade        `json:"trades"`
	FinalPositions []model.Position     `json:"final_positions"`

	OrdersExecuted int `json:"orders_executed"`
	OrdersRejected int `json:"orders_rejected"`
}

// Engine drives one simulation. Engines are single-use: create a new one
// per run.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	pricer  *pricing.Model
	limiter *risk.PositionLimiter
	state   string

	// lastIV remembers the most recent vendor implied vol per option
	// symbol so theoretical fallback marks stay deterministic.
	lastIV map[string]float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithLimiter adds a position limiter; orders that breach it are
// rejected like any other constraint violation.
func WithLimiter(l *risk.PositionLimiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// New creates an engine. The pricing model seeds theoretical marks for
// option positions missing from the chain; pass nil to mark such
// positions at cost basis instead.
func New(cfg Config, pricer *pricing.Model, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		log:    slog.Default(),
		pricer: pricer,
		state:  StateNotStarted,
		lastIV: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the engine's lifecycle state.
func (e *Engine) State() string { return e.state }

// Run executes the strategy over the bar series. chains is optional: nil,
// or one chain snapshot per bar. Cancelling ctx stops the run at the next
// step boundary and returns the valid partial result with StateStopped.
func (e *Engine) Run(ctx context.Context, strat Strategy, bars []model.Bar, chains [][]model.OptionQuote) (*Result, error) {
	if e.state != StateNotStarted {
		return nil, ErrAlreadyRun
	}
	if strat == nil {
		return nil, ErrNoStrategy
	}
	if err := validateHistory(bars, chains); err != nil {
		e.state = StateAborted
		return &Result{Status: StateAborted, AbortReason: err.Error()}, err
	}

	led, err := ledger.New(e.cfg.InitialCapital, ledger.Config{
		AllowShort:        e.cfg.AllowShort,
		AllowNegativeCash: e.cfg.AllowNegativeCash,
	})
	if err != nil {
		e.state = StateAborted
		return &Result{Status: StateAborted, AbortReason: err.Error()}, err
	}

	costModel, err := cost.New(e.cfg.CommissionPerUnit, e.cfg.SlippagePct)
	if err != nil {
		e.state = StateAborted
		return &Result{Status: StateAborted, AbortReason: err.Error()}, err
	}

	e.state = StateRunning
	res := &Result{Equity: make([]model.EquitySample, 0, len(bars))}

	for step, bar := range bars {
		select {
		case <-ctx.Done():
			e.state = StateStopped
			e.finish(res, led)
			res.Status = StateStopped
			e.log.Info("run stopped",
				"strategy", strat.Name(),
				"step", step,
				"equity", res.FinalEquity)
			return res, nil
		default:
		}

		var chain []model.OptionQuote
		if chains != nil {
			chain = chains[step]
		}
		for _, q := range chain {
			if q.ImpliedVol > 0 {
				e.lastIV[q.Symbol] = q.ImpliedVol
			}
		}

		marks := e.buildMarks(bar, chain, led)
		snap := Snapshot{
			Step:      step,
			Time:      bar.Timestamp,
			Cash:      led.Cash(),
			Equity:    led.MarkToMarket(marks).Equity,
			Positions: led.Positions(),
			Bar:       bar,
			Chain:     chain,
		}

		for _, intent := range strat.OnBar(snap) {
			if err := e.execute(intent, bar, chain, costModel, led); err != nil {
				res.OrdersRejected++
				e.log.Warn("order rejected",
					"strategy", strat.Name(),
					"step", step,
					"symbol", intent.Symbol,
					"action", intent.Action,
					"quantity", intent.Quantity,
					"reason", err)
				continue
			}
			res.OrdersExecuted++
		}

		v := led.MarkToMarket(marks)
		res.Equity = append(res.Equity, model.EquitySample{
			Timestamp: bar.Timestamp,
			Cash:      led.Cash(),
			Value:     v.PositionsValue,
			Equity:    v.Equity,
		})
	}

	e.state = StateCompleted
	e.finish(res, led)
	res.Status = StateCompleted
	e.log.Info("run completed",
		"strategy", strat.Name(),
		"steps", len(bars),
		"trades", len(res.Trades),
		"equity", res.FinalEquity)
	return res, nil
}

func (e *Engine) finish(res *Result, led *ledger.Ledger) {
	res.FinalCash = led.Cash()
	res.Trades = led.Trades()
	res.FinalPositions = led.Positions()
	if n := len(res.Equity); n > 0 {
		res.FinalEquity = res.Equity[n-1].Equity
	} else {
		res.FinalEquity = led.Cash()
	}
}

// execute prices one intent and applies the fill. The risk check and the
// ledger's own constraints run before any state changes.
func (e *Engine) execute(intent model.OrderIntent, bar model.Bar, chain []model.OptionQuote, costModel *cost.Model, led *ledger.Ledger) error {
	ref, err := e.referencePrice(intent.Symbol, bar, chain)
	if err != nil {
		return err
	}

	fill, err := costModel.Fill(intent, ref, bar.Timestamp)
	if err != nil {
		return err
	}

	if e.limiter != nil {
		existing := make(map[string]decimal.Decimal)
		for _, p := range led.Positions() {
			existing[p.Symbol] = p.Quantity
		}
		if err := e.limiter.CheckLimit(fill.Symbol, fill.Quantity, existing); err != nil {
			return err
		}
	}

	return led.ApplyFill(fill)
}

// referencePrice resolves the execution reference for a symbol: the bar
// close for the underlying, the quote midpoint for chain contracts.
func (e *Engine) referencePrice(symbol string, bar model.Bar, chain []model.OptionQuote) (decimal.Decimal, error) {
	if symbol == e.cfg.Symbol {
		return bar.Close, nil
	}
	for _, q := range chain {
		if q.Symbol == symbol {
			if mid := q.Mid(); mid.IsPositive() {
				return mid, nil
			}
			return decimal.Zero, fmt.Errorf("%w: %s has no usable quote", cost.ErrInvalidOrder, symbol)
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s not quoted at this step", cost.ErrInvalidOrder, symbol)
}

// buildMarks assembles the step's valuation prices: bar close for the
// underlying, quote mids for the chain, and theoretical values for held
// option positions the chain no longer quotes. Positions with no price
// at all are marked at cost basis by the ledger.
func (e *Engine) buildMarks(bar model.Bar, chain []model.OptionQuote, led *ledger.Ledger) map[string]decimal.Decimal {
	marks := map[string]decimal.Decimal{e.cfg.Symbol: bar.Close}
	for _, q := range chain {
		if mid := q.Mid(); mid.IsPositive() {
			marks[q.Symbol] = mid
		}
	}

	if e.pricer == nil {
		return marks
	}
	for _, p := range led.Positions() {
		if _, ok := marks[p.Symbol]; ok {
			continue
		}
		sym, err := option.Parse(p.Symbol)
		if err != nil {
			continue
		}
		iv, ok := e.lastIV[p.Symbol]
		if !ok {
			continue
		}
		spot, _ := bar.Close.Float64()
		strike, _ := sym.Strike.Float64()
		r, err := e.pricer.Price(spot, strike, sym.TimeToExpiry(bar.Timestamp), iv, sym.Type)
		if err != nil {
			e.log.Warn("theoretical mark failed", "symbol", p.Symbol, "error", err)
			continue
		}
		marks[p.Symbol] = decimal.NewFromFloat(r.Price)
		e.log.Debug("theoretical mark", "symbol", p.Symbol, "price", r.Price, "implied_vol", iv)
	}
	return marks
}

// validateHistory checks the input series before anything executes:
// non-empty, strictly increasing timestamps, positive prices, high/low
// bracketing, and chain alignment.
func validateHistory(bars []model.Bar, chains [][]model.OptionQuote) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty bar series", ErrMalformedHistory)
	}
	if chains != nil && len(chains) != len(bars) {
		return fmt.Errorf("%w: %d chains for %d bars", ErrMalformedHistory, len(chains), len(bars))
	}
	for i, b := range bars {
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: bar %d timestamp %s not after bar %d",
				ErrMalformedHistory, i, b.Timestamp.Format(time.RFC3339), i-1)
		}
		if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
			return fmt.Errorf("%w: bar %d has non-positive price", ErrMalformedHistory, i)
		}
		if b.High.LessThan(b.Low) {
			return fmt.Errorf("%w: bar %d high %s below low %s", ErrMalformedHistory, i, b.High, b.Low)
		}
		if b.Open.GreaterThan(b.High) || b.Open.LessThan(b.Low) ||
			b.Close.GreaterThan(b.High) || b.Close.LessThan(b.Low) {
			return fmt.Errorf("%w: bar %d open/close outside high/low range", ErrMalformedHistory, i)
		}
	}
	return nil
}
