package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/model"
	"github.com/PapaPablano/swiftbolt/internal/option"
	"github.com/PapaPablano/swiftbolt/internal/pricing"
	"github.com/PapaPablano/swiftbolt/internal/risk"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var start = time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)

// bars builds a daily series where every bar opens and closes at the
// given price.
func bars(prices ...float64) []model.Bar {
	out := make([]model.Bar, len(prices))
	for i, p := range prices {
		out[i] = model.Bar{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      d(p),
			High:      d(p),
			Low:       d(p),
			Close:     d(p),
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		Symbol:         "SPY",
		InitialCapital: d(10000),
	}
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func buyOnce(symbol string, qty float64) Strategy {
	return Func{
		StrategyName: "buy-once",
		Fn: func(snap Snapshot) []model.OrderIntent {
			if snap.Step != 0 {
				return nil
			}
			return []model.OrderIntent{{Symbol: symbol, Action: model.Buy, Quantity: d(qty)}}
		},
	}
}

func TestRun_BuyAndHoldEquityCurve(t *testing.T) {
	e := New(testConfig(), nil, quiet())

	res, err := e.Run(context.Background(), buyOnce("SPY", 10), bars(100, 105, 98), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StateCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.OrdersExecuted != 1 || res.OrdersRejected != 0 {
		t.Fatalf("expected 1 executed / 0 rejected, got %d / %d", res.OrdersExecuted, res.OrdersRejected)
	}
	if len(res.Equity) != 3 {
		t.Fatalf("expected 3 equity samples, got %d", len(res.Equity))
	}

	// cash = 10000 − 10×100 = 9000; equity = cash + 10 × close
	wantEquity := []float64{10000, 10050, 9980}
	for i, want := range wantEquity {
		if !res.Equity[i].Equity.Equal(d(want)) {
			t.Errorf("step %d: expected equity %g, got %s", i, want, res.Equity[i].Equity)
		}
		if !res.Equity[i].Cash.Equal(d(9000)) {
			t.Errorf("step %d: expected cash 9000, got %s", i, res.Equity[i].Cash)
		}
	}
	if !res.FinalEquity.Equal(d(9980)) {
		t.Errorf("expected final equity 9980, got %s", res.FinalEquity)
	}
	if len(res.FinalPositions) != 1 || !res.FinalPositions[0].Quantity.Equal(d(10)) {
		t.Errorf("expected open position of 10, got %+v", res.FinalPositions)
	}
}

func TestRun_RejectAndContinue(t *testing.T) {
	strat := Func{
		StrategyName: "mixed",
		Fn: func(snap Snapshot) []model.OrderIntent {
			if snap.Step != 0 {
				return nil
			}
			return []model.OrderIntent{
				{Symbol: "SPY", Action: model.Sell, Quantity: d(1)},  // no position, no short
				{Symbol: "SPY", Action: model.Buy, Quantity: d(500)}, // insufficient funds
				{Symbol: "SPY", Action: model.Buy, Quantity: d(5)},   // fine
			}
		},
	}

	e := New(testConfig(), nil, quiet())
	res, err := e.Run(context.Background(), strat, bars(100, 101), nil)
	if err != nil {
		t.Fatalf("rejections must not fail the run: %v", err)
	}
	if res.Status != StateCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.OrdersRejected != 2 || res.OrdersExecuted != 1 {
		t.Errorf("expected 2 rejected / 1 executed, got %d / %d", res.OrdersRejected, res.OrdersExecuted)
	}
	if len(res.FinalPositions) != 1 || !res.FinalPositions[0].Quantity.Equal(d(5)) {
		t.Errorf("expected position of 5, got %+v", res.FinalPositions)
	}
}

func TestRun_MalformedHistoryAborts(t *testing.T) {
	good := bars(100, 101, 102)

	outOfOrder := bars(100, 101, 102)
	outOfOrder[2].Timestamp = outOfOrder[0].Timestamp

	negative := bars(100, 101, 102)
	negative[1].Close = d(-5)
	negative[1].Low = d(-5)

	inverted := bars(100, 101, 102)
	inverted[1].High = d(90)

	tests := []struct {
		name   string
		bars   []model.Bar
		chains [][]model.OptionQuote
	}{
		{"empty series", nil, nil},
		{"out of order", outOfOrder, nil},
		{"non-positive price", negative, nil},
		{"high below low", inverted, nil},
		{"chain misalignment", good, make([][]model.OptionQuote, 2)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := New(testConfig(), nil, quiet())
			res, err := e.Run(context.Background(), buyOnce("SPY", 1), tc.bars, tc.chains)
			if !errors.Is(err, ErrMalformedHistory) {
				t.Fatalf("expected ErrMalformedHistory, got %v", err)
			}
			if res.Status != StateAborted || res.AbortReason == "" {
				t.Errorf("expected aborted result with reason, got %+v", res)
			}
			if e.State() != StateAborted {
				t.Errorf("expected aborted state, got %s", e.State())
			}
		})
	}
}

func TestRun_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(testConfig(), nil, quiet())
	res, err := e.Run(ctx, buyOnce("SPY", 1), bars(100, 101, 102), nil)
	if err != nil {
		t.Fatalf("a stopped run is a valid result: %v", err)
	}
	if res.Status != StateStopped {
		t.Fatalf("expected stopped, got %s", res.Status)
	}
	if len(res.Equity) != 0 {
		t.Errorf("pre-cancelled run must not produce samples, got %d", len(res.Equity))
	}
	if !res.FinalEquity.Equal(d(10000)) {
		t.Errorf("expected untouched capital, got %s", res.FinalEquity)
	}
}

func TestRun_SecondRunRejected(t *testing.T) {
	e := New(testConfig(), nil, quiet())
	if _, err := e.Run(context.Background(), buyOnce("SPY", 1), bars(100), nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := e.Run(context.Background(), buyOnce("SPY", 1), bars(100), nil); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("expected ErrAlreadyRun, got %v", err)
	}
}

func TestRun_OptionExecutionAtMid(t *testing.T) {
	const optSym = "SPY240119C00100000"
	quote := model.OptionQuote{
		Symbol:     optSym,
		Underlying: "SPY",
		Type:       model.Call,
		Strike:     d(100),
		Expiry:     time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC),
		Bid:        d(4.90),
		Ask:        d(5.10),
	}
	chains := [][]model.OptionQuote{
		{quote},
		{{Symbol: optSym, Underlying: "SPY", Type: model.Call, Strike: d(100),
			Expiry: quote.Expiry, Bid: d(6.90), Ask: d(7.10)}},
	}

	e := New(testConfig(), nil, quiet())
	res, err := e.Run(context.Background(), buyOnce(optSym, 2), bars(100, 103), chains)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Bought 2 at the 5.00 midpoint, marked at 7.00 on the last bar:
	// equity = 10000 − 10 + 2×7 = 10004.
	if !res.Equity[0].Equity.Equal(d(10000)) {
		t.Errorf("step 0: expected equity 10000, got %s", res.Equity[0].Equity)
	}
	if !res.FinalEquity.Equal(d(10004)) {
		t.Errorf("expected final equity 10004, got %s", res.FinalEquity)
	}
}

func TestRun_TheoreticalMarkWhenQuoteDisappears(t *testing.T) {
	const optSym = "SPY250117C00100000"
	quote := model.OptionQuote{
		Symbol:     optSym,
		Underlying: "SPY",
		Type:       model.Call,
		Strike:     d(100),
		Expiry:     time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
		Bid:        d(4.90),
		Ask:        d(5.10),
		ImpliedVol: 0.2,
	}
	// The option is quoted on the first bar only; on the second bar the
	// held position must be valued from the pricing model at the last
	// vendor implied vol.
	chains := [][]model.OptionQuote{{quote}, {}}

	pricer := pricing.NewModel(0.05)
	e := New(testConfig(), pricer, quiet())
	res, err := e.Run(context.Background(), buyOnce(optSym, 1), bars(100, 100), chains)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sym, err := option.Parse(optSym)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	theo, err := pricer.Price(100, 100, sym.TimeToExpiry(res.Equity[1].Timestamp), 0.2, model.Call)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// Bought 1 at the 5.00 midpoint; a year-out ATM call at 20% vol is
	// worth far more than that, so a basis fallback would be visible.
	want := d(9995).Add(decimal.NewFromFloat(theo.Price))
	if !res.Equity[1].Equity.Equal(want) {
		t.Errorf("expected theoretical-mark equity %s, got %s", want, res.Equity[1].Equity)
	}
	if res.Equity[1].Equity.Equal(d(10000)) {
		t.Error("position still valued at cost basis")
	}
}

func TestRun_ExpiredWorthlessOptionDecaysToZero(t *testing.T) {
	const optSym = "SPY240103C00110000"
	quote := model.OptionQuote{
		Symbol:     optSym,
		Underlying: "SPY",
		Type:       model.Call,
		Strike:     d(110),
		Expiry:     time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		Bid:        d(0.90),
		Ask:        d(1.10),
		ImpliedVol: 0.2,
	}
	chains := [][]model.OptionQuote{{quote}, {}}

	e := New(testConfig(), pricing.NewModel(0.05), quiet())
	res, err := e.Run(context.Background(), buyOnce(optSym, 1), bars(100, 100), chains)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The call expires out of the money between the two bars: the
	// theoretical mark is exactly zero and the equity curve must decay
	// by the full $1.00 premium, not hold the position at its basis.
	if !res.Equity[1].Equity.Equal(d(9999)) {
		t.Errorf("expected equity 9999 after worthless expiry, got %s", res.Equity[1].Equity)
	}
}

func TestRun_UnquotedSymbolRejected(t *testing.T) {
	e := New(testConfig(), nil, quiet())
	res, err := e.Run(context.Background(), buyOnce("SPY240119C00100000", 1), bars(100, 101), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OrdersRejected != 1 || res.OrdersExecuted != 0 {
		t.Errorf("expected 1 rejected / 0 executed, got %d / %d", res.OrdersRejected, res.OrdersExecuted)
	}
}

func TestRun_LimiterRejections(t *testing.T) {
	limiter := risk.NewPositionLimiter(d(3), d(3))

	e := New(testConfig(), nil, quiet(), WithLimiter(limiter))
	res, err := e.Run(context.Background(), buyOnce("SPY", 5), bars(100, 101), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OrdersRejected != 1 {
		t.Errorf("expected limiter rejection, got %d", res.OrdersRejected)
	}
	if len(res.FinalPositions) != 0 {
		t.Errorf("rejected order must not open a position, got %+v", res.FinalPositions)
	}
}

func TestRun_Deterministic(t *testing.T) {
	series := bars(100, 102, 99, 104, 101)
	run := func() *Result {
		e := New(Config{
			Symbol:            "SPY",
			InitialCapital:    d(10000),
			CommissionPerUnit: d(0.65),
			SlippagePct:       d(0.001),
		}, nil, quiet())
		strat := Func{
			StrategyName: "churn",
			Fn: func(snap Snapshot) []model.OrderIntent {
				if snap.Step%2 == 0 {
					return []model.OrderIntent{{Symbol: "SPY", Action: model.Buy, Quantity: d(2)}}
				}
				return []model.OrderIntent{{Symbol: "SPY", Action: model.Sell, Quantity: d(1)}}
			},
		}
		res, err := e.Run(context.Background(), strat, series, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return res
	}

	a, b := run(), run()
	if len(a.Equity) != len(b.Equity) {
		t.Fatalf("sample counts differ: %d vs %d", len(a.Equity), len(b.Equity))
	}
	for i := range a.Equity {
		if !a.Equity[i].Equity.Equal(b.Equity[i].Equity) {
			t.Errorf("step %d: %s vs %s", i, a.Equity[i].Equity, b.Equity[i].Equity)
		}
	}
	if !a.FinalCash.Equal(b.FinalCash) || len(a.Trades) != len(b.Trades) {
		t.Error("repeated runs must be identical")
	}
}
