// Package model defines the core domain types shared across the backtester.
// All monetary values use shopspring/decimal — never float64 for money.
// Performance statistics are ratios, not money, and stay float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// Valid reports whether the option type is one of the two supported kinds.
func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// Action is the closed set of order actions a strategy may request.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// Valid reports whether the action is BUY or SELL.
func (a Action) Valid() bool {
	return a == Buy || a == Sell
}

// Sign returns +1 for BUY, -1 for SELL.
func (a Action) Sign() decimal.Decimal {
	if a == Sell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Bar is one OHLC row of historical data. Timestamps must be strictly
// increasing across a series; the engine aborts otherwise.
type Bar struct {
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Open      decimal.Decimal `json:"open" db:"open"`
	High      decimal.Decimal `json:"high" db:"high"`
	Low       decimal.Decimal `json:"low" db:"low"`
	Close     decimal.Decimal `json:"close" db:"close"`
}

// OptionQuote is one row of an option-chain snapshot: a quoted contract at
// a point in time. Greeks and implied vol come from the data vendor and are
// analytic sensitivities, not money, so they stay float64.
type OptionQuote struct {
	Symbol     string          `json:"symbol"`
	Underlying string          `json:"underlying"`
	Type       OptionType      `json:"type"`
	Strike     decimal.Decimal `json:"strike"`
	Expiry     time.Time       `json:"expiry"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	ImpliedVol float64         `json:"implied_vol,omitempty"`
	Delta      float64         `json:"delta,omitempty"`
}

// Mid returns the bid/ask midpoint, or whichever side is quoted when the
// other is zero. A fully unquoted contract returns zero.
func (q OptionQuote) Mid() decimal.Decimal {
	switch {
	case q.Bid.IsPositive() && q.Ask.IsPositive():
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	case q.Ask.IsPositive():
		return q.Ask
	default:
		return q.Bid
	}
}

// OrderIntent is a strategy's requested action for one step. Limit is
// optional: zero means execute against the step's reference price.
type OrderIntent struct {
	Symbol   string          `json:"symbol"`
	Action   Action          `json:"action"`
	Quantity decimal.Decimal `json:"quantity"`
	Limit    decimal.Decimal `json:"limit,omitempty"`
}

// Fill is an executed trade leg produced by the cost model and applied
// exactly once to the ledger. Quantity is signed: positive buys,
// negative sells.
type Fill struct {
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Notional returns price × quantity (signed: positive for buys).
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}

// Position is the current holding in one symbol. Owned exclusively by the
// ledger. AvgCost is the quantity-weighted entry price; it only changes on
// same-direction adds. EntryCommission is the unallocated entry fee carried
// so that closes can realize P&L net of both legs' commission.
type Position struct {
	Symbol          string          `json:"symbol"`
	Quantity        decimal.Decimal `json:"quantity"` // signed; negative = short
	AvgCost         decimal.Decimal `json:"avg_cost"`
	EntryCommission decimal.Decimal `json:"entry_commission"`
	OpenedAt        time.Time       `json:"opened_at"`
}

// Trade is a closed round-trip (or partial close) with realized P&L net of
// the allocated entry commission and the full exit commission.
type Trade struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"` // closed quantity, always positive
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Commission  decimal.Decimal `json:"commission"` // entry allocation + exit fee
	Holding     time.Duration   `json:"holding"`
}

// EquitySample is one point of the equity curve: portfolio value at the end
// of one simulation step. Append-only, ordered by timestamp.
type EquitySample struct {
	Timestamp time.Time       `json:"timestamp"`
	Cash      decimal.Decimal `json:"cash"`
	Value     decimal.Decimal `json:"value"`  // mark-to-market of open positions
	Equity    decimal.Decimal `json:"equity"` // cash + value
}

// Stats is the performance-statistic suite derived from an equity curve and
// trade log. Ratios whose denominator can vanish (Sortino, Calmar, profit
// factor) are pointers: nil means undefined, never NaN or an overflow.
type Stats struct {
	TotalReturn float64  `json:"total_return"`
	CAGR        float64  `json:"cagr"`
	Volatility  float64  `json:"volatility"`
	Sharpe      float64  `json:"sharpe_ratio"`
	Sortino     *float64 `json:"sortino_ratio,omitempty"`
	Calmar      *float64 `json:"calmar_ratio,omitempty"`

	// MaxDrawdown is the largest peak-to-trough equity decline reported as
	// a positive magnitude (0.25 = a 25% drop). Calmar divides by it as-is.
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"` // steps

	TotalTrades  int      `json:"total_trades"`
	WinRate      float64  `json:"win_rate"`
	ProfitFactor *float64 `json:"profit_factor,omitempty"`
	AvgWin       float64  `json:"avg_win"`
	AvgLoss      float64  `json:"avg_loss"`
	LargestWin   float64  `json:"largest_win"`
	LargestLoss  float64  `json:"largest_loss"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	VaR95  float64 `json:"var_95"`
	VaR99  float64 `json:"var_99"`
	CVaR95 float64 `json:"cvar_95"`
	CVaR99 float64 `json:"cvar_99"`
}

// Run statuses.
const (
	RunCompleted = "completed"
	RunAborted   = "aborted"
	RunStopped   = "stopped"
)

// Run is a persisted backtest: configuration echo, outcome, statistics, and
// the full equity curve and trade log. Once recorded it is never modified.
type Run struct {
	ID             string          `json:"id" db:"id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Strategy       string          `json:"strategy" db:"strategy"`
	Status         string          `json:"status" db:"status"`
	AbortReason    string          `json:"abort_reason,omitempty" db:"abort_reason"`
	InitialCapital decimal.Decimal `json:"initial_capital" db:"initial_capital"`
	FinalEquity    decimal.Decimal `json:"final_equity" db:"final_equity"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`

	Stats          Stats          `json:"stats"`
	Equity         []EquitySample `json:"equity,omitempty"`
	Trades         []Trade        `json:"trades,omitempty"`
	FinalPositions []Position     `json:"final_positions,omitempty"`
}
