// Package ledger owns all cash and position state for a backtest run. It is
// the only component permitted to mutate them: fills are applied here and
// nowhere else, and every application balances exactly.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The conservation identity holds exactly (decimal equality) after any
// sequence of fills:
//
//	cash + Σ(qty × basis) + Σ(entry fees of open positions)
//	    = initial capital + Σ(net realized P&L)
//
// The ledger is mutated exclusively by the engine's single execution thread;
// it carries no locking by design.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/model"
)

var (
	// ErrInvalidCapital is returned when initial capital is not positive.
	ErrInvalidCapital = errors.New("ledger: initial capital must be positive")

	// ErrInvalidFill is returned for a fill with zero quantity or a
	// non-positive price.
	ErrInvalidFill = errors.New("ledger: invalid fill")

	// ErrInsufficientFunds is returned when a fill would drive cash
	// negative and negative cash is not allowed. The fill is rejected
	// and state is left unchanged.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientPosition is returned when a sell exceeds the held
	// quantity and short selling is not allowed. The fill is rejected
	// and state is left unchanged.
	ErrInsufficientPosition = errors.New("ledger: insufficient position")
)

// Config controls the ledger's constraint checks.
type Config struct {
	// AllowShort permits negative position quantities.
	AllowShort bool

	// AllowNegativeCash permits cash below zero (margin-style allowance).
	AllowNegativeCash bool
}

// Ledger tracks cash, open positions, paid fees, and the closed-trade log.
type Ledger struct {
	cfg       Config
	initial   decimal.Decimal
	cash      decimal.Decimal
	feesPaid  decimal.Decimal
	positions map[string]*model.Position
	trades    []model.Trade
}

// New creates a ledger seeded with the given starting cash.
func New(initialCapital decimal.Decimal, cfg Config) (*Ledger, error) {
	if initialCapital.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidCapital
	}
	return &Ledger{
		cfg:       cfg,
		initial:   initialCapital,
		cash:      initialCapital,
		positions: make(map[string]*model.Position),
	}, nil
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// InitialCapital returns the starting cash.
func (l *Ledger) InitialCapital() decimal.Decimal { return l.initial }

// FeesPaid returns the cumulative commission paid.
func (l *Ledger) FeesPaid() decimal.Decimal { return l.feesPaid }

// Position returns a copy of the holding in symbol, if any.
func (l *Ledger) Position(symbol string) (model.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions, sorted by symbol so that
// iteration order is deterministic.
func (l *Ledger) Positions() []model.Position {
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns the closed-trade log in close order.
func (l *Ledger) Trades() []model.Trade {
	out := make([]model.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// ApplyFill applies one executed fill: cash moves by the signed notional
// plus commission, the position is created/extended/reduced, and any
// quantity crossing zero is closed into Trade records.
//
// A fill that would violate a constraint is rejected with state unchanged —
// the caller treats rejection as a skipped order, not a fatal error.
func (l *Ledger) ApplyFill(f model.Fill) error {
	if f.Quantity.IsZero() {
		return fmt.Errorf("%w: zero quantity for %s", ErrInvalidFill, f.Symbol)
	}
	if !f.Price.IsPositive() {
		return fmt.Errorf("%w: non-positive price %s for %s", ErrInvalidFill, f.Price, f.Symbol)
	}
	if f.Commission.IsNegative() {
		return fmt.Errorf("%w: negative commission for %s", ErrInvalidFill, f.Symbol)
	}

	pos := l.positions[f.Symbol]

	// --- Validate before mutating anything ---

	// Position constraint: a sell beyond the held quantity (or any fill
	// that leaves a negative position) requires AllowShort.
	newQty := f.Quantity
	if pos != nil {
		newQty = pos.Quantity.Add(f.Quantity)
	}
	if newQty.IsNegative() && !l.cfg.AllowShort {
		return fmt.Errorf("%w: %s fill of %s would leave quantity %s",
			ErrInsufficientPosition, f.Symbol, f.Quantity, newQty)
	}
	if pos == nil && f.Quantity.IsNegative() && !l.cfg.AllowShort {
		return fmt.Errorf("%w: no open position in %s", ErrInsufficientPosition, f.Symbol)
	}

	// Cash constraint: cash_after = cash_before − notional − commission.
	newCash := l.cash.Sub(f.Notional()).Sub(f.Commission)
	if newCash.IsNegative() && !l.cfg.AllowNegativeCash {
		return fmt.Errorf("%w: fill needs %s, have %s",
			ErrInsufficientFunds, f.Notional().Add(f.Commission), l.cash)
	}

	// --- Mutate ---

	l.cash = newCash
	l.feesPaid = l.feesPaid.Add(f.Commission)

	switch {
	case pos == nil:
		l.open(f)
	case pos.Quantity.Sign() == f.Quantity.Sign():
		l.extend(pos, f)
	default:
		l.reduce(pos, f)
	}
	return nil
}

// open creates a fresh position from a fill.
func (l *Ledger) open(f model.Fill) {
	l.positions[f.Symbol] = &model.Position{
		Symbol:          f.Symbol,
		Quantity:        f.Quantity,
		AvgCost:         f.Price,
		EntryCommission: f.Commission,
		OpenedAt:        f.Timestamp,
	}
}

// extend adds to a position in the same direction: the average cost becomes
// the quantity-weighted mean of the old basis and the new fill.
func (l *Ledger) extend(pos *model.Position, f model.Fill) {
	oldAbs := pos.Quantity.Abs()
	addAbs := f.Quantity.Abs()
	totalAbs := oldAbs.Add(addAbs)

	pos.AvgCost = pos.AvgCost.Mul(oldAbs).Add(f.Price.Mul(addAbs)).Div(totalAbs)
	pos.Quantity = pos.Quantity.Add(f.Quantity)
	pos.EntryCommission = pos.EntryCommission.Add(f.Commission)
}

// reduce closes part or all of a position against the opposite-direction
// fill. Realized P&L is taken against the existing average cost, which is
// never changed by a reduction. If the fill is larger than the position,
// the remainder flips into a new position in the fill's direction (only
// reachable with AllowShort — validated by the caller).
func (l *Ledger) reduce(pos *model.Position, f model.Fill) {
	posAbs := pos.Quantity.Abs()
	fillAbs := f.Quantity.Abs()

	closeQty := fillAbs
	if closeQty.GreaterThan(posAbs) {
		closeQty = posAbs
	}

	// Long positions realize (exit − basis), shorts (basis − exit).
	sideSign := decimal.NewFromInt(1)
	if pos.Quantity.IsNegative() {
		sideSign = decimal.NewFromInt(-1)
	}
	gross := f.Price.Sub(pos.AvgCost).Mul(closeQty).Mul(sideSign)

	// Allocate the position's remaining entry commission pro rata, and the
	// fill's commission by the closed share of the fill.
	entryAlloc := pos.EntryCommission.Mul(closeQty).Div(posAbs)
	exitAlloc := f.Commission.Mul(closeQty).Div(fillAbs)
	commission := entryAlloc.Add(exitAlloc)

	l.trades = append(l.trades, model.Trade{
		Symbol:      f.Symbol,
		Quantity:    closeQty,
		EntryPrice:  pos.AvgCost,
		ExitPrice:   f.Price,
		EntryTime:   pos.OpenedAt,
		ExitTime:    f.Timestamp,
		RealizedPnL: gross.Sub(commission),
		Commission:  commission,
		Holding:     f.Timestamp.Sub(pos.OpenedAt),
	})

	remaining := pos.Quantity.Add(f.Quantity)
	switch {
	case remaining.IsZero():
		delete(l.positions, f.Symbol)
	case remaining.Sign() == pos.Quantity.Sign():
		// Partial close: basis untouched, entry fee reduced by the
		// allocated share.
		pos.Quantity = remaining
		pos.EntryCommission = pos.EntryCommission.Sub(entryAlloc)
	default:
		// Flip: the excess opens a new position at the fill price,
		// carrying the unallocated share of the fill's commission.
		l.positions[f.Symbol] = &model.Position{
			Symbol:          f.Symbol,
			Quantity:        remaining,
			AvgCost:         f.Price,
			EntryCommission: f.Commission.Sub(exitAlloc),
			OpenedAt:        f.Timestamp,
		}
	}
}

// PositionValue is one open position marked to a given price.
type PositionValue struct {
	model.Position
	MarkPrice     decimal.Decimal `json:"mark_price"`
	Value         decimal.Decimal `json:"value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Valuation is a mark-to-market snapshot of the whole portfolio.
type Valuation struct {
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	Equity         decimal.Decimal `json:"equity"`
	Positions      []PositionValue `json:"positions"`
}

// MarkToMarket values every open position at prices[symbol]. It is a pure
// read: no state is mutated. A symbol missing from the price map, or marked
// at a negative price, falls back to its own average cost (zero unrealized
// P&L) so that a gap in marks can never fabricate gains or losses. A mark of
// exactly zero is a legitimate price (an expired worthless option) and is
// used as given.
func (l *Ledger) MarkToMarket(prices map[string]decimal.Decimal) Valuation {
	v := Valuation{Cash: l.cash}

	for _, pos := range l.Positions() {
		mark, ok := prices[pos.Symbol]
		if !ok || mark.IsNegative() {
			mark = pos.AvgCost
		}
		value := mark.Mul(pos.Quantity)
		unrealized := mark.Sub(pos.AvgCost).Mul(pos.Quantity)

		v.Positions = append(v.Positions, PositionValue{
			Position:      pos,
			MarkPrice:     mark,
			Value:         value,
			UnrealizedPnL: unrealized,
		})
		v.PositionsValue = v.PositionsValue.Add(value)
	}

	v.Equity = v.Cash.Add(v.PositionsValue)
	return v
}
