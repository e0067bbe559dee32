// Package risk implements position limits that account for shared
// underlying exposure across option symbols.
//
// A strategy holding ten SPY contracts across different strikes and
// expiries has concentrated risk on one underlying. This package groups
// positions by the root of the symbol and enforces aggregate limits in
// addition to per-symbol ones.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/option"
)

var (
	// ErrPerSymbolLimitExceeded is returned when an order would push a
	// single symbol's position beyond the per-symbol maximum.
	ErrPerSymbolLimitExceeded = errors.New("risk: per-symbol position limit exceeded")

	// ErrUnderlyingLimitExceeded is returned when an order would push the
	// aggregate absolute exposure across all symbols on the same
	// underlying beyond the maximum.
	ErrUnderlyingLimitExceeded = errors.New("risk: underlying exposure limit exceeded")
)

// PositionLimiter enforces position limits with underlying-level grouping.
//
// Grouping uses the symbol root: OCC option symbols are parsed to
// extract the underlying ticker, and plain equity symbols group under
// themselves. All contracts on the same underlying count toward one
// aggregate exposure.
type PositionLimiter struct {
	// MaxPerSymbol is the maximum absolute net position in any single symbol.
	MaxPerSymbol decimal.Decimal

	// MaxPerUnderlying is the maximum aggregate absolute exposure across
	// all symbols sharing an underlying.
	MaxPerUnderlying decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given per-symbol and
// per-underlying limits.
func NewPositionLimiter(maxPerSymbol, maxPerUnderlying decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxPerSymbol:     maxPerSymbol,
		MaxPerUnderlying: maxPerUnderlying,
	}
}

// CheckLimit validates whether a quantity change respects position limits.
//
// Parameters:
//   - symbol: the symbol being traded
//   - quantityDelta: signed change in position (+buy / -sell direction)
//   - existing: map of symbol → current signed position quantity
//
// Returns nil if the change is within limits, or an error describing the
// violation.
func (l *PositionLimiter) CheckLimit(
	symbol string,
	quantityDelta decimal.Decimal,
	existing map[string]decimal.Decimal,
) error {
	// 1. Per-symbol limit.
	newPosition := existing[symbol].Add(quantityDelta)
	if newPosition.Abs().GreaterThan(l.MaxPerSymbol) {
		return ErrPerSymbolLimitExceeded
	}

	// 2. Underlying exposure: sum |quantity| across symbols on the same root.
	target := underlyingOf(symbol)
	total := newPosition.Abs()

	for sym, qty := range existing {
		if sym == symbol {
			continue // already counted via newPosition above
		}
		if underlyingOf(sym) == target {
			total = total.Add(qty.Abs())
		}
	}

	if total.GreaterThan(l.MaxPerUnderlying) {
		return ErrUnderlyingLimitExceeded
	}

	return nil
}

// underlyingOf maps a symbol to its grouping key. Option symbols group
// under their underlying root, anything else under itself.
func underlyingOf(symbol string) string {
	if s, err := option.Parse(symbol); err == nil {
		return s.Underlying
	}
	return symbol
}
