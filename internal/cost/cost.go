// Package cost converts order intents into executable fills.
//
// The model is deliberately simple and fully deterministic: a fixed
// per-unit commission plus proportional slippage applied in the adverse
// direction. Buys execute at reference × (1 + slippage) and sells at
// reference × (1 − slippage). All arithmetic is exact decimal so the
// same inputs always produce byte-identical fills.
package cost

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/model"
)

// ErrInvalidOrder is returned when an intent cannot be priced.
var ErrInvalidOrder = errors.New("invalid order")

// Model prices order intents. The zero value charges no costs.
type Model struct {
	commissionPerUnit decimal.Decimal
	slippagePct       decimal.Decimal
}

// New creates a cost model. commissionPerUnit is charged per contract or
// share, slippagePct is a fraction (0.001 = 10 bps) applied adversely.
func New(commissionPerUnit, slippagePct decimal.Decimal) (*Model, error) {
	if commissionPerUnit.IsNegative() {
		return nil, fmt.Errorf("%w: negative commission %s", ErrInvalidOrder, commissionPerUnit)
	}
	if slippagePct.IsNegative() || slippagePct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: slippage %s outside [0,1)", ErrInvalidOrder, slippagePct)
	}
	return &Model{commissionPerUnit: commissionPerUnit, slippagePct: slippagePct}, nil
}

// Fill prices an intent against refPrice and returns the resulting fill.
// When the intent carries a limit price, the limit is used as the
// reference instead. The fill quantity is signed: positive for buys,
// negative for sells.
func (m *Model) Fill(intent model.OrderIntent, refPrice decimal.Decimal, ts time.Time) (model.Fill, error) {
	if !intent.Action.Valid() {
		return model.Fill{}, fmt.Errorf("%w: action %q", ErrInvalidOrder, intent.Action)
	}
	if !intent.Quantity.IsPositive() {
		return model.Fill{}, fmt.Errorf("%w: quantity %s must be positive", ErrInvalidOrder, intent.Quantity)
	}

	ref := refPrice
	if intent.Limit.IsPositive() {
		ref = intent.Limit
	}
	if !ref.IsPositive() {
		return model.Fill{}, fmt.Errorf("%w: reference price %s must be positive", ErrInvalidOrder, ref)
	}

	one := decimal.NewFromInt(1)
	var price decimal.Decimal
	switch intent.Action {
	case model.Buy:
		price = ref.Mul(one.Add(m.slippagePct))
	case model.Sell:
		price = ref.Mul(one.Sub(m.slippagePct))
	}

	return model.Fill{
		Symbol:     intent.Symbol,
		Quantity:   intent.Quantity.Mul(intent.Action.Sign()),
		Price:      price,
		Commission: m.commissionPerUnit.Mul(intent.Quantity),
		Timestamp:  ts,
	}, nil
}
