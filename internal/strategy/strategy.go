// Package strategy provides the built-in trading strategies and the
// registry the backtest service resolves them from.
package strategy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/engine"
	"github.com/PapaPablano/swiftbolt/internal/model"
)

var (
	ErrUnknown       = errors.New("strategy: unknown strategy")
	ErrInvalidParams = errors.New("strategy: invalid parameters")
)

// Params are the numeric knobs of a strategy. Missing keys take the
// strategy's defaults.
type Params map[string]float64

func (p Params) get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Factory builds a fresh strategy instance for one run. symbol is the
// underlying the bar series describes.
type Factory func(symbol string, params Params) (engine.Strategy, error)

var registry = map[string]Factory{
	"buy-and-hold":  NewBuyAndHold,
	"sma-crossover": NewSMACrossover,
	"covered-call":  NewCoveredCall,
}

// New resolves a registered strategy by name.
func New(name, symbol string, params Params) (engine.Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return factory(symbol, params)
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buyAndHold buys a fixed quantity of the underlying on the first bar
// and never trades again.
type buyAndHold struct {
	symbol   string
	quantity decimal.Decimal
}

// NewBuyAndHold creates the buy-and-hold strategy.
// Params: quantity (default 1).
func NewBuyAndHold(symbol string, params Params) (engine.Strategy, error) {
	qty := params.get("quantity", 1)
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %g must be positive", ErrInvalidParams, qty)
	}
	return &buyAndHold{symbol: symbol, quantity: decimal.NewFromFloat(qty)}, nil
}

func (s *buyAndHold) Name() string { return "buy-and-hold" }

func (s *buyAndHold) OnBar(snap engine.Snapshot) []model.OrderIntent {
	if snap.Step != 0 {
		return nil
	}
	return []model.OrderIntent{{Symbol: s.symbol, Action: model.Buy, Quantity: s.quantity}}
}
