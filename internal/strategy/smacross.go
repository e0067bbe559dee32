package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/engine"
	"github.com/PapaPablano/swiftbolt/internal/model"
)

// smaCrossover goes long when the fast simple moving average of closes
// crosses above the slow one and flattens when it crosses back below.
// It holds at most one position and never shorts.
type smaCrossover struct {
	symbol   string
	fast     int
	slow     int
	quantity decimal.Decimal

	closes []float64
}

// NewSMACrossover creates the moving-average crossover strategy.
// Params: fast (default 10), slow (default 30), quantity (default 1).
func NewSMACrossover(symbol string, params Params) (engine.Strategy, error) {
	fast := int(params.get("fast", 10))
	slow := int(params.get("slow", 30))
	qty := params.get("quantity", 1)

	if fast < 1 || slow <= fast {
		return nil, fmt.Errorf("%w: need 1 <= fast (%d) < slow (%d)", ErrInvalidParams, fast, slow)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %g must be positive", ErrInvalidParams, qty)
	}
	return &smaCrossover{
		symbol:   symbol,
		fast:     fast,
		slow:     slow,
		quantity: decimal.NewFromFloat(qty),
	}, nil
}

func (s *smaCrossover) Name() string { return "sma-crossover" }

func (s *smaCrossover) OnBar(snap engine.Snapshot) []model.OrderIntent {
	c, _ := snap.Bar.Close.Float64()
	s.closes = append(s.closes, c)
	if len(s.closes) < s.slow+1 {
		return nil
	}

	fastNow := s.sma(s.fast, 0)
	slowNow := s.sma(s.slow, 0)
	fastPrev := s.sma(s.fast, 1)
	slowPrev := s.sma(s.slow, 1)

	holding := decimal.Zero
	for _, p := range snap.Positions {
		if p.Symbol == s.symbol {
			holding = p.Quantity
		}
	}

	switch {
	case fastPrev <= slowPrev && fastNow > slowNow && holding.IsZero():
		return []model.OrderIntent{{Symbol: s.symbol, Action: model.Buy, Quantity: s.quantity}}
	case fastPrev >= slowPrev && fastNow < slowNow && holding.IsPositive():
		return []model.OrderIntent{{Symbol: s.symbol, Action: model.Sell, Quantity: holding}}
	}
	return nil
}

// sma averages the last n closes, skipping the most recent `back` bars.
func (s *smaCrossover) sma(n, back int) float64 {
	end := len(s.closes) - back
	var sum float64
	for _, c := range s.closes[end-n : end] {
		sum += c
	}
	return sum / float64(n)
}
