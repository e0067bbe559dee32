package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/engine"
	"github.com/PapaPablano/swiftbolt/internal/model"
)

// coveredCall buys the underlying on the first bar, then writes one
// out-of-the-money call against it whenever no short call is open.
// Writing calls requires a run configured with short selling enabled.
//
// The call written is the quoted contract with the lowest strike at or
// above spot × (1 + offset); ties on strike resolve to the earliest
// expiry. Short calls that disappear from the chain simply ride until
// quoted again.
type coveredCall struct {
	symbol    string
	lots      decimal.Decimal
	offset    float64
	contracts decimal.Decimal
}

// NewCoveredCall creates the covered-call strategy.
// Params: lots (underlying quantity, default 100), offset (OTM strike
// fraction, default 0.02), contracts (calls written, default 1).
func NewCoveredCall(symbol string, params Params) (engine.Strategy, error) {
	lots := params.get("lots", 100)
	offset := params.get("offset", 0.02)
	contracts := params.get("contracts", 1)

	if lots <= 0 || contracts <= 0 {
		return nil, fmt.Errorf("%w: lots %g and contracts %g must be positive", ErrInvalidParams, lots, contracts)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset %g must be non-negative", ErrInvalidParams, offset)
	}
	return &coveredCall{
		symbol:    symbol,
		lots:      decimal.NewFromFloat(lots),
		offset:    offset,
		contracts: decimal.NewFromFloat(contracts),
	}, nil
}

func (s *coveredCall) Name() string { return "covered-call" }

func (s *coveredCall) OnBar(snap engine.Snapshot) []model.OrderIntent {
	var intents []model.OrderIntent

	holdsUnderlying := false
	holdsShortCall := false
	for _, p := range snap.Positions {
		switch {
		case p.Symbol == s.symbol:
			holdsUnderlying = true
		case p.Quantity.IsNegative():
			holdsShortCall = true
		}
	}

	if !holdsUnderlying {
		if snap.Step != 0 {
			return nil
		}
		intents = append(intents, model.OrderIntent{
			Symbol: s.symbol, Action: model.Buy, Quantity: s.lots,
		})
	}

	if holdsShortCall {
		return intents
	}

	if q, ok := s.pickCall(snap); ok {
		intents = append(intents, model.OrderIntent{
			Symbol: q.Symbol, Action: model.Sell, Quantity: s.contracts,
		})
	}
	return intents
}

// pickCall selects the cheapest-strike quoted call at or above the
// target strike.
func (s *coveredCall) pickCall(snap engine.Snapshot) (model.OptionQuote, bool) {
	spot, _ := snap.Bar.Close.Float64()
	target := decimal.NewFromFloat(spot * (1 + s.offset))

	var best model.OptionQuote
	found := false
	for _, q := range snap.Chain {
		if q.Type != model.Call || q.Underlying != s.symbol {
			continue
		}
		if q.Strike.LessThan(target) || !q.Mid().IsPositive() {
			continue
		}
		if !found ||
			q.Strike.LessThan(best.Strike) ||
			(q.Strike.Equal(best.Strike) && q.Expiry.Before(best.Expiry)) {
			best = q
			found = true
		}
	}
	return best, found
}
