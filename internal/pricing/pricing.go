// Package pricing implements closed-form Black-Scholes-Merton valuation for
// European options: theoretical price, the five analytic Greeks, and a
// Newton-Raphson implied-volatility inversion.
//
// The model is stateless aside from the configured risk-free rate. Inputs and
// outputs are float64 — this is transcendental math, not money; callers that
// need exact cash arithmetic convert the result to decimal at the boundary.
//
// Conventions:
//   - theta is per calendar day (annual theta / 365)
//   - vega is per 1 volatility point (dPrice/dσ / 100)
//   - rho is per 1% rate move (dPrice/dr / 100)
//
// Reference: Black, F. & Scholes, M. (1973) "The Pricing of Options and
// Corporate Liabilities"; Merton, R. (1973).
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/PapaPablano/swiftbolt/internal/model"
)

var (
	// ErrInvalidInput is returned for malformed numeric arguments: spot or
	// strike ≤ 0, negative volatility, an unknown option type, or an
	// implied-vol target price outside the no-arbitrage bounds.
	ErrInvalidInput = errors.New("pricing: invalid input")

	// ErrNotConverged is returned when the implied-volatility iteration
	// exhausts its cap or vega becomes too small for a stable Newton step.
	ErrNotConverged = errors.New("pricing: implied volatility did not converge")
)

const (
	// ivMaxIterations bounds the Newton-Raphson loop.
	ivMaxIterations = 100

	// ivTolerance is the absolute price-error convergence threshold.
	ivTolerance = 1e-8

	// minVega is the smallest vega for which a Newton step is considered
	// numerically stable. Below this the step direction is noise.
	minVega = 1e-10

	// Volatility is clamped to this range between Newton steps.
	ivFloor = 1e-4
	ivCeil  = 5.0
)

// Result is one valuation output. Created fresh per call, never mutated.
// ImpliedVol is populated only by ImpliedVolatility-driven call sites.
type Result struct {
	Price      float64 `json:"price"`
	Delta      float64 `json:"delta"`
	Gamma      float64 `json:"gamma"`
	Theta      float64 `json:"theta"` // per day
	Vega       float64 `json:"vega"`  // per 1 vol point
	Rho        float64 `json:"rho"`   // per 1% rate
	ImpliedVol float64 `json:"implied_vol,omitempty"`
}

// Model is a stateless Black-Scholes-Merton pricer with a configured
// continuously-compounded risk-free rate.
type Model struct {
	riskFree float64
}

// NewModel creates a pricing model with the given risk-free rate (e.g. 0.05).
func NewModel(riskFreeRate float64) *Model {
	return &Model{riskFree: riskFreeRate}
}

// RiskFreeRate returns the configured rate.
func (m *Model) RiskFreeRate() float64 {
	return m.riskFree
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2.0*math.Pi)
}

// validate rejects malformed pricing arguments. Never clamps silently.
func validate(spot, strike, sigma float64, typ model.OptionType) error {
	if spot <= 0 || math.IsNaN(spot) || math.IsInf(spot, 0) {
		return fmt.Errorf("%w: spot must be positive, got %g", ErrInvalidInput, spot)
	}
	if strike <= 0 || math.IsNaN(strike) || math.IsInf(strike, 0) {
		return fmt.Errorf("%w: strike must be positive, got %g", ErrInvalidInput, strike)
	}
	if sigma < 0 || math.IsNaN(sigma) {
		return fmt.Errorf("%w: volatility must be non-negative, got %g", ErrInvalidInput, sigma)
	}
	if !typ.Valid() {
		return fmt.Errorf("%w: option type must be CALL or PUT, got %q", ErrInvalidInput, typ)
	}
	return nil
}

// Price returns the theoretical value and Greeks for a European option with
// spot S, strike K, time-to-expiry T in years, and volatility sigma.
//
// At or past expiry (T ≤ 0) the price is the intrinsic value, delta is 0 or
// ±1 depending on moneyness, and all other Greeks are 0. With sigma = 0 the
// forward is deterministic and the price is the discounted intrinsic value.
func (m *Model) Price(spot, strike, t, sigma float64, typ model.OptionType) (Result, error) {
	if err := validate(spot, strike, sigma, typ); err != nil {
		return Result{}, err
	}

	if t <= 0 {
		return expiryValue(spot, strike, typ), nil
	}
	if sigma == 0 {
		return deterministicValue(spot, strike, t, m.riskFree, typ), nil
	}

	r := m.riskFree
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	discount := math.Exp(-r * t)
	pdfD1 := normPDF(d1)

	res := Result{
		Gamma: pdfD1 / (spot * sigma * sqrtT),
		Vega:  spot * pdfD1 * sqrtT / 100.0,
	}

	if typ == model.Call {
		nd1 := normCDF(d1)
		nd2 := normCDF(d2)
		res.Price = spot*nd1 - strike*discount*nd2
		res.Delta = nd1
		res.Theta = (-(spot*pdfD1*sigma)/(2.0*sqrtT) - r*strike*discount*nd2) / 365.0
		res.Rho = strike * t * discount * nd2 / 100.0
	} else {
		negNd1 := normCDF(-d1)
		negNd2 := normCDF(-d2)
		res.Price = strike*discount*negNd2 - spot*negNd1
		res.Delta = normCDF(d1) - 1.0
		res.Theta = (-(spot*pdfD1*sigma)/(2.0*sqrtT) + r*strike*discount*negNd2) / 365.0
		res.Rho = -strike * t * discount * negNd2 / 100.0
	}

	return res, nil
}

// expiryValue handles the T ≤ 0 boundary explicitly: intrinsic value,
// delta by moneyness, every other Greek zero.
func expiryValue(spot, strike float64, typ model.OptionType) Result {
	var res Result
	if typ == model.Call {
		res.Price = math.Max(spot-strike, 0)
		if spot > strike {
			res.Delta = 1.0
		}
	} else {
		res.Price = math.Max(strike-spot, 0)
		if spot < strike {
			res.Delta = -1.0
		}
	}
	return res
}

// deterministicValue handles sigma = 0 with T > 0: the terminal spot is the
// risk-neutral forward, so the option is worth its discounted intrinsic
// value against the discounted strike.
func deterministicValue(spot, strike, t, r float64, typ model.OptionType) Result {
	discountedStrike := strike * math.Exp(-r*t)
	var res Result
	if typ == model.Call {
		res.Price = math.Max(spot-discountedStrike, 0)
		if spot > discountedStrike {
			res.Delta = 1.0
		}
	} else {
		res.Price = math.Max(discountedStrike-spot, 0)
		if spot < discountedStrike {
			res.Delta = -1.0
		}
	}
	return res
}

// ImpliedVolatility inverts the model: it finds the sigma for which the
// theoretical price equals marketPrice, via Newton-Raphson with the model's
// own (unscaled) vega as the derivative.
//
// Inputs with T ≤ 0, or a marketPrice outside the no-arbitrage bounds for
// the contract, are rejected with ErrInvalidInput before iterating — no
// volatility can produce such a price. If vega collapses or the iteration
// cap is reached the call fails with ErrNotConverged rather than returning
// a wrong value.
func (m *Model) ImpliedVolatility(marketPrice, spot, strike, t float64, typ model.OptionType) (float64, error) {
	if err := validate(spot, strike, 0, typ); err != nil {
		return 0, err
	}
	if t <= 0 {
		return 0, fmt.Errorf("%w: cannot imply volatility at or past expiry (T=%g)", ErrInvalidInput, t)
	}
	if marketPrice <= 0 || math.IsNaN(marketPrice) || math.IsInf(marketPrice, 0) {
		return 0, fmt.Errorf("%w: market price must be positive, got %g", ErrInvalidInput, marketPrice)
	}

	// No-arbitrage bounds: below discounted intrinsic or above the spot
	// (call) / discounted strike (put) no solution exists.
	discountedStrike := strike * math.Exp(-m.riskFree*t)
	var lower, upper float64
	if typ == model.Call {
		lower = math.Max(spot-discountedStrike, 0)
		upper = spot
	} else {
		lower = math.Max(discountedStrike-spot, 0)
		upper = discountedStrike
	}
	if marketPrice < lower || marketPrice > upper {
		return 0, fmt.Errorf("%w: market price %g violates no-arbitrage bounds [%g, %g]",
			ErrInvalidInput, marketPrice, lower, upper)
	}

	// Seed in the same spirit as the Brenner-Subrahmanyam approximation,
	// clamped to a plausible range.
	sigma := math.Max(0.10, math.Min(2.0, marketPrice*2.0/(spot*math.Sqrt(t))))

	sqrtT := math.Sqrt(t)
	for i := 0; i < ivMaxIterations; i++ {
		res, err := m.Price(spot, strike, t, sigma, typ)
		if err != nil {
			return 0, err
		}

		diff := res.Price - marketPrice
		if math.Abs(diff) < ivTolerance {
			return sigma, nil
		}

		// Raw dPrice/dσ, not the per-point Vega reported in Result.
		d1 := (math.Log(spot/strike) + (m.riskFree+0.5*sigma*sigma)*t) / (sigma * sqrtT)
		rawVega := spot * normPDF(d1) * sqrtT
		if rawVega < minVega {
			return 0, fmt.Errorf("%w: vega %g too small for a stable step", ErrNotConverged, rawVega)
		}

		sigma -= diff / rawVega
		if sigma < ivFloor {
			sigma = ivFloor
		} else if sigma > ivCeil {
			sigma = ivCeil
		}
	}

	return 0, fmt.Errorf("%w: no solution within %d iterations", ErrNotConverged, ivMaxIterations)
}
