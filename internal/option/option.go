// Package option handles OCC-style option symbol parsing, formatting,
// and expiry math.
package option

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/model"
)

// symbolRegex matches the OCC symbology: {root}{YYMMDD}{C|P}{strike×1000}
// Example: SPY240119C00470000
var symbolRegex = regexp.MustCompile(
	`^([A-Z]{1,6})(\d{6})([CP])(\d{8})$`,
)

var ErrInvalidSymbol = errors.New("option: invalid symbol format")

// Symbol represents a parsed option symbol.
type Symbol struct {
	Raw        string           `json:"raw"`
	Underlying string           `json:"underlying"`
	Type       model.OptionType `json:"type"`
	Strike     decimal.Decimal  `json:"strike"`
	Expiry     time.Time        `json:"expiry"`
}

// Parse parses and validates an OCC option symbol.
// Format: {root}{YYMMDD}{C|P}{strike×1000, zero-padded to 8 digits}
func Parse(symbol string) (*Symbol, error) {
	matches := symbolRegex.FindStringSubmatch(symbol)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {root}{YYMMDD}{C|P}{strike×1000})",
			ErrInvalidSymbol, symbol)
	}

	root := matches[1]
	dateStr := matches[2]
	typStr := matches[3]
	strikeStr := matches[4]

	expiry, err := time.Parse("060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidSymbol, dateStr)
	}

	typ := model.Call
	if typStr == "P" {
		typ = model.Put
	}

	strike, err := decimal.NewFromString(strikeStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid strike %s", ErrInvalidSymbol, strikeStr)
	}
	strike = strike.Div(decimal.NewFromInt(1000))
	if !strike.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive strike in %s", ErrInvalidSymbol, symbol)
	}

	return &Symbol{
		Raw:        symbol,
		Underlying: root,
		Type:       typ,
		Strike:     strike,
		Expiry:     expiry,
	}, nil
}

// Format builds the OCC symbol string for the given parameters.
func Format(underlying string, expiry time.Time, typ model.OptionType, strike decimal.Decimal) string {
	letter := "C"
	if typ == model.Put {
		letter = "P"
	}
	millis := strike.Mul(decimal.NewFromInt(1000)).IntPart()
	return fmt.Sprintf("%s%s%s%08d", underlying, expiry.Format("060102"), letter, millis)
}

// TimeToExpiry returns the year fraction from now to the symbol's expiry
// on an ACT/365 basis, floored at zero.
func (s *Symbol) TimeToExpiry(now time.Time) float64 {
	hours := s.Expiry.Sub(now).Hours()
	if hours <= 0 {
		return 0
	}
	return hours / (24 * 365)
}
