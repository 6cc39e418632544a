package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a decimal string cannot be represented
// as an integer amount of minor units at the requested scale.
var ErrInvalidAmount = errors.New("invalid monetary amount")

// Supported scales. Everyday transactions use 2 decimal places, investment
// quantities and prices use 10.
const (
	ScaleCents      int32 = 2
	ScaleInvestment int32 = 10
)

// Money is an integer count of minor currency units ("cents"). The currency
// itself lives on the owning record. All stored, compared and summed values
// are integers; decimal strings are a presentation format only.
type Money int64

// Zero is the zero amount.
const Zero Money = 0

// FromCents wraps an integer amount of minor units.
func FromCents(cents int64) Money {
	return Money(cents)
}

// FromDecimalString parses a decimal string into minor units at the given
// scale. Fails with ErrInvalidAmount when the string is not numeric or
// carries more fractional digits than the scale allows.
func FromDecimalString(s string, scale int32) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	shifted := d.Shift(scale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %q exceeds scale %d", ErrInvalidAmount, s, scale)
	}
	bi := shifted.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}
	return Money(bi.Int64()), nil
}

// FromMagnitudeString parses like FromDecimalString but rejects negative
// values. Transaction amounts are always stored as positive magnitudes, with
// the transaction type carrying the direction.
func FromMagnitudeString(s string, scale int32) (Money, error) {
	m, err := FromDecimalString(s, scale)
	if err != nil {
		return 0, err
	}
	if m < 0 {
		return 0, fmt.Errorf("%w: %q must not be negative", ErrInvalidAmount, s)
	}
	return m, nil
}

// Cents returns the raw integer amount of minor units.
func (m Money) Cents() int64 {
	return int64(m)
}

// DecimalString renders the amount as a decimal string at the given scale.
func (m Money) DecimalString(scale int32) string {
	return decimal.New(int64(m), -scale).StringFixed(scale)
}

func (m Money) Add(other Money) Money {
	return m + other
}

func (m Money) Sub(other Money) Money {
	return m - other
}

func (m Money) Neg() Money {
	return -m
}

func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

func (m Money) IsZero() bool {
	return m == 0
}

func (m Money) IsNegative() bool {
	return m < 0
}

func (m Money) IsPositive() bool {
	return m > 0
}

// MulRate multiplies the amount by a decimal exchange rate, truncating toward
// zero on the absolute value and restoring the sign afterwards. Truncation
// direction is the same everywhere so that round-trip conversions never
// oscillate by more than one minor unit.
func (m Money) MulRate(rate decimal.Decimal) Money {
	if m == 0 {
		return 0
	}
	abs := decimal.NewFromInt(int64(m.Abs()))
	converted := abs.Mul(rate).Truncate(0).IntPart()
	if m < 0 {
		return Money(-converted)
	}
	return Money(converted)
}
