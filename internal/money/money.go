package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Amount is a sum of money in minor units (paise, cents).
type Amount int64

// ErrInvalidAmount is returned for amounts that are not positive or have
// more than two decimal places.
var ErrInvalidAmount = errors.New("invalid amount")

// MaxAmount is the largest amount Parse accepts: ten trillion major units.
const MaxAmount Amount = 1_000_000_000_000_000

var printer = message.NewPrinter(language.English)

// Parse reads a user supplied amount such as "100", "99.5" or "1,250.00".
func Parse(s string) (Amount, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}

	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount)
	}
	if minor.GreaterThan(decimal.NewFromInt(int64(MaxAmount))) {
		return 0, fmt.Errorf("%w: too large", ErrInvalidAmount)
	}
	return Amount(minor.IntPart()), nil
}

// FromFloat converts a configuration value to an Amount, rounding to the
// nearest minor unit.
func FromFloat(f float64) Amount {
	return Amount(decimal.NewFromFloat(f).Shift(2).Round(0).IntPart())
}

// Mul returns a multiplied by n. Negative operands and results that do
// not fit in an Amount are rejected with ErrInvalidAmount.
func (a Amount) Mul(n int) (Amount, error) {
	if a < 0 || n < 0 {
		return 0, fmt.Errorf("%w: negative operand", ErrInvalidAmount)
	}
	if n != 0 && a > Amount(math.MaxInt64/int64(n)) {
		return 0, fmt.Errorf("%w: %s x %d overflows", ErrInvalidAmount, a, n)
	}
	return a * Amount(n), nil
}

// Decimal returns a as a major-unit decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String renders the amount without a currency symbol, e.g. "140.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// Format renders the amount with a currency symbol and digit grouping,
// e.g. "₹1,250.00".
func Format(a Amount, symbol string) string {
	whole, frac := int64(a)/100, int64(a)%100
	sign := ""
	if a < 0 {
		sign = "-"
		whole, frac = -whole, -frac
	}
	return sign + symbol + printer.Sprintf("%d", whole) + fmt.Sprintf(".%02d", frac)
}
