package amount

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional decimal digits an Amount carries.
const Precision = 4

// Scale is the number of integer units per whole currency unit.
const Scale int64 = 10_000

var (
	ErrEmpty    = errors.New("empty amount")
	ErrOverflow = errors.New("amount out of range")
)

var (
	maxUnits = decimal.NewFromInt(math.MaxInt64)
	minUnits = decimal.NewFromInt(math.MinInt64)
)

// Amount is a signed fixed-point monetary value stored as an integer number
// of 1/10,000 units. The zero value is 0.0000.
type Amount struct {
	units int64
}

var (
	Zero = Amount{}
	Max  = Amount{units: math.MaxInt64}
	Min  = Amount{units: math.MinInt64}
)

// Parse creates an Amount from decimal text, rounding half away from zero
// to four fractional digits.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrEmpty
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a, err := FromDecimal(d)
	if err != nil {
		return Zero, fmt.Errorf("amount %q: %w", s, err)
	}
	return a, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// maxMagnitude is the decimal digit count of the largest whole part an
// Amount can hold (922,337,203,685,477).
const maxMagnitude = 15

// FromDecimal scales and rounds d into an Amount.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsZero() {
		return Zero, nil
	}

	// |d| < 10^magnitude. Rescaling costs grow with the exponent, so values
	// that are certainly out of range or below half a unit are settled here.
	coef := d.Coefficient()
	magnitude := int64(len(coef.Abs(coef).String())) + int64(d.Exponent())
	if magnitude > maxMagnitude {
		return Zero, ErrOverflow
	}
	if magnitude < -Precision {
		return Zero, nil
	}

	scaled := d.Round(Precision).Shift(Precision)
	if scaled.GreaterThan(maxUnits) || scaled.LessThan(minUnits) {
		return Zero, ErrOverflow
	}
	return Amount{units: scaled.IntPart()}, nil
}

// FromUnits creates an Amount from a raw count of 1/10,000 units.
func FromUnits(units int64) Amount {
	return Amount{units: units}
}

// Units returns the raw scaled integer.
func (a Amount) Units() int64 {
	return a.units
}

// CheckedAdd returns a+b, or ErrOverflow if the result does not fit.
func (a Amount) CheckedAdd(b Amount) (Amount, error) {
	sum := a.units + b.units
	if (b.units > 0 && sum < a.units) || (b.units < 0 && sum > a.units) {
		return Zero, ErrOverflow
	}
	return Amount{units: sum}, nil
}

// CheckedSub returns a-b, or ErrOverflow if the result does not fit.
func (a Amount) CheckedSub(b Amount) (Amount, error) {
	diff := a.units - b.units
	if (b.units > 0 && diff > a.units) || (b.units < 0 && diff < a.units) {
		return Zero, ErrOverflow
	}
	return Amount{units: diff}, nil
}

// Add returns a+b, saturating at Max or Min instead of wrapping.
func (a Amount) Add(b Amount) Amount {
	sum, err := a.CheckedAdd(b)
	if err != nil {
		if b.units > 0 {
			return Max
		}
		return Min
	}
	return sum
}

// Sub returns a-b, saturating at Max or Min instead of wrapping.
func (a Amount) Sub(b Amount) Amount {
	diff, err := a.CheckedSub(b)
	if err != nil {
		if b.units > 0 {
			return Min
		}
		return Max
	}
	return diff
}

// Cmp returns -1, 0 or +1 depending on whether a is less than, equal to or
// greater than b.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a.units < b.units:
		return -1
	case a.units > b.units:
		return 1
	default:
		return 0
	}
}

func (a Amount) LessThan(b Amount) bool    { return a.units < b.units }
func (a Amount) GreaterThan(b Amount) bool { return a.units > b.units }
func (a Amount) Equal(b Amount) bool       { return a.units == b.units }
func (a Amount) IsZero() bool              { return a.units == 0 }
func (a Amount) IsNegative() bool          { return a.units < 0 }

// Decimal returns the exact decimal value of a.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(a.units, -Precision)
}

// String formats a with exactly four fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(Precision)
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
