// Package fixed implements exact fixed-point decimal arithmetic for
// monetary values.
//
// An Amount is a signed 64-bit integer mantissa paired with a scale — the
// number of fractional decimal digits it carries. At the conventional
// scale of 4, the mantissa 4012500 represents 401.2500 (basis-point style
// integers). The representation provides:
//   - Exact addition and subtraction with reported (never wrapped) overflow
//   - A scaled multiply with a 128-bit intermediate and documented rounding
//   - Loss-free parsing and formatting of decimal strings
//
// Amounts with different scales are never combinable; every operation that
// mixes two amounts reports ErrScaleMismatch rather than rescaling
// silently. There is no package-level precision state: the scale travels
// with each value and callers thread it explicitly.
//
// String conversion goes through shopspring/decimal — never float64 for
// money.
package fixed

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// DefaultScale is the conventional scale for portfolio accounting:
	// four fractional digits, scale factor 10,000.
	DefaultScale int32 = 4

	// MaxScale bounds the supported fractional digit count. Nine digits
	// leaves every realistic book value representable in the int64
	// mantissa with headroom for sums.
	MaxScale int32 = 9
)

var (
	// ErrOverflow is returned when a result does not fit the 64-bit
	// mantissa. Wrapping silently is a correctness bug in an accounting
	// kernel, so every arithmetic path checks.
	ErrOverflow = errors.New("fixed: value outside representable range")

	// ErrScaleMismatch is returned when two amounts with different
	// scales are combined.
	ErrScaleMismatch = errors.New("fixed: amounts have different scales")

	// ErrPrecision is returned when a decimal string carries more
	// fractional digits than the declared scale. Trailing zeros count:
	// digits are taken as written, not as valued.
	ErrPrecision = errors.New("fixed: too many fractional digits")

	// ErrScaleRange is returned for scales outside [0, MaxScale].
	ErrScaleRange = errors.New("fixed: scale out of range")
)

// pow10[s] is the scale factor for scale s.
var pow10 = [...]int64{
	1, 10, 100, 1_000, 10_000, 100_000,
	1_000_000, 10_000_000, 100_000_000, 1_000_000_000,
}

// Amount is an immutable fixed-point decimal: mantissa raw at the given
// scale, representing raw / 10^scale. The zero value is 0 at scale 0.
type Amount struct {
	raw   int64
	scale int32
}

func checkScale(scale int32) error {
	if scale < 0 || scale > MaxScale {
		return fmt.Errorf("%w: %d", ErrScaleRange, scale)
	}
	return nil
}

// FromRaw builds an amount directly from a scaled mantissa: FromRaw(4012500, 4)
// is 401.2500.
func FromRaw(raw int64, scale int32) (Amount, error) {
	if err := checkScale(scale); err != nil {
		return Amount{}, err
	}
	return Amount{raw: raw, scale: scale}, nil
}

// FromInt builds an amount from whole units: FromInt(400, 4) is 400.0000.
func FromInt(units int64, scale int32) (Amount, error) {
	if err := checkScale(scale); err != nil {
		return Amount{}, err
	}
	prod := new(big.Int).Mul(big.NewInt(units), big.NewInt(pow10[scale]))
	if !prod.IsInt64() {
		return Amount{}, fmt.Errorf("%w: %d at scale %d", ErrOverflow, units, scale)
	}
	return Amount{raw: prod.Int64(), scale: scale}, nil
}

// Zero returns 0 at the given scale.
func Zero(scale int32) Amount {
	return Amount{raw: 0, scale: scale}
}

// Parse reads a decimal string at the declared scale. Missing fractional
// digits are zero-padded ("400" parses as 400.0000 at scale 4); excess
// fractional digits are ErrPrecision, a recoverable rejection rather than
// a silent truncation.
func Parse(s string, scale int32) (Amount, error) {
	if err := checkScale(scale); err != nil {
		return Amount{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("fixed: parse %q: %w", s, err)
	}
	if d.Exponent() < -scale {
		return Amount{}, fmt.Errorf("%w: %q exceeds %d fractional digits", ErrPrecision, s, scale)
	}
	// d = coefficient × 10^exponent with exponent ≥ -scale, so the
	// mantissa is coefficient × 10^(exponent+scale), an exact integer.
	raw := new(big.Int).Set(d.Coefficient())
	shift := int64(d.Exponent()) + int64(scale)
	raw.Mul(raw, new(big.Int).Exp(big.NewInt(10), big.NewInt(shift), nil))
	if !raw.IsInt64() {
		return Amount{}, fmt.Errorf("%w: %q at scale %d", ErrOverflow, s, scale)
	}
	return Amount{raw: raw.Int64(), scale: scale}, nil
}

// MustParse is Parse for tests and fixtures; it panics on error.
func MustParse(s string, scale int32) Amount {
	a, err := Parse(s, scale)
	if err != nil {
		panic(err)
	}
	return a
}

// Raw returns the scaled mantissa.
func (a Amount) Raw() int64 { return a.raw }

// Scale returns the number of fractional digits.
func (a Amount) Scale() int32 { return a.scale }

// String formats the amount with exactly scale fractional digits,
// zero-padded: Amount{-10060000, 4} prints "-1006.0000".
func (a Amount) String() string {
	return decimal.New(a.raw, -a.scale).StringFixed(a.scale)
}

// Add returns a + b. The operands must share a scale.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.scale != b.scale {
		return Amount{}, ErrScaleMismatch
	}
	sum := a.raw + b.raw
	if (b.raw > 0 && sum < a.raw) || (b.raw < 0 && sum > a.raw) {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return Amount{raw: sum, scale: a.scale}, nil
}

// Sub returns a - b. The operands must share a scale.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.scale != b.scale {
		return Amount{}, ErrScaleMismatch
	}
	diff := a.raw - b.raw
	if (b.raw > 0 && diff > a.raw) || (b.raw < 0 && diff < a.raw) {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrOverflow, a, b)
	}
	return Amount{raw: diff, scale: a.scale}, nil
}

// Mul returns the scaled product of two amounts:
//
//	result = (a.raw × b.raw) / 10^scale
//
// The intermediate product is taken at arbitrary width before the single
// re-scaling division, so it cannot overflow early. The division rounds
// toward zero (truncation); this choice is fixed so that repeated runs and
// independent verifiers produce bit-identical results.
func (a Amount) Mul(b Amount) (Amount, error) {
	if a.scale != b.scale {
		return Amount{}, ErrScaleMismatch
	}
	prod := new(big.Int).Mul(big.NewInt(a.raw), big.NewInt(b.raw))
	prod.Quo(prod, big.NewInt(pow10[a.scale]))
	if !prod.IsInt64() {
		return Amount{}, fmt.Errorf("%w: %s * %s", ErrOverflow, a, b)
	}
	return Amount{raw: prod.Int64(), scale: a.scale}, nil
}

// MulInt multiplies by an unscaled integer quantity. The scale factor is
// carried by a alone, so no re-scaling division happens: 400.0000 × 10 is
// 4000.0000. This is the multiply for price × share-count.
func (a Amount) MulInt(n int64) (Amount, error) {
	prod := new(big.Int).Mul(big.NewInt(a.raw), big.NewInt(n))
	if !prod.IsInt64() {
		return Amount{}, fmt.Errorf("%w: %s * %d", ErrOverflow, a, n)
	}
	return Amount{raw: prod.Int64(), scale: a.scale}, nil
}

// Neg returns -a. Negating the minimum mantissa overflows.
func (a Amount) Neg() (Amount, error) {
	if a.raw == -1<<63 {
		return Amount{}, fmt.Errorf("%w: -(%s)", ErrOverflow, a)
	}
	return Amount{raw: -a.raw, scale: a.scale}, nil
}

// Abs returns |a|. Like Neg it overflows on the minimum mantissa.
func (a Amount) Abs() (Amount, error) {
	if a.raw >= 0 {
		return a, nil
	}
	return a.Neg()
}

// Cmp compares two amounts of the same scale: -1 if a < b, 0 if equal,
// +1 if a > b.
func (a Amount) Cmp(b Amount) (int, error) {
	if a.scale != b.scale {
		return 0, ErrScaleMismatch
	}
	switch {
	case a.raw < b.raw:
		return -1, nil
	case a.raw > b.raw:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports whether a and b have the same mantissa and scale.
func (a Amount) Equal(b Amount) bool { return a == b }

// Sign returns -1, 0, or +1.
func (a Amount) Sign() int {
	switch {
	case a.raw < 0:
		return -1
	case a.raw > 0:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.raw == 0 }

// IsNegative reports whether the amount is strictly below zero.
func (a Amount) IsNegative() bool { return a.raw < 0 }

// Within reports whether |a - b| ≤ eps. All three amounts must share a
// scale. This is the comparison for tolerance-bounded equality against
// values that originated upstream as floating point.
func Within(a, b, eps Amount) (bool, error) {
	if eps.scale != a.scale {
		return false, ErrScaleMismatch
	}
	diff, err := a.Sub(b)
	if err != nil {
		return false, err
	}
	abs, err := diff.Abs()
	if err != nil {
		return false, err
	}
	return abs.raw <= eps.raw, nil
}
