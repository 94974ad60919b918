package math

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DecimalPrecision is the number of fractional digits carried by every amount.
const DecimalPrecision = 18

var (
	ErrOverflow       = errors.New("fixed-point overflow")
	ErrUnderflow      = errors.New("fixed-point underflow")
	ErrDivisionByZero = errors.New("fixed-point division by zero")
	ErrInvalidAmount  = errors.New("invalid fixed-point amount")
)

var (
	wad    = uint256.NewInt(1_000_000_000_000_000_000)
	maxWad = new(uint256.Int).SetAllOne()
)

// RoundingMode selects how MulDiv treats the truncated remainder.
type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundHalfUp
	RoundUp
)

// 512-bit intermediates for MulDiv come from a pool.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// One returns 1.0 (1e18).
func One() *uint256.Int {
	return wad.Clone()
}

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// MaxValue returns the largest representable amount. Used as the collateral
// ratio of a position without debt.
func MaxValue() *uint256.Int {
	return maxWad.Clone()
}

// Raw wraps an integer already expressed in 1e-18 units.
func Raw(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// Units converts a whole number into fixed point (v * 1e18).
func Units(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), wad)
}

// Add returns a + b.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("add %s + %s: %w", a.Dec(), b.Dec(), ErrOverflow)
	}
	return z, nil
}

// Sub returns a - b, failing when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("sub %s - %s: %w", a.Dec(), b.Dec(), ErrUnderflow)
	}
	return z, nil
}

// Mul returns the raw integer product a * b.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("mul %s * %s: %w", a.Dec(), b.Dec(), ErrOverflow)
	}
	return z, nil
}

// Div returns floor(a / b) on raw integers.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// MulDiv computes a * b / d with a 512-bit intermediate product.
func MulDiv(a, b, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}

	product := getBig()
	denom := getBig()
	quotient := getBig()
	remainder := getBig()
	defer func() {
		putBig(product)
		putBig(denom)
		putBig(quotient)
		putBig(remainder)
	}()

	product.Mul(a.ToBig(), b.ToBig())
	denom.Set(d.ToBig())
	quotient.QuoRem(product, denom, remainder)

	if remainder.Sign() != 0 {
		switch mode {
		case RoundUp:
			quotient.Add(quotient, big.NewInt(1))
		case RoundHalfUp:
			// remainder*2 >= d rounds away from zero
			remainder.Lsh(remainder, 1)
			if remainder.Cmp(denom) >= 0 {
				quotient.Add(quotient, big.NewInt(1))
			}
		}
	}

	z, overflow := uint256.FromBig(quotient)
	if overflow {
		return nil, fmt.Errorf("muldiv %s * %s / %s: %w", a.Dec(), b.Dec(), d.Dec(), ErrOverflow)
	}
	return z, nil
}

// DecMul multiplies two fixed-point values, rounding half up.
func DecMul(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, wad, RoundHalfUp)
}

// DecDiv divides two fixed-point values, rounding down.
func DecDiv(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, wad, b, RoundDown)
}

// Min returns the smaller of a and b (not a copy).
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}

// MaxOf returns the larger of a and b (not a copy).
func MaxOf(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return a
	}
	return b
}

// --- Decimal conversion ---

// FromDecimal converts a human decimal ("1.5") into fixed point. Values with
// more than 18 fractional digits or a negative sign are rejected.
func FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%s is negative: %w", d.String(), ErrInvalidAmount)
	}
	shifted := d.Shift(DecimalPrecision)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%s has more than %d decimals: %w", d.String(), DecimalPrecision, ErrInvalidAmount)
	}
	z, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, fmt.Errorf("%s: %w", d.String(), ErrOverflow)
	}
	return z, nil
}

// ToDecimal converts a fixed-point amount into a decimal.
func ToDecimal(a *uint256.Int) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.ToBig(), -DecimalPrecision)
}

// ParseWad parses a decimal string into fixed point.
func ParseWad(s string) (*uint256.Int, error) {
	if s == "" {
		return Zero(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, ErrInvalidAmount)
	}
	return FromDecimal(d)
}

// MustParseWad is ParseWad for constants and tests.
func MustParseWad(s string) *uint256.Int {
	v, err := ParseWad(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatWad renders a fixed-point amount as a decimal string.
func FormatWad(a *uint256.Int) string {
	return ToDecimal(a).String()
}

// ToFloat64 is lossy and meant for metrics only.
func ToFloat64(a *uint256.Int) float64 {
	return ToDecimal(a).InexactFloat64()
}
