// Package fixedpoint implements the signed 128-bit fixed-point type used
// throughout the lending engine for rates, coefficients, and ratios.
package fixedpoint

import (
	"errors"
	"math/big"
)

// Denom is the fixed-point scale factor, 10^9.
const Denom = 1_000_000_000

// ErrOverflow is returned when an operation would exceed the signed i128
// range or otherwise has no representable result.
var ErrOverflow = errors.New("fixedpoint: overflow")

// ErrDivByZero is returned by division-like operations on a zero divisor.
var ErrDivByZero = errors.New("fixedpoint: division by zero")

var (
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	denom   = big.NewInt(Denom)
)

// FixedI128 is a signed fixed-point value scaled by Denom. The zero value is
// the fixed-point representation of zero.
type FixedI128 struct {
	v big.Int
}

// One is the fixed-point representation of 1.
func One() FixedI128 { return FromInt(1) }

// Zero is the fixed-point representation of 0.
func Zero() FixedI128 { return FixedI128{} }

func checkRange(v *big.Int) (FixedI128, error) {
	if v.Cmp(maxI128) > 0 || v.Cmp(minI128) < 0 {
		return FixedI128{}, ErrOverflow
	}
	return FixedI128{v: *v}, nil
}

// FromInner constructs a FixedI128 from its raw scaled representation.
func FromInner(v *big.Int) (FixedI128, error) {
	return checkRange(v)
}

// MustFromInner is FromInner but panics on overflow; used for constants.
func MustFromInner(v int64) FixedI128 {
	f, err := FromInner(big.NewInt(v))
	if err != nil {
		panic(err)
	}
	return f
}

// Inner returns the raw scaled representation.
func (f FixedI128) Inner() *big.Int {
	return new(big.Int).Set(&f.v)
}

// FromInt constructs D*v.
func FromInt(v int64) FixedI128 {
	r := new(big.Int).Mul(big.NewInt(v), denom)
	fx, err := checkRange(r)
	if err != nil {
		// v is a plain int64, D*v always fits i128; unreachable in practice.
		panic(err)
	}
	return fx
}

// FromRational constructs D*n/d using floor division.
func FromRational(n, d *big.Int) (FixedI128, error) {
	if d.Sign() == 0 {
		return FixedI128{}, ErrDivByZero
	}
	num := new(big.Int).Mul(n, denom)
	q := floorDiv(num, d)
	return checkRange(q)
}

// FromPercentage constructs D*bps/10000.
func FromPercentage(bps int64) (FixedI128, error) {
	return FromRational(big.NewInt(bps), big.NewInt(10_000))
}

// Sign reports the sign of the value: -1, 0, or 1.
func (f FixedI128) Sign() int { return f.v.Sign() }

// Cmp compares two fixed-point values.
func (f FixedI128) Cmp(o FixedI128) int { return f.v.Cmp(&o.v) }

// IsZero reports whether f is exactly zero.
func (f FixedI128) IsZero() bool { return f.v.Sign() == 0 }

// Min returns the lesser of a and b.
func Min(a, b FixedI128) FixedI128 {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Add returns f+o, checked for overflow.
func (f FixedI128) Add(o FixedI128) (FixedI128, error) {
	r := new(big.Int).Add(&f.v, &o.v)
	return checkRange(r)
}

// Sub returns f-o, checked for overflow.
func (f FixedI128) Sub(o FixedI128) (FixedI128, error) {
	r := new(big.Int).Sub(&f.v, &o.v)
	return checkRange(r)
}

// Mul returns floor(f*o/D), checked for overflow.
func (f FixedI128) Mul(o FixedI128) (FixedI128, error) {
	prod := new(big.Int).Mul(&f.v, &o.v)
	q := floorDiv(prod, denom)
	return checkRange(q)
}

// Div returns floor(f*D/o), checked for overflow and division by zero.
func (f FixedI128) Div(o FixedI128) (FixedI128, error) {
	if o.v.Sign() == 0 {
		return FixedI128{}, ErrDivByZero
	}
	num := new(big.Int).Mul(&f.v, denom)
	q := floorDiv(num, &o.v)
	return checkRange(q)
}

// DivInner returns floor(f.Inner()/n) re-wrapped as a FixedI128 at the same
// scale — dividing by a small plain integer (as opposed to Div, which
// divides by another fixed-point value and rescales).
func (f FixedI128) DivInner(n int64) (FixedI128, error) {
	if n == 0 {
		return FixedI128{}, ErrDivByZero
	}
	q := floorDiv(&f.v, big.NewInt(n))
	return checkRange(q)
}

// MulInt returns floor(f*x/D) as a plain integer, checked for overflow.
func (f FixedI128) MulInt(x *big.Int) (*big.Int, error) {
	prod := new(big.Int).Mul(&f.v, x)
	q := floorDiv(prod, denom)
	if q.Cmp(maxI128) > 0 || q.Cmp(minI128) < 0 {
		return nil, ErrOverflow
	}
	return q, nil
}

// RecipMulInt returns floor(D*x/f), checked for overflow and division by
// zero.
func (f FixedI128) RecipMulInt(x *big.Int) (*big.Int, error) {
	if f.v.Sign() == 0 {
		return nil, ErrDivByZero
	}
	num := new(big.Int).Mul(denom, x)
	q := floorDiv(num, &f.v)
	if q.Cmp(maxI128) > 0 || q.Cmp(minI128) < 0 {
		return nil, ErrOverflow
	}
	return q, nil
}

// floorDiv computes floor(n/d) for arbitrary-sign n, d using big.Int's
// truncating QuoRem and adjusting when the remainder's sign disagrees with
// the divisor's sign (Euclidean-quotient-toward-negative-infinity).
func floorDiv(n, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() != 0 && (r.Sign() < 0) != (d.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return q
}
