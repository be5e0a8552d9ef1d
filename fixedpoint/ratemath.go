package fixedpoint

import "math/big"

// RateMath operates directly on raw scaled-by-1e9 integers, mirroring
// FixedI128's arithmetic but without the wrapper type — used where a
// caller already holds a *big.Int and wants floor/ceil variants without
// round-tripping through FixedI128. Per spec, a +-1 ulp discrepancy between
// RateMath and FixedI128 results on the same inputs is tolerated.

// RateMul returns floor(a*b/Denom).
func RateMul(a, b *big.Int) (*big.Int, error) {
	prod := new(big.Int).Mul(a, b)
	q := floorDiv(prod, denom)
	return boundedI128(q)
}

// RateMulCeil returns ceil(a*b/Denom).
func RateMulCeil(a, b *big.Int) (*big.Int, error) {
	prod := new(big.Int).Mul(a, b)
	q := ceilDiv(prod, denom)
	return boundedI128(q)
}

// RateDiv returns floor(a*Denom/b).
func RateDiv(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivByZero
	}
	num := new(big.Int).Mul(a, denom)
	q := floorDiv(num, b)
	return boundedI128(q)
}

// RateDivCeil returns ceil(a*Denom/b).
func RateDivCeil(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivByZero
	}
	num := new(big.Int).Mul(a, denom)
	q := ceilDiv(num, b)
	return boundedI128(q)
}

func boundedI128(v *big.Int) (*big.Int, error) {
	if v.Cmp(maxI128) > 0 || v.Cmp(minI128) < 0 {
		return nil, ErrOverflow
	}
	return v, nil
}

func ceilDiv(n, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() != 0 && (r.Sign() < 0) == (d.Sign() < 0) {
		q.Add(q, big.NewInt(1))
	}
	return q
}
