package fixedpoint

import "math/big"

// PercentDenom is the basis-points scale factor used by PercentageMath,
// 10_000 = 100.00%.
const PercentDenom = 10_000

var (
	percentDenom    = big.NewInt(PercentDenom)
	halfPercentUnit = big.NewInt(PercentDenom / 2)
)

// PercentMul returns round_half_up(value*bps/10000), short-circuiting to
// zero when either operand is zero without performing the division. This is
// the canonical percentage_math variant per the Open Question resolution in
// SPEC_FULL.md: the richer of the two historical variants, chosen for its
// non-zero short-circuit and half-up rounding at the 0.5 bps boundary.
func PercentMul(value *big.Int, bps uint32) (*big.Int, error) {
	if value.Sign() == 0 || bps == 0 {
		return big.NewInt(0), nil
	}
	b := big.NewInt(int64(bps))
	prod := new(big.Int).Mul(value, b)
	rounded := new(big.Int).Add(prod, halfPercentUnit)
	q := floorDiv(rounded, percentDenom)
	return boundedI128(q)
}

// PercentDiv returns round_half_up(value*10000/bps), short-circuiting to
// zero when value is zero. bps must be non-zero.
func PercentDiv(value *big.Int, bps uint32) (*big.Int, error) {
	if bps == 0 {
		return nil, ErrDivByZero
	}
	if value.Sign() == 0 {
		return big.NewInt(0), nil
	}
	b := big.NewInt(int64(bps))
	num := new(big.Int).Mul(value, percentDenom)
	half := new(big.Int).Div(b, big.NewInt(2))
	rounded := new(big.Int).Add(num, half)
	q := floorDiv(rounded, b)
	return boundedI128(q)
}

// PercentMulFloor is the plain floor-rounding variant, used where callers
// need strict floor semantics (e.g. discount application during
// liquidation, where over-crediting the liquidator must never occur).
func PercentMulFloor(value *big.Int, bps uint32) (*big.Int, error) {
	if value.Sign() == 0 || bps == 0 {
		return big.NewInt(0), nil
	}
	prod := new(big.Int).Mul(value, big.NewInt(int64(bps)))
	q := floorDiv(prod, percentDenom)
	return boundedI128(q)
}
