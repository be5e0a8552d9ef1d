package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromIntAndInner(t *testing.T) {
	f := FromInt(5)
	require.Equal(t, big.NewInt(5*Denom), f.Inner())
}

func TestFromInnerRoundTrip(t *testing.T) {
	x := big.NewInt(123_456_789)
	f, err := FromInner(x)
	require.NoError(t, err)
	require.Equal(t, x, f.Inner())
}

func TestFromRationalFloor(t *testing.T) {
	f, err := FromRational(big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(333_333_333), f.Inner())
}

func TestFromRationalMulIntRoundTrip(t *testing.T) {
	n := big.NewInt(7)
	d := big.NewInt(3)
	f, err := FromRational(n, d)
	require.NoError(t, err)
	got, err := f.MulInt(d)
	require.NoError(t, err)
	// floor-rounding: from_rational(7,3).mul_int(3) may be 6 due to floor
	// truncation in both directions, never 7+.
	require.LessOrEqual(t, got.Cmp(n), 0)
}

func TestFromPercentage(t *testing.T) {
	f, err := FromPercentage(5000)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(Denom/2), f.Inner())
}

func TestMulDivIdentities(t *testing.T) {
	a := FromInt(3)
	b := FromInt(4)
	prod, err := a.Mul(b)
	require.NoError(t, err)
	require.Equal(t, FromInt(12).Inner(), prod.Inner())

	q, err := prod.Div(b)
	require.NoError(t, err)
	require.Equal(t, a.Inner(), q.Inner())
}

func TestDivByZero(t *testing.T) {
	a := FromInt(1)
	_, err := a.Div(Zero())
	require.ErrorIs(t, err, ErrDivByZero)
}

func TestAddSubChecked(t *testing.T) {
	a := FromInt(1)
	b := FromInt(2)
	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, FromInt(3).Inner(), sum.Inner())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	require.Equal(t, FromInt(-1).Inner(), diff.Inner())
}

func TestOverflowDetected(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 127)
	_, err := FromInner(huge)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestMulIntAndRecipMulInt(t *testing.T) {
	half, err := FromPercentage(5000)
	require.NoError(t, err)
	x := big.NewInt(10)
	got, err := half.MulInt(x)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), got)

	back, err := half.RecipMulInt(got)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), back)
}

func TestNegativeFloorDivision(t *testing.T) {
	// floor(-1/3) = -1, not 0 (truncation would give 0).
	f, err := FromRational(big.NewInt(-1), big.NewInt(3))
	require.NoError(t, err)
	require.True(t, f.Sign() < 0)
	require.Equal(t, big.NewInt(-333_333_334), f.Inner())
}
