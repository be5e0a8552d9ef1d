package lending

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"lendingpool/crypto"
	"lendingpool/fixedpoint"
)

func testIRParams() IRParams {
	return IRParams{Alpha: 143, InitialRate: 200, MaxRate: 50_000, ScalingCoeff: 9_000}
}

func TestCalcInterestRateZeroUtilization(t *testing.T) {
	ir, err := CalcInterestRate(big.NewInt(1_000_000), big.NewInt(0), testIRParams())
	require.NoError(t, err)
	require.True(t, ir.IsZero())
}

func TestCalcInterestRateFullUtilization(t *testing.T) {
	ir, err := CalcInterestRate(big.NewInt(1_000_000), big.NewInt(1_000_000), testIRParams())
	require.NoError(t, err)
	maxRate, err := fixedpoint.FromPercentage(50_000)
	require.NoError(t, err)
	require.Equal(t, 0, ir.Cmp(maxRate))
}

func TestCalcInterestRateOverUtilizationClampsToMax(t *testing.T) {
	ir, err := CalcInterestRate(big.NewInt(1_000_000), big.NewInt(5_000_000), testIRParams())
	require.NoError(t, err)
	maxRate, err := fixedpoint.FromPercentage(50_000)
	require.NoError(t, err)
	require.Equal(t, 0, ir.Cmp(maxRate))
}

func TestCalcInterestRateNegativeRejected(t *testing.T) {
	_, err := CalcInterestRate(big.NewInt(-1), big.NewInt(0), testIRParams())
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCalcNextAccruedRateZeroElapsedIsNoop(t *testing.T) {
	ir, err := fixedpoint.FromPercentage(1_000)
	require.NoError(t, err)
	next, err := CalcNextAccruedRate(fixedpoint.One(), ir, 0)
	require.NoError(t, err)
	require.Equal(t, 0, next.Cmp(fixedpoint.One()))
}

func TestCalcNextAccruedRateMonotonic(t *testing.T) {
	ir, err := fixedpoint.FromPercentage(1_000)
	require.NoError(t, err)
	next, err := CalcNextAccruedRate(fixedpoint.One(), ir, OneYearSeconds)
	require.NoError(t, err)
	require.True(t, next.Cmp(fixedpoint.One()) > 0)
}

func TestElapsedTimeClockSkewIsZero(t *testing.T) {
	require.Equal(t, uint64(0), ElapsedTime(10, 20, 5))
}

func TestElapsedTimeZeroWindowTreatedAsOne(t *testing.T) {
	require.Equal(t, uint64(7), ElapsedTime(27, 20, 0))
}

func TestElapsedTimeDiscretizesToWindow(t *testing.T) {
	// last_update=0, window=20: at now=19 nothing has elapsed yet.
	require.Equal(t, uint64(0), ElapsedTime(19, 0, 20))
	// at now=26, one full window (20s) has elapsed, remainder 6 is held back.
	require.Equal(t, uint64(20), ElapsedTime(26, 0, 20))
}

func testAddress(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.MustNewAddress(crypto.AssetPrefix, buf)
}

func TestAccrueSkipsWhenSupplyZero(t *testing.T) {
	reserve := NewReserveData(0, testAddress(1), ReserveTypeFungible, ReserveConfiguration{IsActive: true})
	reserve.LastUpdateTimestamp = 100
	err := Accrue(&reserve, 200, 20, big.NewInt(0), big.NewInt(0), testIRParams())
	require.NoError(t, err)
	require.Equal(t, uint64(100), reserve.LastUpdateTimestamp)
	require.Equal(t, 0, reserve.BorrowerAR.Cmp(fixedpoint.One()))
}

func TestAccrueUpdatesTimestampOnlyWhenElapsedNonzero(t *testing.T) {
	reserve := NewReserveData(0, testAddress(1), ReserveTypeFungible, ReserveConfiguration{IsActive: true})
	reserve.LastUpdateTimestamp = 0
	err := Accrue(&reserve, 10, 20, big.NewInt(1_000_000), big.NewInt(400_000), testIRParams())
	require.NoError(t, err)
	// within the window, nothing advances.
	require.Equal(t, uint64(0), reserve.LastUpdateTimestamp)

	err = Accrue(&reserve, 26, 20, big.NewInt(1_000_000), big.NewInt(400_000), testIRParams())
	require.NoError(t, err)
	require.Equal(t, uint64(20), reserve.LastUpdateTimestamp)
	require.True(t, reserve.BorrowerAR.Cmp(fixedpoint.One()) > 0)
}

func TestCollatCoeffOneWhenSupplyZero(t *testing.T) {
	reserve := NewReserveData(0, testAddress(1), ReserveTypeFungible, ReserveConfiguration{IsActive: true})
	coeff, err := CollatCoeff(reserve, 100, 20, big.NewInt(0), big.NewInt(0), big.NewInt(0), testIRParams())
	require.NoError(t, err)
	require.Equal(t, 0, coeff.Cmp(fixedpoint.One()))
}
