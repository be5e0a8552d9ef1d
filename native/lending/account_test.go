package lending

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"lendingpool/crypto"
)

// fakeLookup lets account_test exercise
// CalcAccountData directly against hand-built reserve state, without
// spinning up a full Engine.
type fakeLookup struct {
	reserves map[uint8]ReserveData
	assets   map[uint8]crypto.Address
	sBal     map[uint8]*big.Int
	dBal     map[uint8]*big.Int
	sSupply  map[uint8]*big.Int
	dSupply  map[uint8]*big.Int
}

func (f *fakeLookup) ReserveByID(id uint8) (ReserveData, error) { return f.reserves[id], nil }
func (f *fakeLookup) AssetByID(id uint8) (crypto.Address, error) { return f.assets[id], nil }
func (f *fakeLookup) STokenBalance(id uint8, who crypto.Address) (*big.Int, error) {
	return f.sBal[id], nil
}
func (f *fakeLookup) DebtTokenBalance(id uint8, who crypto.Address) (*big.Int, error) {
	return f.dBal[id], nil
}
func (f *fakeLookup) STokenSupply(id uint8) (*big.Int, error)    { return f.sSupply[id], nil }
func (f *fakeLookup) DebtTokenSupply(id uint8) (*big.Int, error) { return f.dSupply[id], nil }
func (f *fakeLookup) RWABalance(id uint8, who crypto.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func TestCalcAccountDataHealthyPosition(t *testing.T) {
	who := testAddress(1)
	collatAsset := testAddress(2)
	debtAsset := testAddress(3)

	reserve0 := NewReserveData(0, collatAsset, ReserveTypeFungible, ReserveConfiguration{IsActive: true, DiscountBps: 8_000, Decimals: 9})
	reserve1 := NewReserveData(1, debtAsset, ReserveTypeFungible, ReserveConfiguration{IsActive: true, BorrowingEnabled: true, Decimals: 9})
	// Pin both reserves' last-update to `now` so ActualLenderAR/ActualBorrowerAR
	// short-circuit to the stored (exactly ONE) coefficient instead of
	// Euler-stepping it forward, keeping this test's expected values exact.
	reserve0.LastUpdateTimestamp = 100
	reserve1.LastUpdateTimestamp = 100
	reserve0.SUnderlyingBalance = big.NewInt(600_000_000)

	lookup := &fakeLookup{
		reserves: map[uint8]ReserveData{0: reserve0, 1: reserve1},
		assets:   map[uint8]crypto.Address{0: collatAsset, 1: debtAsset},
		sBal:     map[uint8]*big.Int{0: big.NewInt(600_000_000)},
		dBal:     map[uint8]*big.Int{1: big.NewInt(400_000_000)},
		sSupply:  map[uint8]*big.Int{0: big.NewInt(600_000_000), 1: big.NewInt(1_000_000_000)},
		dSupply:  map[uint8]*big.Int{0: big.NewInt(0), 1: big.NewInt(400_000_000)},
	}

	oracle := &testOracle{price: big.NewInt(1_000_000_000)}
	feeds := []AssetFeedConfig{
		{Asset: collatAsset, Decimals: 9, TWAPRecords: 1},
		{Asset: debtAsset, Decimals: 9, TWAPRecords: 1},
	}
	prices := NewPriceProvider(oracle, 9, feeds)

	cfg := UserConfiguration{}
	cfg.setBit(0*2+1, true) // collateral bit for reserve 0
	cfg.setBit(1*2, true)   // borrowing bit for reserve 1

	lookup.reserves[0] = reserve0
	data, err := CalcAccountData(who, cfg, 100, 20, lookup, lookup, prices, testIRParams(), nil)
	require.NoError(t, err)

	require.Equal(t, 0, data.Collat.Cmp(big.NewInt(600_000_000)))
	require.Equal(t, 0, data.Debt.Cmp(big.NewInt(400_000_000)))
	require.Equal(t, 0, data.DiscountedCollateral.Cmp(big.NewInt(480_000_000)))
	require.Equal(t, 0, data.NPV.Cmp(big.NewInt(80_000_000)))
	require.True(t, data.IsGoodPosition())
}

func TestIsGoodPositionFalseWhenNPVNonPositive(t *testing.T) {
	data := AccountData{DiscountedCollateral: big.NewInt(100), Collat: big.NewInt(100), Debt: big.NewInt(200), NPV: big.NewInt(-100)}
	require.False(t, data.IsGoodPosition())
}

func TestRequireGteInitialHealthRejectsBelowThreshold(t *testing.T) {
	data := AccountData{DiscountedCollateral: big.NewInt(1_000_000), NPV: big.NewInt(100_000)}
	err := data.RequireGteInitialHealth(2_500) // require npv >= 25% of discounted collateral
	require.ErrorIs(t, err, ErrBadPosition)
}

func TestRequireGteInitialHealthAcceptsAboveThreshold(t *testing.T) {
	data := AccountData{DiscountedCollateral: big.NewInt(1_000_000), NPV: big.NewInt(300_000)}
	err := data.RequireGteInitialHealth(2_500)
	require.NoError(t, err)
}
