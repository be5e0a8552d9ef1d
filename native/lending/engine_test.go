package lending

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"lendingpool/crypto"
)

// testOracle returns a fixed price for every asset, for deterministic tests.
type testOracle struct {
	price *big.Int
}

func (o *testOracle) LastPrice(asset crypto.Address) (PriceSample, error) {
	return PriceSample{Price: o.price, Timestamp: 0}, nil
}

func (o *testOracle) Prices(asset crypto.Address, records uint32) ([]PriceSample, error) {
	out := make([]PriceSample, records)
	for i := range out {
		out[i] = PriceSample{Price: o.price, Timestamp: uint64(i)}
	}
	return out, nil
}

func (o *testOracle) Decimals() (uint32, error)   { return 9, nil }
func (o *testOracle) Resolution() (uint32, error) { return 1, nil }

type testHarness struct {
	t         *testing.T
	engine    *Engine
	admin     crypto.Address
	collat    crypto.Address // collateral reserve asset
	debtAsset crypto.Address // borrowable reserve asset
	underlyC  *InMemoryUnderlyingAsset
	underlyD  *InMemoryUnderlyingAsset
}

func newTestHarness(t *testing.T) *testHarness {
	admin := testAddress(0xAA)
	collat := testAddress(1)
	debtAsset := testAddress(2)
	pool := testAddress(0xFF)

	perms := NewPermissionRegistry()
	perms.Grant(admin, PermissionInitReserve)
	perms.Grant(admin, PermissionConfigureReserve)
	perms.Grant(admin, PermissionSetPoolConfig)
	perms.Grant(admin, PermissionSetIRParams)
	perms.Grant(admin, PermissionSetPause)
	perms.Grant(admin, PermissionClaimProtocolFee)

	oracle := &testOracle{price: big.NewInt(1_000_000_000)} // 1.0 scaled by 1e9
	feeds := []AssetFeedConfig{
		{Asset: collat, Decimals: 9, TWAPRecords: 1},
		{Asset: debtAsset, Decimals: 9, TWAPRecords: 1},
	}
	prices := NewPriceProvider(oracle, 9, feeds)

	cfg := PoolConfig{
		BaseAssetDecimals:      9,
		InitialHealthBps:       10_000,
		TimestampWindowSeconds: 1,
		FlashLoanFeeBps:        9,
		UserAssetsLimit:        8,
		LiquidationProtocolFee: 1_000,
		IRParams:               testIRParams(),
	}

	eng := NewEngine(cfg, pool, NewInMemoryReserveStore(), NewInMemoryUserConfigStore(), prices, perms, NewFeeVault())

	require.NoError(t, eng.InitReserve(admin, collat, ReserveTypeFungible, ReserveConfiguration{IsActive: true, PenOrder: 1, UtilCapBps: 10_000, DiscountBps: 8_000, Decimals: 9}))
	require.NoError(t, eng.InitReserve(admin, debtAsset, ReserveTypeFungible, ReserveConfiguration{IsActive: true, BorrowingEnabled: true, PenOrder: 1, UtilCapBps: 10_000, Decimals: 9}))

	collatSToken := NewInMemoryToken()
	collatDebtToken := NewInMemoryToken()
	debtSToken := NewInMemoryToken()
	debtDebtToken := NewInMemoryToken()
	eng.RegisterTokens(collat, testAddress(0x11), collatSToken, collatDebtToken)
	eng.RegisterTokens(debtAsset, testAddress(0x22), debtSToken, debtDebtToken)

	underlyC := NewInMemoryUnderlyingAsset()
	underlyD := NewInMemoryUnderlyingAsset()
	eng.RegisterUnderlying(collat, underlyC)
	eng.RegisterUnderlying(debtAsset, underlyD)

	return &testHarness{t: t, engine: eng, admin: admin, collat: collat, debtAsset: debtAsset, underlyC: underlyC, underlyD: underlyD}
}

func TestDepositCreditsSTokensAndSetsCollateralBit(t *testing.T) {
	h := newTestHarness(t)
	who := testAddress(1)
	h.underlyC.Credit(who, big.NewInt(1_000_000_000))

	events, err := h.engine.Deposit(who, h.collat, big.NewInt(600_000_000), 100, nil)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	id := h.engine.idByAsset[string(h.collat.Bytes())]
	bal, err := h.engine.STokenBalance(id, who)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Cmp(big.NewInt(600_000_000)))

	cfg, found, err := h.engine.userConfigs.GetUserConfiguration(who)
	require.NoError(t, err)
	require.True(t, found)
	using, err := cfg.IsUsingAsCollateral(id)
	require.NoError(t, err)
	require.True(t, using)
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	h := newTestHarness(t)
	who := testAddress(1)
	_, err := h.engine.Deposit(who, h.collat, big.NewInt(0), 100, nil)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestBorrowRequiresActiveAndEnabledReserve(t *testing.T) {
	h := newTestHarness(t)
	who := testAddress(1)
	h.underlyC.Credit(who, big.NewInt(1_000_000_000))
	_, err := h.engine.Deposit(who, h.collat, big.NewInt(600_000_000), 100, nil)
	require.NoError(t, err)

	_, err = h.engine.Borrow(who, h.collat, big.NewInt(1), 100)
	require.ErrorIs(t, err, ErrBorrowingDisabled)
}

func TestDepositBorrowRepayWithdrawRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	who := testAddress(1)
	h.underlyC.Credit(who, big.NewInt(1_000_000_000))
	h.underlyD.Credit(h.engine.poolAddress, big.NewInt(1_000_000_000))

	_, err := h.engine.Deposit(who, h.collat, big.NewInt(600_000_000), 100, nil)
	require.NoError(t, err)

	_, err = h.engine.Borrow(who, h.debtAsset, big.NewInt(400_000_000), 100)
	require.NoError(t, err)

	debtID := h.engine.idByAsset[string(h.debtAsset.Bytes())]
	debtBal, err := h.engine.DebtTokenBalance(debtID, who)
	require.NoError(t, err)
	require.True(t, debtBal.Sign() > 0)

	// Can't disable collateral while undercollateralized debt remains unpaid heavily, but healthy here.
	data, err := h.engine.accountData(who, 100, nil)
	require.NoError(t, err)
	require.True(t, data.IsGoodPosition())

	h.underlyD.Credit(who, big.NewInt(1_000_000_000))
	_, err = h.engine.Repay(who, h.debtAsset, MaxAmount, 200)
	require.NoError(t, err)

	debtBalAfter, err := h.engine.DebtTokenBalance(debtID, who)
	require.NoError(t, err)
	require.Equal(t, 0, debtBalAfter.Sign())

	_, err = h.engine.Withdraw(who, h.collat, who, MaxAmount, 200, nil)
	require.NoError(t, err)
}

func TestSetAsCollateralRejectedWithActiveDebt(t *testing.T) {
	h := newTestHarness(t)
	who := testAddress(1)
	h.underlyC.Credit(who, big.NewInt(1_000_000_000))
	h.underlyD.Credit(h.engine.poolAddress, big.NewInt(1_000_000_000))

	_, err := h.engine.Deposit(who, h.collat, big.NewInt(600_000_000), 100, nil)
	require.NoError(t, err)
	_, err = h.engine.Borrow(who, h.debtAsset, big.NewInt(400_000_000), 100)
	require.NoError(t, err)

	collatID := h.engine.idByAsset[string(h.collat.Bytes())]
	_ = collatID
	_, err = h.engine.SetAsCollateral(who, h.debtAsset, true, 100, nil)
	require.ErrorIs(t, err, ErrMustNotHaveDebt)
}

func TestRepayRejectsWhenNoDebt(t *testing.T) {
	h := newTestHarness(t)
	who := testAddress(1)
	_, err := h.engine.Repay(who, h.debtAsset, big.NewInt(1), 100)
	require.ErrorIs(t, err, ErrNoDebtToRepay)
}
