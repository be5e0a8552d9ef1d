package lending

import (
	"math/big"

	"lendingpool/crypto"
	"lendingpool/fixedpoint"
)

// ReserveLookup resolves a reserve by its dense bitmap index, per spec.md
// §3's `id` field.
type ReserveLookup interface {
	ReserveByID(id uint8) (ReserveData, error)
	AssetByID(id uint8) (crypto.Address, error)
}

// BalanceLookup is the balance-reading side of the token sub-contract
// boundary account-data calculation needs, kept separate from
// TokenSubcontract's mutating methods so a read-only accounting pass can
// never mutate state.
type BalanceLookup interface {
	STokenBalance(reserveID uint8, who crypto.Address) (*big.Int, error)
	DebtTokenBalance(reserveID uint8, who crypto.Address) (*big.Int, error)
	STokenSupply(reserveID uint8) (*big.Int, error)
	DebtTokenSupply(reserveID uint8) (*big.Int, error)
	RWABalance(reserveID uint8, who crypto.Address) (*big.Int, error)
}

// CalcAccountDataCache overrides a single asset's balances/supplies for a
// CalcAccountData pass, letting an operation evaluate the post-mutation
// state without writing it to storage first (spec.md §4.3).
type CalcAccountDataCache struct {
	ReserveID          uint8
	HasOverride        bool
	WhoCollateralBal   *big.Int
	WhoDebtBal         *big.Int
	STokenSupply       *big.Int
	DebtTokenSupply    *big.Int
	SUnderlyingBalance *big.Int
	RWABalance         *big.Int
}

// AccountData is the aggregate valuation of a user's position across all
// active reserves, in base-asset units.
type AccountData struct {
	DiscountedCollateral *big.Int
	Collat               *big.Int // undiscounted collateral value
	Debt                 *big.Int
	NPV                  *big.Int
}

// IsGoodPosition reports npv > 0, per spec.md §4.3.
func (a AccountData) IsGoodPosition() bool { return a.NPV.Sign() > 0 }

// RequireGteInitialHealth enforces npv*10000 >= discounted_collateral*initial_health.
func (a AccountData) RequireGteInitialHealth(initialHealthBps uint32) error {
	lhs := new(big.Int).Mul(a.NPV, big.NewInt(10_000))
	rhs := new(big.Int).Mul(a.DiscountedCollateral, big.NewInt(int64(initialHealthBps)))
	if lhs.Cmp(rhs) < 0 {
		return ErrBadPosition
	}
	return nil
}

func applyCache(reserveID uint8, sSupply, debtSupply, sUnderlying *big.Int, cache *CalcAccountDataCache) (*big.Int, *big.Int, *big.Int) {
	if cache == nil || !cache.HasOverride || cache.ReserveID != reserveID {
		return sSupply, debtSupply, sUnderlying
	}
	if cache.STokenSupply != nil {
		sSupply = cache.STokenSupply
	}
	if cache.DebtTokenSupply != nil {
		debtSupply = cache.DebtTokenSupply
	}
	if cache.SUnderlyingBalance != nil {
		sUnderlying = cache.SUnderlyingBalance
	}
	return sSupply, debtSupply, sUnderlying
}

// CalcAccountData walks the user's bitmap, compounds each engaged
// reserve's balance through its coefficient, converts to base-asset units,
// and accumulates discounted collateral, undiscounted collateral, and debt
// per spec.md §4.3.
func CalcAccountData(
	who crypto.Address,
	userConfig UserConfiguration,
	now uint64,
	window uint64,
	reserves ReserveLookup,
	balances BalanceLookup,
	prices *PriceProvider,
	params IRParams,
	cache *CalcAccountDataCache,
) (AccountData, error) {
	discounted := new(big.Int)
	collat := new(big.Int)
	debt := new(big.Int)

	for i := uint8(0); i < MaxBitmapReserves; i++ {
		usingAsCollateral, err := userConfig.IsUsingAsCollateral(i)
		if err != nil {
			return AccountData{}, ErrCalcAccountDataMathErr
		}
		borrowing, err := userConfig.IsBorrowing(i)
		if err != nil {
			return AccountData{}, ErrCalcAccountDataMathErr
		}
		if !usingAsCollateral && !borrowing {
			continue
		}
		reserve, err := reserves.ReserveByID(i)
		if err != nil {
			return AccountData{}, ErrCalcAccountDataMathErr
		}
		asset, err := reserves.AssetByID(i)
		if err != nil {
			return AccountData{}, ErrCalcAccountDataMathErr
		}

		if usingAsCollateral {
			value, err := collateralBaseValue(who, i, asset, reserve, now, window, balances, prices, params, cache)
			if err != nil {
				return AccountData{}, err
			}
			collat = new(big.Int).Add(collat, value)
			discountAmt, err := fixedpoint.PercentMulFloor(value, reserve.Configuration.DiscountBps)
			if err != nil {
				return AccountData{}, ErrCalcAccountDataMathErr
			}
			discounted = new(big.Int).Add(discounted, discountAmt)
		}

		if borrowing {
			value, err := debtBaseValue(who, i, asset, reserve, now, window, balances, prices, params, cache)
			if err != nil {
				return AccountData{}, err
			}
			debt = new(big.Int).Add(debt, value)
		}
	}

	npv := new(big.Int).Sub(discounted, debt)
	return AccountData{DiscountedCollateral: discounted, Collat: collat, Debt: debt, NPV: npv}, nil
}

func collateralBaseValue(
	who crypto.Address,
	reserveID uint8,
	asset crypto.Address,
	reserve ReserveData,
	now, window uint64,
	balances BalanceLookup,
	prices *PriceProvider,
	params IRParams,
	cache *CalcAccountDataCache,
) (*big.Int, error) {
	if !reserve.IsFungible() {
		rwaBal, err := balances.RWABalance(reserveID, who)
		if err != nil {
			return nil, ErrCalcAccountDataMathErr
		}
		if cache != nil && cache.HasOverride && cache.ReserveID == reserveID && cache.RWABalance != nil {
			rwaBal = cache.RWABalance
		}
		return prices.ConvertToBase(asset, rwaBal)
	}

	sBal, err := balances.STokenBalance(reserveID, who)
	if err != nil {
		return nil, ErrCalcAccountDataMathErr
	}
	if cache != nil && cache.HasOverride && cache.ReserveID == reserveID && cache.WhoCollateralBal != nil {
		sBal = cache.WhoCollateralBal
	}
	sSupply, err := balances.STokenSupply(reserveID)
	if err != nil {
		return nil, ErrCalcAccountDataMathErr
	}
	debtSupply, err := balances.DebtTokenSupply(reserveID)
	if err != nil {
		return nil, ErrCalcAccountDataMathErr
	}
	sSupply, debtSupply, sUnderlying := applyCache(reserveID, sSupply, debtSupply, reserve.SUnderlyingBalance, cache)

	coeff, err := CollatCoeff(reserve, now, window, sSupply, sUnderlying, debtSupply, params)
	if err != nil {
		return nil, err
	}
	underlying, err := coeff.MulInt(sBal)
	if err != nil {
		return nil, ErrCalcAccountDataMathErr
	}
	return prices.ConvertToBase(asset, underlying)
}

func debtBaseValue(
	who crypto.Address,
	reserveID uint8,
	asset crypto.Address,
	reserve ReserveData,
	now, window uint64,
	balances BalanceLookup,
	prices *PriceProvider,
	params IRParams,
	cache *CalcAccountDataCache,
) (*big.Int, error) {
	if !reserve.IsFungible() {
		// RWA reserves never carry debt.
		return new(big.Int), nil
	}
	dBal, err := balances.DebtTokenBalance(reserveID, who)
	if err != nil {
		return nil, ErrCalcAccountDataMathErr
	}
	if cache != nil && cache.HasOverride && cache.ReserveID == reserveID && cache.WhoDebtBal != nil {
		dBal = cache.WhoDebtBal
	}
	sSupply, err := balances.STokenSupply(reserveID)
	if err != nil {
		return nil, ErrCalcAccountDataMathErr
	}
	debtSupply, err := balances.DebtTokenSupply(reserveID)
	if err != nil {
		return nil, ErrCalcAccountDataMathErr
	}
	sSupply, debtSupply, _ = applyCache(reserveID, sSupply, debtSupply, reserve.SUnderlyingBalance, cache)

	coeff, err := DebtCoeff(reserve, now, window, sSupply, debtSupply, params)
	if err != nil {
		return nil, err
	}
	underlying, err := coeff.MulInt(dBal)
	if err != nil {
		return nil, ErrCalcAccountDataMathErr
	}
	return prices.ConvertToBase(asset, underlying)
}
