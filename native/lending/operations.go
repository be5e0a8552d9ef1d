package lending

import (
	"math/big"

	"lendingpool/crypto"
	"lendingpool/fixedpoint"
)

// MaxAmount signals "withdraw/repay everything" in place of an explicit
// amount, per spec.md §4.4.2/§4.4.4.
var MaxAmount = new(big.Int).Lsh(big.NewInt(1), 127)

func isMaxAmount(amount *big.Int) bool { return amount.Cmp(MaxAmount) == 0 }

// Deposit credits who's collateral balance in asset, per spec.md §4.4.1.
// authSig is only consulted when asset names an RWA reserve, per Open
// Question resolution 4 (SPEC_FULL.md): it must verify against e.auth as
// who's signature over the operation, and is ignored for fungible reserves.
func (e *Engine) Deposit(who, asset crypto.Address, amount *big.Int, now uint64, authSig []byte) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserve, id, err := e.prelude(asset, now, false)
	if err != nil {
		return nil, err
	}

	cfgr, err := e.loadUserConfig(who)
	if err != nil {
		return nil, err
	}
	// spec.md §3's is_borrowing(i) ⇒ ¬is_using_as_collateral(i) invariant
	// means a depositor already borrowing this reserve can never flip its
	// collateral bit, so the deposit itself is rejected up front, matching
	// require_zero_debt's unconditional call in the reference deposit flow.
	if borrowing, _ := cfgr.Current().IsBorrowing(id); borrowing {
		return nil, ErrMustNotHaveDebt
	}
	wasUsing, _ := cfgr.Current().IsUsingAsCollateral(id)

	var events []Event
	if reserve.IsFungible() {
		sSupply, err := e.STokenSupply(id)
		if err != nil {
			return nil, err
		}
		debtSupply, err := e.DebtTokenSupply(id)
		if err != nil {
			return nil, err
		}
		if err := e.accrueToNow(&reserve, now, sSupply, debtSupply); err != nil {
			return nil, err
		}
		coeff, err := CollatCoeff(reserve, now, e.config.TimestampWindowSeconds, sSupply, reserve.SUnderlyingBalance, debtSupply, e.config.IRParams)
		if err != nil {
			return nil, err
		}
		mintAmount, err := coeff.RecipMulInt(amount)
		if err != nil {
			return nil, ErrValidateBorrowMathError
		}

		newSUnderlying := new(big.Int).Add(reserve.SUnderlyingBalance, amount)
		if reserve.Configuration.LiquidityCap != nil && reserve.Configuration.LiquidityCap.Sign() > 0 {
			if newSUnderlying.Cmp(reserve.Configuration.LiquidityCap) > 0 {
				return nil, ErrLiqCapExceeded
			}
		}

		sToken := e.sToken(asset)
		underlying := e.underlying(asset)
		if sToken == nil || underlying == nil {
			return nil, ErrNotFound
		}
		if err := underlying.TransferFrom(who, e.poolAddress, amount); err != nil {
			return nil, err
		}
		if err := sToken.Mint(who, mintAmount); err != nil {
			return nil, err
		}
		reserve.SUnderlyingBalance = newSUnderlying

		newSSupply := new(big.Int).Add(sSupply, mintAmount)
		if err := e.accrueToNow(&reserve, now, newSSupply, debtSupply); err != nil {
			return nil, err
		}
	} else {
		if err := e.requireRWAAuth("deposit", who, asset, amount, now, authSig); err != nil {
			return nil, err
		}
		rwaBal, err := e.RWABalance(id, who)
		if err != nil {
			return nil, err
		}
		e.setRWABalance(asset, who, new(big.Int).Add(rwaBal, amount))
		reserve.RWATotalSupply = new(big.Int).Add(reserve.RWATotalSupply, amount)
	}

	if !wasUsing {
		if _, err := cfgr.SetUsingAsCollateral(id, true); err != nil {
			return nil, err
		}
		if e.config.UserAssetsLimit > 0 && cfgr.Current().CountSetReserves() > e.config.UserAssetsLimit {
			return nil, ErrExceededAssetsLimit
		}
	}
	flushed, err := cfgr.Flush(e.userConfigs)
	if err != nil {
		return nil, err
	}
	events = append(events, flushed...)

	if err := e.reserves.PutReserve(asset, reserve); err != nil {
		return nil, err
	}

	ev := newEvent(EventDeposit)
	ev.ReserveID = id
	ev.Who = who
	ev.Amount = new(big.Int).Set(amount)
	events = append(events, ev)
	return events, nil
}

// Withdraw debits who's collateral balance in asset, paying `to`. authSig
// is only consulted for RWA reserves, per Open Question resolution 4.
func (e *Engine) Withdraw(who, asset, to crypto.Address, amount *big.Int, now uint64, authSig []byte) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount.Sign() <= 0 && !isMaxAmount(amount) {
		return nil, ErrInvalidAmount
	}
	reserve, id, err := e.prelude(asset, now, false)
	if err != nil {
		return nil, err
	}
	if !reserve.IsFungible() {
		return e.withdrawRWA(reserve, id, who, asset, to, amount, now, authSig)
	}

	sSupply, err := e.STokenSupply(id)
	if err != nil {
		return nil, err
	}
	debtSupply, err := e.DebtTokenSupply(id)
	if err != nil {
		return nil, err
	}
	if err := e.accrueToNow(&reserve, now, sSupply, debtSupply); err != nil {
		return nil, err
	}
	coeff, err := CollatCoeff(reserve, now, e.config.TimestampWindowSeconds, sSupply, reserve.SUnderlyingBalance, debtSupply, e.config.IRParams)
	if err != nil {
		return nil, err
	}

	sBal, err := e.STokenBalance(id, who)
	if err != nil {
		return nil, err
	}
	underlyingBal, err := coeff.MulInt(sBal)
	if err != nil {
		return nil, ErrCollateralCoeffMathErr
	}

	withdrawAmount := amount
	if isMaxAmount(amount) {
		withdrawAmount = underlyingBal
	}
	if withdrawAmount.Cmp(underlyingBal) > 0 {
		return nil, ErrNotEnoughAvailableUserBalance
	}

	remainder := new(big.Int).Sub(underlyingBal, withdrawAmount)
	if remainder.Sign() > 0 && e.config.MinCollatAmount != nil && remainder.Cmp(e.config.MinCollatAmount) < 0 {
		withdrawAmount = underlyingBal
		remainder = new(big.Int)
	}

	burnAmount, err := coeff.RecipMulInt(withdrawAmount)
	if err != nil {
		return nil, ErrValidateBorrowMathError
	}
	sToken := e.sToken(asset)
	if sToken == nil {
		return nil, ErrNotFound
	}
	if err := sToken.Burn(who, burnAmount); err != nil {
		return nil, err
	}
	if err := sToken.TransferUnderlyingTo(to, withdrawAmount); err != nil {
		return nil, err
	}
	reserve.SUnderlyingBalance = new(big.Int).Sub(reserve.SUnderlyingBalance, withdrawAmount)

	cfgr, err := e.loadUserConfig(who)
	if err != nil {
		return nil, err
	}
	emptied := remainder.Sign() == 0
	if emptied {
		if _, err := cfgr.SetUsingAsCollateral(id, false); err != nil {
			return nil, err
		}
	}

	newSSupply := new(big.Int).Sub(sSupply, burnAmount)
	if err := e.accrueToNow(&reserve, now, newSSupply, debtSupply); err != nil {
		return nil, err
	}

	newSBal := new(big.Int).Sub(sBal, burnAmount)
	cache := &CalcAccountDataCache{ReserveID: id, HasOverride: true, WhoCollateralBal: newSBal, STokenSupply: newSSupply, DebtTokenSupply: debtSupply, SUnderlyingBalance: reserve.SUnderlyingBalance}
	data, err := e.accountData(who, now, cache)
	if err != nil {
		return nil, err
	}
	if err := data.RequireGteInitialHealth(e.config.InitialHealthBps); err != nil {
		return nil, err
	}

	if err := e.reserves.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	flushed, err := cfgr.Flush(e.userConfigs)
	if err != nil {
		return nil, err
	}

	events := append([]Event{}, flushed...)
	ev := newEvent(EventWithdraw)
	ev.ReserveID = id
	ev.Who = who
	ev.Amount = withdrawAmount
	events = append(events, ev)
	return events, nil
}

// withdrawRWA is Withdraw's RWA-reserve branch: unlike fungible reserves,
// RWA balances are tracked directly (no s-token accounting, no accrual),
// so a unit withdrawn equals a unit debited one-for-one. Only borrowing is
// excluded for RWA reserves (spec.md §3/§4.4.1); deposit-and-withdraw works
// the same as any other collateral reserve, which is why this branch exists
// alongside the fungible path rather than Withdraw unconditionally
// rejecting non-fungible reserves.
func (e *Engine) withdrawRWA(reserve ReserveData, id uint8, who, asset, to crypto.Address, amount *big.Int, now uint64, authSig []byte) ([]Event, error) {
	if err := e.requireRWAAuth("withdraw", who, asset, amount, now, authSig); err != nil {
		return nil, err
	}

	rwaBal, err := e.RWABalance(id, who)
	if err != nil {
		return nil, err
	}
	withdrawAmount := amount
	if isMaxAmount(amount) {
		withdrawAmount = rwaBal
	}
	if withdrawAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if withdrawAmount.Cmp(rwaBal) > 0 {
		return nil, ErrNotEnoughAvailableUserBalance
	}

	newBal := new(big.Int).Sub(rwaBal, withdrawAmount)
	remainder := new(big.Int).Set(newBal)
	if remainder.Sign() > 0 && e.config.MinCollatAmount != nil && remainder.Cmp(e.config.MinCollatAmount) < 0 {
		withdrawAmount = rwaBal
		newBal = new(big.Int)
		remainder = new(big.Int)
	}

	cfgr, err := e.loadUserConfig(who)
	if err != nil {
		return nil, err
	}
	emptied := remainder.Sign() == 0
	if emptied {
		if _, err := cfgr.SetUsingAsCollateral(id, false); err != nil {
			return nil, err
		}
	}

	cache := &CalcAccountDataCache{ReserveID: id, HasOverride: true, RWABalance: newBal}
	data, err := e.accountData(who, now, cache)
	if err != nil {
		return nil, err
	}
	if err := data.RequireGteInitialHealth(e.config.InitialHealthBps); err != nil {
		return nil, err
	}

	e.setRWABalance(asset, who, newBal)
	reserve.RWATotalSupply = new(big.Int).Sub(reserve.RWATotalSupply, withdrawAmount)
	if err := e.reserves.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	flushed, err := cfgr.Flush(e.userConfigs)
	if err != nil {
		return nil, err
	}

	events := append([]Event{}, flushed...)
	ev := newEvent(EventWithdraw)
	ev.ReserveID = id
	ev.Who = who
	ev.Amount = withdrawAmount
	events = append(events, ev)
	return events, nil
}

// Borrow mints debt-tokens to who and pays out underlying from the
// reserve's s-token pool.
func (e *Engine) Borrow(who, asset crypto.Address, amount *big.Int, now uint64) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.borrowLocked(who, asset, amount, now)
}

// borrowLocked is Borrow's body, factored out so FlashLoan's borrow=true
// settlement path (which already holds e.mu) can reuse it without
// re-entering the mutex.
func (e *Engine) borrowLocked(who, asset crypto.Address, amount *big.Int, now uint64) ([]Event, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserve, id, err := e.prelude(asset, now, false)
	if err != nil {
		return nil, err
	}
	if !reserve.IsFungible() {
		return nil, ErrNotFungible
	}
	if !reserve.Configuration.BorrowingEnabled {
		return nil, ErrBorrowingDisabled
	}

	cfgr, err := e.loadUserConfig(who)
	if err != nil {
		return nil, err
	}
	usingAsCollateral, _ := cfgr.Current().IsUsingAsCollateral(id)
	if usingAsCollateral {
		return nil, ErrMustNotHaveDebt
	}

	sSupply, err := e.STokenSupply(id)
	if err != nil {
		return nil, err
	}
	debtSupply, err := e.DebtTokenSupply(id)
	if err != nil {
		return nil, err
	}
	if err := e.accrueToNow(&reserve, now, sSupply, debtSupply); err != nil {
		return nil, err
	}

	debtCoeff, err := DebtCoeff(reserve, now, e.config.TimestampWindowSeconds, sSupply, debtSupply, e.config.IRParams)
	if err != nil {
		return nil, err
	}
	mintAmount, err := debtCoeff.RecipMulInt(amount)
	if err != nil {
		return nil, ErrValidateBorrowMathError
	}

	newDebtSupply := new(big.Int).Add(debtSupply, mintAmount)
	if reserve.Configuration.UtilCapBps > 0 && sSupply.Sign() > 0 {
		lhs := new(big.Int).Mul(newDebtSupply, big.NewInt(10_000))
		rhs := new(big.Int).Mul(sSupply, big.NewInt(int64(reserve.Configuration.UtilCapBps)))
		if lhs.Cmp(rhs) > 0 {
			return nil, ErrUtilizationCapExceeded
		}
	}

	debtToken := e.debtToken(asset)
	sToken := e.sToken(asset)
	if debtToken == nil || sToken == nil {
		return nil, ErrNotFound
	}
	if err := debtToken.Mint(who, mintAmount); err != nil {
		return nil, err
	}
	if err := sToken.TransferUnderlyingTo(who, amount); err != nil {
		return nil, err
	}
	reserve.SUnderlyingBalance = new(big.Int).Sub(reserve.SUnderlyingBalance, amount)

	if _, err := cfgr.SetBorrowing(id, true); err != nil {
		return nil, err
	}

	if err := e.accrueToNow(&reserve, now, sSupply, newDebtSupply); err != nil {
		return nil, err
	}

	debtBal, err := e.DebtTokenBalance(id, who)
	if err != nil {
		return nil, err
	}
	newDebtBal := new(big.Int).Add(debtBal, mintAmount)
	cache := &CalcAccountDataCache{ReserveID: id, HasOverride: true, WhoDebtBal: newDebtBal, STokenSupply: sSupply, DebtTokenSupply: newDebtSupply, SUnderlyingBalance: reserve.SUnderlyingBalance}
	data, err := e.accountData(who, now, cache)
	if err != nil {
		return nil, err
	}
	if err := data.RequireGteInitialHealth(e.config.InitialHealthBps); err != nil {
		return nil, err
	}
	if data.Debt.Sign() > 0 && e.config.MinDebtAmount != nil && data.Debt.Cmp(e.config.MinDebtAmount) < 0 {
		return nil, ErrValidateBorrowMathError
	}

	if err := e.reserves.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	flushed, err := cfgr.Flush(e.userConfigs)
	if err != nil {
		return nil, err
	}

	events := append([]Event{}, flushed...)
	ev := newEvent(EventBorrow)
	ev.ReserveID = id
	ev.Who = who
	ev.Amount = new(big.Int).Set(amount)
	ev.Borrow = true
	events = append(events, ev)
	return events, nil
}

// Repay burns who's debt-tokens and pulls underlying, diverting a
// protocol-fee share of the interest portion into the fee vault.
func (e *Engine) Repay(who, asset crypto.Address, amount *big.Int, now uint64) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount.Sign() <= 0 && !isMaxAmount(amount) {
		return nil, ErrInvalidAmount
	}
	reserve, id, err := e.prelude(asset, now, false)
	if err != nil {
		return nil, err
	}
	if !reserve.IsFungible() {
		return nil, ErrNotFungible
	}

	sSupply, err := e.STokenSupply(id)
	if err != nil {
		return nil, err
	}
	debtSupply, err := e.DebtTokenSupply(id)
	if err != nil {
		return nil, err
	}
	if err := e.accrueToNow(&reserve, now, sSupply, debtSupply); err != nil {
		return nil, err
	}
	debtCoeff, err := DebtCoeff(reserve, now, e.config.TimestampWindowSeconds, sSupply, debtSupply, e.config.IRParams)
	if err != nil {
		return nil, err
	}

	debtBal, err := e.DebtTokenBalance(id, who)
	if err != nil {
		return nil, err
	}
	if debtBal.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}
	compoundedDebt, err := debtCoeff.MulInt(debtBal)
	if err != nil {
		return nil, ErrDebtCoeffMathError
	}

	repayAmount := amount
	if isMaxAmount(amount) || repayAmount.Cmp(compoundedDebt) > 0 {
		repayAmount = compoundedDebt
	}

	burnAmount, err := debtCoeff.RecipMulInt(repayAmount)
	if err != nil {
		return nil, ErrValidateBorrowMathError
	}
	if burnAmount.Cmp(debtBal) > 0 {
		burnAmount = debtBal
	}

	debtToken := e.debtToken(asset)
	underlying := e.underlying(asset)
	if debtToken == nil || underlying == nil {
		return nil, ErrNotFound
	}
	if err := underlying.TransferFrom(who, e.poolAddress, repayAmount); err != nil {
		return nil, err
	}
	if err := debtToken.Burn(who, burnAmount); err != nil {
		return nil, err
	}

	principal, err := debtCoeff.MulInt(burnAmount)
	if err != nil {
		return nil, ErrDebtCoeffMathError
	}
	var protocolFee *big.Int
	if repayAmount.Cmp(principal) > 0 {
		interestPortion := new(big.Int).Sub(repayAmount, principal)
		protocolFee, err = percentMulFloorOrZero(interestPortion, e.config.LiquidationProtocolFee)
		if err != nil {
			return nil, err
		}
	} else {
		protocolFee = new(big.Int)
	}

	netToPool := new(big.Int).Sub(repayAmount, protocolFee)
	reserve.SUnderlyingBalance = new(big.Int).Add(reserve.SUnderlyingBalance, netToPool)
	if protocolFee.Sign() > 0 {
		e.feeVault.Credit(asset, protocolFee)
	}

	newDebtSupply := new(big.Int).Sub(debtSupply, burnAmount)
	if err := e.accrueToNow(&reserve, now, sSupply, newDebtSupply); err != nil {
		return nil, err
	}

	cfgr, err := e.loadUserConfig(who)
	if err != nil {
		return nil, err
	}
	newDebtBal := new(big.Int).Sub(debtBal, burnAmount)
	if newDebtBal.Sign() == 0 {
		if _, err := cfgr.SetBorrowing(id, false); err != nil {
			return nil, err
		}
	}

	if err := e.reserves.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	flushed, err := cfgr.Flush(e.userConfigs)
	if err != nil {
		return nil, err
	}

	events := append([]Event{}, flushed...)
	ev := newEvent(EventRepay)
	ev.ReserveID = id
	ev.Who = who
	ev.Amount = repayAmount
	events = append(events, ev)
	return events, nil
}

// percentMulFloorOrZero applies PercentMulFloor, treating a zero bps
// config as "no fee" rather than an error.
func percentMulFloorOrZero(value *big.Int, bps uint32) (*big.Int, error) {
	if bps == 0 {
		return new(big.Int), nil
	}
	return fixedpoint.PercentMulFloor(value, bps)
}

// FinalizeTransfer is invoked by the s-token contract on a user-to-user
// transfer; it enforces that the receiving user has no debt in this
// reserve and, if the sender has any borrow and uses this reserve as
// collateral, that the post-transfer balance still meets initial health.
func (e *Engine) FinalizeTransfer(caller, asset, from, to crypto.Address, amount, balFromBefore, balToBefore *big.Int, now uint64) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reserve, id, err := e.prelude(asset, now, false)
	if err != nil {
		return nil, err
	}
	if err := e.requireSTokenCaller(asset, caller); err != nil {
		return nil, err
	}

	toCfg, err := e.loadUserConfig(to)
	if err != nil {
		return nil, err
	}
	toBorrowing, _ := toCfg.Current().IsBorrowing(id)
	if toBorrowing {
		return nil, ErrMustNotHaveDebt
	}

	fromCfg, err := e.loadUserConfig(from)
	if err != nil {
		return nil, err
	}
	fromBorrowingAny, fromUsingThis := hasAnyBorrow(fromCfg.Current()), mustBool(fromCfg.Current().IsUsingAsCollateral(id))
	if fromBorrowingAny && fromUsingThis {
		balFromAfter := new(big.Int).Sub(balFromBefore, amount)
		sSupply, err := e.STokenSupply(id)
		if err != nil {
			return nil, err
		}
		debtSupply, err := e.DebtTokenSupply(id)
		if err != nil {
			return nil, err
		}
		cache := &CalcAccountDataCache{ReserveID: id, HasOverride: true, WhoCollateralBal: balFromAfter, STokenSupply: sSupply, DebtTokenSupply: debtSupply, SUnderlyingBalance: reserve.SUnderlyingBalance}
		data, err := e.accountData(from, now, cache)
		if err != nil {
			return nil, err
		}
		if err := data.RequireGteInitialHealth(e.config.InitialHealthBps); err != nil {
			return nil, err
		}
	}

	balFromAfter := new(big.Int).Sub(balFromBefore, amount)
	if balFromAfter.Sign() == 0 {
		if _, err := fromCfg.SetUsingAsCollateral(id, false); err != nil {
			return nil, err
		}
	}
	if balToBefore.Sign() == 0 && amount.Sign() > 0 {
		if _, err := toCfg.SetUsingAsCollateral(id, true); err != nil {
			return nil, err
		}
	}

	var events []Event
	flushedFrom, err := fromCfg.Flush(e.userConfigs)
	if err != nil {
		return nil, err
	}
	events = append(events, flushedFrom...)
	flushedTo, err := toCfg.Flush(e.userConfigs)
	if err != nil {
		return nil, err
	}
	events = append(events, flushedTo...)
	return events, nil
}

func hasAnyBorrow(cfg UserConfiguration) bool {
	for i := uint8(0); i < MaxBitmapReserves; i++ {
		if b, _ := cfg.IsBorrowing(i); b {
			return true
		}
	}
	return false
}

func mustBool(v bool, _ error) bool { return v }

// SetAsCollateral flips who's collateral bit for asset. authSig is only
// consulted when asset names an RWA reserve, per Open Question resolution 4.
func (e *Engine) SetAsCollateral(who, asset crypto.Address, use bool, now uint64, authSig []byte) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reserve, id, err := e.prelude(asset, now, false)
	if err != nil {
		return nil, err
	}
	if !reserve.IsFungible() {
		if err := e.requireRWAAuth("set_as_collateral", who, asset, nil, now, authSig); err != nil {
			return nil, err
		}
	}
	cfgr, err := e.loadUserConfig(who)
	if err != nil {
		return nil, err
	}
	borrowing, _ := cfgr.Current().IsBorrowing(id)
	if borrowing {
		return nil, ErrMustNotHaveDebt
	}

	if _, err := cfgr.SetUsingAsCollateral(id, use); err != nil {
		return nil, err
	}

	if !use && hasAnyBorrow(cfgr.Current()) {
		data, err := e.accountData(who, now, nil)
		if err != nil {
			return nil, err
		}
		if !data.IsGoodPosition() {
			return nil, ErrBadPosition
		}
	}

	events, err := cfgr.Flush(e.userConfigs)
	if err != nil {
		return nil, err
	}
	return events, nil
}
