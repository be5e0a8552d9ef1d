package lending

import (
	"math/big"
	"sort"

	"lendingpool/crypto"
	"lendingpool/fixedpoint"
)

type debtLeg struct {
	reserveID  uint8
	asset      crypto.Address
	reserve    ReserveData
	debtCoeff  fixedpoint.FixedI128
	debtBal    *big.Int
	compounded *big.Int // underlying units
	baseValue  *big.Int
	penOrder   uint32
}

type collateralLeg struct {
	reserveID  uint8
	asset      crypto.Address
	reserve    ReserveData
	coeff      fixedpoint.FixedI128
	sBal       *big.Int
	compounded *big.Int
	baseValue  *big.Int
	penOrder   uint32
}

// Liquidate closes as much of who's debt as the deterministic pen_order
// walk allows, per spec.md §4.4.7. The liquidator either receives
// s-tokens (receive_stoken=true) or the underlying directly.
func (e *Engine) Liquidate(liquidator, who crypto.Address, receiveSToken bool, now uint64) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := AssertOperational(e.pause, now, true); err != nil {
		return nil, err
	}

	cfg, found, err := e.userConfigs.GetUserConfiguration(who)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserConfigNotExists
	}

	data, err := CalcAccountData(who, cfg, now, e.config.TimestampWindowSeconds, e, e, e.prices, e.config.IRParams, nil)
	if err != nil {
		return nil, err
	}
	if data.NPV.Sign() > 0 {
		return nil, ErrGoodPosition
	}

	var debts []debtLeg
	var collaterals []collateralLeg
	for i := uint8(0); i < MaxBitmapReserves; i++ {
		borrowing, _ := cfg.IsBorrowing(i)
		usingAsCollateral, _ := cfg.IsUsingAsCollateral(i)
		if !borrowing && !usingAsCollateral {
			continue
		}
		reserve, err := e.ReserveByID(i)
		if err != nil {
			return nil, err
		}
		asset, err := e.AssetByID(i)
		if err != nil {
			return nil, err
		}
		sSupply, err := e.STokenSupply(i)
		if err != nil {
			return nil, err
		}
		debtSupply, err := e.DebtTokenSupply(i)
		if err != nil {
			return nil, err
		}

		if borrowing {
			debtCoeff, err := DebtCoeff(reserve, now, e.config.TimestampWindowSeconds, sSupply, debtSupply, e.config.IRParams)
			if err != nil {
				return nil, err
			}
			debtBal, err := e.DebtTokenBalance(i, who)
			if err != nil {
				return nil, err
			}
			compounded, err := debtCoeff.MulInt(debtBal)
			if err != nil {
				return nil, ErrDebtCoeffMathError
			}
			baseValue, err := e.prices.ConvertToBase(asset, compounded)
			if err != nil {
				return nil, err
			}
			debts = append(debts, debtLeg{reserveID: i, asset: asset, reserve: reserve, debtCoeff: debtCoeff, debtBal: debtBal, compounded: compounded, baseValue: baseValue, penOrder: reserve.Configuration.PenOrder})
		}
		if usingAsCollateral {
			coeff, err := CollatCoeff(reserve, now, e.config.TimestampWindowSeconds, sSupply, reserve.SUnderlyingBalance, debtSupply, e.config.IRParams)
			if err != nil {
				return nil, err
			}
			sBal, err := e.STokenBalance(i, who)
			if err != nil {
				return nil, err
			}
			compounded, err := coeff.MulInt(sBal)
			if err != nil {
				return nil, ErrCollateralCoeffMathErr
			}
			baseValue, err := e.prices.ConvertToBase(asset, compounded)
			if err != nil {
				return nil, err
			}
			collaterals = append(collaterals, collateralLeg{reserveID: i, asset: asset, reserve: reserve, coeff: coeff, sBal: sBal, compounded: compounded, baseValue: baseValue, penOrder: reserve.Configuration.PenOrder})
		}
	}

	sort.Slice(debts, func(i, j int) bool { return debts[i].penOrder > debts[j].penOrder })
	sort.Slice(collaterals, func(i, j int) bool { return collaterals[i].penOrder < collaterals[j].penOrder })

	var events []Event
	for di := range debts {
		d := &debts[di]
		if d.baseValue.Sign() <= 0 {
			continue
		}
		for ci := range collaterals {
			c := &collaterals[ci]
			if c.baseValue.Sign() <= 0 {
				continue
			}
			if c.penOrder != d.penOrder {
				continue
			}
			ev, err := e.settleLiquidationPair(liquidator, who, d, c, receiveSToken, now)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
			if d.baseValue.Sign() <= 0 {
				break
			}
		}
	}

	postData, err := e.accountData(who, now, nil)
	if err != nil {
		return nil, err
	}
	closedOut := postData.Collat.Sign() == 0 && postData.Debt.Sign() == 0
	if !closedOut && !postData.IsGoodPosition() {
		return nil, ErrBadPosition
	}

	return events, nil
}

// settleLiquidationPair covers as much of d's remaining base-value debt as
// c's full (undiscounted) base value can pay, transferring underlying (plus a
// protocol-fee share) from the s-token pool and crediting the liquidator
// either s-tokens or the underlying, per spec.md §4.4.7.
func (e *Engine) settleLiquidationPair(liquidator, who crypto.Address, d *debtLeg, c *collateralLeg, receiveSToken bool, now uint64) (Event, error) {
	// account.go counts this collateral toward health at only discount*value
	// (DiscountBps), a conservative haircut. Liquidation realizes the
	// collateral at its full base value to retire debt — the gap between
	// the haircut and the full value is exactly what heals the position
	// (spec.md §4.4.7's "penalty" of 1-discount the borrower pays for
	// having been under-collateralized).
	payableBase := c.baseValue

	coveredBase := d.baseValue
	if payableBase.Cmp(coveredBase) < 0 {
		coveredBase = payableBase
	}
	if coveredBase.Sign() <= 0 {
		return Event{}, nil
	}

	// Convert the covered base value back into the debt asset's underlying
	// units, then burn the matching debt-token amount.
	debtPrice, err := e.prices.GetPrice(d.asset)
	if err != nil {
		return Event{}, err
	}
	coveredDebtUnderlying := new(big.Int).Quo(new(big.Int).Mul(coveredBase, bigPow10(e.prices.feeds[string(d.asset.Bytes())].Decimals)), debtPrice)
	if coveredDebtUnderlying.Cmp(d.compounded) > 0 {
		coveredDebtUnderlying = d.compounded
	}
	burnDebt, err := d.debtCoeff.RecipMulInt(coveredDebtUnderlying)
	if err != nil {
		return Event{}, ErrValidateBorrowMathError
	}
	if burnDebt.Cmp(d.debtBal) > 0 {
		burnDebt = d.debtBal
	}

	// Convert covered base back to collateral-asset units to know how much
	// collateral (pre-penalty) must be consumed.
	collatPrice, err := e.prices.GetPrice(c.asset)
	if err != nil {
		return Event{}, err
	}
	// The liquidator pays coveredBase of debt value and receives collateral
	// of the same base value, one-for-one — no additional bonus layered on
	// top of the haircut gap already realized above.
	collatUnderlying := new(big.Int).Quo(new(big.Int).Mul(coveredBase, bigPow10(e.prices.feeds[string(c.asset.Bytes())].Decimals)), collatPrice)
	if collatUnderlying.Cmp(c.compounded) > 0 {
		collatUnderlying = c.compounded
	}
	burnCollat, err := c.coeff.RecipMulInt(collatUnderlying)
	if err != nil {
		return Event{}, ErrValidateBorrowMathError
	}
	if burnCollat.Cmp(c.sBal) > 0 {
		burnCollat = c.sBal
	}

	protocolFee, err := percentMulFloorOrZero(coveredDebtUnderlying, e.config.LiquidationProtocolFee)
	if err != nil {
		return Event{}, err
	}

	debtToken := e.debtToken(d.asset)
	debtSTokenContract := e.sToken(d.asset)
	collatSToken := e.sToken(c.asset)
	if debtToken == nil || debtSTokenContract == nil || collatSToken == nil {
		return Event{}, ErrNotFound
	}

	if err := debtSTokenContract.TransferUnderlyingTo(e.poolAddress, new(big.Int).Sub(coveredDebtUnderlying, protocolFee)); err != nil {
		return Event{}, err
	}
	if err := debtToken.Burn(who, burnDebt); err != nil {
		return Event{}, err
	}
	if protocolFee.Sign() > 0 {
		e.feeVault.Credit(d.asset, protocolFee)
	}
	d.reserve.SUnderlyingBalance = new(big.Int).Sub(d.reserve.SUnderlyingBalance, new(big.Int).Sub(coveredDebtUnderlying, protocolFee))

	if receiveSToken {
		if err := collatSToken.Transfer(who, liquidator, burnCollat); err != nil {
			return Event{}, err
		}
	} else {
		if err := collatSToken.Burn(who, burnCollat); err != nil {
			return Event{}, err
		}
		if err := collatSToken.TransferUnderlyingTo(liquidator, collatUnderlying); err != nil {
			return Event{}, err
		}
		c.reserve.SUnderlyingBalance = new(big.Int).Sub(c.reserve.SUnderlyingBalance, collatUnderlying)
	}

	if err := e.reserves.PutReserve(d.asset, d.reserve); err != nil {
		return Event{}, err
	}
	if err := e.reserves.PutReserve(c.asset, c.reserve); err != nil {
		return Event{}, err
	}

	d.compounded = new(big.Int).Sub(d.compounded, coveredDebtUnderlying)
	d.baseValue = new(big.Int).Sub(d.baseValue, coveredBase)
	d.debtBal = new(big.Int).Sub(d.debtBal, burnDebt)
	c.compounded = new(big.Int).Sub(c.compounded, collatUnderlying)
	c.baseValue = new(big.Int).Sub(c.baseValue, coveredBase)
	c.sBal = new(big.Int).Sub(c.sBal, burnCollat)

	if err := e.clearBitsIfEmptied(who, d.reserveID, c.reserveID); err != nil {
		return Event{}, err
	}

	ev := newEvent(EventLiquidation)
	ev.Who = who
	ev.ReserveID = d.reserveID
	ev.CoveredDebt = coveredDebtUnderlying
	ev.LiquidatedCol = collatUnderlying
	return ev, nil
}

func (e *Engine) clearBitsIfEmptied(who crypto.Address, debtReserveID, collatReserveID uint8) error {
	cfgr, err := e.loadUserConfig(who)
	if err != nil {
		return err
	}
	debtBal, err := e.DebtTokenBalance(debtReserveID, who)
	if err != nil {
		return err
	}
	if debtBal.Sign() == 0 {
		if _, err := cfgr.SetBorrowing(debtReserveID, false); err != nil {
			return err
		}
	}
	sBal, err := e.STokenBalance(collatReserveID, who)
	if err != nil {
		return err
	}
	if sBal.Sign() == 0 {
		if _, err := cfgr.SetUsingAsCollateral(collatReserveID, false); err != nil {
			return err
		}
	}
	_, err = cfgr.Flush(e.userConfigs)
	return err
}

func bigPow10(decimals uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
