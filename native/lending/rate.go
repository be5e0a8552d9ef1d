package lending

import (
	"math/big"

	"lendingpool/fixedpoint"
)

// OneYearSeconds is the denominator used to annualize the accrual integral.
const OneYearSeconds = 31_557_600

// AlphaDenominator scales IRParams.Alpha (143 means 1.43).
const AlphaDenominator = 100

// IRParams are the pool-wide interest-rate curve parameters (spec.md §3).
type IRParams struct {
	Alpha        int64 // e.g. 143 == 1.43
	InitialRate  int64 // bps, <= 10000
	MaxRate      int64 // bps, > 10000 typically (e.g. 50000 == 500%)
	ScalingCoeff int64 // bps, < 10000
}

// Validate checks the invariants spec.md §3 states for IR parameters.
func (p IRParams) Validate() error {
	if p.InitialRate > 10_000 {
		return ErrExceededMaxValue
	}
	if p.MaxRate <= 10_000 {
		return ErrExceededMaxValue
	}
	if p.ScalingCoeff >= 10_000 {
		return ErrExceededMaxValue
	}
	return nil
}

// CalcInterestRate computes IR = min(max_rate, initial_rate/(1-U)^alpha) via
// a four-term binomial expansion, per spec.md §4.2. total_collateral and
// total_debt are the reserve's s-token and debt-token total supplies (the
// scaled internal balances, not underlying amounts) — ground truth in
// original_source/contracts/pool/src/rate.rs:calc_interest_rate.
func CalcInterestRate(totalCollateral, totalDebt *big.Int, params IRParams) (fixedpoint.FixedI128, error) {
	if totalCollateral.Sign() < 0 || totalDebt.Sign() < 0 {
		return fixedpoint.Zero(), ErrInvalidAmount
	}
	u, err := fixedpoint.FromRational(totalDebt, totalCollateral)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	if u.IsZero() {
		return fixedpoint.Zero(), nil
	}

	maxRate, err := fixedpoint.FromPercentage(params.MaxRate)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	if u.Cmp(fixedpoint.One()) >= 0 {
		return maxRate, nil
	}

	alpha, err := fixedpoint.FromRational(big.NewInt(params.Alpha), big.NewInt(AlphaDenominator))
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	alphaMinus1, err := alpha.Sub(fixedpoint.One())
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	alphaMinus2, err := alphaMinus1.Sub(fixedpoint.One())
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	alphaMinus3, err := alphaMinus2.Sub(fixedpoint.One())
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}

	firstTerm, err := alpha.Mul(u)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}

	secondTerm, err := firstTerm.Mul(u)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	secondTerm, err = secondTerm.Mul(alphaMinus1)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	secondTerm, err = secondTerm.DivInner(2)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}

	thirdTerm, err := secondTerm.Mul(u)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	thirdTerm, err = thirdTerm.Mul(alphaMinus2)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	thirdTerm, err = thirdTerm.DivInner(3)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}

	fourthTerm, err := thirdTerm.Mul(u)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	fourthTerm, err = fourthTerm.Mul(alphaMinus3)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	fourthTerm, err = fourthTerm.DivInner(4)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}

	denom, err := fixedpoint.One().Sub(firstTerm)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	denom, err = denom.Add(secondTerm)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	denom, err = denom.Sub(thirdTerm)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	denom, err = denom.Add(fourthTerm)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}

	if denom.Sign() <= 0 {
		return maxRate, nil
	}

	initialRate, err := fixedpoint.FromPercentage(params.InitialRate)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	ir, err := initialRate.Div(denom)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	return fixedpoint.Min(ir, maxRate), nil
}

// CalcNextAccruedRate Euler-steps AR(t) = AR(t-) * (1 + IR*elapsed/ONE_YEAR).
func CalcNextAccruedRate(prevAR, ir fixedpoint.FixedI128, elapsed uint64) (fixedpoint.FixedI128, error) {
	deltaTime, err := fixedpoint.FromRational(new(big.Int).SetUint64(elapsed), big.NewInt(OneYearSeconds))
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	product, err := ir.Mul(deltaTime)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	onePlus, err := fixedpoint.One().Add(product)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	next, err := prevAR.Mul(onePlus)
	if err != nil {
		return fixedpoint.Zero(), ErrAccruedRateMathError
	}
	return next, nil
}

// AccruedRates bundles the four coefficients recomputed together.
type AccruedRates struct {
	BorrowerIR fixedpoint.FixedI128
	LenderIR   fixedpoint.FixedI128
	BorrowerAR fixedpoint.FixedI128
	LenderAR   fixedpoint.FixedI128
}

// CalcAccruedRates computes the borrower/lender IR and the resulting next
// AR values given the reserve's current ARs and the elapsed time.
func CalcAccruedRates(totalCollateral, totalDebt *big.Int, elapsed uint64, params IRParams, reserve ReserveData) (AccruedRates, error) {
	borrowerIR, err := CalcInterestRate(totalCollateral, totalDebt, params)
	if err != nil {
		return AccruedRates{}, err
	}
	scaleCoeff, err := fixedpoint.FromPercentage(params.ScalingCoeff)
	if err != nil {
		return AccruedRates{}, ErrAccruedRateMathError
	}
	lenderIR, err := borrowerIR.Mul(scaleCoeff)
	if err != nil {
		return AccruedRates{}, ErrAccruedRateMathError
	}
	borrowerAR, err := CalcNextAccruedRate(reserve.BorrowerAR, borrowerIR, elapsed)
	if err != nil {
		return AccruedRates{}, err
	}
	lenderAR, err := CalcNextAccruedRate(reserve.LenderAR, lenderIR, elapsed)
	if err != nil {
		return AccruedRates{}, err
	}
	return AccruedRates{BorrowerIR: borrowerIR, LenderIR: lenderIR, BorrowerAR: borrowerAR, LenderAR: lenderAR}, nil
}

// ElapsedTime discretizes the raw elapsed seconds to a timestamp_window
// boundary, per spec.md §4.2: rem = (now-last) mod W; effective = now-last-rem.
// Clock skew (last > now) yields 0; W=0 is treated as W=1.
func ElapsedTime(now, last, window uint64) uint64 {
	if last > now {
		return 0
	}
	if window == 0 {
		window = 1
	}
	diff := now - last
	rem := diff % window
	return diff - rem
}

// Accrue recomputes a reserve's rate coefficients up to now and writes the
// new last_update_timestamp, but only when elapsed_time != 0 and the
// s-token supply is non-zero — ground truth in
// original_source/contracts/pool/src/methods/utils/recalculate_reserve_data.rs.
// This is the write-path counterpart of CollatCoeff/DebtCoeff's read-only
// "actual" computations (Open Question 3 resolution).
func Accrue(reserve *ReserveData, now uint64, window uint64, sTokenSupply, debtTokenSupply *big.Int, params IRParams) error {
	elapsed := ElapsedTime(now, reserve.LastUpdateTimestamp, window)
	if elapsed == 0 || sTokenSupply.Sign() == 0 {
		return nil
	}
	rates, err := CalcAccruedRates(sTokenSupply, debtTokenSupply, elapsed, params, *reserve)
	if err != nil {
		return err
	}
	reserve.BorrowerIR = rates.BorrowerIR
	reserve.LenderIR = rates.LenderIR
	reserve.BorrowerAR = rates.BorrowerAR
	reserve.LenderAR = rates.LenderAR
	reserve.LastUpdateTimestamp += elapsed // now minus the held-back window remainder
	return nil
}

// ActualLenderAR computes the lender accrued rate as of `now` without
// writing it back to the reserve — used by CollatCoeff for valuation reads,
// which must see rates as of now even when the write-path (Accrue) hasn't
// run yet in the current operation.
func ActualLenderAR(reserve ReserveData, now, window uint64, sTokenSupply, debtTokenSupply *big.Int, params IRParams) (fixedpoint.FixedI128, error) {
	elapsed := ElapsedTime(now, reserve.LastUpdateTimestamp, window)
	if elapsed == 0 || sTokenSupply.Sign() == 0 {
		return reserve.LenderAR, nil
	}
	rates, err := CalcAccruedRates(sTokenSupply, debtTokenSupply, elapsed, params, reserve)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	return rates.LenderAR, nil
}

// ActualBorrowerAR is ActualLenderAR's borrower-side counterpart, used by
// DebtCoeff.
func ActualBorrowerAR(reserve ReserveData, now, window uint64, sTokenSupply, debtTokenSupply *big.Int, params IRParams) (fixedpoint.FixedI128, error) {
	elapsed := ElapsedTime(now, reserve.LastUpdateTimestamp, window)
	if elapsed == 0 || sTokenSupply.Sign() == 0 {
		return reserve.BorrowerAR, nil
	}
	rates, err := CalcAccruedRates(sTokenSupply, debtTokenSupply, elapsed, params, reserve)
	if err != nil {
		return fixedpoint.Zero(), err
	}
	return rates.BorrowerAR, nil
}

// CollatCoeff computes collat_coeff = (s_token_underlying_balance +
// lender_ar*debt_token_supply) / s_token_supply, special-casing
// s_token_supply == 0 to ONE, per spec.md §4.2 and
// original_source/.../get_collat_coeff.rs. lender_ar here is the *actual*
// (as-of-now) rate, read before any writeback (Open Question 3).
func CollatCoeff(reserve ReserveData, now, window uint64, sTokenSupply, sTokenUnderlyingBalance, debtTokenSupply *big.Int, params IRParams) (fixedpoint.FixedI128, error) {
	if sTokenSupply.Sign() == 0 {
		return fixedpoint.One(), nil
	}
	lenderAR, err := ActualLenderAR(reserve, now, window, sTokenSupply, debtTokenSupply, params)
	if err != nil {
		return fixedpoint.Zero(), ErrCollateralCoeffMathErr
	}
	contrib, err := lenderAR.MulInt(debtTokenSupply)
	if err != nil {
		return fixedpoint.Zero(), ErrCollateralCoeffMathErr
	}
	numerator := new(big.Int).Add(sTokenUnderlyingBalance, contrib)
	coeff, err := fixedpoint.FromRational(numerator, sTokenSupply)
	if err != nil {
		return fixedpoint.Zero(), ErrCollateralCoeffMathErr
	}
	return coeff, nil
}

// DebtCoeff returns the actual (as-of-now) borrower accrued rate.
func DebtCoeff(reserve ReserveData, now, window uint64, sTokenSupply, debtTokenSupply *big.Int, params IRParams) (fixedpoint.FixedI128, error) {
	ar, err := ActualBorrowerAR(reserve, now, window, sTokenSupply, debtTokenSupply, params)
	if err != nil {
		return fixedpoint.Zero(), ErrDebtCoeffMathError
	}
	return ar, nil
}
