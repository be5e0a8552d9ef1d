package lending

import (
	"math/big"

	"lendingpool/crypto"
)

// AccountPosition is the exported, read-only counterpart to accountData: the
// Query surface's account_position(who), per spec.md §6.
func (e *Engine) AccountPosition(who crypto.Address, now uint64) (AccountData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accountData(who, now, nil)
}

// GetReserve exposes the Query surface's get_reserve(asset).
func (e *Engine) GetReserve(asset crypto.Address) (ReserveData, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reserves.GetReserve(asset)
}

// UserConfigurationOf exposes the Query surface's user_configuration(who).
func (e *Engine) UserConfigurationOf(who crypto.Address) (UserConfiguration, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userConfigs.GetUserConfiguration(who)
}

// PoolConfiguration exposes the Query surface's pool_configuration.
func (e *Engine) PoolConfiguration() PoolConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config.Clone()
}

// PauseStatus exposes the Query surface's pause_info.
func (e *Engine) PauseStatus() PauseInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pause
}

// TWAPMedianPrice exposes the Query surface's twap_median_price(asset).
func (e *Engine) TWAPMedianPrice(asset crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prices == nil {
		return nil, ErrInvalidAssetPrice
	}
	return e.prices.GetPrice(asset)
}

// ProtocolFee exposes the Query surface's protocol_fee(asset).
func (e *Engine) ProtocolFee(asset crypto.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.feeVault == nil {
		return big.NewInt(0)
	}
	return e.feeVault.Balance(asset)
}

// CollatCoeffOf exposes the Query surface's collat_coeff(asset) read path,
// per Open Question resolution 3: pre-accrual-update, same snapshot a
// health check would see.
func (e *Engine) CollatCoeffOf(asset crypto.Address, now uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reserve, found, err := e.reserves.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoActiveReserve
	}
	id, ok := e.idByAsset[string(asset.Bytes())]
	if !ok {
		return nil, ErrNoActiveReserve
	}
	sSupply, err := e.STokenSupply(id)
	if err != nil {
		return nil, err
	}
	debtSupply, err := e.DebtTokenSupply(id)
	if err != nil {
		return nil, err
	}
	coeff, err := CollatCoeff(reserve, now, e.config.TimestampWindowSeconds, sSupply, reserve.SUnderlyingBalance, debtSupply, e.config.IRParams)
	if err != nil {
		return nil, err
	}
	return coeff.Inner(), nil
}

// DebtCoeffOf exposes the Query surface's debt_coeff(asset) read path.
func (e *Engine) DebtCoeffOf(asset crypto.Address, now uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reserve, found, err := e.reserves.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoActiveReserve
	}
	id, ok := e.idByAsset[string(asset.Bytes())]
	if !ok {
		return nil, ErrNoActiveReserve
	}
	sSupply, err := e.STokenSupply(id)
	if err != nil {
		return nil, err
	}
	debtSupply, err := e.DebtTokenSupply(id)
	if err != nil {
		return nil, err
	}
	coeff, err := DebtCoeff(reserve, now, e.config.TimestampWindowSeconds, sSupply, debtSupply, e.config.IRParams)
	if err != nil {
		return nil, err
	}
	return coeff.Inner(), nil
}
