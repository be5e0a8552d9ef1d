package server

import (
	"math/big"

	"lendingpool/native/lending"
)

// eventDTO is the JSON projection of an engine Event.
type eventDTO struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	ReserveID     uint8  `json:"reserve_id"`
	Who           string `json:"who,omitempty"`
	Amount        string `json:"amount,omitempty"`
	CoveredDebt   string `json:"covered_debt,omitempty"`
	LiquidatedCol string `json:"liquidated_collateral,omitempty"`
	Premium       string `json:"premium,omitempty"`
	Borrow        bool   `json:"borrow,omitempty"`
}

var eventKindNames = map[lending.EventKind]string{
	lending.EventInitialize:                     "initialize",
	lending.EventBorrowingEnabled:                "borrowing_enabled",
	lending.EventBorrowingDisabled:               "borrowing_disabled",
	lending.EventReserveActivated:                "reserve_activated",
	lending.EventReserveDeactivated:              "reserve_deactivated",
	lending.EventReserveUsedAsCollateralEnabled:  "reserve_used_as_collateral_enabled",
	lending.EventReserveUsedAsCollateralDisabled: "reserve_used_as_collateral_disabled",
	lending.EventDeposit:                         "deposit",
	lending.EventWithdraw:                        "withdraw",
	lending.EventBorrow:                          "borrow",
	lending.EventRepay:                           "repay",
	lending.EventLiquidation:                     "liquidation",
	lending.EventFlashLoan:                       "flash_loan",
	lending.EventCollatConfigChange:              "collat_config_change",
}

func toEventDTO(ev lending.Event) eventDTO {
	dto := eventDTO{
		ID:        ev.ID,
		Kind:      eventKindNames[ev.Kind],
		ReserveID: ev.ReserveID,
		Borrow:    ev.Borrow,
	}
	if len(ev.Who.Bytes()) > 0 {
		dto.Who = ev.Who.String()
	}
	if ev.Amount != nil {
		dto.Amount = ev.Amount.String()
	}
	if ev.CoveredDebt != nil {
		dto.CoveredDebt = ev.CoveredDebt.String()
	}
	if ev.LiquidatedCol != nil {
		dto.LiquidatedCol = ev.LiquidatedCol.String()
	}
	if ev.Premium != nil {
		dto.Premium = ev.Premium.String()
	}
	return dto
}

// accountPositionDTO is the JSON projection of AccountData.
type accountPositionDTO struct {
	DiscountedCollateral string `json:"discounted_collateral"`
	Collateral           string `json:"collateral"`
	Debt                 string `json:"debt"`
	NPV                  string `json:"npv"`
	GoodPosition         bool   `json:"good_position"`
}

func toAccountPositionDTO(data lending.AccountData) accountPositionDTO {
	return accountPositionDTO{
		DiscountedCollateral: stringOrZero(data.DiscountedCollateral),
		Collateral:           stringOrZero(data.Collat),
		Debt:                 stringOrZero(data.Debt),
		NPV:                  stringOrZero(data.NPV),
		GoodPosition:         data.IsGoodPosition(),
	}
}

func stringOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// reserveDTO is the JSON projection of ReserveData.
type reserveDTO struct {
	ID                  uint8  `json:"id"`
	Asset               string `json:"asset"`
	ReserveType         int    `json:"reserve_type"`
	IsActive            bool   `json:"is_active"`
	BorrowingEnabled     bool  `json:"borrowing_enabled"`
	PenOrder            uint32 `json:"pen_order"`
	UtilCapBps          uint32 `json:"util_cap_bps"`
	DiscountBps         uint32 `json:"discount_bps"`
	Decimals            uint32 `json:"decimals"`
	SUnderlyingBalance  string `json:"s_underlying_balance"`
	LastUpdateTimestamp uint64 `json:"last_update_timestamp"`
}

func toReserveDTO(r lending.ReserveData) reserveDTO {
	return reserveDTO{
		ID:                  r.ID,
		Asset:                r.Asset.String(),
		ReserveType:         int(r.ReserveType),
		IsActive:            r.Configuration.IsActive,
		BorrowingEnabled:    r.Configuration.BorrowingEnabled,
		PenOrder:            r.Configuration.PenOrder,
		UtilCapBps:          r.Configuration.UtilCapBps,
		DiscountBps:         r.Configuration.DiscountBps,
		Decimals:            r.Configuration.Decimals,
		SUnderlyingBalance:  stringOrZero(r.SUnderlyingBalance),
		LastUpdateTimestamp: r.LastUpdateTimestamp,
	}
}

// poolConfigDTO is the JSON projection of PoolConfig.
type poolConfigDTO struct {
	BaseAsset              string `json:"base_asset"`
	BaseAssetDecimals      uint32 `json:"base_asset_decimals"`
	InitialHealthBps       uint32 `json:"initial_health_bps"`
	TimestampWindowSeconds uint64 `json:"timestamp_window_seconds"`
	FlashLoanFeeBps        uint32 `json:"flash_loan_fee_bps"`
	UserAssetsLimit        int    `json:"user_assets_limit"`
	LiquidationProtocolFee uint32 `json:"liquidation_protocol_fee_bps"`
}

func toPoolConfigDTO(c lending.PoolConfig) poolConfigDTO {
	return poolConfigDTO{
		BaseAsset:              c.BaseAsset.String(),
		BaseAssetDecimals:      c.BaseAssetDecimals,
		InitialHealthBps:       c.InitialHealthBps,
		TimestampWindowSeconds: c.TimestampWindowSeconds,
		FlashLoanFeeBps:        c.FlashLoanFeeBps,
		UserAssetsLimit:        c.UserAssetsLimit,
		LiquidationProtocolFee: c.LiquidationProtocolFee,
	}
}

// pauseInfoDTO is the JSON projection of PauseInfo.
type pauseInfoDTO struct {
	Paused          bool   `json:"paused"`
	GracePeriodSecs uint64 `json:"grace_period_secs"`
	UnpausedAt      uint64 `json:"unpaused_at"`
}

func toPauseInfoDTO(p lending.PauseInfo) pauseInfoDTO {
	return pauseInfoDTO{Paused: p.Paused, GracePeriodSecs: p.GracePeriodSecs, UnpausedAt: p.UnpausedAt}
}
