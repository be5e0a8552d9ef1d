package lending

import (
	"math/big"

	"lendingpool/crypto"
	"lendingpool/fixedpoint"
)

// MaxReserves bounds the number of reserves the pool may hold.
const MaxReserves = 256

// MaxBitmapReserves bounds the reserves addressable in a UserConfiguration
// bitmap: two bits per reserve in a 128-bit word.
const MaxBitmapReserves = 64

// ReserveType tags whether a reserve issues debt (Fungible) or is
// collateral-only (RWA).
type ReserveType int

const (
	// ReserveTypeFungible reserves mint both s-tokens and debt-tokens and
	// participate in borrowing.
	ReserveTypeFungible ReserveType = iota
	// ReserveTypeRWA reserves are non-borrowable collateral-only assets.
	ReserveTypeRWA
)

// TokenSubcontract is the external collaborator responsible for minting,
// burning, and transferring s-tokens or debt-tokens on the pool's behalf.
// Per spec.md §1 the token sub-contracts are out of scope for the engine
// itself; this interface is the boundary the engine calls through.
type TokenSubcontract interface {
	Mint(to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
	Transfer(from, to crypto.Address, amount *big.Int) error
	TransferUnderlyingTo(to crypto.Address, amount *big.Int) error
	Balance(who crypto.Address) (*big.Int, error)
	TotalSupply() (*big.Int, error)
	SetAuthorized(who crypto.Address, authorized bool) error
}

// ReserveConfiguration holds the admin-controlled per-asset parameters.
type ReserveConfiguration struct {
	IsActive         bool
	BorrowingEnabled bool
	LiquidityCap     *big.Int
	PenOrder         uint32
	UtilCapBps       uint32
	DiscountBps      uint32
	Decimals         uint32
}

// Clone returns a defensive deep copy.
func (c ReserveConfiguration) Clone() ReserveConfiguration {
	clone := c
	if c.LiquidityCap != nil {
		clone.LiquidityCap = new(big.Int).Set(c.LiquidityCap)
	}
	return clone
}

// EnsureDefaults fills nil-valued fields with safe defaults.
func (c *ReserveConfiguration) EnsureDefaults() {
	if c == nil {
		return
	}
	if c.LiquidityCap == nil {
		c.LiquidityCap = new(big.Int)
	}
}

// Validate checks the invariants spec.md §3 requires of a configuration.
func (c ReserveConfiguration) Validate() error {
	if c.UtilCapBps > 10_000 {
		return ErrExceededMaxValue
	}
	if c.DiscountBps > 10_000 {
		return ErrExceededMaxValue
	}
	return nil
}

// ReserveData is the full per-asset accounting record.
type ReserveData struct {
	ID                   uint8
	Asset                crypto.Address
	Configuration        ReserveConfiguration
	ReserveType          ReserveType
	SToken               crypto.Address // zero for RWA
	DebtToken            crypto.Address // zero for RWA
	LenderAR             fixedpoint.FixedI128
	BorrowerAR           fixedpoint.FixedI128
	LenderIR             fixedpoint.FixedI128
	BorrowerIR           fixedpoint.FixedI128
	LastUpdateTimestamp  uint64
	SUnderlyingBalance   *big.Int // s-token pool's underlying balance (fungible only)
	RWATotalSupply       *big.Int // RWA-only: total issued RWA collateral units
	ProtocolFeeVault     *big.Int
}

// Clone returns a defensive deep copy.
func (r ReserveData) Clone() ReserveData {
	clone := r
	clone.Configuration = r.Configuration.Clone()
	if r.SUnderlyingBalance != nil {
		clone.SUnderlyingBalance = new(big.Int).Set(r.SUnderlyingBalance)
	}
	if r.RWATotalSupply != nil {
		clone.RWATotalSupply = new(big.Int).Set(r.RWATotalSupply)
	}
	if r.ProtocolFeeVault != nil {
		clone.ProtocolFeeVault = new(big.Int).Set(r.ProtocolFeeVault)
	}
	return clone
}

// IsFungible reports whether the reserve issues debt.
func (r ReserveData) IsFungible() bool { return r.ReserveType == ReserveTypeFungible }

// NewReserveData constructs a freshly initialized reserve with both accrued
// rate coefficients at FixedI128::ONE per spec.md §3.
func NewReserveData(id uint8, asset crypto.Address, reserveType ReserveType, cfg ReserveConfiguration) ReserveData {
	cfg.EnsureDefaults()
	return ReserveData{
		ID:                  id,
		Asset:               asset,
		Configuration:       cfg,
		ReserveType:         reserveType,
		LenderAR:            fixedpoint.One(),
		BorrowerAR:          fixedpoint.One(),
		LenderIR:            fixedpoint.Zero(),
		BorrowerIR:          fixedpoint.Zero(),
		SUnderlyingBalance:  new(big.Int),
		RWATotalSupply:      new(big.Int),
		ProtocolFeeVault:    new(big.Int),
	}
}
