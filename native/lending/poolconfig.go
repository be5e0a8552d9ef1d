package lending

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/BurntSushi/toml"

	"lendingpool/crypto"
	"lendingpool/native/common"
)

// PoolConfig holds the global, admin-mutable parameters shared by every
// reserve and operation, per spec.md §3.
type PoolConfig struct {
	BaseAsset              crypto.Address
	BaseAssetDecimals      uint32
	InitialHealthBps       uint32 // bps, e.g. 2500 == 25%
	TimestampWindowSeconds uint64
	FlashLoanFeeBps        uint32
	UserAssetsLimit        int
	MinCollatAmount        *big.Int
	MinDebtAmount          *big.Int
	LiquidationProtocolFee uint32 // bps of covered debt diverted to the vault
	IRParams               IRParams
}

// poolConfigTOML mirrors the teacher's native/lending/config.go Config
// struct: a flat, `toml`-tagged bring-up document an operator hand-edits
// before a pool ever takes its first deposit. BaseAsset is a bech32 string
// here since crypto.Address has no TOML codec of its own.
type poolConfigTOML struct {
	BaseAsset              string  `toml:"BaseAsset"`
	BaseAssetDecimals      uint32  `toml:"BaseAssetDecimals"`
	InitialHealthBps       uint32  `toml:"InitialHealthBps"`
	TimestampWindowSeconds uint64  `toml:"TimestampWindowSeconds"`
	FlashLoanFeeBps        uint32  `toml:"FlashLoanFeeBps"`
	UserAssetsLimit        int     `toml:"UserAssetsLimit"`
	MinCollatAmount        *string `toml:"MinCollatAmount"`
	MinDebtAmount          *string `toml:"MinDebtAmount"`
	LiquidationProtocolFee uint32  `toml:"LiquidationProtocolFee"`
	IRParams               struct {
		Alpha        int64 `toml:"Alpha"`
		InitialRate  int64 `toml:"InitialRate"`
		MaxRate      int64 `toml:"MaxRate"`
		ScalingCoeff int64 `toml:"ScalingCoeff"`
	} `toml:"ir_params"`
}

// LoadPoolConfigTOML reads a genesis PoolConfig from a TOML document at
// path, the bring-up analogue of the teacher's toml-tagged
// native/lending.Config: an operator-authored file describing the pool's
// initial parameters before any reserve is initialized. EnsureDefaults is
// applied to the result so nil big.Int fields never escape the loader.
func LoadPoolConfigTOML(path string) (PoolConfig, error) {
	var doc poolConfigTOML
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return PoolConfig{}, fmt.Errorf("decode pool config toml: %w", err)
	}

	cfg := PoolConfig{
		BaseAssetDecimals:      doc.BaseAssetDecimals,
		InitialHealthBps:       doc.InitialHealthBps,
		TimestampWindowSeconds: doc.TimestampWindowSeconds,
		FlashLoanFeeBps:        doc.FlashLoanFeeBps,
		UserAssetsLimit:        doc.UserAssetsLimit,
		LiquidationProtocolFee: doc.LiquidationProtocolFee,
		IRParams: IRParams{
			Alpha:        doc.IRParams.Alpha,
			InitialRate:  doc.IRParams.InitialRate,
			MaxRate:      doc.IRParams.MaxRate,
			ScalingCoeff: doc.IRParams.ScalingCoeff,
		},
	}
	if doc.BaseAsset != "" {
		addr, err := crypto.DecodeAddress(doc.BaseAsset)
		if err != nil {
			return PoolConfig{}, fmt.Errorf("decode BaseAsset: %w", err)
		}
		cfg.BaseAsset = addr
	}
	if doc.MinCollatAmount != nil {
		v, ok := new(big.Int).SetString(*doc.MinCollatAmount, 10)
		if !ok {
			return PoolConfig{}, fmt.Errorf("invalid MinCollatAmount %q", *doc.MinCollatAmount)
		}
		cfg.MinCollatAmount = v
	}
	if doc.MinDebtAmount != nil {
		v, ok := new(big.Int).SetString(*doc.MinDebtAmount, 10)
		if !ok {
			return PoolConfig{}, fmt.Errorf("invalid MinDebtAmount %q", *doc.MinDebtAmount)
		}
		cfg.MinDebtAmount = v
	}

	cfg.EnsureDefaults()
	return cfg, nil
}

// EnsureDefaults populates nil big.Int fields so arithmetic against
// MinCollatAmount/MinDebtAmount never nil-derefs, mirroring the teacher's
// native/lending.Config.EnsureDefaults.
func (c *PoolConfig) EnsureDefaults() {
	if c == nil {
		return
	}
	if c.MinCollatAmount == nil {
		c.MinCollatAmount = new(big.Int)
	}
	if c.MinDebtAmount == nil {
		c.MinDebtAmount = new(big.Int)
	}
}

// Clone returns a defensive deep copy.
func (c PoolConfig) Clone() PoolConfig {
	clone := c
	if c.MinCollatAmount != nil {
		clone.MinCollatAmount = new(big.Int).Set(c.MinCollatAmount)
	}
	if c.MinDebtAmount != nil {
		clone.MinDebtAmount = new(big.Int).Set(c.MinDebtAmount)
	}
	return clone
}

// PauseInfo tracks the pool's pause state and the post-unpause grace
// window during which liquidations are rejected (spec.md §3) so that
// stale oracle/position data cannot be exploited the instant the pool
// reopens.
type PauseInfo struct {
	Paused          bool
	GracePeriodSecs uint64
	UnpausedAt      uint64
}

// IsPaused reports whether the pool module is paused, satisfying
// native/common.PauseView so the shared Guard helper can gate operations
// the same way the rest of the pack's modules do.
func (p PauseInfo) IsPaused(module string) bool { return p.Paused }

// InGracePeriod reports whether `now` is still within the post-unpause
// grace window.
func (p PauseInfo) InGracePeriod(now uint64) bool {
	if p.Paused {
		return false
	}
	if p.GracePeriodSecs == 0 || p.UnpausedAt == 0 {
		return false
	}
	return now < p.UnpausedAt+p.GracePeriodSecs
}

// AssertOperational runs the shared not-paused guard and then the
// pool-specific grace-period guard every operation's prelude requires.
func AssertOperational(pause PauseInfo, now uint64, rejectDuringGrace bool) error {
	if err := common.Guard(pause, "lending"); err != nil {
		return ErrPausedOp
	}
	if rejectDuringGrace && pause.InGracePeriod(now) {
		return ErrGracePeriod
	}
	return nil
}

// Permission is a coarse-grained admin capability.
type Permission int

const (
	PermissionInitReserve Permission = iota
	PermissionConfigureReserve
	PermissionSetPoolConfig
	PermissionSetPriceFeeds
	PermissionSetIRParams
	PermissionSetPause
	PermissionClaimProtocolFee
)

// PermissionRegistry is the principal→granted-permissions map the admin
// surface (grant_permission/revoke_permission, spec.md §6) mutates.
// Grounded on the teacher's map-of-sets access-control pattern.
type PermissionRegistry struct {
	mu    sync.RWMutex
	grant map[string]map[Permission]bool
}

// NewPermissionRegistry constructs an empty registry.
func NewPermissionRegistry() *PermissionRegistry {
	return &PermissionRegistry{grant: make(map[string]map[Permission]bool)}
}

// Grant authorizes who for perm.
func (r *PermissionRegistry) Grant(who crypto.Address, perm Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(who.Bytes())
	if r.grant[key] == nil {
		r.grant[key] = make(map[Permission]bool)
	}
	r.grant[key][perm] = true
}

// Revoke removes who's authorization for perm.
func (r *PermissionRegistry) Revoke(who crypto.Address, perm Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(who.Bytes())
	if r.grant[key] != nil {
		delete(r.grant[key], perm)
	}
}

// Has reports whether who holds perm.
func (r *PermissionRegistry) Has(who crypto.Address, perm Permission) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := string(who.Bytes())
	return r.grant[key] != nil && r.grant[key][perm]
}

// RequirePermission is the require_auth-style assertion every admin
// setter calls before mutating shared state.
func (r *PermissionRegistry) RequirePermission(who crypto.Address, perm Permission) error {
	if !r.Has(who, perm) {
		return ErrUnauthorized
	}
	return nil
}

// FeeVault tracks the per-asset accumulated protocol fee, incremented on
// interest accrual's repay-side fee split and on flash-loan premiums, and
// drained by claim_protocol_fee (spec.md §6).
type FeeVault struct {
	mu      sync.Mutex
	amounts map[string]*big.Int // keyed by asset address bytes
}

// NewFeeVault constructs an empty vault.
func NewFeeVault() *FeeVault {
	return &FeeVault{amounts: make(map[string]*big.Int)}
}

// Credit adds amount to asset's accumulated fee balance.
func (v *FeeVault) Credit(asset crypto.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	key := string(asset.Bytes())
	bal, ok := v.amounts[key]
	if !ok {
		bal = new(big.Int)
	}
	v.amounts[key] = new(big.Int).Add(bal, amount)
}

// Balance returns asset's current accumulated fee.
func (v *FeeVault) Balance(asset crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.amounts[string(asset.Bytes())]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

// Claim zeroes out and returns asset's accumulated fee, for claim_protocol_fee.
func (v *FeeVault) Claim(asset crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := string(asset.Bytes())
	bal, ok := v.amounts[key]
	if !ok {
		return new(big.Int)
	}
	v.amounts[key] = new(big.Int)
	return bal
}
