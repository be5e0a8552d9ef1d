package lending

import (
	"math/big"
	"sync"

	"lendingpool/crypto"
)

// Engine is the pool's core accounting and risk engine: it owns reserve
// state, user configuration bitmaps, the price provider, and the
// protocol-fee vault, and exposes the eight state-changing operations
// spec.md §4.4 names. Every public method runs under a single mutex,
// modeling the single-threaded, strictly-serialized-per-invocation
// execution model of spec.md §5.
type Engine struct {
	mu sync.Mutex

	config PoolConfig
	pause  PauseInfo

	reserves    ReserveStore
	userConfigs UserConfigStore

	sTokens     map[string]TokenSubcontract // keyed by asset bytes
	debtTokens  map[string]TokenSubcontract
	underlyings map[string]UnderlyingAsset
	sTokenAddrs map[string]crypto.Address // asset bytes -> s-token contract address
	rwaBalances map[string]map[string]*big.Int // asset bytes -> who bytes -> balance

	prices      *PriceProvider
	permissions *PermissionRegistry
	feeVault    *FeeVault
	auth        Authenticator

	assetByID   map[uint8]crypto.Address
	idByAsset   map[string]uint8
	nextID      uint8
	poolAddress crypto.Address
}

// NewEngine constructs an Engine over the given storage and collaborator
// implementations. poolAddress is the pool contract's own escrow identity,
// the destination for underlying pulled in on deposit and repay.
func NewEngine(config PoolConfig, poolAddress crypto.Address, reserves ReserveStore, userConfigs UserConfigStore, prices *PriceProvider, permissions *PermissionRegistry, feeVault *FeeVault) *Engine {
	return &Engine{
		config:      config,
		poolAddress: poolAddress,
		reserves:    reserves,
		userConfigs: userConfigs,
		sTokens:     make(map[string]TokenSubcontract),
		debtTokens:  make(map[string]TokenSubcontract),
		underlyings: make(map[string]UnderlyingAsset),
		sTokenAddrs: make(map[string]crypto.Address),
		rwaBalances: make(map[string]map[string]*big.Int),
		prices:      prices,
		permissions: permissions,
		feeVault:    feeVault,
		auth:        NewECDSAAuthenticator(),
		assetByID:   make(map[uint8]crypto.Address),
		idByAsset:   make(map[string]uint8),
	}
}

// RegisterTokens wires the s-token/debt-token sub-contracts for an already
// initialized reserve. Out of scope for construction inside the engine
// itself per spec.md §1 — supplied by the deployer glue. sTokenAddr
// identifies the s-token contract's own address, which FinalizeTransfer
// checks the caller against.
func (e *Engine) RegisterTokens(asset crypto.Address, sTokenAddr crypto.Address, sToken, debtToken TokenSubcontract) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := string(asset.Bytes())
	if sToken != nil {
		e.sTokens[key] = sToken
	}
	if debtToken != nil {
		e.debtTokens[key] = debtToken
	}
	e.sTokenAddrs[key] = sTokenAddr
}

// requireSTokenCaller enforces that only the registered s-token contract
// for asset may invoke FinalizeTransfer, per spec.md §6.
func (e *Engine) requireSTokenCaller(asset, caller crypto.Address) error {
	want, ok := e.sTokenAddrs[string(asset.Bytes())]
	if !ok || string(want.Bytes()) != string(caller.Bytes()) {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) sToken(asset crypto.Address) TokenSubcontract { return e.sTokens[string(asset.Bytes())] }
func (e *Engine) debtToken(asset crypto.Address) TokenSubcontract {
	return e.debtTokens[string(asset.Bytes())]
}
func (e *Engine) underlying(asset crypto.Address) UnderlyingAsset {
	return e.underlyings[string(asset.Bytes())]
}

// RegisterUnderlying wires the raw underlying asset contract for a reserve.
func (e *Engine) RegisterUnderlying(asset crypto.Address, underlying UnderlyingAsset) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.underlyings[string(asset.Bytes())] = underlying
}

// --- ReserveLookup / BalanceLookup: account.go's read-only collaborators ---

func (e *Engine) ReserveByID(id uint8) (ReserveData, error) {
	asset, ok := e.assetByID[id]
	if !ok {
		return ReserveData{}, ErrNoActiveReserve
	}
	data, found, err := e.reserves.GetReserve(asset)
	if err != nil {
		return ReserveData{}, err
	}
	if !found {
		return ReserveData{}, ErrNoActiveReserve
	}
	return data, nil
}

func (e *Engine) AssetByID(id uint8) (crypto.Address, error) {
	asset, ok := e.assetByID[id]
	if !ok {
		return crypto.Address{}, ErrNoActiveReserve
	}
	return asset, nil
}

func (e *Engine) STokenBalance(reserveID uint8, who crypto.Address) (*big.Int, error) {
	asset, err := e.AssetByID(reserveID)
	if err != nil {
		return nil, err
	}
	tok := e.sToken(asset)
	if tok == nil {
		return new(big.Int), nil
	}
	return tok.Balance(who)
}

func (e *Engine) DebtTokenBalance(reserveID uint8, who crypto.Address) (*big.Int, error) {
	asset, err := e.AssetByID(reserveID)
	if err != nil {
		return nil, err
	}
	tok := e.debtToken(asset)
	if tok == nil {
		return new(big.Int), nil
	}
	return tok.Balance(who)
}

func (e *Engine) STokenSupply(reserveID uint8) (*big.Int, error) {
	asset, err := e.AssetByID(reserveID)
	if err != nil {
		return nil, err
	}
	tok := e.sToken(asset)
	if tok == nil {
		return new(big.Int), nil
	}
	return tok.TotalSupply()
}

func (e *Engine) DebtTokenSupply(reserveID uint8) (*big.Int, error) {
	asset, err := e.AssetByID(reserveID)
	if err != nil {
		return nil, err
	}
	tok := e.debtToken(asset)
	if tok == nil {
		return new(big.Int), nil
	}
	return tok.TotalSupply()
}

func (e *Engine) RWABalance(reserveID uint8, who crypto.Address) (*big.Int, error) {
	asset, err := e.AssetByID(reserveID)
	if err != nil {
		return nil, err
	}
	byWho := e.rwaBalances[string(asset.Bytes())]
	if byWho == nil {
		return new(big.Int), nil
	}
	bal, ok := byWho[string(who.Bytes())]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

func (e *Engine) setRWABalance(asset, who crypto.Address, bal *big.Int) {
	key := string(asset.Bytes())
	if e.rwaBalances[key] == nil {
		e.rwaBalances[key] = make(map[string]*big.Int)
	}
	e.rwaBalances[key][string(who.Bytes())] = bal
}

// --- Admin surface ---

// InitReserve registers a new reserve, assigning it the next dense ID.
func (e *Engine) InitReserve(admin crypto.Address, asset crypto.Address, reserveType ReserveType, cfg ReserveConfiguration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionInitReserve); err != nil {
		return err
	}
	if len(e.assetByID) >= MaxReserves {
		return ErrReservesMaxCapacityExceeded
	}
	if _, found, _ := e.reserves.GetReserve(asset); found {
		return ErrReserveAlreadyInitialized
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	// pen_order uniqueness (spec.md §3/§9) is enforced by ConfigureAsCollateral,
	// the setter that actually assigns a reserve's collateral liquidation tier;
	// init_reserve accepts whatever pen_order the caller supplies (typically
	// zero, reassigned later) without the uniqueness check.
	id := e.nextID
	e.nextID++
	reserve := NewReserveData(id, asset, reserveType, cfg)
	if err := e.reserves.PutReserve(asset, reserve); err != nil {
		return err
	}
	e.assetByID[id] = asset
	e.idByAsset[string(asset.Bytes())] = id
	return nil
}

func (e *Engine) assertPenOrderUnique(penOrder uint32, except crypto.Address) error {
	all, err := e.reserves.ListReserves()
	if err != nil {
		return err
	}
	for _, r := range all {
		if string(r.Asset.Bytes()) == string(except.Bytes()) {
			continue
		}
		if r.Configuration.IsActive && r.Configuration.PenOrder == penOrder {
			return ErrLiquidationOrderNotUnique
		}
	}
	return nil
}

// SetReserveStatus flips is_active.
func (e *Engine) SetReserveStatus(admin, asset crypto.Address, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionConfigureReserve); err != nil {
		return err
	}
	reserve, found, err := e.reserves.GetReserve(asset)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoActiveReserve
	}
	reserve.Configuration.IsActive = active
	return e.reserves.PutReserve(asset, reserve)
}

// ConfigureAsCollateral sets pen_order, util_cap, and discount.
func (e *Engine) ConfigureAsCollateral(admin, asset crypto.Address, penOrder, utilCapBps, discountBps uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionConfigureReserve); err != nil {
		return err
	}
	if discountBps > 10_000 || utilCapBps > 10_000 {
		return ErrExceededMaxValue
	}
	reserve, found, err := e.reserves.GetReserve(asset)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoActiveReserve
	}
	if err := e.assertPenOrderUnique(penOrder, asset); err != nil {
		return err
	}
	reserve.Configuration.PenOrder = penOrder
	reserve.Configuration.UtilCapBps = utilCapBps
	reserve.Configuration.DiscountBps = discountBps
	return e.reserves.PutReserve(asset, reserve)
}

// EnableBorrowingOnReserve flips borrowing_enabled on a Fungible reserve.
func (e *Engine) EnableBorrowingOnReserve(admin, asset crypto.Address, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionConfigureReserve); err != nil {
		return err
	}
	reserve, found, err := e.reserves.GetReserve(asset)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoActiveReserve
	}
	if !reserve.IsFungible() {
		return ErrNotFungible
	}
	reserve.Configuration.BorrowingEnabled = enabled
	return e.reserves.PutReserve(asset, reserve)
}

// SetPoolConfiguration replaces the global pool configuration.
func (e *Engine) SetPoolConfiguration(admin crypto.Address, cfg PoolConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionSetPoolConfig); err != nil {
		return err
	}
	e.config = cfg.Clone()
	return nil
}

// SetIRParams replaces the global interest-rate curve parameters.
func (e *Engine) SetIRParams(admin crypto.Address, params IRParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionSetIRParams); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	e.config.IRParams = params
	return nil
}

// SetPriceFeeds replaces the price provider's feed configuration.
func (e *Engine) SetPriceFeeds(admin crypto.Address, provider *PriceProvider) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionSetPriceFeeds); err != nil {
		return err
	}
	e.prices = provider
	return nil
}

// SetPause toggles the pool pause flag, recording unpaused_at for the
// grace-period window when resuming.
func (e *Engine) SetPause(admin crypto.Address, paused bool, now uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionSetPause); err != nil {
		return err
	}
	e.pause.Paused = paused
	if !paused {
		e.pause.UnpausedAt = now
	}
	return nil
}

// SetGracePeriod sets the post-unpause liquidation grace window.
func (e *Engine) SetGracePeriod(admin crypto.Address, secs uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionSetPause); err != nil {
		return err
	}
	e.pause.GracePeriodSecs = secs
	return nil
}

// GrantPermission and RevokePermission delegate to the registry; the
// caller granting/revoking must itself already hold PermissionSetPoolConfig,
// modeling a coarse super-admin capability.
func (e *Engine) GrantPermission(admin, who crypto.Address, perm Permission) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionSetPoolConfig); err != nil {
		return err
	}
	e.permissions.Grant(who, perm)
	return nil
}

func (e *Engine) RevokePermission(admin, who crypto.Address, perm Permission) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionSetPoolConfig); err != nil {
		return err
	}
	e.permissions.Revoke(who, perm)
	return nil
}

// ClaimProtocolFee drains asset's accumulated fee vault balance to admin.
func (e *Engine) ClaimProtocolFee(admin, asset crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.permissions.RequirePermission(admin, PermissionClaimProtocolFee); err != nil {
		return nil, err
	}
	return e.feeVault.Claim(asset), nil
}

// --- shared operation plumbing ---

func (e *Engine) prelude(asset crypto.Address, now uint64, rejectDuringGrace bool) (ReserveData, uint8, error) {
	if err := AssertOperational(e.pause, now, rejectDuringGrace); err != nil {
		return ReserveData{}, 0, err
	}
	reserve, found, err := e.reserves.GetReserve(asset)
	if err != nil {
		return ReserveData{}, 0, err
	}
	if !found {
		return ReserveData{}, 0, ErrNoActiveReserve
	}
	if !reserve.Configuration.IsActive {
		return ReserveData{}, 0, ErrNoActiveReserve
	}
	id, ok := e.idByAsset[string(asset.Bytes())]
	if !ok {
		return ReserveData{}, 0, ErrNoActiveReserve
	}
	return reserve, id, nil
}

// accrueToNow recomputes the reserve's AR/IR up to now using the given
// total-supply snapshot, per spec.md §4.2/§4.4's "update reserve
// coefficients to now before reading balances" rule.
func (e *Engine) accrueToNow(reserve *ReserveData, now uint64, sSupply, debtSupply *big.Int) error {
	return Accrue(reserve, now, e.config.TimestampWindowSeconds, sSupply, debtSupply, e.config.IRParams)
}

func (e *Engine) loadUserConfig(who crypto.Address) (*Configurator, error) {
	return NewConfigurator(e.userConfigs, who)
}

func (e *Engine) accountData(who crypto.Address, now uint64, cache *CalcAccountDataCache) (AccountData, error) {
	cfg, found, err := e.userConfigs.GetUserConfiguration(who)
	if err != nil {
		return AccountData{}, err
	}
	if !found {
		cfg = UserConfiguration{}
	}
	return CalcAccountData(who, cfg, now, e.config.TimestampWindowSeconds, e, e, e.prices, e.config.IRParams, cache)
}
