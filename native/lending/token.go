package lending

import (
	"math/big"
	"sync"

	"lendingpool/crypto"
)

// UnderlyingAsset is the raw fungible asset a reserve is denominated in —
// a SEP-41-style token contract distinct from the s-token/debt-token
// sub-contracts, used to pull funds from a user into the pool on deposit
// and repay. Out of scope for this engine per spec.md §1; only the
// transfer-in side the pool needs is modeled here.
type UnderlyingAsset interface {
	TransferFrom(from, to crypto.Address, amount *big.Int) error
}

// InMemoryUnderlyingAsset is a reference UnderlyingAsset used by the
// in-memory engine wiring and tests.
type InMemoryUnderlyingAsset struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

// NewInMemoryUnderlyingAsset constructs an empty ledger.
func NewInMemoryUnderlyingAsset() *InMemoryUnderlyingAsset {
	return &InMemoryUnderlyingAsset{balances: make(map[string]*big.Int)}
}

// Credit gives `who` an initial balance, for test fixtures.
func (u *InMemoryUnderlyingAsset) Credit(who crypto.Address, amount *big.Int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	key := string(who.Bytes())
	bal, ok := u.balances[key]
	if !ok {
		bal = new(big.Int)
	}
	u.balances[key] = new(big.Int).Add(bal, amount)
}

// Balance returns who's current balance.
func (u *InMemoryUnderlyingAsset) Balance(who crypto.Address) *big.Int {
	u.mu.Lock()
	defer u.mu.Unlock()
	bal, ok := u.balances[string(who.Bytes())]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

func (u *InMemoryUnderlyingAsset) TransferFrom(from, to crypto.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	fromKey := string(from.Bytes())
	bal, ok := u.balances[fromKey]
	if !ok {
		bal = new(big.Int)
	}
	if bal.Cmp(amount) < 0 {
		return ErrNotEnoughAvailableUserBalance
	}
	u.balances[fromKey] = new(big.Int).Sub(bal, amount)
	toKey := string(to.Bytes())
	toBal, ok := u.balances[toKey]
	if !ok {
		toBal = new(big.Int)
	}
	u.balances[toKey] = new(big.Int).Add(toBal, amount)
	return nil
}

// InMemoryToken is a minimal reference TokenSubcontract used by the
// in-memory engine wiring and by tests. It models either an s-token or a
// debt-token ledger: per-holder balances and a running total supply. The
// real deployment routes these calls to the external token sub-contracts
// spec.md §1 places out of scope; this implementation exists only to make
// the engine's operations exercisable end-to-end without that dependency.
type InMemoryToken struct {
	mu          sync.Mutex
	balances    map[string]*big.Int
	totalSupply *big.Int
}

// NewInMemoryToken constructs an empty token ledger.
func NewInMemoryToken() *InMemoryToken {
	return &InMemoryToken{balances: make(map[string]*big.Int), totalSupply: new(big.Int)}
}

func (t *InMemoryToken) Mint(to crypto.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := string(to.Bytes())
	bal, ok := t.balances[key]
	if !ok {
		bal = new(big.Int)
	}
	bal = new(big.Int).Add(bal, amount)
	t.balances[key] = bal
	t.totalSupply = new(big.Int).Add(t.totalSupply, amount)
	return nil
}

func (t *InMemoryToken) Burn(from crypto.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := string(from.Bytes())
	bal, ok := t.balances[key]
	if !ok {
		bal = new(big.Int)
	}
	if bal.Cmp(amount) < 0 {
		return ErrNotEnoughAvailableUserBalance
	}
	t.balances[key] = new(big.Int).Sub(bal, amount)
	t.totalSupply = new(big.Int).Sub(t.totalSupply, amount)
	return nil
}

func (t *InMemoryToken) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fromKey := string(from.Bytes())
	bal, ok := t.balances[fromKey]
	if !ok {
		bal = new(big.Int)
	}
	if bal.Cmp(amount) < 0 {
		return ErrNotEnoughAvailableUserBalance
	}
	t.balances[fromKey] = new(big.Int).Sub(bal, amount)
	toKey := string(to.Bytes())
	toBal, ok := t.balances[toKey]
	if !ok {
		toBal = new(big.Int)
	}
	t.balances[toKey] = new(big.Int).Add(toBal, amount)
	return nil
}

// TransferUnderlyingTo moves no funds in this reference ledger. The engine
// calls it for withdraw, borrow, flash-loan and liquidation payouts, and
// tracks the s-token pool's underlying balance itself on
// ReserveData.SUnderlyingBalance.
func (t *InMemoryToken) TransferUnderlyingTo(to crypto.Address, amount *big.Int) error {
	return nil
}

func (t *InMemoryToken) Balance(who crypto.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal, ok := t.balances[string(who.Bytes())]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

func (t *InMemoryToken) TotalSupply() (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.totalSupply), nil
}

func (t *InMemoryToken) SetAuthorized(who crypto.Address, authorized bool) error {
	return nil
}
