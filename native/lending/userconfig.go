package lending

import (
	"github.com/holiman/uint256"

	"lendingpool/crypto"
)

// UserConfiguration is the per-user bitmap of (borrowing, collateral) flags
// across reserves, packed two bits per reserve: bit 2*i is the borrowing
// flag for reserve i, bit 2*i+1 is the using-as-collateral flag. Backed by
// uint256.Int (sized for 256 bits) but only the low 128 bits are ever used,
// matching spec.md's u128 bitmap exactly while reusing the teacher's
// wide-integer type for bit manipulation.
type UserConfiguration struct {
	bits uint256.Int
}

func checkReserveIndex(i uint8) error {
	if int(i) >= MaxBitmapReserves {
		return ErrUserConfigInvalidIndex
	}
	return nil
}

// IsBorrowing reports whether bit 2*i is set.
func (u UserConfiguration) IsBorrowing(i uint8) (bool, error) {
	if err := checkReserveIndex(i); err != nil {
		return false, err
	}
	return u.bits.Bit(uint(2*i)) == 1, nil
}

// IsUsingAsCollateral reports whether bit 2*i+1 is set.
func (u UserConfiguration) IsUsingAsCollateral(i uint8) (bool, error) {
	if err := checkReserveIndex(i); err != nil {
		return false, err
	}
	return u.bits.Bit(uint(2*i+1)) == 1, nil
}

// IsUsingAsCollateralOrBorrowing checks both adjacent bits at once: per
// spec.md §9, (word >> 2i) & 3 != 0. Preserved as its own method because
// external consumers introspect this exact bit layout.
func (u UserConfiguration) IsUsingAsCollateralOrBorrowing(i uint8) (bool, error) {
	if err := checkReserveIndex(i); err != nil {
		return false, err
	}
	shifted := new(uint256.Int).Rsh(&u.bits, uint(2*i))
	masked := new(uint256.Int).And(shifted, uint256.NewInt(3))
	return !masked.IsZero(), nil
}

func (u *UserConfiguration) setBit(bit uint, value bool) {
	if value {
		u.bits.SetBit(&u.bits, bit, 1)
	} else {
		u.bits.SetBit(&u.bits, bit, 0)
	}
}

// IsEmpty reports whether no bits are set.
func (u UserConfiguration) IsEmpty() bool { return u.bits.IsZero() }

// Bytes returns the big-endian 32-byte encoding of the bitmap, for
// persistence by ReserveStore/UserConfigStore implementations such as
// store/sqlitestore that cannot reach the unexported uint256.Int directly.
func (u UserConfiguration) Bytes() [32]byte {
	return u.bits.Bytes32()
}

// UserConfigurationFromBytes reconstructs a bitmap from its Bytes() encoding.
func UserConfigurationFromBytes(b [32]byte) UserConfiguration {
	var u UserConfiguration
	u.bits.SetBytes32(b[:])
	return u
}

// CountSetReserves returns the number of distinct reserves with either bit
// set, used to enforce PoolConfig.UserAssetsLimit.
func (u UserConfiguration) CountSetReserves() int {
	count := 0
	for i := uint8(0); i < MaxBitmapReserves; i++ {
		used, _ := u.IsUsingAsCollateralOrBorrowing(i)
		if used {
			count++
		}
	}
	return count
}

// Configurator mutates a UserConfiguration in memory and defers the write
// to storage until Flush, which only persists if at least one transition
// occurred — the builder/state-flush pattern spec.md §4.6 and §9 describe.
type Configurator struct {
	who     crypto.Address
	config  UserConfiguration
	changed bool
	events  []Event
}

// NewConfigurator lazily loads (or defaults) a user's configuration.
func NewConfigurator(store UserConfigStore, who crypto.Address) (*Configurator, error) {
	cfg, found, err := store.GetUserConfiguration(who)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg = UserConfiguration{}
	}
	return &Configurator{who: who, config: cfg}, nil
}

// Current returns the in-memory (possibly not yet flushed) configuration.
func (c *Configurator) Current() UserConfiguration { return c.config }

// SetBorrowing transitions the borrowing bit for reserve i, emitting no
// event of its own (borrow/repay emit their own domain events).
func (c *Configurator) SetBorrowing(i uint8, value bool) (*Configurator, error) {
	if err := checkReserveIndex(i); err != nil {
		return c, err
	}
	cur, _ := c.config.IsBorrowing(i)
	if cur == value {
		return c, nil
	}
	c.config.setBit(uint(2*i), value)
	c.changed = true
	return c, nil
}

// SetUsingAsCollateral transitions the collateral bit for reserve i and
// records the enable/disable event spec.md §4.6 names.
func (c *Configurator) SetUsingAsCollateral(i uint8, value bool) (*Configurator, error) {
	if err := checkReserveIndex(i); err != nil {
		return c, err
	}
	cur, _ := c.config.IsUsingAsCollateral(i)
	if cur == value {
		return c, nil
	}
	c.config.setBit(uint(2*i+1), value)
	c.changed = true
	kind := EventReserveUsedAsCollateralDisabled
	if value {
		kind = EventReserveUsedAsCollateralEnabled
	}
	c.events = append(c.events, Event{Kind: kind, ReserveID: i})
	return c, nil
}

// Flush writes the accumulated configuration iff a transition occurred and
// returns any events recorded along the way.
func (c *Configurator) Flush(store UserConfigStore) ([]Event, error) {
	if !c.changed {
		return nil, nil
	}
	if err := store.PutUserConfiguration(c.who, c.config); err != nil {
		return nil, err
	}
	c.changed = false
	events := c.events
	c.events = nil
	return events, nil
}
