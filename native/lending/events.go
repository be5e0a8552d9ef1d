package lending

import (
	"math/big"

	"github.com/google/uuid"

	"lendingpool/crypto"
)

// EventKind enumerates the pool's internal event payloads, per spec.md §6.
type EventKind int

const (
	EventInitialize EventKind = iota
	EventBorrowingEnabled
	EventBorrowingDisabled
	EventReserveActivated
	EventReserveDeactivated
	EventReserveUsedAsCollateralEnabled
	EventReserveUsedAsCollateralDisabled
	EventDeposit
	EventWithdraw
	EventBorrow
	EventRepay
	EventLiquidation
	EventFlashLoan
	EventCollatConfigChange
)

// Event is the concrete payload emitted by an operation. Correlation ID is
// a fresh UUID per event, letting an external audit trail join related
// events from a single operation without relying on ledger-specific
// transaction hashes (those belong to the out-of-scope host per spec.md §1).
type Event struct {
	ID            string
	Kind          EventKind
	ReserveID     uint8
	Who           crypto.Address
	Amount        *big.Int
	CoveredDebt   *big.Int
	LiquidatedCol *big.Int
	Premium       *big.Int
	Borrow        bool
}

func newEvent(kind EventKind) Event {
	return Event{ID: uuid.NewString(), Kind: kind}
}
