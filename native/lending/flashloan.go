package lending

import (
	"math/big"

	"lendingpool/crypto"
	"lendingpool/fixedpoint"
)

// FlashLoanAssetRequest is one leg of a flash-loan batch, per spec.md §4.4.8.
type FlashLoanAssetRequest struct {
	Asset  crypto.Address
	Amount *big.Int
	Borrow bool
}

// FlashLoanLeg is the settled view of a requested leg, passed to the
// receiver callback.
type FlashLoanLeg struct {
	Asset   crypto.Address
	Amount  *big.Int
	Premium *big.Int
	Borrow  bool
}

// FlashLoanReceiver is the external callback contract consumed by
// FlashLoan, out of scope for this engine per spec.md §1.
type FlashLoanReceiver interface {
	Receive(initiator crypto.Address, legs []FlashLoanLeg, params []byte) (bool, error)
}

// FlashLoan transfers each requested asset's underlying out to receiver,
// invokes its callback, and settles each leg either as a same-block
// repayment (with premium) or as a regular borrow on behalf of who, per
// spec.md §4.4.8.
func (e *Engine) FlashLoan(who crypto.Address, receiverAddr crypto.Address, receiver FlashLoanReceiver, requests []FlashLoanAssetRequest, params []byte, now uint64) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := AssertOperational(e.pause, now, false); err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, ErrInvalidAmount
	}

	type legState struct {
		req     FlashLoanAssetRequest
		reserve ReserveData
		id      uint8
		premium *big.Int
	}
	legs := make([]legState, len(requests))
	wireLegs := make([]FlashLoanLeg, len(requests))

	for i, req := range requests {
		if req.Amount.Sign() <= 0 {
			return nil, ErrInvalidAmount
		}
		reserve, found, err := e.reserves.GetReserve(req.Asset)
		if err != nil {
			return nil, err
		}
		if !found || !reserve.Configuration.IsActive {
			return nil, ErrNoActiveReserve
		}
		id, ok := e.idByAsset[string(req.Asset.Bytes())]
		if !ok {
			return nil, ErrNoActiveReserve
		}
		sToken := e.sToken(req.Asset)
		if sToken == nil {
			return nil, ErrNotFound
		}
		premium, err := fixedpoint.PercentMulFloor(req.Amount, e.config.FlashLoanFeeBps)
		if err != nil {
			return nil, ErrCalcAccountDataMathErr
		}
		if err := sToken.TransferUnderlyingTo(receiverAddr, req.Amount); err != nil {
			return nil, err
		}
		reserve.SUnderlyingBalance = new(big.Int).Sub(reserve.SUnderlyingBalance, req.Amount)
		// Borrow legs are debited by borrowLocked after the callback.
		if !req.Borrow {
			if err := e.reserves.PutReserve(req.Asset, reserve); err != nil {
				return nil, err
			}
		}
		legs[i] = legState{req: req, reserve: reserve, id: id, premium: premium}
		wireLegs[i] = FlashLoanLeg{Asset: req.Asset, Amount: req.Amount, Premium: premium, Borrow: req.Borrow}
	}

	ok, err := receiver.Receive(who, wireLegs, params)
	if err != nil {
		return nil, ErrFlashLoanReceiverError
	}
	if !ok {
		return nil, ErrFlashLoanReceiverError
	}

	var events []Event
	for _, leg := range legs {
		// Re-read reserve state post-callback: the receiver may have
		// called back into the pool (spec.md §5).
		reserve, found, err := e.reserves.GetReserve(leg.req.Asset)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNoActiveReserve
		}

		if !leg.req.Borrow {
			underlying := e.underlying(leg.req.Asset)
			if underlying == nil {
				return nil, ErrNotFound
			}
			total := new(big.Int).Add(leg.req.Amount, leg.premium)
			if err := underlying.TransferFrom(receiverAddr, e.poolAddress, total); err != nil {
				return nil, ErrFlashLoanReceiverError
			}
			reserve.SUnderlyingBalance = new(big.Int).Add(reserve.SUnderlyingBalance, leg.req.Amount)
			if leg.premium.Sign() > 0 {
				e.feeVault.Credit(leg.req.Asset, leg.premium)
			}
			if err := e.reserves.PutReserve(leg.req.Asset, reserve); err != nil {
				return nil, err
			}
		} else {
			borrowEvents, err := e.borrowLocked(who, leg.req.Asset, leg.req.Amount, now)
			if err != nil {
				return nil, err
			}
			events = append(events, borrowEvents...)
		}

		ev := newEvent(EventFlashLoan)
		ev.ReserveID = leg.id
		ev.Who = who
		ev.Amount = leg.req.Amount
		ev.Premium = leg.premium
		ev.Borrow = leg.req.Borrow
		events = append(events, ev)
	}
	return events, nil
}
