package lending

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"lendingpool/crypto"
)

// okReceiver accepts whatever legs it is handed and always signals success;
// the test pre-funds the receiver's underlying balance so the pull-back
// settlement (amount + premium) can actually clear.
type okReceiver struct {
	receivedLegs []FlashLoanLeg
}

func (r *okReceiver) Receive(initiator crypto.Address, legs []FlashLoanLeg, params []byte) (bool, error) {
	r.receivedLegs = legs
	return true, nil
}

type rejectingReceiver struct{}

func (r *rejectingReceiver) Receive(initiator crypto.Address, legs []FlashLoanLeg, params []byte) (bool, error) {
	return false, nil
}

func TestFlashLoanPullBackSettlesWithPremium(t *testing.T) {
	h := newTestHarness(t)
	who := testAddress(1)
	receiverAddr := testAddress(50)

	h.underlyC.Credit(receiverAddr, big.NewInt(2_000_000))
	h.underlyC.Credit(h.engine.poolAddress, big.NewInt(100_000_000_000))
	// Give the collateral reserve's s-token pool something to lend out.
	sToken := h.engine.sToken(h.collat)
	require.NoError(t, sToken.Mint(testAddress(2), big.NewInt(100_000_000_000)))
	reserve, found, err := h.engine.reserves.GetReserve(h.collat)
	require.NoError(t, err)
	require.True(t, found)
	reserve.SUnderlyingBalance = big.NewInt(100_000_000_000)
	require.NoError(t, h.engine.reserves.PutReserve(h.collat, reserve))

	receiver := &okReceiver{}
	requests := []FlashLoanAssetRequest{{Asset: h.collat, Amount: big.NewInt(1_000_000), Borrow: false}}

	events, err := h.engine.FlashLoan(who, receiverAddr, receiver, requests, nil, 100)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Len(t, receiver.receivedLegs, 1)
	require.True(t, receiver.receivedLegs[0].Premium.Sign() > 0)

	fee := h.engine.feeVault.Balance(h.collat)
	require.Equal(t, 0, fee.Cmp(receiver.receivedLegs[0].Premium))
}

func TestFlashLoanRejectsWhenReceiverDeclines(t *testing.T) {
	h := newTestHarness(t)
	who := testAddress(1)
	receiverAddr := testAddress(51)

	sToken := h.engine.sToken(h.collat)
	require.NoError(t, sToken.Mint(testAddress(2), big.NewInt(1_000_000_000)))
	reserve, _, err := h.engine.reserves.GetReserve(h.collat)
	require.NoError(t, err)
	reserve.SUnderlyingBalance = big.NewInt(1_000_000_000)
	require.NoError(t, h.engine.reserves.PutReserve(h.collat, reserve))

	requests := []FlashLoanAssetRequest{{Asset: h.collat, Amount: big.NewInt(1_000), Borrow: false}}
	_, err = h.engine.FlashLoan(who, receiverAddr, &rejectingReceiver{}, requests, nil, 100)
	require.ErrorIs(t, err, ErrFlashLoanReceiverError)
}

func TestFlashLoanRejectsEmptyRequestList(t *testing.T) {
	h := newTestHarness(t)
	who := testAddress(1)
	_, err := h.engine.FlashLoan(who, testAddress(51), &okReceiver{}, nil, nil, 100)
	require.ErrorIs(t, err, ErrInvalidAmount)
}
