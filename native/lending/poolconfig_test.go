package lending

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssertOperationalRejectsWhenPaused(t *testing.T) {
	pause := PauseInfo{Paused: true}
	err := AssertOperational(pause, 100, false)
	require.ErrorIs(t, err, ErrPausedOp)
}

func TestAssertOperationalRejectsDuringGracePeriod(t *testing.T) {
	pause := PauseInfo{Paused: false, UnpausedAt: 100, GracePeriodSecs: 60}
	err := AssertOperational(pause, 130, true)
	require.ErrorIs(t, err, ErrGracePeriod)
}

func TestAssertOperationalAllowsNonGatedOpsDuringGracePeriod(t *testing.T) {
	pause := PauseInfo{Paused: false, UnpausedAt: 100, GracePeriodSecs: 60}
	err := AssertOperational(pause, 130, false)
	require.NoError(t, err)
}

func TestAssertOperationalAllowsAfterGracePeriodElapses(t *testing.T) {
	pause := PauseInfo{Paused: false, UnpausedAt: 100, GracePeriodSecs: 60}
	err := AssertOperational(pause, 161, true)
	require.NoError(t, err)
}

func TestPermissionRegistryGrantAndRevoke(t *testing.T) {
	reg := NewPermissionRegistry()
	who := testAddress(1)
	require.False(t, reg.Has(who, PermissionSetPause))

	reg.Grant(who, PermissionSetPause)
	require.True(t, reg.Has(who, PermissionSetPause))
	require.NoError(t, reg.RequirePermission(who, PermissionSetPause))

	reg.Revoke(who, PermissionSetPause)
	require.False(t, reg.Has(who, PermissionSetPause))
	require.ErrorIs(t, reg.RequirePermission(who, PermissionSetPause), ErrUnauthorized)
}

func TestFeeVaultCreditBalanceClaim(t *testing.T) {
	vault := NewFeeVault()
	asset := testAddress(1)

	require.Equal(t, 0, vault.Balance(asset).Sign())

	vault.Credit(asset, big.NewInt(500))
	vault.Credit(asset, big.NewInt(250))
	require.Equal(t, 0, vault.Balance(asset).Cmp(big.NewInt(750)))

	claimed := vault.Claim(asset)
	require.Equal(t, 0, claimed.Cmp(big.NewInt(750)))
	require.Equal(t, 0, vault.Balance(asset).Sign())
}
