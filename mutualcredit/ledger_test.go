package mutualcredit

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
)

func TestApplyRequestRespectsTrustLimit(t *testing.T) {
	mc := New(meshtypes.Currency("FST1"))
	mc.RemoteRequestsEnabled = true
	mc.LocalMaxDebt = meshtypes.Uint128FromU64(100)

	require.NoError(t, mc.ApplyRequest(meshtypes.Uint128FromU64(60)))
	require.Equal(t, meshtypes.Uint128FromU64(60), mc.RemotePendingDebt)

	err := mc.ApplyRequest(meshtypes.Uint128FromU64(50))
	require.Error(t, err)
	kind, ok := merr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, merr.KindInsufficientTrust, kind)
}

func TestApplyRequestRejectedWhenDisabled(t *testing.T) {
	mc := New(meshtypes.Currency("FST1"))
	mc.LocalMaxDebt = meshtypes.Uint128FromU64(100)

	err := mc.ApplyRequest(meshtypes.Uint128FromU64(10))
	require.Error(t, err)
	kind, _ := merr.KindOf(err)
	require.Equal(t, merr.KindInsufficientTrust, kind)
}

func TestApplyResponseSettlesBalance(t *testing.T) {
	mc := New(meshtypes.Currency("FST1"))
	mc.RemoteRequestsEnabled = true
	mc.LocalMaxDebt = meshtypes.Uint128FromU64(100)

	require.NoError(t, mc.ApplyRequest(meshtypes.Uint128FromU64(40)))
	require.NoError(t, mc.ApplyResponse(meshtypes.Uint128FromU64(40)))

	require.True(t, mc.RemotePendingDebt.IsZero())
	require.Equal(t, big.NewInt(40), mc.Balance.Big())
}

func TestApplyCancelReleasesWithoutBalanceChange(t *testing.T) {
	mc := New(meshtypes.Currency("FST1"))
	mc.RemoteRequestsEnabled = true
	mc.LocalMaxDebt = meshtypes.Uint128FromU64(100)

	require.NoError(t, mc.ApplyRequest(meshtypes.Uint128FromU64(40)))
	require.NoError(t, mc.ApplyCancel(meshtypes.Uint128FromU64(40)))

	require.True(t, mc.RemotePendingDebt.IsZero())
	require.True(t, mc.Balance.Big().Sign() == 0)
}

func TestApplyResponseOverPendingDebtFails(t *testing.T) {
	mc := New(meshtypes.Currency("FST1"))
	mc.RemoteRequestsEnabled = true
	mc.LocalMaxDebt = meshtypes.Uint128FromU64(100)
	require.NoError(t, mc.ApplyRequest(meshtypes.Uint128FromU64(10)))

	err := mc.ApplyResponse(meshtypes.Uint128FromU64(20))
	require.Error(t, err)
	kind, _ := merr.KindOf(err)
	require.Equal(t, merr.KindBalanceOverflow, kind)
}

func TestExistingBalanceReducesAvailableTrust(t *testing.T) {
	mc := New(meshtypes.Currency("FST1"))
	mc.RemoteRequestsEnabled = true
	mc.LocalMaxDebt = meshtypes.Uint128FromU64(100)
	mc.Balance = meshtypes.Int128FromBig(big.NewInt(30)) // remote already owes local 30

	require.NoError(t, mc.ApplyRequest(meshtypes.Uint128FromU64(70)))
	err := mc.ApplyRequest(meshtypes.Uint128FromU64(1))
	require.Error(t, err)
}
