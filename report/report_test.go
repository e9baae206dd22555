package report

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/meshtypes"
)

func TestSnapshotReflectsMutations(t *testing.T) {
	r := New(100)
	var pk meshtypes.PublicKey
	pk[0] = 1

	r.AddFriend(pk)
	r.OpenCurrency(pk, "FST1")
	r.UpdateBalance(pk, "FST1", meshtypes.Int128FromBig(big.NewInt(42)))

	snap := r.Snapshot()
	fr, ok := snap[pk]
	require.True(t, ok)
	require.Equal(t, meshtypes.Int128FromBig(big.NewInt(42)), fr.Balances["FST1"])
}

func TestMutationsSinceReplaysLog(t *testing.T) {
	r := New(100)
	var pk meshtypes.PublicKey
	pk[0] = 1

	r.AddFriend(pk)
	muts, next, ok := r.MutationsSince(0)
	require.True(t, ok)
	require.Len(t, muts, 1)

	r.OpenCurrency(pk, "FST1")
	muts2, _, ok := r.MutationsSince(next)
	require.True(t, ok)
	require.Len(t, muts2, 1)
	require.Equal(t, MutationCurrencyOpened, muts2[0].Kind)
}

func TestMutationsSinceTooOldFallsBack(t *testing.T) {
	r := New(2)
	var pk meshtypes.PublicKey
	pk[0] = 1

	r.AddFriend(pk)
	r.OpenCurrency(pk, "FST1")
	r.OpenCurrency(pk, "FST2")
	r.OpenCurrency(pk, "FST3")

	_, _, ok := r.MutationsSince(0)
	require.False(t, ok)
}

func TestRemoveFriendDropsFromSnapshot(t *testing.T) {
	r := New(100)
	var pk meshtypes.PublicKey
	pk[0] = 1
	r.AddFriend(pk)
	r.RemoveFriend(pk)
	snap := r.Snapshot()
	_, ok := snap[pk]
	require.False(t, ok)
}
