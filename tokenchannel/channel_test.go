package tokenchannel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/wire"
	"github.com/creditmesh/meshnode/xcrypto"
)

func newTestPair(t *testing.T) (*Channel, *xcrypto.Identity, *Channel, *xcrypto.Identity) {
	t.Helper()
	alice, err := xcrypto.NewIdentity()
	require.NoError(t, err)
	bob, err := xcrypto.NewIdentity()
	require.NoError(t, err)

	aliceChan := New(alice.PublicKey(), bob.PublicKey())
	bobChan := New(bob.PublicKey(), alice.PublicKey())

	// Exactly one side holds the token initially, by the public-key
	// tie-break; align the two views so one is Outgoing and the other
	// Incoming, regardless of which public keys were generated.
	if aliceChan.Direction == DirectionOutgoing {
		bobChan.Direction = DirectionIncoming
	} else {
		bobChan.Direction = DirectionOutgoing
	}

	return aliceChan, alice, bobChan, bob
}

func TestMoveTokenRoundTrip(t *testing.T) {
	aliceChan, alice, bobChan, bob := newTestPair(t)

	sender, senderID := aliceChan, alice
	receiver, receiverID := bobChan, bob
	if bobChan.Direction == DirectionOutgoing {
		sender, senderID = bobChan, bob
		receiver, receiverID = aliceChan, alice
	}
	_ = receiverID

	sender.OpenCurrency("FST1")
	require.NoError(t, sender.QueueOperation("FST1", &wire.EnableRequestsOp{}, PriorityUserRequest))

	mt, _, err := sender.BuildMoveToken(senderID)
	require.NoError(t, err)
	require.Equal(t, DirectionIncoming, sender.Direction)

	receiver.OpenCurrency("FST1")
	err = receiver.ReceiveMoveToken(mt)
	require.NoError(t, err)
	require.Equal(t, DirectionOutgoing, receiver.Direction)
	require.True(t, receiver.Currencies["FST1"].RemoteRequestsEnabled)
	require.Equal(t, StateConsistent, receiver.State)
}

func TestReceiveMoveTokenWrongDirectionFails(t *testing.T) {
	aliceChan, alice, _, _ := newTestPair(t)
	if aliceChan.Direction != DirectionOutgoing {
		t.Skip("alice does not hold token in this run")
	}
	aliceChan.OpenCurrency("FST1")

	mt, _, err := aliceChan.BuildMoveToken(alice)
	require.NoError(t, err)

	// aliceChan now expects DirectionIncoming (it just sent). Put it back to
	// DirectionOutgoing, as if it still held the token, so an incoming
	// move-token arrives in the wrong direction and must be rejected.
	aliceChan.Direction = DirectionOutgoing
	err = aliceChan.ReceiveMoveToken(mt)
	require.Error(t, err)
}

func TestStaleOldTokenMarksInconsistent(t *testing.T) {
	aliceChan, alice, bobChan, bob := newTestPair(t)
	sender, senderID := aliceChan, alice
	receiver := bobChan
	if bobChan.Direction == DirectionOutgoing {
		sender, senderID = bobChan, bob
		receiver = aliceChan
	}

	sender.OpenCurrency("FST1")
	mt, _, err := sender.BuildMoveToken(senderID)
	require.NoError(t, err)

	receiver.OpenCurrency("FST1")
	receiver.LastToken[0] ^= 0xff // simulate a desynced chain

	err = receiver.ReceiveMoveToken(mt)
	require.Error(t, err)
	require.Equal(t, StateInconsistent, receiver.State)
	require.Equal(t, uint64(1), receiver.InconsistencyCounter)
}

func TestBuildMoveTokenDrainsInPriorityOrderAndCaps(t *testing.T) {
	aliceChan, alice, _, _ := newTestPair(t)
	if aliceChan.Direction != DirectionOutgoing {
		t.Skip("alice does not hold token in this run")
	}
	aliceChan.OpenCurrency("FST1")

	// Queue forwarded traffic first, then a backward op, then a user
	// request: priority ordering should still place the backward op
	// first in the resulting batch regardless of queue order.
	require.NoError(t, aliceChan.QueueOperation("FST1", &wire.CancelSendFundsOp{RequestID: meshtypes.RequestID{1}}, PriorityForwarded))
	require.NoError(t, aliceChan.QueueOperation("FST1", &wire.CancelSendFundsOp{RequestID: meshtypes.RequestID{2}}, PriorityBackward))
	require.NoError(t, aliceChan.QueueOperation("FST1", &wire.EnableRequestsOp{}, PriorityUserRequest))

	mt, truncated, err := aliceChan.BuildMoveToken(alice)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Len(t, mt.OperationsByCurrency, 1)
	ops := mt.OperationsByCurrency[0].Operations
	require.Len(t, ops, 3)
	backward, ok := ops[0].(*wire.CancelSendFundsOp)
	require.True(t, ok)
	require.Equal(t, meshtypes.RequestID{2}, backward.RequestID)
}

func TestBuildMoveTokenCapLeavesRemainderQueued(t *testing.T) {
	aliceChan, alice, _, _ := newTestPair(t)
	if aliceChan.Direction != DirectionOutgoing {
		t.Skip("alice does not hold token in this run")
	}
	aliceChan.OpenCurrency("FST1")

	for i := 0; i < MaxOperationsInBatch+5; i++ {
		require.NoError(t, aliceChan.QueueOperation("FST1", &wire.EnableRequestsOp{}, PriorityUserRequest))
	}

	mt, truncated, err := aliceChan.BuildMoveToken(alice)
	require.NoError(t, err)
	require.True(t, truncated)
	require.Len(t, mt.OperationsByCurrency[0].Operations, MaxOperationsInBatch)
	require.True(t, aliceChan.HasPendingOperations())
}
