package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/tokenchannel"
	"github.com/creditmesh/meshnode/wire"
	"github.com/creditmesh/meshnode/xcrypto"
)

func newRunningRouter(t *testing.T) (*Router, context.CancelFunc) {
	t.Helper()
	id, err := xcrypto.NewIdentity()
	require.NoError(t, err)
	r := New(id.PublicKey(), id)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	return r, cancel
}

func TestAddFriendAndOpenCurrency(t *testing.T) {
	r, cancel := newRunningRouter(t)
	defer cancel()

	var friend meshtypes.PublicKey
	friend[0] = 7

	require.NoError(t, r.AddFriend(friend))
	require.NoError(t, r.OpenCurrency(friend, "FST1"))
	require.Error(t, r.AddFriend(friend), "adding the same friend twice must fail")
}

func TestHandleIncomingMoveTokenNotifiesRequestArrived(t *testing.T) {
	selfID, err := xcrypto.NewIdentity()
	require.NoError(t, err)
	remoteID, err := xcrypto.NewIdentity()
	require.NoError(t, err)

	r := New(selfID.PublicKey(), selfID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.NoError(t, r.AddFriend(remoteID.PublicKey()))
	require.NoError(t, r.OpenCurrency(remoteID.PublicKey(), "FST1"))

	// Force this side (self) to expect an incoming move-token, regardless
	// of New()'s public-key tie-break on these freshly generated keys.
	require.NoError(t, r.do(func(rt *Router) error {
		rt.friends[remoteID.PublicKey()].Channel.Direction = tokenchannel.DirectionIncoming
		rt.friends[remoteID.PublicKey()].Channel.LastToken = [32]byte{}
		return nil
	}))

	arrived := make(chan *wire.RequestSendFundsOp, 1)
	r.OnRequestArrived = func(from meshtypes.PublicKey, op *wire.RequestSendFundsOp) {
		arrived <- op
	}

	route := meshtypes.Route{remoteID.PublicKey(), selfID.PublicKey()}
	reqOp := &wire.RequestSendFundsOp{
		RequestID:   meshtypes.RequestID{1},
		Route:       route,
		DestPayment: meshtypes.Uint128FromU64(10),
	}

	mt := &wire.MoveToken{
		RemotePublicKey: selfID.PublicKey(),
		LocalPublicKey:  remoteID.PublicKey(),
		OperationsByCurrency: []wire.CurrencyOperations{
			{Currency: "FST1", Operations: []wire.Operation{reqOp}},
		},
		BalancesSnapshot: []wire.CurrencyBalanceSnapshot{
			{Currency: "FST1"},
		},
	}
	require.NoError(t, mt.Sign(remoteID))

	mtr := &wire.MoveTokenRequest{MoveToken: *mt}

	require.NoError(t, r.HandleIncomingMoveToken(remoteID.PublicKey(), mtr))

	select {
	case op := <-arrived:
		require.Equal(t, reqOp.RequestID, op.RequestID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnRequestArrived")
	}
}

func TestSendRequestRejectsDuplicateRequestID(t *testing.T) {
	r, cancel := newRunningRouter(t)
	defer cancel()

	var friend, dest meshtypes.PublicKey
	friend[0], dest[0] = 7, 8

	require.NoError(t, r.AddFriend(friend))
	require.NoError(t, r.OpenCurrency(friend, "FST1"))
	require.NoError(t, r.do(func(rt *Router) error {
		rt.friends[friend].Channel.Direction = tokenchannel.DirectionOutgoing
		rt.friends[friend].Channel.Currencies["FST1"].SetLocalMaxDebt(meshtypes.Uint128FromU64(1000))
		return nil
	}))

	route := meshtypes.Route{meshtypes.PublicKey{}, friend, dest}
	op := &wire.RequestSendFundsOp{RequestID: meshtypes.RequestID{1}, Route: route, DestPayment: meshtypes.Uint128FromU64(10)}

	require.NoError(t, r.SendRequest("FST1", op, 0))

	dup := &wire.RequestSendFundsOp{RequestID: meshtypes.RequestID{1}, Route: route, DestPayment: meshtypes.Uint128FromU64(5)}
	err := r.SendRequest("FST1", dup, 0)
	require.Error(t, err)
	kind, ok := merr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, merr.KindRequestAlreadyExists, kind)
}

func TestForwardRequestLockedDeductsOwnFeeAndQueuesRemainder(t *testing.T) {
	r, cancel := newRunningRouter(t)
	defer cancel()

	var incomingPK, outgoingPK meshtypes.PublicKey
	incomingPK[0], outgoingPK[0] = 1, 2

	require.NoError(t, r.AddFriend(incomingPK))
	require.NoError(t, r.AddFriend(outgoingPK))
	require.NoError(t, r.OpenCurrency(incomingPK, "FST1"))
	require.NoError(t, r.OpenCurrency(outgoingPK, "FST1"))

	var ready *wire.MoveTokenRequest
	r.OnMoveTokenReady = func(friend meshtypes.PublicKey, mt *wire.MoveTokenRequest) {
		ready = mt
	}

	route := meshtypes.Route{incomingPK, r.self, outgoingPK}
	op := &wire.RequestSendFundsOp{
		RequestID:   meshtypes.RequestID{9},
		Route:       route,
		DestPayment: meshtypes.Uint128FromU64(100),
		LeftFees:    meshtypes.Uint128FromU64(10),
	}

	require.NoError(t, r.do(func(rt *Router) error {
		rt.friends[incomingPK].Channel.Currencies["FST1"].SetRate(meshtypes.RateModel{Add: 3})
		rt.friends[outgoingPK].Channel.Currencies["FST1"].SetLocalMaxDebt(meshtypes.Uint128FromU64(1000))
		rt.friends[outgoingPK].Channel.Direction = tokenchannel.DirectionOutgoing
		return rt.forwardRequestLocked(incomingPK, "FST1", op, 1)
	}))

	require.NotNil(t, ready)
	ops := ready.MoveToken.OperationsByCurrency[0].Operations
	require.Len(t, ops, 1)
	forwarded, ok := ops[0].(*wire.RequestSendFundsOp)
	require.True(t, ok)
	require.Equal(t, meshtypes.Uint128FromU64(7), forwarded.LeftFees, "own fee of 3 deducted from left_fees of 10")

	require.NoError(t, r.do(func(rt *Router) error {
		oreq, exists := rt.openRequests[meshtypes.RequestID{9}]
		require.True(t, exists)
		require.Equal(t, outgoingPK, oreq.outgoing)
		require.Equal(t, incomingPK, oreq.incoming)
		require.Equal(t, meshtypes.Uint128FromU64(110), oreq.incomingAmount)
		require.Equal(t, meshtypes.Uint128FromU64(107), oreq.amount)
		return nil
	}))
}

func TestForwardRequestLockedRejectsFeeExceedingBudget(t *testing.T) {
	r, cancel := newRunningRouter(t)
	defer cancel()

	var incomingPK, outgoingPK meshtypes.PublicKey
	incomingPK[0], outgoingPK[0] = 1, 2
	require.NoError(t, r.AddFriend(incomingPK))
	require.NoError(t, r.AddFriend(outgoingPK))
	require.NoError(t, r.OpenCurrency(incomingPK, "FST1"))
	require.NoError(t, r.OpenCurrency(outgoingPK, "FST1"))

	route := meshtypes.Route{incomingPK, r.self, outgoingPK}
	op := &wire.RequestSendFundsOp{
		RequestID:   meshtypes.RequestID{4},
		Route:       route,
		DestPayment: meshtypes.Uint128FromU64(100),
		LeftFees:    meshtypes.Uint128FromU64(1),
	}

	err := r.do(func(rt *Router) error {
		rt.friends[incomingPK].Channel.Currencies["FST1"].SetRate(meshtypes.RateModel{Add: 50})
		rt.friends[outgoingPK].Channel.Currencies["FST1"].SetLocalMaxDebt(meshtypes.Uint128FromU64(1000))
		return rt.forwardRequestLocked(incomingPK, "FST1", op, 1)
	})
	require.Error(t, err)
}

func TestSetFriendOfflineCancelsStrandedRequestDownstream(t *testing.T) {
	r, cancel := newRunningRouter(t)
	defer cancel()

	var upstream, downstream meshtypes.PublicKey
	upstream[0], downstream[0] = 1, 2
	require.NoError(t, r.AddFriend(upstream))
	require.NoError(t, r.AddFriend(downstream))
	require.NoError(t, r.OpenCurrency(upstream, "FST1"))
	require.NoError(t, r.OpenCurrency(downstream, "FST1"))

	var flushed meshtypes.PublicKey
	r.OnMoveTokenReady = func(friend meshtypes.PublicKey, mt *wire.MoveTokenRequest) {
		flushed = friend
	}

	require.NoError(t, r.do(func(rt *Router) error {
		rt.friends[upstream].Channel.Direction = tokenchannel.DirectionOutgoing
		rt.openRequests[meshtypes.RequestID{5}] = &openRequest{
			requestID:      meshtypes.RequestID{5},
			currency:       "FST1",
			incoming:       upstream,
			outgoing:       downstream,
			originator:     upstream,
			subroute:       meshtypes.Route{downstream},
			amount:         meshtypes.Uint128FromU64(20),
			incomingAmount: meshtypes.Uint128FromU64(20),
		}
		return rt.guard.AddFrozenCredit(downstream, upstream, meshtypes.Route{downstream}, meshtypes.Uint128FromU64(20), meshtypes.Uint128FromU64(1000))
	}))

	// downstream (the friend actually going offline) is where credit sits
	// frozen; the surviving side of the request is upstream, which is the
	// one that gets notified with a queued Cancel.
	require.NoError(t, r.SetFriendOffline(downstream))

	require.Equal(t, upstream, flushed, "cancel queued back toward the surviving upstream friend")

	require.NoError(t, r.do(func(rt *Router) error {
		_, exists := rt.openRequests[meshtypes.RequestID{5}]
		require.False(t, exists)
		return nil
	}))
}

func TestSetFriendOfflineReleasesFreezeWhenUpstreamGoesOffline(t *testing.T) {
	r, cancel := newRunningRouter(t)
	defer cancel()

	var upstream, downstream meshtypes.PublicKey
	upstream[0], downstream[0] = 1, 2
	require.NoError(t, r.AddFriend(upstream))
	require.NoError(t, r.AddFriend(downstream))
	require.NoError(t, r.OpenCurrency(upstream, "FST1"))
	require.NoError(t, r.OpenCurrency(downstream, "FST1"))

	require.NoError(t, r.do(func(rt *Router) error {
		rt.openRequests[meshtypes.RequestID{5}] = &openRequest{
			requestID:      meshtypes.RequestID{5},
			currency:       "FST1",
			incoming:       upstream,
			outgoing:       downstream,
			originator:     upstream,
			subroute:       meshtypes.Route{downstream},
			amount:         meshtypes.Uint128FromU64(20),
			incomingAmount: meshtypes.Uint128FromU64(20),
		}
		return rt.guard.AddFrozenCredit(downstream, upstream, meshtypes.Route{downstream}, meshtypes.Uint128FromU64(20), meshtypes.Uint128FromU64(1000))
	}))

	// upstream, the friend who is no longer reachable to receive a Cancel,
	// going offline should still release the credit frozen downstream.
	require.NoError(t, r.SetFriendOffline(upstream))

	require.NoError(t, r.do(func(rt *Router) error {
		_, exists := rt.openRequests[meshtypes.RequestID{5}]
		require.False(t, exists)
		require.True(t, rt.guard.FrozenFor(downstream, upstream).IsZero(), "freeze released")
		return nil
	}))
}

func TestSetFriendOfflineNotifiesOriginatorViaCallback(t *testing.T) {
	r, cancel := newRunningRouter(t)
	defer cancel()

	var downstream meshtypes.PublicKey
	downstream[0] = 2
	require.NoError(t, r.AddFriend(downstream))
	require.NoError(t, r.OpenCurrency(downstream, "FST1"))

	// A request this node itself originated (incoming is zero) reports
	// through OnCancelArrived instead of queuing a Cancel to a friend.
	require.NoError(t, r.do(func(rt *Router) error {
		rt.openRequests[meshtypes.RequestID{6}] = &openRequest{
			requestID:      meshtypes.RequestID{6},
			currency:       "FST1",
			outgoing:       downstream,
			originator:     r.self,
			subroute:       meshtypes.Route{downstream},
			amount:         meshtypes.Uint128FromU64(5),
			incomingAmount: meshtypes.Uint128FromU64(5),
		}
		return nil
	}))

	cancelled := make(chan *wire.CancelSendFundsOp, 1)
	r.OnCancelArrived = func(op *wire.CancelSendFundsOp) { cancelled <- op }

	require.NoError(t, r.SetFriendOffline(downstream))

	select {
	case op := <-cancelled:
		require.Equal(t, meshtypes.RequestID{6}, op.RequestID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnCancelArrived")
	}
}
