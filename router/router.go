// Package router implements the single-threaded cooperative event loop
// that dispatches Request/Response/Cancel operations between a node's
// open friends, enforces the freeze-guard, and projects index/report
// mutations as it goes (spec.md §4.4). It is modeled directly on
// htlcswitch/switch.go's Switch: one goroutine owns all routing state,
// reached only through a single inbound command channel, exactly the way
// Switch's htlcForwarder select loop owns its link/forwarding indexes.
package router

import (
	"context"
	"math/big"

	"github.com/creditmesh/meshnode/freezeguard"
	"github.com/creditmesh/meshnode/indexclient"
	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/mutualcredit"
	"github.com/creditmesh/meshnode/tokenchannel"
	"github.com/creditmesh/meshnode/wire"
	"github.com/creditmesh/meshnode/xcrypto"
)

// Liveness tracks whether a friend's transport link is believed reachable.
type Liveness uint8

const (
	// LivenessOffline is the default until SetFriendOnline is called.
	LivenessOffline Liveness = iota
	LivenessOnline
)

// Friend is the router's view of one open token channel plus the
// bookkeeping needed to route through it.
type Friend struct {
	PublicKey meshtypes.PublicKey
	Channel   *tokenchannel.Channel
	Liveness  Liveness

	// outbox holds signed move-tokens ready to be sent over the
	// transport, one at a time, in the order they were built.
	outbox []*wire.MoveTokenRequest
}

// openRequest tracks one Request currently in flight through this node,
// so a later Response/Cancel on the same RequestID can be routed back to
// the correct incoming friend and have its freeze released.
type openRequest struct {
	requestID  meshtypes.RequestID
	currency   meshtypes.Currency
	incoming   meshtypes.PublicKey // who sent us the Request (zero if we originated it)
	outgoing   meshtypes.PublicKey // who we forwarded the Request to (zero if it terminates here)
	originator meshtypes.PublicKey // the payer, for freeze-guard accounting
	subroute   meshtypes.Route     // route[hopIndex+1:] at freeze time, for freeze-guard release

	// amount is dest_payment+left_fees frozen on the OUTGOING leg against
	// the freeze-guard (zero if this node is the final hop).
	amount meshtypes.Uint128

	// incomingAmount is dest_payment+left_fees as received on the
	// INCOMING leg, i.e. what this hop's own ledger has frozen in
	// LocalPendingDebt/RemotePendingDebt. It differs from amount once a
	// forwarding fee has been deducted, and is the value carried on the
	// backward Response/Cancel so each hop settles exactly what it
	// itself froze (spec.md §4.1 "the side that carried the request
	// forward receives the fee").
	incomingAmount meshtypes.Uint128
}

// Router is the single-goroutine routing core for one node's identity. All
// state (friends, open requests, freeze-guard) is touched only from run(),
// reached exclusively through the channels below — mirroring Switch's
// "no locks on the hot path" design.
type Router struct {
	self   meshtypes.PublicKey
	signer xcrypto.Signer

	friends      map[meshtypes.PublicKey]*Friend
	openRequests map[meshtypes.RequestID]*openRequest
	guard        *freezeguard.Guard

	// Index publishes capacity mutations derived from each touched
	// currency after a move-token is sent or received (spec.md §4.4,
	// §4.7). Nil is accepted and simply skips publication, so tests and
	// callers that do not care about index visibility need not wire one.
	Index indexclient.Client

	commands chan func(*Router)
	quit     chan struct{}

	// OnMoveTokenReady is invoked (from the router goroutine) whenever a
	// friend has a move-token ready to be sent over the transport. It must
	// not block.
	OnMoveTokenReady func(friend meshtypes.PublicKey, mt *wire.MoveTokenRequest)

	// OnRequestArrived is invoked when a RequestSendFunds destined for
	// this node itself (the route's last hop) arrives, so the invoice
	// engine can decide whether to respond or cancel.
	OnRequestArrived func(from meshtypes.PublicKey, op *wire.RequestSendFundsOp)

	// OnResponseArrived is invoked when a ResponseSendFundsOp completes a
	// payment this node originated (the route's first hop).
	OnResponseArrived func(op *wire.ResponseSendFundsOp)

	// OnCancelArrived is invoked when a CancelSendFundsOp completes a
	// payment this node originated without it succeeding.
	OnCancelArrived func(op *wire.CancelSendFundsOp)
}

// New creates a Router for the node identified by self, signing outgoing
// move-tokens with signer.
func New(self meshtypes.PublicKey, signer xcrypto.Signer) *Router {
	return &Router{
		self:         self,
		signer:       signer,
		friends:      make(map[meshtypes.PublicKey]*Friend),
		openRequests: make(map[meshtypes.RequestID]*openRequest),
		guard:        freezeguard.New(),
		commands:     make(chan func(*Router)),
		quit:         make(chan struct{}),
	}
}

// Run is the router's main loop; it blocks until ctx is cancelled or Stop
// is called, processing one command at a time off the commands channel the
// way Switch.htlcForwarder processes one plexPacket at a time.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case cmd := <-r.commands:
			cmd(r)
		case <-r.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates Run.
func (r *Router) Stop() {
	close(r.quit)
}

// do submits fn to run on the router goroutine and blocks until it has
// run, returning the error fn produced. Only exported methods call do;
// internal helpers invoked from within an already-running command (e.g.
// HandleIncomingMoveToken's dispatch) must call the Locked variants
// directly to avoid deadlocking against this same channel.
func (r *Router) do(fn func(*Router) error) error {
	errCh := make(chan error, 1)
	r.commands <- func(rt *Router) {
		errCh <- fn(rt)
	}
	return <-errCh
}

// AddFriend registers a new open token channel.
func (r *Router) AddFriend(pk meshtypes.PublicKey) error {
	return r.do(func(rt *Router) error {
		if _, ok := rt.friends[pk]; ok {
			return merr.New(merr.KindTokenChannel, "friend %s already added", pk)
		}
		rt.friends[pk] = &Friend{PublicKey: pk, Channel: tokenchannel.New(rt.self, pk)}
		return nil
	})
}

// RemoveFriend drops a friend and fails any requests still open through it.
func (r *Router) RemoveFriend(pk meshtypes.PublicKey) error {
	return r.do(func(rt *Router) error {
		if _, ok := rt.friends[pk]; !ok {
			return merr.New(merr.KindTokenChannel, "friend %s not found", pk)
		}
		var stranded []*openRequest
		for _, oreq := range rt.openRequests {
			if oreq.outgoing == pk || oreq.incoming == pk {
				stranded = append(stranded, oreq)
			}
		}
		for _, oreq := range stranded {
			rt.failStrandedRequestLocked(oreq, pk)
		}
		delete(rt.friends, pk)
		return nil
	})
}

// OpenCurrency opens currency on the channel with friend.
func (r *Router) OpenCurrency(friend meshtypes.PublicKey, currency meshtypes.Currency) error {
	return r.do(func(rt *Router) error {
		f, ok := rt.friends[friend]
		if !ok {
			return merr.New(merr.KindTokenChannel, "friend %s not found", friend)
		}
		f.Channel.OpenCurrency(currency)
		return nil
	})
}

// SetFriendOnline marks pk as reachable over the transport.
func (r *Router) SetFriendOnline(pk meshtypes.PublicKey) error {
	return r.do(func(rt *Router) error {
		f, ok := rt.friends[pk]
		if !ok {
			return merr.New(merr.KindTokenChannel, "friend %s not found", pk)
		}
		f.Liveness = LivenessOnline
		return nil
	})
}

// SetFriendOffline marks pk unreachable and cancels every pending request
// routed through it in either direction: requests this node was waiting to
// forward through pk are cancelled back to their origin, and requests this
// node forwarded downstream of pk that were awaiting pk's settlement are
// likewise failed back, since pk can no longer carry a Response for them
// (spec.md §4.4 "set_friend_offline", scenario S5).
func (r *Router) SetFriendOffline(pk meshtypes.PublicKey) error {
	return r.do(func(rt *Router) error {
		f, ok := rt.friends[pk]
		if !ok {
			return merr.New(merr.KindTokenChannel, "friend %s not found", pk)
		}
		f.Liveness = LivenessOffline

		var stranded []*openRequest
		for _, oreq := range rt.openRequests {
			if oreq.outgoing == pk || oreq.incoming == pk {
				stranded = append(stranded, oreq)
			}
		}
		for _, oreq := range stranded {
			rt.failStrandedRequestLocked(oreq, pk)
		}
		return nil
	})
}

// failStrandedRequestLocked unwinds one request that can no longer be
// carried because friend offline just went offline: any freeze held
// downstream is released, and whichever side of the request is NOT the
// friend that just went offline is notified of the cancellation — the
// payer/forwarder upstream of offline via a queued Cancel, or this node's
// own caller via OnCancelArrived if this node was the originator.
func (rt *Router) failStrandedRequestLocked(oreq *openRequest, offline meshtypes.PublicKey) {
	delete(rt.openRequests, oreq.requestID)

	if !oreq.outgoing.IsZero() {
		_ = rt.guard.SubFrozenCredit(oreq.outgoing, oreq.originator, oreq.subroute, oreq.amount)
	}

	if oreq.incoming == offline {
		// the side we would notify is the one that just went offline.
		return
	}
	if oreq.incoming.IsZero() {
		if rt.OnCancelArrived != nil {
			rt.OnCancelArrived(&wire.CancelSendFundsOp{RequestID: oreq.requestID, Amount: oreq.incomingAmount})
		}
		return
	}

	f, ok := rt.friends[oreq.incoming]
	if !ok {
		return
	}
	cancel := &wire.CancelSendFundsOp{RequestID: oreq.requestID, Amount: oreq.incomingAmount}
	if err := f.Channel.QueueOperation(oreq.currency, cancel, tokenchannel.PriorityBackward); err != nil {
		return
	}
	rt.flushFriendLocked(f)
}

// SendRequest originates a RequestSendFunds this node itself is paying
// for, freezing credit through the freeze-guard against the first hop and
// queuing the operation on that hop's channel.
func (r *Router) SendRequest(currency meshtypes.Currency, op *wire.RequestSendFundsOp, hopIndex int) error {
	return r.do(func(rt *Router) error {
		return rt.sendRequestLocked(currency, op, hopIndex)
	})
}

func (rt *Router) sendRequestLocked(currency meshtypes.Currency, op *wire.RequestSendFundsOp, hopIndex int) error {
	if hopIndex < 0 || hopIndex+1 >= len(op.Route) {
		return merr.New(merr.KindInvalidRoute, "hop index %d out of range for route of length %d", hopIndex, len(op.Route))
	}
	if _, exists := rt.openRequests[op.RequestID]; exists {
		return merr.New(merr.KindRequestAlreadyExists, "request %s already open", op.RequestID)
	}

	nextHop := op.Route[hopIndex+1]
	originator := op.Route[0]
	subroute := op.Route[hopIndex+1:]

	f, ok := rt.friends[nextHop]
	if !ok {
		return merr.New(merr.KindInvalidRoute, "no open friend %s for next hop", nextHop)
	}
	mc, ok := f.Channel.Currencies[currency]
	if !ok {
		return merr.New(merr.KindTokenChannel, "currency %s not open with %s", currency, nextHop)
	}

	amount := op.DestPayment.Add(op.LeftFees)
	if err := rt.guard.AddFrozenCredit(nextHop, originator, subroute, amount, mc.LocalMaxDebt); err != nil {
		return err
	}

	if err := f.Channel.QueueOperation(currency, op, tokenchannel.PriorityUserRequest); err != nil {
		_ = rt.guard.SubFrozenCredit(nextHop, originator, subroute, amount)
		return err
	}

	var incoming meshtypes.PublicKey
	if hopIndex > 0 {
		incoming = op.Route[hopIndex-1]
	}
	rt.openRequests[op.RequestID] = &openRequest{
		requestID:      op.RequestID,
		currency:       currency,
		incoming:       incoming,
		outgoing:       nextHop,
		originator:     originator,
		subroute:       subroute,
		amount:         amount,
		incomingAmount: amount,
	}

	rt.flushFriendLocked(f)
	rt.publishIndexMutationLocked(f, currency)
	return nil
}

// forwardRequestLocked carries a RequestSendFundsOp one hop further along
// its route on behalf of incoming, deducting this node's own forwarding
// fee from left_fees before freezing the remainder downstream (spec.md
// §4.1 steps 2-3, §4.4 "incoming_friend_message").
func (rt *Router) forwardRequestLocked(incoming meshtypes.PublicKey, currency meshtypes.Currency, op *wire.RequestSendFundsOp, hopIndex int) error {
	if _, exists := rt.openRequests[op.RequestID]; exists {
		return merr.New(merr.KindRequestAlreadyExists, "request %s already open", op.RequestID)
	}

	nextHop := op.Route[hopIndex+1]
	originator := op.Route[0]
	subroute := op.Route[hopIndex+1:]

	inf, ok := rt.friends[incoming]
	if !ok {
		return merr.New(merr.KindTokenChannel, "incoming friend %s no longer open", incoming)
	}
	inMC, ok := inf.Channel.Currencies[currency]
	if !ok {
		return merr.New(merr.KindTokenChannel, "currency %s not open with %s", currency, incoming)
	}

	outf, ok := rt.friends[nextHop]
	if !ok {
		return merr.New(merr.KindInvalidRoute, "no open friend %s for next hop", nextHop)
	}
	outMC, ok := outf.Channel.Currencies[currency]
	if !ok {
		return merr.New(merr.KindTokenChannel, "currency %s not open with %s", currency, nextHop)
	}

	ownFee := inMC.Rate.CalcFee(op.DestPayment)
	if ownFee.Cmp(op.LeftFees) > 0 {
		return merr.New(merr.KindInsufficientTrust, "own fee %s exceeds left_fees %s budgeted by the sender", ownFee, op.LeftFees)
	}
	leftFeesForwarded := meshtypes.Uint128FromBig(new(big.Int).Sub(op.LeftFees.Big(), ownFee.Big()))

	forwarded := &wire.RequestSendFundsOp{
		RequestID:     op.RequestID,
		Route:         op.Route,
		SrcHashedLock: op.SrcHashedLock,
		DestPayment:   op.DestPayment,
		LeftFees:      leftFeesForwarded,
		InvoiceHash:   op.InvoiceHash,
	}

	incomingAmount := op.DestPayment.Add(op.LeftFees)
	outgoingAmount := op.DestPayment.Add(leftFeesForwarded)

	if err := rt.guard.AddFrozenCredit(nextHop, originator, subroute, outgoingAmount, outMC.LocalMaxDebt); err != nil {
		return err
	}
	if err := outf.Channel.QueueOperation(currency, forwarded, tokenchannel.PriorityForwarded); err != nil {
		_ = rt.guard.SubFrozenCredit(nextHop, originator, subroute, outgoingAmount)
		return err
	}

	rt.openRequests[op.RequestID] = &openRequest{
		requestID:      op.RequestID,
		currency:       currency,
		incoming:       incoming,
		outgoing:       nextHop,
		originator:     originator,
		subroute:       subroute,
		amount:         outgoingAmount,
		incomingAmount: incomingAmount,
	}

	rt.flushFriendLocked(outf)
	rt.publishIndexMutationLocked(outf, currency)
	return nil
}

// SettleRequest applies a ResponseSendFundsOp for a request this node
// forwarded or originated: releases the freeze-guard hold and queues the
// response back toward the incoming hop (or surfaces it locally if this
// node originated the payment).
func (r *Router) SettleRequest(op *wire.ResponseSendFundsOp) error {
	return r.do(func(rt *Router) error {
		return rt.settleRequestLocked(op)
	})
}

func (rt *Router) settleRequestLocked(op *wire.ResponseSendFundsOp) error {
	oreq, ok := rt.openRequests[op.RequestID]
	if !ok {
		return merr.New(merr.KindRequestDoesNotExist, "no open request %s", op.RequestID)
	}
	delete(rt.openRequests, op.RequestID)

	if !oreq.outgoing.IsZero() {
		if err := rt.guard.SubFrozenCredit(oreq.outgoing, oreq.originator, oreq.subroute, oreq.amount); err != nil {
			return err
		}
	}

	// This hop settles exactly what it itself froze on the incoming leg,
	// not what the next hop froze downstream — the difference is this
	// hop's forwarding fee (spec.md §4.1 "the side that carried the
	// request forward receives the fee").
	op.SettleAmount = oreq.incomingAmount

	if oreq.incoming.IsZero() {
		if rt.OnResponseArrived != nil {
			rt.OnResponseArrived(op)
		}
		return nil
	}

	f, ok := rt.friends[oreq.incoming]
	if !ok {
		return merr.New(merr.KindTokenChannel, "incoming friend %s no longer open", oreq.incoming)
	}
	if err := f.Channel.QueueOperation(oreq.currency, op, tokenchannel.PriorityBackward); err != nil {
		return err
	}
	rt.flushFriendLocked(f)
	rt.publishIndexMutationLocked(f, oreq.currency)
	return nil
}

// CancelRequest releases a request's freeze without settling it.
func (r *Router) CancelRequest(op *wire.CancelSendFundsOp) error {
	return r.do(func(rt *Router) error {
		return rt.cancelRequestLocked(op)
	})
}

func (rt *Router) cancelRequestLocked(op *wire.CancelSendFundsOp) error {
	oreq, ok := rt.openRequests[op.RequestID]
	if !ok {
		return merr.New(merr.KindRequestDoesNotExist, "no open request %s", op.RequestID)
	}
	delete(rt.openRequests, op.RequestID)

	if !oreq.outgoing.IsZero() {
		if err := rt.guard.SubFrozenCredit(oreq.outgoing, oreq.originator, oreq.subroute, oreq.amount); err != nil {
			return err
		}
	}

	op.Amount = oreq.incomingAmount

	if oreq.incoming.IsZero() {
		if rt.OnCancelArrived != nil {
			rt.OnCancelArrived(op)
		}
		return nil
	}

	f, ok := rt.friends[oreq.incoming]
	if !ok {
		return merr.New(merr.KindTokenChannel, "incoming friend %s no longer open", oreq.incoming)
	}
	if err := f.Channel.QueueOperation(oreq.currency, op, tokenchannel.PriorityBackward); err != nil {
		return err
	}
	rt.flushFriendLocked(f)
	rt.publishIndexMutationLocked(f, oreq.currency)
	return nil
}

// HandleIncomingMoveToken processes a move-token received from friend over
// the transport: it applies the token to the channel, dispatches any
// RequestSendFunds destined for this node to OnRequestArrived, forwards
// anything destined further along its route to the next hop, and dispatches
// Response/Cancel operations back through settleRequestLocked/
// cancelRequestLocked so backward traffic keeps flowing without the caller
// having to re-enter the router (spec.md §4.4 "incoming_friend_message").
func (r *Router) HandleIncomingMoveToken(friend meshtypes.PublicKey, mtr *wire.MoveTokenRequest) error {
	return r.do(func(rt *Router) error {
		f, ok := rt.friends[friend]
		if !ok {
			return merr.New(merr.KindTokenChannel, "friend %s not found", friend)
		}
		if err := f.Channel.ReceiveMoveToken(&mtr.MoveToken); err != nil {
			return err
		}

		for _, co := range mtr.MoveToken.OperationsByCurrency {
			currency := co.Currency
			for _, op := range co.Operations {
				switch o := op.(type) {
				case *wire.RequestSendFundsOp:
					idx := o.Route.IndexOf(rt.self)
					if idx < 0 {
						continue
					}
					if idx == len(o.Route)-1 {
						if _, exists := rt.openRequests[o.RequestID]; exists {
							// duplicate request_id within this channel
							// (spec.md §8 boundary case): reject the new
							// arrival, leave the original request alone.
							dup := &wire.CancelSendFundsOp{RequestID: o.RequestID, Amount: o.DestPayment.Add(o.LeftFees)}
							if qerr := f.Channel.QueueOperation(currency, dup, tokenchannel.PriorityBackward); qerr == nil {
								rt.flushFriendLocked(f)
							}
							continue
						}
						rt.openRequests[o.RequestID] = &openRequest{
							requestID:      o.RequestID,
							currency:       currency,
							incoming:       friend,
							originator:     o.Route[0],
							incomingAmount: o.DestPayment.Add(o.LeftFees),
						}
						if rt.OnRequestArrived != nil {
							rt.OnRequestArrived(friend, o)
						}
						continue
					}
					if err := rt.forwardRequestLocked(friend, currency, o, idx); err != nil {
						cancel := &wire.CancelSendFundsOp{RequestID: o.RequestID, Amount: o.DestPayment.Add(o.LeftFees)}
						if qerr := f.Channel.QueueOperation(currency, cancel, tokenchannel.PriorityBackward); qerr == nil {
							rt.flushFriendLocked(f)
						}
					}
				case *wire.ResponseSendFundsOp:
					_ = rt.settleRequestLocked(o)
				case *wire.CancelSendFundsOp:
					_ = rt.cancelRequestLocked(o)
				}
			}
		}

		rt.publishIndexMutationLocked(f, meshtypes.Currency(""))

		if mtr.TokenWanted && !f.Channel.HasPendingOperations() {
			rt.flushFriendLocked(f)
		}
		return nil
	})
}

// flushFriendLocked builds and dispatches a move-token for f whenever it
// holds the token, even with nothing queued (an empty move-token hands the
// token back), setting token_wanted when the batch
// cap left a remainder queued for the next round (spec.md §4.4
// "collect_outgoing_move_token").
func (rt *Router) flushFriendLocked(f *Friend) {
	if f.Channel.Direction != tokenchannel.DirectionOutgoing {
		return
	}
	mt, truncated, err := f.Channel.BuildMoveToken(rt.signer)
	if err != nil {
		return
	}
	mtr := &wire.MoveTokenRequest{MoveToken: *mt, TokenWanted: truncated}
	if rt.OnMoveTokenReady != nil {
		rt.OnMoveTokenReady(f.PublicKey, mtr)
	}
}

// publishIndexMutationLocked reports f's currently open currencies'
// receive capacity to the index client, per spec.md §4.4's mutation
// formula: recv_capacity = is_open ? max(0, remote_max_debt -
// (balance + remote_pending_debt)) : 0. An empty currency filters to "all
// currencies on f" (used after a move-token touches several at once);
// otherwise only that currency is reported.
func (rt *Router) publishIndexMutationLocked(f *Friend, only meshtypes.Currency) {
	if rt.Index == nil {
		return
	}
	var mutations []indexclient.IndexMutation
	for currency, mc := range f.Channel.Currencies {
		if only != "" && currency != only {
			continue
		}
		mutations = append(mutations, indexclient.IndexMutation{
			Friend:   f.PublicKey,
			Currency: currency,
			Capacity: recvCapacity(mc),
			Removed:  !mc.RemoteRequestsEnabled,
		})
	}
	if len(mutations) == 0 {
		return
	}
	_ = rt.Index.SendMutations(rt.self, mutations)
}

// recvCapacity is spec.md §4.7's recv_capacity formula, evaluated from
// this node's point of view for one currency's ledger.
func recvCapacity(mc *mutualcredit.MutualCredit) meshtypes.Uint128 {
	if !mc.RemoteRequestsEnabled {
		return meshtypes.ZeroUint128
	}
	committed := new(big.Int).Add(mc.Balance.Big(), mc.RemotePendingDebt.Big())
	avail := new(big.Int).Sub(mc.RemoteMaxDebt.Big(), committed)
	if avail.Sign() < 0 {
		return meshtypes.ZeroUint128
	}
	return meshtypes.Uint128FromBig(avail)
}

// ledgerFor looks up friend's ledger for currency. It reads router state
// directly, so it is only safe on the router goroutine.
func (r *Router) ledgerFor(friend meshtypes.PublicKey, currency meshtypes.Currency) (*mutualcredit.MutualCredit, bool) {
	f, ok := r.friends[friend]
	if !ok {
		return nil, false
	}
	mc, ok := f.Channel.Currencies[currency]
	return mc, ok
}

// Snapshot returns a read-only copy of balances across all open friends
// and currencies, for report projection. It runs its read on the router
// goroutine via do, so it must not itself be called from inside do.
func (r *Router) Snapshot() (map[meshtypes.PublicKey]map[meshtypes.Currency]meshtypes.Int128, error) {
	out := make(map[meshtypes.PublicKey]map[meshtypes.Currency]meshtypes.Int128)
	err := r.do(func(rt *Router) error {
		for pk, f := range rt.friends {
			cur := make(map[meshtypes.Currency]meshtypes.Int128, len(f.Channel.Currencies))
			for currency, mc := range f.Channel.Currencies {
				cur[currency] = mc.Balance
			}
			out[pk] = cur
		}
		return nil
	})
	return out, err
}
