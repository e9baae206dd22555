// Package tokenchannel implements the bilateral token-passing state
// machine between two friends (spec.md §4.2): whichever side holds the
// token may append operations and hand it back, while the other side can
// only wait, verify, and re-sign. It mirrors lnwallet/channel.go's
// LightningChannel in spirit — a single local+remote commitment chain kept
// consistent by signed state transitions — generalized from Lightning's
// unilateral-commitment-with-revocation scheme to this protocol's
// single-signature token handoff.
package tokenchannel

import (
	"sort"

	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/mutualcredit"
	"github.com/creditmesh/meshnode/wire"
	"github.com/creditmesh/meshnode/xcrypto"
)

// Priority classes an operation is queued under, drained in this order so
// a backlog of forwarded traffic never starves backward settlements or a
// user's own requests (spec.md §4.4 "collect_outgoing_move_token").
type Priority uint8

const (
	// PriorityBackward is for Response/Cancel/Collect operations settling
	// a request this node already forwarded or received.
	PriorityBackward Priority = iota
	// PriorityUserRequest is for RequestSendFunds this node itself
	// originates as a payer.
	PriorityUserRequest
	// PriorityForwarded is for RequestSendFunds this node is carrying on
	// behalf of an upstream friend.
	PriorityForwarded
)

// MaxOperationsInBatch caps how many operations a single move-token may
// carry. Anything beyond the cap is left queued for the next round, and
// the caller is expected to signal token_wanted so the peer hands the
// token back promptly instead of leaving the remainder stranded.
const MaxOperationsInBatch = 256

// queuedOp is one operation waiting to be flushed, tagged with the
// priority it was queued under.
type queuedOp struct {
	op       wire.Operation
	priority Priority
}

// Direction records which side currently holds the token (the right to
// append operations and move the state forward).
type Direction uint8

const (
	// DirectionOutgoing means the local node holds the token.
	DirectionOutgoing Direction = iota
	// DirectionIncoming means the remote friend holds the token.
	DirectionIncoming
)

// State is the overall consistency state of the channel.
type State uint8

const (
	// StateConsistent means both sides agree on the last move-token and
	// may continue exchanging tokens normally.
	StateConsistent State = iota
	// StateInconsistent means a mismatch was detected; no operations can
	// be applied until a reset is accepted by both sides.
	StateInconsistent
)

// Channel is the per-friend token channel, holding one MutualCredit ledger
// per open currency plus the move-token chaining state.
type Channel struct {
	LocalPublicKey  meshtypes.PublicKey
	RemotePublicKey meshtypes.PublicKey

	State     State
	Direction Direction

	// InconsistencyCounter increments every time the channel transitions
	// into StateInconsistent, so stale InconsistencyError/reset messages
	// from an earlier incident can be distinguished from current ones.
	InconsistencyCounter uint64

	// MoveTokenCounter is the number of move-tokens exchanged since the
	// channel was opened (or last reset).
	MoveTokenCounter meshtypes.Uint128

	// LastToken is the hash of the most recently accepted move-token's
	// signature; the next move-token's OldToken must equal this.
	LastToken [32]byte

	// Currencies holds one ledger per open currency, keyed by tag.
	Currencies map[meshtypes.Currency]*mutualcredit.MutualCredit

	// pendingOutgoing accumulates operations queued locally, waiting for
	// the token to be held so they can be flushed into a move-token.
	pendingOutgoing map[meshtypes.Currency][]queuedOp
}

// New creates a freshly opened channel between local and remote. The side
// whose public key sorts first bytewise starts holding the token, mirroring
// the deterministic tie-break spec.md §4.2 requires so both peers agree on
// the initial direction without negotiation.
func New(local, remote meshtypes.PublicKey) *Channel {
	dir := DirectionIncoming
	if lexLess(local, remote) {
		dir = DirectionOutgoing
	}
	return &Channel{
		LocalPublicKey:  local,
		RemotePublicKey: remote,
		State:           StateConsistent,
		Direction:       dir,
		Currencies:      make(map[meshtypes.Currency]*mutualcredit.MutualCredit),
		pendingOutgoing: make(map[meshtypes.Currency][]queuedOp),
	}
}

func lexLess(a, b meshtypes.PublicKey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// OpenCurrency adds a new ledger for currency if it does not already exist.
func (c *Channel) OpenCurrency(currency meshtypes.Currency) *mutualcredit.MutualCredit {
	if mc, ok := c.Currencies[currency]; ok {
		return mc
	}
	mc := mutualcredit.New(currency)
	c.Currencies[currency] = mc
	return mc
}

// QueueOperation appends op to the outgoing batch for currency under
// priority, to be flushed into the next move-token this side sends.
func (c *Channel) QueueOperation(currency meshtypes.Currency, op wire.Operation, priority Priority) error {
	if c.State != StateConsistent {
		return merr.New(merr.KindTokenChannel, "channel is inconsistent")
	}
	if c.Direction != DirectionOutgoing {
		return merr.New(merr.KindTokenChannel, "local side does not hold the token")
	}
	c.pendingOutgoing[currency] = append(c.pendingOutgoing[currency], queuedOp{op: op, priority: priority})
	return nil
}

// HasPendingOperations reports whether any currency has queued operations
// waiting to be flushed.
func (c *Channel) HasPendingOperations() bool {
	for _, ops := range c.pendingOutgoing {
		if len(ops) > 0 {
			return true
		}
	}
	return false
}

// BuildMoveToken assembles and signs the next outgoing move-token from the
// queued operations, applying them to each currency's ledger from the
// local point of view and snapshotting the resulting balances. It fails
// (leaving state untouched) if the local side does not hold the token or
// any queued operation cannot be applied.
//
// Queued operations are drained in priority order (backward settlements,
// then the node's own requests, then forwarded requests) up to
// MaxOperationsInBatch; anything left over stays queued for the next
// round. The returned bool reports whether a remainder was left behind, so
// the caller can set token_wanted on the envelope it sends (spec.md §4.4
// "collect_outgoing_move_token").
func (c *Channel) BuildMoveToken(signer xcrypto.Signer) (*wire.MoveToken, bool, error) {
	if c.Direction != DirectionOutgoing {
		return nil, false, merr.New(merr.KindTokenChannel, "local side does not hold the token")
	}
	if c.State != StateConsistent {
		return nil, false, merr.New(merr.KindTokenChannel, "channel is inconsistent")
	}

	saved := make(map[meshtypes.Currency]mutualcredit.MutualCredit, len(c.Currencies))
	for currency, mc := range c.Currencies {
		saved[currency] = *mc
	}
	restore := func() {
		for currency, s := range saved {
			*c.Currencies[currency] = s
		}
	}

	mt := &wire.MoveToken{
		OldToken:             c.LastToken,
		LocalPublicKey:       c.LocalPublicKey,
		RemotePublicKey:      c.RemotePublicKey,
		InconsistencyCounter: c.InconsistencyCounter,
		MoveTokenCounter:     c.MoveTokenCounter.Add(meshtypes.Uint128FromU64(1)),
	}

	currencies := make([]meshtypes.Currency, 0, len(c.pendingOutgoing))
	for currency := range c.pendingOutgoing {
		currencies = append(currencies, currency)
	}
	sort.Slice(currencies, func(i, j int) bool { return currencies[i] < currencies[j] })

	remaining := make(map[meshtypes.Currency][]queuedOp, len(c.pendingOutgoing))
	batched := 0
	truncated := false
	for _, currency := range currencies {
		queue := c.pendingOutgoing[currency]
		if len(queue) == 0 {
			continue
		}
		sort.SliceStable(queue, func(i, j int) bool { return queue[i].priority < queue[j].priority })

		take := len(queue)
		if batched+take > MaxOperationsInBatch {
			take = MaxOperationsInBatch - batched
			if take < 0 {
				take = 0
			}
		}
		if take < len(queue) {
			truncated = true
			remaining[currency] = append(remaining[currency], queue[take:]...)
		}
		if take == 0 {
			continue
		}
		batched += take

		mc, ok := c.Currencies[currency]
		if !ok {
			restore()
			return nil, false, merr.New(merr.KindTokenChannel, "no ledger open for currency %s", currency)
		}
		ops := make([]wire.Operation, take)
		for i, qo := range queue[:take] {
			ops[i] = qo.op
		}
		if err := applyLocalOutgoing(mc, ops); err != nil {
			restore()
			return nil, false, err
		}
		mt.OperationsByCurrency = append(mt.OperationsByCurrency, wire.CurrencyOperations{
			Currency:   currency,
			Operations: ops,
		})
	}

	nonce, err := xcrypto.RandomNonce()
	if err != nil {
		restore()
		return nil, false, merr.Wrap(merr.KindTokenChannel, err)
	}
	mt.RandNonce = nonce

	for currency, mc := range c.Currencies {
		mt.BalancesSnapshot = append(mt.BalancesSnapshot, wire.CurrencyBalanceSnapshot{
			Currency:          currency,
			Balance:           mc.Balance,
			LocalPendingDebt:  mc.LocalPendingDebt,
			RemotePendingDebt: mc.RemotePendingDebt,
		})
	}

	if err := mt.Sign(signer); err != nil {
		restore()
		return nil, false, err
	}

	c.pendingOutgoing = remaining
	c.MoveTokenCounter = mt.MoveTokenCounter
	c.LastToken = mt.TokenHash()
	c.Direction = DirectionIncoming

	return mt, truncated, nil
}

// applyLocalOutgoing updates mc from the sender's own point of view for the
// operations it is about to broadcast. A RequestSendFunds the local side
// originates or forwards freezes LocalPendingDebt (mirror image of the
// receiver's RemotePendingDebt accounting in mutualcredit.ApplyRequest). A
// Response/Cancel the local side sends settles a request it had earlier
// received on this same channel (RemotePendingDebt), releasing it via
// mutualcredit.ApplyResponse/ApplyCancel.
func applyLocalOutgoing(mc *mutualcredit.MutualCredit, ops []wire.Operation) error {
	for _, op := range ops {
		switch o := op.(type) {
		case *wire.EnableRequestsOp:
			mc.LocalRequestsEnabled = true
		case *wire.DisableRequestsOp:
			mc.LocalRequestsEnabled = false
		case *wire.SetRemoteMaxDebtOp:
			mc.SetLocalMaxDebt(o.Amount)
		case *wire.RequestSendFundsOp:
			mc.LocalPendingDebt = mc.LocalPendingDebt.Add(o.DestPayment.Add(o.LeftFees))
		case *wire.ResponseSendFundsOp:
			if err := mc.ApplyResponse(o.SettleAmount); err != nil {
				return err
			}
		case *wire.CancelSendFundsOp:
			if err := mc.ApplyCancel(o.Amount); err != nil {
				return err
			}
		case *wire.CollectSendFundsOp:
			// CollectSendFundsOp releases the incoming leg's lock; it does
			// not itself change ledger balances.
		}
	}
	return nil
}

// ReceiveMoveToken verifies and applies an incoming move-token from the
// remote friend: signature, token chaining, and per-currency operation
// application, then checks the claimed balance snapshot matches what was
// just computed locally (spec.md §4.2 step 3). A mismatch moves the
// channel to StateInconsistent rather than returning a plain error, since
// the caller must still respond with its own reset proposal.
func (c *Channel) ReceiveMoveToken(mt *wire.MoveToken) error {
	if c.Direction != DirectionIncoming {
		return merr.New(merr.KindTokenChannel, "local side holds the token; unexpected incoming move-token")
	}
	if c.State != StateConsistent {
		return merr.New(merr.KindTokenChannel, "channel is inconsistent")
	}
	if mt.OldToken != c.LastToken {
		c.markInconsistent()
		return merr.New(merr.KindTokenChannel, "move-token does not chain from last known token")
	}
	ok, err := mt.VerifySignature(c.RemotePublicKey)
	if err != nil {
		return merr.Wrap(merr.KindTokenChannel, err)
	}
	if !ok {
		c.markInconsistent()
		return merr.New(merr.KindSignature, "move-token signature invalid")
	}
	if mt.InconsistencyCounter != c.InconsistencyCounter {
		c.markInconsistent()
		return merr.New(merr.KindTokenChannel, "inconsistency counter mismatch: got %d, want %d",
			mt.InconsistencyCounter, c.InconsistencyCounter)
	}
	wantCounter := c.MoveTokenCounter.Add(meshtypes.Uint128FromU64(1))
	if mt.MoveTokenCounter.Cmp(wantCounter) != 0 {
		c.markInconsistent()
		return merr.New(merr.KindTokenChannel, "move-token counter mismatch: got %s, want %s",
			mt.MoveTokenCounter, wantCounter)
	}

	for _, co := range mt.OperationsByCurrency {
		mc, ok := c.Currencies[co.Currency]
		if !ok {
			mc = c.OpenCurrency(co.Currency)
		}
		if err := applyRemoteIncoming(mc, co.Operations); err != nil {
			c.markInconsistent()
			return err
		}
	}

	for _, snap := range mt.BalancesSnapshot {
		mc, ok := c.Currencies[snap.Currency]
		if !ok {
			c.markInconsistent()
			return merr.New(merr.KindTokenChannel, "balance snapshot for unknown currency %s", snap.Currency)
		}
		if mc.Balance != snap.Balance || mc.LocalPendingDebt.Cmp(snap.LocalPendingDebt) != 0 ||
			mc.RemotePendingDebt.Cmp(snap.RemotePendingDebt) != 0 {
			c.markInconsistent()
			return merr.New(merr.KindTokenChannel, "balance snapshot mismatch for currency %s", snap.Currency)
		}
	}

	c.MoveTokenCounter = mt.MoveTokenCounter
	c.LastToken = mt.TokenHash()
	c.Direction = DirectionOutgoing
	return nil
}

// applyRemoteIncoming applies operations the remote side originated, from
// the local node's point of view. A RequestSendFunds incoming freezes
// RemotePendingDebt against LocalMaxDebt (mutualcredit.ApplyRequest). A
// Response/Cancel the remote side sends settles a request the local side
// itself originated or forwarded on this channel (LocalPendingDebt),
// released via mutualcredit.ApplyResponseReceived/ApplyCancelReceived.
func applyRemoteIncoming(mc *mutualcredit.MutualCredit, ops []wire.Operation) error {
	for _, op := range ops {
		switch o := op.(type) {
		case *wire.EnableRequestsOp:
			mc.RemoteRequestsEnabled = true
		case *wire.DisableRequestsOp:
			mc.RemoteRequestsEnabled = false
		case *wire.SetRemoteMaxDebtOp:
			if err := mc.SetRemoteMaxDebt(o.Amount); err != nil {
				return err
			}
		case *wire.RequestSendFundsOp:
			if err := mc.ApplyRequest(o.DestPayment.Add(o.LeftFees)); err != nil {
				return err
			}
		case *wire.ResponseSendFundsOp:
			if err := mc.ApplyResponseReceived(o.SettleAmount); err != nil {
				return err
			}
		case *wire.CancelSendFundsOp:
			if err := mc.ApplyCancelReceived(o.Amount); err != nil {
				return err
			}
		case *wire.CollectSendFundsOp:
			// CollectSendFundsOp releases the incoming leg's lock; it does
			// not itself change ledger balances (those moved at Response
			// time). Reveal verification happens in the router/payment
			// layer, which holds the corresponding hashed lock.
		}
	}
	return nil
}

func (c *Channel) markInconsistent() {
	c.State = StateInconsistent
	c.InconsistencyCounter++
}

// ProposeReset builds the ResetTerms this side offers after detecting
// inconsistency: the balance each currency held before the mismatched
// move-token, keyed to the current InconsistencyCounter so stale replies
// can be rejected. ResetToken is freshly generated at random (spec.md
// §4.2 step 5) rather than reused from the last accepted token, so it
// cannot be predicted by an observer of the prior move-token exchange.
func (c *Channel) ProposeReset() ([]wire.ResetTerms, error) {
	token, err := xcrypto.RandomNonce()
	if err != nil {
		return nil, merr.Wrap(merr.KindTokenChannel, err)
	}
	terms := make([]wire.ResetTerms, 0, len(c.Currencies))
	for _, mc := range c.Currencies {
		terms = append(terms, wire.ResetTerms{
			ResetToken:           token,
			InconsistencyCounter: c.InconsistencyCounter,
			BalanceForReset:      mc.BalanceForReset(),
		})
	}
	return terms, nil
}

// AcceptReset restores StateConsistent using the agreed-upon balances,
// discarding all pending debt (spec.md §4.2 "a reset voids in-flight
// requests on both legs").
func (c *Channel) AcceptReset(newToken [32]byte, balances map[meshtypes.Currency]meshtypes.Int128) {
	for currency, bal := range balances {
		mc := c.OpenCurrency(currency)
		mc.Balance = bal
		mc.LocalPendingDebt = meshtypes.ZeroUint128
		mc.RemotePendingDebt = meshtypes.ZeroUint128
	}
	c.State = StateConsistent
	c.LastToken = newToken
	c.MoveTokenCounter = meshtypes.ZeroUint128
}
