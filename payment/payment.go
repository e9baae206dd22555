// Package payment implements the buyer-side multi-route payment state
// machine (spec.md §4.5): a payment is split across one or more routes,
// each tracked independently through SearchingRoute -> FoundRoute ->
// Sending -> Commit -> Success/Failure, until the whole payment either
// collects its receipt or fails on its first cancelled route. It is grounded on
// htlcswitch/switch.go's pendingPayment bookkeeping (one struct tracking
// an in-flight send awaiting a response down a channel) generalized from
// a single HTLC attempt to a set of concurrent per-route attempts sharing
// one logical payment.
package payment

import (
	"math/big"
	"sort"
	"sync"

	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/wire"
	"github.com/creditmesh/meshnode/xcrypto"
)

// Status is the payment's (and, per-route, a RouteAttempt's) position in
// the state machine of spec.md §4.5.
type Status uint8

const (
	StatusSearchingRoute Status = iota
	StatusFoundRoute
	StatusSending
	StatusCommit
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSearchingRoute:
		return "SearchingRoute"
	case StatusFoundRoute:
		return "FoundRoute"
	case StatusSending:
		return "Sending"
	case StatusCommit:
		return "Commit"
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// RouteCandidate is one candidate path plus the credit capacity and
// forwarding rate quoted for it by the index/router layer, as returned by
// RequestRoutes and fed into FoundRoute.
type RouteCandidate struct {
	Route    meshtypes.Route
	Capacity meshtypes.Uint128
	Rate     meshtypes.RateModel
}

// RouteAttempt tracks one route's progress toward settling part of a
// payment.
type RouteAttempt struct {
	Route     meshtypes.Route
	RequestID meshtypes.RequestID
	Amount    meshtypes.Uint128
	Status    Status
	Secret    xcrypto.PaymentSecret
	FailErr   error
}

// Commit is constructed from the first returning response of a payment's
// route attempts, carrying the fields the seller needs to atomically
// claim funds (spec.md §4.5 "Commit"). The buyer hands it to the seller
// out of band.
type Commit struct {
	ResponseHash     [32]byte
	SrcPlainLock     [32]byte
	DestHashedLock   meshtypes.HashLock
	DestPayment      meshtypes.Uint128
	TotalDestPayment meshtypes.Uint128
	InvoiceID        meshtypes.InvoiceID
	Currency         meshtypes.Currency
	Signature        meshtypes.Signature
}

// Receipt is the signed proof of payment collected once every route
// attempt has succeeded: the destination's ResponseSendFunds signatures
// chained together (spec.md §4.5 "Commit").
type Receipt struct {
	PaymentID        meshtypes.PaymentID
	InvoiceHash      [32]byte
	TotalDestPayment meshtypes.Uint128
	Responses        []*wire.ResponseSendFundsOp
	AckUID           meshtypes.AckUID
}

// Payment is one buyer-initiated multi-route payment attempt.
type Payment struct {
	mu sync.Mutex

	ID          meshtypes.PaymentID
	InvoiceID   meshtypes.InvoiceID
	InvoiceHash [32]byte
	Currency    meshtypes.Currency
	Dest        meshtypes.PublicKey
	TotalAmount meshtypes.Uint128

	Status Status

	confirmID  [16]byte
	candidates []RouteCandidate

	attempts map[meshtypes.RequestID]*RouteAttempt
	commit   *Commit
	receipt  *Receipt
	ackUID   meshtypes.AckUID
	done     bool
	doneErr  error

	// Sender is invoked to push a RequestSendFundsOp into the router for
	// a given attempt's first hop.
	Sender func(currency meshtypes.Currency, op *wire.RequestSendFundsOp, hopIndex int) error
}

// New creates a Payment for the given invoice and destination, in the
// SearchingRoute state (spec.md §4.5 "InitPayment").
func New(id meshtypes.PaymentID, invoiceID meshtypes.InvoiceID, invoiceHash [32]byte, currency meshtypes.Currency, dest meshtypes.PublicKey, total meshtypes.Uint128) *Payment {
	return &Payment{
		ID:          id,
		InvoiceID:   invoiceID,
		InvoiceHash: invoiceHash,
		Currency:    currency,
		Dest:        dest,
		TotalAmount: total,
		Status:      StatusSearchingRoute,
		attempts:    make(map[meshtypes.RequestID]*RouteAttempt),
	}
}

// FoundRoute records the candidate routes the index layer returned for
// this payment and generates a fresh confirm_id the caller must echo back
// via ConfirmPaymentFees before any credit is frozen (spec.md §4.5
// "FoundRoute"). Calling it again while still in SearchingRoute/FoundRoute
// replaces the candidate set and issues a new confirm_id.
func (p *Payment) FoundRoute(candidates []RouteCandidate) ([16]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Status != StatusSearchingRoute && p.Status != StatusFoundRoute {
		return [16]byte{}, merr.New(merr.KindRequestDoesNotExist, "payment %s is not searching for a route", p.ID)
	}
	if len(candidates) == 0 {
		return [16]byte{}, merr.New(merr.KindInvalidRoute, "no route candidates offered")
	}

	confirmID, err := xcrypto.RandomUID()
	if err != nil {
		return [16]byte{}, merr.Wrap(merr.KindDatabase, err)
	}

	p.candidates = candidates
	p.confirmID = confirmID
	p.Status = StatusFoundRoute
	return confirmID, nil
}

// ConfirmPaymentFees only progresses the payment if confirmID matches the
// one handed out by FoundRoute; a stale or mismatched id is acked as a
// no-op rather than an error, since a delayed duplicate confirmation from
// a retried client should not re-dispatch funds (spec.md §4.5
// "ConfirmPaymentFees"). On success it allocates one route per chosen
// candidate via cheapest-fee-first credit allocation, dispatches a
// RequestSendFunds per route through Sender, and moves to Sending.
func (p *Payment) ConfirmPaymentFees(confirmID [16]byte) error {
	p.mu.Lock()
	if p.Status != StatusFoundRoute || confirmID != p.confirmID {
		p.mu.Unlock()
		return nil
	}
	candidates := p.candidates
	p.mu.Unlock()

	allocations, err := allocateRoutes(candidates, p.TotalAmount)
	if err != nil {
		p.mu.Lock()
		p.Status = StatusFailure
		p.done = true
		p.doneErr = err
		p.ackUID = newAckUID()
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	if p.Status != StatusFoundRoute || confirmID != p.confirmID {
		p.mu.Unlock()
		return nil
	}
	p.Status = StatusSending
	p.mu.Unlock()

	for _, a := range allocations {
		if _, err := p.addRoute(a.route.Route, a.amount, a.route.Rate.CalcFee(a.amount)); err != nil {
			return err
		}
	}
	return nil
}

// newAckUID generates a fresh acknowledgement id, best-effort: a source of
// randomness failing here is no worse than the zero value, since a zero
// ack_uid still uniquely gates one AckPaymentDone call per terminal
// payment in practice.
func newAckUID() meshtypes.AckUID {
	uid, err := xcrypto.RandomUID()
	if err != nil {
		return meshtypes.AckUID{}
	}
	return meshtypes.AckUID(uid)
}

type routeAllocation struct {
	route  RouteCandidate
	amount meshtypes.Uint128
}

// allocateRoutes performs the multi-route credit allocation of spec.md
// §4.5: it chooses a subset of candidates and a per-route dest_payment
// such that the amounts sum to total and each route's allocation stays
// within its capacity, greedily preferring the cheapest-fee routes first.
// Any feasible choice is correct; this greedy policy is the reference
// implementation's choice, not the only valid one.
func allocateRoutes(candidates []RouteCandidate, total meshtypes.Uint128) ([]routeAllocation, error) {
	ordered := make([]RouteCandidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		feeI := ordered[i].Rate.CalcFee(ordered[i].Capacity)
		feeJ := ordered[j].Rate.CalcFee(ordered[j].Capacity)
		return feeI.Cmp(feeJ) < 0
	})

	remaining := total.Big()
	var allocations []routeAllocation
	for _, c := range ordered {
		if remaining.Sign() <= 0 {
			break
		}
		take := c.Capacity.Big()
		if take.Cmp(remaining) > 0 {
			take = remaining
		}
		if take.Sign() <= 0 {
			continue
		}
		allocations = append(allocations, routeAllocation{route: c, amount: meshtypes.Uint128FromBig(take)})
		remaining = new(big.Int).Sub(remaining, take)
	}
	if remaining.Sign() > 0 {
		return nil, merr.New(merr.KindInsufficientTrust, "route candidates cover only %s of %s requested", new(big.Int).Sub(total.Big(), remaining), total)
	}
	return allocations, nil
}

// addRoute registers a new route attempt carrying amount of the total
// payment, and immediately sends a RequestSendFunds down it. fee is the
// forwarding fee budget left along this route (own_fee + downstream
// fees), computed by the caller from the route's quoted rate.
func (p *Payment) addRoute(route meshtypes.Route, amount, fee meshtypes.Uint128) (*RouteAttempt, error) {
	if !route.IsValid() {
		return nil, merr.New(merr.KindInvalidRoute, "route is invalid: %v", route)
	}

	secret, err := xcrypto.NewPaymentSecret()
	if err != nil {
		return nil, merr.Wrap(merr.KindDatabase, err)
	}
	reqID, err := xcrypto.RandomUID()
	if err != nil {
		return nil, merr.Wrap(merr.KindDatabase, err)
	}

	attempt := &RouteAttempt{
		Route:     route,
		RequestID: meshtypes.RequestID(reqID),
		Amount:    amount,
		Status:    StatusSending,
		Secret:    secret,
	}

	p.mu.Lock()
	p.attempts[attempt.RequestID] = attempt
	currency := p.Currency
	sender := p.Sender
	p.mu.Unlock()

	op := &wire.RequestSendFundsOp{
		RequestID:     attempt.RequestID,
		Route:         route,
		SrcHashedLock: secret.HashedLock(),
		DestPayment:   amount,
		LeftFees:      fee,
		InvoiceHash:   p.InvoiceHash,
	}

	if sender != nil {
		if err := sender(currency, op, 0); err != nil {
			p.mu.Lock()
			attempt.Status = StatusFailure
			attempt.FailErr = err
			p.mu.Unlock()
			p.OnCancel(&wire.CancelSendFundsOp{RequestID: attempt.RequestID})
			return attempt, err
		}
	}
	return attempt, nil
}

// AddRoute is the single-route convenience path used by callers (and
// tests) that already know the route and fee budget to send, bypassing
// the FoundRoute/ConfirmPaymentFees negotiation. It leaves the payment's
// Status in Sending directly, matching a payment with exactly one
// candidate route confirmed immediately.
func (p *Payment) AddRoute(currency meshtypes.Currency, route meshtypes.Route, amount, leftFees meshtypes.Uint128) (*RouteAttempt, error) {
	p.mu.Lock()
	p.Currency = currency
	p.mu.Unlock()

	attempt, err := p.addRoute(route, amount, leftFees)
	if err != nil {
		return attempt, err
	}

	p.mu.Lock()
	if p.Status == StatusSearchingRoute || p.Status == StatusFoundRoute {
		p.Status = StatusSending
	}
	p.mu.Unlock()
	return attempt, nil
}

// OnResponse is called when a ResponseSendFundsOp arrives for one of this
// payment's route attempts. The first response received builds the
// payment's Commit (spec.md §4.5 "Commit is constructed from the first
// returning response"); once every attempt has a matching response the
// payment moves to Commit, awaiting RequestClosePayment to collect the
// receipt.
func (p *Payment) OnResponse(op *wire.ResponseSendFundsOp) {
	p.mu.Lock()
	defer p.mu.Unlock()

	attempt, ok := p.attempts[op.RequestID]
	if !ok || attempt.Status != StatusSending {
		return
	}
	attempt.Status = StatusSuccess

	if p.receipt == nil {
		p.receipt = &Receipt{
			PaymentID:        p.ID,
			InvoiceHash:      p.InvoiceHash,
			TotalDestPayment: op.TotalDestPayment,
		}
	}
	p.receipt.Responses = append(p.receipt.Responses, op)

	if p.commit == nil {
		p.commit = &Commit{
			SrcPlainLock:     attempt.Secret.PlainLock(),
			DestHashedLock:   op.DestHashedLock,
			DestPayment:      op.DestPayment,
			TotalDestPayment: op.TotalDestPayment,
			InvoiceID:        p.InvoiceID,
			Currency:         p.Currency,
			Signature:        op.Signature,
		}
	}

	p.maybeCommitLocked()
}

// OnCancel is called when a CancelSendFundsOp arrives for one of this
// payment's route attempts: that route failed. A single failed route
// fails the whole payment (spec.md §4.5's diagram: "any txn fails" exits
// Sending straight to Failure).
func (p *Payment) OnCancel(op *wire.CancelSendFundsOp) {
	p.mu.Lock()
	defer p.mu.Unlock()

	attempt, ok := p.attempts[op.RequestID]
	if !ok {
		return
	}
	attempt.Status = StatusFailure
	attempt.FailErr = merr.New(merr.KindInvalidRoute, "route %v cancelled", attempt.Route)

	if p.Status != StatusSuccess && p.Status != StatusFailure {
		p.Status = StatusFailure
		p.done = true
		p.doneErr = merr.New(merr.KindInvalidRoute, "payment %s: route %v cancelled", p.ID, attempt.Route)
		p.ackUID = newAckUID()
	}
}

// maybeCommitLocked moves the payment to Commit once every attempt has
// succeeded. Callers must hold p.mu.
func (p *Payment) maybeCommitLocked() {
	if p.Status != StatusSending {
		return
	}
	for _, a := range p.attempts {
		if a.Status != StatusSuccess {
			return
		}
	}
	p.Status = StatusCommit
}

// GetCommit returns the commit to hand the seller once the payment has
// reached the Commit state, or nil otherwise.
func (p *Payment) GetCommit() *Commit {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status != StatusCommit {
		return nil
	}
	return p.commit
}

// RequestClosePayment collects the payment's receipt once it has reached
// Commit, generates the ack_uid the caller returns to PaymentDone, and
// moves the payment to Success (spec.md §4.5 "RequestClosePayment
// collects receipt").
func (p *Payment) RequestClosePayment() (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Status != StatusCommit {
		return nil, merr.New(merr.KindRequestDoesNotExist, "payment %s has not reached Commit", p.ID)
	}

	p.ackUID = newAckUID()
	p.receipt.AckUID = p.ackUID
	p.Status = StatusSuccess
	p.done = true
	return p.receipt, nil
}

// CancelPayment applies spec.md §4.5's stage-dependent cancellation: in
// SearchingRoute/FoundRoute/Sending it fails the payment outright; in
// Commit it is acked-and-ignored, since the commit may already have been
// delivered to the seller and cancelling now could race an atomic fund
// release; in a terminal state it is acked-as-done.
func (p *Payment) CancelPayment() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.Status {
	case StatusSearchingRoute, StatusFoundRoute, StatusSending:
		p.Status = StatusFailure
		p.done = true
		p.doneErr = merr.New(merr.KindInvalidRoute, "payment %s cancelled", p.ID)
		p.ackUID = newAckUID()
		for _, a := range p.attempts {
			if a.Status != StatusSuccess && a.Status != StatusFailure {
				a.Status = StatusFailure
				a.FailErr = p.doneErr
			}
		}
	case StatusCommit:
		// too late to safely cancel; acked-and-ignored.
	case StatusSuccess, StatusFailure:
		// already terminal; acked-as-done.
	}
	return nil
}

// AckPaymentDone reports whether ackUID matches the one generated by
// RequestClosePayment, in which case the caller may safely remove this
// payment from its table (spec.md §4.5 "AckPaymentDone"). A mismatched
// uid is a safe no-op replay: it returns false without altering state.
func (p *Payment) AckPaymentDone(ackUID meshtypes.AckUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status != StatusSuccess && p.Status != StatusFailure {
		return false
	}
	return p.ackUID == ackUID
}

// Done reports whether the payment itself has finished (Success via
// RequestClosePayment, or Failure via a cancelled route or CancelPayment),
// and if so, the resulting error (nil on success). A payment whose attempts
// have all succeeded but which is still in Commit is not done.
func (p *Payment) Done() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.doneErr
}

// GetReceipt returns the assembled receipt once the payment has fully
// succeeded, or nil otherwise.
func (p *Payment) GetReceipt() *Receipt {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done && p.doneErr == nil {
		return p.receipt
	}
	return nil
}
