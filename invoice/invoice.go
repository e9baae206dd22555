// Package invoice implements the seller-side invoice engine (spec.md
// §4.6): an invoice is opened for a destination amount, accepts one or
// more incoming RequestSendFunds operations against it (multi-route
// payments split credit across several incoming routes), and closes by
// revealing the payment secret once the accumulated dest_payment meets the
// invoice total. Grounded on zpay32/invoice.go's field layout (amount,
// description hash, payment hash) generalized from a single BOLT11
// document to this protocol's open/multi-accept/close lifecycle, and on
// channeldb's invoice-bucket accept/settle state transitions.
package invoice

import (
	"sync"

	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/wire"
	"github.com/creditmesh/meshnode/xcrypto"
)

// State is the invoice's lifecycle position.
type State uint8

const (
	StateOpen State = iota
	StateClosed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateClosed:
		return "Closed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Invoice is one seller-side invoice: a destination amount the seller
// expects to receive, identified by InvoiceHash, settled by revealing
// Secret once the accumulated incoming payments meet Total.
type Invoice struct {
	mu sync.Mutex

	ID          meshtypes.InvoiceID
	InvoiceHash [32]byte
	Currency    meshtypes.Currency
	Total       meshtypes.Uint128
	Secret      xcrypto.PaymentSecret

	State     State
	received  meshtypes.Uint128
	accepted  map[meshtypes.RequestID]acceptedRequest
}

type acceptedRequest struct {
	from   meshtypes.PublicKey
	amount meshtypes.Uint128
}

// New opens an invoice for total credits of currency, generating a fresh
// payment secret the buyer must eventually reveal to collect the last-hop
// funds.
func New(id meshtypes.InvoiceID, invoiceHash [32]byte, currency meshtypes.Currency, total meshtypes.Uint128) (*Invoice, error) {
	secret, err := xcrypto.NewPaymentSecret()
	if err != nil {
		return nil, merr.Wrap(merr.KindDatabase, err)
	}
	return &Invoice{
		ID:          id,
		InvoiceHash: invoiceHash,
		Currency:    currency,
		Total:       total,
		Secret:      secret,
		State:       StateOpen,
		accepted:    make(map[meshtypes.RequestID]acceptedRequest),
	}, nil
}

// HashedLock is the lock the seller publishes for buyers to target with
// RequestSendFunds.SrcHashedLock-derived routes; concretely it is the
// invoice's own secret's hashed form, propagated to the payer out of band.
func (inv *Invoice) HashedLock() meshtypes.HashLock {
	return inv.Secret.HashedLock()
}

// AcceptRequest records an incoming RequestSendFunds arriving as the last
// hop of a route targeting this invoice, and returns the ResponseSendFunds
// to send back immediately (this protocol, unlike BOLT11's hash-locked
// HTLC, reveals the destination's response signature at accept time — the
// plain lock is only revealed once all routes of the multi-route payment
// have been accepted, via Close).
func (inv *Invoice) AcceptRequest(op *wire.RequestSendFundsOp, from meshtypes.PublicKey, destID xcrypto.Signer) (*wire.ResponseSendFundsOp, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.State != StateOpen {
		return nil, merr.New(merr.KindRequestDoesNotExist, "invoice %s is not open", inv.ID)
	}
	if op.InvoiceHash != inv.InvoiceHash {
		return nil, merr.New(merr.KindSchema, "request targets a different invoice")
	}
	if _, exists := inv.accepted[op.RequestID]; exists {
		return nil, merr.New(merr.KindRequestAlreadyExists, "request %s already accepted", op.RequestID)
	}

	newTotal := inv.received.Add(op.DestPayment)
	if newTotal.Cmp(inv.Total) > 0 {
		return nil, merr.New(merr.KindSchema, "accepting %s would exceed invoice total %s", op.DestPayment, inv.Total)
	}

	inv.accepted[op.RequestID] = acceptedRequest{from: from, amount: op.DestPayment}
	inv.received = newTotal

	nonce, err := xcrypto.RandomNonce()
	if err != nil {
		return nil, merr.Wrap(merr.KindDatabase, err)
	}

	resp := &wire.ResponseSendFundsOp{
		RequestID:        op.RequestID,
		SrcHashedLock:    op.SrcHashedLock,
		DestHashedLock:   inv.HashedLock(),
		DestPayment:      op.DestPayment,
		TotalDestPayment: inv.Total,
		InvoiceHash:      inv.InvoiceHash,
		DestPublicKey:    destID.PublicKey(),
		RandNonce:        nonce,
	}
	buf := resp.SignedBuffer([32]byte{})
	resp.Signature = destID.Sign(buf)

	return resp, nil
}

// IsFullyPaid reports whether enough RequestSendFunds operations have been
// accepted to cover the invoice total.
func (inv *Invoice) IsFullyPaid() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.received.Cmp(inv.Total) >= 0
}

// Close reveals the plain lock for every accepted request, settling all of
// the invoice's incoming legs at once (spec.md §4.6: the seller only
// reveals the secret once the full invoice amount has been committed
// across all routes, so a partial multi-route payment cannot be partially
// collected).
func (inv *Invoice) Close() ([]*wire.CollectSendFundsOp, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.State != StateOpen {
		return nil, merr.New(merr.KindRequestDoesNotExist, "invoice %s is not open", inv.ID)
	}
	if inv.received.Cmp(inv.Total) < 0 {
		return nil, merr.New(merr.KindSchema, "invoice %s not yet fully paid: %s of %s", inv.ID, inv.received, inv.Total)
	}

	plain := inv.Secret.PlainLock()
	collects := make([]*wire.CollectSendFundsOp, 0, len(inv.accepted))
	for reqID := range inv.accepted {
		collects = append(collects, &wire.CollectSendFundsOp{RequestID: reqID, PlainLock: plain})
	}

	inv.State = StateClosed
	return collects, nil
}

// Commit is the buyer's proof that every route of a payment into this
// invoice has settled, submitted once to claim the invoice (spec.md §4.6
// "RequestVerifyCommit"). It carries the destination-signed response
// chain's final hash plus enough of the invoice's own fields for the
// seller to check it matches the invoice it actually opened, signed by the
// buyer who assembled it from the collected ResponseSendFunds chain.
type Commit struct {
	ResponseHash     [32]byte
	SrcPlainLock     [32]byte
	DestHashedLock   meshtypes.HashLock
	DestPayment      meshtypes.Uint128
	TotalDestPayment meshtypes.Uint128
	InvoiceID        meshtypes.InvoiceID
	Currency         meshtypes.Currency
	Signer           meshtypes.PublicKey
	Signature        meshtypes.Signature
}

func (c *Commit) signedBuffer() []byte {
	var buf []byte
	buf = append(buf, c.ResponseHash[:]...)
	buf = append(buf, c.SrcPlainLock[:]...)
	buf = append(buf, c.DestHashedLock[:]...)
	buf = append(buf, c.DestPayment[:]...)
	buf = append(buf, c.TotalDestPayment[:]...)
	buf = append(buf, c.InvoiceID[:]...)
	buf = append(buf, []byte(c.Currency)...)
	return buf
}

// Sign fills in Signer/Signature from signer over commit's canonical
// buffer, so the seller can later verify it with RequestVerifyCommit.
func (c *Commit) Sign(signer xcrypto.Signer) {
	c.Signer = signer.PublicKey()
	c.Signature = signer.Sign(c.signedBuffer())
}

// RequestVerifyCommit checks that commit is a valid claim against this
// invoice: the invoice must still be open, commit's currency/total/hashed
// lock must match what was opened, and commit's signature must verify
// under the signer it names (spec.md §4.6 "RequestVerifyCommit"). It is a
// pure check with no side effects, so a caller can verify before deciding
// whether to proceed to CommitInvoice.
func (inv *Invoice) RequestVerifyCommit(commit *Commit) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.State != StateOpen {
		return merr.New(merr.KindRequestDoesNotExist, "invoice %s is not open", inv.ID)
	}
	if commit.InvoiceID != inv.ID {
		return merr.New(merr.KindSchema, "commit targets a different invoice")
	}
	if commit.Currency != inv.Currency {
		return merr.New(merr.KindSchema, "commit currency %s does not match invoice currency %s", commit.Currency, inv.Currency)
	}
	if commit.TotalDestPayment.Cmp(inv.Total) != 0 {
		return merr.New(merr.KindSchema, "commit total %s does not match invoice total %s", commit.TotalDestPayment, inv.Total)
	}
	if commit.DestHashedLock != inv.HashedLock() {
		return merr.New(merr.KindSchema, "commit targets a different hashed lock")
	}
	if !xcrypto.Verify(commit.Signer, commit.signedBuffer(), commit.Signature) {
		return merr.New(merr.KindSignature, "commit signature invalid")
	}
	return nil
}

// CommitInvoice verifies commit, then submits the resulting
// CollectSendFunds operations downstream via submit, and only marks the
// invoice closed once submit succeeds. Submitting before updating local
// state means a crash between the two steps leaves the invoice open and
// retryable rather than closed with its collects un-submitted (spec.md
// §4.6 "CommitInvoice").
func (inv *Invoice) CommitInvoice(commit *Commit, submit func([]*wire.CollectSendFundsOp) error) error {
	if err := inv.RequestVerifyCommit(commit); err != nil {
		return err
	}

	inv.mu.Lock()
	if inv.received.Cmp(inv.Total) < 0 {
		inv.mu.Unlock()
		return merr.New(merr.KindSchema, "invoice %s not yet fully paid: %s of %s", inv.ID, inv.received, inv.Total)
	}
	plain := inv.Secret.PlainLock()
	collects := make([]*wire.CollectSendFundsOp, 0, len(inv.accepted))
	for reqID := range inv.accepted {
		collects = append(collects, &wire.CollectSendFundsOp{RequestID: reqID, PlainLock: plain})
	}
	inv.mu.Unlock()

	if err := submit(collects); err != nil {
		return err
	}

	inv.mu.Lock()
	inv.State = StateClosed
	inv.mu.Unlock()
	return nil
}

// Cancel abandons the invoice, e.g. on expiry before it was fully paid.
func (inv *Invoice) Cancel() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.State != StateOpen {
		return merr.New(merr.KindRequestDoesNotExist, "invoice %s is not open", inv.ID)
	}
	inv.State = StateCancelled
	return nil
}
