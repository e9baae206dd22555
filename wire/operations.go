package wire

import (
	"fmt"
	"io"

	"github.com/creditmesh/meshnode/meshtypes"
)

// OpKind tags the operation variants of spec.md §3 ("Operation. One of:
// EnableRequests, DisableRequests, SetRemoteMaxDebt, RequestSendFunds,
// ResponseSendFunds, CancelSendFunds, CollectSendFunds").
type OpKind uint8

const (
	OpEnableRequests OpKind = iota + 1
	OpDisableRequests
	OpSetRemoteMaxDebt
	OpRequestSendFunds
	OpResponseSendFunds
	OpCancelSendFunds
	OpCollectSendFunds
)

func (k OpKind) String() string {
	switch k {
	case OpEnableRequests:
		return "EnableRequests"
	case OpDisableRequests:
		return "DisableRequests"
	case OpSetRemoteMaxDebt:
		return "SetRemoteMaxDebt"
	case OpRequestSendFunds:
		return "RequestSendFunds"
	case OpResponseSendFunds:
		return "ResponseSendFunds"
	case OpCancelSendFunds:
		return "CancelSendFunds"
	case OpCollectSendFunds:
		return "CollectSendFunds"
	default:
		return fmt.Sprintf("UnknownOp(%d)", uint8(k))
	}
}

// Operation is one entry in a MoveToken's per-currency operation batch.
type Operation interface {
	Kind() OpKind
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// EnableRequestsOp opens the local->remote requests_status on the channel.
type EnableRequestsOp struct{}

func (*EnableRequestsOp) Kind() OpKind          { return OpEnableRequests }
func (*EnableRequestsOp) Encode(io.Writer) error { return nil }
func (*EnableRequestsOp) Decode(io.Reader) error { return nil }

// DisableRequestsOp closes the local->remote requests_status.
type DisableRequestsOp struct{}

func (*DisableRequestsOp) Kind() OpKind          { return OpDisableRequests }
func (*DisableRequestsOp) Encode(io.Writer) error { return nil }
func (*DisableRequestsOp) Decode(io.Reader) error { return nil }

// SetRemoteMaxDebtOp updates the remote_max_debt the sender extends to its
// peer for this currency.
type SetRemoteMaxDebtOp struct {
	Amount meshtypes.Uint128
}

func (*SetRemoteMaxDebtOp) Kind() OpKind { return OpSetRemoteMaxDebt }

func (o *SetRemoteMaxDebtOp) Encode(w io.Writer) error {
	return writeUint128(w, o.Amount)
}

func (o *SetRemoteMaxDebtOp) Decode(r io.Reader) error {
	v, err := readUint128(r)
	if err != nil {
		return err
	}
	o.Amount = v
	return nil
}

// RequestSendFundsOp freezes credit on the forward leg of a hop, per
// spec.md §4.1 "Request application".
type RequestSendFundsOp struct {
	RequestID     meshtypes.RequestID
	Route         meshtypes.Route
	SrcHashedLock meshtypes.HashLock
	DestPayment   meshtypes.Uint128
	LeftFees      meshtypes.Uint128
	InvoiceHash   [32]byte
}

func (*RequestSendFundsOp) Kind() OpKind { return OpRequestSendFunds }

func (o *RequestSendFundsOp) Encode(w io.Writer) error {
	if err := writeRequestID(w, o.RequestID); err != nil {
		return err
	}
	if err := writeRoute(w, o.Route); err != nil {
		return err
	}
	if err := writeHashLock(w, o.SrcHashedLock); err != nil {
		return err
	}
	if err := writeUint128(w, o.DestPayment); err != nil {
		return err
	}
	if err := writeUint128(w, o.LeftFees); err != nil {
		return err
	}
	return writeFixed(w, o.InvoiceHash[:])
}

func (o *RequestSendFundsOp) Decode(r io.Reader) error {
	var err error
	if o.RequestID, err = readRequestID(r); err != nil {
		return err
	}
	if o.Route, err = readRoute(r); err != nil {
		return err
	}
	if o.SrcHashedLock, err = readHashLock(r); err != nil {
		return err
	}
	if o.DestPayment, err = readUint128(r); err != nil {
		return err
	}
	if o.LeftFees, err = readUint128(r); err != nil {
		return err
	}
	return readFixed(r, o.InvoiceHash[:])
}

// ResponseSendFundsOp collapses a frozen request into a settled balance
// change. The canonical signature buffer (spec.md §4.1) is
// hash(prev_hash, request_id, src_hashed_lock, dest_hashed_lock,
// dest_payment, total_dest_payment, invoice_hash, dest_public_key,
// rand_nonce), signed by the destination.
type ResponseSendFundsOp struct {
	RequestID         meshtypes.RequestID
	SrcHashedLock     meshtypes.HashLock
	DestHashedLock    meshtypes.HashLock
	DestPayment       meshtypes.Uint128
	TotalDestPayment  meshtypes.Uint128
	InvoiceHash       [32]byte
	DestPublicKey     meshtypes.PublicKey
	RandNonce         [32]byte
	Signature         meshtypes.Signature

	// SettleAmount is the credit this specific hop's leg had frozen
	// (dest_payment plus whatever left_fees were still attached at this
	// hop) and is therefore the amount this op releases from the ledger.
	// It is local bookkeeping set by whichever side enqueues the op and
	// is not part of the destination-signed buffer (spec.md §4.1 "the
	// side that carried the request forward receives the fee").
	SettleAmount meshtypes.Uint128
}

func (*ResponseSendFundsOp) Kind() OpKind { return OpResponseSendFunds }

// SignedBuffer reconstructs the canonical buffer the destination signs,
// chained from prevHash (the hash of the prior element in the response
// chain, or the zero hash for the first).
func (o *ResponseSendFundsOp) SignedBuffer(prevHash [32]byte) []byte {
	var buf []byte
	buf = append(buf, prevHash[:]...)
	buf = append(buf, o.RequestID[:]...)
	buf = append(buf, o.SrcHashedLock[:]...)
	buf = append(buf, o.DestHashedLock[:]...)
	buf = append(buf, o.DestPayment[:]...)
	buf = append(buf, o.TotalDestPayment[:]...)
	buf = append(buf, o.InvoiceHash[:]...)
	buf = append(buf, o.DestPublicKey[:]...)
	buf = append(buf, o.RandNonce[:]...)
	return buf
}

func (o *ResponseSendFundsOp) Encode(w io.Writer) error {
	if err := writeRequestID(w, o.RequestID); err != nil {
		return err
	}
	if err := writeHashLock(w, o.SrcHashedLock); err != nil {
		return err
	}
	if err := writeHashLock(w, o.DestHashedLock); err != nil {
		return err
	}
	if err := writeUint128(w, o.DestPayment); err != nil {
		return err
	}
	if err := writeUint128(w, o.TotalDestPayment); err != nil {
		return err
	}
	if err := writeFixed(w, o.InvoiceHash[:]); err != nil {
		return err
	}
	if err := writePublicKey(w, o.DestPublicKey); err != nil {
		return err
	}
	if err := writeFixed(w, o.RandNonce[:]); err != nil {
		return err
	}
	if err := writeSignature(w, o.Signature); err != nil {
		return err
	}
	return writeUint128(w, o.SettleAmount)
}

func (o *ResponseSendFundsOp) Decode(r io.Reader) error {
	var err error
	if o.RequestID, err = readRequestID(r); err != nil {
		return err
	}
	if o.SrcHashedLock, err = readHashLock(r); err != nil {
		return err
	}
	if o.DestHashedLock, err = readHashLock(r); err != nil {
		return err
	}
	if o.DestPayment, err = readUint128(r); err != nil {
		return err
	}
	if o.TotalDestPayment, err = readUint128(r); err != nil {
		return err
	}
	if err = readFixed(r, o.InvoiceHash[:]); err != nil {
		return err
	}
	if o.DestPublicKey, err = readPublicKey(r); err != nil {
		return err
	}
	if err = readFixed(r, o.RandNonce[:]); err != nil {
		return err
	}
	if o.Signature, err = readSignature(r); err != nil {
		return err
	}
	o.SettleAmount, err = readUint128(r)
	return err
}

// CancelSendFundsOp releases a frozen request without touching balance.
type CancelSendFundsOp struct {
	RequestID meshtypes.RequestID

	// Amount is the credit this hop's leg had frozen for RequestID, carried
	// so the receiving side can release its ledger without reconstructing
	// it from a pending-request table the token-channel layer does not
	// have access to (spec.md §4.1 "Cancel application").
	Amount meshtypes.Uint128
}

func (*CancelSendFundsOp) Kind() OpKind { return OpCancelSendFunds }

func (o *CancelSendFundsOp) Encode(w io.Writer) error {
	if err := writeRequestID(w, o.RequestID); err != nil {
		return err
	}
	return writeUint128(w, o.Amount)
}

func (o *CancelSendFundsOp) Decode(r io.Reader) error {
	id, err := readRequestID(r)
	if err != nil {
		return err
	}
	o.RequestID = id
	amt, err := readUint128(r)
	if err != nil {
		return err
	}
	o.Amount = amt
	return nil
}

// CollectSendFundsOp releases the incoming leg of a settled request by
// revealing the plain lock, emitted on the incoming leg once the
// corresponding Response has settled the outgoing leg (spec.md §4.1).
type CollectSendFundsOp struct {
	RequestID meshtypes.RequestID
	PlainLock [32]byte
}

func (*CollectSendFundsOp) Kind() OpKind { return OpCollectSendFunds }

func (o *CollectSendFundsOp) Encode(w io.Writer) error {
	if err := writeRequestID(w, o.RequestID); err != nil {
		return err
	}
	return writeFixed(w, o.PlainLock[:])
}

func (o *CollectSendFundsOp) Decode(r io.Reader) error {
	id, err := readRequestID(r)
	if err != nil {
		return err
	}
	o.RequestID = id
	return readFixed(r, o.PlainLock[:])
}

func makeEmptyOperation(k OpKind) (Operation, error) {
	switch k {
	case OpEnableRequests:
		return &EnableRequestsOp{}, nil
	case OpDisableRequests:
		return &DisableRequestsOp{}, nil
	case OpSetRemoteMaxDebt:
		return &SetRemoteMaxDebtOp{}, nil
	case OpRequestSendFunds:
		return &RequestSendFundsOp{}, nil
	case OpResponseSendFunds:
		return &ResponseSendFundsOp{}, nil
	case OpCancelSendFunds:
		return &CancelSendFundsOp{}, nil
	case OpCollectSendFunds:
		return &CollectSendFundsOp{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown operation kind %d", k)
	}
}

// WriteOperation encodes one tagged operation: [1-byte kind][body].
func WriteOperation(w io.Writer, op Operation) error {
	if err := writeUint8(w, uint8(op.Kind())); err != nil {
		return err
	}
	return op.Encode(w)
}

// ReadOperation decodes one tagged operation.
func ReadOperation(r io.Reader) (Operation, error) {
	k, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	op, err := makeEmptyOperation(OpKind(k))
	if err != nil {
		return nil, err
	}
	if err := op.Decode(r); err != nil {
		return nil, err
	}
	return op, nil
}

// MaxOperationsPerCurrency bounds a single currency's operation batch
// within one move-token, guarding against a hostile peer claiming an
// absurd count in the length prefix.
const MaxOperationsPerCurrency = 1 << 16

func writeOperations(w io.Writer, ops []Operation) error {
	if err := writeUint32(w, uint32(len(ops))); err != nil {
		return err
	}
	for _, op := range ops {
		if err := WriteOperation(w, op); err != nil {
			return err
		}
	}
	return nil
}

func readOperations(r io.Reader) ([]Operation, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxOperationsPerCurrency {
		return nil, fmt.Errorf("wire: operation batch too large: %d", n)
	}
	ops := make([]Operation, n)
	for i := range ops {
		op, err := ReadOperation(r)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}
