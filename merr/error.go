// Package merr defines the kind-tagged error taxonomy consumed by the
// router, token channel, and mutual-credit ledger (spec.md §7). Unlike a
// flat set of sentinel errors (the style channeldb uses for its bucket
// lookups) these carry a Kind so callers such as the router can branch on
// category without string-matching.
package merr

import (
	stderrors "errors"
	"fmt"

	"github.com/go-errors/errors"
)

// Kind classifies an error into one of the categories spec.md §7 defines.
type Kind uint8

const (
	// KindSchema indicates a message could not be decoded.
	KindSchema Kind = iota
	// KindSignature indicates an invalid signature.
	KindSignature
	// KindTokenChannel indicates a counter mismatch, rejected operation,
	// or balance mismatch at the token-channel level.
	KindTokenChannel
	// KindInsufficientTrust: remote_max_debt would be exceeded.
	KindInsufficientTrust
	// KindInsufficientFunds: local_max_debt would be exceeded.
	KindInsufficientFunds
	// KindRequestAlreadyExists: duplicate request_id within a channel.
	KindRequestAlreadyExists
	// KindRequestDoesNotExist: response/cancel for an unknown request_id.
	KindRequestDoesNotExist
	// KindInvalidRoute: malformed or duplicate-visiting route.
	KindInvalidRoute
	// KindFreezeGuardBlock: freeze-guard rejected a forwarding request.
	KindFreezeGuardBlock
	// KindBalanceOverflow: an operation would overflow a 128-bit balance.
	KindBalanceOverflow
	// KindDatabase: persistence failure. Fatal; the node halts.
	KindDatabase
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "SchemaError"
	case KindSignature:
		return "SignatureError"
	case KindTokenChannel:
		return "TokenChannelError"
	case KindInsufficientTrust:
		return "InsufficientTrust"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindRequestAlreadyExists:
		return "RequestAlreadyExists"
	case KindRequestDoesNotExist:
		return "RequestDoesNotExist"
	case KindInvalidRoute:
		return "InvalidRoute"
	case KindFreezeGuardBlock:
		return "FreezeGuardBlock"
	case KindBalanceOverflow:
		return "BalanceOverflow"
	case KindDatabase:
		return "DatabaseError"
	default:
		return "UnknownError"
	}
}

// IsMcError reports whether k is one of the McError subcategories of
// spec.md §7, the set that triggers local-cancel-with-reason at the router
// rather than connection teardown or channel inconsistency.
func (k Kind) IsMcError() bool {
	switch k {
	case KindInsufficientTrust, KindInsufficientFunds, KindRequestAlreadyExists,
		KindRequestDoesNotExist, KindInvalidRoute, KindFreezeGuardBlock,
		KindBalanceOverflow:
		return true
	}
	return false
}

// Error is a kind-tagged, stack-trace-carrying error.
type Error struct {
	Kind Kind
	Msg  string
	Err  *errors.Error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap lets errors.Is/As see through to the underlying go-errors.Error.
func (e *Error) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// New creates a kind-tagged error with a captured stack trace.
func New(kind Kind, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind: kind,
		Msg:  msg,
		Err:  errors.New(msg),
	}
}

// Wrap attaches a Kind to an existing error while preserving its stack
// trace via go-errors/errors, mirroring the wrapping style used throughout
// the teacher's htlcswitch and discovery packages.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind: kind,
		Msg:  err.Error(),
		Err:  errors.Wrap(err, 1),
	}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var me *Error
	if stderrors.As(err, &me) {
		return me.Kind, true
	}
	return 0, false
}
