package invoice

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/wire"
	"github.com/creditmesh/meshnode/xcrypto"
)

func TestAcceptRequestAndClose(t *testing.T) {
	dest, err := xcrypto.NewIdentity()
	require.NoError(t, err)

	inv, err := New(meshtypes.InvoiceID{1}, [32]byte{9}, "FST1", meshtypes.Uint128FromU64(100))
	require.NoError(t, err)

	var buyer meshtypes.PublicKey
	buyer[0] = 5

	op := &wire.RequestSendFundsOp{
		RequestID:   meshtypes.RequestID{1},
		InvoiceHash: [32]byte{9},
		DestPayment: meshtypes.Uint128FromU64(100),
	}

	resp, err := inv.AcceptRequest(op, buyer, dest)
	require.NoError(t, err)
	require.Equal(t, dest.PublicKey(), resp.DestPublicKey)
	require.True(t, inv.IsFullyPaid())

	collects, err := inv.Close()
	require.NoError(t, err)
	require.Len(t, collects, 1)
	require.True(t, xcrypto.VerifyReveal(collects[0].PlainLock, inv.HashedLock()))
}

func TestAcceptRequestWrongInvoiceHashRejected(t *testing.T) {
	dest, err := xcrypto.NewIdentity()
	require.NoError(t, err)
	inv, err := New(meshtypes.InvoiceID{1}, [32]byte{9}, "FST1", meshtypes.Uint128FromU64(100))
	require.NoError(t, err)

	op := &wire.RequestSendFundsOp{RequestID: meshtypes.RequestID{1}, InvoiceHash: [32]byte{1}}
	_, err = inv.AcceptRequest(op, meshtypes.PublicKey{}, dest)
	require.Error(t, err)
}

func TestAcceptRequestOverpayRejected(t *testing.T) {
	dest, err := xcrypto.NewIdentity()
	require.NoError(t, err)
	inv, err := New(meshtypes.InvoiceID{1}, [32]byte{9}, "FST1", meshtypes.Uint128FromU64(100))
	require.NoError(t, err)

	op := &wire.RequestSendFundsOp{
		RequestID:   meshtypes.RequestID{1},
		InvoiceHash: [32]byte{9},
		DestPayment: meshtypes.Uint128FromU64(150),
	}
	_, err = inv.AcceptRequest(op, meshtypes.PublicKey{}, dest)
	require.Error(t, err)
}

func TestCloseBeforeFullyPaidFails(t *testing.T) {
	dest, err := xcrypto.NewIdentity()
	require.NoError(t, err)
	inv, err := New(meshtypes.InvoiceID{1}, [32]byte{9}, "FST1", meshtypes.Uint128FromU64(100))
	require.NoError(t, err)

	op := &wire.RequestSendFundsOp{
		RequestID:   meshtypes.RequestID{1},
		InvoiceHash: [32]byte{9},
		DestPayment: meshtypes.Uint128FromU64(40),
	}
	_, err = inv.AcceptRequest(op, meshtypes.PublicKey{}, dest)
	require.NoError(t, err)

	_, err = inv.Close()
	require.Error(t, err)
}

func TestMultiRouteInvoiceAcceptsUntilTotal(t *testing.T) {
	dest, err := xcrypto.NewIdentity()
	require.NoError(t, err)
	inv, err := New(meshtypes.InvoiceID{1}, [32]byte{9}, "FST1", meshtypes.Uint128FromU64(100))
	require.NoError(t, err)

	op1 := &wire.RequestSendFundsOp{RequestID: meshtypes.RequestID{1}, InvoiceHash: [32]byte{9}, DestPayment: meshtypes.Uint128FromU64(60)}
	op2 := &wire.RequestSendFundsOp{RequestID: meshtypes.RequestID{2}, InvoiceHash: [32]byte{9}, DestPayment: meshtypes.Uint128FromU64(40)}

	_, err = inv.AcceptRequest(op1, meshtypes.PublicKey{}, dest)
	require.NoError(t, err)
	require.False(t, inv.IsFullyPaid())

	_, err = inv.AcceptRequest(op2, meshtypes.PublicKey{}, dest)
	require.NoError(t, err)
	require.True(t, inv.IsFullyPaid())

	collects, err := inv.Close()
	require.NoError(t, err)
	require.Len(t, collects, 2)
}

func TestCommitInvoiceVerifiesThenSubmitsThenCloses(t *testing.T) {
	dest, err := xcrypto.NewIdentity()
	require.NoError(t, err)
	buyer, err := xcrypto.NewIdentity()
	require.NoError(t, err)

	inv, err := New(meshtypes.InvoiceID{1}, [32]byte{9}, "FST1", meshtypes.Uint128FromU64(100))
	require.NoError(t, err)

	op := &wire.RequestSendFundsOp{RequestID: meshtypes.RequestID{1}, InvoiceHash: [32]byte{9}, DestPayment: meshtypes.Uint128FromU64(100)}
	_, err = inv.AcceptRequest(op, meshtypes.PublicKey{}, dest)
	require.NoError(t, err)

	commit := &Commit{
		DestHashedLock:   inv.HashedLock(),
		DestPayment:      meshtypes.Uint128FromU64(100),
		TotalDestPayment: meshtypes.Uint128FromU64(100),
		InvoiceID:        inv.ID,
		Currency:         inv.Currency,
	}
	commit.Sign(buyer)

	var submitted []*wire.CollectSendFundsOp
	err = inv.CommitInvoice(commit, func(collects []*wire.CollectSendFundsOp) error {
		submitted = collects
		return nil
	})
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	require.Equal(t, StateClosed, inv.State)
}

func TestCommitInvoiceRejectsBadSignature(t *testing.T) {
	dest, err := xcrypto.NewIdentity()
	require.NoError(t, err)
	buyer, err := xcrypto.NewIdentity()
	require.NoError(t, err)

	inv, err := New(meshtypes.InvoiceID{1}, [32]byte{9}, "FST1", meshtypes.Uint128FromU64(100))
	require.NoError(t, err)

	op := &wire.RequestSendFundsOp{RequestID: meshtypes.RequestID{1}, InvoiceHash: [32]byte{9}, DestPayment: meshtypes.Uint128FromU64(100)}
	_, err = inv.AcceptRequest(op, meshtypes.PublicKey{}, dest)
	require.NoError(t, err)

	commit := &Commit{
		DestHashedLock:   inv.HashedLock(),
		DestPayment:      meshtypes.Uint128FromU64(100),
		TotalDestPayment: meshtypes.Uint128FromU64(100),
		InvoiceID:        inv.ID,
		Currency:         inv.Currency,
	}
	commit.Sign(buyer)
	commit.DestPayment = meshtypes.Uint128FromU64(99) // tamper after signing

	err = inv.CommitInvoice(commit, func([]*wire.CollectSendFundsOp) error {
		t.Fatal("submit must not run when verification fails")
		return nil
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, inv.State)
}
