package payment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/wire"
)

func testRoute() meshtypes.Route {
	var a, b meshtypes.PublicKey
	a[0], b[0] = 1, 2
	return meshtypes.Route{a, b}
}

func newTestPayment() *Payment {
	return New(meshtypes.PaymentID{1}, meshtypes.InvoiceID{1}, [32]byte{2}, "FST1", testRoute()[1], meshtypes.Uint128FromU64(100))
}

func TestSingleRoutePaymentSucceeds(t *testing.T) {
	p := newTestPayment()

	var sent *wire.RequestSendFundsOp
	p.Sender = func(currency meshtypes.Currency, op *wire.RequestSendFundsOp, hopIndex int) error {
		sent = op
		return nil
	}

	attempt, err := p.AddRoute("FST1", testRoute(), meshtypes.Uint128FromU64(100), meshtypes.Uint128FromU64(1))
	require.NoError(t, err)
	require.NotNil(t, sent)
	require.Equal(t, StatusSending, attempt.Status)

	done, err := p.Done()
	require.False(t, done)
	require.NoError(t, err)

	p.OnResponse(&wire.ResponseSendFundsOp{
		RequestID:        attempt.RequestID,
		TotalDestPayment: meshtypes.Uint128FromU64(100),
	})
	require.Equal(t, StatusCommit, p.Status)
	require.NotNil(t, p.GetCommit())

	receipt, err := p.RequestClosePayment()
	require.NoError(t, err)
	require.Len(t, receipt.Responses, 1)
	require.Equal(t, StatusSuccess, p.Status)

	done, err = p.Done()
	require.True(t, done)
	require.NoError(t, err)
	require.Equal(t, receipt, p.GetReceipt())

	require.True(t, p.AckPaymentDone(receipt.AckUID))
	require.False(t, p.AckPaymentDone(meshtypes.AckUID{0xff}))
}

func TestRouteCancelFailsPayment(t *testing.T) {
	p := newTestPayment()
	p.Sender = func(currency meshtypes.Currency, op *wire.RequestSendFundsOp, hopIndex int) error { return nil }

	attempt, err := p.AddRoute("FST1", testRoute(), meshtypes.Uint128FromU64(100), meshtypes.Uint128FromU64(1))
	require.NoError(t, err)

	p.OnCancel(&wire.CancelSendFundsOp{RequestID: attempt.RequestID})

	done, err := p.Done()
	require.True(t, done)
	require.Error(t, err)
	require.Nil(t, p.GetReceipt())
	require.Equal(t, StatusFailure, p.Status)
	require.True(t, p.AckPaymentDone(p.ackUID))
}

func TestMultiRoutePaymentWaitsForAll(t *testing.T) {
	p := newTestPayment()
	p.Sender = func(currency meshtypes.Currency, op *wire.RequestSendFundsOp, hopIndex int) error { return nil }

	a1, err := p.AddRoute("FST1", testRoute(), meshtypes.Uint128FromU64(60), meshtypes.Uint128FromU64(1))
	require.NoError(t, err)
	a2, err := p.AddRoute("FST1", testRoute(), meshtypes.Uint128FromU64(40), meshtypes.Uint128FromU64(1))
	require.NoError(t, err)

	p.OnResponse(&wire.ResponseSendFundsOp{RequestID: a1.RequestID, TotalDestPayment: meshtypes.Uint128FromU64(100)})
	require.NotEqual(t, StatusCommit, p.Status, "must wait for both routes")

	p.OnResponse(&wire.ResponseSendFundsOp{RequestID: a2.RequestID, TotalDestPayment: meshtypes.Uint128FromU64(100)})
	require.Equal(t, StatusCommit, p.Status)

	receipt, err := p.RequestClosePayment()
	require.NoError(t, err)
	require.Len(t, receipt.Responses, 2)

	done, err := p.Done()
	require.True(t, done)
	require.NoError(t, err)
}

func TestInvalidRouteRejected(t *testing.T) {
	p := newTestPayment()
	_, err := p.AddRoute("FST1", meshtypes.Route{testRoute()[0]}, meshtypes.Uint128FromU64(10), meshtypes.ZeroUint128)
	require.Error(t, err)
}

func TestFoundRouteAndConfirmPaymentFeesAllocatesCheapestFirst(t *testing.T) {
	p := newTestPayment()

	var sentAmounts []meshtypes.Uint128
	p.Sender = func(currency meshtypes.Currency, op *wire.RequestSendFundsOp, hopIndex int) error {
		sentAmounts = append(sentAmounts, op.DestPayment)
		return nil
	}

	cheap := RouteCandidate{Route: testRoute(), Capacity: meshtypes.Uint128FromU64(70), Rate: meshtypes.RateModel{Mul: 0, Add: 1}}
	expensive := RouteCandidate{Route: testRoute(), Capacity: meshtypes.Uint128FromU64(70), Rate: meshtypes.RateModel{Mul: 0, Add: 1000}}

	confirmID, err := p.FoundRoute([]RouteCandidate{expensive, cheap})
	require.NoError(t, err)
	require.Equal(t, StatusFoundRoute, p.Status)

	require.NoError(t, p.ConfirmPaymentFees(confirmID))
	require.Equal(t, StatusSending, p.Status)
	require.Len(t, sentAmounts, 2)
	require.Equal(t, meshtypes.Uint128FromU64(70), sentAmounts[0], "cheapest-fee route is allocated first")
	require.Equal(t, meshtypes.Uint128FromU64(30), sentAmounts[1])
}

func TestConfirmPaymentFeesIgnoresMismatchedConfirmID(t *testing.T) {
	p := newTestPayment()
	_, err := p.FoundRoute([]RouteCandidate{{Route: testRoute(), Capacity: meshtypes.Uint128FromU64(100)}})
	require.NoError(t, err)

	require.NoError(t, p.ConfirmPaymentFees([16]byte{0xff}))
	require.Equal(t, StatusFoundRoute, p.Status, "mismatched confirm_id is a no-op")
}

func TestCancelPaymentStageDependent(t *testing.T) {
	p := newTestPayment()
	require.NoError(t, p.CancelPayment())
	require.Equal(t, StatusFailure, p.Status)
	done, err := p.Done()
	require.True(t, done)
	require.Error(t, err)

	// Terminal state: a second cancel is acked-as-done, no error, no change.
	require.NoError(t, p.CancelPayment())
	require.Equal(t, StatusFailure, p.Status)
}

func TestCancelPaymentDuringCommitIsIgnored(t *testing.T) {
	p := newTestPayment()
	p.Sender = func(currency meshtypes.Currency, op *wire.RequestSendFundsOp, hopIndex int) error { return nil }
	attempt, err := p.AddRoute("FST1", testRoute(), meshtypes.Uint128FromU64(100), meshtypes.Uint128FromU64(1))
	require.NoError(t, err)
	p.OnResponse(&wire.ResponseSendFundsOp{RequestID: attempt.RequestID, TotalDestPayment: meshtypes.Uint128FromU64(100)})
	require.Equal(t, StatusCommit, p.Status)

	require.NoError(t, p.CancelPayment())
	require.Equal(t, StatusCommit, p.Status, "cancel during Commit is acked-and-ignored")
}

func TestAckPaymentDoneIdempotent(t *testing.T) {
	p := newTestPayment()
	p.Sender = func(currency meshtypes.Currency, op *wire.RequestSendFundsOp, hopIndex int) error { return nil }
	attempt, err := p.AddRoute("FST1", testRoute(), meshtypes.Uint128FromU64(100), meshtypes.Uint128FromU64(1))
	require.NoError(t, err)
	p.OnResponse(&wire.ResponseSendFundsOp{RequestID: attempt.RequestID, TotalDestPayment: meshtypes.Uint128FromU64(100)})
	receipt, err := p.RequestClosePayment()
	require.NoError(t, err)

	require.True(t, p.AckPaymentDone(receipt.AckUID))
	// Replaying with the same ack_uid is still safe (idempotent).
	require.True(t, p.AckPaymentDone(receipt.AckUID))
	require.False(t, p.AckPaymentDone(meshtypes.AckUID{1, 2, 3}))
}
