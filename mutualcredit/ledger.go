// Package mutualcredit implements the per-currency credit ledger between
// two friends: a signed balance plus the local and remote pending debt
// owed against requests still in flight. It is the single-currency analog
// of lnwallet/channel.go's commitment/updateLog pair, generalized from
// satoshi-denominated HTLCs to the signed Int128 balances and unsigned
// Uint128 pending debts of spec.md §4.1.
package mutualcredit

import (
	"math/big"

	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
)

// MutualCredit is the ledger state for one currency on one token channel,
// from the local node's point of view. Balance is signed: positive means
// the remote friend owes the local node, negative means the reverse.
type MutualCredit struct {
	Currency meshtypes.Currency

	Balance meshtypes.Int128

	// LocalPendingDebt is credit the local node has frozen on outgoing
	// requests it originated or forwarded, not yet settled or cancelled.
	LocalPendingDebt meshtypes.Uint128

	// RemotePendingDebt mirrors LocalPendingDebt for the remote side.
	RemotePendingDebt meshtypes.Uint128

	// LocalMaxDebt/RemoteMaxDebt are the trust limits each side extends:
	// the most the other side may ever owe before EnableRequests must be
	// withdrawn.
	LocalMaxDebt  meshtypes.Uint128
	RemoteMaxDebt meshtypes.Uint128

	LocalRequestsEnabled  bool
	RemoteRequestsEnabled bool

	// Rate is the forwarding fee this node charges when it carries a
	// RequestSendFunds across this channel toward RemotePublicKey
	// (spec.md §4.1 step 2 "own_fee"). It is local policy, not exchanged
	// with the remote friend.
	Rate meshtypes.RateModel
}

// New creates a zero-balance ledger for currency, as it exists the moment
// two friends first agree to open it.
func New(currency meshtypes.Currency) *MutualCredit {
	return &MutualCredit{Currency: currency}
}

// BalanceForReset is the value carried in a ResetTerms/InconsistencyError:
// the signed balance the proposing side believes is correct, ignoring all
// pending debt (which is, by definition, voided by a reset).
func (mc *MutualCredit) BalanceForReset() meshtypes.Int128 {
	return mc.Balance
}

// availableForRemoteRequest is the most new debt the remote side may incur
// against the local node before breaching LocalMaxDebt: max(0,
// LocalMaxDebt - currentRemoteDebt - RemotePendingDebt), where
// currentRemoteDebt is how much the remote side already owes (i.e.
// max(0, Balance)).
func (mc *MutualCredit) availableForRemoteRequest() meshtypes.Uint128 {
	owedByRemote := mc.Balance.Big() // positive Balance means remote owes local
	if owedByRemote.Sign() < 0 {
		owedByRemote.SetInt64(0)
	}
	committed := new(big.Int).Add(owedByRemote, mc.RemotePendingDebt.Big())

	avail := new(big.Int).Sub(mc.LocalMaxDebt.Big(), committed)
	if avail.Sign() < 0 {
		return meshtypes.ZeroUint128
	}
	return meshtypes.Uint128FromBig(avail)
}

// ApplyRequest freezes destPayment+leftFees of credit on the incoming leg
// from the remote friend (spec.md §4.1 "Request application"): the remote
// side is extending this much trust to the local node by forwarding the
// request, bounded by RemoteRequestsEnabled and the available trust limit.
func (mc *MutualCredit) ApplyRequest(amount meshtypes.Uint128) error {
	if !mc.RemoteRequestsEnabled {
		return merr.New(merr.KindInsufficientTrust, "remote requests disabled for currency %s", mc.Currency)
	}
	avail := mc.availableForRemoteRequest()
	if amount.Cmp(avail) > 0 {
		return merr.New(merr.KindInsufficientTrust, "requested %s exceeds available trust %s", amount, avail)
	}
	mc.RemotePendingDebt = mc.RemotePendingDebt.Add(amount)
	return nil
}

// ApplyResponse settles a previously frozen request: the frozen amount is
// released from RemotePendingDebt and credited to Balance in the local
// node's favor (the remote side now genuinely owes it).
func (mc *MutualCredit) ApplyResponse(amount meshtypes.Uint128) error {
	if amount.Cmp(mc.RemotePendingDebt) > 0 {
		return merr.New(merr.KindBalanceOverflow, "response amount %s exceeds pending debt %s", amount, mc.RemotePendingDebt)
	}
	mc.RemotePendingDebt = meshtypes.Uint128FromBig(
		new(big.Int).Sub(mc.RemotePendingDebt.Big(), amount.Big()))
	mc.Balance = mc.Balance.Add(meshtypes.Int128FromBig(amount.Big()))
	return nil
}

// ApplyCancel releases a previously frozen request without touching
// Balance: the credit reserved against RemotePendingDebt becomes available
// again.
func (mc *MutualCredit) ApplyCancel(amount meshtypes.Uint128) error {
	if amount.Cmp(mc.RemotePendingDebt) > 0 {
		return merr.New(merr.KindBalanceOverflow, "cancel amount %s exceeds pending debt %s", amount, mc.RemotePendingDebt)
	}
	mc.RemotePendingDebt = meshtypes.Uint128FromBig(
		new(big.Int).Sub(mc.RemotePendingDebt.Big(), amount.Big()))
	return nil
}

// ApplyResponseReceived settles, from the requester/forwarder's own side,
// a request this node originated or forwarded on this leg: the frozen
// LocalPendingDebt is released and Balance moves against the local node,
// since it consumed the credit it had reserved (mirror image of
// ApplyResponse, which settles the leg from the receiving side).
func (mc *MutualCredit) ApplyResponseReceived(amount meshtypes.Uint128) error {
	if amount.Cmp(mc.LocalPendingDebt) > 0 {
		return merr.New(merr.KindBalanceOverflow, "response amount %s exceeds pending debt %s", amount, mc.LocalPendingDebt)
	}
	mc.LocalPendingDebt = meshtypes.Uint128FromBig(
		new(big.Int).Sub(mc.LocalPendingDebt.Big(), amount.Big()))
	mc.Balance = mc.Balance.Add(meshtypes.Int128FromBig(amount.Big()).Negate())
	return nil
}

// ApplyCancelReceived is ApplyResponseReceived's counterpart for a
// cancelled request: LocalPendingDebt is released without touching
// Balance.
func (mc *MutualCredit) ApplyCancelReceived(amount meshtypes.Uint128) error {
	if amount.Cmp(mc.LocalPendingDebt) > 0 {
		return merr.New(merr.KindBalanceOverflow, "cancel amount %s exceeds pending debt %s", amount, mc.LocalPendingDebt)
	}
	mc.LocalPendingDebt = meshtypes.Uint128FromBig(
		new(big.Int).Sub(mc.LocalPendingDebt.Big(), amount.Big()))
	return nil
}

// SetRate updates the forwarding fee schedule this node charges on this
// channel.
func (mc *MutualCredit) SetRate(rate meshtypes.RateModel) {
	mc.Rate = rate
}

// SetLocalMaxDebt updates the trust limit the local node extends to the
// remote friend for this currency.
func (mc *MutualCredit) SetLocalMaxDebt(max meshtypes.Uint128) {
	mc.LocalMaxDebt = max
}

// SetRemoteMaxDebt updates the trust limit the remote friend has told the
// local node it extends. Rejected if it would fall below the credit
// already frozen against it (spec.md §4.1 "SetRemoteMaxDebt", §8 boundary
// "remote_max_debt lowered below remote_pending_debt is rejected").
func (mc *MutualCredit) SetRemoteMaxDebt(max meshtypes.Uint128) error {
	if max.Cmp(mc.RemotePendingDebt) < 0 {
		return merr.New(merr.KindInsufficientTrust,
			"remote_max_debt %s would fall below remote_pending_debt %s", max, mc.RemotePendingDebt)
	}
	mc.RemoteMaxDebt = max
	return nil
}
