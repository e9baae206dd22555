// Package transport defines the interface the router/daemon consume to
// exchange wire.Message values with friends, plus a concrete TCP
// implementation (tcptransport.go). spec.md excludes the UDP+crypto
// transport the original system uses; this package is the pluggable
// net.Conn-based stand-in §9.3 of SPEC_FULL.md calls for, grounded on
// peer.go's outgoinMsg{msg, sentChan} queued-write pattern generalized
// from a single Lightning peer connection to this protocol's simpler
// one-message-at-a-time friend channel.
package transport

import (
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/wire"
)

// InboundMessage pairs a received wire.Message with the friend it arrived
// from.
type InboundMessage struct {
	From meshtypes.PublicKey
	Msg  wire.Message
}

// Transport is the interface the router/daemon depend on; it does not
// know about token channels or currencies, only that it moves wire
// messages to and from friends identified by public key.
type Transport interface {
	// SendFriendMessage delivers msg to the friend identified by pk over an
	// already open connection; it fails if no connection to pk is open.
	SendFriendMessage(pk meshtypes.PublicKey, msg wire.Message) error

	// Incoming is the channel inbound messages from any connected friend
	// arrive on.
	Incoming() <-chan InboundMessage

	// Close tears down every connection.
	Close() error
}
