package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/wire"
	"github.com/creditmesh/meshnode/xcrypto"
)

func TestHandshakeAndMessageRoundTrip(t *testing.T) {
	serverID, err := xcrypto.NewIdentity()
	require.NoError(t, err)
	clientID, err := xcrypto.NewIdentity()
	require.NoError(t, err)

	server, err := NewTCPTransport(serverID, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := NewTCPTransport(clientID, "")
	require.NoError(t, err)
	defer client.Close()

	addr := server.listener.Addr().String()
	remotePK, err := client.Connect(addr)
	require.NoError(t, err)
	require.Equal(t, serverID.PublicKey(), remotePK)

	// Give the server side a moment to finish registering the accepted
	// connection before sending through it.
	var serverSidePeerPK = clientID.PublicKey()
	require.Eventually(t, func() bool {
		server.mu.Lock()
		_, ok := server.peers[serverSidePeerPK]
		server.mu.Unlock()
		return ok
	}, time.Second, 5*time.Millisecond)

	msg := &wire.RelaysUpdate{Generation: 1}
	require.NoError(t, client.SendFriendMessage(remotePK, msg))

	select {
	case inbound := <-server.Incoming():
		require.Equal(t, clientID.PublicKey(), inbound.From)
		ru, ok := inbound.Msg.(*wire.RelaysUpdate)
		require.True(t, ok)
		require.Equal(t, uint64(1), ru.Generation)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}
