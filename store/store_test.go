package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/tokenchannel"
)

func TestMemSaveLoadFriend(t *testing.T) {
	s := NewMem()

	var local, remote meshtypes.PublicKey
	local[0], remote[0] = 1, 2
	ch := tokenchannel.New(local, remote)
	ch.OpenCurrency("FST1")

	require.NoError(t, s.SaveFriend(FriendRecord{PublicKey: remote, Channel: ch}))

	loaded, err := s.LoadFriends()
	require.NoError(t, err)
	require.Contains(t, loaded, remote)
}

func TestMemDeleteFriendNotFound(t *testing.T) {
	s := NewMem()
	var pk meshtypes.PublicKey
	pk[0] = 9
	require.Error(t, s.DeleteFriend(pk))
}

func TestChannelEncodeDecodeRoundTrip(t *testing.T) {
	var local, remote meshtypes.PublicKey
	local[0], remote[0] = 1, 2
	ch := tokenchannel.New(local, remote)
	mc := ch.OpenCurrency("FST1")
	mc.LocalMaxDebt = meshtypes.Uint128FromU64(500)
	mc.RemoteRequestsEnabled = true

	var buf bytes.Buffer
	require.NoError(t, ch.Encode(&buf))

	decoded, err := tokenchannel.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, ch.LocalPublicKey, decoded.LocalPublicKey)
	require.Equal(t, ch.RemotePublicKey, decoded.RemotePublicKey)
	require.Equal(t, ch.State, decoded.State)
	require.Equal(t, ch.Direction, decoded.Direction)

	decodedMc, ok := decoded.Currencies["FST1"]
	require.True(t, ok)
	require.Equal(t, meshtypes.Uint128FromU64(500), decodedMc.LocalMaxDebt)
	require.True(t, decodedMc.RemoteRequestsEnabled)
}

func TestMemInvoiceRoundTrip(t *testing.T) {
	s := NewMem()
	rec := InvoiceRecord{
		ID:          meshtypes.InvoiceID{1},
		InvoiceHash: [32]byte{2},
		Currency:    "FST1",
		Total:       meshtypes.Uint128FromU64(100),
	}
	require.NoError(t, s.SaveInvoice(rec))

	loaded, err := s.LoadInvoices()
	require.NoError(t, err)
	require.Contains(t, loaded, rec.ID)
	require.NoError(t, s.DeleteInvoice(rec.ID))

	loaded, err = s.LoadInvoices()
	require.NoError(t, err)
	require.NotContains(t, loaded, rec.ID)
}
