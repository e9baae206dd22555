package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/config"
	"github.com/creditmesh/meshnode/indexclient/localindex"
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/relaydiscovery"
	"github.com/creditmesh/meshnode/store"
	"github.com/creditmesh/meshnode/xcrypto"
)

func newTestDaemon(t *testing.T) (*Daemon, context.CancelFunc) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"

	id, err := xcrypto.NewIdentity()
	require.NoError(t, err)

	resolver := relaydiscovery.NewStaticResolver(nil)
	d := NewDaemon(&cfg, id, store.NewMem(), localindex.New(), resolver)

	ctx, cancel := context.WithCancel(context.Background())
	go d.router.Run(ctx)
	return d, cancel
}

func TestAddFriendUpdatesReportAndStore(t *testing.T) {
	d, cancel := newTestDaemon(t)
	defer cancel()

	var friend meshtypes.PublicKey
	friend[0] = 9
	require.NoError(t, d.AddFriend(friend))

	snap := d.Report()
	require.Contains(t, snap, friend)

	saved, err := d.store.LoadFriends()
	require.NoError(t, err)
	require.Contains(t, saved, friend)
}

func TestOpenCurrencyAppearsInReport(t *testing.T) {
	d, cancel := newTestDaemon(t)
	defer cancel()

	var friend meshtypes.PublicKey
	friend[0] = 3
	require.NoError(t, d.AddFriend(friend))
	require.NoError(t, d.OpenCurrency(friend, "FST1"))

	snap := d.Report()
	require.Contains(t, snap[friend].Balances, meshtypes.Currency("FST1"))
}

func TestCreateInvoiceIsTrackedByHash(t *testing.T) {
	d, cancel := newTestDaemon(t)
	defer cancel()

	id, err := d.CreateInvoice("FST1", meshtypes.Uint128FromU64(500))
	require.NoError(t, err)

	d.mu.Lock()
	_, ok := d.invoices[id]
	d.mu.Unlock()
	require.True(t, ok)
}

func TestSubscribeReceivesBroadcastMutation(t *testing.T) {
	d, cancel := newTestDaemon(t)
	defer cancel()

	ch, unsub := d.Subscribe()
	defer unsub()

	var friend meshtypes.PublicKey
	friend[0] = 5
	require.NoError(t, d.AddFriend(friend))

	select {
	case m := <-ch:
		require.Equal(t, friend, m.Friend)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mutation")
	}
}
