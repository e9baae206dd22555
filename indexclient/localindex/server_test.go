package localindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/indexclient"
	"github.com/creditmesh/meshnode/meshtypes"
)

func pk(b byte) meshtypes.PublicKey {
	var p meshtypes.PublicKey
	p[0] = b
	return p
}

func TestRequestRoutesFindsPath(t *testing.T) {
	s := New()
	a, b, c := pk(1), pk(2), pk(3)

	require.NoError(t, s.SendMutations(a, []indexclient.IndexMutation{
		{Friend: b, Currency: "FST1", Capacity: meshtypes.Uint128FromU64(100)},
	}))
	require.NoError(t, s.SendMutations(b, []indexclient.IndexMutation{
		{Friend: c, Currency: "FST1", Capacity: meshtypes.Uint128FromU64(100)},
	}))

	routes, err := s.RequestRoutes(indexclient.CapacityQuery{
		Source: a, Dest: c, Currency: "FST1", MinAmount: meshtypes.Uint128FromU64(50),
	})
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.Equal(t, meshtypes.Route{a, b, c}, routes[0])
}

func TestRequestRoutesRespectsMinAmount(t *testing.T) {
	s := New()
	a, b := pk(1), pk(2)
	require.NoError(t, s.SendMutations(a, []indexclient.IndexMutation{
		{Friend: b, Currency: "FST1", Capacity: meshtypes.Uint128FromU64(10)},
	}))

	_, err := s.RequestRoutes(indexclient.CapacityQuery{
		Source: a, Dest: b, Currency: "FST1", MinAmount: meshtypes.Uint128FromU64(50),
	})
	require.Error(t, err)
}

func TestRemovedMutationDropsEdge(t *testing.T) {
	s := New()
	a, b := pk(1), pk(2)
	require.NoError(t, s.SendMutations(a, []indexclient.IndexMutation{
		{Friend: b, Currency: "FST1", Capacity: meshtypes.Uint128FromU64(100)},
	}))
	require.NoError(t, s.SendMutations(a, []indexclient.IndexMutation{
		{Friend: b, Currency: "FST1", Removed: true},
	}))

	_, err := s.RequestRoutes(indexclient.CapacityQuery{
		Source: a, Dest: b, Currency: "FST1", MinAmount: meshtypes.Uint128FromU64(1),
	})
	require.Error(t, err)
}
