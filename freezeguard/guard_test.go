package freezeguard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
)

func randPK(b byte) meshtypes.PublicKey {
	var pk meshtypes.PublicKey
	pk[0] = b
	return pk
}

func routeThrough(bs ...byte) meshtypes.Route {
	route := make(meshtypes.Route, len(bs))
	for i, b := range bs {
		route[i] = randPK(b)
	}
	return route
}

func TestAddFrozenCreditWithinBoundSucceeds(t *testing.T) {
	g := New()
	downstream := randPK(1)
	originator := randPK(2)
	subA := routeThrough(10, 11)
	subB := routeThrough(20, 21)

	require.NoError(t, g.AddFrozenCredit(downstream, originator, subA, meshtypes.Uint128FromU64(40), meshtypes.Uint128FromU64(100)))
	require.NoError(t, g.AddFrozenCredit(downstream, originator, subB, meshtypes.Uint128FromU64(90), meshtypes.Uint128FromU64(100)))
	require.Equal(t, meshtypes.Uint128FromU64(130), g.FrozenFor(downstream, originator))
}

func TestAddFrozenCreditSameSubrouteShared(t *testing.T) {
	// Two freezes on the same subroute for the same originator are
	// mutually exclusive outcomes: the bound applies to the larger of
	// the two, not their sum.
	g := New()
	downstream := randPK(1)
	originator := randPK(2)
	sub := routeThrough(10, 11)

	require.NoError(t, g.AddFrozenCredit(downstream, originator, sub, meshtypes.Uint128FromU64(60), meshtypes.Uint128FromU64(100)))
	require.NoError(t, g.AddFrozenCredit(downstream, originator, sub, meshtypes.Uint128FromU64(40), meshtypes.Uint128FromU64(100)))
}

func TestAddFrozenCreditDistinctSubroutesNotShared(t *testing.T) {
	// Two freezes on distinct subroutes are NOT mutually exclusive: both
	// could in principle complete, so the bound must hold across their
	// sum once both candidates are live on different subroutes.
	g := New()
	downstream := randPK(1)
	originator := randPK(2)
	subA := routeThrough(10, 11)
	subB := routeThrough(20, 21)

	require.NoError(t, g.AddFrozenCredit(downstream, originator, subA, meshtypes.Uint128FromU64(80), meshtypes.Uint128FromU64(100)))
	err := g.AddFrozenCredit(downstream, originator, subB, meshtypes.Uint128FromU64(30), meshtypes.Uint128FromU64(100))
	require.Error(t, err)
	kind, ok := merr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, merr.KindFreezeGuardBlock, kind)
	// blocked attempt must not have partially applied
	require.Equal(t, meshtypes.Uint128FromU64(80), g.FrozenFor(downstream, originator))
}

func TestDistinctOriginatorsTrackedIndependently(t *testing.T) {
	g := New()
	downstream := randPK(1)
	alice := randPK(2)
	bob := randPK(3)
	sub := routeThrough(10, 11)

	require.NoError(t, g.AddFrozenCredit(downstream, alice, sub, meshtypes.Uint128FromU64(90), meshtypes.Uint128FromU64(100)))
	require.NoError(t, g.AddFrozenCredit(downstream, bob, sub, meshtypes.Uint128FromU64(90), meshtypes.Uint128FromU64(100)))
}

func TestSubFrozenCreditReleasesCredit(t *testing.T) {
	g := New()
	downstream := randPK(1)
	originator := randPK(2)
	sub := routeThrough(10, 11)

	require.NoError(t, g.AddFrozenCredit(downstream, originator, sub, meshtypes.Uint128FromU64(50), meshtypes.Uint128FromU64(100)))
	require.NoError(t, g.SubFrozenCredit(downstream, originator, sub, meshtypes.Uint128FromU64(50)))
	require.True(t, g.FrozenFor(downstream, originator).IsZero())

	require.NoError(t, g.AddFrozenCredit(downstream, originator, sub, meshtypes.Uint128FromU64(100), meshtypes.Uint128FromU64(100)))
}

func TestSubFrozenCreditMoreThanFrozenFails(t *testing.T) {
	g := New()
	downstream := randPK(1)
	originator := randPK(2)
	sub := routeThrough(10, 11)

	require.NoError(t, g.AddFrozenCredit(downstream, originator, sub, meshtypes.Uint128FromU64(10), meshtypes.Uint128FromU64(100)))
	err := g.SubFrozenCredit(downstream, originator, sub, meshtypes.Uint128FromU64(20))
	require.Error(t, err)
}

func TestVerifyFreezingLinksDoesNotMutate(t *testing.T) {
	g := New()
	downstream := randPK(1)
	originator := randPK(2)
	sub := routeThrough(10, 11)

	require.NoError(t, g.VerifyFreezingLinks(downstream, originator, sub, meshtypes.Uint128FromU64(90), meshtypes.Uint128FromU64(100)))
	require.True(t, g.FrozenFor(downstream, originator).IsZero())

	err := g.VerifyFreezingLinks(downstream, originator, sub, meshtypes.Uint128FromU64(200), meshtypes.Uint128FromU64(100))
	require.Error(t, err)
}
