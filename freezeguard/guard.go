// Package freezeguard bounds how much credit a node allows to be frozen
// downstream of it for a single payment, preventing a malicious originator
// from freezing credit across many parallel subroutes to exceed what a
// single route could ever settle (spec.md §4.3). Accounting is keyed four
// levels deep — frozen_to[downstream][upstream_origin][hash(subroute)] —
// so that concurrent subroutes sharing the same origin and the same
// remaining path are recognized as mutually exclusive outcomes rather than
// summed, grounded on elkrem/serdes.go's layered encode/decode structure
// and contractcourt/htlc_timeout_resolver.go's per-HTLC bookkeeping.
package freezeguard

import (
	"crypto/sha256"

	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
)

// SubrouteHash identifies the remaining path from the freezing node to the
// payment destination, collapsing the downstream public keys of the route
// into one comparable value (spec.md §4.3 "hash(subroute)").
type SubrouteHash [32]byte

// HashSubroute computes the subroute hash of the route segment still ahead
// of the local node: the next hop (inclusive) through the destination.
func HashSubroute(subroute meshtypes.Route) SubrouteHash {
	h := sha256.New()
	for _, pk := range subroute {
		h.Write(pk[:])
	}
	var out SubrouteHash
	copy(out[:], h.Sum(nil))
	return out
}

// subrouteFreezes tracks, for one (downstream, upstream_origin) pair, how
// much credit is frozen per distinct remaining subroute.
type subrouteFreezes map[SubrouteHash]meshtypes.Uint128

// originFreezes tracks subrouteFreezes per upstream origin.
type originFreezes map[meshtypes.PublicKey]subrouteFreezes

// Guard is the local node's freeze-guard state across all of its direct
// friends, keyed by the downstream friend credit is frozen against, then
// by the payment's originator, then by a hash of the route segment still
// ahead of the local node.
type Guard struct {
	frozenTo map[meshtypes.PublicKey]originFreezes
}

// New creates an empty freeze-guard.
func New() *Guard {
	return &Guard{frozenTo: make(map[meshtypes.PublicKey]originFreezes)}
}

// AddFrozenCredit attempts to freeze destPayment of credit against
// downstream on behalf of upstreamOrigin, for the given remaining
// subroute, bounded by maxFreeze (spec.md §4.3 "verify_freezing_links").
// Two requests sharing the same origin and the same subroute can never
// both settle — only one route can ever complete a payment — so their
// freezes are not summed: the bound is checked against shared_credits, the
// origin's usable_ratio-weighted commitment across its concurrent
// subroutes at downstream, which is the maximum of any single subroute's
// frozen amount rather than their sum.
func (g *Guard) AddFrozenCredit(downstream, upstreamOrigin meshtypes.PublicKey, subroute meshtypes.Route, destPayment, maxFreeze meshtypes.Uint128) error {
	origins, ok := g.frozenTo[downstream]
	if !ok {
		origins = make(originFreezes)
		g.frozenTo[downstream] = origins
	}
	routes, ok := origins[upstreamOrigin]
	if !ok {
		routes = make(subrouteFreezes)
		origins[upstreamOrigin] = routes
	}

	key := HashSubroute(subroute)
	candidate := routes[key].Add(destPayment)

	shared := sharedCredits(routes, key, candidate)
	if shared.Cmp(maxFreeze) > 0 {
		return merr.New(merr.KindFreezeGuardBlock,
			"freezing %s for origin %s at %s would raise shared usage to %s, exceeding bound %s",
			destPayment, upstreamOrigin, downstream, shared, maxFreeze)
	}

	routes[key] = candidate
	return nil
}

// sharedCredits is upstreamOrigin's usable_ratio-weighted liability across
// all of its concurrently frozen subroutes at one downstream friend: since
// only one subroute can ever collect, the origin's exposure is the largest
// single subroute's frozen amount, not their sum. candidate is the
// proposed new value for key, substituted into the comparison so a freeze
// can be evaluated before it is committed.
func sharedCredits(routes subrouteFreezes, key SubrouteHash, candidate meshtypes.Uint128) meshtypes.Uint128 {
	max := candidate
	for k, v := range routes {
		if k == key {
			continue
		}
		if v.Cmp(max) > 0 {
			max = v
		}
	}
	return max
}

// SubFrozenCredit releases amount previously frozen against downstream for
// upstreamOrigin along subroute, on settlement (Response) or release
// (Cancel) of the request that held it. Empty inner maps are pruned so an
// idle Guard holds no entries.
func (g *Guard) SubFrozenCredit(downstream, upstreamOrigin meshtypes.PublicKey, subroute meshtypes.Route, amount meshtypes.Uint128) error {
	origins, ok := g.frozenTo[downstream]
	if !ok {
		return merr.New(merr.KindFreezeGuardBlock, "no frozen credit tracked at %s", downstream)
	}
	routes, ok := origins[upstreamOrigin]
	if !ok {
		return merr.New(merr.KindFreezeGuardBlock, "no frozen credit tracked for origin %s at %s", upstreamOrigin, downstream)
	}

	key := HashSubroute(subroute)
	current, ok := routes[key]
	if !ok || current.Cmp(amount) < 0 {
		return merr.New(merr.KindFreezeGuardBlock,
			"cannot unfreeze %s for origin %s at %s: only %s frozen on this subroute", amount, upstreamOrigin, downstream, current)
	}

	next := current.Big()
	next.Sub(next, amount.Big())
	if next.Sign() == 0 {
		delete(routes, key)
	} else {
		routes[key] = meshtypes.Uint128FromBig(next)
	}
	if len(routes) == 0 {
		delete(origins, upstreamOrigin)
	}
	if len(origins) == 0 {
		delete(g.frozenTo, downstream)
	}
	return nil
}

// VerifyFreezingLinks checks that freezing destPayment for upstreamOrigin
// along subroute at downstream would stay within maxFreeze, without
// committing the freeze. Callers that only need an admission check — e.g.
// a router deciding whether to even attempt AddFrozenCredit on a path it
// may still abandon for other reasons — use this to avoid mutating state
// speculatively.
func (g *Guard) VerifyFreezingLinks(downstream, upstreamOrigin meshtypes.PublicKey, subroute meshtypes.Route, destPayment, maxFreeze meshtypes.Uint128) error {
	var routes subrouteFreezes
	if origins, ok := g.frozenTo[downstream]; ok {
		routes = origins[upstreamOrigin]
	}
	if routes == nil {
		routes = make(subrouteFreezes)
	}
	key := HashSubroute(subroute)
	candidate := routes[key].Add(destPayment)
	shared := sharedCredits(routes, key, candidate)
	if shared.Cmp(maxFreeze) > 0 {
		return merr.New(merr.KindFreezeGuardBlock,
			"freezing %s for origin %s at %s would raise shared usage to %s, exceeding bound %s",
			destPayment, upstreamOrigin, downstream, shared, maxFreeze)
	}
	return nil
}

// FrozenFor returns the total credit currently frozen for upstreamOrigin at
// downstream across all of its concurrent subroutes (the raw sum, not the
// shared_credits bound), zero if none. Used for reporting.
func (g *Guard) FrozenFor(downstream, upstreamOrigin meshtypes.PublicKey) meshtypes.Uint128 {
	origins, ok := g.frozenTo[downstream]
	if !ok {
		return meshtypes.ZeroUint128
	}
	routes, ok := origins[upstreamOrigin]
	if !ok {
		return meshtypes.ZeroUint128
	}
	total := meshtypes.ZeroUint128
	for _, v := range routes {
		total = total.Add(v)
	}
	return total
}
