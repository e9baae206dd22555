// Package indexclient defines the interface a node uses to publish
// capacity mutations to an index server and query it for routes, plus a
// reference in-process implementation (localindex). Grounded on
// channeldb/graph.go's adjacency bookkeeping (ForEachChannel/ForEachNode),
// generalized from Bitcoin channel capacity to the signed per-currency
// credit capacity this protocol routes on.
package indexclient

import (
	"github.com/creditmesh/meshnode/meshtypes"
)

// IndexMutation is one capacity change a node reports about one of its
// own open channels.
type IndexMutation struct {
	Friend      meshtypes.PublicKey
	Currency    meshtypes.Currency
	Capacity    meshtypes.Uint128
	Removed     bool
}

// CapacityQuery asks for routes from Source to Dest carrying at least
// MinAmount of currency.
type CapacityQuery struct {
	Source    meshtypes.PublicKey
	Dest      meshtypes.PublicKey
	Currency  meshtypes.Currency
	MinAmount meshtypes.Uint128
}

// Client is the interface the router/report layer depends on to publish
// mutations and request candidate routes.
type Client interface {
	SendMutations(from meshtypes.PublicKey, mutations []IndexMutation) error
	RequestRoutes(query CapacityQuery) ([]meshtypes.Route, error)
}
