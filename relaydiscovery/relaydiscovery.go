// Package relaydiscovery defines the interface a node uses to resolve
// where a friend's relay can be reached. spec.md explicitly excludes the
// relay discovery mechanism itself as out of scope, and nothing in the
// example pack implements DHT-style peer discovery, so this stays a thin,
// directly-configured adapter rather than an invented discovery protocol.
package relaydiscovery

import (
	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/wire"
)

// Resolver resolves a friend's currently known relay addresses.
type Resolver interface {
	ResolveRelays(pk meshtypes.PublicKey) ([]wire.RelayAddress, error)
}

// StaticResolver answers from a fixed, directly-configured table —
// typically populated from the daemon's config file.
type StaticResolver struct {
	relays map[meshtypes.PublicKey][]wire.RelayAddress
}

// NewStaticResolver creates a resolver backed by table.
func NewStaticResolver(table map[meshtypes.PublicKey][]wire.RelayAddress) *StaticResolver {
	return &StaticResolver{relays: table}
}

func (s *StaticResolver) ResolveRelays(pk meshtypes.PublicKey) ([]wire.RelayAddress, error) {
	relays, ok := s.relays[pk]
	if !ok {
		return nil, merr.New(merr.KindSchema, "no relay configured for %s", pk)
	}
	return relays, nil
}
