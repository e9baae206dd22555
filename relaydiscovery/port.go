package relaydiscovery

import (
	"encoding/binary"

	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/xcrypto"
)

const (
	minAssignedPort = 1024
	maxAssignedPort = 65535
)

// AssignedPort deterministically derives a relay port for a pair of
// friends and a relay host from their public keys and the host alone,
// without any negotiation over the wire. The result depends on the order
// of localPK and friendPK: the two sides obtain the same port only if they
// pass the two keys in the same order.
func AssignedPort(localPK, friendPK meshtypes.PublicKey, relayHost string) uint16 {
	h := xcrypto.HashSHA512_256(localPK[:], friendPK[:], []byte(relayHost))
	span := uint16(maxAssignedPort - minAssignedPort)
	return minAssignedPort + binary.BigEndian.Uint16(h[:2])%span
}
