package xcrypto

import (
	"crypto/rand"
	"fmt"

	"github.com/creditmesh/meshnode/meshtypes"
)

// HashLockOf reduces a plain preimage to its hashed form via SHA-512/256,
// the function every hop along a route applies to the src_hashed_lock it
// is given so it never needs to learn the plain preimage itself.
func HashLockOf(plain [32]byte) meshtypes.HashLock {
	return meshtypes.HashLock(HashSHA512_256(plain[:]))
}

// PaymentSecret is the buyer-generated random secret a payment's hash-lock
// chain is rooted in, analogous in role to elkrem's seed: every request
// along the route carries a lock derived from it, and revealing the plain
// lock on settlement lets each hop release its frozen credit in turn.
type PaymentSecret [32]byte

// NewPaymentSecret generates a fresh random root secret for one payment.
func NewPaymentSecret() (PaymentSecret, error) {
	var s PaymentSecret
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("xcrypto: new payment secret: %w", err)
	}
	return s, nil
}

// PlainLock derives the plain (pre-hash) lock for this secret, the value
// revealed later in a CollectSendFunds (seller side) or a Commit (buyer
// side); a Response carries only hashed locks.
func (s PaymentSecret) PlainLock() [32]byte {
	return HMACSHA256(s[:], []byte("creditmesh/plain-lock"))
}

// HashedLock derives the hashed form of the plain lock: this is the value
// placed in the RequestSendFunds the buyer emits, and that every
// intermediate hop forwards unchanged.
func (s PaymentSecret) HashedLock() meshtypes.HashLock {
	return HashLockOf(s.PlainLock())
}

// VerifyReveal reports whether plainLock hashes to hashedLock, the check
// that a revealed plain lock (e.g. in a CollectSendFunds) matches its lock.
func VerifyReveal(plainLock [32]byte, hashedLock meshtypes.HashLock) bool {
	return HashLockOf(plainLock) == hashedLock
}
