// Package meshtypes defines the identifiers and value types shared across
// the token channel, router, and payment/invoice engines: public keys,
// signatures, currencies, 128-bit balances, and the various random
// identifiers (request, payment, invoice) that flow through the system.
package meshtypes

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// PublicKeySize is the length in bytes of an Ed25519 public key.
const PublicKeySize = 32

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = 64

// MaxCurrencyLen is the maximum length in bytes of a Currency tag.
const MaxCurrencyLen = 16

// PublicKey is a node's network identity: the raw Ed25519 public key.
type PublicKey [PublicKeySize]byte

// String returns the hex encoding of the public key.
func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

// IsZero reports whether p is the zero public key.
func (p PublicKey) IsZero() bool {
	return p == PublicKey{}
}

// MarshalText hex-encodes p, letting it serialize as a JSON string or map key.
func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a hex-encoded public key produced by MarshalText.
func (p *PublicKey) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("meshtypes: invalid public key hex: %w", err)
	}
	if len(b) != PublicKeySize {
		return fmt.Errorf("meshtypes: public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	copy(p[:], b)
	return nil
}

// Signature is a raw Ed25519 signature.
type Signature [SignatureSize]byte

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// Currency is a short ASCII tag identifying a unit of credit, e.g. "FST1".
type Currency string

// Validate reports whether c is a well-formed currency tag: non-empty,
// at most MaxCurrencyLen bytes, and printable ASCII.
func (c Currency) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("currency tag must not be empty")
	}
	if len(c) > MaxCurrencyLen {
		return fmt.Errorf("currency tag %q exceeds %d bytes", c, MaxCurrencyLen)
	}
	for _, r := range c {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("currency tag %q contains non-ASCII-printable byte", c)
		}
	}
	return nil
}

// Uint128Size is the wire width of a Uint128.
const Uint128Size = 16

// Uint128 is an unsigned 128-bit integer stored as 16 big-endian bytes. Go
// has no native u128; balances and pending debts are carried in this type
// and converted to/from math/big.Int for arithmetic.
type Uint128 [Uint128Size]byte

// ZeroUint128 is the additive identity.
var ZeroUint128 Uint128

// Uint128FromBig converts a non-negative big.Int into a Uint128. It panics
// if v is negative or does not fit in 128 bits; callers are expected to have
// already range-checked arithmetic results before converting back to wire
// form.
func Uint128FromBig(v *big.Int) Uint128 {
	if v.Sign() < 0 {
		panic("meshtypes: Uint128FromBig of negative value")
	}
	b := v.Bytes()
	if len(b) > Uint128Size {
		panic("meshtypes: Uint128FromBig overflow")
	}
	var out Uint128
	copy(out[Uint128Size-len(b):], b)
	return out
}

// Uint128FromU64 converts a uint64 into a Uint128.
func Uint128FromU64(v uint64) Uint128 {
	var out Uint128
	for i := 0; i < 8; i++ {
		out[Uint128Size-1-i] = byte(v >> (8 * uint(i)))
	}
	return out
}

// Big returns u as a math/big.Int.
func (u Uint128) Big() *big.Int {
	return new(big.Int).SetBytes(u[:])
}

// IsZero reports whether u is zero.
func (u Uint128) IsZero() bool {
	return u == ZeroUint128
}

// Add returns u+v as a Uint128, panicking on overflow past 128 bits.
func (u Uint128) Add(v Uint128) Uint128 {
	return Uint128FromBig(new(big.Int).Add(u.Big(), v.Big()))
}

// Cmp compares u and v the way big.Int.Cmp does.
func (u Uint128) Cmp(v Uint128) int {
	return u.Big().Cmp(v.Big())
}

func (u Uint128) String() string {
	return u.Big().String()
}

// MarshalText renders u as a decimal string, since it exceeds the range of
// JSON's native number type.
func (u Uint128) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText parses a decimal string produced by MarshalText.
func (u *Uint128) UnmarshalText(text []byte) error {
	v, ok := new(big.Int).SetString(string(text), 10)
	if !ok {
		return fmt.Errorf("meshtypes: invalid Uint128 decimal %q", text)
	}
	*u = Uint128FromBig(v)
	return nil
}

// Int128Size is the wire width of an Int128.
const Int128Size = 16

// Int128 is a signed 128-bit integer stored as 16 bytes, two's-complement,
// big-endian. Channel balances are signed (a node may owe or be owed);
// pending debts are unsigned Uint128.
type Int128 [Int128Size]byte

// Int128FromBig converts a big.Int (positive or negative, must fit in 127
// bits of magnitude) into its two's-complement Int128 wire form.
func Int128FromBig(v *big.Int) Int128 {
	var out Int128
	mod := new(big.Int).Lsh(big.NewInt(1), 128)
	u := new(big.Int).Mod(v, mod)
	b := u.Bytes()
	if len(b) > Int128Size {
		panic("meshtypes: Int128FromBig overflow")
	}
	copy(out[Int128Size-len(b):], b)
	return out
}

// Big returns the signed value of n as a math/big.Int.
func (n Int128) Big() *big.Int {
	u := new(big.Int).SetBytes(n[:])
	if n[0]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		u.Sub(u, mod)
	}
	return u
}

func (n Int128) Negate() Int128 {
	return Int128FromBig(new(big.Int).Neg(n.Big()))
}

func (n Int128) Add(m Int128) Int128 {
	return Int128FromBig(new(big.Int).Add(n.Big(), m.Big()))
}

func (n Int128) String() string { return n.Big().String() }

// MarshalText renders n as a decimal string, since it exceeds the range of
// JSON's native number type.
func (n Int128) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText parses a decimal string produced by MarshalText.
func (n *Int128) UnmarshalText(text []byte) error {
	v, ok := new(big.Int).SetString(string(text), 10)
	if !ok {
		return fmt.Errorf("meshtypes: invalid Int128 decimal %q", text)
	}
	*n = Int128FromBig(v)
	return nil
}

// RequestIDSize is the length in bytes of a RequestID.
const RequestIDSize = 16

// RequestID uniquely identifies one frozen request within a token channel.
type RequestID [RequestIDSize]byte

func (r RequestID) String() string { return hex.EncodeToString(r[:]) }

// PaymentIDSize is the length in bytes of a PaymentID.
const PaymentIDSize = 16

// PaymentID identifies one buyer-side multi-route payment attempt.
type PaymentID [PaymentIDSize]byte

func (p PaymentID) String() string { return hex.EncodeToString(p[:]) }

// InvoiceIDSize is the length in bytes of an InvoiceID.
const InvoiceIDSize = 32

// InvoiceID identifies a seller-side invoice.
type InvoiceID [InvoiceIDSize]byte

func (i InvoiceID) String() string { return hex.EncodeToString(i[:]) }

func (i InvoiceID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *InvoiceID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("meshtypes: invalid invoice id hex: %w", err)
	}
	if len(b) != InvoiceIDSize {
		return fmt.Errorf("meshtypes: invoice id must be %d bytes, got %d", InvoiceIDSize, len(b))
	}
	copy(i[:], b)
	return nil
}

// HashLockSize is the length in bytes of a hash lock (SHA-512/256 digest).
const HashLockSize = 32

// HashLock is either a plain preimage or its hashed form, used on the
// HMAC-chained lock that binds a request to its response along a route.
type HashLock [HashLockSize]byte

func (h HashLock) String() string { return hex.EncodeToString(h[:]) }

// AckUID is a random acknowledgement identifier used to make
// AckPaymentDone and similar terminal acks idempotent under replay.
type AckUID [16]byte

func (a AckUID) String() string { return hex.EncodeToString(a[:]) }

// Route is an ordered list of public keys from payer to payee, inclusive.
type Route []PublicKey

// IsValid reports whether the route has no duplicate hops and at least two
// hops (spec.md §3 Route invariant).
func (r Route) IsValid() bool {
	if len(r) < 2 {
		return false
	}
	seen := make(map[PublicKey]struct{}, len(r))
	for _, pk := range r {
		if _, ok := seen[pk]; ok {
			return false
		}
		seen[pk] = struct{}{}
	}
	return true
}

// IndexOf returns the index of pk within the route, or -1 if absent.
func (r Route) IndexOf(pk PublicKey) int {
	for i, hop := range r {
		if hop == pk {
			return i
		}
	}
	return -1
}

// RateModel is the linear fee schedule a node charges for forwarding:
// fee = mul*amount/FeeScale + add.
type RateModel struct {
	Mul uint32
	Add uint32
}

// FeeScale is the fixed-point denominator for RateModel.Mul.
const FeeScale = 1_000_000

// CalcFee computes the forwarding fee this node charges for carrying
// dest_payment credits one more hop under this rate.
func (r RateModel) CalcFee(destPayment Uint128) Uint128 {
	amt := destPayment.Big()
	mulPart := new(big.Int).Mul(amt, big.NewInt(int64(r.Mul)))
	mulPart.Div(mulPart, big.NewInt(FeeScale))
	mulPart.Add(mulPart, big.NewInt(int64(r.Add)))
	return Uint128FromBig(mulPart)
}
