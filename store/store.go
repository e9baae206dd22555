// Package store defines the persistence interface used to save and reload
// token channel state and invoices across daemon restarts (spec.md §4.8),
// plus a boltdb-backed implementation and an in-memory test double. Open
// requests are not persisted. Grounded directly on channeldb/db.go's DB
// type (bolt.DB embedding, dbPath, fileExists/createChannelDB bootstrap)
// generalized from a Lightning-specific bucket layout to this protocol's
// friends/invoices buckets.
package store

import (
	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/tokenchannel"
)

// FriendRecord is the persisted form of one open token channel.
type FriendRecord struct {
	PublicKey meshtypes.PublicKey
	Channel   *tokenchannel.Channel
}

// InvoiceRecord is the persisted form of one seller-side invoice, kept
// only long enough to survive a restart mid-payment; invoice.Invoice
// itself is the live in-memory representation this wraps.
type InvoiceRecord struct {
	ID          meshtypes.InvoiceID
	InvoiceHash [32]byte
	Currency    meshtypes.Currency
	Total       meshtypes.Uint128
	Secret      [32]byte
	Closed      bool
	Cancelled   bool
}

// Store is the persistence contract the router and invoice/payment
// engines depend on. Implementations must make SaveFriend/LoadFriends
// safe to call from the router's single goroutine without introducing
// cross-goroutine races on the *tokenchannel.Channel values they return.
type Store interface {
	// SaveFriend persists the current state of one friend's channel.
	SaveFriend(rec FriendRecord) error

	// LoadFriends returns every persisted friend, keyed by public key.
	LoadFriends() (map[meshtypes.PublicKey]FriendRecord, error)

	// DeleteFriend removes a friend's persisted state.
	DeleteFriend(pk meshtypes.PublicKey) error

	// SaveInvoice persists an invoice's current state.
	SaveInvoice(rec InvoiceRecord) error

	// LoadInvoices returns every persisted invoice, keyed by ID.
	LoadInvoices() (map[meshtypes.InvoiceID]InvoiceRecord, error)

	// DeleteInvoice removes an invoice's persisted state.
	DeleteInvoice(id meshtypes.InvoiceID) error

	// Close releases any resources (file handles) held by the store.
	Close() error
}
