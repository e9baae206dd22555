package store

import (
	"sync"

	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
)

// Mem is an in-memory Store, used in tests in place of BoltStore.
type Mem struct {
	mu       sync.Mutex
	friends  map[meshtypes.PublicKey]FriendRecord
	invoices map[meshtypes.InvoiceID]InvoiceRecord
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		friends:  make(map[meshtypes.PublicKey]FriendRecord),
		invoices: make(map[meshtypes.InvoiceID]InvoiceRecord),
	}
}

func (m *Mem) SaveFriend(rec FriendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends[rec.PublicKey] = rec
	return nil
}

func (m *Mem) LoadFriends() (map[meshtypes.PublicKey]FriendRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[meshtypes.PublicKey]FriendRecord, len(m.friends))
	for k, v := range m.friends {
		out[k] = v
	}
	return out, nil
}

func (m *Mem) DeleteFriend(pk meshtypes.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.friends[pk]; !ok {
		return merr.New(merr.KindDatabase, "friend %s not found", pk)
	}
	delete(m.friends, pk)
	return nil
}

func (m *Mem) SaveInvoice(rec InvoiceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[rec.ID] = rec
	return nil
}

func (m *Mem) LoadInvoices() (map[meshtypes.InvoiceID]InvoiceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[meshtypes.InvoiceID]InvoiceRecord, len(m.invoices))
	for k, v := range m.invoices {
		out[k] = v
	}
	return out, nil
}

func (m *Mem) DeleteInvoice(id meshtypes.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[id]; !ok {
		return merr.New(merr.KindDatabase, "invoice %s not found", id)
	}
	delete(m.invoices, id)
	return nil
}

func (m *Mem) Close() error { return nil }
