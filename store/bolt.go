package store

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"

	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/tokenchannel"
	"github.com/creditmesh/meshnode/wire"
)

const (
	dbFileName       = "meshnode.db"
	dbFilePermission = 0600
)

var (
	friendsBucket  = []byte("friends")
	invoicesBucket = []byte("invoices")
)

// BoltStore is the on-disk Store implementation, grounded directly on
// channeldb/db.go's bolt.DB embedding and bucket bootstrap.
type BoltStore struct {
	*bolt.DB
}

// Open opens (creating if necessary) the bolt-backed store rooted at
// dbPath, the same bootstrap channeldb.Open performs for channel.db.
func Open(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, err
	}
	path := filepath.Join(dbPath, dbFileName)

	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, err
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(friendsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(invoicesBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &BoltStore{DB: bdb}, nil
}

func (s *BoltStore) SaveFriend(rec FriendRecord) error {
	return s.Update(func(tx *bolt.Tx) error {
		var buf bytes.Buffer
		if err := rec.Channel.Encode(&buf); err != nil {
			return err
		}
		return tx.Bucket(friendsBucket).Put(rec.PublicKey[:], buf.Bytes())
	})
}

func (s *BoltStore) LoadFriends() (map[meshtypes.PublicKey]FriendRecord, error) {
	out := make(map[meshtypes.PublicKey]FriendRecord)
	err := s.View(func(tx *bolt.Tx) error {
		return tx.Bucket(friendsBucket).ForEach(func(k, v []byte) error {
			var pk meshtypes.PublicKey
			copy(pk[:], k)
			ch, err := tokenchannel.Decode(bytes.NewReader(v))
			if err != nil {
				return err
			}
			out[pk] = FriendRecord{PublicKey: pk, Channel: ch}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteFriend(pk meshtypes.PublicKey) error {
	return s.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(friendsBucket).Delete(pk[:])
	})
}

func (s *BoltStore) SaveInvoice(rec InvoiceRecord) error {
	return s.Update(func(tx *bolt.Tx) error {
		var buf bytes.Buffer
		if err := encodeInvoiceRecord(&buf, rec); err != nil {
			return err
		}
		return tx.Bucket(invoicesBucket).Put(rec.ID[:], buf.Bytes())
	})
}

func (s *BoltStore) LoadInvoices() (map[meshtypes.InvoiceID]InvoiceRecord, error) {
	out := make(map[meshtypes.InvoiceID]InvoiceRecord)
	err := s.View(func(tx *bolt.Tx) error {
		return tx.Bucket(invoicesBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeInvoiceRecord(bytes.NewReader(v))
			if err != nil {
				return err
			}
			out[rec.ID] = rec
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteInvoice(id meshtypes.InvoiceID) error {
	return s.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(invoicesBucket).Delete(id[:])
	})
}

func (s *BoltStore) Close() error {
	return s.DB.Close()
}

func encodeInvoiceRecord(w *bytes.Buffer, rec InvoiceRecord) error {
	if err := wire.WriteFixed(w, rec.ID[:]); err != nil {
		return err
	}
	if err := wire.WriteFixed(w, rec.InvoiceHash[:]); err != nil {
		return err
	}
	if err := wire.WriteCurrency(w, rec.Currency); err != nil {
		return err
	}
	if err := wire.WriteUint128(w, rec.Total); err != nil {
		return err
	}
	if err := wire.WriteFixed(w, rec.Secret[:]); err != nil {
		return err
	}
	if err := writeBool(w, rec.Closed); err != nil {
		return err
	}
	return writeBool(w, rec.Cancelled)
}

func decodeInvoiceRecord(r *bytes.Reader) (InvoiceRecord, error) {
	var rec InvoiceRecord
	if err := wire.ReadFixed(r, rec.ID[:]); err != nil {
		return rec, err
	}
	if err := wire.ReadFixed(r, rec.InvoiceHash[:]); err != nil {
		return rec, err
	}
	var err error
	if rec.Currency, err = wire.ReadCurrency(r); err != nil {
		return rec, err
	}
	if rec.Total, err = wire.ReadUint128(r); err != nil {
		return rec, err
	}
	if err := wire.ReadFixed(r, rec.Secret[:]); err != nil {
		return rec, err
	}
	if rec.Closed, err = readBool(r); err != nil {
		return rec, err
	}
	rec.Cancelled, err = readBool(r)
	return rec, err
}

func writeBool(w *bytes.Buffer, b bool) error {
	var v uint8
	if b {
		v = 1
	}
	return wire.WriteUint8(w, v)
}

func readBool(r *bytes.Reader) (bool, error) {
	v, err := wire.ReadUint8(r)
	return v != 0, err
}
