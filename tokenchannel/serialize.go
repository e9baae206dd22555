package tokenchannel

import (
	"io"

	"github.com/creditmesh/meshnode/meshtypes"
	"github.com/creditmesh/meshnode/mutualcredit"
	"github.com/creditmesh/meshnode/wire"
)

// Encode writes the durable portion of the channel's state: everything
// needed to resume routing after a restart except the transient
// pendingOutgoing queue, which a crash is allowed to drop (operations in
// it were never sent to the remote side; nothing re-queues them after a
// restart).
func (c *Channel) Encode(w io.Writer) error {
	if err := wire.WritePublicKey(w, c.LocalPublicKey); err != nil {
		return err
	}
	if err := wire.WritePublicKey(w, c.RemotePublicKey); err != nil {
		return err
	}
	if err := wire.WriteUint8(w, uint8(c.State)); err != nil {
		return err
	}
	if err := wire.WriteUint8(w, uint8(c.Direction)); err != nil {
		return err
	}
	if err := wire.WriteUint64(w, c.InconsistencyCounter); err != nil {
		return err
	}
	if err := wire.WriteUint128(w, c.MoveTokenCounter); err != nil {
		return err
	}
	if err := wire.WriteFixed(w, c.LastToken[:]); err != nil {
		return err
	}

	if err := wire.WriteUint16(w, uint16(len(c.Currencies))); err != nil {
		return err
	}
	for currency, mc := range c.Currencies {
		if err := wire.WriteCurrency(w, currency); err != nil {
			return err
		}
		if err := wire.WriteFixed(w, mc.Balance[:]); err != nil {
			return err
		}
		if err := wire.WriteUint128(w, mc.LocalPendingDebt); err != nil {
			return err
		}
		if err := wire.WriteUint128(w, mc.RemotePendingDebt); err != nil {
			return err
		}
		if err := wire.WriteUint128(w, mc.LocalMaxDebt); err != nil {
			return err
		}
		if err := wire.WriteUint128(w, mc.RemoteMaxDebt); err != nil {
			return err
		}
		if err := writeBool(w, mc.LocalRequestsEnabled); err != nil {
			return err
		}
		if err := writeBool(w, mc.RemoteRequestsEnabled); err != nil {
			return err
		}
	}
	return nil
}

// Decode reconstructs a Channel previously written by Encode.
func Decode(r io.Reader) (*Channel, error) {
	c := &Channel{Currencies: make(map[meshtypes.Currency]*mutualcredit.MutualCredit), pendingOutgoing: make(map[meshtypes.Currency][]queuedOp)}

	var err error
	if c.LocalPublicKey, err = wire.ReadPublicKey(r); err != nil {
		return nil, err
	}
	if c.RemotePublicKey, err = wire.ReadPublicKey(r); err != nil {
		return nil, err
	}
	state, err := wire.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	c.State = State(state)
	dir, err := wire.ReadUint8(r)
	if err != nil {
		return nil, err
	}
	c.Direction = Direction(dir)
	if c.InconsistencyCounter, err = wire.ReadUint64(r); err != nil {
		return nil, err
	}
	if c.MoveTokenCounter, err = wire.ReadUint128(r); err != nil {
		return nil, err
	}
	if err := wire.ReadFixed(r, c.LastToken[:]); err != nil {
		return nil, err
	}

	n, err := wire.ReadUint16(r)
	if err != nil {
		return nil, err
	}
	for i := uint16(0); i < n; i++ {
		currency, err := wire.ReadCurrency(r)
		if err != nil {
			return nil, err
		}
		mc := mutualcredit.New(currency)
		if err := wire.ReadFixed(r, mc.Balance[:]); err != nil {
			return nil, err
		}
		if mc.LocalPendingDebt, err = wire.ReadUint128(r); err != nil {
			return nil, err
		}
		if mc.RemotePendingDebt, err = wire.ReadUint128(r); err != nil {
			return nil, err
		}
		if mc.LocalMaxDebt, err = wire.ReadUint128(r); err != nil {
			return nil, err
		}
		if mc.RemoteMaxDebt, err = wire.ReadUint128(r); err != nil {
			return nil, err
		}
		if mc.LocalRequestsEnabled, err = readBool(r); err != nil {
			return nil, err
		}
		if mc.RemoteRequestsEnabled, err = readBool(r); err != nil {
			return nil, err
		}
		c.Currencies[currency] = mc
	}

	return c, nil
}

func writeBool(w io.Writer, b bool) error {
	var v uint8
	if b {
		v = 1
	}
	return wire.WriteUint8(w, v)
}

func readBool(r io.Reader) (bool, error) {
	v, err := wire.ReadUint8(r)
	return v != 0, err
}
