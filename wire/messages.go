package wire

import (
	"io"

	"github.com/creditmesh/meshnode/meshtypes"
)

// RelayAddress is a relay's network location, advertised by a node to tell
// its friends where to reach it (spec.md §9.2 relay discovery).
type RelayAddress struct {
	PublicKey meshtypes.PublicKey
	Host      string
	Port      uint16
}

const maxRelayHostLen = 255

func writeRelayAddress(w io.Writer, ra RelayAddress) error {
	if err := writePublicKey(w, ra.PublicKey); err != nil {
		return err
	}
	if err := writeVarBytes(w, []byte(ra.Host)); err != nil {
		return err
	}
	return writeUint16(w, ra.Port)
}

func readRelayAddress(r io.Reader) (RelayAddress, error) {
	var ra RelayAddress
	var err error
	if ra.PublicKey, err = readPublicKey(r); err != nil {
		return ra, err
	}
	host, err := readVarBytes(r, maxRelayHostLen)
	if err != nil {
		return ra, err
	}
	ra.Host = string(host)
	ra.Port, err = readUint16(r)
	return ra, err
}

// ResetTerms is carried by an InconsistencyError to propose the balance at
// which the channel should be reset (spec.md §4.2 "Inconsistency &
// reset"). The receiving side either accepts by signing a move-token at
// ResetToken with this balance, or raises its own counter-proposal.
type ResetTerms struct {
	ResetToken           [32]byte
	InconsistencyCounter uint64
	BalanceForReset      meshtypes.Int128
}

func (rt *ResetTerms) Encode(w io.Writer) error {
	if err := writeFixed(w, rt.ResetToken[:]); err != nil {
		return err
	}
	if err := writeUint64(w, rt.InconsistencyCounter); err != nil {
		return err
	}
	return writeFixed(w, rt.BalanceForReset[:])
}

func (rt *ResetTerms) Decode(r io.Reader) error {
	if err := readFixed(r, rt.ResetToken[:]); err != nil {
		return err
	}
	var err error
	if rt.InconsistencyCounter, err = readUint64(r); err != nil {
		return err
	}
	return readFixed(r, rt.BalanceForReset[:])
}

// MoveTokenRequest wraps a MoveToken for transmission, with TokenWanted set
// when the sender has nothing to say but wants the token back so it can
// originate its own move-token (spec.md §4.2 turn-taking).
type MoveTokenRequest struct {
	MoveToken   MoveToken
	TokenWanted bool
}

func (*MoveTokenRequest) MsgType() MessageType { return MsgMoveTokenRequest }

func (m *MoveTokenRequest) Encode(w io.Writer) error {
	if err := m.MoveToken.Encode(w); err != nil {
		return err
	}
	var wanted uint8
	if m.TokenWanted {
		wanted = 1
	}
	return writeUint8(w, wanted)
}

func (m *MoveTokenRequest) Decode(r io.Reader) error {
	if err := m.MoveToken.Decode(r); err != nil {
		return err
	}
	wanted, err := readUint8(r)
	if err != nil {
		return err
	}
	m.TokenWanted = wanted != 0
	return nil
}

// InconsistencyError is sent when a friend detects its local token channel
// state cannot be reconciled with an incoming move-token (spec.md §4.2).
type InconsistencyError struct {
	ResetTerms ResetTerms
}

func (*InconsistencyError) MsgType() MessageType { return MsgInconsistencyError }

func (m *InconsistencyError) Encode(w io.Writer) error {
	return m.ResetTerms.Encode(w)
}

func (m *InconsistencyError) Decode(r io.Reader) error {
	return m.ResetTerms.Decode(r)
}

// RelaysUpdate announces the sender's current relay set. Generation is a
// counter carried with the update; the receiving daemon logs it and does
// not compare it against earlier updates.
type RelaysUpdate struct {
	Generation uint64
	Relays     []RelayAddress
}

func (*RelaysUpdate) MsgType() MessageType { return MsgRelaysUpdate }

const maxRelaysPerUpdate = 64

func (m *RelaysUpdate) Encode(w io.Writer) error {
	if err := writeUint64(w, m.Generation); err != nil {
		return err
	}
	if err := writeUint16(w, uint16(len(m.Relays))); err != nil {
		return err
	}
	for _, ra := range m.Relays {
		if err := writeRelayAddress(w, ra); err != nil {
			return err
		}
	}
	return nil
}

func (m *RelaysUpdate) Decode(r io.Reader) error {
	var err error
	if m.Generation, err = readUint64(r); err != nil {
		return err
	}
	n, err := readUint16(r)
	if err != nil {
		return err
	}
	if int(n) > maxRelaysPerUpdate {
		return &UnknownMessage{Type: MsgRelaysUpdate}
	}
	m.Relays = make([]RelayAddress, n)
	for i := range m.Relays {
		if m.Relays[i], err = readRelayAddress(r); err != nil {
			return err
		}
	}
	return nil
}
