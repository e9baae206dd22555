package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/creditmesh/meshnode/meshtypes"
)

// This file implements the explicit-bit-width primitive codecs spec.md §6
// requires: u128 balances as 16-byte big-endian, PublicKey/Signature as
// fixed 32/64 bytes, variable-length byte strings as a u32 length +
// payload (routes and currency lists use a u16 count, currencies a u8
// length).

func writeUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func readUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeFixed(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

func readFixed(r io.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	return err
}

func writeUint128(w io.Writer, v meshtypes.Uint128) error {
	return writeFixed(w, v[:])
}

func readUint128(r io.Reader) (meshtypes.Uint128, error) {
	var v meshtypes.Uint128
	err := readFixed(r, v[:])
	return v, err
}

func writePublicKey(w io.Writer, pk meshtypes.PublicKey) error {
	return writeFixed(w, pk[:])
}

func readPublicKey(r io.Reader) (meshtypes.PublicKey, error) {
	var pk meshtypes.PublicKey
	err := readFixed(r, pk[:])
	return pk, err
}

func writeSignature(w io.Writer, s meshtypes.Signature) error {
	return writeFixed(w, s[:])
}

func readSignature(r io.Reader) (meshtypes.Signature, error) {
	var s meshtypes.Signature
	err := readFixed(r, s[:])
	return s, err
}

func writeHashLock(w io.Writer, h meshtypes.HashLock) error {
	return writeFixed(w, h[:])
}

func readHashLock(r io.Reader) (meshtypes.HashLock, error) {
	var h meshtypes.HashLock
	err := readFixed(r, h[:])
	return h, err
}

func writeRequestID(w io.Writer, id meshtypes.RequestID) error {
	return writeFixed(w, id[:])
}

func readRequestID(r io.Reader) (meshtypes.RequestID, error) {
	var id meshtypes.RequestID
	err := readFixed(r, id[:])
	return id, err
}

func writeInvoiceID(w io.Writer, id meshtypes.InvoiceID) error {
	return writeFixed(w, id[:])
}

func readInvoiceID(r io.Reader) (meshtypes.InvoiceID, error) {
	var id meshtypes.InvoiceID
	err := readFixed(r, id[:])
	return id, err
}

// writeVarBytes writes a u32 length prefix followed by b.
func writeVarBytes(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	return writeFixed(w, b)
}

func readVarBytes(r io.Reader, maxLen uint32) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, fmt.Errorf("wire: var bytes length %d exceeds max %d", n, maxLen)
	}
	b := make([]byte, n)
	if err := readFixed(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeCurrency(w io.Writer, c meshtypes.Currency) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("wire: invalid currency: %w", err)
	}
	if err := writeUint8(w, uint8(len(c))); err != nil {
		return err
	}
	return writeFixed(w, []byte(c))
}

func readCurrency(r io.Reader) (meshtypes.Currency, error) {
	n, err := readUint8(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if err := readFixed(r, b); err != nil {
		return "", err
	}
	c := meshtypes.Currency(b)
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

func writeRoute(w io.Writer, route meshtypes.Route) error {
	if err := writeUint16(w, uint16(len(route))); err != nil {
		return err
	}
	for _, pk := range route {
		if err := writePublicKey(w, pk); err != nil {
			return err
		}
	}
	return nil
}

func readRoute(r io.Reader) (meshtypes.Route, error) {
	n, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	route := make(meshtypes.Route, n)
	for i := range route {
		pk, err := readPublicKey(r)
		if err != nil {
			return nil, err
		}
		route[i] = pk
	}
	return route, nil
}
