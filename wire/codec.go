package wire

import (
	"io"

	"github.com/creditmesh/meshnode/meshtypes"
)

// This file exports the primitive codec helpers for use by packages
// outside wire (store, tokenchannel) that need to persist their own
// structures using the same explicit-bit-width encoding the wire protocol
// itself uses, without duplicating the byte layout.

func WriteUint8(w io.Writer, v uint8) error   { return writeUint8(w, v) }
func ReadUint8(r io.Reader) (uint8, error)    { return readUint8(r) }
func WriteUint16(w io.Writer, v uint16) error { return writeUint16(w, v) }
func ReadUint16(r io.Reader) (uint16, error)  { return readUint16(r) }
func WriteUint32(w io.Writer, v uint32) error { return writeUint32(w, v) }
func ReadUint32(r io.Reader) (uint32, error)  { return readUint32(r) }
func WriteUint64(w io.Writer, v uint64) error { return writeUint64(w, v) }
func ReadUint64(r io.Reader) (uint64, error)  { return readUint64(r) }

func WriteFixed(w io.Writer, b []byte) error      { return writeFixed(w, b) }
func ReadFixed(r io.Reader, b []byte) error       { return readFixed(r, b) }
func WriteUint128(w io.Writer, v meshtypes.Uint128) error { return writeUint128(w, v) }
func ReadUint128(r io.Reader) (meshtypes.Uint128, error)  { return readUint128(r) }

func WritePublicKey(w io.Writer, pk meshtypes.PublicKey) error { return writePublicKey(w, pk) }
func ReadPublicKey(r io.Reader) (meshtypes.PublicKey, error)   { return readPublicKey(r) }

func WriteCurrency(w io.Writer, c meshtypes.Currency) error { return writeCurrency(w, c) }
func ReadCurrency(r io.Reader) (meshtypes.Currency, error)  { return readCurrency(r) }

func WriteVarBytes(w io.Writer, b []byte) error                 { return writeVarBytes(w, b) }
func ReadVarBytes(r io.Reader, maxLen uint32) ([]byte, error)    { return readVarBytes(r, maxLen) }
