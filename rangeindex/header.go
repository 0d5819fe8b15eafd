// Package rangeindex implements the sparse range index kept alongside each
// sorted run: an append-only sequence of (low_key, high_key, low_offset,
// high_offset) tuples tiling the run, built incrementally and queried by
// equal_range.
//
// The on-disk layout is a small magic-prefixed header followed by
// fixed-width records.
package rangeindex

import (
	"encoding/binary"
	"fmt"

	"github.com/Sopel97/chess-pos-db-sub001/dberrors"
	"github.com/Sopel97/chess-pos-db-sub001/poskey"
)

// magic identifies a range-index file.
const magic = uint64(0x504f5342524758) // "POSBRGX"-ish, arbitrary but fixed

const formatVersion = uint8(1)

// headerSize is the fixed byte size of the header described below.
const headerSize = 8 + 1 + 1 + 8 + 8 // magic, version, order, granularity, entryCount

// TupleSize is the fixed byte width of one range-index record: two 16-byte
// keys plus two 8-byte offsets.
const TupleSize = 16 + 16 + 8 + 8

// Header is the fixed-size prefix of a range-index file.
type Header struct {
	Version     uint8
	Order       poskey.OrderKind
	Granularity uint64
	EntryCount  uint64
}

func (h Header) encode() []byte {
	b := make([]byte, headerSize)
	binary.BigEndian.PutUint64(b[0:8], magic)
	b[8] = h.Version
	b[9] = byte(h.Order)
	binary.BigEndian.PutUint64(b[10:18], h.Granularity)
	binary.BigEndian.PutUint64(b[18:26], h.EntryCount)
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, dberrors.ErrInvalidManifest
	}
	if got := binary.BigEndian.Uint64(b[0:8]); got != magic {
		return Header{}, fmt.Errorf("rangeindex: %w: got magic %x want %x", dberrors.ErrManifestKeyMismatch, got, magic)
	}
	return Header{
		Version:     b[8],
		Order:       poskey.OrderKind(b[9]),
		Granularity: binary.BigEndian.Uint64(b[10:18]),
		EntryCount:  binary.BigEndian.Uint64(b[18:26]),
	}, nil
}

// Tuple is one range-index record.
type Tuple struct {
	LowKey     poskey.Key
	HighKey    poskey.Key
	LowOffset  uint64
	HighOffset uint64
}

func (t Tuple) encode() []byte {
	b := make([]byte, TupleSize)
	lk := t.LowKey.Bytes()
	hk := t.HighKey.Bytes()
	copy(b[0:16], lk[:])
	copy(b[16:32], hk[:])
	binary.BigEndian.PutUint64(b[32:40], t.LowOffset)
	binary.BigEndian.PutUint64(b[40:48], t.HighOffset)
	return b
}

func decodeTuple(b []byte) Tuple {
	var lk, hk [16]byte
	copy(lk[:], b[0:16])
	copy(hk[:], b[16:32])
	return Tuple{
		LowKey:     poskey.FromBytes(lk),
		HighKey:    poskey.FromBytes(hk),
		LowOffset:  binary.BigEndian.Uint64(b[32:40]),
		HighOffset: binary.BigEndian.Uint64(b[40:48]),
	}
}
