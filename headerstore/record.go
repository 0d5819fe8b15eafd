// Package headerstore implements the game-header sidecar store: a
// variable-length packed-record log plus a fixed-width offset index mapping
// dense game id -> log offset.
//
// Records are packed with github.com/gagliardetto/binary's
// BinEncoder/BinDecoder: a size prefix, the fixed-width fields, then three
// length-prefixed free-text fields. The ply count is backpatched in place
// once a game's final length is known.
package headerstore

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
)

// maxFieldLen is the truncation limit for each of the three free-text
// fields.
const maxFieldLen = 255

// fixedPartSize is the byte width of every fixed-width field in a record:
// Size(4) + GameIdx(4) + PlyCount(4) + Outcome(1) + Date(12) + ECO(4).
const fixedPartSize = 4 + 4 + 4 + 1 + 12 + 4

// MaxRecordSize is the fixed-width window the reader always issues one
// read of, even though the log itself is
// variable-length — a record's true length never exceeds this, and any
// bytes read past its true length (because the read window spills into the
// next record, or runs off the end of the file) are discarded using the
// leading Size field.
const MaxRecordSize = fixedPartSize + 3*(1+maxFieldLen)

const dateFieldLen = 12
const ecoFieldLen = 4

// Header is one decoded game-header record.
type Header struct {
	GameIdx  uint32
	Event    string
	White    string
	Black    string
	Date     string
	ECO      string
	Outcome  chessmodel.Outcome
	PlyCount uint32
}

// plyCountLocalOffset is the byte offset of the PlyCount field within a
// record, relative to the record's own start (i.e. relative to the log
// offset Add returned) — used by PatchPlyCount's in-place rewrite.
const plyCountLocalOffset = 4 + 4

func truncate(s string) string {
	if len(s) > maxFieldLen {
		return s[:maxFieldLen]
	}
	return s
}

func fixedField(s string, width int) [12]byte {
	var b [12]byte
	copy(b[:width], s)
	return b
}

// encode serializes h into a record: Size | GameIdx | PlyCount | Outcome |
// Date | ECO | len(Event) Event | len(White) White | len(Black) Black.
// Size is the byte length of everything after the Size field itself, so a
// decoder that has read 4 bytes knows exactly how many more to consume.
func encode(h Header) ([]byte, error) {
	event := truncate(h.Event)
	white := truncate(h.White)
	black := truncate(h.Black)

	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)

	body := new(bytes.Buffer)
	bodyEnc := bin.NewBinEncoder(body)
	if err := bodyEnc.WriteUint32(h.GameIdx, bin.LE); err != nil {
		return nil, err
	}
	if err := bodyEnc.WriteUint32(h.PlyCount, bin.LE); err != nil {
		return nil, err
	}
	if err := bodyEnc.WriteUint8(uint8(h.Outcome)); err != nil {
		return nil, err
	}
	dateBuf := fixedField(h.Date, dateFieldLen)
	if _, err := bodyEnc.Write(dateBuf[:dateFieldLen]); err != nil {
		return nil, err
	}
	ecoBuf := fixedField(h.ECO, ecoFieldLen)
	if _, err := bodyEnc.Write(ecoBuf[:ecoFieldLen]); err != nil {
		return nil, err
	}
	for _, s := range []string{event, white, black} {
		if err := bodyEnc.WriteUint8(uint8(len(s))); err != nil {
			return nil, err
		}
		if _, err := bodyEnc.Write([]byte(s)); err != nil {
			return nil, err
		}
	}

	if err := enc.WriteUint32(uint32(body.Len()), bin.LE); err != nil {
		return nil, err
	}
	if _, err := enc.Write(body.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode parses a record out of buf, which must hold at least enough bytes
// to cover the record's true length (buf may be longer; trailing bytes are
// ignored).
func decode(buf []byte) (Header, int, error) {
	if len(buf) < 4 {
		return Header{}, 0, fmt.Errorf("headerstore: record too short to hold size prefix")
	}
	dec := bin.NewBinDecoder(buf)
	size, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return Header{}, 0, err
	}
	total := 4 + int(size)
	if len(buf) < total {
		return Header{}, 0, fmt.Errorf("headerstore: record truncated: need %d bytes, have %d", total, len(buf))
	}

	var h Header
	gameIdx, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return Header{}, 0, err
	}
	h.GameIdx = gameIdx
	plyCount, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return Header{}, 0, err
	}
	h.PlyCount = plyCount
	outcome, err := dec.ReadUint8()
	if err != nil {
		return Header{}, 0, err
	}
	h.Outcome = chessmodel.Outcome(outcome)

	dateBuf := make([]byte, dateFieldLen)
	if _, err := dec.Read(dateBuf); err != nil {
		return Header{}, 0, err
	}
	h.Date = trimZeros(dateBuf)

	ecoBuf := make([]byte, ecoFieldLen)
	if _, err := dec.Read(ecoBuf); err != nil {
		return Header{}, 0, err
	}
	h.ECO = trimZeros(ecoBuf)

	fields := make([]*string, 3)
	fields[0], fields[1], fields[2] = &h.Event, &h.White, &h.Black
	for _, f := range fields {
		n, err := dec.ReadUint8()
		if err != nil {
			return Header{}, 0, err
		}
		s := make([]byte, n)
		if n > 0 {
			if _, err := dec.Read(s); err != nil {
				return Header{}, 0, err
			}
		}
		*f = string(s)
	}
	return h, total, nil
}

func trimZeros(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
