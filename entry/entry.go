// Package entry implements the run record: a position key plus a 64-bit
// "count+game-offset" payload, packed with a 6-bit length prefix so an
// oversized game-offset degrades to "invalid" rather than corrupting the
// count.
package entry

import "encoding/binary"

// Size is the fixed byte width of one persisted Entry: a 16-byte key plus
// an 8-byte payload.
const Size = 16 + 8

// payloadBits is the number of bits available to count and game-offset
// together, after the 6-bit length prefix.
const payloadBits = 58

// offsetInvalid marks a game-offset as not representable in the bits
// available to it.
const offsetInvalid = ^uint64(0)

// CountAndGameOffset is the decoded form of an Entry's 64-bit payload.
// GameOffset is only meaningful when OffsetValid is true.
type CountAndGameOffset struct {
	Count       uint64
	GameOffset  uint64
	OffsetValid bool
}

// Entry is one persisted run record: a 16-byte key plus the packed
// payload.
type Entry struct {
	Key     [16]byte
	Payload CountAndGameOffset
}

// bitLen returns the number of bits needed to represent v, with bitLen(0) == 1
// since a persisted count is never less than 1.
func bitLen(v uint64) uint64 {
	n := uint64(0)
	for v > 0 {
		n++
		v >>= 1
	}
	if n == 0 {
		n = 1
	}
	return n
}

// PackPayload encodes c into the 64-bit compact form: a 6-bit prefix giving
// the bit width of Count, followed by Count in that many bits, followed by
// GameOffset in the remaining bits of the 58-bit payload body. If GameOffset
// does not fit in the bits left over, it is replaced by the all-ones
// sentinel and decodes back as OffsetValid == false.
func PackPayload(c CountAndGameOffset) uint64 {
	countBits := bitLen(c.Count)
	if countBits > payloadBits {
		countBits = payloadBits
	}
	offsetBits := payloadBits - countBits

	var offsetField uint64
	sentinel := uint64(1)<<offsetBits - 1
	if offsetBits > 0 && c.OffsetValid && c.GameOffset < sentinel {
		offsetField = c.GameOffset
	} else {
		offsetField = sentinel
	}

	countMask := uint64(1)<<countBits - 1
	body := (c.Count & countMask << offsetBits) | offsetField
	return countBits<<payloadBits | body
}

// UnpackPayload is the inverse of PackPayload.
func UnpackPayload(v uint64) CountAndGameOffset {
	countBits := v >> payloadBits
	if countBits == 0 {
		countBits = 1
	}
	if countBits > payloadBits {
		countBits = payloadBits
	}
	offsetBits := payloadBits - countBits
	bodyMask := uint64(1)<<payloadBits - 1
	body := v & bodyMask

	offsetMask := uint64(1)<<offsetBits - 1
	offsetField := body & offsetMask
	count := body >> offsetBits

	sentinel := offsetMask
	valid := offsetBits > 0 && offsetField != sentinel
	goff := uint64(0)
	if valid {
		goff = offsetField
	}
	return CountAndGameOffset{Count: count, GameOffset: goff, OffsetValid: valid}
}

// Encode renders e as Size bytes: the 16-byte key verbatim followed by the
// big-endian packed payload, matching the run file's raw, headerless
// layout.
func Encode(e Entry) []byte {
	buf := make([]byte, Size)
	copy(buf[:16], e.Key[:])
	binary.BigEndian.PutUint64(buf[16:24], PackPayload(e.Payload))
	return buf
}

// Decode parses a Size-byte record back into an Entry.
func Decode(buf []byte) Entry {
	var e Entry
	copy(e.Key[:], buf[:16])
	e.Payload = UnpackPayload(binary.BigEndian.Uint64(buf[16:24]))
	return e
}
