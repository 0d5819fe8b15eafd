// Package poskey implements the position key codec: a 128-bit position
// hash combined with a packed reverse-move + classification tail, exposed
// under two total orders (FullOrder, HashOnlyOrder).
//
// The hash is XXH3-128 over the raw board, with the side-to-move bit folded
// into the low quad, so a position's key is stable across runs of the
// program and across machines.
package poskey

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
)

// Key is the fixed-width 16-byte position key. Hi holds the two
// most-significant 32-bit quads, Lo the two least-significant; comparing
// (Hi, Lo) as an unsigned 128-bit pair is equivalent to comparing the four
// quads lexicographically, so no explicit quad splitting is needed for
// ordering.
type Key struct {
	Hi uint64
	Lo uint64
}

// tailBits is the number of bits the packed reverse-move + classification
// tail occupies, not counting the side-to-move bit.
const tailBits = 22

// sideToMoveBit is the lowest bit of Lo, reserved for the side to move and
// deliberately excluded from tailMask so that HashOnlyOrder — which masks off
// tailMask — still distinguishes positions that differ only by whose move it
// is.
const sideToMoveBit = 1

// tailMask covers bits [1, 22] of Lo: the packed reverse move and
// classification. tailMask | sideToMoveBit together form the full mask
// over the lowest bits of the last quad.
const tailMask = uint64((1<<tailBits)-1) << 1

// fullTailMask is M itself: the packed tail plus the side-to-move bit.
const fullTailMask = tailMask | sideToMoveBit

// Encode builds the key for (board, sideToMove, reverseMove, classification).
//
// The bits under fullTailMask are zeroed out of the raw hash before the tail
// is combined in, so the combination is exact (not merely probabilistic):
// Decode recovers precisely the (reverseMove, classification, sideToMove)
// that were encoded. Xor into a zeroed field is equivalent to, and
// implemented as, a mask-and-or.
func Encode(board chessmodel.RawBoard, sideToMove chessmodel.Color, rm chessmodel.ReverseMove, cl chessmodel.Classification) Key {
	h := xxh3.Hash128(board[:])
	lo := (h.Lo &^ fullTailMask) | packTail(rm, cl) | uint64(sideToMove.Ordinal())
	return Key{Hi: h.Hi, Lo: lo}
}

// HashBoard returns just the 128-bit identity hash of a board, with no
// reverse-move/classification tail and no side-to-move fold — the
// position's bare identity, used by the optional hash-collision
// verification mode.
func HashBoard(board chessmodel.RawBoard) (hi, lo uint64) {
	h := xxh3.Hash128(board[:])
	return h.Hi, h.Lo
}

// VerifyBoard reports whether board is the board that actually produced
// k's hash portion: it recomputes HashBoard(board) and compares it against
// k with the packed tail and side-to-move fold masked off both sides, the
// inverse of what Encode mixed in. A false result means either a genuine
// 128-bit hash collision or sidecar/run misalignment; callers log it, they
// don't fail on it.
func VerifyBoard(k Key, board chessmodel.RawBoard) bool {
	hi, lo := HashBoard(board)
	return hi == k.Hi && lo&^fullTailMask == k.Lo&^fullTailMask
}

// Decode recovers the reverse move, classification, and side to move
// embedded in a key's tail. It does not recover the board.
func Decode(k Key) (chessmodel.ReverseMove, chessmodel.Classification, chessmodel.Color) {
	rm, cl := unpackTail(k.Lo & tailMask)
	side := chessmodel.White
	if k.Lo&sideToMoveBit != 0 {
		side = chessmodel.Black
	}
	return rm, cl, side
}

// Bytes renders the key as 16 big-endian bytes, matching the on-disk run
// format.
func (k Key) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], k.Hi)
	binary.BigEndian.PutUint64(b[8:16], k.Lo)
	return b
}

// FromBytes parses a key from its 16-byte big-endian encoding.
func FromBytes(b [16]byte) Key {
	return Key{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// OrderKind selects one of the two total orders a run/range-index is
// sorted under.
type OrderKind uint8

const (
	FullOrder OrderKind = iota
	HashOnlyOrder
)

func (o OrderKind) String() string {
	if o == HashOnlyOrder {
		return "hash-only"
	}
	return "full"
}

// Compare orders a and b under o, returning <0, 0, or >0.
func Compare(o OrderKind, a, b Key) int {
	if o == HashOnlyOrder {
		return compare128(a.Hi, a.Lo&^tailMask, b.Hi, b.Lo&^tailMask)
	}
	return compare128(a.Hi, a.Lo, b.Hi, b.Lo)
}

// Less reports whether a sorts strictly before b under o.
func Less(o OrderKind, a, b Key) bool {
	return Compare(o, a, b) < 0
}

func compare128(aHi, aLo, bHi, bLo uint64) int {
	if aHi != bHi {
		if aHi < bHi {
			return -1
		}
		return 1
	}
	if aLo != bLo {
		if aLo < bLo {
			return -1
		}
		return 1
	}
	return 0
}

// MaskedForOrder returns k with the tail masked off when o is HashOnlyOrder,
// or k unchanged for FullOrder. Used by the range-index builder to detect
// when the order-value changes without repeating the HashOnlyOrder special
// case everywhere.
func MaskedForOrder(o OrderKind, k Key) Key {
	if o == HashOnlyOrder {
		return Key{Hi: k.Hi, Lo: k.Lo &^ tailMask}
	}
	return k
}
