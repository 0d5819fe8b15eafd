package poskey

import "github.com/Sopel97/chess-pos-db-sub001/chessmodel"

// Bit layout of the 22-bit tail (bits 1..22 of Lo, bit 0 reserved for side to
// move — see key.go):
//
//	bit 22..17  from-square (6 bits)
//	bit 16..11  to-square   (6 bits)
//	bit 10..9   move kind   (2 bits)
//	bit 8..5    promoted piece (4 bits, meaningful only for MovePromotion)
//	bit 4..3    tier        (2 bits)
//	bit 2..1    outcome     (2 bits)
const (
	shiftFrom     = 17
	shiftTo       = 11
	shiftKind     = 9
	shiftPromoted = 5
	shiftTier     = 3
	shiftOutcome  = 1

	maskFrom     = 0x3F
	maskTo       = 0x3F
	maskKind     = 0x3
	maskPromoted = 0xF
	maskTier     = 0x3
	maskOutcome  = 0x3
)

func packTail(rm chessmodel.ReverseMove, cl chessmodel.Classification) uint64 {
	var v uint64
	v |= uint64(rm.From) & maskFrom << shiftFrom
	v |= uint64(rm.To) & maskTo << shiftTo
	v |= uint64(rm.Kind) & maskKind << shiftKind
	v |= uint64(rm.Promoted) & maskPromoted << shiftPromoted
	v |= uint64(cl.Tier) & maskTier << shiftTier
	v |= uint64(cl.Outcome) & maskOutcome << shiftOutcome
	return v
}

func unpackTail(v uint64) (chessmodel.ReverseMove, chessmodel.Classification) {
	rm := chessmodel.ReverseMove{
		From:     chessmodel.Square((v >> shiftFrom) & maskFrom),
		To:       chessmodel.Square((v >> shiftTo) & maskTo),
		Kind:     chessmodel.MoveKind((v >> shiftKind) & maskKind),
		Promoted: chessmodel.PieceType((v >> shiftPromoted) & maskPromoted),
	}
	cl := chessmodel.Classification{
		Tier:    chessmodel.Tier((v >> shiftTier) & maskTier),
		Outcome: chessmodel.Outcome((v >> shiftOutcome) & maskOutcome),
	}
	return rm, cl
}
