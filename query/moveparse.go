package query

import (
	"fmt"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
)

// parseRootMove parses a request's optional root "move" field into the
// ReverseMove that reached resultBoard. The format is long algebraic
// ("e2e4", "e7e8q" for a promotion) rather than SAN: disambiguating SAN
// against an arbitrary predecessor position is the out-of-scope
// collaborator's job (chessmodel.PositionFromFEN's doc comment), and the
// request only carries the position *after* the move, not before it.
//
// Kind is recovered from resultBoard where possible (castle: a king moved
// two files; promotion: an explicit trailing piece letter). En-passant
// cannot be distinguished from an ordinary diagonal pawn move using only
// the post-move board, so it is reported as MoveNormal; this only affects
// ad-hoc root queries that supply "move" directly; fetch_children expansion
// uses chessmodel.LegalChildren, which computes reverse moves correctly.
func parseRootMove(move string, resultBoard chessmodel.RawBoard) (chessmodel.ReverseMove, error) {
	if len(move) != 4 && len(move) != 5 {
		return chessmodel.ReverseMove{}, fmt.Errorf("query: malformed move %q", move)
	}
	from, err := parseSquare(move[0:2])
	if err != nil {
		return chessmodel.ReverseMove{}, err
	}
	to, err := parseSquare(move[2:4])
	if err != nil {
		return chessmodel.ReverseMove{}, err
	}

	rm := chessmodel.ReverseMove{From: from, To: to, Kind: chessmodel.MoveNormal}

	if len(move) == 5 {
		promo, err := parsePromotionLetter(move[4])
		if err != nil {
			return chessmodel.ReverseMove{}, err
		}
		rm.Kind = chessmodel.MovePromotion
		rm.Promoted = promo
		return rm, nil
	}

	code := resultBoard[to]
	pt := chessmodel.PieceType(code &^ 0x08)
	if pt == chessmodel.King && absInt(int(to.File())-int(from.File())) == 2 {
		rm.Kind = chessmodel.MoveCastle
	}
	return rm, nil
}

func parseSquare(s string) (chessmodel.Square, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("query: malformed square %q", s)
	}
	file := s[0] - 'a'
	rank := s[1] - '1'
	if file > 7 || rank > 7 {
		return 0, fmt.Errorf("query: square %q out of range", s)
	}
	return chessmodel.Square(rank*8 + file), nil
}

func parsePromotionLetter(b byte) (chessmodel.PieceType, error) {
	switch b {
	case 'q':
		return chessmodel.Queen, nil
	case 'r':
		return chessmodel.Rook, nil
	case 'b':
		return chessmodel.Bishop, nil
	case 'n':
		return chessmodel.Knight, nil
	default:
		return 0, fmt.Errorf("query: unknown promotion piece %q", string(b))
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
