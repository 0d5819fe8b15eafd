package chessmodel

import (
	"fmt"
	"io"

	"github.com/notnil/chess"
)

// GameHeaderFields are the game-level fields the header store persists:
// three free-text strings plus fixed-width fields.
type GameHeaderFields struct {
	Event    string
	White    string
	Black    string
	Date     string
	ECO      string
	Result   string // PGN-style result tag, e.g. "1-0", "0-1", "1/2-1/2"
	PlyCount uint32
}

// GameRecord is a single parsed game: its full position walk (including the
// start position, Walk[0]) paired with the header fields.
type GameRecord struct {
	Header GameHeaderFields
	Walk   []Position
	// Outcome is nil when the PGN result tag is not one of win/loss/draw
	// (such games are skipped and counted, never stored).
	Outcome   *Outcome
	Truncated bool // a move failed to apply; Walk stops at the last good position
}

// Scanner streams games out of a PGN corpus one at a time, wrapping
// notnil/chess's streaming scanner.
type Scanner struct {
	sc *chess.Scanner
}

// NewScanner wraps r as a PGN game stream.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{sc: chess.NewScanner(r)}
}

// Scan advances to the next game. It returns false at EOF or on an
// unrecoverable stream error (see Err).
func (s *Scanner) Scan() bool { return s.sc.Scan() }

// Err returns the first non-EOF error the scanner encountered. The
// underlying scanner reports io.EOF at a normal end of stream; that is not
// an error here.
func (s *Scanner) Err() error {
	if err := s.sc.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Next decodes the game the most recent Scan call advanced to.
func (s *Scanner) Next() *GameRecord {
	game := s.sc.Next()
	if game == nil {
		return nil
	}
	return extractGameRecord(game)
}

func extractGameRecord(game *chess.Game) *GameRecord {
	rec := &GameRecord{Header: headerFieldsOf(game)}

	outcome, ok := outcomeOf(game.Outcome())
	if ok {
		rec.Outcome = &outcome
	}

	replay := chess.NewGame()
	rec.Walk = append(rec.Walk, positionOf(replay.Position(), RootReverseMove))

	moves := game.Moves()
	for i, mv := range moves {
		before := replay.Position()
		if err := replay.Move(mv); err != nil {
			rec.Truncated = true
			break
		}
		after := replay.Position()
		rec.Walk = append(rec.Walk, positionOf(after, reverseMoveOf(before, mv)))
		if i == len(moves)-1 {
			rec.Header.PlyCount = uint32(len(rec.Walk) - 1)
		}
	}
	if rec.Header.PlyCount == 0 {
		rec.Header.PlyCount = uint32(len(rec.Walk) - 1)
	}
	return rec
}

func headerFieldsOf(game *chess.Game) GameHeaderFields {
	tags := make(map[string]string, len(game.TagPairs()))
	for _, tp := range game.TagPairs() {
		tags[tp.Key] = tp.Value
	}
	return GameHeaderFields{
		Event:  tags["Event"],
		White:  tags["White"],
		Black:  tags["Black"],
		Date:   tags["Date"],
		ECO:    tags["ECO"],
		Result: tags["Result"],
	}
}

func outcomeOf(o chess.Outcome) (Outcome, bool) {
	switch o {
	case chess.WhiteWon:
		return OutcomeWin, true
	case chess.BlackWon:
		return OutcomeLoss, true
	case chess.Draw:
		return OutcomeDraw, true
	default:
		return 0, false
	}
}

func positionOf(pos *chess.Position, rm ReverseMove) Position {
	return Position{
		Board:       boardOf(pos.Board()),
		SideToMove:  colorOf(pos.Turn()),
		ReverseMove: rm,
	}
}

func boardOf(b *chess.Board) RawBoard {
	var raw RawBoard
	for sq := 0; sq < 64; sq++ {
		p := b.Piece(chess.Square(sq))
		raw[sq] = PieceCode(pieceTypeOf(p.Type()), colorOf(p.Color()))
	}
	return raw
}

func reverseMoveOf(before *chess.Position, mv *chess.Move) ReverseMove {
	kind := MoveNormal
	switch {
	case mv.HasTag(chess.EnPassant):
		kind = MoveEnPassant
	case mv.HasTag(chess.KingSideCastle), mv.HasTag(chess.QueenSideCastle):
		kind = MoveCastle
	case mv.Promo() != chess.NoPieceType:
		kind = MovePromotion
	}
	return ReverseMove{
		From:     Square(mv.S1()),
		To:       Square(mv.S2()),
		Kind:     kind,
		Promoted: pieceTypeOf(mv.Promo()),
	}
}

func pieceTypeOf(pt chess.PieceType) PieceType {
	switch pt {
	case chess.King:
		return King
	case chess.Queen:
		return Queen
	case chess.Rook:
		return Rook
	case chess.Bishop:
		return Bishop
	case chess.Knight:
		return Knight
	case chess.Pawn:
		return Pawn
	default:
		return NoPieceType
	}
}

func colorOf(c chess.Color) Color {
	if c == chess.Black {
		return Black
	}
	return White
}

// PositionFromFEN parses a FEN string into a Position. lastMove, if
// non-nil, is attached as the position's reverse move; a query's root
// position may optionally carry the move that reached it, which the caller
// is responsible for resolving against its own game context before it
// reaches the core.
func PositionFromFEN(fen string, lastMove *ReverseMove) (*Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid fen %q: %w", fen, err)
	}
	game := chess.NewGame(opt)
	rm := RootReverseMove
	if lastMove != nil {
		rm = *lastMove
	}
	pos := positionOf(game.Position(), rm)
	return &pos, nil
}

// Child is one legal continuation from a position: the position reached and
// the move, rendered in SAN by the external notation encoder, that reaches
// it.
type Child struct {
	Position Position
	SAN      string
}

// LegalChildren enumerates every legal move from fen and returns the
// resulting positions paired with their SAN rendering. It is used by the
// query engine's fetch_children expansion.
func LegalChildren(fen string) ([]Child, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid fen %q: %w", fen, err)
	}
	game := chess.NewGame(opt)
	before := game.Position()
	notation := chess.AlgebraicNotation{}

	children := make([]Child, 0, len(game.ValidMoves()))
	for _, mv := range game.ValidMoves() {
		san := notation.Encode(before, mv)
		g := chess.NewGame(opt)
		if err := g.Move(mv); err != nil {
			continue
		}
		children = append(children, Child{
			Position: positionOf(g.Position(), reverseMoveOf(before, mv)),
			SAN:      san,
		})
	}
	return children, nil
}
