// Package query implements the query surface: position expansion (root +
// legal children), batched key resolution against a database's partitions,
// Continuations/Transpositions/All category semantics, and result assembly
// with game-header scatter-back.
package query

import (
	"fmt"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/dberrors"
)

// RootPosition is one entry of the request's "positions" array.
type RootPosition struct {
	FEN  string `json:"fen"`
	Move string `json:"move,omitempty"`
}

// FetchingOptions controls what a category's response carries beyond bare
// counts.
type FetchingOptions struct {
	FetchChildren              bool `json:"fetch_children"`
	FetchFirstGame             bool `json:"fetch_first_game"`
	FetchLastGame              bool `json:"fetch_last_game"`
	FetchFirstGameForEachChild bool `json:"fetch_first_game_for_each_child"`
	FetchLastGameForEachChild  bool `json:"fetch_last_game_for_each_child"`
}

// Request is the decoded query request.
type Request struct {
	Token          string           `json:"token"`
	Positions      []RootPosition   `json:"positions"`
	Levels         []string         `json:"levels"`
	Results        []string         `json:"results"`
	Continuations  *FetchingOptions `json:"continuations,omitempty"`
	Transpositions *FetchingOptions `json:"transpositions,omitempty"`
	All            *FetchingOptions `json:"all,omitempty"`
}

// GameHeaderView is the response-side rendering of a headerstore.Header.
type GameHeaderView struct {
	GameID   uint32 `json:"game_id"`
	Result   string `json:"result"`
	Date     string `json:"date"`
	ECO      string `json:"eco"`
	Event    string `json:"event"`
	White    string `json:"white"`
	Black    string `json:"black"`
	PlyCount uint32 `json:"ply_count,omitempty"`
}

// ClassificationCount is one (level, result) bucket's contribution to a
// move entry: a count plus, when requested, its boundary games.
type ClassificationCount struct {
	Count     uint64          `json:"count"`
	FirstGame *GameHeaderView `json:"first_game,omitempty"`
	LastGame  *GameHeaderView `json:"last_game,omitempty"`
}

// MoveEntry maps a "level/result" key (e.g. "human/win") to its bucket.
type MoveEntry map[string]*ClassificationCount

// CategoryResult maps a move's SAN rendering (or "--" for the root itself)
// to its per-(level,result) buckets.
type CategoryResult map[string]MoveEntry

// PositionResult is one root position's full answer.
type PositionResult struct {
	FEN            string          `json:"fen"`
	Continuations  CategoryResult  `json:"continuations,omitempty"`
	Transpositions CategoryResult  `json:"transpositions,omitempty"`
	All            CategoryResult  `json:"all,omitempty"`
}

// Response mirrors Request and carries the resolved results.
type Response struct {
	Token   string           `json:"token"`
	Results []PositionResult `json:"results"`
}

func levelResultKey(t chessmodel.Tier, o chessmodel.Outcome) string {
	return t.String() + "/" + o.String()
}

// validate rejects a malformed request before any I/O is attempted.
func validate(req Request) error {
	catCount := 0
	if req.Continuations != nil {
		catCount++
	}
	if req.Transpositions != nil {
		catCount++
	}
	if req.All != nil {
		catCount++
	}
	if catCount == 0 {
		return fmt.Errorf("%w: no selection category given", dberrors.ErrInvalidRequest)
	}
	if catCount > 2 {
		return fmt.Errorf("%w: more than two selection categories given", dberrors.ErrInvalidRequest)
	}
	if req.All != nil && catCount > 1 {
		return fmt.Errorf("%w: \"all\" cannot be combined with another category", dberrors.ErrInvalidRequest)
	}
	if len(req.Levels) == 0 {
		return fmt.Errorf("%w: empty levels", dberrors.ErrInvalidRequest)
	}
	if len(req.Results) == 0 {
		return fmt.Errorf("%w: empty results", dberrors.ErrInvalidRequest)
	}
	for _, l := range req.Levels {
		if _, ok := chessmodel.ParseTier(l); !ok {
			return fmt.Errorf("%w: unknown level %q", dberrors.ErrInvalidRequest, l)
		}
	}
	for _, r := range req.Results {
		if _, ok := chessmodel.ParseOutcome(r); !ok {
			return fmt.Errorf("%w: unknown result %q", dberrors.ErrInvalidRequest, r)
		}
	}
	return nil
}

func classificationsOf(req Request) []chessmodel.Classification {
	var out []chessmodel.Classification
	for _, l := range req.Levels {
		tier, _ := chessmodel.ParseTier(l)
		for _, r := range req.Results {
			outcome, _ := chessmodel.ParseOutcome(r)
			out = append(out, chessmodel.Classification{Tier: tier, Outcome: outcome})
		}
	}
	return out
}
