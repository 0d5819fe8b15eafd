package query

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/headerstore"
	"github.com/Sopel97/chess-pos-db-sub001/ingest"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
	"github.com/Sopel97/chess-pos-db-sub001/partition"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

const pgnTwoGames = `[Event "Test"]
[Site "?"]
[Date "2020.01.01"]
[White "Alice"]
[Black "Bob"]
[Result "1-0"]

1. e4 e5 2. Nf3 Nc6 3. Bb5 1-0

[Event "Test"]
[Site "?"]
[Date "2020.01.02"]
[White "Carol"]
[Black "Dave"]
[Result "0-1"]

1. d4 d5 2. c4 e6 0-1

`

// sharedBackend routes every classification to one partition, mirroring
// format-B, so FiltersByClassification must be honored by computeAgg's
// HashOnlyOrder scans.
type sharedBackend struct {
	part *partition.Partition
	hs   *headerstore.Store
}

func (b *sharedBackend) PartitionFor(chessmodel.Classification) *partition.Partition { return b.part }
func (b *sharedBackend) HeaderStoreFor(chessmodel.Tier) *headerstore.Store { return b.hs }
func (b *sharedBackend) FiltersByClassification() bool { return true }
func (b *sharedBackend) PartitionCount() int { return 1 }
func (b *sharedBackend) AllPartitions() []*partition.Partition { return []*partition.Partition{b.part} }

func newSharedBackend(t *testing.T) *sharedBackend {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	pools := iofile.NewPools(cfg)
	pool := iofile.NewThreadPool(2)
	part, err := partition.Open(filepath.Join(dir, "data"), pools, pool, cfg)
	require.NoError(t, err)

	logPath, idxPath := headerstore.Dir(dir, "header", "index")
	hs, err := headerstore.Open(pools, logPath, idxPath)
	require.NoError(t, err)
	return &sharedBackend{part: part, hs: hs}
}

func importPGN(t *testing.T, b *sharedBackend, contents string, level chessmodel.Tier) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "games.pgn")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := ingest.Import(b, []ingest.ImportablePGN{{Path: path, Level: level}}, config.Default(), 1, nil)
	require.NoError(t, err)
	require.NoError(t, b.part.MergeAll(nil))
}

func TestExecuteContinuationsFromRoot(t *testing.T) {
	b := newSharedBackend(t)
	importPGN(t, b, pgnTwoGames, chessmodel.TierHuman)

	req := Request{
		Positions: []RootPosition{{FEN: startFEN}},
		Levels:    []string{"human"},
		Results:   []string{"win", "loss", "draw"},
		Continuations: &FetchingOptions{
			FetchChildren: true,
		},
	}

	resp, err := Execute(b, req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	cont := resp.Results[0].Continuations
	require.Contains(t, cont, "e4")
	require.Equal(t, uint64(1), cont["e4"]["human/win"].Count)
	require.Contains(t, cont, "d4")
	require.Equal(t, uint64(1), cont["d4"]["human/loss"].Count)

	require.Contains(t, cont, "--")
	require.Equal(t, uint64(1), cont["--"]["human/win"].Count)
	require.Equal(t, uint64(1), cont["--"]["human/loss"].Count)
}

func TestExecuteAllUnionsAcrossClassifications(t *testing.T) {
	b := newSharedBackend(t)
	importPGN(t, b, pgnTwoGames, chessmodel.TierHuman)

	req := Request{
		Positions: []RootPosition{{FEN: startFEN}},
		Levels:    []string{"human"},
		Results:   []string{"win", "loss", "draw"},
		All:       &FetchingOptions{FetchChildren: true},
	}

	resp, err := Execute(b, req)
	require.NoError(t, err)
	all := resp.Results[0].All
	require.Contains(t, all, "e4")
	require.Equal(t, uint64(1), all["e4"]["human/win"].Count)
}

func TestExecuteRejectsInvalidRequest(t *testing.T) {
	b := newSharedBackend(t)
	_, err := Execute(b, Request{})
	require.Error(t, err)
}

func TestExecuteFetchesFirstGameHeader(t *testing.T) {
	b := newSharedBackend(t)
	importPGN(t, b, pgnTwoGames, chessmodel.TierHuman)

	req := Request{
		Positions: []RootPosition{{FEN: startFEN}},
		Levels:    []string{"human"},
		Results:   []string{"win", "loss", "draw"},
		Continuations: &FetchingOptions{
			FetchFirstGame: true,
		},
	}

	resp, err := Execute(b, req)
	require.NoError(t, err)
	cc := resp.Results[0].Continuations["--"]["human/win"]
	require.NotNil(t, cc)
	require.NotNil(t, cc.FirstGame)
	require.Equal(t, "Alice", cc.FirstGame.White)
}

const pgnKnightShuffle = `[Event "Shuffle"]
[Site "?"]
[Date "2020.02.02"]
[White "Gus"]
[Black "Hal"]
[Result "1/2-1/2"]

1. Nf3 Nf6 2. Ng1 Ng8 1/2-1/2

`

func TestExecuteSplitsContinuationsFromTranspositions(t *testing.T) {
	b := newSharedBackend(t)
	importPGN(t, b, pgnKnightShuffle, chessmodel.TierEngine)

	req := Request{
		Positions:     []RootPosition{{FEN: startFEN}},
		Levels:        []string{"engine"},
		Results:       []string{"win", "loss", "draw"},
		Continuations: &FetchingOptions{},
		Transpositions: &FetchingOptions{
			// silently ignored for a derived category, never an error.
			FetchFirstGameForEachChild: true,
		},
	}

	resp, err := Execute(b, req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	// The game starts at the root (reverse move null): one continuation.
	cont := resp.Results[0].Continuations["--"]["engine/draw"]
	require.NotNil(t, cont)
	require.Equal(t, uint64(1), cont.Count)

	// After 2. Ng1 Ng8 the placement is the start position again, reached
	// by Ng8: one transposition, derived as All minus Continuations.
	trans := resp.Results[0].Transpositions["--"]["engine/draw"]
	require.NotNil(t, trans)
	require.Equal(t, uint64(1), trans.Count)
	require.Nil(t, trans.FirstGame)
	require.Nil(t, trans.LastGame)
}
