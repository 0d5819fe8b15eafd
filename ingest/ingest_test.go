package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/headerstore"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
	"github.com/Sopel97/chess-pos-db-sub001/partition"
)

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

const pgnWithUnknownResult = `[Event "Test"]
[Site "?"]
[White "Eve"]
[Black "Frank"]
[Result "*"]

1. e4 e5 *

`

// singlePartitionSink routes everything to one partition and one header
// store, mirroring format-B's "single partition, classification embedded in
// the key" shape.
type singlePartitionSink struct {
	part *partition.Partition
	hs   *headerstore.Store
}

func (s *singlePartitionSink) PartitionFor(chessmodel.Classification) *partition.Partition { return s.part }
func (s *singlePartitionSink) HeaderStoreFor(chessmodel.Tier) *headerstore.Store { return s.hs }
func (s *singlePartitionSink) PartitionCount() int { return 1 }
func (s *singlePartitionSink) AllPartitions() []*partition.Partition { return []*partition.Partition{s.part} }

func newSinglePartitionSink(t *testing.T) *singlePartitionSink {
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
	return &singlePartitionSink{part: part, hs: hs}
}

func writeTempPGN(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "games.pgn")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestImportSequentialBasic(t *testing.T) {
	sink := newSinglePartitionSink(t)
	path := writeTempPGN(t, pgnTwoGames)

	stats, err := Import(sink, []ImportablePGN{{Path: path, Level: chessmodel.TierHuman}}, config.Default(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.NumGames)
	require.Equal(t, uint64(0), stats.NumSkippedGames)
	require.True(t, stats.NumPositions > 0)

	require.Equal(t, uint64(2), sink.hs.Count())
	require.Len(t, sink.part.Runs(), 1)
}

func TestImportSkipsUnknownResultAndCountsIt(t *testing.T) {
	sink := newSinglePartitionSink(t)
	path := writeTempPGN(t, pgnWithUnknownResult)

	stats, err := Import(sink, []ImportablePGN{{Path: path, Level: chessmodel.TierHuman}}, config.Default(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), stats.NumGames)
	require.Equal(t, uint64(1), stats.NumSkippedGames)
	require.Equal(t, uint64(0), sink.hs.Count())
}

func TestImportSkipsUnopenablePGNFile(t *testing.T) {
	sink := newSinglePartitionSink(t)
	goodPath := writeTempPGN(t, pgnTwoGames)
	missingPath := filepath.Join(t.TempDir(), "does-not-exist.pgn")

	pgns := []ImportablePGN{
		{Path: missingPath, Level: chessmodel.TierHuman},
		{Path: goodPath, Level: chessmodel.TierHuman},
	}
	stats, err := Import(sink, pgns, config.Default(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.NumGames)
}

func TestImportReportsProgress(t *testing.T) {
	sink := newSinglePartitionSink(t)
	path := writeTempPGN(t, pgnTwoGames)

	var updates []Progress
	_, err := Import(sink, []ImportablePGN{{Path: path, Level: chessmodel.TierHuman}}, config.Default(), 1, func(p Progress) {
		updates = append(updates, p)
	})
	require.NoError(t, err)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	require.Equal(t, uint64(1), last.FilesDone)
	require.Equal(t, uint64(1), last.FilesTotal)
}

// multiPartitionSink routes by outcome to distinct partitions, mirroring
// format-A's per-classification physical split.
type multiPartitionSink struct {
	parts map[chessmodel.Outcome]*partition.Partition
	hs    *headerstore.Store
}

func (s *multiPartitionSink) PartitionFor(cl chessmodel.Classification) *partition.Partition {
	return s.parts[cl.Outcome]
}
func (s *multiPartitionSink) HeaderStoreFor(chessmodel.Tier) *headerstore.Store { return s.hs }
func (s *multiPartitionSink) PartitionCount() int { return len(s.parts) }
func (s *multiPartitionSink) AllPartitions() []*partition.Partition {
	out := make([]*partition.Partition, 0, len(s.parts))
	for _, p := range s.parts {
		out = append(out, p)
	}
	return out
}

func newMultiPartitionSink(t *testing.T) *multiPartitionSink {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	pools := iofile.NewPools(cfg)
	pool := iofile.NewThreadPool(2)

	parts := make(map[chessmodel.Outcome]*partition.Partition)
	for _, o := range chessmodel.AllOutcomes {
		p, err := partition.Open(filepath.Join(dir, o.String()), pools, pool, cfg)
		require.NoError(t, err)
		parts[o] = p
	}

	logPath, idxPath := headerstore.Dir(dir, "header", "index")
	hs, err := headerstore.Open(pools, logPath, idxPath)
	require.NoError(t, err)
	return &multiPartitionSink{parts: parts, hs: hs}
}

func TestImportRoutesByClassificationAcrossPartitions(t *testing.T) {
	sink := newMultiPartitionSink(t)
	path := writeTempPGN(t, pgnTwoGames) // one win, one loss

	stats, err := Import(sink, []ImportablePGN{{Path: path, Level: chessmodel.TierHuman}}, config.Default(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.NumGames)

	require.Len(t, sink.parts[chessmodel.OutcomeWin].Runs(), 1)
	require.Len(t, sink.parts[chessmodel.OutcomeLoss].Runs(), 1)
	require.Empty(t, sink.parts[chessmodel.OutcomeDraw].Runs())
}

func TestImportParallelModeSplitsAcrossWorkers(t *testing.T) {
	sink := newSinglePartitionSink(t)
	pathA := writeTempPGN(t, pgnTwoGames)
	pathB := writeTempPGN(t, pgnTwoGames)

	pgns := []ImportablePGN{
		{Path: pathA, Level: chessmodel.TierHuman},
		{Path: pathB, Level: chessmodel.TierEngine},
	}
	stats, err := Import(sink, pgns, config.Default(), 2, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(4), stats.NumGames)
	require.Equal(t, uint64(4), sink.hs.Count())
}
