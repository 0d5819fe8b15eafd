package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/ingest"
	"github.com/Sopel97/chess-pos-db-sub001/manifest"
	"github.com/Sopel97/chess-pos-db-sub001/query"
)

const pgnOneGame = `[Event "Test"]
[Site "?"]
[Date "2020.01.01"]
[White "Alice"]
[Black "Bob"]
[Result "1-0"]

1. e4 e5 2. Nf3 Nc6 3. Bb5 1-0

`

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func writeTempPGN(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "games.pgn")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func testImportQueryRoundTrip(t *testing.T, format Format) {
	dir := t.TempDir()
	database, err := Create(dir, format, config.Default())
	require.NoError(t, err)

	path := writeTempPGN(t, pgnOneGame)
	stats, err := database.Import([]ingest.ImportablePGN{{Path: path, Level: chessmodel.TierHuman}}, 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.NumGames)
	require.NoError(t, database.Flush())

	dbStats, err := database.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(1), dbStats.NumGames)
	require.True(t, dbStats.NumPositions > 0)

	resp, err := database.Query(query.Request{
		Positions:     []query.RootPosition{{FEN: startFEN}},
		Levels:        []string{"human"},
		Results:       []string{"win", "loss", "draw"},
		Continuations: &query.FetchingOptions{FetchFirstGame: true},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	cc := resp.Results[0].Continuations["--"]["human/win"]
	require.NotNil(t, cc)
	require.Equal(t, uint64(1), cc.Count)
	require.NotNil(t, cc.FirstGame)
	require.Equal(t, "Alice", cc.FirstGame.White)

	require.NoError(t, database.Close())

	reopened, err := Open(dir, config.Default())
	require.NoError(t, err)
	defer reopened.Close()
	reopenedStats, err := reopened.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(1), reopenedStats.NumGames)
}

func TestImportQueryRoundTripFormatA(t *testing.T) {
	testImportQueryRoundTrip(t, FormatA)
}

func TestImportQueryRoundTripFormatB(t *testing.T) {
	testImportQueryRoundTrip(t, FormatB)
}

func TestOpenDetectsFormatAutomatically(t *testing.T) {
	dir := t.TempDir()
	created, err := Create(dir, FormatB, config.Default())
	require.NoError(t, err)
	require.NoError(t, created.Close())

	opened, err := Open(dir, config.Default())
	require.NoError(t, err)
	defer opened.Close()
	require.Equal(t, FormatB, opened.Format())
}

func TestValidateManifestRejectsGarbageManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest"), []byte("garbage that is not a manifest"), 0o644))

	result, _, err := ValidateManifest(dir)
	require.NoError(t, err)
	require.NotEqual(t, manifest.Ok, result)
}

func TestMergeAllCollapsesRuns(t *testing.T) {
	dir := t.TempDir()
	database, err := Create(dir, FormatA, config.Default())
	require.NoError(t, err)
	defer database.Close()

	path1 := writeTempPGN(t, pgnOneGame)
	path2 := writeTempPGN(t, pgnOneGame)
	_, err = database.Import([]ingest.ImportablePGN{
		{Path: path1, Level: chessmodel.TierHuman},
		{Path: path2, Level: chessmodel.TierHuman},
	}, 1, nil)
	require.NoError(t, err)

	require.NoError(t, database.MergeAll(false))
	for _, part := range database.AllPartitions() {
		require.LessOrEqual(t, len(part.Runs()), 1)
	}
}

func TestReplicateProducesIndependentCopy(t *testing.T) {
	dir := t.TempDir()
	database, err := Create(dir, FormatB, config.Default())
	require.NoError(t, err)
	defer database.Close()

	path := writeTempPGN(t, pgnOneGame)
	_, err = database.Import([]ingest.ImportablePGN{{Path: path, Level: chessmodel.TierHuman}}, 1, nil)
	require.NoError(t, err)
	require.NoError(t, database.Flush())

	dest := t.TempDir()
	require.NoError(t, database.Replicate(dest, false))

	result, _, err := ValidateManifest(dest)
	require.NoError(t, err)
	require.Equal(t, manifest.Ok, result)

	replica, err := Open(dest, config.Default())
	require.NoError(t, err)
	defer replica.Close()
	st, err := replica.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.NumGames)
}

func TestClearEmptiesDatabaseButKeepsFormat(t *testing.T) {
	dir := t.TempDir()
	database, err := Create(dir, FormatA, config.Default())
	require.NoError(t, err)
	defer database.Close()

	path := writeTempPGN(t, pgnOneGame)
	_, err = database.Import([]ingest.ImportablePGN{{Path: path, Level: chessmodel.TierHuman}}, 1, nil)
	require.NoError(t, err)

	require.NoError(t, database.Clear())

	st, err := database.Stats()
	require.NoError(t, err)
	require.Zero(t, st.NumGames)
	require.Zero(t, st.NumPositions)

	key, err := database.Manifest()
	require.NoError(t, err)
	require.Equal(t, formatAKey, key)

	// an empty database answers queries with empty results, not errors.
	resp, err := database.Query(query.Request{
		Positions:     []query.RootPosition{{FEN: startFEN}},
		Levels:        []string{"human"},
		Results:       []string{"win"},
		Continuations: &query.FetchingOptions{},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Results[0].Continuations)
}
