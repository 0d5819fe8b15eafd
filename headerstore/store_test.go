package headerstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	pools := iofile.NewPools(config.Default())
	logPath, indexPath := Dir(dir, "header", "index")
	s, err := Open(pools, logPath, indexPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndQueryRoundTrip(t *testing.T) {
	s := openTestStore(t)

	h0 := Header{Event: "Event A", White: "Alice", Black: "Bob", Date: "2021.05.06", ECO: "B10", Outcome: chessmodel.OutcomeWin, PlyCount: 0}
	off0, id0, err := s.Add(h0)
	require.NoError(t, err)
	require.EqualValues(t, 0, id0)

	h1 := Header{Event: "Event B", White: "Carl", Black: "Dee", Date: "2021.05.07", ECO: "C60", Outcome: chessmodel.OutcomeDraw, PlyCount: 0}
	_, id1, err := s.Add(h1)
	require.NoError(t, err)
	require.EqualValues(t, 1, id1)

	require.NoError(t, s.PatchPlyCount(off0, 42))

	got, err := s.QueryByIDs([]uint32{1, 0})
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, uint32(1), got[0].GameIdx)
	require.Equal(t, "Event B", got[0].Event)
	require.Equal(t, "Carl", got[0].White)
	require.Equal(t, chessmodel.OutcomeDraw, got[0].Outcome)

	require.Equal(t, uint32(0), got[1].GameIdx)
	require.Equal(t, "Event A", got[1].Event)
	require.Equal(t, uint32(42), got[1].PlyCount)
	require.Equal(t, "B10", got[1].ECO)
	require.Equal(t, "2021.05.06", got[1].Date)
}

func TestTruncatesOverlongFields(t *testing.T) {
	s := openTestStore(t)
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	_, _, err := s.Add(Header{Event: string(long)})
	require.NoError(t, err)

	got, err := s.QueryByIDs([]uint32{0})
	require.NoError(t, err)
	require.Len(t, got[0].Event, maxFieldLen)
}

func TestReopenPreservesCount(t *testing.T) {
	dir := t.TempDir()
	pools := iofile.NewPools(config.Default())
	logPath, indexPath := Dir(dir, "header", "index")

	s, err := Open(pools, logPath, indexPath)
	require.NoError(t, err)
	_, _, err = s.Add(Header{Event: "one"})
	require.NoError(t, err)
	_, _, err = s.Add(Header{Event: "two"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(pools, logPath, indexPath)
	require.NoError(t, err)
	defer s2.Close()
	require.EqualValues(t, 2, s2.Count())

	_, id, err := s2.Add(Header{Event: "three"})
	require.NoError(t, err)
	require.EqualValues(t, 2, id)
}

func TestDirNaming(t *testing.T) {
	logPath, indexPath := Dir(filepath.Join("root", "tier"), "header_human", "index_human")
	require.Equal(t, filepath.Join("root", "tier", "header_human"), logPath)
	require.Equal(t, filepath.Join("root", "tier", "index_human"), indexPath)
}
