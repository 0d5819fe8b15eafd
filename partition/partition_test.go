package partition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/entry"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
	"github.com/Sopel97/chess-pos-db-sub001/poskey"
)

func seqEntries(lo, n int) []entry.Entry {
	out := make([]entry.Entry, n)
	for i := 0; i < n; i++ {
		k := poskey.Key{Hi: 0, Lo: uint64(lo + i)}
		out[i] = entry.Entry{
			Key:     k.Bytes(),
			Payload: entry.CountAndGameOffset{Count: 1, GameOffset: uint64(lo + i), OffsetValid: true},
		}
	}
	return out
}

func newTestPartition(t *testing.T) (*Partition, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	pools := iofile.NewPools(cfg)
	pool := iofile.NewThreadPool(2)
	p, err := Open(dir, pools, pool, cfg)
	require.NoError(t, err)
	return p, dir
}

func TestOpenEmptyDirStartsAtZero(t *testing.T) {
	p, _ := newTestPartition(t)
	require.Empty(t, p.Runs())
	require.Equal(t, uint32(0), p.NextID())
}

func TestReserveBandNeverOverlaps(t *testing.T) {
	p, _ := newTestPartition(t)
	low1, high1 := p.ReserveBand(5)
	low2, high2 := p.ReserveBand(3)
	require.Equal(t, uint32(0), low1)
	require.Equal(t, uint32(5), high1)
	require.Equal(t, uint32(5), low2)
	require.Equal(t, uint32(8), high2)
}

func TestStoreOrderedCreatesRunAndIndexes(t *testing.T) {
	p, _ := newTestPartition(t)
	rf, err := p.StoreOrdered(seqEntries(0, 100))
	require.NoError(t, err)
	require.Equal(t, uint32(0), rf.ID)

	require.FileExists(t, rf.Path)
	require.FileExists(t, rf.HashIndexPath)
	require.FileExists(t, rf.FullIndexPath)

	require.Len(t, p.Runs(), 1)
}

func TestStoreUnorderedCollectedInOrder(t *testing.T) {
	p, _ := newTestPartition(t)
	id0 := p.NextID()
	id1 := p.NextID()

	p.StoreUnordered(seqEntries(100, 50), id1)
	p.StoreUnordered(seqEntries(0, 100), id0)

	require.NoError(t, p.CollectFutures())
	runs := p.Runs()
	require.Len(t, runs, 2)
	require.Equal(t, id0, runs[0].ID)
	require.Equal(t, id1, runs[1].ID)
}

func TestOpenDiscoversExistingRuns(t *testing.T) {
	p, dir := newTestPartition(t)
	_, err := p.StoreOrdered(seqEntries(0, 20))
	require.NoError(t, err)
	_, err = p.StoreOrdered(seqEntries(20, 20))
	require.NoError(t, err)

	cfg := config.Default()
	pools := iofile.NewPools(cfg)
	pool := iofile.NewThreadPool(2)
	reopened, err := Open(dir, pools, pool, cfg)
	require.NoError(t, err)
	require.Len(t, reopened.Runs(), 2)
	require.Equal(t, uint32(2), reopened.NextID())
}

func TestOpenIgnoresStrayAndIndexFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notarun.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "5_index0"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0"), nil, 0o644)) // zero-sized, excluded

	cfg := config.Default()
	pools := iofile.NewPools(cfg)
	pool := iofile.NewThreadPool(2)
	p, err := Open(dir, pools, pool, cfg)
	require.NoError(t, err)
	require.Empty(t, p.Runs())
}

func TestMergeAllCollapsesToOneRunPreservingOrder(t *testing.T) {
	p, _ := newTestPartition(t)
	_, err := p.StoreOrdered(seqEntries(0, 100))
	require.NoError(t, err)
	_, err = p.StoreOrdered(seqEntries(100, 100))
	require.NoError(t, err)
	_, err = p.StoreOrdered(seqEntries(200, 100))
	require.NoError(t, err)

	var lastProgress Progress
	err = p.MergeAll(func(pr Progress) { lastProgress = pr })
	require.NoError(t, err)

	runs := p.Runs()
	require.Len(t, runs, 1)
	require.Equal(t, uint32(0), runs[0].ID)
	require.Equal(t, uint64(300), lastProgress.EntriesTotal)
	require.Equal(t, lastProgress.EntriesTotal, lastProgress.EntriesDone)

	f, err := iofile.OpenImmutable(iofile.NewPools(config.Default()), runs[0].Path)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, int64(300*entry.Size), f.Size())
}

func TestMergeAllNoopBelowTwoRuns(t *testing.T) {
	p, _ := newTestPartition(t)
	rf, err := p.StoreOrdered(seqEntries(0, 10))
	require.NoError(t, err)

	require.NoError(t, p.MergeAll(nil))
	runs := p.Runs()
	require.Len(t, runs, 1)
	require.Equal(t, rf.ID, runs[0].ID)
}

func TestReplicateMergeAllSingleRunCopies(t *testing.T) {
	p, _ := newTestPartition(t)
	rf, err := p.StoreOrdered(seqEntries(0, 10))
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, p.ReplicateMergeAll(dest, nil))

	require.FileExists(t, filepath.Join(dest, "0"))
	require.FileExists(t, filepath.Join(dest, "0_index0"))
	require.FileExists(t, filepath.Join(dest, "0_index1"))
	// source untouched
	require.FileExists(t, rf.Path)
}

func TestReplicateMergeAllMultiRunLeavesSourceIntact(t *testing.T) {
	p, _ := newTestPartition(t)
	_, err := p.StoreOrdered(seqEntries(0, 50))
	require.NoError(t, err)
	_, err = p.StoreOrdered(seqEntries(50, 50))
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, p.ReplicateMergeAll(dest, nil))

	require.Len(t, p.Runs(), 2)
	require.FileExists(t, filepath.Join(dest, "0"))

	destPools := iofile.NewPools(config.Default())
	f, err := iofile.OpenImmutable(destPools, filepath.Join(dest, "0"))
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, int64(100*entry.Size), f.Size())
}

func TestOpenRejectsCorruptRun(t *testing.T) {
	dir := t.TempDir()
	// 25 bytes: not a multiple of the entry width.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3"), make([]byte, entry.Size+1), 0o644))

	cfg := config.Default()
	pools := iofile.NewPools(cfg)
	pool := iofile.NewThreadPool(1)
	_, err := Open(dir, pools, pool, cfg)
	require.Error(t, err)
}

func TestClearRemovesEveryRun(t *testing.T) {
	p, dir := newTestPartition(t)
	_, err := p.StoreOrdered(seqEntries(0, 10))
	require.NoError(t, err)
	_, err = p.StoreOrdered(seqEntries(10, 10))
	require.NoError(t, err)

	require.NoError(t, p.Clear())
	require.Empty(t, p.Runs())
	require.Equal(t, uint32(0), p.NextID())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
