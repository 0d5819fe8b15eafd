package rangeindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
	"github.com/Sopel97/chess-pos-db-sub001/poskey"
)

func TestIndexBuildAndLookup(t *testing.T) {
	cfg := config.Default()
	cfg.PoolMaxOpenFiles = 8
	cfg.DirectMaxOpenFiles = 8
	pools := iofile.NewPools(cfg)
	pool := iofile.NewThreadPool(2)
	dir := t.TempDir()

	const n = 2000
	keys := make([]poskey.Key, n)
	for i := range keys {
		keys[i] = k(uint64(i * 2)) // even keys only, so odd keys are always absent
	}
	src := &sliceKeySource{keys: keys}

	path := filepath.Join(dir, "range.idx")
	emitted, err := BuildIndex(pools, pool, src, poskey.FullOrder, 50, path, 4096)
	require.NoError(t, err)
	require.Greater(t, emitted, uint64(0))

	idx, err := Open(pools, path)
	require.NoError(t, err)
	defer idx.Close()

	assert.EqualValues(t, 50, idx.Granularity())
	assert.Equal(t, poskey.FullOrder, idx.Order())
	assert.EqualValues(t, emitted, idx.Len())

	// A present key resolves to a bracket no wider than G that contains
	// the key's true offset (key 400 is the run's 200th entry).
	lo, hi, found := idx.Lookup(k(400))
	require.True(t, found)
	assert.LessOrEqual(t, hi-lo, uint64(50))
	assert.LessOrEqual(t, lo, uint64(200))
	assert.Greater(t, hi, uint64(200))

	// An odd key interior to a tuple's key range still resolves to that
	// bracket: the index alone cannot prove absence there, only the data
	// file can (lookup's job, not the index's).
	_, _, found = idx.Lookup(k(401))
	assert.True(t, found)

	// The run's first key, and a key above every bracket: the latter is
	// provably absent with no data-file access.
	_, _, found = idx.Lookup(k(0))
	assert.True(t, found)
	_, _, found = idx.Lookup(poskey.Key{Hi: 0, Lo: ^uint64(0)})
	assert.False(t, found)
}

func TestIndexLookupEmptyRun(t *testing.T) {
	cfg := config.Default()
	pools := iofile.NewPools(cfg)
	pool := iofile.NewThreadPool(1)
	dir := t.TempDir()

	src := &sliceKeySource{}
	path := filepath.Join(dir, "empty.idx")
	emitted, err := BuildIndex(pools, pool, src, poskey.FullOrder, 50, path, 4096)
	require.NoError(t, err)
	assert.Zero(t, emitted)

	idx, err := Open(pools, path)
	require.NoError(t, err)
	defer idx.Close()

	_, _, found := idx.Lookup(k(1))
	assert.False(t, found)
}
