package iofile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sopel97/chess-pos-db-sub001/config"
)

func testPools(t *testing.T) *Pools {
	t.Helper()
	cfg := config.Default()
	cfg.PoolMaxOpenFiles = 4
	cfg.DirectMaxOpenFiles = 4
	return NewPools(cfg)
}

func TestOutputAppendAndSeal(t *testing.T) {
	pools := testPools(t)
	path := filepath.Join(t.TempDir(), "out.bin")

	out, err := CreateOutput(pools, path)
	require.NoError(t, err)

	n, err := out.Append([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.EqualValues(t, 4, out.Offset())

	imm, err := out.Seal()
	require.NoError(t, err)
	defer imm.Close()

	assert.EqualValues(t, 4, imm.Size())
	buf := make([]byte, 4)
	_, err = imm.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf))
}

func TestPooledHandleSharedAcrossOpens(t *testing.T) {
	pools := testPools(t)
	path := filepath.Join(t.TempDir(), "shared.bin")

	out, err := CreateOutput(pools, path)
	require.NoError(t, err)
	_, err = out.Append([]byte("hello world"))
	require.NoError(t, err)
	_, err = out.Seal()
	require.NoError(t, err)

	f1, err := OpenImmutable(pools, path)
	require.NoError(t, err)
	f2, err := OpenImmutable(pools, path)
	require.NoError(t, err)

	require.NoError(t, f1.Close())
	require.NoError(t, f2.Close())
}

func TestDirectHandleCapEnforced(t *testing.T) {
	cfg := config.Default()
	cfg.DirectMaxOpenFiles = 1
	pools := NewPools(cfg)
	dir := t.TempDir()

	out1, err := CreateOutput(pools, filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	defer out1.Close()

	_, err = CreateOutput(pools, filepath.Join(dir, "b.bin"))
	assert.Error(t, err)
}

func TestInputOutputFileTruncate(t *testing.T) {
	pools := testPools(t)
	path := filepath.Join(t.TempDir(), "io.bin")

	f, err := OpenInputOutput(pools, path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Append([]byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(4))

	buf := make([]byte, 4)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(buf))
}

func TestOpenOutputAppendDoesNotTruncate(t *testing.T) {
	pools := testPools(t)
	path := filepath.Join(t.TempDir(), "append.bin")

	out, err := CreateOutput(pools, path)
	require.NoError(t, err)
	_, err = out.Append([]byte("head"))
	require.NoError(t, err)
	require.NoError(t, out.Close())

	out, err = OpenOutputAppend(pools, path)
	require.NoError(t, err)
	assert.EqualValues(t, 4, out.Offset())
	_, err = out.Append([]byte("tail"))
	require.NoError(t, err)

	imm, err := out.Seal()
	require.NoError(t, err)
	defer imm.Close()
	buf := make([]byte, 8)
	_, err = imm.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "headtail", string(buf))
}
