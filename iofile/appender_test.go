package iofile

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppenderFlushAndClose(t *testing.T) {
	pools := testPools(t)
	pool := NewThreadPool(2)
	path := filepath.Join(t.TempDir(), "appended.bin")

	out, err := CreateOutput(pools, path)
	require.NoError(t, err)

	appender := NewAppender(pool, out, 4, 8) // tiny buffer: 2 records/buffer

	const n = 37
	for i := 0; i < n; i++ {
		var rec [4]byte
		binary.BigEndian.PutUint32(rec[:], uint32(i))
		require.NoError(t, appender.Append(rec[:]))
	}
	require.NoError(t, appender.Close())
	assert.NoError(t, appender.Err())

	imm, err := OpenImmutable(pools, path)
	require.NoError(t, err)
	defer imm.Close()
	assert.EqualValues(t, n*4, imm.Size())

	buf := make([]byte, 4)
	for i := 0; i < n; i++ {
		_, err := imm.ReadAt(buf, int64(i*4))
		require.NoError(t, err)
		assert.Equal(t, uint32(i), binary.BigEndian.Uint32(buf))
	}
}

func TestAppenderCloseIdempotent(t *testing.T) {
	pools := testPools(t)
	pool := NewThreadPool(1)
	path := filepath.Join(t.TempDir(), "idempotent.bin")

	out, err := CreateOutput(pools, path)
	require.NoError(t, err)
	appender := NewAppender(pool, out, 4, 16)
	require.NoError(t, appender.Append([]byte{1, 2, 3, 4}))
	require.NoError(t, appender.Close())
	require.NoError(t, appender.Close())
}
