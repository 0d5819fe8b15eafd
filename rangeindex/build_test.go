package rangeindex

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sopel97/chess-pos-db-sub001/poskey"
)

type sliceKeySource struct {
	keys []poskey.Key
	i    int
}

func (s *sliceKeySource) Next() (poskey.Key, error) {
	if s.i >= len(s.keys) {
		return poskey.Key{}, io.EOF
	}
	k := s.keys[s.i]
	s.i++
	return k, nil
}

func k(lo uint64) poskey.Key { return poskey.Key{Hi: 0, Lo: lo} }

// memSink collects emitted tuples in memory, letting these tests exercise
// BuildToAppender's algorithm directly without a real backing file.
type memSink struct {
	tuples []Tuple
}

func (m *memSink) Append(record []byte) error {
	m.tuples = append(m.tuples, decodeTuple(record))
	return nil
}

func TestEqualRunCollapsesToOneTuple(t *testing.T) {
	keys := make([]poskey.Key, 10000)
	for i := range keys {
		keys[i] = k(42)
	}
	src := &sliceKeySource{keys: keys}

	sink := &memSink{}
	emitted, err := BuildToAppender(src, poskey.FullOrder, 100, sink)
	require.NoError(t, err)
	assert.EqualValues(t, 1, emitted)
	require.Len(t, sink.tuples, 1, "an all-equal run must collapse into a single tuple regardless of G")
	assert.EqualValues(t, 0, sink.tuples[0].LowOffset)
	assert.EqualValues(t, 10000, sink.tuples[0].HighOffset)
}

func TestDistinctRunSplitsAtGranularity(t *testing.T) {
	const n = 1000
	const g = 64
	keys := make([]poskey.Key, n)
	for i := range keys {
		keys[i] = k(uint64(i))
	}
	src := &sliceKeySource{keys: keys}

	sink := &memSink{}
	_, err := BuildToAppender(src, poskey.FullOrder, g, sink)
	require.NoError(t, err)
	require.NotEmpty(t, sink.tuples)

	// Tuples must tile the whole run contiguously, and each (except
	// possibly the last) must be no longer than g.
	var total uint64
	for i, tup := range sink.tuples {
		assert.Equal(t, total, tup.LowOffset)
		length := tup.HighOffset - tup.LowOffset
		if i != len(sink.tuples)-1 {
			assert.LessOrEqual(t, length, uint64(g))
		}
		total = tup.HighOffset
	}
	assert.EqualValues(t, n, total)
}

func TestMixedEqualAndDistinctRanges(t *testing.T) {
	// A long equal-valued run followed by strictly increasing distinct keys.
	var keys []poskey.Key
	for i := 0; i < 50; i++ {
		keys = append(keys, k(7))
	}
	for i := 0; i < 500; i++ {
		keys = append(keys, k(uint64(1000+i)))
	}
	src := &sliceKeySource{keys: keys}

	sink := &memSink{}
	_, err := BuildToAppender(src, poskey.FullOrder, 32, sink)
	require.NoError(t, err)
	require.NotEmpty(t, sink.tuples)

	assert.EqualValues(t, 7, sink.tuples[0].LowKey.Lo)
	assert.EqualValues(t, 7, sink.tuples[0].HighKey.Lo)
	assert.EqualValues(t, 0, sink.tuples[0].LowOffset)
	assert.EqualValues(t, 50, sink.tuples[0].HighOffset, "the equal prefix must not be split even though it may exceed G")

	total := sink.tuples[0].HighOffset
	for _, tup := range sink.tuples[1:] {
		assert.Equal(t, total, tup.LowOffset)
		total = tup.HighOffset
	}
	assert.EqualValues(t, len(keys), total)
}

func TestEmptyRunEmitsNothing(t *testing.T) {
	src := &sliceKeySource{}
	sink := &memSink{}
	emitted, err := BuildToAppender(src, poskey.FullOrder, 64, sink)
	require.NoError(t, err)
	assert.Zero(t, emitted)
	assert.Empty(t, sink.tuples)
}
