package rangeindex

import (
	"sort"

	"github.com/Sopel97/chess-pos-db-sub001/iofile"
	"github.com/Sopel97/chess-pos-db-sub001/poskey"
)

// BuildIndex runs BuildToAppender over src and writes a complete range-index
// file (header + tuples) at path. It backpatches the header's entry count
// once the final count is known, the same close-resize-reopen-free
// backpatch shape headerstore uses for ply counts (here a WriteAt into an
// already-sized header rather than a truncate).
func BuildIndex(pools *iofile.Pools, pool *iofile.ThreadPool, src KeySource, order poskey.OrderKind, granularity uint64, path string, bufBytes int) (uint64, error) {
	out, err := iofile.CreateOutput(pools, path)
	if err != nil {
		return 0, err
	}

	placeholder := Header{Version: formatVersion, Order: order, Granularity: granularity, EntryCount: 0}
	if _, err := out.Append(placeholder.encode()); err != nil {
		out.Close()
		return 0, err
	}

	appender := iofile.NewAppender(pool, out, TupleSize, bufBytes)
	emitted, buildErr := BuildToAppender(src, order, granularity, appender)
	closeErr := appender.Close()
	if buildErr != nil {
		return emitted, buildErr
	}
	if closeErr != nil {
		return emitted, closeErr
	}

	patch, err := iofile.OpenInputOutput(pools, path)
	if err != nil {
		return emitted, err
	}
	defer patch.Close()

	final := Header{Version: formatVersion, Order: order, Granularity: granularity, EntryCount: emitted}
	if _, err := patch.WriteAt(final.encode(), 0); err != nil {
		return emitted, err
	}
	return emitted, nil
}

// Index is an opened, queryable range index.
type Index struct {
	file   *iofile.ImmutableFile
	header Header
	tuples *iofile.Span
}

// Open opens the range-index file at path.
func Open(pools *iofile.Pools, path string) (*Index, error) {
	f, err := iofile.OpenImmutable(pools, path)
	if err != nil {
		return nil, err
	}
	hbuf := make([]byte, headerSize)
	if _, err := f.ReadAt(hbuf, 0); err != nil {
		f.Close()
		return nil, err
	}
	h, err := decodeHeader(hbuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	tuples := iofile.NewSpan(f, TupleSize, headerSize, int64(h.EntryCount))
	return &Index{file: f, header: h, tuples: tuples}, nil
}

// Close releases the underlying handle.
func (idx *Index) Close() error { return idx.file.Close() }

// Granularity returns G, the configured maximum range length.
func (idx *Index) Granularity() uint64 { return idx.header.Granularity }

// Order returns the order the index was built under.
func (idx *Index) Order() poskey.OrderKind { return idx.header.Order }

// Len returns the number of tuples in the index.
func (idx *Index) Len() int64 { return idx.tuples.Len() }

// Lookup finds the index entry bracketing key: a tuple compares-less than
// key iff its high_key < key, and compares-greater iff its low_key > key.
// It returns the bracketing tuple's [LowOffset,
// HighOffset) and true, or false if no tuple contains key (the key is
// certainly absent from the run without any data-file access).
func (idx *Index) Lookup(key poskey.Key) (lowOffset, highOffset uint64, found bool) {
	n := int(idx.tuples.Len())
	if n == 0 {
		return 0, 0, false
	}

	// sort.Search finds the first tuple whose high_key >= key, i.e. the
	// first tuple that does not "compare-less" than key.
	i := sort.Search(n, func(i int) bool {
		t := idx.tupleAt(i)
		return poskey.Compare(idx.header.Order, t.HighKey, key) >= 0
	})
	if i >= n {
		return 0, 0, false
	}
	t := idx.tupleAt(i)
	if poskey.Compare(idx.header.Order, t.LowKey, key) > 0 {
		return 0, 0, false
	}
	return t.LowOffset, t.HighOffset, true
}

func (idx *Index) tupleAt(i int) Tuple {
	raw, err := idx.tuples.At(int64(i))
	if err != nil {
		panic(err) // index entries are fixed-size and in-bounds by construction
	}
	return decodeTuple(raw)
}
