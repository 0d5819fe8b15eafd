package iofile

import (
	"bufio"
	"fmt"
	"io"

	"github.com/Sopel97/chess-pos-db-sub001/dberrors"
)

// Span is a typed immutable span: a fixed-elemSize window over an
// ImmutableFile. Elements are opaque []byte of ElemSize; the
// poskey/rangeindex/headerstore layers interpret those bytes, so Span stays
// a byte-slice window with a constant stride rather than a generic
// container.
type Span struct {
	file     *ImmutableFile
	elemSize int
	base     int64 // byte offset of element 0 within file
	count    int64 // number of elements
}

// NewSpan wraps the region [base, base+count*elemSize) of file as a span of
// count elements of elemSize bytes each.
func NewSpan(file *ImmutableFile, elemSize int, base int64, count int64) *Span {
	return &Span{file: file, elemSize: elemSize, base: base, count: count}
}

// Len returns the number of elements.
func (s *Span) Len() int64 { return s.count }

// ElemSize returns the per-element stride in bytes.
func (s *Span) ElemSize() int { return s.elemSize }

// At issues a synchronous small read for element i.
func (s *Span) At(i int64) ([]byte, error) {
	if i < 0 || i >= s.count {
		return nil, fmt.Errorf("iofile: span index %d out of range [0,%d)", i, s.count)
	}
	buf := make([]byte, s.elemSize)
	off := s.base + i*int64(s.elemSize)
	n, err := s.file.ReadAt(buf, off)
	if err == io.EOF && n < s.elemSize {
		return nil, &dberrors.ReadShort{Path: s.file.Path(), Offset: off, Requested: s.elemSize, Actual: n}
	}
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// ReadWindow synchronously reads the inclusive [lo, hi] element range into
// buf, which must be at least (hi-lo+1)*ElemSize bytes, as a single
// positioned read rather than one read per element.
func (s *Span) ReadWindow(buf []byte, lo, hi int64) error {
	n := hi - lo + 1
	want := int(n) * s.elemSize
	off := s.base + lo*int64(s.elemSize)
	nRead, err := s.file.ReadAt(buf[:want], off)
	if err == io.EOF && nRead < want {
		return &dberrors.ReadShort{Path: s.file.Path(), Offset: off, Requested: want, Actual: nRead}
	}
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Subspan returns the count-element window starting at offset within s.
func (s *Span) Subspan(offset, count int64) *Span {
	return &Span{
		file:     s.file,
		elemSize: s.elemSize,
		base:     s.base + offset*int64(s.elemSize),
		count:    count,
	}
}

// ReadRangeAsync issues an async bulk read of [offset, offset+count) into
// buf (which must be count*ElemSize bytes) via pool.
func (s *Span) ReadRangeAsync(pool *ThreadPool, buf []byte, offset, count int64) *Future {
	off := s.base + offset*int64(s.elemSize)
	want := int(count) * s.elemSize
	return pool.Submit(s.file.Path(), func() (int, error) {
		n, err := s.file.ReadAt(buf[:want], off)
		if err != nil && err == io.EOF && n == want {
			err = nil
		}
		return n, err
	})
}

// defaultChunkBytes sizes the chunk prefetched by the sequential iterator,
// independent of ElemSize.
const defaultChunkBytes = 12 * 1024 * 1024

// Iterator is a double-buffered sequential reader over a Span: it
// prefetches the next chunk on a background goroutine while the caller
// consumes the current one, and hands out whole elements rather than raw
// bytes.
type Iterator struct {
	span      *Span
	elemSize  int
	next      int64 // next element index to read from the file
	chunkElem int64

	cur    []byte // current chunk, not yet consumed past curOff
	curOff int

	prefetch chan chunkResult
}

type chunkResult struct {
	buf []byte
	err error
}

// Iterate returns a sequential iterator starting at element 0.
func (s *Span) Iterate() *Iterator {
	chunkElem := int64(defaultChunkBytes / s.elemSize)
	if chunkElem < 1 {
		chunkElem = 1
	}
	it := &Iterator{
		span:      s,
		elemSize:  s.elemSize,
		chunkElem: chunkElem,
		prefetch:  make(chan chunkResult, 1),
	}
	it.dispatch()
	return it
}

func (it *Iterator) dispatch() {
	start := it.next
	n := it.chunkElem
	if start+n > it.span.count {
		n = it.span.count - start
	}
	if n <= 0 {
		it.prefetch <- chunkResult{buf: nil, err: io.EOF}
		it.next = start
		return
	}
	it.next = start + n
	go func() {
		buf := make([]byte, int(n)*it.elemSize)
		_, err := it.span.file.ReadAt(buf, it.span.base+start*int64(it.elemSize))
		if err == io.EOF {
			err = nil
		}
		it.prefetch <- chunkResult{buf: buf, err: err}
	}()
}

// Next returns the next element, or io.EOF once the span is exhausted.
func (it *Iterator) Next() ([]byte, error) {
	if it.curOff >= len(it.cur) {
		res := <-it.prefetch
		if res.err != nil && res.buf == nil {
			return nil, res.err
		}
		it.cur = res.buf
		it.curOff = 0
		it.dispatch()
		if len(it.cur) == 0 {
			return nil, io.EOF
		}
	}
	e := it.cur[it.curOff : it.curOff+it.elemSize]
	it.curOff += it.elemSize
	return e, nil
}

// sequentialByteReader adapts an ImmutableFile to io.Reader for callers
// that want ordinary buffered sequential reads rather than the typed
// element iterator above.
type sequentialByteReader struct {
	file   *ImmutableFile
	off    int64
	buffer *bufio.Reader
}

// NewSequentialReader wraps file as a plain io.Reader starting at offset
// 0, buffered chunkBytes at a time.
func NewSequentialReader(file *ImmutableFile, chunkBytes int) io.Reader {
	if chunkBytes <= 0 {
		chunkBytes = defaultChunkBytes
	}
	r := &sequentialByteReader{file: file}
	r.buffer = bufio.NewReaderSize(readAtReader{r}, chunkBytes)
	return r.buffer
}

type readAtReader struct{ r *sequentialByteReader }

func (a readAtReader) Read(p []byte) (int, error) {
	n, err := a.r.file.ReadAt(p, a.r.off)
	a.r.off += int64(n)
	return n, err
}
