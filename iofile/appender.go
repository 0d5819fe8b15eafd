package iofile

import (
	"sync"

	"github.com/Sopel97/chess-pos-db-sub001/dberrors"
)

// Appender is an appending back-inserter: a double buffer over an
// OutputFile. When the foreground buffer reaches bufSize it is swapped with
// the background buffer and handed to the async threadpool for append; the
// caller proceeds immediately against the new foreground buffer.
//
// Appender has no finalizer-based flush: Close is the only path that
// flushes and surfaces an error, and is idempotent. A sticky error observed
// by a background append is recorded so Err() reports it even if the caller
// never checks Close's return value.
type Appender struct {
	pool *ThreadPool
	out  *OutputFile

	elemSize int
	bufSize  int // bytes per buffer

	mu      sync.Mutex
	fg      []byte
	pending *Future

	errMu  sync.Mutex
	err    error
	closed bool
}

// NewAppender builds an Appender writing elemSize-stride records to out via
// pool, double-buffering bufBytes at a time.
func NewAppender(pool *ThreadPool, out *OutputFile, elemSize, bufBytes int) *Appender {
	if bufBytes < elemSize {
		bufBytes = elemSize
	}
	return &Appender{
		pool:     pool,
		out:      out,
		elemSize: elemSize,
		bufSize:  bufBytes,
		fg:       make([]byte, 0, bufBytes),
	}
}

// Append adds one elemSize-byte record, possibly triggering an async flush
// of the now-full foreground buffer.
func (a *Appender) Append(record []byte) error {
	if len(record) != a.elemSize {
		panic("iofile: Appender.Append record size mismatch")
	}
	a.mu.Lock()
	a.fg = append(a.fg, record...)
	full := len(a.fg)+a.elemSize > cap(a.fg)
	var toFlush []byte
	if full {
		toFlush = a.fg
		a.fg = make([]byte, 0, a.bufSize)
	}
	a.mu.Unlock()

	if toFlush != nil {
		a.dispatch(toFlush)
	}
	return a.Err()
}

// dispatch submits buf for background append, waiting for any previously
// outstanding append first so per-file FIFO ordering of the physical writes
// is preserved even though Appender itself is double-buffered.
func (a *Appender) dispatch(buf []byte) {
	a.mu.Lock()
	prev := a.pending
	a.mu.Unlock()
	if prev != nil {
		if _, err := prev.Wait(); err != nil {
			a.setErr(err)
		}
	}

	fut := a.pool.Append(a.out, buf)
	a.mu.Lock()
	a.pending = fut
	a.mu.Unlock()
}

func (a *Appender) setErr(err error) {
	a.errMu.Lock()
	if a.err == nil {
		a.err = err
	}
	a.errMu.Unlock()
}

// Err reports the first error observed by a background append, if any.
func (a *Appender) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

// Flush blocks until all outstanding appends (including the current
// foreground buffer) have reached the file.
func (a *Appender) Flush() error {
	a.mu.Lock()
	remaining := a.fg
	a.fg = make([]byte, 0, a.bufSize)
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	if pending != nil {
		if _, err := pending.Wait(); err != nil {
			a.setErr(err)
		}
	}
	if len(remaining) > 0 {
		if _, err := a.out.Append(remaining); err != nil {
			a.setErr(&dberrors.WriteShort{Path: a.out.path, Requested: len(remaining), Actual: 0})
		}
	}
	return a.Err()
}

// Close flushes and closes the underlying output file. Idempotent: a second
// Close returns the same sticky error without repeating the flush.
func (a *Appender) Close() error {
	a.errMu.Lock()
	alreadyClosed := a.closed
	a.closed = true
	a.errMu.Unlock()
	if alreadyClosed {
		return a.Err()
	}

	flushErr := a.Flush()
	closeErr := a.out.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
