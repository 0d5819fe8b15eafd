package iofile

import (
	"fmt"
	"os"

	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/dberrors"
)

// Pools is the process-wide (in practice, per-Database) home for the pooled
// and direct handle caps. One Pools is shared by
// every ImmutableFile/OutputFile/InputOutputFile the database opens.
type Pools struct {
	pooled *handlePool
	direct *directSet
}

// NewPools builds the handle pools sized from cfg.
func NewPools(cfg config.Config) *Pools {
	return &Pools{
		pooled: newHandlePool(int(cfg.PoolMaxOpenFiles), os.O_RDONLY, 0),
		direct: newDirectSet(int(cfg.DirectMaxOpenFiles)),
	}
}

// ImmutableFile is a read-only, fixed-size file backed by the pooled handle
// cache. Multiple ImmutableFile values may reference the same physical file
// concurrently; each Close releases only this value's reference.
type ImmutableFile struct {
	pools *Pools
	path  string
	file  *os.File
	size  int64
}

// OpenImmutable opens path read-only through the pooled handle cache.
func OpenImmutable(pools *Pools, path string) (*ImmutableFile, error) {
	f, err := pools.pooled.Acquire(path)
	if err != nil {
		return nil, &dberrors.OpenFailed{Path: path, Mode: "immutable", Err: err}
	}
	fi, err := f.Stat()
	if err != nil {
		pools.pooled.Release(f)
		return nil, &dberrors.OpenFailed{Path: path, Mode: "immutable", Err: err}
	}
	return &ImmutableFile{pools: pools, path: path, file: f, size: fi.Size()}, nil
}

// Size returns the file size observed at open.
func (f *ImmutableFile) Size() int64 { return f.size }

// Path returns the underlying path.
func (f *ImmutableFile) Path() string { return f.path }

// ReadAt issues a synchronous positioned read, matching io.ReaderAt.
func (f *ImmutableFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.file.ReadAt(p, off)
	if err != nil {
		return n, err
	}
	return n, nil
}

// Close releases this value's reference on the shared handle.
func (f *ImmutableFile) Close() error {
	return f.pools.pooled.Release(f.file)
}

// OutputFile is an append-only (or truncate-append) file opened directly
// (not pooled, since it is actively owned by a single writer for its
// lifetime) and capped by Pools.direct.
type OutputFile struct {
	pools  *Pools
	path   string
	file   *os.File
	offset int64
}

// CreateOutput truncates (or creates) path for append-only writing.
func CreateOutput(pools *Pools, path string) (*OutputFile, error) {
	return openOutput(pools, path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

// OpenOutputAppend opens path for appending, creating it if absent, without
// truncating existing content.
func OpenOutputAppend(pools *Pools, path string) (*OutputFile, error) {
	return openOutput(pools, path, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

func openOutput(pools *Pools, path string, flag int) (*OutputFile, error) {
	if err := pools.direct.acquire(); err != nil {
		return nil, &dberrors.OpenFailed{Path: path, Mode: "output", Err: err}
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		pools.direct.release()
		return nil, &dberrors.OpenFailed{Path: path, Mode: "output", Err: err}
	}
	var off int64
	if fi, statErr := f.Stat(); statErr == nil {
		off = fi.Size()
	}
	return &OutputFile{pools: pools, path: path, file: f, offset: off}, nil
}

// Append writes p at the file's current logical end, advancing the offset.
// It is the synchronous primitive the async threadpool's append jobs and
// Appender's background flush call into; callers needing overlap should go
// through Appender instead of calling Append directly.
func (f *OutputFile) Append(p []byte) (int, error) {
	n, err := f.file.Write(p)
	f.offset += int64(n)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, &dberrors.WriteShort{Path: f.path, Requested: len(p), Actual: n}
	}
	return n, nil
}

// Offset returns the number of bytes appended so far.
func (f *OutputFile) Offset() int64 { return f.offset }

// Flush forces buffered kernel state to stable storage.
func (f *OutputFile) Flush() error {
	return f.file.Sync()
}

// Seal closes the output file and reopens it read-only as an ImmutableFile,
// the handoff from writing a file to serving reads from it.
func (f *OutputFile) Seal() (*ImmutableFile, error) {
	if err := f.Close(); err != nil {
		return nil, err
	}
	return OpenImmutable(f.pools, f.path)
}

// Close flushes and releases the direct handle.
func (f *OutputFile) Close() error {
	syncErr := f.file.Sync()
	closeErr := f.file.Close()
	f.pools.direct.release()
	if closeErr != nil {
		return closeErr
	}
	return syncErr
}

// InputOutputFile supports append plus random read and atomic truncation,
// used by the header store's offset index (appended-to during ingest,
// randomly read during query) and by in-place backpatch of fixed-width
// fields (the ply-count backpatch).
type InputOutputFile struct {
	pools *Pools
	path  string
	file  *os.File
}

// OpenInputOutput opens path for read-write, creating it if absent.
func OpenInputOutput(pools *Pools, path string) (*InputOutputFile, error) {
	if err := pools.direct.acquire(); err != nil {
		return nil, &dberrors.OpenFailed{Path: path, Mode: "inputoutput", Err: err}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		pools.direct.release()
		return nil, &dberrors.OpenFailed{Path: path, Mode: "inputoutput", Err: err}
	}
	return &InputOutputFile{pools: pools, path: path, file: f}, nil
}

// Size returns the file's current size.
func (f *InputOutputFile) Size() (int64, error) {
	fi, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Sync forces buffered kernel state to stable storage.
func (f *InputOutputFile) Sync() error {
	return f.file.Sync()
}

func (f *InputOutputFile) ReadAt(p []byte, off int64) (int, error) { return f.file.ReadAt(p, off) }
func (f *InputOutputFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.file.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, &dberrors.WriteShort{Path: f.path, Requested: len(p), Actual: n}
	}
	return n, nil
}

// Append writes p at the current end of file, returning the offset it was
// written at.
func (f *InputOutputFile) Append(p []byte) (int64, error) {
	fi, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	off := fi.Size()
	_, err = f.WriteAt(p, off)
	return off, err
}

// Truncate resizes the file via close-resize-reopen, so the resize never
// races an in-flight operation on the old descriptor.
func (f *InputOutputFile) Truncate(size int64) error {
	if err := f.file.Close(); err != nil {
		return err
	}
	if err := os.Truncate(f.path, size); err != nil {
		return err
	}
	reopened, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	f.file = reopened
	return nil
}

func (f *InputOutputFile) Close() error {
	err := f.file.Close()
	f.pools.direct.release()
	return err
}

func (f *InputOutputFile) String() string {
	return fmt.Sprintf("InputOutputFile(%s)", f.path)
}
