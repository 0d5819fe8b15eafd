// Package partition implements one partition: a directory holding an
// ordered set of sorted runs (plus their two sibling range indexes), run-id
// allocation, and compaction (MergeAll/ReplicateMergeAll).
//
// The lifecycle is discover on open, allocate under a local mutex, merge
// into a fresh file then atomically install it. Run ids come from a single
// centralized counter rather than per-writer precomputed bands, so
// concurrent writers cannot collide.
package partition

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/dberrors"
	"github.com/Sopel97/chess-pos-db-sub001/entry"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
	"github.com/Sopel97/chess-pos-db-sub001/poskey"
	"github.com/Sopel97/chess-pos-db-sub001/rangeindex"
)

var log = logging.Logger("chessposdb/partition")

const hashIndexSuffix = "_index0" // HashOnlyOrder
const fullIndexSuffix = "_index1" // FullOrder

// indexAppenderBufBytes sizes the Appender BuildIndex drives; independent of
// the merge sort buffer M.
const indexAppenderBufBytes = 64 * 1024

// RunFile names one persisted run and its two sibling range-index files.
type RunFile struct {
	ID            uint32
	Path          string
	HashIndexPath string
	FullIndexPath string
}

func runPath(dir string, id uint32) string { return filepath.Join(dir, fmt.Sprint(id)) }
func hashIndexPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprint(id)+hashIndexSuffix)
}
func fullIndexPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprint(id)+fullIndexSuffix)
}

// Progress reports compaction progress at both entry and file granularity.
type Progress struct {
	EntriesDone, EntriesTotal uint64
	FilesDone, FilesTotal     uint64
}

// Ratio collapses Progress to a plain workDone/workTotal fraction.
func (p Progress) Ratio() float64 {
	if p.EntriesTotal == 0 {
		return 1
	}
	return float64(p.EntriesDone) / float64(p.EntriesTotal)
}

type futureFile struct {
	id     uint32
	done   chan struct{}
	result RunFile
	err    error
}

// Partition owns one directory of runs. It is agnostic to what
// classification (if any) the directory is keyed under; the caller decides
// how many partitions to open and where.
type Partition struct {
	dir   string
	pools *iofile.Pools
	pool  *iofile.ThreadPool
	cfg   config.Config

	mu      sync.Mutex
	runs    []RunFile
	futures map[uint32]*futureFile
	nextID  uint32
}

// Open discovers dir's existing run files: entries whose filename is a
// parseable u32, nonzero-sized, and not an index sibling, sorted by id.
func Open(dir string, pools *iofile.Pools, pool *iofile.ThreadPool, cfg config.Config) (*Partition, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var runs []RunFile
	var maxID uint32
	haveAny := false
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() {
			continue
		}
		if len(name) > len(hashIndexSuffix) && name[len(name)-len(hashIndexSuffix):] == hashIndexSuffix {
			continue
		}
		if len(name) > len(fullIndexSuffix) && name[len(name)-len(fullIndexSuffix):] == fullIndexSuffix {
			continue
		}
		id64, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		if info.Size()%entry.Size != 0 {
			return nil, fmt.Errorf("%w: %s (%d bytes)", dberrors.ErrCorruptRun, filepath.Join(dir, name), info.Size())
		}
		id := uint32(id64)
		runs = append(runs, RunFile{
			ID:            id,
			Path:          runPath(dir, id),
			HashIndexPath: hashIndexPath(dir, id),
			FullIndexPath: fullIndexPath(dir, id),
		})
		if !haveAny || id > maxID {
			maxID = id
			haveAny = true
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })

	nextID := uint32(0)
	if haveAny {
		nextID = maxID + 1
	}
	return &Partition{
		dir:     dir,
		pools:   pools,
		pool:    pool,
		cfg:     cfg,
		runs:    runs,
		futures: make(map[uint32]*futureFile),
		nextID:  nextID,
	}, nil
}

// Dir returns the partition's directory.
func (p *Partition) Dir() string { return p.dir }

// Pools returns the handle pools this partition's runs were opened through,
// so the query engine can open the same runs read-only without its own pool.
func (p *Partition) Pools() *iofile.Pools { return p.pools }

// Pool returns the async I/O threadpool backing this partition's runs.
func (p *Partition) Pool() *iofile.ThreadPool { return p.pool }

// Config returns the configuration this partition was opened with (the
// query engine needs SequentialReadMaxBytes for lookup.Lookup).
func (p *Partition) Config() config.Config { return p.cfg }

// OpenRunSpan opens rf's run file read-only and wraps it as a Span of
// entry.Size-stride records, for the query engine's keyed lookups. The
// caller must Close the returned file once done with the span.
func (p *Partition) OpenRunSpan(rf RunFile) (*iofile.ImmutableFile, *iofile.Span, error) {
	f, err := iofile.OpenImmutable(p.pools, rf.Path)
	if err != nil {
		return nil, nil, err
	}
	n := f.Size() / entry.Size
	return f, iofile.NewSpan(f, entry.Size, 0, n), nil
}

// OpenRunIndex opens rf's sibling range index for order. The caller must
// Close it once done.
func (p *Partition) OpenRunIndex(rf RunFile, order poskey.OrderKind) (*rangeindex.Index, error) {
	path := rf.HashIndexPath
	if order == poskey.FullOrder {
		path = rf.FullIndexPath
	}
	return rangeindex.Open(p.pools, path)
}

// Runs returns a snapshot of the current run list, ascending by id.
func (p *Partition) Runs() []RunFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RunFile, len(p.runs))
	copy(out, p.runs)
	return out
}

// ReserveBand centralizes run-id allocation: it atomically advances a
// single counter shared by every caller, so concurrent ingest blocks can
// never collide on an id regardless of how badly they over/under-estimate
// the number of runs they will produce.
func (p *Partition) ReserveBand(n uint32) (low, high uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	low = p.nextID
	high = low + n
	p.nextID = high
	return low, high
}

// NextID reserves and returns a single id.
func (p *Partition) NextID() uint32 {
	low, _ := p.ReserveBand(1)
	return low
}

// StoreOrdered writes entries (already sorted in FullOrder, tie-broken by
// game-id ascending) as a new run with the next id, synchronously, and
// appends it to the run list.
func (p *Partition) StoreOrdered(entries []entry.Entry) (RunFile, error) {
	id := p.NextID()
	rf, err := p.writeRun(p.dir, id, entries)
	if err != nil {
		return RunFile{}, err
	}
	p.mu.Lock()
	p.runs = append(p.runs, rf)
	sort.Slice(p.runs, func(i, j int) bool { return p.runs[i].ID < p.runs[j].ID })
	p.mu.Unlock()
	return rf, nil
}

// StoreUnordered schedules entries to be written under the reserved id on a
// background goroutine and records a pending FutureFile; used by parallel
// ingest, where multiple blocks' writers may be producing runs
// concurrently.
func (p *Partition) StoreUnordered(entries []entry.Entry, id uint32) {
	fut := &futureFile{id: id, done: make(chan struct{})}
	p.mu.Lock()
	p.futures[id] = fut
	p.mu.Unlock()

	go func() {
		rf, err := p.writeRun(p.dir, id, entries)
		fut.result = rf
		fut.err = err
		close(fut.done)
	}()
}

// CollectFutures awaits every outstanding FutureFile and promotes it into
// the run list, preserving id order.
func (p *Partition) CollectFutures() error {
	p.mu.Lock()
	futs := make([]*futureFile, 0, len(p.futures))
	for _, f := range p.futures {
		futs = append(futs, f)
	}
	p.futures = make(map[uint32]*futureFile)
	p.mu.Unlock()

	var firstErr error
	for _, f := range futs {
		<-f.done
		if f.err != nil {
			if firstErr == nil {
				firstErr = f.err
			}
			continue
		}
		p.mu.Lock()
		p.runs = append(p.runs, f.result)
		p.mu.Unlock()
	}
	p.mu.Lock()
	sort.Slice(p.runs, func(i, j int) bool { return p.runs[i].ID < p.runs[j].ID })
	p.mu.Unlock()
	return firstErr
}

// writeRun serializes entries to a new run file under dir at id, then
// builds its two sibling range indexes by reading the sealed run back.
func (p *Partition) writeRun(dir string, id uint32, entries []entry.Entry) (RunFile, error) {
	path := runPath(dir, id)
	out, err := iofile.CreateOutput(p.pools, path)
	if err != nil {
		return RunFile{}, err
	}
	for _, e := range entries {
		if _, err := out.Append(entry.Encode(e)); err != nil {
			out.Close()
			return RunFile{}, err
		}
	}
	sealed, err := out.Seal()
	if err != nil {
		return RunFile{}, err
	}
	defer sealed.Close()

	span := iofile.NewSpan(sealed, entry.Size, 0, int64(len(entries)))
	hashPath := hashIndexPath(dir, id)
	fullPath := fullIndexPath(dir, id)
	if _, err := rangeindex.BuildIndex(p.pools, p.pool, rangeindex.NewSpanKeySource(span), poskey.HashOnlyOrder, p.cfg.IndexGranularity, hashPath, indexAppenderBufBytes); err != nil {
		return RunFile{}, err
	}
	if _, err := rangeindex.BuildIndex(p.pools, p.pool, rangeindex.NewSpanKeySource(span), poskey.FullOrder, p.cfg.IndexGranularity, fullPath, indexAppenderBufBytes); err != nil {
		return RunFile{}, err
	}

	return RunFile{ID: id, Path: path, HashIndexPath: hashPath, FullIndexPath: fullPath}, nil
}

// entryCompare orders two raw Entry records by FullOrder, tie-broken by
// ascending game-offset — the same order runs are written in, so merges
// stay stable.
func entryCompare(a, b []byte) int {
	ea, eb := entry.Decode(a), entry.Decode(b)
	ka, kb := poskey.FromBytes(ea.Key), poskey.FromBytes(eb.Key)
	if c := poskey.Compare(poskey.FullOrder, ka, kb); c != 0 {
		return c
	}
	if ea.Payload.GameOffset < eb.Payload.GameOffset {
		return -1
	}
	if ea.Payload.GameOffset > eb.Payload.GameOffset {
		return 1
	}
	return 0
}

// MergeAll merges every run in the partition into one; a no-op below 2
// runs. CollectFutures is called first so any in-flight
// parallel-ingest writes are incorporated before compaction.
func (p *Partition) MergeAll(progress func(Progress)) error {
	if err := p.CollectFutures(); err != nil {
		return err
	}
	p.mu.Lock()
	runs := make([]RunFile, len(p.runs))
	copy(runs, p.runs)
	p.mu.Unlock()

	if len(runs) < 2 {
		return nil
	}

	merged, err := p.mergeInto(p.dir, runs, progress)
	if err != nil {
		return err
	}

	for _, old := range runs {
		removeBoardCheck(p.dir, old.ID)
		if old.ID == merged.ID {
			// mergeInto already replaced this run's files with the merged run's.
			continue
		}
		os.Remove(old.Path)
		os.Remove(old.HashIndexPath)
		os.Remove(old.FullIndexPath)
	}

	p.mu.Lock()
	p.runs = []RunFile{merged}
	p.mu.Unlock()
	return nil
}

// ReplicateMergeAll merges every run into destDir, leaving this partition's
// files untouched. If the partition holds a single run, it is a plain file
// copy.
func (p *Partition) ReplicateMergeAll(destDir string, progress func(Progress)) error {
	if err := p.CollectFutures(); err != nil {
		return err
	}
	p.mu.Lock()
	runs := make([]RunFile, len(p.runs))
	copy(runs, p.runs)
	p.mu.Unlock()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	if len(runs) == 0 {
		return nil
	}
	if len(runs) == 1 {
		r := runs[0]
		if err := copyFile(r.Path, runPath(destDir, r.ID)); err != nil {
			return err
		}
		if err := copyFile(r.HashIndexPath, hashIndexPath(destDir, r.ID)); err != nil {
			return err
		}
		return copyFile(r.FullIndexPath, fullIndexPath(destDir, r.ID))
	}

	_, err := p.mergeInto(destDir, runs, progress)
	return err
}

// mergeInto merges runs into a freshly built run under destDir named by the
// minimum input id and reports progress
// at the start and end of the merge (iofile.ExternalMerge has no internal
// progress hook, so granularity finer than "merge started"/"merge finished"
// is not observable from here). When destDir is the inputs' own directory,
// the merged run and its indexes replace the minimum-id run's files; no
// other input file is touched.
func (p *Partition) mergeInto(destDir string, runs []RunFile, progress func(Progress)) (RunFile, error) {
	minID := runs[0].ID
	for _, r := range runs {
		if r.ID < minID {
			minID = r.ID
		}
	}

	var entriesTotal uint64
	inputs := make([]*iofile.ImmutableFile, len(runs))
	for i, r := range runs {
		f, err := iofile.OpenImmutable(p.pools, r.Path)
		if err != nil {
			return RunFile{}, err
		}
		inputs[i] = f
		entriesTotal += uint64(f.Size()) / entry.Size
	}
	defer func() {
		for _, f := range inputs {
			f.Close()
		}
	}()

	total := Progress{EntriesTotal: entriesTotal, FilesTotal: uint64(len(runs))}
	if progress != nil {
		progress(total)
	}

	tmpPath := filepath.Join(destDir, ".merge-"+uuid.NewString())
	out, err := iofile.CreateOutput(p.pools, tmpPath)
	if err != nil {
		return RunFile{}, err
	}
	if err := iofile.ExternalMerge(p.pools, p.pool, inputs, entry.Size, entryCompare, out, p.cfg, destDir); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return RunFile{}, err
	}
	sealed, err := out.Seal()
	if err != nil {
		os.Remove(tmpPath)
		return RunFile{}, err
	}

	// The indexes are built from the sealed temporary file: a pooled handle
	// for finalPath may still refer to the input run the rename replaces.
	mergedCount := int64(sealed.Size()) / entry.Size
	span := iofile.NewSpan(sealed, entry.Size, 0, mergedCount)
	hashPath := hashIndexPath(destDir, minID)
	fullPath := fullIndexPath(destDir, minID)
	if _, err := rangeindex.BuildIndex(p.pools, p.pool, rangeindex.NewSpanKeySource(span), poskey.HashOnlyOrder, p.cfg.IndexGranularity, hashPath, indexAppenderBufBytes); err != nil {
		sealed.Close()
		return RunFile{}, err
	}
	if _, err := rangeindex.BuildIndex(p.pools, p.pool, rangeindex.NewSpanKeySource(span), poskey.FullOrder, p.cfg.IndexGranularity, fullPath, indexAppenderBufBytes); err != nil {
		sealed.Close()
		return RunFile{}, err
	}

	finalPath := runPath(destDir, minID)
	if err := sealed.Close(); err != nil {
		return RunFile{}, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return RunFile{}, err
	}

	if progress != nil {
		progress(Progress{EntriesDone: entriesTotal, EntriesTotal: entriesTotal, FilesDone: uint64(len(runs)), FilesTotal: uint64(len(runs))})
	}

	log.Debugw("merged partition", "dir", destDir, "mergedRunID", minID, "inputRuns", len(runs), "entries", entriesTotal)
	return RunFile{ID: minID, Path: finalPath, HashIndexPath: hashPath, FullIndexPath: fullPath}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Clear removes every run, index, and sidecar from the partition and
// resets the id allocator, leaving an empty directory behind.
func (p *Partition) Clear() error {
	if err := p.CollectFutures(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rf := range p.runs {
		if err := os.Remove(rf.Path); err != nil {
			return err
		}
		os.Remove(rf.HashIndexPath)
		os.Remove(rf.FullIndexPath)
		removeBoardCheck(p.dir, rf.ID)
	}
	p.runs = nil
	p.nextID = 0
	return nil
}
