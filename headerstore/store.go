package headerstore

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Sopel97/chess-pos-db-sub001/iofile"
)

var log = logging.Logger("chessposdb/headerstore")

const offsetEntrySize = 8

// Store is one (log, offset-index) pair. A database may keep a single Store
// shared across tiers (format-A, where game ids are global) or one Store
// per tier (format-B, whose layout names header_<tier>/index_<tier>
// explicitly); Store itself is agnostic to which.
type Store struct {
	pools *iofile.Pools

	logPath, indexPath string

	mu    sync.Mutex
	log   *iofile.InputOutputFile
	index *iofile.InputOutputFile
	count uint64 // number of assigned ids == len(index)/8
}

// Open opens or creates the log at logPath and the offset index at
// indexPath.
func Open(pools *iofile.Pools, logPath, indexPath string) (*Store, error) {
	l, err := iofile.OpenInputOutput(pools, logPath)
	if err != nil {
		return nil, err
	}
	idx, err := iofile.OpenInputOutput(pools, indexPath)
	if err != nil {
		l.Close()
		return nil, err
	}
	size, err := idx.Size()
	if err != nil {
		l.Close()
		idx.Close()
		return nil, err
	}
	return &Store{
		pools:     pools,
		logPath:   logPath,
		indexPath: indexPath,
		log:       l,
		index:     idx,
		count:     uint64(size) / offsetEntrySize,
	}, nil
}

// Paths returns the (log, index) file paths this Store was opened with, for
// callers that need to replicate the store's files directly (db.Replicate).
func (s *Store) Paths() (logPath, indexPath string) {
	return s.logPath, s.indexPath
}

// Dir joins dir with the given log and index file names, e.g.
// Dir(root, "header", "index") for the shared store and
// Dir(root, "header_human", "index_human") for a per-tier one, matching
// the database's two on-disk layouts.
func Dir(dir, logName, indexName string) (logPath, indexPath string) {
	return filepath.Join(dir, logName), filepath.Join(dir, indexName)
}

// Count returns the number of assigned game ids.
func (s *Store) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Add appends header to the log and its offset to the index, serialized by
// Store's mutex. It returns the record's log offset (needed later for
// PatchPlyCount) and its assigned game id.
func (s *Store) Add(h Header) (offset int64, id uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addNoLock(h)
}

// AddNoLock is the variant for callers that batch adds under external
// synchronization of their own.
func (s *Store) AddNoLock(h Header) (offset int64, id uint32, err error) {
	return s.addNoLock(h)
}

func (s *Store) addNoLock(h Header) (int64, uint32, error) {
	id := uint32(s.count)
	h.GameIdx = id

	rec, err := encode(h)
	if err != nil {
		return 0, 0, err
	}
	offset, err := s.log.Append(rec)
	if err != nil {
		return 0, 0, err
	}

	var offBuf [8]byte
	putUint64(offBuf[:], uint64(offset))
	if _, err := s.index.Append(offBuf[:]); err != nil {
		return 0, 0, err
	}
	s.count++
	return offset, id, nil
}

// PatchPlyCount rewrites the PlyCount field of the record at logOffset
// in-place, once a game's final ply count is known.
func (s *Store) PatchPlyCount(logOffset int64, plyCount uint32) error {
	var buf [4]byte
	putUint32(buf[:], plyCount)
	_, err := s.log.WriteAt(buf[:], logOffset+plyCountLocalOffset)
	return err
}

// QueryByIDs resolves each id to its record and returns the decoded headers
// in the caller's original order. Internally it sorts the ids to amortize
// seek cost, then reads concurrently and scatters the results back through
// the sort permutation.
func (s *Store) QueryByIDs(ids []uint32) ([]Header, error) {
	n := len(ids)
	if n == 0 {
		return nil, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ids[order[a]] < ids[order[b]] })

	results := make([]Header, n)
	errs := make([]error, n)

	var g errgroup.Group
	for _, origIdx := range order {
		origIdx := origIdx
		id := ids[origIdx]
		g.Go(func() error {
			h, err := s.queryOne(id)
			results[origIdx] = h
			errs[origIdx] = err
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *Store) queryOne(id uint32) (Header, error) {
	var offBuf [8]byte
	if _, err := s.index.ReadAt(offBuf[:], int64(id)*offsetEntrySize); err != nil {
		return Header{}, fmt.Errorf("headerstore: resolving offset for id %d: %w", id, err)
	}
	offset := int64(getUint64(offBuf[:]))

	buf := make([]byte, MaxRecordSize)
	n, err := s.log.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return Header{}, fmt.Errorf("headerstore: reading record for id %d at offset %d: %w", id, offset, err)
	}
	h, _, derr := decode(buf[:n])
	if derr != nil {
		return Header{}, fmt.Errorf("headerstore: decoding record for id %d: %w", id, derr)
	}
	return h, nil
}

// Flush syncs both underlying files to stable storage.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.log.Sync(); err != nil {
		return err
	}
	return s.index.Sync()
}

// Close flushes and closes both underlying files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logErr := s.log.Close()
	idxErr := s.index.Close()
	if logErr != nil {
		return logErr
	}
	return idxErr
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// Clear truncates the log and offset index to zero length and resets the
// id counter, so the next Add assigns game id 0 again.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.log.Truncate(0); err != nil {
		return err
	}
	if err := s.index.Truncate(0); err != nil {
		return err
	}
	s.count = 0
	return nil
}
