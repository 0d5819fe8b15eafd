// Package ingest implements the ingestion pipeline: a bounded
// producer/sorter/writer pipeline that turns PGN files into sorted runs
// plus their sibling range indexes, routed through a Sink that knows how to
// map a game's classification onto a partition and a header store.
//
// Run ids come from partition.Partition's centralized ReserveBand
// allocator, so parallel producer blocks can never collide on an id however
// many runs they actually end up producing.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/entry"
	"github.com/Sopel97/chess-pos-db-sub001/headerstore"
	"github.com/Sopel97/chess-pos-db-sub001/partition"
	"github.com/Sopel97/chess-pos-db-sub001/poskey"
)

var log = logging.Logger("chessposdb/ingest")

// ImportablePGN names one source PGN file and the tier its games should be
// classified under.
type ImportablePGN struct {
	Path  string
	Level chessmodel.Tier
}

// Stats summarizes one Import call.
type Stats struct {
	NumGames        uint64
	NumSkippedGames uint64
	NumPositions    uint64
}

// Progress reports ingest-level progress.
type Progress struct {
	FilesDone, FilesTotal uint64
	GamesDone             uint64
}

// Sink is the destination side of ingest: it resolves a game's
// classification to the partition and header store that should receive it.
// db.Database's format-A and format-B implementations both satisfy this —
// format-A maps (tier, outcome) to one of nine partitions and shares one
// header store across tiers; format-B maps every classification to its
// single partition and keeps one header store per tier.
type Sink interface {
	PartitionFor(cl chessmodel.Classification) *partition.Partition
	HeaderStoreFor(tier chessmodel.Tier) *headerstore.Store
	// PartitionCount is the number of distinct partitions Sink can route to,
	// used to size the buffer pool.
	PartitionCount() int
	// AllPartitions enumerates every partition Sink can route to, so Import
	// can join their outstanding async writes once ingest finishes.
	AllPartitions() []*partition.Partition
}

const bandChunk = 8

// idBand lazily reserves small bands of run ids from a partition's
// centralized allocator, amortizing the allocator's mutex over several
// buffer dispatches instead of reserving one id at a time.
type idBand struct {
	part       *partition.Partition
	next, high uint32
}

func (b *idBand) allocate() uint32 {
	if b.next >= b.high {
		lo, hi := b.part.ReserveBand(bandChunk)
		b.next, b.high = lo, hi
	}
	id := b.next
	b.next++
	return id
}

// openFailedError marks a PGN file that could not be opened at all — logged
// and skipped, never fatal to the overall ingest.
type openFailedError struct {
	path string
	err  error
}

func (e *openFailedError) Error() string { return fmt.Sprintf("ingest: opening %s: %v", e.path, e.err) }
func (e *openFailedError) Unwrap() error { return e.err }

type liveStats struct {
	games, skipped, positions atomic.Uint64
}

// bufCapEntries sizes a producer buffer in entries, reusing the external
// sort/merge buffer-size knob since both describe "the in-memory buffer a
// stage fills before spilling/handing off".
func bufCapEntries(cfg config.Config) int {
	n := int(cfg.MaxMergeBufferSizeBytes / entry.Size)
	if n < 1 {
		n = 1
	}
	return n
}

func lessEntry(a, b entry.Entry) bool {
	ka, kb := poskey.FromBytes(a.Key), poskey.FromBytes(b.Key)
	if c := poskey.Compare(poskey.FullOrder, ka, kb); c != 0 {
		return c < 0
	}
	return a.Payload.GameOffset < b.Payload.GameOffset
}

// sortEntries sorts entries in place. When boards is the same length (the
// optional hash-verification mode), it is permuted in
// lockstep so board[i] still names entries[i]'s source board after sorting.
func sortEntries(entries []entry.Entry, boards []chessmodel.RawBoard) {
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return lessEntry(entries[idx[a]], entries[idx[b]]) })

	sortedEntries := make([]entry.Entry, len(entries))
	var sortedBoards []chessmodel.RawBoard
	if len(boards) == len(entries) {
		sortedBoards = make([]chessmodel.RawBoard, len(boards))
	}
	for newPos, oldPos := range idx {
		sortedEntries[newPos] = entries[oldPos]
		if sortedBoards != nil {
			sortedBoards[newPos] = boards[oldPos]
		}
	}
	copy(entries, sortedEntries)
	if sortedBoards != nil {
		copy(boards, sortedBoards)
	}
}

// Import runs the producer/sorter/writer pipeline over pgns. workers
// selects parallel mode (workers > 1, the PGN list split
// into that many roughly-equal-byte-size blocks, each an independent
// producer) or sequential mode (workers <= 1, a single producer on the
// caller's own goroutine tree). progress may be nil.
func Import(sink Sink, pgns []ImportablePGN, cfg config.Config, workers int, progress func(Progress)) (Stats, error) {
	if len(pgns) == 0 {
		return Stats{}, nil
	}
	if workers < 1 {
		workers = 1
	}

	blocks := splitIntoBlocks(pgns, workers)
	bufCap := bufCapEntries(cfg)
	poolSize := 2*len(blocks) + maxInt(sink.PartitionCount(), 3)

	sem := make(chan struct{}, poolSize)
	for i := 0; i < poolSize; i++ {
		sem <- struct{}{}
	}

	st := &liveStats{}
	filesTotal := uint64(len(pgns))
	var filesDone atomic.Uint64
	if progress != nil {
		progress(Progress{FilesTotal: filesTotal})
	}
	onFileDone := func() {
		if progress == nil {
			return
		}
		progress(Progress{
			FilesDone:  filesDone.Add(1),
			FilesTotal: filesTotal,
			GamesDone:  st.games.Load(),
		})
	}

	var g errgroup.Group
	for _, block := range blocks {
		block := block
		g.Go(func() error {
			return runProducerBlock(sink, block, cfg, sem, bufCap, st, onFileDone)
		})
	}
	runErr := g.Wait()

	var joinErr error
	for _, p := range sink.AllPartitions() {
		if err := p.CollectFutures(); err != nil {
			joinErr = multierr.Append(joinErr, err)
		}
	}

	stats := Stats{
		NumGames:        st.games.Load(),
		NumSkippedGames: st.skipped.Load(),
		NumPositions:    st.positions.Load(),
	}
	return stats, multierr.Append(runErr, joinErr)
}

// splitIntoBlocks partitions pgns into up to `workers` blocks of
// approximately equal total byte size, using a greedy longest-processing-
// time-first assignment (largest file first, always to the
// currently-lightest block).
func splitIntoBlocks(pgns []ImportablePGN, workers int) [][]ImportablePGN {
	if workers > len(pgns) {
		workers = len(pgns)
	}
	sizes := make([]int64, len(pgns))
	for i, p := range pgns {
		if info, err := os.Stat(p.Path); err == nil {
			sizes[i] = info.Size()
		} else {
			sizes[i] = 1
		}
	}
	order := make([]int, len(pgns))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return sizes[order[a]] > sizes[order[b]] })

	blocks := make([][]ImportablePGN, workers)
	loads := make([]int64, workers)
	for _, idx := range order {
		w := 0
		for i := 1; i < workers; i++ {
			if loads[i] < loads[w] {
				w = i
			}
		}
		blocks[w] = append(blocks[w], pgns[idx])
		loads[w] += sizes[idx]
	}

	out := blocks[:0]
	for _, b := range blocks {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// runProducerBlock is one independent producer: it walks its assigned PGN
// files, accumulating entries per destination partition, and dispatches a
// partition's buffer (sorted, then handed to StoreUnordered under a
// lazily-reserved id) whenever it fills.
func runProducerBlock(sink Sink, pgns []ImportablePGN, cfg config.Config, sem chan struct{}, bufCap int, st *liveStats, onFileDone func()) error {
	bands := make(map[*partition.Partition]*idBand)
	accum := make(map[*partition.Partition][]entry.Entry)
	accumBoards := make(map[*partition.Partition][]chessmodel.RawBoard)

	bandFor := func(p *partition.Partition) *idBand {
		b := bands[p]
		if b == nil {
			b = &idBand{part: p}
			bands[p] = b
		}
		return b
	}

	dispatch := func(p *partition.Partition) {
		buf := accum[p]
		delete(accum, p)
		boards := accumBoards[p]
		delete(accumBoards, p)
		if len(buf) == 0 {
			sem <- struct{}{}
			return
		}
		sortEntries(buf, boards)
		id := bandFor(p).allocate()
		p.StoreUnordered(buf, id)
		if len(boards) == len(buf) {
			if err := p.WriteBoardCheck(id, boards); err != nil {
				log.Warnw("writing hash-verification sidecar failed", "partition", p.Dir(), "runID", id, "err", err)
			}
		}
		sem <- struct{}{}
	}

	for _, pgn := range pgns {
		err := importOneFile(sink, pgn, cfg, accum, accumBoards, sem, bufCap, dispatch, st)
		onFileDone()
		if err == nil {
			continue
		}
		var openErr *openFailedError
		if errors.As(err, &openErr) {
			log.Warnw("skipping unopenable pgn file", "path", pgn.Path, "err", err)
			continue
		}
		return err
	}

	for p := range accum {
		dispatch(p)
	}
	return nil
}

func importOneFile(sink Sink, pgn ImportablePGN, cfg config.Config, accum map[*partition.Partition][]entry.Entry, accumBoards map[*partition.Partition][]chessmodel.RawBoard, sem chan struct{}, bufCap int, dispatch func(*partition.Partition), st *liveStats) error {
	f, err := os.Open(pgn.Path)
	if err != nil {
		return &openFailedError{path: pgn.Path, err: err}
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(pgn.Path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return &openFailedError{path: pgn.Path, err: err}
		}
		defer gz.Close()
		r = gz
	}

	scanner := chessmodel.NewScanner(r)
	for scanner.Scan() {
		rec := scanner.Next()
		if rec == nil {
			break
		}
		if rec.Outcome == nil {
			st.skipped.Add(1)
			continue
		}
		cl := chessmodel.Classification{Tier: pgn.Level, Outcome: *rec.Outcome}
		hstore := sink.HeaderStoreFor(pgn.Level)

		offset, gameID, err := hstore.Add(headerstore.Header{
			Event:   rec.Header.Event,
			White:   rec.Header.White,
			Black:   rec.Header.Black,
			Date:    rec.Header.Date,
			ECO:     rec.Header.ECO,
			Outcome: cl.Outcome,
		})
		if err != nil {
			return err
		}

		part := sink.PartitionFor(cl)
		for _, pos := range rec.Walk {
			key := poskey.Encode(pos.Board, pos.SideToMove, pos.ReverseMove, cl)
			e := entry.Entry{
				Key:     key.Bytes(),
				Payload: entry.CountAndGameOffset{Count: 1, GameOffset: uint64(gameID), OffsetValid: true},
			}

			buf := accum[part]
			if buf == nil {
				<-sem
				buf = make([]entry.Entry, 0, bufCap)
			}
			buf = append(buf, e)
			accum[part] = buf

			if cfg.VerifyHashes {
				boards := accumBoards[part]
				if boards == nil {
					boards = make([]chessmodel.RawBoard, 0, bufCap)
				}
				boards = append(boards, pos.Board)
				accumBoards[part] = boards
			}
			st.positions.Add(1)

			if len(buf) >= bufCap {
				dispatch(part)
			}
		}

		if err := hstore.PatchPlyCount(offset, rec.Header.PlyCount); err != nil {
			return err
		}
		st.games.Add(1)
	}
	return scanner.Err()
}
