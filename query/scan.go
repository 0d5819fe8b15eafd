package query

import (
	logging "github.com/ipfs/go-log/v2"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/entry"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
	"github.com/Sopel97/chess-pos-db-sub001/partition"
	"github.com/Sopel97/chess-pos-db-sub001/poskey"
)

var log = logging.Logger("chessposdb/query")

// rangeAgg is one run's contribution to a (position, classification)
// bucket: a count plus the boundary games of the accepted subset, "first"
// and "last" meaning leftmost/rightmost by physical position within the
// run, not by game id; cross-run ordering (smallest/largest run id wins)
// is the caller's job.
type rangeAgg struct {
	count                   uint64
	firstGameID, lastGameID uint32
	haveFirst, haveLast     bool
}

// scanRun sums the persisted counts of entries in the inclusive-exclusive
// [lo, hi) window of run, optionally filtering each entry by accept (used
// only when a HashOnlyOrder match mixes classifications that must be told
// apart by decoding the key's tail — format-B's "All"/Transpositions
// queries; see Backend.FiltersByClassification).
func scanRun(run *iofile.Span, lo, hi int64, accept func(poskey.Key) bool) (rangeAgg, error) {
	var agg rangeAgg
	for i := lo; i < hi; i++ {
		raw, err := run.At(i)
		if err != nil {
			return rangeAgg{}, err
		}
		e := entry.Decode(raw)
		if accept != nil {
			k := poskey.FromBytes(e.Key)
			if !accept(k) {
				continue
			}
		}
		cnt := e.Payload.Count
		if cnt == 0 {
			cnt = 1
		}
		agg.count += cnt
		gameID := uint32(e.Payload.GameOffset)
		if !agg.haveFirst {
			agg.haveFirst = true
			agg.firstGameID = gameID
		}
		agg.lastGameID = gameID
		agg.haveLast = true
	}
	return agg, nil
}

// verifyRangeBoards cross-checks a matched range's boundary entries against
// the run's board sidecar, present when the database was ingested with
// VerifyHashes. A mismatch means either a genuine 128-bit hash collision or
// sidecar misalignment; it is logged, never surfaced as a query error.
func verifyRangeBoards(part *partition.Partition, rf partition.RunFile, run *iofile.Span, lo, hi int64) {
	f, boards, err := part.OpenBoardCheck(rf)
	if err != nil {
		return
	}
	defer f.Close()

	for _, i := range []int64{lo, hi - 1} {
		if i < 0 || i >= boards.Len() || i >= run.Len() {
			continue
		}
		raw, err := run.At(i)
		if err != nil {
			return
		}
		braw, err := boards.At(i)
		if err != nil {
			return
		}
		var b chessmodel.RawBoard
		copy(b[:], braw)
		e := entry.Decode(raw)
		if !poskey.VerifyBoard(poskey.FromBytes(e.Key), b) {
			log.Warnw("position hash does not match board sidecar", "run", rf.Path, "offset", i)
		}
	}
}
