package partition

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
)

// boardCheckSuffix names the optional hash-collision verification sidecar:
// a raw RawBoard per entry, index-aligned with the run
// it accompanies, written only when config.Config.VerifyHashes is set.
const boardCheckSuffix = "_boardcheck"

func boardCheckPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprint(id)+boardCheckSuffix)
}

// WriteBoardCheck persists boards — already sorted into the same order as
// the entries ingest just stored under id — as id's verification sidecar.
// Only a freshly-ingested run gets one: MergeAll/ReplicateMergeAll collapse
// runs through iofile.ExternalMerge's raw-byte-stream copy, which has no
// side channel to carry an aligned sidecar through, so a merged run simply
// has none (HasBoardCheck reports this; query skips verification for it).
func (p *Partition) WriteBoardCheck(id uint32, boards []chessmodel.RawBoard) error {
	if len(boards) == 0 {
		return nil
	}
	out, err := iofile.CreateOutput(p.pools, boardCheckPath(p.dir, id))
	if err != nil {
		return err
	}
	for _, b := range boards {
		if _, err := out.Append(b[:]); err != nil {
			out.Close()
			return err
		}
	}
	sealed, err := out.Seal()
	if err != nil {
		return err
	}
	return sealed.Close()
}

// HasBoardCheck reports whether rf has a verification sidecar on disk.
func (p *Partition) HasBoardCheck(rf RunFile) bool {
	info, err := os.Stat(boardCheckPath(p.dir, rf.ID))
	return err == nil && info.Size() > 0
}

// OpenBoardCheck opens rf's sidecar read-only as a Span of RawBoard-stride
// records, index-aligned with rf's own entries. The caller must Close the
// returned file once done.
func (p *Partition) OpenBoardCheck(rf RunFile) (*iofile.ImmutableFile, *iofile.Span, error) {
	f, err := iofile.OpenImmutable(p.pools, boardCheckPath(p.dir, rf.ID))
	if err != nil {
		return nil, nil, err
	}
	n := f.Size() / int64(len(chessmodel.RawBoard{}))
	return f, iofile.NewSpan(f, len(chessmodel.RawBoard{}), 0, n), nil
}

func removeBoardCheck(dir string, id uint32) {
	os.Remove(boardCheckPath(dir, id))
}
