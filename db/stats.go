package db

import (
	"os"

	"github.com/Sopel97/chess-pos-db-sub001/entry"
	"github.com/Sopel97/chess-pos-db-sub001/headerstore"
)

// Stats summarizes the database's current on-disk content: NumGames and
// NumPositions are recomputed from the header stores and
// partitions respectively, so they reflect every prior Import (this process
// or an earlier one); NumSkippedGames only covers Import calls made against
// this open Database, since a skipped game leaves no persisted trace to
// recount later. PerPartitionRunCounts is keyed by the same label
// MergeAll's progress bars use ("<tier>/<abbrev>" for format-A, "data" for
// format-B), so a caller deciding whether a partition needs compacting can
// read it directly off this map.
type Stats struct {
	NumGames              uint64
	NumPositions          uint64
	NumSkippedGames       uint64
	PerPartitionRunCounts map[string]int
}

// Stats computes the database's current Stats by walking its header stores
// and partitions; it does not require an index or any additional bookkeeping
// beyond what headerstore.Store and partition.Partition already track.
func (d *Database) Stats() (Stats, error) {
	st := Stats{
		NumSkippedGames:       d.cumulativeSkipped.Load(),
		PerPartitionRunCounts: make(map[string]int, len(d.distinctPartitions)),
	}

	counted := make(map[*headerstore.Store]bool)
	for _, store := range d.headerStores {
		if store == nil || counted[store] {
			continue
		}
		counted[store] = true
		st.NumGames += store.Count()
	}

	labels := d.partitionLabels()
	for _, part := range d.distinctPartitions {
		label := labels[part]
		runs := part.Runs()
		st.PerPartitionRunCounts[label] = len(runs)
		for _, rf := range runs {
			info, err := os.Stat(rf.Path)
			if err != nil {
				return Stats{}, err
			}
			st.NumPositions += uint64(info.Size()) / entry.Size
		}
	}

	return st, nil
}
