package db

import "github.com/Sopel97/chess-pos-db-sub001/ingest"

// Import ingests pgns into the database, delegating to ingest.Import with
// d itself as the Sink. Skipped-game counts accumulate across Import calls
// for Stats: unlike NumGames, which
// Stats recomputes from the header stores' own counts, a skipped game is
// never persisted anywhere, so it can only be reported for the lifetime of
// this open Database.
func (d *Database) Import(pgns []ingest.ImportablePGN, workers int, progress func(ingest.Progress)) (ingest.Stats, error) {
	stats, err := ingest.Import(d, pgns, d.cfg, workers, progress)
	d.cumulativeSkipped.Add(stats.NumSkippedGames)
	return stats, err
}
