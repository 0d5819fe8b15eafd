// Package db implements the database layer: a manifest-gated directory
// tree of partitions and header stores in one of two on-disk layouts
// (format-A: one partition per classification, sharing a single header
// store; format-B: one shared partition, one header store per tier),
// exposing both ingest.Sink and query.Backend over whichever layout is
// open.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/continuity"
	"github.com/Sopel97/chess-pos-db-sub001/headerstore"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
	"github.com/Sopel97/chess-pos-db-sub001/manifest"
	"github.com/Sopel97/chess-pos-db-sub001/partition"
)

var log = logging.Logger("chessposdb/db")

// Format selects one of the two on-disk layouts: format-A keys a partition
// per classification; format-B keeps one shared partition. A replica
// (Database.Replicate) is written in the same format as its source.
type Format uint8

const (
	// FormatA keys partitions by (tier, outcome) — 9 partitions — and
	// shares one header store across every tier.
	FormatA Format = iota
	// FormatB keeps a single partition across every classification and
	// one header store per tier.
	FormatB
)

func (f Format) String() string {
	if f == FormatB {
		return "format-b"
	}
	return "format-a"
}

const (
	formatAKey = "chessposdb.format-a.v1"
	formatBKey = "chessposdb.format-b.v1"
)

func manifestKeyFor(f Format) string {
	if f == FormatB {
		return formatBKey
	}
	return formatAKey
}

// Database is one open chess position database, in either on-disk format.
// It satisfies both ingest.Sink and query.Backend.
type Database struct {
	format Format
	dir    string
	cfg    config.Config
	pools  *iofile.Pools
	pool   *iofile.ThreadPool

	// partitions maps every classification to its owning partition.
	// format-A: 9 distinct entries. format-B: all 9 keys point at the same
	// *partition.Partition.
	partitions map[chessmodel.Classification]*partition.Partition
	// distinctPartitions is partitions' unique value set, in a stable
	// order, for AllPartitions/PartitionCount.
	distinctPartitions []*partition.Partition

	// headerStores maps a tier to the store holding its games' headers.
	// format-A: all three keys point at the same shared store. format-B:
	// one store per tier.
	headerStores map[chessmodel.Tier]*headerstore.Store

	// cumulativeSkipped accumulates ingest.Stats.NumSkippedGames across
	// every Import call made against this open Database, for Stats.
	cumulativeSkipped atomic.Uint64
}

// partitionSubdir returns format-A's per-classification directory name,
// e.g. (human, win) -> "human/w".
func partitionSubdir(cl chessmodel.Classification) string {
	return filepath.Join(cl.Tier.String(), outcomeAbbrev(cl.Outcome))
}

func outcomeAbbrev(o chessmodel.Outcome) string {
	switch o {
	case chessmodel.OutcomeWin:
		return "w"
	case chessmodel.OutcomeLoss:
		return "l"
	default:
		return "d"
	}
}

// Create initializes a fresh database at dir in the requested format,
// failing if a manifest already exists there.
func Create(dir string, format Format, cfg config.Config) (*Database, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(dir, "manifest")
	if _, err := os.Stat(manifestPath); err == nil {
		return nil, fmt.Errorf("db: %s already contains a manifest", dir)
	}

	pools := iofile.NewPools(cfg)
	if err := manifest.Write(pools, manifestPath, manifestKeyFor(format), false); err != nil {
		return nil, err
	}
	return open(dir, format, cfg, pools)
}

// Open opens an existing database at dir, validating its manifest names
// format before touching any partition or header store.
func Open(dir string, cfg config.Config) (*Database, error) {
	pools := iofile.NewPools(cfg)
	manifestPath := filepath.Join(dir, "manifest")

	format := FormatA
	result, err := manifest.Validate(pools, manifestPath, manifestKeyFor(FormatA), false)
	if err != nil {
		return nil, err
	}
	if result == manifest.KeyMismatch {
		format = FormatB
		result, err = manifest.Validate(pools, manifestPath, manifestKeyFor(FormatB), false)
		if err != nil {
			return nil, err
		}
	}
	if result != manifest.Ok {
		return nil, fmt.Errorf("db: opening %s: %w", dir, manifest.ErrFor(result))
	}
	return open(dir, format, cfg, pools)
}

// ValidateManifest runs a read-only pre-flight check of root's manifest
// without opening any partition or header store: callers
// can surface a precise diagnosis (wrong format, corrupt header, endianness
// mismatch) before committing to the cost of a full Open.
func ValidateManifest(root string) (manifest.ValidationResult, Format, error) {
	pools := iofile.NewPools(config.Default())
	manifestPath := filepath.Join(root, "manifest")

	result, err := manifest.Validate(pools, manifestPath, manifestKeyFor(FormatA), false)
	if err != nil {
		return result, FormatA, err
	}
	if result == manifest.Ok {
		return result, FormatA, nil
	}
	if result != manifest.KeyMismatch {
		return result, FormatA, nil
	}

	resultB, err := manifest.Validate(pools, manifestPath, manifestKeyFor(FormatB), false)
	if err != nil {
		return resultB, FormatB, err
	}
	return resultB, FormatB, nil
}

func open(dir string, format Format, cfg config.Config, pools *iofile.Pools) (*Database, error) {
	pool := iofile.NewThreadPool(int(cfg.IOThreadpoolSize))
	db := &Database{
		format:       format,
		dir:          dir,
		cfg:          cfg,
		pools:        pools,
		pool:         pool,
		partitions:   make(map[chessmodel.Classification]*partition.Partition),
		headerStores: make(map[chessmodel.Tier]*headerstore.Store),
	}

	var err error
	if format == FormatB {
		err = db.openFormatB()
	} else {
		err = db.openFormatA()
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (d *Database) openFormatA() error {
	logPath, indexPath := headerstore.Dir(d.dir, "header", "index")
	store, err := headerstore.Open(d.pools, logPath, indexPath)
	if err != nil {
		return err
	}
	for _, t := range chessmodel.AllTiers {
		d.headerStores[t] = store
	}

	for _, t := range chessmodel.AllTiers {
		for _, o := range chessmodel.AllOutcomes {
			cl := chessmodel.Classification{Tier: t, Outcome: o}
			pdir := filepath.Join(d.dir, partitionSubdir(cl))
			part, err := partition.Open(pdir, d.pools, d.pool, d.cfg)
			if err != nil {
				return err
			}
			d.partitions[cl] = part
			d.distinctPartitions = append(d.distinctPartitions, part)
		}
	}
	return nil
}

func (d *Database) openFormatB() error {
	for _, t := range chessmodel.AllTiers {
		logPath, indexPath := headerstore.Dir(d.dir, "header_"+t.String(), "index_"+t.String())
		store, err := headerstore.Open(d.pools, logPath, indexPath)
		if err != nil {
			return err
		}
		d.headerStores[t] = store
	}

	pdir := filepath.Join(d.dir, "data")
	part, err := partition.Open(pdir, d.pools, d.pool, d.cfg)
	if err != nil {
		return err
	}
	d.distinctPartitions = []*partition.Partition{part}
	for _, t := range chessmodel.AllTiers {
		for _, o := range chessmodel.AllOutcomes {
			d.partitions[chessmodel.Classification{Tier: t, Outcome: o}] = part
		}
	}
	return nil
}

// Format reports which on-disk layout this database was opened with.
func (d *Database) Format() Format { return d.format }

// Dir returns the database's root directory.
func (d *Database) Dir() string { return d.dir }

// PartitionFor satisfies ingest.Sink and query.Backend.
func (d *Database) PartitionFor(cl chessmodel.Classification) *partition.Partition {
	return d.partitions[cl]
}

// HeaderStoreFor satisfies ingest.Sink and query.Backend.
func (d *Database) HeaderStoreFor(tier chessmodel.Tier) *headerstore.Store {
	return d.headerStores[tier]
}

// FiltersByClassification satisfies query.Backend: true for format-B, whose
// single shared partition mixes every classification's entries together
// under HashOnlyOrder.
func (d *Database) FiltersByClassification() bool {
	return d.format == FormatB
}

// PartitionCount satisfies ingest.Sink.
func (d *Database) PartitionCount() int { return len(d.distinctPartitions) }

// AllPartitions satisfies ingest.Sink.
func (d *Database) AllPartitions() []*partition.Partition {
	out := make([]*partition.Partition, len(d.distinctPartitions))
	copy(out, d.distinctPartitions)
	return out
}

// Flush syncs every distinct header store to stable storage (format-A
// shares one store across all three tiers; flushed once, not three times).
func (d *Database) Flush() error {
	chain := continuity.New()
	seen := make(map[*headerstore.Store]bool)
	for _, t := range chessmodel.AllTiers {
		store := d.headerStores[t]
		if store == nil || seen[store] {
			continue
		}
		seen[store] = true
		chain.Thenf("flush "+t.String()+" header store", store.Flush)
	}
	return chain.Err()
}

// Close flushes and closes every header store this database opened. Runs
// are closed on demand (iofile.ImmutableFile.Close) by whoever opened
// them, not here — Database itself holds no long-lived run handles.
func (d *Database) Close() error {
	chain := continuity.New()
	seen := make(map[*headerstore.Store]bool)
	for _, t := range chessmodel.AllTiers {
		store := d.headerStores[t]
		if store == nil || seen[store] {
			continue
		}
		seen[store] = true
		chain.Thenf("close "+t.String()+" header store", store.Close)
	}
	return chain.Err()
}

// Manifest returns the format key recorded in this database's manifest
// file, re-read from disk rather than echoed from memory so a caller can
// detect a manifest someone replaced underneath an open handle.
func (d *Database) Manifest() (string, error) {
	return manifest.ReadKey(d.pools, filepath.Join(d.dir, "manifest"))
}

// Clear removes every ingested entry and game header, leaving an empty
// database whose manifest (and therefore format) is intact — the only
// deletion the data model permits.
func (d *Database) Clear() error {
	for _, part := range d.distinctPartitions {
		if err := part.Clear(); err != nil {
			return err
		}
	}
	seen := make(map[*headerstore.Store]bool)
	for _, t := range chessmodel.AllTiers {
		store := d.headerStores[t]
		if store == nil || seen[store] {
			continue
		}
		seen[store] = true
		if err := store.Clear(); err != nil {
			return err
		}
	}
	d.cumulativeSkipped.Store(0)
	return nil
}
