package db

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/manifest"
	"github.com/Sopel97/chess-pos-db-sub001/partition"
)

// partitionLabels names each distinct partition for progress-bar display:
// format-A's nine partitions by "<tier>/<abbrev>", format-B's single shared
// partition as "data".
func (d *Database) partitionLabels() map[*partition.Partition]string {
	labels := make(map[*partition.Partition]string, len(d.distinctPartitions))
	if d.format == FormatB {
		if len(d.distinctPartitions) > 0 {
			labels[d.distinctPartitions[0]] = "data"
		}
		return labels
	}
	for cl, part := range d.partitions {
		labels[part] = partitionSubdir(cl)
	}
	return labels
}

// mergeBar wraps one partition's compaction progress into an mpb bar; nil
// progress tracking is returned (trackFn == nil) when bars aren't wanted.
func mergeBar(p *mpb.Progress, label string) (bar *mpb.Bar, trackFn func(partition.Progress)) {
	if p == nil {
		return nil, nil
	}
	bar = p.AddBar(0,
		mpb.PrependDecorators(decor.Name(label, decor.WC{W: len(label) + 1})),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)
	totalSet := false
	return bar, func(pr partition.Progress) {
		if !totalSet && pr.EntriesTotal > 0 {
			bar.SetTotal(int64(pr.EntriesTotal), false)
			totalSet = true
		}
		bar.SetCurrent(int64(pr.EntriesDone))
	}
}

// MergeAll compacts every partition's runs into one, in place, across the
// whole database. When showProgress is true, each partition's compaction
// renders as its own bar, so a quick partition (e.g. engine/loss) doesn't
// misleadingly look stalled next to a slow one (e.g. human/draw).
func (d *Database) MergeAll(showProgress bool) error {
	labels := d.partitionLabels()
	var p *mpb.Progress
	if showProgress {
		p = mpb.New(mpb.WithWidth(40))
	}
	for _, part := range d.distinctPartitions {
		label := labels[part]
		bar, track := mergeBar(p, label)
		err := part.MergeAll(track)
		if bar != nil {
			// A no-op merge (fewer than 2 runs) never reports progress, so
			// the bar must be completed explicitly or Wait would hang.
			bar.SetTotal(-1, true)
		}
		if err != nil {
			return fmt.Errorf("db: merging partition %s: %w", label, err)
		}
	}
	if p != nil {
		p.Wait()
	}
	return nil
}

// Replicate writes a complete, independent copy of the database to destDir:
// a fresh manifest, every header store's files, and every partition merged
// into a single run under destDir. The source database is left untouched.
func (d *Database) Replicate(destDir string, showProgress bool) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	if err := manifest.Write(d.pools, filepath.Join(destDir, "manifest"), manifestKeyFor(d.format), false); err != nil {
		return err
	}

	if err := d.replicateHeaderStores(destDir); err != nil {
		return err
	}

	labels := d.partitionLabels()
	var p *mpb.Progress
	if showProgress {
		p = mpb.New(mpb.WithWidth(40))
	}
	for _, part := range d.distinctPartitions {
		label := labels[part]
		bar, track := mergeBar(p, label)
		destSub := destDir
		if d.format == FormatA {
			destSub = filepath.Join(destDir, label)
		} else {
			destSub = filepath.Join(destDir, "data")
		}
		err := part.ReplicateMergeAll(destSub, track)
		if bar != nil {
			bar.SetTotal(-1, true)
		}
		if err != nil {
			return fmt.Errorf("db: replicating partition %s: %w", label, err)
		}
	}
	if p != nil {
		p.Wait()
	}
	return nil
}

func (d *Database) replicateHeaderStores(destDir string) error {
	copied := make(map[string]bool)
	for _, t := range chessmodel.AllTiers {
		store := d.headerStores[t]
		if store == nil {
			continue
		}
		logPath, indexPath := store.Paths()
		if copied[logPath] {
			continue
		}
		copied[logPath] = true
		if err := store.Flush(); err != nil {
			return err
		}
		if err := copyFile(logPath, filepath.Join(destDir, filepath.Base(logPath))); err != nil {
			return err
		}
		if err := copyFile(indexPath, filepath.Join(destDir, filepath.Base(indexPath))); err != nil {
			return err
		}
	}
	return nil
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
