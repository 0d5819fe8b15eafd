package iofile

import (
	"container/heap"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Sopel97/chess-pos-db-sub001/config"
)

// ExternalMerge merges sorted runs into out: if len(runs) <= F
// (cfg.MergeMaxFanIn) it merges directly; otherwise it recursively
// merges groups of F into intermediate temp runs under tmpDir and merges
// those results, bounding fan-in at every level.
//
// The direct merge uses a priority queue keyed by (value, run-id) with
// ascending-run-id tie-break (stable) once len(runs) > cfg.MergePriorityQueueThreshold;
// below that a linear scan over the candidates beats the heap's
// bookkeeping.
func ExternalMerge(pools *Pools, pool *ThreadPool, runs []*ImmutableFile, elemSize int, cmp CompareFunc, out *OutputFile, cfg config.Config, tmpDir string) error {
	fanIn := int(cfg.MergeMaxFanIn)
	if fanIn < 1 {
		fanIn = len(runs)
	}

	if len(runs) <= fanIn {
		return directMerge(pool, runs, elemSize, cmp, out, int(cfg.MergePriorityQueueThreshold))
	}

	var intermediates []*ImmutableFile
	for start := 0; start < len(runs); start += fanIn {
		end := start + fanIn
		if end > len(runs) {
			end = len(runs)
		}
		group := runs[start:end]

		path := filepath.Join(tmpDir, fmt.Sprintf("merge-%s.tmp", uuid.NewString()))
		interOut, err := CreateOutput(pools, path)
		if err != nil {
			return err
		}
		if err := directMerge(pool, group, elemSize, cmp, interOut, int(cfg.MergePriorityQueueThreshold)); err != nil {
			interOut.Close()
			return err
		}
		sealed, err := interOut.Seal()
		if err != nil {
			return err
		}
		intermediates = append(intermediates, sealed)
	}

	return ExternalMerge(pools, pool, intermediates, elemSize, cmp, out, cfg, tmpDir)
}

// runCursor tracks one input run's current unconsumed record.
type runCursor struct {
	idx  int
	it   *Iterator
	cur  []byte
	done bool
}

func (c *runCursor) fill() error {
	if c.cur != nil || c.done {
		return nil
	}
	rec, err := c.it.Next()
	if err == io.EOF {
		c.done = true
		return nil
	}
	if err != nil {
		return err
	}
	c.cur = rec
	return nil
}

// directMerge merges runs (len(runs) <= fan-in, enforced by the caller) into
// out, buffering output F-times the average input buffer by way of an
// Appender whose buffer size scales with len(runs).
func directMerge(pool *ThreadPool, runs []*ImmutableFile, elemSize int, cmp CompareFunc, out *OutputFile, pqThreshold int) error {
	cursors := make([]*runCursor, len(runs))
	for i, r := range runs {
		cursors[i] = &runCursor{idx: i, it: NewSpan(r, elemSize, 0, r.Size()/int64(elemSize)).Iterate()}
		if err := cursors[i].fill(); err != nil {
			return err
		}
	}

	bufBytes := elemSize * len(runs) * averageRunBufferElems
	appender := NewAppender(pool, out, elemSize, bufBytes)

	if len(runs) > pqThreshold {
		if err := heapMerge(cursors, cmp, appender); err != nil {
			return err
		}
	} else {
		if err := linearMerge(cursors, cmp, appender); err != nil {
			return err
		}
	}
	// Flush, don't Close: out belongs to the caller, who seals it once the
	// whole merge tree has drained into it.
	return appender.Flush()
}

// averageRunBufferElems is a rough stand-in for "the average input buffer"
// size in elements, used only to proportion the output Appender's buffer;
// the exact value does not affect correctness, only I/O batching.
const averageRunBufferElems = 4096

func linearMerge(cursors []*runCursor, cmp CompareFunc, appender *Appender) error {
	for {
		best := -1
		for i, c := range cursors {
			if c.done {
				continue
			}
			if best == -1 || cmp(c.cur, cursors[best].cur) < 0 {
				best = i
			}
			// ties keep the earlier (lower run-id) cursor, matching the
			// ascending-run-id tie-break of the heap path, since cursors is
			// scanned in run-id order and best is only replaced on strict <.
		}
		if best == -1 {
			return nil
		}
		if err := appender.Append(cursors[best].cur); err != nil {
			return err
		}
		cursors[best].cur = nil
		if err := cursors[best].fill(); err != nil {
			return err
		}
	}
}

// mergeHeapItem is one entry in the priority queue: a run's current record
// plus its run-id, so ties break by ascending run-id (stable merge).
type mergeHeapItem struct {
	cursor *runCursor
}

type mergeHeap struct {
	items []mergeHeapItem
	cmp   CompareFunc
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	c := h.cmp(h.items[i].cursor.cur, h.items[j].cursor.cur)
	if c != 0 {
		return c < 0
	}
	return h.items[i].cursor.idx < h.items[j].cursor.idx
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)    { h.items = append(h.items, x.(mergeHeapItem)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

func heapMerge(cursors []*runCursor, cmp CompareFunc, appender *Appender) error {
	h := &mergeHeap{cmp: cmp}
	heap.Init(h)
	for _, c := range cursors {
		if !c.done {
			heap.Push(h, mergeHeapItem{cursor: c})
		}
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(mergeHeapItem)
		c := top.cursor
		if err := appender.Append(c.cur); err != nil {
			return err
		}
		c.cur = nil
		if err := c.fill(); err != nil {
			return err
		}
		if !c.done {
			heap.Push(h, mergeHeapItem{cursor: c})
		}
	}
	return nil
}
