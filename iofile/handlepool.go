// Package iofile implements the external-memory I/O substrate: pooled and
// direct file handles, an async I/O threadpool, typed immutable spans, an
// appending back-inserter, and external sort/merge.
//
// Handle pooling is an LRU of *os.File keyed by path, refcounted so a file
// in flight is never closed out from under a caller, split into two
// independently capped pools — "pooled" (handles recycled, LRU-evicted) and
// "direct" (held for the file's lifetime; Open fails past the cap).
package iofile

import (
	"container/list"
	"fmt"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("chessposdb/iofile")

// handlePool is an LRU cache of open *os.File, refcounted so eviction
// never closes a handle that still has users. The Acquire/Release naming
// avoids colliding with the file-level Open/Close this package also
// exposes.
type handlePool struct {
	mu       sync.Mutex
	cache    map[string]*list.Element
	ll       *list.List
	capacity int
	flag     int
	perm     os.FileMode
	removed  map[*os.File]int
}

type poolEntry struct {
	path string
	file *os.File
	refs int
}

func newHandlePool(capacity int, flag int, perm os.FileMode) *handlePool {
	return &handlePool{capacity: capacity, flag: flag, perm: perm}
}

// Acquire returns the shared *os.File for path, opening it if necessary and
// moving it to MRU. Every Acquire must be matched with a Release.
func (p *handlePool) Acquire(path string) (*os.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.capacity == 0 {
		return os.OpenFile(path, p.flag, p.perm)
	}
	if p.cache == nil {
		p.cache = make(map[string]*list.Element)
		p.ll = list.New()
	}

	if elem, ok := p.cache[path]; ok {
		p.ll.MoveToFront(elem)
		ent := elem.Value.(*poolEntry)
		ent.refs++
		return ent.file, nil
	}

	// Reopening a pooled file must never truncate data already written, so
	// a truncate flag is stripped before the file is reopened.
	flag := p.flag &^ os.O_TRUNC
	file, err := os.OpenFile(path, flag, p.perm)
	if err != nil {
		return nil, err
	}
	p.cache[path] = p.ll.PushFront(&poolEntry{path: path, file: file, refs: 1})
	if p.ll.Len() > p.capacity {
		p.evictOldest()
	}
	return file, nil
}

// Release decrements the reference count for file. If the file has since
// been evicted and its refcount drops to zero, it is closed.
func (p *handlePool) Release(file *os.File) error {
	if file == nil {
		return nil
	}
	path := file.Name()

	p.mu.Lock()
	defer p.mu.Unlock()

	if refs, ok := p.removed[file]; ok {
		if refs <= 1 {
			delete(p.removed, file)
			if len(p.removed) == 0 {
				p.removed = nil
			}
			return file.Close()
		}
		p.removed[file] = refs - 1
		return nil
	}

	if elem, ok := p.cache[path]; ok {
		ent := elem.Value.(*poolEntry)
		if ent.file == file && ent.refs > 0 {
			ent.refs--
		}
		return nil
	}
	return file.Close()
}

func (p *handlePool) evictOldest() {
	elem := p.ll.Back()
	if elem == nil {
		return
	}
	p.ll.Remove(elem)
	ent := elem.Value.(*poolEntry)
	delete(p.cache, ent.path)
	if ent.refs == 0 {
		ent.file.Close()
		return
	}
	if p.removed == nil {
		p.removed = make(map[*os.File]int)
	}
	p.removed[ent.file] = ent.refs
}

// directSet enforces the ~128-open cap for non-pooled files: every handle is
// held for the file's lifetime, so this is a plain counting semaphore rather
// than an LRU.
type directSet struct {
	mu  sync.Mutex
	n   int
	cap int
}

func newDirectSet(capacity int) *directSet {
	return &directSet{cap: capacity}
}

func (d *directSet) acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap > 0 && d.n >= d.cap {
		return fmt.Errorf("iofile: direct handle cap (%d) exceeded", d.cap)
	}
	d.n++
	return nil
}

func (d *directSet) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.n > 0 {
		d.n--
	}
}
