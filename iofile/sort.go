package iofile

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// CompareFunc orders two fixed-size records; used by both SortSpan and
// ExternalMerge.
type CompareFunc func(a, b []byte) int

// SortSpan externally sorts a span: repeatedly fill an in-memory
// buffer of size bufBytes, sort it with cmp, and spill it to a temporary
// sorted run under tmpDir. It returns the sealed runs in creation order;
// ExternalMerge combines them into one OutputFile.
//
// Temp run files are named with github.com/google/uuid rather than a
// counter, so concurrent sorters never collide on a filename.
func SortSpan(pools *Pools, it *Iterator, elemSize int, bufBytes int, cmp CompareFunc, tmpDir string) ([]*ImmutableFile, error) {
	if bufBytes < elemSize {
		bufBytes = elemSize
	}
	recordsPerBuf := bufBytes / elemSize
	if recordsPerBuf < 1 {
		recordsPerBuf = 1
	}

	var runs []*ImmutableFile
	for {
		buf := make([][]byte, 0, recordsPerBuf)
		for len(buf) < recordsPerBuf {
			rec, err := it.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			cp := make([]byte, elemSize)
			copy(cp, rec)
			buf = append(buf, cp)
		}
		if len(buf) == 0 {
			break
		}

		sort.Slice(buf, func(i, j int) bool { return cmp(buf[i], buf[j]) < 0 })

		runPath := filepath.Join(tmpDir, fmt.Sprintf("run-%s.tmp", uuid.NewString()))
		out, err := CreateOutput(pools, runPath)
		if err != nil {
			return nil, err
		}
		for _, rec := range buf {
			if _, err := out.Append(rec); err != nil {
				out.Close()
				return nil, err
			}
		}
		sealed, err := out.Seal()
		if err != nil {
			return nil, err
		}
		runs = append(runs, sealed)

		if len(buf) < recordsPerBuf {
			break
		}
	}
	return runs, nil
}
