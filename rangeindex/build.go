package rangeindex

import (
	"io"

	"github.com/Sopel97/chess-pos-db-sub001/iofile"
	"github.com/Sopel97/chess-pos-db-sub001/poskey"
)

// KeySource yields the keys of a sorted run in order, one at a time.
type KeySource interface {
	// Next returns the next key, or io.EOF once exhausted.
	Next() (poskey.Key, error)
}

// spanKeySource adapts an iofile.Span of poskey-sized entries (the key is
// assumed to occupy the first 16 bytes of each elemSize-byte record) into a
// KeySource.
type spanKeySource struct {
	it *iofile.Iterator
}

// NewSpanKeySource builds a KeySource over span, reading the leading 16
// bytes of each record as a poskey.Key.
func NewSpanKeySource(span *iofile.Span) KeySource {
	return &spanKeySource{it: span.Iterate()}
}

func (s *spanKeySource) Next() (poskey.Key, error) {
	rec, err := s.it.Next()
	if err != nil {
		return poskey.Key{}, err
	}
	var kb [16]byte
	copy(kb[:], rec[:16])
	return poskey.FromBytes(kb), nil
}

type entryRef struct {
	key    poskey.Key
	offset uint64
}

// tupleSink is the one method BuildToAppender needs; *iofile.Appender
// satisfies it, and tests drive the state machine against an in-memory
// stand-in that also satisfies it.
type tupleSink interface {
	Append(record []byte) error
}

// BuildToAppender drives the incremental range-index state machine over
// src (a stream of keys in the given order, implicitly at
// consecutive offsets starting at 0) and appends each emitted Tuple through
// appender (whose elemSize must be TupleSize). It returns the number of
// tuples emitted.
//
// Bounded lookahead: closing a range early (the order-value changed before
// the granularity limit filled) requires "rewinding" to the last recorded
// split point, since entries already scanned past that point belong to the
// *next* range. Rather than buffering the whole run, the builder keeps only
// the entries since the current range's start in a slice that is re-sliced,
// not reallocated, once a range closes — normally at most granularity+1 of
// them, except while consuming a single equal-valued run, which may exceed
// granularity without a bound.
func BuildToAppender(src KeySource, order poskey.OrderKind, granularity uint64, appender tupleSink) (uint64, error) {
	if granularity == 0 {
		granularity = 1
	}

	var buf []entryRef
	var nextOffset uint64
	var emitted uint64
	eof := false

	pull := func() (entryRef, bool, error) {
		if eof {
			return entryRef{}, false, nil
		}
		k, err := src.Next()
		if err == io.EOF {
			eof = true
			return entryRef{}, false, nil
		}
		if err != nil {
			return entryRef{}, false, err
		}
		e := entryRef{key: k, offset: nextOffset}
		nextOffset++
		return e, true, nil
	}

	// need ensures buf has at least n entries, or reaches EOF trying.
	need := func(n int) error {
		for len(buf) < n {
			e, ok, err := pull()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			buf = append(buf, e)
		}
		return nil
	}

	emitRemainder := func(startValue poskey.Key, startOffset uint64) error {
		tuple := Tuple{
			LowKey:     startValue,
			HighKey:    buf[len(buf)-1].key,
			LowOffset:  startOffset,
			HighOffset: buf[len(buf)-1].offset + 1,
		}
		if err := appender.Append(tuple.encode()); err != nil {
			return err
		}
		emitted++
		return nil
	}

	for {
		if err := need(1); err != nil {
			return emitted, err
		}
		if len(buf) == 0 {
			return emitted, nil
		}

		startValue := buf[0].key
		startOffset := buf[0].offset

		// Consume the maximal equal-valued prefix; this range may already
		// exceed granularity.
		prefixEnd := 1
		for {
			if err := need(prefixEnd + 1); err != nil {
				return emitted, err
			}
			if prefixEnd >= len(buf) {
				break
			}
			if poskey.Compare(order, buf[prefixEnd].key, startValue) != 0 {
				break
			}
			prefixEnd++
		}

		if prefixEnd >= len(buf) {
			if err := emitRemainder(startValue, startOffset); err != nil {
				return emitted, err
			}
			return emitted, nil
		}

		// buf[prefixEnd] is the first entry with a different value: the
		// initial prospective split point.
		splitIdx := prefixEnd
		splitValue := buf[splitIdx].key

		i := prefixEnd
		for uint64(i) < granularity {
			if err := need(i + 1); err != nil {
				return emitted, err
			}
			if i >= len(buf) {
				break
			}
			if poskey.Compare(order, buf[i].key, splitValue) != 0 {
				splitIdx = i
				splitValue = buf[i].key
			}
			i++
		}
		// The loop only ensured i entries; look one past them to tell a
		// granularity cutoff from the end of the input.
		if err := need(i + 1); err != nil {
			return emitted, err
		}

		if i >= len(buf) {
			// Input ran out before the granularity cutoff: nothing remains
			// to start a new range with, so the whole remainder (including
			// entries past the last split) closes as one range.
			if err := emitRemainder(startValue, startOffset); err != nil {
				return emitted, err
			}
			return emitted, nil
		}

		// Granularity reached: close at the last recorded split point, not
		// at i, so the range ends on a strict order change and never splits
		// equal keys.
		tuple := Tuple{
			LowKey:     startValue,
			HighKey:    buf[splitIdx-1].key,
			LowOffset:  startOffset,
			HighOffset: buf[splitIdx].offset,
		}
		if err := appender.Append(tuple.encode()); err != nil {
			return emitted, err
		}
		emitted++

		// Begin the next range at the split point.
		buf = buf[splitIdx:]
	}
}
