// Package lookup implements the keyed lookup engine: given a sorted run,
// an optional range index, and a batch of distinct keys, resolve each key
// to its equal-range offset interval using interpolation search with
// cross-key narrowing and an exponential-expansion fallback.
//
// Every probe reads one bounded window and resolves as much as it can in
// memory, amortizing disk traffic across the whole batch.
package lookup

import (
	"math/big"

	"github.com/valyala/bytebufferpool"

	"github.com/Sopel97/chess-pos-db-sub001/entry"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
	"github.com/Sopel97/chess-pos-db-sub001/poskey"
	"github.com/Sopel97/chess-pos-db-sub001/rangeindex"
)

// windowPool recycles the scratch buffers readRange uses for its single
// bulk window read, avoiding a fresh allocation per narrowing step during a
// busy query.
var windowPool bytebufferpool.Pool

// Range is a resolved equal-range interval [Low, High) into a run. Found is
// false if the key is absent.
type Range struct {
	Low, High int64
	Found     bool
}

// thresholdEntries converts config.SequentialReadMaxBytes into the
// sequential-read threshold in entries, at least 3.
func thresholdEntries(seqReadMaxBytes uint32) int64 {
	n := int64(seqReadMaxBytes) / int64(entry.Size)
	if n < 3 {
		n = 3
	}
	return n
}

type keyState struct {
	key                 poskey.Key
	outIdx              int
	low, high           int64 // inclusive candidate bracket
	lowValue, highValue poskey.Key
	done                bool
	result              Range
}

// Lookup resolves every key in keys against run (sorted under order), using
// idx (if non-nil) to seed initial brackets and skip keys proven absent
// without any data-file access. seqReadMaxBytes is config.Config's
// SequentialReadMaxBytes.
func Lookup(run *iofile.Span, order poskey.OrderKind, idx *rangeindex.Index, keys []poskey.Key, seqReadMaxBytes uint32) ([]Range, error) {
	results := make([]Range, len(keys))
	n := run.Len()
	if n == 0 {
		return results, nil
	}

	states := make([]*keyState, 0, len(keys))
	for i, k := range keys {
		st := &keyState{key: k, outIdx: i}
		if idx != nil {
			lo, hi, found := idx.Lookup(k)
			if !found {
				continue
			}
			st.low = int64(lo)
			st.high = int64(hi) - 1
			if st.high < st.low {
				st.high = st.low
			}
		} else {
			st.low = 0
			st.high = n - 1
		}
		states = append(states, st)
	}

	for _, st := range states {
		lv, err := readKey(run, st.low)
		if err != nil {
			return nil, err
		}
		hv, err := readKey(run, st.high)
		if err != nil {
			return nil, err
		}
		st.lowValue, st.highValue = lv, hv

		// A key below/above the bracket's own endpoints is absent without
		// further reads.
		if poskey.Less(order, st.key, st.lowValue) || poskey.Less(order, st.highValue, st.key) {
			st.done = true
			st.result = Range{}
		}
	}

	th := thresholdEntries(seqReadMaxBytes)
	pending := make([]*keyState, 0, len(states))
	for _, st := range states {
		if !st.done {
			pending = append(pending, st)
		}
	}

	for len(pending) > 0 {
		st := pending[0]

		winLo, winHi, windowKeys, err := step(run, order, th, st)
		if err != nil {
			return nil, err
		}

		if len(windowKeys) > 0 {
			for _, other := range pending[1:] {
				if other.done {
					continue
				}
				narrowFromWindow(order, other, winLo, winHi, windowKeys)
			}
		}

		next := pending[:0]
		for _, s := range pending {
			if !s.done {
				next = append(next, s)
			}
		}
		pending = next
	}

	for _, st := range states {
		results[st.outIdx] = st.result
	}
	return results, nil
}

// step advances st by one disk read, resolving it fully when possible. It
// returns the inclusive [winLo, winHi] index range that was read and its
// decoded keys, so the caller can apply cross-key narrowing to other
// pending states without an extra read.
func step(run *iofile.Span, order poskey.OrderKind, th int64, st *keyState) (int64, int64, []poskey.Key, error) {
	bracketSize := st.high - st.low + 1
	strictlyInside := poskey.Less(order, st.lowValue, st.key) && poskey.Less(order, st.key, st.highValue)

	if bracketSize <= th {
		keys, err := readRange(run, st.low, st.high)
		if err != nil {
			return 0, 0, nil, err
		}
		resolveFromWindow(order, st, st.low, keys)
		return st.low, st.high, keys, nil
	}

	if !strictlyInside {
		// The loop termination condition failed on equality, not on
		// reaching the threshold: key coincides with one of the bracket's
		// known endpoints, which is itself a valid, already-proven bound.
		// Expand from there instead of reading the (possibly huge) bracket.
		switch {
		case poskey.Compare(order, st.key, st.lowValue) == 0:
			hi, err := expandRight(run, order, st.key, st.low, st.high)
			if err != nil {
				return 0, 0, nil, err
			}
			st.result = Range{Low: st.low, High: hi, Found: true}
		case poskey.Compare(order, st.key, st.highValue) == 0:
			lo, err := expandLeft(run, order, st.key, st.high, st.low)
			if err != nil {
				return 0, 0, nil, err
			}
			st.result = Range{Low: lo, High: st.high + 1, Found: true}
		default:
			st.result = Range{}
		}
		st.done = true
		return st.low, st.low, nil, nil
	}

	mid := interpolateMid(st.low, st.high, st.lowValue, st.highValue, st.key, order)
	half := th / 2
	winLo := mid - half
	winHi := mid + half
	if winLo < st.low+1 {
		winLo = st.low + 1
	}
	if winHi > st.high-1 {
		winHi = st.high - 1
	}
	if winLo > winHi {
		winLo, winHi = st.low+1, st.high-1
	}

	keys, err := readRange(run, winLo, winHi)
	if err != nil {
		return 0, 0, nil, err
	}

	loIdx, hiIdx := equalRange(order, keys, st.key)
	loInterior := loIdx > 0
	hiInterior := hiIdx < len(keys)

	switch {
	case loInterior && hiInterior:
		st.result = Range{Low: winLo + int64(loIdx), High: winLo + int64(hiIdx), Found: loIdx < hiIdx}
		if loIdx == hiIdx {
			st.result = Range{}
		}
		st.done = true
	case hiInterior && !loInterior:
		if poskey.Compare(order, keys[0], st.key) == 0 {
			// the upper boundary resolved inside this window; only the
			// lower boundary remains, somewhere left of it.
			lo, err := expandLeft(run, order, st.key, winLo, st.low)
			if err != nil {
				return 0, 0, nil, err
			}
			st.result = Range{Low: lo, High: winLo + int64(hiIdx), Found: true}
			st.done = true
			break
		}
		// the whole equal-range lies left of this window; narrow high to
		// the window's low edge, whose value we already have in hand.
		st.high = winLo
		st.highValue = keys[0]
	case loInterior && !hiInterior:
		if poskey.Compare(order, keys[len(keys)-1], st.key) == 0 {
			hi, err := expandRight(run, order, st.key, winHi, st.high)
			if err != nil {
				return 0, 0, nil, err
			}
			st.result = Range{Low: winLo + int64(loIdx), High: hi, Found: true}
			st.done = true
			break
		}
		st.low = winHi
		st.lowValue = keys[len(keys)-1]
	default:
		// entire window compares equal to the key: exponential expansion.
		lo, hi, err := exponentialExpand(run, order, st.key, winLo, winHi, st.low, st.high)
		if err != nil {
			return 0, 0, nil, err
		}
		st.result = Range{Low: lo, High: hi, Found: true}
		st.done = true
	}

	return winLo, winHi, keys, nil
}

// resolveFromWindow finishes st using a window that spans its entire
// remaining bracket [winLo, winLo+len(keys)-1] == [st.low, st.high].
func resolveFromWindow(order poskey.OrderKind, st *keyState, winLo int64, keys []poskey.Key) {
	loIdx, hiIdx := equalRange(order, keys, st.key)
	st.done = true
	if loIdx >= hiIdx {
		st.result = Range{}
		return
	}
	st.result = Range{Low: winLo + int64(loIdx), High: winLo + int64(hiIdx), Found: true}
}

// narrowFromWindow opportunistically applies an already-read window to
// another pending key's bracket, without issuing any additional disk
// reads.
func narrowFromWindow(order poskey.OrderKind, st *keyState, winLo, winHi int64, windowKeys []poskey.Key) {
	clipLo := maxInt64(st.low, winLo)
	clipHi := minInt64(st.high, winHi)
	if clipLo > clipHi {
		return
	}
	sub := windowKeys[clipLo-winLo : clipHi-winLo+1]
	loIdx, hiIdx := equalRange(order, sub, st.key)

	if clipLo == st.low && clipHi == st.high {
		st.done = true
		if loIdx >= hiIdx {
			st.result = Range{}
			return
		}
		st.result = Range{Low: clipLo + int64(loIdx), High: clipLo + int64(hiIdx), Found: true}
		return
	}
	if clipLo == st.low && loIdx > 0 && loIdx < len(sub) {
		st.low = clipLo + int64(loIdx)
		st.lowValue = sub[loIdx]
	}
	if clipHi == st.high && hiIdx < len(sub) && hiIdx > 0 {
		st.high = clipLo + int64(hiIdx)
		st.highValue = sub[hiIdx]
	}
}

// exponentialExpand handles the case where both boundaries sit at the
// window edges: the entire read window already equals key, so the true
// equal-range extends beyond it on one or both sides. It doubles the probe
// distance from the window outward until a differing key is observed, then
// binary-searches within the last bracket to pinpoint the exact bound.
func exponentialExpand(run *iofile.Span, order poskey.OrderKind, key poskey.Key, winLo, winHi, floor, ceil int64) (int64, int64, error) {
	lo, err := expandLeft(run, order, key, winLo, floor)
	if err != nil {
		return 0, 0, err
	}
	hi, err := expandRight(run, order, key, winHi, ceil)
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

func expandLeft(run *iofile.Span, order poskey.OrderKind, key poskey.Key, knownEqual, floor int64) (int64, error) {
	if knownEqual <= floor {
		return floor, nil
	}
	step := int64(1)
	probeLimitLo := knownEqual
	for {
		probe := knownEqual - step
		if probe <= floor {
			probe = floor
			v, err := readKey(run, probe)
			if err != nil {
				return 0, err
			}
			if poskey.Compare(order, v, key) == 0 {
				return floor, nil
			}
			return lowerBound(run, order, key, probe, probeLimitLo)
		}
		v, err := readKey(run, probe)
		if err != nil {
			return 0, err
		}
		if poskey.Compare(order, v, key) != 0 {
			return lowerBound(run, order, key, probe, probeLimitLo)
		}
		probeLimitLo = probe
		step *= 2
	}
}

func expandRight(run *iofile.Span, order poskey.OrderKind, key poskey.Key, knownEqual, ceil int64) (int64, error) {
	if knownEqual >= ceil {
		return ceil + 1, nil
	}
	step := int64(1)
	probeLimitHi := knownEqual
	for {
		probe := knownEqual + step
		if probe >= ceil {
			probe = ceil
			v, err := readKey(run, probe)
			if err != nil {
				return 0, err
			}
			if poskey.Compare(order, v, key) == 0 {
				return ceil + 1, nil
			}
			return upperBound(run, order, key, probeLimitHi, probe)
		}
		v, err := readKey(run, probe)
		if err != nil {
			return 0, err
		}
		if poskey.Compare(order, v, key) != 0 {
			return upperBound(run, order, key, probeLimitHi, probe)
		}
		probeLimitHi = probe
		step *= 2
	}
}

// lowerBound finds, in [knownEqual, firstDiffering], the first index whose
// value equals key (the left edge of the equal-range), given value(knownEqual)
// == key and value(firstDiffering) != key.
func lowerBound(run *iofile.Span, order poskey.OrderKind, key poskey.Key, firstDiffering, knownEqual int64) (int64, error) {
	lo, hi := firstDiffering, knownEqual
	for lo < hi {
		mid := lo + (hi-lo)/2
		v, err := readKey(run, mid)
		if err != nil {
			return 0, err
		}
		if poskey.Compare(order, v, key) == 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// upperBound finds the exclusive end of the equal-range in
// [knownEqual, firstDiffering], given value(knownEqual) == key and
// value(firstDiffering) != key.
func upperBound(run *iofile.Span, order poskey.OrderKind, key poskey.Key, knownEqual, firstDiffering int64) (int64, error) {
	lo, hi := knownEqual, firstDiffering
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		v, err := readKey(run, mid)
		if err != nil {
			return 0, err
		}
		if poskey.Compare(order, v, key) == 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1, nil
}

// equalRange returns, within keys (assumed sorted under order), the
// [loIdx, hiIdx) bounds of elements equal to key: loIdx is the first index
// whose value is >= key, hiIdx is the first index whose value is > key.
func equalRange(order poskey.OrderKind, keys []poskey.Key, key poskey.Key) (loIdx, hiIdx int) {
	lo := 0
	hi := len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if poskey.Less(order, keys[mid], key) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	loIdx = lo
	hi = len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if poskey.Less(order, key, keys[mid]) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	hiIdx = lo
	return loIdx, hiIdx
}

// interpolateMid computes the interpolated probe point in
// arbitrary-precision arithmetic, since keys are 128-bit.
func interpolateMid(low, high int64, lowValue, highValue, key poskey.Key, order poskey.OrderKind) int64 {
	lv := maskedBig(order, lowValue)
	hv := maskedBig(order, highValue)
	kv := maskedBig(order, key)

	num := new(big.Int).Sub(kv, lv)
	den := new(big.Int).Sub(hv, lv)
	span := big.NewInt(high - low - 1)

	num.Mul(num, span)
	q := new(big.Int).Quo(num, den)

	mid := low + q.Int64()
	if mid <= low {
		mid = low + 1
	}
	if mid >= high {
		mid = high - 1
	}
	return mid
}

func maskedBig(order poskey.OrderKind, k poskey.Key) *big.Int {
	m := poskey.MaskedForOrder(order, k)
	v := new(big.Int).SetUint64(m.Hi)
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(m.Lo))
	return v
}

func readKey(run *iofile.Span, i int64) (poskey.Key, error) {
	raw, err := run.At(i)
	if err != nil {
		return poskey.Key{}, err
	}
	var kb [16]byte
	copy(kb[:], raw[:16])
	return poskey.FromBytes(kb), nil
}

// readRange reads the inclusive [lo, hi] index range as a single bulk read
// and decodes each entry's key, rather than issuing one synchronous read
// per element the way readKey does for a lone index.
func readRange(run *iofile.Span, lo, hi int64) ([]poskey.Key, error) {
	n := hi - lo + 1
	if n <= 0 {
		return nil, nil
	}

	bb := windowPool.Get()
	defer windowPool.Put(bb)
	stride := run.ElemSize()
	want := int(n) * stride
	if cap(bb.B) < want {
		bb.B = make([]byte, want)
	} else {
		bb.B = bb.B[:want]
	}
	if err := run.ReadWindow(bb.B, lo, hi); err != nil {
		return nil, err
	}

	keys := make([]poskey.Key, n)
	var kb [16]byte
	for i := int64(0); i < n; i++ {
		copy(kb[:], bb.B[int(i)*stride:int(i)*stride+16])
		keys[i] = poskey.FromBytes(kb)
	}
	return keys, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
