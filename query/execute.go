package query

import (
	"fmt"
	"sort"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/headerstore"
	"github.com/Sopel97/chess-pos-db-sub001/lookup"
	"github.com/Sopel97/chess-pos-db-sub001/poskey"
)

// queryItem is one move (or the root itself, san == "--") to resolve
// against the database: its SAN key and the position it leads to. Whether a
// child's own first/last game may be fetched is decided per category by
// buildCategory's firstLastMode.
type queryItem struct {
	san string
	pos chessmodel.Position
}

// expandPositions builds the root item plus, when any category asks for
// fetch_children, one item per legal move from root.
func expandPositions(fen, move string, fetchChildren bool) ([]queryItem, error) {
	var rm *chessmodel.ReverseMove
	if move != "" {
		board, err := chessmodel.PositionFromFEN(fen, nil)
		if err != nil {
			return nil, err
		}
		parsed, err := parseRootMove(move, board.Board)
		if err != nil {
			return nil, err
		}
		rm = &parsed
	}
	rootPos, err := chessmodel.PositionFromFEN(fen, rm)
	if err != nil {
		return nil, err
	}

	items := []queryItem{{san: "--", pos: *rootPos}}
	if !fetchChildren {
		return items, nil
	}

	children, err := chessmodel.LegalChildren(fen)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		items = append(items, queryItem{san: c.SAN, pos: c.Position})
	}
	return items, nil
}

// bucket aggregates one queryItem's results for one classification, across
// every run in the classification's partition.
type bucket struct {
	agg          rangeAgg
	firstGameSet bool // true once a run with a lower id has already fixed firstGameID
	lastSeen     bool // true once any run has contributed, so lastGameID always tracks the highest-id run
}

// computeAgg resolves every item's key under order for every requested
// classification, batching the keyed lookups per (classification, run)
// pair. When backend.FiltersByClassification() is true, the shared
// partition's HashOnlyOrder ranges mix every classification together, so
// each scan additionally filters by decoding the entry's own tail.
func computeAgg(backend Backend, items []queryItem, classifications []chessmodel.Classification, order poskey.OrderKind) (map[chessmodel.Classification][]bucket, error) {
	result := make(map[chessmodel.Classification][]bucket, len(classifications))

	for _, cl := range classifications {
		part := backend.PartitionFor(cl)
		if part == nil {
			result[cl] = make([]bucket, len(items))
			continue
		}

		// Build this classification's distinct key set, remembering which
		// item indices map to each distinct key (lookup.Lookup requires
		// distinct keys; several items can legitimately share one, e.g. two
		// different SAN children transposing into the same position).
		keyOf := make([]poskey.Key, len(items))
		for i, it := range items {
			keyOf[i] = poskey.Encode(it.pos.Board, it.pos.SideToMove, it.pos.ReverseMove, cl)
		}
		distinct, itemsForKey := dedupeKeys(keyOf)

		buckets := make([]bucket, len(items))

		runs := part.Runs()
		sort.Slice(runs, func(a, b int) bool { return runs[a].ID < runs[b].ID })

		var accept func(poskey.Key) bool
		if backend.FiltersByClassification() {
			accept = func(k poskey.Key) bool {
				_, decoded, _ := poskey.Decode(k)
				return decoded == cl
			}
		}

		for _, rf := range runs {
			f, span, err := part.OpenRunSpan(rf)
			if err != nil {
				return nil, err
			}
			idx, idxErr := part.OpenRunIndex(rf, order)
			if idxErr != nil {
				f.Close()
				return nil, idxErr
			}

			ranges, err := lookup.Lookup(span, order, idx, distinct, part.Config().SequentialReadMaxBytes)
			idx.Close()
			if err != nil {
				f.Close()
				return nil, err
			}

			verify := part.Config().VerifyHashes && part.HasBoardCheck(rf)
			for di, r := range ranges {
				if !r.Found {
					continue
				}
				if verify {
					verifyRangeBoards(part, rf, span, r.Low, r.High)
				}
				agg, err := scanRun(span, r.Low, r.High, accept)
				if err != nil {
					f.Close()
					return nil, err
				}
				for _, itemIdx := range itemsForKey[di] {
					b := &buckets[itemIdx]
					b.agg.count += agg.count
					if agg.haveFirst && !b.firstGameSet {
						b.agg.firstGameID = agg.firstGameID
						b.firstGameSet = true
					}
					if agg.haveLast {
						b.agg.lastGameID = agg.lastGameID
						b.lastSeen = true
					}
				}
			}
			f.Close()
		}

		result[cl] = buckets
	}

	return result, nil
}

// dedupeKeys returns keys' distinct values plus, for each distinct value,
// the indices into keys that produced it.
func dedupeKeys(keys []poskey.Key) ([]poskey.Key, [][]int) {
	seen := make(map[poskey.Key]int, len(keys))
	var distinct []poskey.Key
	var itemsForKey [][]int
	for i, k := range keys {
		if di, ok := seen[k]; ok {
			itemsForKey[di] = append(itemsForKey[di], i)
			continue
		}
		seen[k] = len(distinct)
		distinct = append(distinct, k)
		itemsForKey = append(itemsForKey, []int{i})
	}
	return distinct, itemsForKey
}

// headerFetchQueue batches game-header lookups by tier: each Backend call
// is deferred until every item and classification has been examined, so a
// Stats-style query that never asks for headers never touches the header
// store at all.
type headerFetchQueue struct {
	backend Backend
	byTier  map[chessmodel.Tier][]uint32
	dests   map[chessmodel.Tier][]*GameHeaderView
}

func newHeaderFetchQueue(backend Backend) *headerFetchQueue {
	return &headerFetchQueue{
		backend: backend,
		byTier:  make(map[chessmodel.Tier][]uint32),
		dests:   make(map[chessmodel.Tier][]*GameHeaderView),
	}
}

// want registers gameID for later resolution and returns the view pointer
// that will hold its rendered header once resolve runs.
func (q *headerFetchQueue) want(tier chessmodel.Tier, gameID uint32) *GameHeaderView {
	view := &GameHeaderView{}
	q.byTier[tier] = append(q.byTier[tier], gameID)
	q.dests[tier] = append(q.dests[tier], view)
	return view
}

// resolve issues one QueryByIDs call per tier and scatters the decoded
// headers back into the views want returned.
func (q *headerFetchQueue) resolve() error {
	for tier, ids := range q.byTier {
		store := q.backend.HeaderStoreFor(tier)
		if store == nil {
			continue
		}
		headers, err := store.QueryByIDs(ids)
		if err != nil {
			return err
		}
		dests := q.dests[tier]
		for i, h := range headers {
			*dests[i] = renderHeader(h)
		}
	}
	return nil
}

func renderHeader(h headerstore.Header) GameHeaderView {
	return GameHeaderView{
		GameID:   h.GameIdx,
		Result:   h.Outcome.String(),
		Date:     h.Date,
		ECO:      h.ECO,
		Event:    h.Event,
		White:    h.White,
		Black:    h.Black,
		PlyCount: h.PlyCount,
	}
}

// Execute resolves req against backend.
func Execute(backend Backend, req Request) (Response, error) {
	if err := validate(req); err != nil {
		return Response{}, err
	}
	classifications := classificationsOf(req)

	fetchChildren := false
	for _, opts := range []*FetchingOptions{req.Continuations, req.Transpositions, req.All} {
		if opts != nil && opts.FetchChildren {
			fetchChildren = true
		}
	}

	resp := Response{Token: req.Token}
	queue := newHeaderFetchQueue(backend)

	for _, rp := range req.Positions {
		items, err := expandPositions(rp.FEN, rp.Move, fetchChildren)
		if err != nil {
			return Response{}, fmt.Errorf("query: expanding %q: %w", rp.FEN, err)
		}

		pr := PositionResult{FEN: rp.FEN}

		var fullAgg, hashAgg map[chessmodel.Classification][]bucket
		needFull := req.Continuations != nil || req.Transpositions != nil
		needHash := req.Transpositions != nil || req.All != nil

		if needFull {
			fullAgg, err = computeAgg(backend, items, classifications, poskey.FullOrder)
			if err != nil {
				return Response{}, err
			}
		}
		if needHash {
			hashAgg, err = computeAgg(backend, items, classifications, poskey.HashOnlyOrder)
			if err != nil {
				return Response{}, err
			}
		}

		if req.Continuations != nil {
			pr.Continuations = buildCategory(items, classifications, fullAgg, *req.Continuations, queue, firstLastFull)
		}
		if req.All != nil {
			pr.All = buildCategory(items, classifications, hashAgg, *req.All, queue, firstLastRootOnly)
		}
		if req.Transpositions != nil {
			transAgg := subtractAgg(hashAgg, fullAgg, classifications, len(items))
			pr.Transpositions = buildCategory(items, classifications, transAgg, *req.Transpositions, queue, firstLastNone)
		}

		resp.Results = append(resp.Results, pr)
	}

	if err := queue.resolve(); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// subtractAgg computes Transpositions = All - Continuations: a derived
// category that only ever carries a count, since its
// "first"/"last" game is not well-defined over a set difference.
func subtractAgg(hashAgg, fullAgg map[chessmodel.Classification][]bucket, classifications []chessmodel.Classification, n int) map[chessmodel.Classification][]bucket {
	out := make(map[chessmodel.Classification][]bucket, len(classifications))
	for _, cl := range classifications {
		hb := hashAgg[cl]
		fb := fullAgg[cl]
		diff := make([]bucket, n)
		for i := 0; i < n; i++ {
			var h, f uint64
			if i < len(hb) {
				h = hb[i].agg.count
			}
			if i < len(fb) {
				f = fb[i].agg.count
			}
			if h > f {
				diff[i].agg.count = h - f
			}
		}
		out[cl] = diff
	}
	return out
}

// firstLastMode gates whether a category ever attaches a first/last game at
// all, and whether that extends to per-child fetches:
// Continuations has a real per-entry run position for both root and every
// child; All is a HashOnlyOrder union whose root-level boundary entries are
// still well-defined but whose per-child breakdown is not singled out from
// the union scan, so only the root fetch is honored; Transpositions is a
// derived count (All minus Continuations) with no underlying range at all,
// so it never carries a first/last game.
type firstLastMode int

const (
	firstLastNone firstLastMode = iota
	firstLastRootOnly
	firstLastFull
)

// buildCategory assembles one category's CategoryResult from per-item,
// per-classification buckets, queuing deferred header fetches for
// boundary games as requested.
func buildCategory(items []queryItem, classifications []chessmodel.Classification, agg map[chessmodel.Classification][]bucket, opts FetchingOptions, queue *headerFetchQueue, mode firstLastMode) CategoryResult {
	cr := make(CategoryResult, len(items))
	for i, it := range items {
		if i > 0 && !opts.FetchChildren {
			continue
		}
		me := make(MoveEntry, len(classifications))
		any := false
		for _, cl := range classifications {
			buckets := agg[cl]
			if i >= len(buckets) {
				continue
			}
			b := buckets[i]
			if b.agg.count == 0 {
				continue
			}
			any = true
			cc := &ClassificationCount{Count: b.agg.count}

			allowFirstLast := mode == firstLastFull || (mode == firstLastRootOnly && i == 0)
			wantFirst := (i == 0 && opts.FetchFirstGame) || (i > 0 && opts.FetchFirstGameForEachChild)
			wantLast := (i == 0 && opts.FetchLastGame) || (i > 0 && opts.FetchLastGameForEachChild)

			if allowFirstLast && wantFirst && b.firstGameSet {
				cc.FirstGame = queue.want(cl.Tier, b.agg.firstGameID)
			}
			if allowFirstLast && wantLast && b.lastSeen {
				cc.LastGame = queue.want(cl.Tier, b.agg.lastGameID)
			}
			me[levelResultKey(cl.Tier, cl.Outcome)] = cc
		}
		if any {
			cr[it.san] = me
		}
	}
	return cr
}
