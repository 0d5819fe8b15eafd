package query

import (
	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/headerstore"
	"github.com/Sopel97/chess-pos-db-sub001/partition"
)

// Backend is the storage side the query engine needs: resolving a
// classification to its partition and a tier to its header store. Both of
// db's format-A and format-B databases satisfy it directly (they already
// implement ingest.Sink, whose PartitionFor/HeaderStoreFor methods have
// the identical shape).
type Backend interface {
	PartitionFor(cl chessmodel.Classification) *partition.Partition
	HeaderStoreFor(tier chessmodel.Tier) *headerstore.Store
	// FiltersByClassification reports whether PartitionFor returns a
	// partition shared across multiple classifications (format-B, where
	// one partition holds every (tier, outcome) combination and a
	// HashOnlyOrder scan must decode each entry's tail to bucket it
	// correctly) or one exclusively scoped to a single classification
	// (format-A, where no such filtering is needed).
	FiltersByClassification() bool
}
