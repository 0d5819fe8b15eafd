// Package config holds the explicit configuration threaded through database
// construction. There are no package-level globals read at init time; every
// component receives its knobs through the Config it was built with.
package config

import "time"

// Config bundles every tunable the engine exposes. There is no package-level
// default instance; callers get one from Default() and layer Options on top of it.
type Config struct {
	// IndexGranularity is G: the maximum number of entries a range-index tuple may
	// cover, except when it spans a run of equal-valued keys.
	IndexGranularity uint64

	// MaxMergeBufferSizeBytes is M: the size of the in-memory buffer external sort
	// fills, sorts, and spills as one run.
	MaxMergeBufferSizeBytes uint64

	// PGNParserMemoryBytes bounds the memory the PGN parsing stage may use per
	// producer worker (forwarded to the external parser; not enforced here).
	PGNParserMemoryBytes uint64

	// PoolMaxOpenFiles caps concurrently open "pooled" OS handles.
	PoolMaxOpenFiles uint32

	// DirectMaxOpenFiles caps concurrently open "direct" (unpooled) OS handles.
	DirectMaxOpenFiles uint32

	// IOThreadpoolSize is the number of workers servicing async read/append jobs.
	IOThreadpoolSize uint32

	// MergeMaxFanIn is F: the maximum number of runs merged directly before the
	// external merge recurses into a balanced merge tree.
	MergeMaxFanIn uint32

	// MergePriorityQueueThreshold is the fan-in above which the direct merge uses a
	// priority queue instead of a linear scan over candidates.
	MergePriorityQueueThreshold uint32

	// SequentialReadMaxBytes is the window size below which the keyed lookup engine
	// reads the whole window and searches it in memory instead of interpolating.
	SequentialReadMaxBytes uint32

	// SyncInterval is how often a partition's outstanding writes are fsynced in the
	// background.
	SyncInterval time.Duration

	// VerifyHashes enables the optional 128-bit hash collision verification mode:
	// store the raw board alongside ingested entries and cross-check a sample
	// back on query.
	VerifyHashes bool
}

const (
	defaultIndexGranularity            = 1 << 12
	defaultMaxMergeBufferSizeBytes     = 256 << 20
	defaultPGNParserMemoryBytes        = 64 << 20
	defaultPoolMaxOpenFiles            = 256
	defaultDirectMaxOpenFiles          = 128
	defaultIOThreadpoolSize            = 8
	defaultMergeMaxFanIn               = 192
	defaultMergePriorityQueueThreshold = 32
	defaultSequentialReadMaxBytes      = 32 * 1024
	defaultSyncInterval                = time.Second
)

// Default returns the stock configuration.
func Default() Config {
	return Config{
		IndexGranularity:            defaultIndexGranularity,
		MaxMergeBufferSizeBytes:     defaultMaxMergeBufferSizeBytes,
		PGNParserMemoryBytes:        defaultPGNParserMemoryBytes,
		PoolMaxOpenFiles:            defaultPoolMaxOpenFiles,
		DirectMaxOpenFiles:          defaultDirectMaxOpenFiles,
		IOThreadpoolSize:            defaultIOThreadpoolSize,
		MergeMaxFanIn:               defaultMergeMaxFanIn,
		MergePriorityQueueThreshold: defaultMergePriorityQueueThreshold,
		SequentialReadMaxBytes:      defaultSequentialReadMaxBytes,
		SyncInterval:                defaultSyncInterval,
	}
}

// Option mutates a Config; options layer on top of Default().
type Option func(*Config)

// Apply layers opts on top of c in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func WithIndexGranularity(g uint64) Option {
	return func(c *Config) { c.IndexGranularity = g }
}

func WithMaxMergeBufferSizeBytes(n uint64) Option {
	return func(c *Config) { c.MaxMergeBufferSizeBytes = n }
}

func WithPoolMaxOpenFiles(n uint32) Option {
	return func(c *Config) { c.PoolMaxOpenFiles = n }
}

func WithDirectMaxOpenFiles(n uint32) Option {
	return func(c *Config) { c.DirectMaxOpenFiles = n }
}

func WithIOThreadpoolSize(n uint32) Option {
	return func(c *Config) { c.IOThreadpoolSize = n }
}

func WithMergeMaxFanIn(n uint32) Option {
	return func(c *Config) { c.MergeMaxFanIn = n }
}

func WithSequentialReadMaxBytes(n uint32) Option {
	return func(c *Config) { c.SequentialReadMaxBytes = n }
}

func WithVerifyHashes(yes bool) Option {
	return func(c *Config) { c.VerifyHashes = yes }
}
