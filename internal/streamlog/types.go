// Package streamlog implements the Resumable Stream Log (spec §4.2): a
// write-ahead log of emitted chunks per active stream, with lifecycle
// metadata and a bounded in-memory buffer, grounded on the teacher's
// internal/streaming session chunk buffering (storeChunk/broadcast) and
// manager.go's expiry sweep.
package streamlog

import "time"

// Status is a stream's lifecycle state (§3).
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Metadata is one row of stream_metadata (§6).
type Metadata struct {
	StreamID    string
	RequestID   string
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Chunk is one row of stream_chunks (§6). Body is the opaque serialized
// chunk payload (the JSON-encoded chunkbuilder.Chunk in this module).
type Chunk struct {
	ChunkID    string
	StreamID   string
	Body       []byte
	ChunkIndex int
	CreatedAt  time.Time
}

// Limits configures buffering/flush/retention thresholds (§4.2, §5
// "Memory"). Defaults mirror the teacher's maxChunks/maxChunkSize
// constants in internal/streaming/session.go, retargeted to this log's
// buffer-then-flush-batch design rather than an unbounded slice.
type Limits struct {
	// MaxChunkBytes is the per-row byte cap; oversized bodies are
	// dropped from the log but still broadcast live (§4.2 store,
	// invariant in §7 "Oversized chunks").
	MaxChunkBytes int
	// FlushThreshold is the buffered-chunk count that triggers a flush
	// to persistent storage, run synchronously inside Store.
	FlushThreshold int
	// HardCap is the buffered-chunk count that forces an immediate
	// synchronous flush mid-burst (§5 "Memory").
	HardCap int
	// Retention is how long completed/errored stream rows are kept
	// before periodic cleanup removes them (§4.2 complete()).
	Retention time.Duration
	// StaleThreshold is how old a "streaming" stream found at restore()
	// must be before it is considered stale and deleted (§3 Lifecycles,
	// §4.4.6).
	StaleThreshold time.Duration
}

// DefaultLimits mirrors the teacher's constants (maxChunks=10000,
// maxChunkSize=1MB) scaled down to a batch-flush design: the hard cap
// here bounds one in-memory burst, not the whole stream's lifetime,
// since flushed chunks are durable and freed from the buffer.
func DefaultLimits() Limits {
	return Limits{
		MaxChunkBytes:  1 << 20, // 1MB, matches teacher's maxChunkSize
		FlushThreshold: 64,
		HardCap:        512,
		Retention:      24 * time.Hour,
		StaleThreshold: 10 * time.Minute,
	}
}

// TuningFile is the YAML-loadable override of DefaultLimits (operators
// tune these per deployment without touching env vars, the way the
// teacher's ModelRouterConfig is layered on top of env-derived config).
// Zero fields fall back to the matching DefaultLimits() value.
type TuningFile struct {
	MaxChunkKB     int    `yaml:"max_chunk_kb"`
	FlushThreshold int    `yaml:"flush_threshold"`
	HardCap        int    `yaml:"hard_cap"`
	RetentionHours int    `yaml:"retention_hours"`
	StaleMinutes   int    `yaml:"stale_minutes"`
}

// ToLimits overlays non-zero TuningFile fields onto DefaultLimits().
func (t TuningFile) ToLimits() Limits {
	l := DefaultLimits()
	if t.MaxChunkKB > 0 {
		l.MaxChunkBytes = t.MaxChunkKB << 10
	}
	if t.FlushThreshold > 0 {
		l.FlushThreshold = t.FlushThreshold
	}
	if t.HardCap > 0 {
		l.HardCap = t.HardCap
	}
	if t.RetentionHours > 0 {
		l.Retention = time.Duration(t.RetentionHours) * time.Hour
	}
	if t.StaleMinutes > 0 {
		l.StaleThreshold = time.Duration(t.StaleMinutes) * time.Minute
	}
	return l
}
