package streamlog

import (
	"context"
	"time"
)

// Persistence is the storage surface the Resumable Stream Log needs for
// stream_chunks and stream_metadata (§6).
type Persistence interface {
	UpsertStreamMetadata(ctx context.Context, m Metadata) error
	GetActiveStreamMetadata(ctx context.Context) (*Metadata, error)
	InsertChunks(ctx context.Context, chunks []Chunk) error
	ListChunks(ctx context.Context, streamID string) ([]Chunk, error)
	MaxChunkIndex(ctx context.Context, streamID string) (int, error)
	DeleteStream(ctx context.Context, streamID string) error
	DeleteStreamsOlderThan(ctx context.Context, status Status, cutoff time.Time) error
	DeleteAllStreams(ctx context.Context) error
}
