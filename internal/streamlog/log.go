package streamlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eternisai/chatcore/internal/metrics"
)

// Log is the Resumable Stream Log for one session. It is not safe for
// concurrent use by multiple goroutines beyond the single-threaded
// cooperative Controller task that owns it (§5): the Controller
// serializes all access.
type Log struct {
	persist Persistence
	limits  Limits
	now     func() time.Time

	active     *Metadata
	buffer     []Chunk
	nextIndex  int
	flushingMu sync.Mutex // guards the non-reentrant flush flag only
	flushing   bool
	live       bool
}

func New(persist Persistence, limits Limits) *Log {
	return &Log{
		persist: persist,
		limits:  limits,
		now:     time.Now,
		live:    true,
	}
}

// Start finalizes any still-active prior stream, allocates a fresh
// streamId, and resets the per-stream monotonic index (§4.2 start()).
// §3 requires the Controller to flush and finalize a prior stream
// itself (via Complete/MarkError) before calling Start again; the
// finalize-as-error here is a backstop so a caller that skips that step
// can never leave a stream_metadata row stuck at status=streaming.
func (l *Log) Start(ctx context.Context, requestID string) (string, error) {
	if l.active != nil {
		if err := l.finish(ctx, l.active.StreamID, StatusError); err != nil {
			return "", fmt.Errorf("finalize prior stream before start: %w", err)
		}
	}
	streamID := uuid.NewString()
	now := l.now()
	l.active = &Metadata{
		StreamID:  streamID,
		RequestID: requestID,
		Status:    StatusStreaming,
		CreatedAt: now,
	}
	l.buffer = nil
	l.nextIndex = 0
	l.live = true
	if err := l.persist.UpsertStreamMetadata(ctx, *l.active); err != nil {
		return "", fmt.Errorf("record stream metadata: %w", err)
	}
	return streamID, nil
}

// Store appends a chunk to the in-memory buffer. Oversized bodies are
// dropped from the log (still broadcast live by the caller) per §4.2/§7.
// Returns whether the chunk was retained in the log (false = dropped,
// i.e. "late joiners see a hole").
func (l *Log) Store(ctx context.Context, streamID string, body []byte) (bool, error) {
	if l.active == nil || l.active.StreamID != streamID {
		return false, fmt.Errorf("store: no active stream %s", streamID)
	}
	if len(body) > l.limits.MaxChunkBytes {
		l.nextIndex++ // index still advances; the hole is documented, not silently compacted
		metrics.ChunksDroppedTotal.Inc()
		return false, nil
	}
	c := Chunk{
		ChunkID:    uuid.NewString(),
		StreamID:   streamID,
		Body:       body,
		ChunkIndex: l.nextIndex,
		CreatedAt:  l.now(),
	}
	l.nextIndex++
	l.buffer = append(l.buffer, c)
	metrics.ChunksStoredTotal.Inc()

	if len(l.buffer) >= l.limits.HardCap {
		if err := l.flush(ctx); err != nil {
			return true, err
		}
	} else if len(l.buffer) >= l.limits.FlushThreshold {
		if err := l.flush(ctx); err != nil {
			return true, err
		}
	}
	return true, nil
}

// flush is non-reentrant: a flush-in-progress flag prevents concurrent
// writes (§4.2). Because the Controller is single-threaded (§5) this
// mainly guards against a flush triggered from within another flush's
// completion callback, not genuine goroutine races.
func (l *Log) flush(ctx context.Context) error {
	l.flushingMu.Lock()
	if l.flushing {
		l.flushingMu.Unlock()
		return nil
	}
	l.flushing = true
	l.flushingMu.Unlock()
	defer func() {
		l.flushingMu.Lock()
		l.flushing = false
		l.flushingMu.Unlock()
	}()

	if len(l.buffer) == 0 {
		return nil
	}
	if err := l.persist.InsertChunks(ctx, l.buffer); err != nil {
		return fmt.Errorf("flush chunks: %w", err)
	}
	l.buffer = nil
	return nil
}

// Complete flushes, transitions metadata to completed, clears active
// state, and runs retention cleanup (§4.2 complete()).
func (l *Log) Complete(ctx context.Context, streamID string) error {
	return l.finish(ctx, streamID, StatusCompleted)
}

// MarkError flushes, transitions to error, and clears active state
// (§4.2 markError()).
func (l *Log) MarkError(ctx context.Context, streamID string) error {
	return l.finish(ctx, streamID, StatusError)
}

func (l *Log) finish(ctx context.Context, streamID string, status Status) error {
	if l.active == nil || l.active.StreamID != streamID {
		return fmt.Errorf("finish: no active stream %s", streamID)
	}
	if err := l.flush(ctx); err != nil {
		return err
	}
	now := l.now()
	l.active.Status = status
	l.active.CompletedAt = &now
	if err := l.persist.UpsertStreamMetadata(ctx, *l.active); err != nil {
		return fmt.Errorf("finalize stream metadata: %w", err)
	}
	l.active = nil
	l.buffer = nil
	return l.Cleanup(ctx)
}

// Cleanup removes completed/errored streams older than the retention
// threshold (§4.2 complete(): "periodically triggers cleanup").
func (l *Log) Cleanup(ctx context.Context) error {
	cutoff := l.now().Add(-l.limits.Retention)
	if err := l.persist.DeleteStreamsOlderThan(ctx, StatusCompleted, cutoff); err != nil {
		return fmt.Errorf("cleanup completed streams: %w", err)
	}
	if err := l.persist.DeleteStreamsOlderThan(ctx, StatusError, cutoff); err != nil {
		return fmt.Errorf("cleanup errored streams: %w", err)
	}
	return nil
}

// Replay flushes, then sends every stored chunk for streamID to conn in
// ascending index order, tagged replay=true (§4.2 replay()). The caller
// (Controller) supplies the Outbound-frame construction; Replay here
// just yields raw rows via the callback to keep this package free of a
// wire dependency.
func (l *Log) Replay(ctx context.Context, streamID string, send func(Chunk) error) error {
	if l.active != nil && l.active.StreamID == streamID {
		if err := l.flush(ctx); err != nil {
			return err
		}
	}
	chunks, err := l.persist.ListChunks(ctx, streamID)
	if err != nil {
		return fmt.Errorf("replay: list chunks: %w", err)
	}
	for _, c := range chunks {
		if err := send(c); err != nil {
			return err
		}
	}
	return nil
}

// IsLive reports whether the active stream has a live producer attached
// (false right after restore(), until a new model invocation attaches,
// §4.4.6).
func (l *Log) IsLive() bool { return l.live }

// SetLive marks the active stream as having a live producer.
func (l *Log) SetLive(live bool) { l.live = live }

// Active returns the current active stream metadata, if any.
func (l *Log) Active() (Metadata, bool) {
	if l.active == nil {
		return Metadata{}, false
	}
	return *l.active, true
}

// Restore locates the most recent streaming stream on session wake
// (§4.2 restore(), §4.4.6). If stale, it is deleted and Restore reports
// no active stream. Otherwise active state is re-populated with
// live=false and nextIndex set to max(chunkIndex)+1.
func (l *Log) Restore(ctx context.Context) error {
	m, err := l.persist.GetActiveStreamMetadata(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if m == nil {
		l.active = nil
		return nil
	}
	if l.now().Sub(m.CreatedAt) > l.limits.StaleThreshold {
		if err := l.persist.DeleteStream(ctx, m.StreamID); err != nil {
			return fmt.Errorf("restore: delete stale stream: %w", err)
		}
		metrics.StaleStreamsDeletedTotal.Inc()
		l.active = nil
		return nil
	}
	maxIdx, err := l.persist.MaxChunkIndex(ctx, m.StreamID)
	if err != nil {
		return fmt.Errorf("restore: max chunk index: %w", err)
	}
	l.active = m
	l.nextIndex = maxIdx + 1
	l.buffer = nil
	l.live = false
	return nil
}

// ClearAll drops all chunks, metadata, active state, and the buffer
// (§4.2 clearAll(), §4.4.8 chat-clear).
func (l *Log) ClearAll(ctx context.Context) error {
	if err := l.persist.DeleteAllStreams(ctx); err != nil {
		return fmt.Errorf("clear all streams: %w", err)
	}
	l.active = nil
	l.buffer = nil
	l.nextIndex = 0
	l.live = true
	return nil
}
