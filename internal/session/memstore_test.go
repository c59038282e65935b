package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eternisai/chatcore/internal/message"
	"github.com/eternisai/chatcore/internal/streamlog"
)

// memMessagePersistence is an in-memory message.Persistence used only
// by this package's tests, mirroring the teacher's hand-rolled mock
// types in internal/streaming/session_test.go rather than a generated
// mock library.
type memMessagePersistence struct {
	mu   sync.Mutex
	rows map[string][]byte
	seq  int64
}

func newMemMessagePersistence() *memMessagePersistence {
	return &memMessagePersistence{rows: make(map[string][]byte)}
}

func (m *memMessagePersistence) InsertMessage(ctx context.Context, id string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id] = payload
	m.seq++
	return nil
}

func (m *memMessagePersistence) UpdateMessage(ctx context.Context, id string, payload []byte) error {
	return m.InsertMessage(ctx, id, payload)
}

func (m *memMessagePersistence) ListMessages(ctx context.Context) ([]message.StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]message.StoredMessage, 0, len(m.rows))
	for id, payload := range m.rows {
		out = append(out, message.StoredMessage{ID: id, Payload: payload})
	}
	return out, nil
}

func (m *memMessagePersistence) DeleteAllMessages(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[string][]byte)
	return nil
}

// memStreamPersistence is an in-memory streamlog.Persistence for tests.
type memStreamPersistence struct {
	mu     sync.Mutex
	meta   map[string]streamlog.Metadata
	chunks map[string][]streamlog.Chunk
}

func newMemStreamPersistence() *memStreamPersistence {
	return &memStreamPersistence{
		meta:   make(map[string]streamlog.Metadata),
		chunks: make(map[string][]streamlog.Chunk),
	}
}

func (m *memStreamPersistence) UpsertStreamMetadata(ctx context.Context, md streamlog.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[md.StreamID] = md
	return nil
}

func (m *memStreamPersistence) GetActiveStreamMetadata(ctx context.Context) (*streamlog.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, md := range m.meta {
		if md.Status == streamlog.StatusStreaming {
			cp := md
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStreamPersistence) InsertChunks(ctx context.Context, chunks []streamlog.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.StreamID] = append(m.chunks[c.StreamID], c)
	}
	return nil
}

func (m *memStreamPersistence) ListChunks(ctx context.Context, streamID string) ([]streamlog.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]streamlog.Chunk(nil), m.chunks[streamID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *memStreamPersistence) MaxChunkIndex(ctx context.Context, streamID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := -1
	for _, c := range m.chunks[streamID] {
		if c.ChunkIndex > max {
			max = c.ChunkIndex
		}
	}
	return max, nil
}

func (m *memStreamPersistence) DeleteStream(ctx context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.meta, streamID)
	delete(m.chunks, streamID)
	return nil
}

func (m *memStreamPersistence) DeleteStreamsOlderThan(ctx context.Context, status streamlog.Status, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, md := range m.meta {
		if md.Status == status && md.CreatedAt.Before(cutoff) {
			delete(m.meta, id)
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *memStreamPersistence) DeleteAllStreams(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = make(map[string]streamlog.Metadata)
	m.chunks = make(map[string][]streamlog.Chunk)
	return nil
}
