package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/eternisai/chatcore/internal/store/sqlite"
	"github.com/eternisai/chatcore/internal/streamlog"
)

func TestOpen_CreatesNestedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	store, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
}

func TestMessages_InsertListUpdate(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.InsertMessage(ctx, "m1", []byte(`{"role":"user"}`)); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if err := store.InsertMessage(ctx, "m2", []byte(`{"role":"assistant"}`)); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	msgs, err := store.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	if err := store.UpdateMessage(ctx, "m1", []byte(`{"role":"user","edited":true}`)); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	msgs, err = store.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if string(msgs[0].Payload) != `{"role":"user","edited":true}` {
		t.Fatalf("update did not persist: %+v", msgs[0])
	}

	if err := store.UpdateMessage(ctx, "missing", []byte(`{}`)); err == nil {
		t.Fatal("expected error updating a message that does not exist")
	}

	if err := store.DeleteAllMessages(ctx); err != nil {
		t.Fatalf("DeleteAllMessages: %v", err)
	}
	msgs, err = store.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages after DeleteAllMessages, got %d", len(msgs))
	}
}

func TestStreams_MetadataAndChunks(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	if got, err := store.GetActiveStreamMetadata(ctx); err != nil || got != nil {
		t.Fatalf("expected no active stream on a fresh store, got %+v, err %v", got, err)
	}

	meta := streamlog.Metadata{
		StreamID:  "s1",
		RequestID: "r1",
		Status:    streamlog.StatusStreaming,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.UpsertStreamMetadata(ctx, meta); err != nil {
		t.Fatalf("UpsertStreamMetadata: %v", err)
	}

	active, err := store.GetActiveStreamMetadata(ctx)
	if err != nil {
		t.Fatalf("GetActiveStreamMetadata: %v", err)
	}
	if active == nil || active.StreamID != "s1" || active.Status != streamlog.StatusStreaming {
		t.Fatalf("unexpected active metadata: %+v", active)
	}

	if idx, err := store.MaxChunkIndex(ctx, "s1"); err != nil || idx != -1 {
		t.Fatalf("expected -1 for empty stream, got %d, err %v", idx, err)
	}

	chunks := []streamlog.Chunk{
		{ChunkID: "c1", StreamID: "s1", Body: []byte("hello "), ChunkIndex: 0, CreatedAt: time.Now().UTC()},
		{ChunkID: "c2", StreamID: "s1", Body: []byte("world"), ChunkIndex: 1, CreatedAt: time.Now().UTC()},
	}
	if err := store.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	got, err := store.ListChunks(ctx, "s1")
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(got) != 2 || got[0].ChunkIndex != 0 || got[1].ChunkIndex != 1 {
		t.Fatalf("chunks not in order: %+v", got)
	}

	if idx, err := store.MaxChunkIndex(ctx, "s1"); err != nil || idx != 1 {
		t.Fatalf("expected max index 1, got %d, err %v", idx, err)
	}

	meta.Status = streamlog.StatusCompleted
	if err := store.UpsertStreamMetadata(ctx, meta); err != nil {
		t.Fatalf("UpsertStreamMetadata completed: %v", err)
	}
	if active, err := store.GetActiveStreamMetadata(ctx); err != nil || active != nil {
		t.Fatalf("expected no active stream once completed, got %+v, err %v", active, err)
	}

	if err := store.DeleteStream(ctx, "s1"); err != nil {
		t.Fatalf("DeleteStream: %v", err)
	}
	if got, err := store.ListChunks(ctx, "s1"); err != nil || len(got) != 0 {
		t.Fatalf("expected no chunks after DeleteStream, got %+v, err %v", got, err)
	}
}
