package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/eternisai/chatcore/internal/chunkbuilder"
	"github.com/eternisai/chatcore/internal/connset"
	"github.com/eternisai/chatcore/internal/logger"
	"github.com/eternisai/chatcore/internal/message"
	"github.com/eternisai/chatcore/internal/modeldriver"
	"github.com/eternisai/chatcore/internal/streamlog"
	"github.com/eternisai/chatcore/internal/wire"
)

func newTestController(t *testing.T, driver modeldriver.Driver) *Controller {
	t.Helper()
	store := message.NewStore(newMemMessagePersistence(), message.JSONCodec{})
	log := streamlog.New(newMemStreamPersistence(), streamlog.DefaultLimits())
	conns := connset.NewSet(slog.Default())
	lg := &logger.Logger{Logger: slog.Default()}
	return New("test-session", store, log, conns, driver, lg)
}

func drainAssistantFrames(conn *connset.Connection, count int, timeout time.Duration) []wire.Outbound {
	var out []wire.Outbound
	deadline := time.After(timeout)
	for len(out) < count {
		select {
		case f := <-conn.Out:
			out = append(out, f)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestHandleChatRequestHappyPath(t *testing.T) {
	driver := &modeldriver.Fake{Chunks: []chunkbuilder.Chunk{
		{Kind: chunkbuilder.KindTextStart},
		{Kind: chunkbuilder.KindTextDelta, Delta: "hi"},
		{Kind: chunkbuilder.KindTextEnd},
	}}
	c := newTestController(t, driver)
	conn := connset.NewConnection("conn-1", 64)
	c.AttachConnection(conn)

	c.HandleChatRequest(context.Background(), wire.Inbound{
		Type: wire.TypeChatRequest,
		ID:   "req-1",
		Init: &wire.ChatRequestInit{Body: wire.RequestBody{
			Messages: []message.Message{{ID: "u1", Role: message.RoleUser, Parts: []message.Part{{Type: message.PartText, Text: "hello"}}}},
		}},
	})

	frames := drainAssistantFrames(conn, 5, 2*time.Second)
	var sawDone bool
	for _, f := range frames {
		if f.Done {
			sawDone = true
		}
	}
	if !sawDone {
		t.Fatalf("expected a terminal done frame, got %d frames: %+v", len(frames), frames)
	}

	last, ok := c.store.LastAssistant()
	if !ok {
		t.Fatal("expected an assistant message to be persisted")
	}
	if len(last.Parts) != 1 || last.Parts[0].Text != "hi" {
		t.Fatalf("unexpected persisted parts: %+v", last.Parts)
	}
	if last.Parts[0].State != message.StateDone {
		t.Fatalf("expected terminal state, got %s", last.Parts[0].State)
	}
}

func TestHandleToolResultMergesIntoStoredToolPart(t *testing.T) {
	driver := &modeldriver.Fake{Chunks: []chunkbuilder.Chunk{
		{Kind: chunkbuilder.KindToolInStart, ToolCallID: "call-1", ToolName: "lookup"},
		{Kind: chunkbuilder.KindToolInAvail, ToolCallID: "call-1", ToolName: "lookup", Input: map[string]any{"q": "x"}},
	}}
	c := newTestController(t, driver)
	conn := connset.NewConnection("conn-1", 64)
	c.AttachConnection(conn)

	c.HandleChatRequest(context.Background(), wire.Inbound{
		Type: wire.TypeChatRequest,
		ID:   "req-1",
		Init: &wire.ChatRequestInit{Body: wire.RequestBody{
			Messages: []message.Message{{ID: "u1", Role: message.RoleUser, Parts: []message.Part{{Type: message.PartText, Text: "do it"}}}},
		}},
	})
	drainAssistantFrames(conn, 5, 2*time.Second)

	c.HandleToolResult(context.Background(), wire.Inbound{
		Type:       wire.TypeToolResult,
		ToolCallID: "call-1",
		Output:     map[string]any{"result": "ok"},
	})

	msg, ok := c.store.LastAssistant()
	if !ok {
		t.Fatal("expected assistant message")
	}
	idx := msg.FindToolPart("call-1")
	if idx < 0 {
		t.Fatal("expected tool part to exist")
	}
	if msg.Parts[idx].State != message.StateOutputAvailable {
		t.Fatalf("expected output-available, got %s", msg.Parts[idx].State)
	}
}

func TestHandleToolResultOnTerminalToolIsDropped(t *testing.T) {
	c := newTestController(t, &modeldriver.Fake{})
	msg := message.Message{ID: "a1", Role: message.RoleAssistant, Parts: []message.Part{
		{Type: message.ToolType("lookup"), ToolCallID: "call-1", State: message.StateOutputAvailable, Output: "first"},
	}}
	if err := c.store.Append(context.Background(), msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	c.HandleToolResult(context.Background(), wire.Inbound{
		Type:       wire.TypeToolResult,
		ToolCallID: "call-1",
		Output:     "second",
	})

	got, _ := c.store.Get("a1")
	if got.Parts[0].Output != "first" {
		t.Fatalf("expected terminal tool output to be left untouched, got %v", got.Parts[0].Output)
	}
}

func TestHandleChatClearEmptiesStoreAndBroadcasts(t *testing.T) {
	c := newTestController(t, &modeldriver.Fake{})
	conn := connset.NewConnection("conn-1", 64)
	c.AttachConnection(conn)

	if err := c.store.Append(context.Background(), message.Message{ID: "m1", Role: message.RoleUser, Parts: []message.Part{{Type: message.PartText, Text: "hi"}}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	c.HandleChatClear(context.Background())

	if len(c.store.All()) != 0 {
		t.Fatalf("expected empty store after clear, got %d messages", len(c.store.All()))
	}
	select {
	case f := <-conn.Out:
		if f.Type != wire.TypeChatClear {
			t.Fatalf("expected chat-clear frame, got %s", f.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a chat-clear broadcast")
	}
}

func TestHandleChatMessagesReconcilesAndBroadcasts(t *testing.T) {
	c := newTestController(t, &modeldriver.Fake{})
	conn := connset.NewConnection("conn-1", 64)
	c.AttachConnection(conn)

	stored := message.Message{ID: "a1", Role: message.RoleAssistant, Parts: []message.Part{
		{Type: message.ToolType("lookup"), ToolCallID: "call-1", State: message.StateOutputAvailable, Output: "final"},
	}}
	if err := c.store.Append(context.Background(), stored); err != nil {
		t.Fatalf("append: %v", err)
	}

	stale := message.Message{ID: "client-a1", Role: message.RoleAssistant, Parts: []message.Part{
		{Type: message.ToolType("lookup"), ToolCallID: "call-1", State: message.StateInputAvailable},
	}}
	c.HandleChatMessages(context.Background(), wire.Inbound{Type: wire.TypeChatMessages, Messages: []message.Message{stale}})

	merged := c.store.All()
	if len(merged) != 1 {
		t.Fatalf("expected one reconciled message, got %d", len(merged))
	}
	if merged[0].ID != "a1" {
		t.Fatalf("expected stored id to win, got %s", merged[0].ID)
	}
	if merged[0].Parts[0].State != message.StateOutputAvailable {
		t.Fatalf("expected server's further-along state to survive, got %s", merged[0].Parts[0].State)
	}

	select {
	case f := <-conn.Out:
		if f.Type != wire.TypeChatMessages {
			t.Fatalf("expected chat-messages broadcast, got %s", f.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a chat-messages broadcast")
	}
}

func TestHandleResumeRequestUnknownHasNoEffect(t *testing.T) {
	c := newTestController(t, &modeldriver.Fake{})
	conn := connset.NewConnection("conn-1", 64)
	c.AttachConnection(conn)

	c.HandleResumeRequest(context.Background(), conn, wire.Inbound{Type: wire.TypeResumeReq})

	select {
	case f := <-conn.Out:
		t.Fatalf("expected no frame when no stream is active, got %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

// blockingDriver emits a fixed pair of chunks, then blocks until ctx is
// cancelled (reporting the cancellation as a graceful stop) instead of
// draining further chunks. Used to hold a stream "active" under test
// control, the way the teacher's slowMockReadCloser holds an upstream
// read open until the test is ready to proceed.
type blockingDriver struct{}

func (d *blockingDriver) Stream(ctx context.Context, _ modeldriver.Request) (<-chan chunkbuilder.Chunk, <-chan error) {
	out := make(chan chunkbuilder.Chunk)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		out <- chunkbuilder.Chunk{Kind: chunkbuilder.KindTextStart}
		out <- chunkbuilder.Chunk{Kind: chunkbuilder.KindTextDelta, Delta: "partial"}
		<-ctx.Done()
		errc <- ctx.Err()
	}()
	return out, errc
}

// TestHandleChatRequestPreemptsPriorActiveStream covers §3's flush-and-
// finalize obligation: a second chat-request arriving without an
// intervening chat-cancel must finalize the first stream (persisting
// its partial parts and sending its terminal frame) rather than
// orphaning it, then proceed with the second as the new active stream.
func TestHandleChatRequestPreemptsPriorActiveStream(t *testing.T) {
	driver := &blockingDriver{}
	c := newTestController(t, driver)
	conn := connset.NewConnection("conn-1", 64)
	c.AttachConnection(conn)
	t.Cleanup(func() { c.HandleChatCancel("req-2") })

	c.HandleChatRequest(context.Background(), wire.Inbound{
		Type: wire.TypeChatRequest,
		ID:   "req-1",
		Init: &wire.ChatRequestInit{Body: wire.RequestBody{
			Messages: []message.Message{{ID: "u1", Role: message.RoleUser, Parts: []message.Part{{Type: message.PartText, Text: "first"}}}},
		}},
	})

	// Drain req-1's start/text-start/text-delta frames. Reading the
	// delta frame off the channel establishes happens-before with the
	// broadcastLocked call that sent it, which only runs after
	// chunkbuilder.Apply has folded the delta into c.activeParts under
	// c.mu — so by the time this returns, preempting req-1 is
	// guaranteed to see "partial" already accumulated.
	setup := drainAssistantFrames(conn, 3, 2*time.Second)
	if len(setup) != 3 {
		t.Fatalf("expected 3 setup frames for req-1, got %d: %+v", len(setup), setup)
	}

	firstStreamID := c.Snapshot().ActiveStreamID
	if firstStreamID == "" {
		t.Fatal("expected the first stream to be active")
	}

	c.HandleChatRequest(context.Background(), wire.Inbound{
		Type: wire.TypeChatRequest,
		ID:   "req-2",
		Init: &wire.ChatRequestInit{Body: wire.RequestBody{
			Messages: []message.Message{{ID: "u2", Role: message.RoleUser, Parts: []message.Part{{Type: message.PartText, Text: "second"}}}},
		}},
	})

	frames := drainAssistantFrames(conn, 4, 2*time.Second)
	var sawFirstDone bool
	for _, f := range frames {
		if f.ID == "req-1" && f.Done {
			sawFirstDone = true
		}
	}
	if !sawFirstDone {
		t.Fatalf("expected the preempted stream's terminal frame, got %+v", frames)
	}

	if snap := c.Snapshot(); snap.ActiveRequestID != "req-2" {
		t.Fatalf("expected req-2 to be the active request, got %q", snap.ActiveRequestID)
	}

	all := c.store.All()
	if len(all) != 2 {
		t.Fatalf("expected user message + preempted assistant message persisted, got %d: %+v", len(all), all)
	}
	last, ok := c.store.LastAssistant()
	if !ok {
		t.Fatal("expected the preempted stream's assistant message to be persisted")
	}
	if len(last.Parts) != 1 || last.Parts[0].Text != "partial" {
		t.Fatalf("expected the preempted stream's partial text to survive, got %+v", last.Parts)
	}
	if last.Parts[0].State != message.StateDone {
		t.Fatalf("expected the preempted part to be finalized to done, got %s", last.Parts[0].State)
	}

	meta, ok := c.log.Active()
	if !ok || meta.StreamID != c.Snapshot().ActiveStreamID {
		t.Fatal("expected the stream log's active metadata to point at req-2's stream")
	}
	if meta.StreamID == firstStreamID {
		t.Fatal("expected the first stream to no longer be the log's active stream")
	}
}

func TestHandleResumeAckForUnknownRequestIsIgnored(t *testing.T) {
	c := newTestController(t, &modeldriver.Fake{})
	conn := connset.NewConnection("conn-1", 64)
	c.AttachConnection(conn)

	// No pendingResume entry exists for this connection; the ACK must
	// be a silent no-op (§7 "Resume ACK for unknown request: ignored").
	c.HandleResumeAck(context.Background(), conn, wire.Inbound{Type: wire.TypeResumeAck, ID: "ghost"})

	select {
	case f := <-conn.Out:
		t.Fatalf("expected no frame for an unknown resume ack, got %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}
