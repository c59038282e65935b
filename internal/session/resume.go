package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/eternisai/chatcore/internal/chunkbuilder"
	"github.com/eternisai/chatcore/internal/connset"
	"github.com/eternisai/chatcore/internal/message"
	"github.com/eternisai/chatcore/internal/metrics"
	"github.com/eternisai/chatcore/internal/streamlog"
	"github.com/eternisai/chatcore/internal/wire"
)

// HandleResumeRequest implements the first half of §4.4.6: if a stream
// is active (live or restored-but-orphaned), tell conn to expect a
// replay and mark it pending so the §4.4.6 skip rule withholds live
// broadcasts until the ACK arrives.
func (c *Controller) HandleResumeRequest(ctx context.Context, conn *connset.Connection, frame wire.Inbound) {
	c.mu.Lock()
	requestID := c.activeRequestID
	active := requestID != ""
	if active {
		c.pendingResume[conn.ID] = true
	}
	c.mu.Unlock()

	if !active {
		return
	}
	conn.Send(wire.Outbound{Type: wire.TypeStreamResuming, ID: requestID})
}

// HandleResumeAck implements the second half of §4.4.6: replay buffered
// chunks, then either hand off to the live stream or, for an orphaned
// hibernated stream, reconstruct and finalize the assistant message.
func (c *Controller) HandleResumeAck(ctx context.Context, conn *connset.Connection, frame wire.Inbound) {
	c.mu.Lock()
	if !c.pendingResume[conn.ID] || frame.ID != c.activeRequestID {
		// Resume ACK for unknown request: ignored (§7).
		c.mu.Unlock()
		return
	}
	requestID := c.activeRequestID
	streamID := c.activeStreamID
	assistantID := c.activeMessageID
	delete(c.pendingResume, conn.ID)
	c.mu.Unlock()

	var replayed []chunkbuilder.Chunk
	err := c.log.Replay(ctx, streamID, func(ch streamlog.Chunk) error {
		var decoded chunkbuilder.Chunk
		if jsonErr := json.Unmarshal(ch.Body, &decoded); jsonErr == nil {
			replayed = append(replayed, decoded)
		}
		return conn.SendBlocking(ctx, wire.NewReplayResponse(requestID, ch.Body, false))
	})
	if err != nil {
		c.lg.LogError(ctx, err, "replay failed")
		return
	}

	if c.log.IsLive() {
		conn.SendBlocking(ctx, wire.NewReplayCompleteSentinel(requestID))
		return
	}

	// Orphaned stream from hibernation (§4.4.6): reconstruct the
	// assistant message from the replayed chunks and finalize it here
	// since no live model invocation will ever produce a terminal frame
	// for it.
	c.finishOrphanedStream(ctx, requestID, streamID, assistantID, replayed, conn)
}

func (c *Controller) finishOrphanedStream(ctx context.Context, requestID, streamID, assistantID string, replayed []chunkbuilder.Chunk, conn *connset.Connection) {
	var parts []message.Part
	for _, ch := range replayed {
		chunkbuilder.Apply(&parts, ch)
	}
	finalizeTerminalStates(parts)

	if len(parts) > 0 {
		msg := message.Message{ID: assistantID, Role: message.RoleAssistant, Parts: parts}
		if err := c.store.Append(ctx, msg); err != nil {
			c.lg.LogError(ctx, err, "failed to persist reconstructed assistant message")
		}
	}
	if err := c.log.Complete(ctx, streamID); err != nil {
		c.lg.LogError(ctx, err, "failed to complete orphaned stream")
	}

	c.mu.Lock()
	if c.activeStreamID == streamID {
		c.clearActive()
	}
	c.mu.Unlock()

	conn.SendBlocking(ctx, wire.Outbound{Type: wire.TypeChatResponse, ID: requestID, Body: "", Done: true, Replay: true})
}

// Restore runs on session wake (§4.4.6, §9: "the session is a
// long-lived actor with an explicit restore() entry point"): it loads
// persisted messages and re-populates any in-flight stream's metadata
// with live = false.
func (c *Controller) Restore(ctx context.Context) error {
	if err := c.store.Load(ctx); err != nil {
		return err
	}
	if err := c.log.Restore(ctx); err != nil {
		return err
	}
	if active, ok := c.log.Active(); ok {
		c.mu.Lock()
		c.activeRequestID = active.RequestID
		c.activeStreamID = active.StreamID
		c.activeMessageID = c.lastStreamingMessageID()
		metrics.ActiveStreams.Inc()
		c.mu.Unlock()
		c.lg.Info("restored orphaned stream", slog.String("stream_id", active.StreamID))
	}
	return nil
}

// lastStreamingMessageID finds the assistant message (if any) whose
// parts are still mid-lifecycle, the one a restored orphaned stream was
// in the middle of writing. Absent a dedicated column for it in
// stream_metadata (§6's schema only carries stream/request id), this is
// the best reconstruction available: the most recent assistant message
// with a non-terminal part, or a fresh id if none qualifies.
func (c *Controller) lastStreamingMessageID() string {
	msgs := c.store.All()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != message.RoleAssistant {
			continue
		}
		for _, p := range msgs[i].Parts {
			if !message.IsTerminal(p.State) {
				return msgs[i].ID
			}
		}
		break
	}
	return newID()
}
