package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/eternisai/chatcore/internal/message"
	"github.com/eternisai/chatcore/internal/metrics"
	"github.com/eternisai/chatcore/internal/modeldriver"
	"github.com/eternisai/chatcore/internal/wire"
)

// HandleToolResult implements §4.4.3.
func (c *Controller) HandleToolResult(ctx context.Context, frame wire.Inbound) {
	msgID, idx, ok := c.findToolPartWithRetry(ctx, frame.ToolCallID)
	if !ok {
		c.lg.Warn("tool-result: toolCallId not found after retries, dropping",
			slog.String("tool_call_id", frame.ToolCallID))
		return
	}

	c.mu.Lock()
	msg, exists := c.store.Get(msgID)
	if !exists {
		c.mu.Unlock()
		return
	}
	part := &msg.Parts[idx]
	if message.IsTerminal(part.State) {
		// Guards against late races and replay (§4.4.3 step 2, §7
		// "already-terminal tool").
		c.mu.Unlock()
		return
	}

	if frame.State == string(message.StateOutputError) {
		part.State = message.StateOutputError
		errText := frame.ErrorText
		if errText == "" {
			errText = "tool execution failed"
		}
		part.ErrorText = errText
	} else {
		part.State = message.StateOutputAvailable
		part.Output = frame.Output
	}
	c.processedToolIDs[frame.ToolCallID] = true
	// Bound the per-session caches: drop entries whose toolCallId no
	// longer appears in any stored assistant message.
	for id := range c.processedToolIDs {
		if _, _, found := c.store.FindByToolCallID(id); !found {
			delete(c.processedToolIDs, id)
		}
	}
	for id := range c.clientToolOutputs {
		if _, _, found := c.store.FindByToolCallID(id); !found {
			delete(c.clientToolOutputs, id)
		}
	}

	if err := c.store.Put(ctx, msg); err != nil {
		c.mu.Unlock()
		c.lg.LogError(ctx, err, "failed to persist tool result merge")
		return
	}
	updated, _ := c.store.Get(msgID)
	c.broadcastLocked(wire.Outbound{Type: wire.TypeMessageUpdated, Message: &updated})

	shouldContinue := frame.AutoContinue && c.activeStreamID == ""
	c.mu.Unlock()

	if shouldContinue {
		c.spawnContinuation(ctx, msgID)
	}
}

// HandleToolApproval implements §4.4.4.
func (c *Controller) HandleToolApproval(ctx context.Context, frame wire.Inbound) {
	msgID, idx, ok := c.findToolPartWithRetry(ctx, frame.ToolCallID)
	if !ok {
		c.lg.Warn("tool-approval: toolCallId not found after retries, dropping",
			slog.String("tool_call_id", frame.ToolCallID))
		return
	}

	c.mu.Lock()
	msg, exists := c.store.Get(msgID)
	if !exists {
		c.mu.Unlock()
		return
	}
	part := &msg.Parts[idx]
	if part.State == message.StateOutputAvailable {
		c.mu.Unlock()
		return
	}

	approved := frame.Approved
	switch part.State {
	case message.StateApprovalRequested:
		// Preserve the existing approval.id (§3 invariant, §4.4.4 step 3).
		id := ""
		if part.Approval != nil {
			id = part.Approval.ID
		}
		part.Approval = &message.Approval{ID: id, Approved: &approved}
		if approved {
			part.State = message.StateApprovalResponded
		} else {
			part.State = message.StateOutputDenied
		}
	case message.StateInputAvailable:
		// No approval request was emitted (§4.4.4 step 4).
		part.Approval = &message.Approval{Approved: &approved}
		if approved {
			part.State = message.StateApprovalResponded
		} else {
			part.State = message.StateOutputDenied
		}
	default:
		c.mu.Unlock()
		return
	}

	if err := c.store.Put(ctx, msg); err != nil {
		c.mu.Unlock()
		c.lg.LogError(ctx, err, "failed to persist tool approval merge")
		return
	}
	updated, _ := c.store.Get(msgID)
	c.broadcastLocked(wire.Outbound{Type: wire.TypeMessageUpdated, Message: &updated})

	shouldContinue := frame.AutoContinue && c.activeStreamID == ""
	c.mu.Unlock()

	if shouldContinue {
		c.spawnContinuation(ctx, msgID)
	}
}

// findToolPartWithRetry locates the tool part by toolCallId in the most
// recent assistant message that carries it, retrying with a short back-off because the part
// may not yet be persisted (§4.4.3 step 1, §5 "Timeouts"). It does not
// hold c.mu between attempts so the Controller can make progress on the
// write that would create the part.
func (c *Controller) findToolPartWithRetry(ctx context.Context, toolCallID string) (messageID string, partIndex int, ok bool) {
	for attempt := 0; attempt < c.toolRetry.Attempts; attempt++ {
		c.mu.Lock()
		msgID, idx, found := c.store.FindByToolCallID(toolCallID)
		c.mu.Unlock()
		if found {
			return msgID, idx, true
		}
		select {
		case <-ctx.Done():
			return "", -1, false
		case <-time.After(c.toolRetry.Delay):
		}
	}
	metrics.ToolRetryExhaustedTotal.Inc()
	return "", -1, false
}

// spawnContinuation implements the continuation semantics in §4.4.4: a
// follow-up model invocation whose chunks are merged into the same
// assistant message id as the prior stream. If the caller's check found
// no active stream, a settle delay is observed first to let any
// in-flight broadcast finish.
func (c *Controller) spawnContinuation(ctx context.Context, assistantID string) {
	time.Sleep(c.continuation.SettleDelay)

	c.mu.Lock()
	if c.activeStreamID != "" {
		// A new stream started while we were waiting; don't double-fire.
		c.mu.Unlock()
		return
	}
	requestID := newID()
	streamCtx, cancel := context.WithCancel(context.Background())
	streamID, err := c.log.Start(ctx, requestID)
	if err != nil {
		cancel()
		c.mu.Unlock()
		c.lg.LogError(ctx, err, "failed to start continuation stream")
		return
	}
	c.activeRequestID = requestID
	c.activeStreamID = streamID
	c.activeMessageID = assistantID
	c.activeParts = nil
	c.activeCancel = cancel
	c.activeContinuation = true
	metrics.ActiveStreams.Inc()
	messages := c.store.All()
	c.mu.Unlock()

	req := modeldriver.Request{Body: wire.RequestBody{Messages: messages}}
	go c.runStream(streamCtx, ctx, requestID, streamID, assistantID, req, true)
}
