package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/eternisai/chatcore/internal/chunkbuilder"
	"github.com/eternisai/chatcore/internal/logger"
	"github.com/eternisai/chatcore/internal/message"
	"github.com/eternisai/chatcore/internal/metrics"
	"github.com/eternisai/chatcore/internal/modeldriver"
	"github.com/eternisai/chatcore/internal/wire"
)

// HandleChatRequest implements §4.4.1: merge incoming history, start a
// stream, drive the model, and fan out chunks until the stream
// terminates.
func (c *Controller) HandleChatRequest(ctx context.Context, frame wire.Inbound) {
	if frame.Init == nil {
		c.lg.Warn("chat-request missing init.body, dropping", slog.String("request_id", frame.ID))
		metrics.ChatRequestsTotal.WithLabelValues("rejected").Inc()
		return
	}
	requestID := frame.ID
	ctx = logger.WithRequestID(ctx, requestID)

	c.mu.Lock()

	// §3: "exactly one stream may be streaming per session; the
	// controller MUST flush and finalize any prior stream before
	// starting a new one." Two chat-request frames without an
	// intervening chat-cancel (e.g. two tabs) must not orphan the
	// first stream's log row or leave its terminal frame unsent.
	if c.activeStreamID != "" {
		c.preemptActiveStream(ctx)
	}

	// Step 1: merge incoming history with stored, using the unified
	// reconciliation algorithm (§4.4.5, resolving the §9 Open Question).
	merged := Reconcile(c.store.All(), frame.Init.Body.Messages)
	if err := c.store.Replace(ctx, merged); err != nil {
		c.mu.Unlock()
		c.lg.LogError(ctx, err, "failed to persist reconciled history")
		c.broadcastError(requestID, err)
		return
	}

	// Step 2/3: allocate cancellation handle and start the stream.
	streamCtx, cancel := context.WithCancel(context.Background())
	streamID, err := c.log.Start(ctx, requestID)
	if err != nil {
		cancel()
		c.mu.Unlock()
		c.lg.LogError(ctx, err, "failed to start stream")
		c.broadcastError(requestID, err)
		return
	}
	assistantID := newID()

	c.activeRequestID = requestID
	c.activeStreamID = streamID
	c.activeMessageID = assistantID
	c.activeParts = nil
	c.activeCancel = cancel
	c.activeContinuation = false
	metrics.ActiveStreams.Inc()
	metrics.ChatRequestsTotal.WithLabelValues("started").Inc()

	ctx = logger.WithStreamID(ctx, streamID)
	c.mu.Unlock()

	// Step 4: emit a start metadata chunk carrying the server message id
	// so clients adopt it.
	startChunk := chunkbuilder.Chunk{Kind: chunkbuilder.KindStart, MessageID: assistantID}
	if out, err := wire.NewChatResponse(requestID, startChunk, false); err == nil {
		c.broadcast(out)
	}

	req := modeldriver.Request{Body: frame.Init.Body}
	// Run in its own goroutine so Dispatch returns promptly and the
	// connection's read loop stays free to deliver chat-cancel/
	// tool-result/tool-approval frames while the model streams (§5:
	// "the session is single-threaded cooperative" refers to state
	// mutation under c.mu, not to blocking the transport).
	go c.runStream(streamCtx, ctx, requestID, streamID, assistantID, req, false)
}

// HandleChatCancel implements §4.4.2: cooperative cancellation. Chunks
// already in flight are still processed; the stream ends via the normal
// markError/complete path once the driver acknowledges.
func (c *Controller) HandleChatCancel(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeRequestID != requestID || c.activeCancel == nil {
		return
	}
	c.activeCancel()
}

// preemptActiveStream implements the flush-and-finalize obligation in
// §3: called with c.mu held, before a new stream replaces the current
// one. It cancels the driver and finalizes the in-flight stream with
// whatever parts it produced so far, as a normal successful completion
// would — so the preempted request still gets exactly one terminal
// chat-response (§8 testable property 7) and its stream_metadata row
// does not stay stuck at status=streaming. The running runStream
// goroutine, once it wakes from the cancelled driver, finds
// c.activeStreamID already pointing at the new stream and no-ops.
func (c *Controller) preemptActiveStream(ctx context.Context) {
	if c.activeCancel != nil {
		c.activeCancel()
	}
	c.finishWithSuccess(ctx, c.activeRequestID, c.activeStreamID, c.activeMessageID, c.activeContinuation)
}

// runStream drives the model to completion, applying/storing/
// broadcasting each chunk. continuation marks whether chunks should be
// tagged continuation=true and merged into an existing assistant message
// id (§4.4.4) rather than starting a fresh one.
func (c *Controller) runStream(streamCtx, logCtx context.Context, requestID, streamID, assistantID string, req modeldriver.Request, continuation bool) {
	chunks, errc := c.driver.Stream(streamCtx, req)

	for ch := range chunks {
		c.mu.Lock()
		if c.activeStreamID != streamID {
			// A newer stream has already superseded this one (can
			// happen if cancellation raced a completion); stop
			// processing but let the range loop drain naturally.
			c.mu.Unlock()
			continue
		}
		chunkbuilder.Apply(&c.activeParts, ch)
		body, encErr := wireEncodeChunk(ch)
		if encErr != nil {
			c.mu.Unlock()
			c.lg.LogError(logCtx, encErr, "failed to encode chunk")
			continue
		}
		c.log.Store(logCtx, streamID, body)
		out := wire.Outbound{
			Type:         wire.TypeChatResponse,
			ID:           requestID,
			Body:         string(body),
			Done:         false,
			Continuation: continuation,
		}
		c.broadcastLocked(out)
		c.mu.Unlock()
	}

	driverErr := <-errc

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeStreamID != streamID {
		return
	}

	if driverErr != nil && !isGracefulCancel(driverErr) {
		c.finishWithError(logCtx, requestID, streamID, driverErr)
		return
	}
	c.finishWithSuccess(logCtx, requestID, streamID, assistantID, continuation)
}

// finishWithSuccess implements §4.4.1 step 6: finalize, sanitize,
// persist, complete the stream, broadcast the terminal frame.
func (c *Controller) finishWithSuccess(ctx context.Context, requestID, streamID, assistantID string, continuation bool) {
	finalizeTerminalStates(c.activeParts)

	if continuation {
		if existing, ok := c.store.Get(assistantID); ok {
			existing.Parts = append(existing.Parts, c.activeParts...)
			if err := c.store.Put(ctx, existing); err != nil {
				c.lg.LogError(ctx, err, "failed to persist continuation")
			}
		}
	} else {
		msg := message.Message{ID: assistantID, Role: message.RoleAssistant, Parts: c.activeParts}
		if err := c.store.Append(ctx, msg); err != nil {
			c.lg.LogError(ctx, err, "failed to persist assistant message")
		}
	}

	if err := c.log.Complete(ctx, streamID); err != nil {
		c.lg.LogError(ctx, err, "failed to complete stream")
	}
	c.clearActive()
	c.broadcastLocked(wire.Outbound{Type: wire.TypeChatResponse, ID: requestID, Body: "", Done: true, Continuation: continuation})
}

// finishWithError implements §4.4.1 step 7 / §7 "Model failures": the
// partial assistant message is not persisted as if successful.
func (c *Controller) finishWithError(ctx context.Context, requestID, streamID string, err error) {
	if markErr := c.log.MarkError(ctx, streamID); markErr != nil {
		c.lg.LogError(ctx, markErr, "failed to mark stream error")
	}
	c.clearActive()
	c.broadcastLocked(wire.NewErrorResponse(requestID, err.Error()))
}

func (c *Controller) clearActive() {
	if c.activeStreamID != "" {
		metrics.ActiveStreams.Dec()
	}
	c.activeRequestID = ""
	c.activeStreamID = ""
	c.activeMessageID = ""
	c.activeParts = nil
	c.activeCancel = nil
	c.activeContinuation = false
}

// finalizeTerminalStates flips any still-streaming text/reasoning parts
// to done once the model signals completion without an explicit
// text-end/reasoning-end chunk (some drivers omit it on the final
// chunk).
func finalizeTerminalStates(parts []message.Part) {
	for i := range parts {
		if parts[i].State == message.StateStreaming {
			parts[i].State = message.StateDone
		}
	}
}

// isGracefulCancel treats context.Canceled as graceful completion rather
// than a model failure, matching the teacher's readUpstream handling of
// a cancelled upstream read (internal/streaming/session.go).
func isGracefulCancel(err error) bool {
	return errors.Is(err, context.Canceled)
}

func wireEncodeChunk(ch chunkbuilder.Chunk) ([]byte, error) {
	return json.Marshal(ch)
}
