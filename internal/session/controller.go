// Package session implements the Session Controller (spec §4.4): the
// protocol state machine that owns one conversation's Message Store,
// Resumable Stream Log, and Connection Set. It dispatches inbound
// frames, drives the model, fans out chunks to live connections,
// persists terminal messages, sanitizes, and reconciles client-sent
// history. Grounded on the teacher's internal/streaming/session.go
// (StreamSession: the single active-stream-per-session invariant,
// readUpstream's per-chunk suspension points, markCompleted's
// idempotency) generalized from raw SSE lines to typed Parts.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eternisai/chatcore/internal/connset"
	"github.com/eternisai/chatcore/internal/logger"
	"github.com/eternisai/chatcore/internal/message"
	"github.com/eternisai/chatcore/internal/modeldriver"
	"github.com/eternisai/chatcore/internal/streamlog"
	"github.com/eternisai/chatcore/internal/wire"
)

// ToolRetry configures the bounded retry/back-off used when a
// tool-result/approval frame arrives before its tool part has been
// persisted (§4.4.3 step 1, §5 "Timeouts": "e.g. 10 attempts, ~100ms
// apart").
type ToolRetry struct {
	Attempts int
	Delay    time.Duration
}

func DefaultToolRetry() ToolRetry {
	return ToolRetry{Attempts: 10, Delay: 100 * time.Millisecond}
}

// Continuation configures the short implementation-defined delay before
// a continuation starts when no stream is currently active (§4.4.4:
// "waits briefly... to let any in-flight broadcast settle").
type Continuation struct {
	SettleDelay time.Duration
}

func DefaultContinuation() Continuation {
	return Continuation{SettleDelay: 50 * time.Millisecond}
}

// Controller is one session's Session Controller. One Controller exists
// per conversation name, for its lifetime (§2: "singleton-per-name").
type Controller struct {
	name   string
	store  *message.Store
	log    *streamlog.Log
	conns  *connset.Set
	driver modeldriver.Driver
	lg     *logger.Logger

	toolRetry    ToolRetry
	continuation Continuation

	// mu is the session lock (§5: "single-threaded cooperative... all
	// mutation... happens on this task"). Every exported handler takes
	// it for its full duration except where it must release it to await
	// the next model chunk or a retry sleep (documented at call sites).
	mu sync.Mutex

	// active* describe the in-flight stream, if any. Exactly one stream
	// may be streaming at a time (§3, invariant 3 in §8).
	activeRequestID    string
	activeStreamID     string
	activeMessageID    string
	activeParts        []message.Part
	activeCancel       context.CancelFunc
	activeContinuation bool

	// processedToolIDs and clientToolOutputs are the per-session caches
	// spec §9 calls out as belonging to the session object, not a
	// process-wide map, cleaned up when their toolCallId no longer
	// exists in any persisted message.
	processedToolIDs  map[string]bool
	clientToolOutputs map[string]any

	// pendingResume tracks connections between a sent stream-resuming
	// frame and their resume-ack (§4.4.6 skip rule): live chunks must
	// not reach them until the ack arrives.
	pendingResume map[string]bool
}

// New constructs a Controller for session name, wired to store, log,
// conns, and driver.
func New(name string, store *message.Store, log *streamlog.Log, conns *connset.Set, driver modeldriver.Driver, lg *logger.Logger) *Controller {
	return &Controller{
		name:              name,
		store:             store,
		log:               log,
		conns:             conns,
		driver:            driver,
		lg:                lg.WithComponent("session").WithFields(map[string]any{"session_name": name}),
		toolRetry:         DefaultToolRetry(),
		continuation:      DefaultContinuation(),
		processedToolIDs:  make(map[string]bool),
		clientToolOutputs: make(map[string]any),
		pendingResume:     make(map[string]bool),
	}
}

func (c *Controller) Name() string { return c.name }

// AttachConnection registers conn in the Connection Set.
func (c *Controller) AttachConnection(conn *connset.Connection) {
	c.conns.Attach(conn)
}

// DetachConnection removes a connection, e.g. on socket close.
func (c *Controller) DetachConnection(id string) {
	c.conns.Detach(id)
}

// Dispatch routes one inbound frame, arriving from conn, per the frame
// taxonomy in §4.3. Unknown frame types are ignored for forward
// compatibility (§7).
func (c *Controller) Dispatch(ctx context.Context, conn *connset.Connection, frame wire.Inbound) {
	switch frame.Type {
	case wire.TypeChatRequest:
		c.HandleChatRequest(ctx, frame)
	case wire.TypeChatCancel:
		c.HandleChatCancel(frame.ID)
	case wire.TypeToolResult:
		c.HandleToolResult(ctx, frame)
	case wire.TypeToolApproval:
		c.HandleToolApproval(ctx, frame)
	case wire.TypeChatClear:
		c.HandleChatClear(ctx)
	case wire.TypeChatMessages:
		c.HandleChatMessages(ctx, frame)
	case wire.TypeResumeReq:
		c.HandleResumeRequest(ctx, conn, frame)
	case wire.TypeResumeAck:
		c.HandleResumeAck(ctx, conn, frame)
	default:
		c.lg.Warn("ignoring unrecognized frame type", slog.String("type", string(frame.Type)))
	}
}

// newID is the module-wide id allocator, centralized so every streamId/
// requestId/messageId comes from the same source (google/uuid).
func newID() string { return uuid.NewString() }

// Snapshot is the observability surface supplementing §6's "Observable
// side effects" with operational metrics (§12 supplement), consumed by
// internal/distributed's resume-ownership query.
type Snapshot struct {
	SessionName     string
	MessageCount    int
	ConnectionCount int
	ActiveStreaming bool
	ActiveStreamID  string
	ActiveRequestID string
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionName:     c.name,
		MessageCount:    len(c.store.All()),
		ConnectionCount: c.conns.Count(),
		ActiveStreaming: c.activeStreamID != "",
		ActiveStreamID:  c.activeStreamID,
		ActiveRequestID: c.activeRequestID,
	}
}

// Cleanup runs the Stream Log's retention cleanup of completed/errored
// streams (§4.2) outside of any connection or request handling, for the
// retention cron job in cmd/chatcored. Takes the session lock like every other mutating
// entry point.
func (c *Controller) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Cleanup(ctx)
}

func (c *Controller) broadcastError(requestID string, err error) {
	c.broadcast(wire.NewErrorResponse(requestID, err.Error()))
}

// broadcast is the one path all live frames go out through, so the
// §4.4.6 skip rule (connections awaiting resume-ack get no live
// chunks) is enforced in a single place. Callers must NOT hold c.mu.
func (c *Controller) broadcast(frame wire.Outbound) {
	c.mu.Lock()
	skip := c.pendingResumeSnapshot()
	c.mu.Unlock()
	c.conns.BroadcastExcept(frame, skip)
}

// broadcastLocked is broadcast's twin for call sites already holding
// c.mu (most of the hot path: one session-lock critical section per
// chunk, §5).
func (c *Controller) broadcastLocked(frame wire.Outbound) {
	c.conns.BroadcastExcept(frame, c.pendingResumeSnapshot())
}

func (c *Controller) pendingResumeSnapshot() map[string]bool {
	if len(c.pendingResume) == 0 {
		return nil
	}
	skip := make(map[string]bool, len(c.pendingResume))
	for id := range c.pendingResume {
		skip[id] = true
	}
	return skip
}
