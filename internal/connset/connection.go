// Package connset implements the Connection Set (spec §2.5/§4.3): the
// set of clients currently attached to a session, each able to send
// requests, cancellations, tool results, approvals, resume
// acknowledgments, and clear-history commands, and to receive broadcast
// frames. Grounded on the teacher's internal/streaming/subscriber.go
// (buffer clamping, non-blocking Send) and chat_stream_hub.go's
// broadcast/drop-with-log pattern.
package connset

import (
	"context"
	"sync"
	"time"

	"github.com/eternisai/chatcore/internal/wire"
)

const (
	minBufferSize = 10
	maxBufferSize = 1000
	defaultBuffer = 64
	// sendTimeout bounds how long a broadcast waits on one slow
	// connection before dropping the frame for it, matching the
	// teacher's subscriberSendTimeout (session.go: 100ms).
	sendTimeout = 100 * time.Millisecond
)

// Connection is one attached client. Frames are delivered on Out; the
// owner of the physical transport (internal/transport) drains Out and
// writes frames to the wire.
type Connection struct {
	ID  string
	Out chan wire.Outbound

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	disconnected bool
}

// NewConnection constructs a Connection with a buffer size clamped to
// [minBufferSize, maxBufferSize], mirroring the teacher's
// DefaultSubscriberOptions clamping.
func NewConnection(id string, bufferSize int) *Connection {
	if bufferSize < minBufferSize {
		bufferSize = minBufferSize
	}
	if bufferSize > maxBufferSize {
		bufferSize = maxBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:     id,
		Out:    make(chan wire.Outbound, bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send attempts a non-blocking-with-timeout delivery. Returns false if
// the connection's buffer was full or already closed (the frame is
// dropped; callers log the drop, matching the teacher's broadcast
// behavior in chat_stream_hub.go).
func (c *Connection) Send(frame wire.Outbound) bool {
	if c.IsDisconnected() {
		return false
	}
	select {
	case c.Out <- frame:
		return true
	case <-c.ctx.Done():
		return false
	case <-time.After(sendTimeout):
		return false
	}
}

// SendBlocking delivers without a timeout, for the replay path where
// losing a historical chunk is not acceptable the way dropping a live
// broadcast under backpressure is.
func (c *Connection) SendBlocking(ctx context.Context, frame wire.Outbound) error {
	select {
	case c.Out <- frame:
		return nil
	case <-c.ctx.Done():
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Context returns the connection's lifetime context, cancelled by
// Cancel. Transport read/write pumps select on it to exit promptly.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) IsDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// Cancel signals the connection is going away. Always call Cancel
// before Close, matching the teacher's subscriber.go convention, so
// in-flight sends observe ctx.Done() before the channel is closed.
func (c *Connection) Cancel() {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	c.cancel()
}

func (c *Connection) Close() {
	close(c.Out)
}
