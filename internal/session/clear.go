package session

import (
	"context"

	"github.com/eternisai/chatcore/internal/wire"
)

// HandleChatClear implements §4.4.8: empty the Message Store, clear the
// stream log, drop the per-session caches, and broadcast chat-clear.
func (c *Controller) HandleChatClear(ctx context.Context) {
	c.mu.Lock()
	if err := c.store.ClearAll(ctx); err != nil {
		c.mu.Unlock()
		c.lg.LogError(ctx, err, "failed to clear message store")
		return
	}
	if err := c.log.ClearAll(ctx); err != nil {
		c.mu.Unlock()
		c.lg.LogError(ctx, err, "failed to clear stream log")
		return
	}
	c.processedToolIDs = make(map[string]bool)
	c.clientToolOutputs = make(map[string]any)
	c.clearActive()
	c.broadcastLocked(wire.Outbound{Type: wire.TypeChatClear})
	c.mu.Unlock()
}

// HandleChatMessages implements the bulk-assert path of §4.4.5: the
// client asserts a full message list; the server reconciles it against
// stored history with the same algorithm a chat-request's embedded
// messages array uses, then broadcasts the merged result.
func (c *Controller) HandleChatMessages(ctx context.Context, frame wire.Inbound) {
	c.mu.Lock()
	merged := Reconcile(c.store.All(), frame.Messages)
	if err := c.store.Replace(ctx, merged); err != nil {
		c.mu.Unlock()
		c.lg.LogError(ctx, err, "failed to persist reconciled bulk history")
		return
	}
	c.broadcastLocked(wire.Outbound{Type: wire.TypeChatMessages, Messages: merged})
	c.mu.Unlock()
}
