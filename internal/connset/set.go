package connset

import (
	"log/slog"
	"sync"

	"github.com/eternisai/chatcore/internal/metrics"
	"github.com/eternisai/chatcore/internal/wire"
)

// Set is the registry of connections attached to one session. All
// methods are safe for concurrent use: connections attach/detach
// asynchronously with respect to the Controller's single-threaded task
// (§5 "Concurrency arises only from... external inbound frames").
type Set struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	log   *slog.Logger
}

func NewSet(log *slog.Logger) *Set {
	return &Set{conns: make(map[string]*Connection), log: log}
}

func (s *Set) Attach(c *Connection) {
	s.mu.Lock()
	s.conns[c.ID] = c
	s.mu.Unlock()
	metrics.ConnectionsAttached.Inc()
}

func (s *Set) Detach(id string) {
	s.mu.Lock()
	c, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if ok {
		c.Cancel()
		c.Close()
		metrics.ConnectionsAttached.Dec()
	}
}

func (s *Set) Get(id string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Broadcast sends frame to every attached connection, non-blocking per
// connection (drops + logs on backpressure), matching
// chat_stream_hub.go's broadcast/sendToSubscriber.
func (s *Set) Broadcast(frame wire.Outbound) {
	s.BroadcastExcept(frame, nil)
}

// BroadcastExcept sends frame to every attached connection whose id is
// not in skip. Used to implement the §4.4.6 skip rule: a connection
// between stream-resuming and its resume-ack must not receive live
// chunks (they will appear in replay instead).
func (s *Set) BroadcastExcept(frame wire.Outbound, skip map[string]bool) {
	s.mu.RLock()
	targets := make([]*Connection, 0, len(s.conns))
	for id, c := range s.conns {
		if skip[id] {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if !c.Send(frame) {
			metrics.BroadcastDropsTotal.Inc()
			if s.log != nil {
				s.log.Warn("dropped broadcast frame: connection full or closed",
					slog.String("connection_id", c.ID),
					slog.String("frame_type", string(frame.Type)))
			}
		}
	}
}

// CloseAll cancels and closes every connection (mirrors
// closeAllSubscribers in the teacher). Neither chat-clear nor process
// shutdown calls it.
func (s *Set) CloseAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[string]*Connection)
	s.mu.Unlock()
	for _, c := range conns {
		c.Cancel()
		c.Close()
		metrics.ConnectionsAttached.Dec()
	}
}
