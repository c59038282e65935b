package message

import (
	"context"
	"fmt"
	"sync"
)

// Persistence is the narrow storage surface the Message Store needs,
// matching spec §9's "persistence is a narrow interface { run(sql,
// args), query(sql, args) }" design note made concrete for messages.
// Row ordering is row_created_at ascending (insertion order).
type Persistence interface {
	InsertMessage(ctx context.Context, id string, payload []byte) error
	UpdateMessage(ctx context.Context, id string, payload []byte) error
	ListMessages(ctx context.Context) ([]StoredMessage, error)
	DeleteAllMessages(ctx context.Context) error
}

// StoredMessage is one raw row of the messages table (§6).
type StoredMessage struct {
	ID           string
	RowCreatedAt int64
	Payload      []byte
}

// Store is the Message Store (§2.1): the persisted, ordered sequence of
// chat messages for one session, cached in memory for the Controller's
// single-threaded hot path. All mutation happens under the session lock
// held by the caller (internal/session.Controller); Store itself adds no
// extra locking beyond what's needed to protect concurrent readers of a
// snapshot from a writer.
type Store struct {
	mu      sync.RWMutex
	persist Persistence
	order   []string
	byID    map[string]*Message
	codec   Codec
}

// Codec serializes/deserializes a Message payload. Encapsulated so
// Sanitize's invariants and any future schema versioning stay in one
// place.
type Codec interface {
	Encode(*Message) ([]byte, error)
	Decode([]byte) (*Message, error)
}

func NewStore(persist Persistence, codec Codec) *Store {
	return &Store{
		persist: persist,
		byID:    make(map[string]*Message),
		codec:   codec,
	}
}

// Load populates the in-memory cache from persistence. Called once at
// session restore.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.persist.ListMessages(ctx)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.byID = make(map[string]*Message, len(rows))
	for _, row := range rows {
		m, err := s.codec.Decode(row.Payload)
		if err != nil {
			return fmt.Errorf("decode message %s: %w", row.ID, err)
		}
		s.order = append(s.order, m.ID)
		s.byID[m.ID] = m
	}
	return nil
}

// All returns a snapshot of the ordered message list.
func (s *Store) All() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// Get returns a copy of the message with id, if present.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return m.Clone(), true
}

// Last returns the most recently appended message, if any.
func (s *Store) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return Message{}, false
	}
	id := s.order[len(s.order)-1]
	return s.byID[id].Clone(), true
}

// LastAssistant returns the most recent message with role assistant.
func (s *Store) LastAssistant() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.byID[s.order[i]]
		if m.Role == RoleAssistant {
			return m.Clone(), true
		}
	}
	return Message{}, false
}

// Append persists and caches a new message. Sanitize is applied to
// assistant messages before encoding (§4.4.7); callers that need
// unsanitized intermediate state should keep their own working copy and
// only call Append/Put once a message reaches a terminal point.
func (s *Store) Append(ctx context.Context, m Message) error {
	if err := m.ValidateToolCallUniqueness(); err != nil {
		return err
	}
	if m.Role == RoleAssistant {
		Sanitize(&m)
	}
	payload, err := s.codec.Encode(&m)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	if err := s.persist.InsertMessage(ctx, m.ID, payload); err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[m.ID]; !exists {
		s.order = append(s.order, m.ID)
	}
	s.byID[m.ID] = &m
	return nil
}

// Put persists an in-place update to an existing message (e.g. tool
// result/approval merge, §4.4.3/§4.4.4). It is an error to Put an id not
// already in the store.
func (s *Store) Put(ctx context.Context, m Message) error {
	s.mu.RLock()
	_, exists := s.byID[m.ID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("put message %s: not found", m.ID)
	}
	if err := m.ValidateToolCallUniqueness(); err != nil {
		return err
	}
	if m.Role == RoleAssistant {
		Sanitize(&m)
	}
	payload, err := s.codec.Encode(&m)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	if err := s.persist.UpdateMessage(ctx, m.ID, payload); err != nil {
		return fmt.Errorf("update message %s: %w", m.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[m.ID] = &m
	return nil
}

// Replace overwrites the entire ordered history, used by the chat-
// messages reconciliation path (§4.4.5) after computing the merged
// result. It persists each message; callers are expected to have
// already reconciled against the current snapshot returned by All().
func (s *Store) Replace(ctx context.Context, msgs []Message) error {
	if err := s.ClearAll(ctx); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := s.Append(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll implements chat-clear (§4.4.8): empties the store.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.persist.DeleteAllMessages(ctx); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = make(map[string]*Message)
	return nil
}

// FindByToolCallID scans stored assistant messages from the most recent
// backward for a part with toolCallID, returning the owning message id
// and part index. Used by tool-result/approval handling (§4.4.3/4.4.4)
// which always targets "the last assistant message" but tolerates the
// tool call having moved if a continuation appended a new message.
func (s *Store) FindByToolCallID(toolCallID string) (messageID string, partIndex int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.byID[s.order[i]]
		if m.Role != RoleAssistant {
			continue
		}
		if idx := m.FindToolPart(toolCallID); idx >= 0 {
			return m.ID, idx, true
		}
	}
	return "", -1, false
}
