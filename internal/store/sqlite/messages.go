package sqlite

import (
	"context"
	"fmt"

	"github.com/eternisai/chatcore/internal/message"
)

var _ message.Persistence = (*Store)(nil)

func (s *Store) InsertMessage(ctx context.Context, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, payload) VALUES (?, ?)`, id, payload)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) UpdateMessage(ctx context.Context, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET payload = ? WHERE id = ?`, payload, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update message %s: not found", id)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context) ([]message.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, row_created_at, payload FROM messages ORDER BY row_created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []message.StoredMessage
	for rows.Next() {
		var m message.StoredMessage
		if err := rows.Scan(&m.ID, &m.RowCreatedAt, &m.Payload); err != nil {
			return nil, fmt.Errorf("list messages: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAllMessages(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return fmt.Errorf("delete all messages: %w", err)
	}
	return nil
}
