package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eternisai/chatcore/internal/streamlog"
)

var _ streamlog.Persistence = (*Store)(nil)

func (s *Store) UpsertStreamMetadata(ctx context.Context, m streamlog.Metadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_metadata (stream_id, request_id, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stream_id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at`,
		m.StreamID, m.RequestID, string(m.Status), m.CreatedAt, m.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert stream metadata: %w", err)
	}
	return nil
}

func (s *Store) GetActiveStreamMetadata(ctx context.Context) (*streamlog.Metadata, error) {
	var m streamlog.Metadata
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT stream_id, request_id, status, created_at, completed_at
		  FROM stream_metadata WHERE status = $1
		 ORDER BY created_at DESC LIMIT 1`,
		string(streamlog.StatusStreaming)).
		Scan(&m.StreamID, &m.RequestID, &status, &m.CreatedAt, &m.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active stream metadata: %w", err)
	}
	m.Status = streamlog.Status(status)
	return &m, nil
}

func (s *Store) InsertChunks(ctx context.Context, chunks []streamlog.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert chunks: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stream_chunks (chunk_id, stream_id, body, chunk_index, created_at)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("insert chunks: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.StreamID, c.Body, c.ChunkIndex, c.CreatedAt); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListChunks(ctx context.Context, streamID string) ([]streamlog.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, stream_id, body, chunk_index, created_at
		  FROM stream_chunks WHERE stream_id = $1
		 ORDER BY chunk_index ASC`, streamID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []streamlog.Chunk
	for rows.Next() {
		var c streamlog.Chunk
		if err := rows.Scan(&c.ChunkID, &c.StreamID, &c.Body, &c.ChunkIndex, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("list chunks: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) MaxChunkIndex(ctx context.Context, streamID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(chunk_index) FROM stream_chunks WHERE stream_id = $1`, streamID).
		Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max chunk index: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

func (s *Store) DeleteStream(ctx context.Context, streamID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete stream: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM stream_chunks WHERE stream_id = $1`, streamID); err != nil {
		return fmt.Errorf("delete stream chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stream_metadata WHERE stream_id = $1`, streamID); err != nil {
		return fmt.Errorf("delete stream metadata: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DeleteStreamsOlderThan(ctx context.Context, status streamlog.Status, cutoff time.Time) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stream_id FROM stream_metadata WHERE status = $1 AND created_at < $2`,
		string(status), cutoff)
	if err != nil {
		return fmt.Errorf("delete streams older than: select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("delete streams older than: scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.DeleteStream(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteAllStreams(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete all streams: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM stream_chunks`); err != nil {
		return fmt.Errorf("delete all stream chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stream_metadata`); err != nil {
		return fmt.Errorf("delete all stream metadata: %w", err)
	}
	return tx.Commit()
}
