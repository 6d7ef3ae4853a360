package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teich/bank4/events"
)

// =============================================================================
// OUTBOX (events.OutboxStore interface)
// =============================================================================

func insertOutbox(ctx context.Context, q querier, msg events.OutboxMessage) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, topic, message_key, payload, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.Topic, msg.Key, string(msg.Payload), msg.Status, msg.RetryCount, formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox message: %w", err)
	}
	return nil
}

// PendingMessages returns the oldest PENDING messages.
func (s *Store) PendingMessages(ctx context.Context, limit int) ([]events.OutboxMessage, error) {
	return s.OutboxMessages(ctx, events.StatusPending, limit)
}

// OutboxMessages lists messages with a status, oldest first.
func (s *Store) OutboxMessages(ctx context.Context, status events.Status, limit int) ([]events.OutboxMessage, error) {
	query := `
		SELECT id, topic, message_key, payload, status, retry_count, last_error, created_at, sent_at
		FROM outbox_messages
		WHERE status = ?
		ORDER BY created_at, rowid
	`
	args := []any{status}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []events.OutboxMessage
	for rows.Next() {
		var (
			m         events.OutboxMessage
			payload   string
			lastErr   sql.NullString
			createdAt string
			sentAt    sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &payload, &m.Status, &m.RetryCount,
			&lastErr, &createdAt, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		m.Payload = []byte(payload)
		m.LastError = lastErr.String
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if m.SentAt, err = parseTimePtr(sentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_messages SET status = ?, sent_at = ? WHERE id = ?",
		events.StatusSent, formatTime(at), id)
	return err
}

func (s *Store) IncrementRetry(ctx context.Context, id string, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_messages SET retry_count = retry_count + 1, last_error = ? WHERE id = ?",
		lastErr, id)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id string, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_messages SET status = ?, retry_count = retry_count + 1, last_error = ? WHERE id = ?",
		events.StatusFailed, lastErr, id)
	return err
}
