package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func marshalJSON(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message body: %w", err)
	}
	return body, nil
}

// PostgresBackend implements Backend over the queue_messages table. Receive
// claims rows with FOR UPDATE SKIP LOCKED inside a single statement, so
// concurrent workers never double-claim and a crashed worker's claim expires
// with the visibility timeout.
type PostgresBackend struct {
	pool *pgxpool.Pool

	// pollEvery is the re-check cadence during a long poll.
	pollEvery time.Duration
}

// NewPostgresBackend creates a backend over the shared pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool, pollEvery: time.Second}
}

// Send enqueues a message, immediately visible.
func (b *PostgresBackend) Send(ctx context.Context, queue string, body []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := b.pool.Exec(ctx,
		`INSERT INTO queue_messages (id, queue, body, visible_at, receive_count, created_at)
		 VALUES ($1, $2, $3, now(), 0, now())`,
		id, queue, body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to send message: %w", err)
	}
	return id, nil
}

// Receive claims up to max visible messages and hides them for the
// visibility duration. When the queue is empty it re-checks once per second
// until wait elapses (long-poll semantics).
func (b *PostgresBackend) Receive(ctx context.Context, queue string, max int, wait, visibility time.Duration) ([]Message, error) {
	deadline := time.Now().Add(wait)
	for {
		msgs, err := b.receiveOnce(ctx, queue, max, visibility)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 || time.Now().After(deadline) {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.pollEvery):
		}
	}
}

func (b *PostgresBackend) receiveOnce(ctx context.Context, queue string, max int, visibility time.Duration) ([]Message, error) {
	rows, err := b.pool.Query(ctx,
		`UPDATE queue_messages SET
			visible_at = now() + make_interval(secs => $3),
			receive_count = receive_count + 1
		 WHERE id IN (
			SELECT id FROM queue_messages
			WHERE queue = $1 AND visible_at <= now()
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, body, receive_count`,
		queue, max, visibility.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Body, &m.ReceiveCount); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Delete acknowledges a message.
func (b *PostgresBackend) Delete(ctx context.Context, queue string, id uuid.UUID) error {
	tag, err := b.pool.Exec(ctx,
		`DELETE FROM queue_messages WHERE queue = $1 AND id = $2`, queue, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ChangeVisibility reschedules a message's next delivery.
func (b *PostgresBackend) ChangeVisibility(ctx context.Context, queue string, id uuid.UUID, d time.Duration) error {
	tag, err := b.pool.Exec(ctx,
		`UPDATE queue_messages SET visible_at = now() + make_interval(secs => $3)
		 WHERE queue = $1 AND id = $2`,
		queue, id, d.Seconds())
	if err != nil {
		return fmt.Errorf("failed to change visibility: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Depth counts all messages on the queue, visible or in flight.
func (b *PostgresBackend) Depth(ctx context.Context, queue string) (int, error) {
	var depth int
	err := b.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_messages WHERE queue = $1`, queue).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue depth: %w", err)
	}
	return depth, nil
}
