package repository

import (
	"context"
	"fmt"
	"time"

	"relay-chat/internal/domain/outbox"
	relay_errors "relay-chat/pkg/errors"

	"github.com/google/uuid"
)

type outboxRepository struct {
	db DBTX
}

func NewOutboxRepository(db DBTX) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Create(ctx context.Context, tx DBTX, event *outbox.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = outbox.StatusPending
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	_, err := pick(tx, r.db).ExecContext(ctx, `
        INSERT INTO outbox_events (id, event_type, partition_key, payload, status, retry_count, error, created_at, updated_at, processed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `,
		event.ID,
		event.EventType,
		event.PartitionKey,
		event.Payload,
		event.Status,
		event.RetryCount,
		event.Error,
		event.CreatedAt,
		event.UpdatedAt,
		event.ProcessedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("outbox event %s: %w", event.ID, relay_errors.ErrAlreadyExists)
	}
	return err
}

// GetPending returns publishable rows oldest first. PROCESSING rows are
// included so that a processor that died mid-batch does not strand them.
func (r *outboxRepository) GetPending(ctx context.Context, limit, maxRetries int) ([]outbox.OutboxEvent, error) {
	var events []outbox.OutboxEvent
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, event_type, partition_key, payload, status, retry_count, error, created_at, updated_at, processed_at
        FROM outbox_events
        WHERE status IN ($1, $2) AND retry_count < $3
        ORDER BY created_at ASC, id ASC
        LIMIT $4
    `, outbox.StatusPending, outbox.StatusProcessing, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var event outbox.OutboxEvent
		if err := rows.Scan(
			&event.ID,
			&event.EventType,
			&event.PartitionKey,
			&event.Payload,
			&event.Status,
			&event.RetryCount,
			&event.Error,
			&event.CreatedAt,
			&event.UpdatedAt,
			&event.ProcessedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *outboxRepository) HasUnpublished(ctx context.Context, partitionKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM outbox_events
            WHERE partition_key = $1 AND status IN ($2, $3)
        )
    `, partitionKey, outbox.StatusPending, outbox.StatusProcessing).Scan(&exists)
	return exists, err
}

func (r *outboxRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, updated_at = $2
        WHERE id = $3
    `, outbox.StatusProcessing, time.Now().UTC(), id)
	return err
}

func (r *outboxRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, processed_at = $2, updated_at = $3
        WHERE id = $4
    `, outbox.StatusCompleted, &now, now, id)
	return err
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, error = $2, updated_at = $3
        WHERE id = $4
    `, outbox.StatusFailed, errorMsg, time.Now().UTC(), id)
	return err
}

// IncrementRetry records a failed attempt and returns the row to PENDING.
func (r *outboxRepository) IncrementRetry(ctx context.Context, id uuid.UUID, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET retry_count = retry_count + 1, status = $1, error = $2, updated_at = $3
        WHERE id = $4
    `, outbox.StatusPending, errorMsg, time.Now().UTC(), id)
	return err
}
