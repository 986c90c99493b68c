package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relay-chat/internal/domain/chat"
	relay_errors "relay-chat/pkg/errors"
)

type PostgresConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

const conversationColumns = `id, creator_id, other_id, pair_key, last_activity_at, created_at`

func scanConversation(row interface{ Scan(...interface{}) error }) (chat.Conversation, error) {
	var c chat.Conversation
	err := row.Scan(&c.ID, &c.CreatorID, &c.OtherID, &c.PairKey, &c.LastActivityAt, &c.CreatedAt)
	return c, err
}

func (r *PostgresConversationRepository) CreateIfAbsent(ctx context.Context, c *chat.Conversation) (int64, bool, error) {
	now := c.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `
        INSERT INTO conversations (creator_id, other_id, pair_key, last_activity_at, created_at)
        VALUES ($1,$2,$3,$4,$4)
        ON CONFLICT (pair_key) DO NOTHING
        RETURNING id
    `, c.CreatorID, c.OtherID, c.PairKey, now).Scan(&id)
	switch {
	case err == nil:
		c.ID = id
		c.CreatedAt = now
		c.LastActivityAt = now
		return id, true, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		// lost the race or the pair already talks
	default:
		return 0, false, fmt.Errorf("insert conversation: %w", err)
	}

	existing, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE pair_key = $1`, c.PairKey))
	if err != nil {
		return 0, false, fmt.Errorf("load conversation %s: %w", c.PairKey, err)
	}
	*c = existing
	return existing.ID, false, nil
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id int64) (chat.Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, fmt.Errorf("conversation %d: %w", id, relay_errors.ErrNotFound)
	}
	return c, err
}

func (r *PostgresConversationRepository) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]chat.Conversation, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM conversations WHERE creator_id = $1 OR other_id = $1
    `, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT `+conversationColumns+`
        FROM conversations
        WHERE creator_id = $1 OR other_id = $1
        ORDER BY last_activity_at DESC, id DESC
        LIMIT $2 OFFSET $3
    `, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []chat.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, c)
	}
	return list, total, rows.Err()
}

func (r *PostgresConversationRepository) TouchActivity(ctx context.Context, tx DBTX, id int64, at time.Time) error {
	res, err := pick(tx, r.db).ExecContext(ctx, `
        UPDATE conversations SET last_activity_at = $1 WHERE id = $2
    `, at, id)
	if err != nil {
		return err
	}
	return rowsAffected(res, relay_errors.ErrNotFound)
}

func (r *PostgresConversationRepository) CountWithUnreadFor(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
        SELECT COUNT(DISTINCT c.id)
        FROM conversations c
        JOIN messages m ON m.conversation_id = c.id
        WHERE (c.creator_id = $1 OR c.other_id = $1)
          AND m.sender_id <> $1
          AND NOT m.is_viewed
    `, userID).Scan(&n)
	return n, err
}
