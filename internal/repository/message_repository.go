package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"relay-chat/internal/domain/chat"
	relay_errors "relay-chat/pkg/errors"
)

type PostgresMessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, body, is_viewed, created_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (chat.Message, error) {
	var m chat.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.IsViewed, &m.CreatedAt)
	return m, err
}

func (r *PostgresMessageRepository) Create(ctx context.Context, tx DBTX, m *chat.Message) error {
	return pick(tx, r.db).QueryRowContext(ctx, `
        INSERT INTO messages (conversation_id, sender_id, body, is_viewed, created_at)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id
    `, m.ConversationID, m.SenderID, m.Body, m.IsViewed, m.CreatedAt).Scan(&m.ID)
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id int64) (chat.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, fmt.Errorf("message %d: %w", id, relay_errors.ErrNotFound)
	}
	return m, err
}

func (r *PostgresMessageRepository) ListByConversation(ctx context.Context, conversationID int64, limit, offset int) ([]chat.Message, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM messages WHERE conversation_id = $1
    `, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	// id breaks ties between messages created in the same instant, so the
	// order is strict.
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE conversation_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3
    `, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, m)
	}
	return list, total, rows.Err()
}

func (r *PostgresMessageRepository) Latest(ctx context.Context, conversationID int64) (*chat.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE conversation_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT 1
    `, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PostgresMessageRepository) UnviewedBySender(ctx context.Context, conversationID int64) (map[int64]int, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT sender_id, COUNT(*)
        FROM messages
        WHERE conversation_id = $1 AND NOT is_viewed
        GROUP BY sender_id
    `, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var sender int64
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, err
		}
		counts[sender] = n
	}
	return counts, rows.Err()
}

// MarkViewed is idempotent: a message that is already viewed still matches.
func (r *PostgresMessageRepository) MarkViewed(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_viewed = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffected(res, fmt.Errorf("message %d: %w", id, relay_errors.ErrNotFound))
}

func (r *PostgresMessageRepository) MarkViewedFor(ctx context.Context, conversationID, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE messages SET is_viewed = TRUE
        WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_viewed
    `, conversationID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
