package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"relay-chat/internal/domain/notification"
	relay_errors "relay-chat/pkg/errors"
)

// NotificationSortColumns maps the accepted sort keys to their columns.
var NotificationSortColumns = map[string]string{
	"id":           "id",
	"creationDate": "creation_date",
	"title":        "title",
	"isRead":       "is_read",
}

type PostgresNotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) NotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

const notificationColumns = `id, user_id, message, title, notification_type, is_read, event_ref, creation_date`

func scanNotification(row interface{ Scan(...interface{}) error }) (notification.Notification, error) {
	var n notification.Notification
	var kind string
	err := row.Scan(&n.ID, &n.UserID, &n.Message, &n.Title, &kind, &n.IsRead, &n.EventRef, &n.CreationDate)
	n.Kind = notification.Kind(kind)
	return n, err
}

func (r *PostgresNotificationRepository) Insert(ctx context.Context, n *notification.Notification) (bool, error) {
	err := r.db.QueryRowContext(ctx, `
        INSERT INTO notifications (user_id, message, title, notification_type, is_read, event_ref, creation_date)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (event_ref) DO NOTHING
        RETURNING id
    `, n.UserID, n.Message, n.Title, string(n.Kind), n.IsRead, n.EventRef, n.CreationDate).Scan(&n.ID)
	if err == nil {
		return true, nil
	}
	if isDataError(err) {
		return false, fmt.Errorf("insert notification %s: %w: %w", n.EventRef, relay_errors.ErrInvalidInput, err)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("insert notification %s: %w", n.EventRef, err)
	}

	// Redelivered entry: the row exists already.
	if err := r.db.QueryRowContext(ctx,
		`SELECT id FROM notifications WHERE event_ref = $1`, n.EventRef).Scan(&n.ID); err != nil {
		return false, fmt.Errorf("load notification %s: %w", n.EventRef, err)
	}
	return false, nil
}

func (r *PostgresNotificationRepository) GetByID(ctx context.Context, id int64) (notification.Notification, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return notification.Notification{}, fmt.Errorf("notification %d: %w", id, relay_errors.ErrNotFound)
	}
	return n, err
}

func (r *PostgresNotificationRepository) ListForUser(ctx context.Context, userID int64, sortColumn string, desc bool, limit, offset int) ([]notification.Notification, int64, error) {
	column, ok := NotificationSortColumns[sortColumn]
	if !ok {
		return nil, 0, fmt.Errorf("sort %q: %w", sortColumn, relay_errors.ErrInvalidInput)
	}
	direction := "ASC"
	if desc {
		direction = "DESC"
	}

	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT `+notificationColumns+`
        FROM notifications
        WHERE user_id = $1
        ORDER BY `+column+` `+direction+`, id `+direction+`
        LIMIT $2 OFFSET $3
    `, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list, err := collectNotifications(rows)
	return list, total, err
}

func (r *PostgresNotificationRepository) ListByReadState(ctx context.Context, userID int64, isRead bool) ([]notification.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+notificationColumns+`
        FROM notifications
        WHERE user_id = $1 AND is_read = $2
        ORDER BY creation_date DESC, id DESC
    `, userID, isRead)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func collectNotifications(rows *sql.Rows) ([]notification.Notification, error) {
	var list []notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffected(res, fmt.Errorf("notification %d: %w", id, relay_errors.ErrNotFound))
}

func (r *PostgresNotificationRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresNotificationRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffected(res, fmt.Errorf("notification %d: %w", id, relay_errors.ErrNotFound))
}
