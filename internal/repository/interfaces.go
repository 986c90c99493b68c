package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"relay-chat/internal/domain/chat"
	"relay-chat/internal/domain/notification"
	"relay-chat/internal/domain/outbox"
)

type ConversationRepository interface {
	// CreateIfAbsent inserts c unless a conversation with the same pair key
	// exists, and returns the id of whichever row holds the key.
	CreateIfAbsent(ctx context.Context, c *chat.Conversation) (id int64, created bool, err error)
	GetByID(ctx context.Context, id int64) (chat.Conversation, error)
	ListForUser(ctx context.Context, userID int64, limit, offset int) ([]chat.Conversation, int64, error)
	TouchActivity(ctx context.Context, tx DBTX, id int64, at time.Time) error
	// CountWithUnreadFor counts conversations of userID holding at least one
	// unviewed message sent by the other participant.
	CountWithUnreadFor(ctx context.Context, userID int64) (int, error)
}

type MessageRepository interface {
	Create(ctx context.Context, tx DBTX, m *chat.Message) error
	GetByID(ctx context.Context, id int64) (chat.Message, error)
	ListByConversation(ctx context.Context, conversationID int64, limit, offset int) ([]chat.Message, int64, error)
	Latest(ctx context.Context, conversationID int64) (*chat.Message, error)
	// UnviewedBySender counts unviewed messages of a conversation per sender.
	UnviewedBySender(ctx context.Context, conversationID int64) (map[int64]int, error)
	MarkViewed(ctx context.Context, id int64) error
	// MarkViewedFor flips every unviewed message in the conversation that was
	// not sent by userID.
	MarkViewedFor(ctx context.Context, conversationID, userID int64) (int64, error)
}

type NotificationRepository interface {
	// Insert stores n unless a row with the same EventRef exists. n.ID is set
	// to the id of the stored row either way.
	Insert(ctx context.Context, n *notification.Notification) (inserted bool, err error)
	GetByID(ctx context.Context, id int64) (notification.Notification, error)
	ListForUser(ctx context.Context, userID int64, sortColumn string, desc bool, limit, offset int) ([]notification.Notification, int64, error)
	ListByReadState(ctx context.Context, userID int64, isRead bool) ([]notification.Notification, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	Delete(ctx context.Context, id int64) error
}

type OutboxRepository interface {
	Create(ctx context.Context, tx DBTX, event *outbox.OutboxEvent) error
	GetPending(ctx context.Context, limit, maxRetries int) ([]outbox.OutboxEvent, error)
	// HasUnpublished reports whether rows for partitionKey still wait to be
	// published.
	HasUnpublished(ctx context.Context, partitionKey string) (bool, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error
	IncrementRetry(ctx context.Context, id uuid.UUID, errorMsg string) error
}
