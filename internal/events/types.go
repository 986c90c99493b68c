package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"relay-chat/internal/domain/notification"
)

const EventTypeNotification = "notification.created"

// NotificationEvent is the wire DTO shared by the chat and notification
// services, on the bus and on the real-time channel.
type NotificationEvent struct {
	ID               int64             `json:"id"`
	UserID           int64             `json:"userId"`
	Message          string            `json:"message"`
	IsRead           bool              `json:"isRead"`
	CreationDate     time.Time         `json:"creationDate"`
	NotificationType notification.Kind `json:"notificationType"`
	Title            string            `json:"title"`
}

// Key is the bus ordering key: the decimal target user id.
func (e NotificationEvent) Key() string {
	return strconv.FormatInt(e.UserID, 10)
}

// Validate checks the fields every consumer relies on.
func (e NotificationEvent) Validate() error {
	if e.UserID <= 0 {
		return fmt.Errorf("notification event: invalid userId %d", e.UserID)
	}
	if !e.NotificationType.Valid() {
		return fmt.Errorf("notification event: unknown notificationType %q", e.NotificationType)
	}
	return nil
}

func Encode(e NotificationEvent) ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (NotificationEvent, error) {
	var e NotificationEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("decode notification event: %w", err)
	}
	return e, e.Validate()
}

// FromNotification builds the DTO of a persisted notification.
func FromNotification(n notification.Notification) NotificationEvent {
	return NotificationEvent{
		ID:               n.ID,
		UserID:           n.UserID,
		Message:          n.Message,
		IsRead:           n.IsRead,
		CreationDate:     n.CreationDate,
		NotificationType: n.Kind,
		Title:            n.Title,
	}
}

// Publisher appends notification events to the bus.
type Publisher interface {
	Publish(ctx context.Context, event NotificationEvent) error
}

// Delivery is one bus entry handed to a Handler.
type Delivery struct {
	// Ref uniquely identifies the entry on the bus ("stream/entry-id").
	Ref   string
	Key   string
	Event NotificationEvent
}

// Handler processes deliveries. A nil error acknowledges the entry; any
// error leaves it pending for redelivery.
type Handler interface {
	Handle(ctx context.Context, d Delivery) error
}
