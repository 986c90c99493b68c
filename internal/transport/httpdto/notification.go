package httpdto

import (
	"relay-chat/internal/domain/notification"
	"relay-chat/internal/events"
)

// NotificationDTO is the notification shape shared with the real-time channel.
type NotificationDTO = events.NotificationEvent

type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

type PushResponse struct {
	MessageID string `json:"messageId"`
}

func ToNotificationDTO(n notification.Notification) NotificationDTO {
	return events.FromNotification(n)
}

func ToNotificationDTOs(list []notification.Notification) []NotificationDTO {
	out := make([]NotificationDTO, len(list))
	for i, n := range list {
		out[i] = ToNotificationDTO(n)
	}
	return out
}
