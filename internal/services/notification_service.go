package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relay-chat/internal/domain/notification"
	"relay-chat/internal/domain/pagination"
	"relay-chat/internal/events"
	"relay-chat/internal/repository"
	"relay-chat/internal/textform"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"
)

const DefaultNotificationPageSize = 20

// SendRequest is a platform notification addressed to one user.
type SendRequest struct {
	UserID  int64  `json:"userId"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Broadcaster relays a notification to every live connection.
type Broadcaster interface {
	Broadcast(ctx context.Context, event events.NotificationEvent) error
}

type NotificationService struct {
	repo        repository.NotificationRepository
	publisher   events.Publisher
	broadcaster Broadcaster
	log         *logger.Logger
	clock       func() time.Time
}

func NewNotificationService(repo repository.NotificationRepository, publisher events.Publisher, broadcaster Broadcaster, log *logger.Logger) *NotificationService {
	return &NotificationService{
		repo:        repo,
		publisher:   publisher,
		broadcaster: broadcaster,
		log:         log.Named("notifications"),
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

func displayForm(n notification.Notification) notification.Notification {
	n.Message = textform.ToDisplayForm(n.Message)
	return n
}

// ListForUser pages through a user's notifications. sort is one of id,
// creationDate, title, isRead; direction is ASC or DESC.
func (s *NotificationService) ListForUser(ctx context.Context, userID int64, page, size int, sort, direction string) (pagination.Page[notification.Notification], error) {
	if sort == "" {
		sort = "id"
	}
	if _, ok := repository.NotificationSortColumns[sort]; !ok {
		return pagination.Page[notification.Notification]{}, fmt.Errorf("sort %q: %w", sort, relay_errors.ErrInvalidInput)
	}
	var desc bool
	switch strings.ToUpper(direction) {
	case "", "ASC":
	case "DESC":
		desc = true
	default:
		return pagination.Page[notification.Notification]{}, fmt.Errorf("direction %q: %w", direction, relay_errors.ErrInvalidInput)
	}

	req := pagination.NewRequest(page, size, DefaultNotificationPageSize)
	list, total, err := s.repo.ListForUser(ctx, userID, sort, desc, req.Size, req.Offset())
	if err != nil {
		return pagination.Page[notification.Notification]{}, err
	}
	return pagination.Map(pagination.New(list, req, total), displayForm), nil
}

func (s *NotificationService) ListRead(ctx context.Context, userID int64) ([]notification.Notification, error) {
	return s.listByReadState(ctx, userID, true)
}

func (s *NotificationService) ListUnread(ctx context.Context, userID int64) ([]notification.Notification, error) {
	return s.listByReadState(ctx, userID, false)
}

func (s *NotificationService) listByReadState(ctx context.Context, userID int64, isRead bool) ([]notification.Notification, error) {
	list, err := s.repo.ListByReadState(ctx, userID, isRead)
	if err != nil {
		return nil, err
	}
	out := make([]notification.Notification, len(list))
	for i, n := range list {
		out[i] = displayForm(n)
	}
	return out, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, id int64) error {
	return s.repo.MarkRead(ctx, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *NotificationService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Send puts a notification of kind on the bus; the dispatcher persists,
// relays and pushes it like any other event.
func (s *NotificationService) Send(ctx context.Context, req SendRequest, kind notification.Kind) error {
	if req.UserID <= 0 {
		return fmt.Errorf("userId %d: %w", req.UserID, relay_errors.ErrInvalidInput)
	}
	if !kind.Valid() {
		return fmt.Errorf("notificationType %q: %w", kind, relay_errors.ErrInvalidInput)
	}
	event := events.NotificationEvent{
		UserID:           req.UserID,
		Message:          textform.ToStorageForm(req.Message),
		CreationDate:     s.clock(),
		NotificationType: kind,
		Title:            req.Title,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Broadcast relays a transient notification to every connected client.
func (s *NotificationService) Broadcast(ctx context.Context, req SendRequest, kind notification.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("notificationType %q: %w", kind, relay_errors.ErrInvalidInput)
	}
	event := events.NotificationEvent{
		UserID:           req.UserID,
		Message:          req.Message,
		CreationDate:     s.clock(),
		NotificationType: kind,
		Title:            req.Title,
	}
	if err := s.broadcaster.Broadcast(ctx, event); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	return nil
}
