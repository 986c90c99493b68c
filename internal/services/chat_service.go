package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relay-chat/internal/auth"
	"relay-chat/internal/domain/chat"
	"relay-chat/internal/domain/notification"
	"relay-chat/internal/domain/outbox"
	"relay-chat/internal/domain/pagination"
	"relay-chat/internal/events"
	"relay-chat/internal/repository"
	"relay-chat/internal/textform"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"go.uber.org/zap"
)

const (
	DefaultChatPageSize = 10
	// Bound for the work done after a message is committed.
	sideEffectTimeout = 10 * time.Second
)

type ChatService struct {
	tx        repository.Transactor
	convs     repository.ConversationRepository
	messages  repository.MessageRepository
	outbox    repository.OutboxRepository
	auth      auth.Provider
	publisher events.Publisher
	metrics   *Metrics
	log       *logger.Logger
	clock     func() time.Time
}

func NewChatService(
	tx repository.Transactor,
	convs repository.ConversationRepository,
	messages repository.MessageRepository,
	outboxRepo repository.OutboxRepository,
	authProvider auth.Provider,
	publisher events.Publisher,
	metrics *Metrics,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		tx:        tx,
		convs:     convs,
		messages:  messages,
		outbox:    outboxRepo,
		auth:      authProvider,
		publisher: publisher,
		metrics:   metrics,
		log:       log.Named("chat"),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation returns the conversation between the token's owner and
// otherUserID, creating it on first contact. Repeated calls in either
// direction return the same id.
func (s *ChatService) CreateConversation(ctx context.Context, requesterToken string, otherUserID int64) (int64, error) {
	requester, err := s.auth.FetchProfile(ctx, requesterToken)
	if err != nil {
		return 0, fmt.Errorf("resolve requester: %w", err)
	}
	if otherUserID <= 0 || otherUserID == requester.ID {
		return 0, fmt.Errorf("cannot start a conversation with user %d: %w", otherUserID, relay_errors.ErrInvalidInput)
	}
	other, err := s.auth.FetchUserByID(ctx, requesterToken, otherUserID)
	if err != nil {
		return 0, fmt.Errorf("resolve other user: %w", err)
	}

	conv := &chat.Conversation{
		CreatorID: requester.ID,
		OtherID:   other.ID,
		PairKey:   chat.PairKey(requester.ID, other.ID),
		CreatedAt: s.clock(),
	}
	id, created, err := s.convs.CreateIfAbsent(ctx, conv)
	if err != nil {
		return 0, err
	}
	if created {
		s.log.InfoCtx(ctx, "conversation created", zap.Int64("conversation_id", id), zap.String("pair_key", conv.PairKey))
	}
	return id, nil
}

// SendMessage stores body from the token's owner and notifies the other
// participant. A failure to notify never fails the send.
func (s *ChatService) SendMessage(ctx context.Context, conversationID int64, senderToken, body string) (chat.Message, error) {
	sender, err := s.auth.FetchProfile(ctx, senderToken)
	if err != nil {
		return chat.Message{}, fmt.Errorf("resolve sender: %w", err)
	}
	if strings.TrimSpace(body) == "" {
		return chat.Message{}, fmt.Errorf("empty message: %w", relay_errors.ErrInvalidInput)
	}

	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return chat.Message{}, err
	}
	if !conv.HasParticipant(sender.ID) {
		return chat.Message{}, fmt.Errorf("user %d in conversation %d: %w", sender.ID, conversationID, relay_errors.ErrForbidden)
	}

	now := s.clock()
	msg := chat.Message{
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Body:           textform.ToStorageForm(body),
		CreatedAt:      now,
	}
	err = s.tx.WithinTx(ctx, func(tx repository.DBTX) error {
		if err := s.messages.Create(ctx, tx, &msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return s.convs.TouchActivity(ctx, tx, conv.ID, now)
	})
	if err != nil {
		return chat.Message{}, err
	}
	s.metrics.MessagesSent.Inc()

	// The message is committed; a caller that goes away must not take its
	// notification with it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	s.notify(ctx, events.NotificationEvent{
		UserID:           conv.Counterpart(sender.ID),
		Message:          msg.Body,
		CreationDate:     now,
		NotificationType: notification.KindChat,
		Title:            sender.Username + " sent you a message.",
	})

	// Replying implies the sender has read what came before.
	if _, err := s.messages.MarkViewedFor(ctx, conv.ID, sender.ID); err != nil {
		s.log.WarnCtx(ctx, "mark incoming messages viewed failed",
			zap.Int64("conversation_id", conv.ID), zap.Error(err))
	}
	return msg, nil
}

// notify publishes event directly unless earlier events for the same user
// still sit in the outbox, in which case it queues behind them. A direct
// publish failure also queues.
func (s *ChatService) notify(ctx context.Context, event events.NotificationEvent) {
	key := event.Key()
	queued, err := s.outbox.HasUnpublished(ctx, key)
	if err != nil {
		s.log.WarnCtx(ctx, "outbox lookup failed, publishing directly", zap.Error(err))
		queued = false
	}
	if !queued {
		err := s.publisher.Publish(ctx, event)
		if err == nil {
			return
		}
		s.log.WarnCtx(ctx, "publish failed, queueing in outbox", zap.String("key", key), zap.Error(err))
	}

	payload, err := events.Encode(event)
	if err == nil {
		err = s.outbox.Create(ctx, nil, &outbox.OutboxEvent{
			EventType:    events.EventTypeNotification,
			PartitionKey: key,
			Payload:      payload,
			CreatedAt:    s.clock(),
		})
	}
	if err != nil {
		s.log.ErrorCtx(ctx, "notification event dropped", zap.String("key", key), zap.Error(err))
		return
	}
	s.metrics.PublishOutbox.Inc()
}

func (s *ChatService) ListConversationsForUser(ctx context.Context, userID int64, page, size int) (pagination.Page[chat.Conversation], error) {
	req := pagination.NewRequest(page, size, DefaultChatPageSize)
	list, total, err := s.convs.ListForUser(ctx, userID, req.Size, req.Offset())
	if err != nil {
		return pagination.Page[chat.Conversation]{}, err
	}
	return pagination.New(list, req, total), nil
}

// GetConversation returns the conversation with its latest message and the
// number of messages each participant has not viewed.
func (s *ChatService) GetConversation(ctx context.Context, id int64) (chat.ConversationView, error) {
	conv, err := s.convs.GetByID(ctx, id)
	if err != nil {
		return chat.ConversationView{}, err
	}
	last, err := s.messages.Latest(ctx, id)
	if err != nil {
		return chat.ConversationView{}, err
	}
	if last != nil {
		last.Body = textform.ToDisplayForm(last.Body)
	}
	bySender, err := s.messages.UnviewedBySender(ctx, id)
	if err != nil {
		return chat.ConversationView{}, err
	}

	unviewed := map[int64]int{conv.CreatorID: 0, conv.OtherID: 0}
	for sender, n := range bySender {
		unviewed[conv.Counterpart(sender)] += n
	}
	return chat.ConversationView{Conversation: conv, LastMessage: last, UnviewedByUser: unviewed}, nil
}

// ListMessages pages through a conversation newest first, in display form.
func (s *ChatService) ListMessages(ctx context.Context, conversationID int64, page, size int) (pagination.Page[chat.Message], error) {
	if _, err := s.convs.GetByID(ctx, conversationID); err != nil {
		return pagination.Page[chat.Message]{}, err
	}
	req := pagination.NewRequest(page, size, DefaultChatPageSize)
	list, total, err := s.messages.ListByConversation(ctx, conversationID, req.Size, req.Offset())
	if err != nil {
		return pagination.Page[chat.Message]{}, err
	}
	for i := range list {
		list[i].Body = textform.ToDisplayForm(list[i].Body)
	}
	return pagination.New(list, req, total), nil
}

// MarkMessageViewed is a no-op for a message that is already viewed.
func (s *ChatService) MarkMessageViewed(ctx context.Context, messageID int64) error {
	return s.messages.MarkViewed(ctx, messageID)
}

// MarkAllViewedForUser marks every message the token's owner received in the
// conversation as viewed.
func (s *ChatService) MarkAllViewedForUser(ctx context.Context, conversationID int64, userToken string) error {
	user, err := s.auth.FetchProfile(ctx, userToken)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(user.ID) {
		return fmt.Errorf("user %d in conversation %d: %w", user.ID, conversationID, relay_errors.ErrForbidden)
	}
	_, err = s.messages.MarkViewedFor(ctx, conv.ID, user.ID)
	return err
}

// UnreadCountForUser counts conversations, not messages, that hold at least
// one message the token's owner has not viewed.
func (s *ChatService) UnreadCountForUser(ctx context.Context, userToken string) (int, error) {
	user, err := s.auth.FetchProfile(ctx, userToken)
	if err != nil {
		return 0, fmt.Errorf("resolve user: %w", err)
	}
	return s.convs.CountWithUnreadFor(ctx, user.ID)
}

// Profiles looks up each distinct user id with token. Users the provider
// cannot resolve come back with only their id set.
func (s *ChatService) Profiles(ctx context.Context, token string, ids ...int64) map[int64]auth.Profile {
	out := make(map[int64]auth.Profile, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		p, err := s.auth.FetchUserByID(ctx, token, id)
		if err != nil {
			s.log.WarnCtx(ctx, "profile lookup failed", zap.Int64("user_id", id), zap.Error(err))
			p = auth.Profile{ID: id}
		}
		out[id] = p
	}
	return out
}
