package services

import (
	"context"
	"testing"
	"time"

	"relay-chat/internal/auth"
	"relay-chat/internal/domain/notification"
	"relay-chat/internal/domain/outbox"
	"relay-chat/internal/events"
	"relay-chat/internal/textform"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = auth.Profile{ID: 1, Username: "alice"}
	bob   = auth.Profile{ID: 2, Username: "bob"}
	carol = auth.Profile{ID: 3, Username: "carol"}
)

type chatFixture struct {
	svc       *ChatService
	convs     *fakeConversations
	messages  *fakeMessages
	outbox    *fakeOutbox
	publisher *fakePublisher
}

func newChatFixture() *chatFixture {
	msgs := &fakeMessages{}
	f := &chatFixture{
		convs:     newFakeConversations(msgs),
		messages:  msgs,
		outbox:    &fakeOutbox{},
		publisher: &fakePublisher{},
	}
	f.svc = NewChatService(fakeTx{}, f.convs, f.messages, f.outbox, newFakeAuth(alice, bob, carol),
		f.publisher, NewMetrics(nil), logger.NewNop())
	f.svc.clock = func() time.Time { return fixedNow }
	return f
}

func (f *chatFixture) conversation(t *testing.T) int64 {
	t.Helper()
	id, err := f.svc.CreateConversation(context.Background(), "token-alice", bob.ID)
	require.NoError(t, err)
	return id
}

func TestCreateConversationIsIdempotentInEitherOrder(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	first, err := f.svc.CreateConversation(ctx, "token-alice", bob.ID)
	require.NoError(t, err)
	again, err := f.svc.CreateConversation(ctx, "token-alice", bob.ID)
	require.NoError(t, err)
	reversed, err := f.svc.CreateConversation(ctx, "token-bob", alice.ID)
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.Equal(t, first, reversed)
	assert.Len(t, f.convs.rows, 1)
}

func TestCreateConversationRejectsSelfAndUnknownUsers(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	_, err := f.svc.CreateConversation(ctx, "token-alice", alice.ID)
	assert.ErrorIs(t, err, relay_errors.ErrInvalidInput)

	_, err = f.svc.CreateConversation(ctx, "token-alice", 99)
	assert.ErrorIs(t, err, relay_errors.ErrNotFound)

	_, err = f.svc.CreateConversation(ctx, "bad-token", bob.ID)
	assert.ErrorIs(t, err, relay_errors.ErrNotFound)
}

func TestSendMessageNotifiesTheOtherParticipant(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)

	msg, err := f.svc.SendMessage(context.Background(), id, "token-bob", "hello 😀")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, msg.SenderID)
	alias, ok := textform.Alias("😀")
	require.True(t, ok)
	stored := "hello :" + alias + ":"
	assert.Equal(t, stored, msg.Body)
	assert.Equal(t, fixedNow, f.convs.touch[id])

	require.Len(t, f.publisher.published, 1)
	event := f.publisher.published[0]
	assert.Equal(t, alice.ID, event.UserID)
	assert.Equal(t, notification.KindChat, event.NotificationType)
	assert.Equal(t, "bob sent you a message.", event.Title)
	assert.Equal(t, stored, event.Message)
	assert.Empty(t, f.outbox.rows)
}

func TestSendMessageRejectsOutsidersAndEmptyBodies(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, id, "token-carol", "hi")
	assert.ErrorIs(t, err, relay_errors.ErrForbidden)

	_, err = f.svc.SendMessage(ctx, id, "token-bob", "   ")
	assert.ErrorIs(t, err, relay_errors.ErrInvalidInput)

	_, err = f.svc.SendMessage(ctx, 404, "token-bob", "hi")
	assert.ErrorIs(t, err, relay_errors.ErrNotFound)

	assert.Empty(t, f.messages.rows)
	assert.Empty(t, f.publisher.published)
}

func TestSendMessageQueuesInOutboxWhenPublishFails(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	f.publisher.err = relay_errors.ErrTransport

	_, err := f.svc.SendMessage(context.Background(), id, "token-bob", "hi")
	require.NoError(t, err)

	require.Len(t, f.outbox.rows, 1)
	row := f.outbox.rows[0]
	assert.Equal(t, "1", row.PartitionKey)
	assert.Equal(t, events.EventTypeNotification, row.EventType)
	assert.Equal(t, outbox.StatusPending, row.Status)

	decoded, err := events.Decode(row.Payload)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, decoded.UserID)
}

func TestSendMessageQueuesBehindPendingOutboxRows(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	f.publisher.err = relay_errors.ErrTransport

	_, err := f.svc.SendMessage(context.Background(), id, "token-bob", "first")
	require.NoError(t, err)

	// The bus is back, but the first event has not been relayed yet.
	f.publisher.err = nil
	_, err = f.svc.SendMessage(context.Background(), id, "token-bob", "second")
	require.NoError(t, err)

	assert.Empty(t, f.publisher.published)
	assert.Len(t, f.outbox.rows, 2)
}

func TestSendMessageSwallowsSideEffectFailures(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	f.publisher.err = relay_errors.ErrTransport
	f.outbox.createErr = errBoom
	f.messages.markForErr = errBoom

	msg, err := f.svc.SendMessage(context.Background(), id, "token-bob", "hi")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Len(t, f.messages.rows, 1)
}

func TestSendMessagePublishesDirectlyWhenOutboxLookupFails(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	f.outbox.lookupErr = errBoom

	_, err := f.svc.SendMessage(context.Background(), id, "token-bob", "hi")
	require.NoError(t, err)
	assert.Len(t, f.publisher.published, 1)
}

func TestSendMessageNotifiesAfterCallerCancels(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.tx = cancelAfterCommit{cancel: cancel}

	_, err := f.svc.SendMessage(ctx, id, "token-bob", "hi")
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.Len(t, f.messages.rows, 1)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, alice.ID, f.publisher.published[0].UserID)
	assert.Empty(t, f.outbox.rows)
}

func TestSendMessageQueuesAfterCallerCancelsWhileBusIsDown(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	f.publisher.err = relay_errors.ErrTransport
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.tx = cancelAfterCommit{cancel: cancel}

	_, err := f.svc.SendMessage(ctx, id, "token-bob", "hi")
	require.NoError(t, err)

	require.Len(t, f.outbox.rows, 1)
	assert.Equal(t, "1", f.outbox.rows[0].PartitionKey)
}

func TestReplyMarksIncomingMessagesViewed(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, id, "token-bob", "one")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, id, "token-bob", "two")
	require.NoError(t, err)

	view, err := f.svc.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, view.UnviewedByUser[alice.ID])
	assert.Equal(t, 0, view.UnviewedByUser[bob.ID])

	_, err = f.svc.SendMessage(ctx, id, "token-alice", "reply")
	require.NoError(t, err)

	view, err = f.svc.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, view.UnviewedByUser[alice.ID])
	assert.Equal(t, 1, view.UnviewedByUser[bob.ID])
	require.NotNil(t, view.LastMessage)
	assert.Equal(t, "reply", view.LastMessage.Body)
}

func TestUnreadCountCountsConversations(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	withBob := f.conversation(t)
	withCarol, err := f.svc.CreateConversation(ctx, "token-carol", alice.ID)
	require.NoError(t, err)

	for _, body := range []string{"a", "b", "c"} {
		_, err := f.svc.SendMessage(ctx, withBob, "token-bob", body)
		require.NoError(t, err)
	}
	_, err = f.svc.SendMessage(ctx, withCarol, "token-carol", "d")
	require.NoError(t, err)

	n, err := f.svc.UnreadCountForUser(ctx, "token-alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, f.svc.MarkAllViewedForUser(ctx, withBob, "token-alice"))
	n, err = f.svc.UnreadCountForUser(ctx, "token-alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.UnreadCountForUser(ctx, "token-bob")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMarkAllViewedRejectsOutsiders(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	err := f.svc.MarkAllViewedForUser(context.Background(), id, "token-carol")
	assert.ErrorIs(t, err, relay_errors.ErrForbidden)
}

func TestMarkMessageViewedTwiceIsNoop(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, id, "token-bob", "hi")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkMessageViewed(ctx, msg.ID))
	require.NoError(t, f.svc.MarkMessageViewed(ctx, msg.ID))

	stored, err := f.messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsViewed)
}

func TestListMessagesReturnsDisplayFormNewestFirst(t *testing.T) {
	f := newChatFixture()
	id := f.conversation(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second 😀", "third"} {
		_, err := f.svc.SendMessage(ctx, id, "token-bob", body)
		require.NoError(t, err)
	}

	page, err := f.svc.ListMessages(ctx, id, 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "third", page.Items[0].Body)
	assert.Equal(t, "second 😀", page.Items[1].Body)
	assert.Equal(t, int64(3), page.TotalItems)
	assert.True(t, page.HasNext)

	_, err = f.svc.ListMessages(ctx, 404, 0, 2)
	assert.ErrorIs(t, err, relay_errors.ErrNotFound)
}

func TestListConversationsForUser(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	f.conversation(t)
	_, err := f.svc.CreateConversation(ctx, "token-carol", bob.ID)
	require.NoError(t, err)

	page, err := f.svc.ListConversationsForUser(ctx, bob.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, DefaultChatPageSize, page.Size)

	page, err = f.svc.ListConversationsForUser(ctx, alice.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestProfilesFallsBackToBareIDs(t *testing.T) {
	f := newChatFixture()
	got := f.svc.Profiles(context.Background(), "token-alice", alice.ID, 77, alice.ID)
	assert.Len(t, got, 2)
	assert.Equal(t, "alice", got[alice.ID].Username)
	assert.Equal(t, auth.Profile{ID: 77}, got[77])
}
