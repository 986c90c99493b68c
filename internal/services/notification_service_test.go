package services

import (
	"context"
	"sort"
	"testing"
	"time"

	"relay-chat/internal/domain/notification"
	"relay-chat/internal/repository"
	"relay-chat/internal/textform"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotificationRepo struct {
	rows []notification.Notification
}

func (f *fakeNotificationRepo) Insert(_ context.Context, n *notification.Notification) (bool, error) {
	n.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, *n)
	return true, nil
}

func (f *fakeNotificationRepo) GetByID(_ context.Context, id int64) (notification.Notification, error) {
	for _, n := range f.rows {
		if n.ID == id {
			return n, nil
		}
	}
	return notification.Notification{}, relay_errors.ErrNotFound
}

func (f *fakeNotificationRepo) ListForUser(_ context.Context, userID int64, column string, desc bool, limit, offset int) ([]notification.Notification, int64, error) {
	var out []notification.Notification
	for _, n := range f.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	less := func(i, j int) bool { return out[i].ID < out[j].ID }
	if column == "title" {
		less = func(i, j int) bool { return out[i].Title < out[j].Title }
	}
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return less(j, i)
		}
		return less(i, j)
	})
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	end := min(offset+limit, len(out))
	return out[offset:end], total, nil
}

func (f *fakeNotificationRepo) ListByReadState(_ context.Context, userID int64, isRead bool) ([]notification.Notification, error) {
	var out []notification.Notification
	for _, n := range f.rows {
		if n.UserID == userID && n.IsRead == isRead {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) MarkRead(_ context.Context, id int64) error {
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].IsRead = true
			return nil
		}
	}
	return relay_errors.ErrNotFound
}

func (f *fakeNotificationRepo) MarkAllRead(_ context.Context, userID int64) (int64, error) {
	var n int64
	for i := range f.rows {
		if f.rows[i].UserID == userID && !f.rows[i].IsRead {
			f.rows[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (f *fakeNotificationRepo) Delete(_ context.Context, id int64) error {
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return relay_errors.ErrNotFound
}

var _ repository.NotificationRepository = (*fakeNotificationRepo)(nil)

func newNotificationFixture() (*NotificationService, *fakeNotificationRepo, *fakePublisher, *fakeRelay) {
	repo := &fakeNotificationRepo{}
	pub := &fakePublisher{}
	relay := &fakeRelay{}
	svc := NewNotificationService(repo, pub, relay, logger.NewNop())
	svc.clock = func() time.Time { return fixedNow }
	return svc, repo, pub, relay
}

func seed(repo *fakeNotificationRepo, userID int64, titles ...string) {
	for _, title := range titles {
		n := notification.Notification{UserID: userID, Title: title, Kind: notification.KindTask, Message: textform.ToStorageForm("ok 👍")}
		_, _ = repo.Insert(context.Background(), &n)
	}
}

func TestListForUserPagesAndSorts(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()
	seed(repo, 7, "b", "a", "c")
	seed(repo, 8, "z")

	page, err := svc.ListForUser(context.Background(), 7, 0, 2, "title", "desc")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].Title)
	assert.Equal(t, "b", page.Items[1].Title)
	assert.Equal(t, int64(3), page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, "ok 👍", page.Items[0].Message)

	page, err = svc.ListForUser(context.Background(), 7, 0, 0, "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultNotificationPageSize, page.Size)
	assert.Len(t, page.Items, 3)
}

func TestListForUserRejectsUnknownSort(t *testing.T) {
	svc, _, _, _ := newNotificationFixture()

	_, err := svc.ListForUser(context.Background(), 7, 0, 10, "password", "ASC")
	assert.ErrorIs(t, err, relay_errors.ErrInvalidInput)

	_, err = svc.ListForUser(context.Background(), 7, 0, 10, "id", "sideways")
	assert.ErrorIs(t, err, relay_errors.ErrInvalidInput)
}

func TestReadStateLifecycle(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()
	seed(repo, 7, "a", "b", "c")
	ctx := context.Background()

	require.NoError(t, svc.MarkRead(ctx, 1))
	require.NoError(t, svc.MarkRead(ctx, 1))

	read, err := svc.ListRead(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, read, 1)
	unread, err := svc.ListUnread(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	n, err := svc.MarkAllRead(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, svc.Delete(ctx, 2))
	assert.ErrorIs(t, svc.Delete(ctx, 2), relay_errors.ErrNotFound)
	assert.ErrorIs(t, svc.MarkRead(ctx, 99), relay_errors.ErrNotFound)
}

func TestSendPublishesStorageForm(t *testing.T) {
	svc, _, pub, _ := newNotificationFixture()

	err := svc.Send(context.Background(), SendRequest{UserID: 7, Title: "Paid", Message: "done 👍"}, notification.KindTransaction)
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	e := pub.published[0]
	assert.Equal(t, int64(7), e.UserID)
	assert.Equal(t, notification.KindTransaction, e.NotificationType)
	assert.Equal(t, textform.ToStorageForm("done 👍"), e.Message)
	assert.Equal(t, fixedNow, e.CreationDate)
	assert.False(t, e.IsRead)
}

func TestSendValidatesInput(t *testing.T) {
	svc, _, pub, _ := newNotificationFixture()

	err := svc.Send(context.Background(), SendRequest{UserID: 0}, notification.KindUser)
	assert.ErrorIs(t, err, relay_errors.ErrInvalidInput)

	err = svc.Send(context.Background(), SendRequest{UserID: 1}, notification.Kind("NOPE"))
	assert.ErrorIs(t, err, relay_errors.ErrInvalidInput)

	pub.err = relay_errors.ErrTransport
	err = svc.Send(context.Background(), SendRequest{UserID: 1}, notification.KindUser)
	assert.ErrorIs(t, err, relay_errors.ErrTransport)
}

func TestBroadcastRelaysWithoutPersisting(t *testing.T) {
	svc, repo, pub, relay := newNotificationFixture()

	err := svc.Broadcast(context.Background(), SendRequest{Title: "Maintenance", Message: "tonight"}, notification.KindAdvert)
	require.NoError(t, err)

	require.Len(t, relay.sent, 1)
	assert.Equal(t, "Maintenance", relay.sent[0].Title)
	assert.Empty(t, repo.rows)
	assert.Empty(t, pub.published)
}
