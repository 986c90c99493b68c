package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"relay-chat/internal/auth"
	"relay-chat/internal/domain/chat"
	"relay-chat/internal/domain/notification"
	"relay-chat/internal/domain/outbox"
	"relay-chat/internal/events"
	"relay-chat/internal/push"
	"relay-chat/internal/repository"
	relay_errors "relay-chat/pkg/errors"

	"github.com/google/uuid"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeTx struct{}

func (fakeTx) WithinTx(_ context.Context, fn func(tx repository.DBTX) error) error {
	return fn(nil)
}

// cancelAfterCommit cancels the caller's context once the transaction has
// committed, as a client hanging up right after the write would.
type cancelAfterCommit struct {
	cancel context.CancelFunc
}

func (c cancelAfterCommit) WithinTx(_ context.Context, fn func(tx repository.DBTX) error) error {
	if err := fn(nil); err != nil {
		return err
	}
	c.cancel()
	return nil
}

// fakeAuth maps tokens to profiles.
type fakeAuth struct {
	byToken map[string]auth.Profile
	byID    map[int64]auth.Profile
}

func newFakeAuth(profiles ...auth.Profile) *fakeAuth {
	a := &fakeAuth{byToken: map[string]auth.Profile{}, byID: map[int64]auth.Profile{}}
	for _, p := range profiles {
		a.byToken["token-"+p.Username] = p
		a.byID[p.ID] = p
	}
	return a
}

func (a *fakeAuth) FetchProfile(_ context.Context, token string) (auth.Profile, error) {
	p, ok := a.byToken[token]
	if !ok {
		return auth.Profile{}, relay_errors.ErrNotFound
	}
	return p, nil
}

func (a *fakeAuth) FetchUserByID(_ context.Context, _ string, id int64) (auth.Profile, error) {
	p, ok := a.byID[id]
	if !ok {
		return auth.Profile{}, relay_errors.ErrNotFound
	}
	return p, nil
}

type fakeConversations struct {
	mu    sync.Mutex
	rows  map[int64]chat.Conversation
	next  int64
	touch map[int64]time.Time
	// unread is what CountWithUnreadFor reports, computed from msgs.
	msgs *fakeMessages
}

func newFakeConversations(msgs *fakeMessages) *fakeConversations {
	return &fakeConversations{rows: map[int64]chat.Conversation{}, touch: map[int64]time.Time{}, msgs: msgs}
}

func (f *fakeConversations) CreateIfAbsent(_ context.Context, c *chat.Conversation) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range f.rows {
		if row.PairKey == c.PairKey {
			return id, false, nil
		}
	}
	f.next++
	c.ID = f.next
	f.rows[c.ID] = *c
	return c.ID, true, nil
}

func (f *fakeConversations) GetByID(_ context.Context, id int64) (chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return chat.Conversation{}, relay_errors.ErrNotFound
	}
	return c, nil
}

func (f *fakeConversations) ListForUser(_ context.Context, userID int64, limit, offset int) ([]chat.Conversation, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.Conversation
	for _, c := range f.rows {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (f *fakeConversations) TouchActivity(_ context.Context, _ repository.DBTX, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touch[id] = at
	return nil
}

func (f *fakeConversations) CountWithUnreadFor(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	convs := make([]chat.Conversation, 0, len(f.rows))
	for _, c := range f.rows {
		convs = append(convs, c)
	}
	f.mu.Unlock()

	n := 0
	for _, c := range convs {
		if !c.HasParticipant(userID) {
			continue
		}
		counts, _ := f.msgs.UnviewedBySender(context.Background(), c.ID)
		if counts[c.Counterpart(userID)] > 0 {
			n++
		}
	}
	return n, nil
}

type fakeMessages struct {
	mu         sync.Mutex
	rows       []chat.Message
	markForErr error
}

func (f *fakeMessages) Create(_ context.Context, _ repository.DBTX, m *chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, *m)
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id int64) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.rows {
		if m.ID == id {
			return m, nil
		}
	}
	return chat.Message{}, relay_errors.ErrNotFound
}

func (f *fakeMessages) ListByConversation(_ context.Context, convID int64, limit, offset int) ([]chat.Message, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.Message
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].ConversationID == convID {
			out = append(out, f.rows[i])
		}
	}
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (f *fakeMessages) Latest(_ context.Context, convID int64) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].ConversationID == convID {
			m := f.rows[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeMessages) UnviewedBySender(_ context.Context, convID int64) (map[int64]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]int{}
	for _, m := range f.rows {
		if m.ConversationID == convID && !m.IsViewed {
			out[m.SenderID]++
		}
	}
	return out, nil
}

func (f *fakeMessages) MarkViewed(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].IsViewed = true
			return nil
		}
	}
	return relay_errors.ErrNotFound
}

func (f *fakeMessages) MarkViewedFor(_ context.Context, convID, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markForErr != nil {
		return 0, f.markForErr
	}
	var n int64
	for i := range f.rows {
		m := &f.rows[i]
		if m.ConversationID == convID && m.SenderID != userID && !m.IsViewed {
			m.IsViewed = true
			n++
		}
	}
	return n, nil
}

type fakeOutbox struct {
	mu        sync.Mutex
	rows      []outbox.OutboxEvent
	lookupErr error
	createErr error
}

func (f *fakeOutbox) Create(ctx context.Context, _ repository.DBTX, e *outbox.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.createErr != nil {
		return f.createErr
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = outbox.StatusPending
	}
	f.rows = append(f.rows, *e)
	return nil
}

func (f *fakeOutbox) GetPending(_ context.Context, limit, maxRetries int) ([]outbox.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbox.OutboxEvent
	for _, e := range f.rows {
		if e.Status == outbox.StatusPending && e.RetryCount < maxRetries && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeOutbox) HasUnpublished(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	for _, e := range f.rows {
		if e.PartitionKey == key && e.Status != outbox.StatusCompleted && e.Status != outbox.StatusFailed {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOutbox) setStatus(id uuid.UUID, fn func(e *outbox.OutboxEvent)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			fn(&f.rows[i])
			return nil
		}
	}
	return relay_errors.ErrNotFound
}

func (f *fakeOutbox) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return f.setStatus(id, func(e *outbox.OutboxEvent) { e.Status = outbox.StatusProcessing })
}

func (f *fakeOutbox) MarkCompleted(_ context.Context, id uuid.UUID) error {
	return f.setStatus(id, func(e *outbox.OutboxEvent) { e.Status = outbox.StatusCompleted })
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, msg string) error {
	return f.setStatus(id, func(e *outbox.OutboxEvent) { e.Status = outbox.StatusFailed; e.Error = msg })
}

func (f *fakeOutbox) IncrementRetry(_ context.Context, id uuid.UUID, msg string) error {
	return f.setStatus(id, func(e *outbox.OutboxEvent) {
		e.RetryCount++
		e.Status = outbox.StatusPending
		e.Error = msg
	})
}

type fakePublisher struct {
	mu        sync.Mutex
	published []events.NotificationEvent
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, e events.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, e)
	return nil
}

type fakeStore struct {
	mu    sync.Mutex
	byRef map[string]notification.Notification
	next  int64
	err   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{byRef: map[string]notification.Notification{}}
}

func (f *fakeStore) Insert(_ context.Context, n *notification.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if existing, ok := f.byRef[n.EventRef]; ok {
		n.ID = existing.ID
		return false, nil
	}
	f.next++
	n.ID = f.next
	f.byRef[n.EventRef] = *n
	return true, nil
}

type fakeRelay struct {
	mu   sync.Mutex
	sent []events.NotificationEvent
	err  error
}

func (f *fakeRelay) PublishToUser(_ context.Context, e events.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, e)
	return nil
}

func (f *fakeRelay) Broadcast(ctx context.Context, e events.NotificationEvent) error {
	return f.PublishToUser(ctx, e)
}

type fakePusher struct {
	mu     sync.Mutex
	calls  int
	topics []string
	err    error
}

func (f *fakePusher) SendToTopic(_ context.Context, _ push.Request, topic string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.topics = append(f.topics, topic)
	return "msg-id", nil
}

var errBoom = errors.New("boom")
