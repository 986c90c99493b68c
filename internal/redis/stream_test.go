package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"relay-chat/internal/domain/notification"
	"relay-chat/internal/events"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type recorder struct {
	mu         sync.Mutex
	deliveries []events.Delivery
	fail       func(n int, d events.Delivery) error
}

func (r *recorder) Handle(_ context.Context, d events.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	if r.fail != nil {
		return r.fail(len(r.deliveries), d)
	}
	return nil
}

func (r *recorder) snapshot() []events.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Delivery(nil), r.deliveries...)
}

type countingObserver struct {
	mu    sync.Mutex
	count int
}

func (o *countingObserver) DeadLettered(string, string) {
	o.mu.Lock()
	o.count++
	o.mu.Unlock()
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Topic:       "notifications",
		Partitions:  4,
		Group:       "dispatcher",
		Consumer:    "test",
		WorkerIndex: 0,
		WorkerCount: 1,
		Block:       20 * time.Millisecond,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

// startConsumer runs c until the returned stop func or the test's cleanup.
func startConsumer(t *testing.T, c *StreamConsumer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Error("consumer did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func pendingCount(t *testing.T, client *goredis.Client, stream, group string) int64 {
	t.Helper()
	pending, err := client.XPending(context.Background(), stream, group).Result()
	require.NoError(t, err)
	return pending.Count
}

func publishEvent(t *testing.T, p *StreamProducer, userID int64, title string) string {
	t.Helper()
	e := events.NotificationEvent{UserID: userID, NotificationType: notification.KindTask, Title: title}
	payload, err := events.Encode(e)
	require.NoError(t, err)
	ref, err := p.Append(context.Background(), e.Key(), payload)
	require.NoError(t, err)
	return ref
}

func TestPartitionIsStable(t *testing.T) {
	for _, key := range []string{"1", "2", "42", "100000"} {
		p := Partition(key, 8)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 8)
		assert.Equal(t, p, Partition(key, 8))
	}
	assert.Equal(t, 0, Partition("7", 1))
}

func TestOwnedPartitions(t *testing.T) {
	cfg := testConsumerConfig()
	cfg.Partitions = 8
	cfg.WorkerIndex = 1
	cfg.WorkerCount = 3
	c := NewStreamConsumer(nil, cfg, &recorder{}, nil, logger.NewNop())
	assert.Equal(t, []int{1, 4, 7}, c.OwnedPartitions())
}

func TestAppendRoutesKeyToItsPartition(t *testing.T) {
	_, client := newTestRedis(t)
	p := NewStreamProducer(client, ProducerConfig{Topic: "notifications", Partitions: 4})

	ref := publishEvent(t, p, 7, "a")
	stream := StreamName("notifications", Partition("7", 4))
	assert.True(t, strings.HasPrefix(ref, stream+"/"), ref)

	n, err := client.XLen(context.Background(), stream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConsumerDeliversInKeyOrder(t *testing.T) {
	_, client := newTestRedis(t)
	p := NewStreamProducer(client, ProducerConfig{Topic: "notifications", Partitions: 4})
	rec := &recorder{}
	startConsumer(t, NewStreamConsumer(client, testConsumerConfig(), rec, nil, logger.NewNop()))

	titles := []string{"one", "two", "three", "four", "five"}
	for _, title := range titles {
		publishEvent(t, p, 7, title)
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == len(titles) }, 2*time.Second, 10*time.Millisecond)
	for i, d := range rec.snapshot() {
		assert.Equal(t, titles[i], d.Event.Title)
		assert.Equal(t, "7", d.Key)
	}
}

func TestConsumerRedeliversUntilHandled(t *testing.T) {
	_, client := newTestRedis(t)
	p := NewStreamProducer(client, ProducerConfig{Topic: "notifications", Partitions: 1})
	rec := &recorder{fail: func(n int, _ events.Delivery) error {
		if n == 1 {
			return errors.New("store down")
		}
		return nil
	}}
	cfg := testConsumerConfig()
	cfg.Partitions = 1
	startConsumer(t, NewStreamConsumer(client, cfg, rec, nil, logger.NewNop()))

	first := publishEvent(t, p, 3, "first")
	publishEvent(t, p, 3, "second")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	got := rec.snapshot()
	assert.Equal(t, first, got[0].Ref)
	assert.Equal(t, first, got[1].Ref)
	assert.Equal(t, "second", got[2].Event.Title)

	require.Eventually(t, func() bool {
		return pendingCount(t, client, StreamName("notifications", 0), cfg.Group) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumerDeadLettersUndecodableEntries(t *testing.T) {
	_, client := newTestRedis(t)
	rec := &recorder{}
	obs := &countingObserver{}
	cfg := testConsumerConfig()
	cfg.Partitions = 1
	startConsumer(t, NewStreamConsumer(client, cfg, rec, obs, logger.NewNop()))

	require.NoError(t, client.XAdd(context.Background(), &goredis.XAddArgs{
		Stream: StreamName("notifications", 0),
		Values: map[string]interface{}{"key": "3", "value": "{broken"},
	}).Err())

	require.Eventually(t, func() bool {
		n, err := client.XLen(context.Background(), DeadLetterStream("notifications")).Result()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, rec.snapshot())
	obs.mu.Lock()
	assert.Equal(t, 1, obs.count)
	obs.mu.Unlock()
}

func TestConsumerRetriesTransientFailuresWithoutLimit(t *testing.T) {
	_, client := newTestRedis(t)
	p := NewStreamProducer(client, ProducerConfig{Topic: "notifications", Partitions: 1})
	rec := &recorder{fail: func(n int, _ events.Delivery) error {
		if n <= 25 {
			return errors.New("store down")
		}
		return nil
	}}
	obs := &countingObserver{}
	cfg := testConsumerConfig()
	cfg.Partitions = 1
	startConsumer(t, NewStreamConsumer(client, cfg, rec, obs, logger.NewNop()))

	ref := publishEvent(t, p, 9, "survives the outage")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 26 }, 5*time.Second, 10*time.Millisecond)
	for _, d := range rec.snapshot() {
		assert.Equal(t, ref, d.Ref)
	}
	require.Eventually(t, func() bool {
		return pendingCount(t, client, StreamName("notifications", 0), cfg.Group) == 0
	}, 2*time.Second, 10*time.Millisecond)

	n, err := client.XLen(context.Background(), DeadLetterStream("notifications")).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
	obs.mu.Lock()
	assert.Zero(t, obs.count)
	obs.mu.Unlock()
}

func TestConsumerDeadLettersPermanentFailures(t *testing.T) {
	_, client := newTestRedis(t)
	p := NewStreamProducer(client, ProducerConfig{Topic: "notifications", Partitions: 1})
	rec := &recorder{fail: func(_ int, d events.Delivery) error {
		if d.Event.Title == "poison" {
			return fmt.Errorf("persist: %w: value too long", relay_errors.ErrPermanent)
		}
		return nil
	}}
	cfg := testConsumerConfig()
	cfg.Partitions = 1
	startConsumer(t, NewStreamConsumer(client, cfg, rec, nil, logger.NewNop()))

	publishEvent(t, p, 9, "poison")
	publishEvent(t, p, 9, "fine")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "poison", rec.snapshot()[0].Event.Title)
	assert.Equal(t, "fine", rec.snapshot()[1].Event.Title)

	dead, err := client.XRange(context.Background(), DeadLetterStream("notifications"), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Values["reason"], "permanent failure")
}

func TestConsumerClaimsEntriesLeftByPreviousName(t *testing.T) {
	_, client := newTestRedis(t)
	p := NewStreamProducer(client, ProducerConfig{Topic: "notifications", Partitions: 1})
	cfg := testConsumerConfig()
	cfg.Partitions = 1

	crashed := &recorder{fail: func(int, events.Delivery) error { return errors.New("store down") }}
	cfg.Consumer = "pod-a"
	stopA := startConsumer(t, NewStreamConsumer(client, cfg, crashed, nil, logger.NewNop()))

	first := publishEvent(t, p, 4, "before restart")
	require.Eventually(t, func() bool { return len(crashed.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	stopA()

	restarted := &recorder{}
	cfg.Consumer = "pod-b"
	startConsumer(t, NewStreamConsumer(client, cfg, restarted, nil, logger.NewNop()))
	publishEvent(t, p, 4, "after restart")

	require.Eventually(t, func() bool { return len(restarted.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := restarted.snapshot()
	assert.Equal(t, first, got[0].Ref)
	assert.Equal(t, "after restart", got[1].Event.Title)
	require.Eventually(t, func() bool {
		return pendingCount(t, client, StreamName("notifications", 0), cfg.Group) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumerStopsWithinOneBlock(t *testing.T) {
	_, client := newTestRedis(t)
	cfg := testConsumerConfig()
	cfg.Partitions = 1
	cfg.Block = time.Minute
	c := NewStreamConsumer(client, cfg, &recorder{}, nil, logger.NewNop())
	assert.Equal(t, maxBlock, c.cfg.Block)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(maxBlock + time.Second):
		t.Fatal("consumer kept blocking after cancellation")
	}
	assert.Less(t, time.Since(start), maxBlock+time.Second)
}
