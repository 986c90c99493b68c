package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"relay-chat/internal/events"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stream entry fields.
const (
	fieldKey   = "key"
	fieldValue = "value"
)

// Partition maps a bus key onto one of n partitions.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}

// StreamName is the Redis stream backing partition p of topic.
func StreamName(topic string, p int) string {
	return fmt.Sprintf("%s:%d", topic, p)
}

// DeadLetterStream receives entries that could not be processed.
func DeadLetterStream(topic string) string {
	return topic + ":dead"
}

type ProducerConfig struct {
	Topic          string
	Partitions     int
	MaxLen         int64
	PublishTimeout time.Duration
}

// StreamProducer appends keyed entries to the partitioned topic. All entries
// with the same key go to the same stream, so they keep their order.
type StreamProducer struct {
	client *goredis.Client
	cfg    ProducerConfig
}

func NewStreamProducer(client *goredis.Client, cfg ProducerConfig) *StreamProducer {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	return &StreamProducer{client: client, cfg: cfg}
}

// Append adds value under key and returns the bus reference of the new entry.
// Failures are wrapped in ErrTransport.
func (p *StreamProducer) Append(ctx context.Context, key string, value []byte) (string, error) {
	if p.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
	}

	stream := StreamName(p.cfg.Topic, Partition(key, p.cfg.Partitions))
	args := &goredis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{fieldKey: key, fieldValue: value},
	}
	if p.cfg.MaxLen > 0 {
		args.MaxLen = p.cfg.MaxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w: %v", stream, relay_errors.ErrTransport, err)
	}
	return stream + "/" + id, nil
}

// maxBlock caps a single blocking read so that cancellation is noticed
// promptly.
const maxBlock = time.Second

type ConsumerConfig struct {
	Topic       string
	Partitions  int
	Group       string
	Consumer    string
	WorkerIndex int
	WorkerCount int
	// Block bounds one XREADGROUP wait. Capped at maxBlock.
	Block      time.Duration
	BatchSize  int64
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DeadLetterObserver is told about every entry moved to the dead-letter stream.
type DeadLetterObserver interface {
	DeadLettered(stream, reason string)
}

type nopObserver struct{}

func (nopObserver) DeadLettered(string, string) {}

// StreamConsumer reads the partitions owned by this worker through a
// consumer group. Entries are acknowledged only after the handler succeeds;
// a failing entry blocks its partition until it succeeds or is dead-lettered.
type StreamConsumer struct {
	client   *goredis.Client
	cfg      ConsumerConfig
	handler  events.Handler
	observer DeadLetterObserver
	log      *logger.Logger
}

func NewStreamConsumer(client *goredis.Client, cfg ConsumerConfig, handler events.Handler, observer DeadLetterObserver, log *logger.Logger) *StreamConsumer {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.Block <= 0 || cfg.Block > maxBlock {
		cfg.Block = maxBlock
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &StreamConsumer{
		client:   client,
		cfg:      cfg,
		handler:  handler,
		observer: observer,
		log:      log.Named("stream-consumer"),
	}
}

// OwnedPartitions lists the partitions p with p % WorkerCount == WorkerIndex.
func (c *StreamConsumer) OwnedPartitions() []int {
	var owned []int
	for p := 0; p < c.cfg.Partitions; p++ {
		if p%c.cfg.WorkerCount == c.cfg.WorkerIndex {
			owned = append(owned, p)
		}
	}
	return owned
}

// Run creates the consumer group on every owned partition and consumes them
// until ctx is cancelled.
func (c *StreamConsumer) Run(ctx context.Context) error {
	owned := c.OwnedPartitions()
	if len(owned) == 0 {
		return fmt.Errorf("worker %d of %d owns no partitions", c.cfg.WorkerIndex, c.cfg.WorkerCount)
	}

	for _, p := range owned {
		stream := StreamName(c.cfg.Topic, p)
		err := c.client.XGroupCreateMkStream(ctx, stream, c.cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", c.cfg.Group, stream, err)
		}
	}

	c.log.Infof("Consuming %s partitions %v as %s/%s", c.cfg.Topic, owned, c.cfg.Group, c.cfg.Consumer)

	var wg sync.WaitGroup
	for _, p := range owned {
		wg.Add(1)
		go func(stream string) {
			defer wg.Done()
			c.consumePartition(ctx, stream)
		}(StreamName(c.cfg.Topic, p))
	}
	wg.Wait()
	return nil
}

func (c *StreamConsumer) consumePartition(ctx context.Context, stream string) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.MinBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	for ctx.Err() == nil {
		n, err := c.claimPending(ctx, stream)
		if err == nil {
			if n > 0 {
				c.log.Infof("claimed %d pending entries on %s", n, stream)
			}
			break
		}
		if ctx.Err() != nil {
			return
		}
		c.log.Errorf("%v", err)
		sleep(ctx, bo.NextBackOff())
	}
	bo.Reset()

	// Pending entries first: they were delivered before but never acked.
	readPending := true

	for ctx.Err() == nil {
		args := &goredis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Count:    c.cfg.BatchSize,
		}
		if readPending {
			args.Streams = []string{stream, "0"}
			args.Block = -1
		} else {
			args.Streams = []string{stream, ">"}
			args.Block = c.cfg.Block
		}

		res, err := c.client.XReadGroup(ctx, args).Result()
		if errors.Is(err, goredis.Nil) {
			readPending = false
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Errorf("read %s: %v", stream, err)
			sleep(ctx, bo.NextBackOff())
			continue
		}

		var msgs []goredis.XMessage
		if len(res) > 0 {
			msgs = res[0].Messages
		}
		if readPending && len(msgs) == 0 {
			readPending = false
			continue
		}

		failed := false
		for _, msg := range msgs {
			if err := c.process(ctx, stream, msg); err != nil {
				if ctx.Err() == nil {
					c.log.WarnCtx(ctx, "delivery failed, will retry",
						zap.String("stream", stream), zap.String("id", msg.ID), zap.Error(err))
				}
				failed = true
				break
			}
		}
		if failed {
			readPending = true
			sleep(ctx, bo.NextBackOff())
			continue
		}
		bo.Reset()
	}
}

// claimPending moves every entry still pending in the group on stream to
// this consumer, whatever name delivered it before. A partition has a single
// owner, so the entries were left behind by an earlier incarnation of it.
func (c *StreamConsumer) claimPending(ctx context.Context, stream string) (int, error) {
	claimed := 0
	start := "0-0"
	for {
		msgs, next, err := c.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  0,
			Start:    start,
			Count:    c.cfg.BatchSize,
		}).Result()
		if err != nil {
			return claimed, fmt.Errorf("claim pending on %s: %w: %v", stream, relay_errors.ErrTransport, err)
		}
		claimed += len(msgs)
		if next == "" || next == "0-0" || next == start {
			return claimed, nil
		}
		start = next
	}
}

// process handles one entry. A nil return means the entry is settled (acked
// or dead-lettered). Handler errors are retried without limit unless they
// wrap ErrPermanent.
func (c *StreamConsumer) process(ctx context.Context, stream string, msg goredis.XMessage) error {
	// Entries already deleted from the stream show up with no fields.
	if len(msg.Values) == 0 {
		return c.ack(ctx, stream, msg.ID)
	}

	key, _ := msg.Values[fieldKey].(string)
	value, _ := msg.Values[fieldValue].(string)

	event, err := events.Decode([]byte(value))
	if err != nil {
		return c.deadLetter(ctx, stream, msg, "decode: "+err.Error())
	}

	err = c.handler.Handle(ctx, events.Delivery{
		Ref:   stream + "/" + msg.ID,
		Key:   key,
		Event: event,
	})
	if errors.Is(err, relay_errors.ErrPermanent) {
		return c.deadLetter(ctx, stream, msg, err.Error())
	}
	if err != nil {
		return err
	}
	return c.ack(ctx, stream, msg.ID)
}

func (c *StreamConsumer) ack(ctx context.Context, stream, id string) error {
	if err := c.client.XAck(ctx, stream, c.cfg.Group, id).Err(); err != nil {
		return fmt.Errorf("ack %s/%s: %w: %v", stream, id, relay_errors.ErrTransport, err)
	}
	return nil
}

func (c *StreamConsumer) deadLetter(ctx context.Context, stream string, msg goredis.XMessage, reason string) error {
	values := map[string]interface{}{
		"stream": stream,
		"id":     msg.ID,
		"reason": reason,
	}
	for k, v := range msg.Values {
		values[k] = v
	}
	if err := c.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: DeadLetterStream(c.cfg.Topic),
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("dead-letter %s/%s: %w: %v", stream, msg.ID, relay_errors.ErrTransport, err)
	}
	c.log.WarnCtx(ctx, "entry dead-lettered",
		zap.String("stream", stream), zap.String("id", msg.ID), zap.String("reason", reason))
	c.observer.DeadLettered(stream, reason)
	return c.ack(ctx, stream, msg.ID)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
