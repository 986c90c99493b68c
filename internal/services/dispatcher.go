package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"relay-chat/internal/domain/notification"
	"relay-chat/internal/events"
	"relay-chat/internal/push"
	"relay-chat/internal/textform"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// NotificationWriter persists notifications idempotently by EventRef.
type NotificationWriter interface {
	Insert(ctx context.Context, n *notification.Notification) (bool, error)
}

// RealtimeRelay delivers a notification to the user's live connections.
type RealtimeRelay interface {
	PublishToUser(ctx context.Context, event events.NotificationEvent) error
}

// TopicPusher sends a mobile push to a topic.
type TopicPusher interface {
	SendToTopic(ctx context.Context, req push.Request, topic string) (string, error)
}

type DispatcherConfig struct {
	PushTimeout        time.Duration
	PushMaxRetries     int
	PushInitialBackoff time.Duration
	// PushWorkers send pushes off the delivery path. PushQueueSize bounds
	// the backlog; pushes beyond it are dropped.
	PushWorkers   int
	PushQueueSize int
}

// Dispatcher handles one bus delivery at a time:
// persist (unless CHAT), relay to real-time, then queue a push (CHAT,
// TRANSACTION). Persist and relay errors are returned so the entry is
// redelivered; push errors are logged and swallowed.
type Dispatcher struct {
	store   NotificationWriter
	relay   RealtimeRelay
	pusher  TopicPusher
	cfg     DispatcherConfig
	metrics *Metrics
	log     *logger.Logger
	clock   func() time.Time

	pushes chan events.NotificationEvent
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(store NotificationWriter, relay RealtimeRelay, pusher TopicPusher, cfg DispatcherConfig, metrics *Metrics, log *logger.Logger) *Dispatcher {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 10 * time.Second
	}
	if cfg.PushMaxRetries < 0 {
		cfg.PushMaxRetries = 0
	}
	if cfg.PushInitialBackoff <= 0 {
		cfg.PushInitialBackoff = 200 * time.Millisecond
	}
	if cfg.PushWorkers <= 0 {
		cfg.PushWorkers = 4
	}
	if cfg.PushQueueSize <= 0 {
		cfg.PushQueueSize = 1024
	}
	return &Dispatcher{
		store:   store,
		relay:   relay,
		pusher:  pusher,
		cfg:     cfg,
		metrics: metrics,
		log:     log.Named("dispatcher"),
		clock:   func() time.Time { return time.Now().UTC() },
		pushes:  make(chan events.NotificationEvent, cfg.PushQueueSize),
	}
}

// Start launches the push workers. Pushes still queued when ctx is done
// fail fast.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.PushWorkers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for event := range d.pushes {
				d.push(ctx, event)
			}
		}()
	}
}

// Close stops accepting pushes and waits for the queued ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.pushes)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) enqueuePush(ctx context.Context, event events.NotificationEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.closed {
		select {
		case d.pushes <- event:
			return
		default:
		}
	}
	kind := string(event.NotificationType)
	d.metrics.Pushed.WithLabelValues(kind, "dropped").Inc()
	d.log.WarnCtx(ctx, "push queue full, dropping push",
		zap.Int64("user_id", event.UserID), zap.String("kind", kind))
}

func (d *Dispatcher) Handle(ctx context.Context, delivery events.Delivery) error {
	event := delivery.Event
	kind := string(event.NotificationType)

	policy, ok := notification.PolicyFor(event.NotificationType)
	if !ok {
		// Retrying cannot fix an unknown kind.
		d.log.WarnCtx(ctx, "dropping event of unknown kind", zap.String("ref", delivery.Ref), zap.String("kind", kind))
		d.metrics.Dispatched.WithLabelValues(kind, "rejected").Inc()
		return nil
	}
	if event.UserID <= 0 {
		d.metrics.Dispatched.WithLabelValues(kind, "rejected").Inc()
		return fmt.Errorf("event %s: %w: no recipient", delivery.Ref, relay_errors.ErrPermanent)
	}
	if event.CreationDate.IsZero() {
		event.CreationDate = d.clock()
	}

	if policy.Persist {
		n := notification.Notification{
			UserID:       event.UserID,
			Message:      event.Message,
			Title:        event.Title,
			Kind:         event.NotificationType,
			IsRead:       event.IsRead,
			EventRef:     delivery.Ref,
			CreationDate: event.CreationDate,
		}
		inserted, err := d.store.Insert(ctx, &n)
		if err != nil {
			d.metrics.Dispatched.WithLabelValues(kind, "persist_error").Inc()
			if errors.Is(err, relay_errors.ErrInvalidInput) {
				return fmt.Errorf("persist %s: %w: %w", delivery.Ref, relay_errors.ErrPermanent, err)
			}
			return fmt.Errorf("persist %s: %w", delivery.Ref, err)
		}
		if !inserted {
			d.log.Debugf("notification for %s already stored as %d", delivery.Ref, n.ID)
		}
		event.ID = n.ID
	}

	event.Message = textform.ToDisplayForm(event.Message)
	if err := d.relay.PublishToUser(ctx, event); err != nil {
		d.metrics.Dispatched.WithLabelValues(kind, "relay_error").Inc()
		return fmt.Errorf("relay %s: %w", delivery.Ref, err)
	}

	if policy.Push {
		d.enqueuePush(ctx, event)
	}
	d.metrics.Dispatched.WithLabelValues(kind, "ok").Inc()
	return nil
}

// push retries with exponential backoff until it succeeds, runs out of
// retries or PushTimeout elapses.
func (d *Dispatcher) push(ctx context.Context, event events.NotificationEvent) {
	kind := string(event.NotificationType)
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PushTimeout)
	defer cancel()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.cfg.PushInitialBackoff
	exp.MaxElapsedTime = d.cfg.PushTimeout
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.cfg.PushMaxRetries)), ctx)

	req := push.Request{Title: event.Title, Message: event.Message}
	topic := event.Key()
	err := backoff.Retry(func() error {
		_, err := d.pusher.SendToTopic(ctx, req, topic)
		return err
	}, policy)
	if err != nil {
		d.metrics.Pushed.WithLabelValues(kind, "error").Inc()
		d.log.WarnCtx(ctx, "push failed",
			zap.Int64("user_id", event.UserID), zap.String("kind", kind), zap.Error(err))
		return
	}
	d.metrics.Pushed.WithLabelValues(kind, "ok").Inc()
}
