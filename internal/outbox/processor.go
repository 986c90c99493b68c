package outbox

import (
	"context"
	"time"

	"relay-chat/internal/domain/outbox"
	"relay-chat/internal/repository"
	"relay-chat/pkg/logger"

	"go.uber.org/zap"
)

// RawPublisher appends an encoded event under its bus key.
type RawPublisher interface {
	PublishRaw(ctx context.Context, key string, payload []byte) error
}

// RelayObserver counts relay outcomes.
type RelayObserver interface {
	Relayed(outcome string)
}

type nopObserver struct{}

func (nopObserver) Relayed(string) {}

type Processor struct {
	repo       repository.OutboxRepository
	publisher  RawPublisher
	observer   RelayObserver
	log        *logger.Logger
	batchSize  int
	interval   time.Duration
	maxRetries int
}

func NewProcessor(repo repository.OutboxRepository, publisher RawPublisher, observer RelayObserver, log *logger.Logger, batchSize int, interval time.Duration, maxRetries int) *Processor {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Processor{
		repo:       repo,
		publisher:  publisher,
		observer:   observer,
		log:        log.Named("outbox"),
		batchSize:  batchSize,
		interval:   interval,
		maxRetries: maxRetries,
	}
}

func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch relays one batch of pending rows in creation order. Once a row
// of a key fails, the remaining rows of that key wait for the next batch.
func (p *Processor) ProcessBatch(ctx context.Context) int {
	batch, err := p.repo.GetPending(ctx, p.batchSize, p.maxRetries)
	if err != nil {
		p.log.Errorf("load pending outbox rows: %v", err)
		return 0
	}

	relayed := 0
	blocked := make(map[string]bool)
	for _, e := range batch {
		if blocked[e.PartitionKey] {
			continue
		}
		if err := p.relay(ctx, e); err != nil {
			blocked[e.PartitionKey] = true
			continue
		}
		relayed++
	}
	return relayed
}

func (p *Processor) relay(ctx context.Context, e outbox.OutboxEvent) error {
	if err := p.repo.MarkProcessing(ctx, e.ID); err != nil {
		p.log.Errorf("mark outbox row %s processing: %v", e.ID, err)
		return err
	}

	if err := p.publisher.PublishRaw(ctx, e.PartitionKey, e.Payload); err != nil {
		if e.RetryCount+1 >= p.maxRetries {
			_ = p.repo.MarkFailed(ctx, e.ID, err.Error())
			p.observer.Relayed("failed")
			p.log.ErrorCtx(ctx, "outbox row abandoned",
				zap.String("id", e.ID.String()), zap.String("key", e.PartitionKey), zap.Error(err))
			return err
		}
		_ = p.repo.IncrementRetry(ctx, e.ID, err.Error())
		p.observer.Relayed("retry")
		return err
	}

	if err := p.repo.MarkCompleted(ctx, e.ID); err != nil {
		// Already on the bus; the row will be relayed again.
		p.log.Errorf("mark outbox row %s completed: %v", e.ID, err)
	}
	p.observer.Relayed("ok")
	return nil
}
