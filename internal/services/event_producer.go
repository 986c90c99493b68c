package services

import (
	"context"
	"fmt"

	"relay-chat/internal/events"
)

// StreamAppender appends a keyed entry to the bus.
type StreamAppender interface {
	Append(ctx context.Context, key string, value []byte) (string, error)
}

// EventProducer publishes notification events onto the bus, keyed by target
// user so that one user's events stay in order.
type EventProducer struct {
	appender StreamAppender
}

func NewEventProducer(appender StreamAppender) *EventProducer {
	return &EventProducer{appender: appender}
}

func (p *EventProducer) Publish(ctx context.Context, event events.NotificationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := events.Encode(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.PublishRaw(ctx, event.Key(), payload)
}

// PublishRaw appends an already encoded event.
func (p *EventProducer) PublishRaw(ctx context.Context, key string, payload []byte) error {
	_, err := p.appender.Append(ctx, key, payload)
	return err
}
