package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"relay-chat/internal/events"

	"github.com/redis/go-redis/v9"
)

// Publisher relays payloads over Redis pub/sub so that whichever instance
// holds a user's websocket can deliver them.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// PublishToUser sends a notification DTO to the user's private channel.
func (p *Publisher) PublishToUser(ctx context.Context, event events.NotificationEvent) error {
	return p.publishJSON(ctx, events.UserChannel(event.UserID), event)
}

// Broadcast sends a notification DTO to every connected client.
func (p *Publisher) Broadcast(ctx context.Context, event events.NotificationEvent) error {
	return p.publishJSON(ctx, events.BroadcastChannel, event)
}

func (p *Publisher) publishJSON(ctx context.Context, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal realtime payload: %w", err)
	}
	if err := p.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}
