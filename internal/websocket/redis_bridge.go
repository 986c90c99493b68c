package websocket

import (
	"context"

	"relay-chat/internal/events"
)

// RedisBridge forwards real-time pub/sub traffic to the local hub.
type RedisBridge struct {
	subscriber events.Subscriber
	hub        *Hub
}

func NewRedisBridge(subscriber events.Subscriber, hub *Hub) *RedisBridge {
	return &RedisBridge{subscriber: subscriber, hub: hub}
}

// Run listens on every user path and the broadcast path until ctx ends.
func (b *RedisBridge) Run(ctx context.Context) error {
	channels := []string{events.UserChannelGlob, events.BroadcastChannel}
	return b.subscriber.Subscribe(ctx, channels, func(channel string, payload []byte) {
		b.hub.Broadcast(channel, payload)
	})
}
