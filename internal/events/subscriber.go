package events

import "context"

// RealtimePublisher pushes raw payloads onto a real-time channel.
type RealtimePublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channels []string, handler func(channel string, payload []byte)) error
}
