package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of both services. A service registers the whole
// set; the counters it never touches stay at zero.
type Metrics struct {
	Dispatched    *prometheus.CounterVec
	Pushed        *prometheus.CounterVec
	MessagesSent  prometheus.Counter
	PublishOutbox prometheus.Counter
	DeadLetters   *prometheus.CounterVec
	OutboxRelayed *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg when it is not
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatch_total",
			Help: "Notification events handled by the dispatcher, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Pushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_push_total",
			Help: "Mobile push attempts, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Chat messages stored.",
		}),
		PublishOutbox: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_publish_fallback_total",
			Help: "Notification events written to the outbox instead of the bus.",
		}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_dead_letter_total",
			Help: "Bus entries moved to the dead-letter stream.",
		}, []string{"stream"}),
		OutboxRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_relay_total",
			Help: "Outbox rows processed, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Dispatched, m.Pushed, m.MessagesSent, m.PublishOutbox, m.DeadLetters, m.OutboxRelayed)
	}
	return m
}

// DeadLettered implements the stream consumer's dead-letter observer.
func (m *Metrics) DeadLettered(stream, _ string) {
	m.DeadLetters.WithLabelValues(stream).Inc()
}

// Relayed implements the outbox processor's observer.
func (m *Metrics) Relayed(outcome string) {
	m.OutboxRelayed.WithLabelValues(outcome).Inc()
}
