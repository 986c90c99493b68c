package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the processing state of an outbox event
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// OutboxEvent stores a notification event waiting to be appended to the bus.
// PartitionKey is the bus key; rows sharing it are published in creation order.
type OutboxEvent struct {
	ID           uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	Status       Status
	RetryCount   int
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  *time.Time
}
