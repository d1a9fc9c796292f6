// Package outbox implements the transactional outbox and the relay that tails
// it: rows are appended inside the producing service's own transaction and
// published to Kafka at-least-once, ordered per aggregate.
package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
)

// Event is a stored outbox row. EventID is the envelope-level dedupe key;
// the serial ID only orders rows within one service's table.
type Event struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	SagaID        string
	Type          string
	Payload       []byte
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RetryCount    int
	NextAttemptAt time.Time
	LastError     *string
}

// Record is what producers hand to Append; the store fills in the row fields.
type Record struct {
	EventID       string
	AggregateType string
	AggregateID   string
	SagaID        string
	Type          string
	Payload       []byte
	Traceparent   string
}
