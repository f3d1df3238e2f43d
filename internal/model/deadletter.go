package model

import "time"

// FailureSource tells which side of the pipeline gave up on a message.
type FailureSource string

const (
	// FailureOutboxPublish: the relay exhausted its retry budget.
	FailureOutboxPublish FailureSource = "OUTBOX_PUBLISH"
	// FailureKafkaConsumer: the consumer-side retry wrapper gave up.
	FailureKafkaConsumer FailureSource = "KAFKA_CONSUMER"
)

// RetryCountUnknown marks dead letters that never went through the
// relay's retry counter (consumer-side failures).
const RetryCountUnknown = -1

// DeadLetterRecord is the write-once audit row for a poison message.
// Payload is preserved verbatim so operators can replay it.
type DeadLetterRecord struct {
	ID            int64         `db:"id"`
	EventID       string        `db:"event_id"`
	EventType     string        `db:"event_type"` // "unknown" when unparseable
	Topic         string        `db:"topic"`      // original topic, if recoverable
	FailureSource FailureSource `db:"failure_source"`
	RetryCount    int           `db:"retry_count"`
	LastError     string        `db:"last_error"` // truncated diagnostic
	Payload       []byte        `db:"payload"`
	CreatedAt     time.Time     `db:"created_at"`
}
