package model

import (
	"database/sql"
	"time"
)

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

// OutboxRecord is a row in the outbox table. It is written in the same
// transaction as the business mutation and afterwards mutated only by
// the relay: PENDING until the broker acks (SENT) or the retry budget
// runs out (FAILED, payload redirected to the dead-letter topic).
type OutboxRecord struct {
	ID         int64          `db:"id"`
	EventID    string         `db:"event_id"` // broker message key, dedup token
	EventType  string         `db:"event_type"`
	Topic      string         `db:"topic"`
	Payload    []byte         `db:"payload"`
	Status     OutboxStatus   `db:"status"`
	RetryCount int            `db:"retry_count"`
	LastError  sql.NullString `db:"last_error"`
	ClaimedBy  sql.NullString `db:"claimed_by"`
	ClaimedAt  sql.NullTime   `db:"claimed_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}
