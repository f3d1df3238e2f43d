package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/microboard/eventrelay/internal/model"
)

// DeadLetterRepository persists the append-only dead_letters audit table.
type DeadLetterRepository interface {
	// Insert appends one record. Rows are never updated afterwards.
	Insert(ctx context.Context, rec model.DeadLetterRecord) error
	List(ctx context.Context, limit, offset int) ([]model.DeadLetterRecord, error)
	GetByEventID(ctx context.Context, eventID string) (model.DeadLetterRecord, error)
}

type DeadLetterRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeadLetterRepository(db *sqlx.DB) *DeadLetterRepositoryImpl {
	return &DeadLetterRepositoryImpl{db: db}
}

func (r *DeadLetterRepositoryImpl) Insert(ctx context.Context, rec model.DeadLetterRecord) error {
	const q = `
		INSERT INTO dead_letters
		    (event_id, event_type, topic, failure_source, retry_count, last_error, payload, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		rec.EventID, rec.EventType, rec.Topic, rec.FailureSource,
		rec.RetryCount, rec.LastError, rec.Payload,
	)

	return err
}

func (r *DeadLetterRepositoryImpl) List(ctx context.Context, limit, offset int) ([]model.DeadLetterRecord, error) {
	const q = `
		SELECT id, event_id, event_type, topic, failure_source, retry_count, last_error, payload, created_at
		FROM dead_letters
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`
	var recs []model.DeadLetterRecord
	err := r.db.SelectContext(ctx, &recs, q, limit, offset)

	return recs, err
}

func (r *DeadLetterRepositoryImpl) GetByEventID(ctx context.Context, eventID string) (model.DeadLetterRecord, error) {
	const q = `
		SELECT id, event_id, event_type, topic, failure_source, retry_count, last_error, payload, created_at
		FROM dead_letters
		WHERE event_id = ?
		ORDER BY id DESC
		LIMIT 1
	`
	var rec model.DeadLetterRecord
	err := r.db.GetContext(ctx, &rec, q, eventID)

	return rec, err
}
