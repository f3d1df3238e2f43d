package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/microboard/eventrelay/internal/model"
)

// ArchiveRepository appends broker-acked outbox rows to ClickHouse for
// long-term audit (relay sent_mode=archive).
type ArchiveRepository interface {
	Insert(ctx context.Context, rec model.OutboxRecord) error
}

type ArchiveRepositoryImpl struct {
	db *sqlx.DB
}

func NewArchiveRepository(db *sqlx.DB) *ArchiveRepositoryImpl {
	return &ArchiveRepositoryImpl{db: db}
}

func (r *ArchiveRepositoryImpl) Insert(ctx context.Context, rec model.OutboxRecord) error {
	const q = `
		INSERT INTO outbox_archive (event_id, event_type, topic, payload, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, q,
		rec.EventID, rec.EventType, rec.Topic, rec.Payload, rec.RetryCount, rec.CreatedAt,
	)

	return err
}
