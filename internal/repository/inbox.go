package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// InboxRepository is the durable side of consumer dedup: one row per
// (consumer group, event id) that has been fully handled.
type InboxRepository interface {
	// IsProcessed reports whether the event was already fully handled by
	// this consumer group.
	IsProcessed(ctx context.Context, group, eventID string) (bool, error)
	// MarkProcessed records the event as handled. Returns false when a row
	// already existed, i.e. this delivery is a duplicate.
	MarkProcessed(ctx context.Context, group, eventID string) (bool, error)
}

type InboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewInboxRepository(db *sqlx.DB) *InboxRepositoryImpl {
	return &InboxRepositoryImpl{db: db}
}

func (r *InboxRepositoryImpl) IsProcessed(ctx context.Context, group, eventID string) (bool, error) {
	const q = `SELECT COUNT(*) FROM processed_events WHERE group_id = ? AND event_id = ?`
	var n int
	if err := r.db.GetContext(ctx, &n, q, group, eventID); err != nil {
		return false, err
	}

	return n > 0, nil
}

// MarkProcessed relies on the (group_id, event_id) primary key:
// INSERT IGNORE affects zero rows on a duplicate.
func (r *InboxRepositoryImpl) MarkProcessed(ctx context.Context, group, eventID string) (bool, error) {
	const q = `
		INSERT IGNORE INTO processed_events (group_id, event_id, processed_at)
		VALUES (?, ?, NOW())
	`
	res, err := r.db.ExecContext(ctx, q, group, eventID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}
