package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/microboard/eventrelay/internal/model"
)

// OutboxRepository defines persistence methods for the outbox table.
type OutboxRepository interface {
	// Insert writes a single outbox event. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx.
	Insert(ctx context.Context, tx *sqlx.Tx, eventID, eventType, topic string, payload []byte) error

	// ClaimBatch atomically claims up to limit PENDING rows older than
	// cutoff for the relay instance identified by token. Rows claimed by a
	// crashed instance become claimable again once lease expires.
	ClaimBatch(ctx context.Context, token string, limit int, cutoff, lease time.Duration) ([]model.OutboxRecord, error)

	// MarkSent records a broker ack and releases the claim.
	MarkSent(ctx context.Context, id int64) error
	// IncrementRetry bumps retry_count, records the error, and releases
	// the claim so a later tick can pick the row up again.
	IncrementRetry(ctx context.Context, id int64, lastError string) error
	// MarkFailed makes the row terminal after the payload was redirected
	// to the dead-letter topic. It also counts the final failed attempt.
	MarkFailed(ctx context.Context, id int64, lastError string) error
	// Delete removes an acked row (sent_mode delete/archive).
	Delete(ctx context.Context, id int64) error

	CountPending(ctx context.Context) (int64, error)
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

// Insert adds a PENDING event row to outbox. The relay picks it up once
// the surrounding business transaction commits.
func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, eventID, eventType, topic string, payload []byte) error {
	const q = `
		INSERT INTO outbox (event_id, event_type, topic, payload, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'PENDING', 0, NOW(), NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, eventID, eventType, topic, payload)

		return err
	})
}

// ClaimBatch is a two-step claim: a guarded UPDATE stamps our token on
// claimable rows, then a SELECT reads back what we actually won. The
// UPDATE is the compare-and-set that keeps concurrent relay instances
// from double-publishing; no transaction is held across the broker send.
func (r *OutboxRepositoryImpl) ClaimBatch(ctx context.Context, token string, limit int, cutoff, lease time.Duration) ([]model.OutboxRecord, error) {
	const claim = `
		UPDATE outbox
		SET claimed_by = ?, claimed_at = NOW(), updated_at = NOW()
		WHERE status = 'PENDING'
		  AND created_at < NOW() - INTERVAL ? SECOND
		  AND (claimed_by IS NULL OR claimed_at < NOW() - INTERVAL ? SECOND)
		ORDER BY id
		LIMIT ?
	`
	res, err := r.db.ExecContext(ctx, claim, token, int64(cutoff.Seconds()), int64(lease.Seconds()), limit)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}

	const fetch = `
		SELECT id, event_id, event_type, topic, payload, status, retry_count,
		       last_error, claimed_by, claimed_at, created_at, updated_at
		FROM outbox
		WHERE claimed_by = ? AND status = 'PENDING'
		ORDER BY id
	`
	var recs []model.OutboxRecord
	if err := r.db.SelectContext(ctx, &recs, fetch, token); err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *OutboxRepositoryImpl) MarkSent(ctx context.Context, id int64) error {
	const q = `
		UPDATE outbox
		SET status = 'SENT', claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, id)

	return err
}

func (r *OutboxRepositoryImpl) IncrementRetry(ctx context.Context, id int64, lastError string) error {
	const q = `
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = ?,
		    claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = ? AND status = 'PENDING'
	`
	_, err := r.db.ExecContext(ctx, q, lastError, id)

	return err
}

func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, id int64, lastError string) error {
	const q = `
		UPDATE outbox
		SET status = 'FAILED', retry_count = retry_count + 1, last_error = ?,
		    claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, lastError, id)

	return err
}

func (r *OutboxRepositoryImpl) Delete(ctx context.Context, id int64) error {
	const q = `DELETE FROM outbox WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, id)

	return err
}

func (r *OutboxRepositoryImpl) CountPending(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM outbox WHERE status = 'PENDING'`
	var n int64
	err := r.db.GetContext(ctx, &n, q)

	return n, err
}
