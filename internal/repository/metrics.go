package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// MetricsRepository maintains the per-article counters the consumer
// handlers project events into.
type MetricsRepository interface {
	AdjustArticleCount(ctx context.Context, boardID, delta int64) error
	AdjustCounts(ctx context.Context, articleID, commentDelta, likeDelta, viewDelta int64) error
	DeleteArticle(ctx context.Context, articleID int64) error
}

type MetricsRepositoryImpl struct {
	db *sqlx.DB
}

func NewMetricsRepository(db *sqlx.DB) *MetricsRepositoryImpl {
	return &MetricsRepositoryImpl{db: db}
}

func (r *MetricsRepositoryImpl) AdjustArticleCount(ctx context.Context, boardID, delta int64) error {
	const q = `
		INSERT INTO board_metrics (board_id, article_count, updated_at)
		VALUES (?, GREATEST(?, 0), NOW())
		ON DUPLICATE KEY UPDATE
		    article_count = GREATEST(CAST(article_count AS SIGNED) + ?, 0),
		    updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, q, boardID, delta, delta)

	return err
}

func (r *MetricsRepositoryImpl) AdjustCounts(ctx context.Context, articleID, commentDelta, likeDelta, viewDelta int64) error {
	const q = `
		INSERT INTO article_metrics (article_id, comment_count, like_count, view_count, updated_at)
		VALUES (?, GREATEST(?, 0), GREATEST(?, 0), GREATEST(?, 0), NOW())
		ON DUPLICATE KEY UPDATE
		    comment_count = GREATEST(CAST(comment_count AS SIGNED) + ?, 0),
		    like_count    = GREATEST(CAST(like_count AS SIGNED) + ?, 0),
		    view_count    = GREATEST(CAST(view_count AS SIGNED) + ?, 0),
		    updated_at    = NOW()
	`
	_, err := r.db.ExecContext(ctx, q,
		articleID, commentDelta, likeDelta, viewDelta,
		commentDelta, likeDelta, viewDelta,
	)

	return err
}

func (r *MetricsRepositoryImpl) DeleteArticle(ctx context.Context, articleID int64) error {
	const q = `DELETE FROM article_metrics WHERE article_id = ?`
	_, err := r.db.ExecContext(ctx, q, articleID)

	return err
}
