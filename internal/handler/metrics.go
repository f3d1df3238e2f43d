// Package handler holds the consumer-side projections shipped with the
// relay: small per-event-type handlers that fold board events into
// counter tables. Each handler is idempotent per event id when run
// behind the dispatcher's dedup inbox; the counter adjustments
// themselves clamp at zero so replays cannot drive counts negative.
package handler

import (
	"context"
	"fmt"

	"github.com/microboard/eventrelay/internal/model"
	"github.com/microboard/eventrelay/internal/repository"
)

// ArticleCreatedHandler bumps the board's article count.
type ArticleCreatedHandler struct {
	Metrics repository.MetricsRepository
}

func (ArticleCreatedHandler) EventType() model.EventType { return model.EventArticleCreated }

func (h ArticleCreatedHandler) Handle(ctx context.Context, env model.Envelope) error {
	p, err := payloadAs[model.ArticleCreatedPayload](env)
	if err != nil {
		return err
	}

	return h.Metrics.AdjustArticleCount(ctx, p.BoardID, 1)
}

// ArticleDeletedHandler drops the article's counters and decrements the
// board's article count.
type ArticleDeletedHandler struct {
	Metrics repository.MetricsRepository
}

func (ArticleDeletedHandler) EventType() model.EventType { return model.EventArticleDeleted }

func (h ArticleDeletedHandler) Handle(ctx context.Context, env model.Envelope) error {
	p, err := payloadAs[model.ArticleDeletedPayload](env)
	if err != nil {
		return err
	}

	if err := h.Metrics.AdjustArticleCount(ctx, p.BoardID, -1); err != nil {
		return err
	}

	return h.Metrics.DeleteArticle(ctx, p.ArticleID)
}

type CommentCreatedHandler struct {
	Metrics repository.MetricsRepository
}

func (CommentCreatedHandler) EventType() model.EventType { return model.EventCommentCreated }

func (h CommentCreatedHandler) Handle(ctx context.Context, env model.Envelope) error {
	p, err := payloadAs[model.CommentCreatedPayload](env)
	if err != nil {
		return err
	}

	return h.Metrics.AdjustCounts(ctx, p.ArticleID, 1, 0, 0)
}

type CommentDeletedHandler struct {
	Metrics repository.MetricsRepository
}

func (CommentDeletedHandler) EventType() model.EventType { return model.EventCommentDeleted }

func (h CommentDeletedHandler) Handle(ctx context.Context, env model.Envelope) error {
	p, err := payloadAs[model.CommentDeletedPayload](env)
	if err != nil {
		return err
	}

	return h.Metrics.AdjustCounts(ctx, p.ArticleID, -1, 0, 0)
}

type ArticleLikedHandler struct {
	Metrics repository.MetricsRepository
}

func (ArticleLikedHandler) EventType() model.EventType { return model.EventArticleLiked }

func (h ArticleLikedHandler) Handle(ctx context.Context, env model.Envelope) error {
	p, err := payloadAs[model.ArticleLikedPayload](env)
	if err != nil {
		return err
	}

	return h.Metrics.AdjustCounts(ctx, p.ArticleID, 0, 1, 0)
}

type ArticleUnlikedHandler struct {
	Metrics repository.MetricsRepository
}

func (ArticleUnlikedHandler) EventType() model.EventType { return model.EventArticleUnliked }

func (h ArticleUnlikedHandler) Handle(ctx context.Context, env model.Envelope) error {
	p, err := payloadAs[model.ArticleUnlikedPayload](env)
	if err != nil {
		return err
	}

	return h.Metrics.AdjustCounts(ctx, p.ArticleID, 0, -1, 0)
}

type ArticleViewedHandler struct {
	Metrics repository.MetricsRepository
}

func (ArticleViewedHandler) EventType() model.EventType { return model.EventArticleViewed }

func (h ArticleViewedHandler) Handle(ctx context.Context, env model.Envelope) error {
	p, err := payloadAs[model.ArticleViewedPayload](env)
	if err != nil {
		return err
	}

	return h.Metrics.AdjustCounts(ctx, p.ArticleID, 0, 0, 1)
}

// payloadAs narrows the envelope's payload union to T. A mismatch means
// the producer and consumer disagree about the type tag, which no retry
// fixes, but surfacing it as an error routes the message to the
// dead-letter topic where it belongs.
func payloadAs[T model.EventPayload](env model.Envelope) (T, error) {
	p, ok := env.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("event %s: payload is %T, want %T", env.EventID, env.Payload, zero)
	}

	return p, nil
}
