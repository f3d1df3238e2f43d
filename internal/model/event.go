package model

import (
	"encoding/json"
	"fmt"
)

// EventType tags an envelope payload and selects the Kafka topic.
type EventType string

const (
	EventArticleCreated EventType = "ARTICLE_CREATED"
	EventArticleUpdated EventType = "ARTICLE_UPDATED"
	EventArticleDeleted EventType = "ARTICLE_DELETED"
	EventCommentCreated EventType = "COMMENT_CREATED"
	EventCommentDeleted EventType = "COMMENT_DELETED"
	EventArticleLiked   EventType = "ARTICLE_LIKED"
	EventArticleUnliked EventType = "ARTICLE_UNLIKED"
	EventArticleViewed  EventType = "ARTICLE_VIEWED"
)

const (
	ArticleTopic = "board.article"
	CommentTopic = "board.comment"
	LikeTopic    = "board.like"
	ViewTopic    = "board.view"
)

// Topic returns the Kafka topic for this event type, or "" if unknown.
func (t EventType) Topic() string {
	switch t {
	case EventArticleCreated, EventArticleUpdated, EventArticleDeleted:
		return ArticleTopic
	case EventCommentCreated, EventCommentDeleted:
		return CommentTopic
	case EventArticleLiked, EventArticleUnliked:
		return LikeTopic
	case EventArticleViewed:
		return ViewTopic
	}
	return ""
}

// Topics lists every topic the pipeline publishes to.
func Topics() []string {
	return []string{ArticleTopic, CommentTopic, LikeTopic, ViewTopic}
}

// EventPayload is the tagged union of event payloads; the tag is EventType.
type EventPayload interface {
	EventType() EventType
}

type ArticleCreatedPayload struct {
	ArticleID int64  `json:"article_id"`
	BoardID   int64  `json:"board_id"`
	WriterID  int64  `json:"writer_id"`
	Title     string `json:"title"`
}

type ArticleUpdatedPayload struct {
	ArticleID int64  `json:"article_id"`
	BoardID   int64  `json:"board_id"`
	Title     string `json:"title"`
}

type ArticleDeletedPayload struct {
	ArticleID int64 `json:"article_id"`
	BoardID   int64 `json:"board_id"`
}

type CommentCreatedPayload struct {
	CommentID int64 `json:"comment_id"`
	ArticleID int64 `json:"article_id"`
	WriterID  int64 `json:"writer_id"`
	ParentID  int64 `json:"parent_id,omitempty"`
}

type CommentDeletedPayload struct {
	CommentID int64 `json:"comment_id"`
	ArticleID int64 `json:"article_id"`
}

type ArticleLikedPayload struct {
	ArticleID int64 `json:"article_id"`
	UserID    int64 `json:"user_id"`
}

type ArticleUnlikedPayload struct {
	ArticleID int64 `json:"article_id"`
	UserID    int64 `json:"user_id"`
}

type ArticleViewedPayload struct {
	ArticleID int64 `json:"article_id"`
	UserID    int64 `json:"user_id"`
}

func (ArticleCreatedPayload) EventType() EventType { return EventArticleCreated }
func (ArticleUpdatedPayload) EventType() EventType { return EventArticleUpdated }
func (ArticleDeletedPayload) EventType() EventType { return EventArticleDeleted }
func (CommentCreatedPayload) EventType() EventType { return EventCommentCreated }
func (CommentDeletedPayload) EventType() EventType { return EventCommentDeleted }
func (ArticleLikedPayload) EventType() EventType   { return EventArticleLiked }
func (ArticleUnlikedPayload) EventType() EventType { return EventArticleUnliked }
func (ArticleViewedPayload) EventType() EventType  { return EventArticleViewed }

// Envelope is the wire format published to Kafka. Payload is nil when the
// type tag is not known to this build; RawPayload always carries the
// original bytes so unknown events survive a round trip.
type Envelope struct {
	EventID    string          `json:"event_id"`
	Type       EventType       `json:"type"`
	Payload    EventPayload    `json:"-"`
	RawPayload json.RawMessage `json:"payload"`
	CreatedAt  int64           `json:"created_at"` // epoch millis
}

// NewEnvelope serializes payload and builds an envelope around it.
func NewEnvelope(eventID string, payload EventPayload, createdAt int64) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", payload.EventType(), err)
	}
	return Envelope{
		EventID:    eventID,
		Type:       payload.EventType(),
		Payload:    payload,
		RawPayload: raw,
		CreatedAt:  createdAt,
	}, nil
}

// Encode renders the envelope as wire JSON. RawPayload, not Payload, is
// what goes out, so an unknown-type envelope re-encodes losslessly.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses envelope JSON and resolves the payload union by
// type tag. An unrecognized tag is not an error: Payload stays nil and
// RawPayload keeps the bytes (new event types may ship before handlers).
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event_id")
	}

	p := newPayload(env.Type)
	if p == nil {
		return env, nil
	}
	if err := json.Unmarshal(env.RawPayload, p); err != nil {
		return Envelope{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	env.Payload = concrete(p)

	return env, nil
}

func newPayload(t EventType) any {
	switch t {
	case EventArticleCreated:
		return &ArticleCreatedPayload{}
	case EventArticleUpdated:
		return &ArticleUpdatedPayload{}
	case EventArticleDeleted:
		return &ArticleDeletedPayload{}
	case EventCommentCreated:
		return &CommentCreatedPayload{}
	case EventCommentDeleted:
		return &CommentDeletedPayload{}
	case EventArticleLiked:
		return &ArticleLikedPayload{}
	case EventArticleUnliked:
		return &ArticleUnlikedPayload{}
	case EventArticleViewed:
		return &ArticleViewedPayload{}
	}
	return nil
}

func concrete(p any) EventPayload {
	switch v := p.(type) {
	case *ArticleCreatedPayload:
		return *v
	case *ArticleUpdatedPayload:
		return *v
	case *ArticleDeletedPayload:
		return *v
	case *CommentCreatedPayload:
		return *v
	case *CommentDeletedPayload:
		return *v
	case *ArticleLikedPayload:
		return *v
	case *ArticleUnlikedPayload:
		return *v
	case *ArticleViewedPayload:
		return *v
	}
	return nil
}
