package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMapping(t *testing.T) {
	assert.Equal(t, ArticleTopic, EventArticleCreated.Topic())
	assert.Equal(t, ArticleTopic, EventArticleDeleted.Topic())
	assert.Equal(t, CommentTopic, EventCommentCreated.Topic())
	assert.Equal(t, LikeTopic, EventArticleUnliked.Topic())
	assert.Equal(t, ViewTopic, EventArticleViewed.Topic())
	assert.Empty(t, EventType("SOMETHING_ELSE").Topic())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope("123456789", ArticleDeletedPayload{ArticleID: 42, BoardID: 7}, 1700000000000)
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	got, err := DecodeEnvelope(data)
	require.NoError(t, err)

	assert.Equal(t, "123456789", got.EventID)
	assert.Equal(t, EventArticleDeleted, got.Type)
	assert.Equal(t, int64(1700000000000), got.CreatedAt)

	p, ok := got.Payload.(ArticleDeletedPayload)
	require.True(t, ok, "payload should resolve to the concrete type")
	assert.Equal(t, int64(42), p.ArticleID)
	assert.Equal(t, int64(7), p.BoardID)
}

func TestDecodeEnvelopeUnknownType(t *testing.T) {
	raw := []byte(`{"event_id":"e1","type":"ARTICLE_PINNED","payload":{"article_id":1},"created_at":1}`)

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err, "unknown type tags must not fail decoding")

	assert.Nil(t, env.Payload)
	assert.Equal(t, EventType("ARTICLE_PINNED"), env.Type)
	assert.JSONEq(t, `{"article_id":1}`, string(env.RawPayload))

	// and it re-encodes losslessly
	data, err := env.Encode()
	require.NoError(t, err)
	again, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.RawPayload, again.RawPayload)
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"type":"ARTICLE_CREATED","payload":{}}`))
	assert.Error(t, err, "missing event_id must be rejected")

	_, err = DecodeEnvelope([]byte(`{"event_id":"e1","type":"ARTICLE_CREATED","payload":"not an object"}`))
	assert.Error(t, err, "known type with mismatched payload must be rejected")
}
