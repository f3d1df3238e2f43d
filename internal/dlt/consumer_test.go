package dlt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/microboard/eventrelay/internal/kafka"
	"github.com/microboard/eventrelay/internal/model"
)

type fakeRepo struct {
	mu       sync.Mutex
	rows     []model.DeadLetterRecord
	failures int // first N inserts fail
}

func (f *fakeRepo) Insert(_ context.Context, rec model.DeadLetterRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("db down")
	}
	f.rows = append(f.rows, rec)
	return nil
}

func (f *fakeRepo) List(context.Context, int, int) ([]model.DeadLetterRecord, error) {
	return nil, nil
}

func (f *fakeRepo) GetByEventID(context.Context, string) (model.DeadLetterRecord, error) {
	return model.DeadLetterRecord{}, nil
}

type fakeSource struct {
	mu        sync.Mutex
	committed int
}

func (f *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeSource) Commit(context.Context, kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed++
	return nil
}

func newTestConsumer(repo *fakeRepo, source *fakeSource) *Consumer {
	c := NewConsumer(source, repo, ".DLT", zap.NewNop())
	c.PersistRetryDelay = time.Millisecond
	return c
}

func envelopeJSON(t *testing.T, eventID string) []byte {
	t.Helper()
	env, err := model.NewEnvelope(eventID, model.ArticleViewedPayload{ArticleID: 1}, time.Now().UnixMilli())
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return data
}

func TestBuildRecordOutboxPublish(t *testing.T) {
	c := newTestConsumer(&fakeRepo{}, &fakeSource{})

	m := kafka.Message{
		Topic: model.ViewTopic + ".DLT",
		Value: envelopeJSON(t, "900001"),
		Headers: []kafka.Header{
			{Key: kafka.HeaderFailureSource, Value: []byte(model.FailureOutboxPublish)},
			{Key: kafka.HeaderRetryCount, Value: []byte("3")},
			{Key: kafka.HeaderLastError, Value: []byte("kafka send to board.view timed out")},
			{Key: kafka.HeaderOriginalTopic, Value: []byte(model.ViewTopic)},
		},
	}

	rec := c.BuildRecord(m)

	assert.Equal(t, "900001", rec.EventID)
	assert.Equal(t, string(model.EventArticleViewed), rec.EventType)
	assert.Equal(t, model.FailureOutboxPublish, rec.FailureSource)
	assert.Equal(t, 3, rec.RetryCount)
	assert.Equal(t, model.ViewTopic, rec.Topic)
	assert.Contains(t, rec.LastError, "timed out")
	assert.Equal(t, m.Value, rec.Payload)
}

func TestBuildRecordConsumerFailure(t *testing.T) {
	c := newTestConsumer(&fakeRepo{}, &fakeSource{})

	stack := "goroutine 1 [running]:\n" +
		"runtime/debug.Stack()\n" +
		"\t/usr/local/go/src/runtime/debug/stack.go:26\n" +
		"github.com/microboard/eventrelay/internal/dispatch.(*Dispatcher).routeToDLT(...)\n" +
		"\t/src/internal/dispatch/dispatcher.go:180\n"

	m := kafka.Message{
		Topic: model.ViewTopic + ".DLT",
		Value: envelopeJSON(t, "900002"),
		Headers: []kafka.Header{
			{Key: kafka.HeaderExceptionMessage, Value: []byte("handler boom")},
			{Key: kafka.HeaderExceptionType, Value: []byte("*errors.errorString")},
			{Key: kafka.HeaderExceptionStacktrace, Value: []byte(stack)},
		},
	}

	rec := c.BuildRecord(m)

	assert.Equal(t, model.FailureKafkaConsumer, rec.FailureSource)
	assert.Equal(t, model.RetryCountUnknown, rec.RetryCount)
	assert.Contains(t, rec.LastError, "handler boom")
	assert.Contains(t, rec.LastError, "*errors.errorString")
	assert.Contains(t, rec.LastError, "internal/dispatch")
	assert.NotContains(t, rec.LastError, "stack.go:26", "only compressed frames survive")
	assert.Equal(t, model.ViewTopic, rec.Topic, "original topic recovered from the DLT suffix")
}

func TestBuildRecordUnparseablePayload(t *testing.T) {
	c := newTestConsumer(&fakeRepo{}, &fakeSource{})

	m := kafka.Message{Topic: "board.view.DLT", Value: []byte("\x00 not json")}
	rec := c.BuildRecord(m)

	assert.True(t, strings.HasPrefix(rec.EventID, "unknown-dlt-"), "event id is synthesized, got %q", rec.EventID)
	assert.Equal(t, "unknown", rec.EventType)
	assert.Equal(t, model.FailureKafkaConsumer, rec.FailureSource)
	assert.Equal(t, []byte("\x00 not json"), rec.Payload, "payload preserved verbatim for replay")
}

func TestProcessMessageCommitsAfterPersist(t *testing.T) {
	repo := &fakeRepo{}
	source := &fakeSource{}
	c := newTestConsumer(repo, source)

	c.processMessage(context.Background(), kafka.Message{Topic: "board.view.DLT", Value: envelopeJSON(t, "900003")})

	require.Len(t, repo.rows, 1)
	assert.Equal(t, 1, source.committed)
}

func TestProcessMessageRetriesPersistence(t *testing.T) {
	repo := &fakeRepo{failures: 1}
	source := &fakeSource{}
	c := newTestConsumer(repo, source)

	c.processMessage(context.Background(), kafka.Message{Topic: "board.view.DLT", Value: envelopeJSON(t, "900004")})

	require.Len(t, repo.rows, 1, "insert retried until it lands")
	assert.Equal(t, 1, source.committed, "committed exactly once, after persistence")
}

func TestCompressStack(t *testing.T) {
	assert.Empty(t, CompressStack(""))
	assert.Equal(t, "only line", CompressStack("only line"))

	stack := "first frame\nmiddle\ngithub.com/microboard/eventrelay/internal/handler.Handle\nlast"
	assert.Equal(t, "github.com/microboard/eventrelay/internal/handler.Handle <- first frame", CompressStack(stack))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))

	long := strings.Repeat("x", 3000)
	got := Truncate(long, MaxErrorLen)
	assert.Len(t, got, MaxErrorLen)
	assert.True(t, strings.HasSuffix(got, "...[truncated]"))
}
