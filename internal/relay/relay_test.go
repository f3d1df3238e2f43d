package relay

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmoiron/sqlx"
	"github.com/microboard/eventrelay/internal/kafka"
	"github.com/microboard/eventrelay/internal/model"
)

// fakeStore is an in-memory OutboxRepository. ClaimBatch hands out all
// PENDING rows; state transitions mutate the map like the SQL would.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[int64]*model.OutboxRecord
	deleted []int64

	claimErr error
}

func newFakeStore(rows ...model.OutboxRecord) *fakeStore {
	s := &fakeStore{rows: make(map[int64]*model.OutboxRecord)}
	for i := range rows {
		r := rows[i]
		s.rows[r.ID] = &r
	}
	return s
}

func (s *fakeStore) Insert(_ context.Context, _ *sqlx.Tx, _, _, _ string, _ []byte) error {
	return errors.New("not used")
}

func (s *fakeStore) ClaimBatch(_ context.Context, token string, limit int, _, _ time.Duration) ([]model.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	var out []model.OutboxRecord
	for _, r := range s.rows {
		if r.Status == model.OutboxPending && len(out) < limit {
			r.ClaimedBy.String, r.ClaimedBy.Valid = token, true
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].Status = model.OutboxSent
	return nil
}

func (s *fakeStore) IncrementRetry(_ context.Context, id int64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[id]
	r.RetryCount++
	r.LastError.String, r.LastError.Valid = lastError, true
	r.ClaimedBy.Valid = false
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id int64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[id]
	r.Status = model.OutboxFailed
	r.RetryCount++
	r.LastError.String, r.LastError.Valid = lastError, true
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) CountPending(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.Status == model.OutboxPending {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) row(id int64) model.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

type sentMsg struct {
	topic   string
	key     string
	value   []byte
	headers []kafka.Header
}

// fakeSender fails sends per-topic and records the rest.
type fakeSender struct {
	mu      sync.Mutex
	sent    []sentMsg
	failing map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{failing: make(map[string]error)}
}

func (f *fakeSender) failTopic(topic string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[topic] = err
}

func (f *fakeSender) Send(_ context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[topic]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMsg{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (f *fakeSender) sentTo(topic string) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func pendingRecord(id int64, retries int) model.OutboxRecord {
	return model.OutboxRecord{
		ID:         id,
		EventID:    strconv.FormatInt(1000+id, 10),
		EventType:  string(model.EventArticleViewed),
		Topic:      model.ViewTopic,
		Payload:    []byte(`{"event_id":"x"}`),
		Status:     model.OutboxPending,
		RetryCount: retries,
	}
}

func newTestRelay(store *fakeStore, sender *fakeSender) *Relay {
	r := New(store, sender, zap.NewNop())
	r.token = "test-token"
	return r
}

func TestTickSendsAndMarks(t *testing.T) {
	store := newFakeStore(pendingRecord(1, 0), pendingRecord(2, 0))
	sender := newFakeSender()
	r := newTestRelay(store, sender)

	r.Tick(context.Background())

	msgs := sender.sentTo(model.ViewTopic)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.OutboxSent, store.row(1).Status)
	assert.Equal(t, model.OutboxSent, store.row(2).Status)

	keys := []string{msgs[0].key, msgs[1].key}
	assert.ElementsMatch(t, []string{"1001", "1002"}, keys, "event id is the message key")
}

func TestTickDeleteMode(t *testing.T) {
	store := newFakeStore(pendingRecord(1, 0))
	sender := newFakeSender()
	r := newTestRelay(store, sender)
	r.SentMode = SentModeDelete

	r.Tick(context.Background())

	assert.Equal(t, []int64{1}, store.deleted)
}

type fakeArchive struct {
	mu   sync.Mutex
	rows []model.OutboxRecord
	err  error
}

func (a *fakeArchive) Insert(_ context.Context, rec model.OutboxRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.rows = append(a.rows, rec)
	return nil
}

func TestTickArchiveMode(t *testing.T) {
	store := newFakeStore(pendingRecord(1, 0))
	sender := newFakeSender()
	arch := &fakeArchive{}
	r := newTestRelay(store, sender)
	r.SentMode = SentModeArchive
	r.Archive = arch

	r.Tick(context.Background())

	require.Len(t, arch.rows, 1)
	assert.Equal(t, "1001", arch.rows[0].EventID)
	assert.Equal(t, []int64{1}, store.deleted)
}

func TestTickArchiveFailureKeepsRow(t *testing.T) {
	store := newFakeStore(pendingRecord(1, 0))
	sender := newFakeSender()
	arch := &fakeArchive{err: errors.New("clickhouse down")}
	r := newTestRelay(store, sender)
	r.SentMode = SentModeArchive
	r.Archive = arch

	r.Tick(context.Background())

	assert.Empty(t, store.deleted, "row must survive a failed archive write")
	assert.Equal(t, model.OutboxSent, store.row(1).Status)
}

func TestSendFailureIncrementsRetry(t *testing.T) {
	store := newFakeStore(pendingRecord(1, 0))
	sender := newFakeSender()
	sender.failTopic(model.ViewTopic, errors.New("broker unreachable"))
	r := newTestRelay(store, sender)

	r.Tick(context.Background())

	row := store.row(1)
	assert.Equal(t, model.OutboxPending, row.Status, "stays PENDING below the retry budget")
	assert.Equal(t, 1, row.RetryCount)
	assert.Contains(t, row.LastError.String, "broker unreachable")
	assert.Empty(t, sender.sentTo(model.ViewTopic+".DLT"), "no dead letter yet")
}

func TestRetryExhaustionDeadLetters(t *testing.T) {
	store := newFakeStore(pendingRecord(1, 2)) // two failures already
	sender := newFakeSender()
	sender.failTopic(model.ViewTopic, errors.New("broker unreachable"))
	r := newTestRelay(store, sender)

	r.Tick(context.Background())

	dlt := sender.sentTo(model.ViewTopic + ".DLT")
	require.Len(t, dlt, 1)
	assert.Equal(t, "1001", dlt[0].key)
	assert.Equal(t, pendingRecord(1, 2).Payload, dlt[0].value, "raw payload forwarded verbatim")

	src, ok := kafka.HeaderValue(dlt[0].headers, kafka.HeaderFailureSource)
	require.True(t, ok)
	assert.Equal(t, string(model.FailureOutboxPublish), src)
	rc, _ := kafka.HeaderValue(dlt[0].headers, kafka.HeaderRetryCount)
	assert.Equal(t, "3", rc)
	le, _ := kafka.HeaderValue(dlt[0].headers, kafka.HeaderLastError)
	assert.Contains(t, le, "broker unreachable")

	row := store.row(1)
	assert.Equal(t, model.OutboxFailed, row.Status)
	assert.Equal(t, 3, row.RetryCount)
}

func TestDeadLetterPublishFailureKeepsPending(t *testing.T) {
	store := newFakeStore(pendingRecord(1, 2))
	sender := newFakeSender()
	sender.failTopic(model.ViewTopic, errors.New("broker unreachable"))
	sender.failTopic(model.ViewTopic+".DLT", errors.New("still unreachable"))
	r := newTestRelay(store, sender)

	r.Tick(context.Background())

	row := store.row(1)
	assert.Equal(t, model.OutboxPending, row.Status, "must come back to the DLT path on the next tick")
	assert.Equal(t, 3, row.RetryCount, "retry count keeps growing monotonically")
}

// Broker down for three ticks with maxRetry=3: retry_count walks
// 0→1→2→3 and the third failure produces exactly one dead letter.
func TestRetryProgressionScenario(t *testing.T) {
	store := newFakeStore(pendingRecord(1, 0))
	sender := newFakeSender()
	sender.failTopic(model.ViewTopic, errors.New("broker unreachable"))
	r := newTestRelay(store, sender)

	ctx := context.Background()
	r.Tick(ctx)
	assert.Equal(t, 1, store.row(1).RetryCount)
	r.Tick(ctx)
	assert.Equal(t, 2, store.row(1).RetryCount)
	r.Tick(ctx)

	row := store.row(1)
	assert.Equal(t, model.OutboxFailed, row.Status)
	assert.Equal(t, 3, row.RetryCount)
	assert.Len(t, sender.sentTo(model.ViewTopic+".DLT"), 1)

	// terminal rows are never claimed again
	r.Tick(ctx)
	assert.Len(t, sender.sentTo(model.ViewTopic+".DLT"), 1)
}

func TestClaimErrorIsSwallowed(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("deadlock")
	r := newTestRelay(store, newFakeSender())

	// must not panic; the next tick retries
	r.Tick(context.Background())
}
