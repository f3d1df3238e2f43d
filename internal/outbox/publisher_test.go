package outbox

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microboard/eventrelay/internal/model"
)

// ---- minimal no-op driver so tests can hold a real *sqlx.Tx ----

type nopDriver struct{}
type nopConn struct{}
type nopTx struct{}

func (nopDriver) Open(string) (driver.Conn, error)  { return nopConn{}, nil }
func (nopConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (nopConn) Close() error                        { return nil }
func (nopConn) Begin() (driver.Tx, error)           { return nopTx{}, nil }
func (nopTx) Commit() error                         { return nil }
func (nopTx) Rollback() error                       { return nil }

func init() {
	sql.Register("nop", nopDriver{})
}

func testTx(t *testing.T) *sqlx.Tx {
	t.Helper()
	db, err := sql.Open("nop", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tx, err := sqlx.NewDb(db, "mysql").Beginx()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}

// ---- fakes ----

type insertedRow struct {
	eventID   string
	eventType string
	topic     string
	payload   []byte
}

type fakeOutboxRepo struct {
	rows []insertedRow
	err  error
}

func (f *fakeOutboxRepo) Insert(_ context.Context, tx *sqlx.Tx, eventID, eventType, topic string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, insertedRow{eventID, eventType, topic, payload})
	return nil
}

func (f *fakeOutboxRepo) ClaimBatch(context.Context, string, int, time.Duration, time.Duration) ([]model.OutboxRecord, error) {
	return nil, nil
}
func (f *fakeOutboxRepo) MarkSent(context.Context, int64) error               { return nil }
func (f *fakeOutboxRepo) IncrementRetry(context.Context, int64, string) error { return nil }
func (f *fakeOutboxRepo) MarkFailed(context.Context, int64, string) error     { return nil }
func (f *fakeOutboxRepo) Delete(context.Context, int64) error                 { return nil }
func (f *fakeOutboxRepo) CountPending(context.Context) (int64, error)         { return 0, nil }

type fixedIDs struct{ next int64 }

func (g *fixedIDs) NextID() int64 { g.next++; return g.next }

// unmappedPayload has no topic; Publish must refuse it.
type unmappedPayload struct{}

func (unmappedPayload) EventType() model.EventType { return "ARTICLE_PINNED" }

// ---- tests ----

func TestPublishInsertsPendingRow(t *testing.T) {
	repo := &fakeOutboxRepo{}
	pub := NewPublisher(repo, &fixedIDs{next: 100})

	eventID, err := pub.Publish(context.Background(), testTx(t),
		model.ArticleCreatedPayload{ArticleID: 1, BoardID: 2, WriterID: 3, Title: "t"}, "article-1")
	require.NoError(t, err)
	assert.Equal(t, "101", eventID)

	require.Len(t, repo.rows, 1)
	row := repo.rows[0]
	assert.Equal(t, "101", row.eventID)
	assert.Equal(t, string(model.EventArticleCreated), row.eventType)
	assert.Equal(t, model.ArticleTopic, row.topic)

	env, err := model.DecodeEnvelope(row.payload)
	require.NoError(t, err)
	assert.Equal(t, "101", env.EventID)
	assert.Equal(t, model.EventArticleCreated, env.Type)
	assert.InDelta(t, time.Now().UnixMilli(), env.CreatedAt, 5000)
}

func TestPublishRequiresTransaction(t *testing.T) {
	pub := NewPublisher(&fakeOutboxRepo{}, &fixedIDs{})

	_, err := pub.Publish(context.Background(), nil, model.ArticleViewedPayload{ArticleID: 1}, "a")
	assert.ErrorIs(t, err, ErrNoTransaction)
}

func TestPublishRejectsUnmappedType(t *testing.T) {
	repo := &fakeOutboxRepo{}
	pub := NewPublisher(repo, &fixedIDs{})

	_, err := pub.Publish(context.Background(), testTx(t), unmappedPayload{}, "a")
	assert.ErrorIs(t, err, ErrUnknownTopic)
	assert.Empty(t, repo.rows, "nothing half-written")
}

func TestPublishPropagatesInsertError(t *testing.T) {
	repo := &fakeOutboxRepo{err: errors.New("duplicate key")}
	pub := NewPublisher(repo, &fixedIDs{})

	_, err := pub.Publish(context.Background(), testTx(t), model.ArticleViewedPayload{ArticleID: 1}, "a")
	assert.ErrorContains(t, err, "duplicate key")
}

func TestPublishIDsAreSequentialPerGenerator(t *testing.T) {
	repo := &fakeOutboxRepo{}
	pub := NewPublisher(repo, &fixedIDs{})
	tx := testTx(t)

	for i := 1; i <= 3; i++ {
		id, err := pub.Publish(context.Background(), tx, model.ArticleViewedPayload{ArticleID: int64(i)}, "a")
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(i), id)
	}
}
