package relay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/microboard/eventrelay/internal/kafka"
	"github.com/microboard/eventrelay/internal/metrics"
	"github.com/microboard/eventrelay/internal/model"
	"github.com/microboard/eventrelay/internal/repository"
	"github.com/microboard/eventrelay/internal/util"
)

// What happens to an outbox row after the broker ack.
const (
	SentModeMark    = "mark"
	SentModeDelete  = "delete"
	SentModeArchive = "archive"
)

// Sender publishes one message to the broker with a bounded timeout and
// never retries. *kafka.Producer is the production implementation.
type Sender interface {
	Send(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

// Relay polls the outbox for committed PENDING rows and pushes them to
// Kafka. Tuning knobs are exported fields, set before Run.
type Relay struct {
	Store    repository.OutboxRepository
	Producer Sender
	Archive  repository.ArchiveRepository // required for SentModeArchive

	PollInterval time.Duration
	BatchSize    int
	Cutoff       time.Duration // claim only rows older than this
	ClaimLease   time.Duration
	FanOut       int // concurrent sends per tick
	MaxRetry     int
	SentMode     string
	DLTSuffix    string

	Clock clockwork.Clock
	Log   *zap.Logger

	token string // ulid identifying this relay instance's claims
}

// New builds a relay with sane defaults.
func New(store repository.OutboxRepository, producer Sender, log *zap.Logger) *Relay {
	return &Relay{
		Store:        store,
		Producer:     producer,
		PollInterval: 3 * time.Second,
		BatchSize:    100,
		Cutoff:       5 * time.Second,
		ClaimLease:   time.Minute,
		FanOut:       16,
		MaxRetry:     3,
		SentMode:     SentModeMark,
		DLTSuffix:    ".DLT",
		Clock:        clockwork.NewRealClock(),
		Log:          log,
	}
}

// Run ticks until ctx is cancelled. A tick claims one batch and waits
// for every in-flight send before the next tick, so a slow broker
// backs the relay up instead of piling on work.
func (r *Relay) Run(ctx context.Context) error {
	if r.SentMode == SentModeArchive && r.Archive == nil {
		return fmt.Errorf("relay: sent_mode=archive needs an archive repository")
	}
	if r.FanOut <= 0 {
		r.FanOut = 16
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 100
	}
	if r.Clock == nil {
		r.Clock = clockwork.NewRealClock()
	}
	r.token = util.New()

	r.Log.Info("relay started",
		zap.String("claim_token", r.token),
		zap.Duration("poll_interval", r.PollInterval),
		zap.Int("batch_size", r.BatchSize),
		zap.Int("max_retry", r.MaxRetry),
		zap.String("sent_mode", r.SentMode))

	ticker := r.Clock.NewTicker(r.PollInterval)
	defer ticker.Stop()

	// first pass without waiting a full interval
	r.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.Log.Info("relay stopped")
			return nil
		case <-ticker.Chan():
			r.Tick(ctx)
		}
	}
}

// Tick claims one batch and processes it with bounded fan-out.
func (r *Relay) Tick(ctx context.Context) {
	recs, err := r.Store.ClaimBatch(ctx, r.token, r.BatchSize, r.Cutoff, r.ClaimLease)
	if err != nil {
		if ctx.Err() == nil {
			r.Log.Error("claim batch", zap.Error(err))
		}
		return
	}
	if len(recs) == 0 {
		r.observeBacklog(ctx)
		return
	}

	sem := make(chan struct{}, r.FanOut)
	var wg sync.WaitGroup
	for i := range recs {
		if ctx.Err() != nil {
			break // abandoned rows stay claimed until the lease expires
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(rec model.OutboxRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			r.process(ctx, rec)
		}(recs[i])
	}
	wg.Wait()

	r.observeBacklog(ctx)
}

// process sends one record and settles its final state for this attempt.
func (r *Relay) process(ctx context.Context, rec model.OutboxRecord) {
	err := r.Producer.Send(ctx, rec.Topic, rec.EventID, rec.Payload)
	if err == nil {
		r.settleSent(ctx, rec)
		return
	}

	attempt := rec.RetryCount + 1
	if attempt < r.MaxRetry {
		metrics.RelaySendsTotal.WithLabelValues(rec.Topic, "retry").Inc()
		r.Log.Warn("publish failed, will retry",
			zap.String("event_id", rec.EventID),
			zap.Int("retry_count", attempt),
			zap.Error(err))
		if uerr := r.Store.IncrementRetry(ctx, rec.ID, err.Error()); uerr != nil {
			r.Log.Error("increment retry", zap.String("event_id", rec.EventID), zap.Error(uerr))
		}
		return
	}

	r.deadLetter(ctx, rec, attempt, err)
}

// deadLetter redirects the raw payload to <topic>.DLT and makes the row
// terminal. If the DLT publish itself fails the row stays PENDING so a
// later tick comes back here; retry_count keeps growing monotonically.
func (r *Relay) deadLetter(ctx context.Context, rec model.OutboxRecord, attempt int, sendErr error) {
	dltTopic := rec.Topic + r.DLTSuffix
	headers := []kafka.Header{
		{Key: kafka.HeaderFailureSource, Value: []byte(model.FailureOutboxPublish)},
		{Key: kafka.HeaderRetryCount, Value: []byte(strconv.Itoa(attempt))},
		{Key: kafka.HeaderLastError, Value: []byte(sendErr.Error())},
		{Key: kafka.HeaderOriginalTopic, Value: []byte(rec.Topic)},
	}

	if err := r.Producer.Send(ctx, dltTopic, rec.EventID, rec.Payload, headers...); err != nil {
		r.Log.Error("dead-letter publish failed",
			zap.String("event_id", rec.EventID),
			zap.String("topic", dltTopic),
			zap.Error(err))
		if uerr := r.Store.IncrementRetry(ctx, rec.ID, err.Error()); uerr != nil {
			r.Log.Error("increment retry", zap.String("event_id", rec.EventID), zap.Error(uerr))
		}
		return
	}

	metrics.RelaySendsTotal.WithLabelValues(rec.Topic, "dead_letter").Inc()
	r.Log.Error("retry budget exhausted, dead-lettered",
		zap.String("event_id", rec.EventID),
		zap.String("topic", rec.Topic),
		zap.Int("retry_count", attempt),
		zap.Error(sendErr))

	if err := r.Store.MarkFailed(ctx, rec.ID, sendErr.Error()); err != nil {
		r.Log.Error("mark failed", zap.String("event_id", rec.EventID), zap.Error(err))
	}
}

func (r *Relay) settleSent(ctx context.Context, rec model.OutboxRecord) {
	metrics.RelaySendsTotal.WithLabelValues(rec.Topic, "sent").Inc()

	switch r.SentMode {
	case SentModeDelete:
		if err := r.Store.Delete(ctx, rec.ID); err != nil {
			r.Log.Error("delete sent row", zap.String("event_id", rec.EventID), zap.Error(err))
		}
	case SentModeArchive:
		if err := r.Archive.Insert(ctx, rec); err != nil {
			// keep the row; marking SENT preserves the audit trail locally
			r.Log.Error("archive sent row", zap.String("event_id", rec.EventID), zap.Error(err))
			r.markSent(ctx, rec)
			return
		}
		if err := r.Store.Delete(ctx, rec.ID); err != nil {
			r.Log.Error("delete archived row", zap.String("event_id", rec.EventID), zap.Error(err))
		}
	default:
		r.markSent(ctx, rec)
	}
}

func (r *Relay) markSent(ctx context.Context, rec model.OutboxRecord) {
	if err := r.Store.MarkSent(ctx, rec.ID); err != nil {
		r.Log.Error("mark sent", zap.String("event_id", rec.EventID), zap.Error(err))
	}
}

func (r *Relay) observeBacklog(ctx context.Context) {
	n, err := r.Store.CountPending(ctx)
	if err != nil {
		return
	}
	metrics.OutboxPending.Set(float64(n))
}
