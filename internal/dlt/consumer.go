package dlt

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/microboard/eventrelay/internal/kafka"
	"github.com/microboard/eventrelay/internal/metrics"
	"github.com/microboard/eventrelay/internal/model"
	"github.com/microboard/eventrelay/internal/repository"
	"github.com/microboard/eventrelay/internal/util"
)

// MaxErrorLen bounds the persisted diagnostic text.
const MaxErrorLen = 2000

// appFramePrefix marks "our" frames when compressing stacktraces.
const appFramePrefix = "github.com/microboard/eventrelay"

// MessageSource is the manual-ack consumer feeding dead letters.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Consumer drains every <topic>.DLT and turns each message into a
// write-once DeadLetterRecord. This is the one place message loss is
// unacceptable: the offset is committed only after the row is durable,
// and a failing insert is retried forever rather than skipped.
type Consumer struct {
	Source MessageSource
	Repo   repository.DeadLetterRepository
	// DLTSuffix is stripped from the message topic to recover the
	// original topic when no header says so.
	DLTSuffix string
	// PersistRetryDelay paces the insist-until-persisted loop.
	PersistRetryDelay time.Duration
	Log               *zap.Logger
}

func NewConsumer(source MessageSource, repo repository.DeadLetterRepository, dltSuffix string, log *zap.Logger) *Consumer {
	return &Consumer{Source: source, Repo: repo, DLTSuffix: dltSuffix, PersistRetryDelay: time.Second, Log: log}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.Log.Info("dead-letter consumer started")

	for {
		m, err := c.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.Log.Info("dead-letter consumer stopped")
				return nil
			}
			c.Log.Error("kafka fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		c.processMessage(ctx, m)
	}
}

func (c *Consumer) processMessage(ctx context.Context, m kafka.Message) {
	rec := c.BuildRecord(m)

	for {
		err := c.Repo.Insert(ctx, rec)
		if err == nil {
			break
		}
		// the single unacceptable loss path: keep the message
		// uncommitted and keep trying, loudly
		c.Log.Error("dead-letter persist failed, MANUAL INTERVENTION may be required",
			zap.String("event_id", rec.EventID),
			zap.String("failure_source", string(rec.FailureSource)),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return // uncommitted; redelivered after restart
		case <-time.After(c.PersistRetryDelay):
		}
	}

	metrics.DeadLettersTotal.WithLabelValues(string(rec.FailureSource)).Inc()
	c.Log.Warn("dead letter recorded",
		zap.String("event_id", rec.EventID),
		zap.String("event_type", rec.EventType),
		zap.String("failure_source", string(rec.FailureSource)),
		zap.Int("retry_count", rec.RetryCount))

	if err := c.Source.Commit(ctx, m); err != nil {
		c.Log.Error("offset commit", zap.Error(err))
	}
}

// BuildRecord extracts whatever diagnostics the message carries. It
// never fails: unparseable payloads get a synthesized event id and
// event_type "unknown", because dropping a dead letter is worse than a
// vague one.
func (c *Consumer) BuildRecord(m kafka.Message) model.DeadLetterRecord {
	rec := model.DeadLetterRecord{
		EventType: "unknown",
		Payload:   m.Value,
		Topic:     c.originalTopic(m),
	}

	if env, err := model.DecodeEnvelope(m.Value); err == nil {
		rec.EventID = env.EventID
		if env.Type != "" {
			rec.EventType = string(env.Type)
		}
	} else {
		rec.EventID = "unknown-dlt-" + util.New()
	}

	// failure-source header present: the relay's own retry-exhaustion
	// path produced this message
	if src, ok := kafka.HeaderValue(m.Headers, kafka.HeaderFailureSource); ok {
		rec.FailureSource = model.FailureSource(src)
		rec.RetryCount = headerInt(m.Headers, kafka.HeaderRetryCount)
		last, _ := kafka.HeaderValue(m.Headers, kafka.HeaderLastError)
		rec.LastError = Truncate(last, MaxErrorLen)
		return rec
	}

	// no marker: the consumer-side retry wrapper routed it here
	rec.FailureSource = model.FailureKafkaConsumer
	rec.RetryCount = model.RetryCountUnknown
	rec.LastError = Truncate(c.consumerDiagnostic(m), MaxErrorLen)

	return rec
}

// consumerDiagnostic condenses the exception headers into one bounded
// string: message, error type, and a compressed stacktrace.
func (c *Consumer) consumerDiagnostic(m kafka.Message) string {
	var b strings.Builder

	if msg, ok := kafka.HeaderValue(m.Headers, kafka.HeaderExceptionMessage); ok {
		b.WriteString(msg)
	}
	if typ, ok := kafka.HeaderValue(m.Headers, kafka.HeaderExceptionType); ok {
		if b.Len() > 0 {
			b.WriteString(" | ")
		}
		b.WriteString("type=")
		b.WriteString(typ)
	}
	if stack, ok := kafka.HeaderValue(m.Headers, kafka.HeaderExceptionStacktrace); ok {
		if compressed := CompressStack(stack); compressed != "" {
			if b.Len() > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(compressed)
		}
	}
	if b.Len() == 0 {
		return "no exception headers"
	}

	return b.String()
}

func (c *Consumer) originalTopic(m kafka.Message) string {
	if t, ok := kafka.HeaderValue(m.Headers, kafka.HeaderOriginalTopic); ok {
		return t
	}

	return strings.TrimSuffix(m.Topic, c.DLTSuffix)
}

// CompressStack keeps a megabyte stacktrace actionable: the first
// frame mentioning our module plus the first frame overall, nothing
// else.
func CompressStack(stack string) string {
	lines := strings.Split(stack, "\n")

	var first, app string
	for _, ln := range lines {
		t := strings.TrimSpace(ln)
		if t == "" {
			continue
		}
		if first == "" {
			first = t
		}
		if app == "" && strings.Contains(t, appFramePrefix) {
			app = t
		}
		if first != "" && app != "" {
			break
		}
	}

	switch {
	case app == "" || app == first:
		return first
	default:
		return app + " <- " + first
	}
}

// Truncate bounds s to max bytes, marking the cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const marker = "...[truncated]"
	if max <= len(marker) {
		return s[:max]
	}

	return s[:max-len(marker)] + marker
}

func headerInt(headers []kafka.Header, key string) int {
	v, ok := kafka.HeaderValue(headers, key)
	if !ok {
		return model.RetryCountUnknown
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return model.RetryCountUnknown
	}

	return n
}
