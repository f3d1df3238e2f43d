package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/microboard/eventrelay/internal/kafka"
	"github.com/microboard/eventrelay/internal/metrics"
	"github.com/microboard/eventrelay/internal/model"
)

// MessageSource is the manual-ack consumer the dispatcher drains.
// *kafka.Consumer is the production implementation.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Sender publishes exhausted messages to the dead-letter topic.
type Sender interface {
	Send(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

// Dispatcher pulls messages off one topic and drives registered
// handlers, one message at a time (partition order is preserved within
// a dispatcher; run one per topic for cross-topic concurrency).
//
// A message is retried in place with exponential backoff; when the
// budget runs out it is published to <topic><DLTSuffix> with exception
// headers and only then committed. The offset commit is always the last
// action on the happy path.
type Dispatcher struct {
	Topic     string
	Consumer  MessageSource
	Registry  *Registry
	Producer  Sender
	Dedup     *Dedup // optional
	Backoff   Backoff
	DLTSuffix string

	Clock clockwork.Clock
	Log   *zap.Logger
}

func NewDispatcher(topic string, consumer MessageSource, registry *Registry, producer Sender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		Topic:     topic,
		Consumer:  consumer,
		Registry:  registry,
		Producer:  producer,
		Backoff:   DefaultBackoff(),
		DLTSuffix: ".DLT",
		Clock:     clockwork.NewRealClock(),
		Log:       log,
	}
}

// Run blocks until ctx is cancelled. The in-flight message is finished
// before returning; only the next fetch observes cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	d.Log.Info("dispatcher started",
		zap.String("topic", d.Topic),
		zap.Int("retry_max_attempts", d.Backoff.MaxAttempts))

	for {
		m, err := d.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				d.Log.Info("dispatcher stopped", zap.String("topic", d.Topic))
				return nil
			}
			d.Log.Error("kafka fetch", zap.String("topic", d.Topic), zap.Error(err))
			d.sleep(ctx, 200*time.Millisecond)
			continue
		}

		d.processMessage(ctx, m)
	}
}

// processMessage runs the retry wrapper around one delivery. Every exit
// path except ctx cancellation ends in a commit; an uncommitted message
// is redelivered after restart or rebalance, which is the universal
// recovery mechanism.
func (d *Dispatcher) processMessage(ctx context.Context, m kafka.Message) {
	var lastErr error
	for attempt := 1; attempt <= d.Backoff.MaxAttempts; attempt++ {
		if delay := d.Backoff.Delay(attempt); delay > 0 {
			if !d.sleep(ctx, delay) {
				return // shutting down, leave uncommitted
			}
		}

		done, err := d.attempt(ctx, m)
		if err == nil {
			if done {
				d.commit(ctx, m)
			}
			return
		}
		lastErr = err

		metrics.ConsumerMessagesTotal.WithLabelValues(d.Topic, "retried").Inc()
		d.Log.Warn("handling failed",
			zap.String("topic", d.Topic),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	d.routeToDLT(ctx, m, lastErr)
}

// attempt makes one pass over the message: decode, dedup, handlers,
// durable processed mark. done=false with nil error means the message
// was already committed inside (never happens today, kept for clarity).
func (d *Dispatcher) attempt(ctx context.Context, m kafka.Message) (done bool, err error) {
	env, err := model.DecodeEnvelope(m.Value)
	if err != nil {
		// treated as transient: the payload may be a partial read or a
		// producer bug fixed by the time retries run out
		return false, err
	}

	handlers := d.Registry.HandlersFor(env.Type)
	if len(handlers) == 0 {
		// forward compatible: new event types may ship before handlers
		metrics.ConsumerMessagesTotal.WithLabelValues(d.Topic, "no_handler").Inc()
		d.Log.Warn("no handler registered",
			zap.String("event_type", string(env.Type)),
			zap.String("event_id", env.EventID))
		return true, nil
	}

	if d.Dedup != nil {
		seen, derr := d.Dedup.Seen(ctx, env.EventID)
		if derr != nil {
			return false, fmt.Errorf("dedup lookup: %w", derr)
		}
		if seen {
			metrics.ConsumerMessagesTotal.WithLabelValues(d.Topic, "duplicate").Inc()
			d.Log.Debug("duplicate delivery skipped", zap.String("event_id", env.EventID))
			return true, nil
		}
	}

	// sequential, registration order; first failure aborts the rest
	for _, h := range handlers {
		if err := d.invoke(ctx, h, env); err != nil {
			return false, err
		}
	}

	if d.Dedup != nil {
		if err := d.Dedup.MarkProcessed(ctx, env.EventID); err != nil {
			return false, fmt.Errorf("mark processed: %w", err)
		}
	}

	metrics.ConsumerMessagesTotal.WithLabelValues(d.Topic, "handled").Inc()
	return true, nil
}

// invoke shields the dispatcher from handler panics; a panic is just a
// handler error with a stack attached.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, env model.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()

	return h.Handle(ctx, env)
}

// routeToDLT hands the exhausted message to the dead-letter topic with
// the diagnostic headers the dead-letter consumer expects, then
// commits. The DLT publish is retried until it succeeds or shutdown:
// this is the one hop where giving up would silently lose the message.
func (d *Dispatcher) routeToDLT(ctx context.Context, m kafka.Message, cause error) {
	headers := []kafka.Header{
		{Key: kafka.HeaderExceptionMessage, Value: []byte(cause.Error())},
		{Key: kafka.HeaderExceptionType, Value: []byte(fmt.Sprintf("%T", cause))},
		{Key: kafka.HeaderExceptionStacktrace, Value: debug.Stack()},
		{Key: kafka.HeaderOriginalTopic, Value: []byte(d.Topic)},
	}
	dltTopic := d.Topic + d.DLTSuffix

	for {
		err := d.Producer.Send(ctx, dltTopic, string(m.Key), m.Value, headers...)
		if err == nil {
			break
		}
		d.Log.Error("dead-letter publish failed, retrying",
			zap.String("topic", dltTopic),
			zap.Error(err))
		if !d.sleep(ctx, d.Backoff.InitialDelay) {
			return // uncommitted; redelivered after restart
		}
	}

	metrics.ConsumerMessagesTotal.WithLabelValues(d.Topic, "dead_letter").Inc()
	d.Log.Error("retry budget exhausted, dead-lettered",
		zap.String("topic", d.Topic),
		zap.Error(cause))

	d.commit(ctx, m)
}

func (d *Dispatcher) commit(ctx context.Context, m kafka.Message) {
	if err := d.Consumer.Commit(ctx, m); err != nil {
		// no ack: the message will be redelivered, handlers are idempotent
		d.Log.Error("offset commit", zap.String("topic", d.Topic), zap.Error(err))
	}
}

// sleep waits via the injected clock; false means ctx was cancelled.
func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-d.Clock.After(delay):
		return true
	}
}
