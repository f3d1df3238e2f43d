package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// SendError is the typed outcome of a failed broker send. The relay
// decides retry vs. dead-letter from it; the producer itself never
// retries.
type SendError struct {
	Topic   string
	Timeout bool
	Err     error
}

func (e *SendError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("kafka send to %s timed out: %v", e.Topic, e.Err)
	}
	return fmt.Sprintf("kafka send to %s: %v", e.Topic, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Producer is a thin wrapper around segmentio/kafka-go Writer with a
// bounded per-call timeout. Balancing by message key keeps all events
// of one aggregate on one partition.
type Producer struct {
	w           *kafka.Writer
	sendTimeout time.Duration
}

type ProducerConfig struct {
	Brokers      []string
	SendTimeout  time.Duration // default 5s
	BatchTimeout time.Duration // default 20ms
}

func NewProducer(c ProducerConfig) *Producer {
	st := c.SendTimeout
	if st <= 0 {
		st = 5 * time.Second
	}
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 20 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: bt,
		WriteTimeout: st,
		// topics may be auto-created per deployment policy
		AllowAutoTopicCreation: true,
	}

	return &Producer{w: w, sendTimeout: st}
}

// Send publishes one message and waits for the broker ack, up to the
// configured timeout. On failure it returns a *SendError.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte, headers ...Header) error {
	sctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	err := p.w.WriteMessages(sctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	})
	if err == nil {
		return nil
	}

	return &SendError{
		Topic:   topic,
		Timeout: sctx.Err() == context.DeadlineExceeded,
		Err:     err,
	}
}

func (p *Producer) Close() error { return p.w.Close() }
