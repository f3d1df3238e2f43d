package outbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/microboard/eventrelay/internal/idgen"
	"github.com/microboard/eventrelay/internal/model"
	"github.com/microboard/eventrelay/internal/repository"
)

var (
	ErrNoTransaction = errors.New("outbox: publish requires an active transaction")
	ErrUnknownTopic  = errors.New("outbox: no topic mapped for event type")
)

// Publisher turns a domain event into a PENDING outbox row inside the
// caller's transaction. It performs no network I/O, so the business
// mutation and the intent-to-publish commit or roll back together.
type Publisher struct {
	repo repository.OutboxRepository
	ids  idgen.Generator
}

func NewPublisher(repo repository.OutboxRepository, ids idgen.Generator) *Publisher {
	return &Publisher{repo: repo, ids: ids}
}

// Publish serializes payload into an envelope and inserts one outbox row.
// aggregateKey is currently informational: partition affinity comes from
// the event id used as the Kafka message key.
func (p *Publisher) Publish(ctx context.Context, tx *sqlx.Tx, payload model.EventPayload, aggregateKey string) (string, error) {
	if tx == nil {
		return "", ErrNoTransaction
	}

	eventType := payload.EventType()
	topic := eventType.Topic()
	if topic == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownTopic, eventType)
	}

	eventID := strconv.FormatInt(p.ids.NextID(), 10)
	env, err := model.NewEnvelope(eventID, payload, time.Now().UnixMilli())
	if err != nil {
		// abort the whole business transaction, never a half-written event
		return "", err
	}

	data, err := env.Encode()
	if err != nil {
		return "", err
	}

	if err := p.repo.Insert(ctx, tx, eventID, string(eventType), topic, data); err != nil {
		return "", fmt.Errorf("insert outbox: %w", err)
	}

	return eventID, nil
}
