package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/microboard/eventrelay/internal/model"
)

// Handler consumes one event type. Handlers must be idempotent per
// event id: redelivery is always possible (crash between handler
// success and offset commit, retry exhaustion). The dispatcher cannot
// enforce this; it is the handler's contract.
type Handler interface {
	EventType() model.EventType
	Handle(ctx context.Context, env model.Envelope) error
}

// Registry maps event types to handlers. Built once at bootstrap and
// immutable afterwards; the dispatcher holds it by reference.
type Registry struct {
	handlers map[model.EventType][]Handler
}

// NewRegistry registers handlers in argument order (the invocation
// order the dispatcher honors). A handler declaring an event type with
// no topic mapping is logged and excluded rather than failing startup:
// partial capability beats total failure.
func NewRegistry(log *zap.Logger, handlers ...Handler) *Registry {
	m := make(map[model.EventType][]Handler, len(handlers))
	for _, h := range handlers {
		if h == nil {
			log.Warn("nil handler skipped")
			continue
		}
		t := h.EventType()
		if t.Topic() == "" {
			log.Warn("handler for unmapped event type skipped", zap.String("event_type", string(t)))
			continue
		}
		m[t] = append(m[t], h)
	}

	return &Registry{handlers: m}
}

// HandlersFor returns handlers in registration order; possibly empty.
func (r *Registry) HandlersFor(t model.EventType) []Handler {
	return r.handlers[t]
}

func (r *Registry) SupportedTypes() []model.EventType {
	types := make([]model.EventType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
