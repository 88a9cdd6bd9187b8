// Package events fans typed domain events out to in-process subscribers.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/metrics"
)

// Publisher emits events after their state change has been persisted
type Publisher interface {
	Publish(ctx context.Context, e domain.Event)
}

// Handler reacts to an event. Errors are logged and never reach the publisher.
type Handler func(ctx context.Context, e domain.Event) error

type subscription struct {
	name    string
	handler Handler
}

// Bus delivers each event to every subscriber synchronously, in subscription order
type Bus struct {
	mu      sync.RWMutex
	subs    []subscription
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewBus creates an empty bus
func NewBus(logger *zap.Logger, m *metrics.Metrics) *Bus {
	return &Bus{logger: logger, metrics: m}
}

// Subscribe registers h under name
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: h})
}

// Publish delivers e to every subscriber
func (b *Bus) Publish(ctx context.Context, e domain.Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(ctx, e); err != nil {
			b.metrics.IncrementEventHandlerErrors(e.EventName())
			b.logger.Warn("event handler failed",
				zap.String("event", e.EventName()),
				zap.String("subscriber", s.name),
				zap.Error(err),
			)
		}
	}
}

// Discard drops every event
type Discard struct{}

// Publish implements Publisher
func (Discard) Publish(context.Context, domain.Event) {}
