package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryPublisher is a simple implementation of the Publisher interface
// that stores registered handlers in memory and dispatches events to them.
type InMemoryPublisher struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryPublisher creates a new instance of InMemoryPublisher.
func NewInMemoryPublisher(logger *slog.Logger) *InMemoryPublisher {
	return &InMemoryPublisher{
		handlers: make([]Handler, 0),
		logger:   logger.With("component", "in_memory_publisher"),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (p *InMemoryPublisher) RegisterHandler(handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
	p.logger.Debug("registered new event handler", "handler_count", len(p.handlers))
}

// Publish delivers the given event to all registered handlers. If any
// handler returns an error, the event is still delivered to the remaining
// handlers and the first error encountered is returned.
func (p *InMemoryPublisher) Publish(ctx context.Context, event *TaskEvent) error {
	p.mu.RLock()
	handlers := make([]Handler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()

	p.logger.Debug("publishing event",
		"event_id", event.ID,
		"event_type", event.Type,
		"task_id", event.TaskID,
		"handler_count", len(handlers))

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			p.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
