// Package dispatch fans an event out to the handlers interested in it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/registry"
)

// WorkItem is one handler run for one event
type WorkItem struct {
	ID      string
	Handler registry.HandlerID
	Event   events.Event
}

// TaskQueue executes work items asynchronously, at least once
type TaskQueue interface {
	Submit(ctx context.Context, item WorkItem) error
}

// Dispatcher classifies events and submits work items. It performs no
// forge or git I/O, so it can be called any number of times for the same
// event; the handlers are the idempotence boundary.
type Dispatcher struct {
	registry *registry.Registry
	queue    TaskQueue
	logger   *slog.Logger
}

// New creates a Dispatcher
func New(reg *registry.Registry, queue TaskQueue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: reg, queue: queue, logger: logger}
}

// Dispatch submits one work item per interested handler and returns the
// items that were accepted by the queue. Work items of the same event have
// no defined order.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.Event) ([]WorkItem, error) {
	handlers := d.registry.InterestedHandlers(event)
	if len(handlers) == 0 {
		d.logger.Debug("no handler interested in event", "type", typeName(event))
		return nil, nil
	}

	var (
		items []WorkItem
		errs  []error
	)
	for _, handler := range handlers {
		item := WorkItem{
			ID:      uuid.NewString(),
			Handler: handler,
			Event:   event,
		}
		if err := d.queue.Submit(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("failed to submit %s: %w", handler, err))
			continue
		}
		d.logger.Debug("work item submitted", "id", item.ID, "handler", handler, "type", typeName(event))
		items = append(items, item)
	}
	return items, errors.Join(errs...)
}

func typeName(event events.Event) string {
	if event == nil {
		return "<nil>"
	}
	return event.Type().String()
}
