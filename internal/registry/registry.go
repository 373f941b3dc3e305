// Package registry maps handler identities to the event types they react to.
//
// A Registry is filled once at process start and only read afterwards;
// it is not safe to Register concurrently with lookups.
package registry

import (
	"sort"

	"distsync.dev/distsync/internal/events"
)

// HandlerID names a handler (and the task that runs it)
type HandlerID string

// Registry is the static handler to event-type mapping
type Registry struct {
	interest  map[HandlerID]map[events.Type]struct{}
	unhandled map[events.Type]struct{}
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		interest:  make(map[HandlerID]map[events.Type]struct{}),
		unhandled: make(map[events.Type]struct{}),
	}
}

// Register records that handler reacts to events matching selector.
// Registering the same pair twice has no additional effect.
func (r *Registry) Register(handler HandlerID, selector events.Type) {
	set, ok := r.interest[handler]
	if !ok {
		set = make(map[events.Type]struct{})
		r.interest[handler] = set
	}
	set[selector] = struct{}{}
}

// MarkUnhandled records that no handler is expected for t
func (r *Registry) MarkUnhandled(t events.Type) {
	r.unhandled[t] = struct{}{}
}

// IsMarkedUnhandled reports whether t was marked with MarkUnhandled
func (r *Registry) IsMarkedUnhandled(t events.Type) bool {
	_, ok := r.unhandled[t]
	return ok
}

// InterestedHandlers returns every handler with a selector matching the
// runtime type of event, sorted by id. It depends only on event.Type().
func (r *Registry) InterestedHandlers(event events.Event) []HandlerID {
	if event == nil {
		return nil
	}
	return r.HandlersFor(event.Type())
}

// HandlersFor returns the handlers interested in events of type t
func (r *Registry) HandlersFor(t events.Type) []HandlerID {
	var handlers []HandlerID
	for handler, selectors := range r.interest {
		for selector := range selectors {
			if selector.Matches(t) {
				handlers = append(handlers, handler)
				break
			}
		}
	}
	sort.Slice(handlers, func(i, j int) bool { return handlers[i] < handlers[j] })
	return handlers
}

// Selectors returns the selectors registered for handler
func (r *Registry) Selectors(handler HandlerID) []events.Type {
	var selectors []events.Type
	for selector := range r.interest[handler] {
		selectors = append(selectors, selector)
	}
	sort.Slice(selectors, func(i, j int) bool { return selectors[i].String() < selectors[j].String() })
	return selectors
}
