// Package jobs binds event types to handlers: the process-wide registry and
// the runner that executes a work item with the matching handler.
package jobs

import (
	"context"
	"sync"

	syncerrors "distsync.dev/distsync/internal/errors"
	"distsync.dev/distsync/internal/dispatch"
	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/handlers"
	"distsync.dev/distsync/internal/registry"
)

// Handler ids
const (
	SourceToDist     registry.HandlerID = "source_to_dist"
	PipelineToSource registry.HandlerID = "pipeline_to_source"
	FlagToSource     registry.HandlerID = "flag_to_source"
	DistToSource     registry.HandlerID = "dist_to_source"
)

var (
	registryOnce sync.Once
	defaultReg   *registry.Registry
)

// Registry returns the handler registry. It is built on first use and
// read-only afterwards.
func Registry() *registry.Registry {
	registryOnce.Do(func() {
		defaultReg = newRegistry()
	})
	return defaultReg
}

func newRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register(SourceToDist, events.TypeMergeRequestGitlab)
	reg.Register(PipelineToSource, events.TypePipelineGitlab)
	reg.Register(FlagToSource, events.TypePRFlagPagure)
	// pushes from any forge
	reg.Register(DistToSource, events.Type{Kind: events.KindPush})
	return reg
}

// Runner executes work items
type Runner struct {
	handlers *handlers.Handlers
}

// NewRunner creates a Runner
func NewRunner(h *handlers.Handlers) *Runner {
	return &Runner{handlers: h}
}

// Run executes item with its handler. A handler that does not accept the
// event type is a configuration error.
func (r *Runner) Run(ctx context.Context, item dispatch.WorkItem) (handlers.Result, error) {
	switch item.Handler {
	case SourceToDist:
		if event, ok := item.Event.(events.MergeRequestAction); ok {
			return r.handlers.SourceToDist(ctx, event)
		}
	case PipelineToSource:
		if event, ok := item.Event.(events.PipelineStatus); ok {
			return r.handlers.PipelineToSource(ctx, event)
		}
	case FlagToSource:
		if event, ok := item.Event.(events.PRFlag); ok {
			return r.handlers.FlagToSource(ctx, event)
		}
	case DistToSource:
		if event, ok := item.Event.(events.Push); ok {
			return r.handlers.DistToSource(ctx, event)
		}
	default:
		return handlers.Result{}, syncerrors.Configurationf("unknown handler %q", item.Handler)
	}
	return handlers.Result{}, syncerrors.Configurationf("handler %s cannot run %T", item.Handler, item.Event)
}
