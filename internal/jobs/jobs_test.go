package jobs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"distsync.dev/distsync/internal/config"
	"distsync.dev/distsync/internal/dispatch"
	syncerrors "distsync.dev/distsync/internal/errors"
	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/handlers"
	"distsync.dev/distsync/internal/logging"
	"distsync.dev/distsync/internal/registry"
	"distsync.dev/distsync/internal/store"
	"distsync.dev/distsync/testhelpers"
)

func TestRegistryCoversEveryEventType(t *testing.T) {
	reg := Registry()
	for _, eventType := range events.AllTypes {
		t.Run(eventType.String(), func(t *testing.T) {
			handled := len(reg.HandlersFor(eventType)) > 0
			require.True(t, handled || reg.IsMarkedUnhandled(eventType), "%s has no handler and is not marked unhandled", eventType)
		})
	}
}

func TestRegistryRouting(t *testing.T) {
	reg := Registry()
	require.Same(t, reg, Registry())

	tests := []struct {
		event    events.Event
		expected []registry.HandlerID
	}{
		{events.MergeRequestAction{Action: events.ActionOpened}, []registry.HandlerID{SourceToDist}},
		{events.PipelineStatus{Status: "success"}, []registry.HandlerID{PipelineToSource}},
		{events.PRFlag{Status: "success"}, []registry.HandlerID{FlagToSource}},
		{events.Push{Forge: events.ForgeGitlab}, []registry.HandlerID{DistToSource}},
		{events.Push{Forge: events.ForgePagure}, []registry.HandlerID{DistToSource}},
	}
	for _, tt := range tests {
		t.Run(tt.event.Type().String(), func(t *testing.T) {
			require.Equal(t, tt.expected, reg.InterestedHandlers(tt.event))
		})
	}
}

func newRunner(t *testing.T) *Runner {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "relations.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	h, err := handlers.New(handlers.Deps{
		Config:    &config.Config{},
		Forges:    testhelpers.NewFakeForge(),
		Relations: s,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	return NewRunner(h)
}

func TestRunner(t *testing.T) {
	ctx := context.Background()
	runner := newRunner(t)

	t.Run("routes to the handler", func(t *testing.T) {
		result, err := runner.Run(ctx, dispatch.WorkItem{
			ID:      "1",
			Handler: PipelineToSource,
			Event: events.PipelineStatus{
				ProjectURL: "https://gitlab.com/redhat/centos-stream/rpms/bash",
				Source:     "push",
				Status:     "success",
			},
		})
		require.NoError(t, err)
		require.True(t, result.Success)
	})

	t.Run("mismatched event", func(t *testing.T) {
		_, err := runner.Run(ctx, dispatch.WorkItem{ID: "2", Handler: SourceToDist, Event: events.PRFlag{}})
		require.ErrorIs(t, err, syncerrors.ErrConfiguration)
	})

	t.Run("unknown handler", func(t *testing.T) {
		_, err := runner.Run(ctx, dispatch.WorkItem{ID: "3", Handler: "nope", Event: events.Push{}})
		require.ErrorIs(t, err, syncerrors.ErrConfiguration)
	})
}
