package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/registry"
)

type recordingQueue struct {
	items []WorkItem
	fail  map[registry.HandlerID]error
}

func (q *recordingQueue) Submit(_ context.Context, item WorkItem) error {
	if err := q.fail[item.Handler]; err != nil {
		return err
	}
	q.items = append(q.items, item)
	return nil
}

func testRegistry() *registry.Registry {
	r := registry.New()
	r.Register("source-to-dist", events.TypeMergeRequestGitlab)
	r.Register("dist-to-source", events.TypePushGitlab)
	r.Register("dist-to-source", events.TypePushPagure)
	r.Register("mirror-audit", events.TypePushGitlab)
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatch(t *testing.T) {
	t.Run("one work item per interested handler", func(t *testing.T) {
		queue := &recordingQueue{}
		d := New(testRegistry(), queue, discardLogger())

		event := events.Push{Forge: events.ForgeGitlab, Ref: "refs/heads/c9s"}
		items, err := d.Dispatch(context.Background(), event)
		require.NoError(t, err)
		require.Len(t, items, 2)
		require.Equal(t, items, queue.items)

		handlers := []registry.HandlerID{items[0].Handler, items[1].Handler}
		require.ElementsMatch(t, []registry.HandlerID{"dist-to-source", "mirror-audit"}, handlers)
		require.NotEqual(t, items[0].ID, items[1].ID)
		for _, item := range items {
			require.Equal(t, event, item.Event)
		}
	})

	t.Run("no interested handler is not an error", func(t *testing.T) {
		queue := &recordingQueue{}
		d := New(testRegistry(), queue, discardLogger())

		items, err := d.Dispatch(context.Background(), events.PipelineStatus{Status: "success"})
		require.NoError(t, err)
		require.Empty(t, items)
		require.Empty(t, queue.items)
	})

	t.Run("repeated dispatch submits again", func(t *testing.T) {
		queue := &recordingQueue{}
		d := New(testRegistry(), queue, discardLogger())
		event := events.MergeRequestAction{Action: events.ActionOpened, PRID: 1}

		_, err := d.Dispatch(context.Background(), event)
		require.NoError(t, err)
		_, err = d.Dispatch(context.Background(), event)
		require.NoError(t, err)
		require.Len(t, queue.items, 2)
	})

	t.Run("submit failures are reported but do not stop the fan-out", func(t *testing.T) {
		boom := errors.New("queue full")
		queue := &recordingQueue{fail: map[registry.HandlerID]error{"mirror-audit": boom}}
		d := New(testRegistry(), queue, discardLogger())

		items, err := d.Dispatch(context.Background(), events.Push{Forge: events.ForgeGitlab})
		require.ErrorIs(t, err, boom)
		require.Len(t, items, 1)
		require.Equal(t, registry.HandlerID("dist-to-source"), items[0].Handler)
	})
}
