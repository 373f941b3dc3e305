package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"distsync.dev/distsync/internal/dispatch"
	syncerrors "distsync.dev/distsync/internal/errors"
	"distsync.dev/distsync/internal/handlers"
	"distsync.dev/distsync/internal/logging"
)

// scriptedExecutor returns errs in order, then success
type scriptedExecutor struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (e *scriptedExecutor) Run(context.Context, dispatch.WorkItem) (handlers.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		return handlers.Result{}, err
	}
	return handlers.Result{Success: true, Message: "ok"}, nil
}

func newPool(exec Executor, retries int) *Pool {
	return New(exec, Options{Workers: 2, RetryLimit: retries, RetryBackoff: time.Millisecond}, logging.Discard())
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	item := dispatch.WorkItem{ID: "w1", Handler: "source_to_dist"}
	transient := errors.New("connection reset")

	t.Run("success", func(t *testing.T) {
		exec := &scriptedExecutor{}
		outcome := newPool(exec, 2).Execute(ctx, item)
		require.NoError(t, outcome.Err)
		require.True(t, outcome.Result.Success)
		require.Equal(t, 1, outcome.Attempts)
	})

	t.Run("transient errors are retried", func(t *testing.T) {
		exec := &scriptedExecutor{errs: []error{transient, transient}}
		outcome := newPool(exec, 2).Execute(ctx, item)
		require.NoError(t, outcome.Err)
		require.Equal(t, 3, outcome.Attempts)
	})

	t.Run("retry limit", func(t *testing.T) {
		exec := &scriptedExecutor{errs: []error{transient, transient, transient, transient}}
		outcome := newPool(exec, 2).Execute(ctx, item)
		require.ErrorIs(t, outcome.Err, transient)
		require.Equal(t, 3, outcome.Attempts)
		require.Equal(t, 3, exec.calls)
	})

	t.Run("configuration errors are not retried", func(t *testing.T) {
		exec := &scriptedExecutor{errs: []error{syncerrors.NewUnknownStatusError("gitlab pipeline", "exploded")}}
		outcome := newPool(exec, 5).Execute(ctx, item)
		require.ErrorIs(t, outcome.Err, syncerrors.ErrConfiguration)
		require.Equal(t, 1, outcome.Attempts)
	})

	t.Run("cancelled while backing off", func(t *testing.T) {
		exec := &scriptedExecutor{errs: []error{transient}}
		pool := New(exec, Options{RetryLimit: 3, RetryBackoff: time.Hour}, logging.Discard())
		cctx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		outcome := pool.Execute(cctx, item)
		require.ErrorIs(t, outcome.Err, context.Canceled)
		require.ErrorIs(t, outcome.Err, transient)
	})
}

func TestPoolRun(t *testing.T) {
	ctx := context.Background()
	exec := &scriptedExecutor{}

	var (
		mu       sync.Mutex
		outcomes []Outcome
	)
	pool := New(exec, Options{
		Workers: 3,
		OnDone: func(o Outcome) {
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		},
	}, logging.Discard())

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(ctx, dispatch.WorkItem{ID: string(rune('a' + i))}))
	}
	pool.Close()
	require.NoError(t, <-done)

	require.Len(t, outcomes, 10)
	require.ErrorIs(t, pool.Submit(ctx, dispatch.WorkItem{ID: "late"}), ErrClosed)
}

func TestInline(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{errors.New("flaky")}}
	queue := NewInline(newPool(exec, 1))

	require.NoError(t, queue.Submit(context.Background(), dispatch.WorkItem{ID: "w1"}))
	outcomes := queue.Outcomes()
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	require.Equal(t, 2, outcomes[0].Attempts)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{"first retry", time.Second, 1, time.Second},
		{"doubles", time.Second, 4, 8 * time.Second},
		{"no backoff", 0, 5, 0},
		{"capped", time.Minute, 10, maxRetryDelay},
		{"large attempt counts stay capped", time.Second, 200, maxRetryDelay},
		{"base above the cap", 2 * time.Hour, 1, maxRetryDelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, retryDelay(tt.base, tt.attempt))
		})
	}
}
