// Package worker executes dispatched work items on a fixed pool of
// goroutines, retrying transient failures with exponential backoff.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"distsync.dev/distsync/internal/dispatch"
	syncerrors "distsync.dev/distsync/internal/errors"
	"distsync.dev/distsync/internal/handlers"
)

// ErrClosed is returned by Submit after Close
var ErrClosed = errors.New("worker pool closed")

// maxRetryDelay bounds the backoff between two attempts
const maxRetryDelay = time.Hour

// retryDelay is base doubled for every attempt after the first, capped at maxRetryDelay
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= maxRetryDelay/2 {
			return maxRetryDelay
		}
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

// Executor runs one work item
type Executor interface {
	Run(ctx context.Context, item dispatch.WorkItem) (handlers.Result, error)
}

// Outcome is the final state of a work item
type Outcome struct {
	Item     dispatch.WorkItem
	Result   handlers.Result
	Err      error
	Attempts int
}

// Options configures a Pool
type Options struct {
	Workers      int
	RetryLimit   int
	RetryBackoff time.Duration
	QueueSize    int
	// OnDone is called once per work item with its outcome
	OnDone func(Outcome)
}

// Pool runs work items submitted through Submit. It implements dispatch.TaskQueue.
type Pool struct {
	exec   Executor
	opts   Options
	logger *slog.Logger

	queue  chan dispatch.WorkItem
	mu     sync.RWMutex
	closed bool
}

var _ dispatch.TaskQueue = (*Pool)(nil)

// New creates a Pool. Run must be called to start processing.
func New(exec Executor, opts Options, logger *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		exec:   exec,
		opts:   opts,
		logger: logger,
		queue:  make(chan dispatch.WorkItem, opts.QueueSize),
	}
}

// Submit queues item, blocking while the queue is full
func (p *Pool) Submit(ctx context.Context, item dispatch.WorkItem) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work. Queued items are still processed by Run.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}

// Run processes work items until Close has been called and the queue is
// drained, or ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case item, ok := <-p.queue:
					if !ok {
						return nil
					}
					p.Execute(ctx, item)
				}
			}
		})
	}
	return g.Wait()
}

// Execute runs item, retrying transient errors up to the retry limit.
// Configuration errors and failed results are final.
func (p *Pool) Execute(ctx context.Context, item dispatch.WorkItem) Outcome {
	logger := p.logger.With("work_item", item.ID, "handler", item.Handler)
	outcome := Outcome{Item: item}

	for {
		outcome.Attempts++
		outcome.Result, outcome.Err = p.exec.Run(ctx, item)
		if outcome.Err == nil {
			break
		}
		if errors.Is(outcome.Err, syncerrors.ErrConfiguration) {
			logger.Error("work item failed on configuration", "error", outcome.Err)
			break
		}
		if outcome.Attempts > p.opts.RetryLimit {
			logger.Error("work item failed, giving up", "attempts", outcome.Attempts, "error", outcome.Err)
			break
		}

		delay := retryDelay(p.opts.RetryBackoff, outcome.Attempts)
		logger.Warn("work item failed, retrying", "attempt", outcome.Attempts, "delay", delay, "error", outcome.Err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			outcome.Err = errors.Join(outcome.Err, ctx.Err())
			p.done(outcome)
			return outcome
		}
	}

	if outcome.Err == nil {
		if outcome.Result.Success {
			logger.Info("work item done", "message", outcome.Result.Message)
		} else {
			logger.Error("work item reported failure", "message", outcome.Result.Message)
		}
	}
	p.done(outcome)
	return outcome
}

func (p *Pool) done(outcome Outcome) {
	if p.opts.OnDone != nil {
		p.opts.OnDone(outcome)
	}
}

// Inline is a dispatch.TaskQueue that executes items in the submitting
// goroutine. It is used to replay a single payload.
type Inline struct {
	pool *Pool

	mu       sync.Mutex
	outcomes []Outcome
}

// NewInline creates an Inline queue executing with pool's retry policy
func NewInline(pool *Pool) *Inline {
	return &Inline{pool: pool}
}

// Submit runs item to completion
func (q *Inline) Submit(ctx context.Context, item dispatch.WorkItem) error {
	outcome := q.pool.Execute(ctx, item)
	q.mu.Lock()
	q.outcomes = append(q.outcomes, outcome)
	q.mu.Unlock()
	return nil
}

// Outcomes returns the outcomes of the submitted items in order
func (q *Inline) Outcomes() []Outcome {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Outcome(nil), q.outcomes...)
}
