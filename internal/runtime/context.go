package runtime

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"distsync.dev/distsync/internal/config"
	"distsync.dev/distsync/internal/dispatch"
	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/forge"
	"distsync.dev/distsync/internal/handlers"
	"distsync.dev/distsync/internal/jobs"
	"distsync.dev/distsync/internal/logging"
	"distsync.dev/distsync/internal/output"
	"distsync.dev/distsync/internal/status"
	"distsync.dev/distsync/internal/store"
	"distsync.dev/distsync/internal/syncengine"
	"distsync.dev/distsync/internal/worker"
)

// Options selects the configuration file and console behavior
type Options struct {
	ConfigPath string
	Debug      bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// Context provides access to the services for commands
type Context struct {
	Config   *config.Config
	Logger   *slog.Logger
	Printer  *output.Printer
	Store    *store.Store
	Forges   *forge.Resolver
	Handlers *handlers.Handlers
	Runner   *jobs.Runner
	Parser   *events.Parser

	closers []io.Closer
}

// NewContext loads the configuration and opens the store. Close releases
// the store and the log file.
func NewContext(opts Options) (*Context, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(logging.Options{
		Debug:      opts.Debug,
		JSON:       cfg.Log.JSON,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Console:    opts.Stderr,
	})
	if err != nil {
		return nil, err
	}
	ctx := &Context{
		Config:  cfg,
		Logger:  logger,
		Printer: output.NewPrinter(opts.Stdout),
		Parser:  events.NewParser(cfg.PagureURL),
		closers: []io.Closer{logCloser},
	}

	s, err := store.Open(cfg.GetDatabase(), logger)
	if err != nil {
		_ = ctx.Close()
		return nil, fmt.Errorf("failed to open relation store: %w", err)
	}
	ctx.Store = s
	ctx.closers = append([]io.Closer{s}, ctx.closers...)

	ctx.Forges = forge.NewResolver(cfg, &http.Client{Timeout: 60 * time.Second})
	ctx.Handlers, err = handlers.New(handlers.Deps{
		Config:    cfg,
		Forges:    ctx.Forges,
		Relations: s,
		Engine:    syncengine.New(cfg.GetWorkDir(), cfg.GetGitAuthor(), logger),
		Reporter:  status.NewReporter(logger),
		Logger:    logger,
	})
	if err != nil {
		_ = ctx.Close()
		return nil, err
	}
	ctx.Runner = jobs.NewRunner(ctx.Handlers)
	return ctx, nil
}

// NewPool creates a worker pool running the handlers with the configured
// retry policy
func (c *Context) NewPool(onDone func(worker.Outcome)) *worker.Pool {
	return worker.New(c.Runner, worker.Options{
		Workers:      c.Config.GetWorkers(),
		RetryLimit:   c.Config.GetRetryLimit(),
		RetryBackoff: c.Config.GetRetryBackoff(),
		OnDone:       onDone,
	}, c.Logger)
}

// NewDispatcher creates a dispatcher submitting to queue
func (c *Context) NewDispatcher(queue dispatch.TaskQueue) *dispatch.Dispatcher {
	return dispatch.New(jobs.Registry(), queue, c.Logger)
}

// Close releases the store and the log file
func (c *Context) Close() error {
	var errs []error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
