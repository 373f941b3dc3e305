package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"distsync.dev/distsync/internal/cli/common"
	"distsync.dev/distsync/internal/runtime"
	"distsync.dev/distsync/internal/server"
)

// newServeCmd creates the serve command
func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive webhooks and run the sync handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return common.Run(cmd, func(ctx *runtime.Context) error {
				if listen == "" {
					listen = ctx.Config.GetListen()
				}
				sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return serve(sigCtx, ctx, listen)
			})
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from configuration, :8080)")

	return cmd
}

// serve runs the HTTP intake and the worker pool until ctx is cancelled.
// Queued work items are drained before returning.
func serve(ctx context.Context, rt *runtime.Context, listen string) error {
	pool := rt.NewPool(nil)
	dispatcher := rt.NewDispatcher(pool)
	webhook := server.NewHandler(rt.Parser, dispatcher, rt.Config.WebhookSecret, rt.Logger)
	srv := server.New(listen, server.Routes(webhook), rt.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// not tied to gctx: accepted work is finished after shutdown
		return pool.Run(context.WithoutCancel(gctx))
	})
	g.Go(func() error {
		defer pool.Close()
		return srv.Run(gctx)
	})
	return g.Wait()
}
