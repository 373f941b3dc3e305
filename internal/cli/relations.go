package cli

import (
	"time"

	"github.com/spf13/cobra"

	"distsync.dev/distsync/internal/cli/common"
	"distsync.dev/distsync/internal/runtime"
)

// newRelationsCmd creates the relations command
func newRelationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relations",
		Short: "Inspect the stored source to distribution pull request relations",
	}
	cmd.AddCommand(newRelationsListCmd())
	return cmd
}

func newRelationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List every stored relation",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return common.Run(cmd, func(ctx *runtime.Context) error {
				relations, err := ctx.Store.List(cmd.Context())
				if err != nil {
					return err
				}
				ctx.Printer.Page(ctx.Printer.RenderRelations(relations, time.Now()))
				return nil
			})
		},
	}
}
