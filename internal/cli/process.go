package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"distsync.dev/distsync/internal/cli/common"
	"distsync.dev/distsync/internal/runtime"
	"distsync.dev/distsync/internal/worker"
)

// newProcessCmd creates the process command
func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <payload.json>",
		Short: "Run the handlers for a stored webhook payload",
		Long: `Parse a stored GitLab webhook body or message-bus envelope and run every
interested handler synchronously with the configured retry policy.
Use "-" to read the payload from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return common.Run(cmd, func(ctx *runtime.Context) error {
				event, err := ctx.Parser.Parse(raw)
				if err != nil {
					return err
				}
				if event == nil {
					ctx.Printer.Dim("Payload does not describe a supported event.")
					return nil
				}
				if !event.PreCheck() {
					ctx.Printer.Dim("Event %s failed the pre-check, nothing to do.", event.Type())
					return nil
				}

				queue := worker.NewInline(ctx.NewPool(nil))
				if _, err := ctx.NewDispatcher(queue).Dispatch(cmd.Context(), event); err != nil {
					return err
				}
				outcomes := queue.Outcomes()
				ctx.Printer.Page(ctx.Printer.RenderOutcomes(outcomes))
				for _, outcome := range outcomes {
					if outcome.Err != nil || !outcome.Result.Success {
						return fmt.Errorf("%s did not succeed", outcome.Item.Handler)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return raw, nil
}
