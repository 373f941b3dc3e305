// Package cli implements the distsync command line.
package cli

import (
	"github.com/spf13/cobra"

	"distsync.dev/distsync/internal/cli/common"
)

// BuildInfo is stamped into the binary at release time
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// NewRootCmd creates the root cobra command
func NewRootCmd(info BuildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "distsync",
		Short: "Keep source-git and dist-git repositories in sync",
		Long: `distsync mirrors merge requests from source-git repositories into
dist-git, relays CI results back to the source merge requests and opens
source-git merge requests for changes pushed directly to dist-git.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP(common.FlagConfig, "c", "", "path to the configuration file (env DISTSYNC_CONFIG)")
	rootCmd.PersistentFlags().Bool(common.FlagDebug, false, "enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newProcessCmd())
	rootCmd.AddCommand(newRelationsCmd())
	rootCmd.AddCommand(newVersionCmd(info))

	return rootCmd
}
