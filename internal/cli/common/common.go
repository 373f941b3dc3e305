// Package common provides shared helper functions for CLI commands.
package common

import (
	"os"

	"github.com/spf13/cobra"

	"distsync.dev/distsync/internal/runtime"
)

// Persistent flag names
const (
	FlagConfig = "config"
	FlagDebug  = "debug"
)

// Run is a helper that provides a runtime context to a command's execution
// function and closes it afterwards
func Run(cmd *cobra.Command, fn func(ctx *runtime.Context) error) error {
	configPath, _ := cmd.Flags().GetString(FlagConfig)
	if configPath == "" {
		configPath = os.Getenv("DISTSYNC_CONFIG")
	}
	debug, _ := cmd.Flags().GetBool(FlagDebug)

	ctx, err := runtime.NewContext(runtime.Options{
		ConfigPath: configPath,
		Debug:      debug,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer ctx.Close()
	return fn(ctx)
}
