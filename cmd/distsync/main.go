package main

import (
	"os"

	"distsync.dev/distsync/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := cli.NewRootCmd(cli.BuildInfo{Version: version, Commit: commit, Date: date})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
