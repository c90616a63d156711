package main

import (
	"github.com/spf13/cobra"

	"github.com/taskscape/ftp-engine/coordinator"
)

var downloadDir bool

var downloadCmd = &cobra.Command{
	Use:   "download <remote-path>",
	Short: "Download a remote file or directory tree to Options.Root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(coordinator.OperationDownloadCopy, "download", args[0], downloadDir, 0, 0)
	},
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadDir, "dir", false, "remote-path names a directory, not a single file")
	rootCmd.AddCommand(downloadCmd)
}
