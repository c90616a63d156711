package main

import (
	"github.com/spf13/cobra"

	"github.com/taskscape/ftp-engine/coordinator"
)

var uploadDir bool

var uploadCmd = &cobra.Command{
	Use:   "upload <remote-path>",
	Short: "Upload the local file or tree at Options.Root joined with remote-path to remote-path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(coordinator.OperationUploadCopy, "upload", args[0], uploadDir, 0, 0)
	},
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadDir, "dir", false, "remote-path names a directory, not a single file")
	rootCmd.AddCommand(uploadCmd)
}
