package main

import (
	"github.com/spf13/cobra"

	"github.com/taskscape/ftp-engine/coordinator"
)

var moveDir bool
var moveUpload bool

var moveCmd = &cobra.Command{
	Use:   "move <remote-path>",
	Short: "Transfer then delete the source (download by default, --upload to reverse direction)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op := coordinator.OperationDownloadMove
		name := "move"
		if moveUpload {
			op = coordinator.OperationUploadMove
		}
		return runOperation(op, name, args[0], moveDir, 0, 0)
	},
}

func init() {
	moveCmd.Flags().BoolVar(&moveDir, "dir", false, "remote-path names a directory")
	moveCmd.Flags().BoolVar(&moveUpload, "upload", false, "move a local file/tree to the server instead of downloading")
	rootCmd.AddCommand(moveCmd)
}
