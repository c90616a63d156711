package main

import (
	"github.com/spf13/cobra"

	"github.com/taskscape/ftp-engine/coordinator"
)

var deleteDir bool

var deleteCmd = &cobra.Command{
	Use:   "delete <remote-path>",
	Short: "Delete a remote file or directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(coordinator.OperationDelete, "delete", args[0], deleteDir, 0, 0)
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteDir, "dir", false, "remote-path names a directory, not a single file")
	rootCmd.AddCommand(deleteCmd)
}
