package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/taskscape/ftp-engine/coordinator"
)

var chAttrsDir bool
var chAttrsAndMask string
var chAttrsOrMask string

// chattrCmd computes the new mode as (current & and-mask) | or-mask
// rather than taking one absolute mode, so SITE CHMOD can be skipped
// outright when a bit the masks don't cover (setuid/setgid/sticky)
// would otherwise be silently dropped.
var chattrCmd = &cobra.Command{
	Use:   "chattr <remote-path>",
	Short: "Change permissions (SITE CHMOD) on a remote file or directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		and, err := strconv.ParseUint(chAttrsAndMask, 8, 32)
		if err != nil {
			return fmt.Errorf("ftpengine: and-mask %q is not a valid octal permission mask: %w", chAttrsAndMask, err)
		}
		or, err := strconv.ParseUint(chAttrsOrMask, 8, 32)
		if err != nil {
			return fmt.Errorf("ftpengine: or-mask %q is not a valid octal permission mask: %w", chAttrsOrMask, err)
		}
		return runOperation(coordinator.OperationChAttrs, "chattr", args[0], chAttrsDir, uint32(and), uint32(or))
	},
}

func init() {
	chattrCmd.Flags().BoolVar(&chAttrsDir, "dir", false, "remote-path names a directory, not a single file")
	chattrCmd.Flags().StringVar(&chAttrsAndMask, "and-mask", "7777", "octal mask ANDed with the current mode (7777 keeps every bit)")
	chattrCmd.Flags().StringVar(&chAttrsOrMask, "or-mask", "0", "octal mask ORed onto the result")
	rootCmd.AddCommand(chattrCmd)
}
