// Package main is the ftpengine CLI harness (SPEC_FULL.md §6): a thin
// cobra front end over the coordinator package's programmatic
// descriptor, which remains the normative interface. One subcommand
// per top-level operation, all sharing a persistent flag set bound
// through ftpconfig.
//
// Grounded on the teacher's cmd.Root/init()-registration idiom
// (backend/torrent/cmd/backend.go): a package-level root command,
// subcommands that add themselves in their own init(), and a thin
// Run func that delegates to a shared runner.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taskscape/ftp-engine/ftpconfig"
)

var opts = ftpconfig.Default()

var policyIncludeHidden bool
var policyIgnoreUnknownAttrs bool
var logLevel string

var rootCmd = &cobra.Command{
	Use:   "ftpengine",
	Short: "Multi-connection FTP/FTPS bulk transfer engine",
	Long: `ftpengine drives bulk download, upload, move, delete, and
change-attributes operations against an FTP or FTPS server over a
pool of concurrent control+data connections.`,
	SilenceUsage: true,
}

func init() {
	ftpconfig.BindFlags(rootCmd.PersistentFlags(), &opts)
	fs := rootCmd.PersistentFlags()
	fs.BoolVar(&policyIncludeHidden, "include-hidden", false, "include dot-files and dot-directories")
	fs.BoolVar(&policyIgnoreUnknownAttrs, "ignore-unknown-attrs", false, "don't fail chattr items the server's FEAT didn't advertise support for")
	fs.StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the operation-scoped *logrus.Entry every subcommand
// hands to its coordinator.Descriptor (SPEC_FULL.md §4.A: one Entry
// per operation, not a process-wide singleton).
func newLogger(operation string) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(lvl)
	}
	return log.WithField("operation", operation)
}
