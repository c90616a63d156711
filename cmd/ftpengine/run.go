package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/taskscape/ftp-engine/coordinator"
	"github.com/taskscape/ftp-engine/worker"
)

// runOperation builds a coordinator.Descriptor from the shared global
// flags plus the per-command operation/root/isDir/chattrs and/or mask,
// runs it to completion, and reports final counters. Ctrl-C asks the
// coordinator to stop after the current items finish rather than
// killing the process outright.
func runOperation(op coordinator.Operation, name, remotePath string, isDir bool, chAttrsAndMask, chAttrsOrMask uint32) error {
	desc := coordinator.Descriptor{
		Options:    opts,
		Operation:  op,
		RemotePath: remotePath,
		IsDir:      isDir,
		Policy: worker.Policy{
			IncludeHiddenFiles: policyIncludeHidden,
			IncludeHiddenDirs:  policyIncludeHidden,
			IgnoreUnknownAttrs: policyIgnoreUnknownAttrs,
		},
		ChAttrsAndMask: chAttrsAndMask,
		ChAttrsOrMask:  chAttrsOrMask,
		Logger:         newLogger(name),
	}

	c, err := coordinator.New(desc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go reportProgress(ctx, c)

	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("ftpengine: %s failed: %w", name, err)
	}

	counters := c.Counters()
	fmt.Fprintf(os.Stdout, "%s done: %d skipped, %d failed, %d need input\n",
		name, counters.Skipped, counters.Failed, counters.UserInputNeeded)
	if counters.Failed > 0 {
		return fmt.Errorf("ftpengine: %s completed with %d failed item(s)", name, counters.Failed)
	}
	return nil
}

func reportProgress(ctx context.Context, c *coordinator.Coordinator) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counters := c.Counters()
			if counters.NotDone == 0 {
				return
			}
			fmt.Fprintf(os.Stderr, "in progress: %d remaining, %d failed, %d need input\n",
				counters.NotDone, counters.Failed, counters.UserInputNeeded)
		}
	}
}
