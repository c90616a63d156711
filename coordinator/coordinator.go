// Package coordinator implements the operation coordinator (spec.md
// §4.9): the parent object a set of workers share for one bulk
// operation. It owns the queue, the disk-work channel, the listing
// cache, the explored-path set, the global pacer/speed-meter, and the
// pause/resume switch; it seeds the queue's top-level item from an
// OperationDescriptor and drives the worker pool to completion.
//
// Grounded on the teacher's fs/sync and fs/operations package-level
// entry points (Copy/Move/Delete take an fs.Fs pair and a context and
// run a bounded worker pool to completion), adapted from rclone's
// "operate directly against two fs.Fs" model to this package's
// "assemble shared services, then run N worker.Worker" model, since
// here the two sides of a transfer are an FTP connection and the local
// disk rather than two arbitrary fs.Fs backends.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/taskscape/ftp-engine/diskwork"
	"github.com/taskscape/ftp-engine/exploredset"
	"github.com/taskscape/ftp-engine/ftpconfig"
	"github.com/taskscape/ftp-engine/internal/pacer"
	"github.com/taskscape/ftp-engine/internal/speedmeter"
	"github.com/taskscape/ftp-engine/listing"
	"github.com/taskscape/ftp-engine/listingcache"
	"github.com/taskscape/ftp-engine/pathutil"
	"github.com/taskscape/ftp-engine/queue"
	"github.com/taskscape/ftp-engine/worker"
)

// Operation selects which top-level queue item kind a Descriptor's
// root seeds, per spec.md §3's queue item variants.
type Operation int

const (
	OperationDownloadCopy Operation = iota
	OperationDownloadMove
	OperationUploadCopy
	OperationUploadMove
	OperationDelete
	OperationChAttrs
)

// Descriptor is the programmatic operation descriptor spec.md §6 calls
// normative: everything a coordinator needs to connect, seed the
// queue's root item, and run to completion. Configuration persistence
// shape is explicitly non-normative (spec.md §6); this struct is the
// in-memory form the CLI harness and any other caller populate.
type Descriptor struct {
	Options    ftpconfig.Options
	Operation  Operation
	RemotePath string // root remote path; the local side is Options.Root joined with it
	IsDir      bool   // whether RemotePath (and, for upload, its local counterpart) names a directory
	Policy     worker.Policy
	// ChAttrsAndMask/ChAttrsOrMask compute SITE CHMOD's new mode as
	// (currentMode & ChAttrsAndMask) | ChAttrsOrMask; ignored outside
	// OperationChAttrs. Callers that want every bit preserved should
	// pass ChAttrsAndMask = 0o7777, not the zero value.
	ChAttrsAndMask uint32
	ChAttrsOrMask  uint32
	Logger         *logrus.Entry
}

// Coordinator owns one operation's shared services and worker pool.
type Coordinator struct {
	ID      uuid.UUID
	desc    Descriptor
	shared  *worker.Shared
	workers []*worker.Worker
}

// New validates desc, wires its shared services (spec.md §4.9's
// get_connect_info/set_server_first_reply/global speed meter/paused
// state, all realized as worker.Shared fields and methods), seeds the
// queue's top-level item, and builds the worker pool. Call Run to
// drive it.
func New(desc Descriptor) (*Coordinator, error) {
	if err := desc.Options.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	if desc.RemotePath == "" {
		return nil, fmt.Errorf("coordinator: remote path is required")
	}

	disk := diskwork.New(desc.Options.Connections * 2)
	cache := listingcache.New(desc.Options.ListingCacheBytes)
	explored := exploredset.New()
	p := pacer.New(pacer.MaxConnectionsOption(desc.Options.Connections))
	meter := speedmeter.New(desc.Options.SpeedLimitBytes)

	shared := worker.NewShared(queue.New(), disk, cache, explored, p, meter, listing.DefaultCatalog())
	shared.Policy = desc.Policy
	shared.ChAttrsAndMask = desc.ChAttrsAndMask
	shared.ChAttrsOrMask = desc.ChAttrsOrMask
	shared.Logger = desc.Logger

	if err := seedRoot(shared.Queue, desc); err != nil {
		disk.Close()
		return nil, err
	}

	c := &Coordinator{ID: uuid.New(), desc: desc, shared: shared}
	for i := 0; i < desc.Options.Connections; i++ {
		c.workers = append(c.workers, worker.New(i+1, desc.Options, shared))
	}
	return c, nil
}

// seedRoot adds the operation's single top-level item (spec.md's
// "queue items are created by the UI for top-level items"): which
// kind depends on the requested Operation and whether the root names
// a file or a directory.
func seedRoot(q *queue.Queue, desc Descriptor) error {
	switch desc.Operation {
	case OperationDownloadCopy:
		return seedRemoteRoot(q, desc, queue.KindCopyExploreDir, queue.KindCopyFileOrFileLink)
	case OperationDownloadMove:
		return seedRemoteRoot(q, desc, queue.KindMoveExploreDir, queue.KindMoveFileOrFileLink)
	case OperationUploadCopy:
		return seedUploadRoot(q, desc, queue.KindUploadCopyExploreDir, queue.KindUploadCopyFile)
	case OperationUploadMove:
		return seedUploadRoot(q, desc, queue.KindUploadMoveExploreDir, queue.KindUploadMoveFile)
	case OperationDelete:
		return seedRemoteRoot(q, desc, queue.KindDeleteExploreDir, queue.KindDeleteFile)
	case OperationChAttrs:
		return seedRemoteRoot(q, desc, queue.KindChAttrsExploreDir, queue.KindChAttrsFile)
	default:
		return fmt.Errorf("coordinator: unknown operation %d", desc.Operation)
	}
}

func seedRemoteRoot(q *queue.Queue, desc Descriptor, dirKind, fileKind queue.Kind) error {
	_, leaf := pathutil.CutLastComponent(pathutil.SyntaxUnix, desc.RemotePath)
	if desc.IsDir {
		q.AddTopLevel(dirKind, desc.RemotePath, leaf, rootExploreDirPayload(desc.Operation, desc.RemotePath, leaf))
		return nil
	}
	q.AddTopLevel(fileKind, desc.RemotePath, leaf, rootFilePayload(desc.Operation, desc.RemotePath, leaf, desc.ChAttrsAndMask, desc.ChAttrsOrMask))
	return nil
}

func rootExploreDirPayload(op Operation, remotePath, leaf string) any {
	switch op {
	case OperationDelete:
		return &queue.DeleteExploreDirPayload{IsTopLevelDir: true}
	case OperationChAttrs:
		return &queue.ChAttrsExploreDirPayload{}
	default:
		return &queue.ExploreDirPayload{TargetPath: remotePath, TargetName: leaf}
	}
}

func rootFilePayload(op Operation, remotePath, leaf string, andMask, orMask uint32) any {
	switch op {
	case OperationDelete:
		return &queue.DeleteFilePayload{IsHiddenFile: isHiddenName(leaf)}
	case OperationChAttrs:
		return &queue.ChAttrsFilePayload{AndMask: andMask, OrMask: orMask}
	default:
		return &queue.FileTransferPayload{TargetPath: remotePath, TargetName: leaf}
	}
}

func isHiddenName(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

func seedUploadRoot(q *queue.Queue, desc Descriptor, dirKind, fileKind queue.Kind) error {
	if desc.IsDir {
		_, leaf := pathutil.CutLastComponent(pathutil.SyntaxUnix, desc.RemotePath)
		q.AddTopLevel(dirKind, desc.RemotePath, leaf, &queue.UploadExploreDirPayload{TargetPath: desc.RemotePath, TargetName: leaf})
		return nil
	}
	_, leaf := pathutil.CutLastComponent(pathutil.SyntaxUnix, desc.RemotePath)
	q.AddTopLevel(fileKind, desc.RemotePath, leaf, &queue.UploadFilePayload{TargetPath: desc.RemotePath, TargetName: leaf})
	return nil
}

// Run spawns the worker pool and blocks until the operation's root
// counters drain to zero or ctx is cancelled, whichever comes first,
// propagating the first worker's fatal error (spec.md §5 "N worker
// tasks... owning one control+data connection pair").
//
// Worker lifetimes are further bounded by a semaphore sized to
// Options.Connections, so raising the pool size at a call site never
// silently exceeds the configured connection cap even if the pool is
// reconstructed with more workers than Connections.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(c.desc.Options.Connections))
	for _, w := range c.workers {
		w := w
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return w.Run(gctx)
		})
	}

	go c.stopWhenDone(gctx, cancel)
	return g.Wait()
}

// stopWhenDone polls the queue's root counters and asks every worker
// to stop once the operation has fully drained, then cancels ctx so
// Run's errgroup unblocks promptly rather than waiting on a worker's
// next idle-poll tick.
func (c *Coordinator) stopWhenDone(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.shared.Queue.Done() {
				c.StopAll()
				cancel()
				return
			}
		}
	}
}

// StopAll asks every worker in the pool to finish its current item
// and exit.
func (c *Coordinator) StopAll() {
	for _, w := range c.workers {
		w.Stop()
	}
}

// PostNewWorkAvailable wakes every sleeping worker (spec.md §4.9), used
// after an external caller adds items to an already-running
// operation's queue.
func (c *Coordinator) PostNewWorkAvailable() {
	for _, w := range c.workers {
		w.Notify(worker.EventWorkAvailable)
	}
}

// SetPaused toggles the pause switch shared by every worker
// (spec.md §4.9: pausing blanks find_work for the whole operation).
func (c *Coordinator) SetPaused(paused bool) { c.shared.SetPaused(paused) }

// SetForceAction resolves a prior UserInputNeeded item.
func (c *Coordinator) SetForceAction(id queue.ID, action queue.ForceAction) {
	c.shared.SetForceAction(id, action)
}

// Counters returns the whole operation's aggregate progress.
func (c *Coordinator) Counters() queue.Counters { return c.shared.Queue.RootCounters() }

// Done reports whether every item has reached a terminal state.
func (c *Coordinator) Done() bool { return c.shared.Queue.Done() }

// Item looks up one queue item by ID, for progress reporting.
func (c *Coordinator) Item(id queue.ID) (queue.Item, bool) { return c.shared.Queue.Get(id) }
