// Package queue implements the operation queue (spec.md §4.5): an
// arena of typed work items with parent/child counter accounting and
// atomic "replace one item with many" support for directory explore.
package queue

import "github.com/taskscape/ftp-engine/ftperrors"

// ID identifies a queue item. 0 is reserved to mean "no parent" (a
// top-level item, or the operation root).
type ID uint32

// Kind is the queue item variant, per spec.md §3's data model table.
type Kind int

const (
	KindCopyResolveLink Kind = iota
	KindMoveResolveLink
	KindCopyExploreDir
	KindMoveExploreDir
	KindMoveExploreDirLink
	KindUploadCopyExploreDir
	KindUploadMoveExploreDir
	KindDeleteExploreDir
	KindDeleteLink
	KindDeleteFile
	KindDeleteDir
	KindMoveDeleteDir
	KindMoveDeleteDirLink
	KindUploadMoveDeleteDir
	KindCopyFileOrFileLink
	KindMoveFileOrFileLink
	KindUploadCopyFile
	KindUploadMoveFile
	KindChAttrsExploreDir
	KindChAttrsExploreDirLink
	KindChAttrsResolveLink
	KindChAttrsFile
	KindChAttrsDir
)

// isFinalizer reports whether a dir-kind item must wait for its own
// child counters to drain to "only itself remains" before it becomes
// schedulable (spec.md §4.5 invariants / Design Notes "parent/finaliser").
func (k Kind) isFinalizer() bool {
	switch k {
	case KindDeleteDir, KindMoveDeleteDir, KindMoveDeleteDirLink, KindUploadMoveDeleteDir, KindChAttrsDir:
		return true
	default:
		return false
	}
}

// isDirLike reports whether the kind carries child counters at all.
func (k Kind) isDirLike() bool {
	switch k {
	case KindCopyExploreDir, KindMoveExploreDir, KindMoveExploreDirLink,
		KindUploadCopyExploreDir, KindUploadMoveExploreDir, KindDeleteExploreDir,
		KindDeleteDir, KindMoveDeleteDir, KindMoveDeleteDirLink, KindUploadMoveDeleteDir,
		KindChAttrsExploreDir, KindChAttrsExploreDirLink, KindChAttrsDir:
		return true
	default:
		return false
	}
}

// State is the queue item's lifecycle state.
type State int

const (
	StateWaiting State = iota
	StateProcessing
	StateDone
	StateSkipped
	StateFailed
	StateForcedToFail
	StateUserInputNeeded
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	case StateForcedToFail:
		return "forced-to-fail"
	case StateUserInputNeeded:
		return "user-input-needed"
	default:
		return "unknown"
	}
}

// TransferMode is the FTP TYPE used for a file transfer.
type TransferMode int

const (
	ModeUnknown TransferMode = iota
	ModeASCII
	ModeBinary
)

// TargetDirState tracks whether a copy/move target directory has been
// verified to exist yet.
type TargetDirState int

const (
	TargetDirUnknown TargetDirState = iota
	TargetDirReady
)

// UploadDirState mirrors TargetDirState for upload operations, whose
// probe additionally populates the upload listing cache.
type UploadDirState int

const (
	UploadDirUnknown UploadDirState = iota
	UploadDirTested
)

// TargetFileState tracks a file transfer's progress through disk-work.
type TargetFileState int

const (
	TargetFileUnknown TargetFileState = iota
	TargetFileCreated
	TargetFileResumed
	TargetFileTransferred
)

// Counters summarise the state of an item's entire subtree
// (transitively), including the item's own contribution, per spec.md
// §8 invariant 1: parent.X == Σ child.X + [self is X].
type Counters struct {
	NotDone         int
	Skipped         int
	Failed          int
	UserInputNeeded int
}

func (c Counters) add(o Counters) Counters {
	return Counters{
		NotDone:         c.NotDone + o.NotDone,
		Skipped:         c.Skipped + o.Skipped,
		Failed:          c.Failed + o.Failed,
		UserInputNeeded: c.UserInputNeeded + o.UserInputNeeded,
	}
}

func (c Counters) sub(o Counters) Counters {
	return Counters{
		NotDone:         c.NotDone - o.NotDone,
		Skipped:         c.Skipped - o.Skipped,
		Failed:          c.Failed - o.Failed,
		UserInputNeeded: c.UserInputNeeded - o.UserInputNeeded,
	}
}

// contribution returns the own-item delta a given state contributes to
// Counters, per the Iverson-bracket terms in spec.md §8 invariant 1.
func contribution(s State) Counters {
	c := Counters{}
	switch s {
	case StateWaiting, StateProcessing:
		c.NotDone = 1
	case StateUserInputNeeded:
		c.NotDone = 1
		c.UserInputNeeded = 1
	case StateSkipped:
		c.Skipped = 1
	case StateFailed, StateForcedToFail:
		c.Failed = 1
	}
	return c
}

// ResolveLinkPayload backs CopyResolveLink/MoveResolveLink.
type ResolveLinkPayload struct {
	TargetPath string
	TargetName string
	Mode       TransferMode
}

// ExploreDirPayload backs CopyExploreDir/MoveExploreDir/MoveExploreDirLink.
type ExploreDirPayload struct {
	TargetPath     string
	TargetName     string
	TargetDirState TargetDirState
}

// UploadExploreDirPayload backs UploadCopyExploreDir/UploadMoveExploreDir.
type UploadExploreDirPayload struct {
	TargetPath     string
	TargetName     string
	UploadDirState UploadDirState
}

// DeleteExploreDirPayload backs DeleteExploreDir.
type DeleteExploreDirPayload struct {
	IsHiddenDir   bool
	IsTopLevelDir bool
}

// DeleteFilePayload backs DeleteLink/DeleteFile.
type DeleteFilePayload struct {
	IsHiddenFile bool
}

// FileTransferPayload backs CopyFileOrFileLink/MoveFileOrFileLink.
type FileTransferPayload struct {
	TargetPath      string
	TargetName      string
	TargetFileState TargetFileState
	SizeBytes       uint64
}

// UploadFilePayload backs UploadCopyFile/UploadMoveFile.
type UploadFilePayload struct {
	TargetPath      string
	TargetName      string
	TargetFileState TargetFileState
	LocalSize       uint64
	AsASCII         bool
}

// ChAttrsExploreDirPayload backs ChAttrsExploreDir/ChAttrsExploreDirLink/ChAttrsResolveLink.
type ChAttrsExploreDirPayload struct {
	OriginalRights string
}

// ChAttrsFilePayload backs ChAttrsFile.
type ChAttrsFilePayload struct {
	OriginalRights string // rights column from the listing row that discovered this file, empty if unknown
	AndMask        uint32
	OrMask         uint32
	AttrError      bool
}

// ChAttrsDirPayload backs ChAttrsDir.
type ChAttrsDirPayload struct {
	OriginalRights string
	AndMask        uint32
	OrMask         uint32
	AttrError      bool
}

// Item is the single flattened record every queue entry is stored as
// (Design Notes §9: "flatten into a single enum with per-variant
// payload").
type Item struct {
	ID         ID
	ParentID   ID
	Kind       Kind
	RemotePath string
	LeafName   string
	State      State
	Problem    ftperrors.Kind
	Detail     string
	Counters   Counters // zero for non-dir-like kinds
	Payload    any

	removed bool
}

// ForceAction is the user-resolved hint consumed at the next relevant
// disk-work request (spec.md Glossary "Force action").
type ForceAction int

const (
	ForceNone ForceAction = iota
	ForceOverwrite
	ForceResume
	ForceAutorename
	ForceSkip
)
