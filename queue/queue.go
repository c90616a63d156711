package queue

import (
	"fmt"
	"sync"

	"github.com/aalpar/deheap"
	"github.com/taskscape/ftp-engine/ftperrors"
)

// Queue is the arena-backed operation queue (spec.md §4.5). Items are
// addressed by slab index (ID), never by pointer, so a Replace never
// invalidates a reference another goroutine might be holding mid-
// mutation (Design Notes §9).
//
// The operation coordinator exclusively owns the Queue; workers only
// ever reach it through the methods here, each of which holds the
// internal mutex for a short, non-blocking critical section (spec.md
// §5 "no mutex is held while waiting on I/O").
type Queue struct {
	mu      sync.Mutex
	items   []Item // index i holds ID i+1
	root    Counters
	waiting *waitingHeap
	locked  bool
}

// New creates an empty operation queue.
func New() *Queue {
	h := &waitingHeap{}
	deheap.Init(h)
	return &Queue{waiting: h}
}

func (q *Queue) get(id ID) *Item {
	if id == 0 || int(id) > len(q.items) {
		return nil
	}
	return &q.items[id-1]
}

// AddTopLevel inserts a new root-parented item (ParentID 0) in
// StateWaiting and returns its ID.
func (q *Queue) AddTopLevel(kind Kind, remotePath, leaf string, payload any) ID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.insertLocked(0, kind, remotePath, leaf, payload)
}

func (q *Queue) insertLocked(parent ID, kind Kind, remotePath, leaf string, payload any) ID {
	id := ID(len(q.items) + 1)
	item := Item{
		ID:         id,
		ParentID:   parent,
		Kind:       kind,
		RemotePath: remotePath,
		LeafName:   leaf,
		State:      StateWaiting,
		Payload:    payload,
	}
	q.items = append(q.items, item)
	q.applySelfAndAncestors(id, contribution(StateWaiting))
	deheap.Push(q.waiting, &waitingEntry{id: id, path: remotePath})
	return id
}

// applySelfAndAncestors adds delta to item id's own Counters and every
// ancestor's Counters, finally folding it into the operation root.
func (q *Queue) applySelfAndAncestors(id ID, delta Counters) {
	item := q.get(id)
	if item == nil {
		return
	}
	item.Counters = item.Counters.add(delta)
	if item.ParentID == 0 {
		q.root = q.root.add(delta)
		return
	}
	q.applySelfAndAncestors(item.ParentID, delta)
}

// applyToAncestorsOnly adds delta to every ancestor's Counters (and
// root) without touching id's own Counters, used when id is about to
// be removed from the arena entirely.
func (q *Queue) applyToAncestorsOnly(parent ID, delta Counters) {
	if parent == 0 {
		q.root = q.root.add(delta)
		return
	}
	q.applySelfAndAncestors(parent, delta)
}

// UpdateState transitions item uid to newState with the given problem
// code and free-form detail, propagating the counter delta to every
// ancestor under a single critical section (spec.md §4.5 invariants).
func (q *Queue) UpdateState(uid ID, newState State, problem ftperrors.Kind, detail string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.get(uid)
	if item == nil || item.removed {
		return fmt.Errorf("queue: unknown item %d", uid)
	}
	oldContrib := contribution(item.State)
	newContrib := contribution(newState)
	item.State = newState
	item.Problem = problem
	item.Detail = detail
	delta := newContrib.sub(oldContrib)
	if delta != (Counters{}) {
		if item.ParentID == 0 {
			item.Counters = item.Counters.add(delta)
			q.root = q.root.add(delta)
		} else {
			item.Counters = item.Counters.add(delta)
			q.applySelfAndAncestors(item.ParentID, delta)
		}
	}
	if newState == StateWaiting {
		deheap.Push(q.waiting, &waitingEntry{id: uid, path: item.RemotePath})
	}
	return nil
}

// UpdateForceAction sets the user-resolved force action a subsequent
// disk-work request must consume; stored out-of-band since not every
// payload kind carries one.
func (q *Queue) UpdateForceAction(uid ID, action ForceAction, forceActions map[ID]ForceAction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	forceActions[uid] = action
}

// UpdateTargetName rewrites the leaf name of uid's payload target,
// used for autorename outcomes.
func (q *Queue) UpdateTargetName(uid ID, newName string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.get(uid)
	if item == nil {
		return fmt.Errorf("queue: unknown item %d", uid)
	}
	switch p := item.Payload.(type) {
	case *FileTransferPayload:
		p.TargetName = newName
	case *UploadFilePayload:
		p.TargetName = newName
	case *ExploreDirPayload:
		p.TargetName = newName
	case *UploadExploreDirPayload:
		p.TargetName = newName
	default:
		return fmt.Errorf("queue: item %d payload %T has no target name", uid, item.Payload)
	}
	return nil
}

// UpdateTargetDirState updates a copy/move explore item's target-dir
// readiness.
func (q *Queue) UpdateTargetDirState(uid ID, state TargetDirState) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.get(uid)
	if item == nil {
		return fmt.Errorf("queue: unknown item %d", uid)
	}
	p, ok := item.Payload.(*ExploreDirPayload)
	if !ok {
		return fmt.Errorf("queue: item %d is not an ExploreDirPayload", uid)
	}
	p.TargetDirState = state
	return nil
}

// UpdateTargetFileState updates a file transfer's disk-work progress.
func (q *Queue) UpdateTargetFileState(uid ID, state TargetFileState) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.get(uid)
	if item == nil {
		return fmt.Errorf("queue: unknown item %d", uid)
	}
	switch p := item.Payload.(type) {
	case *FileTransferPayload:
		p.TargetFileState = state
	case *UploadFilePayload:
		p.TargetFileState = state
	default:
		return fmt.Errorf("queue: item %d payload %T has no target file state", uid, item.Payload)
	}
	return nil
}

// UpdateIsHidden sets the is-hidden flag on a delete-family payload.
func (q *Queue) UpdateIsHidden(uid ID, hidden bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.get(uid)
	if item == nil {
		return fmt.Errorf("queue: unknown item %d", uid)
	}
	switch p := item.Payload.(type) {
	case *DeleteFilePayload:
		p.IsHiddenFile = hidden
	case *DeleteExploreDirPayload:
		p.IsHiddenDir = hidden
	default:
		return fmt.Errorf("queue: item %d payload %T has no hidden flag", uid, item.Payload)
	}
	return nil
}

// UpdateAttrErr marks a change-attributes payload as having hit an
// unknown-attribute condition.
func (q *Queue) UpdateAttrErr(uid ID, attrErr bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.get(uid)
	if item == nil {
		return fmt.Errorf("queue: unknown item %d", uid)
	}
	switch p := item.Payload.(type) {
	case *ChAttrsFilePayload:
		p.AttrError = attrErr
	case *ChAttrsDirPayload:
		p.AttrError = attrErr
	default:
		return fmt.Errorf("queue: item %d payload %T has no attr-error flag", uid, item.Payload)
	}
	return nil
}

// NewChild describes one item ReplaceWithList should insert; ParentID
// is filled in by ReplaceWithList itself (either the replaced item's
// original parent, or the finalizer's freshly assigned ID).
type NewChild struct {
	Kind       Kind
	RemotePath string
	LeafName   string
	Payload    any
}

// ReplaceWithList atomically removes item uid and inserts children in
// its place (spec.md §4.5). If finalizer is non-nil it is inserted
// under uid's original parent and every child is parented under the
// finalizer instead (the DeleteDir/ChAttrsDir "this directory itself"
// pattern, Design Notes "parent item / finaliser"). No caller ever
// observes uid both present and its replacements absent: the whole
// operation runs under one critical section (testable property #2).
func (q *Queue) ReplaceWithList(uid ID, children []NewChild, finalizer *NewChild) ([]ID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	old := q.get(uid)
	if old == nil || old.removed {
		return nil, fmt.Errorf("queue: unknown item %d", uid)
	}
	parent := old.ParentID
	removedCounters := old.Counters
	old.removed = true
	old.State = StateDone
	q.applyToAncestorsOnly(parent, Counters{}.sub(removedCounters))

	var ids []ID
	childParent := parent
	if finalizer != nil {
		fid := q.insertLocked(parent, finalizer.Kind, finalizer.RemotePath, finalizer.LeafName, finalizer.Payload)
		ids = append(ids, fid)
		childParent = fid
	}
	for _, c := range children {
		cid := q.insertLocked(childParent, c.Kind, c.RemotePath, c.LeafName, c.Payload)
		ids = append(ids, cid)
	}
	return ids, nil
}

// LockForMoreOperations/UnlockForMoreOperations are the advisory
// coarse lock spec.md §4.5 describes. LockForMoreOperations holds q.mu
// until UnlockForMoreOperations. Every other Queue method also takes
// q.mu, and sync.Mutex is not reentrant, so any Queue call made while
// the lock is held blocks, including one from the holder itself: the
// bracket cannot enclose Queue mutations.
func (q *Queue) LockForMoreOperations() {
	q.mu.Lock()
	q.locked = true
}

func (q *Queue) UnlockForMoreOperations() {
	q.locked = false
	q.mu.Unlock()
}

// FindWorkPolicy biases FindWork toward CWD reuse.
type FindWorkPolicy struct {
	// PreferPath is the caller's current working directory; FindWork
	// scans a bounded window of waiting candidates and returns the
	// first whose RemotePath matches, falling back to the oldest
	// waiting item (lowest ID) if none match.
	PreferPath string
	Paused     bool
}

// scanWindow bounds how many waiting candidates FindWork inspects
// looking for a CWD-reuse match before giving up and taking the
// heap's minimum; keeps the call O(1) amortised instead of O(n).
const scanWindow = 32

// FindWork returns a waiting item whose ancestors are past their
// explore phase, i.e. it is not a finalizer still waiting on live
// children (spec.md §4.5). Returns false if no such item exists, or if
// policy.Paused is set (spec.md §4.9: pausing blanks find_work).
func (q *Queue) FindWork(policy FindWorkPolicy) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if policy.Paused {
		return Item{}, false
	}

	var stash []*waitingEntry
	var picked *waitingEntry
	scanned := 0
	for q.waiting.Len() > 0 && scanned < scanWindow {
		we := deheap.Pop(q.waiting).(*waitingEntry)
		scanned++
		item := q.get(we.id)
		if item == nil || item.removed || item.State != StateWaiting || !q.schedulable(item) {
			continue // stale heap entry; drop it
		}
		if policy.PreferPath != "" && item.RemotePath == policy.PreferPath {
			picked = we
			break
		}
		stash = append(stash, we)
	}
	if picked == nil {
		for i, we := range stash {
			item := q.get(we.id)
			if item != nil && !item.removed && item.State == StateWaiting && q.schedulable(item) {
				picked = we
				stash = append(stash[:i], stash[i+1:]...)
				break
			}
		}
	}
	for _, we := range stash {
		deheap.Push(q.waiting, we)
	}
	if picked == nil {
		// Nothing in the scan window qualified; fall back to a full
		// linear scan so correctness never depends on scanWindow.
		for id := ID(1); id <= ID(len(q.items)); id++ {
			item := q.get(id)
			if item != nil && !item.removed && item.State == StateWaiting && q.schedulable(item) {
				item.State = StateProcessing
				return *item, true
			}
		}
		return Item{}, false
	}
	item := q.get(picked.id)
	// Hand-out doubles as dequeue: flip to Processing under the same
	// critical section so a concurrent FindWork can never return the
	// same item twice. Waiting and Processing share a contribution
	// (both "not done"), so no counter delta is needed.
	item.State = StateProcessing
	return *item, true
}

// schedulable reports whether item is eligible to be handed out: a
// finalizer (DeleteDir and kin) is only schedulable once its own
// NotDone counter has drained to 1 (only itself remains), per spec.md
// §4.5/§5 ordering guarantees.
func (q *Queue) schedulable(item *Item) bool {
	if item.Kind.isFinalizer() {
		return item.Counters.NotDone <= 1
	}
	return true
}

// Get returns a copy of item uid.
func (q *Queue) Get(uid ID) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.get(uid)
	if item == nil || item.removed {
		return Item{}, false
	}
	return *item, true
}

// RootCounters returns the whole operation's aggregate counters.
func (q *Queue) RootCounters() Counters {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.root
}

// Done reports whether the operation has finished: root NotDone has
// reached zero (spec.md §7).
func (q *Queue) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.root.NotDone == 0
}

// waitingEntry is the deheap payload ordering waiting items FIFO by
// ID, the baseline FindWork falls back to once no CWD-reuse candidate
// is found in the scan window.
type waitingEntry struct {
	id        ID
	path      string
	heapIndex int
}

type waitingHeap []*waitingEntry

func (h waitingHeap) Len() int            { return len(h) }
func (h waitingHeap) Less(i, j int) bool  { return h[i].id < h[j].id }
func (h waitingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *waitingHeap) Push(x any) {
	e := x.(*waitingEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *waitingHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	e.heapIndex = -1
	return e
}
