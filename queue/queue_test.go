package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskscape/ftp-engine/ftperrors"
)

func TestAddTopLevelAndRootCounters(t *testing.T) {
	q := New()
	id := q.AddTopLevel(KindCopyFileOrFileLink, "/pub", "readme.txt", &FileTransferPayload{})
	assert.Equal(t, ID(1), id)
	assert.Equal(t, Counters{NotDone: 1}, q.RootCounters())
	assert.False(t, q.Done())
}

func TestUpdateStateDoneDrainsRoot(t *testing.T) {
	q := New()
	id := q.AddTopLevel(KindDeleteFile, "/pub", "a.txt", &DeleteFilePayload{})
	require.NoError(t, q.UpdateState(id, StateDone, ftperrors.KindNone, ""))
	assert.True(t, q.Done())
	assert.Equal(t, Counters{}, q.RootCounters())
}

func TestUpdateStateFailedAndSkippedTally(t *testing.T) {
	q := New()
	a := q.AddTopLevel(KindDeleteFile, "/pub", "a.txt", &DeleteFilePayload{})
	b := q.AddTopLevel(KindDeleteFile, "/pub", "b.txt", &DeleteFilePayload{})
	require.NoError(t, q.UpdateState(a, StateFailed, ftperrors.KindConnectionDropped, "dropped"))
	require.NoError(t, q.UpdateState(b, StateSkipped, ftperrors.KindFileHidden, "hidden"))

	root := q.RootCounters()
	assert.Equal(t, 0, root.NotDone)
	assert.Equal(t, 1, root.Failed)
	assert.Equal(t, 1, root.Skipped)
}

func TestReplaceWithListIsAtomicAndTransfersParent(t *testing.T) {
	q := New()
	explore := q.AddTopLevel(KindCopyExploreDir, "/src", "d", &ExploreDirPayload{})
	require.Equal(t, Counters{NotDone: 1}, q.RootCounters())

	children := []NewChild{
		{Kind: KindCopyFileOrFileLink, RemotePath: "/src/d", LeafName: "a.txt", Payload: &FileTransferPayload{}},
		{Kind: KindCopyFileOrFileLink, RemotePath: "/src/d", LeafName: "b.txt", Payload: &FileTransferPayload{}},
		{Kind: KindCopyExploreDir, RemotePath: "/src/d", LeafName: "sub", Payload: &ExploreDirPayload{}},
	}
	ids, err := q.ReplaceWithList(explore, children, nil)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	// Old item is gone.
	_, ok := q.Get(explore)
	assert.False(t, ok)

	// Root counter reflects exactly the 3 new waiting items (not 4).
	assert.Equal(t, Counters{NotDone: 3}, q.RootCounters())

	for _, id := range ids {
		item, ok := q.Get(id)
		require.True(t, ok)
		assert.Equal(t, ID(0), item.ParentID, "children are reparented to the root, not left pointing at the removed item")
	}
}

func TestReplaceWithListFinalizerGatesOnChildren(t *testing.T) {
	q := New()
	explore := q.AddTopLevel(KindDeleteExploreDir, "/trash", "d", &DeleteExploreDirPayload{})

	finalizer := &NewChild{Kind: KindDeleteDir, RemotePath: "/trash", LeafName: "d"}
	children := []NewChild{
		{Kind: KindDeleteFile, RemotePath: "/trash/d", LeafName: "a.txt", Payload: &DeleteFilePayload{}},
		{Kind: KindDeleteFile, RemotePath: "/trash/d", LeafName: "b.txt", Payload: &DeleteFilePayload{}},
	}
	ids, err := q.ReplaceWithList(explore, children, finalizer)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	finalizerID := ids[0]

	// The finalizer is not schedulable while 2 children remain (its
	// own NotDone is 3: itself + 2 children).
	_, ok := q.FindWork(FindWorkPolicy{})
	require.True(t, ok) // a child file is schedulable

	fItem, _ := q.Get(finalizerID)
	assert.Equal(t, 3, fItem.Counters.NotDone)

	require.NoError(t, q.UpdateState(ids[1], StateDone, ftperrors.KindNone, ""))
	require.NoError(t, q.UpdateState(ids[2], StateDone, ftperrors.KindNone, ""))

	fItem, _ = q.Get(finalizerID)
	assert.Equal(t, 1, fItem.Counters.NotDone, "only the finalizer itself remains")
}

func TestFindWorkPausedReturnsNone(t *testing.T) {
	q := New()
	q.AddTopLevel(KindDeleteFile, "/pub", "a.txt", &DeleteFilePayload{})
	_, ok := q.FindWork(FindWorkPolicy{Paused: true})
	assert.False(t, ok)
}

func TestFindWorkDoesNotReturnSameItemTwiceWithoutStateReset(t *testing.T) {
	q := New()
	q.AddTopLevel(KindDeleteFile, "/pub", "a.txt", &DeleteFilePayload{})
	first, ok := q.FindWork(FindWorkPolicy{})
	require.True(t, ok)
	assert.Equal(t, StateProcessing, func() State { i, _ := q.Get(first.ID); return i.State }())

	_, ok = q.FindWork(FindWorkPolicy{})
	assert.False(t, ok, "item already moved to Processing must not be handed out again")
}

func TestFindWorkPrefersCWDReuse(t *testing.T) {
	q := New()
	q.AddTopLevel(KindDeleteFile, "/a", "x.txt", &DeleteFilePayload{})
	q.AddTopLevel(KindDeleteFile, "/b", "y.txt", &DeleteFilePayload{})

	item, ok := q.FindWork(FindWorkPolicy{PreferPath: "/b"})
	require.True(t, ok)
	assert.Equal(t, "/b", item.RemotePath)
}

func TestUpdateTargetName(t *testing.T) {
	q := New()
	id := q.AddTopLevel(KindUploadCopyFile, "/up", "report.txt", &UploadFilePayload{})
	require.NoError(t, q.UpdateTargetName(id, "report (2).txt"))
	item, _ := q.Get(id)
	assert.Equal(t, "report (2).txt", item.Payload.(*UploadFilePayload).TargetName)
}
