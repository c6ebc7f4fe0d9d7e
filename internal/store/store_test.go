package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/metadata"
	"github.com/Joseda-hg/trellis/internal/model"
)

// newTestStore opens a fresh database with a deterministic clock and ID
// sequence: the first created task is task0001, the second task0002, and
// each clock read advances by one second.
func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	st := NewStoreWith(sqlDB, opts)
	var ids int
	st.newID = func() string {
		ids++
		return fmt.Sprintf("task%04d", ids)
	}
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	var ticks int
	st.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}
	return st
}

func mustCreate(t *testing.T, st *Store, description, listName string) string {
	t.Helper()
	res, id := st.CreateTask(context.Background(), description, listName)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	require.NotEmpty(t, id)
	return id
}

func mustGet(t *testing.T, st *Store, id string) model.Task {
	t.Helper()
	task, err := st.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func undoCount(t *testing.T, st *Store) int {
	t.Helper()
	undoLabels, _, err := st.History(context.Background())
	require.NoError(t, err)
	return len(undoLabels)
}

func TestCreateTaskBasics(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	id := mustCreate(t, st, "Buy milk", "")
	task := mustGet(t, st, id)
	assert.Equal(t, "task0001", id)
	assert.Equal(t, model.DefaultListName, task.ListName)
	assert.Equal(t, model.StatusPending, task.Status)
	assert.Equal(t, int64(1), task.SortOrder)

	res, _ := st.CreateTask(ctx, "   ", "")
	assert.Equal(t, model.ResultError, res.Kind)

	res, _ = st.CreateTask(ctx, "p1 #tag", "")
	assert.Equal(t, model.ResultError, res.Kind, "metadata-only description must be rejected")
}

func TestCreateTaskParsesMarkers(t *testing.T) {
	st := newTestStore(t, Options{})

	id := mustCreate(t, st, "Write docs\np1 @2026-04-01 #docs #API", "")
	task := mustGet(t, st, id)

	assert.Equal(t, model.PriorityHigh, task.Priority)
	assert.Equal(t, "2026-04-01", task.DueDateRaw)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), *task.DueDate)
	assert.ElementsMatch(t, []string{"docs", "api"}, task.Tags)
	assert.Equal(t, "Write docs", st.DisplayDescription(task))
}

func TestCreateTaskAutoCreatesList(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	mustCreate(t, st, "Standup notes", "work")

	lists, err := st.ListLists(ctx)
	require.NoError(t, err)
	names := make([]string, len(lists))
	for i, l := range lists {
		names[i] = l.Name
	}
	assert.ElementsMatch(t, []string{model.DefaultListName, "work"}, names)

	// Undoing the create also removes the list it brought into being.
	res := st.Undo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	lists, err = st.ListLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, model.DefaultListName, lists[0].Name)
}

func TestCreateWithParentMarkerSyncsBothTasks(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	parent := mustCreate(t, st, "Plan launch", "")
	child := mustCreate(t, st, "Draft announcement\n^"+parent, "")

	got := mustGet(t, st, child)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, parent, *got.ParentID)

	// The parent's text gained the inverse marker.
	assert.Equal(t, "Plan launch\n-^"+child, mustGet(t, st, parent).Description)

	// One undo takes out the whole create, inverse marker included.
	res := st.Undo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, "Plan launch", mustGet(t, st, parent).Description)
	_, err := st.GetTask(ctx, child)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// And redo puts everything back.
	res = st.Redo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, "Plan launch\n-^"+child, mustGet(t, st, parent).Description)
	got = mustGet(t, st, child)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, parent, *got.ParentID)
}

func TestRenameDiffsMarkers(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	a := mustCreate(t, st, "Write intro", "")
	b := mustCreate(t, st, "Review draft", "")

	// Adding a marker creates the edge and rewrites both endpoints.
	res := st.RenameTask(ctx, a, "Write intro\n!"+b)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	blocked, err := st.GetBlocked(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, blocked)
	assert.Equal(t, "Review draft\n-!"+a, mustGet(t, st, b).Description)

	// A prose-only edit leaves the edge alone.
	res = st.RenameTask(ctx, a, "Write the intro\n!"+b)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	blocked, err = st.GetBlocked(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, blocked)

	// Removing the marker drops the edge and cleans the other side.
	res = st.RenameTask(ctx, a, "Write the intro")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	blocked, err = st.GetBlocked(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, blocked)
	assert.Equal(t, "Review draft", mustGet(t, st, b).Description)
}

func TestRenameKeepsResolvedDueDateForSameMarker(t *testing.T) {
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	resolver := func(expr string, now time.Time) (time.Time, bool) {
		if expr == "today" {
			return today, true
		}
		return metadata.ResolveDueExpr(expr, now)
	}
	st := newTestStore(t, Options{DueResolver: resolver})
	ctx := context.Background()

	id := mustCreate(t, st, "Pay rent\n@today", "")
	require.NotNil(t, mustGet(t, st, id).DueDate)

	// The calendar turned over; the same marker must keep yesterday's
	// resolution rather than drifting forward.
	today = today.AddDate(0, 0, 1)
	res := st.RenameTask(ctx, id, "Pay rent now\n@today")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	task := mustGet(t, st, id)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), *task.DueDate)

	// An edited marker re-resolves.
	res = st.RenameTask(ctx, id, "Pay rent now\n@2026-05-01")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	task = mustGet(t, st, id)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), *task.DueDate)
}

func TestRenameRejectsInvalidCycleMarkerButSucceeds(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	a := mustCreate(t, st, "First", "")
	b := mustCreate(t, st, "Second", "")
	res := st.AddBlocker(ctx, a, b)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	// The direct API refuses the cycle outright and touches no text.
	res = st.AddBlocker(ctx, b, a)
	assert.Equal(t, model.ResultError, res.Kind)
	assert.Equal(t, "First\n!"+b, mustGet(t, st, a).Description)
	assert.Equal(t, "Second\n-!"+a, mustGet(t, st, b).Description)

	// Written as a marker, "b blocks a" is skipped, the rename itself goes
	// through, and the unusable marker is dropped on canonicalization.
	res = st.RenameTask(ctx, b, "Second attempt\n!"+a+" -!"+a)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	blocked, err := st.GetBlocked(ctx, b)
	require.NoError(t, err)
	assert.NotContains(t, blocked, a)
	assert.Equal(t, "Second attempt\n-!"+a, mustGet(t, st, b).Description)
}

func TestSetStatusDoneCascadesAndUndoesAsOne(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	a := mustCreate(t, st, "Release", "")
	b := mustCreate(t, st, "Build\n^"+a, "")
	c := mustCreate(t, st, "Test\n^"+b, "")

	res := st.SetStatus(ctx, b, model.StatusInProgress)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	res = st.SetStatus(ctx, a, model.StatusDone)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	for _, id := range []string{a, b, c} {
		task := mustGet(t, st, id)
		assert.Equal(t, model.StatusDone, task.Status, id)
		assert.NotNil(t, task.CompletedAt, id)
	}

	// One undo restores each task to the status it had before the cascade.
	res = st.Undo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, model.StatusPending, mustGet(t, st, a).Status)
	assert.Equal(t, model.StatusInProgress, mustGet(t, st, b).Status)
	assert.Equal(t, model.StatusPending, mustGet(t, st, c).Status)
	assert.Nil(t, mustGet(t, st, a).CompletedAt)
}

func TestSetStatusNoOpRecordsNothing(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	id := mustCreate(t, st, "Idle task", "")
	before := mustGet(t, st, id)
	depth := undoCount(t, st)

	res := st.SetStatus(ctx, id, model.StatusPending)
	assert.Equal(t, model.ResultNoChange, res.Kind)
	assert.Equal(t, depth, undoCount(t, st))
	assert.Equal(t, before.SortOrder, mustGet(t, st, id).SortOrder)

	res = st.SetStatus(ctx, id, "paused")
	assert.Equal(t, model.ResultError, res.Kind)
}

func TestSetStatusDoesNotBumpSortOrder(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	id := mustCreate(t, st, "Stay put", "")
	mustCreate(t, st, "Below", "")
	before := mustGet(t, st, id).SortOrder

	res := st.SetStatus(ctx, id, model.StatusDone)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, before, mustGet(t, st, id).SortOrder)
}

func TestSetParentRewritesMarkers(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	x := mustCreate(t, st, "Parent work", "")
	y := mustCreate(t, st, "Child work", "")

	res := st.SetParent(ctx, y, x)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, "Child work\n^"+x, mustGet(t, st, y).Description)
	assert.Equal(t, "Parent work\n-^"+y, mustGet(t, st, x).Description)

	res = st.UnsetParent(ctx, y)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, "Child work", mustGet(t, st, y).Description)
	assert.Equal(t, "Parent work", mustGet(t, st, x).Description)
	assert.Nil(t, mustGet(t, st, y).ParentID)

	// Undo of the detach restores pointer and both marker lines.
	res = st.Undo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	require.NotNil(t, mustGet(t, st, y).ParentID)
	assert.Equal(t, "Child work\n^"+x, mustGet(t, st, y).Description)
	assert.Equal(t, "Parent work\n-^"+y, mustGet(t, st, x).Description)
}

func TestRelatedIsSymmetricInText(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	a := mustCreate(t, st, "Research", "")
	b := mustCreate(t, st, "Prototype", "")

	res := st.AddRelated(ctx, a, b)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, "Research\n~"+b, mustGet(t, st, a).Description)
	assert.Equal(t, "Prototype\n~"+a, mustGet(t, st, b).Description)

	res = st.AddRelated(ctx, b, a)
	assert.Equal(t, model.ResultNoChange, res.Kind)

	res = st.RemoveRelated(ctx, b, a)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, "Research", mustGet(t, st, a).Description)
	assert.Equal(t, "Prototype", mustGet(t, st, b).Description)
}

func TestTrashRestoreExactSet(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	a := mustCreate(t, st, "Root", "")
	b := mustCreate(t, st, "Mid\n^"+a, "")
	c := mustCreate(t, st, "Leaf\n^"+b, "")

	// The leaf goes first, on its own stamp.
	res := st.TrashTask(ctx, c)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	// Then the root cascade takes a and b together.
	res = st.TrashTask(ctx, a)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	for _, id := range []string{a, b, c} {
		assert.True(t, mustGet(t, st, id).IsTrashed, id)
	}

	// Restoring the root brings back exactly its own cascade.
	res = st.RestoreTask(ctx, a)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.False(t, mustGet(t, st, a).IsTrashed)
	assert.False(t, mustGet(t, st, b).IsTrashed)
	assert.True(t, mustGet(t, st, c).IsTrashed, "separately trashed leaf stays in the trash")

	res = st.TrashTask(ctx, c)
	assert.Equal(t, model.ResultNoChange, res.Kind)
}

func TestRestoreDetachesFromTrashedParent(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	a := mustCreate(t, st, "Project", "")
	b := mustCreate(t, st, "Subtask\n^"+a, "")

	res := st.TrashTask(ctx, a)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	// Restoring only the child must not leave it hanging under a trashed
	// parent, or a later purge would silently take it down too.
	res = st.RestoreTask(ctx, b)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	got := mustGet(t, st, b)
	assert.False(t, got.IsTrashed)
	assert.Nil(t, got.ParentID)
	assert.Equal(t, "Subtask", got.Description)

	res = st.PurgeTrash(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	_, err := st.GetTask(ctx, a)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.False(t, mustGet(t, st, b).IsTrashed)
}

func TestPurgeTrashUndoRestoresRowsAndEdges(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	a := mustCreate(t, st, "Doomed", "")
	b := mustCreate(t, st, "Survivor", "")
	res := st.AddBlocker(ctx, a, b)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	res = st.TrashTask(ctx, a)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	res = st.PurgeTrash(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	_, err := st.GetTask(ctx, a)
	require.ErrorIs(t, err, model.ErrNotFound)
	blockers, err := st.GetBlockers(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, blockers)

	res = st.Undo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	got := mustGet(t, st, a)
	assert.True(t, got.IsTrashed)
	blockers, err = st.GetBlockers(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, blockers)
}

func TestDanglingMarkersSurviveRewrites(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	a := mustCreate(t, st, "Gone soon", "")
	b := mustCreate(t, st, "Living on", "")
	res := st.AddBlocker(ctx, a, b)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	require.Equal(t, "Living on\n-!"+a, mustGet(t, st, b).Description)

	res = st.TrashTask(ctx, a)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	res = st.PurgeTrash(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	// The edge went with the purge, but the text is the user's.
	assert.Equal(t, "Living on\n-!"+a, mustGet(t, st, b).Description)

	// Even a fresh canonicalization keeps the dangling reference.
	res = st.SetPriority(ctx, b, model.PriorityHigh)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, "Living on\n-!"+a+" p1", mustGet(t, st, b).Description)
}

func TestMoveTaskTakesSubtree(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	a := mustCreate(t, st, "Root", "")
	b := mustCreate(t, st, "Child\n^"+a, "")

	// Attached tasks cannot move on their own.
	res := st.MoveTask(ctx, b, "work")
	assert.Equal(t, model.ResultError, res.Kind)

	res = st.MoveTask(ctx, a, "work")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, "work", mustGet(t, st, a).ListName)
	assert.Equal(t, "work", mustGet(t, st, b).ListName)

	// Undo sends the subtree back and removes the list the move created.
	res = st.Undo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, model.DefaultListName, mustGet(t, st, a).ListName)
	assert.Equal(t, model.DefaultListName, mustGet(t, st, b).ListName)

	lists, err := st.ListLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)
}

func TestMetadataEditsBumpSortOrder(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	id := mustCreate(t, st, "Tweak me", "")
	mustCreate(t, st, "Below", "")
	before := mustGet(t, st, id).SortOrder

	res := st.SetPriority(ctx, id, model.PriorityMedium)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	task := mustGet(t, st, id)
	assert.Greater(t, task.SortOrder, before)
	assert.Equal(t, "Tweak me\np2", task.Description)

	res = st.SetPriority(ctx, id, model.PriorityMedium)
	assert.Equal(t, model.ResultNoChange, res.Kind)
}

func TestSetTagsAndDueDate(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	id := mustCreate(t, st, "Tag me", "")

	res := st.SetTags(ctx, id, []string{"Work", "urgent", "work"})
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	task := mustGet(t, st, id)
	assert.Equal(t, []string{"urgent", "work"}, task.Tags)
	assert.Equal(t, "Tag me\n#urgent #work", task.Description)

	res = st.SetDueDate(ctx, id, "2026-06-15")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	task = mustGet(t, st, id)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, "Tag me\n@2026-06-15 #urgent #work", task.Description)

	res = st.SetDueDate(ctx, id, "not a date")
	assert.Equal(t, model.ResultError, res.Kind)

	res = st.SetDueDate(ctx, id, "")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	task = mustGet(t, st, id)
	assert.Nil(t, task.DueDate)
	assert.Equal(t, "Tag me\n#urgent #work", task.Description)
}

func TestUndoRedoStacks(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	res := st.Undo(ctx)
	assert.Equal(t, model.ResultNoChange, res.Kind)

	a := mustCreate(t, st, "One", "")

	res = st.Undo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	_, err := st.GetTask(ctx, a)
	require.ErrorIs(t, err, model.ErrNotFound)

	// A fresh mutation forks history and clears redo.
	mustCreate(t, st, "Two", "")
	res = st.Redo(ctx)
	assert.Equal(t, model.ResultNoChange, res.Kind)
}

func TestHistoryLabels(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	mustCreate(t, st, "One", "")
	id := mustCreate(t, st, "Two", "")
	res := st.TrashTask(ctx, id)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	undoLabels, redoLabels, err := st.History(ctx)
	require.NoError(t, err)
	require.Len(t, undoLabels, 3)
	assert.Equal(t, "trash task", undoLabels[0])
	assert.Empty(t, redoLabels)

	res = st.Undo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	undoLabels, redoLabels, err = st.History(ctx)
	require.NoError(t, err)
	assert.Len(t, undoLabels, 2)
	require.Len(t, redoLabels, 1)
	assert.Equal(t, "trash task", redoLabels[0])
}

func TestForeignWriteInvalidatesHistory(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	id := mustCreate(t, st, "Edited elsewhere", "")
	require.Equal(t, 1, undoCount(t, st))

	// Another tool rewrites the row without recording a command.
	task := mustGet(t, st, id)
	task.Description = "Edited elsewhere, differently"
	require.NoError(t, st.Queries.UpdateTask(ctx, task))

	res := st.Undo(ctx)
	assert.Equal(t, model.ResultNoChange, res.Kind)
	assert.Equal(t, 0, undoCount(t, st))

	// The store works normally afterwards.
	mustCreate(t, st, "Back in business", "")
	res = st.Undo(ctx)
	assert.Equal(t, model.ResultSuccess, res.Kind, res.Message)
}

func TestListOperations(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	res := st.CreateList(ctx, "work")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	res = st.CreateList(ctx, "work")
	assert.Equal(t, model.ResultNoChange, res.Kind)

	res = st.RenameList(ctx, model.DefaultListName, "stuff")
	assert.Equal(t, model.ResultError, res.Kind)
	res = st.DeleteList(ctx, model.DefaultListName)
	assert.Equal(t, model.ResultError, res.Kind)

	res = st.RenameList(ctx, "work", "job")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	id := mustCreate(t, st, "In the job list", "job")

	res = st.DeleteList(ctx, "job")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	_, err := st.GetTask(ctx, id)
	require.ErrorIs(t, err, model.ErrNotFound)

	// Undo restores the list with its contents.
	res = st.Undo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, "job", mustGet(t, st, id).ListName)
}

func TestSetListCollapsedIsNotUndoable(t *testing.T) {
	st := newTestStore(t, Options{})
	ctx := context.Background()

	depth := undoCount(t, st)
	res := st.SetListCollapsed(ctx, model.DefaultListName, true)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	assert.Equal(t, depth, undoCount(t, st))

	res = st.SetListCollapsed(ctx, model.DefaultListName, true)
	assert.Equal(t, model.ResultNoChange, res.Kind)
}

func TestUndoDepthEviction(t *testing.T) {
	st := newTestStore(t, Options{UndoDepth: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustCreate(t, st, fmt.Sprintf("Task %d", i), "")
	}
	assert.Equal(t, 3, undoCount(t, st))

	for i := 0; i < 3; i++ {
		res := st.Undo(ctx)
		require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	}
	res := st.Undo(ctx)
	assert.Equal(t, model.ResultNoChange, res.Kind)
}

func TestTwoHandlesShareOneHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")

	open := func() *Store {
		sqlDB, err := db.Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { sqlDB.Close() })
		return NewStore(sqlDB)
	}

	first := open()
	second := open()
	ctx := context.Background()

	res, id := first.CreateTask(ctx, "Shared work", "")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	// The other handle sees the task and can undo its creation.
	_, err := second.GetTask(ctx, id)
	require.NoError(t, err)
	res = second.Undo(ctx)
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	_, err = first.GetTask(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestConcurrentWritersBothLand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")

	firstDB, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { firstDB.Close() })
	first := NewStore(firstDB)

	// The second handle declines to wait inside the driver, so its writes
	// only succeed if the store's retry loop rides out the contention.
	secondDB, err := sql.Open("sqlite", path+"?"+url.Values{
		"_pragma": []string{"busy_timeout(0)", "foreign_keys(1)"},
		"_txlock": []string{"immediate"},
	}.Encode())
	require.NoError(t, err)
	t.Cleanup(func() { secondDB.Close() })
	second := NewStoreWith(secondDB, Options{
		Retry: db.RetryPolicy{Attempts: 20, InitialBackoff: 5 * time.Millisecond},
	})

	ctx := context.Background()

	// Hold the write lock, then release it while the second store is
	// already retrying.
	tx, err := firstDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	released := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		assert.NoError(t, tx.Commit())
		close(released)
	}()

	res, contestedID := second.CreateTask(ctx, "Written under contention", "")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)
	<-released

	res, laterID := first.CreateTask(ctx, "Written after release", "")
	require.Equal(t, model.ResultSuccess, res.Kind, res.Message)

	// Serialized application: both rows present, consecutive sort orders.
	contested := mustGet(t, first, contestedID)
	later := mustGet(t, first, laterID)
	assert.Equal(t, int64(1), contested.SortOrder)
	assert.Equal(t, int64(2), later.SortOrder)
	assert.Equal(t, 2, undoCount(t, first))
}
