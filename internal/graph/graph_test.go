package graph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/model"
)

func newTestGraph(t *testing.T) (*Graph, *db.Queries) {
	t.Helper()
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	q := db.New(sqlDB)
	return New(q), q
}

func seedTasks(t *testing.T, q *db.Queries, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, q.InsertTask(context.Background(), model.Task{
			ID:          id,
			Description: "task " + id,
			Status:      model.StatusPending,
			ListName:    model.DefaultListName,
			CreatedAt:   time.Now(),
		}))
	}
}

func TestDescendantsWalksWholeSubtree(t *testing.T) {
	g, q := newTestGraph(t)
	ctx := context.Background()
	seedTasks(t, q, "root0000", "kid10000", "kid20000", "grand000")

	_, err := g.SetParent(ctx, "kid10000", "root0000")
	require.NoError(t, err)
	_, err = g.SetParent(ctx, "kid20000", "root0000")
	require.NoError(t, err)
	_, err = g.SetParent(ctx, "grand000", "kid10000")
	require.NoError(t, err)

	descendants, err := g.Descendants(ctx, "root0000")
	require.NoError(t, err)

	ids := make([]string, len(descendants))
	for i, d := range descendants {
		ids[i] = d.ID
	}
	assert.ElementsMatch(t, []string{"kid10000", "kid20000", "grand000"}, ids)

	ok, err := g.IsDescendant(ctx, "root0000", "grand000")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsDescendant(ctx, "kid20000", "grand000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetParentRejectsSubtreeCycle(t *testing.T) {
	g, q := newTestGraph(t)
	ctx := context.Background()
	seedTasks(t, q, "aaaa1111", "bbbb2222", "cccc3333")

	_, err := g.SetParent(ctx, "bbbb2222", "aaaa1111")
	require.NoError(t, err)
	_, err = g.SetParent(ctx, "cccc3333", "bbbb2222")
	require.NoError(t, err)

	// The root cannot be re-parented under its own grandchild.
	_, err = g.SetParent(ctx, "aaaa1111", "cccc3333")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = g.SetParent(ctx, "aaaa1111", "aaaa1111")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSetParentRejectsCrossListAndTrashed(t *testing.T) {
	g, q := newTestGraph(t)
	ctx := context.Background()
	seedTasks(t, q, "aaaa1111", "bbbb2222", "cccc3333")

	require.NoError(t, q.InsertList(ctx, model.List{Name: "work", SortOrder: 1}))
	other, err := q.GetTask(ctx, "cccc3333")
	require.NoError(t, err)
	other.ListName = "work"
	require.NoError(t, q.UpdateTask(ctx, other))

	_, err = g.SetParent(ctx, "aaaa1111", "cccc3333")
	assert.ErrorIs(t, err, model.ErrValidation)

	trashed, err := q.GetTask(ctx, "bbbb2222")
	require.NoError(t, err)
	trashed.IsTrashed = true
	now := time.Now()
	trashed.TrashedAt = &now
	require.NoError(t, q.UpdateTask(ctx, trashed))

	_, err = g.SetParent(ctx, "aaaa1111", "bbbb2222")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSetParentReportsNoChange(t *testing.T) {
	g, q := newTestGraph(t)
	ctx := context.Background()
	seedTasks(t, q, "aaaa1111", "bbbb2222")

	old, err := g.SetParent(ctx, "bbbb2222", "aaaa1111")
	require.NoError(t, err)
	assert.Empty(t, old)

	old, err = g.SetParent(ctx, "bbbb2222", "aaaa1111")
	assert.ErrorIs(t, err, model.ErrNoChange)
	assert.Equal(t, "aaaa1111", old)
}

func TestUnsetParent(t *testing.T) {
	g, q := newTestGraph(t)
	ctx := context.Background()
	seedTasks(t, q, "aaaa1111", "bbbb2222")

	_, err := g.UnsetParent(ctx, "bbbb2222")
	assert.ErrorIs(t, err, model.ErrNoChange)

	_, err = g.SetParent(ctx, "bbbb2222", "aaaa1111")
	require.NoError(t, err)

	old, err := g.UnsetParent(ctx, "bbbb2222")
	require.NoError(t, err)
	assert.Equal(t, "aaaa1111", old)

	task, err := q.GetTask(ctx, "bbbb2222")
	require.NoError(t, err)
	assert.Nil(t, task.ParentID)
}

func TestAddBlockerRejectsCycle(t *testing.T) {
	g, q := newTestGraph(t)
	ctx := context.Background()
	seedTasks(t, q, "aaaa1111", "bbbb2222", "cccc3333")

	require.NoError(t, g.AddBlocker(ctx, "aaaa1111", "bbbb2222"))
	require.NoError(t, g.AddBlocker(ctx, "bbbb2222", "cccc3333"))

	// C blocking A closes A -> B -> C -> A.
	err := g.AddBlocker(ctx, "cccc3333", "aaaa1111")
	assert.ErrorIs(t, err, model.ErrValidation)

	// The rejected edge left nothing behind.
	exists, err := q.DependencyExists(ctx, "cccc3333", "aaaa1111")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, g.AddBlocker(ctx, "aaaa1111", "aaaa1111"), model.ErrValidation)
	assert.ErrorIs(t, g.AddBlocker(ctx, "aaaa1111", "bbbb2222"), model.ErrNoChange)
	assert.ErrorIs(t, g.AddBlocker(ctx, "aaaa1111", "missing1"), model.ErrNotFound)
}

func TestRemoveBlocker(t *testing.T) {
	g, q := newTestGraph(t)
	ctx := context.Background()
	seedTasks(t, q, "aaaa1111", "bbbb2222")

	assert.ErrorIs(t, g.RemoveBlocker(ctx, "aaaa1111", "bbbb2222"), model.ErrNoChange)

	require.NoError(t, g.AddBlocker(ctx, "aaaa1111", "bbbb2222"))
	require.NoError(t, g.RemoveBlocker(ctx, "aaaa1111", "bbbb2222"))

	exists, err := q.DependencyExists(ctx, "aaaa1111", "bbbb2222")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAddRelatedIsSymmetric(t *testing.T) {
	g, q := newTestGraph(t)
	ctx := context.Background()
	seedTasks(t, q, "aaaa1111", "bbbb2222")

	require.NoError(t, g.AddRelated(ctx, "bbbb2222", "aaaa1111"))

	// The reversed pair is the same edge.
	assert.ErrorIs(t, g.AddRelated(ctx, "aaaa1111", "bbbb2222"), model.ErrNoChange)
	assert.ErrorIs(t, g.AddRelated(ctx, "aaaa1111", "aaaa1111"), model.ErrValidation)

	related, err := q.RelatedTo(ctx, "aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, []string{"bbbb2222"}, related)

	require.NoError(t, g.RemoveRelated(ctx, "aaaa1111", "bbbb2222"))
	assert.ErrorIs(t, g.RemoveRelated(ctx, "aaaa1111", "bbbb2222"), model.ErrNoChange)
}
