package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/graph"
	"github.com/Joseda-hg/trellis/internal/model"
	"github.com/Joseda-hg/trellis/internal/undo"
)

// TrashTask soft-deletes a task and every live descendant. All tasks
// trashed by one call carry the same stamp, which is what a later restore
// uses to bring back exactly this set and nothing more. Marker text on
// other tasks is left alone; dangling references are intentional.
func (s *Store) TrashTask(ctx context.Context, id string) model.OpResult {
	var trashed int
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		task, err := q.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if task.IsTrashed {
			return fmt.Errorf("%w: task %s is already in the trash", model.ErrNoChange, id)
		}

		descendants, err := g.Descendants(ctx, id)
		if err != nil {
			return err
		}

		stamp := s.now()
		ids := []string{id}
		for _, d := range descendants {
			if d.IsTrashed {
				continue
			}
			ids = append(ids, d.ID)
		}

		for _, tid := range ids {
			t, err := q.GetTask(ctx, tid)
			if err != nil {
				return err
			}
			t.IsTrashed = true
			ts := stamp
			t.TrashedAt = &ts
			if err := q.UpdateTask(ctx, t); err != nil {
				return err
			}
		}
		trashed = len(ids)

		batch := s.log.Begin("trash task")
		batch.Add(undo.Command{Kind: undo.KindTrashTasks, TaskID: id, TaskIDs: ids, Stamp: &stamp})
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	if trashed > 1 {
		return model.Success("trashed task %s and %d descendants", id, trashed-1)
	}
	return model.Success("trashed task %s", id)
}

// RestoreTask brings back a trashed task together with the descendants that
// were trashed in the same cascade. Descendants trashed separately, before
// the cascade, stay in the trash.
func (s *Store) RestoreTask(ctx context.Context, id string) model.OpResult {
	var restored int
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		task, err := q.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if !task.IsTrashed {
			return fmt.Errorf("%w: task %s is not in the trash", model.ErrNoChange, id)
		}

		ids, err := sameStampSubtree(ctx, q, g, task)
		if err != nil {
			return err
		}

		for _, tid := range ids {
			t, err := q.GetTask(ctx, tid)
			if err != nil {
				return err
			}
			t.IsTrashed = false
			t.TrashedAt = nil
			if err := q.UpdateTask(ctx, t); err != nil {
				return err
			}
		}
		restored = len(ids)

		batch := s.log.Begin("restore task")
		batch.Add(undo.Command{Kind: undo.KindRestoreTasks, TaskID: id, TaskIDs: ids, Stamp: task.TrashedAt})

		// A restored task must not hang under a parent still in the trash,
		// or a later purge would take it down through the hierarchy cascade.
		if task.ParentID != nil {
			parent, err := q.GetTask(ctx, *task.ParentID)
			if err == nil && parent.IsTrashed {
				oldParent, err := g.UnsetParent(ctx, id)
				if err != nil {
					return err
				}
				batch.Add(undo.Command{Kind: undo.KindSetParent, TaskID: id, OldParentID: oldParent})
				if err := s.coord.Rewrite(ctx, q, id, batch); err != nil {
					return err
				}
			}
		}

		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	if restored > 1 {
		return model.Success("restored task %s and %d descendants", id, restored-1)
	}
	return model.Success("restored task %s", id)
}

// sameStampSubtree collects the task plus every descendant sharing its
// trash stamp.
func sameStampSubtree(ctx context.Context, q *db.Queries, g *graph.Graph, task model.Task) ([]string, error) {
	ids := []string{task.ID}
	if task.TrashedAt == nil {
		return ids, nil
	}

	descendants, err := g.Descendants(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range descendants {
		if d.IsTrashed && d.TrashedAt != nil && d.TrashedAt.Equal(*task.TrashedAt) {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

// ListTrash returns the trashed tasks.
func (s *Store) ListTrash(ctx context.Context) ([]model.Task, error) {
	return s.Queries.ListTrashed(ctx)
}

// PurgeTrash hard-deletes every trashed task. Edges go with them through
// the referential cascade; the undo snapshot keeps full copies so the whole
// purge reverses as one unit.
func (s *Store) PurgeTrash(ctx context.Context) model.OpResult {
	var purged int
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		tasks, err := q.ListTrashed(ctx)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return fmt.Errorf("%w: trash is empty", model.ErrNoChange)
		}

		snapshot, err := snapshotTasks(ctx, q, tasks)
		if err != nil {
			return err
		}

		for _, t := range tasks {
			if err := q.DeleteTask(ctx, t.ID); err != nil {
				return err
			}
		}
		purged = len(tasks)

		batch := s.log.Begin("purge trash")
		batch.Add(undo.Command{Kind: undo.KindPurgeTasks, Snapshot: snapshot})
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("purged %d tasks", purged)
}

// snapshotTasks captures full rows and every edge touching them, with tasks
// ordered parents-before-children so reinsertion satisfies the self FK.
func snapshotTasks(ctx context.Context, q *db.Queries, tasks []model.Task) (*undo.Snapshot, error) {
	inSet := make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		inSet[t.ID] = t
	}

	// Depth within the captured set decides insert order; parents outside
	// the set are depth zero regardless of their real depth.
	depth := func(t model.Task) int {
		d := 0
		for t.ParentID != nil {
			parent, ok := inSet[*t.ParentID]
			if !ok {
				break
			}
			d++
			t = parent
			if d > len(tasks) {
				break
			}
		}
		return d
	}

	ordered := append([]model.Task(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool { return depth(ordered[i]) < depth(ordered[j]) })

	snapshot := &undo.Snapshot{Tasks: ordered}
	seenDep := map[model.BlockEdge]struct{}{}
	seenRel := map[model.RelationEdge]struct{}{}
	for _, t := range tasks {
		deps, err := q.DependenciesTouching(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range deps {
			if _, ok := seenDep[e]; ok {
				continue
			}
			seenDep[e] = struct{}{}
			snapshot.Deps = append(snapshot.Deps, e)
		}

		rels, err := q.RelationsTouching(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range rels {
			if _, ok := seenRel[e]; ok {
				continue
			}
			seenRel[e] = struct{}{}
			snapshot.Relations = append(snapshot.Relations, e)
		}
	}
	return snapshot, nil
}
