package store

import (
	"context"

	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/graph"
	"github.com/Joseda-hg/trellis/internal/model"
	"github.com/Joseda-hg/trellis/internal/undo"
)

// SetParent makes parentID the parent of childID and rewrites markers on
// every task the change touches: the child gains "^parent", the new parent
// gains "-^child", and a previous parent loses its inverse marker.
func (s *Store) SetParent(ctx context.Context, childID, parentID string) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		oldParent, err := g.SetParent(ctx, childID, parentID)
		if err != nil {
			return err
		}

		batch := s.log.Begin("set parent")
		batch.Add(undo.Command{Kind: undo.KindSetParent, TaskID: childID, OldParentID: oldParent, NewParentID: parentID})
		if err := s.coord.RewriteAll(ctx, q, []string{childID, parentID, oldParent}, batch); err != nil {
			return err
		}
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("task %s is now a subtask of %s", childID, parentID)
}

func (s *Store) UnsetParent(ctx context.Context, childID string) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		oldParent, err := g.UnsetParent(ctx, childID)
		if err != nil {
			return err
		}

		batch := s.log.Begin("unset parent")
		batch.Add(undo.Command{Kind: undo.KindSetParent, TaskID: childID, OldParentID: oldParent})
		if err := s.coord.RewriteAll(ctx, q, []string{childID, oldParent}, batch); err != nil {
			return err
		}
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("task %s detached from its parent", childID)
}

// AddBlocker records that blockerID blocks blockedID. The edge is advisory;
// nothing stops the blocked task from completing.
func (s *Store) AddBlocker(ctx context.Context, blockerID, blockedID string) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		if err := g.AddBlocker(ctx, blockerID, blockedID); err != nil {
			return err
		}

		batch := s.log.Begin("add blocker")
		batch.Add(undo.Command{Kind: undo.KindAddBlocker, BlockerID: blockerID, BlockedID: blockedID})
		if err := s.coord.RewriteAll(ctx, q, []string{blockerID, blockedID}, batch); err != nil {
			return err
		}
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("task %s now blocks %s", blockerID, blockedID)
}

func (s *Store) RemoveBlocker(ctx context.Context, blockerID, blockedID string) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		if err := g.RemoveBlocker(ctx, blockerID, blockedID); err != nil {
			return err
		}

		batch := s.log.Begin("remove blocker")
		batch.Add(undo.Command{Kind: undo.KindRemoveBlocker, BlockerID: blockerID, BlockedID: blockedID})
		if err := s.coord.RewriteAll(ctx, q, []string{blockerID, blockedID}, batch); err != nil {
			return err
		}
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("task %s no longer blocks %s", blockerID, blockedID)
}

// AddRelated links two tasks symmetrically; both descriptions gain a "~"
// marker pointing at the other endpoint.
func (s *Store) AddRelated(ctx context.Context, a, b string) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		if err := g.AddRelated(ctx, a, b); err != nil {
			return err
		}

		batch := s.log.Begin("add related")
		batch.Add(undo.Command{Kind: undo.KindAddRelated, RelatedID1: a, RelatedID2: b})
		if err := s.coord.RewriteAll(ctx, q, []string{a, b}, batch); err != nil {
			return err
		}
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("tasks %s and %s are related", a, b)
}

func (s *Store) RemoveRelated(ctx context.Context, a, b string) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		if err := g.RemoveRelated(ctx, a, b); err != nil {
			return err
		}

		batch := s.log.Begin("remove related")
		batch.Add(undo.Command{Kind: undo.KindRemoveRelated, RelatedID1: a, RelatedID2: b})
		if err := s.coord.RewriteAll(ctx, q, []string{a, b}, batch); err != nil {
			return err
		}
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("tasks %s and %s are no longer related", a, b)
}
