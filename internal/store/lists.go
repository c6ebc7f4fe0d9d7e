package store

import (
	"context"
	"fmt"

	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/graph"
	"github.com/Joseda-hg/trellis/internal/model"
	"github.com/Joseda-hg/trellis/internal/undo"
)

func (s *Store) CreateList(ctx context.Context, name string) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		if _, err := q.GetList(ctx, name); err == nil {
			return fmt.Errorf("%w: list %q already exists", model.ErrNoChange, name)
		} else if !isNotFound(err) {
			return err
		}

		batch := s.log.Begin("create list")
		if err := s.ensureList(ctx, q, name, batch); err != nil {
			return err
		}
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("created list %s", name)
}

func (s *Store) RenameList(ctx context.Context, oldName, newName string) model.OpResult {
	if oldName == model.DefaultListName {
		return model.Errorf("the %s list cannot be renamed", model.DefaultListName)
	}
	if newName == "" || newName == oldName {
		return model.NoChange("list name unchanged")
	}

	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		if _, err := q.GetList(ctx, oldName); err != nil {
			return err
		}
		if _, err := q.GetList(ctx, newName); err == nil {
			return fmt.Errorf("%w: list %q already exists", model.ErrValidation, newName)
		} else if !isNotFound(err) {
			return err
		}

		if err := q.RenameList(ctx, oldName, newName); err != nil {
			return err
		}

		batch := s.log.Begin("rename list")
		batch.Add(undo.Command{Kind: undo.KindRenameList, OldList: oldName, NewList: newName})
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("renamed list %s to %s", oldName, newName)
}

// DeleteList removes a non-default list and everything in it. The full
// contents are snapshotted so the deletion undoes as one unit.
func (s *Store) DeleteList(ctx context.Context, name string) model.OpResult {
	if name == model.DefaultListName {
		return model.Errorf("the %s list cannot be deleted", model.DefaultListName)
	}

	var removed int
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		list, err := q.GetList(ctx, name)
		if err != nil {
			return err
		}

		tasks, err := q.ListTasks(ctx, name, true)
		if err != nil {
			return err
		}
		snapshot, err := snapshotTasks(ctx, q, tasks)
		if err != nil {
			return err
		}
		snapshot.Lists = []model.List{list}
		removed = len(tasks)

		if err := q.DeleteList(ctx, name); err != nil {
			return err
		}

		batch := s.log.Begin("delete list")
		batch.Add(undo.Command{Kind: undo.KindDeleteList, ListName: name, Snapshot: snapshot})
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("deleted list %s (%d tasks)", name, removed)
}

// SetListCollapsed toggles the collapsed flag. Pure view state: it is not
// recorded in the undo history.
func (s *Store) SetListCollapsed(ctx context.Context, name string, collapsed bool) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		list, err := q.GetList(ctx, name)
		if err != nil {
			return err
		}
		if list.IsCollapsed == collapsed {
			return fmt.Errorf("%w: list %q unchanged", model.ErrNoChange, name)
		}
		list.IsCollapsed = collapsed
		return q.UpdateList(ctx, list)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("list %s updated", name)
}
