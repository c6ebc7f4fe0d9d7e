package store

import (
	"context"
	"fmt"

	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/graph"
	"github.com/Joseda-hg/trellis/internal/model"
	"github.com/Joseda-hg/trellis/internal/undo"
)

// Undo reverses the most recent operation. The replay calls the same row
// mutations the original used, with recording suppressed: nothing here opens
// a batch, so a replayed step can never re-enter the log.
func (s *Store) Undo(ctx context.Context) model.OpResult {
	var label string
	var invalidated bool
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		intact, err := s.log.VerifyFingerprint(ctx, q)
		if err != nil {
			return err
		}
		if !intact {
			// The clear must commit, so it cannot ride out of the
			// transaction on an error return.
			invalidated = true
			return nil
		}

		cmd, ok, err := s.log.PopUndo(ctx, q)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: nothing to undo", model.ErrNoChange)
		}
		label = cmd.Describe()

		if err := s.applyCommand(ctx, q, cmd, true); err != nil {
			return fmt.Errorf("undo %s: %w", label, err)
		}
		return s.log.PushRedo(ctx, q, cmd)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	if invalidated {
		return model.NoChange("data changed outside this tool; history cleared")
	}
	return model.Success("undid %s", label)
}

// Redo reapplies the most recently undone operation.
func (s *Store) Redo(ctx context.Context) model.OpResult {
	var label string
	var invalidated bool
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		intact, err := s.log.VerifyFingerprint(ctx, q)
		if err != nil {
			return err
		}
		if !intact {
			invalidated = true
			return nil
		}

		cmd, ok, err := s.log.PopRedo(ctx, q)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: nothing to redo", model.ErrNoChange)
		}
		label = cmd.Describe()

		if err := s.applyCommand(ctx, q, cmd, false); err != nil {
			return fmt.Errorf("redo %s: %w", label, err)
		}
		return s.log.PushUndo(ctx, q, cmd)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	if invalidated {
		return model.NoChange("data changed outside this tool; history cleared")
	}
	return model.Success("redid %s", label)
}

// History returns the labels of both stacks, newest first.
func (s *Store) History(ctx context.Context) (undoLabels, redoLabels []string, err error) {
	return s.log.List(ctx, s.Queries)
}

// applyCommand executes one command forward (redo) or in reverse (undo).
// Dispatch is a single switch over the closed kind set; a composite applies
// its children in order, and in reverse order when undoing.
func (s *Store) applyCommand(ctx context.Context, q *db.Queries, cmd undo.Command, reverse bool) error {
	switch cmd.Kind {
	case undo.KindComposite:
		if reverse {
			for i := len(cmd.Children) - 1; i >= 0; i-- {
				if err := s.applyCommand(ctx, q, cmd.Children[i], true); err != nil {
					return err
				}
			}
			return nil
		}
		for _, child := range cmd.Children {
			if err := s.applyCommand(ctx, q, child, false); err != nil {
				return err
			}
		}
		return nil

	case undo.KindCreateTask:
		if cmd.Task == nil {
			return fmt.Errorf("%w: create command has no task", model.ErrConsistency)
		}
		if reverse {
			return q.DeleteTask(ctx, cmd.Task.ID)
		}
		return q.InsertTask(ctx, *cmd.Task)

	case undo.KindRewriteDescription:
		if cmd.OldTask == nil || cmd.NewTask == nil {
			return fmt.Errorf("%w: rewrite command has no snapshots", model.ErrConsistency)
		}
		if reverse {
			return q.UpdateTask(ctx, *cmd.OldTask)
		}
		return q.UpdateTask(ctx, *cmd.NewTask)

	case undo.KindSetStatus:
		task, err := q.GetTask(ctx, cmd.TaskID)
		if err != nil {
			return err
		}
		if reverse {
			task.Status = cmd.OldStatus
			task.CompletedAt = cmd.OldCompletedAt
		} else {
			task.Status = cmd.NewStatus
			task.CompletedAt = cmd.NewCompletedAt
		}
		return q.UpdateTask(ctx, task)

	case undo.KindMoveTask:
		task, err := q.GetTask(ctx, cmd.TaskID)
		if err != nil {
			return err
		}
		if reverse {
			task.ListName = cmd.OldList
			task.SortOrder = cmd.OldSortOrder
		} else {
			task.ListName = cmd.NewList
			task.SortOrder = cmd.NewSortOrder
		}
		return q.UpdateTask(ctx, task)

	case undo.KindTrashTasks:
		return s.applyTrashed(ctx, q, cmd, !reverse)

	case undo.KindRestoreTasks:
		return s.applyTrashed(ctx, q, cmd, reverse)

	case undo.KindPurgeTasks:
		if cmd.Snapshot == nil {
			return fmt.Errorf("%w: purge command has no snapshot", model.ErrConsistency)
		}
		if reverse {
			return restoreSnapshot(ctx, q, cmd.Snapshot)
		}
		for _, t := range cmd.Snapshot.Tasks {
			if err := q.DeleteTask(ctx, t.ID); err != nil {
				return err
			}
		}
		return nil

	case undo.KindSetParent:
		task, err := q.GetTask(ctx, cmd.TaskID)
		if err != nil {
			return err
		}
		target := cmd.NewParentID
		if reverse {
			target = cmd.OldParentID
		}
		if target == "" {
			task.ParentID = nil
		} else {
			task.ParentID = &target
		}
		return q.UpdateTask(ctx, task)

	case undo.KindAddBlocker:
		if reverse {
			_, err := q.DeleteDependency(ctx, cmd.BlockerID, cmd.BlockedID)
			return err
		}
		return q.InsertDependency(ctx, cmd.BlockerID, cmd.BlockedID)

	case undo.KindRemoveBlocker:
		if reverse {
			return q.InsertDependency(ctx, cmd.BlockerID, cmd.BlockedID)
		}
		_, err := q.DeleteDependency(ctx, cmd.BlockerID, cmd.BlockedID)
		return err

	case undo.KindAddRelated:
		if reverse {
			_, err := q.DeleteRelation(ctx, cmd.RelatedID1, cmd.RelatedID2)
			return err
		}
		return q.InsertRelation(ctx, cmd.RelatedID1, cmd.RelatedID2)

	case undo.KindRemoveRelated:
		if reverse {
			return q.InsertRelation(ctx, cmd.RelatedID1, cmd.RelatedID2)
		}
		_, err := q.DeleteRelation(ctx, cmd.RelatedID1, cmd.RelatedID2)
		return err

	case undo.KindCreateList:
		if reverse {
			return q.DeleteList(ctx, cmd.ListName)
		}
		if cmd.Snapshot != nil && len(cmd.Snapshot.Lists) > 0 {
			return q.InsertList(ctx, cmd.Snapshot.Lists[0])
		}
		return q.InsertList(ctx, model.List{Name: cmd.ListName})

	case undo.KindRenameList:
		if reverse {
			return q.RenameList(ctx, cmd.NewList, cmd.OldList)
		}
		return q.RenameList(ctx, cmd.OldList, cmd.NewList)

	case undo.KindDeleteList:
		if reverse {
			return restoreSnapshot(ctx, q, cmd.Snapshot)
		}
		return q.DeleteList(ctx, cmd.ListName)

	default:
		return fmt.Errorf("%w: cannot replay command kind %q", model.ErrConsistency, cmd.Kind)
	}
}

// applyTrashed sets or clears the trash flag on the command's task set.
func (s *Store) applyTrashed(ctx context.Context, q *db.Queries, cmd undo.Command, trashed bool) error {
	for _, id := range cmd.TaskIDs {
		task, err := q.GetTask(ctx, id)
		if err != nil {
			return err
		}
		task.IsTrashed = trashed
		if trashed {
			task.TrashedAt = cmd.Stamp
		} else {
			task.TrashedAt = nil
		}
		if err := q.UpdateTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// restoreSnapshot reinserts removed rows: lists first, then tasks in
// parents-before-children order, then the edges that went with them.
func restoreSnapshot(ctx context.Context, q *db.Queries, snapshot *undo.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("%w: snapshot missing", model.ErrConsistency)
	}
	for _, l := range snapshot.Lists {
		if err := q.InsertList(ctx, l); err != nil {
			return err
		}
	}
	for _, t := range snapshot.Tasks {
		if err := q.InsertTask(ctx, t); err != nil {
			return err
		}
	}
	for _, e := range snapshot.Deps {
		if err := q.InsertDependency(ctx, e.BlockerID, e.BlockedID); err != nil {
			return err
		}
	}
	for _, e := range snapshot.Relations {
		if err := q.InsertRelation(ctx, e.ID1, e.ID2); err != nil {
			return err
		}
	}
	return nil
}
