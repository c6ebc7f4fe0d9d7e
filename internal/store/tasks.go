package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/graph"
	"github.com/Joseda-hg/trellis/internal/metadata"
	"github.com/Joseda-hg/trellis/internal/model"
	"github.com/Joseda-hg/trellis/internal/undo"
)

// CreateTask adds a task from free text. Relationship and metadata markers
// on the description's last line are applied; invalid references are
// skipped with a warning and the rest of the task is created intact.
func (s *Store) CreateTask(ctx context.Context, description, listName string) (model.OpResult, string) {
	if listName == "" {
		listName = model.DefaultListName
	}

	if strings.TrimSpace(description) == "" {
		return model.Errorf("description is empty"), ""
	}
	fields := s.codec.Parse(description)
	if fields.LastLineMetadataOnly && fields.Prose == "" {
		return model.Errorf("description is empty after stripping markers"), ""
	}

	var createdID string
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		batch := s.log.Begin("create task")

		if err := s.ensureList(ctx, q, listName, batch); err != nil {
			return err
		}

		id, err := s.freshID(ctx, q)
		if err != nil {
			return err
		}
		createdID = id

		sortOrder, err := q.NextSortOrder(ctx, listName)
		if err != nil {
			return err
		}

		task := model.Task{
			ID:          id,
			Description: description,
			Status:      model.StatusPending,
			Priority:    fields.Priority,
			DueDate:     fields.DueDate,
			DueDateRaw:  fields.DueDateRaw,
			Tags:        fields.Tags,
			ListName:    listName,
			CreatedAt:   s.now(),
			SortOrder:   sortOrder,
		}
		if err := q.InsertTask(ctx, task); err != nil {
			return err
		}
		batch.Add(undo.Command{Kind: undo.KindCreateTask, TaskID: id, Task: &task})

		affected, err := s.coord.ApplyMarkerDelta(ctx, q, g, id, metadata.Fields{}, fields, batch)
		if err != nil {
			return err
		}
		if err := s.coord.RewriteAll(ctx, q, affected, batch); err != nil {
			return err
		}

		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err), ""
	}
	return model.Success("created task %s", createdID), createdID
}

// RenameTask replaces a task's description. Relationship markers are diffed
// against the prior description, so unrelated text edits never touch edges;
// an unchanged due marker keeps its already-resolved date.
func (s *Store) RenameTask(ctx context.Context, id, description string) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		task, err := q.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if task.Description == description {
			return fmt.Errorf("%w: description unchanged", model.ErrNoChange)
		}

		before := s.codec.Parse(task.Description)
		after := s.codec.Parse(description)
		if after.LastLineMetadataOnly && after.Prose == "" {
			return fmt.Errorf("%w: description is empty after stripping markers", model.ErrValidation)
		}

		batch := s.log.Begin("rename task")

		oldTask := task
		task.Description = description
		task.Priority = after.Priority
		task.Tags = after.Tags
		if after.DueDateRaw == task.DueDateRaw && task.DueDate != nil {
			// Same raw marker: keep the resolved date. "@today" written
			// yesterday still means yesterday.
		} else {
			task.DueDate = after.DueDate
			task.DueDateRaw = after.DueDateRaw
		}

		sortOrder, err := q.NextSortOrder(ctx, task.ListName)
		if err != nil {
			return err
		}
		task.SortOrder = sortOrder

		if err := q.UpdateTask(ctx, task); err != nil {
			return err
		}
		batch.Add(undo.Command{Kind: undo.KindRewriteDescription, TaskID: id, OldTask: &oldTask, NewTask: &task})

		affected, err := s.coord.ApplyMarkerDelta(ctx, q, g, id, before, after, batch)
		if err != nil {
			return err
		}
		if err := s.coord.RewriteAll(ctx, q, affected, batch); err != nil {
			return err
		}

		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("renamed task %s", id)
}

// SetStatus changes a task's status. Completing a parent cascades to every
// non-done descendant as one undoable step; no other transition cascades.
// A repeated status is a no-op that records nothing and leaves sort order
// alone.
func (s *Store) SetStatus(ctx context.Context, id string, status model.Status) model.OpResult {
	if _, ok := model.ParseStatus(string(status)); !ok {
		return model.Errorf("unknown status %q", status)
	}

	var cascaded int
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		task, err := q.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if task.Status == status {
			return fmt.Errorf("%w: status is already %s", model.ErrNoChange, status)
		}

		batch := s.log.Begin(fmt.Sprintf("set status %s", status))

		if err := s.applyStatus(ctx, q, task, status, batch); err != nil {
			return err
		}

		if status == model.StatusDone {
			descendants, err := g.Descendants(ctx, id)
			if err != nil {
				return err
			}
			for _, d := range descendants {
				if d.Status == model.StatusDone || d.IsTrashed {
					continue
				}
				if err := s.applyStatus(ctx, q, d, model.StatusDone, batch); err != nil {
					return err
				}
				cascaded++
			}
		}

		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	if cascaded > 0 {
		return model.Success("task %s is %s (%d descendants completed)", id, status, cascaded)
	}
	return model.Success("task %s is %s", id, status)
}

// applyStatus writes one status transition and records it. CompletedAt is
// set exactly on entering done and cleared on leaving it; sort order is
// untouched so the task does not jump around on a simple interaction.
func (s *Store) applyStatus(ctx context.Context, q *db.Queries, task model.Task, status model.Status, batch *undo.Batch) error {
	cmd := undo.Command{
		Kind:           undo.KindSetStatus,
		TaskID:         task.ID,
		OldStatus:      task.Status,
		NewStatus:      status,
		OldCompletedAt: task.CompletedAt,
	}

	task.Status = status
	if status == model.StatusDone {
		completed := s.now()
		task.CompletedAt = &completed
	} else {
		task.CompletedAt = nil
	}
	cmd.NewCompletedAt = task.CompletedAt

	if err := q.UpdateTask(ctx, task); err != nil {
		return err
	}
	batch.Add(cmd)
	return nil
}

// MoveTask moves a task and its whole subtree to another list. A task that
// still has a parent cannot move on its own.
func (s *Store) MoveTask(ctx context.Context, id, listName string) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		task, err := q.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if task.ListName == listName {
			return fmt.Errorf("%w: already in list %q", model.ErrNoChange, listName)
		}
		if task.ParentID != nil {
			return fmt.Errorf("%w: task %s has a parent; detach it first, then move", model.ErrValidation, id)
		}

		batch := s.log.Begin(fmt.Sprintf("move to %s", listName))

		if err := s.ensureList(ctx, q, listName, batch); err != nil {
			return err
		}

		descendants, err := g.Descendants(ctx, id)
		if err != nil {
			return err
		}

		for _, t := range append([]model.Task{task}, descendants...) {
			sortOrder, err := q.NextSortOrder(ctx, listName)
			if err != nil {
				return err
			}
			cmd := undo.Command{
				Kind:         undo.KindMoveTask,
				TaskID:       t.ID,
				OldList:      t.ListName,
				NewList:      listName,
				OldSortOrder: t.SortOrder,
				NewSortOrder: sortOrder,
			}
			t.ListName = listName
			t.SortOrder = sortOrder
			if err := q.UpdateTask(ctx, t); err != nil {
				return err
			}
			batch.Add(cmd)
		}

		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("moved task %s to %s", id, listName)
}

// SetPriority, SetDueDate and SetTags are direct metadata edits; each goes
// through the same full-row rewrite command as a rename, bumps sort order,
// and re-canonicalizes the marker line.

func (s *Store) SetPriority(ctx context.Context, id string, priority model.Priority) model.OpResult {
	return s.editMetadata(ctx, id, "set priority", func(task *model.Task) error {
		if task.Priority == priority {
			return fmt.Errorf("%w: priority unchanged", model.ErrNoChange)
		}
		task.Priority = priority
		return nil
	})
}

func (s *Store) SetDueDate(ctx context.Context, id, expr string) model.OpResult {
	return s.editMetadata(ctx, id, "set due date", func(task *model.Task) error {
		if expr == "" {
			if task.DueDateRaw == "" && task.DueDate == nil {
				return fmt.Errorf("%w: no due date set", model.ErrNoChange)
			}
			task.DueDate = nil
			task.DueDateRaw = ""
			return nil
		}
		if expr == task.DueDateRaw {
			return fmt.Errorf("%w: due date unchanged", model.ErrNoChange)
		}
		resolved, ok := metadata.ResolveDueExpr(expr, s.now())
		if !ok {
			return fmt.Errorf("%w: cannot parse due date %q", model.ErrValidation, expr)
		}
		task.DueDate = &resolved
		task.DueDateRaw = expr
		return nil
	})
}

func (s *Store) SetTags(ctx context.Context, id string, tags []string) model.OpResult {
	normalized := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		normalized = append(normalized, t)
	}
	sort.Strings(normalized)
	return s.editMetadata(ctx, id, "set tags", func(task *model.Task) error {
		current := append([]string(nil), task.Tags...)
		sort.Strings(current)
		if equalStrings(current, normalized) {
			return fmt.Errorf("%w: tags unchanged", model.ErrNoChange)
		}
		task.Tags = normalized
		return nil
	})
}

func (s *Store) editMetadata(ctx context.Context, id, label string, edit func(*model.Task) error) model.OpResult {
	err := s.mutate(ctx, func(q *db.Queries, g *graph.Graph) error {
		task, err := q.GetTask(ctx, id)
		if err != nil {
			return err
		}

		oldTask := task
		if err := edit(&task); err != nil {
			return err
		}

		sortOrder, err := q.NextSortOrder(ctx, task.ListName)
		if err != nil {
			return err
		}
		task.SortOrder = sortOrder

		if err := q.UpdateTask(ctx, task); err != nil {
			return err
		}

		batch := s.log.Begin(label)
		batch.Add(undo.Command{Kind: undo.KindRewriteDescription, TaskID: id, OldTask: &oldTask, NewTask: &task})
		if err := s.coord.Rewrite(ctx, q, id, batch); err != nil {
			return err
		}
		return batch.Commit(ctx, q)
	})
	if err != nil {
		return model.ResultFromError(err)
	}
	return model.Success("%s on task %s", label, id)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
