// Package sync keeps each task's inline marker text agreeing with the
// relationship edges and metadata columns. Every rewrite happens inside the
// transaction (and undo batch) of the mutation that made it necessary, so
// the two representations cannot diverge even across a crash.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/graph"
	"github.com/Joseda-hg/trellis/internal/metadata"
	"github.com/Joseda-hg/trellis/internal/model"
	"github.com/Joseda-hg/trellis/internal/undo"
)

type Coordinator struct {
	codec *metadata.Codec
}

func New(codec *metadata.Codec) *Coordinator {
	return &Coordinator{codec: codec}
}

// Rewrite regenerates the marker line of one task from its stored edges and
// metadata columns. Markers referencing IDs that no longer exist are kept as
// they are; dangling references are preserved on purpose. Sort order is not
// bumped: a marker rewrite is system-driven, not a user edit.
func (c *Coordinator) Rewrite(ctx context.Context, q *db.Queries, taskID string, batch *undo.Batch) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	fields, err := c.deriveFields(ctx, q, task)
	if err != nil {
		return err
	}

	parsed := c.codec.Parse(task.Description)
	newDesc := c.codec.Serialize(parsed.Prose, fields)
	if newDesc == task.Description {
		return nil
	}

	oldTask := task
	task.Description = newDesc
	if err := q.UpdateTask(ctx, task); err != nil {
		return err
	}

	batch.Add(undo.Command{
		Kind:    undo.KindRewriteDescription,
		TaskID:  task.ID,
		OldTask: &oldTask,
		NewTask: &task,
	})
	return nil
}

// RewriteAll rewrites a set of affected tasks, deduplicated, in a stable
// order.
func (c *Coordinator) RewriteAll(ctx context.Context, q *db.Queries, ids []string, batch *undo.Batch) error {
	seen := make(map[string]struct{}, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	for _, id := range ordered {
		if err := c.Rewrite(ctx, q, id, batch); err != nil {
			return err
		}
	}
	return nil
}

// deriveFields assembles the canonical marker fields for a task: hierarchy
// and edges from the tables, scalars from the columns, plus any parsed
// markers whose referent no longer exists.
func (c *Coordinator) deriveFields(ctx context.Context, q *db.Queries, task model.Task) (metadata.Fields, error) {
	fields := metadata.Fields{
		Priority:   task.Priority,
		DueDate:    task.DueDate,
		DueDateRaw: task.DueDateRaw,
		Tags:       append([]string(nil), task.Tags...),
	}
	sort.Strings(fields.Tags)

	if task.ParentID != nil {
		fields.ParentID = *task.ParentID
	}

	blocks, err := q.BlockedBy(ctx, task.ID)
	if err != nil {
		return metadata.Fields{}, err
	}
	fields.BlocksIDs = blocks

	blockers, err := q.BlockersOf(ctx, task.ID)
	if err != nil {
		return metadata.Fields{}, err
	}
	fields.InverseBlockedByIDs = blockers

	children, err := q.ChildrenOf(ctx, task.ID)
	if err != nil {
		return metadata.Fields{}, err
	}
	for _, child := range children {
		fields.InverseParentIDs = append(fields.InverseParentIDs, child.ID)
	}
	sort.Strings(fields.InverseParentIDs)

	related, err := q.RelatedTo(ctx, task.ID)
	if err != nil {
		return metadata.Fields{}, err
	}
	fields.RelatedIDs = related

	if err := c.preserveDangling(ctx, q, task.Description, &fields); err != nil {
		return metadata.Fields{}, err
	}
	return fields, nil
}

// preserveDangling keeps relationship markers whose referenced task has been
// hard-deleted. The edges went with the task (referential cascade), but the
// text is the user's and stays until they edit it.
func (c *Coordinator) preserveDangling(ctx context.Context, q *db.Queries, description string, fields *metadata.Fields) error {
	parsed := c.codec.Parse(description)
	if !parsed.LastLineMetadataOnly {
		return nil
	}

	keepMissing := func(ids []string, into *[]string) error {
		for _, id := range ids {
			exists, err := q.TaskExists(ctx, id)
			if err != nil {
				return err
			}
			if !exists && !contains(*into, id) {
				*into = append(*into, id)
			}
		}
		return nil
	}

	if err := keepMissing(parsed.BlocksIDs, &fields.BlocksIDs); err != nil {
		return err
	}
	if err := keepMissing(parsed.InverseBlockedByIDs, &fields.InverseBlockedByIDs); err != nil {
		return err
	}
	if err := keepMissing(parsed.InverseParentIDs, &fields.InverseParentIDs); err != nil {
		return err
	}
	if err := keepMissing(parsed.RelatedIDs, &fields.RelatedIDs); err != nil {
		return err
	}
	if parsed.ParentID != "" && fields.ParentID == "" {
		exists, err := q.TaskExists(ctx, parsed.ParentID)
		if err != nil {
			return err
		}
		if !exists {
			fields.ParentID = parsed.ParentID
		}
	}
	return nil
}

// ApplyMarkerDelta diffs two parsed descriptions of the same task and turns
// the difference into relationship mutations. Only the delta is applied, so
// an unrelated text edit can never add or drop an edge. Invalid references
// are skipped with a warning and the rest of the operation proceeds.
//
// Returns the IDs of every task whose markers may now be stale; the caller
// rewrites them in the same batch.
func (c *Coordinator) ApplyMarkerDelta(ctx context.Context, q *db.Queries, g *graph.Graph, taskID string, before, after metadata.Fields, batch *undo.Batch) ([]string, error) {
	affected := []string{taskID}

	// Parent.
	if before.ParentID != after.ParentID {
		if after.ParentID == "" {
			oldParent, err := g.UnsetParent(ctx, taskID)
			if err != nil {
				if !skippable(err) {
					return nil, err
				}
				warnSkip("unset parent", taskID, "", err)
			} else {
				affected = append(affected, oldParent)
				batch.Add(undo.Command{Kind: undo.KindSetParent, TaskID: taskID, OldParentID: oldParent})
			}
		} else {
			oldParent, err := g.SetParent(ctx, taskID, after.ParentID)
			if err != nil {
				if !skippable(err) {
					return nil, err
				}
				warnSkip("set parent", taskID, after.ParentID, err)
			} else {
				affected = append(affected, oldParent, after.ParentID)
				batch.Add(undo.Command{Kind: undo.KindSetParent, TaskID: taskID, OldParentID: oldParent, NewParentID: after.ParentID})
			}
		}
	}

	// Tasks this one blocks (!id), and inverse blocked-by (-!id).
	addBlock := func(blockerID, blockedID string) error {
		if err := g.AddBlocker(ctx, blockerID, blockedID); err != nil {
			if !skippable(err) {
				return err
			}
			warnSkip("add blocker", blockerID, blockedID, err)
			return nil
		}
		affected = append(affected, blockerID, blockedID)
		batch.Add(undo.Command{Kind: undo.KindAddBlocker, BlockerID: blockerID, BlockedID: blockedID})
		return nil
	}
	removeBlock := func(blockerID, blockedID string) error {
		if err := g.RemoveBlocker(ctx, blockerID, blockedID); err != nil {
			if !skippable(err) {
				return err
			}
			return nil
		}
		affected = append(affected, blockerID, blockedID)
		batch.Add(undo.Command{Kind: undo.KindRemoveBlocker, BlockerID: blockerID, BlockedID: blockedID})
		return nil
	}

	for _, id := range added(before.BlocksIDs, after.BlocksIDs) {
		if err := addBlock(taskID, id); err != nil {
			return nil, err
		}
	}
	for _, id := range added(after.BlocksIDs, before.BlocksIDs) {
		if err := removeBlock(taskID, id); err != nil {
			return nil, err
		}
	}
	for _, id := range added(before.InverseBlockedByIDs, after.InverseBlockedByIDs) {
		if err := addBlock(id, taskID); err != nil {
			return nil, err
		}
	}
	for _, id := range added(after.InverseBlockedByIDs, before.InverseBlockedByIDs) {
		if err := removeBlock(id, taskID); err != nil {
			return nil, err
		}
	}

	// Inverse parent (-^id): this task becomes the parent of id.
	for _, id := range added(before.InverseParentIDs, after.InverseParentIDs) {
		oldParent, err := g.SetParent(ctx, id, taskID)
		if err != nil {
			if !skippable(err) {
				return nil, err
			}
			warnSkip("set parent", id, taskID, err)
			continue
		}
		affected = append(affected, id, oldParent)
		batch.Add(undo.Command{Kind: undo.KindSetParent, TaskID: id, OldParentID: oldParent, NewParentID: taskID})
	}
	for _, id := range added(after.InverseParentIDs, before.InverseParentIDs) {
		child, err := q.GetTask(ctx, id)
		if err != nil {
			if !skippable(err) {
				return nil, err
			}
			continue
		}
		if child.ParentID == nil || *child.ParentID != taskID {
			continue
		}
		oldParent, err := g.UnsetParent(ctx, id)
		if err != nil {
			if !skippable(err) {
				return nil, err
			}
			continue
		}
		affected = append(affected, id)
		batch.Add(undo.Command{Kind: undo.KindSetParent, TaskID: id, OldParentID: oldParent})
	}

	// Related (~id), symmetric.
	for _, id := range added(before.RelatedIDs, after.RelatedIDs) {
		if err := g.AddRelated(ctx, taskID, id); err != nil {
			if !skippable(err) {
				return nil, err
			}
			warnSkip("add related", taskID, id, err)
			continue
		}
		affected = append(affected, id)
		batch.Add(undo.Command{Kind: undo.KindAddRelated, RelatedID1: taskID, RelatedID2: id})
	}
	for _, id := range added(after.RelatedIDs, before.RelatedIDs) {
		if err := g.RemoveRelated(ctx, taskID, id); err != nil {
			if !skippable(err) {
				return nil, err
			}
			continue
		}
		affected = append(affected, id)
		batch.Add(undo.Command{Kind: undo.KindRemoveRelated, RelatedID1: taskID, RelatedID2: id})
	}

	return affected, nil
}

// skippable reports whether a relationship failure aborts only that
// reference rather than the whole operation.
func skippable(err error) bool {
	return errors.Is(err, model.ErrValidation) ||
		errors.Is(err, model.ErrNoChange) ||
		errors.Is(err, model.ErrNotFound)
}

func warnSkip(op, a, b string, err error) {
	slog.Warn("skipping relationship marker", "op", op, "from", a, "to", b, "reason", err)
}

// added returns the members of b not present in a.
func added(a, b []string) []string {
	var out []string
	for _, id := range b {
		if !contains(a, id) {
			out = append(out, id)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
