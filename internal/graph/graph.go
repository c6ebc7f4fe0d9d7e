// Package graph owns the three relationship kinds between tasks: the parent
// hierarchy, directed blocking, and symmetric relatedness. Edges are kept as
// ID-keyed rows; every walk carries a visited set so malformed data can
// never loop.
package graph

import (
	"context"
	"fmt"

	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/model"
)

type Graph struct {
	q *db.Queries
}

func New(q *db.Queries) *Graph {
	return &Graph{q: q}
}

// Descendants returns the full transitive closure of id's subtree, breadth
// first, excluding id itself.
func (g *Graph) Descendants(ctx context.Context, id string) ([]model.Task, error) {
	var out []model.Task
	visited := map[string]struct{}{id: {}}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := g.q.ChildrenOf(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out, nil
}

// IsDescendant reports whether candidate sits anywhere in ancestor's
// subtree.
func (g *Graph) IsDescendant(ctx context.Context, ancestorID, candidateID string) (bool, error) {
	descendants, err := g.Descendants(ctx, ancestorID)
	if err != nil {
		return false, err
	}
	for _, d := range descendants {
		if d.ID == candidateID {
			return true, nil
		}
	}
	return false, nil
}

// BlockCycleExists reports whether adding blocker -> blocked would close a
// cycle, by walking forward from the blocked node looking for the blocker.
func (g *Graph) BlockCycleExists(ctx context.Context, blockerID, blockedID string) (bool, error) {
	visited := map[string]struct{}{}
	queue := []string{blockedID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == blockerID {
			return true, nil
		}
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		next, err := g.q.BlockedBy(ctx, current)
		if err != nil {
			return false, err
		}
		queue = append(queue, next...)
	}
	return false, nil
}

// ValidateSetParent checks the hierarchy invariants: both tasks exist and
// are live, same list, no self-parenting, and the new parent must not
// already be inside the child's subtree.
func (g *Graph) ValidateSetParent(ctx context.Context, child, parent model.Task) error {
	if child.ID == parent.ID {
		return fmt.Errorf("%w: task cannot be its own parent", model.ErrValidation)
	}
	if child.IsTrashed || parent.IsTrashed {
		return fmt.Errorf("%w: trashed tasks cannot be linked", model.ErrValidation)
	}
	if child.ListName != parent.ListName {
		return fmt.Errorf("%w: parent must be in the same list", model.ErrValidation)
	}
	inSubtree, err := g.IsDescendant(ctx, child.ID, parent.ID)
	if err != nil {
		return err
	}
	if inSubtree {
		return fmt.Errorf("%w: %s is a descendant of %s", model.ErrValidation, parent.ID, child.ID)
	}
	return nil
}

// SetParent validates and applies a parent change, returning the child's
// prior parent (empty string for none).
func (g *Graph) SetParent(ctx context.Context, childID, parentID string) (string, error) {
	child, err := g.q.GetTask(ctx, childID)
	if err != nil {
		return "", err
	}
	oldParent := ""
	if child.ParentID != nil {
		oldParent = *child.ParentID
	}
	if oldParent == parentID {
		return oldParent, fmt.Errorf("%w: parent already set", model.ErrNoChange)
	}

	parent, err := g.q.GetTask(ctx, parentID)
	if err != nil {
		return oldParent, err
	}
	if err := g.ValidateSetParent(ctx, child, parent); err != nil {
		return oldParent, err
	}

	child.ParentID = &parentID
	if err := g.q.UpdateTask(ctx, child); err != nil {
		return oldParent, err
	}
	return oldParent, nil
}

// UnsetParent detaches childID from its parent, returning the prior parent.
func (g *Graph) UnsetParent(ctx context.Context, childID string) (string, error) {
	child, err := g.q.GetTask(ctx, childID)
	if err != nil {
		return "", err
	}
	if child.ParentID == nil {
		return "", fmt.Errorf("%w: task has no parent", model.ErrNoChange)
	}
	oldParent := *child.ParentID

	child.ParentID = nil
	if err := g.q.UpdateTask(ctx, child); err != nil {
		return oldParent, err
	}
	return oldParent, nil
}

// AddBlocker records blockerID as blocking blockedID. Cross-list edges are
// allowed; cycles and self-references are not.
func (g *Graph) AddBlocker(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == blockedID {
		return fmt.Errorf("%w: task cannot block itself", model.ErrValidation)
	}
	for _, id := range []string{blockerID, blockedID} {
		if _, err := g.q.GetTask(ctx, id); err != nil {
			return err
		}
	}

	exists, err := g.q.DependencyExists(ctx, blockerID, blockedID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s already blocks %s", model.ErrNoChange, blockerID, blockedID)
	}

	cycle, err := g.BlockCycleExists(ctx, blockerID, blockedID)
	if err != nil {
		return err
	}
	if cycle {
		return fmt.Errorf("%w: %s -> %s would create a blocking cycle", model.ErrValidation, blockerID, blockedID)
	}

	return g.q.InsertDependency(ctx, blockerID, blockedID)
}

func (g *Graph) RemoveBlocker(ctx context.Context, blockerID, blockedID string) error {
	removed, err := g.q.DeleteDependency(ctx, blockerID, blockedID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s does not block %s", model.ErrNoChange, blockerID, blockedID)
	}
	return nil
}

// AddRelated links two tasks symmetrically; the pair is stored canonically
// so a duplicate or reversed add is a no-op, not an error.
func (g *Graph) AddRelated(ctx context.Context, a, b string) error {
	if a == b {
		return fmt.Errorf("%w: task cannot relate to itself", model.ErrValidation)
	}
	for _, id := range []string{a, b} {
		if _, err := g.q.GetTask(ctx, id); err != nil {
			return err
		}
	}

	exists, err := g.q.RelationExists(ctx, a, b)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s and %s are already related", model.ErrNoChange, a, b)
	}

	return g.q.InsertRelation(ctx, a, b)
}

func (g *Graph) RemoveRelated(ctx context.Context, a, b string) error {
	removed, err := g.q.DeleteRelation(ctx, a, b)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s and %s are not related", model.ErrNoChange, a, b)
	}
	return nil
}
