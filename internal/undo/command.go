// Package undo is the command log: every mutation is recorded as a
// reversible command, cascades batch into composites, and two stacks
// persist across processes alongside the data they describe.
package undo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Joseda-hg/trellis/internal/model"
)

type Kind string

const (
	KindCreateTask         Kind = "create_task"
	KindRewriteDescription Kind = "rewrite_description"
	KindSetStatus          Kind = "set_status"
	KindMoveTask           Kind = "move_task"
	KindTrashTasks         Kind = "trash_tasks"
	KindRestoreTasks       Kind = "restore_tasks"
	KindPurgeTasks         Kind = "purge_tasks"
	KindSetParent          Kind = "set_parent"
	KindAddBlocker         Kind = "add_blocker"
	KindRemoveBlocker      Kind = "remove_blocker"
	KindAddRelated         Kind = "add_related"
	KindRemoveRelated      Kind = "remove_related"
	KindCreateList         Kind = "create_list"
	KindRenameList         Kind = "rename_list"
	KindDeleteList         Kind = "delete_list"
	KindComposite          Kind = "composite"
)

// Snapshot captures everything a destructive operation removed, so undo can
// put it all back: full task rows plus every edge touching them.
type Snapshot struct {
	Tasks     []model.Task         `json:"tasks,omitempty"`
	Deps      []model.BlockEdge    `json:"deps,omitempty"`
	Relations []model.RelationEdge `json:"relations,omitempty"`
	Lists     []model.List         `json:"lists,omitempty"`
}

// Command is a closed union discriminated by Kind. Scalar changes carry
// old+new values; destructive kinds carry a Snapshot. A zero field is
// simply unused by that kind.
type Command struct {
	Kind  Kind   `json:"kind"`
	Label string `json:"label,omitempty"`

	TaskID string `json:"task_id,omitempty"`

	Task *model.Task `json:"task,omitempty"` // create_task

	OldTask *model.Task `json:"old_task,omitempty"` // rewrite_description
	NewTask *model.Task `json:"new_task,omitempty"`

	OldStatus      model.Status `json:"old_status,omitempty"` // set_status
	NewStatus      model.Status `json:"new_status,omitempty"`
	OldCompletedAt *time.Time   `json:"old_completed_at,omitempty"`
	NewCompletedAt *time.Time   `json:"new_completed_at,omitempty"`

	OldList      string `json:"old_list,omitempty"` // move_task / rename_list
	NewList      string `json:"new_list,omitempty"`
	OldSortOrder int64  `json:"old_sort_order,omitempty"`
	NewSortOrder int64  `json:"new_sort_order,omitempty"`

	OldParentID string `json:"old_parent_id,omitempty"` // set_parent; "" means none
	NewParentID string `json:"new_parent_id,omitempty"`

	TaskIDs []string   `json:"task_ids,omitempty"` // trash_tasks / restore_tasks
	Stamp   *time.Time `json:"stamp,omitempty"`

	Snapshot *Snapshot `json:"snapshot,omitempty"` // purge_tasks / delete_list

	BlockerID string `json:"blocker_id,omitempty"` // blocker kinds
	BlockedID string `json:"blocked_id,omitempty"`

	RelatedID1 string `json:"related_id_1,omitempty"` // related kinds
	RelatedID2 string `json:"related_id_2,omitempty"`

	ListName string `json:"list_name,omitempty"` // create_list / delete_list

	Children []Command `json:"children,omitempty"` // composite
}

// Describe renders the human-facing label for history output.
func (c Command) Describe() string {
	if c.Label != "" {
		return c.Label
	}
	switch c.Kind {
	case KindComposite:
		return fmt.Sprintf("%d changes", len(c.Children))
	default:
		return string(c.Kind)
	}
}

func Marshal(c Command) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}
	return string(data), nil
}

// Unmarshal is strict about the discriminator: an unknown or missing kind is
// schema drift, and the caller clears history rather than replaying it.
func Unmarshal(payload string) (Command, error) {
	var c Command
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Command{}, fmt.Errorf("unmarshal command: %w", err)
	}
	if !validKind(c.Kind) {
		return Command{}, fmt.Errorf("unknown command kind %q", c.Kind)
	}
	for _, child := range c.Children {
		if !validKind(child.Kind) {
			return Command{}, fmt.Errorf("unknown command kind %q", child.Kind)
		}
	}
	return c, nil
}

func validKind(k Kind) bool {
	switch k {
	case KindCreateTask, KindRewriteDescription, KindSetStatus, KindMoveTask,
		KindTrashTasks, KindRestoreTasks, KindPurgeTasks, KindSetParent,
		KindAddBlocker, KindRemoveBlocker, KindAddRelated, KindRemoveRelated,
		KindCreateList, KindRenameList, KindDeleteList, KindComposite:
		return true
	}
	return false
}
