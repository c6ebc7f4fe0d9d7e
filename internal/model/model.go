package model

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusDone:
		return Status(s), true
	}
	return "", false
}

// Priority zero means unset; 1 is highest.
type Priority int

const (
	PriorityNone   Priority = 0
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

// DefaultListName is the reserved list every database starts with.
// It cannot be deleted or renamed.
const DefaultListName = "inbox"

type Task struct {
	ID          string
	Description string
	Status      Status
	Priority    Priority
	DueDate     *time.Time
	// DueDateRaw keeps the marker text the due date was parsed from, so an
	// unchanged relative marker like "@today" is never re-resolved.
	DueDateRaw  string
	Tags        []string
	ListName    string
	ParentID    *string
	CreatedAt   time.Time
	CompletedAt *time.Time
	IsTrashed   bool
	TrashedAt   *time.Time
	SortOrder   int64
}

type List struct {
	Name        string
	IsCollapsed bool
	SortOrder   int64
}

// BlockEdge is a directed blocking edge: Blocker blocks Blocked.
type BlockEdge struct {
	BlockerID string
	BlockedID string
}

// RelationEdge is a symmetric edge stored canonically with ID1 < ID2.
type RelationEdge struct {
	ID1 string
	ID2 string
}

func CanonicalRelation(a, b string) RelationEdge {
	if b < a {
		a, b = b, a
	}
	return RelationEdge{ID1: a, ID2: b}
}
