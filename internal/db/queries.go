package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Joseda-hg/trellis/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same queries serve
// one-shot reads and transactional mutations.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const taskColumns = "id, description, status, created_at, list_name, due_date, due_date_raw, priority, tags, is_trashed, trashed_at, sort_order, completed_at, parent_id"

func (q *Queries) InsertTask(ctx context.Context, t model.Task) error {
	tags, err := json.Marshal(normalizeTags(t.Tags))
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Description, string(t.Status), t.CreatedAt, t.ListName,
		nullTime(t.DueDate), t.DueDateRaw, int(t.Priority), string(tags),
		t.IsTrashed, nullTime(t.TrashedAt), t.SortOrder, nullTime(t.CompletedAt), nullString(t.ParentID))
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (q *Queries) UpdateTask(ctx context.Context, t model.Task) error {
	tags, err := json.Marshal(normalizeTags(t.Tags))
	if err != nil {
		return err
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET description = ?, status = ?, list_name = ?, due_date = ?,
			due_date_raw = ?, priority = ?, tags = ?, is_trashed = ?, trashed_at = ?,
			sort_order = ?, completed_at = ?, parent_id = ?
		WHERE id = ?`,
		t.Description, string(t.Status), t.ListName, nullTime(t.DueDate),
		t.DueDateRaw, int(t.Priority), string(tags), t.IsTrashed, nullTime(t.TrashedAt),
		t.SortOrder, nullTime(t.CompletedAt), nullString(t.ParentID), t.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrNotFound)
	}
	return nil
}

func (q *Queries) DeleteTask(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (q *Queries) GetTask(ctx context.Context, id string) (model.Task, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return model.Task{}, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return t, err
}

func (q *Queries) TaskExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := q.db.QueryRowContext(ctx, "SELECT 1 FROM tasks WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queries) ListTasks(ctx context.Context, listName string, includeTrashed bool) ([]model.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	var args []any
	where := ""
	if listName != "" {
		where = " WHERE list_name = ?"
		args = append(args, listName)
	}
	if !includeTrashed {
		if where == "" {
			where = " WHERE is_trashed = 0"
		} else {
			where += " AND is_trashed = 0"
		}
	}
	rows, err := q.db.QueryContext(ctx, query+where+" ORDER BY sort_order, created_at", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (q *Queries) ListTrashed(ctx context.Context) ([]model.Task, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE is_trashed = 1 ORDER BY trashed_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ChildrenOf returns direct children only; callers needing the full subtree
// use graph.Descendants.
func (q *Queries) ChildrenOf(ctx context.Context, id string) ([]model.Task, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE parent_id = ? ORDER BY sort_order, created_at", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (q *Queries) NextSortOrder(ctx context.Context, listName string) (int64, error) {
	var max sql.NullInt64
	err := q.db.QueryRowContext(ctx, "SELECT MAX(sort_order) FROM tasks WHERE list_name = ?", listName).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64 + 1, nil
}

// --- dependency edges ---

func (q *Queries) InsertDependency(ctx context.Context, blockerID, blockedID string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO task_dependencies (blocker_id, blocked_id) VALUES (?, ?)", blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("insert dependency %s -> %s: %w", blockerID, blockedID, err)
	}
	return nil
}

func (q *Queries) DeleteDependency(ctx context.Context, blockerID, blockedID string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		"DELETE FROM task_dependencies WHERE blocker_id = ? AND blocked_id = ?", blockerID, blockedID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (q *Queries) DependencyExists(ctx context.Context, blockerID, blockedID string) (bool, error) {
	var one int
	err := q.db.QueryRowContext(ctx,
		"SELECT 1 FROM task_dependencies WHERE blocker_id = ? AND blocked_id = ?", blockerID, blockedID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BlockersOf returns IDs of tasks blocking id.
func (q *Queries) BlockersOf(ctx context.Context, id string) ([]string, error) {
	return q.idColumn(ctx, "SELECT blocker_id FROM task_dependencies WHERE blocked_id = ? ORDER BY blocker_id", id)
}

// BlockedBy returns IDs of tasks that id blocks.
func (q *Queries) BlockedBy(ctx context.Context, id string) ([]string, error) {
	return q.idColumn(ctx, "SELECT blocked_id FROM task_dependencies WHERE blocker_id = ? ORDER BY blocked_id", id)
}

func (q *Queries) DependenciesTouching(ctx context.Context, id string) ([]model.BlockEdge, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT blocker_id, blocked_id FROM task_dependencies WHERE blocker_id = ? OR blocked_id = ?", id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []model.BlockEdge
	for rows.Next() {
		var e model.BlockEdge
		if err := rows.Scan(&e.BlockerID, &e.BlockedID); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// --- relation edges ---

func (q *Queries) InsertRelation(ctx context.Context, a, b string) error {
	e := model.CanonicalRelation(a, b)
	_, err := q.db.ExecContext(ctx, "INSERT INTO task_relations (id_1, id_2) VALUES (?, ?)", e.ID1, e.ID2)
	if err != nil {
		return fmt.Errorf("insert relation %s ~ %s: %w", e.ID1, e.ID2, err)
	}
	return nil
}

func (q *Queries) DeleteRelation(ctx context.Context, a, b string) (bool, error) {
	e := model.CanonicalRelation(a, b)
	res, err := q.db.ExecContext(ctx, "DELETE FROM task_relations WHERE id_1 = ? AND id_2 = ?", e.ID1, e.ID2)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (q *Queries) RelationExists(ctx context.Context, a, b string) (bool, error) {
	e := model.CanonicalRelation(a, b)
	var one int
	err := q.db.QueryRowContext(ctx, "SELECT 1 FROM task_relations WHERE id_1 = ? AND id_2 = ?", e.ID1, e.ID2).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queries) RelatedTo(ctx context.Context, id string) ([]string, error) {
	return q.idColumn(ctx, `
		SELECT id_2 FROM task_relations WHERE id_1 = ?
		UNION SELECT id_1 FROM task_relations WHERE id_2 = ?
		ORDER BY 1`, id, id)
}

func (q *Queries) RelationsTouching(ctx context.Context, id string) ([]model.RelationEdge, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id_1, id_2 FROM task_relations WHERE id_1 = ? OR id_2 = ?", id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []model.RelationEdge
	for rows.Next() {
		var e model.RelationEdge
		if err := rows.Scan(&e.ID1, &e.ID2); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// --- lists ---

func (q *Queries) InsertList(ctx context.Context, l model.List) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO lists (name, is_collapsed, sort_order) VALUES (?, ?, ?)",
		l.Name, l.IsCollapsed, l.SortOrder)
	if err != nil {
		return fmt.Errorf("insert list %s: %w", l.Name, err)
	}
	return nil
}

func (q *Queries) GetList(ctx context.Context, name string) (model.List, error) {
	var l model.List
	err := q.db.QueryRowContext(ctx,
		"SELECT name, is_collapsed, sort_order FROM lists WHERE name = ?", name).
		Scan(&l.Name, &l.IsCollapsed, &l.SortOrder)
	if err == sql.ErrNoRows {
		return model.List{}, fmt.Errorf("list %s: %w", name, model.ErrNotFound)
	}
	return l, err
}

func (q *Queries) ListLists(ctx context.Context) ([]model.List, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT name, is_collapsed, sort_order FROM lists ORDER BY sort_order, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []model.List
	for rows.Next() {
		var l model.List
		if err := rows.Scan(&l.Name, &l.IsCollapsed, &l.SortOrder); err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

func (q *Queries) UpdateList(ctx context.Context, l model.List) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE lists SET is_collapsed = ?, sort_order = ? WHERE name = ?",
		l.IsCollapsed, l.SortOrder, l.Name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("list %s: %w", l.Name, model.ErrNotFound)
	}
	return nil
}

// RenameList moves the list row and repoints its tasks in one statement
// pair; callers run it inside a transaction.
func (q *Queries) RenameList(ctx context.Context, oldName, newName string) error {
	if _, err := q.db.ExecContext(ctx,
		"INSERT INTO lists (name, is_collapsed, sort_order) SELECT ?, is_collapsed, sort_order FROM lists WHERE name = ?",
		newName, oldName); err != nil {
		return fmt.Errorf("rename list %s: %w", oldName, err)
	}
	if _, err := q.db.ExecContext(ctx,
		"UPDATE tasks SET list_name = ? WHERE list_name = ?", newName, oldName); err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, "DELETE FROM lists WHERE name = ?", oldName); err != nil {
		return err
	}
	return nil
}

func (q *Queries) DeleteList(ctx context.Context, name string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM lists WHERE name = ?", name)
	return err
}

func (q *Queries) NextListSortOrder(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := q.db.QueryRowContext(ctx, "SELECT MAX(sort_order) FROM lists").Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64 + 1, nil
}

// --- undo history ---

type HistoryRow struct {
	ID      int64
	Payload string
}

func (q *Queries) AppendHistory(ctx context.Context, stack, payload string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO undo_history (stack, command_payload) VALUES (?, ?)", stack, payload)
	return err
}

func (q *Queries) LoadHistory(ctx context.Context, stack string) ([]HistoryRow, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, command_payload FROM undo_history WHERE stack = ? ORDER BY id", stack)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var r HistoryRow
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) DeleteHistoryRow(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM undo_history WHERE id = ?", id)
	return err
}

func (q *Queries) ClearHistory(ctx context.Context, stack string) error {
	if stack == "" {
		_, err := q.db.ExecContext(ctx, "DELETE FROM undo_history")
		return err
	}
	_, err := q.db.ExecContext(ctx, "DELETE FROM undo_history WHERE stack = ?", stack)
	return err
}

func (q *Queries) EvictHistory(ctx context.Context, stack string, keep int) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM undo_history WHERE stack = ? AND id NOT IN (
			SELECT id FROM undo_history WHERE stack = ? ORDER BY id DESC LIMIT ?
		)`, stack, stack, keep)
	return err
}

// --- meta ---

func (q *Queries) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := q.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (q *Queries) SetMeta(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// CanonicalTaskRows returns a deterministic dump of task state for the undo
// history consistency fingerprint.
func (q *Queries) CanonicalTaskRows(ctx context.Context) ([]string, error) {
	return q.idColumn(ctx, `
		SELECT id || '|' || description || '|' || status || '|' || list_name
			|| '|' || COALESCE(parent_id, '') || '|' || is_trashed
			|| '|' || priority || '|' || COALESCE(due_date, '') || '|' || tags
		FROM tasks ORDER BY id`)
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t           model.Task
		status      string
		dueDate     sql.NullTime
		trashedAt   sql.NullTime
		completedAt sql.NullTime
		parentID    sql.NullString
		tags        string
		priority    int
	)
	err := row.Scan(&t.ID, &t.Description, &status, &t.CreatedAt, &t.ListName,
		&dueDate, &t.DueDateRaw, &priority, &tags, &t.IsTrashed, &trashedAt,
		&t.SortOrder, &completedAt, &parentID)
	if err != nil {
		return model.Task{}, err
	}

	t.Status = model.Status(status)
	t.Priority = model.Priority(priority)
	if dueDate.Valid {
		d := dueDate.Time
		t.DueDate = &d
	}
	if trashedAt.Valid {
		ts := trashedAt.Time
		t.TrashedAt = &ts
	}
	if completedAt.Valid {
		c := completedAt.Time
		t.CompletedAt = &c
	}
	if parentID.Valid {
		p := parentID.String
		t.ParentID = &p
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return model.Task{}, fmt.Errorf("task %s tags: %w", t.ID, err)
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (q *Queries) idColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{})
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		lower := strings.ToLower(strings.TrimSpace(tag))
		if lower == "" {
			continue
		}
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		result = append(result, lower)
	}
	sort.Strings(result)
	return result
}
