package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stellarlinkco/taskflow/internal/task"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const reviewerKey = "main_po"

const taskColumns = `id, title, po_id, assignee_id, deadline, status, dependent_on`

// Store persists tasks and the reviewer setting in SQLite.
type Store struct {
	db *sql.DB
}

// Transition describes a compare-and-set status change. Empty Actor or From
// disable the corresponding guard.
type Transition struct {
	TaskID                string
	Actor                 string
	From                  []task.Status
	To                    task.Status
	RequireDependencyDone bool
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			po_id TEXT NOT NULL,
			assignee_id TEXT NOT NULL,
			deadline TEXT NOT NULL,
			status TEXT NOT NULL,
			dependent_on TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_deadline ON tasks(deadline, status)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Reviewer(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, reviewerKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load reviewer: %w", err)
	}
	return v, nil
}

func (s *Store) SetReviewer(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, reviewerKey, userID)
	if err != nil {
		return fmt.Errorf("save reviewer: %w", err)
	}
	return nil
}

// LastID returns the task id with the greatest numeric suffix, or "" when empty.
func (s *Store) LastID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM tasks
		ORDER BY CAST(substr(id, 3) AS INTEGER) DESC, id DESC
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load last task id: %w", err)
	}
	return id, nil
}

// Insert stores a new task. A duplicate id yields task.ErrConflict.
func (s *Store) Insert(ctx context.Context, t task.Task) error {
	if !t.Status.Valid() {
		return fmt.Errorf("insert task %s: %w: status %q", t.ID, task.ErrInvalidInput, t.Status)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Owner, t.Assignee, t.Deadline, string(t.Status), nullable(t.Dependency))
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("insert task %s: %w", t.ID, task.ErrConflict)
		}
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (task.Task, error) {
	return getTask(ctx, s.db, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete task %s: %w", id, task.ErrNotFound)
	}
	return nil
}

// Reassign moves a task to a new assignee and resets it to assigned.
// It returns the updated task and the previous assignee.
func (s *Store) Reassign(ctx context.Context, id, assignee string) (task.Task, string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return task.Task{}, "", fmt.Errorf("begin reassign: %w", err)
	}
	defer tx.Rollback()

	cur, err := getTask(ctx, tx, id)
	if err != nil {
		return task.Task{}, "", err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET assignee_id = ?, status = ? WHERE id = ?`,
		assignee, string(task.StatusAssigned), id); err != nil {
		return task.Task{}, "", fmt.Errorf("reassign task %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return task.Task{}, "", fmt.Errorf("commit reassign: %w", err)
	}

	previous := cur.Assignee
	cur.Assignee = assignee
	cur.Status = task.StatusAssigned
	return cur, previous, nil
}

// Transition applies tr as a single compare-and-set. When the guarded update
// matches no row the cause is reported as NotFound, DependencyNotSatisfied,
// Forbidden, InvalidTransition or Conflict, in that order.
func (s *Store) Transition(ctx context.Context, tr Transition) (task.Task, error) {
	if !tr.To.Valid() {
		return task.Task{}, fmt.Errorf("transition %s: %w: status %q", tr.TaskID, task.ErrInvalidInput, tr.To)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return task.Task{}, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	query, args := transitionQuery(tr)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return task.Task{}, fmt.Errorf("transition %s: %w", tr.TaskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return task.Task{}, fmt.Errorf("transition %s: %w", tr.TaskID, err)
	}
	if n == 0 {
		return task.Task{}, explainRejected(ctx, tx, tr)
	}

	updated, err := getTask(ctx, tx, tr.TaskID)
	if err != nil {
		return task.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return task.Task{}, fmt.Errorf("commit transition: %w", err)
	}
	return updated, nil
}

func transitionQuery(tr Transition) (string, []any) {
	var sb strings.Builder
	args := []any{string(tr.To), tr.TaskID}
	sb.WriteString(`UPDATE tasks SET status = ? WHERE id = ?`)
	if tr.Actor != "" {
		sb.WriteString(` AND assignee_id = ?`)
		args = append(args, tr.Actor)
	}
	if len(tr.From) > 0 {
		sb.WriteString(` AND status IN (`)
		for i, st := range tr.From {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, string(st))
		}
		sb.WriteString(`)`)
	}
	if tr.RequireDependencyDone {
		sb.WriteString(` AND (dependent_on IS NULL OR dependent_on = '' OR EXISTS (
			SELECT 1 FROM tasks dep WHERE dep.id = tasks.dependent_on AND dep.status = ?))`)
		args = append(args, string(task.StatusDone))
	}
	return sb.String(), args
}

func explainRejected(ctx context.Context, q queryer, tr Transition) error {
	cur, err := getTask(ctx, q, tr.TaskID)
	if err != nil {
		return err
	}
	if tr.RequireDependencyDone && cur.HasDependency() {
		dep, err := getTask(ctx, q, cur.Dependency)
		if err != nil && !errors.Is(err, task.ErrNotFound) {
			return err
		}
		if err != nil || dep.Status != task.StatusDone {
			return &task.DependencyError{TaskID: cur.ID, DependencyID: cur.Dependency}
		}
	}
	if tr.Actor != "" && cur.Assignee != tr.Actor {
		return fmt.Errorf("task %s: %w", cur.ID, task.ErrNotAssignee)
	}
	if len(tr.From) > 0 && !containsStatus(tr.From, cur.Status) {
		return &task.TransitionError{TaskID: cur.ID, Current: cur.Status, Target: tr.To}
	}
	return fmt.Errorf("transition %s: %w", cur.ID, task.ErrConflict)
}

// ListOpenByAssignee returns the assignee's tasks that are not done, by id.
func (s *Store) ListOpenByAssignee(ctx context.Context, assignee string) ([]task.Task, error) {
	return s.list(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE assignee_id = ? AND status != ?
		ORDER BY CAST(substr(id, 3) AS INTEGER)`, assignee, string(task.StatusDone))
}

// ListDueOn returns unfinished tasks whose deadline is date (YYYY-MM-DD).
func (s *Store) ListDueOn(ctx context.Context, date string) ([]task.Task, error) {
	return s.list(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE deadline = ? AND status != ?
		ORDER BY CAST(substr(id, 3) AS INTEGER)`, date, string(task.StatusDone))
}

func (s *Store) ListAll(ctx context.Context) ([]task.Task, error) {
	return s.list(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY CAST(substr(id, 3) AS INTEGER)`)
}

// CountByStatus returns the number of tasks per status.
func (s *Store) CountByStatus(ctx context.Context) (map[task.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[task.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[task.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}
	return counts, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

func getTask(ctx context.Context, q queryer, id string) (task.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}
	return t, err
}

func scanTask(r rowScanner) (task.Task, error) {
	var (
		t          task.Task
		status     string
		dependency sql.NullString
	)
	if err := r.Scan(&t.ID, &t.Title, &t.Owner, &t.Assignee, &t.Deadline, &status, &dependency); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return task.Task{}, err
		}
		return task.Task{}, fmt.Errorf("scan task: %w", err)
	}
	st, err := task.ParseStatus(status)
	if err != nil {
		return task.Task{}, fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Status = st
	t.Dependency = dependency.String
	return t, nil
}

func containsStatus(list []task.Status, s task.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
