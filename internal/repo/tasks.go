package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskline/internal/domain"
)

const taskColumns = `id,project_id,parent_id,title,COALESCE(description,''),status,priority,start_date,due_date,completion,created_by,created_at,updated_at,completed_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var parent, start, due, completed sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &parent, &t.Title, &t.Description, &t.Status, &t.Priority,
		&start, &due, &t.Completion, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ParentID = ptrFromNull(parent)
	t.StartDate = ptrFromNull(start)
	t.DueDate = ptrFromNull(due)
	t.CompletedAt = ptrFromNull(completed)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,project_id,parent_id,title,description,status,priority,start_date,due_date,completion,created_by,created_at,updated_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.ParentID), t.Title, nullable(t.Description), t.Status, t.Priority,
		nullableStringPtr(t.StartDate), nullableStringPtr(t.DueDate), t.Completion, t.CreatedBy, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return mapWriteErr(err)
}

// UpdateTask rewrites the mutable columns of t. Project and creator never change.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET parent_id=?,title=?,description=?,status=?,priority=?,start_date=?,due_date=?,completion=?,updated_at=?,completed_at=? WHERE id=?`,
		nullableStringPtr(t.ParentID), t.Title, nullable(t.Description), t.Status, t.Priority,
		nullableStringPtr(t.StartDate), nullableStringPtr(t.DueDate), t.Completion, t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	if !affected(res) {
		return ErrNotFound
	}
	return nil
}

// GetTask loads a task with its assignees and direct dependencies.
func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	if t.Assignees, err = r.Assignees(ctx, tx, id); err != nil {
		return t, err
	}
	t.DependsOn, err = r.Dependencies(ctx, tx, id)
	return t, err
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if !affected(res) {
		return ErrNotFound
	}
	return nil
}

func (r Repo) Children(ctx context.Context, tx *sql.Tx, id string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id FROM tasks WHERE parent_id=? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

type TaskFilters struct {
	// VisibleTo limits rows to tasks in the actor's projects, or tasks the
	// actor created or is assigned to.
	VisibleTo  string
	// Involving limits rows to tasks the actor created or is assigned to.
	Involving  string
	ProjectID  string
	Status     string
	Priority   string
	AssigneeID string
	ParentID   string
	DueOn      string
	DueBefore  string
	// OpenOnly keeps tasks whose status is in this set.
	OpenOnly []string
	Limit    int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.VisibleTo != "" {
		clauses = append(clauses, `(project_id IN (SELECT project_id FROM project_members WHERE actor_id=?)
 OR created_by=?
 OR EXISTS (SELECT 1 FROM task_assignees a WHERE a.task_id=tasks.id AND a.actor_id=?))`)
		args = append(args, f.VisibleTo, f.VisibleTo, f.VisibleTo)
	}
	if f.Involving != "" {
		clauses = append(clauses, `(created_by=?
 OR EXISTS (SELECT 1 FROM task_assignees a WHERE a.task_id=tasks.id AND a.actor_id=?))`)
		args = append(args, f.Involving, f.Involving)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM task_assignees a2 WHERE a2.task_id=tasks.id AND a2.actor_id=?)")
		args = append(args, f.AssigneeID)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	}
	if f.DueOn != "" {
		clauses = append(clauses, "due_date=?")
		args = append(args, f.DueOn)
	}
	if f.DueBefore != "" {
		clauses = append(clauses, "due_date IS NOT NULL AND due_date<?")
		args = append(args, f.DueBefore)
	}
	if len(f.OpenOnly) > 0 {
		clauses = append(clauses, "status IN ("+strings.TrimSuffix(strings.Repeat("?,", len(f.OpenOnly)), ",")+")")
		for _, s := range f.OpenOnly {
			args = append(args, s)
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Assignees, err = r.Assignees(ctx, nil, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Assignees returns the actors assigned to a task.
func (r Repo) Assignees(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT actor_id FROM task_assignees WHERE task_id=? ORDER BY assigned_at, actor_id`, taskID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

// Assign adds an assignee, reporting false when already assigned.
func (r Repo) Assign(ctx context.Context, tx *sql.Tx, taskID, actorID, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO task_assignees(task_id,actor_id,assigned_at) VALUES (?,?,?)`, taskID, actorID, now)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

// Unassign removes an assignee, reporting false when not assigned.
func (r Repo) Unassign(ctx context.Context, tx *sql.Tx, taskID, actorID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id=? AND actor_id=?`, taskID, actorID)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}
