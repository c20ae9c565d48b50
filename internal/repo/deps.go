package repo

import (
	"context"
	"database/sql"

	"taskline/internal/engine/graph"
)

// Dependencies returns the ids taskID directly depends on.
func (r Repo) Dependencies(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT depends_on_task_id FROM task_deps WHERE task_id=? ORDER BY created_at, depends_on_task_id`, taskID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

// AddDependency inserts the edge taskID -> dependsOn, reporting false when it
// already existed.
func (r Repo) AddDependency(ctx context.Context, tx *sql.Tx, taskID, dependsOn, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id,depends_on_task_id,created_at) VALUES (?,?,?)`, taskID, dependsOn, now)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

// RemoveDependency deletes the edge, reporting false when it did not exist.
func (r Repo) RemoveDependency(ctx context.Context, tx *sql.Tx, taskID, dependsOn string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM task_deps WHERE task_id=? AND depends_on_task_id=?`, taskID, dependsOn)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

// GraphSource adapts the task tables to graph.Source within one transaction.
type GraphSource struct {
	Repo Repo
	Tx   *sql.Tx
}

func (s GraphSource) Node(ctx context.Context, id string) (graph.Node, error) {
	var n graph.Node
	var parent sql.NullString
	err := s.Repo.q(s.Tx).QueryRowContext(ctx, `SELECT id,project_id,parent_id,completion FROM tasks WHERE id=?`, id).
		Scan(&n.ID, &n.ProjectID, &parent, &n.Completion)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	n.ParentID = parent.String
	return n, err
}

func (s GraphSource) Dependencies(ctx context.Context, id string) ([]string, error) {
	return s.Repo.Dependencies(ctx, s.Tx, id)
}

func (s GraphSource) Children(ctx context.Context, id string) ([]string, error) {
	return s.Repo.Children(ctx, s.Tx, id)
}
