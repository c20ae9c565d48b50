package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

// AddMember inserts a membership, reporting false when it already existed.
func (r Repo) AddMember(ctx context.Context, tx *sql.Tx, projectID, actorID, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO project_members(project_id,actor_id,added_at) VALUES (?,?,?)`, projectID, actorID, now)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

// RemoveMember deletes a membership, reporting false when there was none.
func (r Repo) RemoveMember(ctx context.Context, tx *sql.Tx, projectID, actorID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND actor_id=?`, projectID, actorID)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

func (r Repo) MemberIDs(ctx context.Context, tx *sql.Tx, projectID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT actor_id FROM project_members WHERE project_id=? ORDER BY added_at, actor_id`, projectID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (r Repo) ListMembers(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Membership, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT project_id, actor_id, added_at FROM project_members WHERE project_id=? ORDER BY added_at, actor_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ProjectID, &m.ActorID, &m.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
