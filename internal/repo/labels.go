package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

func (r Repo) InsertLabel(ctx context.Context, tx *sql.Tx, l domain.Label) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO project_labels(id,project_id,name,color,created_at) VALUES (?,?,?,?,?)`,
		l.ID, l.ProjectID, l.Name, l.Color, l.CreatedAt)
	return mapWriteErr(err)
}

func (r Repo) GetLabel(ctx context.Context, tx *sql.Tx, id string) (domain.Label, error) {
	var l domain.Label
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,project_id,name,color,created_at FROM project_labels WHERE id=?`, id).
		Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) DeleteLabel(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM project_labels WHERE id=?`, id)
	if err != nil {
		return err
	}
	if !affected(res) {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListLabels(ctx context.Context, projectID string) ([]domain.Label, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,color,created_at FROM project_labels WHERE project_id=? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Label
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
