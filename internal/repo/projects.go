package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskline/internal/domain"
)

const projectColumns = `id,name,COALESCE(description,''),status,priority,start_date,end_date,created_by,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var start, end sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.Priority, &start, &end, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.StartDate = ptrFromNull(start)
	p.EndDate = ptrFromNull(end)
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,name,description,status,priority,start_date,end_date,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.Status, p.Priority, nullableStringPtr(p.StartDate), nullableStringPtr(p.EndDate), p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err)
}

// UpdateProject rewrites the mutable columns of p.
func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET name=?,description=?,status=?,priority=?,start_date=?,end_date=?,updated_at=? WHERE id=?`,
		p.Name, nullable(p.Description), p.Status, p.Priority, nullableStringPtr(p.StartDate), nullableStringPtr(p.EndDate), p.UpdatedAt, p.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	if !affected(res) {
		return ErrNotFound
	}
	return nil
}

// GetProject loads a project with its member ids.
func (r Repo) GetProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	p.Members, err = r.MemberIDs(ctx, tx, id)
	return p, err
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if !affected(res) {
		return ErrNotFound
	}
	return nil
}

// ProjectNameTaken reports whether createdBy already owns a project called
// name, ignoring excludeID.
func (r Repo) ProjectNameTaken(ctx context.Context, tx *sql.Tx, name, createdBy, excludeID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE name=? AND created_by=? AND id!=?`, name, createdBy, excludeID).Scan(&n)
	return n > 0, err
}

type ProjectFilters struct {
	// VisibleTo limits rows to projects the actor created or belongs to.
	VisibleTo string
	Status    string
	Priority  string
	Member    string
	Limit     int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.VisibleTo != "" {
		clauses = append(clauses, "(created_by=? OR EXISTS (SELECT 1 FROM project_members m WHERE m.project_id=projects.id AND m.actor_id=?))")
		args = append(args, f.VisibleTo, f.VisibleTo)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.Member != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM project_members m2 WHERE m2.project_id=projects.id AND m2.actor_id=?)")
		args = append(args, f.Member)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
