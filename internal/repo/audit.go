package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"taskline/internal/domain"
)

type AuditFilters struct {
	Action  string
	ActorID string
	// From and To bound ts inclusively; either may be a date or a timestamp.
	From     string
	To       string
	AfterSeq int64
	Limit    int
}

// ListAudit returns entries newest first.
func (r Repo) ListAudit(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	var clauses []string
	var args []any
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.From != "" {
		clauses = append(clauses, "ts>=?")
		args = append(args, f.From)
	}
	if f.To != "" {
		to := f.To
		if len(to) == len(domain.DateLayout) {
			// A bare date includes the whole day.
			to += "T23:59:59.999999Z"
		}
		clauses = append(clauses, "ts<=?")
		args = append(args, to)
	}
	if f.AfterSeq > 0 {
		clauses = append(clauses, "seq<?")
		args = append(args, f.AfterSeq)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT seq,id,actor_id,action,metadata_json,COALESCE(origin,''),ts FROM audit_entries` + where + ` ORDER BY seq DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var actor sql.NullString
		var meta string
		if err := rows.Scan(&e.Seq, &e.ID, &actor, &e.Action, &meta, &e.Origin, &e.TS); err != nil {
			return nil, err
		}
		e.ActorID = ptrFromNull(actor)
		e.Metadata = map[string]any{}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountAudit counts entries, optionally for one action.
func (r Repo) CountAudit(ctx context.Context, action string) (int, error) {
	query := `SELECT COUNT(*) FROM audit_entries`
	var args []any
	if action != "" {
		query += ` WHERE action=?`
		args = append(args, action)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}
