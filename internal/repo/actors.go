package repo

import (
	"context"
	"database/sql"
	"time"

	"taskline/internal/domain"
)

// EnsureActor creates the actor row if missing.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) GetActor(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	var a domain.Actor
	var name, email, updated sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,display_name,email,created_at,updated_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &name, &email, &a.CreatedAt, &updated)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.DisplayName, a.Email, a.UpdatedAt = name.String, email.String, updated.String
	a.Roles, err = r.ActorRoles(ctx, tx, id)
	return a, err
}

func (r Repo) UpdateActorProfile(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE actors SET display_name=?, email=?, updated_at=? WHERE id=?`,
		nullable(a.DisplayName), nullable(a.Email), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if !affected(res) {
		return ErrNotFound
	}
	return nil
}

// ActorRoles returns the global roles granted to an actor.
func (r Repo) ActorRoles(ctx context.Context, tx *sql.Tx, actorID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

// GrantRole reports false when the actor already held the role.
func (r Repo) GrantRole(ctx context.Context, tx *sql.Tx, actorID, roleID, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role_id, granted_at) VALUES (?,?,?)`, actorID, roleID, now)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

// RevokeRole reports false when the actor did not hold the role.
func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

// RevokeToken records a refresh token id as invalid until it expires. It
// reports false when the id was already revoked.
func (r Repo) RevokeToken(ctx context.Context, tx *sql.Tx, jti, actorID, now string, expiresAt time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO revoked_tokens(jti, actor_id, revoked_at, expires_at) VALUES (?,?,?,?)`,
		jti, actorID, now, domain.FormatTime(expiresAt))
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

func (r Repo) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM revoked_tokens WHERE jti=?`, jti).Scan(&n)
	return n > 0, err
}

// PruneRevokedTokens drops revocations whose tokens have expired anyway.
func (r Repo) PruneRevokedTokens(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
