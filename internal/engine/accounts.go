package engine

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"taskline/internal/audit"
	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/identity"
	"taskline/internal/repo"
)

type AuditListOptions struct {
	Action   string
	ActorID  string
	From     string
	To       string
	AfterSeq int64
	Limit    int
}

func validBound(s string) bool {
	if _, err := time.Parse(domain.DateLayout, s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339Nano, s)
	return err == nil
}

// ListAudit returns audit entries newest first. Only administrators may read
// the trail.
func (e Engine) ListAudit(ctx context.Context, c Caller, opts AuditListOptions) ([]domain.AuditEntry, error) {
	if _, err := e.authorize(ctx, nil, c, auth.ActionRead, auth.AuditLog{}); err != nil {
		return nil, err
	}
	v := validation{}
	if opts.Action != "" && !domain.Contains(domain.AuditActions, opts.Action) {
		v.add("action", "unknown audit action")
	}
	if opts.From != "" && !validBound(opts.From) {
		v.add("from", "must be a date or RFC 3339 timestamp")
	}
	if opts.To != "" && !validBound(opts.To) {
		v.add("to", "must be a date or RFC 3339 timestamp")
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListAudit(ctx, repo.AuditFilters{
		Action:   opts.Action,
		ActorID:  opts.ActorID,
		From:     opts.From,
		To:       opts.To,
		AfterSeq: opts.AfterSeq,
		Limit:    opts.Limit,
	})
	if err != nil {
		return nil, wrap(err, "", "")
	}
	return items, nil
}

// AuditActions lists every action the trail can contain.
func (e Engine) AuditActions() []string {
	return append([]string(nil), domain.AuditActions...)
}

// GrantRole gives actorID a role from the configured catalog.
func (e Engine) GrantRole(ctx context.Context, c Caller, actorID, role string) (bool, error) {
	return e.changeRole(ctx, c, actorID, role, true)
}

// RevokeRole takes a role away from actorID.
func (e Engine) RevokeRole(ctx context.Context, c Caller, actorID, role string) (bool, error) {
	return e.changeRole(ctx, c, actorID, role, false)
}

func (e Engine) changeRole(ctx context.Context, c Caller, actorID, role string, grant bool) (bool, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, c, auth.ActionManageRoles, auth.RoleAdmin{}); err != nil {
		return false, err
	}
	v := validation{}
	actorID, role = strings.TrimSpace(actorID), strings.TrimSpace(role)
	if actorID == "" {
		v.add("actor_id", "is required")
	}
	if e.Config == nil || !e.Config.HasRole(role) {
		v.add("role", "unknown role")
	}
	if err := v.err(); err != nil {
		return false, err
	}
	var changed bool
	if grant {
		if err := e.ensureActor(ctx, tx, actorID); err != nil {
			return false, err
		}
		changed, err = e.Repo.GrantRole(ctx, tx, actorID, role, e.stamp())
	} else {
		changed, err = e.Repo.RevokeRole(ctx, tx, actorID, role)
	}
	if err != nil {
		return false, wrap(err, "actor", actorID)
	}
	meta := map[string]any{"actor_id": actorID, "role": role, "granted": grant, "changed": changed}
	if err := e.record(ctx, tx, c, domain.ActionRoleUpdate, meta); err != nil {
		return false, err
	}
	if err := e.commit(tx); err != nil {
		return false, err
	}
	return changed, nil
}

func (e Engine) GetProfile(ctx context.Context, c Caller, actorID string) (domain.Actor, error) {
	if _, err := e.authorize(ctx, nil, c, auth.ActionRead, auth.Profile{OwnerID: actorID}); err != nil {
		return domain.Actor{}, err
	}
	a, err := e.Repo.GetActor(ctx, nil, actorID)
	if err != nil {
		return a, wrap(err, "actor", actorID)
	}
	return a, nil
}

type ProfilePatch struct {
	DisplayName *string
	Email       *string
}

// UpdateProfile edits an actor's display name or email. Actors edit their own
// profile; administrators may edit any existing one.
func (e Engine) UpdateProfile(ctx context.Context, c Caller, actorID string, patch ProfilePatch) (domain.Actor, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, c, auth.ActionWrite, auth.Profile{OwnerID: actorID}); err != nil {
		return domain.Actor{}, err
	}
	if actorID == c.Principal.ID {
		if err := e.ensureActor(ctx, tx, actorID); err != nil {
			return domain.Actor{}, err
		}
	}
	a, err := e.Repo.GetActor(ctx, tx, actorID)
	if err != nil {
		return a, wrap(err, "actor", actorID)
	}
	v := validation{}
	var fields []string
	if patch.DisplayName != nil {
		a.DisplayName = strings.TrimSpace(*patch.DisplayName)
		if utf8.RuneCountInString(a.DisplayName) > 100 {
			v.add("display_name", "must be at most 100 characters")
		}
		fields = append(fields, "display_name")
	}
	if patch.Email != nil {
		a.Email = strings.TrimSpace(*patch.Email)
		if a.Email != "" {
			if addr, err := mail.ParseAddress(a.Email); err != nil || addr.Address != a.Email {
				v.add("email", "must be a valid email address")
			}
		}
		fields = append(fields, "email")
	}
	if len(fields) == 0 {
		v.add("body", "no changes requested")
	}
	if err := v.err(); err != nil {
		return domain.Actor{}, err
	}
	a.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateActorProfile(ctx, tx, a); err != nil {
		return domain.Actor{}, wrap(err, "actor", actorID)
	}
	if err := e.record(ctx, tx, c, domain.ActionProfileUpdate, map[string]any{"actor_id": actorID, "fields": fields}); err != nil {
		return domain.Actor{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// CreatedKey carries the plaintext key, which is only available at creation.
type CreatedKey struct {
	domain.APIKey
	Key string `json:"key"`
}

// CreateAPIKey issues a new API key for actorID.
func (e Engine) CreateAPIKey(ctx context.Context, c Caller, actorID, name string) (CreatedKey, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return CreatedKey{}, err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, c, auth.ActionWrite, auth.Profile{OwnerID: actorID}); err != nil {
		return CreatedKey{}, err
	}
	if strings.TrimSpace(actorID) == "" {
		return CreatedKey{}, invalid("actor_id", "is required")
	}
	if err := e.ensureActor(ctx, tx, actorID); err != nil {
		return CreatedKey{}, err
	}
	raw, err := identity.NewKey()
	if err != nil {
		return CreatedKey{}, &Error{Kind: KindUpstreamFailure, Message: "key generation failed", Err: err}
	}
	k := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   identity.HashKey(raw),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, k); err != nil {
		return CreatedKey{}, wrap(err, "api key", k.ID)
	}
	if err := e.record(ctx, tx, c, domain.ActionAPIKeyCreate, map[string]any{"actor_id": actorID, "key_id": k.ID, "name": k.Name}); err != nil {
		return CreatedKey{}, err
	}
	if err := e.commit(tx); err != nil {
		return CreatedKey{}, err
	}
	return CreatedKey{APIKey: k, Key: raw}, nil
}

// ListAPIKeys returns actorID's keys without their secrets.
func (e Engine) ListAPIKeys(ctx context.Context, c Caller, actorID string) ([]domain.APIKey, error) {
	if _, err := e.authorize(ctx, nil, c, auth.ActionWrite, auth.Profile{OwnerID: actorID}); err != nil {
		return nil, err
	}
	keys, err := e.Repo.ListAPIKeys(ctx, actorID)
	if err != nil {
		return nil, wrap(err, "actor", actorID)
	}
	return keys, nil
}

// RevokeAPIKey deletes one of actorID's keys. Tokens already issued from it
// stay valid until they expire.
func (e Engine) RevokeAPIKey(ctx context.Context, c Caller, actorID, keyID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, c, auth.ActionWrite, auth.Profile{OwnerID: actorID}); err != nil {
		return err
	}
	if err := e.Repo.DeleteAPIKey(ctx, tx, keyID, actorID); err != nil {
		return wrap(err, "api key", keyID)
	}
	if err := e.record(ctx, tx, c, domain.ActionAPIKeyRevoke, map[string]any{"actor_id": actorID, "key_id": keyID}); err != nil {
		return err
	}
	return e.commit(tx)
}

func credentialError(err error) error {
	if errors.Is(err, identity.ErrSecretMissing) {
		return &Error{Kind: KindUpstreamFailure, Message: "token signing unavailable", Err: err}
	}
	if errors.Is(err, identity.ErrInvalidCredentials) || errors.Is(err, identity.ErrTokenRevoked) {
		return &Error{Kind: KindUnauthorized, Message: "invalid credentials", Anonymous: true, Err: err}
	}
	return wrap(err, "", "")
}

// AuthenticateKey resolves an API key to its principal.
func (e Engine) AuthenticateKey(ctx context.Context, key string) (auth.Principal, error) {
	p, err := e.tokens().Authenticate(ctx, key)
	if err != nil {
		return p, credentialError(err)
	}
	return p, nil
}

// VerifyAccess resolves a bearer access token to its principal.
func (e Engine) VerifyAccess(token string) (auth.Principal, error) {
	p, err := e.tokens().Verify(token)
	if err != nil {
		return p, credentialError(err)
	}
	return p, nil
}

// Login exchanges an API key for an access/refresh token pair. A failed
// login audit write is logged and does not block the login.
func (e Engine) Login(ctx context.Context, apiKey, origin string) (identity.Tokens, error) {
	p, err := e.AuthenticateKey(ctx, apiKey)
	if err != nil {
		return identity.Tokens{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return identity.Tokens{}, err
	}
	defer tx.Rollback()

	if p, err = e.resolve(ctx, tx, p); err != nil {
		return identity.Tokens{}, err
	}
	tokens, err := e.tokens().Issue(p)
	if err != nil {
		return identity.Tokens{}, credentialError(err)
	}
	e.recorder().RecordTolerant(ctx, tx, audit.Entry{ActorID: p.ID, Action: domain.ActionLogin, Metadata: map[string]any{"method": "api_key"}, Origin: origin})
	if err := tx.Commit(); err != nil {
		e.Logger.Error("login audit commit failed", "actor", p.ID, "err", err)
	}
	return tokens, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair issued. No audit entry is written.
func (e Engine) Refresh(ctx context.Context, refreshToken string) (identity.Tokens, error) {
	claims, err := e.tokens().VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return identity.Tokens{}, credentialError(err)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return identity.Tokens{}, err
	}
	defer tx.Rollback()

	fresh, err := e.Repo.RevokeToken(ctx, tx, claims.ID, claims.Subject, e.stamp(), claims.ExpiresAt)
	if err != nil {
		return identity.Tokens{}, wrap(err, "token", claims.ID)
	}
	if !fresh {
		return identity.Tokens{}, credentialError(identity.ErrTokenRevoked)
	}
	p, err := e.resolve(ctx, tx, auth.Principal{ID: claims.Subject})
	if err != nil {
		return identity.Tokens{}, err
	}
	tokens, err := e.tokens().Issue(p)
	if err != nil {
		return identity.Tokens{}, credentialError(err)
	}
	if err := e.commit(tx); err != nil {
		return identity.Tokens{}, err
	}
	return tokens, nil
}

// Logout revokes a refresh token. The logout audit entry is best effort.
func (e Engine) Logout(ctx context.Context, refreshToken, origin string) error {
	claims, err := e.tokens().VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return credentialError(err)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.RevokeToken(ctx, tx, claims.ID, claims.Subject, e.stamp(), claims.ExpiresAt); err != nil {
		return wrap(err, "token", claims.ID)
	}
	e.recorder().RecordTolerant(ctx, tx, audit.Entry{ActorID: claims.Subject, Action: domain.ActionLogout, Origin: origin})
	return e.commit(tx)
}

// PruneRevocations forgets revoked refresh tokens that have expired; an
// expired token fails verification on its own.
func (e Engine) PruneRevocations(ctx context.Context) (int64, error) {
	n, err := e.Repo.PruneRevokedTokens(ctx, e.stamp())
	if err != nil {
		return 0, wrap(err, "", "")
	}
	return n, nil
}
