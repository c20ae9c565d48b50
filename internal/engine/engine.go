package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"taskline/internal/audit"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/engine/graph"
	"taskline/internal/identity"
	"taskline/internal/logging"
	"taskline/internal/repo"
)

// Engine implements every use case. Each mutating call runs in one
// transaction: load -> authorize -> validate -> persist -> audit -> commit.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Recorder
	Policy   auth.Policy
	Identity identity.Service
	Config   *config.Config
	Logger   *log.Logger
	Now      func() time.Time
}

// Caller identifies who is invoking a use case and from where.
type Caller struct {
	Principal auth.Principal
	Origin    string
}

// As is shorthand for a caller with no origin address.
func As(actorID string) Caller {
	return Caller{Principal: auth.Principal{ID: actorID}}
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	accessTTL, _ := cfg.AccessTTL()
	refreshTTL, _ := cfg.RefreshTTL()
	logger := logging.Discard()
	e := Engine{
		DB:     db,
		Repo:   r,
		Audit:  audit.New(cfg.Audit.WriteRetries, logger),
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
		Policy: auth.Policy{
			AllowAnonymousTaskRead: cfg.Auth.AllowAnonymousTaskRead,
			AssigneeFields:         cfg.Tasks.AssigneeFields,
		},
		Identity: identity.Service{
			Issuer:      cfg.Auth.Issuer,
			AccessTTL:   accessTTL,
			RefreshTTL:  refreshTTL,
			Keys:        keyStore{r},
			Revocations: r,
		},
	}
	return e
}

// keyStore reports a missing key the way identity.Service expects.
type keyStore struct{ repo.Repo }

func (k keyStore) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	key, err := k.Repo.GetAPIKeyByHash(ctx, hash)
	if errors.Is(err, repo.ErrNotFound) {
		return key, identity.ErrUnknownKey
	}
	return key, err
}

// WithLogger returns a copy of e logging to l.
func (e Engine) WithLogger(l *log.Logger) Engine {
	e.Logger = l
	e.Audit.Logger = l
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string { return domain.FormatTime(e.now()) }

func (e Engine) today() string { return e.now().UTC().Format(domain.DateLayout) }

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap(err, "", "")
	}
	return tx, nil
}

func (e Engine) commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return wrap(err, "", "")
	}
	return nil
}

// resolve rebuilds p's roles and admin rights from the stored grants and
// the configured admins. Whatever the caller brought is discarded.
func (e Engine) resolve(ctx context.Context, tx *sql.Tx, p auth.Principal) (auth.Principal, error) {
	if !p.Authenticated() {
		return p, nil
	}
	roles, err := e.Repo.ActorRoles(ctx, tx, p.ID)
	if err != nil {
		return p, wrap(err, "actor", p.ID)
	}
	p.Roles = roles
	p.Admin = e.Config != nil && e.Config.IsAdmin(p.ID)
	return p, nil
}

// authorize runs the policy for req with a resolved principal.
func (e Engine) authorize(ctx context.Context, tx *sql.Tx, c Caller, action auth.Action, res auth.Resource, fields ...string) (auth.Principal, error) {
	p, err := e.resolve(ctx, tx, c.Principal)
	if err != nil {
		return p, err
	}
	req := auth.Request{Principal: p, Action: action, Resource: res, Fields: fields}
	if err := e.Policy.Authorize(req).Err(req); err != nil {
		return p, wrap(err, "", "")
	}
	return p, nil
}

// recorder and tokens share the engine clock.
func (e Engine) recorder() audit.Recorder {
	rec := e.Audit
	rec.Now = e.now
	return rec
}

func (e Engine) tokens() identity.Service {
	svc := e.Identity
	svc.Now = e.now
	return svc
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, c Caller, action string, meta map[string]any) error {
	if err := e.recorder().Record(ctx, tx, audit.Entry{ActorID: c.Principal.ID, Action: action, Metadata: meta, Origin: c.Origin}); err != nil {
		return wrap(err, "", "")
	}
	return nil
}

func (e Engine) graph(tx *sql.Tx) graph.Checker {
	return graph.New(repo.GraphSource{Repo: e.Repo, Tx: tx})
}

// ensureActor makes sure an actor row exists for a principal id.
func (e Engine) ensureActor(ctx context.Context, tx *sql.Tx, id string) error {
	if err := e.Repo.EnsureActor(ctx, tx, id, e.stamp()); err != nil {
		return wrap(err, "actor", id)
	}
	return nil
}

func parseDate(v validation, field string, value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	t, err := time.Parse(domain.DateLayout, *value)
	if err != nil {
		v.add(field, "must be a date in YYYY-MM-DD form")
		return nil
	}
	return &t
}

// checkDateOrder validates both dates and that last is not before first.
func checkDateOrder(v validation, firstField string, first *string, lastField string, last *string) {
	a := parseDate(v, firstField, first)
	b := parseDate(v, lastField, last)
	if a != nil && b != nil && b.Before(*a) {
		v.add(lastField, fmt.Sprintf("must not be before %s", firstField))
	}
}

func checkEnum(v validation, field, value string, allowed []string) {
	if !domain.Contains(allowed, value) {
		v.add(field, fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")))
	}
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func uniqueIDs(ids []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
