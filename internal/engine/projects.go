package engine

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
)

type ProjectInput struct {
	Name        string
	Description string
	Status      string
	Priority    string
	StartDate   *string
	EndDate     *string
}

// ProjectPatch holds optional changes; nil leaves a field untouched and an
// empty date clears it.
type ProjectPatch struct {
	Name        *string
	Description *string
	Status      *string
	Priority    *string
	StartDate   *string
	EndDate     *string
}

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

func validateProject(p domain.Project) error {
	v := validation{}
	if n := utf8.RuneCountInString(p.Name); n < 3 || n > 200 {
		v.add("name", "must be between 3 and 200 characters")
	}
	checkEnum(v, "status", p.Status, domain.ProjectStatuses)
	checkEnum(v, "priority", p.Priority, domain.Priorities)
	checkDateOrder(v, "start_date", p.StartDate, "end_date", p.EndDate)
	return v.err()
}

// loadProject reads a project inside tx and maps absence to NotFound.
func (e Engine) loadProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, tx, id)
	if err != nil {
		return p, wrap(err, "project", id)
	}
	return p, nil
}

func projectResource(p domain.Project) auth.Project {
	return auth.Project{ID: p.ID, CreatorID: p.CreatedBy, Members: p.Members}
}

// CreateProject stores a new project and then adds its creator as the first
// member.
func (e Engine) CreateProject(ctx context.Context, c Caller, in ProjectInput) (domain.Project, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if _, err := e.authorize(ctx, tx, c, auth.ActionCreate, auth.Project{}); err != nil {
		return domain.Project{}, err
	}
	now := e.stamp()
	p := domain.Project{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		StartDate:   emptyToNil(in.StartDate),
		EndDate:     emptyToNil(in.EndDate),
		CreatedBy:   c.Principal.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Status == "" {
		p.Status = domain.ProjectPlanned
	}
	if p.Priority == "" {
		p.Priority = domain.PriorityMedium
	}
	if err := validateProject(p); err != nil {
		return domain.Project{}, err
	}
	taken, err := e.Repo.ProjectNameTaken(ctx, tx, p.Name, p.CreatedBy, "")
	if err != nil {
		return domain.Project{}, wrap(err, "project", p.Name)
	}
	if taken {
		return domain.Project{}, conflict("project name already used by this creator")
	}
	if err := e.ensureActor(ctx, tx, p.CreatedBy); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, wrap(err, "project", p.Name)
	}
	if _, err := e.Repo.AddMember(ctx, tx, p.ID, p.CreatedBy, now); err != nil {
		return domain.Project{}, wrap(err, "project", p.ID)
	}
	if err := e.record(ctx, tx, c, domain.ActionProjectCreate, map[string]any{"project_id": p.ID, "name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	p.Members = []string{p.CreatedBy}
	if err := e.commit(tx); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, c Caller, id string) (domain.Project, error) {
	p, err := e.loadProject(ctx, nil, id)
	if err != nil {
		return p, err
	}
	if _, err := e.authorize(ctx, nil, c, auth.ActionRead, projectResource(p)); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

type ProjectListOptions struct {
	Status   string
	Priority string
	Member   string
	Limit    int
}

// ListProjects returns the projects the caller created or belongs to.
func (e Engine) ListProjects(ctx context.Context, c Caller, opts ProjectListOptions) ([]domain.Project, error) {
	if !c.Principal.Authenticated() {
		return nil, wrap(auth.UnauthenticatedError{}, "", "")
	}
	v := validation{}
	if opts.Status != "" {
		checkEnum(v, "status", opts.Status, domain.ProjectStatuses)
	}
	if opts.Priority != "" {
		checkEnum(v, "priority", opts.Priority, domain.Priorities)
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
		VisibleTo: c.Principal.ID,
		Status:    opts.Status,
		Priority:  opts.Priority,
		Member:    opts.Member,
		Limit:     opts.Limit,
	})
	if err != nil {
		return nil, wrap(err, "", "")
	}
	return items, nil
}

// mutateProject runs fn against a loaded project after an authorization
// check, then persists and audits the result.
func (e Engine) mutateProject(ctx context.Context, c Caller, id string, action auth.Action, auditAction string, fn func(p *domain.Project) (map[string]any, error)) (domain.Project, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.loadProject(ctx, tx, id)
	if err != nil {
		return p, err
	}
	if _, err := e.authorize(ctx, tx, c, action, projectResource(p)); err != nil {
		return domain.Project{}, err
	}
	meta, err := fn(&p)
	if err != nil {
		return domain.Project{}, err
	}
	if err := validateProject(p); err != nil {
		return domain.Project{}, err
	}
	taken, err := e.Repo.ProjectNameTaken(ctx, tx, p.Name, p.CreatedBy, p.ID)
	if err != nil {
		return domain.Project{}, wrap(err, "project", p.ID)
	}
	if taken {
		return domain.Project{}, conflict("project name already used by this creator")
	}
	p.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return domain.Project{}, wrap(err, "project", p.ID)
	}
	meta["project_id"] = p.ID
	if err := e.record(ctx, tx, c, auditAction, meta); err != nil {
		return domain.Project{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) UpdateProject(ctx context.Context, c Caller, id string, patch ProjectPatch) (domain.Project, error) {
	return e.mutateProject(ctx, c, id, auth.ActionWrite, domain.ActionProjectUpdate, func(p *domain.Project) (map[string]any, error) {
		var changed []string
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
			changed = append(changed, "name")
		}
		if patch.Description != nil {
			p.Description = *patch.Description
			changed = append(changed, "description")
		}
		if patch.Status != nil {
			p.Status = *patch.Status
			changed = append(changed, "status")
		}
		if patch.Priority != nil {
			p.Priority = *patch.Priority
			changed = append(changed, "priority")
		}
		if patch.StartDate != nil {
			p.StartDate = emptyToNil(patch.StartDate)
			changed = append(changed, "start_date")
		}
		if patch.EndDate != nil {
			p.EndDate = emptyToNil(patch.EndDate)
			changed = append(changed, "end_date")
		}
		if len(changed) == 0 {
			return nil, invalid("body", "no changes requested")
		}
		return map[string]any{"fields": changed}, nil
	})
}

// ArchiveProject moves a project to the archived status.
func (e Engine) ArchiveProject(ctx context.Context, c Caller, id string) (domain.Project, error) {
	return e.mutateProject(ctx, c, id, auth.ActionWrite, domain.ActionProjectArchive, func(p *domain.Project) (map[string]any, error) {
		prev := p.Status
		p.Status = domain.ProjectArchived
		return map[string]any{"previous_status": prev}, nil
	})
}

// DeleteProject removes a project with its tasks, labels and memberships.
func (e Engine) DeleteProject(ctx context.Context, c Caller, id string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.loadProject(ctx, tx, id)
	if err != nil {
		return err
	}
	if _, err := e.authorize(ctx, tx, c, auth.ActionDelete, projectResource(p)); err != nil {
		return err
	}
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return wrap(err, "project", id)
	}
	if err := e.record(ctx, tx, c, domain.ActionProjectDelete, map[string]any{"project_id": id, "name": p.Name}); err != nil {
		return err
	}
	return e.commit(tx)
}

// MembershipChange reports what a member call actually changed.
type MembershipChange struct {
	Changed   []string `json:"changed"`
	Unchanged []string `json:"unchanged"`
	Members   []string `json:"members"`
}

// AddMembers adds actors to a project. Existing members are reported as unchanged.
func (e Engine) AddMembers(ctx context.Context, c Caller, projectID string, actorIDs []string) (MembershipChange, error) {
	return e.changeMembers(ctx, c, projectID, actorIDs, true)
}

// RemoveMembers removes actors from a project. The creator is never removed
// and is reported as unchanged.
func (e Engine) RemoveMembers(ctx context.Context, c Caller, projectID string, actorIDs []string) (MembershipChange, error) {
	return e.changeMembers(ctx, c, projectID, actorIDs, false)
}

func (e Engine) changeMembers(ctx context.Context, c Caller, projectID string, actorIDs []string, add bool) (MembershipChange, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return MembershipChange{}, err
	}
	defer tx.Rollback()

	p, err := e.loadProject(ctx, tx, projectID)
	if err != nil {
		return MembershipChange{}, err
	}
	if _, err := e.authorize(ctx, tx, c, auth.ActionManageMembers, projectResource(p)); err != nil {
		return MembershipChange{}, err
	}
	ids := uniqueIDs(actorIDs)
	if len(ids) == 0 {
		return MembershipChange{}, invalid("actor_ids", "at least one actor id is required")
	}
	res := MembershipChange{Changed: []string{}, Unchanged: []string{}}
	now := e.stamp()
	for _, id := range ids {
		var changed bool
		if add {
			if err := e.ensureActor(ctx, tx, id); err != nil {
				return MembershipChange{}, err
			}
			changed, err = e.Repo.AddMember(ctx, tx, projectID, id, now)
		} else if id != p.CreatedBy {
			changed, err = e.Repo.RemoveMember(ctx, tx, projectID, id)
		}
		if err != nil {
			return MembershipChange{}, wrap(err, "project", projectID)
		}
		if changed {
			res.Changed = append(res.Changed, id)
		} else {
			res.Unchanged = append(res.Unchanged, id)
		}
	}
	action, key := domain.ActionMemberAdd, "added"
	if !add {
		action, key = domain.ActionMemberRemove, "removed"
	}
	if err := e.record(ctx, tx, c, action, map[string]any{"project_id": projectID, key: res.Changed}); err != nil {
		return MembershipChange{}, err
	}
	if res.Members, err = e.Repo.MemberIDs(ctx, tx, projectID); err != nil {
		return MembershipChange{}, wrap(err, "project", projectID)
	}
	if err := e.commit(tx); err != nil {
		return MembershipChange{}, err
	}
	return res, nil
}

func (e Engine) ListMembers(ctx context.Context, c Caller, projectID string) ([]domain.Membership, error) {
	p, err := e.GetProject(ctx, c, projectID)
	if err != nil {
		return nil, err
	}
	items, err := e.Repo.ListMembers(ctx, nil, p.ID)
	if err != nil {
		return nil, wrap(err, "project", projectID)
	}
	return items, nil
}

type LabelInput struct {
	Name  string
	Color string
}

func (e Engine) CreateLabel(ctx context.Context, c Caller, projectID string, in LabelInput) (domain.Label, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Label{}, err
	}
	defer tx.Rollback()

	p, err := e.loadProject(ctx, tx, projectID)
	if err != nil {
		return domain.Label{}, err
	}
	if _, err := e.authorize(ctx, tx, c, auth.ActionWrite, projectResource(p)); err != nil {
		return domain.Label{}, err
	}
	l := domain.Label{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      strings.TrimSpace(in.Name),
		Color:     in.Color,
		CreatedAt: e.stamp(),
	}
	if l.Color == "" {
		l.Color = domain.DefaultLabelColor
	}
	v := validation{}
	if n := utf8.RuneCountInString(l.Name); n < 2 || n > 50 {
		v.add("name", "must be between 2 and 50 characters")
	}
	if !colorPattern.MatchString(l.Color) {
		v.add("color", "must be a hex color like #1A2B3C")
	}
	if err := v.err(); err != nil {
		return domain.Label{}, err
	}
	if err := e.Repo.InsertLabel(ctx, tx, l); err != nil {
		return domain.Label{}, wrap(err, "label "+l.Name, "")
	}
	if err := e.record(ctx, tx, c, domain.ActionLabelCreate, map[string]any{"project_id": projectID, "label_id": l.ID, "name": l.Name}); err != nil {
		return domain.Label{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.Label{}, err
	}
	return l, nil
}

func (e Engine) DeleteLabel(ctx context.Context, c Caller, projectID, labelID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.loadProject(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if _, err := e.authorize(ctx, tx, c, auth.ActionWrite, projectResource(p)); err != nil {
		return err
	}
	l, err := e.Repo.GetLabel(ctx, tx, labelID)
	if err != nil {
		return wrap(err, "label", labelID)
	}
	if l.ProjectID != projectID {
		return notFound("label", labelID)
	}
	if err := e.Repo.DeleteLabel(ctx, tx, labelID); err != nil {
		return wrap(err, "label", labelID)
	}
	if err := e.record(ctx, tx, c, domain.ActionLabelDelete, map[string]any{"project_id": projectID, "label_id": labelID, "name": l.Name}); err != nil {
		return err
	}
	return e.commit(tx)
}

func (e Engine) ListLabels(ctx context.Context, c Caller, projectID string) ([]domain.Label, error) {
	if _, err := e.GetProject(ctx, c, projectID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListLabels(ctx, projectID)
	if err != nil {
		return nil, wrap(err, "project", projectID)
	}
	return items, nil
}
