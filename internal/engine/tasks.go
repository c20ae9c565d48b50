package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/engine/graph"
	"taskline/internal/repo"
)

type TaskInput struct {
	ProjectID   string
	ParentID    *string
	Title       string
	Description string
	Status      string
	Priority    string
	StartDate   *string
	DueDate     *string
	Completion  *int
	Assignees   []string
	DependsOn   []string
}

// TaskPatch holds optional changes. An empty ParentID or date clears it.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	StartDate   *string
	DueDate     *string
	Completion  *int
	ParentID    *string
}

// fields lists the task attributes the patch touches.
func (p TaskPatch) fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.Title != nil, "title")
	add(p.Description != nil, "description")
	add(p.Status != nil, "status")
	add(p.Priority != nil, "priority")
	add(p.StartDate != nil, "start_date")
	add(p.DueDate != nil, "due_date")
	add(p.Completion != nil, "completion_percentage")
	add(p.ParentID != nil, "parent_id")
	return out
}

// openStatuses are the statuses a task can be overdue in.
var openStatuses = []string{domain.TaskTodo, domain.TaskInProgress, domain.TaskInReview}

func isOverdue(t domain.Task, today string) bool {
	return t.DueDate != nil && *t.DueDate < today && domain.Contains(openStatuses, t.Status)
}

func validateTask(t domain.Task) error {
	v := validation{}
	if t.Title == "" {
		v.add("title", "is required")
	} else if utf8.RuneCountInString(t.Title) > 255 {
		v.add("title", "must be at most 255 characters")
	}
	checkEnum(v, "status", t.Status, domain.TaskStatuses)
	checkEnum(v, "priority", t.Priority, domain.Priorities)
	if t.Completion < 0 || t.Completion > 100 {
		v.add("completion_percentage", "must be between 0 and 100")
	}
	checkDateOrder(v, "start_date", t.StartDate, "due_date", t.DueDate)
	return v.err()
}

func (e Engine) loadTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return t, wrap(err, "task", id)
	}
	return t, nil
}

func (e Engine) taskResource(ctx context.Context, tx *sql.Tx, t domain.Task) (auth.Task, error) {
	members, err := e.Repo.MemberIDs(ctx, tx, t.ProjectID)
	if err != nil {
		return auth.Task{}, wrap(err, "project", t.ProjectID)
	}
	return auth.Task{
		ID:             t.ID,
		ProjectID:      t.ProjectID,
		CreatorID:      t.CreatedBy,
		ProjectMembers: members,
		Assignees:      t.Assignees,
	}, nil
}

// node loads id as a graph node; absence is reported against field.
func (e Engine) node(ctx context.Context, tx *sql.Tx, field, id string) (graph.Node, error) {
	n, err := repo.GraphSource{Repo: e.Repo, Tx: tx}.Node(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return n, invalid(field, "task "+id+" not found")
	}
	if err != nil {
		return n, wrap(err, "task", id)
	}
	return n, nil
}

func (e Engine) checkParent(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if t.ParentID == nil {
		return nil
	}
	parent, err := e.node(ctx, tx, "parent_id", *t.ParentID)
	if err != nil {
		return err
	}
	self := graph.Node{ID: t.ID, ProjectID: t.ProjectID}
	return wrap(e.graph(tx).CheckParent(ctx, self, parent), "task", t.ID)
}

// CreateTask stores a task in a project the caller belongs to, with optional
// initial assignees and dependencies.
func (e Engine) CreateTask(ctx context.Context, c Caller, in TaskInput) (domain.Task, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if strings.TrimSpace(in.ProjectID) == "" {
		return domain.Task{}, invalid("project_id", "is required")
	}
	p, err := e.loadProject(ctx, tx, in.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	scope := auth.ProjectScope{ProjectID: p.ID, CreatorID: p.CreatedBy, Members: p.Members}
	if _, err := e.authorize(ctx, tx, c, auth.ActionCreate, scope); err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	t := domain.Task{
		ID:          uuid.NewString(),
		ProjectID:   p.ID,
		ParentID:    emptyToNil(in.ParentID),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		StartDate:   emptyToNil(in.StartDate),
		DueDate:     emptyToNil(in.DueDate),
		CreatedBy:   c.Principal.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Status == "" {
		t.Status = domain.TaskTodo
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if in.Completion != nil {
		t.Completion = *in.Completion
	}
	applyStatus(&t, "", e.today(), now)
	if err := validateTask(t); err != nil {
		return domain.Task{}, err
	}
	if err := e.checkParent(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.ensureActor(ctx, tx, t.CreatedBy); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, wrap(err, "task", t.ID)
	}
	for _, id := range uniqueIDs(in.Assignees) {
		if err := e.ensureActor(ctx, tx, id); err != nil {
			return domain.Task{}, err
		}
		if _, err := e.Repo.Assign(ctx, tx, t.ID, id, now); err != nil {
			return domain.Task{}, wrap(err, "task", t.ID)
		}
	}
	self := graph.Node{ID: t.ID, ProjectID: t.ProjectID}
	for _, id := range uniqueIDs(in.DependsOn) {
		dep, err := e.node(ctx, tx, "depends_on", id)
		if err != nil {
			return domain.Task{}, err
		}
		if err := e.graph(tx).CheckDependency(ctx, self, dep); err != nil {
			return domain.Task{}, wrap(err, "task", t.ID)
		}
		if _, err := e.Repo.AddDependency(ctx, tx, t.ID, id, now); err != nil {
			return domain.Task{}, wrap(err, "task", t.ID)
		}
	}
	if err := e.record(ctx, tx, c, domain.ActionTaskCreate, map[string]any{"task_id": t.ID, "project_id": t.ProjectID, "title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if t, err = e.loadTask(ctx, tx, t.ID); err != nil {
		return domain.Task{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.Task{}, err
	}
	t.Overdue = isOverdue(t, e.today())
	return t, nil
}

// GetTask reads a task. Anonymous callers succeed only when anonymous task
// reads are enabled.
func (e Engine) GetTask(ctx context.Context, c Caller, id string) (domain.Task, error) {
	t, err := e.loadTask(ctx, nil, id)
	if err != nil {
		return t, err
	}
	res, err := e.taskResource(ctx, nil, t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.authorize(ctx, nil, c, auth.ActionRead, res); err != nil {
		return domain.Task{}, err
	}
	t.Overdue = isOverdue(t, e.today())
	return t, nil
}

type TaskListOptions struct {
	ProjectID  string
	Status     string
	Priority   string
	AssigneeID string
	ParentID   string
	DueOn      string
	DueBefore  string
	Limit      int
}

// ListTasks returns tasks in the caller's projects, plus tasks they created
// or are assigned to. Anonymous callers see every task when anonymous task
// reads are enabled.
func (e Engine) ListTasks(ctx context.Context, c Caller, opts TaskListOptions) ([]domain.Task, error) {
	if !c.Principal.Authenticated() && !e.Policy.AllowAnonymousTaskRead {
		return nil, wrap(auth.UnauthenticatedError{}, "", "")
	}
	v := validation{}
	if opts.Status != "" {
		checkEnum(v, "status", opts.Status, domain.TaskStatuses)
	}
	if opts.Priority != "" {
		checkEnum(v, "priority", opts.Priority, domain.Priorities)
	}
	parseDate(v, "due_on", &opts.DueOn)
	parseDate(v, "due_before", &opts.DueBefore)
	if err := v.err(); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
		VisibleTo:  c.Principal.ID,
		ProjectID:  opts.ProjectID,
		Status:     opts.Status,
		Priority:   opts.Priority,
		AssigneeID: opts.AssigneeID,
		ParentID:   opts.ParentID,
		DueOn:      opts.DueOn,
		DueBefore:  opts.DueBefore,
		Limit:      opts.Limit,
	})
	if err != nil {
		return nil, wrap(err, "", "")
	}
	today := e.today()
	for i := range items {
		items[i].Overdue = isOverdue(items[i], today)
	}
	return items, nil
}

// UpdateTask applies a patch. Assignees who are not members may only touch
// the configured assignee fields.
func (e Engine) UpdateTask(ctx context.Context, c Caller, id string, patch TaskPatch) (domain.Task, error) {
	fields := patch.fields()
	if len(fields) == 0 {
		return domain.Task{}, invalid("body", "no changes requested")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id)
	if err != nil {
		return t, err
	}
	res, err := e.taskResource(ctx, tx, t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.authorize(ctx, tx, c, auth.ActionWrite, res, fields...); err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	prev := t.Status
	if patch.Title != nil {
		t.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.StartDate != nil {
		t.StartDate = emptyToNil(patch.StartDate)
	}
	if patch.DueDate != nil {
		t.DueDate = emptyToNil(patch.DueDate)
	}
	if patch.Completion != nil {
		t.Completion = *patch.Completion
	}
	if patch.ParentID != nil {
		t.ParentID = emptyToNil(patch.ParentID)
	}
	if patch.Status != nil {
		if !domain.Contains(domain.TaskStatuses, *patch.Status) {
			return domain.Task{}, invalid("status", "invalid status")
		}
		t.Status = *patch.Status
		applyStatus(&t, prev, e.today(), now)
	}
	if err := validateTask(t); err != nil {
		return domain.Task{}, err
	}
	if patch.ParentID != nil {
		if err := e.checkParent(ctx, tx, t); err != nil {
			return domain.Task{}, err
		}
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, wrap(err, "task", id)
	}
	if err := e.record(ctx, tx, c, domain.ActionTaskUpdate, map[string]any{"task_id": id, "project_id": t.ProjectID, "fields": fields}); err != nil {
		return domain.Task{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.Task{}, err
	}
	t.Overdue = isOverdue(t, e.today())
	return t, nil
}

// DeleteTask removes a task. Its children are detached and its dependency
// edges dropped in both directions.
func (e Engine) DeleteTask(ctx context.Context, c Caller, id string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id)
	if err != nil {
		return err
	}
	res, err := e.taskResource(ctx, tx, t)
	if err != nil {
		return err
	}
	if _, err := e.authorize(ctx, tx, c, auth.ActionDelete, res); err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return wrap(err, "task", id)
	}
	if err := e.record(ctx, tx, c, domain.ActionTaskDelete, map[string]any{"task_id": id, "project_id": t.ProjectID, "title": t.Title}); err != nil {
		return err
	}
	return e.commit(tx)
}

// AssignUser adds actorID to the task's assignees. It reports false when the
// actor was already assigned.
func (e Engine) AssignUser(ctx context.Context, c Caller, taskID, actorID string) (bool, error) {
	return e.changeAssignee(ctx, c, taskID, actorID, true)
}

// UnassignUser removes actorID from the task's assignees. It reports false
// when the actor was not assigned.
func (e Engine) UnassignUser(ctx context.Context, c Caller, taskID, actorID string) (bool, error) {
	return e.changeAssignee(ctx, c, taskID, actorID, false)
}

func (e Engine) changeAssignee(ctx context.Context, c Caller, taskID, actorID string, assign bool) (bool, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return false, invalid("actor_id", "is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, taskID)
	if err != nil {
		return false, err
	}
	res, err := e.taskResource(ctx, tx, t)
	if err != nil {
		return false, err
	}
	if _, err := e.authorize(ctx, tx, c, auth.ActionWrite, res, "assignees"); err != nil {
		return false, err
	}
	var changed bool
	action := domain.ActionTaskAssign
	if assign {
		if err := e.ensureActor(ctx, tx, actorID); err != nil {
			return false, err
		}
		changed, err = e.Repo.Assign(ctx, tx, taskID, actorID, e.stamp())
	} else {
		action = domain.ActionTaskUnassign
		changed, err = e.Repo.Unassign(ctx, tx, taskID, actorID)
	}
	if err != nil {
		return false, wrap(err, "task", taskID)
	}
	if err := e.record(ctx, tx, c, action, map[string]any{"task_id": taskID, "actor_id": actorID, "changed": changed}); err != nil {
		return false, err
	}
	if err := e.commit(tx); err != nil {
		return false, err
	}
	return changed, nil
}
