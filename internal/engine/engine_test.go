package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.Admins = []string{"root"}
	for _, m := range mutate {
		m(cfg)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Identity.Secret = []byte("test-secret")
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) project(t *testing.T, owner, name string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.As(owner), engine.ProjectInput{Name: name})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) task(t *testing.T, actor, projectID, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.As(actor), engine.TaskInput{ProjectID: projectID, Title: title})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func (env testEnv) auditCount(t *testing.T, action string) int {
	t.Helper()
	n, err := env.Engine.Repo.CountAudit(env.Ctx, action)
	if err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}

func expectKind(t *testing.T, err error, kind engine.Kind) *engine.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var e *engine.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *engine.Error, got %T: %v", err, err)
	}
	if e.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, e.Kind, err)
	}
	return e
}

func strPtr(s string) *string { return &s }

func TestCreateProjectAddsCreator(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Website")
	if p.Status != domain.ProjectPlanned || p.Priority != domain.PriorityMedium {
		t.Fatalf("unexpected defaults %s/%s", p.Status, p.Priority)
	}
	got, err := env.Engine.GetProject(env.Ctx, engine.As("someone"), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Members) != 1 || got.Members[0] != "u" {
		t.Fatalf("creator should be the only member, got %v", got.Members)
	}
	if env.auditCount(t, domain.ActionProjectCreate) != 1 {
		t.Fatalf("expected one project_create entry")
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	env.project(t, "u", "Website")
	_, err := env.Engine.CreateProject(env.Ctx, engine.As("u"), engine.ProjectInput{Name: "Website"})
	expectKind(t, err, engine.KindConflict)

	// another creator may reuse the name
	env.project(t, "v", "Website")

	_, err = env.Engine.CreateProject(env.Ctx, engine.As("u"), engine.ProjectInput{
		Name: "ab", StartDate: strPtr("2024-03-01"), EndDate: strPtr("2024-02-01"),
	})
	e := expectKind(t, err, engine.KindValidationFailed)
	if e.Fields["name"] == "" || e.Fields["end_date"] == "" {
		t.Fatalf("expected name and end_date errors, got %v", e.Fields)
	}

	_, err = env.Engine.CreateProject(env.Ctx, engine.Caller{}, engine.ProjectInput{Name: "Anon project"})
	if e := expectKind(t, err, engine.KindUnauthorized); !e.Anonymous {
		t.Fatalf("expected anonymous denial")
	}
}

func TestMembershipGatesTaskUpdates(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	task := env.task(t, "u", p.ID, "Write docs")

	_, err := env.Engine.UpdateTask(env.Ctx, engine.As("v"), task.ID, engine.TaskPatch{Title: strPtr("Hijack")})
	if e := expectKind(t, err, engine.KindUnauthorized); e.Anonymous {
		t.Fatalf("authenticated denial must not be anonymous")
	}
	if _, err := env.Engine.AddMembers(env.Ctx, engine.As("u"), p.ID, []string{"v"}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.As("v"), task.ID, engine.TaskPatch{Title: strPtr("Write better docs")})
	if err != nil {
		t.Fatalf("member update: %v", err)
	}
	if updated.Title != "Write better docs" {
		t.Fatalf("title not applied: %s", updated.Title)
	}
	entries, err := env.Engine.ListAudit(env.Ctx, engine.As("root"), engine.AuditListOptions{Action: domain.ActionTaskUpdate})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].ActorID == nil || *entries[0].ActorID != "v" {
		t.Fatalf("expected exactly one task_update by v, got %+v", entries)
	}
}

func TestCreatorIsNeverRemoved(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	if _, err := env.Engine.AddMembers(env.Ctx, engine.As("u"), p.ID, []string{"v", "v", "w"}); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.RemoveMembers(env.Ctx, engine.As("v"), p.ID, []string{"u", "w"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(res.Changed) != 1 || res.Changed[0] != "w" {
		t.Fatalf("expected only w removed, got %+v", res)
	}
	if len(res.Unchanged) != 1 || res.Unchanged[0] != "u" {
		t.Fatalf("creator should be reported unchanged, got %+v", res)
	}
	members, err := env.Engine.ListMembers(env.Ctx, engine.As("u"), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected u and v to remain, got %+v", members)
	}
	again, err := env.Engine.AddMembers(env.Ctx, engine.As("u"), p.ID, []string{"v"})
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Changed) != 0 || len(again.Unchanged) != 1 {
		t.Fatalf("re-adding should be a no-op, got %+v", again)
	}
	if env.auditCount(t, domain.ActionMemberAdd) != 2 || env.auditCount(t, domain.ActionMemberRemove) != 1 {
		t.Fatalf("every member call should be audited once")
	}
}

func TestDependencyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	a := env.task(t, "u", p.ID, "A")
	b := env.task(t, "u", p.ID, "B")
	c := env.task(t, "u", p.ID, "C")
	caller := engine.As("u")

	for _, edge := range [][2]string{{a.ID, b.ID}, {b.ID, c.ID}} {
		created, err := env.Engine.AddDependency(env.Ctx, caller, edge[0], edge[1])
		if err != nil || !created {
			t.Fatalf("add %v: created=%v err=%v", edge, created, err)
		}
	}
	deps, err := env.Engine.ListDependencies(env.Ctx, caller, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 || deps[0] != b.ID || deps[1] != c.ID {
		t.Fatalf("unexpected transitive deps %v", deps)
	}

	_, err = env.Engine.AddDependency(env.Ctx, caller, c.ID, a.ID)
	if e := expectKind(t, err, engine.KindValidationFailed); e.Fields["depends_on"] == "" {
		t.Fatalf("cycle should be reported on depends_on, got %v", e.Fields)
	}
	_, err = env.Engine.AddDependency(env.Ctx, caller, a.ID, a.ID)
	expectKind(t, err, engine.KindValidationFailed)

	created, err := env.Engine.AddDependency(env.Ctx, caller, a.ID, b.ID)
	if err != nil || created {
		t.Fatalf("re-adding should succeed without creating: created=%v err=%v", created, err)
	}
	existed, err := env.Engine.RemoveDependency(env.Ctx, caller, a.ID, b.ID)
	if err != nil || !existed {
		t.Fatalf("remove: existed=%v err=%v", existed, err)
	}
	existed, err = env.Engine.RemoveDependency(env.Ctx, caller, a.ID, b.ID)
	if err != nil || existed {
		t.Fatalf("second remove: existed=%v err=%v", existed, err)
	}
	deps, err = env.Engine.ListDependencies(env.Ctx, caller, a.ID)
	if err != nil || len(deps) != 0 {
		t.Fatalf("expected no deps, got %v %v", deps, err)
	}
	if env.auditCount(t, domain.ActionDependencyAdd) != 3 || env.auditCount(t, domain.ActionDependencyRemove) != 2 {
		t.Fatalf("unexpected dependency audit counts")
	}
}

func TestCrossProjectLinksRejected(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.project(t, "u", "One")
	p2 := env.project(t, "u", "Two")
	a := env.task(t, "u", p1.ID, "A")
	b := env.task(t, "u", p2.ID, "B")

	_, err := env.Engine.AddDependency(env.Ctx, engine.As("u"), a.ID, b.ID)
	expectKind(t, err, engine.KindValidationFailed)

	_, err = env.Engine.UpdateTask(env.Ctx, engine.As("u"), a.ID, engine.TaskPatch{ParentID: strPtr(b.ID)})
	if e := expectKind(t, err, engine.KindValidationFailed); e.Fields["parent_id"] == "" {
		t.Fatalf("expected parent_id error, got %v", e.Fields)
	}
}

func TestDueBeforeStartRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	_, err := env.Engine.CreateTask(env.Ctx, engine.As("u"), engine.TaskInput{
		ProjectID: p.ID, Title: "Backwards", StartDate: strPtr("2024-02-10"), DueDate: strPtr("2024-02-01"),
	})
	if e := expectKind(t, err, engine.KindValidationFailed); e.Fields["due_date"] == "" {
		t.Fatalf("expected due_date error, got %v", e.Fields)
	}
	items, err := env.Engine.ListTasks(env.Ctx, engine.As("u"), engine.TaskListOptions{ProjectID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("rejected task was persisted: %+v", items)
	}
	if env.auditCount(t, domain.ActionTaskCreate) != 0 {
		t.Fatalf("rejected task was audited")
	}
}

func TestStatusSideEffects(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	task := env.task(t, "u", p.ID, "Ship")

	got, err := env.Engine.ChangeStatus(env.Ctx, engine.As("u"), task.ID, domain.TaskInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartDate == nil || *got.StartDate != "2024-01-01" {
		t.Fatalf("expected start date set to today, got %v", got.StartDate)
	}
	got, err = env.Engine.ChangeStatus(env.Ctx, engine.As("u"), task.ID, domain.TaskCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt == nil || *got.CompletedAt != "2024-01-01T00:00:00.000000Z" {
		t.Fatalf("expected completed_at stamp, got %v", got.CompletedAt)
	}
	// completed may move back to todo
	got, err = env.Engine.ChangeStatus(env.Ctx, engine.As("u"), task.ID, domain.TaskTodo)
	if err != nil || got.CompletedAt != nil {
		t.Fatalf("reopen: %v %v", got.CompletedAt, err)
	}
	_, err = env.Engine.ChangeStatus(env.Ctx, engine.As("u"), task.ID, "done")
	if e := expectKind(t, err, engine.KindValidationFailed); e.Fields["status"] != "invalid status" {
		t.Fatalf("unexpected fields %v", e.Fields)
	}
	if env.auditCount(t, domain.ActionTaskStatusChange) != 3 {
		t.Fatalf("expected three status changes audited")
	}

	late, err := env.Engine.CreateTask(env.Ctx, engine.As("u"), engine.TaskInput{ProjectID: p.ID, Title: "Late", DueDate: strPtr("2023-12-20")})
	if err != nil {
		t.Fatal(err)
	}
	got, err = env.Engine.ChangeStatus(env.Ctx, engine.As("u"), late.ID, domain.TaskInProgress)
	if err != nil {
		t.Fatalf("starting a past-due task: %v", err)
	}
	if got.StartDate != nil {
		t.Fatalf("start date after due date: %v", *got.StartDate)
	}
}

func TestAssigneeFieldAllowList(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	task := env.task(t, "u", p.ID, "Review")
	assigned, err := env.Engine.AssignUser(env.Ctx, engine.As("u"), task.ID, "w")
	if err != nil || !assigned {
		t.Fatalf("assign: %v %v", assigned, err)
	}
	assigned, err = env.Engine.AssignUser(env.Ctx, engine.As("u"), task.ID, "w")
	if err != nil || assigned {
		t.Fatalf("second assign should be a no-op: %v %v", assigned, err)
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, engine.As("w"), task.ID, domain.TaskInReview); err != nil {
		t.Fatalf("assignee status change: %v", err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.As("w"), task.ID, engine.TaskPatch{Title: strPtr("Renamed")})
	expectKind(t, err, engine.KindUnauthorized)
	_, err = env.Engine.AssignUser(env.Ctx, engine.As("w"), task.ID, "x")
	expectKind(t, err, engine.KindUnauthorized)

	removed, err := env.Engine.UnassignUser(env.Ctx, engine.As("u"), task.ID, "w")
	if err != nil || !removed {
		t.Fatalf("unassign: %v %v", removed, err)
	}
	_, err = env.Engine.ChangeStatus(env.Ctx, engine.As("w"), task.ID, domain.TaskCompleted)
	expectKind(t, err, engine.KindUnauthorized)
}

func TestCompletionRollup(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	parent := env.task(t, "u", p.ID, "Parent")
	caller := engine.As("u")
	for _, pct := range []int{100, 50} {
		pct := pct
		if _, err := env.Engine.CreateTask(env.Ctx, caller, engine.TaskInput{
			ProjectID: p.ID, Title: "child", ParentID: strPtr(parent.ID), Completion: &pct,
		}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := env.Engine.Completion(env.Ctx, caller, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != 75 {
		t.Fatalf("expected 75, got %d", got)
	}
}

func TestDeleteTaskDetachesChildren(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	parent := env.task(t, "u", p.ID, "Parent")
	other := env.task(t, "u", p.ID, "Other")
	child, err := env.Engine.CreateTask(env.Ctx, engine.As("u"), engine.TaskInput{
		ProjectID: p.ID, Title: "Child", ParentID: strPtr(parent.ID), DependsOn: []string{parent.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddDependency(env.Ctx, engine.As("u"), parent.ID, other.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, engine.As("u"), parent.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, engine.As("u"), child.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ParentID != nil || len(got.DependsOn) != 0 {
		t.Fatalf("child still linked to deleted task: %+v", got)
	}
	_, err = env.Engine.GetTask(env.Ctx, engine.As("u"), parent.ID)
	expectKind(t, err, engine.KindNotFound)
}

type failingStore struct{ calls *int }

func (f failingStore) Insert(context.Context, *sql.Tx, domain.AuditEntry) error {
	*f.calls++
	return errors.New("disk full")
}

func TestAuditFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	env.Engine.Audit.Store = failingStore{calls: &calls}

	_, err := env.Engine.CreateProject(env.Ctx, engine.As("u"), engine.ProjectInput{Name: "Doomed"})
	expectKind(t, err, engine.KindAuditWriteFailed)
	if calls != 2 {
		t.Fatalf("expected one retry, got %d attempts", calls)
	}
	items, err := env.Engine.ListProjects(env.Ctx, engine.As("u"), engine.ProjectListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("project persisted despite audit failure: %+v", items)
	}
}

func TestAuditLogRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.project(t, "u", "Platform")
	_, err := env.Engine.ListAudit(env.Ctx, engine.As("u"), engine.AuditListOptions{})
	expectKind(t, err, engine.KindUnauthorized)

	entries, err := env.Engine.ListAudit(env.Ctx, engine.As("root"), engine.AuditListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != domain.ActionProjectCreate {
		t.Fatalf("unexpected entries %+v", entries)
	}
	_, err = env.Engine.ListAudit(env.Ctx, engine.As("root"), engine.AuditListOptions{Action: "explode"})
	expectKind(t, err, engine.KindValidationFailed)

	if _, err := env.Engine.GrantRole(env.Ctx, engine.As("root"), "u", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := env.Engine.ListAudit(env.Ctx, engine.As("u"), engine.AuditListOptions{}); err != nil {
		t.Fatalf("granted admin should read audit: %v", err)
	}
}

func TestRoleManagement(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GrantRole(env.Ctx, engine.As("u"), "v", "manager")
	expectKind(t, err, engine.KindUnauthorized)
	_, err = env.Engine.GrantRole(env.Ctx, engine.As("root"), "v", "wizard")
	expectKind(t, err, engine.KindValidationFailed)

	changed, err := env.Engine.GrantRole(env.Ctx, engine.As("root"), "v", "manager")
	if err != nil || !changed {
		t.Fatalf("grant: %v %v", changed, err)
	}
	profile, err := env.Engine.GetProfile(env.Ctx, engine.As("v"), "v")
	if err != nil {
		t.Fatal(err)
	}
	if len(profile.Roles) != 1 || profile.Roles[0] != "manager" {
		t.Fatalf("unexpected roles %v", profile.Roles)
	}
	changed, err = env.Engine.RevokeRole(env.Ctx, engine.As("root"), "v", "manager")
	if err != nil || !changed {
		t.Fatalf("revoke: %v %v", changed, err)
	}
	if env.auditCount(t, domain.ActionRoleUpdate) != 2 {
		t.Fatalf("expected two role_update entries")
	}
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.UpdateProfile(env.Ctx, engine.As("v"), "v", engine.ProfilePatch{DisplayName: strPtr("Vera"), Email: strPtr("vera@example.com")})
	if err != nil {
		t.Fatal(err)
	}
	if a.DisplayName != "Vera" || a.Email != "vera@example.com" {
		t.Fatalf("profile not updated: %+v", a)
	}
	_, err = env.Engine.UpdateProfile(env.Ctx, engine.As("u"), "v", engine.ProfilePatch{DisplayName: strPtr("Nope")})
	expectKind(t, err, engine.KindUnauthorized)
	_, err = env.Engine.UpdateProfile(env.Ctx, engine.As("v"), "v", engine.ProfilePatch{Email: strPtr("not-an-email")})
	expectKind(t, err, engine.KindValidationFailed)
	if _, err := env.Engine.UpdateProfile(env.Ctx, engine.As("root"), "v", engine.ProfilePatch{DisplayName: strPtr("V")}); err != nil {
		t.Fatalf("admin edit: %v", err)
	}
}

func TestAnonymousTaskRead(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	task := env.task(t, "u", p.ID, "Public")
	_, err := env.Engine.GetTask(env.Ctx, engine.Caller{}, task.ID)
	if e := expectKind(t, err, engine.KindUnauthorized); !e.Anonymous {
		t.Fatalf("expected anonymous denial")
	}

	open := newTestEnv(t, func(c *config.Config) { c.Auth.AllowAnonymousTaskRead = true })
	p = open.project(t, "u", "Platform")
	task = open.task(t, "u", p.ID, "Public")
	if _, err := open.Engine.GetTask(open.Ctx, engine.Caller{}, task.ID); err != nil {
		t.Fatalf("anonymous read: %v", err)
	}
	_, err = open.Engine.UpdateTask(open.Ctx, engine.Caller{}, task.ID, engine.TaskPatch{Title: strPtr("x")})
	expectKind(t, err, engine.KindUnauthorized)
}

func TestOverview(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	caller := engine.As("u")
	inputs := []engine.TaskInput{
		{ProjectID: p.ID, Title: "late", DueDate: strPtr("2023-12-30")},
		{ProjectID: p.ID, Title: "soon", DueDate: strPtr("2024-01-03")},
		{ProjectID: p.ID, Title: "later", DueDate: strPtr("2024-02-01")},
		{ProjectID: p.ID, Title: "done late", Status: domain.TaskCompleted, DueDate: strPtr("2023-12-01")},
	}
	created := map[string]domain.Task{}
	for _, in := range inputs {
		task, err := env.Engine.CreateTask(env.Ctx, caller, in)
		if err != nil {
			t.Fatal(err)
		}
		created[in.Title] = task
	}
	ov, err := env.Engine.Overview(env.Ctx, caller)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Total != 4 || ov.StatusCounts[domain.TaskTodo] != 3 || ov.StatusCounts[domain.TaskCompleted] != 1 {
		t.Fatalf("unexpected counts %+v", ov)
	}
	if len(ov.Overdue) != 1 || ov.Overdue[0].Title != "late" || !ov.Overdue[0].Overdue {
		t.Fatalf("unexpected overdue %+v", ov.Overdue)
	}
	if len(ov.DueSoon) != 1 || ov.DueSoon[0].Title != "soon" {
		t.Fatalf("unexpected due soon %+v", ov.DueSoon)
	}
	other, err := env.Engine.Overview(env.Ctx, engine.As("stranger"))
	if err != nil || other.Total != 0 {
		t.Fatalf("stranger should see nothing: %+v %v", other, err)
	}

	// A project member only counts what they created or were assigned.
	if _, err := env.Engine.AddMembers(env.Ctx, caller, p.ID, []string{"v"}); err != nil {
		t.Fatal(err)
	}
	mine := env.task(t, "v", p.ID, "v's own")
	ov, err = env.Engine.Overview(env.Ctx, engine.As("v"))
	if err != nil || ov.Total != 1 {
		t.Fatalf("member overview: %+v %v", ov, err)
	}
	if _, err := env.Engine.AssignUser(env.Ctx, caller, mine.ID, "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AssignUser(env.Ctx, caller, created["soon"].ID, "v"); err != nil {
		t.Fatal(err)
	}
	ov, err = env.Engine.Overview(env.Ctx, engine.As("v"))
	if err != nil || ov.Total != 2 || len(ov.DueSoon) != 1 {
		t.Fatalf("assigned task missing from overview: %+v %v", ov, err)
	}
}

func TestLoginRefreshLogout(t *testing.T) {
	env := newTestEnv(t)
	key, err := env.Engine.CreateAPIKey(env.Ctx, engine.As("u"), "u", "laptop")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	tokens, err := env.Engine.Login(env.Ctx, key.Key, "127.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	p, err := env.Engine.VerifyAccess(tokens.AccessToken)
	if err != nil || p.ID != "u" {
		t.Fatalf("verify: %+v %v", p, err)
	}
	rotated, err := env.Engine.Refresh(env.Ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_, err = env.Engine.Refresh(env.Ctx, tokens.RefreshToken)
	expectKind(t, err, engine.KindUnauthorized)

	if err := env.Engine.Logout(env.Ctx, rotated.RefreshToken, "127.0.0.1"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err = env.Engine.Refresh(env.Ctx, rotated.RefreshToken)
	expectKind(t, err, engine.KindUnauthorized)

	_, err = env.Engine.Login(env.Ctx, "tl_wrong", "")
	expectKind(t, err, engine.KindUnauthorized)

	if env.auditCount(t, domain.ActionLogin) != 1 || env.auditCount(t, domain.ActionLogout) != 1 {
		t.Fatalf("expected one login and one logout entry")
	}
}

func TestLoginToleratesAuditFailure(t *testing.T) {
	env := newTestEnv(t)
	key, err := env.Engine.CreateAPIKey(env.Ctx, engine.As("u"), "u", "ci")
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	env.Engine.Audit.Store = failingStore{calls: &calls}
	if _, err := env.Engine.Login(env.Ctx, key.Key, ""); err != nil {
		t.Fatalf("login should survive audit failure: %v", err)
	}
	if calls == 0 {
		t.Fatalf("expected an audit attempt")
	}
}

func TestLabels(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	l, err := env.Engine.CreateLabel(env.Ctx, engine.As("u"), p.ID, engine.LabelInput{Name: "bug"})
	if err != nil {
		t.Fatal(err)
	}
	if l.Color != domain.DefaultLabelColor {
		t.Fatalf("expected default color, got %s", l.Color)
	}
	_, err = env.Engine.CreateLabel(env.Ctx, engine.As("u"), p.ID, engine.LabelInput{Name: "bug"})
	expectKind(t, err, engine.KindConflict)
	_, err = env.Engine.CreateLabel(env.Ctx, engine.As("u"), p.ID, engine.LabelInput{Name: "ui", Color: "red"})
	expectKind(t, err, engine.KindValidationFailed)
	_, err = env.Engine.CreateLabel(env.Ctx, engine.As("v"), p.ID, engine.LabelInput{Name: "spam"})
	expectKind(t, err, engine.KindUnauthorized)

	if err := env.Engine.DeleteLabel(env.Ctx, engine.As("u"), p.ID, l.ID); err != nil {
		t.Fatal(err)
	}
	labels, err := env.Engine.ListLabels(env.Ctx, engine.As("u"), p.ID)
	if err != nil || len(labels) != 0 {
		t.Fatalf("expected no labels, got %v %v", labels, err)
	}
}

func TestArchiveAndDeleteProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	env.task(t, "u", p.ID, "Leftover")
	_, err := env.Engine.ArchiveProject(env.Ctx, engine.As("v"), p.ID)
	expectKind(t, err, engine.KindUnauthorized)
	archived, err := env.Engine.ArchiveProject(env.Ctx, engine.As("u"), p.ID)
	if err != nil || archived.Status != domain.ProjectArchived {
		t.Fatalf("archive: %+v %v", archived, err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, engine.As("u"), p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = env.Engine.GetProject(env.Ctx, engine.As("u"), p.ID)
	expectKind(t, err, engine.KindNotFound)
	items, err := env.Engine.ListTasks(env.Ctx, engine.As("u"), engine.TaskListOptions{})
	if err != nil || len(items) != 0 {
		t.Fatalf("tasks should be gone with the project: %v %v", items, err)
	}
}

func TestAPIKeyRevocation(t *testing.T) {
	env := newTestEnv(t)
	key, err := env.Engine.CreateAPIKey(env.Ctx, engine.As("u"), "u", "laptop")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	_, err = env.Engine.ListAPIKeys(env.Ctx, engine.As("v"), "u")
	expectKind(t, err, engine.KindUnauthorized)

	keys, err := env.Engine.ListAPIKeys(env.Ctx, engine.As("u"), "u")
	if err != nil || len(keys) != 1 || keys[0].ID != key.ID {
		t.Fatalf("list keys: %+v %v", keys, err)
	}
	err = env.Engine.RevokeAPIKey(env.Ctx, engine.As("v"), "v", key.ID)
	expectKind(t, err, engine.KindNotFound)

	if err := env.Engine.RevokeAPIKey(env.Ctx, engine.As("root"), "u", key.ID); err != nil {
		t.Fatalf("admin revoke: %v", err)
	}
	_, err = env.Engine.AuthenticateKey(env.Ctx, key.Key)
	expectKind(t, err, engine.KindUnauthorized)
	if env.auditCount(t, domain.ActionAPIKeyRevoke) != 1 {
		t.Fatalf("expected one api_key_revoke entry")
	}
}

func TestPruneRevocations(t *testing.T) {
	env := newTestEnv(t)
	key, err := env.Engine.CreateAPIKey(env.Ctx, engine.As("u"), "u", "")
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := env.Engine.Login(env.Ctx, key.Key, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Logout(env.Ctx, tokens.RefreshToken, ""); err != nil {
		t.Fatal(err)
	}
	if n, err := env.Engine.PruneRevocations(env.Ctx); err != nil || n != 0 {
		t.Fatalf("live revocation pruned: %d %v", n, err)
	}
	env.Engine.Now = func() time.Time { return tokens.RefreshExpiresAt.Add(time.Minute) }
	if n, err := env.Engine.PruneRevocations(env.Ctx); err != nil || n != 1 {
		t.Fatalf("expected one pruned revocation, got %d %v", n, err)
	}
}

func TestRevokedRoleAppliesToIssuedTokens(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.GrantRole(env.Ctx, engine.As("root"), "u", auth.RoleAdministrator); err != nil {
		t.Fatal(err)
	}
	key, err := env.Engine.CreateAPIKey(env.Ctx, engine.As("u"), "u", "")
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := env.Engine.Login(env.Ctx, key.Key, "")
	if err != nil {
		t.Fatal(err)
	}
	bearer := func() engine.Caller {
		p, err := env.Engine.VerifyAccess(tokens.AccessToken)
		if err != nil {
			t.Fatalf("verify access: %v", err)
		}
		return engine.Caller{Principal: p}
	}
	if _, err := env.Engine.ListAudit(env.Ctx, bearer(), engine.AuditListOptions{}); err != nil {
		t.Fatalf("admin should read the audit trail: %v", err)
	}
	if _, err := env.Engine.RevokeRole(env.Ctx, engine.As("root"), "u", auth.RoleAdministrator); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ListAudit(env.Ctx, bearer(), engine.AuditListOptions{})
	expectKind(t, err, engine.KindUnauthorized)
}

func TestCredentialLookupFailureIsUpstream(t *testing.T) {
	env := newTestEnv(t)
	key, err := env.Engine.CreateAPIKey(env.Ctx, engine.As("u"), "u", "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AuthenticateKey(env.Ctx, "tl_not-a-key")
	expectKind(t, err, engine.KindUnauthorized)

	env.Engine.DB.Close()
	_, err = env.Engine.AuthenticateKey(env.Ctx, key.Key)
	expectKind(t, err, engine.KindUpstreamFailure)
	_, err = env.Engine.Login(env.Ctx, key.Key, "")
	expectKind(t, err, engine.KindUpstreamFailure)
}

func TestDeleteLabelLookupFailures(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "u", "Platform")
	other := env.project(t, "u", "Website")
	l, err := env.Engine.CreateLabel(env.Ctx, engine.As("u"), p.ID, engine.LabelInput{Name: "bug"})
	if err != nil {
		t.Fatal(err)
	}
	err = env.Engine.DeleteLabel(env.Ctx, engine.As("u"), other.ID, l.ID)
	expectKind(t, err, engine.KindNotFound)

	if _, err := env.Engine.DB.ExecContext(env.Ctx, `DROP TABLE project_labels`); err != nil {
		t.Fatal(err)
	}
	err = env.Engine.DeleteLabel(env.Ctx, engine.As("u"), p.ID, l.ID)
	expectKind(t, err, engine.KindUpstreamFailure)
}
