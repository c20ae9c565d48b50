package tasklinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/server"
)

func newTestAPI(t *testing.T) (string, engine.Engine) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))

	cfg := config.Default()
	cfg.Auth.Admins = []string{"root"}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	e.Identity.Secret = []byte("sdk-secret")
	handler, err := server.New(server.Config{Engine: e})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL + "/v1", e
}

func apiKeyFor(t *testing.T, e engine.Engine, actor string) string {
	t.Helper()
	k, err := e.CreateAPIKey(context.Background(), engine.As(actor), actor, "sdk")
	require.NoError(t, err)
	return k.Key
}

func TestClientProjectTaskFlow(t *testing.T) {
	base, e := newTestAPI(t)
	ctx := context.Background()

	alice := New(base)
	alice.APIKey = apiKeyFor(t, e, "alice")
	_, err := alice.Login(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, alice.BearerToken)

	p, err := alice.CreateProject(ctx, "Launch", "")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, p.Members)

	due := "2024-01-03"
	design, err := alice.CreateTask(ctx, p.ID, "Design", TaskFields{DueDate: &due})
	require.NoError(t, err)
	build, err := alice.CreateTask(ctx, p.ID, "Build", TaskFields{})
	require.NoError(t, err)

	created, err := alice.AddDependency(ctx, build.ID, design.ID)
	require.NoError(t, err)
	require.True(t, created)

	started, err := alice.ChangeStatus(ctx, design.ID, "in_progress")
	require.NoError(t, err)
	require.NotNil(t, started.StartDate)
	require.Equal(t, "2024-01-01", *started.StartDate)

	ov, err := alice.Overview(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, ov.Total)
	require.Len(t, ov.DueSoon, 1)

	tasks, err := alice.ListTasks(ctx, map[string]string{"project_id": p.ID, "status": "todo"}, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, build.ID, tasks[0].ID)
}

func TestClientDecodesErrors(t *testing.T) {
	base, e := newTestAPI(t)
	ctx := context.Background()

	alice := New(base)
	alice.APIKey = apiKeyFor(t, e, "alice")
	p, err := alice.CreateProject(ctx, "Launch", "")
	require.NoError(t, err)

	start, due := "2024-02-10", "2024-02-01"
	_, err = alice.CreateTask(ctx, p.ID, "Backwards", TaskFields{StartDate: &start, DueDate: &due})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.Equal(t, "validation_failed", apiErr.Code)
	require.Contains(t, apiErr.Fields, "due_date")

	task, err := alice.CreateTask(ctx, p.ID, "Write copy", TaskFields{})
	require.NoError(t, err)

	bob := New(base)
	bob.APIKey = apiKeyFor(t, e, "bob")
	title := "Hijacked"
	_, err = bob.UpdateTask(ctx, task.ID, TaskFields{Title: &title})
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	anon := New(base)
	_, err = anon.UpdateTask(ctx, task.ID, TaskFields{Title: &title})
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = alice.Audit(ctx, "", 0, 10)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	root := New(base)
	root.APIKey = apiKeyFor(t, e, "root")
	entries, err := root.Audit(ctx, "task_create", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
