package engine

import (
	"context"
	"time"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
)

var dueSoonStatuses = []string{domain.TaskTodo, domain.TaskInProgress}

// Overview summarizes the tasks the caller created or is assigned to: counts
// per status, overdue tasks, and open tasks due within the configured window.
func (e Engine) Overview(ctx context.Context, c Caller) (domain.Overview, error) {
	if !c.Principal.Authenticated() {
		return domain.Overview{}, wrap(auth.UnauthenticatedError{}, "", "")
	}
	items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{Involving: c.Principal.ID})
	if err != nil {
		return domain.Overview{}, wrap(err, "", "")
	}
	days := 3
	if e.Config != nil {
		days = e.Config.Tasks.DueSoonDays
	}
	now := e.now().UTC()
	today := now.Format(domain.DateLayout)
	horizon := now.Add(time.Duration(days) * 24 * time.Hour).Format(domain.DateLayout)

	out := domain.Overview{StatusCounts: map[string]int{}, Overdue: []domain.Task{}, DueSoon: []domain.Task{}}
	for _, s := range domain.TaskStatuses {
		out.StatusCounts[s] = 0
	}
	for _, t := range items {
		out.Total++
		out.StatusCounts[t.Status]++
		t.Overdue = isOverdue(t, today)
		if t.Overdue {
			out.Overdue = append(out.Overdue, t)
			continue
		}
		if t.DueDate != nil && *t.DueDate >= today && *t.DueDate <= horizon && domain.Contains(dueSoonStatuses, t.Status) {
			out.DueSoon = append(out.DueSoon, t)
		}
	}
	return out, nil
}
