package engine

import (
	"context"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
)

// applyStatus sets the date side effects of moving t from prev into its
// current status. Any status may follow any other.
func applyStatus(t *domain.Task, prev, today, now string) {
	if t.Status == prev {
		return
	}
	switch t.Status {
	case domain.TaskInProgress:
		// A start date after the due date would break the date order, so it
		// is left unset in that case.
		if t.StartDate == nil && (t.DueDate == nil || *t.DueDate >= today) {
			d := today
			t.StartDate = &d
		}
		t.CompletedAt = nil
	case domain.TaskCompleted:
		ts := now
		t.CompletedAt = &ts
	default:
		t.CompletedAt = nil
	}
}

// ChangeStatus moves a task to status. Assignees may do this when status is
// one of the configured assignee fields.
//
// Entering in_progress sets an unset start_date to today, except when the
// due date has already passed: a start after the due date is invalid, so
// start_date then stays unset and the change still succeeds. Entering
// completed stamps completed_at; leaving completed clears it.
func (e Engine) ChangeStatus(ctx context.Context, c Caller, taskID, status string) (domain.Task, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	res, err := e.taskResource(ctx, tx, t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.authorize(ctx, tx, c, auth.ActionStatusChange, res, "status"); err != nil {
		return domain.Task{}, err
	}
	if !domain.Contains(domain.TaskStatuses, status) {
		return domain.Task{}, invalid("status", "invalid status")
	}
	now := e.stamp()
	prev := t.Status
	t.Status = status
	applyStatus(&t, prev, e.today(), now)
	if err := validateTask(t); err != nil {
		return domain.Task{}, err
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, wrap(err, "task", taskID)
	}
	if err := e.record(ctx, tx, c, domain.ActionTaskStatusChange, map[string]any{"task_id": taskID, "from": prev, "to": status}); err != nil {
		return domain.Task{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.Task{}, err
	}
	t.Overdue = isOverdue(t, e.today())
	return t, nil
}
