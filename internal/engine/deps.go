package engine

import (
	"context"
	"strings"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/engine/graph"
)

// AddDependency records that taskID depends on dependsOn. Adding an existing
// edge succeeds and reports created=false.
func (e Engine) AddDependency(ctx context.Context, c Caller, taskID, dependsOn string) (bool, error) {
	return e.changeDependency(ctx, c, taskID, dependsOn, true)
}

// RemoveDependency drops the edge taskID -> dependsOn and reports whether it
// existed.
func (e Engine) RemoveDependency(ctx context.Context, c Caller, taskID, dependsOn string) (bool, error) {
	return e.changeDependency(ctx, c, taskID, dependsOn, false)
}

func (e Engine) changeDependency(ctx context.Context, c Caller, taskID, dependsOn string, add bool) (bool, error) {
	dependsOn = strings.TrimSpace(dependsOn)
	if dependsOn == "" {
		return false, invalid("depends_on", "is required")
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
	if _, err := e.authorize(ctx, tx, c, auth.ActionWrite, res, "depends_on"); err != nil {
		return false, err
	}
	var changed bool
	action, key := domain.ActionDependencyAdd, "created"
	if add {
		var dep graph.Node
		if dep, err = e.node(ctx, tx, "depends_on", dependsOn); err != nil {
			return false, err
		}
		self := graph.Node{ID: t.ID, ProjectID: t.ProjectID}
		if err := e.graph(tx).CheckDependency(ctx, self, dep); err != nil {
			return false, wrap(err, "task", taskID)
		}
		changed, err = e.Repo.AddDependency(ctx, tx, taskID, dependsOn, e.stamp())
	} else {
		action, key = domain.ActionDependencyRemove, "existed"
		changed, err = e.Repo.RemoveDependency(ctx, tx, taskID, dependsOn)
	}
	if err != nil {
		return false, wrap(err, "task", taskID)
	}
	if err := e.record(ctx, tx, c, action, map[string]any{"task_id": taskID, "depends_on": dependsOn, key: changed}); err != nil {
		return false, err
	}
	if err := e.commit(tx); err != nil {
		return false, err
	}
	return changed, nil
}

// ListDependencies returns every task taskID transitively depends on, nearest
// first.
func (e Engine) ListDependencies(ctx context.Context, c Caller, taskID string) ([]string, error) {
	if _, err := e.GetTask(ctx, c, taskID); err != nil {
		return nil, err
	}
	ids, err := e.graph(nil).TransitiveDependencies(ctx, taskID)
	if err != nil {
		return nil, wrap(err, "task", taskID)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Completion returns the rolled-up completion percentage of a task's subtree.
func (e Engine) Completion(ctx context.Context, c Caller, taskID string) (int, error) {
	if _, err := e.GetTask(ctx, c, taskID); err != nil {
		return 0, err
	}
	pct, err := e.graph(nil).Completion(ctx, taskID)
	if err != nil {
		return 0, wrap(err, "task", taskID)
	}
	return pct, nil
}
