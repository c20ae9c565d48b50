// Package graph validates the task dependency DAG and the parent/subtask
// tree, and rolls completion up a subtree. It reads through a Source so the
// same checks run against a live transaction or an in-memory fixture.
package graph

import (
	"context"
)

const (
	// DefaultMaxNodes bounds a single reachability walk.
	DefaultMaxNodes = 100000
	// DefaultMaxDepth bounds an ancestor walk.
	DefaultMaxDepth = 10000
)

// Node is the slice of a task the graph rules look at.
type Node struct {
	ID         string
	ProjectID  string
	ParentID   string
	Completion int
}

// Source exposes the stored graph.
type Source interface {
	Node(ctx context.Context, id string) (Node, error)
	// Dependencies returns the ids id depends on.
	Dependencies(ctx context.Context, id string) ([]string, error)
	// Children returns the ids whose parent is id.
	Children(ctx context.Context, id string) ([]string, error)
}

// Checker runs graph rules with traversal bounds.
type Checker struct {
	Source   Source
	MaxNodes int
	MaxDepth int
}

func New(src Source) Checker {
	return Checker{Source: src, MaxNodes: DefaultMaxNodes, MaxDepth: DefaultMaxDepth}
}

func (c Checker) maxNodes() int {
	if c.MaxNodes > 0 {
		return c.MaxNodes
	}
	return DefaultMaxNodes
}

func (c Checker) maxDepth() int {
	if c.MaxDepth > 0 {
		return c.MaxDepth
	}
	return DefaultMaxDepth
}

// CheckDependency reports whether task may depend on candidate.
func (c Checker) CheckDependency(ctx context.Context, task, candidate Node) error {
	if task.ID == candidate.ID {
		return violation(ErrSelfDependency, task.ID, candidate.ID)
	}
	if task.ProjectID != candidate.ProjectID {
		return violation(ErrCrossProjectDependency, task.ID, candidate.ID)
	}
	reach, err := c.Reachable(ctx, candidate.ID, true)
	if err != nil {
		return err
	}
	if _, ok := reach[task.ID]; ok {
		return violation(ErrCycleDetected, task.ID, candidate.ID)
	}
	return nil
}

// Reachable returns every id reachable from start along dependency edges.
// start itself is included only when includeSelf is set.
func (c Checker) Reachable(ctx context.Context, start string, includeSelf bool) (map[string]struct{}, error) {
	limit := c.maxNodes()
	visited := map[string]struct{}{start: {}}
	stack := []string{start}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		deps, err := c.Source.Dependencies(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if _, seen := visited[d]; seen {
				continue
			}
			visited[d] = struct{}{}
			if len(visited) > limit {
				return nil, violation(ErrTraversalLimit, start, "")
			}
			stack = append(stack, d)
		}
	}
	if !includeSelf {
		delete(visited, start)
	}
	return visited, nil
}

// TransitiveDependencies lists every task start depends on, directly or not,
// in discovery order.
func (c Checker) TransitiveDependencies(ctx context.Context, start string) ([]string, error) {
	limit := c.maxNodes()
	visited := map[string]struct{}{start: {}}
	var out []string
	queue := []string{start}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := queue[0]
		queue = queue[1:]
		deps, err := c.Source.Dependencies(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if _, seen := visited[d]; seen {
				continue
			}
			visited[d] = struct{}{}
			if len(visited) > limit {
				return nil, violation(ErrTraversalLimit, start, "")
			}
			out = append(out, d)
			queue = append(queue, d)
		}
	}
	return out, nil
}

// CheckParent reports whether parent may become task's parent.
func (c Checker) CheckParent(ctx context.Context, task, parent Node) error {
	if task.ID == parent.ID {
		return violation(ErrSelfParent, task.ID, parent.ID)
	}
	if task.ProjectID != parent.ProjectID {
		return violation(ErrCrossProjectParent, task.ID, parent.ID)
	}
	visited := map[string]struct{}{}
	cur := parent
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cur.ID == task.ID {
			return violation(ErrParentCycle, task.ID, parent.ID)
		}
		if _, seen := visited[cur.ID]; seen {
			// Stored data already holds a loop that does not include task.
			return nil
		}
		if depth >= c.maxDepth() {
			return violation(ErrTraversalLimit, task.ID, parent.ID)
		}
		visited[cur.ID] = struct{}{}
		if cur.ParentID == "" {
			return nil
		}
		next, err := c.Source.Node(ctx, cur.ParentID)
		if err != nil {
			return err
		}
		cur = next
	}
}
