package graph

import "context"

// Completion returns the rolled-up completion percentage of id. A task with
// no children reports its own stored value; otherwise the result is the
// truncated mean of its children's rolled-up values, clamped to [0,100].
// Nodes already visited in this walk are not counted again.
func (c Checker) Completion(ctx context.Context, id string) (int, error) {
	visited := map[string]struct{}{}
	return c.completion(ctx, id, visited, 0)
}

func (c Checker) completion(ctx context.Context, id string, visited map[string]struct{}, depth int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if depth > c.maxDepth() || len(visited) > c.maxNodes() {
		return 0, violation(ErrTraversalLimit, id, "")
	}
	visited[id] = struct{}{}
	node, err := c.Source.Node(ctx, id)
	if err != nil {
		return 0, err
	}
	children, err := c.Source.Children(ctx, id)
	if err != nil {
		return 0, err
	}
	if len(children) == 0 {
		return clamp(node.Completion), nil
	}
	sum, counted := 0, 0
	for _, child := range children {
		if _, seen := visited[child]; seen {
			continue
		}
		v, err := c.completion(ctx, child, visited, depth+1)
		if err != nil {
			return 0, err
		}
		sum += v
		counted++
	}
	if counted == 0 {
		return 0, nil
	}
	return clamp(sum / counted), nil
}

func clamp(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
