package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/domain"
	"taskline/internal/engine"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks move between todo, in_progress, in_review, blocked and completed. Starting work stamps a start date, completing stamps completed_at. Parents and dependencies stay within one project.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskAssignCmd(true))
	task.AddCommand(taskAssignCmd(false))
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(depsCmd())
	task.AddCommand(taskCompletionCmd())
	task.AddCommand(taskTreeCmd())
	task.AddCommand(overviewCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var in engine.TaskInput
	var parent, start, due string
	var completion int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ParentID = optionalString(parent)
			in.StartDate = optionalString(start)
			in.DueDate = optionalString(due)
			if cmd.Flags().Changed("completion") {
				in.Completion = &completion
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				t, err := e.CreateTask(ctx, c, in)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	cmd.Flags().StringVar(&in.Status, "status", "", "status (todo, in_progress, in_review, blocked, completed)")
	cmd.Flags().StringVar(&in.Priority, "priority", "", "priority (low, medium, high, critical)")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD")
	cmd.Flags().IntVar(&completion, "completion", 0, "completion percentage 0-100")
	cmd.Flags().StringArrayVar(&in.Assignees, "assignee", nil, "assignee id (repeatable)")
	cmd.Flags().StringArrayVar(&in.DependsOn, "depends-on", nil, "dependency task id (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var opts engine.TaskListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in projects you can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				tasks, err := e.ListTasks(ctx, c, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&opts.DueOn, "due-on", "", "due on date YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.DueBefore, "due-before", "", "due before date YYYY-MM-DD")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				t, err := e.GetTask(ctx, c, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, priority, start, due, parent string
	var completion int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.TaskPatch{
				Title:       changed(cmd, "title", title),
				Description: changed(cmd, "description", description),
				Status:      changed(cmd, "status", status),
				Priority:    changed(cmd, "priority", priority),
				StartDate:   changed(cmd, "start", start),
				DueDate:     changed(cmd, "due", due),
				ParentID:    changed(cmd, "set-parent", parent),
			}
			if cmd.Flags().Changed("completion") {
				patch.Completion = &completion
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				t, err := e.UpdateTask(ctx, c, args[0], patch)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD (empty clears)")
	cmd.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD (empty clears)")
	cmd.Flags().StringVar(&parent, "set-parent", "", "parent task id (empty detaches)")
	cmd.Flags().IntVar(&completion, "completion", 0, "completion percentage 0-100")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				t, err := e.ChangeStatus(ctx, c, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskAssignCmd(assign bool) *cobra.Command {
	use, short := "assign", "Assign a user to a task"
	if !assign {
		use, short = "unassign", "Remove a user from a task"
	}
	return &cobra.Command{
		Use:   use + " <id> <actor-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				fn := e.AssignUser
				if !assign {
					fn = e.UnassignUser
				}
				ok, err := fn(ctx, c, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"task_id": args[0], "actor_id": args[1], "changed": ok})
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task; children are detached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				return e.DeleteTask(ctx, c, args[0])
			})
		},
	}
}

func depsCmd() *cobra.Command {
	deps := &cobra.Command{Use: "deps", Short: "Manage task dependencies"}
	for _, add := range []bool{true, false} {
		add := add
		use, short := "add", "Add a dependency"
		if !add {
			use, short = "remove", "Remove a dependency"
		}
		deps.AddCommand(&cobra.Command{
			Use:   use + " <id> <depends-on>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
					fn := e.AddDependency
					if !add {
						fn = e.RemoveDependency
					}
					ok, err := fn(ctx, c, args[0], args[1])
					if err != nil {
						return err
					}
					return printJSON(map[string]any{"task_id": args[0], "depends_on": args[1], "changed": ok})
				})
			},
		})
	}
	deps.AddCommand(&cobra.Command{
		Use:   "list <id>",
		Short: "List transitive dependencies, nearest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				ids, err := e.ListDependencies(ctx, c, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ids)
				}
				for _, id := range ids {
					fmt.Println(id)
				}
				return nil
			})
		},
	})
	return deps
}

func taskCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <id>",
		Short: "Show rolled-up completion percentage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				pct, err := e.Completion(ctx, c, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"task_id": args[0], "completion": pct})
				}
				fmt.Println(strconv.Itoa(pct) + "%")
				return nil
			})
		},
	}
}

func taskTreeCmd() *cobra.Command {
	var projectID, status string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show a project's task tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				tasks, err := e.ListTasks(ctx, c, engine.TaskListOptions{ProjectID: projectID, Status: status, Limit: 10000})
				if err != nil {
					return err
				}
				nodes := map[string][]domain.Task{}
				seen := map[string]bool{}
				for _, t := range tasks {
					seen[t.ID] = true
				}
				var roots []domain.Task
				for _, t := range tasks {
					if t.ParentID != nil && seen[*t.ParentID] {
						nodes[*t.ParentID] = append(nodes[*t.ParentID], t)
					} else {
						roots = append(roots, t)
					}
				}
				if viper.GetBool("json") {
					type Node struct {
						Task     domain.Task `json:"task"`
						Children []Node      `json:"children,omitempty"`
					}
					var build func(t domain.Task) Node
					build = func(t domain.Task) Node {
						var children []Node
						for _, child := range nodes[t.ID] {
							children = append(children, build(child))
						}
						return Node{Task: t, Children: children}
					}
					var tree []Node
					for _, r := range roots {
						tree = append(tree, build(r))
					}
					return printJSON(tree)
				}
				for i, r := range roots {
					printTaskTree(r, nodes, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func overviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Counts, overdue and due-soon tasks for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, c engine.Caller) error {
				ov, err := e.Overview(ctx, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ov)
				}
				fmt.Printf("Tasks: %d\n", ov.Total)
				for _, status := range sortedKeys(ov.StatusCounts) {
					fmt.Printf("  %s: %d\n", status, ov.StatusCounts[status])
				}
				fmt.Println("Overdue:")
				printTasks(ov.Overdue)
				fmt.Println("Due soon:")
				printTasks(ov.DueSoon)
				return nil
			})
		},
	}
}

func printTaskTree(t domain.Task, children map[string][]domain.Task, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s [%s %d%%]\n", prefix, connector, t.Title, t.Status, t.Completion)
	for i, c := range children[t.ID] {
		printTaskTree(c, children, newPrefix, i == len(children[t.ID])-1)
	}
}
