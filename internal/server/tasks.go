package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskline/internal/domain"
	"taskline/internal/engine"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

type taskBody struct {
	Body domain.Task `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		t, err := e.CreateTask(ctx, callerFromContext(ctx), input.Body.input(input.ProjectID))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks visible to the caller",
		Errors:      []int{http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Status     string `query:"status"`
		Priority   string `query:"priority"`
		AssigneeID string `query:"assignee_id"`
		ParentID   string `query:"parent_id"`
		DueOn      string `query:"due_on"`
		DueBefore  string `query:"due_before"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body TaskList `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, callerFromContext(ctx), engine.TaskListOptions{
			ProjectID:  input.ProjectID,
			Status:     input.Status,
			Priority:   input.Priority,
			AssigneeID: input.AssigneeID,
			ParentID:   input.ParentID,
			DueOn:      input.DueOn,
			DueBefore:  input.DueBefore,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body TaskList `json:"body"`
		}{Body: TaskList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		t, err := e.GetTask(ctx, callerFromContext(ctx), input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		t, err := e.UpdateTask(ctx, callerFromContext(ctx), input.TaskID, input.Body.patch())
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Change task status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   ChangeStatusRequest `json:"body"`
	}) (*taskBody, error) {
		t, err := e.ChangeStatus(ctx, callerFromContext(ctx), input.TaskID, input.Body.Status)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		if err := e.DeleteTask(ctx, callerFromContext(ctx), input.TaskID); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})
}

// registerTaskLinks covers assignees, dependencies and completion roll-up.
func registerTaskLinks(api huma.API, e engine.Engine) {
	type assigneeInput struct {
		TaskID  string `path:"task_id"`
		ActorID string `path:"actor_id"`
	}
	type changedOutput struct {
		Body ChangedResponse `json:"body"`
	}
	type dependencyInput struct {
		TaskID    string `path:"task_id"`
		DependsOn string `path:"depends_on"`
	}
	type dependencyOutput struct {
		Body DependencyResponse `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/assignees/{actor_id}",
		Summary:     "Assign a user; reports changed=false when already assigned",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *assigneeInput) (*changedOutput, error) {
		changed, err := e.AssignUser(ctx, callerFromContext(ctx), input.TaskID, input.ActorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &changedOutput{Body: ChangedResponse{Changed: changed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/assignees/{actor_id}",
		Summary:     "Unassign a user; reports changed=false when not assigned",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *assigneeInput) (*changedOutput, error) {
		changed, err := e.UnassignUser(ctx, callerFromContext(ctx), input.TaskID, input.ActorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &changedOutput{Body: ChangedResponse{Changed: changed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dependencies",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/dependencies",
		Summary:     "List transitive dependencies",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body StringList `json:"body"`
	}, error) {
		ids, err := e.ListDependencies(ctx, callerFromContext(ctx), input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body StringList `json:"body"`
		}{Body: StringList{Items: ids}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-dependency",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/dependencies/{depends_on}",
		Summary:     "Add dependency; changed=false when the edge already existed",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *dependencyInput) (*dependencyOutput, error) {
		created, err := e.AddDependency(ctx, callerFromContext(ctx), input.TaskID, input.DependsOn)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &dependencyOutput{Body: DependencyResponse{TaskID: input.TaskID, DependsOn: input.DependsOn, Changed: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-dependency",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/dependencies/{depends_on}",
		Summary:     "Remove dependency; changed=false when the edge did not exist",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *dependencyInput) (*dependencyOutput, error) {
		existed, err := e.RemoveDependency(ctx, callerFromContext(ctx), input.TaskID, input.DependsOn)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &dependencyOutput{Body: DependencyResponse{TaskID: input.TaskID, DependsOn: input.DependsOn, Changed: existed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-completion",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/completion",
		Summary:     "Rolled-up completion percentage",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		pct, err := e.Completion(ctx, callerFromContext(ctx), input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: CompletionResponse{TaskID: input.TaskID, Completion: pct}}, nil
	})
}

func registerOverview(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "overview",
		Method:      http.MethodGet,
		Path:        "/overview",
		Summary:     "Task counts, overdue and due-soon tasks for the caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Overview `json:"body"`
	}, error) {
		ov, err := e.Overview(ctx, callerFromContext(ctx))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Overview `json:"body"`
		}{Body: ov}, nil
	})
}
