package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskline/internal/domain"
	"taskline/internal/engine"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type projectBody struct {
	Body domain.Project `json:"body"`
}

var writeErrors = []int{
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*projectBody, error) {
		p, err := e.CreateProject(ctx, callerFromContext(ctx), input.Body.input())
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects the caller created or belongs to",
		Errors:      []int{http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Priority string `query:"priority"`
		Member   string `query:"member"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body ProjectList `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx, callerFromContext(ctx), engine.ProjectListOptions{
			Status:   input.Status,
			Priority: input.Priority,
			Member:   input.Member,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body ProjectList `json:"body"`
		}{Body: ProjectList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*projectBody, error) {
		p, err := e.GetProject(ctx, callerFromContext(ctx), input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*projectBody, error) {
		p, err := e.UpdateProject(ctx, callerFromContext(ctx), input.ProjectID, input.Body.patch())
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/archive",
		Summary:     "Archive project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *projectPath) (*projectBody, error) {
		p, err := e.ArchiveProject(ctx, callerFromContext(ctx), input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project with its tasks",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		if err := e.DeleteProject(ctx, callerFromContext(ctx), input.ProjectID); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	type membersInput struct {
		ProjectID string         `path:"project_id"`
		Body      MembersRequest `json:"body"`
	}
	type membersOutput struct {
		Body engine.MembershipChange `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List project members",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body MemberList `json:"body"`
	}, error) {
		items, err := e.ListMembers(ctx, callerFromContext(ctx), input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body MemberList `json:"body"`
		}{Body: MemberList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-members",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/members",
		Summary:     "Add project members",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *membersInput) (*membersOutput, error) {
		res, err := e.AddMembers(ctx, callerFromContext(ctx), input.ProjectID, input.Body.ActorIDs)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &membersOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-members",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/members/remove",
		Summary:     "Remove project members; the creator is kept",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *membersInput) (*membersOutput, error) {
		res, err := e.RemoveMembers(ctx, callerFromContext(ctx), input.ProjectID, input.Body.ActorIDs)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &membersOutput{Body: res}, nil
	})
}

func registerLabels(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-labels",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/labels",
		Summary:     "List project labels",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body LabelList `json:"body"`
	}, error) {
		items, err := e.ListLabels(ctx, callerFromContext(ctx), input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body LabelList `json:"body"`
		}{Body: LabelList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-label",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/labels",
		Summary:       "Create label",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateLabelRequest `json:"body"`
	}) (*struct {
		Body domain.Label `json:"body"`
	}, error) {
		l, err := e.CreateLabel(ctx, callerFromContext(ctx), input.ProjectID, engine.LabelInput{Name: input.Body.Name, Color: input.Body.Color})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Label `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-label",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/labels/{label_id}",
		Summary:       "Delete label",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		LabelID   string `path:"label_id"`
	}) (*struct{}, error) {
		if err := e.DeleteLabel(ctx, callerFromContext(ctx), input.ProjectID, input.LabelID); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})
}
