package server

import (
	"taskline/internal/domain"
	"taskline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	StartDate   *string `json:"start_date,omitempty" doc:"YYYY-MM-DD"`
	EndDate     *string `json:"end_date,omitempty" doc:"YYYY-MM-DD"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	StartDate   *string `json:"start_date,omitempty" doc:"YYYY-MM-DD; empty string clears"`
	EndDate     *string `json:"end_date,omitempty" doc:"YYYY-MM-DD; empty string clears"`
}

type MembersRequest struct {
	ActorIDs []string `json:"actor_ids"`
}

type CreateLabelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty" example:"#1A2B3C"`
}

type CreateTaskRequest struct {
	ParentID    *string  `json:"parent_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	StartDate   *string  `json:"start_date,omitempty" doc:"YYYY-MM-DD"`
	DueDate     *string  `json:"due_date,omitempty" doc:"YYYY-MM-DD"`
	Completion  *int     `json:"completion_percentage,omitempty"`
	Assignees   []string `json:"assignees,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	StartDate   *string `json:"start_date,omitempty" doc:"YYYY-MM-DD; empty string clears"`
	DueDate     *string `json:"due_date,omitempty" doc:"YYYY-MM-DD; empty string clears"`
	Completion  *int    `json:"completion_percentage,omitempty"`
	ParentID    *string `json:"parent_id,omitempty" doc:"empty string detaches the task"`
}

type ChangeStatusRequest struct {
	Status string `json:"status"`
}

type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Email       *string `json:"email,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type LoginRequest struct {
	APIKey string `json:"api_key"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Response payloads

type ProjectList struct {
	Items []domain.Project `json:"items"`
}

type TaskList struct {
	Items []domain.Task `json:"items"`
}

type MemberList struct {
	Items []domain.Membership `json:"items"`
}

type LabelList struct {
	Items []domain.Label `json:"items"`
}

type AuditList struct {
	Items []domain.AuditEntry `json:"items"`
}

type APIKeyList struct {
	Items []domain.APIKey `json:"items"`
}

type StringList struct {
	Items []string `json:"items"`
}

type ChangedResponse struct {
	Changed bool `json:"changed"`
}

type DependencyResponse struct {
	TaskID    string `json:"task_id"`
	DependsOn string `json:"depends_on"`
	// Changed is true when the edge was created (add) or existed (remove).
	Changed bool `json:"changed"`
}

type CompletionResponse struct {
	TaskID     string `json:"task_id"`
	Completion int    `json:"completion_percentage"`
}

func (r CreateProjectRequest) input() engine.ProjectInput {
	return engine.ProjectInput{
		Name:        r.Name,
		Description: r.Description,
		Status:      r.Status,
		Priority:    r.Priority,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
	}
}

func (r UpdateProjectRequest) patch() engine.ProjectPatch {
	return engine.ProjectPatch{
		Name:        r.Name,
		Description: r.Description,
		Status:      r.Status,
		Priority:    r.Priority,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
	}
}

func (r CreateTaskRequest) input(projectID string) engine.TaskInput {
	return engine.TaskInput{
		ProjectID:   projectID,
		ParentID:    r.ParentID,
		Title:       r.Title,
		Description: r.Description,
		Status:      r.Status,
		Priority:    r.Priority,
		StartDate:   r.StartDate,
		DueDate:     r.DueDate,
		Completion:  r.Completion,
		Assignees:   r.Assignees,
		DependsOn:   r.DependsOn,
	}
}

func (r UpdateTaskRequest) patch() engine.TaskPatch {
	return engine.TaskPatch{
		Title:       r.Title,
		Description: r.Description,
		Status:      r.Status,
		Priority:    r.Priority,
		StartDate:   r.StartDate,
		DueDate:     r.DueDate,
		Completion:  r.Completion,
		ParentID:    r.ParentID,
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
