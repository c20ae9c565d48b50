package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Priority  string   `json:"priority"`
	CreatedBy string   `json:"created_by"`
	Members   []string `json:"members"`
}

// Task represents the API task model (partial).
type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	ParentID    *string  `json:"parent_id"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	StartDate   *string  `json:"start_date"`
	DueDate     *string  `json:"due_date"`
	Completion  int      `json:"completion_percentage"`
	Assignees   []string `json:"assignees"`
	DependsOn   []string `json:"depends_on"`
	Overdue     bool     `json:"overdue"`
	CompletedAt *string  `json:"completed_at"`
}

// TaskFields are the optional attributes sent when creating or updating a
// task. Nil pointers are omitted.
type TaskFields struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	Completion  *int    `json:"completion_percentage,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
}

// MembershipChange reports which actors a membership call changed.
type MembershipChange struct {
	Changed   []string `json:"changed"`
	Unchanged []string `json:"unchanged"`
	Members   []string `json:"members"`
}

// AuditEntry represents an audit trail record.
type AuditEntry struct {
	Seq      int64          `json:"seq"`
	ID       string         `json:"id"`
	ActorID  *string        `json:"actor_id"`
	Action   string         `json:"action"`
	Metadata map[string]any `json:"metadata"`
	TS       string         `json:"ts"`
}

// Overview summarizes the caller's tasks.
type Overview struct {
	StatusCounts map[string]int `json:"status_counts"`
	Total        int            `json:"total"`
	Overdue      []Task         `json:"overdue"`
	DueSoon      []Task         `json:"due_soon"`
}

// Tokens is an access/refresh token pair.
type Tokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     map[string]string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges the client's API key for tokens and switches the client to
// bearer auth.
func (c *Client) Login(ctx context.Context) (Tokens, error) {
	var resp Tokens
	if err := c.do(ctx, http.MethodPost, "auth/login", map[string]any{"api_key": c.APIKey}, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.AccessToken
	return resp, nil
}

// Refresh rotates the refresh token. The old refresh token stops working.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	var resp Tokens
	if err := c.do(ctx, http.MethodPost, "auth/refresh", map[string]any{"refresh_token": refreshToken}, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.AccessToken
	return resp, nil
}

// CreateProject creates a project owned by the caller.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", map[string]any{"name": name, "description": description}, &resp)
	return resp, err
}

// AddMembers adds actors to a project.
func (c *Client) AddMembers(ctx context.Context, projectID string, actorIDs ...string) (MembershipChange, error) {
	var resp MembershipChange
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(projectID)+"/members", map[string]any{"actor_ids": actorIDs}, &resp)
	return resp, err
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID, title string, fields TaskFields) (Task, error) {
	fields.Title = &title
	var resp Task
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(projectID)+"/tasks", fields, &resp)
	return resp, err
}

// GetTask fetches a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, taskID string, fields TaskFields) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(taskID), fields, &resp)
	return resp, err
}

// ChangeStatus moves a task to status.
func (c *Client) ChangeStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/status", map[string]any{"status": status}, &resp)
	return resp, err
}

// ListTasks returns visible tasks matching the filters (project_id, status,
// priority, assignee_id, parent_id, due_on, due_before).
func (c *Client) ListTasks(ctx context.Context, filters map[string]string, limit int) ([]Task, error) {
	q := url.Values{}
	for k, v := range filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// AddDependency records that taskID depends on dependsOn. It reports whether
// a new edge was created.
func (c *Client) AddDependency(ctx context.Context, taskID, dependsOn string) (bool, error) {
	var resp struct {
		Changed bool `json:"changed"`
	}
	err := c.do(ctx, http.MethodPut, "tasks/"+url.PathEscape(taskID)+"/dependencies/"+url.PathEscape(dependsOn), nil, &resp)
	return resp.Changed, err
}

// Assign adds an assignee. It reports whether the actor was newly assigned.
func (c *Client) Assign(ctx context.Context, taskID, actorID string) (bool, error) {
	var resp struct {
		Changed bool `json:"changed"`
	}
	err := c.do(ctx, http.MethodPut, "tasks/"+url.PathEscape(taskID)+"/assignees/"+url.PathEscape(actorID), nil, &resp)
	return resp.Changed, err
}

// Overview returns counts, overdue and due-soon tasks for the caller.
func (c *Client) Overview(ctx context.Context) (Overview, error) {
	var resp Overview
	err := c.do(ctx, http.MethodGet, "overview", nil, &resp)
	return resp, err
}

// Audit lists audit entries older than afterSeq (0 for the newest page).
func (c *Client) Audit(ctx context.Context, action string, afterSeq int64, limit int) ([]AuditEntry, error) {
	q := url.Values{}
	if action != "" {
		q.Set("action", action)
	}
	if afterSeq > 0 {
		q.Set("after_seq", strconv.FormatInt(afterSeq, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "audit"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []AuditEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details struct {
				Fields map[string]string `json:"fields"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Fields = env.Error.Details.Fields
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
