package domain

import "time"

// TimeLayout is the fixed-width UTC layout used for every stored timestamp so
// lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// DateLayout is the calendar date layout for start, end and due dates.
const DateLayout = "2006-01-02"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status" enum:"planned,in_progress,on_hold,completed,archived"`
	Priority    string   `json:"priority" enum:"low,medium,high,critical"`
	StartDate   *string  `json:"start_date,omitempty" format:"date"`
	EndDate     *string  `json:"end_date,omitempty" format:"date"`
	CreatedBy   string   `json:"created_by"`
	Members     []string `json:"members,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type Membership struct {
	ProjectID string `json:"project_id"`
	ActorID   string `json:"actor_id"`
	AddedAt   string `json:"added_at" format:"date-time"`
}

type Label struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	ParentID    *string  `json:"parent_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status" enum:"todo,in_progress,in_review,blocked,completed"`
	Priority    string   `json:"priority" enum:"low,medium,high,critical"`
	StartDate   *string  `json:"start_date,omitempty" format:"date"`
	DueDate     *string  `json:"due_date,omitempty" format:"date"`
	Completion  int      `json:"completion_percentage"`
	CreatedBy   string   `json:"created_by"`
	Assignees   []string `json:"assignees,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Overdue     bool     `json:"overdue"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
}

type AuditEntry struct {
	Seq      int64          `json:"seq"`
	ID       string         `json:"id"`
	ActorID  *string        `json:"actor_id,omitempty"`
	Action   string         `json:"action"`
	Metadata map[string]any `json:"metadata"`
	Origin   string         `json:"origin,omitempty"`
	TS       string         `json:"ts" format:"date-time"`
}

type Actor struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at,omitempty" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Overview summarizes the tasks visible to one principal.
type Overview struct {
	StatusCounts map[string]int `json:"status_counts"`
	Total        int            `json:"total"`
	Overdue      []Task         `json:"overdue"`
	DueSoon      []Task         `json:"due_soon"`
}

// Project statuses.
const (
	ProjectPlanned    = "planned"
	ProjectInProgress = "in_progress"
	ProjectOnHold     = "on_hold"
	ProjectCompleted  = "completed"
	ProjectArchived   = "archived"
)

// Task statuses.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskInReview   = "in_review"
	TaskBlocked    = "blocked"
	TaskCompleted  = "completed"
)

// Priorities shared by projects and tasks.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

const DefaultLabelColor = "#808080"

var (
	ProjectStatuses = []string{ProjectPlanned, ProjectInProgress, ProjectOnHold, ProjectCompleted, ProjectArchived}
	TaskStatuses    = []string{TaskTodo, TaskInProgress, TaskInReview, TaskBlocked, TaskCompleted}
	Priorities      = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
)

// Audit actions.
const (
	ActionLogin            = "login"
	ActionLogout           = "logout"
	ActionProfileUpdate    = "profile_update"
	ActionRoleUpdate       = "role_update"
	ActionPermissionUpdate = "permission_update"
	ActionAPIKeyCreate     = "api_key_create"
	ActionAPIKeyRevoke     = "api_key_revoke"
	ActionProjectCreate    = "project_create"
	ActionProjectUpdate    = "project_update"
	ActionProjectArchive   = "project_archive"
	ActionProjectDelete    = "project_delete"
	ActionMemberAdd        = "member_add"
	ActionMemberRemove     = "member_remove"
	ActionLabelCreate      = "label_create"
	ActionLabelDelete      = "label_delete"
	ActionTaskCreate       = "task_create"
	ActionTaskUpdate       = "task_update"
	ActionTaskDelete       = "task_delete"
	ActionTaskStatusChange = "task_status_change"
	ActionTaskAssign       = "task_assign"
	ActionTaskUnassign     = "task_unassign"
	ActionDependencyAdd    = "dependency_add"
	ActionDependencyRemove = "dependency_remove"
)

var AuditActions = []string{
	ActionLogin, ActionLogout, ActionProfileUpdate, ActionRoleUpdate, ActionPermissionUpdate,
	ActionAPIKeyCreate, ActionAPIKeyRevoke, ActionProjectCreate, ActionProjectUpdate, ActionProjectArchive,
	ActionProjectDelete, ActionMemberAdd, ActionMemberRemove, ActionLabelCreate, ActionLabelDelete,
	ActionTaskCreate, ActionTaskUpdate, ActionTaskDelete, ActionTaskStatusChange, ActionTaskAssign,
	ActionTaskUnassign, ActionDependencyAdd, ActionDependencyRemove,
}

// Contains reports whether v is one of values.
func Contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
