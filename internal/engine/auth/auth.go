// Package auth decides whether a principal may perform an action on a
// resource. Decisions are pure: every fact the policy needs travels in the
// Request, so callers load it inside the same transaction as the write.
package auth

import (
	"fmt"
	"strings"
)

// Principal is an authenticated caller. The zero value is anonymous.
type Principal struct {
	ID    string
	Roles []string
	Admin bool
}

func (p Principal) Authenticated() bool { return p.ID != "" }

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Elevated reports administrator rights.
func (p Principal) Elevated() bool { return p.Admin || p.HasRole(RoleAdministrator) }

// RoleAdministrator is the role id that grants elevated rights.
const RoleAdministrator = "admin"

type Action string

const (
	ActionRead          Action = "read"
	ActionCreate        Action = "create"
	ActionWrite         Action = "write"
	ActionDelete        Action = "delete"
	ActionStatusChange  Action = "status_change"
	ActionManageMembers Action = "manage_members"
	ActionManageRoles   Action = "manage_roles"
)

// Resource is the closed set of things a policy rule can target.
type Resource interface {
	kind() string
}

// Project is an existing project.
type Project struct {
	ID        string
	CreatorID string
	Members   []string
}

// ProjectScope targets the contents of a project, e.g. creating a task in it.
type ProjectScope struct {
	ProjectID string
	CreatorID string
	Members   []string
}

// Task is an existing task with its project's membership.
type Task struct {
	ID             string
	ProjectID      string
	CreatorID      string
	ProjectMembers []string
	Assignees      []string
}

// Profile is an actor's own account record.
type Profile struct {
	OwnerID string
}

// AuditLog is the audit trail as a whole.
type AuditLog struct{}

// RoleAdmin is the global role catalog and its grants.
type RoleAdmin struct{}

func (Project) kind() string      { return "project" }
func (ProjectScope) kind() string { return "project_scope" }
func (Task) kind() string         { return "task" }
func (Profile) kind() string      { return "profile" }
func (AuditLog) kind() string     { return "audit_log" }
func (RoleAdmin) kind() string    { return "role_admin" }

// Requirement is an extra condition supplied by the caller for one check.
type Requirement struct {
	Role string
}

type Request struct {
	Principal Principal
	Action    Action
	Resource  Resource
	// Fields lists the attributes a write touches.
	Fields  []string
	Require Requirement
}

type Decision struct {
	Allowed bool
	// Anonymous is set when the request was denied for lack of a principal.
	Anonymous bool
	Reason    string
}

// Err returns nil for an allow and a typed error otherwise.
func (d Decision) Err(req Request) error {
	if d.Allowed {
		return nil
	}
	if d.Anonymous {
		return UnauthenticatedError{}
	}
	kind := ""
	if req.Resource != nil {
		kind = req.Resource.kind()
	}
	return ForbiddenError{Action: string(req.Action), Resource: kind, Reason: d.Reason}
}

// UnauthenticatedError means no principal was supplied.
type UnauthenticatedError struct{}

func (UnauthenticatedError) Error() string { return "authentication required" }

// ForbiddenError indicates an authenticated principal lacks rights.
type ForbiddenError struct {
	Action   string
	Resource string
	Reason   string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s on %s not permitted", e.Action, e.Resource)
	}
	return fmt.Sprintf("%s on %s not permitted: %s", e.Action, e.Resource, e.Reason)
}

// Policy holds the configurable parts of the rules.
type Policy struct {
	AllowAnonymousTaskRead bool
	// AssigneeFields are task fields assignees may write without membership.
	AssigneeFields []string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }
func anonymous() Decision         { return Decision{Anonymous: true, Reason: "authentication required"} }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Authorize evaluates req. It never fails; a malformed request is a deny.
func (p Policy) Authorize(req Request) Decision {
	pr := req.Principal
	if !pr.Authenticated() {
		if _, ok := req.Resource.(Task); ok && req.Action == ActionRead && p.AllowAnonymousTaskRead {
			return allow()
		}
		return anonymous()
	}
	if role := strings.TrimSpace(req.Require.Role); role != "" && !pr.HasRole(role) && !pr.Elevated() {
		return deny("role " + role + " required")
	}
	switch r := req.Resource.(type) {
	case Project:
		return p.project(pr, req.Action, r)
	case ProjectScope:
		return p.projectScope(pr, req.Action, r)
	case Task:
		return p.task(pr, req, r)
	case Profile:
		return p.profile(pr, req.Action, r)
	case AuditLog:
		if req.Action == ActionRead && pr.Elevated() {
			return allow()
		}
		return deny("audit log is restricted to administrators")
	case RoleAdmin:
		if pr.Elevated() {
			return allow()
		}
		return deny("role management is restricted to administrators")
	default:
		return deny("unknown resource")
	}
}

func (p Policy) project(pr Principal, action Action, r Project) Decision {
	switch action {
	case ActionRead, ActionCreate:
		return allow()
	case ActionWrite, ActionDelete, ActionManageMembers, ActionStatusChange:
		if pr.ID == r.CreatorID || contains(r.Members, pr.ID) {
			return allow()
		}
		return deny("not a project member")
	default:
		return deny("unsupported action")
	}
}

func (p Policy) projectScope(pr Principal, action Action, r ProjectScope) Decision {
	switch action {
	case ActionRead, ActionCreate, ActionWrite:
		if pr.ID == r.CreatorID || contains(r.Members, pr.ID) {
			return allow()
		}
		return deny("not a project member")
	default:
		return deny("unsupported action")
	}
}

func (p Policy) task(pr Principal, req Request, r Task) Decision {
	switch req.Action {
	case ActionRead:
		return allow()
	case ActionWrite, ActionStatusChange:
		if pr.ID == r.CreatorID || contains(r.ProjectMembers, pr.ID) {
			return allow()
		}
		if contains(r.Assignees, pr.ID) {
			if len(req.Fields) == 0 {
				return deny("assignees must name the fields they change")
			}
			for _, f := range req.Fields {
				if !contains(p.AssigneeFields, f) {
					return deny("assignees may not change " + f)
				}
			}
			return allow()
		}
		return deny("not a project member, creator or assignee")
	case ActionDelete:
		if pr.ID == r.CreatorID || contains(r.ProjectMembers, pr.ID) {
			return allow()
		}
		return deny("not a project member")
	default:
		return deny("unsupported action")
	}
}

func (p Policy) profile(pr Principal, action Action, r Profile) Decision {
	switch action {
	case ActionRead:
		return allow()
	case ActionWrite:
		if pr.ID == r.OwnerID || pr.Elevated() {
			return allow()
		}
		return deny("only the owner or an administrator may edit a profile")
	default:
		return deny("unsupported action")
	}
}
