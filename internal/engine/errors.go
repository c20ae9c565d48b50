package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"taskline/internal/audit"
	"taskline/internal/engine/auth"
	"taskline/internal/engine/graph"
	"taskline/internal/repo"
)

type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindNotFound         Kind = "not_found"
	KindValidationFailed Kind = "validation_failed"
	KindConflict         Kind = "conflict"
	KindAuditWriteFailed Kind = "audit_write_failed"
	KindUpstreamFailure  Kind = "upstream_failure"
)

// Error is the only error type use cases return.
type Error struct {
	Kind    Kind
	Message string
	// Fields maps an input field to why it was rejected.
	Fields map[string]string
	// Anonymous marks an unauthorized error caused by a missing principal.
	Anonymous bool
	Err       error
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindUpstreamFailure for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstreamFailure
}

func notFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id), Err: repo.ErrNotFound}
}

func conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg, Err: repo.ErrDuplicate}
}

// validation collects field errors; err reports them together.
type validation map[string]string

func (v validation) add(field, reason string) {
	if _, ok := v[field]; !ok {
		v[field] = reason
	}
}

func (v validation) err() error {
	if len(v) == 0 {
		return nil
	}
	return &Error{Kind: KindValidationFailed, Message: "validation failed", Fields: map[string]string(v)}
}

func invalid(field, reason string) *Error {
	return &Error{Kind: KindValidationFailed, Message: "validation failed", Fields: map[string]string{field: reason}}
}

// wrap converts an error from a lower layer into an *Error. what/id name the
// entity involved for not-found messages.
func wrap(err error, what, id string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var forbidden auth.ForbiddenError
	if errors.As(err, &forbidden) {
		return &Error{Kind: KindUnauthorized, Message: forbidden.Error(), Err: err}
	}
	if errors.As(err, new(auth.UnauthenticatedError)) {
		return &Error{Kind: KindUnauthorized, Message: "authentication required", Anonymous: true, Err: err}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(what, id)
	}
	if errors.Is(err, repo.ErrDuplicate) {
		return conflict(fmt.Sprintf("%s already exists", what))
	}
	if errors.Is(err, audit.ErrWriteFailed) {
		return &Error{Kind: KindAuditWriteFailed, Message: "audit trail unavailable; change not applied", Err: err}
	}
	var gerr *graph.Error
	if errors.As(err, &gerr) {
		return graphError(gerr)
	}
	return &Error{Kind: KindUpstreamFailure, Message: "storage unavailable", Err: err}
}

func graphError(g *graph.Error) *Error {
	switch {
	case errors.Is(g, graph.ErrSelfParent), errors.Is(g, graph.ErrCrossProjectParent), errors.Is(g, graph.ErrParentCycle):
		return &Error{Kind: KindValidationFailed, Message: "validation failed", Fields: map[string]string{"parent_id": g.Kind.Error()}, Err: g}
	case errors.Is(g, graph.ErrTraversalLimit):
		return &Error{Kind: KindUpstreamFailure, Message: "task graph too large to validate", Err: g}
	default:
		return &Error{Kind: KindValidationFailed, Message: "validation failed", Fields: map[string]string{"depends_on": g.Kind.Error()}, Err: g}
	}
}
