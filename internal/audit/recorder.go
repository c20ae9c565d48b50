// Package audit appends immutable audit entries inside the caller's
// transaction.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/logging"
)

// ErrWriteFailed is returned when an entry could not be stored after retries.
var ErrWriteFailed = errors.New("audit write failed")

// Entry is what a use case records.
type Entry struct {
	ActorID  string
	Action   string
	Metadata map[string]any
	Origin   string
}

// Store persists one audit row in tx.
type Store interface {
	Insert(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) error
}

// SQLStore writes to the audit_entries table.
type SQLStore struct{}

// Insert stores e, moving its timestamp forward when an earlier insert holds
// a later one so ts never decreases in seq order.
func (SQLStore) Insert(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) error {
	var last sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT MAX(ts) FROM audit_entries`).Scan(&last); err != nil {
		return err
	}
	ts := e.TS
	if last.Valid && last.String > ts {
		ts = last.String
	}
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	var actor any
	if e.ActorID != nil && *e.ActorID != "" {
		actor = *e.ActorID
	}
	var origin any
	if e.Origin != "" {
		origin = e.Origin
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_entries(id,actor_id,action,metadata_json,origin,ts) VALUES (?,?,?,?,?,?)`,
		e.ID, actor, e.Action, string(data), origin, ts)
	return err
}

type Recorder struct {
	Store   Store
	Now     func() time.Time
	Retries int
	Logger  *log.Logger
}

func New(retries int, logger *log.Logger) Recorder {
	return Recorder{Store: SQLStore{}, Now: time.Now, Retries: retries, Logger: logger}
}

func (r Recorder) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logging.Discard()
}

func (r Recorder) entry(e Entry) domain.AuditEntry {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	out := domain.AuditEntry{
		ID:       uuid.NewString(),
		Action:   e.Action,
		Metadata: e.Metadata,
		Origin:   e.Origin,
		TS:       domain.FormatTime(now()),
	}
	if e.ActorID != "" {
		actor := e.ActorID
		out.ActorID = &actor
	}
	return out
}

func (r Recorder) write(ctx context.Context, tx *sql.Tx, e Entry) error {
	if !domain.Contains(domain.AuditActions, e.Action) {
		return fmt.Errorf("%w: unknown action %q", ErrWriteFailed, e.Action)
	}
	store := r.Store
	if store == nil {
		store = SQLStore{}
	}
	row := r.entry(e)
	var err error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, ctxErr)
		}
		if err = store.Insert(ctx, tx, row); err == nil {
			return nil
		}
		r.logger().Warn("audit insert failed", "action", e.Action, "attempt", attempt+1, "err", err)
	}
	return fmt.Errorf("%w: %v", ErrWriteFailed, err)
}

// Record writes e in tx. A failure after retries is returned wrapping
// ErrWriteFailed and the caller must roll back.
func (r Recorder) Record(ctx context.Context, tx *sql.Tx, e Entry) error {
	return r.write(ctx, tx, e)
}

// RecordTolerant writes e in tx and only logs a failure. It is used for
// authentication events, which must not fail because the trail is down.
func (r Recorder) RecordTolerant(ctx context.Context, tx *sql.Tx, e Entry) {
	if err := r.write(ctx, tx, e); err != nil {
		r.logger().Error("audit entry dropped", "action", e.Action, "actor", e.ActorID, "err", err)
	}
}
