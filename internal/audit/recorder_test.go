package audit

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/logging"
	"taskline/internal/migrate"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

type flakyStore struct {
	failures int
	calls    int
	next     Store
}

func (s *flakyStore) Insert(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("disk on fire")
	}
	return s.next.Insert(ctx, tx, e)
}

func fixedClock(ts ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := ts[i]
		if i < len(ts)-1 {
			i++
		}
		return t
	}
}

func countEntries(t *testing.T, conn *sql.DB) int {
	t.Helper()
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM audit_entries`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestRecordWritesEntry(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	rec := New(1, nil)
	rec.Now = fixedClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Record(ctx, tx, Entry{ActorID: "u", Action: domain.ActionTaskUpdate, Metadata: map[string]any{"task_id": "t1"}, Origin: "10.0.0.1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	var actor, action, meta, origin, ts string
	if err := conn.QueryRow(`SELECT actor_id, action, metadata_json, origin, ts FROM audit_entries`).Scan(&actor, &action, &meta, &origin, &ts); err != nil {
		t.Fatalf("select: %v", err)
	}
	if actor != "u" || action != "task_update" || origin != "10.0.0.1" {
		t.Fatalf("unexpected row %s %s %s", actor, action, origin)
	}
	if meta != `{"task_id":"t1"}` {
		t.Fatalf("metadata = %s", meta)
	}
	if ts != "2024-03-01T12:00:00.000000Z" {
		t.Fatalf("ts = %s", ts)
	}
}

func TestTimestampsNeverDecrease(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	later := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := New(0, nil)
	rec.Now = fixedClock(later, later.Add(-time.Hour))

	for i := 0; i < 2; i++ {
		tx, _ := conn.BeginTx(ctx, nil)
		if err := rec.Record(ctx, tx, Entry{ActorID: "u", Action: domain.ActionProjectUpdate}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := conn.Query(`SELECT ts FROM audit_entries ORDER BY seq`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var prev string
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			t.Fatal(err)
		}
		if ts < prev {
			t.Fatalf("ts went backwards: %s after %s", ts, prev)
		}
		prev = ts
	}
}

func TestRecordRetriesOnce(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	store := &flakyStore{failures: 1, next: SQLStore{}}
	rec := Recorder{Store: store, Retries: 1}

	tx, _ := conn.BeginTx(ctx, nil)
	defer tx.Rollback()
	if err := rec.Record(ctx, tx, Entry{ActorID: "u", Action: domain.ActionTaskCreate}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("calls = %d", store.calls)
	}
}

func TestRecordFailsAfterRetries(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	store := &flakyStore{failures: 10, next: SQLStore{}}
	rec := Recorder{Store: store, Retries: 1}

	tx, _ := conn.BeginTx(ctx, nil)
	defer tx.Rollback()
	err := rec.Record(ctx, tx, Entry{ActorID: "u", Action: domain.ActionTaskCreate})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("calls = %d", store.calls)
	}
}

func TestRecordTolerantSwallowsFailure(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	var buf bytes.Buffer
	rec := Recorder{Store: &flakyStore{failures: 10}, Retries: 1, Logger: logging.New(&buf, logging.Options{Level: "info"})}

	tx, _ := conn.BeginTx(ctx, nil)
	rec.RecordTolerant(ctx, tx, Entry{ActorID: "u", Action: domain.ActionLogin})
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit after tolerant failure: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("audit entry dropped")) {
		t.Fatalf("expected dropped entry to be logged, got %q", buf.String())
	}
	if n := countEntries(t, conn); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}
}

func TestUnknownActionRejected(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	tx, _ := conn.BeginTx(ctx, nil)
	defer tx.Rollback()
	if err := New(1, nil).Record(ctx, tx, Entry{Action: "telepathy"}); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
}

func TestEntriesAreImmutable(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	tx, _ := conn.BeginTx(ctx, nil)
	if err := New(0, nil).Record(ctx, tx, Entry{Action: domain.ActionLogin}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(`UPDATE audit_entries SET action='logout'`); err == nil {
		t.Fatalf("expected update to be rejected")
	}
	if _, err := conn.Exec(`DELETE FROM audit_entries`); err == nil {
		t.Fatalf("expected delete to be rejected")
	}
	if n := countEntries(t, conn); n != 1 {
		t.Fatalf("expected entry to survive, got %d", n)
	}
}
