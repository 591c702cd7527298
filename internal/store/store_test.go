package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"postulamatic-engine/internal/domain"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(db.Pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.Pool
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUpsertPostingKeepsIdentity(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p := domain.JobPosting{
		ExternalID: "abc123",
		Title:      "Desarrollador Python",
		Summary:    "v1",
		Emails:     []string{"rrhh@empresa.example"},
		SourceURL:  "https://portal.example/job_offer-1.html",
	}

	first, created, err := UpsertPosting(ctx, db, p)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !created {
		t.Error("first upsert should create")
	}

	p.Title = "Desarrollador Python Ssr"
	p.Summary = "v2"
	second, created, err := UpsertPosting(ctx, db, p)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Error("second upsert must not create")
	}

	if second.ID != first.ID {
		t.Errorf("row id changed: %d -> %d", first.ID, second.ID)
	}
	if second.Title != "Desarrollador Python Ssr" || second.Summary != "v2" {
		t.Errorf("mutable fields not refreshed: %+v", second)
	}
	if !second.FirstSeen.Equal(first.FirstSeen) {
		t.Errorf("first_seen changed: %v -> %v", first.FirstSeen, second.FirstSeen)
	}
	if len(second.Emails) != 1 || second.Emails[0] != "rrhh@empresa.example" {
		t.Errorf("emails = %v", second.Emails)
	}
}

func TestCreateOrGetApplicationIsIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p, _, err := UpsertPosting(ctx, db, domain.JobPosting{
		ExternalID: "abc", Title: "t", SourceURL: "u",
	})
	if err != nil {
		t.Fatalf("posting: %v", err)
	}

	a1, created, err := CreateOrGetApplication(ctx, db, "maria", p.ID, 85, "rrhh@x.example")
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	if a1.Status != domain.StatusQueued {
		t.Errorf("status = %s, want QUEUED", a1.Status)
	}

	if err := UpdateApplicationStatus(ctx, db, a1.ID, domain.StatusGenerating, ""); err != nil {
		t.Fatalf("to generating: %v", err)
	}

	// a second create must return the existing row untouched
	a2, created, err := CreateOrGetApplication(ctx, db, "maria", p.ID, 99, "otro@x.example")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Error("second create must not insert")
	}
	if a2.ID != a1.ID || a2.Status != domain.StatusGenerating || a2.Score != 85 {
		t.Errorf("existing row mutated: %+v", a2)
	}
}

func TestUpdateApplicationStatusGuardsGraph(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p, _, _ := UpsertPosting(ctx, db, domain.JobPosting{ExternalID: "a", Title: "t", SourceURL: "u"})
	app, _, _ := CreateOrGetApplication(ctx, db, "maria", p.ID, 80, "r@x.example")

	if err := UpdateApplicationStatus(ctx, db, app.ID, domain.StatusSent, ""); err == nil {
		t.Error("QUEUED -> SENT must be rejected")
	}

	steps := []domain.Status{domain.StatusGenerating, domain.StatusSending, domain.StatusSent}
	for _, st := range steps {
		if err := UpdateApplicationStatus(ctx, db, app.ID, st, ""); err != nil {
			t.Fatalf("to %s: %v", st, err)
		}
	}

	if err := UpdateApplicationStatus(ctx, db, app.ID, domain.StatusFailed, "nope"); err == nil {
		t.Error("SENT is terminal, transition must be rejected")
	}

	apps, _ := ListApplications(ctx, db, "maria", 10)
	if len(apps) != 1 || apps[0].Status != domain.StatusSent {
		t.Fatalf("unexpected applications: %+v", apps)
	}
	if apps[0].SentAt == nil {
		t.Error("sent_at not set on SENT")
	}
}

func TestRequeueApplication(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p, _, _ := UpsertPosting(ctx, db, domain.JobPosting{ExternalID: "a", Title: "t", SourceURL: "u"})
	app, _, _ := CreateOrGetApplication(ctx, db, "maria", p.ID, 80, "r@x.example")

	if err := RequeueApplication(ctx, db, app.ID); err == nil {
		t.Error("requeue of a non-terminal application must fail")
	}

	_ = UpdateApplicationStatus(ctx, db, app.ID, domain.StatusGenerating, "")
	_ = UpdateApplicationStatus(ctx, db, app.ID, domain.StatusFailed, "smtp: boom")

	if err := RequeueApplication(ctx, db, app.ID); err != nil {
		t.Fatalf("requeue failed application: %v", err)
	}
	apps, _ := ListApplications(ctx, db, "maria", 10)
	if apps[0].Status != domain.StatusQueued || apps[0].ErrorMsg != "" {
		t.Errorf("requeued row = %+v", apps[0])
	}

	// a sent application is never requeued
	_ = UpdateApplicationStatus(ctx, db, app.ID, domain.StatusGenerating, "")
	_ = UpdateApplicationStatus(ctx, db, app.ID, domain.StatusSending, "")
	_ = UpdateApplicationStatus(ctx, db, app.ID, domain.StatusSent, "")
	if err := RequeueApplication(ctx, db, app.ID); err == nil {
		t.Error("requeue of a SENT application must fail")
	}
}

func TestDailyQuota(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	day := DayKey(time.Now())

	if n, err := SentToday(ctx, db, "maria", day); err != nil || n != 0 {
		t.Fatalf("fresh counter = %d err=%v", n, err)
	}

	for i := 1; i <= 2; i++ {
		ok, count, err := ReserveDailySend(ctx, db, "maria", day, 2)
		if err != nil || !ok {
			t.Fatalf("reserve %d: ok=%v err=%v", i, ok, err)
		}
		if count != i {
			t.Errorf("count = %d, want %d", count, i)
		}
	}

	ok, count, err := ReserveDailySend(ctx, db, "maria", day, 2)
	if err != nil {
		t.Fatalf("reserve over limit: %v", err)
	}
	if ok || count != 2 {
		t.Errorf("over-limit reserve: ok=%v count=%d", ok, count)
	}

	if err := ReleaseDailySend(ctx, db, "maria", day); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, count, err = ReserveDailySend(ctx, db, "maria", day, 2)
	if err != nil || !ok || count != 2 {
		t.Errorf("reserve after release: ok=%v count=%d err=%v", ok, count, err)
	}

	// another user and another day have their own counters
	if ok, _, _ := ReserveDailySend(ctx, db, "juan", day, 2); !ok {
		t.Error("other user blocked by maria's quota")
	}
	if ok, _, _ := ReserveDailySend(ctx, db, "maria", DayKey(time.Now().Add(24*time.Hour)), 2); !ok {
		t.Error("tomorrow blocked by today's quota")
	}
}

func TestRunLogWriteOnce(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rl := domain.RunLog{
		RunID:      "run-1",
		UserID:     "maria",
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Scraped:    5,
		Sent:       2,
		Errors:     []string{"detail 404"},
	}
	if err := AppendRunLog(ctx, db, rl); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendRunLog(ctx, db, rl); err == nil {
		t.Error("duplicate run_id must be rejected")
	}

	logs, err := ListRunLogs(ctx, db, "maria", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].Scraped != 5 || logs[0].Sent != 2 || len(logs[0].Errors) != 1 {
		t.Errorf("round trip mismatch: %+v", logs[0])
	}
}
