package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/changegate/changegate/internal/ledger"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(db)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return s
}

func sampleMod(id string, created time.Time) ledger.Modification {
	return ledger.Modification{
		ID:              id,
		TargetPath:      "tools/greet.star",
		OriginalContent: "def greet():\n    pass\n",
		ProposedContent: "def greet():\n    return 1\n",
		Status:          ledger.StatusProposed,
		CreatedAt:       created,
	}
}

func TestCreateGetUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m := sampleMod("mod-1", created)
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, "mod-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TargetPath != m.TargetPath || got.Status != ledger.StatusProposed {
		t.Errorf("got %+v", got)
	}
	if !got.DecidedAt.IsZero() || !got.AppliedAt.IsZero() {
		t.Errorf("unset timestamps came back non-zero: %v %v", got.DecidedAt, got.AppliedAt)
	}

	got.Status = ledger.StatusValidating
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got.Status = ledger.StatusBlocked
	got.DecisionOutcome = "block"
	got.DecisionRationale = "severe finding"
	got.DecidedAt = created.Add(time.Minute)
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err = s.Get(ctx, "mod-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != ledger.StatusBlocked || got.DecisionOutcome != "block" {
		t.Errorf("update lost fields: %+v", got)
	}
	if !got.DecidedAt.Equal(created.Add(time.Minute)) {
		t.Errorf("decided_at = %v", got.DecidedAt)
	}
}

func TestGetMissingIsErrNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateMissingIsErrNotFound(t *testing.T) {
	s := testStore(t)
	m := sampleMod("nope", time.Now().UTC())
	if err := s.Update(context.Background(), m); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"mod-a", "mod-b", "mod-c"} {
		m := sampleMod(id, base.Add(time.Duration(i)*time.Minute))
		if id == "mod-b" {
			m.Status = ledger.StatusApplied
			m.AppliedAt = m.CreatedAt
		}
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	all, err := s.List(ctx, ledger.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "mod-c" {
		t.Errorf("list not newest-first: %+v", all)
	}

	applied, err := s.List(ctx, ledger.Filter{Status: ledger.StatusApplied, TargetPath: "tools/greet.star"})
	if err != nil {
		t.Fatalf("list applied: %v", err)
	}
	if len(applied) != 1 || applied[0].ID != "mod-b" {
		t.Errorf("applied = %+v", applied)
	}

	limited, err := s.List(ctx, ledger.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: %d records", len(limited))
	}
}
