package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"targetwatch/internal/domain"
)

func record(id, ticker string, outcome domain.TransitionOutcome) *domain.TransitionRecord {
	return &domain.TransitionRecord{
		ID:        id,
		Ticker:    ticker,
		Op:        domain.OpToggleStandard,
		Kind:      domain.KindTargetPct,
		Threshold: 5,
		Active:    outcome == domain.OutcomeOK,
		Outcome:   outcome,
		StartedAt: time.UnixMilli(1700000000000),
		Duration:  120 * time.Millisecond,
	}
}

func TestSQLiteRepoRecordTransition(t *testing.T) {
	dbPath := "test_transitions.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.RecordTransition(ctx, record("t1", "ACME", domain.OutcomeOK)); err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}

	got, err := repo.ListTransitions(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(got))
	}
	rec := got[0]
	if rec.ID != "t1" || rec.Op != domain.OpToggleStandard || rec.Kind != domain.KindTargetPct {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.Active || rec.Threshold != 5 || rec.Duration != 120*time.Millisecond {
		t.Errorf("unexpected values: %+v", rec)
	}
	if rec.StartedAt.UnixMilli() != 1700000000000 {
		t.Errorf("expected started_ms round trip, got %d", rec.StartedAt.UnixMilli())
	}
}

func TestSQLiteRepoListTransitionsOrder(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "journal.db")

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	repo.RecordTransition(ctx, record("a", "ACME", domain.OutcomeOK))
	repo.RecordTransition(ctx, record("b", "BETA", domain.OutcomeFailed))
	repo.RecordTransition(ctx, record("c", "ACME", domain.OutcomePartial))

	acme, err := repo.ListTransitions(ctx, "ACME", 10)
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(acme) != 2 || acme[0].ID != "c" || acme[1].ID != "a" {
		t.Errorf("expected [c a], got %+v", acme)
	}

	all, err := repo.ListTransitions(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "c" {
		t.Errorf("expected newest two, got %+v", all)
	}
}

func TestSQLiteRepoDuplicateID(t *testing.T) {
	dbPath := "test_dup.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.RecordTransition(ctx, record("same", "ACME", domain.OutcomeOK)); err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}
	if err := repo.RecordTransition(ctx, record("same", "ACME", domain.OutcomeOK)); err == nil {
		t.Error("expected unique constraint error")
	}
}
