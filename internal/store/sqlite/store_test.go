package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func openTest(t *testing.T, c *testClock) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "aicib.db"), c.now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	c := &testClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)}
	s := openTest(t, c)

	sess, err := s.GetActiveSession(ctx)
	if err != nil || sess != nil {
		t.Fatalf("fresh db: GetActiveSession = %v, %v; want nil, nil", sess, err)
	}

	first, err := s.StartSession(ctx, "eng-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	c.t = c.t.Add(time.Minute)
	second, err := s.StartSession(ctx, "eng-2")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	active, err := s.GetActiveSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != second.ID || active.EngineSessionID != "eng-2" {
		t.Fatalf("active = %+v, want second session", active)
	}
	if err := s.EndSession(ctx, first.ID); !errors.Is(err, store.ErrNoActiveSession) {
		t.Errorf("ending superseded session: err = %v, want ErrNoActiveSession", err)
	}

	if err := s.UpdateEngineSession(ctx, second.ID, "eng-3"); err != nil {
		t.Fatal(err)
	}
	active, _ = s.GetActiveSession(ctx)
	if active.EngineSessionID != "eng-3" {
		t.Errorf("EngineSessionID = %q, want eng-3", active.EngineSessionID)
	}

	if err := s.EndSession(ctx, second.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if active, _ := s.GetActiveSession(ctx); active != nil {
		t.Errorf("session still active after EndSession: %+v", active)
	}
}

func TestCostWindows(t *testing.T) {
	ctx := context.Background()
	c := &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)}
	s := openTest(t, c)
	if _, err := s.StartSession(ctx, "eng"); err != nil {
		t.Fatal(err)
	}

	record := func(cost float64, actor string) {
		t.Helper()
		if err := s.RecordRunCosts(ctx, &engine.Result{CostUSD: cost, NumTurns: 1}, actor, "m"); err != nil {
			t.Fatalf("RecordRunCosts: %v", err)
		}
	}
	// Previous month.
	c.t = time.Date(2026, 2, 27, 12, 0, 0, 0, time.Local)
	record(5, "ceo")
	// Earlier this month.
	c.t = time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local)
	record(1.5, "ceo")
	// Today.
	c.t = time.Date(2026, 3, 9, 8, 0, 0, 0, time.Local)
	record(0.25, "classifier")
	record(0.75, "ceo")

	today, err := s.CostToday(ctx)
	if err != nil || today != 1.0 {
		t.Errorf("CostToday = %v, %v; want 1.0", today, err)
	}
	month, err := s.CostThisMonth(ctx)
	if err != nil || month != 2.5 {
		t.Errorf("CostThisMonth = %v, %v; want 2.5", month, err)
	}

	byActor, err := s.CostsByActor(ctx, store.MonthStart(c.t))
	if err != nil {
		t.Fatal(err)
	}
	if len(byActor) != 2 || byActor[0].Actor != "ceo" || byActor[0].CostUSD != 2.25 || byActor[0].Runs != 2 {
		t.Errorf("CostsByActor = %+v", byActor)
	}
}

func TestRecordRunCostsNilResult(t *testing.T) {
	s := openTest(t, &testClock{t: time.Now()})
	if err := s.RecordRunCosts(context.Background(), nil, "ceo", "m"); err != nil {
		t.Errorf("nil result should be ignored, got %v", err)
	}
}

func TestBindings(t *testing.T) {
	ctx := context.Background()
	c := &testClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	s := openTest(t, c)

	b, err := s.GetBinding(ctx, "owner", "cto")
	if err != nil || b != nil {
		t.Fatalf("GetBinding on empty = %v, %v", b, err)
	}

	if err := s.UpsertBinding(ctx, store.ChatBinding{OwnerSession: "owner", AgentKey: "cto", Channel: "c1", ExternalSessionID: "x1"}); err != nil {
		t.Fatal(err)
	}
	later := c.t.Add(time.Hour)
	if err := s.UpsertBinding(ctx, store.ChatBinding{OwnerSession: "owner", AgentKey: "cto", Channel: "c1", ExternalSessionID: "x2", LastActivity: later}); err != nil {
		t.Fatal(err)
	}

	b, err = s.GetBinding(ctx, "owner", "cto")
	if err != nil {
		t.Fatal(err)
	}
	if b.ExternalSessionID != "x2" || !b.LastActivity.Equal(later) {
		t.Errorf("binding = %+v", b)
	}
	if other, _ := s.GetBinding(ctx, "owner", "cfo"); other != nil {
		t.Errorf("binding leaked across agents: %+v", other)
	}
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, &testClock{t: time.Now()})

	if err := s.RecordJournalEntry(ctx, "ship the launch post", &engine.Result{Text: "Posted.", CostUSD: 0.4}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJournalEntry(ctx, "no result", nil); err != nil {
		t.Fatal(err)
	}
	entries, err := s.JournalEntries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Directive != "no result" || entries[1].Summary != "Posted." {
		t.Errorf("entries = %+v", entries)
	}
}
