package cyclelog_test

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/livewatch/dbopen"
	"github.com/hazyhaar/livewatch/internal/cyclelog"

	_ "modernc.org/sqlite"
)

func newTestLog(t *testing.T) *cyclelog.Log {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(cyclelog.Schema))
	return cyclelog.New(db)
}

func TestRecordAndReadBack(t *testing.T) {
	// WHAT: a recorded cycle with session outcomes can be read back intact.
	// WHY: the log is only useful if the round trip preserves outcomes.
	log := newTestLog(t)
	ctx := context.Background()

	started := time.Now().Truncate(time.Millisecond)
	id, err := log.Record(ctx, &cyclelog.Cycle{
		StartedAt:      started,
		Duration:       1200 * time.Millisecond,
		SessionsActive: 3,
		SessionsParked: 1,
		RecordsTotal:   42,
		Inserted:       5,
		Updated:        2,
		Removed:        1,
		ExtractErrors:  1,
	}, []cyclelog.SessionOutcome{
		{Category: "football", State: "active", Records: 30, Duration: 400 * time.Millisecond},
		{Category: "tennis", State: "redirected", Redirected: true, Error: "redirect detected"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == "" {
		t.Fatal("Record returned empty cycle id")
	}

	cycles, err := log.RecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("got %d cycles, want 1", len(cycles))
	}
	c := cycles[0]
	if c.ID != id || c.RecordsTotal != 42 || c.Inserted != 5 || c.ExtractErrors != 1 {
		t.Errorf("cycle mismatch: %+v", c)
	}
	if !c.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", c.StartedAt, started)
	}

	outcomes, err := log.SessionHistory(ctx, "tennis", 10)
	if err != nil {
		t.Fatalf("SessionHistory: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("got %d tennis outcomes, want 1", len(outcomes))
	}
	if !outcomes[0].Redirected || outcomes[0].Error != "redirect detected" {
		t.Errorf("outcome mismatch: %+v", outcomes[0])
	}
}

func TestRecentCyclesOrder(t *testing.T) {
	// WHAT: RecentCycles returns newest first and honors the limit.
	log := newTestLog(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := log.Record(ctx, &cyclelog.Cycle{
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
			RecordsTotal: i,
		}, nil)
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	cycles, err := log.RecentCycles(ctx, 3)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(cycles) != 3 {
		t.Fatalf("got %d cycles, want 3", len(cycles))
	}
	if cycles[0].RecordsTotal != 4 || cycles[2].RecordsTotal != 2 {
		t.Errorf("unexpected order: %d, %d, %d",
			cycles[0].RecordsTotal, cycles[1].RecordsTotal, cycles[2].RecordsTotal)
	}
}

func TestPruneCascades(t *testing.T) {
	// WHAT: pruning old cycles removes their session_log rows too.
	// WHY: session_log has no independent retention; it rides the cycle's.
	log := newTestLog(t)
	ctx := context.Background()
	now := time.Now()

	_, err := log.Record(ctx, &cyclelog.Cycle{StartedAt: now.Add(-48 * time.Hour)},
		[]cyclelog.SessionOutcome{{Category: "football", State: "active"}})
	if err != nil {
		t.Fatalf("Record old: %v", err)
	}
	_, err = log.Record(ctx, &cyclelog.Cycle{StartedAt: now},
		[]cyclelog.SessionOutcome{{Category: "football", State: "active"}})
	if err != nil {
		t.Fatalf("Record fresh: %v", err)
	}

	if err := log.Prune(ctx, 24*time.Hour, now); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	cycles, err := log.RecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("got %d cycles after prune, want 1", len(cycles))
	}
	outcomes, err := log.SessionHistory(ctx, "football", 10)
	if err != nil {
		t.Fatalf("SessionHistory: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes after prune, want 1 (cascade failed)", len(outcomes))
	}
}
