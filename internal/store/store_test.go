package store

import (
	"testing"
	"time"

	"github.com/hazyhaar/livewatch/internal/feed"
)

func rec(key, category, home, away string) *feed.Record {
	return &feed.Record{Key: key, Category: category, Match: feed.Match{Home: home, Away: away}}
}

func asMap(recs ...*feed.Record) map[string]*feed.Record {
	m := make(map[string]*feed.Record, len(recs))
	for _, r := range recs {
		m[r.Key] = r
	}
	return m
}

func TestDiffInsertUpdateRemove(t *testing.T) {
	// WHAT: Diff classifies new keys as inserts, changed payloads as updates,
	// missing keys as removes, identical payloads as no-ops.
	// WHY: Core change detection contract.
	s := New(time.Hour)
	t0 := time.Now()

	s.Apply(s.Diff(asMap(rec("k1", "soccer", "A", "B"), rec("k2", "soccer", "C", "D"))), t0)
	if s.Len() != 2 {
		t.Fatalf("store len = %d, want 2", s.Len())
	}

	changed := rec("k1", "soccer", "A", "B")
	changed.Match.ScoreHome = 1
	ch := s.Diff(asMap(changed, rec("k2", "soccer", "C", "D"), rec("k3", "soccer", "E", "F")))

	if len(ch.Inserts) != 1 || ch.Inserts[0].Key != "k3" {
		t.Errorf("inserts = %v, want [k3]", ch.Inserts)
	}
	if len(ch.Updates) != 1 || ch.Updates[0].Key != "k1" {
		t.Errorf("updates = %v, want [k1]", ch.Updates)
	}
	if len(ch.Removes) != 0 {
		t.Errorf("removes = %v, want none", ch.Removes)
	}
}

func TestApplyPreservesFirstSeen(t *testing.T) {
	// WHAT: Updates keep the original FirstSeen and bump LastUpdated.
	// WHY: FirstSeen is the match discovery time, not the last edit time.
	s := New(time.Hour)
	t0 := time.Now()
	t1 := t0.Add(2 * time.Second)

	s.Apply(s.Diff(asMap(rec("k1", "soccer", "A", "B"))), t0)

	updated := rec("k1", "soccer", "A", "B")
	updated.Match.ScoreHome = 1
	s.Apply(s.Diff(asMap(updated)), t1)

	got := s.Get("k1")
	if !got.FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen = %v, want %v", got.FirstSeen, t0)
	}
	if !got.LastUpdated.Equal(t1) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, t1)
	}
}

func TestRemovalGoesToHistory(t *testing.T) {
	// WHAT: A key absent from the candidate set leaves the store and appears
	// exactly once in history with RemovedAt >= its LastUpdated.
	// WHY: Scenario: tick 1 extracts {k1}, tick 2 extracts {} → history gains k1.
	s := New(time.Hour)
	t0 := time.Now()
	t1 := t0.Add(time.Second)

	s.Apply(s.Diff(asMap(rec("k1", "soccer", "A", "B"))), t0)
	s.Apply(s.Diff(map[string]*feed.Record{}), t1)

	if s.Len() != 0 {
		t.Fatalf("store len = %d, want 0", s.Len())
	}
	hist := s.History()
	if len(hist) != 1 {
		t.Fatalf("history len = %d, want 1", len(hist))
	}
	if hist[0].Record.Key != "k1" {
		t.Errorf("history key = %s, want k1", hist[0].Record.Key)
	}
	if hist[0].RemovedAt.Before(hist[0].Record.LastUpdated) {
		t.Error("RemovedAt predates LastUpdated")
	}
}

func TestReinsertGetsFreshFirstSeen(t *testing.T) {
	// WHAT: A removed record that re-appears is a fresh insert.
	// WHY: A session resuming after WAITING_RETRY re-reports its records;
	// they re-enter as new.
	s := New(time.Hour)
	t0 := time.Now()

	s.Apply(s.Diff(asMap(rec("k1", "soccer", "A", "B"))), t0)
	s.Apply(s.Diff(map[string]*feed.Record{}), t0.Add(time.Second))
	s.Apply(s.Diff(asMap(rec("k1", "soccer", "A", "B"))), t0.Add(2*time.Second))

	got := s.Get("k1")
	if got == nil {
		t.Fatal("k1 missing after re-insert")
	}
	if got.FirstSeen.Equal(t0) {
		t.Error("re-inserted record kept stale FirstSeen")
	}
	if len(s.History()) != 1 {
		t.Errorf("history len = %d, want 1 (re-insert must not duplicate)", len(s.History()))
	}
}

func TestApplyIdempotent(t *testing.T) {
	// WHAT: Applying the same candidate set twice changes nothing the second time.
	// WHY: Idempotent-merge property over the full diff/apply path.
	s := New(time.Hour)
	t0 := time.Now()

	cand := asMap(rec("k1", "soccer", "A", "B"), rec("k2", "tennis", "C", "D"))
	s.Apply(s.Diff(cand), t0)
	before := s.Get("k1").LastUpdated

	ch := s.Diff(cand)
	if ch.Total() != 0 {
		t.Fatalf("second diff found %d changes, want 0", ch.Total())
	}
	s.Apply(ch, t0.Add(time.Second))
	if !s.Get("k1").LastUpdated.Equal(before) {
		t.Error("no-op apply bumped LastUpdated")
	}
}

func TestHistoryPrune(t *testing.T) {
	// WHAT: History entries past the retention window are pruned on append.
	// WHY: History is bounded.
	s := New(time.Minute)
	t0 := time.Now()

	s.Apply(s.Diff(asMap(rec("k1", "soccer", "A", "B"))), t0)
	s.Apply(s.Diff(map[string]*feed.Record{}), t0.Add(time.Second))

	// Far in the future, a new removal triggers pruning of the old one.
	later := t0.Add(time.Hour)
	s.Apply(s.Diff(asMap(rec("k2", "soccer", "C", "D"))), later)
	s.Apply(s.Diff(map[string]*feed.Record{}), later.Add(time.Second))

	hist := s.History()
	if len(hist) != 1 {
		t.Fatalf("history len = %d, want 1 after prune", len(hist))
	}
	if hist[0].Record.Key != "k2" {
		t.Errorf("surviving entry = %s, want k2", hist[0].Record.Key)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	// WHAT: Restore rebuilds the exact record set and history.
	// WHY: Startup resume path.
	s := New(time.Hour)
	t0 := time.Now()
	s.Apply(s.Diff(asMap(rec("k1", "soccer", "A", "B"), rec("k2", "tennis", "C", "D"))), t0)
	s.Apply(s.Diff(asMap(rec("k1", "soccer", "A", "B"))), t0.Add(time.Second))

	s2 := New(time.Hour)
	s2.Restore(s.Records(), s.History())

	if s2.Len() != s.Len() {
		t.Fatalf("restored len = %d, want %d", s2.Len(), s.Len())
	}
	if len(s2.History()) != len(s.History()) {
		t.Fatalf("restored history = %d, want %d", len(s2.History()), len(s.History()))
	}
	if s2.Get("k1") == nil {
		t.Error("k1 missing after restore")
	}
}
