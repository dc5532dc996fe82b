package store

import (
	"time"

	"github.com/hazyhaar/livewatch/internal/feed"
)

// Changes classifies one tick's merged candidate set against the store.
type Changes struct {
	Inserts []*feed.Record
	Updates []*feed.Record
	Removes []*feed.Record
}

// Total returns the number of classified changes.
func (c *Changes) Total() int {
	return len(c.Inserts) + len(c.Updates) + len(c.Removes)
}

// Diff computes the changes the candidate set implies. Nothing is mutated;
// call Apply with the result to commit.
//
// A key absent from the candidate set is a removal: the tick's merged set is
// authoritative for current truth. A parked session's records drop out here
// and re-insert with a fresh FirstSeen once the session resumes.
func (s *RecordStore) Diff(candidate map[string]*feed.Record) *Changes {
	ch := &Changes{}
	for key, rec := range candidate {
		cur, ok := s.records[key]
		if !ok {
			ch.Inserts = append(ch.Inserts, rec)
			continue
		}
		if !feed.PayloadEqual(cur.Match, rec.Match) {
			ch.Updates = append(ch.Updates, rec)
		}
	}
	for key, rec := range s.records {
		if _, ok := candidate[key]; !ok {
			ch.Removes = append(ch.Removes, rec)
		}
	}
	return ch
}

// Apply commits a Diff result at time now. Inserts get
// FirstSeen = LastUpdated = now; updates replace the payload and preserve
// FirstSeen; removals leave the current set and are appended to history.
//
// Applying the same candidate set's diff twice is a no-op the second time:
// the first Apply makes the store equal to the candidate set.
func (s *RecordStore) Apply(ch *Changes, now time.Time) {
	for _, rec := range ch.Inserts {
		rec.FirstSeen = now
		rec.LastUpdated = now
		s.records[rec.Key] = rec
	}
	for _, rec := range ch.Updates {
		cur := s.records[rec.Key]
		if cur != nil {
			rec.FirstSeen = cur.FirstSeen
		} else {
			rec.FirstSeen = now
		}
		rec.LastUpdated = now
		s.records[rec.Key] = rec
	}
	for _, rec := range ch.Removes {
		delete(s.records, rec.Key)
		s.history = append(s.history, HistoryEntry{Record: rec, RemovedAt: now})
	}
	s.prune(now)
}

// prune drops history entries older than the retention window.
func (s *RecordStore) prune(now time.Time) {
	cutoff := now.Add(-s.retention)
	i := 0
	for ; i < len(s.history); i++ {
		if s.history[i].RemovedAt.After(cutoff) {
			break
		}
	}
	if i > 0 {
		s.history = append(s.history[:0], s.history[i:]...)
	}
}
