// Package store holds the current record set and the history of removed
// records.
//
// The store is owned exclusively by the scheduler loop: all mutation happens
// from that single goroutine, so there is no locking here. Anything that
// needs a concurrent view goes through the persisted snapshot instead.
package store

import (
	"sort"
	"time"

	"github.com/hazyhaar/livewatch/internal/feed"
)

// HistoryEntry is a record after it left the current set.
type HistoryEntry struct {
	Record    *feed.Record `json:"record"`
	RemovedAt time.Time    `json:"removed_at"`
}

// RecordStore is the in-memory keyed map of current records plus an
// append-only, bounded history of removed ones.
type RecordStore struct {
	records   map[string]*feed.Record
	history   []HistoryEntry
	retention time.Duration
}

// New creates an empty RecordStore. History entries older than retention are
// pruned on append; retention <= 0 defaults to 24h.
func New(retention time.Duration) *RecordStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RecordStore{
		records:   make(map[string]*feed.Record),
		retention: retention,
	}
}

// Get returns the current record for key, or nil.
func (s *RecordStore) Get(key string) *feed.Record {
	return s.records[key]
}

// Len returns the number of current records.
func (s *RecordStore) Len() int {
	return len(s.records)
}

// Records returns the current records sorted by key. The slice is fresh but
// the records are shared; callers must not mutate them.
func (s *RecordStore) Records() []*feed.Record {
	out := make([]*feed.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// History returns the retained history entries, oldest first.
func (s *RecordStore) History() []HistoryEntry {
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// CountByCategory returns current record counts keyed by category.
func (s *RecordStore) CountByCategory() map[string]int {
	counts := make(map[string]int)
	for _, r := range s.records {
		counts[r.Category]++
	}
	return counts
}

// Restore replaces the store content from a loaded snapshot. Used at startup
// so a restarted process resumes from the last persisted state.
func (s *RecordStore) Restore(records []*feed.Record, history []HistoryEntry) {
	s.records = make(map[string]*feed.Record, len(records))
	for _, r := range records {
		if r != nil && r.Key != "" {
			s.records[r.Key] = r
		}
	}
	s.history = append(s.history[:0], history...)
}
