// Package snapshot persists the record store atomically.
//
// Every file is written as serialize-to-tmp then rename, so a concurrent
// reader always sees a complete document, never a partial write. A mutex
// serializes writers: the scheduler tick and a manual flush on shutdown can
// both reach the write path.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hazyhaar/livewatch/internal/feed"
	"github.com/hazyhaar/livewatch/internal/store"
)

const (
	snapshotFile = "snapshot.json"
	historyFile  = "history.json"
	statsFile    = "stats.json"
)

// Snapshot is the persisted form of the current record set.
type Snapshot struct {
	Timestamp    time.Time      `json:"timestamp"`
	TotalRecords int            `json:"total_records"`
	PerCategory  map[string]int `json:"per_category_counts"`
	Records      []*feed.Record `json:"records"`
}

// History is the persisted form of the removed-record log.
type History struct {
	Timestamp time.Time            `json:"timestamp"`
	Entries   []store.HistoryEntry `json:"entries"`
}

// Stats is the derived statistics view, written independently of the main
// snapshot but with the same atomicity.
type Stats struct {
	Timestamp       time.Time      `json:"timestamp"`
	Cycle           int64          `json:"cycle"`
	CycleDuration   time.Duration  `json:"cycle_duration"`
	ActiveSessions  int            `json:"active_sessions"`
	ParkedSessions  int            `json:"parked_sessions"`
	TotalRecords    int            `json:"total_records"`
	PerCategory     map[string]int `json:"per_category_counts"`
	Inserted        int            `json:"inserted"`
	Updated         int            `json:"updated"`
	Removed         int            `json:"removed"`
	ExtractErrors   int            `json:"extract_errors"`
	HistoryRetained int            `json:"history_retained"`
}

// Writer persists snapshots into a data directory.
type Writer struct {
	dir string
	mu  sync.Mutex
}

// NewWriter creates a Writer targeting dir. The directory is created on
// first write if missing.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the data directory the writer persists into.
func (w *Writer) Dir() string { return w.dir }

// WriteSnapshot persists the full record store content.
func (w *Writer) WriteSnapshot(s *store.RecordStore, now time.Time) error {
	snap := Snapshot{
		Timestamp:    now,
		TotalRecords: s.Len(),
		PerCategory:  s.CountByCategory(),
		Records:      s.Records(),
	}
	return w.writeJSON(snapshotFile, &snap)
}

// WriteHistory persists the retained history entries.
func (w *Writer) WriteHistory(s *store.RecordStore, now time.Time) error {
	hist := History{
		Timestamp: now,
		Entries:   s.History(),
	}
	return w.writeJSON(historyFile, &hist)
}

// WriteStats persists the derived statistics view.
func (w *Writer) WriteStats(st *Stats) error {
	return w.writeJSON(statsFile, st)
}

// writeJSON serializes v to a tmp file and renames it over the target.
// Rename is the atomicity primitive; the mutex keeps two writers from
// interleaving on the same tmp path.
func (w *Writer) writeJSON(name string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", w.dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal %s: %w", name, err)
	}

	target := filepath.Join(w.dir, name)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted snapshot from dir. Returns
// os.ErrNotExist (wrapped) when no snapshot has been written yet.
func LoadSnapshot(dir string) (*Snapshot, error) {
	var snap Snapshot
	if err := readJSON(filepath.Join(dir, snapshotFile), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// LoadHistory reads the persisted history from dir.
func LoadHistory(dir string) (*History, error) {
	var hist History
	if err := readJSON(filepath.Join(dir, historyFile), &hist); err != nil {
		return nil, err
	}
	return &hist, nil
}

// LoadStats reads the persisted statistics view from dir.
func LoadStats(dir string) (*Stats, error) {
	var st Stats
	if err := readJSON(filepath.Join(dir, statsFile), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("snapshot: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("snapshot: parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
