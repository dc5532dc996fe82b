// Package cyclelog records per-tick and per-session outcomes in SQLite for
// after-the-fact diagnosis: which session flapped, when a category went
// quiet, how long cycles take.
//
// The log is observability only — the scheduler never reads it back on the
// hot path, and a cyclelog write failure never fails a tick.
package cyclelog

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/livewatch/idgen"
)

// Schema is the cyclelog table set.
const Schema = `
CREATE TABLE IF NOT EXISTS cycles (
    id               TEXT PRIMARY KEY,
    started_at       INTEGER NOT NULL,
    duration_ms      INTEGER NOT NULL DEFAULT 0,
    sessions_active  INTEGER NOT NULL DEFAULT 0,
    sessions_parked  INTEGER NOT NULL DEFAULT 0,
    records_total    INTEGER NOT NULL DEFAULT 0,
    inserted         INTEGER NOT NULL DEFAULT 0,
    updated          INTEGER NOT NULL DEFAULT 0,
    removed          INTEGER NOT NULL DEFAULT 0,
    extract_errors   INTEGER NOT NULL DEFAULT 0,
    persist_error    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_cycles_time ON cycles(started_at DESC);

CREATE TABLE IF NOT EXISTS session_log (
    id            TEXT PRIMARY KEY,
    cycle_id      TEXT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
    category      TEXT NOT NULL,
    state         TEXT NOT NULL,
    records       INTEGER NOT NULL DEFAULT 0,
    redirected    INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_session_log_cycle ON session_log(cycle_id);
CREATE INDEX IF NOT EXISTS idx_session_log_category ON session_log(category, id DESC);
`

// Cycle is one tick's aggregate outcome.
type Cycle struct {
	ID             string
	StartedAt      time.Time
	Duration       time.Duration
	SessionsActive int
	SessionsParked int
	RecordsTotal   int
	Inserted       int
	Updated        int
	Removed        int
	ExtractErrors  int
	PersistError   string
}

// SessionOutcome is one session's result within a cycle.
type SessionOutcome struct {
	Category   string
	State      string
	Records    int
	Redirected bool
	Error      string
	Duration   time.Duration
}

// Log writes cycle outcomes to a database.
type Log struct {
	db    *sql.DB
	newID idgen.Generator
}

// New creates a Log over an opened database. Apply Schema via dbopen.
func New(db *sql.DB) *Log {
	return &Log{db: db, newID: idgen.Default}
}

// Record inserts one cycle and its per-session outcomes. The cycle ID is
// generated and returned.
func (l *Log) Record(ctx context.Context, c *Cycle, sessions []SessionOutcome) (string, error) {
	if c.ID == "" {
		c.ID = l.newID()
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cycles (id, started_at, duration_ms, sessions_active, sessions_parked,
		records_total, inserted, updated, removed, extract_errors, persist_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StartedAt.UnixMilli(), c.Duration.Milliseconds(),
		c.SessionsActive, c.SessionsParked, c.RecordsTotal,
		c.Inserted, c.Updated, c.Removed, c.ExtractErrors, c.PersistError,
	)
	if err != nil {
		return "", err
	}

	for _, s := range sessions {
		redirected := 0
		if s.Redirected {
			redirected = 1
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_log (id, cycle_id, category, state, records, redirected, error_message, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			l.newID(), c.ID, s.Category, s.State, s.Records, redirected, s.Error, s.Duration.Milliseconds(),
		)
		if err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return c.ID, nil
}

// RecentCycles returns the latest n cycles, newest first.
func (l *Log) RecentCycles(ctx context.Context, n int) ([]*Cycle, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, sessions_active, sessions_parked,
		records_total, inserted, updated, removed, extract_errors, persist_error
		FROM cycles ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []*Cycle
	for rows.Next() {
		var c Cycle
		var startedMs, durMs int64
		if err := rows.Scan(&c.ID, &startedMs, &durMs, &c.SessionsActive, &c.SessionsParked,
			&c.RecordsTotal, &c.Inserted, &c.Updated, &c.Removed, &c.ExtractErrors, &c.PersistError); err != nil {
			return nil, err
		}
		c.StartedAt = time.UnixMilli(startedMs)
		c.Duration = time.Duration(durMs) * time.Millisecond
		cycles = append(cycles, &c)
	}
	return cycles, rows.Err()
}

// SessionHistory returns the latest n outcomes for one category, newest
// first.
func (l *Log) SessionHistory(ctx context.Context, category string, n int) ([]*SessionOutcome, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT category, state, records, redirected, error_message, duration_ms
		FROM session_log WHERE category = ? ORDER BY id DESC LIMIT ?`, category, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []*SessionOutcome
	for rows.Next() {
		var o SessionOutcome
		var redirected int
		var durMs int64
		if err := rows.Scan(&o.Category, &o.State, &o.Records, &redirected, &o.Error, &durMs); err != nil {
			return nil, err
		}
		o.Redirected = redirected == 1
		o.Duration = time.Duration(durMs) * time.Millisecond
		outcomes = append(outcomes, &o)
	}
	return outcomes, rows.Err()
}

// Prune deletes cycles older than the retention window.
func (l *Log) Prune(ctx context.Context, retention time.Duration, now time.Time) error {
	cutoff := now.Add(-retention).UnixMilli()
	_, err := l.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, cutoff)
	return err
}
