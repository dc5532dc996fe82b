// Package livewatch watches live sports feeds through a pool of
// per-category extraction sessions.
//
// A scheduler drives the pool in short cycles: extract every healthy
// session concurrently, deduplicate the merged results by quality, diff
// against the in-memory record store and persist an atomic JSON snapshot.
// Sessions that get redirected or keep failing are parked and reopened on
// a cooldown. A read-only HTTP API exposes the current snapshot and the
// session states.
package livewatch

import (
	"github.com/hazyhaar/livewatch/internal/cyclelog"
	"github.com/hazyhaar/livewatch/internal/extract"
	"github.com/hazyhaar/livewatch/internal/feed"
	"github.com/hazyhaar/livewatch/internal/session"
	"github.com/hazyhaar/livewatch/internal/snapshot"
	"github.com/hazyhaar/livewatch/internal/store"
)

// Re-export the public data types.
type (
	Record         = feed.Record
	Match          = feed.Match
	Market         = feed.Market
	Outcome        = feed.Outcome
	HistoryEntry   = store.HistoryEntry
	RemovalHistory = snapshot.History
	Endpoint       = extract.Endpoint
	SelectorSet    = extract.SelectorSet
	Health         = extract.Health
	SessionStatus  = session.Status
	Snapshot       = snapshot.Snapshot
	Stats          = snapshot.Stats
	CycleOutcome   = cyclelog.Cycle
	SessionOutcome = cyclelog.SessionOutcome
)

// Session states.
const (
	StateActive       = session.StateActive
	StateRedirected   = session.StateRedirected
	StateWaitingRetry = session.StateWaitingRetry
	StateClosed       = session.StateClosed
	StateError        = session.StateError
)

// Extraction modes.
const (
	ModeBrowser = extract.ModeBrowser
	ModeHTTP    = extract.ModeHTTP
)
