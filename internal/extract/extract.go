// Package extract defines the extraction capability the scheduler consumes
// and a selector-driven parser that turns feed HTML into records.
//
// One Extractor serves every category; what differs per category is pure
// configuration (endpoint URL, mode, selectors) — never a per-category
// implementation.
package extract

import (
	"context"

	"github.com/hazyhaar/livewatch/internal/feed"
)

// Mode selects how an endpoint is fetched.
const (
	ModeBrowser = "browser" // rod stealth tab, for feeds that render via JS
	ModeHTTP    = "http"    // plain HTTP GET, for feeds that serve markup
)

// Endpoint describes one category's feed: where it lives and how to read it.
type Endpoint struct {
	Category string      `yaml:"category"`
	URL      string      `yaml:"url"`
	Mode     string      `yaml:"mode"`
	// Marker is a URL fragment the served page must still contain. A feed
	// that redirects to an unrelated category no longer matches its marker.
	Marker    string      `yaml:"marker"`
	Selectors SelectorSet `yaml:"selectors"`
}

// SelectorSet maps feed page structure to record fields. Selectors use the
// supported subset: "tag", ".class", "tag.class".
type SelectorSet struct {
	Row       string `yaml:"row"`
	Home      string `yaml:"home"`
	Away      string `yaml:"away"`
	League    string `yaml:"league"`
	ScoreHome string `yaml:"score_home"`
	ScoreAway string `yaml:"score_away"`
	Phase     string `yaml:"phase"`

	Market      string `yaml:"market"`       // market container within a row
	MarketName  string `yaml:"market_name"`  // within container; data-market attr fallback
	Outcome     string `yaml:"outcome"`      // outcome cell within container
	OutcomeName string `yaml:"outcome_name"` // within cell; data-outcome attr fallback
	OutcomeLine string `yaml:"outcome_line"`
	Odds        string `yaml:"odds"` // within cell; cell text fallback
}

// Health is the outcome classification of one extraction or health check.
// Redirected is reported distinctly from an error: they drive different
// session transitions.
type Health struct {
	OK         bool
	Redirected bool
	Err        error
}

// Handle is an open per-session resource (a browser tab, or a lightweight
// HTTP handle). Handles are owned by sessions and released through Close.
type Handle interface {
	// Endpoint returns the descriptor the handle was opened for.
	Endpoint() Endpoint
	Close()
}

// Extractor is the external capability the session pool drives. Implementations
// must never return records without a key, and must report redirection
// distinctly from failure.
type Extractor interface {
	// Open creates a handle for an endpoint and verifies it serves its
	// category.
	Open(ctx context.Context, ep Endpoint) (Handle, error)

	// Extract fetches and parses the current feed state of the handle.
	// Records may be empty with Health.OK=true: a category with no live
	// matches is healthy.
	Extract(ctx context.Context, h Handle) ([]*feed.Record, Health)

	// Check performs a health check only, without extracting data. It is
	// the gate Open applies before handing out a handle, and the browser
	// extractor re-runs it before each extraction. Parked sessions hold no
	// handle, so their health is judged on reopen, not checked in place.
	Check(ctx context.Context, h Handle) Health

	// Reset tears down and recreates the underlying execution context
	// (e.g. the shared browser). Open handles become invalid; callers
	// reopen sessions afterwards.
	Reset(ctx context.Context) error

	// Close releases everything the extractor holds.
	Close()
}
