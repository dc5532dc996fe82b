package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/livewatch/internal/extract"
)

// ErrNoSessions is returned when pool initialization could not open a
// single session.
var ErrNoSessions = errors.New("session: no sessions could be created")

// Config controls pool maintenance behaviour.
type Config struct {
	// Cooldown is how long a redirected session waits before a reopen is
	// attempted. Default: 30m.
	Cooldown time.Duration
	// CleanupThreshold is the number of consecutive empty extractions
	// before an idle session's handle is released. Default: 10.
	CleanupThreshold int
	// MaxErrorTolerance is the highest error count at which cleanup still
	// applies; error-prone sessions are left to the error path instead.
	// Default: 2.
	MaxErrorTolerance int
	// ErrorCeiling parks a session indefinitely once exceeded. Default: 15.
	ErrorCeiling int
}

func (c *Config) defaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Minute
	}
	if c.CleanupThreshold <= 0 {
		c.CleanupThreshold = 10
	}
	if c.MaxErrorTolerance <= 0 {
		c.MaxErrorTolerance = 2
	}
	if c.ErrorCeiling <= 0 {
		c.ErrorCeiling = 15
	}
}

// Pool owns the set of sessions, one per category. The scheduler loop is
// the pool's single writer.
type Pool struct {
	sessions  map[string]*Session
	extractor extract.Extractor
	config    Config
	logger    *slog.Logger
}

// New creates an empty Pool over an extractor.
func New(extractor extract.Extractor, cfg Config, logger *slog.Logger) *Pool {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sessions:  make(map[string]*Session),
		extractor: extractor,
		config:    cfg,
		logger:    logger,
	}
}

// Init creates one session per endpoint and opens its handle. Endpoints
// that fail to open still get a session — parked, eligible for the reopen
// pass. Fails only when not a single session opened.
func (p *Pool) Init(ctx context.Context, endpoints []extract.Endpoint) error {
	opened := 0
	for _, ep := range endpoints {
		s := &Session{Category: ep.Category, Endpoint: ep, State: StateClosed}
		p.sessions[ep.Category] = s

		h, err := p.extractor.Open(ctx, ep)
		if err != nil {
			p.logger.Warn("pool: open session failed", "category", ep.Category, "error", err)
			s.ErrorCount++
			s.State = StateClosed
			continue
		}
		s.markReopened(h, time.Now())
		opened++
	}
	if opened == 0 {
		return fmt.Errorf("%w (%d endpoints)", ErrNoSessions, len(endpoints))
	}
	p.logger.Info("pool: initialized", "sessions", len(p.sessions), "opened", opened)
	return nil
}

// Get returns the session for a category, or nil.
func (p *Pool) Get(category string) *Session {
	return p.sessions[category]
}

// Extractable returns the sessions the scheduler should fan out to,
// sorted by category for stable iteration.
func (p *Pool) Extractable() []*Session {
	var out []*Session
	for _, s := range p.sessions {
		if s.Extractable(p.config.ErrorCeiling) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Recheck settles redirected sessions: those still inside their cooldown
// move to WAITING_RETRY (every tick is a no-op for them until the reopen
// pass picks them up). Health-check only — no handle is reopened here.
func (p *Pool) Recheck(now time.Time) {
	for _, s := range p.sessions {
		if s.State != StateRedirected {
			continue
		}
		s.State = StateWaitingRetry
		s.LastCheck = now
		p.logger.Debug("pool: session waiting retry",
			"category", s.Category, "retry_after", s.RetryAfter)
	}
}

// Cleanup releases handles of sessions that keep extracting nothing. Only
// applies below the error tolerance; error-prone sessions are the error
// path's business, not cleanup's.
func (p *Pool) Cleanup(now time.Time) {
	for _, s := range p.sessions {
		if s.State != StateActive {
			continue
		}
		if s.ConsecutiveEmpty >= p.config.CleanupThreshold && s.ErrorCount <= p.config.MaxErrorTolerance {
			s.markClosed(now)
			p.logger.Info("pool: session closed after empty checks",
				"category", s.Category, "empty_checks", s.ConsecutiveEmpty)
		}
	}
}

// Reopen attempts to recreate handles for CLOSED and WAITING_RETRY sessions
// whose cooldown has elapsed. Returns how many sessions came back.
func (p *Pool) Reopen(ctx context.Context, now time.Time) int {
	reopened := 0
	for _, s := range p.sessions {
		if s.State != StateClosed && s.State != StateWaitingRetry {
			continue
		}
		if !s.cooldownElapsed(now) {
			continue
		}
		h, err := p.extractor.Open(ctx, s.Endpoint)
		if err != nil {
			s.LastCheck = now
			p.logger.Warn("pool: reopen failed", "category", s.Category, "error", err)
			continue
		}
		s.markReopened(h, now)
		reopened++
		p.logger.Info("pool: session reopened", "category", s.Category)
	}
	return reopened
}

// ForceReopen is the external recovery path for a session parked past the
// error ceiling: counters are cleared and an open is attempted regardless
// of state or cooldown.
func (p *Pool) ForceReopen(ctx context.Context, category string, now time.Time) error {
	s := p.sessions[category]
	if s == nil {
		return fmt.Errorf("session: unknown category %q", category)
	}
	h, err := p.extractor.Open(ctx, s.Endpoint)
	if err != nil {
		return fmt.Errorf("session: force reopen %s: %w", category, err)
	}
	s.markReopened(h, now)
	return nil
}

// ApplyResult folds one extraction outcome into its session's state.
func (p *Pool) ApplyResult(s *Session, recordCount int, health extract.Health, now time.Time) {
	switch {
	case health.Redirected:
		s.markRedirected(now, p.config.Cooldown)
		p.logger.Warn("pool: session redirected",
			"category", s.Category, "retry_after", s.RetryAfter)
	case health.Err != nil:
		s.markError(now)
		p.logger.Warn("pool: extraction error",
			"category", s.Category, "error_count", s.ErrorCount, "error", health.Err)
	default:
		s.markSuccess(recordCount, now)
	}
}

// DropHandles releases every handle without changing cooldowns. Called
// after the extractor's execution context is recreated: old handles are
// invalid and the reopen pass rebuilds them.
func (p *Pool) DropHandles(now time.Time) {
	for _, s := range p.sessions {
		if s.handle == nil {
			continue
		}
		s.releaseHandle()
		if s.State == StateActive || s.State == StateError {
			s.State = StateClosed
		}
		s.ErrorCount = 0
		s.LastCheck = now
	}
}

// Shutdown releases every handle. Sessions stay in the map; the pool is
// only torn down with the process.
func (p *Pool) Shutdown() {
	for _, s := range p.sessions {
		s.releaseHandle()
		if s.State == StateActive {
			s.State = StateClosed
		}
	}
}

// StatusAll returns a value snapshot of every session, sorted by category.
func (p *Pool) StatusAll() []Status {
	out := make([]Status, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Counts returns (extractable, parked) session counts.
func (p *Pool) Counts() (active, parked int) {
	for _, s := range p.sessions {
		if s.Extractable(p.config.ErrorCeiling) {
			active++
		} else {
			parked++
		}
	}
	return active, parked
}

// ErrorCeiling exposes the configured hard ceiling.
func (p *Pool) ErrorCeiling() int { return p.config.ErrorCeiling }

// Cooldown exposes the configured redirect cooldown.
func (p *Pool) Cooldown() time.Duration { return p.config.Cooldown }
