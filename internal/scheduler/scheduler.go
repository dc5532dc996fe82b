// Package scheduler runs the extraction cycle: pool maintenance, concurrent
// fan-out over extractable sessions, fan-in, dedup, diff against the record
// store and atomic persistence. The loop goroutine is the only mutator of
// the pool and the store; fan-out goroutines only call the extractor and
// send results back.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/livewatch/internal/cyclelog"
	"github.com/hazyhaar/livewatch/internal/extract"
	"github.com/hazyhaar/livewatch/internal/feed"
	"github.com/hazyhaar/livewatch/internal/session"
	"github.com/hazyhaar/livewatch/internal/snapshot"
	"github.com/hazyhaar/livewatch/internal/store"
)

// Config tunes the scheduler loop.
type Config struct {
	// TickInterval is the pause between extraction cycles.
	TickInterval time.Duration

	// RecheckInterval paces the maintenance passes (recheck of parked
	// sessions and reopen of eligible ones).
	RecheckInterval time.Duration

	// CleanupInterval paces the empty-session cleanup pass. Defaults to
	// twice RecheckInterval.
	CleanupInterval time.Duration

	// ExtractTimeout bounds each individual Extract call.
	ExtractTimeout time.Duration

	// CrashThreshold is the number of consecutive cycles in which every
	// extraction failed before the extractor's execution context is reset.
	CrashThreshold int

	// LogRetention bounds the cyclelog; old cycles are pruned during the
	// cleanup pass.
	LogRetention time.Duration
}

func (c *Config) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}
	if c.RecheckInterval <= 0 {
		c.RecheckInterval = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 2 * c.RecheckInterval
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 20 * time.Second
	}
	if c.CrashThreshold <= 0 {
		c.CrashThreshold = 3
	}
	if c.LogRetention <= 0 {
		c.LogRetention = 72 * time.Hour
	}
}

// Published is the value view of the scheduler's last completed cycle,
// safe to read from other goroutines.
type Published struct {
	Sessions []session.Status
	Stats    snapshot.Stats
}

// Scheduler drives the session pool through extraction cycles.
type Scheduler struct {
	pool      *session.Pool
	store     *store.RecordStore
	writer    *snapshot.Writer
	extractor extract.Extractor
	log       *cyclelog.Log // optional
	config    Config
	logger    *slog.Logger

	cycle        int64
	failedCycles int
	lastRecheck  time.Time
	lastCleanup  time.Time

	published atomic.Pointer[Published]

	// requests carries deferred pool operations (e.g. a forced reopen)
	// into the loop goroutine, which is the pool's only mutator.
	requests chan func(ctx context.Context, now time.Time)

	now func() time.Time
}

// New creates a Scheduler. The cyclelog may be nil.
func New(pool *session.Pool, recs *store.RecordStore, writer *snapshot.Writer,
	extractor extract.Extractor, log *cyclelog.Log, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pool:      pool,
		store:     recs,
		writer:    writer,
		extractor: extractor,
		log:       log,
		config:    cfg,
		logger:    logger,
		requests:  make(chan func(context.Context, time.Time), 16),
		now:       time.Now,
	}
}

// SetCycleLog installs the cycle log after construction. Must be called
// before Run.
func (s *Scheduler) SetCycleLog(log *cyclelog.Log) { s.log = log }

// Defer hands an operation to the loop goroutine; it runs at the start of
// the next cycle. Returns false when the queue is full.
func (s *Scheduler) Defer(op func(ctx context.Context, now time.Time)) bool {
	select {
	case s.requests <- op:
		return true
	default:
		return false
	}
}

// Published returns the last completed cycle's session and statistics view,
// or nil before the first cycle finishes.
func (s *Scheduler) Published() *Published {
	return s.published.Load()
}

// Run loops until ctx is cancelled. The cycle in flight when cancellation
// arrives is drained: extraction calls abort on the cancelled context and
// their outcomes are still folded in and persisted before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler: starting",
		"tick", s.config.TickInterval,
		"recheck_interval", s.config.RecheckInterval,
		"extract_timeout", s.config.ExtractTimeout)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopping", "cycles", s.cycle)
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single maintenance-and-extraction cycle.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now()
	start := now

drain:
	for {
		select {
		case op := <-s.requests:
			op(ctx, now)
		default:
			break drain
		}
	}

	s.maintain(ctx, now)

	sessions := s.pool.Extractable()
	results := s.fanOut(ctx, sessions)

	candidates := make([]*feed.Record, 0, 64)
	outcomes := make([]cyclelog.SessionOutcome, 0, len(results))
	extractErrors := 0
	succeeded := 0

	for _, r := range results {
		s.pool.ApplyResult(r.session, len(r.records), r.health, s.now())
		outcome := cyclelog.SessionOutcome{
			Category:   r.session.Category,
			State:      string(r.session.State),
			Records:    len(r.records),
			Redirected: r.health.Redirected,
			Duration:   r.duration,
		}
		switch {
		case r.health.Redirected:
			// Redirected results carry no usable records.
		case r.health.Err != nil:
			extractErrors++
			outcome.Error = r.health.Err.Error()
		default:
			succeeded++
			candidates = append(candidates, r.records...)
		}
		outcomes = append(outcomes, outcome)
	}

	// The merged set is authoritative: a record absent from it, whether
	// because its session is parked or because its extraction failed, is
	// removed this tick and re-inserted once the session re-reports it.
	merged := feed.Merge(candidates)

	changes := s.store.Diff(merged)
	s.store.Apply(changes, s.now())

	persistErr := s.persist(changes, extractErrors, start)

	s.trackCrashes(ctx, len(sessions), succeeded)

	s.cycle++
	duration := s.now().Sub(start)
	s.logCycle(ctx, start, duration, changes, extractErrors, persistErr, outcomes)

	if changes.Total() > 0 || extractErrors > 0 {
		s.logger.Info("scheduler: cycle complete",
			"cycle", s.cycle,
			"duration", duration,
			"records", s.store.Len(),
			"inserted", len(changes.Inserts),
			"updated", len(changes.Updates),
			"removed", len(changes.Removes),
			"extract_errors", extractErrors)
	}
}

// maintain runs the paced maintenance passes before extraction.
func (s *Scheduler) maintain(ctx context.Context, now time.Time) {
	if now.Sub(s.lastRecheck) >= s.config.RecheckInterval {
		s.lastRecheck = now
		s.pool.Recheck(now)
		if n := s.pool.Reopen(ctx, now); n > 0 {
			s.logger.Info("scheduler: sessions reopened", "count", n)
		}
	}
	if now.Sub(s.lastCleanup) >= s.config.CleanupInterval {
		s.lastCleanup = now
		s.pool.Cleanup(now)
		if s.log != nil {
			if err := s.log.Prune(ctx, s.config.LogRetention, now); err != nil {
				s.logger.Warn("scheduler: cyclelog prune failed", "error", err)
			}
		}
	}
}

type result struct {
	session  *session.Session
	records  []*feed.Record
	health   extract.Health
	duration time.Duration
}

// fanOut extracts from every session concurrently and gathers all results.
// Each call gets its own timeout. The returned slice is complete: a
// panic-free extractor yields exactly one result per session.
func (s *Scheduler) fanOut(ctx context.Context, sessions []*session.Session) []result {
	if len(sessions) == 0 {
		return nil
	}

	out := make(chan result, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.config.ExtractTimeout)
			defer cancel()
			begin := time.Now()
			records, health := s.extractor.Extract(callCtx, sess.Handle())
			out <- result{
				session:  sess,
				records:  records,
				health:   health,
				duration: time.Since(begin),
			}
			return nil
		})
	}
	g.Wait()
	close(out)

	results := make([]result, 0, len(sessions))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// persist writes the snapshot files and publishes the cycle view. A write
// failure is logged and the previous on-disk snapshot survives; the
// in-memory store is already updated and the next cycle retries. The first
// failure is returned so the cycle log can record it.
func (s *Scheduler) persist(changes *store.Changes, extractErrors int, start time.Time) string {
	now := s.now()
	var persistErr string
	if err := s.writer.WriteSnapshot(s.store, now); err != nil {
		s.logger.Error("scheduler: snapshot write failed", "error", err)
		persistErr = err.Error()
	}
	if err := s.writer.WriteHistory(s.store, now); err != nil {
		s.logger.Error("scheduler: history write failed", "error", err)
		if persistErr == "" {
			persistErr = err.Error()
		}
	}

	active, parked := s.pool.Counts()
	stats := snapshot.Stats{
		Timestamp:       now,
		Cycle:           s.cycle + 1,
		CycleDuration:   now.Sub(start),
		ActiveSessions:  active,
		ParkedSessions:  parked,
		TotalRecords:    s.store.Len(),
		PerCategory:     s.store.CountByCategory(),
		Inserted:        len(changes.Inserts),
		Updated:         len(changes.Updates),
		Removed:         len(changes.Removes),
		ExtractErrors:   extractErrors,
		HistoryRetained: len(s.store.History()),
	}
	if err := s.writer.WriteStats(&stats); err != nil {
		s.logger.Error("scheduler: stats write failed", "error", err)
		if persistErr == "" {
			persistErr = err.Error()
		}
	}

	s.published.Store(&Published{
		Sessions: s.pool.StatusAll(),
		Stats:    stats,
	})
	return persistErr
}

// trackCrashes counts cycles where every attempted extraction failed and
// resets the extractor's execution context once the streak crosses the
// threshold. Cycles with nothing to extract do not advance the streak.
func (s *Scheduler) trackCrashes(ctx context.Context, attempted, succeeded int) {
	if attempted == 0 {
		return
	}
	if succeeded > 0 {
		s.failedCycles = 0
		return
	}
	s.failedCycles++
	if s.failedCycles < s.config.CrashThreshold {
		return
	}
	s.logger.Error("scheduler: extraction stalled, resetting extractor",
		"failed_cycles", s.failedCycles)
	s.failedCycles = 0
	if err := s.extractor.Reset(ctx); err != nil {
		s.logger.Error("scheduler: extractor reset failed", "error", err)
		return
	}
	now := s.now()
	s.pool.DropHandles(now)
	if n := s.pool.Reopen(ctx, now); n > 0 {
		s.logger.Info("scheduler: sessions reopened after reset", "count", n)
	}
}

func (s *Scheduler) logCycle(ctx context.Context, start time.Time, duration time.Duration,
	changes *store.Changes, extractErrors int, persistErr string, outcomes []cyclelog.SessionOutcome) {
	if s.log == nil {
		return
	}
	active, parked := s.pool.Counts()
	_, err := s.log.Record(ctx, &cyclelog.Cycle{
		StartedAt:      start,
		Duration:       duration,
		SessionsActive: active,
		SessionsParked: parked,
		RecordsTotal:   s.store.Len(),
		Inserted:       len(changes.Inserts),
		Updated:        len(changes.Updates),
		Removed:        len(changes.Removes),
		ExtractErrors:  extractErrors,
		PersistError:   persistErr,
	}, outcomes)
	if err != nil {
		s.logger.Warn("scheduler: cyclelog write failed", "error", err)
	}
}
