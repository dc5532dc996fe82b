package livewatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/livewatch/dbopen"
	"github.com/hazyhaar/livewatch/internal/browser"
	"github.com/hazyhaar/livewatch/internal/cyclelog"
	"github.com/hazyhaar/livewatch/internal/extract"
	"github.com/hazyhaar/livewatch/internal/feed"
	"github.com/hazyhaar/livewatch/internal/names"
	"github.com/hazyhaar/livewatch/internal/scheduler"
	"github.com/hazyhaar/livewatch/internal/session"
	"github.com/hazyhaar/livewatch/internal/snapshot"
	"github.com/hazyhaar/livewatch/internal/store"
)

// Service is the main livewatch orchestrator.
type Service struct {
	config    *Config
	logger    *slog.Logger
	extractor extract.Extractor
	mgr       *browser.Manager // nil when every endpoint is HTTP mode
	pool      *session.Pool
	store     *store.RecordStore
	writer    *snapshot.Writer
	cycles    *cyclelog.Log
	cyclesDB  *sql.DB
	scheduler *scheduler.Scheduler

	noCycleLog bool
}

// ServiceOption customizes Service construction.
type ServiceOption func(*Service)

// WithExtractor substitutes the extraction backend. The browser and HTTP
// extractors from the configuration are not built.
func WithExtractor(x extract.Extractor) ServiceOption {
	return func(s *Service) { s.extractor = x }
}

// WithoutCycleLog disables the SQLite cycle log.
func WithoutCycleLog() ServiceOption {
	return func(s *Service) { s.noCycleLog = true }
}

// New creates a livewatch Service from a validated configuration.
func New(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		config: cfg,
		logger: logger,
		store:  store.New(cfg.HistoryRetention),
		writer: snapshot.NewWriter(cfg.DataDir),
	}
	for _, opt := range opts {
		opt(svc)
	}

	normalize := feed.NormalizeFunc(names.Canonical)

	if svc.extractor == nil {
		httpx := extract.NewHTTP(extract.HTTPConfig{
			Timeout:   cfg.HTTP.Timeout,
			MaxBytes:  cfg.HTTP.MaxBytes,
			UserAgent: cfg.HTTP.UserAgent,
			RateEvery: cfg.HTTP.RateEvery,
		}, normalize, logger)

		if cfg.needsBrowser() {
			svc.mgr = browser.NewManager(browser.Config{
				RemoteURL:       cfg.Browser.Remote,
				RecycleInterval: cfg.Browser.RecycleInterval,
				Logger:          logger,
			})
			svc.extractor = browser.NewExtractor(svc.mgr, httpx, normalize, logger)
		} else {
			svc.extractor = httpx
		}
	}

	svc.pool = session.New(svc.extractor, session.Config{
		Cooldown:          cfg.Session.Cooldown,
		CleanupThreshold:  cfg.Session.CleanupThreshold,
		MaxErrorTolerance: cfg.Session.MaxErrorTolerance,
		ErrorCeiling:      cfg.Session.ErrorCeiling,
	}, logger)

	svc.scheduler = scheduler.New(svc.pool, svc.store, svc.writer, svc.extractor,
		svc.cycles, scheduler.Config{
			TickInterval:    cfg.Scheduler.Tick,
			RecheckInterval: cfg.Scheduler.RecheckInterval,
			CleanupInterval: cfg.Scheduler.CleanupInterval,
			ExtractTimeout:  cfg.Scheduler.ExtractTimeout,
			CrashThreshold:  cfg.Scheduler.CrashThreshold,
			LogRetention:    cfg.Scheduler.LogRetention,
		}, logger)

	return svc, nil
}

// Run starts the service and blocks until ctx is cancelled: browser (when
// any endpoint needs one), cycle log, session pool, scheduler loop and the
// optional HTTP API.
func (s *Service) Run(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}
	defer s.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.scheduler.Run(gctx) })

	if s.mgr != nil {
		g.Go(func() error {
			s.recycleLoop(gctx)
			return nil
		})
	}

	if s.config.Listen != "" {
		srv := &http.Server{
			Addr:              s.config.Listen,
			Handler:           s.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.logger.Info("livewatch: api listening", "addr", s.config.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("livewatch: api server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunOnce performs a single extraction cycle and returns. Used by the
// single_cycle mode for smoke tests and cron-style operation.
func (s *Service) RunOnce(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}
	defer s.close()

	s.scheduler.RunOnce(ctx)
	return nil
}

// start brings up the extraction backend, restores persisted state and
// opens the sessions.
func (s *Service) start(ctx context.Context) error {
	if s.mgr != nil {
		if err := s.mgr.Start(ctx); err != nil {
			return fmt.Errorf("livewatch: browser start: %w", err)
		}
	}

	if !s.noCycleLog && s.cycles == nil {
		path := filepath.Join(s.config.DataDir, "cyclelog.db")
		db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(cyclelog.Schema))
		if err != nil {
			// Observability only: run without the cycle log rather than
			// refuse to start.
			s.logger.Warn("livewatch: cycle log unavailable", "path", path, "error", err)
		} else {
			s.cyclesDB = db
			s.cycles = cyclelog.New(db)
			s.scheduler.SetCycleLog(s.cycles)
		}
	}

	s.restore()

	if err := s.pool.Init(ctx, s.config.Endpoints); err != nil {
		return err
	}
	return nil
}

// recycleLoop watches the Chrome process age and schedules a preventive
// restart once it outlives the recycle interval. The restart itself runs
// on the scheduler loop so the pool is never touched from here.
func (s *Service) recycleLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.mgr.Stale() {
				continue
			}
			s.scheduler.Defer(func(ctx context.Context, now time.Time) {
				s.logger.Info("livewatch: preventive browser recycle")
				if err := s.extractor.Reset(ctx); err != nil {
					s.logger.Error("livewatch: browser recycle failed", "error", err)
					return
				}
				s.pool.DropHandles(now)
				s.pool.Reopen(ctx, now)
			})
		}
	}
}

// restore reloads the last persisted snapshot so a restart does not flood
// history with spurious removals.
func (s *Service) restore() {
	snap, err := snapshot.LoadSnapshot(s.config.DataDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("livewatch: snapshot restore failed", "error", err)
		}
		return
	}
	var entries []store.HistoryEntry
	if hist, err := snapshot.LoadHistory(s.config.DataDir); err == nil {
		entries = hist.Entries
	}
	s.store.Restore(snap.Records, entries)
	s.logger.Info("livewatch: state restored",
		"records", len(snap.Records), "history", len(entries))
}

func (s *Service) close() {
	s.pool.Shutdown()
	s.extractor.Close()
	if s.cyclesDB != nil {
		s.cyclesDB.Close()
	}
}

// ForceReopen schedules a parked session's recovery: counters cleared,
// cooldown and error ceiling bypassed. The reopen itself runs at the start
// of the next cycle, on the loop goroutine that owns the pool.
func (s *Service) ForceReopen(ctx context.Context, category string) error {
	if s.pool.Get(category) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	ok := s.scheduler.Defer(func(ctx context.Context, now time.Time) {
		if err := s.pool.ForceReopen(ctx, category, now); err != nil {
			s.logger.Warn("livewatch: force reopen failed", "category", category, "error", err)
		}
	})
	if !ok {
		return fmt.Errorf("livewatch: force reopen %s: scheduler queue full", category)
	}
	return nil
}

// Sessions returns the session states published by the last completed
// cycle, or nil before the first one.
func (s *Service) Sessions() []SessionStatus {
	pub := s.scheduler.Published()
	if pub == nil {
		return nil
	}
	return pub.Sessions
}

// Snapshot loads the last persisted record set. The store itself is owned
// by the scheduler loop; concurrent readers go through the snapshot file.
func (s *Service) Snapshot() (*Snapshot, error) {
	return snapshot.LoadSnapshot(s.config.DataDir)
}

// History loads the last persisted removed-record history.
func (s *Service) History() (*RemovalHistory, error) {
	return snapshot.LoadHistory(s.config.DataDir)
}

// LastStats returns the statistics of the last completed cycle, or nil
// before the first cycle.
func (s *Service) LastStats() *Stats {
	pub := s.scheduler.Published()
	if pub == nil {
		return nil
	}
	stats := pub.Stats
	return &stats
}

// CycleHistory returns the latest n cycle outcomes from the cycle log.
func (s *Service) CycleHistory(ctx context.Context, n int) ([]*CycleOutcome, error) {
	if s.cycles == nil {
		return nil, nil
	}
	return s.cycles.RecentCycles(ctx, n)
}
