package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/funnel-studio/internal/editor"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
	"go.uber.org/multierr"
)

const (
	// DefaultSnapshotInterval is how often dirty stages are written as drafts.
	DefaultSnapshotInterval = 5 * time.Second

	// DefaultCommitInterval is how often dirty stages are saved to the store
	// when auto commit is on.
	DefaultCommitInterval = 60 * time.Second
)

// Sessions lists the open editing sessions.
type Sessions interface {
	Sessions() []*editor.Session
}

// AutoSaveConfig tunes the auto-save worker.
type AutoSaveConfig struct {
	SnapshotInterval time.Duration
	CommitInterval   time.Duration
	AutoCommit       bool
}

// AutoSaveWorker snapshots drafts and optionally commits dirty stages of
// every open session on two independent tickers. Both ticks are no-ops when
// nothing changed.
type AutoSaveWorker struct {
	sessions Sessions
	cfg      AutoSaveConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewAutoSaveWorker creates a worker. Zero intervals select the defaults.
func NewAutoSaveWorker(sessions Sessions, cfg AutoSaveConfig) *AutoSaveWorker {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	if cfg.CommitInterval <= 0 {
		cfg.CommitInterval = DefaultCommitInterval
	}
	return &AutoSaveWorker{sessions: sessions, cfg: cfg}
}

// Start launches the tickers. Calling Start on a running worker does nothing.
func (w *AutoSaveWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	logger.Info("auto-save worker started",
		"snapshot_interval", w.cfg.SnapshotInterval.String(),
		"commit_interval", w.cfg.CommitInterval.String(),
		"auto_commit", w.cfg.AutoCommit)

	w.wg.Add(1)
	go w.loop(ctx, w.cfg.SnapshotInterval, func(ctx context.Context) {
		if _, err := w.SnapshotOnce(ctx); err != nil {
			logger.Warn("draft snapshot tick failed", "error", err)
		}
	})
	if w.cfg.AutoCommit {
		w.wg.Add(1)
		go w.loop(ctx, w.cfg.CommitInterval, func(ctx context.Context) {
			if _, err := w.CommitOnce(ctx); err != nil {
				logger.Error("auto commit tick failed", "error", err)
			}
		})
	}
}

// Stop cancels the tickers and waits for a running tick to finish.
func (w *AutoSaveWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	logger.Info("auto-save worker stopped")
}

func (w *AutoSaveWorker) loop(ctx context.Context, every time.Duration, tick func(context.Context)) {
	defer w.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// SnapshotOnce writes drafts for every session and returns how many were
// written.
func (w *AutoSaveWorker) SnapshotOnce(ctx context.Context) (int, error) {
	total := 0
	var errs error
	for _, s := range w.sessions.Sessions() {
		n, err := s.SnapshotDrafts(ctx)
		total += n
		errs = multierr.Append(errs, err)
	}
	if total > 0 {
		logger.Debug("drafts snapshotted", "count", total)
	}
	return total, errs
}

// CommitOnce saves the dirty stages of every session and returns how many
// stages were saved.
func (w *AutoSaveWorker) CommitOnce(ctx context.Context) (int, error) {
	total := 0
	var errs error
	for _, s := range w.sessions.Sessions() {
		saved, err := s.SaveAll(ctx)
		total += len(saved)
		errs = multierr.Append(errs, err)
	}
	return total, errs
}
