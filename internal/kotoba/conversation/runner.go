package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCleanupInterval is used when NewCleanupRunner gets a zero interval.
const DefaultCleanupInterval = 5 * time.Minute

// CleanupRunner calls Manager.CleanupExpired on a ticker. Lazy expiry on
// lookup already covers sessions that get touched; the sweep archives the
// ones nobody comes back to.
type CleanupRunner struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewCleanupRunner creates a runner. If logger is nil the default slog
// logger is used.
func NewCleanupRunner(m *Manager, interval time.Duration, logger *slog.Logger) *CleanupRunner {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupRunner{
		manager:  m,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Run sweeps every interval until ctx is cancelled or Stop is called. Call
// it in a goroutine.
func (r *CleanupRunner) Run(ctx context.Context) {
	r.stopMu.Lock()
	stop := r.stopCh
	r.stopMu.Unlock()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("cleanup runner started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of sessions ended.
func (r *CleanupRunner) RunOnce(ctx context.Context) int {
	n := r.manager.CleanupExpired(ctx)
	r.logger.Debug("cleanup sweep done", "ended", n, "active", r.manager.Active())
	return n
}

// Stop signals Run to return. Safe to call multiple times.
func (r *CleanupRunner) Stop() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
}
