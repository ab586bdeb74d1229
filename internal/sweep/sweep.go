// Package sweep runs a cron-scheduled outbox pass, so rows left behind by a
// missed trigger still reach the remote store.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/ids"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// Syncer is the outbox driver.
type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

// Sweeper owns the schedule loop.
type Sweeper struct {
	cron   string
	syncer Syncer
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	running bool
	runs    int
	lastRun time.Time
}

// New validates cron and returns a sweeper that is not yet started.
func New(cron string, s Syncer) (*Sweeper, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cron)
	}
	return &Sweeper{cron: cron, syncer: s, now: time.Now, after: time.After}, nil
}

// Start runs the schedule loop until ctx ends or the returned cancel is
// called.
func (sw *Sweeper) Start(ctx context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	logger.Info("sweep_enabled", "cron", sw.cron)
	go sw.scheduleLoop(ctx)
	return cancel
}

// Runs returns how many sweeps have completed and when the last one began.
func (sw *Sweeper) Runs() (int, time.Time) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.runs, sw.lastRun
}

// RunNow performs a sweep immediately unless one is already running.
func (sw *Sweeper) RunNow(ctx context.Context) (int, error) {
	sw.mu.Lock()
	if sw.running {
		sw.mu.Unlock()
		return 0, nil
	}
	sw.running = true
	sw.lastRun = sw.now()
	sw.mu.Unlock()

	defer func() {
		sw.mu.Lock()
		sw.running = false
		sw.runs++
		sw.mu.Unlock()
	}()

	runID := ids.NewRunID()
	logger.Debug("sweep_run_start", "run_id", runID)
	n, err := sw.syncer.Sync(ctx)
	if err != nil {
		logger.Warn("sweep_run_halted", "run_id", runID, "synced", n, "kind", syncerr.Kind(err), "error", err)
		return n, err
	}
	logger.Info("sweep_run_done", "run_id", runID, "synced", n)
	return n, nil
}

func (sw *Sweeper) scheduleLoop(ctx context.Context) {
	for {
		now := sw.now()
		next, err := gronx.NextTickAfter(sw.cron, now, false)
		if err != nil {
			logger.Error("sweep_nexttick_failed", "cron", sw.cron, "error", err)
			select {
			case <-sw.after(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-sw.after(wait):
			_, _ = sw.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}
