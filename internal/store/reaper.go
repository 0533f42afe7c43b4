package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/robfig/cron/v3"
)

// Reaper periodically deletes expired records from a backend whose medium
// does not expire them on its own. Redeem correctness never depends on it:
// consumes re-check expiry, the reaper only reclaims space.
type Reaper struct {
	expirer  Expirer
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReaper returns a Reaper sweeping every interval. A nil now uses time.Now.
func NewReaper(expirer Expirer, interval time.Duration, now func() time.Time) *Reaper {
	if now == nil {
		now = time.Now
	}
	return &Reaper{
		expirer:  expirer,
		interval: interval,
		now:      now,
	}
}

// Start schedules sweeps. ctx carries the logger used by scheduled sweeps.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return errors.New("reaper already started")
	}
	if r.interval < time.Second {
		return fmt.Errorf("reap interval must be at least 1s, got %s", r.interval)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+r.interval.String(), func() {
		if _, err := r.Sweep(ctx); err != nil {
			clog.FromContext(ctx).Errorf("sweeping expired secrets: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	c.Start()
	r.cron = c

	clog.FromContext(ctx).Infof("reaper started, sweeping every %s", r.interval)
	return nil
}

// Stop cancels future sweeps and waits for a running one to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}

// Sweep deletes every record expired as of now.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	n, err := r.expirer.DeleteExpired(ctx, r.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		clog.FromContext(ctx).Infof("reaped %d expired secrets", n)
	}
	return n, nil
}
