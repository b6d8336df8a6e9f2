// Package reaper runs the periodic sweep that forces lapsed reservations
// through the expired transition. One instance runs per replica; racing
// sweeps are safe because the expire transition is a storage-level
// compare-and-swap.
package reaper

import (
	"context"
	"time"

	"github.com/showtix/showtix/internal/observability"
)

// Sweeper is the slice of the lifecycle engine the reaper drives.
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

type Reaper struct {
	engine   Sweeper
	logger   observability.Logger
	interval time.Duration
	batch    int
}

func New(engine Sweeper, logger observability.Logger, interval time.Duration, batch int) *Reaper {
	return &Reaper{engine: engine, logger: logger, interval: interval, batch: batch}
}

// Run sweeps on a fixed interval until ctx is cancelled. An in-flight
// sweep finishes before Run returns; the sweep itself isolates per-booking
// failures so one bad row never aborts the batch.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.WithField("interval", r.interval.String()).Info("reaper started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			count, err := r.engine.SweepExpired(ctx, r.batch)
			if err != nil {
				r.logger.Error("expiry sweep failed: ", err)
				continue
			}
			if count > 0 {
				r.logger.WithField("count", count).Info("expired lapsed reservations")
			}
		}
	}
}
