// Package maintenance runs the periodic background sweep over the store:
// logging weak memories and compacting the backing database. It runs on a
// ticker plus one final pass on shutdown. Unlike a garbage collector, this
// sweep never deletes or demotes memories — deletion stays reserved for the
// explicit delete_memory tool; it only surfaces weak memories for
// visibility and drives the compaction this store never otherwise schedules.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrel-dev/agentmem/internal/storage"
)

// DefaultInterval is the sweep's default consolidation cadence.
const DefaultInterval = 5 * time.Minute

// Sweeper periodically logs weak memories and compacts the store.
type Sweeper struct {
	Store         storage.Port
	Interval      time.Duration
	WeakThreshold float64
}

// New builds a Sweeper with the package defaults applied for zero-valued fields.
func New(store storage.Port, weakThreshold float64) *Sweeper {
	return &Sweeper{Store: store, Interval: DefaultInterval, WeakThreshold: weakThreshold}
}

// Run executes sweep cycles on Interval until ctx is cancelled, plus one
// final cycle on shutdown, with "timer" and
// "shutdown" triggers (a debounced "post-task" trigger has no
// analogue here since this store has no task-completion signal to settle
// after).
func (sw *Sweeper) Run(ctx context.Context) {
	interval := sw.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.runCycle(context.Background(), "shutdown")
			return
		case <-ticker.C:
			sw.runCycle(ctx, "timer")
		}
	}
}

func (sw *Sweeper) runCycle(ctx context.Context, trigger string) {
	start := time.Now()
	weak, err := sw.Store.ScanWeak(ctx, sw.WeakThreshold, 0, start)
	if err != nil {
		slog.Warn("maintenance: weak scan failed", "trigger", trigger, "error", err)
	} else if len(weak) > 0 {
		slog.Info("maintenance: weak memories detected", "trigger", trigger, "count", len(weak), "threshold", sw.WeakThreshold)
	}

	if err := sw.Store.Compact(ctx); err != nil {
		slog.Warn("maintenance: compact failed", "trigger", trigger, "error", err)
	}

	slog.Info("maintenance: sweep complete", "trigger", trigger, "elapsed_ms", time.Since(start).Milliseconds())
}
