// Package gate throttles submissions based on backend queue depth, bounding
// concurrent load on the shared execution backend.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/buildwatch/internal/clock"
	"git.home.luguber.info/inful/buildwatch/internal/notify"
	"git.home.luguber.info/inful/buildwatch/internal/queue"
)

// Gate blocks submissions while the backend queue is deeper than the
// threshold. Depth equal to the threshold is admitted. While blocked it keeps
// maintenance ticking and escalates a rate-limited warning.
type Gate struct {
	queue     queue.Client
	clk       clock.Clock
	notifier  notify.Notifier
	threshold atomic.Int64 // written by config reload, read by the loop
	retry     time.Duration
	warnAfter time.Duration

	// Tick runs once per wait cycle so maintenance never starves during a
	// long backlog.
	Tick func(ctx context.Context)

	lastWarning time.Time
	lastAdmit   time.Time
}

// New creates a gate. retry is the sleep between depth re-reads; warnAfter is
// the minimum interval between escalation notifications.
func New(q queue.Client, clk clock.Clock, notifier notify.Notifier, threshold int, retry, warnAfter time.Duration) *Gate {
	if clk == nil {
		clk = clock.System()
	}
	now := clk.Now()
	g := &Gate{
		queue:       q,
		clk:         clk,
		notifier:    notifier,
		retry:       retry,
		warnAfter:   warnAfter,
		lastWarning: now,
		lastAdmit:   now,
	}
	g.threshold.Store(int64(threshold))
	return g
}

// SetThreshold adjusts the depth threshold (config hot-reload).
func (g *Gate) SetThreshold(n int) { g.threshold.Store(int64(n)) }

// Admit blocks until the backend queue depth is at or below the threshold,
// or ctx is done. A depth read failure counts as an empty queue: the backend
// being unreachable is a job-level problem, not a reason to stall the loop.
func (g *Gate) Admit(ctx context.Context) error {
	for {
		depth, err := g.queue.Depth(ctx)
		if err != nil {
			slog.Warn("Queue depth read failed, admitting", "error", err)
			depth = 0
		}
		threshold := int(g.threshold.Load())
		if depth <= threshold {
			g.lastAdmit = g.clk.Now()
			return nil
		}

		if g.Tick != nil {
			g.Tick(ctx)
		}

		slog.Info("Too many jobs in the backend queue, holding submissions",
			"depth", depth, "threshold", threshold, "retry", g.retry)

		now := g.clk.Now()
		if now.Sub(g.lastWarning) > g.warnAfter {
			g.lastWarning = now
			g.notifier.Notify(ctx, notify.LevelWarning,
				fmt.Sprintf("Compile queue too large (%d) since %s", depth, g.lastAdmit.Format(time.RFC3339)))
		}

		if err := g.clk.Sleep(ctx, g.retry); err != nil {
			return err
		}
	}
}
