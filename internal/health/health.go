// Package health derives the daemon's binary liveness verdict from staleness
// signals and serves it over a minimal plain-text probe.
//
// The control loop is the single writer; it publishes an immutable snapshot
// after each mark. The probe handler only ever reads the latest published
// snapshot, so readers never observe a partially updated record.
package health

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/buildwatch/internal/clock"
)

// snapshot is the immutable liveness record the probe reads.
type snapshot struct {
	lastActivity time.Time
	maintenance  map[string]time.Time
	forced       bool // set when the loop exits its supposedly unbounded iteration
}

// Reporter tracks liveness timestamps and answers the probe.
type Reporter struct {
	clk      clock.Clock
	critical map[string]struct{}

	mu              sync.Mutex
	livenessWindow  time.Duration
	maintStaleAfter time.Duration
	snap            atomic.Pointer[snapshot]
}

// New creates a Reporter. critical lists the maintenance tasks whose
// staleness independently degrades health; each starts with its clock at now,
// so a task that never runs trips its window exactly once it is overdue.
func New(livenessWindow, maintStaleAfter time.Duration, critical []string, clk clock.Clock) *Reporter {
	if clk == nil {
		clk = clock.System()
	}
	r := &Reporter{
		clk:             clk,
		critical:        make(map[string]struct{}, len(critical)),
		livenessWindow:  livenessWindow,
		maintStaleAfter: maintStaleAfter,
	}
	now := clk.Now()
	maint := make(map[string]time.Time, len(critical))
	for _, name := range critical {
		r.critical[name] = struct{}{}
		maint[name] = now
	}
	r.snap.Store(&snapshot{lastActivity: now, maintenance: maint})
	return r
}

// SetWindows adjusts the staleness windows (config hot-reload).
func (r *Reporter) SetWindows(livenessWindow, maintStaleAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.livenessWindow = livenessWindow
	r.maintStaleAfter = maintStaleAfter
}

func (r *Reporter) windows() (liveness, maintStale time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.livenessWindow, r.maintStaleAfter
}

// MarkActivity records one completed target-processing iteration.
func (r *Reporter) MarkActivity() {
	r.publish(func(s *snapshot) {
		s.lastActivity = r.clk.Now()
	})
}

// MarkMaintenance records a successful run of the named maintenance task.
// Unknown names are recorded but do not affect the verdict.
func (r *Reporter) MarkMaintenance(name string) {
	r.publish(func(s *snapshot) {
		s.maintenance[name] = r.clk.Now()
	})
}

// ForceUnhealthy pins the verdict to unhealthy. There is no way back: this is
// reserved for the structurally-unreachable loop exit.
func (r *Reporter) ForceUnhealthy() {
	r.publish(func(s *snapshot) {
		s.forced = true
	})
}

// publish swaps in a fresh snapshot with the mutation applied.
func (r *Reporter) publish(mutate func(*snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap.Load()
	next := &snapshot{
		lastActivity: old.lastActivity,
		maintenance:  make(map[string]time.Time, len(old.maintenance)),
		forced:       old.forced,
	}
	for k, v := range old.maintenance {
		next.maintenance[k] = v
	}
	mutate(next)
	r.snap.Store(next)
}

// IsHealthy reports the liveness verdict: false once activity or any critical
// maintenance task has gone stale, or permanently after ForceUnhealthy.
// Marks for tasks outside the critical list never affect the verdict.
func (r *Reporter) IsHealthy() bool {
	s := r.snap.Load()
	if s.forced {
		return false
	}
	livenessWindow, maintStaleAfter := r.windows()
	now := r.clk.Now()
	if now.Sub(s.lastActivity) > livenessWindow {
		return false
	}
	for name := range r.critical {
		if now.Sub(s.maintenance[name]) > maintStaleAfter {
			return false
		}
	}
	return true
}

// LastActivity returns the most recent activity mark, for status reporting.
func (r *Reporter) LastActivity() time.Time {
	return r.snap.Load().lastActivity
}

// Handler serves the probe: 200/"healthy" or 500/"unhealthy", plain text.
// Request body and headers are not interpreted.
func (r *Reporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if r.IsHealthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("healthy\n"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("unhealthy\n"))
	})
}
