// Package maintenance runs periodic side-tasks (storage cleanup, upstream
// sync) through the same queue backend as target compiles. Tasks are gated by
// elapsed time since their last run, not by the main iteration cadence, so a
// tick is cheap enough to weave into backpressure wait loops.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildwatch/internal/clock"
	"git.home.luguber.info/inful/buildwatch/internal/health"
	"git.home.luguber.info/inful/buildwatch/internal/metrics"
	"git.home.luguber.info/inful/buildwatch/internal/monitor"
	"git.home.luguber.info/inful/buildwatch/internal/notify"
	"git.home.luguber.info/inful/buildwatch/internal/queue"
)

// Task is one registered maintenance job.
type Task struct {
	Name      string
	Ref       string        // task reference submitted to the queue backend
	Period    time.Duration // 0 means gated by Trigger alone
	Timeout   time.Duration // run-phase timeout
	QueueWait time.Duration // queue-phase timeout

	// Trigger, when set, must also report true for the task to fire.
	// The upstream-sync task uses this to fire on a durable flag.
	Trigger func(ctx context.Context) bool

	// OnOutcome, when set, observes every terminal outcome. Task-specific
	// success messaging lives here; generic failure reporting does not.
	OnOutcome func(ctx context.Context, out monitor.Outcome)

	// NotifyFailure gates the scheduler's own failure notifications.
	NotifyFailure bool

	lastRun time.Time
}

// Scheduler owns the registered tasks and runs them sequentially on Tick.
type Scheduler struct {
	queue    queue.Client
	mon      *monitor.Monitor
	clk      clock.Clock
	notifier notify.Notifier
	reporter *health.Reporter
	recorder metrics.Recorder

	// OnTick, when set, runs at the start of every tick (liveness ping).
	OnTick func(ctx context.Context)

	mu    sync.Mutex
	tasks []*Task
}

// NewScheduler creates an empty scheduler.
func NewScheduler(q queue.Client, mon *monitor.Monitor, clk clock.Clock, notifier notify.Notifier, reporter *health.Reporter, recorder metrics.Recorder) *Scheduler {
	if clk == nil {
		clk = clock.System()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Scheduler{
		queue:    q,
		mon:      mon,
		clk:      clk,
		notifier: notifier,
		reporter: reporter,
		recorder: recorder,
	}
}

// Register adds a task. Its elapsed-time gate starts open: a freshly
// registered task fires on the first eligible tick.
func (s *Scheduler) Register(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// SetTiming adjusts a registered task's period and timeouts (config
// hot-reload). Unknown names are ignored.
func (s *Scheduler) SetTiming(name string, period, timeout, queueWait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Name == name {
			t.Period = period
			t.Timeout = timeout
			t.QueueWait = queueWait
			return
		}
	}
}

// LastRuns returns a copy of each task's last-run timestamp, for status
// reporting. Never-run tasks report the zero time.
func (s *Scheduler) LastRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.tasks))
	for _, t := range s.tasks {
		out[t.Name] = t.lastRun
	}
	return out
}

// Tick fires every eligible task, sequentially. Tasks never overlap with
// themselves; a failed run is not retried before its next full period.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.OnTick != nil {
		s.OnTick(ctx)
	}

	s.mu.Lock()
	tasks := make([]*Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		if !s.eligible(ctx, task) {
			continue
		}
		s.runTask(ctx, task)
	}
}

func (s *Scheduler) eligible(ctx context.Context, task *Task) bool {
	s.mu.Lock()
	period, lastRun := task.Period, task.lastRun
	s.mu.Unlock()

	if period > 0 && s.clk.Now().Sub(lastRun) <= period {
		return false
	}
	if task.Trigger != nil && !task.Trigger(ctx) {
		return false
	}
	return true
}

// runTask submits the task's job and drives it to a terminal outcome.
// last_run is set regardless of outcome.
func (s *Scheduler) runTask(ctx context.Context, task *Task) {
	slog.Info("Beginning maintenance task", "task", task.Name)

	s.mu.Lock()
	timeout, queueWait := task.Timeout, task.QueueWait
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		task.lastRun = s.clk.Now()
		s.mu.Unlock()
	}()

	job, err := s.queue.Enqueue(ctx, task.Ref, timeout)
	if err != nil {
		slog.Error("Failed to enqueue maintenance job", "task", task.Name, "error", err)
		if task.NotifyFailure {
			s.notifier.Notify(ctx, notify.LevelError,
				fmt.Sprintf("Could not submit %s job: %v", task.Name, err))
		}
		s.recorder.IncMaintenanceRun(task.Name, string(monitor.OutcomeFailure))
		return
	}
	slog.Info("Enqueued maintenance job", "task", task.Name, "job_id", job.ID())

	out, err := s.mon.Await(ctx, job, queueWait, timeout)
	if err != nil {
		// Shutdown mid-wait; the backend job keeps running unobserved.
		return
	}

	s.report(ctx, task, out, queueWait, timeout)
	s.recorder.IncMaintenanceRun(task.Name, string(out.Kind))

	if out.OK() && s.reporter != nil {
		s.reporter.MarkMaintenance(task.Name)
	}
	if task.OnOutcome != nil {
		task.OnOutcome(ctx, out)
	}
}

func (s *Scheduler) report(ctx context.Context, task *Task, out monitor.Outcome, queueWait, timeout time.Duration) {
	switch out.Kind {
	case monitor.OutcomeSuccess:
		slog.Info("Maintenance task completed", "task", task.Name)
	case monitor.OutcomeQueueTimeout:
		depth, _ := s.queue.Depth(ctx)
		slog.Warn("Maintenance task queued too long, giving up", "task", task.Name, "queue_wait", queueWait)
		if task.NotifyFailure {
			s.notifier.Notify(ctx, notify.LevelWarning,
				fmt.Sprintf("%s queued longer than %s! Queue length %d!", task.Name, queueWait, depth))
		}
	case monitor.OutcomeRunTimeout:
		slog.Warn("Maintenance task ran too long, abandoning", "task", task.Name, "timeout", timeout)
		if task.NotifyFailure {
			s.notifier.Notify(ctx, notify.LevelWarning,
				fmt.Sprintf("%s took longer than %s!", task.Name, timeout))
		}
	case monitor.OutcomeException:
		slog.Error("Maintenance task raised", "task", task.Name, "exception", out.ExceptionType)
		if task.NotifyFailure {
			s.notifier.Notify(ctx, notify.LevelError,
				fmt.Sprintf("%s did not complete successfully: %s", task.Name, out.ExceptionType))
		}
	default:
		slog.Error("Maintenance task failed", "task", task.Name, "returncode", out.ReturnCode)
		if task.NotifyFailure {
			s.notifier.Notify(ctx, notify.LevelError,
				fmt.Sprintf("%s did not complete successfully!", task.Name))
		}
	}
}
