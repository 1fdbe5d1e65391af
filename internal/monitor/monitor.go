// Package monitor drives a single submitted job through its lifecycle and
// classifies how it ended. It polls; the backend offers no push notification.
// Giving up on a job only stops the local wait, the backend job keeps running.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/buildwatch/internal/clock"
	"git.home.luguber.info/inful/buildwatch/internal/queue"
)

// OutcomeKind is the terminal classification of one job.
type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeFailure      OutcomeKind = "failure"
	OutcomeQueueTimeout OutcomeKind = "queue_timeout"
	OutcomeRunTimeout   OutcomeKind = "run_timeout"
	OutcomeException    OutcomeKind = "exception"
)

// Outcome is a tagged variant: exactly one Outcome per submitted job, with
// fields populated according to Kind.
type Outcome struct {
	Kind          OutcomeKind
	ReturnCode    int    // Failure
	Output        string // Success, Failure
	ExceptionType string // Exception
	StackTrace    string // Exception
}

// OK reports whether the job completed cleanly.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }

// TimedOut reports whether the monitor gave up waiting, in either phase.
func (o Outcome) TimedOut() bool {
	return o.Kind == OutcomeQueueTimeout || o.Kind == OutcomeRunTimeout
}

// DefaultPollInterval matches the backend's status-propagation granularity.
const DefaultPollInterval = 2 * time.Second

// Monitor awaits job completion under two timeout classes: how long the job
// may sit queued, and how long it may run once started.
type Monitor struct {
	pollInterval time.Duration
	clk          clock.Clock
}

// New creates a Monitor. A zero pollInterval selects DefaultPollInterval and
// a nil clk selects the system clock.
func New(pollInterval time.Duration, clk clock.Clock) *Monitor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Monitor{pollInterval: pollInterval, clk: clk}
}

// phase is the monitor's position in the job lifecycle.
type phase int

const (
	phaseWaiting phase = iota // job is queued or deferred
	phaseRunning              // job has started
)

// Await polls the job until it reaches a terminal state or a timeout trips.
// The returned error is non-nil only when ctx was canceled mid-wait; every
// other path yields a terminal Outcome. No retries happen here; retry policy
// belongs to the caller.
func (m *Monitor) Await(ctx context.Context, job queue.JobHandle, queueWait, runTimeout time.Duration) (Outcome, error) {
	st := phaseWaiting
	waitStart := m.clk.Now()
	var runStart time.Time

	for {
		status, err := job.Status(ctx)
		if err != nil {
			// Transient backend hiccup: hold the current phase, the
			// timeout clocks keep ticking.
			slog.Debug("Job status query failed", "job_id", job.ID(), "error", err)
		}
		now := m.clk.Now()

		switch st {
		case phaseWaiting:
			if err == nil && status == queue.StatusStarted {
				st = phaseRunning
				runStart = now
				break
			}
			if err == nil && !status.Pending() {
				// Terminal without ever being observed as started.
				return m.classify(ctx, job), nil
			}
			if now.Sub(waitStart) > queueWait {
				return Outcome{Kind: OutcomeQueueTimeout}, nil
			}
		case phaseRunning:
			if err == nil && status != queue.StatusStarted && !status.Pending() {
				return m.classify(ctx, job), nil
			}
			if now.Sub(runStart) > runTimeout {
				return Outcome{Kind: OutcomeRunTimeout}, nil
			}
		}

		if err := m.clk.Sleep(ctx, m.pollInterval); err != nil {
			return Outcome{}, err
		}
	}
}

// classify maps a terminal job's result onto an Outcome.
func (m *Monitor) classify(ctx context.Context, job queue.JobHandle) Outcome {
	res, err := job.Result(ctx)
	if err != nil {
		slog.Warn("Job result fetch failed", "job_id", job.ID(), "error", err)
		return Outcome{Kind: OutcomeFailure, Output: "no result"}
	}
	if res == nil {
		return Outcome{Kind: OutcomeFailure, Output: "no result"}
	}
	switch {
	case res.OK():
		return Outcome{Kind: OutcomeSuccess, Output: res.Output}
	case res.ReturnCode == queue.ReturnCodeException:
		return Outcome{
			Kind:          OutcomeException,
			ExceptionType: res.ExceptionType,
			StackTrace:    res.StackTrace,
		}
	default:
		return Outcome{Kind: OutcomeFailure, ReturnCode: res.ReturnCode, Output: res.Output}
	}
}
