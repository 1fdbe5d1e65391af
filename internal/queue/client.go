// Package queue abstracts the external asynchronous execution backend. The
// control loop only ever submits work and polls for status; it never executes
// builds itself and never cancels a job it has given up on.
package queue

import (
	"context"
	"time"
)

// Status is the backend-reported lifecycle state of a job.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusDeferred Status = "deferred"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
)

// Pending reports whether the job is still waiting for a worker.
func (s Status) Pending() bool {
	return s == StatusQueued || s == StatusDeferred
}

// Task references known to the execution backend.
const (
	TaskCompile        = "compile"
	TaskCleanupStorage = "cleanup_storage"
	TaskSyncUpstream   = "sync_upstream"
)

// ReturnCodeException is the sentinel return code workers report when the
// task raised internally rather than failing the build it was running.
const ReturnCodeException = -2

// Result is what a worker reports for a finished job.
type Result struct {
	ReturnCode    int    `json:"returncode"`
	Output        string `json:"output"`
	ExceptionType string `json:"exception_type,omitempty"`
	StackTrace    string `json:"stacktrace,omitempty"`
}

// OK reports a clean completion.
func (r *Result) OK() bool { return r.ReturnCode == 0 }

// JobHandle is the caller's view of one submitted job.
type JobHandle interface {
	ID() string
	// Status queries the backend for the job's current lifecycle state.
	Status(ctx context.Context) (Status, error)
	// Result returns the worker-reported result, or nil when none has been
	// recorded yet (still pending, or lost).
	Result(ctx context.Context) (*Result, error)
}

// Client is the submission side of the execution backend.
type Client interface {
	// Enqueue submits a task with the given run timeout and arguments and
	// returns a handle for polling. args must be JSON-serializable.
	Enqueue(ctx context.Context, task string, timeout time.Duration, args ...any) (JobHandle, error)
	// Depth returns the number of not-yet-finished jobs on the backend.
	Depth(ctx context.Context) (int, error)
	Close() error
}
