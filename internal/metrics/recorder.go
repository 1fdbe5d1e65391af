package metrics

import "time"

// Recorder defines observability hooks for the control loop. Implementations
// may forward to Prometheus, OpenTelemetry, etc. All methods must be safe for
// nil receivers when using the NoopRecorder (allowing optional injection).
type Recorder interface {
	IncOutcome(outcome string) // outcome: success|failure|queue_timeout|run_timeout|exception
	ObserveCompileDuration(d time.Duration)
	ObservePassDuration(d time.Duration)
	SetQueueDepth(n int)
	SetStatusRecords(n int)
	IncMaintenanceRun(task string, outcome string)
	IncSweepRemovals(n int)
	IncNotifications(level string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncOutcome(string)                     {}
func (NoopRecorder) ObserveCompileDuration(time.Duration)  {}
func (NoopRecorder) ObservePassDuration(time.Duration)     {}
func (NoopRecorder) SetQueueDepth(int)                     {}
func (NoopRecorder) SetStatusRecords(int)                  {}
func (NoopRecorder) IncMaintenanceRun(string, string)      {}
func (NoopRecorder) IncSweepRemovals(int)                  {}
func (NoopRecorder) IncNotifications(string)               {}
