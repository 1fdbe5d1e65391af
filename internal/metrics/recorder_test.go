package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_Counters(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncOutcome("success")
	r.IncOutcome("success")
	r.IncOutcome("run_timeout")
	require.Equal(t, float64(2), testutil.ToFloat64(r.outcomes.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.outcomes.WithLabelValues("run_timeout")))

	r.IncMaintenanceRun("storage cleanup", "success")
	require.Equal(t, float64(1), testutil.ToFloat64(r.maintenanceRuns.WithLabelValues("storage cleanup", "success")))

	r.IncSweepRemovals(3)
	require.Equal(t, float64(3), testutil.ToFloat64(r.sweepRemovals))

	r.IncNotifications("warning")
	require.Equal(t, float64(1), testutil.ToFloat64(r.notifications.WithLabelValues("warning")))
}

func TestPrometheusRecorder_Gauges(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.SetQueueDepth(4)
	require.Equal(t, float64(4), testutil.ToFloat64(r.queueDepth))
	r.SetQueueDepth(0)
	require.Equal(t, float64(0), testutil.ToFloat64(r.queueDepth))

	r.SetStatusRecords(123)
	require.Equal(t, float64(123), testutil.ToFloat64(r.statusRecords))
}

func TestPrometheusRecorder_NilSafe(t *testing.T) {
	var r *PrometheusRecorder
	r.IncOutcome("success")
	r.ObserveCompileDuration(time.Second)
	r.ObservePassDuration(time.Minute)
	r.SetQueueDepth(1)
	r.SetStatusRecords(1)
	r.IncMaintenanceRun("storage cleanup", "failure")
	r.IncSweepRemovals(1)
	r.IncNotifications("info")
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncOutcome("failure")
	r.ObservePassDuration(time.Hour)
	r.SetQueueDepth(9)
}
