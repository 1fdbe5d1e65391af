package health

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildwatch/internal/clock"
)

func TestIsHealthy_ActivityWindow(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := New(30*time.Minute, time.Hour, nil, clk)

	require.True(t, r.IsHealthy())

	clk.Advance(29 * time.Minute)
	require.True(t, r.IsHealthy())

	clk.Advance(2 * time.Minute)
	require.False(t, r.IsHealthy())

	// Fresh activity recovers the verdict.
	r.MarkActivity()
	require.True(t, r.IsHealthy())
}

func TestIsHealthy_MaintenanceStaleness(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := New(time.Hour, 20*time.Minute, []string{"storage cleanup"}, clk)

	clk.Advance(15 * time.Minute)
	r.MarkActivity()
	require.True(t, r.IsHealthy())

	// Activity alone does not cover an overdue critical task.
	clk.Advance(10 * time.Minute)
	r.MarkActivity()
	require.False(t, r.IsHealthy())

	r.MarkMaintenance("storage cleanup")
	require.True(t, r.IsHealthy())
}

func TestIsHealthy_NonCriticalTaskIgnored(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := New(time.Hour, 20*time.Minute, []string{"storage cleanup"}, clk)

	// An on-demand task that runs once and then legitimately idles for hours
	// must not pin the verdict while the critical task stays fresh.
	r.MarkMaintenance("upstream sync")
	clk.Advance(61 * time.Minute)
	r.MarkActivity()
	r.MarkMaintenance("storage cleanup")
	require.True(t, r.IsHealthy())

	clk.Advance(10 * time.Minute)
	require.True(t, r.IsHealthy())
}

func TestSetWindows(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := New(30*time.Minute, time.Hour, nil, clk)

	clk.Advance(40 * time.Minute)
	require.False(t, r.IsHealthy())

	// Widening the window takes effect without new activity.
	r.SetWindows(2*time.Hour, time.Hour)
	require.True(t, r.IsHealthy())

	r.SetWindows(10*time.Minute, time.Hour)
	require.False(t, r.IsHealthy())
}

func TestForceUnhealthy_IsPermanent(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := New(time.Hour, time.Hour, nil, clk)

	r.ForceUnhealthy()
	require.False(t, r.IsHealthy())

	r.MarkActivity()
	r.MarkMaintenance("storage cleanup")
	require.False(t, r.IsHealthy())
}

func TestHandler_Probe(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := New(30*time.Minute, time.Hour, nil, clk)
	h := r.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "healthy\n", rec.Body.String())

	clk.Advance(31 * time.Minute)
	rec = httptest.NewRecorder()
	// Method and path are not interpreted by the probe.
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/anything", nil))
	require.Equal(t, 500, rec.Code)
	require.Equal(t, "unhealthy\n", rec.Body.String())
}
