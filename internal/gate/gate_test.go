package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildwatch/internal/clock"
	"git.home.luguber.info/inful/buildwatch/internal/notify"
	"git.home.luguber.info/inful/buildwatch/internal/queue"
)

// depthClient scripts a sequence of queue depths; the last entry repeats.
type depthClient struct {
	mu     sync.Mutex
	depths []int
	reads  int
}

func (c *depthClient) Depth(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.reads
	if i >= len(c.depths) {
		i = len(c.depths) - 1
	}
	c.reads++
	return c.depths[i], nil
}

func (c *depthClient) Enqueue(context.Context, string, time.Duration, ...any) (queue.JobHandle, error) {
	panic("gate must not submit")
}

func (c *depthClient) Close() error { return nil }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	levels   []notify.Level
}

func (r *recordingNotifier) Notify(_ context.Context, level notify.Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
	r.messages = append(r.messages, message)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func TestAdmit_PermitsAtOrBelowThreshold(t *testing.T) {
	t.Run("below threshold", func(t *testing.T) {
		g := New(&depthClient{depths: []int{0}}, clock.NewFake(time.Now()), &recordingNotifier{}, 1, time.Minute, time.Hour)
		require.NoError(t, g.Admit(context.Background()))
	})

	t.Run("equal to threshold is admitted", func(t *testing.T) {
		g := New(&depthClient{depths: []int{1}}, clock.NewFake(time.Now()), &recordingNotifier{}, 1, time.Minute, time.Hour)
		require.NoError(t, g.Admit(context.Background()))
	})
}

func TestAdmit_BlocksWhileDeep(t *testing.T) {
	client := &depthClient{depths: []int{5, 5, 5, 1}}
	notifier := &recordingNotifier{}
	fake := clock.NewFake(time.Now())

	ticks := 0
	g := New(client, fake, notifier, 1, time.Minute, time.Hour)
	g.Tick = func(context.Context) { ticks++ }

	require.NoError(t, g.Admit(context.Background()))

	// Three deep reads before the queue drained, each ran a maintenance tick.
	require.Equal(t, 4, client.reads)
	require.Equal(t, 3, ticks)
	// warnAfter (1h) never elapsed, so no escalation fired.
	require.Zero(t, notifier.count())
}

func TestSetThreshold_ConcurrentWithAdmit(t *testing.T) {
	// The config watcher goroutine adjusts the threshold while the loop
	// goroutine admits; both sides must be race-free.
	g := New(&depthClient{depths: []int{0}}, clock.NewFake(time.Now()), &recordingNotifier{}, 1, time.Minute, time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = g.Admit(context.Background())
		}
	}()
	for i := 0; i < 1000; i++ {
		g.SetThreshold(i % 5)
	}
	<-done
}

func TestSetThreshold_TakesEffect(t *testing.T) {
	client := &depthClient{depths: []int{3}}
	g := New(client, clock.NewFake(time.Now()), &recordingNotifier{}, 1, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Depth 3 over threshold 1: the gate blocks until the canceled context
	// stops the wait.
	require.Error(t, g.Admit(ctx))

	g.SetThreshold(3)
	require.NoError(t, g.Admit(context.Background()))
}

func TestAdmit_EscalatesOncePerWindow(t *testing.T) {
	// Depth stays at 5; retry every 10m, warn after 30m. Give the queue room
	// to drain after two hours of simulated waiting.
	depths := make([]int, 12)
	for i := range depths {
		depths[i] = 5
	}
	depths = append(depths, 1)

	client := &depthClient{depths: depths}
	notifier := &recordingNotifier{}
	fake := clock.NewFake(time.Now())

	g := New(client, fake, notifier, 1, 10*time.Minute, 30*time.Minute)
	require.NoError(t, g.Admit(context.Background()))

	// Blocked for 120 minutes with a 30-minute escalation window: warnings
	// fire at 40m and 80m (windows are only checked on 10m retry
	// boundaries, and the drain at 120m admits before the third check).
	require.Equal(t, 2, notifier.count())
	for _, level := range notifier.levels {
		require.Equal(t, notify.LevelWarning, level)
	}
	require.Contains(t, notifier.messages[0], "Compile queue too large (5)")
}
