package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryClient_Lifecycle(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	job, err := c.Enqueue(ctx, TaskCompile, 10*time.Minute, map[string]string{"keyboard": "planck/rev6"})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID())

	st, err := job.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, st)
	require.True(t, st.Pending())

	c.SetStatus(job.ID(), StatusStarted)
	st, _ = job.Status(ctx)
	require.Equal(t, StatusStarted, st)
	require.False(t, st.Pending())

	res, err := job.Result(ctx)
	require.NoError(t, err)
	require.Nil(t, res)

	c.Finish(job.ID(), &Result{ReturnCode: 1, Output: "error: KC_BOGUS undefined"})
	st, _ = job.Status(ctx)
	require.Equal(t, StatusFinished, st)
	res, _ = job.Result(ctx)
	require.False(t, res.OK())
	require.Equal(t, "error: KC_BOGUS undefined", res.Output)
}

func TestMemoryClient_Depth(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	depth, err := c.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, depth)

	a, _ := c.Enqueue(ctx, TaskCompile, time.Minute)
	b, _ := c.Enqueue(ctx, TaskCompile, time.Minute)

	depth, _ = c.Depth(ctx)
	require.Equal(t, 2, depth)

	c.Finish(a.ID(), &Result{ReturnCode: 0})
	depth, _ = c.Depth(ctx)
	require.Equal(t, 1, depth)

	// Started jobs still count; only finished ones leave the depth.
	c.SetStatus(b.ID(), StatusStarted)
	depth, _ = c.Depth(ctx)
	require.Equal(t, 1, depth)
}

func TestAutoSucceedClient(t *testing.T) {
	c := NewAutoSucceedClient()
	ctx := context.Background()

	job, err := c.Enqueue(ctx, TaskCleanupStorage, time.Minute)
	require.NoError(t, err)

	st, _ := job.Status(ctx)
	require.Equal(t, StatusFinished, st)
	res, _ := job.Result(ctx)
	require.True(t, res.OK())
}

func TestMemoryClient_Submissions(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	_, _ = c.Enqueue(ctx, TaskCompile, time.Minute)
	_, _ = c.Enqueue(ctx, TaskSyncUpstream, time.Minute)

	require.Equal(t, []string{TaskCompile, TaskSyncUpstream}, c.Submissions())
	id, task := c.LastJob()
	require.NotEmpty(t, id)
	require.Equal(t, TaskSyncUpstream, task)
}
