package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryClient is an in-process Client used by tests and by `--queue memory`
// local runs. Tests drive job lifecycles explicitly; local runs can opt into
// auto-completion so the loop has something to chew on without workers.
type MemoryClient struct {
	mu          sync.Mutex
	jobs        map[string]*memoryJob
	order       []string
	autoSucceed bool
}

type memoryJob struct {
	id     string
	task   string
	args   []any
	status Status
	result *Result
}

// NewMemoryClient creates an empty in-memory queue.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{jobs: make(map[string]*memoryJob)}
}

// NewAutoSucceedClient creates a queue where every job finishes immediately
// with return code 0. Useful for local smoke runs without a worker fleet.
func NewAutoSucceedClient() *MemoryClient {
	c := NewMemoryClient()
	c.autoSucceed = true
	return c
}

func (c *MemoryClient) Enqueue(_ context.Context, task string, _ time.Duration, args ...any) (JobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job := &memoryJob{
		id:     uuid.NewString(),
		task:   task,
		args:   args,
		status: StatusQueued,
	}
	if c.autoSucceed {
		job.status = StatusFinished
		job.result = &Result{ReturnCode: 0, Output: "OK"}
	}
	c.jobs[job.id] = job
	c.order = append(c.order, job.id)
	return &memoryJobHandle{client: c, id: job.id}, nil
}

func (c *MemoryClient) Depth(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	depth := 0
	for _, job := range c.jobs {
		if job.status != StatusFinished {
			depth++
		}
	}
	return depth, nil
}

func (c *MemoryClient) Close() error { return nil }

// SetStatus moves a job to the given lifecycle state. Test hook.
func (c *MemoryClient) SetStatus(id string, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job, ok := c.jobs[id]; ok {
		job.status = status
	}
}

// Finish marks a job finished with the given result. A nil result models a
// job whose result was lost. Test hook.
func (c *MemoryClient) Finish(id string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job, ok := c.jobs[id]; ok {
		job.status = StatusFinished
		job.result = result
	}
}

// LastJob returns the most recently enqueued job's id and task, or empty strings.
func (c *MemoryClient) LastJob() (id, task string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return "", ""
	}
	job := c.jobs[c.order[len(c.order)-1]]
	return job.id, job.task
}

// Submissions returns the task names of every enqueued job, in order.
func (c *MemoryClient) Submissions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	tasks := make([]string, 0, len(c.order))
	for _, id := range c.order {
		tasks = append(tasks, c.jobs[id].task)
	}
	return tasks
}

type memoryJobHandle struct {
	client *MemoryClient
	id     string
}

func (h *memoryJobHandle) ID() string { return h.id }

func (h *memoryJobHandle) Status(context.Context) (Status, error) {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	return h.client.jobs[h.id].status, nil
}

func (h *memoryJobHandle) Result(context.Context) (*Result, error) {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	return h.client.jobs[h.id].result, nil
}
