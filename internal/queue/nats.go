package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	bwerrors "git.home.luguber.info/inful/buildwatch/internal/errors"
)

const (
	streamName    = "BUILDWATCH_JOBS"
	subjectPrefix = "buildwatch.jobs."
	jobsKVBucket  = "buildwatch-jobs"
)

// jobRecord is the shared job-state document in the jobs KV bucket. The
// submitter writes the initial queued record; workers overwrite status and,
// on completion, attach the result.
type jobRecord struct {
	ID        string  `json:"id"`
	Task      string  `json:"task"`
	Status    Status  `json:"status"`
	Result    *Result `json:"result,omitempty"`
	UpdatedAt int64   `json:"updated_at"`
}

// jobRequest is the submission message published to the work-queue stream.
type jobRequest struct {
	ID      string `json:"id"`
	Task    string `json:"task"`
	Timeout int64  `json:"timeout_seconds"`
	Args    []any  `json:"args,omitempty"`
}

// NATSClient implements Client on a NATS JetStream work-queue stream, with
// job lifecycle records kept in a JetStream KV bucket.
type NATSClient struct {
	conn *nats.Conn
	js   jetstream.JetStream
	kv   jetstream.KeyValue
}

// NewNATSClient connects to NATS and ensures the jobs stream and KV bucket exist.
func NewNATSClient(ctx context.Context, url string) (*NATSClient, error) {
	conn, err := nats.Connect(url, nats.Name("buildwatch"))
	if err != nil {
		return nil, bwerrors.Wrap(err, bwerrors.CategoryQueue, bwerrors.SeverityFatal, "connect to NATS").
			WithContext("url", url)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, bwerrors.Wrap(err, bwerrors.CategoryQueue, bwerrors.SeverityFatal, "create JetStream context")
	}

	c := &NATSClient{conn: conn, js: js}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		conn.Close()
		return nil, bwerrors.Wrap(err, bwerrors.CategoryQueue, bwerrors.SeverityFatal, "ensure jobs stream")
	}

	if err := c.initKVBucket(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("NATS queue client initialized", "url", url, "stream", streamName, "kv_bucket", jobsKVBucket)
	return c, nil
}

func (c *NATSClient) initKVBucket(ctx context.Context) error {
	// Try to get existing bucket first
	kv, err := c.js.KeyValue(ctx, jobsKVBucket)
	if err == nil {
		c.kv = kv
		return nil
	}

	kv, err = c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      jobsKVBucket,
		Description: "buildwatch job lifecycle records",
		History:     1,
	})
	if err != nil {
		return bwerrors.Wrap(err, bwerrors.CategoryQueue, bwerrors.SeverityFatal, "create jobs KV bucket")
	}
	c.kv = kv
	return nil
}

// Enqueue writes the initial queued record and publishes the submission.
func (c *NATSClient) Enqueue(ctx context.Context, task string, timeout time.Duration, args ...any) (JobHandle, error) {
	id := uuid.NewString()

	rec := jobRecord{
		ID:        id,
		Task:      task,
		Status:    StatusQueued,
		UpdatedAt: time.Now().Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, bwerrors.QueueSubmitError(task, err)
	}
	if _, err := c.kv.Put(ctx, id, data); err != nil {
		return nil, bwerrors.QueueSubmitError(task, err)
	}

	req := jobRequest{
		ID:      id,
		Task:    task,
		Timeout: int64(timeout / time.Second),
		Args:    args,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, bwerrors.QueueSubmitError(task, err)
	}
	if _, err := c.js.Publish(ctx, subjectPrefix+task, payload); err != nil {
		return nil, bwerrors.QueueSubmitError(task, err)
	}

	slog.Debug("Enqueued job", "job_id", id, "task", task, "timeout", timeout)
	return &natsJobHandle{client: c, id: id}, nil
}

// Depth counts unfinished job records. Workers delete records for jobs whose
// results have aged out, so the scan stays small in practice.
func (c *NATSClient) Depth(ctx context.Context) (int, error) {
	lister, err := c.kv.ListKeys(ctx)
	if err != nil {
		return 0, bwerrors.WrapRetryable(err, bwerrors.CategoryQueue, bwerrors.SeverityWarning, "list job records")
	}
	depth := 0
	for key := range lister.Keys() {
		rec, err := c.getRecord(ctx, key)
		if err != nil {
			continue
		}
		if rec.Status != StatusFinished {
			depth++
		}
	}
	return depth, nil
}

func (c *NATSClient) getRecord(ctx context.Context, id string) (*jobRecord, error) {
	entry, err := c.kv.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var rec jobRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("decode job record %s: %w", id, err)
	}
	return &rec, nil
}

func (c *NATSClient) Close() error {
	c.conn.Close()
	return nil
}

type natsJobHandle struct {
	client *NATSClient
	id     string
}

func (h *natsJobHandle) ID() string { return h.id }

func (h *natsJobHandle) Status(ctx context.Context) (Status, error) {
	rec, err := h.client.getRecord(ctx, h.id)
	if err != nil {
		return "", bwerrors.QueueStatusError(h.id, err)
	}
	return rec.Status, nil
}

func (h *natsJobHandle) Result(ctx context.Context) (*Result, error) {
	rec, err := h.client.getRecord(ctx, h.id)
	if err != nil {
		return nil, bwerrors.QueueStatusError(h.id, err)
	}
	return rec.Result, nil
}
