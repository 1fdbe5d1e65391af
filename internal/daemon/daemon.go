// Package daemon wires the buildwatch components together and runs the
// continuous build-verification loop.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/buildwatch/internal/catalog"
	"git.home.luguber.info/inful/buildwatch/internal/clock"
	"git.home.luguber.info/inful/buildwatch/internal/config"
	"git.home.luguber.info/inful/buildwatch/internal/gate"
	"git.home.luguber.info/inful/buildwatch/internal/health"
	"git.home.luguber.info/inful/buildwatch/internal/maintenance"
	"git.home.luguber.info/inful/buildwatch/internal/metrics"
	"git.home.luguber.info/inful/buildwatch/internal/monitor"
	"git.home.luguber.info/inful/buildwatch/internal/notify"
	"git.home.luguber.info/inful/buildwatch/internal/queue"
	"git.home.luguber.info/inful/buildwatch/internal/store"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Maintenance task names.
const (
	taskStorageCleanup = "storage cleanup"
	taskUpstreamSync   = "upstream sync"
)

// Daemon owns the control loop and every collaborator around it. The loop
// goroutine is the single writer of all durable state; the HTTP goroutine
// only reads published snapshots.
type Daemon struct {
	mu         sync.RWMutex
	cfg        *config.Config
	configPath string

	status    atomic.Value // Status
	startTime time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	clk      clock.Clock
	queue    queue.Client
	kv       store.KV
	statuses *store.StatusStore
	cursor   *store.Cursor
	source   *catalog.Source
	notifier notify.Notifier
	reporter *health.Reporter
	recorder metrics.Recorder
	registry *prom.Registry
	mon      *monitor.Monitor
	maint    *maintenance.Scheduler
	gate     *gate.Gate

	scheduler     *Scheduler
	httpServer    *HTTPServer
	configWatcher *ConfigWatcher

	currentTarget atomic.Value // string
	queueDepth    atomic.Int64
	passCount     atomic.Int64
}

// New creates a daemon from the configuration, constructing the queue and
// store backends it names. configPath enables config hot-reload when non-empty.
func New(cfg *config.Config, configPath string) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		clk:        clock.System(),
	}
	d.status.Store(StatusStopped)
	d.currentTarget.Store("")

	ctx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	// Queue backend
	switch cfg.Queue {
	case config.QueueBackendMemory:
		d.queue = queue.NewAutoSucceedClient()
		slog.Warn("Using in-memory queue backend; jobs auto-succeed")
	default:
		qc, err := queue.NewNATSClient(ctx, cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		d.queue = qc
	}

	// Durable store backend
	switch cfg.Store {
	case config.StoreBackendSQLite:
		kv, err := store.NewSQLiteKV(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		d.kv = kv
	default:
		kv, err := store.NewNATSKV(ctx, cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		d.kv = kv
	}

	d.statuses = store.NewStatusStore(d.kv)
	d.cursor = store.NewCursor(d.kv)
	d.source = catalog.NewSource(cfg.CatalogURL, cfg.KeymapURL, cfg.HTTPTimeout)

	if cfg.WebhookURL != "" {
		d.notifier = notify.NewWebhook(cfg.WebhookURL, cfg.HTTPTimeout)
	} else {
		d.notifier = notify.Logger{}
		slog.Info("No webhook configured, notifications go to the log")
	}

	d.registry = prom.NewRegistry()
	d.recorder = metrics.NewPrometheusRecorder(d.registry)
	d.notifier = countingNotifier{next: d.notifier, recorder: d.recorder}

	// Storage cleanup is the only period-driven critical task; upstream sync
	// fires on demand and may be legitimately idle for days.
	d.reporter = health.New(cfg.LivenessWindow, cfg.MaintStaleAfter, []string{taskStorageCleanup}, d.clk)

	d.mon = monitor.New(cfg.PollInterval, d.clk)
	d.maint = maintenance.NewScheduler(d.queue, d.mon, d.clk, d.notifier, d.reporter, d.recorder)
	d.registerMaintenanceTasks()

	d.gate = gate.New(d.queue, d.clk, d.notifier, cfg.QueueDepthThreshold, cfg.QueueRetryPeriod, cfg.QueueWarnAfter)
	d.gate.Tick = d.maint.Tick

	d.httpServer = NewHTTPServer(cfg.ListenAddr, d)

	scheduler, err := NewScheduler()
	if err != nil {
		return nil, err
	}
	d.scheduler = scheduler

	return d, nil
}

func (d *Daemon) registerMaintenanceTasks() {
	cfg := d.GetConfig()

	d.maint.OnTick = func(ctx context.Context) {
		if err := store.SetJSON(ctx, d.kv, store.KeyLivenessPing, d.clk.Now().Unix()); err != nil {
			slog.Debug("Failed to write liveness ping", "error", err)
		}
	}

	d.maint.Register(&maintenance.Task{
		Name:          taskStorageCleanup,
		Ref:           queue.TaskCleanupStorage,
		Period:        cfg.CleanupPeriod,
		Timeout:       cfg.CleanupTimeout,
		QueueWait:     cfg.QueueTimeout,
		NotifyFailure: cfg.MsgOnCleanupFail,
		OnOutcome: func(ctx context.Context, out monitor.Outcome) {
			if out.OK() && d.GetConfig().MsgOnCleanupSuccess {
				d.notifier.Notify(ctx, notify.LevelInfo, "Storage cleanup completed successfully.")
			}
		},
	})

	d.maint.Register(&maintenance.Task{
		Name:          taskUpstreamSync,
		Ref:           queue.TaskSyncUpstream,
		Timeout:       cfg.SyncTimeout,
		QueueWait:     cfg.QueueTimeout,
		NotifyFailure: cfg.MsgOnSyncFail,
		Trigger: func(ctx context.Context) bool {
			_, ok, err := d.kv.Get(ctx, store.KeyUpstreamNeedsSync)
			if err != nil {
				slog.Debug("Failed to read upstream sync flag", "error", err)
				return false
			}
			return ok
		},
		OnOutcome: d.onUpstreamSyncOutcome,
	})
}

// onUpstreamSyncOutcome clears the sync flag and reports what the sync
// brought in, nagging about the upstream error log when it grows too long.
func (d *Daemon) onUpstreamSyncOutcome(ctx context.Context, out monitor.Outcome) {
	if !out.OK() {
		return
	}
	cfg := d.GetConfig()

	if err := d.kv.Delete(ctx, store.KeyUpstreamNeedsSync); err != nil {
		slog.Warn("Failed to clear upstream sync flag", "error", err)
	}

	var updated struct {
		GitHash string `json:"git_hash"`
	}
	if ok, err := store.GetJSON(ctx, d.kv, store.KeyUpstreamLastUpdated, &updated); err == nil && ok {
		d.notifier.Notify(ctx, notify.LevelInfo,
			fmt.Sprintf("Upstream sync completed successfully! API is current to %s", updated.GitHash))
	}

	if cfg.ErrorLogNag {
		var errorLog []any
		if ok, err := store.GetJSON(ctx, d.kv, store.KeyUpstreamErrorLog, &errorLog); err == nil && ok && len(errorLog) > 5 {
			d.notifier.Notify(ctx, notify.LevelError,
				fmt.Sprintf("There are %d errors from the sync process. View them here: %s", len(errorLog), cfg.ErrorLogURL))
		}
	}
}

// Start launches the loop, the HTTP listener, the periodic jobs and the
// config watcher.
func (d *Daemon) Start(ctx context.Context) error {
	d.status.Store(StatusStarting)
	d.startTime = d.clk.Now()

	if err := d.statuses.Load(ctx); err != nil {
		slog.Warn("Could not load persisted status map, starting empty", "error", err)
	}

	if err := d.httpServer.Start(ctx); err != nil {
		d.status.Store(StatusError)
		return err
	}

	d.scheduleBackgroundJobs()
	d.scheduler.Start()

	if d.configPath != "" {
		watcher, err := NewConfigWatcher(d.configPath, d)
		if err != nil {
			slog.Warn("Config watcher unavailable", "error", err)
		} else {
			d.configWatcher = watcher
			if err := watcher.Start(ctx); err != nil {
				slog.Warn("Config watcher failed to start", "error", err)
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(runCtx)

	d.status.Store(StatusRunning)
	slog.Info("Daemon started", "listen", d.GetConfig().ListenAddr)
	return nil
}

// scheduleBackgroundJobs registers the gocron-driven periodic jobs that run
// independently of the main loop's cadence.
func (d *Daemon) scheduleBackgroundJobs() {
	if _, err := d.scheduler.ScheduleEvery("queue-depth-sampler", 30*time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		depth, err := d.queue.Depth(ctx)
		if err != nil {
			slog.Debug("Queue depth sample failed", "error", err)
			return
		}
		d.queueDepth.Store(int64(depth))
		d.recorder.SetQueueDepth(depth)
	}); err != nil {
		slog.Warn("Failed to schedule queue depth sampler", "error", err)
	}

	if _, err := d.scheduler.ScheduleEvery("status-records-gauge", time.Minute, func() {
		d.recorder.SetStatusRecords(d.statuses.Len())
	}); err != nil {
		slog.Warn("Failed to schedule status records gauge", "error", err)
	}
}

// Stop shuts the daemon down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	d.status.Store(StatusStopping)
	slog.Info("Stopping daemon")

	if d.cancel != nil {
		d.cancel()
	}
	if d.configWatcher != nil {
		_ = d.configWatcher.Stop(ctx)
	}
	if err := d.scheduler.Stop(ctx); err != nil {
		slog.Warn("Scheduler shutdown failed", "error", err)
	}
	if err := d.httpServer.Stop(ctx); err != nil {
		slog.Warn("HTTP server shutdown failed", "error", err)
	}

	d.wg.Wait()

	if err := d.queue.Close(); err != nil {
		slog.Warn("Queue client close failed", "error", err)
	}
	if err := d.kv.Close(); err != nil {
		slog.Warn("Durable store close failed", "error", err)
	}

	d.status.Store(StatusStopped)
	slog.Info("Daemon stopped")
	return nil
}

// GetStatus returns the daemon lifecycle status.
func (d *Daemon) GetStatus() Status {
	return d.status.Load().(Status)
}

// GetConfig returns the current daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// ReloadConfig re-reads the configuration file and applies the tunables that
// take effect without a restart.
func (d *Daemon) ReloadConfig() error {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()

	d.gate.SetThreshold(cfg.QueueDepthThreshold)
	d.maint.SetTiming(taskStorageCleanup, cfg.CleanupPeriod, cfg.CleanupTimeout, cfg.QueueTimeout)
	d.maint.SetTiming(taskUpstreamSync, 0, cfg.SyncTimeout, cfg.QueueTimeout)
	d.reporter.SetWindows(cfg.LivenessWindow, cfg.MaintStaleAfter)
	slog.Info("Configuration reloaded", "path", d.configPath)
	return nil
}

func (d *Daemon) setCurrentTarget(target string) {
	d.currentTarget.Store(target)
}

// CurrentTarget returns the target the loop is processing, or "".
func (d *Daemon) CurrentTarget() string {
	return d.currentTarget.Load().(string)
}

// countingNotifier forwards notifications and counts them by level.
type countingNotifier struct {
	next     notify.Notifier
	recorder metrics.Recorder
}

func (c countingNotifier) Notify(ctx context.Context, level notify.Level, message string) {
	c.recorder.IncNotifications(string(level))
	c.next.Notify(ctx, level, message)
}
