package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/buildwatch/internal/catalog"
	"git.home.luguber.info/inful/buildwatch/internal/config"
	bwerrors "git.home.luguber.info/inful/buildwatch/internal/errors"
	"git.home.luguber.info/inful/buildwatch/internal/monitor"
	"git.home.luguber.info/inful/buildwatch/internal/notify"
	"git.home.luguber.info/inful/buildwatch/internal/queue"
	"git.home.luguber.info/inful/buildwatch/internal/store"
)

// run hosts the unbounded pass loop. The loop can only exit through context
// cancellation; any other exit flips the liveness verdict and screams, since
// external supervision is the only recovery from it.
func (d *Daemon) run(ctx context.Context) {
	defer d.wg.Done()

	d.loop(ctx)

	if ctx.Err() != nil {
		slog.Info("Control loop stopped by shutdown")
		return
	}

	slog.Error("Control loop exited its unbounded iteration")
	d.reporter.ForceUnhealthy()
	d.notifier.Notify(context.Background(), notify.LevelError,
		"Control loop exited unexpectedly! The process needs a supervised restart!")
	d.status.Store(StatusError)
}

func (d *Daemon) loop(ctx context.Context) {
	for ctx.Err() == nil {
		d.runPass(ctx)
	}
}

// runPass walks one full catalog pass: resume from the cursor, process each
// target, then sweep stale records and report totals.
func (d *Daemon) runPass(ctx context.Context) {
	cfg := d.GetConfig()
	passStart := d.clk.Now()

	targets, err := d.source.FetchCatalog(ctx)
	if err != nil || len(targets) == 0 {
		// Transient collaborator failure: idle one compile-timeout and retry.
		slog.Warn("Could not fetch target catalog, idling", "error", err, "idle", cfg.CompileTimeout)
		d.maint.Tick(ctx)
		_ = d.clk.Sleep(ctx, cfg.CompileTimeout)
		return
	}

	good, bad := 0, 0
	start, err := d.cursor.ResolvedStart(ctx, targets)
	if err != nil {
		slog.Warn("Cursor resolution failed, starting from the top", "error", err)
		start = 0
	}
	if start > 0 {
		// Resuming a crashed pass: restore its in-flight counters.
		_, _ = store.GetJSON(ctx, d.kv, store.KeyPassGoodCount, &good)
		_, _ = store.GetJSON(ctx, d.kv, store.KeyPassBadCount, &bad)
		slog.Info("Resuming interrupted pass", "target", targets[start], "position", start, "catalog_size", len(targets))
	}

	for _, target := range targets[start:] {
		if ctx.Err() != nil {
			return
		}

		d.maint.Tick(ctx)
		d.reporter.MarkActivity()
		d.setCurrentTarget(target)

		worked, err := d.processTarget(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Per-target failures never escape the target scope.
			slog.Error("Target processing failed", "target", target, "error", err)
			d.notifier.Notify(ctx, notify.LevelWarning,
				fmt.Sprintf("Uncaught failure while testing %s.", target))
			continue
		}

		if worked {
			good++
		} else {
			bad++
		}
		if err := store.SetJSON(ctx, d.kv, store.KeyPassGoodCount, good); err != nil {
			slog.Warn("Failed to persist pass counters", "key", store.KeyPassGoodCount, "error", err)
		}
		if err := store.SetJSON(ctx, d.kv, store.KeyPassBadCount, bad); err != nil {
			slog.Warn("Failed to persist pass counters", "key", store.KeyPassBadCount, "error", err)
		}
	}

	d.setCurrentTarget("")

	removed, err := d.statuses.Sweep(ctx, cfg.StatusTTL, d.clk.Now())
	if err != nil {
		slog.Warn("Staleness sweep failed to persist", "error", err)
	}
	d.recorder.IncSweepRemovals(len(removed))
	d.recorder.SetStatusRecords(d.statuses.Len())
	d.recorder.ObservePassDuration(d.clk.Now().Sub(passStart))

	d.summarizePass(ctx, good, bad)

	if err := d.cursor.Clear(ctx); err != nil {
		slog.Warn("Failed to clear cursor", "error", err)
	}
	d.passCount.Add(1)
}

// processTarget runs one target end to end. The returned error covers
// per-target processing failures (class 2); job-level failures are normal
// outcomes and produce (false, nil).
func (d *Daemon) processTarget(ctx context.Context, target string) (worked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = bwerrors.New(bwerrors.CategoryRuntime, bwerrors.SeverityError,
				fmt.Sprintf("panic while processing target: %v", r)).WithContext("target", target)
		}
	}()

	cfg := d.GetConfig()

	if err := d.gate.Admit(ctx); err != nil {
		return false, err
	}

	// Persist the cursor before any work so an interrupted target is retried
	// on resume, never silently skipped.
	if err := d.cursor.Set(ctx, target); err != nil {
		slog.Warn("Failed to persist cursor", "target", target, "error", err)
	}

	md, err := d.source.FetchMetadata(ctx, target)
	if err != nil {
		return false, err
	}
	if md == nil {
		return false, bwerrors.MetadataMissing(target)
	}

	km, err := d.source.ResolveKeymap(ctx, target, md)
	if err != nil {
		return false, err
	}

	slog.Info("Beginning test compile", "target", target, "layout", km.Layout)
	jobStart := d.clk.Now()
	job, err := d.queue.Enqueue(ctx, queue.TaskCompile, cfg.CompileTimeout, km)
	if err != nil {
		return false, err
	}
	slog.Info("Enqueued compile job", "target", target, "job_id", job.ID())

	out, err := d.mon.Await(ctx, job, cfg.QueueTimeout, cfg.CompileTimeout)
	if err != nil {
		return false, err
	}

	d.recorder.ObserveCompileDuration(d.clk.Now().Sub(jobStart))
	d.recorder.IncOutcome(string(out.Kind))

	works, message, reason := classifyOutcome(target, km, out, cfg)
	if err := d.statuses.Update(ctx, target, works, message, d.clk.Now()); err != nil {
		slog.Warn("Failed to persist status record", "target", target, "error", err)
	}

	d.reportTarget(ctx, target, works, reason)
	return works, nil
}

// classifyOutcome maps a terminal Outcome onto the status record fields
// (works, message) and the per-target notification line.
func classifyOutcome(target string, km *catalog.Keymap, out monitor.Outcome, cfg *config.Config) (works bool, message, reason string) {
	switch out.Kind {
	case monitor.OutcomeSuccess:
		return true, out.Output, fmt.Sprintf("%s works in configurator.", target)
	case monitor.OutcomeQueueTimeout:
		message = fmt.Sprintf("Waited in queue longer than %s, giving up!", cfg.QueueTimeout)
		return false, message, fmt.Sprintf("**%s**: queue timeout reached.", km.Layout)
	case monitor.OutcomeRunTimeout:
		message = fmt.Sprintf("Job took longer than %s, giving up!", cfg.CompileTimeout)
		return false, message, fmt.Sprintf("**%s**: Compile timeout reached.", km.Layout)
	case monitor.OutcomeException:
		message = out.ExceptionType
		if out.StackTrace != "" {
			message += "\n" + out.StackTrace
		}
		return false, message, fmt.Sprintf("**%s**: worker raised %s.", km.Layout, out.ExceptionType)
	default:
		return false, out.Output, fmt.Sprintf("**%s** does not work in configurator.", km.Layout)
	}
}

// reportTarget emits the per-target summary notification, gated by the
// good/bad message switches.
func (d *Daemon) reportTarget(ctx context.Context, target string, works bool, reason string) {
	cfg := d.GetConfig()
	if works && !cfg.MsgOnGoodCompile {
		return
	}
	if !works && !cfg.MsgOnBadCompile {
		return
	}

	level := notify.LevelInfo
	icon := ":green_heart:"
	if !works {
		level = notify.LevelWarning
		icon = ":broken_heart:"
	}
	d.notifier.Notify(ctx, level,
		fmt.Sprintf("Configurator summary for **%s:**\n%s %s", target, icon, reason))
}

// summarizePass persists the pass totals and notifies the round summary with
// deltas against the previous pass. The first ever pass records the baseline
// silently.
func (d *Daemon) summarizePass(ctx context.Context, good, bad int) {
	cfg := d.GetConfig()

	var lastGood, lastBad int
	hadGood, _ := store.GetJSON(ctx, d.kv, store.KeyLastGoodCount, &lastGood)
	hadBad, _ := store.GetJSON(ctx, d.kv, store.KeyLastBadCount, &lastBad)

	_ = store.SetJSON(ctx, d.kv, store.KeyLastGoodCount, good)
	_ = store.SetJSON(ctx, d.kv, store.KeyLastBadCount, bad)

	slog.Info("Completed catalog pass", "good", good, "bad", bad)

	if !cfg.MsgOnPassCompletion || !hadGood || !hadBad {
		return
	}

	message := fmt.Sprintf(
		"We've completed a round of testing!\n\n"+
			"Working: %s the last round, for a total of %d working targets.\n\n"+
			"Non-working: %s the last round, for a total of %d non-working targets.\n\n"+
			"Check out the details here: <%s>",
		deltaPhrase(good-lastGood), good, deltaPhrase(bad-lastBad), bad, cfg.ErrorPageURL)
	d.notifier.Notify(ctx, notify.LevelInfo, message)
}

func deltaPhrase(diff int) string {
	switch {
	case diff < 0:
		return fmt.Sprintf("%d fewer than", -diff)
	case diff > 0:
		return fmt.Sprintf("%d more than", diff)
	default:
		return "No change from"
	}
}
