package engine

import (
	"context"

	"batchvec/internal/logging"
	"batchvec/internal/notifications"
	"batchvec/internal/queue"
)

// Restore rebuilds the session from the manual-pause, auto-pause and general
// snapshots, in that order. Ready is closed when it returns, whatever the
// outcome.
func (e *Engine) Restore(ctx context.Context) {
	defer e.markReady()
	if e.store == nil {
		return
	}
	now := e.now()

	var manual queue.ManualPauseSnapshot
	hasManual := e.load(ctx, queue.KeyManualPause, &manual)
	var auto queue.AutoPauseSnapshot
	hasAuto := e.load(ctx, queue.KeyAutoPause, &auto)
	var general queue.GeneralSnapshot
	hasGeneral := e.load(ctx, queue.KeyGeneral, &general)

	e.mu.Lock()
	var fx effects
	fromPause := false

	if hasManual && manual.IsPaused && len(manual.Queue) > 0 {
		e.queue = queue.FromMetas(manual.Queue)
		e.paused = true
		fromPause = true
		e.logger.Info("manual pause restored",
			logging.String(logging.FieldEventType, "restore_manual_pause"),
			logging.Int("items", len(e.queue)),
		)
	}

	if hasAuto && auto.IsPaused && !auto.EndTime.IsZero() {
		if len(auto.Queue) > 0 {
			e.queue = queue.FromMetas(auto.Queue)
		}
		if auto.WorkerTabID != 0 {
			e.workerTab = auto.WorkerTabID
		}
		fromPause = true
		if !auto.Expired(now) {
			e.paused = true
			e.autoPauseEnd = auto.EndTime
			fx.armAlarm = auto.EndTime
			e.logger.Info("auto-pause restored",
				logging.String(logging.FieldEventType, "restore_auto_pause"),
				logging.Time("until", auto.EndTime),
			)
		} else {
			e.paused = false
			fx.del(e, queue.KeyAutoPause)
			e.logger.Info("auto-pause expired while stopped; resuming",
				logging.String(logging.FieldEventType, "restore_auto_pause_expired"),
			)
		}
	}

	if hasGeneral {
		switch {
		case general.Restorable(now, e.timings.SnapshotMaxAge):
			e.queue = queue.FromMetas(general.Queue)
			e.paused = general.IsPaused
			e.workerTab = general.WorkerTabID
			e.processed = general.ProcessedCount
			e.running = false
			e.logger.Info("finished queue restored for display",
				logging.String(logging.FieldEventType, "restore_general"),
				logging.Int("items", len(e.queue)),
			)
		case !general.Fresh(now, e.timings.SnapshotMaxAge):
			fx.del(e, queue.KeyGeneral)
			e.logger.Debug("stale queue snapshot removed", logging.Time("saved_at", general.Timestamp))
		default:
			fx.del(e, queue.KeyGeneral)
			// A pause snapshot already holds this queue.
			if fromPause {
				break
			}
			unfinished := 0
			for _, meta := range general.Queue {
				if !meta.Status.IsTerminal() {
					unfinished++
				}
			}
			e.discarded = unfinished
			fx.notify(notifications.EventRestoreDiscarded, notifications.Payload{"unfinished": unfinished})
			logging.WarnWithContext(e.logger, "unfinished queue discarded on restart", "restore_discarded",
				logging.Int("unfinished", unfinished),
				logging.String(logging.FieldErrorHint, "re-add the files to process them"),
				logging.String(logging.FieldImpact, "file data does not survive a restart"),
			)
		}
	}

	e.broadcastLocked(&fx)
	e.kickLocked(&fx)
	e.mu.Unlock()

	e.run(ctx, fx)
}

func (e *Engine) load(ctx context.Context, key string, dst any) bool {
	ok, err := e.store.GetJSON(ctx, key, dst)
	if err != nil {
		logging.WarnWithContext(e.logger, "read persisted state failed", "restore_read_failed",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "snapshot ignored"),
		)
		return false
	}
	return ok
}
