package engine

import (
	"context"
	"strings"
	"time"

	"batchvec/internal/logging"
	"batchvec/internal/notifications"
	"batchvec/internal/queue"
)

// HandleResult applies the agent's completion report and advances the queue.
func (e *Engine) HandleResult(ctx context.Context, result Result) {
	name := strings.TrimSpace(result.Name)

	e.mu.Lock()
	item := queue.Find(e.queue, name)
	if item == nil || item.Status != queue.StatusProcessing {
		e.mu.Unlock()
		e.logger.Warn("ignoring result for item not in flight",
			logging.String(logging.FieldEventType, "result_ignored"),
			logging.String(logging.FieldItemName, name),
			logging.String("status", result.Status),
		)
		return
	}

	var fx effects
	if strings.EqualFold(strings.TrimSpace(result.Status), string(queue.StatusDone)) {
		item.Status = queue.StatusDone
		item.Error = ""
		if result.DownloadURL != "" {
			e.names.Add(result.DownloadURL, item.Name)
		}
		e.processed++
	} else {
		item.Status = queue.StatusError
		item.Error = strings.TrimSpace(result.Error)
		if item.Error == "" {
			item.Error = "vectorization failed"
		}
	}
	e.running = false
	status := item.Status

	policy := e.settings.AutoPause
	if policy.Enabled && e.processed >= policy.Count {
		e.processed = 0
		if queue.HasPending(e.queue) {
			e.autoPauseLocked(&fx, policy.Duration(e.rand()))
			e.mu.Unlock()
			e.logResult(name, status, result.Error)
			e.run(ctx, fx)
			return
		}
	}

	if !queue.HasPendingOrProcessing(e.queue) {
		e.drainedLocked(&fx)
	} else {
		e.persistLocked(&fx)
		delay := e.settings.Delay()
		if e.workerTab != 0 && delay > 0 {
			keepAlive := delay + e.timings.KeepAliveOverhead
			if keepAlive < e.timings.KeepAliveFloor {
				keepAlive = e.timings.KeepAliveFloor
			}
			fx.tabMsgs = append(fx.tabMsgs, tabMessage{
				tabID: e.workerTab,
				msg:   Message{Type: MsgWait, Data: map[string]int64{"duration": keepAlive.Milliseconds()}},
			})
		}
		if delay <= 0 {
			e.kickLocked(&fx)
		} else {
			e.scheduleKickLocked(delay)
		}
	}
	e.broadcastLocked(&fx)
	e.mu.Unlock()

	e.logResult(name, status, result.Error)
	e.run(ctx, fx)
}

// drainedLocked clears the general snapshot once nothing is left to do.
func (e *Engine) drainedLocked(fx *effects) {
	if len(e.queue) == 0 {
		return
	}
	fx.del(e, queue.KeyGeneral)
	counts := queue.CountByStatus(e.queue)
	fx.notify(notifications.EventQueueCompleted, notifications.Payload{
		"done":    counts[queue.StatusDone],
		"error":   counts[queue.StatusError],
		"skipped": counts[queue.StatusSkipped],
	})
	e.logger.Info("queue drained",
		logging.String(logging.FieldEventType, "queue_completed"),
		logging.Int("done", counts[queue.StatusDone]),
		logging.Int("error", counts[queue.StatusError]),
		logging.Int("skipped", counts[queue.StatusSkipped]),
	)
}

// autoPauseLocked enters an automatic pause lasting d.
func (e *Engine) autoPauseLocked(fx *effects, d time.Duration) {
	end := e.now().Add(d)
	e.paused = true
	e.running = false
	e.autoPauseEnd = end
	e.gen++
	e.stopTimerLocked()

	fx.set(e, queue.KeyAutoPause, queue.AutoPauseSnapshot{
		IsPaused:    true,
		EndTime:     end,
		Queue:       queue.Metas(e.queue),
		WorkerTabID: e.workerTab,
	})
	e.persistLocked(fx)
	fx.clearAlarm = true
	fx.armAlarm = end
	e.broadcastLocked(fx)
	fx.siteMsgs = append(fx.siteMsgs, Message{
		Type: MsgAutoPause,
		Data: map[string]int64{"endTime": end.UnixMilli()},
	})
	remaining := queue.CountByStatus(e.queue)[queue.StatusPending]
	fx.notify(notifications.EventAutoPause, notifications.Payload{"endTime": end, "remaining": remaining})

	e.logger.Info("auto-pause started",
		logging.String(logging.FieldEventType, "auto_pause"),
		logging.Time("until", end),
		logging.Duration("pause", d),
		logging.Int("remaining", remaining),
	)
}

func (e *Engine) logResult(name string, status queue.Status, errText string) {
	if status == queue.StatusDone {
		e.logger.Info("item done",
			logging.String(logging.FieldEventType, "item_done"),
			logging.String(logging.FieldItemName, name),
		)
		return
	}
	e.logger.Warn("item failed",
		logging.String(logging.FieldEventType, "item_failed"),
		logging.String(logging.FieldItemName, name),
		logging.String("error", errText),
		logging.String(logging.FieldErrorHint, "retry the item or check the vectorizer page"),
		logging.String(logging.FieldImpact, "queue advances to the next item"),
	)
}
