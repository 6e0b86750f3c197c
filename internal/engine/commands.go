package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"batchvec/internal/logging"
	"batchvec/internal/notifications"
	"batchvec/internal/queue"
)

// Submit replaces the session with a new batch and starts dispatching it.
// Every item enters as pending regardless of its incoming status.
func (e *Engine) Submit(ctx context.Context, items []queue.Item) error {
	seen := make(map[string]struct{}, len(items))
	batch := make([]*queue.Item, 0, len(items))
	for idx := range items {
		item := items[idx]
		item.Name = strings.TrimSpace(item.Name)
		if item.Name == "" {
			return fmt.Errorf("%w: item %d has no name", ErrInvalidItem, idx+1)
		}
		if _, dup := seen[item.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, item.Name)
		}
		seen[item.Name] = struct{}{}
		item.Status = queue.StatusPending
		item.Error = ""
		batch = append(batch, &item)
	}

	e.mu.Lock()
	e.gen++
	e.session++
	e.stopTimerLocked()
	e.queue = batch
	e.running = false
	e.paused = false
	e.processed = 0
	e.autoPauseEnd = time.Time{}
	e.cancelled = false
	e.handshakeFailures = 0
	e.discarded = 0

	var fx effects
	fx.clearAlarm = true
	fx.del(e, queue.KeyAutoPause, queue.KeyManualPause)
	e.persistLocked(&fx)
	e.broadcastLocked(&fx)
	if len(batch) > 0 {
		fx.notify(notifications.EventQueueStarted, notifications.Payload{"count": len(batch)})
	}
	e.kickLocked(&fx)
	e.mu.Unlock()

	e.logger.Info("batch submitted",
		logging.String(logging.FieldEventType, "queue_submitted"),
		logging.Int("items", len(batch)),
	)
	e.run(ctx, fx)
	return nil
}

// Pause stops dispatching after the in-flight item. The agent is asked to
// abort at its next checkpoint.
func (e *Engine) Pause(ctx context.Context) {
	e.mu.Lock()
	e.paused = true
	e.gen++
	e.stopTimerLocked()
	var fx effects
	e.manualSnapshotLocked(&fx)
	if e.workerTab != 0 {
		fx.tabMsgs = append(fx.tabMsgs, tabMessage{tabID: e.workerTab, msg: Message{Type: MsgPause}})
	}
	e.broadcastLocked(&fx)
	e.mu.Unlock()

	e.logger.Info("queue paused", logging.String(logging.FieldEventType, "queue_paused"))
	e.run(ctx, fx)
}

// Resume clears a manual or automatic pause and dispatches the next item.
// Resuming a session that is not paused only re-attempts dispatch.
func (e *Engine) Resume(ctx context.Context) {
	e.mu.Lock()
	var fx effects
	if !e.paused && e.autoPauseEnd.IsZero() {
		e.handshakeFailures = 0
		e.kickLocked(&fx)
		e.mu.Unlock()
		e.run(ctx, fx)
		return
	}
	e.resumeLocked(&fx)
	fx.del(e, queue.KeyManualPause)
	if e.workerTab != 0 {
		fx.tabMsgs = append(fx.tabMsgs, tabMessage{tabID: e.workerTab, msg: Message{Type: MsgResume}})
	}
	e.kickLocked(&fx)
	e.mu.Unlock()

	e.logger.Info("queue resumed", logging.String(logging.FieldEventType, "queue_resumed"))
	e.run(ctx, fx)
}

// resumeLocked clears pause state shared by manual resume and the wake alarm.
func (e *Engine) resumeLocked(fx *effects) {
	e.paused = false
	e.running = false
	e.autoPauseEnd = time.Time{}
	e.gen++
	e.stopTimerLocked()
	e.handshakeFailures = 0
	queue.RequeueProcessing(e.queue)
	fx.clearAlarm = true
	fx.del(e, queue.KeyAutoPause)
	e.persistLocked(fx)
	e.broadcastLocked(fx)
}

// Cancel clears the session and every persisted snapshot, and asks all site
// tabs to abort. Nothing is persisted again until the next Submit.
func (e *Engine) Cancel(ctx context.Context) {
	e.mu.Lock()
	e.cancelled = true
	e.gen++
	e.session++
	e.stopTimerLocked()
	e.queue = nil
	e.running = false
	e.paused = false
	e.processed = 0
	e.workerTab = 0
	e.autoPauseEnd = time.Time{}
	e.handshakeFailures = 0

	var fx effects
	fx.clearAlarm = true
	fx.del(e, queue.KeyGeneral, queue.KeyManualPause, queue.KeyAutoPause)
	e.broadcastLocked(&fx)
	fx.siteMsgs = append(fx.siteMsgs, Message{Type: MsgCancel})
	e.mu.Unlock()

	e.logger.Info("queue cancelled", logging.String(logging.FieldEventType, "queue_cancelled"))
	e.run(ctx, fx)
}

// Retry requeues the named item and re-attempts dispatch.
func (e *Engine) Retry(ctx context.Context, name string) error {
	e.mu.Lock()
	item := queue.Find(e.queue, name)
	if item == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, name)
	}
	// Another item still in flight keeps its slot; its result advances the
	// queue to the requeued one.
	inFlight := e.running && item.Status != queue.StatusProcessing && processingOther(e.queue, name)
	if item.Status == queue.StatusProcessing {
		e.gen++
	}
	item.Status = queue.StatusPending
	item.Error = ""

	var fx effects
	if !inFlight {
		e.running = false
		e.handshakeFailures = 0
	}
	e.persistLocked(&fx)
	e.broadcastLocked(&fx)
	if !inFlight {
		e.kickLocked(&fx)
	}
	e.mu.Unlock()

	e.logger.Info("item requeued",
		logging.String(logging.FieldEventType, "item_retry"),
		logging.String(logging.FieldItemName, name),
	)
	e.run(ctx, fx)
	return nil
}

func processingOther(items []*queue.Item, name string) bool {
	for _, item := range items {
		if item.Name != name && item.Status == queue.StatusProcessing {
			return true
		}
	}
	return false
}

// Interstitial force-pauses the session after the agent hit a verification
// page. The item goes back to pending and the user must resume.
func (e *Engine) Interstitial(ctx context.Context, name string) error {
	e.mu.Lock()
	item := queue.Find(e.queue, name)
	if item == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, name)
	}
	item.Status = queue.StatusPending
	item.Error = ""
	e.paused = true
	e.running = false
	e.gen++
	e.stopTimerLocked()

	var fx effects
	e.manualSnapshotLocked(&fx)
	e.persistLocked(&fx)
	e.broadcastLocked(&fx)
	fx.notify(notifications.EventInterstitial, notifications.Payload{"name": name})
	e.mu.Unlock()

	logging.WarnWithContext(e.logger, "verification page encountered; queue paused", "interstitial",
		logging.String(logging.FieldItemName, name),
		logging.String(logging.FieldErrorHint, "clear the verification page in the worker tab, then resume"),
		logging.String(logging.FieldImpact, "queue paused until resumed"),
	)
	e.run(ctx, fx)
	return nil
}

// HandleAlarm wakes the session from an auto-pause. It waits for restart
// reconciliation to finish first.
func (e *Engine) HandleAlarm(ctx context.Context, name string) {
	if name != queue.AutoPauseAlarm {
		return
	}
	select {
	case <-e.ready:
	case <-ctx.Done():
		return
	}

	e.mu.Lock()
	if e.closed || (!e.paused && e.autoPauseEnd.IsZero()) {
		e.mu.Unlock()
		return
	}
	var fx effects
	e.resumeLocked(&fx)
	fx.clearAlarm = false
	fx.siteMsgs = append(fx.siteMsgs, Message{Type: MsgResume})
	e.kickLocked(&fx)
	e.mu.Unlock()

	e.logger.Info("auto-pause ended", logging.String(logging.FieldEventType, "auto_pause_resumed"))
	e.run(ctx, fx)
}
