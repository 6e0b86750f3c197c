package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"batchvec/internal/logging"
	"batchvec/internal/notifications"
	"batchvec/internal/queue"
	"batchvec/internal/settings"
)

var errAgentUnresponsive = errors.New("automation agent did not answer ping")

// kickLocked selects the next pending item. Items without a payload are
// skipped and selection retries shortly after; otherwise the item is marked
// processing and a dispatch job is attached to fx.
func (e *Engine) kickLocked(fx *effects) {
	if e.closed || e.running || e.paused {
		return
	}
	queue.RequeueProcessing(e.queue)
	item, idx := queue.FirstPending(e.queue)
	if item == nil {
		return
	}

	if !item.HasData() {
		item.Status = queue.StatusSkipped
		item.Error = "file data unavailable after restart; re-add the file"
		e.broadcastLocked(fx)
		if queue.HasPending(e.queue) {
			e.persistLocked(fx)
			e.scheduleKickLocked(e.timings.SkipRetry)
		} else {
			e.drainedLocked(fx)
		}
		e.logger.Info("item skipped",
			logging.String(logging.FieldEventType, "item_skipped"),
			logging.String(logging.FieldItemName, item.Name),
			logging.String("reason", "no payload"),
		)
		return
	}

	item.Status = queue.StatusProcessing
	item.Error = ""
	e.running = true
	e.persistLocked(fx)
	e.broadcastLocked(fx)
	fx.job = &job{
		gen:     e.gen,
		session: e.session,
		name:    item.Name,
		command: processCommand{
			Item: processItem{
				Name:   item.Name,
				Type:   item.Type,
				Data:   item.Data,
				Width:  item.Width,
				Height: item.Height,
			},
			Format:           e.settings.Format,
			RemoveBackground: e.settings.RemoveBackground,
			Meta:             processMeta{Position: idx + 1, Total: len(e.queue)},
		},
		language: e.settings.Language,
	}
	e.logger.Info("dispatching item",
		logging.String(logging.FieldEventType, "item_dispatch"),
		logging.String(logging.FieldItemName, item.Label()),
		logging.Int("position", idx+1),
		logging.Int("total", len(e.queue)),
	)
}

// dispatch drives one item to the automation agent: acquire the worker tab,
// confirm the agent answers, then deliver the command with bounded retries.
func (e *Engine) dispatch(j job) {
	ctx := e.ctx
	logger := e.logger.With(logging.String(logging.FieldItemName, j.name))

	tabID, err := e.ensureTab(ctx, j)
	if err == nil {
		err = e.handshake(ctx, tabID)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.handshakeFailed(j, err)
		return
	}

	if !e.stillCurrent(j) {
		return
	}

	attempts := e.timings.DeliveryRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if !e.sleep(ctx, e.timings.DeliveryRetry) {
				return
			}
			if !e.stillCurrent(j) {
				return
			}
		}
		sendCtx, cancel := e.requestContext(ctx)
		_, lastErr = e.browser.SendToTab(sendCtx, tabID, Message{Type: MsgProcess, Data: j.command})
		cancel()
		if lastErr == nil {
			e.mu.Lock()
			if j.gen == e.gen {
				e.handshakeFailures = 0
			}
			e.mu.Unlock()
			logger.Debug("process command delivered", logging.Int("tab_id", tabID), logging.Int("attempt", attempt))
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Debug("process command not delivered",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Error(lastErr),
		)
	}

	e.mu.Lock()
	if j.gen != e.gen {
		e.mu.Unlock()
		return
	}
	var fx effects
	if item := queue.Find(e.queue, j.name); item != nil && item.Status == queue.StatusProcessing {
		item.Status = queue.StatusPending
	}
	e.running = false
	e.persistLocked(&fx)
	e.broadcastLocked(&fx)
	e.mu.Unlock()

	logging.WarnWithContext(logger, "process command delivery exhausted; item requeued", "delivery_exhausted",
		logging.Int("attempts", attempts),
		logging.Error(lastErr),
		logging.String(logging.FieldErrorHint, "check that the worker tab is open and the extension is connected"),
		logging.String(logging.FieldImpact, "item waits as pending until the next resume or retry"),
	)
	e.run(ctx, fx)
}

// stillCurrent reports whether j may still be sent. A job whose session was
// paused before delivery puts its item back to pending.
func (e *Engine) stillCurrent(j job) bool {
	e.mu.Lock()
	if j.gen == e.gen {
		e.mu.Unlock()
		return true
	}
	var fx effects
	if j.session == e.session && e.paused {
		if item := queue.Find(e.queue, j.name); item != nil && item.Status == queue.StatusProcessing {
			item.Status = queue.StatusPending
			e.running = false
			e.persistLocked(&fx)
			e.broadcastLocked(&fx)
		}
	}
	e.mu.Unlock()
	e.run(e.ctx, fx)
	return false
}

// ensureTab returns a worker tab showing the upload page, creating one when
// the recorded tab is gone.
func (e *Engine) ensureTab(ctx context.Context, j job) (int, error) {
	if e.browser == nil {
		return 0, errors.New("no browser bridge configured")
	}
	e.mu.Lock()
	tabID := e.workerTab
	e.mu.Unlock()

	home := e.homeURL(j.language)
	if tabID != 0 {
		reqCtx, cancel := e.requestContext(ctx)
		tab, err := e.browser.GetTab(reqCtx, tabID)
		cancel()
		if err == nil && tab.ID != 0 {
			if e.site.ResultMarker != "" && strings.Contains(tab.URL, e.site.ResultMarker) {
				e.renavigate(ctx, tab.ID, home)
			}
			return tab.ID, nil
		}
		e.logger.Debug("worker tab gone", logging.Int("tab_id", tabID), logging.Error(err))
	}

	reqCtx, cancel := e.requestContext(ctx)
	tab, err := e.browser.CreateTab(reqCtx, home)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("create worker tab: %w", err)
	}
	e.mu.Lock()
	if j.session == e.session {
		e.workerTab = tab.ID
	}
	e.mu.Unlock()
	e.logger.Info("worker tab created",
		logging.String(logging.FieldEventType, "worker_tab_created"),
		logging.Int("tab_id", tab.ID),
		logging.String("url", home),
	)
	e.waitComplete(ctx, tab.ID)
	return tab.ID, nil
}

// renavigate sends a tab parked on a result page back to the upload page.
func (e *Engine) renavigate(ctx context.Context, tabID int, home string) {
	reqCtx, cancel := e.requestContext(ctx)
	err := e.browser.NavigateTab(reqCtx, tabID, home)
	cancel()
	if err != nil {
		e.logger.Warn("worker tab navigation failed",
			logging.String(logging.FieldEventType, "navigate_failed"),
			logging.Int("tab_id", tabID),
			logging.Error(err),
		)
		return
	}
	e.waitComplete(ctx, tabID)
}

func (e *Engine) waitComplete(ctx context.Context, tabID int) {
	waitCtx := ctx
	cancel := context.CancelFunc(func() {})
	if e.timings.NavigationTimeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, e.timings.NavigationTimeout)
	}
	err := e.browser.WaitTabComplete(waitCtx, tabID)
	cancel()
	if err != nil {
		e.logger.Debug("tab load wait ended early", logging.Int("tab_id", tabID), logging.Error(err))
	}
	e.sleep(ctx, e.timings.NavigationSettle)
}

func (e *Engine) homeURL(lang string) string {
	return fmt.Sprintf("https://%s.%s/", settings.Subdomain(lang, e.site.DefaultSubdomain), e.site.Host)
}

// handshake pings the agent with linearly growing waits between attempts.
func (e *Engine) handshake(ctx context.Context, tabID int) error {
	attempts := e.timings.HandshakeAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := e.timings.HandshakeBase + e.timings.HandshakeStep*time.Duration(attempt)
			if !e.sleep(ctx, wait) {
				return ctx.Err()
			}
		}
		reqCtx, cancel := e.requestContext(ctx)
		raw, err := e.browser.SendToTab(reqCtx, tabID, Message{Type: MsgPing})
		cancel()
		if err == nil && pong(raw) {
			return nil
		}
	}
	return errAgentUnresponsive
}

func pong(raw json.RawMessage) bool {
	var reply pingReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return false
	}
	return reply.Pong
}

// handshakeFailed requeues the job's item. Below the consecutive-failure cap
// dispatch retries later; at the cap it stops until the next user action.
func (e *Engine) handshakeFailed(j job, cause error) {
	e.mu.Lock()
	if j.gen != e.gen {
		e.mu.Unlock()
		return
	}
	if item := queue.Find(e.queue, j.name); item != nil && item.Status == queue.StatusProcessing {
		item.Status = queue.StatusPending
	}
	e.running = false
	e.handshakeFailures++
	failures := e.handshakeFailures
	limit := e.timings.HandshakeRequeueLimit

	var fx effects
	e.persistLocked(&fx)
	e.broadcastLocked(&fx)
	if failures < limit {
		e.scheduleKickLocked(e.timings.HandshakeRetry)
	} else {
		fx.notify(notifications.EventError, notifications.Payload{
			"context": "worker tab",
			"error":   cause,
		})
	}
	e.mu.Unlock()

	if failures < limit {
		e.logger.Warn("automation agent not ready; item requeued",
			logging.String(logging.FieldEventType, "handshake_failed"),
			logging.String(logging.FieldItemName, j.name),
			logging.Int("failures", failures),
			logging.Duration("retry_in", e.timings.HandshakeRetry),
			logging.Error(cause),
		)
	} else {
		logging.ErrorWithContext(e.logger, "automation agent unreachable; dispatch stopped", "handshake_exhausted",
			logging.String(logging.FieldItemName, j.name),
			logging.Int("failures", failures),
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, "reload the extension or the worker tab, then resume"),
			logging.String(logging.FieldImpact, "queue idle until resumed"),
		)
	}
	e.run(e.ctx, fx)
}
