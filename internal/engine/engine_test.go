package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"batchvec/internal/engine"
	"batchvec/internal/notifications"
	"batchvec/internal/queue"
	"batchvec/internal/settings"
)

func TestThreeItemBatchWithoutDelayCompletesInOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetDelay(ctx, 0)
	h.autoRespond("done")

	if err := h.engine.Submit(ctx, items("a.png", "b.png", "c.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "all items done", func() bool {
		return h.engine.Snapshot().Counts()[queue.StatusDone] == 3
	})

	view := h.engine.Snapshot()
	for idx, want := range []string{"a.png", "b.png", "c.png"} {
		if view.Queue[idx].Name != want || view.Queue[idx].Status != queue.StatusDone {
			t.Fatalf("queue[%d] = %+v, want %s done", idx, view.Queue[idx], want)
		}
	}
	if view.IsProcessing || view.IsRunning {
		t.Fatalf("expected idle session, got processing=%v running=%v", view.IsProcessing, view.IsRunning)
	}
	waitFor(t, "general snapshot cleared", func() bool { return !h.store.has(queue.KeyGeneral) })

	state := h.browser.snapshot()
	if len(state.processed) != 3 {
		t.Fatalf("expected 3 process commands, got %d", len(state.processed))
	}
	for idx, cmd := range state.processed {
		if cmd.Meta.Position != idx+1 || cmd.Meta.Total != 3 {
			t.Fatalf("command %d meta = %+v", idx, cmd.Meta)
		}
		if len(cmd.Item.Data) == 0 || cmd.Format != "eps" {
			t.Fatalf("command %d missing payload or format: %+v", idx, cmd)
		}
	}
	if len(state.created) != 1 || state.created[0] != "https://www.vectorizer.ai/" {
		t.Fatalf("expected one worker tab at the default subdomain, got %v", state.created)
	}
	if peak := h.updates.peakProcessing(); peak > 1 {
		t.Fatalf("observed %d processing items at once", peak)
	}

	waitFor(t, "completion notification", func() bool {
		_, ok := h.notifier.payload(notifications.EventQueueCompleted)
		return ok
	})
	payload, _ := h.notifier.payload(notifications.EventQueueCompleted)
	if payload["done"] != 3 {
		t.Fatalf("completion payload = %v", payload)
	}
}

func TestItemWithoutDataIsSkippedNeverProcessed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetDelay(ctx, 0)
	h.autoRespond("done")

	batch := items("restored.png", "fresh.png")
	batch[0].Data = nil
	if err := h.engine.Submit(ctx, batch); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "fresh item done", func() bool {
		return statusOf(h.engine.Snapshot(), "fresh.png") == queue.StatusDone
	})
	if got := statusOf(h.engine.Snapshot(), "restored.png"); got != queue.StatusSkipped {
		t.Fatalf("restored item status = %s, want skipped", got)
	}
	for _, status := range h.updates.statuses("restored.png") {
		if status == queue.StatusProcessing {
			t.Fatal("item without data was broadcast as processing")
		}
	}
	for _, cmd := range h.browser.snapshot().processed {
		if cmd.Item.Name == "restored.png" {
			t.Fatal("item without data was sent to the agent")
		}
	}
}

func TestDeliveryExhaustionRequeuesItem(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.browser.mu.Lock()
	h.browser.processFail = true
	h.browser.mu.Unlock()

	if err := h.engine.Submit(ctx, items("only.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Default test timings allow two retries after the first attempt.
	waitFor(t, "delivery attempts exhausted", func() bool {
		return h.browser.snapshot().attempts >= 3
	})
	waitFor(t, "item requeued", func() bool {
		view := h.engine.Snapshot()
		return statusOf(view, "only.png") == queue.StatusPending && !view.IsRunning
	})
	time.Sleep(20 * time.Millisecond)
	if attempts := h.browser.snapshot().attempts; attempts != 3 {
		t.Fatalf("expected exactly 3 delivery attempts, got %d", attempts)
	}
	snap, ok := h.store.general(t)
	if !ok || snap.IsRunning || snap.Queue[0].Status != queue.StatusPending {
		t.Fatalf("persisted snapshot = %+v (present=%v)", snap, ok)
	}
}

func TestAutoPauseAfterThresholdWithPendingItems(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetDelay(ctx, 0)
	h.engine.SetAutoPause(ctx, settings.AutoPausePolicy{Enabled: true, Count: 2, MinMinutes: 1, MaxMinutes: 1})
	h.autoRespond("done")

	if err := h.engine.Submit(ctx, items("1.png", "2.png", "3.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "auto-pause", func() bool { return h.engine.Snapshot().IsPaused })
	view := h.engine.Snapshot()
	if statusOf(view, "1.png") != queue.StatusDone || statusOf(view, "2.png") != queue.StatusDone {
		t.Fatalf("first two items should be done: %+v", view.Queue)
	}
	if statusOf(view, "3.png") != queue.StatusPending {
		t.Fatalf("third item should stay pending: %+v", view.Queue)
	}
	if view.ProcessedCount != 0 {
		t.Fatalf("counter should reset on auto-pause, got %d", view.ProcessedCount)
	}

	start := h.clock.Now()
	if view.AutoPauseEndTime == nil {
		t.Fatal("expected an auto-pause end time")
	}
	wake := view.AutoPauseEndTime.Sub(start)
	if wake < time.Minute || wake > 2*time.Minute {
		t.Fatalf("wake in %s, want within policy bounds", wake)
	}
	waitFor(t, "wake alarm armed", func() bool {
		at, ok := h.alarms.get(queue.AutoPauseAlarm)
		return ok && at.Equal(*view.AutoPauseEndTime)
	})
	if !h.store.has(queue.KeyAutoPause) {
		t.Fatal("expected auto-pause snapshot")
	}

	h.engine.HandleAlarm(ctx, queue.AutoPauseAlarm)
	waitFor(t, "third item done after wake", func() bool {
		return statusOf(h.engine.Snapshot(), "3.png") == queue.StatusDone
	})
	after := h.engine.Snapshot()
	if after.IsPaused || after.AutoPauseEndTime != nil {
		t.Fatalf("wake should clear pause state: %+v", after)
	}
	if h.store.has(queue.KeyAutoPause) {
		t.Fatal("auto-pause snapshot should be cleared on wake")
	}
}

func TestAutoPauseSuppressedWhenNothingPending(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetDelay(ctx, 0)
	h.engine.SetAutoPause(ctx, settings.AutoPausePolicy{Enabled: true, Count: 2, MinMinutes: 1, MaxMinutes: 3})
	h.autoRespond("done")

	if err := h.engine.Submit(ctx, items("1.png", "2.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "both done", func() bool {
		return h.engine.Snapshot().Counts()[queue.StatusDone] == 2
	})
	view := h.engine.Snapshot()
	if view.IsPaused || view.AutoPauseEndTime != nil {
		t.Fatalf("expected no auto-pause, got %+v", view)
	}
	if view.ProcessedCount != 0 {
		t.Fatalf("counter should still reset, got %d", view.ProcessedCount)
	}
	if _, ok := h.alarms.get(queue.AutoPauseAlarm); ok {
		t.Fatal("no wake alarm expected")
	}
}

func TestResumeClearsAutoPauseOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetDelay(ctx, 0)
	h.engine.SetAutoPause(ctx, settings.AutoPausePolicy{Enabled: true, Count: 1, MinMinutes: 2, MaxMinutes: 4})
	h.autoRespond("done")

	if err := h.engine.Submit(ctx, items("1.png", "2.png", "3.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "auto-pause", func() bool { return h.engine.Snapshot().AutoPauseEndTime != nil })
	waitFor(t, "alarm armed", func() bool {
		_, ok := h.alarms.get(queue.AutoPauseAlarm)
		return ok
	})

	// Stop the agent answering so the resumed dispatch stays in flight.
	h.browser.mu.Lock()
	h.browser.respond = nil
	h.browser.mu.Unlock()

	before := h.alarms.clearCount()
	h.engine.Resume(ctx)
	h.engine.Resume(ctx)

	view := h.engine.Snapshot()
	if view.IsPaused || view.AutoPauseEndTime != nil {
		t.Fatalf("resume should clear pause state: %+v", view)
	}
	if got := h.alarms.clearCount() - before; got != 1 {
		t.Fatalf("expected exactly one alarm clear, got %d", got)
	}
	if _, ok := h.alarms.get(queue.AutoPauseAlarm); ok {
		t.Fatal("wake alarm should be cleared")
	}
	waitFor(t, "second item dispatched", func() bool {
		return statusOf(h.engine.Snapshot(), "2.png") == queue.StatusProcessing
	})
	if peak := h.updates.peakProcessing(); peak > 1 {
		t.Fatalf("observed %d processing items at once", peak)
	}
}

func TestSubmitResetsPausedSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.engine.Submit(ctx, items("old.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.engine.Pause(ctx)
	waitFor(t, "manual pause snapshot", func() bool { return h.store.has(queue.KeyManualPause) })

	before := h.alarms.clearCount()
	if err := h.engine.Submit(ctx, items("new-1.png", "new-2.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	view := h.engine.Snapshot()
	if view.IsPaused || view.ProcessedCount != 0 || view.AutoPauseEndTime != nil {
		t.Fatalf("submit should reset session: %+v", view)
	}
	if len(view.Queue) != 2 || view.Queue[0].Name != "new-1.png" {
		t.Fatalf("unexpected queue: %+v", view.Queue)
	}
	if h.store.has(queue.KeyManualPause) {
		t.Fatal("manual pause snapshot should be cleared")
	}
	if h.alarms.clearCount() <= before {
		t.Fatal("submit should clear the wake alarm")
	}
}

func TestSubmitRejectsDuplicateNames(t *testing.T) {
	h := newHarness(t, nil)
	err := h.engine.Submit(context.Background(), items("a.png", "a.png"))
	if !errors.Is(err, engine.ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem, got %v", err)
	}
	if len(h.engine.Snapshot().Queue) != 0 {
		t.Fatal("rejected batch must not replace the queue")
	}
}

func TestCancelStopsPersistence(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.engine.Submit(ctx, items("a.png", "b.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "first item in flight", func() bool { return len(h.browser.snapshot().processed) == 1 })

	h.engine.Cancel(ctx)
	// A late report for the cancelled item must not resurrect the snapshot.
	h.engine.HandleResult(ctx, engine.Result{Name: "a.png", Status: "done"})
	time.Sleep(20 * time.Millisecond)

	for _, key := range []string{queue.KeyGeneral, queue.KeyManualPause, queue.KeyAutoPause} {
		if h.store.has(key) {
			t.Fatalf("key %s should be absent after cancel", key)
		}
	}
	view := h.engine.Snapshot()
	if len(view.Queue) != 0 || view.IsProcessing || view.WorkerTabID != 0 {
		t.Fatalf("cancel should clear the session: %+v", view)
	}
	waitFor(t, "cancel broadcast to site tabs", func() bool {
		for _, msg := range h.browser.snapshot().siteMsgs {
			if msg == engine.MsgCancel {
				return true
			}
		}
		return false
	})
}

func TestRetryUnknownItem(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.Retry(context.Background(), "missing.png"); !errors.Is(err, engine.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestRetryRequeuesFailedItem(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetDelay(ctx, 0)
	h.autoRespond("error")

	if err := h.engine.Submit(ctx, items("a.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "item failed", func() bool { return statusOf(h.engine.Snapshot(), "a.png") == queue.StatusError })

	h.autoRespond("done")
	if err := h.engine.Retry(ctx, "a.png"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitFor(t, "item done after retry", func() bool { return statusOf(h.engine.Snapshot(), "a.png") == queue.StatusDone })
}

func TestInterstitialForcesPause(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.engine.Submit(ctx, items("a.png", "b.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "first item in flight", func() bool { return len(h.browser.snapshot().processed) == 1 })

	if err := h.engine.Interstitial(ctx, "a.png"); err != nil {
		t.Fatalf("Interstitial: %v", err)
	}
	view := h.engine.Snapshot()
	if !view.IsPaused || view.IsRunning || statusOf(view, "a.png") != queue.StatusPending {
		t.Fatalf("expected paused session with requeued item: %+v", view)
	}
	if !h.store.has(queue.KeyManualPause) {
		t.Fatal("expected manual pause snapshot")
	}
	waitFor(t, "interstitial notification", func() bool {
		_, ok := h.notifier.payload(notifications.EventInterstitial)
		return ok
	})
	if got := len(h.browser.snapshot().processed); got != 1 {
		t.Fatalf("paused session dispatched again: %d commands", got)
	}
}

func TestHandshakeFailureRequeuesAndStopsAtLimit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.browser.mu.Lock()
	h.browser.pingFails = true
	h.browser.mu.Unlock()

	if err := h.engine.Submit(ctx, items("a.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "error notification at the handshake limit", func() bool {
		_, ok := h.notifier.payload(notifications.EventError)
		return ok
	})
	view := h.engine.Snapshot()
	if statusOf(view, "a.png") != queue.StatusPending || view.IsRunning {
		t.Fatalf("item should wait as pending: %+v", view)
	}
	if got := len(h.browser.snapshot().processed); got != 0 {
		t.Fatalf("no command should be sent into an unresponsive tab, got %d", got)
	}

	h.browser.mu.Lock()
	h.browser.pingFails = false
	h.browser.mu.Unlock()
	h.autoRespond("done")
	h.engine.Resume(ctx)
	waitFor(t, "item done after resume", func() bool { return statusOf(h.engine.Snapshot(), "a.png") == queue.StatusDone })
}

func TestWorkerTabOnResultPageIsRenavigated(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetDelay(ctx, 0)
	h.engine.SetLanguage(ctx, "de-DE")
	h.browser.mu.Lock()
	h.browser.respond = func(cmd processed) *engine.Result {
		// The agent leaves the tab on the result page.
		h.browser.mu.Lock()
		for id, tab := range h.browser.tabs {
			tab.URL = "https://de.vectorizer.ai/images/abc123"
			h.browser.tabs[id] = tab
		}
		h.browser.mu.Unlock()
		return &engine.Result{Name: cmd.Item.Name, Status: "done"}
	}
	h.browser.mu.Unlock()

	if err := h.engine.Submit(ctx, items("a.png", "b.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "both done", func() bool { return h.engine.Snapshot().Counts()[queue.StatusDone] == 2 })

	state := h.browser.snapshot()
	if len(state.created) != 1 || state.created[0] != "https://de.vectorizer.ai/" {
		t.Fatalf("expected a single German worker tab, got %v", state.created)
	}
	if len(state.navigated) != 1 || state.navigated[0] != "https://de.vectorizer.ai/" {
		t.Fatalf("expected one renavigation home, got %v", state.navigated)
	}
}

func TestResultForItemNotInFlightIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.engine.Submit(ctx, items("a.png", "b.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "first item in flight", func() bool { return len(h.browser.snapshot().processed) == 1 })

	h.engine.HandleResult(ctx, engine.Result{Name: "b.png", Status: "done"})
	h.engine.HandleResult(ctx, engine.Result{Name: "ghost.png", Status: "done"})

	view := h.engine.Snapshot()
	if statusOf(view, "b.png") != queue.StatusPending || statusOf(view, "a.png") != queue.StatusProcessing {
		t.Fatalf("stray results changed the queue: %+v", view.Queue)
	}
}

func TestDelayedContinuationSendsKeepAlive(t *testing.T) {
	// Test timings keep the defaults: a 30s floor and 20s of overhead.
	cases := []struct {
		name    string
		delay   float64
		wantMs  int64
		wantAll bool
	}{
		{name: "short delay uses the floor", delay: 0.05, wantMs: 30_000, wantAll: true},
		{name: "long delay adds overhead", delay: 60, wantMs: 80_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()
			h.engine.SetDelay(ctx, tc.delay)
			h.autoRespond("done")

			if err := h.engine.Submit(ctx, items("a.png", "b.png")); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			waitFor(t, "keep-alive wait message", func() bool { return len(h.browser.snapshot().waits) > 0 })
			if got := h.browser.snapshot().waits[0]; got != tc.wantMs {
				t.Fatalf("keep-alive duration = %dms, want %dms", got, tc.wantMs)
			}
			if tc.wantAll {
				waitFor(t, "both done", func() bool { return h.engine.Snapshot().Counts()[queue.StatusDone] == 2 })
				return
			}
			if got := statusOf(h.engine.Snapshot(), "b.png"); got != queue.StatusPending {
				t.Fatalf("second item should wait out the delay, got %s", got)
			}
		})
	}
}

func TestAutoPauseWakeStaysBelowMax(t *testing.T) {
	h := newHarnessWithRand(t, nil, 0.999)
	ctx := context.Background()
	h.engine.SetDelay(ctx, 0)
	h.engine.SetAutoPause(ctx, settings.AutoPausePolicy{Enabled: true, Count: 1, MinMinutes: 2, MaxMinutes: 4})
	h.autoRespond("done")

	if err := h.engine.Submit(ctx, items("1.png", "2.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "auto-pause", func() bool { return h.engine.Snapshot().AutoPauseEndTime != nil })

	wake := h.engine.Snapshot().AutoPauseEndTime.Sub(h.clock.Now())
	if wake < 3*time.Minute+59*time.Second || wake >= 4*time.Minute {
		t.Fatalf("wake in %s, want just under the 4m maximum", wake)
	}
}

func TestRetryWhileAnotherItemInFlightKeepsItsResult(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetDelay(ctx, 0)
	h.browser.mu.Lock()
	h.browser.respond = func(cmd processed) *engine.Result {
		if cmd.Item.Name == "a.png" {
			return &engine.Result{Name: "a.png", Status: "error", Error: "upload failed"}
		}
		// The agent keeps working on b.png.
		return nil
	}
	h.browser.mu.Unlock()

	if err := h.engine.Submit(ctx, items("a.png", "b.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "second item in flight", func() bool { return len(h.browser.snapshot().processed) == 2 })

	if err := h.engine.Retry(ctx, "a.png"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	view := h.engine.Snapshot()
	if statusOf(view, "a.png") != queue.StatusPending || statusOf(view, "b.png") != queue.StatusProcessing {
		t.Fatalf("retry must not disturb the item in flight: %+v", view.Queue)
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(h.browser.snapshot().processed); got != 2 {
		t.Fatalf("retried item was sent while another was in flight: %d commands", got)
	}

	h.autoRespond("done")
	h.engine.HandleResult(ctx, engine.Result{Name: "b.png", Status: "done"})
	waitFor(t, "retried item done", func() bool { return statusOf(h.engine.Snapshot(), "a.png") == queue.StatusDone })

	if got := statusOf(h.engine.Snapshot(), "b.png"); got != queue.StatusDone {
		t.Fatalf("in-flight result was dropped: b.png is %s", got)
	}
	var names []string
	for _, cmd := range h.browser.snapshot().processed {
		names = append(names, cmd.Item.Name)
	}
	if len(names) != 3 || names[0] != "a.png" || names[1] != "b.png" || names[2] != "a.png" {
		t.Fatalf("process commands = %v, want [a.png b.png a.png]", names)
	}
	if peak := h.updates.peakProcessing(); peak > 1 {
		t.Fatalf("observed %d processing items at once", peak)
	}
}

func TestSuggestFilenameUsesOriginalName(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetDelay(ctx, 0)
	h.engine.SetFolder(ctx, "/../vectors/")
	h.autoRespond("done")

	if err := h.engine.Submit(ctx, items("holiday-photo.png")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "item done", func() bool { return h.engine.Snapshot().Counts()[queue.StatusDone] == 1 })

	decision := h.engine.SuggestFilename("https://www.vectorizer.ai/download/holiday-photo.svg", "result.svg")
	if !decision.Handled || decision.Filename != "vectors/holiday-photo.svg" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	other := h.engine.SuggestFilename("https://example.com/file.svg", "file.svg")
	if other.Handled {
		t.Fatalf("foreign download should be left alone: %+v", other)
	}
}

func TestSetFormatRejectsUnknown(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.engine.SetFormat(ctx, "png"); !errors.Is(err, settings.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	got, err := h.engine.SetFormat(ctx, "SVG")
	if err != nil || got.Format != settings.FormatSVG {
		t.Fatalf("SetFormat(SVG) = %+v, %v", got, err)
	}
	var stored settings.Settings
	if ok, _ := h.store.GetJSON(ctx, settings.Key, &stored); !ok || stored.Format != settings.FormatSVG {
		t.Fatalf("format not persisted: %+v", stored)
	}
}
