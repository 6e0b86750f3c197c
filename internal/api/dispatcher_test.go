package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"batchvec/internal/bridge"
	"batchvec/internal/downloads"
	"batchvec/internal/engine"
	"batchvec/internal/logging"
	"batchvec/internal/queue"
	"batchvec/internal/settings"
)

type engineStub struct {
	submitted []queue.Item
	results   []engine.Result
	retried   []string
	paused    bool
	cfg       settings.Settings
	calls     []string
}

func newEngineStub() *engineStub {
	return &engineStub{cfg: settings.Default()}
}

func (s *engineStub) Submit(_ context.Context, items []queue.Item) error {
	for _, item := range items {
		if item.Name == "" {
			return engine.ErrInvalidItem
		}
	}
	s.submitted = append(s.submitted, items...)
	return nil
}

func (s *engineStub) Snapshot() engine.View {
	view := engine.View{IsPaused: s.paused}
	for _, item := range s.submitted {
		view.Queue = append(view.Queue, engine.ItemView{Name: item.Name, Status: queue.StatusPending})
	}
	return view
}

func (s *engineStub) Pause(context.Context)  { s.paused = true }
func (s *engineStub) Resume(context.Context) { s.paused = false }
func (s *engineStub) Cancel(context.Context) { s.submitted = nil }

func (s *engineStub) Retry(_ context.Context, name string) error {
	if name != "known.png" {
		return engine.ErrItemNotFound
	}
	s.retried = append(s.retried, name)
	return nil
}

func (s *engineStub) Interstitial(_ context.Context, name string) error {
	s.calls = append(s.calls, "interstitial:"+name)
	return nil
}

func (s *engineStub) HandleResult(_ context.Context, result engine.Result) {
	s.results = append(s.results, result)
}

func (s *engineStub) Config() settings.Settings { return s.cfg }

func (s *engineStub) SetDelay(_ context.Context, seconds float64) settings.Settings {
	s.calls = append(s.calls, "delay")
	s.cfg.DelaySeconds = settings.NormalizeDelay(seconds)
	return s.cfg
}

func (s *engineStub) SetFormat(_ context.Context, value string) (settings.Settings, error) {
	s.calls = append(s.calls, "format")
	format, err := settings.ParseFormat(value)
	if err != nil {
		return s.cfg, err
	}
	s.cfg.Format = format
	return s.cfg, nil
}

func (s *engineStub) SetFolder(_ context.Context, folder string) settings.Settings {
	s.calls = append(s.calls, "folder")
	s.cfg.Folder = settings.SanitizeFolder(folder)
	return s.cfg
}

func (s *engineStub) SetRemoveBackground(_ context.Context, enabled bool) settings.Settings {
	s.calls = append(s.calls, "removeBackground")
	s.cfg.RemoveBackground = enabled
	return s.cfg
}

func (s *engineStub) SetAutoPause(_ context.Context, policy settings.AutoPausePolicy) settings.Settings {
	s.calls = append(s.calls, "autoPause")
	s.cfg.AutoPause = policy.Normalize()
	return s.cfg
}

func (s *engineStub) SetLanguage(_ context.Context, lang string) settings.Settings {
	s.calls = append(s.calls, "language")
	s.cfg.Language = settings.NormalizeLanguage(lang)
	return s.cfg
}

func (s *engineStub) SuggestFilename(downloadURL, suggested string) downloads.Decision {
	return downloads.Decision{Filename: "out/" + suggested, ConflictAction: "uniquify", Handled: downloadURL != ""}
}

func (s *engineStub) KeepAlive() string { return "alive" }

func newTestDispatcher() (*Dispatcher, *engineStub) {
	stub := newEngineStub()
	d := NewDispatcher(stub, logging.NewNop())
	d.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return d, stub
}

func TestQueueAddDecodesBase64Payload(t *testing.T) {
	d, stub := newTestDispatcher()
	payload := json.RawMessage(`{"items":[{"name":" logo.png ","type":"image/png","data":"iVBORw=="}]}`)

	reply, err := d.Handle(context.Background(), MsgQueueAdd, payload)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := reply.(AddResponse).Accepted; got != 1 {
		t.Fatalf("Accepted = %d, want 1", got)
	}
	if len(stub.submitted) != 1 {
		t.Fatalf("submitted %d items", len(stub.submitted))
	}
	item := stub.submitted[0]
	if item.Name != "logo.png" || string(item.Data) != "\x89PNG" || item.Size != 4 {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestQueueAddRejectsInvalidItems(t *testing.T) {
	d, _ := newTestDispatcher()
	_, err := d.Handle(context.Background(), MsgQueueAdd, json.RawMessage(`{"items":[{"name":"  "}]}`))
	if !errors.Is(err, engine.ErrInvalidItem) || ErrorStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected invalid item, got %v", err)
	}
}

func TestResultIsAcknowledged(t *testing.T) {
	d, stub := newTestDispatcher()
	reply, err := d.Handle(context.Background(), MsgResult,
		json.RawMessage(`{"result":{"name":"a.png","status":"done","downloadUrl":"https://www.vectorizer.ai/d/a.svg"}}`))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	ack := reply.(ResultAck)
	if !ack.Received || ack.Timestamp != 1_700_000_000_000 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if len(stub.results) != 1 || stub.results[0].DownloadURL == "" {
		t.Fatalf("result not forwarded: %+v", stub.results)
	}
}

func TestRetryUnknownItemMapsToNotFound(t *testing.T) {
	d, stub := newTestDispatcher()
	_, err := d.Handle(context.Background(), MsgRetry, json.RawMessage(`{"name":"missing.png"}`))
	if ErrorStatus(err) != http.StatusNotFound {
		t.Fatalf("status = %d for %v", ErrorStatus(err), err)
	}
	if _, err := d.Handle(context.Background(), MsgRetry, json.RawMessage(`{"name":"known.png"}`)); err != nil {
		t.Fatalf("retry known: %v", err)
	}
	if len(stub.retried) != 1 {
		t.Fatalf("retried = %v", stub.retried)
	}
}

func TestAutoPauseAcceptsPopupMinutes(t *testing.T) {
	d, _ := newTestDispatcher()
	reply, err := d.Handle(context.Background(), MsgConfigSetAutoPause,
		json.RawMessage(`{"autoPause":{"enabled":true,"count":4,"minutes":7}}`))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	policy := reply.(settings.Settings).AutoPause
	if !policy.Enabled || policy.Count != 4 || policy.MinMinutes != 1 || policy.MaxMinutes != 7 {
		t.Fatalf("unexpected policy: %+v", policy)
	}
}

func TestKeepAliveAndPause(t *testing.T) {
	d, _ := newTestDispatcher()
	reply, err := d.Handle(context.Background(), MsgKeepAlive, nil)
	if err != nil || reply.(KeepAliveResponse).Status != "alive" {
		t.Fatalf("keepAlive = %+v, %v", reply, err)
	}
	reply, err = d.Handle(context.Background(), MsgQueuePause, nil)
	if err != nil || !reply.(PauseResponse).IsPaused {
		t.Fatalf("pause = %+v, %v", reply, err)
	}
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	d, _ := newTestDispatcher()
	if _, err := d.Handle(context.Background(), "queue:explode", nil); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
	_, err := d.Handle(context.Background(), MsgConfigSetDelay, json.RawMessage(`{"seconds":"soon"}`))
	if !errors.Is(err, ErrBadPayload) || ErrorStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected bad payload, got %v", err)
	}
}

func TestApplyConfigStopsAtInvalidFormat(t *testing.T) {
	d, stub := newTestDispatcher()
	format := "png"
	folder := "out"
	if _, err := d.ApplyConfig(context.Background(), ConfigPatch{Format: &format, Folder: &folder}); !errors.Is(err, settings.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if len(stub.calls) != 1 || stub.calls[0] != "format" {
		t.Fatalf("later fields must not apply: %v", stub.calls)
	}

	format = "SVG"
	delay := 2.5
	got, err := d.ApplyConfig(context.Background(), ConfigPatch{Format: &format, DelaySeconds: &delay})
	if err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if got.Format != settings.FormatSVG || got.DelaySeconds != 2.5 {
		t.Fatalf("unexpected settings: %+v", got)
	}
}

func TestErrorStatusForTransportErrors(t *testing.T) {
	if got := ErrorStatus(bridge.ErrNoExtension); got != http.StatusServiceUnavailable {
		t.Fatalf("no extension = %d", got)
	}
	if got := ErrorStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("generic = %d", got)
	}
}

func TestSummarize(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	summary := Summarize(engine.View{
		Queue: []engine.ItemView{
			{Name: "a.png", Status: queue.StatusDone},
			{Name: "b.png", Status: queue.StatusPending},
			{Name: "c.png", Status: queue.StatusPending},
		},
		IsPaused:         true,
		AutoPauseEndTime: &end,
	})
	if summary.Total != 3 || summary.Counts["pending"] != 2 || summary.Counts["error"] != 0 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.AutoPauseEndTime != "2026-03-01T12:05:00.000Z" {
		t.Fatalf("AutoPauseEndTime = %q", summary.AutoPauseEndTime)
	}
}
