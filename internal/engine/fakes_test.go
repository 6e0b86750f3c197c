package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"batchvec/internal/engine"
	"batchvec/internal/logging"
	"batchvec/internal/notifications"
	"batchvec/internal/queue"
	"batchvec/internal/testsupport"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *memoryStore) SetJSON(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.data, key)
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memoryStore) general(t *testing.T) (queue.GeneralSnapshot, bool) {
	t.Helper()
	var snap queue.GeneralSnapshot
	ok, err := m.GetJSON(context.Background(), queue.KeyGeneral, &snap)
	if err != nil {
		t.Fatalf("decode general snapshot: %v", err)
	}
	return snap, ok
}

type processed struct {
	Item struct {
		Name string `json:"name"`
		Data []byte `json:"data"`
	} `json:"item"`
	Format           string `json:"format"`
	RemoveBackground bool   `json:"removeBackground"`
	Meta             struct {
		Position int `json:"position"`
		Total    int `json:"total"`
	} `json:"meta"`
}

type fakeBrowser struct {
	mu          sync.Mutex
	nextID      int
	tabs        map[int]engine.Tab
	created     []string
	navigated   []string
	pingFails   bool
	processFail bool
	processed   []processed
	attempts    int
	tabMessages []string
	waits       []int64
	siteMsgs    []string

	// respond, when set, is called with each delivered command. A non-nil
	// result is reported back to the engine before SendToTab returns.
	respond func(cmd processed) *engine.Result
	eng     *engine.Engine
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{nextID: 100, tabs: make(map[int]engine.Tab)}
}

func (b *fakeBrowser) GetTab(_ context.Context, tabID int) (engine.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tab, ok := b.tabs[tabID]
	if !ok {
		return engine.Tab{}, fmt.Errorf("no tab with id %d", tabID)
	}
	return tab, nil
}

func (b *fakeBrowser) CreateTab(_ context.Context, url string) (engine.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	tab := engine.Tab{ID: b.nextID, URL: url, Status: "complete"}
	b.tabs[tab.ID] = tab
	b.created = append(b.created, url)
	return tab, nil
}

func (b *fakeBrowser) NavigateTab(_ context.Context, tabID int, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tab := b.tabs[tabID]
	tab.URL = url
	b.tabs[tabID] = tab
	b.navigated = append(b.navigated, url)
	return nil
}

func (b *fakeBrowser) WaitTabComplete(context.Context, int) error { return nil }

func (b *fakeBrowser) SendToTab(ctx context.Context, tabID int, msg engine.Message) (json.RawMessage, error) {
	b.mu.Lock()
	switch msg.Type {
	case engine.MsgPing:
		fail := b.pingFails
		b.mu.Unlock()
		if fail {
			return nil, errors.New("receiving end does not exist")
		}
		return json.RawMessage(`{"pong":true}`), nil
	case engine.MsgProcess:
		b.attempts++
		if b.processFail {
			b.mu.Unlock()
			return nil, errors.New("could not establish connection")
		}
		raw, err := json.Marshal(msg.Data)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		var cmd processed
		if err := json.Unmarshal(raw, &cmd); err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.processed = append(b.processed, cmd)
		respond, eng := b.respond, b.eng
		b.mu.Unlock()
		if respond != nil && eng != nil {
			if result := respond(cmd); result != nil {
				eng.HandleResult(ctx, *result)
			}
		}
		return json.RawMessage(`{"received":true}`), nil
	default:
		b.tabMessages = append(b.tabMessages, msg.Type)
		if data, ok := msg.Data.(map[string]int64); ok && msg.Type == engine.MsgWait {
			b.waits = append(b.waits, data["duration"])
		}
		b.mu.Unlock()
		return nil, nil
	}
}

func (b *fakeBrowser) BroadcastToSite(_ context.Context, _ string, msg engine.Message) error {
	b.mu.Lock()
	b.siteMsgs = append(b.siteMsgs, msg.Type)
	b.mu.Unlock()
	return nil
}

type browserState struct {
	created     []string
	navigated   []string
	processed   []processed
	attempts    int
	tabMessages []string
	waits       []int64
	siteMsgs    []string
}

func (b *fakeBrowser) snapshot() browserState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return browserState{
		created:     append([]string(nil), b.created...),
		navigated:   append([]string(nil), b.navigated...),
		processed:   append([]processed(nil), b.processed...),
		attempts:    b.attempts,
		tabMessages: append([]string(nil), b.tabMessages...),
		waits:       append([]int64(nil), b.waits...),
		siteMsgs:    append([]string(nil), b.siteMsgs...),
	}
}

type fakeAlarms struct {
	mu      sync.Mutex
	active  map[string]time.Time
	creates int
	clears  int
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{active: make(map[string]time.Time)}
}

func (a *fakeAlarms) Create(_ context.Context, name string, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[name] = at
	a.creates++
	return nil
}

func (a *fakeAlarms) Clear(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, name)
	a.clears++
	return nil
}

func (a *fakeAlarms) get(name string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.active[name]
	return at, ok
}

func (a *fakeAlarms) clearCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clears
}

type recordingBroadcaster struct {
	mu            sync.Mutex
	updates       int
	maxProcessing int
	seen          map[string][]queue.Status
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, msg engine.Message) {
	view, ok := msg.Data.(engine.View)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string][]queue.Status)
	}
	r.updates++
	if n := view.Counts()[queue.StatusProcessing]; n > r.maxProcessing {
		r.maxProcessing = n
	}
	for _, item := range view.Queue {
		r.seen[item.Name] = append(r.seen[item.Name], item.Status)
	}
}

func (r *recordingBroadcaster) statuses(name string) []queue.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Status(nil), r.seen[name]...)
}

func (r *recordingBroadcaster) peakProcessing() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxProcessing
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   map[notifications.Event]notifications.Payload
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		n.last = make(map[notifications.Event]notifications.Payload)
	}
	n.events = append(n.events, event)
	n.last[event] = payload
	return nil
}

func (n *recordingNotifier) payload(event notifications.Event) (notifications.Payload, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.last[event]
	return p, ok
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type harness struct {
	engine   *engine.Engine
	store    *memoryStore
	browser  *fakeBrowser
	alarms   *fakeAlarms
	updates  *recordingBroadcaster
	notifier *recordingNotifier
	clock    *fakeClock
}

func newHarness(t *testing.T, store *memoryStore) *harness {
	t.Helper()
	return newHarnessWithRand(t, store, 0)
}

// newHarnessWithRand fixes the random draw used for auto-pause lengths.
func newHarnessWithRand(t *testing.T, store *memoryStore, r float64) *harness {
	t.Helper()
	if store == nil {
		store = newMemoryStore()
	}
	cfg := testsupport.NewConfig(t)
	h := &harness{
		store:    store,
		browser:  newFakeBrowser(),
		alarms:   newFakeAlarms(),
		updates:  &recordingBroadcaster{},
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.engine = engine.New(engine.Options{
		Timings:     cfg.Timings(),
		Site:        cfg.Site,
		Store:       h.store,
		Browser:     h.browser,
		Broadcaster: h.updates,
		Alarms:      h.alarms,
		Notifier:    h.notifier,
		Logger:      logging.NewNop(),
		Now:         h.clock.Now,
		Rand:        func() float64 { return r },
	})
	h.browser.eng = h.engine
	h.engine.Start(context.Background())
	t.Cleanup(h.engine.Close)
	return h
}

// autoRespond makes the fake agent report every item with the given status.
func (h *harness) autoRespond(status string) {
	h.browser.mu.Lock()
	defer h.browser.mu.Unlock()
	h.browser.respond = func(cmd processed) *engine.Result {
		return &engine.Result{
			Name:        cmd.Item.Name,
			Status:      status,
			DownloadURL: "https://www.vectorizer.ai/download/" + strings.TrimSuffix(cmd.Item.Name, ".png") + ".svg",
		}
	}
}

func items(names ...string) []queue.Item {
	out := make([]queue.Item, 0, len(names))
	for _, name := range names {
		out = append(out, queue.Item{Name: name, Type: "image/png", Size: 4, Data: []byte{0x89, 'P', 'N', 'G'}})
	}
	return out
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func statusOf(view engine.View, name string) queue.Status {
	for _, item := range view.Queue {
		if item.Name == name {
			return item.Status
		}
	}
	return ""
}
