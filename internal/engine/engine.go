package engine

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"batchvec/internal/config"
	"batchvec/internal/downloads"
	"batchvec/internal/logging"
	"batchvec/internal/notifications"
	"batchvec/internal/queue"
	"batchvec/internal/settings"
)

// Options wires an Engine to its collaborators.
type Options struct {
	Timings     config.Timings
	Site        config.Site
	Store       Storage
	Browser     Browser
	Broadcaster Broadcaster
	Alarms      Alarms
	Notifier    notifications.Service
	Logger      *slog.Logger

	// Now and Rand default to the wall clock and math/rand.
	Now  func() time.Time
	Rand func() float64
}

// Engine is the queue session and its state machine.
type Engine struct {
	timings     config.Timings
	site        config.Site
	store       Storage
	browser     Browser
	broadcaster Broadcaster
	alarms      Alarms
	notifier    notifications.Service
	logger      *slog.Logger
	now         func() time.Time
	rand        func() float64
	names       *downloads.NameMap

	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once

	spawnMu sync.Mutex
	closing bool
	wg      sync.WaitGroup

	persistMu sync.Mutex
	written   map[string]uint64

	mu                sync.Mutex
	queue             []*queue.Item
	running           bool
	paused            bool
	workerTab         int
	processed         int
	autoPauseEnd      time.Time
	cancelled         bool
	gen               uint64
	session           uint64
	seq               uint64
	timer             *time.Timer
	handshakeFailures int
	discarded         int
	settings          settings.Settings
	closed            bool
}

// New constructs an engine. Call Start before use.
func New(opts Options) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		timings:     opts.Timings,
		site:        opts.Site,
		store:       opts.Store,
		browser:     opts.Browser,
		broadcaster: opts.Broadcaster,
		alarms:      opts.Alarms,
		notifier:    opts.Notifier,
		logger:      logging.NewComponentLogger(opts.Logger, "engine"),
		now:         opts.Now,
		rand:        opts.Rand,
		names:       downloads.NewNameMap(),
		ctx:         ctx,
		cancel:      cancel,
		ready:       make(chan struct{}),
		written:     make(map[string]uint64),
		settings:    settings.Default(),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.rand == nil {
		e.rand = rand.Float64
	}
	if e.notifier == nil {
		e.notifier = notifications.NewNoop()
	}
	return e
}

// Start loads durable settings and reconciles persisted snapshots.
func (e *Engine) Start(ctx context.Context) {
	if e.store != nil {
		loaded, err := settings.Load(ctx, e.store)
		if err != nil {
			logging.WarnWithContext(e.logger, "settings load failed; using defaults", "settings_load_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "delay, format and auto-pause reset to defaults"),
			)
		}
		e.mu.Lock()
		e.settings = loaded
		e.mu.Unlock()
	}
	e.Restore(ctx)
}

// Close stops timers and waits for in-flight dispatches to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.stopTimerLocked()
	e.mu.Unlock()

	e.spawnMu.Lock()
	e.closing = true
	e.spawnMu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// Ready is closed once restart reconciliation has finished.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

func (e *Engine) markReady() {
	e.readyOnce.Do(func() { close(e.ready) })
}

type storeOp struct {
	key   string
	value any
	seq   uint64
}

type tabMessage struct {
	tabID int
	msg   Message
}

type notice struct {
	event   notifications.Event
	payload notifications.Payload
}

type job struct {
	gen      uint64
	session  uint64
	name     string
	command  processCommand
	language string
}

// effects are side effects gathered under the lock and run after it.
type effects struct {
	ops        []storeOp
	clearAlarm bool
	armAlarm   time.Time
	view       *View
	tabMsgs    []tabMessage
	siteMsgs   []Message
	notices    []notice
	job        *job
}

func (fx *effects) set(e *Engine, key string, value any) {
	e.seq++
	fx.ops = append(fx.ops, storeOp{key: key, value: value, seq: e.seq})
}

func (fx *effects) del(e *Engine, keys ...string) {
	for _, key := range keys {
		e.seq++
		fx.ops = append(fx.ops, storeOp{key: key, seq: e.seq})
	}
}

func (fx *effects) notify(event notifications.Event, payload notifications.Payload) {
	fx.notices = append(fx.notices, notice{event: event, payload: payload})
}

func (e *Engine) broadcastLocked(fx *effects) {
	view := e.viewLocked()
	fx.view = &view
}

// persistLocked queues the general snapshot. A cancelled session or an empty
// queue is never written.
func (e *Engine) persistLocked(fx *effects) {
	if e.cancelled || len(e.queue) == 0 {
		return
	}
	fx.set(e, queue.KeyGeneral, queue.GeneralSnapshot{
		Queue:          queue.Metas(e.queue),
		IsRunning:      e.running,
		IsPaused:       e.paused,
		WorkerTabID:    e.workerTab,
		ProcessedCount: e.processed,
		Timestamp:      e.now(),
	})
}

func (e *Engine) manualSnapshotLocked(fx *effects) {
	fx.set(e, queue.KeyManualPause, queue.ManualPauseSnapshot{
		IsPaused: true,
		Queue:    queue.Metas(e.queue),
	})
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// scheduleKickLocked replaces any pending continuation with a kick after d.
func (e *Engine) scheduleKickLocked(d time.Duration) {
	e.stopTimerLocked()
	if e.closed {
		return
	}
	gen := e.gen
	e.timer = time.AfterFunc(d, func() { e.timedKick(gen) })
}

func (e *Engine) timedKick(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	var fx effects
	e.kickLocked(&fx)
	e.mu.Unlock()
	e.run(e.ctx, fx)
}

// run applies effects in order: storage, alarms, popup broadcast, then the
// fire-and-forget tab messages, notifications and dispatch.
func (e *Engine) run(ctx context.Context, fx effects) {
	ctx = context.WithoutCancel(ctx)
	e.commit(ctx, fx.ops)

	if fx.clearAlarm && e.alarms != nil {
		if err := e.alarms.Clear(ctx, queue.AutoPauseAlarm); err != nil {
			e.logger.Warn("clear wake alarm failed",
				logging.String(logging.FieldEventType, "alarm_clear_failed"),
				logging.Error(err),
			)
		}
	}
	if !fx.armAlarm.IsZero() && e.alarms != nil {
		if err := e.alarms.Create(ctx, queue.AutoPauseAlarm, fx.armAlarm); err != nil {
			logging.ErrorWithContext(e.logger, "arm wake alarm failed", "alarm_create_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "resume the queue manually"),
			)
		}
	}
	if fx.view != nil && e.broadcaster != nil {
		e.broadcaster.Broadcast(ctx, Message{Type: MsgUpdate, Data: *fx.view})
	}
	for _, tm := range fx.tabMsgs {
		tm := tm
		e.spawn(func() { e.sendBestEffort(ctx, tm.tabID, tm.msg) })
	}
	for _, msg := range fx.siteMsgs {
		msg := msg
		e.spawn(func() { e.broadcastToSite(ctx, msg) })
	}
	for _, n := range fx.notices {
		n := n
		e.spawn(func() {
			if err := e.notifier.Publish(ctx, n.event, n.payload); err != nil {
				e.logger.Warn("notification failed",
					logging.String(logging.FieldEventType, "notify_failed"),
					logging.String("event", string(n.event)),
					logging.Error(err),
				)
			}
		})
	}
	if fx.job != nil {
		j := *fx.job
		e.spawn(func() { e.dispatch(j) })
	}
}

func (e *Engine) spawn(fn func()) {
	e.spawnMu.Lock()
	if e.closing {
		e.spawnMu.Unlock()
		return
	}
	e.wg.Add(1)
	e.spawnMu.Unlock()
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// commit writes storage operations. Per key, an operation older than one
// already written is dropped, so concurrent callers cannot resurrect stale
// snapshots.
func (e *Engine) commit(ctx context.Context, ops []storeOp) {
	if e.store == nil || len(ops) == 0 {
		return
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	for _, op := range ops {
		if op.seq < e.written[op.key] {
			continue
		}
		e.written[op.key] = op.seq
		var err error
		if op.value == nil {
			err = e.store.Delete(ctx, op.key)
		} else {
			err = e.store.SetJSON(ctx, op.key, op.value)
		}
		if err != nil {
			logging.WarnWithContext(e.logger, "persist state failed", "persist_failed",
				logging.String("key", op.key),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database permissions and free disk space"),
				logging.String(logging.FieldImpact, "state may not survive a daemon restart"),
			)
		}
	}
}

func (e *Engine) sendBestEffort(ctx context.Context, tabID int, msg Message) {
	if e.browser == nil || tabID == 0 {
		return
	}
	ctx, cancel := e.requestContext(ctx)
	defer cancel()
	if _, err := e.browser.SendToTab(ctx, tabID, msg); err != nil {
		e.logger.Debug("tab message not delivered",
			logging.String("type", msg.Type),
			logging.Int("tab_id", tabID),
			logging.Error(err),
		)
	}
}

func (e *Engine) broadcastToSite(ctx context.Context, msg Message) {
	if e.browser == nil {
		return
	}
	ctx, cancel := e.requestContext(ctx)
	defer cancel()
	if err := e.browser.BroadcastToSite(ctx, e.site.TabPattern, msg); err != nil {
		e.logger.Debug("site broadcast not delivered",
			logging.String("type", msg.Type),
			logging.Error(err),
		)
	}
}

func (e *Engine) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timings.RequestTimeout > 0 {
		return context.WithTimeout(ctx, e.timings.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// sleep waits for d or until the engine shuts down.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
