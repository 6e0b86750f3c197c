package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"batchvec/internal/alarm"
	"batchvec/internal/api"
	"batchvec/internal/bridge"
	"batchvec/internal/config"
	"batchvec/internal/engine"
	"batchvec/internal/kvstore"
	"batchvec/internal/logging"
	"batchvec/internal/notifications"
	"batchvec/internal/preflight"
)

// ErrNotRunning is returned by operations that need an active session.
var ErrNotRunning = errors.New("daemon not running")

// Daemon coordinates the queue engine and its transports and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *kvstore.Store
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool

	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	startedAt  time.Time
	engine     *engine.Engine
	hub        *bridge.Hub
	alarms     *alarm.Scheduler
	dispatcher *api.Dispatcher
	api        *apiServer
	checks     []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *kvstore.Store, logger *slog.Logger, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, reconciles the persisted session and starts
// the alarm scheduler and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another batchvec daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	checks := preflight.RunAll(runCtx, d.cfg)
	d.logChecks(checks)

	timings := d.cfg.Timings()
	hub := bridge.NewHub(bridge.Options{
		AllowedOrigins: d.cfg.Paths.AllowedOrigins,
		RequestTimeout: timings.RequestTimeout,
		Logger:         d.logger,
	})

	var eng *engine.Engine
	alarms := alarm.New(d.store, func(ctx context.Context, name string) {
		eng.HandleAlarm(ctx, name)
	}, d.logger)
	eng = engine.New(engine.Options{
		Timings:     timings,
		Site:        d.cfg.Site,
		Store:       d.store,
		Browser:     hub,
		Broadcaster: hub,
		Alarms:      alarms,
		Notifier:    d.notifier,
		Logger:      d.logger,
	})
	dispatcher := api.NewDispatcher(eng, d.logger)
	hub.SetHandler(dispatcher)

	eng.Start(runCtx)
	if err := alarms.Start(runCtx); err != nil {
		eng.Close()
		hub.Close()
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start alarms: %w", err)
	}

	srv := newAPIServer(d.cfg, d, dispatcher, hub, d.logger)
	if err := srv.start(runCtx); err != nil {
		alarms.Stop()
		eng.Close()
		hub.Close()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.ctx, d.cancel = runCtx, cancel
	d.startedAt = time.Now()
	d.engine, d.hub, d.alarms = eng, hub, alarms
	d.dispatcher, d.api, d.checks = dispatcher, srv, checks
	d.mu.Unlock()

	d.running.Store(true)
	d.logger.Info("batchvec daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", srv.address()),
	)
	return nil
}

// Stop stops the API server, the scheduler and the engine, then releases the
// daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	srv, alarms, eng, hub, cancel := d.api, d.alarms, d.engine, d.hub, d.cancel
	d.api, d.alarms, d.engine, d.hub, d.dispatcher, d.cancel, d.ctx = nil, nil, nil, nil, nil, nil, nil
	d.mu.Unlock()

	srv.stop()
	if alarms != nil {
		alarms.Stop()
	}
	if hub != nil {
		hub.Close()
	}
	if eng != nil {
		eng.Close()
	}
	if cancel != nil {
		cancel()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("batchvec daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Dispatcher returns the message dispatcher of the running session.
func (d *Daemon) Dispatcher() (*api.Dispatcher, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.dispatcher == nil {
		return nil, ErrNotRunning
	}
	return d.dispatcher, nil
}

// APIAddress returns the address the HTTP API listens on, or "" when stopped.
func (d *Daemon) APIAddress() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.api.address()
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	err := d.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{})
	if err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	d.mu.RLock()
	eng, hub, checks, startedAt := d.engine, d.hub, d.checks, d.startedAt
	d.mu.RUnlock()

	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		APIBind:      d.APIAddress(),
	}
	if !status.Running {
		checks = preflight.RunAll(ctx, d.cfg)
	} else {
		status.StartedAt = api.FormatTime(startedAt)
	}
	if eng != nil {
		status.Queue = api.Summarize(eng.Snapshot())
	}
	if hub != nil {
		status.ExtensionConnected = hub.ExtensionConnected()
		status.PopupCount = hub.PopupCount()
	}
	status.Checks = make([]api.CheckStatus, 0, len(checks))
	for _, check := range checks {
		status.Checks = append(status.Checks, api.CheckStatus{Name: check.Name, Passed: check.Passed, Detail: check.Detail})
	}
	return status
}

func (d *Daemon) logChecks(checks []preflight.Result) {
	for _, check := range preflight.Failed(checks) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldErrorHint, "fix the configuration and restart the daemon"),
			logging.String(logging.FieldImpact, "affected feature may not work"),
		)
	}
}
