package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"batchvec/internal/logging"
)

// KeyPrefix prefixes persisted alarm keys.
const KeyPrefix = "alarm:"

// Handler is invoked once when an alarm fires.
type Handler func(ctx context.Context, name string)

// Store persists alarm due times.
type Store interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type record struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// Scheduler arms named one-shot alarms.
type Scheduler struct {
	store   Store
	handler Handler
	logger  *slog.Logger
	now     func() time.Time

	cron *gocron.Scheduler

	mu      sync.Mutex
	armed   map[string]time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs a scheduler. Handler runs on a scheduler goroutine.
func New(store Store, handler Handler, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cron := gocron.NewScheduler(time.UTC)
	cron.TagsUnique()
	return &Scheduler{
		store:   store,
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "alarm"),
		now:     time.Now,
		cron:    cron,
		armed:   make(map[string]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start re-arms persisted alarms and starts the scheduler. Alarms already due
// fire immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.cron.StartAsync()
	if s.store == nil {
		return nil
	}
	keys, err := s.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return fmt.Errorf("list persisted alarms: %w", err)
	}
	for _, key := range keys {
		var rec record
		ok, err := s.store.GetJSON(ctx, key, &rec)
		if err != nil || !ok {
			s.logger.Warn("dropping unreadable alarm",
				logging.String(logging.FieldEventType, "alarm_unreadable"),
				logging.String("key", key),
				logging.Error(err),
			)
			_ = s.store.Delete(ctx, key)
			continue
		}
		if rec.Name == "" {
			rec.Name = strings.TrimPrefix(key, KeyPrefix)
		}
		if err := s.schedule(rec.Name, rec.At); err != nil {
			return err
		}
		s.logger.Info("alarm re-armed",
			logging.String(logging.FieldEventType, "alarm_restored"),
			logging.String("alarm", rec.Name),
			logging.Time("at", rec.At),
		)
	}
	return nil
}

// Create persists and arms an alarm, replacing any alarm with the same name.
func (s *Scheduler) Create(ctx context.Context, name string, at time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("alarm name is required")
	}
	if s.store != nil {
		if err := s.store.SetJSON(ctx, KeyPrefix+name, record{Name: name, At: at}); err != nil {
			return fmt.Errorf("persist alarm %s: %w", name, err)
		}
	}
	return s.schedule(name, at)
}

// Clear cancels an alarm and removes its persisted record. Unknown names are
// ignored.
func (s *Scheduler) Clear(ctx context.Context, name string) error {
	s.unschedule(name)
	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, KeyPrefix+name); err != nil {
		return fmt.Errorf("remove alarm %s: %w", name, err)
	}
	return nil
}

// Pending returns the due time of an armed alarm.
func (s *Scheduler) Pending(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.armed[name]
	return at, ok
}

// Stop halts the scheduler and waits for running handlers.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	s.wg.Wait()
}

func (s *Scheduler) schedule(name string, at time.Time) error {
	s.unschedule(name)

	s.mu.Lock()
	s.armed[name] = at
	s.mu.Unlock()

	delay := at.Sub(s.now())
	if delay <= 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fire(name, at)
		}()
		return nil
	}
	_, err := s.cron.Every(delay).
		WaitForSchedule().
		LimitRunsTo(1).
		Tag(name).
		Do(s.fire, name, at)
	if err != nil {
		s.mu.Lock()
		delete(s.armed, name)
		s.mu.Unlock()
		return fmt.Errorf("schedule alarm %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) unschedule(name string) {
	s.mu.Lock()
	delete(s.armed, name)
	s.mu.Unlock()
	if err := s.cron.RemoveByTag(name); err != nil && !errors.Is(err, gocron.ErrJobNotFoundWithTag) {
		s.logger.Debug("remove alarm job", logging.String("alarm", name), logging.Error(err))
	}
}

// fire runs the handler unless the alarm was cleared or re-armed for a
// different time in the meantime.
func (s *Scheduler) fire(name string, at time.Time) {
	s.mu.Lock()
	current, ok := s.armed[name]
	if !ok || !current.Equal(at) {
		s.mu.Unlock()
		return
	}
	delete(s.armed, name)
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if s.store != nil {
		if err := s.store.Delete(s.ctx, KeyPrefix+name); err != nil {
			s.logger.Warn("remove fired alarm failed",
				logging.String(logging.FieldEventType, "alarm_cleanup_failed"),
				logging.String("alarm", name),
				logging.Error(err),
			)
		}
	}
	s.logger.Info("alarm fired",
		logging.String(logging.FieldEventType, "alarm_fired"),
		logging.String("alarm", name),
	)
	if s.handler != nil {
		s.handler(s.ctx, name)
	}
}
