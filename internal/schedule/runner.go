// Package schedule keeps named periodic ticks. Registrations are persisted so
// they survive restarts; a running Runner also executes them on a cron
// timer.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/rankwatch/internal/storage"
)

// Store persists tick registrations.
type Store interface {
	SaveSchedule(sc storage.Schedule) (bool, error)
	DeleteSchedule(name string) error
	ListSchedules() ([]storage.Schedule, error)
}

// TickFunc is the work run on each firing of a tick.
type TickFunc func(ctx context.Context) error

// Runner maps registrations onto cron entries. Each entry is wrapped with
// SkipIfStillRunning so a tick never overlaps itself.
type Runner struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	handlers map[string]TickFunc
	entries  map[string]cron.EntryID
	ctx      context.Context
	running  bool
}

// NewRunner creates a Runner. Until Start is called it only records
// registrations.
func NewRunner(store Store) *Runner {
	r := &Runner{
		store:    store,
		logger:   slog.Default(),
		handlers: make(map[string]TickFunc),
		entries:  make(map[string]cron.EntryID),
	}
	r.cron = newCron(r.logger)
	return r
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(l *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
	if !r.running {
		r.cron = newCron(l)
	}
}

func newCron(l *slog.Logger) *cron.Cron {
	cl := cronLogger{l}
	return cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
}

// Handle sets the function run when the named tick fires.
func (r *Runner) Handle(name string, fn TickFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Register records a tick firing every intervalMinutes. Registering a name
// that is already registered changes nothing.
func (r *Runner) Register(name string, intervalMinutes int) error {
	if intervalMinutes <= 0 {
		return fmt.Errorf("tick %s: interval must be positive, got %d", name, intervalMinutes)
	}
	created, err := r.store.SaveSchedule(storage.Schedule{Name: name, IntervalMinutes: intervalMinutes})
	if err != nil {
		return fmt.Errorf("saving schedule %s: %w", name, err)
	}
	if !created {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Info("tick registered", "tick", name, "every_minutes", intervalMinutes)
	if r.running {
		r.install(name, intervalMinutes)
	}
	return nil
}

// Deregister removes a tick. Unknown names are ignored. A firing that is
// already running finishes normally.
func (r *Runner) Deregister(name string) error {
	if err := r.store.DeleteSchedule(name); err != nil {
		return fmt.Errorf("deleting schedule %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		delete(r.entries, name)
		r.logger.Info("tick deregistered", "tick", name)
	}
	return nil
}

// Registered lists the persisted registrations.
func (r *Runner) Registered() ([]storage.Schedule, error) {
	return r.store.ListSchedules()
}

// NextRun returns when the named tick fires next, if it is installed.
func (r *Runner) NextRun(name string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return r.cron.Entry(id).Next, true
}

// Start installs every persisted registration and starts the cron timer.
// Ticks run with ctx.
func (r *Runner) Start(ctx context.Context) error {
	schedules, err := r.store.ListSchedules()
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.ctx = ctx
	r.running = true
	for _, sc := range schedules {
		r.install(sc.Name, sc.IntervalMinutes)
	}
	r.cron.Start()
	r.logger.Info("scheduler started", "ticks", len(schedules))
	return nil
}

// Stop halts the timer and waits for running ticks to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stopped := r.cron.Stop()
	for name, id := range r.entries {
		r.cron.Remove(id)
		delete(r.entries, name)
	}
	r.mu.Unlock()

	<-stopped.Done()
	r.logger.Info("scheduler stopped")
}

// Run starts the runner and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.Stop()
	return nil
}

// install must be called with r.mu held.
func (r *Runner) install(name string, intervalMinutes int) {
	if _, ok := r.entries[name]; ok {
		return
	}
	every := time.Duration(intervalMinutes) * time.Minute
	r.entries[name] = r.cron.Schedule(cron.Every(every), cron.FuncJob(func() { r.fire(name) }))
}

func (r *Runner) fire(name string) {
	r.mu.Lock()
	fn := r.handlers[name]
	ctx := r.ctx
	log := r.logger
	r.mu.Unlock()

	if fn == nil {
		log.Warn("tick fired without a handler", "tick", name)
		return
	}
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		log.Error("tick failed", "tick", name, "error", err, "duration", time.Since(start))
		return
	}
	log.Debug("tick finished", "tick", name, "duration", time.Since(start))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
