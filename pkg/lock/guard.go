package lock

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/project"
	"github.com/fxctl/fxctl/pkg/telemetry"
)

const (
	DefaultRetries    = 10
	DefaultRetryDelay = time.Second

	// EventConcurrentOperation is sent when all attempts fail.
	EventConcurrentOperation = "concurrent-operation"

	PropRetry = "retry"
	PropDoing = "doing"
	PropTodo  = "todo"
)

// EventKind is the kind of event passed to listeners.
type EventKind string

const (
	EventLocked   EventKind = "lock"
	EventUnlocked EventKind = "unlock"
)

// Listener observes lock and unlock of project paths.
type Listener func(kind EventKind, projectPath, task string)

// ContentionMetrics counts contended acquisitions. *telemetry.Metrics
// implements it.
type ContentionMetrics interface {
	RecordLockContention(acquired bool)
}

// TaskTracker records which task holds each lock key. One tracker is shared
// by every guard of a runtime that should report the same "doing" task.
type TaskTracker struct {
	mu    sync.Mutex
	doing map[string]string
}

// NewTaskTracker creates an empty tracker.
func NewTaskTracker() *TaskTracker {
	return &TaskTracker{doing: map[string]string{}}
}

// Doing returns the task running under key, if any.
func (t *TaskTracker) Doing(key string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doing[key]
}

func (t *TaskTracker) set(key, task string) {
	t.mu.Lock()
	t.doing[key] = task
	t.mu.Unlock()
}

func (t *TaskTracker) clear(key string) {
	t.mu.Lock()
	delete(t.doing, key)
	t.mu.Unlock()
}

// Guard runs functions while holding the lock of a project.
type Guard struct {
	locker   Locker
	retries  int
	delay    time.Duration
	tracker  *TaskTracker
	reporter engine.TelemetryReporter
	metrics  ContentionMetrics
	logger   *telemetry.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithRetry sets the number of attempts and the delay between them.
func WithRetry(retries int, delay time.Duration) GuardOption {
	return func(g *Guard) {
		if retries > 0 {
			g.retries = retries
		}
		if delay >= 0 {
			g.delay = delay
		}
	}
}

// WithTracker shares a task tracker between guards.
func WithTracker(t *TaskTracker) GuardOption {
	return func(g *Guard) { g.tracker = t }
}

// WithReporter sets where exhaustion is reported.
func WithReporter(r engine.TelemetryReporter) GuardOption {
	return func(g *Guard) { g.reporter = r }
}

// WithMetrics sets the contention counter.
func WithMetrics(m ContentionMetrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) GuardOption {
	return func(g *Guard) { g.logger = l.NewComponentLogger("lock") }
}

// NewGuard creates a guard over locker.
func NewGuard(locker Locker, opts ...GuardOption) *Guard {
	g := &Guard{
		locker:   locker,
		retries:  DefaultRetries,
		delay:    DefaultRetryDelay,
		tracker:  NewTaskTracker(),
		reporter: engine.NopReporter{},
		logger:   telemetry.NopLogger().NewComponentLogger("lock"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddListener registers l for lock and unlock events.
func (g *Guard) AddListener(l Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

// Tracker returns the guard's task tracker.
func (g *Guard) Tracker() *TaskTracker {
	return g.tracker
}

func (g *Guard) notify(kind EventKind, projectPath, task string) {
	g.mu.RLock()
	listeners := append([]Listener(nil), g.listeners...)
	g.mu.RUnlock()

	for _, l := range listeners {
		l(kind, projectPath, task)
	}
}

// Do checks projectPath, acquires its lock and runs fn. The lock is
// released on every exit path. When the lock stays held for all attempts fn
// is never called and a ConcurrentError is returned.
func (g *Guard) Do(ctx context.Context, projectPath, task string, fn func(ctx context.Context) error) error {
	if err := project.Check(projectPath); err != nil {
		return err
	}
	key, err := Key(projectPath)
	if err != nil {
		return engine.NewSystemError(engine.SourceCore, engine.NameUnhandled,
			"failed to resolve project path").WithCause(err)
	}

	lease, err := g.acquire(ctx, key, projectPath, task)
	if err != nil {
		return err
	}

	g.tracker.set(key, task)
	g.notify(EventLocked, projectPath, task)
	g.logger.WithField("task", task).Debugf("Locked %s", projectPath)

	defer func() {
		g.tracker.clear(key)
		if err := lease.Unlock(context.WithoutCancel(ctx)); err != nil {
			g.logger.WithError(err).Warnf("Failed to unlock %s", projectPath)
		}
		g.notify(EventUnlocked, projectPath, task)
		g.logger.WithField("task", task).Debugf("Unlocked %s", projectPath)
	}()

	return fn(ctx)
}

func (g *Guard) acquire(ctx context.Context, key, projectPath, task string) (Lease, error) {
	for attempt := 1; ; attempt++ {
		lease, err := g.locker.TryLock(ctx, key)
		if err == nil {
			if attempt > 1 && g.metrics != nil {
				g.metrics.RecordLockContention(true)
			}
			return lease, nil
		}
		if !errors.Is(err, ErrAlreadyLocked) {
			return nil, engine.NewSystemError(engine.SourceCore, engine.NameUnhandled,
				"failed to acquire project lock").WithCause(err)
		}

		if attempt >= g.retries {
			return nil, g.exhausted(ctx, key, projectPath, task)
		}

		g.logger.WithField("attempt", attempt).Debugf("Project %s is locked, retrying", projectPath)
		select {
		case <-ctx.Done():
			return nil, engine.NewUserCancelError().WithCause(ctx.Err())
		case <-time.After(g.delay):
		}
	}
}

func (g *Guard) exhausted(ctx context.Context, key, projectPath, task string) error {
	if g.metrics != nil {
		g.metrics.RecordLockContention(false)
	}
	fe := engine.NewConcurrentError().WithDetail("path", projectPath)
	doing := g.tracker.Doing(key)
	g.reporter.SendErrorEvent(ctx, EventConcurrentOperation, fe, map[string]string{
		PropRetry: strconv.Itoa(g.retries),
		PropDoing: doing,
		PropTodo:  task,
	}, nil)
	g.logger.WithField("doing", doing).Warnf("Gave up waiting for the lock of %s", projectPath)
	return fe
}
