package telemetry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var (
	// ErrPublisherClosed is returned by Publish after Shutdown.
	ErrPublisherClosed = errors.New("event publisher closed")

	// ErrEventDropped is returned by Publish when the queue is full.
	ErrEventDropped = errors.New("event queue full")
)

// Event is one record of the primary telemetry channel, e.g. "deploy-start"
// or "deploy".
type Event struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Name          string    `json:"name"`
	Component     string    `json:"component"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Level         string    `json:"level"`

	Properties map[string]string  `json:"properties,omitempty"`
	Measures   map[string]float64 `json:"measures,omitempty"`

	// Set on error events.
	ErrorClass   string `json:"error_class,omitempty"`
	ErrorName    string `json:"error_name,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (e Event) IsError() bool {
	return e.Level == EventLevelError
}

// EventSubscriber consumes delivered events. It runs on the publisher
// goroutine; a panic is recovered and the event skipped for that subscriber.
type EventSubscriber func(event Event)

// EventFilter selects the events a subscriber sees.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher queues events and delivers them in publish order from a
// single goroutine, so a slow subscriber never blocks an action.
type EventPublisher struct {
	enabled bool
	queue   chan Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
	subs   []subscription
}

// NewEventPublisher starts a publisher. A disabled publisher accepts and
// discards every event.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return ep
	}
	ep.queue = make(chan Event, cfg.BufferSize)
	ep.done = make(chan struct{})
	go ep.run()
	return ep
}

// Subscribe registers fn for the events accepted by filter, or all events
// when filter is nil.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

// Publish stamps event and queues it without blocking.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrPublisherClosed
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return fmt.Errorf("%w: %s dropped", ErrEventDropped, event.Name)
	}
}

func (ep *EventPublisher) run() {
	defer close(ep.done)
	for event := range ep.queue {
		ep.mu.RLock()
		subs := slices.Clone(ep.subs)
		ep.mu.RUnlock()

		for _, s := range subs {
			if s.filter == nil || s.filter(event) {
				deliver(s.fn, event)
			}
		}
	}
}

func deliver(fn EventSubscriber, event Event) {
	defer func() { _ = recover() }()
	fn(event)
}

// Shutdown stops accepting events and waits until the queued ones have been
// delivered or ctx is done.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.enabled {
		return nil
	}

	ep.mu.Lock()
	if !ep.closed {
		ep.closed = true
		close(ep.queue)
	}
	ep.mu.Unlock()

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events not delivered before shutdown: %w", ctx.Err())
	}
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	rank := func(level string) int {
		return slices.Index([]string{EventLevelInfo, EventLevelWarning, EventLevelError}, level)
	}
	floor := rank(minLevel)
	return func(event Event) bool { return rank(event.Level) >= floor }
}

// FilterByName accepts the named events.
func FilterByName(names ...string) EventFilter {
	return func(event Event) bool { return slices.Contains(names, event.Name) }
}
