package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notification about a plan application or check.
type Event struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Type       string                 `json:"type"`
	Source     string                 `json:"source"`
	RunID      string                 `json:"run_id,omitempty"`
	Action     string                 `json:"action,omitempty"`
	Constraint string                 `json:"constraint,omitempty"`
	Message    string                 `json:"message"`
	Level      string                 `json:"level"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypePlanStarted        = "plan.started"
	EventTypeActionCommitted    = "action.committed"
	EventTypePlanCompleted      = "plan.completed"
	EventTypePlanFailed         = "plan.failed"
	EventTypeConstraintViolated = "constraint.violated"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles an event.
type EventSubscriber func(event Event)

// EventFilter selects events.
type EventFilter func(event Event) bool

// EventPublisher dispatches events to subscribers. Synchronous publishers
// deliver in the caller goroutine, so subscribers see events in publish
// order. Asynchronous ones buffer and deliver in batches from a single
// goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish sends an event to the subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}
	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// PublishPlanStarted publishes a plan.started event.
func (ep *EventPublisher) PublishPlanStarted(runID string, actions int) error {
	return ep.Publish(Event{
		Type:    EventTypePlanStarted,
		Source:  "applier",
		RunID:   runID,
		Message: fmt.Sprintf("Applying plan of %d actions", actions),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"actions": actions},
	})
}

// PublishActionCommitted publishes an action.committed event.
func (ep *EventPublisher) PublishActionCommitted(runID, kind, action string) error {
	return ep.Publish(Event{
		Type:    EventTypeActionCommitted,
		Source:  "applier",
		RunID:   runID,
		Action:  action,
		Message: fmt.Sprintf("Committed %s", action),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"kind": kind},
	})
}

// PublishPlanCompleted publishes a plan.completed event.
func (ep *EventPublisher) PublishPlanCompleted(runID string, committed, rounds int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypePlanCompleted,
		Source:  "applier",
		RunID:   runID,
		Message: fmt.Sprintf("Plan applied in %d rounds", rounds),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"committed": committed,
			"rounds":    rounds,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishPlanFailed publishes a plan.failed event.
func (ep *EventPublisher) PublishPlanFailed(runID string, committed int, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePlanFailed,
		Source:  "applier",
		RunID:   runID,
		Message: fmt.Sprintf("Plan application failed: %s", reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"committed": committed,
			"reason":    reason,
		},
	})
}

// PublishConstraintViolated publishes a constraint.violated event.
func (ep *EventPublisher) PublishConstraintViolated(runID, constraint, action, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeConstraintViolated,
		Source:     "checker",
		RunID:      runID,
		Action:     action,
		Constraint: constraint,
		Message:    fmt.Sprintf("Constraint %s violated: %s", constraint, reason),
		Level:      EventLevelWarning,
		Data:       map[string]interface{}{"reason": reason},
	})
}

// Subscribe adds a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	subs := make([]subscriberEntry, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.RUnlock()

	for _, entry := range subs {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering the buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel accepts events of at least the given level.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	threshold := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= threshold
	}
}

// FilterByType accepts the given event types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByRunID accepts the events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
