package plan

import (
	"context"
	"sync"
	"time"
)

// CommitListener is notified once per committed action, in commit order.
// Implementations must not modify the model being reconfigured.
type CommitListener interface {
	Committed(a Action)
}

// CommitListenerFunc adapts a function to a CommitListener. Function values
// are not comparable, so wrap them in a pointer before registering.
type CommitListenerFunc func(a Action)

// Committed implements CommitListener.
func (f *CommitListenerFunc) Committed(a Action) { (*f)(a) }

// ApplyStats summarizes a finished application.
type ApplyStats struct {
	Actions   int
	Committed int
	Rounds    int
	Duration  time.Duration
}

// ApplyObserver receives plan-level notifications from an applier.
type ApplyObserver interface {
	PlanStarted(ctx context.Context, p *ReconfigurationPlan)
	PlanFinished(ctx context.Context, p *ReconfigurationPlan, stats ApplyStats, err error)
}

// Listeners is a registry of commit listeners, embedded by the appliers.
// Registered listeners must be comparable.
type Listeners struct {
	mu        sync.RWMutex
	listeners []CommitListener
}

// AddListener registers a listener. It returns false if it is already registered.
func (r *Listeners) AddListener(l CommitListener) bool {
	if l == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.listeners {
		if other == l {
			return false
		}
	}
	r.listeners = append(r.listeners, l)
	return true
}

// RemoveListener unregisters a listener. It returns false if it was not registered.
func (r *Listeners) RemoveListener(l CommitListener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.listeners {
		if other == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Listeners) notify(a Action) {
	r.mu.RLock()
	ls := make([]CommitListener, len(r.listeners))
	copy(ls, r.listeners)
	r.mu.RUnlock()

	for _, l := range ls {
		l.Committed(a)
	}
}

// Recorder is a CommitListener that keeps the committed actions in order.
type Recorder struct {
	mu      sync.Mutex
	actions []Action
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Committed implements CommitListener.
func (r *Recorder) Committed(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
}

// Actions returns the recorded actions, in commit order.
func (r *Recorder) Actions() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Reset forgets the recorded actions.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = nil
}
