package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/reconf/pkg/plan"
	"github.com/openfroyo/reconf/pkg/telemetry"
)

// RunRecorder persists one plan application as a run. It is a
// plan.CommitListener and a plan.ApplyObserver; a wrapped observer keeps
// receiving the plan-level notifications.
//
// The run row is created by Begin (or PlanStarted). Commits are buffered and
// written with the outcome by Finish.
type RunRecorder struct {
	store    Store
	next     plan.ApplyObserver
	logger   zerolog.Logger
	id       string
	instance string
	mode     RunMode

	mu       sync.Mutex
	plan     *plan.ReconfigurationPlan
	begun    bool
	beginErr error
	commits  []*Commit
	stats    plan.ApplyStats
	started  time.Time
}

// NewRunRecorder creates a recorder for a new run. The run identifier is
// allocated immediately so other observers can be tagged with it.
func NewRunRecorder(store Store, instance string, mode RunMode, logger zerolog.Logger) *RunRecorder {
	return &RunRecorder{
		store:    store,
		logger:   logger.With().Str("component", "run_recorder").Logger(),
		id:       uuid.New().String(),
		instance: instance,
		mode:     mode,
	}
}

// ID returns the run identifier.
func (r *RunRecorder) ID() string { return r.id }

// Chain sets the observer notified after the recorder.
func (r *RunRecorder) Chain(next plan.ApplyObserver) *RunRecorder {
	r.next = next
	return r
}

// Begin creates the run row. Later calls are no-ops returning the first result.
func (r *RunRecorder) Begin(ctx context.Context, p *plan.ReconfigurationPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.begun {
		return r.beginErr
	}
	r.begun = true
	r.plan = p
	r.started = time.Now().UTC()

	meta, _ := json.Marshal(map[string]interface{}{
		"duration": p.Duration(),
		"roots":    p.Roots(),
	})
	r.beginErr = r.store.CreateRun(ctx, &Run{
		ID:        r.id,
		Instance:  r.instance,
		Mode:      r.mode,
		Status:    RunStatusRunning,
		Actions:   p.Size(),
		StartedAt: r.started,
		Metadata:  string(meta),
	})
	if r.beginErr != nil {
		r.logger.Error().Err(r.beginErr).Str("run_id", r.id).Msg("Failed to create run")
	}
	return r.beginErr
}

// PlanStarted implements plan.ApplyObserver.
func (r *RunRecorder) PlanStarted(ctx context.Context, p *plan.ReconfigurationPlan) {
	_ = r.Begin(ctx, p)
	if r.next != nil {
		r.next.PlanStarted(ctx, p)
	}
}

// Committed implements plan.CommitListener.
func (r *RunRecorder) Committed(a plan.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	if r.plan != nil {
		idx = r.plan.IndexOf(a)
	}
	r.commits = append(r.commits, &Commit{
		Position:    len(r.commits) + 1,
		ActionIndex: idx,
		Kind:        string(a.Kind()),
		Action:      a.String(),
		Start:       a.Start(),
		End:         a.End(),
		CommittedAt: time.Now().UTC(),
	})
}

// PlanFinished implements plan.ApplyObserver.
func (r *RunRecorder) PlanFinished(ctx context.Context, p *plan.ReconfigurationPlan, stats plan.ApplyStats, err error) {
	r.mu.Lock()
	r.stats = stats
	r.mu.Unlock()
	if r.next != nil {
		r.next.PlanFinished(ctx, p, stats, err)
	}
}

// Finish writes the buffered commits and the outcome. A violation error is
// stored as a Violation and marks the run violated; any other error marks it
// failed.
func (r *RunRecorder) Finish(ctx context.Context, outcome error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.begun {
		return fmt.Errorf("run %s was never started", r.id)
	}
	if r.beginErr != nil {
		return r.beginErr
	}

	if err := r.store.AppendCommits(ctx, r.id, r.commits); err != nil {
		return err
	}

	res := RunResult{
		Status:    RunStatusCompleted,
		Committed: len(r.commits),
		Rounds:    r.stats.Rounds,
		Duration:  r.stats.Duration,
	}
	if res.Duration == 0 {
		res.Duration = time.Since(r.started)
	}

	if outcome != nil {
		res.Status = RunStatusFailed
		res.Error = outcome.Error()
		var e *plan.Error
		if errors.As(outcome, &e) {
			res.ErrorClass = string(e.Class)
			res.ErrorCode = e.Code
			if e.Class == plan.ErrorClassViolation {
				res.Status = RunStatusViolated
				if err := r.store.AppendViolation(ctx, violationOf(r.id, e)); err != nil {
					return err
				}
			}
		}
	}

	if err := r.store.CompleteRun(ctx, r.id, res); err != nil {
		return err
	}
	r.logger.Info().
		Str("run_id", r.id).
		Str("status", string(res.Status)).
		Int("committed", res.Committed).
		Msg("Run recorded")
	return nil
}

func violationOf(runID string, e *plan.Error) *Violation {
	v := &Violation{
		RunID:      runID,
		Constraint: e.Constraint,
		Code:       e.Code,
		Message:    e.Message,
	}
	v.ConstraintName, _ = e.Details["name"].(string)
	v.Hook, _ = e.Details["hook"].(string)
	if e.Action != "" {
		action := e.Action
		v.Action = &action
		if e.Index >= 0 {
			idx := e.Index
			v.ActionIndex = &idx
		}
	}
	if pos, ok := e.Details["position"].(int); ok {
		v.Position = &pos
	}
	return v
}

// EventSink returns a telemetry subscriber storing every published event.
// Storage errors are logged and dropped.
func EventSink(ctx context.Context, store Store, logger zerolog.Logger) telemetry.EventSubscriber {
	logger = logger.With().Str("component", "event_sink").Logger()
	return func(ev telemetry.Event) {
		rec := &Event{
			Type:      ev.Type,
			Level:     EventLevel(ev.Level),
			Message:   ev.Message,
			Timestamp: ev.Timestamp.UTC(),
		}
		if ev.RunID != "" {
			runID := ev.RunID
			rec.RunID = &runID
		}
		details := map[string]interface{}{"source": ev.Source}
		if ev.Action != "" {
			details["action"] = ev.Action
		}
		if ev.Constraint != "" {
			details["constraint"] = ev.Constraint
		}
		for k, v := range ev.Data {
			details[k] = v
		}
		if b, err := json.Marshal(details); err == nil {
			s := string(b)
			rec.Details = &s
		}
		if err := store.AppendEvent(ctx, rec); err != nil {
			logger.Warn().Err(err).Str("type", ev.Type).Msg("Failed to store event")
		}
	}
}
