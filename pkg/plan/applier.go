package plan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/reconf/pkg/model"
)

// Applier turns a plan into the model it leads to.
type Applier interface {
	Apply(ctx context.Context, p *ReconfigurationPlan) (*model.Model, error)
	AddListener(l CommitListener) bool
	RemoveListener(l CommitListener) bool
}

// DependencyApplier commits actions as soon as their dependencies are
// committed. Actions are processed in rounds: each round commits the whole
// frontier, ordered by start moment then index, and the actions it unblocks
// form the next frontier.
//
// The context is only forwarded to the observer: an application is never
// interrupted half-way.
type DependencyApplier struct {
	Listeners

	logger   zerolog.Logger
	observer ApplyObserver
}

// NewDependencyApplier creates a dependency-based applier.
func NewDependencyApplier(logger zerolog.Logger) *DependencyApplier {
	return &DependencyApplier{
		logger: logger.With().Str("component", "dependency_applier").Logger(),
	}
}

// SetObserver sets the plan-level observer. nil removes it.
func (a *DependencyApplier) SetObserver(o ApplyObserver) {
	a.observer = o
}

// Apply applies the plan on a clone of its source model. It fails with a
// malformed error as soon as an action cannot be applied, and with a
// deadlock error when uncommitted actions remain but none is unblocked.
// There is no rollback.
func (a *DependencyApplier) Apply(ctx context.Context, p *ReconfigurationPlan) (*model.Model, error) {
	if p == nil {
		return nil, NewInvalidError("plan is nil", nil).WithCode(ErrCodeValidation)
	}

	startedAt := time.Now()
	if a.observer != nil {
		a.observer.PlanStarted(ctx, p)
	}

	mon := NewMonitor(p)
	rounds, err := a.run(mon)

	stats := ApplyStats{
		Actions:   p.Size(),
		Committed: mon.Committed(),
		Rounds:    rounds,
		Duration:  time.Since(startedAt),
	}
	if a.observer != nil {
		a.observer.PlanFinished(ctx, p, stats, err)
	}
	if err != nil {
		a.logger.Error().Err(err).
			Int("committed", stats.Committed).
			Int("actions", stats.Actions).
			Int("rounds", rounds).
			Msg("Plan application failed")
		return nil, err
	}

	a.logger.Info().
		Int("actions", stats.Actions).
		Int("rounds", rounds).
		Dur("duration", stats.Duration).
		Msg("Plan applied")
	return mon.CurrentModel(), nil
}

func (a *DependencyApplier) run(mon *Monitor) (int, error) {
	p := mon.Plan()
	frontier := p.Roots()
	rounds := 0

	for len(frontier) > 0 {
		rounds++
		sortFrontier(p.actions, frontier)
		a.logger.Debug().Int("round", rounds).Ints("frontier", frontier).Msg("Committing frontier")

		next := make([]int, 0)
		for _, i := range frontier {
			released, err := mon.Commit(i)
			if err != nil {
				var e *Error
				if errors.As(err, &e) {
					e.WithDetail("round", rounds)
				}
				return rounds, err
			}
			a.logger.Debug().Int("index", i).Str("action", p.actions[i].String()).Msg("Action committed")
			a.notify(p.actions[i])
			next = append(next, released...)
		}
		frontier = next
	}

	if mon.Committed() != p.Size() {
		blocked := mon.Blocked()
		err := NewDeadlockError(
			fmt.Sprintf("%d action(s) can never be unblocked", len(blocked)), nil,
		).WithCode(ErrCodeCycle).
			WithDetail("blocked", blocked).
			WithDetail("rounds", rounds)
		if cycleErr := p.Validate(); cycleErr != nil {
			err.Err = cycleErr
		}
		return rounds, err
	}
	return rounds, nil
}

// sortFrontier orders a frontier by start moment, then index.
func sortFrontier(actions []Action, frontier []int) {
	sort.Slice(frontier, func(x, y int) bool {
		a, b := actions[frontier[x]], actions[frontier[y]]
		if a.Start() != b.Start() {
			return a.Start() < b.Start()
		}
		return frontier[x] < frontier[y]
	})
}

// TimeBasedApplier ignores dependencies and applies the actions sorted by
// start moment, end moment, then index.
type TimeBasedApplier struct {
	Listeners

	logger   zerolog.Logger
	observer ApplyObserver
}

// NewTimeBasedApplier creates a time-based applier.
func NewTimeBasedApplier(logger zerolog.Logger) *TimeBasedApplier {
	return &TimeBasedApplier{
		logger: logger.With().Str("component", "time_applier").Logger(),
	}
}

// SetObserver sets the plan-level observer. nil removes it.
func (a *TimeBasedApplier) SetObserver(o ApplyObserver) {
	a.observer = o
}

// Apply applies the plan on a clone of its source model.
func (a *TimeBasedApplier) Apply(ctx context.Context, p *ReconfigurationPlan) (*model.Model, error) {
	if p == nil {
		return nil, NewInvalidError("plan is nil", nil).WithCode(ErrCodeValidation)
	}

	startedAt := time.Now()
	if a.observer != nil {
		a.observer.PlanStarted(ctx, p)
	}

	order := make([]int, p.Size())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool { return startOrder(p.actions, order[x], order[y]) })

	cur := p.Source().Clone()
	committed := 0
	var err error
	for _, i := range order {
		act := p.actions[i]
		if !Apply(act, cur) {
			err = NewMalformedError("action preconditions do not hold", nil).
				WithCode(ErrCodeApplyFailed).WithAction(i, act)
			break
		}
		committed++
		a.notify(act)
	}

	stats := ApplyStats{
		Actions:   p.Size(),
		Committed: committed,
		Rounds:    committed,
		Duration:  time.Since(startedAt),
	}
	if a.observer != nil {
		a.observer.PlanFinished(ctx, p, stats, err)
	}
	if err != nil {
		a.logger.Error().Err(err).Int("committed", committed).Msg("Plan application failed")
		return nil, err
	}
	a.logger.Info().Int("actions", p.Size()).Dur("duration", stats.Duration).Msg("Plan applied")
	return cur, nil
}
