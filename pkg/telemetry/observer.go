package telemetry

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/reconf/pkg/plan"
)

// Check results reported by RecordPlanCheck.
const (
	CheckResultOK       = "ok"
	CheckResultViolated = "violated"
	CheckResultError    = "error"
)

// CommitObserver feeds metrics, spans and events from plan applications
// and checks. It is a plan.CommitListener, a plan.ApplyObserver and a
// constraint.CheckObserver. One observer follows one application at a time.
type CommitObserver struct {
	tel   *Telemetry
	runID string

	mu   sync.Mutex
	span trace.Span
}

// NewCommitObserver creates an observer tagging its events with runID.
func NewCommitObserver(tel *Telemetry, runID string) *CommitObserver {
	return &CommitObserver{tel: tel, runID: runID}
}

// PlanStarted implements plan.ApplyObserver.
func (o *CommitObserver) PlanStarted(ctx context.Context, p *plan.ReconfigurationPlan) {
	_, span := o.tel.Tracer.StartApplySpan(ctx, p.Size(), p.Duration())
	if o.runID != "" {
		span.SetAttributes(AttrRunID.String(o.runID))
	}
	o.mu.Lock()
	o.span = span
	o.mu.Unlock()

	_ = o.tel.Events.PublishPlanStarted(o.runID, p.Size())
}

// Committed implements plan.CommitListener.
func (o *CommitObserver) Committed(a plan.Action) {
	kind := string(a.Kind())
	o.tel.Metrics.RecordActionCommitted(kind)

	o.mu.Lock()
	if o.span != nil {
		o.span.AddEvent("action.committed", trace.WithAttributes(
			AttrActionKind.String(kind),
			AttrAction.String(a.String()),
		))
	}
	o.mu.Unlock()

	_ = o.tel.Events.PublishActionCommitted(o.runID, kind, a.String())
}

// PlanFinished implements plan.ApplyObserver.
func (o *CommitObserver) PlanFinished(_ context.Context, _ *plan.ReconfigurationPlan, stats plan.ApplyStats, err error) {
	o.mu.Lock()
	span := o.span
	o.span = nil
	o.mu.Unlock()

	if span != nil {
		span.SetAttributes(
			AttrPlanRounds.Int(stats.Rounds),
			AttrPlanCommitted.Int(stats.Committed),
		)
	}

	if err != nil {
		o.tel.Metrics.RecordPlanApplied("failed", stats.Rounds, stats.Duration)
		o.recordError(span, err)
		_ = o.tel.Events.PublishPlanFailed(o.runID, stats.Committed, err.Error())
	} else {
		o.tel.Metrics.RecordPlanApplied("succeeded", stats.Rounds, stats.Duration)
		if span != nil {
			RecordSuccess(span)
		}
		_ = o.tel.Events.PublishPlanCompleted(o.runID, stats.Committed, stats.Rounds, stats.Duration)
	}
	if span != nil {
		span.End()
	}
}

// PlanChecked implements constraint.CheckObserver.
func (o *CommitObserver) PlanChecked(ctx context.Context, _ *plan.ReconfigurationPlan, err error) {
	span := trace.SpanFromContext(ctx)
	switch {
	case err == nil:
		o.tel.Metrics.RecordPlanCheck(CheckResultOK)
	case plan.IsViolation(err):
		o.tel.Metrics.RecordPlanCheck(CheckResultViolated)
		var e *plan.Error
		errors.As(err, &e)
		name, _ := e.Details["name"].(string)
		o.tel.Metrics.RecordViolation(name)
		_ = o.tel.Events.PublishConstraintViolated(o.runID, e.Constraint, e.Action, e.Message)
		o.recordError(span, err)
	default:
		o.tel.Metrics.RecordPlanCheck(CheckResultError)
		o.recordError(span, err)
	}
}

func (o *CommitObserver) recordError(span trace.Span, err error) {
	var e *plan.Error
	if errors.As(err, &e) {
		o.tel.Metrics.RecordError(string(e.Class), e.Code)
		if span != nil {
			span.SetAttributes(AttrErrorClass.String(string(e.Class)), AttrErrorCode.String(e.Code))
		}
	}
	if span != nil {
		RecordError(span, err)
	}
}
