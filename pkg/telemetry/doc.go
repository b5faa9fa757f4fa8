// Package telemetry instruments plan applications and checks.
//
// It combines zerolog structured logging, OpenTelemetry tracing, Prometheus
// metrics and an event publisher. CommitObserver bridges them to the plan
// and constraint packages:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	obs := telemetry.NewCommitObserver(tel, runID)
//	applier := plan.NewDependencyApplier(tel.Logger.Zerolog())
//	applier.AddListener(obs)
//	applier.SetObserver(obs)
//
// Metrics, prefixed with the configured namespace:
//
//   - plans_applied_total{status}
//   - actions_committed_total{kind}
//   - apply_duration_seconds
//   - apply_rounds
//   - constraint_violations_total{constraint}
//   - plan_checks_total{result}
//   - errors_by_class_total{class,code}
//
// Spans are named plan.apply and plan.check. Events are plan.started,
// action.committed, plan.completed, plan.failed and constraint.violated.
package telemetry
