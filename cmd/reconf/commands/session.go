package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/reconf/pkg/config"
	"github.com/openfroyo/reconf/pkg/constraint"
	"github.com/openfroyo/reconf/pkg/plan"
	"github.com/openfroyo/reconf/pkg/policy"
	"github.com/openfroyo/reconf/pkg/stores"
	"github.com/openfroyo/reconf/pkg/telemetry"
)

// session holds what every command shares: telemetry, the optional run
// history and the instance loader.
type session struct {
	logger  zerolog.Logger
	tel     *telemetry.Telemetry
	store   *stores.SQLiteStore
	loader  *config.Loader
	metrics *http.Server
}

func openSession(ctx context.Context, history bool) (*session, error) {
	logger := log.Logger

	cfg := telemetry.DefaultConfig()
	if telemetryConfig != "" {
		var err error
		if cfg, err = telemetry.LoadConfig(telemetryConfig); err != nil {
			return nil, err
		}
	}
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	s := &session{
		logger: logger,
		tel:    tel,
		loader: config.NewLoader(logger, scriptTimeout),
	}

	if history && dbPath != "" {
		store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			s.close(ctx)
			return nil, err
		}
		s.store = store
		if err := store.Migrate(ctx); err != nil {
			s.close(ctx)
			return nil, err
		}
		tel.Events.Subscribe(stores.EventSink(ctx, store, logger), nil)
	}

	if srv := tel.Metrics.NewServer(); srv != nil {
		s.metrics = srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", srv.Addr).Msg("Metrics server failed")
			}
		}()
		logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
	}
	return s, nil
}

func (s *session) close(ctx context.Context) {
	if s.metrics != nil {
		_ = s.metrics.Shutdown(ctx)
	}
	if err := s.tel.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// loadInstance loads an instance that must carry a plan.
func (s *session) loadInstance(ctx context.Context, path string) (*config.Instance, error) {
	inst, err := s.loader.LoadInstance(ctx, path)
	if err != nil {
		return nil, err
	}
	if inst.Plan == nil {
		return nil, fmt.Errorf("instance %s has no plan", inst.Name)
	}
	return inst, nil
}

// policyOptions selects the OPA policies checked next to the constraints.
type policyOptions struct {
	paths      []string
	continuous bool
	disabled   bool
}

// constraints returns the instance constraints, followed by the policy
// constraint unless policies are disabled.
func (s *session) constraints(ctx context.Context, inst *config.Instance, opts policyOptions) ([]constraint.SatConstraint, *policy.Constraint, error) {
	cstrs := append([]constraint.SatConstraint(nil), inst.Constraints...)
	if opts.disabled {
		return cstrs, nil, nil
	}
	engine, err := policy.NewEngine(s.logger)
	if err != nil {
		return nil, nil, err
	}
	paths := append(append([]string(nil), inst.Config.Policies...), opts.paths...)
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, nil, err
		}
	}
	pc := policy.NewConstraint(engine)
	pc.SetContinuous(opts.continuous)
	return append(cstrs, pc), pc, nil
}

// runRecorder returns a recorder when the history is enabled, nil otherwise.
func (s *session) runRecorder(inst *config.Instance, mode stores.RunMode) *stores.RunRecorder {
	if s.store == nil {
		return nil
	}
	return stores.NewRunRecorder(s.store, inst.Name, mode, s.logger)
}

// finish persists the outcome of a recorded run.
func (s *session) finish(ctx context.Context, rec *stores.RunRecorder, outcome error) string {
	if rec == nil {
		return ""
	}
	if err := rec.Finish(ctx, outcome); err != nil {
		s.logger.Error().Err(err).Str("run_id", rec.ID()).Msg("Failed to record run")
		return ""
	}
	return rec.ID()
}

// checkPlan replays the plan through the constraints.
func (s *session) checkPlan(ctx context.Context, p *plan.ReconfigurationPlan, cstrs []constraint.SatConstraint, obs constraint.CheckObserver) error {
	ctx, span := s.tel.Tracer.StartCheckSpan(ctx, p.Size(), len(cstrs))
	defer span.End()
	checker := constraint.NewPlanChecker(cstrs...).WithLogger(s.logger)
	if obs != nil {
		checker.WithObserver(obs)
	}
	return checker.Check(ctx, p)
}
