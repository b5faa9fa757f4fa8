package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconf/pkg/plan"
	"github.com/openfroyo/reconf/pkg/policy"
	"github.com/openfroyo/reconf/pkg/stores"
	"github.com/openfroyo/reconf/pkg/telemetry"
)

// observedApplier is an applier accepting a plan-level observer.
type observedApplier interface {
	plan.Applier
	SetObserver(o plan.ApplyObserver)
}

func newApplier(name string) (observedApplier, error) {
	switch name {
	case "dependency":
		return plan.NewDependencyApplier(log.Logger), nil
	case "time":
		return plan.NewTimeBasedApplier(log.Logger), nil
	}
	return nil, fmt.Errorf("unknown applier %q (must be 'dependency' or 'time')", name)
}

type applyReport struct {
	Instance  string             `json:"instance"`
	RunID     string             `json:"run_id,omitempty"`
	Committed []string           `json:"committed"`
	Result    string             `json:"result"`
	Error     *plan.Error        `json:"error,omitempty"`
	Message   string             `json:"message,omitempty"`
	Mapping   string             `json:"mapping,omitempty"`
	Policies  []policy.Violation `json:"policy_violations,omitempty"`
}

func (r *applyReport) setOutcome(outcome error) {
	r.Result = "ok"
	if outcome == nil {
		return
	}
	r.Result = "failed"
	r.Message = outcome.Error()
	var e *plan.Error
	if errors.As(outcome, &e) {
		r.Result = string(e.Class)
		r.Error = e
	}
}

func newApplyCommand() *cobra.Command {
	var (
		applierName string
		noCheck     bool
		popts       policyOptions
	)

	cmd := &cobra.Command{
		Use:   "apply <instance>",
		Short: "Apply the plan of an instance and check its constraints",
		Long: `Apply the plan of an instance on its source model.

This command:
  - Loads the instance and runs its plan script if any
  - Applies the plan with the dependency or the time-based applier
  - Replays the commits through the constraints and the OPA policies
  - Prints the commit order and the resulting placement
  - Records the run in the history database`,
		Example: `  # Apply and check
  reconf apply cluster.yaml

  # Apply in start-time order, without constraint checks
  reconf apply cluster.cue --applier time --no-check

  # Check extra policies at every committed action
  reconf apply cluster.yaml --policy ./policies --continuous-policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			applier, err := newApplier(applierName)
			if err != nil {
				return err
			}
			inst, err := s.loadInstance(ctx, args[0])
			if err != nil {
				return err
			}
			cstrs, pc, err := s.constraints(ctx, inst, popts)
			if err != nil {
				return err
			}

			rec := s.runRecorder(inst, stores.RunModeApply)
			runID := ""
			if rec != nil {
				runID = rec.ID()
			}
			obs := telemetry.NewCommitObserver(s.tel, runID)
			order := plan.NewRecorder()
			applier.AddListener(order)
			applier.AddListener(obs)
			if rec != nil {
				applier.AddListener(rec)
				applier.SetObserver(rec.Chain(obs))
			} else {
				applier.SetObserver(obs)
			}

			log.Info().
				Str("instance", inst.Name).
				Str("applier", applierName).
				Int("actions", inst.Plan.Size()).
				Int("constraints", len(cstrs)).
				Msg("Applying plan")

			result, outcome := applier.Apply(ctx, inst.Plan)
			if outcome == nil && !noCheck {
				outcome = s.checkPlan(ctx, inst.Plan, cstrs, obs)
			}
			runID = s.finish(ctx, rec, outcome)

			out := cmd.OutOrStdout()
			if jsonOutput {
				report := applyReport{Instance: inst.Name, RunID: runID, Committed: []string{}}
				report.setOutcome(outcome)
				for _, a := range order.Actions() {
					report.Committed = append(report.Committed, a.String())
				}
				if result != nil {
					report.Mapping = result.Mapping().String()
				}
				if pc != nil && len(pc.Violations()) > 0 {
					report.Policies = pc.Violations()
				}
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "instance: %s\n\n", inst.Name)
				renderCommits(out, inst.Plan, order.Actions())
				if result != nil {
					fmt.Fprintln(out)
					renderMapping(out, inst.Names, result)
				}
				fmt.Fprintln(out)
				renderOutcome(out, outcome, pc, runID)
			}
			return outcome
		},
	}

	cmd.Flags().StringVar(&applierName, "applier", "dependency", "applier: dependency or time")
	cmd.Flags().BoolVar(&noCheck, "no-check", false, "skip the constraint check")
	addPolicyFlags(cmd, &popts)

	return cmd
}

func addPolicyFlags(cmd *cobra.Command, popts *policyOptions) {
	cmd.Flags().StringSliceVar(&popts.paths, "policy", nil, "extra .rego/.json policy files or directories")
	cmd.Flags().BoolVar(&popts.continuous, "continuous-policies", false, "evaluate policies at every committed action")
	cmd.Flags().BoolVar(&popts.disabled, "no-policies", false, "do not evaluate OPA policies")
}
