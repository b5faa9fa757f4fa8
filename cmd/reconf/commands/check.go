package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconf/pkg/config"
	"github.com/openfroyo/reconf/pkg/constraint"
	"github.com/openfroyo/reconf/pkg/policy"
	"github.com/openfroyo/reconf/pkg/stores"
	"github.com/openfroyo/reconf/pkg/telemetry"
)

func newCheckCommand() *cobra.Command {
	var popts policyOptions

	cmd := &cobra.Command{
		Use:   "check <instance>",
		Short: "Check the plan of an instance against its constraints",
		Long: `Check the plan of an instance without printing the resulting model.

The plan is applied with the dependency applier, then the commit stream is
replayed through the constraints and the OPA policies. The first violation
is reported with the constraint, the hook and the action involved.`,
		Example: `  # Check the constraints of an instance
  reconf check cluster.yaml

  # Check without policies and without recording the run
  reconf check cluster.yaml --no-policies --db ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			inst, err := s.loadInstance(ctx, args[0])
			if err != nil {
				return err
			}
			return s.check(ctx, cmd.OutOrStdout(), inst, popts)
		},
	}

	addPolicyFlags(cmd, &popts)
	return cmd
}

// check verifies one instance, records the run and prints the verdict.
func (s *session) check(ctx context.Context, out io.Writer, inst *config.Instance, popts policyOptions) error {
	cstrs, pc, err := s.constraints(ctx, inst, popts)
	if err != nil {
		return err
	}
	return s.checkWith(ctx, out, inst, cstrs, pc)
}

func (s *session) checkWith(ctx context.Context, out io.Writer, inst *config.Instance, cstrs []constraint.SatConstraint, pc *policy.Constraint) error {
	rec := s.runRecorder(inst, stores.RunModeCheck)
	runID := ""
	if rec != nil {
		runID = rec.ID()
		if err := rec.Begin(ctx, inst.Plan); err != nil {
			return err
		}
	}
	obs := telemetry.NewCommitObserver(s.tel, runID)

	log.Info().
		Str("instance", inst.Name).
		Int("actions", inst.Plan.Size()).
		Int("constraints", len(cstrs)).
		Msg("Checking plan")

	outcome := s.checkPlan(ctx, inst.Plan, cstrs, obs)
	runID = s.finish(ctx, rec, outcome)

	if jsonOutput {
		report := applyReport{Instance: inst.Name, RunID: runID, Committed: []string{}}
		report.setOutcome(outcome)
		if pc != nil && len(pc.Violations()) > 0 {
			report.Policies = pc.Violations()
		}
		if err := writeJSON(out, report); err != nil {
			return err
		}
		return outcome
	}
	fmt.Fprintf(out, "instance: %s (%d actions, %d constraints)\n", inst.Name, inst.Plan.Size(), len(cstrs))
	renderOutcome(out, outcome, pc, runID)
	return outcome
}
