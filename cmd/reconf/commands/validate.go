package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconf/pkg/config"
	"github.com/openfroyo/reconf/pkg/policy"
)

type validateReport struct {
	Instance    string                   `json:"instance"`
	Valid       bool                     `json:"valid"`
	Errors      []config.ValidationError `json:"errors,omitempty"`
	Message     string                   `json:"message,omitempty"`
	Nodes       int                      `json:"nodes"`
	VMs         int                      `json:"vms"`
	Constraints int                      `json:"constraints"`
	Actions     int                      `json:"actions"`
	Levels      int                      `json:"levels"`
	Policies    []string                 `json:"policies,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "validate <instance>...",
		Short: "Validate instance files",
		Long: `Validate instance files without applying their plan.

This command checks:
  - Syntax and conformance to the instance schema
  - Field rules (states, intervals, references)
  - Element references of constraints and actions
  - The plan script, when the instance has one
  - The absence of dependency cycles in the plan
  - The compilation of the referenced OPA policies`,
		Example: `  # Validate an instance
  reconf validate cluster.yaml

  # Validate several instances and extra policies
  reconf validate a.yaml b.cue --policy ./policies`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			out := cmd.OutOrStdout()
			failed := 0
			reports := make([]validateReport, 0, len(args))
			for _, path := range args {
				report := s.validate(ctx, path, policyPaths)
				if !report.Valid {
					failed++
				}
				reports = append(reports, report)
			}

			if jsonOutput {
				if err := writeJSON(out, reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					renderValidation(cmd, r)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d instance(s) invalid", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "extra .rego/.json policy files or directories")
	return cmd
}

func (s *session) validate(ctx context.Context, path string, policyPaths []string) validateReport {
	report := validateReport{Instance: path}
	fail := func(err error) validateReport {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			report.Errors = verrs
		} else {
			report.Message = err.Error()
		}
		log.Debug().Err(err).Str("instance", path).Msg("Instance invalid")
		return report
	}

	inst, err := s.loader.LoadInstance(ctx, path)
	if err != nil {
		return fail(err)
	}
	report.Instance = inst.Name
	report.Nodes = len(inst.Names.NodeNames())
	report.VMs = len(inst.Names.VMNames())
	report.Constraints = len(inst.Constraints)
	if inst.Plan != nil {
		report.Actions = inst.Plan.Size()
		if err := inst.Plan.Validate(); err != nil {
			return fail(err)
		}
		levels, err := inst.Plan.Levels()
		if err != nil {
			return fail(err)
		}
		report.Levels = len(levels)
	}

	paths := append(append([]string(nil), inst.Config.Policies...), policyPaths...)
	if len(paths) > 0 {
		policies, err := policy.NewLoader(s.logger).LoadFromPaths(ctx, paths)
		if err != nil {
			return fail(err)
		}
		for _, p := range policies {
			if _, err := policy.Compile(ctx, &p); err != nil {
				return fail(fmt.Errorf("policy %s: %w", p.Name, err))
			}
			report.Policies = append(report.Policies, p.Name)
		}
	}

	report.Valid = true
	return report
}

func renderValidation(cmd *cobra.Command, r validateReport) {
	out := cmd.OutOrStdout()
	if !r.Valid {
		fmt.Fprintf(out, "%s: invalid\n", r.Instance)
		if r.Message != "" {
			fmt.Fprintf(out, "  %s\n", r.Message)
		}
		for _, e := range r.Errors {
			fmt.Fprintf(out, "  %s\n", e.String())
		}
		return
	}
	fmt.Fprintf(out, "%s: valid\n", r.Instance)
	table := newTable(out, "Nodes", "VMs", "Constraints", "Actions", "Levels", "Policies")
	table.Append([]string{
		strconv.Itoa(r.Nodes),
		strconv.Itoa(r.VMs),
		strconv.Itoa(r.Constraints),
		strconv.Itoa(r.Actions),
		strconv.Itoa(r.Levels),
		strconv.Itoa(len(r.Policies)),
	})
	table.Render()
}
