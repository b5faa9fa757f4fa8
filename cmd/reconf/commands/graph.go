package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <instance>",
		Short: "Print the dependency graph of a plan",
		Long: `Print the dependency graph of the plan of an instance.

An action depends on another when it must wait for it: the other one ends
before it starts and frees a node it needs or touches the same VM, or an
explicit requirement links them.

Formats:
  - tree: actions without dependencies at the top, dependents below
  - dot:  Graphviz, actions clustered by level`,
		Example: `  # Print the dependency tree
  reconf graph cluster.yaml

  # Render with Graphviz
  reconf graph cluster.yaml --format dot | dot -Tsvg > plan.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if format != "tree" && format != "dot" {
				return fmt.Errorf("unknown format %q (must be 'tree' or 'dot')", format)
			}
			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			inst, err := s.loadInstance(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "dot" {
				fmt.Fprint(out, inst.Plan.ToDOT())
				return nil
			}
			if err := inst.Plan.Validate(); err != nil {
				log.Warn().Err(err).Msg("Plan has a dependency cycle")
			}
			fmt.Fprintln(out, dependencyTree(inst.Name, inst.Plan).String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "tree", "output format: tree or dot")
	return cmd
}
