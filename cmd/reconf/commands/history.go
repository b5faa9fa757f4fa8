package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/reconf/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
		Long: `Inspect the runs recorded in the history database.

Every apply and check records a run: its status, the committed actions in
commit order, the violation that stopped it and the published events.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())

	return cmd
}

// openHistory opens a session that must have the history enabled.
func openHistory(ctx context.Context) (*session, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("history is disabled (--db is empty)")
	}
	return openSession(ctx, true)
}

func newHistoryListCommand() *cobra.Command {
	var (
		instance string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, most recent first",
		Example: `  # List the last runs
  reconf history list

  # List the runs of one instance
  reconf history list --instance evacuation --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			var filter *string
			if instance != "" {
				filter = &instance
			}
			runs, err := s.store.ListRuns(ctx, filter, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			renderRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&instance, "instance", "", "only list runs of this instance")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	var events bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its commits and violations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			run, err := s.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			commits, err := s.store.ListCommits(ctx, run.ID)
			if err != nil {
				return err
			}
			violations, err := s.store.ListViolations(ctx, run.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				detail := map[string]interface{}{
					"run":        run,
					"commits":    commits,
					"violations": violations,
				}
				if events {
					evs, err := s.store.GetEvents(ctx, &run.ID, nil, 1000, 0)
					if err != nil {
						return err
					}
					detail["events"] = evs
				}
				return writeJSON(out, detail)
			}

			renderRuns(out, []*stores.Run{run})
			if run.Error != nil {
				fmt.Fprintf(out, "\nerror: %s\n", *run.Error)
			}
			if len(commits) > 0 {
				fmt.Fprintln(out)
				renderStoredCommits(out, commits)
			}
			if len(violations) > 0 {
				fmt.Fprintln(out)
				renderStoredViolations(out, violations)
			}
			if events {
				evs, err := s.store.GetEvents(ctx, &run.ID, nil, 1000, 0)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				renderEvents(out, evs)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "also show the published events")
	return cmd
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete runs with their commits, violations and events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			for _, id := range args {
				if err := s.store.DeleteRun(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}
