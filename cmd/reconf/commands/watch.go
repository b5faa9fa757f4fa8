package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconf/pkg/constraint"
	"github.com/openfroyo/reconf/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var popts policyOptions

	cmd := &cobra.Command{
		Use:   "watch <instance>",
		Short: "Re-check an instance when it or its policies change",
		Long: `Check an instance, then check it again every time the instance file, its
plan script or one of its policy files changes.

The policy paths are the ones of the instance when the command starts, plus
the --policy flags. Runs are recorded like with check.`,
		Example: `  # Watch an instance and its policies
  reconf watch cluster.yaml

  # Serve metrics while watching
  reconf watch cluster.yaml --telemetry telemetry.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			inst, err := s.loadInstance(ctx, path)
			if err != nil {
				return err
			}

			engine, err := policy.NewEngine(s.logger)
			if err != nil {
				return err
			}
			pc := policy.NewConstraint(engine)
			pc.SetContinuous(popts.continuous)
			policyPaths := append(append([]string(nil), inst.Config.Policies...), popts.paths...)

			trigger := make(chan struct{}, 1)
			recheck := func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			}

			if !popts.disabled && len(policyPaths) > 0 {
				loader := policy.NewLoader(s.logger)
				policies, err := loader.LoadFromPaths(ctx, policyPaths)
				if err != nil {
					return err
				}
				if err := engine.AddPolicies(ctx, policies); err != nil {
					return err
				}
				err = loader.Watch(ctx, policyPaths, func(ps []policy.Policy) error {
					if err := engine.ReplacePolicies(ctx, ps); err != nil {
						return err
					}
					recheck()
					return nil
				})
				if err != nil {
					return err
				}
			}

			files := []string{path}
			if inst.Config.Script != "" {
				files = append(files, inst.Config.Script)
			}
			if err := watchFiles(ctx, files, recheck); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			run := func() {
				fresh, err := s.loadInstance(ctx, path)
				if err != nil {
					log.Error().Err(err).Str("instance", path).Msg("Failed to load instance")
					return
				}
				cstrs := append([]constraint.SatConstraint(nil), fresh.Constraints...)
				if !popts.disabled {
					cstrs = append(cstrs, pc)
				}
				fmt.Fprintf(out, "--- %s\n", time.Now().Format(time.RFC3339))
				if err := s.checkWith(ctx, out, fresh, cstrs, pc); err != nil {
					log.Warn().Err(err).Str("instance", fresh.Name).Msg("Check failed")
				}
			}

			run()
			log.Info().Str("instance", path).Strs("policies", policyPaths).Msg("Watching for changes")
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-trigger:
					run()
				}
			}
		},
	}

	addPolicyFlags(cmd, &popts)
	return cmd
}

// watchFiles calls onChange, debounced, when one of the files is written,
// created or replaced. The parent directories are watched so that editors
// saving through a rename are followed.
func watchFiles(ctx context.Context, files []string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	wanted := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			_ = watcher.Close()
			return err
		}
		wanted[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go func() {
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
			_ = watcher.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !wanted[filepath.Clean(event.Name)] || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Instance file changed")
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(policy.ReloadDelay, onChange)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Watcher error")
			}
		}
	}()
	return nil
}
