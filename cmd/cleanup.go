package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/jsprague84/updatectl/internal/cleanup"
	"github.com/jsprague84/updatectl/internal/orchestrator"
	"github.com/jsprague84/updatectl/internal/registry"
)

// CleanupOptions holds command options.
type CleanupOptions struct {
	Profile string
	Execute bool
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand() *cobra.Command {
	opts := &CleanupOptions{}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Analyze and prune removable Docker resources",
		Long: `Classify removable Docker resources on the targeted servers and report
what each profile would reclaim. Nothing is removed unless --execute is
given. Volumes are reported but never removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Profile, "profile", "conservative", "Cleanup profile: conservative, moderate or aggressive")
	flags.BoolVar(&opts.Execute, "execute", false, "Actually remove resources instead of only reporting")
	return cmd
}

// cleanupOutcome is one server's cleanup result.
type cleanupOutcome struct {
	Plan   *cleanup.Plan   `json:"plan,omitempty"`
	Result *cleanup.Result `json:"result,omitempty"`
}

func runCleanup(ctx context.Context, opts *CleanupOptions) error {
	profile, err := cleanup.ParseProfile(opts.Profile)
	if err != nil {
		return err
	}

	app, err := newAppContext()
	if err != nil {
		return err
	}
	targets, err := app.targets()
	if err != nil {
		return err
	}

	// Without --execute (or with --dry-run) this is a pure report.
	execute := opts.Execute && !globalOpts.DryRun
	if execute && !confirm(fmt.Sprintf("Remove %s on %d server(s)?", profile.Description(), len(targets))) {
		return fmt.Errorf("aborted")
	}

	results := orchestrator.Run(ctx, targets, func(ctx context.Context, srv registry.Server) (cleanupOutcome, error) {
		cleaner := cleanup.For(app.runner(srv), app.logger, app.cfg.StoppedAgeDays)
		var outcome cleanupOutcome

		plan, err := cleaner.Analyze(ctx)
		if err != nil {
			return outcome, err
		}
		outcome.Plan = plan

		if execute {
			result, err := cleaner.Execute(ctx, profile)
			if err != nil {
				return outcome, err
			}
			outcome.Result = result
		}
		return outcome, nil
	})

	if globalOpts.JSON {
		if err := printCleanupJSON(results); err != nil {
			return err
		}
	} else {
		printCleanupResults(app, results, profile, execute)
	}

	return failureError(orchestrator.FailedCount(results), len(results))
}

func printCleanupJSON(results []orchestrator.Result[cleanupOutcome]) error {
	type report struct {
		Server string `json:"server"`
		cleanupOutcome
		Error string `json:"error,omitempty"`
	}
	reports := make([]report, 0, len(results))
	for _, r := range results {
		rep := report{Server: r.Server.Name, cleanupOutcome: r.Value}
		if r.Err != nil {
			rep.Error = r.Err.Error()
		}
		reports = append(reports, rep)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func printCleanupResults(app *appContext, results []orchestrator.Result[cleanupOutcome], profile cleanup.Profile, executed bool) {
	for _, r := range results {
		header := fmt.Sprintf("%s (%s)", r.Server.Name, r.Server.DisplayHost())
		if r.Err != nil {
			app.logger.Error("%s: %v", header, r.Err)
			continue
		}
		app.logger.Info("%s", header)

		plan := r.Value.Plan
		for _, removal := range plan.RemovalSet(profile) {
			if removal.Bytes > 0 {
				app.logger.Info("  %s: %d items, %s [%s]", removal.Class, removal.Count, units.HumanSize(float64(removal.Bytes)), removal.Tier)
			} else {
				app.logger.Info("  %s: %d items [%s]", removal.Class, removal.Count, removal.Tier)
			}
		}
		app.logger.Info("  reclaimable under %s: %s", profile, units.HumanSize(float64(plan.ReclaimableBytes(profile))))

		for _, vol := range plan.Volumes {
			using := "unused"
			if len(vol.UsedBy) > 0 {
				using = fmt.Sprintf("used by %v", vol.UsedBy)
			}
			app.logger.Info("  volume %s: %s (%s, never removed automatically)", vol.Name, units.HumanSize(float64(vol.Size)), using)
		}

		if executed && r.Value.Result != nil {
			app.logger.Info("  %s", r.Value.Result.Summary())
			for _, e := range r.Value.Result.Errors {
				app.logger.Warn("  %s", e)
			}
		}
	}
}
