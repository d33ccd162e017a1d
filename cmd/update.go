package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jsprague84/updatectl/internal/orchestrator"
	"github.com/jsprague84/updatectl/internal/registry"
	"github.com/jsprague84/updatectl/internal/update"
)

// UpdateOptions holds command options.
type UpdateOptions struct {
	All    bool
	Images []string
}

// NewUpdateCommand creates the update command group.
func NewUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply OS package or Docker image updates",
	}
	cmd.AddCommand(newUpdateOSCommand())
	cmd.AddCommand(newUpdateDockerCommand())
	cmd.AddCommand(newUpdateAllCommand())
	return cmd
}

func newUpdateOSCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "os",
		Short: "Upgrade OS packages on the targeted servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), true, false, &UpdateOptions{})
		},
	}
}

func newUpdateDockerCommand() *cobra.Command {
	opts := &UpdateOptions{}
	cmd := &cobra.Command{
		Use:   "docker",
		Short: "Pull updated Docker images and restart their containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.All && len(opts.Images) == 0 {
				return fmt.Errorf("nothing to update: pass --all or --images")
			}
			return runUpdate(cmd.Context(), false, true, opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.All, "all", false, "Update every tagged image on each server")
	flags.StringSliceVar(&opts.Images, "images", nil, "Specific image references to update")
	return cmd
}

func newUpdateAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Upgrade OS packages and all Docker images",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), true, true, &UpdateOptions{All: true})
		},
	}
}

// updateOutcome is one server's update result.
type updateOutcome struct {
	OS     string `json:"os,omitempty"`
	Docker string `json:"docker,omitempty"`
}

func runUpdate(ctx context.Context, doOS, doDocker bool, opts *UpdateOptions) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	targets, err := app.targets()
	if err != nil {
		return err
	}

	if !globalOpts.DryRun {
		what := "OS packages"
		switch {
		case doOS && doDocker:
			what = "OS packages and Docker images"
		case doDocker:
			what = "Docker images"
		}
		if !confirm(fmt.Sprintf("Update %s on %d server(s)?", what, len(targets))) {
			return fmt.Errorf("aborted")
		}
	}

	dockerOpts := update.DockerOptions{
		All:            opts.All,
		Images:         opts.Images,
		DryRun:         globalOpts.DryRun,
		RestartPolicy:  app.cfg.RestartPolicy,
		Exclude:        app.cfg.RestartExclude,
		ExcludeDefault: app.cfg.RestartExcludeDefault,
	}

	results := orchestrator.Run(ctx, targets, func(ctx context.Context, srv registry.Server) (updateOutcome, error) {
		runner := app.runner(srv)
		var outcome updateOutcome
		if doOS {
			msg, err := update.ApplyOS(ctx, runner, app.logger, globalOpts.DryRun)
			if err != nil {
				return outcome, err
			}
			outcome.OS = msg
		}
		if doDocker {
			msg, err := update.ApplyDocker(ctx, runner, app.logger, dockerOpts)
			if err != nil {
				return outcome, err
			}
			outcome.Docker = msg
		}
		return outcome, nil
	})

	if globalOpts.JSON {
		type report struct {
			Server string `json:"server"`
			updateOutcome
			Error string `json:"error,omitempty"`
		}
		reports := make([]report, 0, len(results))
		for _, r := range results {
			rep := report{Server: r.Server.Name, updateOutcome: r.Value}
			if r.Err != nil {
				rep.Error = r.Err.Error()
			}
			reports = append(reports, rep)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Err != nil {
				app.logger.Error("%s: %v", r.Server.Name, r.Err)
				continue
			}
			if r.Value.OS != "" {
				app.logger.Info("%s: %s", r.Server.Name, r.Value.OS)
			}
			if r.Value.Docker != "" {
				app.logger.Info("%s: %s", r.Server.Name, r.Value.Docker)
			}
		}
	}

	return failureError(orchestrator.FailedCount(results), len(results))
}
