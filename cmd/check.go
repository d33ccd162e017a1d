package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jsprague84/updatectl/internal/notify"
	"github.com/jsprague84/updatectl/internal/orchestrator"
	"github.com/jsprague84/updatectl/internal/registry"
	"github.com/jsprague84/updatectl/internal/update"
)

// CheckOptions holds command options.
type CheckOptions struct {
	OS     bool
	Docker bool
	Notify bool
}

// checkOutcome is one server's check result.
type checkOutcome struct {
	OS     *update.OSReport
	Images []update.Image
}

// serverCheckReport is the JSON shape of one server's result.
type serverCheckReport struct {
	Server   string   `json:"server"`
	Host     string   `json:"host"`
	Manager  string   `json:"manager,omitempty"`
	Packages []string `json:"packages,omitempty"`
	Images   []string `json:"images_with_updates,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	opts := &CheckOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check servers for pending OS and Docker image updates",
		Long: `Check every targeted server for pending OS package updates and for
Docker images whose registry holds a newer digest. Checks are read-only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.OS, "os", false, "Check OS packages only")
	flags.BoolVar(&opts.Docker, "docker", false, "Check Docker images only")
	flags.BoolVar(&opts.Notify, "notify", false, "Send a notification when updates are found")
	return cmd
}

func runCheck(ctx context.Context, opts *CheckOptions) error {
	// Neither flag means both checks.
	if !opts.OS && !opts.Docker {
		opts.OS = true
		opts.Docker = true
	}

	app, err := newAppContext()
	if err != nil {
		return err
	}
	targets, err := app.targets()
	if err != nil {
		return err
	}

	results := orchestrator.Run(ctx, targets, func(ctx context.Context, srv registry.Server) (checkOutcome, error) {
		runner := app.runner(srv)
		var outcome checkOutcome
		if opts.OS {
			report, err := update.CheckOS(ctx, runner)
			if err != nil {
				return outcome, err
			}
			outcome.OS = report
		}
		if opts.Docker {
			images, err := update.CheckDocker(ctx, runner, app.logger)
			if err != nil {
				return outcome, err
			}
			outcome.Images = images
		}
		return outcome, nil
	})

	if globalOpts.JSON {
		if err := printCheckJSON(results); err != nil {
			return err
		}
	} else {
		printCheckResults(app, results)
	}

	if opts.Notify {
		sendCheckNotification(ctx, app, results)
	}

	return failureError(orchestrator.FailedCount(results), len(results))
}

func printCheckJSON(results []orchestrator.Result[checkOutcome]) error {
	reports := make([]serverCheckReport, 0, len(results))
	for _, r := range results {
		report := serverCheckReport{Server: r.Server.Name, Host: r.Server.DisplayHost()}
		if r.Err != nil {
			report.Error = r.Err.Error()
		} else {
			if r.Value.OS != nil {
				report.Manager = r.Value.OS.Manager.String()
				report.Packages = r.Value.OS.Packages
			}
			for _, img := range r.Value.Images {
				if img.HasUpdate {
					report.Images = append(report.Images, img.Ref())
				}
			}
		}
		reports = append(reports, report)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func printCheckResults(app *appContext, results []orchestrator.Result[checkOutcome]) {
	for _, r := range results {
		header := fmt.Sprintf("%s (%s)", r.Server.Name, r.Server.DisplayHost())
		if r.Err != nil {
			app.logger.Error("%s: %v", header, r.Err)
			continue
		}

		app.logger.Info("%s", header)
		if r.Value.OS != nil {
			if n := len(r.Value.OS.Packages); n > 0 {
				app.logger.Info("  %d OS packages pending (%s)", n, r.Value.OS.Manager)
				for _, pkg := range r.Value.OS.Packages {
					app.logger.Info("    %s", pkg)
				}
			} else {
				app.logger.Info("  OS packages up to date (%s)", r.Value.OS.Manager)
			}
		}
		var stale []update.Image
		for _, img := range r.Value.Images {
			if img.HasUpdate {
				stale = append(stale, img)
			}
		}
		if len(stale) > 0 {
			app.logger.Info("  %d Docker images with updates", len(stale))
			for _, img := range stale {
				app.logger.Info("    %s", img.Ref())
			}
		}
	}
}

// sendCheckNotification summarizes pending updates and, when the webhook
// server address is configured, attaches action buttons that trigger the
// update remotely. ntfy caps actions at three per message.
func sendCheckNotification(ctx context.Context, app *appContext, results []orchestrator.Result[checkOutcome]) {
	notifier := notify.New(notify.Options{
		GotifyURL: app.cfg.Gotify.URL,
		GotifyKey: app.cfg.Gotify.Key,
		NtfyURL:   app.cfg.Ntfy.URL,
		NtfyTopic: app.cfg.Ntfy.Topic,
		NtfyAuth:  app.cfg.Ntfy.Auth,
	}, app.logger)

	var bodyLines []string
	var actions []notify.Action
	pending := 0
	for _, r := range results {
		if r.Err != nil {
			bodyLines = append(bodyLines, fmt.Sprintf("%s: check failed (%v)", r.Server.Name, r.Err))
			continue
		}
		osCount := 0
		if r.Value.OS != nil {
			osCount = len(r.Value.OS.Packages)
		}
		imgCount := 0
		for _, img := range r.Value.Images {
			if img.HasUpdate {
				imgCount++
			}
		}
		if osCount == 0 && imgCount == 0 {
			continue
		}
		pending++
		bodyLines = append(bodyLines, fmt.Sprintf("%s: %d packages, %d images", r.Server.Name, osCount, imgCount))

		if app.cfg.WebhookURL != "" && app.cfg.WebhookSecret != "" && len(actions) < 3 && osCount > 0 {
			url := fmt.Sprintf("%s/webhook/update/os?server=%s&token=%s",
				strings.TrimRight(app.cfg.WebhookURL, "/"), r.Server.Name, app.cfg.WebhookSecret)
			actions = append(actions, notify.HTTPPostAction("Update "+r.Server.Name, url))
		}
	}

	if pending == 0 {
		return
	}
	msg := notify.Message{
		Title:   fmt.Sprintf("Updates available on %d servers", pending),
		Body:    strings.Join(bodyLines, "\n"),
		Actions: actions,
	}
	if err := notifier.Send(ctx, msg); err != nil {
		app.logger.Warn("sending check notification: %v", err)
	}
}
