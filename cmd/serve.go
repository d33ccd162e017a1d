package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jsprague84/updatectl/internal/cron"
	"github.com/jsprague84/updatectl/internal/executor"
	"github.com/jsprague84/updatectl/internal/notify"
	"github.com/jsprague84/updatectl/internal/orchestrator"
	"github.com/jsprague84/updatectl/internal/registry"
	"github.com/jsprague84/updatectl/internal/update"
	"github.com/jsprague84/updatectl/internal/webhook"
)

// ServeOptions holds command options.
type ServeOptions struct {
	Port int
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long: `Serve authenticated webhook endpoints that trigger updates and cleanup
in the background:

  POST /webhook/update/os?server=<name>&token=<secret>
  POST /webhook/update/docker/all?server=<name>&token=<secret>
  POST /webhook/update/docker/image?server=<name>&image=<image>&token=<secret>
  POST /webhook/cleanup/safe?server=<name>&token=<secret>
  POST /webhook/cleanup/images/prune-unused?server=<name>&token=<secret>
  GET  /health

With UPDATECTL_CHECK_SCHEDULE set, a periodic update check runs in the same
process and sends its findings through the configured notifiers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "Listen port (overrides PORT)")
	return cmd
}

func runServe(opts *ServeOptions) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}

	secret := app.cfg.WebhookSecret
	if secret == "" {
		return fmt.Errorf("UPDATECTL_WEBHOOK_SECRET must be set to run the webhook server")
	}
	if len(secret) < webhook.MinSecretLength {
		app.logger.Warn("Webhook secret is only %d characters; use at least %d (e.g. openssl rand -hex 32)", len(secret), webhook.MinSecretLength)
	}

	notifier := notify.New(notify.Options{
		GotifyURL: app.cfg.Gotify.URL,
		GotifyKey: app.cfg.Gotify.Key,
		NtfyURL:   app.cfg.Ntfy.URL,
		NtfyTopic: app.cfg.Ntfy.Topic,
		NtfyAuth:  app.cfg.Ntfy.Auth,
	}, app.logger)

	srv := webhook.New(webhook.Config{
		Registry: app.registry,
		Secret:   secret,
		Logger:   app.logger,
		Notifier: notifier,
		NewRunner: func(s registry.Server) executor.Runner {
			return app.runner(s)
		},
		Docker: update.DockerOptions{
			RestartPolicy:  app.cfg.RestartPolicy,
			Exclude:        app.cfg.RestartExclude,
			ExcludeDefault: app.cfg.RestartExcludeDefault,
		},
		StoppedAgeDays: app.cfg.StoppedAgeDays,
	})

	if schedule := app.cfg.CheckSchedule; schedule != "" {
		manager := cron.NewManager(app.logger, schedule, func() {
			runScheduledCheck(app, notifier)
		})
		if err := manager.Start(); err != nil {
			return fmt.Errorf("invalid UPDATECTL_CHECK_SCHEDULE %q: %w", schedule, err)
		}
		defer manager.Stop()
	}

	port := opts.Port
	if port == 0 {
		port = app.cfg.Port
	}
	return srv.ListenAndServe(fmt.Sprintf(":%d", port))
}

// runScheduledCheck checks the whole fleet and notifies about pending
// updates, attaching webhook action buttons when the public URL is known.
func runScheduledCheck(app *appContext, notifier notify.Notifier) {
	ctx, cancel := context.WithTimeout(context.Background(), cron.CheckTimeout)
	defer cancel()

	targets := app.registry.All()
	if len(targets) == 0 {
		targets = []registry.Server{app.registry.Local()}
	}

	results := orchestrator.Run(ctx, targets, func(ctx context.Context, srv registry.Server) (*update.OSReport, error) {
		return update.CheckOS(ctx, app.runner(srv))
	})

	var bodyLines []string
	var actions []notify.Action
	pending := 0
	for _, r := range results {
		if r.Err != nil {
			bodyLines = append(bodyLines, fmt.Sprintf("%s: check failed (%v)", r.Server.Name, r.Err))
			continue
		}
		if len(r.Value.Packages) == 0 {
			continue
		}
		pending++
		bodyLines = append(bodyLines, fmt.Sprintf("%s: %d packages pending (%s)", r.Server.Name, len(r.Value.Packages), r.Value.Manager))
		if app.cfg.WebhookURL != "" && len(actions) < 3 {
			url := fmt.Sprintf("%s/webhook/update/os?server=%s&token=%s",
				strings.TrimRight(app.cfg.WebhookURL, "/"), r.Server.Name, app.cfg.WebhookSecret)
			actions = append(actions, notify.HTTPPostAction("Update "+r.Server.Name, url))
		}
	}

	if pending == 0 && len(bodyLines) == 0 {
		app.logger.Info("Scheduled check: all servers up to date")
		return
	}

	msg := notify.Message{
		Title:   fmt.Sprintf("Updates available on %d servers", pending),
		Body:    strings.Join(bodyLines, "\n"),
		Actions: actions,
	}
	if err := notifier.Send(ctx, msg); err != nil {
		app.logger.Warn("sending scheduled check notification: %v", err)
	}
}
