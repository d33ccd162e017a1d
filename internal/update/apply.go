package update

import (
	"context"
	"fmt"
	"strings"

	"github.com/jsprague84/updatectl/internal/executor"
	"github.com/jsprague84/updatectl/internal/log"
)

// Restart policies for containers whose image was updated.
const (
	PolicyAllExceptWebhook = "all-except-webhook"
	PolicyNone             = "none"
)

// webhookContainerMarker identifies our own webhook server container, which
// must never restart itself mid-update.
const webhookContainerMarker = "updatectl_webhook"

// ApplyOS upgrades OS packages on one server. With dryRun set it only
// reports what would happen and issues no mutating command. After a real
// upgrade it re-checks and reports anything still pending, since kernel
// updates often need a reboot before they clear.
func ApplyOS(ctx context.Context, r executor.Runner, logger *log.Logger, dryRun bool) (string, error) {
	if dryRun {
		report, err := CheckOS(ctx, r)
		if err != nil {
			return "", err
		}
		if len(report.Packages) == 0 {
			return "No updates available", nil
		}
		return fmt.Sprintf("%d packages would be updated", len(report.Packages)), nil
	}

	pm, err := Detect(ctx, r)
	if err != nil {
		return "", err
	}

	logger.Info("Upgrading OS packages on %s (%s)", r.Server().DisplayHost(), pm)
	if _, err := r.Run(ctx, pm.UpgradeCommand()); err != nil {
		return "", fmt.Errorf("upgrading packages on %s: %w", r.Server().DisplayHost(), err)
	}

	report, err := CheckOS(ctx, r)
	if err != nil {
		return "", fmt.Errorf("verifying upgrade on %s: %w", r.Server().DisplayHost(), err)
	}
	if len(report.Packages) == 0 {
		return "Up to date", nil
	}
	return fmt.Sprintf("%d updates still available (may require reboot or manual intervention)", len(report.Packages)), nil
}

// DockerOptions controls which images ApplyDocker pulls and which containers
// it restarts afterwards.
type DockerOptions struct {
	// All pulls every tagged local image; otherwise Images names the refs.
	All    bool
	Images []string

	DryRun bool

	// RestartPolicy is PolicyAllExceptWebhook or PolicyNone. Unknown values
	// fall back to PolicyAllExceptWebhook.
	RestartPolicy string
	// ExcludeDefault lists container name substrings excluded on every
	// server; Exclude holds "server:container" pairs scoped to one server.
	Exclude        []string
	ExcludeDefault []string
}

// ApplyDocker pulls updated images and restarts the containers running
// them, subject to the restart policy. Pull and restart failures are
// counted per image rather than aborting the whole pass.
func ApplyDocker(ctx context.Context, r executor.Runner, logger *log.Logger, opts DockerOptions) (string, error) {
	if !opts.All && len(opts.Images) == 0 {
		return "No images specified (use --all or --images)", nil
	}

	var refs []string
	if opts.All {
		out, err := r.Run(ctx, dockerBin+" images --format '{{.Repository}}:{{.Tag}}'")
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.Contains(line, "<none>") {
				continue
			}
			refs = append(refs, line)
		}
	} else {
		for _, img := range opts.Images {
			if img = strings.TrimSpace(img); img != "" {
				refs = append(refs, img)
			}
		}
	}
	if len(refs) == 0 {
		return "No images found", nil
	}

	if opts.DryRun {
		return fmt.Sprintf("%d images would be updated", len(refs)), nil
	}

	excluded := resolveExclusions(r.Server().Name, opts.Exclude, opts.ExcludeDefault)
	policy := opts.RestartPolicy
	if policy == "" {
		policy = PolicyAllExceptWebhook
	}

	var updated, failed, restarted, restartFailed int
	var skippedByPolicy bool

	for _, ref := range refs {
		if _, err := r.Run(ctx, dockerBin+" pull "+ref); err != nil {
			logger.Warn("Failed to update %s on %s: %v", ref, r.Server().DisplayHost(), err)
			failed++
			continue
		}
		logger.Info("Updated image: %s", ref)
		updated++

		containers, err := containersUsingImage(ctx, r, ref)
		if err != nil {
			logger.Warn("Failed to find containers using %s: %v", ref, err)
			continue
		}
		if len(containers) == 0 {
			continue
		}
		logger.Info("Found %d containers using %s: %s", len(containers), ref, strings.Join(containers, ", "))

		for _, name := range containers {
			if !shouldRestart(name, policy, excluded, logger) {
				skippedByPolicy = true
				continue
			}
			if _, err := r.Run(ctx, dockerBin+" restart "+name); err != nil {
				logger.Warn("Failed to restart container %s: %v", name, err)
				restartFailed++
				continue
			}
			logger.Info("Restarted container: %s", name)
			restarted++
		}
	}

	parts := []string{fmt.Sprintf("Updated %d images", updated)}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if restarted > 0 {
		parts = append(parts, fmt.Sprintf("restarted %d containers", restarted))
	}
	if restartFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d restart failures", restartFailed))
	}
	if skippedByPolicy {
		if policy == PolicyNone {
			parts = append(parts, "no containers restarted (policy: none)")
		} else {
			parts = append(parts, "some containers excluded from restart")
		}
	}
	return strings.Join(parts, ", "), nil
}

func containersUsingImage(ctx context.Context, r executor.Runner, ref string) ([]string, error) {
	out, err := r.Run(ctx, fmt.Sprintf("%s ps --format '{{.Names}}' --filter 'ancestor=%s'", dockerBin, ref))
	if err != nil {
		return nil, err
	}
	var containers []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			containers = append(containers, line)
		}
	}
	return containers, nil
}

// resolveExclusions merges the fleet-wide exclusion list with the
// "server:container" pairs that name this server. Server matching is
// case-insensitive; container matching is by substring.
func resolveExclusions(serverName string, pairs, defaults []string) []string {
	excluded := make([]string, 0, len(defaults))
	for _, d := range defaults {
		if d = strings.TrimSpace(d); d != "" {
			excluded = append(excluded, d)
		}
	}
	for _, pair := range pairs {
		server, container, found := strings.Cut(strings.TrimSpace(pair), ":")
		if !found {
			continue
		}
		server = strings.TrimSpace(server)
		container = strings.TrimSpace(container)
		if container != "" && strings.EqualFold(server, serverName) {
			excluded = append(excluded, container)
		}
	}
	return excluded
}

func shouldRestart(container, policy string, excluded []string, logger *log.Logger) bool {
	for _, ex := range excluded {
		if strings.Contains(container, ex) {
			logger.Info("Container %s excluded from restart", container)
			return false
		}
	}
	switch policy {
	case PolicyNone:
		logger.Info("Container %s skipped (policy: none)", container)
		return false
	case PolicyAllExceptWebhook:
	default:
		logger.Warn("Unknown restart policy %q, defaulting to %s", policy, PolicyAllExceptWebhook)
	}
	if strings.Contains(container, webhookContainerMarker) {
		logger.Info("Container %s skipped (webhook server)", container)
		return false
	}
	return true
}
