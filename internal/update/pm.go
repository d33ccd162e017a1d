// Package update detects and applies OS package and Docker image updates
// on registry servers through a command Runner.
package update

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jsprague84/updatectl/internal/executor"
)

// PackageManager identifies the system package manager on a server.
type PackageManager string

const (
	Apt    PackageManager = "apt"
	Dnf    PackageManager = "dnf"
	Pacman PackageManager = "pacman"
)

// detectionOrder is the probe order; apt first since Debian derivatives are
// the most common fleet members.
var detectionOrder = []PackageManager{Apt, Dnf, Pacman}

const (
	// dnf check-update exits 100 when updates are available.
	dnfUpdatesAvailable = 100
	// checkupdates exits 2 when there are no pending updates.
	pacmanNoUpdates = 2
)

func (pm PackageManager) String() string { return string(pm) }

func (pm PackageManager) binary() string {
	return "/usr/bin/" + string(pm)
}

// CheckCommand returns the command that lists pending updates without
// modifying the system. Full paths keep the commands working over SSH where
// the non-interactive PATH can be minimal.
func (pm PackageManager) CheckCommand() string {
	switch pm {
	case Apt:
		return "/usr/bin/apt list --upgradable"
	case Dnf:
		return "/usr/bin/dnf check-update --quiet --cacheonly"
	case Pacman:
		return "/usr/bin/checkupdates"
	}
	return ""
}

// UpgradeCommand returns the non-interactive full upgrade command.
func (pm PackageManager) UpgradeCommand() string {
	switch pm {
	case Apt:
		// full-upgrade rather than upgrade so applied packages match what
		// the check reported, including ones pulling new dependencies.
		return "/usr/bin/sudo apt-get update -qq && /usr/bin/sudo DEBIAN_FRONTEND=noninteractive apt-get full-upgrade -y"
	case Dnf:
		return "/usr/bin/sudo dnf upgrade -y"
	case Pacman:
		return "/usr/bin/sudo pacman -Syu --noconfirm"
	}
	return ""
}

// ParsePending extracts pending package names from the check command output.
func (pm PackageManager) ParsePending(output string) []string {
	switch pm {
	case Apt:
		return parseAptPending(output)
	case Dnf:
		return parseDnfPending(output)
	case Pacman:
		return parsePacmanPending(output)
	}
	return nil
}

// parseAptPending handles `apt list --upgradable` output:
//
//	Listing...
//	docker-ce/jammy 5:25.0.0-1~ubuntu.22.04~jammy amd64 [upgradable from: 5:24.0.7-1~ubuntu.22.04~jammy]
//	linux-image-generic/jammy-security 5.15.0.91.89 amd64 [upgradable from: 5.15.0.89.87]
//
// Packages coming from a -security suite get a "(security)" annotation.
func parseAptPending(output string) []string {
	var packages []string
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "[upgradable from:") {
			continue
		}
		name, _, _ := strings.Cut(line, "/")
		if strings.Contains(line, "-security") {
			name += " (security)"
		}
		packages = append(packages, name)
	}
	return packages
}

// parseDnfPending handles `dnf check-update` output:
//
//	docker-ce.x86_64    3:25.0.0-1.fc39    docker-ce-stable
//
// The arch suffix is stripped from the package name.
func parseDnfPending(output string) []string {
	var packages []string
	for _, line := range strings.Split(output, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		name, _, _ := strings.Cut(fields[0], ".")
		packages = append(packages, name)
	}
	return packages
}

// parsePacmanPending handles `checkupdates` output:
//
//	docker 1:25.0.0-1 -> 1:25.0.1-1
func parsePacmanPending(output string) []string {
	var packages []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		packages = append(packages, fields[0])
	}
	return packages
}

// Detect probes for known package managers in order and returns the first
// one present on the server.
func Detect(ctx context.Context, r executor.Runner) (PackageManager, error) {
	for _, pm := range detectionOrder {
		probe := fmt.Sprintf("test -x %s && echo found", pm.binary())
		out, err := r.Run(ctx, probe)
		if err != nil {
			var exitErr *executor.ExitError
			if errors.As(err, &exitErr) {
				continue
			}
			return "", err
		}
		if strings.TrimSpace(out) == "found" {
			return pm, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found on %s", r.Server().DisplayHost())
}

// OSReport describes pending OS package updates on one server.
type OSReport struct {
	Manager  PackageManager
	Packages []string
}

// CheckOS detects the package manager and lists pending updates. Check
// commands signalling their result through exit codes (dnf exits 100 when
// updates exist, checkupdates exits 2 when none do) are normalized here.
func CheckOS(ctx context.Context, r executor.Runner) (*OSReport, error) {
	pm, err := Detect(ctx, r)
	if err != nil {
		return nil, err
	}

	out, err := r.Run(ctx, pm.CheckCommand())
	if err != nil {
		var exitErr *executor.ExitError
		if errors.As(err, &exitErr) {
			switch {
			case pm == Dnf && exitErr.Code == dnfUpdatesAvailable:
				out = exitErr.Stdout
			case pm == Pacman && exitErr.Code == pacmanNoUpdates:
				return &OSReport{Manager: pm}, nil
			default:
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	return &OSReport{Manager: pm, Packages: pm.ParsePending(out)}, nil
}
