// Package cleanup classifies removable Docker resources into safety tiers
// and executes tiered pruning. Local servers talk to the daemon through the
// Docker SDK; remote servers go through the docker CLI over SSH.
package cleanup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// Tier labels how safe it is to remove a resource class automatically.
type Tier string

const (
	TierAlwaysSafe        Tier = "always-safe"
	TierNeedsConfirmation Tier = "needs-confirmation"
	TierNeverAutomatic    Tier = "never-automatic"
)

// Profile selects how aggressive a cleanup pass is. Profiles are additive:
// each one removes everything the previous one does.
type Profile string

const (
	Conservative Profile = "conservative"
	Moderate     Profile = "moderate"
	Aggressive   Profile = "aggressive"
)

// DefaultStoppedAgeDays is how long a container must have been around
// before the aggressive profile will prune it.
const DefaultStoppedAgeDays = 30

// ParseProfile maps a user-supplied profile name, case-insensitively.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conservative":
		return Conservative, nil
	case "moderate":
		return Moderate, nil
	case "aggressive":
		return Aggressive, nil
	}
	return "", fmt.Errorf("unknown cleanup profile %q (want conservative, moderate or aggressive)", s)
}

// Description summarizes what the profile removes.
func (p Profile) Description() string {
	switch p {
	case Conservative:
		return "dangling images and unused networks"
	case Moderate:
		return "dangling images, unused networks and build cache"
	case Aggressive:
		return "dangling images, unused networks, build cache and old stopped containers"
	}
	return string(p)
}

func (p Profile) removesBuildCache() bool {
	return p == Moderate || p == Aggressive
}

func (p Profile) removesStoppedContainers() bool {
	return p == Aggressive
}

// ImageItem is one dangling image.
type ImageItem struct {
	ID   string
	Size int64
}

// NetworkItem is one network with no attached containers.
type NetworkItem struct {
	ID     string
	Name   string
	Driver string
}

// ContainerItem is one non-running container.
type ContainerItem struct {
	ID      string
	Name    string
	Image   string
	Status  string
	Size    int64
	Created time.Time
}

// VolumeItem is a volume, reported for visibility only. Volumes never
// appear in any removal set.
type VolumeItem struct {
	Name    string
	Driver  string
	Size    int64
	Created time.Time
	UsedBy  []string
}

// Plan is the per-server classification of removable resources.
type Plan struct {
	Server string

	DanglingImages  []ImageItem
	UnusedNetworks  []NetworkItem
	BuildCacheBytes int64
	StaleContainers []ContainerItem

	// Volumes are informational. No code path deletes a volume.
	Volumes []VolumeItem

	StoppedAgeDays int
}

// Removal is one resource class eligible for removal under a profile.
type Removal struct {
	Class string
	Tier  Tier
	Count int
	Bytes int64
}

// RemovalSet lists the classes a profile would actually remove. Volumes are
// excluded unconditionally.
func (p *Plan) RemovalSet(profile Profile) []Removal {
	set := []Removal{
		{Class: "dangling images", Tier: TierAlwaysSafe, Count: len(p.DanglingImages), Bytes: sumImageBytes(p.DanglingImages)},
		{Class: "unused networks", Tier: TierAlwaysSafe, Count: len(p.UnusedNetworks)},
	}
	if profile.removesBuildCache() {
		set = append(set, Removal{Class: "build cache", Tier: TierNeedsConfirmation, Bytes: p.BuildCacheBytes})
	}
	if profile.removesStoppedContainers() {
		set = append(set, Removal{
			Class: "stopped containers",
			Tier:  TierNeedsConfirmation,
			Count: len(p.StaleContainers),
			Bytes: sumContainerBytes(p.StaleContainers),
		})
	}
	return set
}

// ReclaimableBytes totals what the profile's removal set could free.
func (p *Plan) ReclaimableBytes(profile Profile) int64 {
	var total int64
	for _, r := range p.RemovalSet(profile) {
		total += r.Bytes
	}
	return total
}

// Result reports what a cleanup pass actually removed. VolumesRemoved
// exists only to make the invariant visible in output; it is always zero.
type Result struct {
	Server string

	ImagesRemoved     int
	NetworksRemoved   int
	BuildCacheBytes   int64
	ContainersRemoved int
	VolumesRemoved    int

	ReclaimedBytes int64
	Errors         []string
}

// Summary renders a one-line human summary.
func (r *Result) Summary() string {
	parts := []string{fmt.Sprintf("reclaimed %s", units.HumanSize(float64(r.ReclaimedBytes)))}
	if r.ImagesRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d images", r.ImagesRemoved))
	}
	if r.NetworksRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d networks", r.NetworksRemoved))
	}
	if r.ContainersRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d containers", r.ContainersRemoved))
	}
	if len(r.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("%d errors", len(r.Errors)))
	}
	return strings.Join(parts, ", ")
}

// Cleaner analyzes and prunes Docker resources on one server.
type Cleaner interface {
	Analyze(ctx context.Context) (*Plan, error)
	Execute(ctx context.Context, profile Profile) (*Result, error)
}

func sumImageBytes(items []ImageItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Size
	}
	return total
}

func sumContainerBytes(items []ContainerItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Size
	}
	return total
}
