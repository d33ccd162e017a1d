package cleanup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"

	"github.com/jsprague84/updatectl/internal/executor"
	"github.com/jsprague84/updatectl/internal/log"
)

// For picks the SDK-backed cleaner for the local server and the CLI-backed
// one for remotes. A local daemon that cannot be reached through its socket
// falls back to the CLI path.
func For(r executor.Runner, logger *log.Logger, stoppedAgeDays int) Cleaner {
	if r.Server().Local() {
		c, err := NewLocal(r.Server().Name, logger, stoppedAgeDays)
		if err == nil {
			return c
		}
		logger.Debug("docker SDK unavailable, falling back to CLI: %v", err)
	}
	return NewRemote(r, logger, stoppedAgeDays)
}

// dockerAPI is the slice of the Docker client the local cleaner needs.
type dockerAPI interface {
	ImageList(ctx context.Context, options types.ImageListOptions) ([]types.ImageSummary, error)
	ImagesPrune(ctx context.Context, pruneFilter filters.Args) (types.ImagesPruneReport, error)
	NetworkList(ctx context.Context, options types.NetworkListOptions) ([]types.NetworkResource, error)
	NetworksPrune(ctx context.Context, pruneFilter filters.Args) (types.NetworksPruneReport, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainersPrune(ctx context.Context, pruneFilters filters.Args) (types.ContainersPruneReport, error)
	BuildCachePrune(ctx context.Context, opts types.BuildCachePruneOptions) (*types.BuildCachePruneReport, error)
	DiskUsage(ctx context.Context, options types.DiskUsageOptions) (types.DiskUsage, error)
	VolumeList(ctx context.Context, options volume.ListOptions) (volume.ListResponse, error)
}

// localCleaner talks to the local daemon through the Docker SDK, which
// gives exact byte counts instead of the CLI's rounded sizes.
type localCleaner struct {
	api            dockerAPI
	server         string
	logger         *log.Logger
	stoppedAgeDays int
	now            func() time.Time
}

// NewLocal creates a Cleaner backed by the local Docker daemon. The client
// connects lazily, so the daemon is pinged here to surface an unreachable
// socket as a construction error.
func NewLocal(serverName string, logger *log.Logger, stoppedAgeDays int) (Cleaner, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connecting to local docker daemon: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if _, err := api.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging local docker daemon: %w", err)
	}
	return newLocalCleaner(api, serverName, logger, stoppedAgeDays), nil
}

const pingTimeout = 2 * time.Second

func newLocalCleaner(api dockerAPI, serverName string, logger *log.Logger, stoppedAgeDays int) *localCleaner {
	if stoppedAgeDays <= 0 {
		stoppedAgeDays = DefaultStoppedAgeDays
	}
	return &localCleaner{api: api, server: serverName, logger: logger, stoppedAgeDays: stoppedAgeDays, now: time.Now}
}

func (c *localCleaner) Analyze(ctx context.Context) (*Plan, error) {
	plan := &Plan{Server: c.server, StoppedAgeDays: c.stoppedAgeDays}

	images, err := c.api.ImageList(ctx, types.ImageListOptions{
		Filters: filters.NewArgs(filters.Arg("dangling", "true")),
	})
	if err != nil {
		return nil, fmt.Errorf("listing dangling images: %w", err)
	}
	for _, img := range images {
		plan.DanglingImages = append(plan.DanglingImages, ImageItem{ID: img.ID, Size: img.Size})
	}

	networks, err := c.api.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing networks: %w", err)
	}

	containers, err := c.api.ContainerList(ctx, container.ListOptions{All: true, Size: true})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	attachedNetworks := make(map[string]bool)
	volumeUsers := make(map[string][]string)
	cutoff := c.now().AddDate(0, 0, -c.stoppedAgeDays)
	for _, ct := range containers {
		name := containerName(ct)
		if ct.NetworkSettings != nil {
			for nw := range ct.NetworkSettings.Networks {
				attachedNetworks[nw] = true
			}
		}
		for _, mount := range ct.Mounts {
			if mount.Name != "" {
				volumeUsers[mount.Name] = append(volumeUsers[mount.Name], name)
			}
		}
		if ct.State == "running" {
			continue
		}
		created := time.Unix(ct.Created, 0)
		if created.After(cutoff) {
			continue
		}
		plan.StaleContainers = append(plan.StaleContainers, ContainerItem{
			ID:      ct.ID,
			Name:    name,
			Image:   ct.Image,
			Status:  ct.Status,
			Size:    ct.SizeRw,
			Created: created,
		})
	}

	for _, nw := range networks {
		if defaultNetworks[nw.Name] || attachedNetworks[nw.Name] {
			continue
		}
		plan.UnusedNetworks = append(plan.UnusedNetworks, NetworkItem{ID: nw.ID, Name: nw.Name, Driver: nw.Driver})
	}

	du, err := c.api.DiskUsage(ctx, types.DiskUsageOptions{})
	if err != nil {
		return nil, fmt.Errorf("reading disk usage: %w", err)
	}
	for _, cache := range du.BuildCache {
		if cache != nil && !cache.InUse && cache.Size > 0 {
			plan.BuildCacheBytes += cache.Size
		}
	}

	vols, err := c.api.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing volumes: %w", err)
	}
	for _, vol := range vols.Volumes {
		if vol == nil {
			continue
		}
		item := VolumeItem{Name: vol.Name, Driver: vol.Driver, UsedBy: volumeUsers[vol.Name]}
		if vol.UsageData != nil && vol.UsageData.Size > 0 {
			item.Size = vol.UsageData.Size
		}
		if created, err := time.Parse(time.RFC3339, vol.CreatedAt); err == nil {
			item.Created = created
		}
		plan.Volumes = append(plan.Volumes, item)
	}

	return plan, nil
}

func (c *localCleaner) Execute(ctx context.Context, profile Profile) (*Result, error) {
	result := &Result{Server: c.server}

	imgReport, err := c.api.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "true")))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("image prune: %v", err))
	} else {
		result.ImagesRemoved = len(imgReport.ImagesDeleted)
		result.ReclaimedBytes += int64(imgReport.SpaceReclaimed)
	}

	nwReport, err := c.api.NetworksPrune(ctx, filters.NewArgs())
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("network prune: %v", err))
	} else {
		result.NetworksRemoved = len(nwReport.NetworksDeleted)
	}

	if profile.removesBuildCache() {
		cacheReport, err := c.api.BuildCachePrune(ctx, types.BuildCachePruneOptions{})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("build cache prune: %v", err))
		} else if cacheReport != nil {
			result.BuildCacheBytes = int64(cacheReport.SpaceReclaimed)
			result.ReclaimedBytes += int64(cacheReport.SpaceReclaimed)
		}
	}

	if profile.removesStoppedContainers() {
		until := fmt.Sprintf("%dh", c.stoppedAgeDays*24)
		ctReport, err := c.api.ContainersPrune(ctx, filters.NewArgs(filters.Arg("until", until)))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("container prune: %v", err))
		} else {
			result.ContainersRemoved = len(ctReport.ContainersDeleted)
			result.ReclaimedBytes += int64(ctReport.SpaceReclaimed)
		}
	}

	return result, nil
}

func containerName(ct types.Container) string {
	if len(ct.Names) > 0 {
		return strings.TrimPrefix(ct.Names[0], "/")
	}
	if len(ct.ID) >= 12 {
		return ct.ID[:12]
	}
	return ct.ID
}
