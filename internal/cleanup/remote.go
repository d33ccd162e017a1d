package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/jsprague84/updatectl/internal/executor"
	"github.com/jsprague84/updatectl/internal/log"
)

const dockerBin = "/usr/bin/docker"

// defaultNetworks are created by the daemon and never count as unused.
var defaultNetworks = map[string]bool{"bridge": true, "host": true, "none": true}

// remoteCleaner drives the docker CLI through a Runner. The CLI is the
// lowest common denominator available over SSH without exposing the remote
// daemon socket.
type remoteCleaner struct {
	runner         executor.Runner
	logger         *log.Logger
	stoppedAgeDays int
	now            func() time.Time
}

// NewRemote creates a Cleaner that shells out to the docker CLI on the
// runner's server.
func NewRemote(r executor.Runner, logger *log.Logger, stoppedAgeDays int) Cleaner {
	if stoppedAgeDays <= 0 {
		stoppedAgeDays = DefaultStoppedAgeDays
	}
	return &remoteCleaner{runner: r, logger: logger, stoppedAgeDays: stoppedAgeDays, now: time.Now}
}

func (c *remoteCleaner) Analyze(ctx context.Context) (*Plan, error) {
	plan := &Plan{Server: c.runner.Server().Name, StoppedAgeDays: c.stoppedAgeDays}

	images, err := c.danglingImages(ctx)
	if err != nil {
		return nil, err
	}
	plan.DanglingImages = images

	networks, err := c.unusedNetworks(ctx)
	if err != nil {
		return nil, err
	}
	plan.UnusedNetworks = networks

	cacheBytes, volumes, err := c.diskUsage(ctx)
	if err != nil {
		return nil, err
	}
	plan.BuildCacheBytes = cacheBytes
	plan.Volumes = volumes

	containers, err := c.staleContainers(ctx)
	if err != nil {
		return nil, err
	}
	plan.StaleContainers = containers

	return plan, nil
}

func (c *remoteCleaner) danglingImages(ctx context.Context) ([]ImageItem, error) {
	out, err := c.runner.Run(ctx, dockerBin+" image ls --filter 'dangling=true' --format '{{json .}}'")
	if err != nil {
		return nil, err
	}
	var items []ImageItem
	for _, line := range jsonLines(out) {
		var img struct {
			ID   string `json:"ID"`
			Size string `json:"Size"`
		}
		if err := json.Unmarshal([]byte(line), &img); err != nil {
			return nil, fmt.Errorf("parsing docker image listing %q: %w", line, err)
		}
		items = append(items, ImageItem{ID: img.ID, Size: parseSize(img.Size)})
	}
	return items, nil
}

func (c *remoteCleaner) unusedNetworks(ctx context.Context) ([]NetworkItem, error) {
	out, err := c.runner.Run(ctx, dockerBin+" network ls --format '{{json .}}'")
	if err != nil {
		return nil, err
	}
	var items []NetworkItem
	for _, line := range jsonLines(out) {
		var nw struct {
			ID     string `json:"ID"`
			Name   string `json:"Name"`
			Driver string `json:"Driver"`
		}
		if err := json.Unmarshal([]byte(line), &nw); err != nil {
			return nil, fmt.Errorf("parsing docker network listing %q: %w", line, err)
		}
		if defaultNetworks[nw.Name] {
			continue
		}
		attached, err := c.runner.Run(ctx, fmt.Sprintf("%s network inspect %s --format '{{json .Containers}}'", dockerBin, nw.Name))
		if err != nil {
			c.logger.Debug("could not inspect network %s: %v", nw.Name, err)
			continue
		}
		if t := strings.TrimSpace(attached); t == "{}" || t == "null" {
			items = append(items, NetworkItem{ID: nw.ID, Name: nw.Name, Driver: nw.Driver})
		}
	}
	return items, nil
}

// diskUsage pulls build cache and volume stats from `docker system df -v`.
func (c *remoteCleaner) diskUsage(ctx context.Context) (int64, []VolumeItem, error) {
	out, err := c.runner.Run(ctx, dockerBin+" system df -v --format '{{json .}}'")
	if err != nil {
		return 0, nil, err
	}
	var df struct {
		BuildCache []struct {
			Size  string `json:"Size"`
			InUse bool   `json:"InUse"`
		} `json:"BuildCache"`
		Volumes []struct {
			Name   string `json:"Name"`
			Driver string `json:"Driver"`
			Size   string `json:"Size"`
		} `json:"Volumes"`
	}
	for _, line := range jsonLines(out) {
		if err := json.Unmarshal([]byte(line), &df); err != nil {
			c.logger.Debug("skipping docker df line %q: %v", line, err)
		}
	}

	var cacheBytes int64
	for _, item := range df.BuildCache {
		if !item.InUse {
			cacheBytes += parseSize(item.Size)
		}
	}

	var volumes []VolumeItem
	for _, vol := range df.Volumes {
		usedBy, err := c.volumeUsers(ctx, vol.Name)
		if err != nil {
			c.logger.Debug("could not list users of volume %s: %v", vol.Name, err)
		}
		volumes = append(volumes, VolumeItem{
			Name:   vol.Name,
			Driver: vol.Driver,
			Size:   parseSize(vol.Size),
			UsedBy: usedBy,
		})
	}
	return cacheBytes, volumes, nil
}

func (c *remoteCleaner) volumeUsers(ctx context.Context, name string) ([]string, error) {
	out, err := c.runner.Run(ctx, fmt.Sprintf("%s ps -a --filter 'volume=%s' --format '{{.Names}}'", dockerBin, name))
	if err != nil {
		return nil, err
	}
	var users []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			users = append(users, line)
		}
	}
	return users, nil
}

func (c *remoteCleaner) staleContainers(ctx context.Context) ([]ContainerItem, error) {
	out, err := c.runner.Run(ctx, dockerBin+" ps -a --size --format '{{json .}}'")
	if err != nil {
		return nil, err
	}
	cutoff := c.now().AddDate(0, 0, -c.stoppedAgeDays)
	var items []ContainerItem
	for _, line := range jsonLines(out) {
		var ct struct {
			ID        string `json:"ID"`
			Names     string `json:"Names"`
			Image     string `json:"Image"`
			State     string `json:"State"`
			Status    string `json:"Status"`
			Size      string `json:"Size"`
			CreatedAt string `json:"CreatedAt"`
		}
		if err := json.Unmarshal([]byte(line), &ct); err != nil {
			return nil, fmt.Errorf("parsing docker container listing %q: %w", line, err)
		}
		if ct.State == "running" {
			continue
		}
		created := parseContainerTimestamp(ct.CreatedAt)
		if created.IsZero() || created.After(cutoff) {
			continue
		}
		// "Size" reads like "12.3MB (virtual 250MB)"; the first number is
		// the writable layer.
		size, _, _ := strings.Cut(ct.Size, " ")
		items = append(items, ContainerItem{
			ID:      ct.ID,
			Name:    ct.Names,
			Image:   ct.Image,
			Status:  ct.Status,
			Size:    parseSize(size),
			Created: created,
		})
	}
	return items, nil
}

func (c *remoteCleaner) Execute(ctx context.Context, profile Profile) (*Result, error) {
	result := &Result{Server: c.runner.Server().Name}

	c.prune(ctx, result, dockerBin+" image prune -f", func(count int, bytes int64) {
		result.ImagesRemoved = count
		result.ReclaimedBytes += bytes
	})
	c.pruneNetworks(ctx, result)

	if profile.removesBuildCache() {
		c.prune(ctx, result, dockerBin+" builder prune -f", func(count int, bytes int64) {
			result.BuildCacheBytes = bytes
			result.ReclaimedBytes += bytes
		})
	}
	if profile.removesStoppedContainers() {
		until := fmt.Sprintf("until=%dh", c.stoppedAgeDays*24)
		c.prune(ctx, result, fmt.Sprintf("%s container prune -f --filter '%s'", dockerBin, until), func(count int, bytes int64) {
			result.ContainersRemoved = count
			result.ReclaimedBytes += bytes
		})
	}
	return result, nil
}

// prune runs one prune command, records its outcome, and turns failures
// into result errors so the remaining classes still get pruned.
func (c *remoteCleaner) prune(ctx context.Context, result *Result, command string, record func(count int, bytes int64)) {
	out, err := c.runner.Run(ctx, command)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", command, err))
		return
	}
	count, bytes := parsePruneOutput(out)
	record(count, bytes)
}

func (c *remoteCleaner) pruneNetworks(ctx context.Context, result *Result) {
	out, err := c.runner.Run(ctx, dockerBin+" network prune -f")
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("network prune: %v", err))
		return
	}
	result.NetworksRemoved = countDeletedNetworks(out)
}

// parsePruneOutput extracts the item count and reclaimed bytes from docker
// prune output:
//
//	Deleted Images:
//	deleted: sha256:abc...
//	Total reclaimed space: 500MB
func parsePruneOutput(out string) (count int, bytes int64) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if after, found := strings.CutPrefix(line, "Total reclaimed space:"); found {
			bytes = parseSize(after)
			continue
		}
		if strings.HasPrefix(line, "deleted:") || strings.HasPrefix(line, "sha256:") || isShortID(line) {
			count++
		}
	}
	return count, bytes
}

// countDeletedNetworks counts names listed under "Deleted Networks:".
func countDeletedNetworks(out string) int {
	count := 0
	counting := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "Deleted Networks:" {
			counting = true
			continue
		}
		if counting && line != "" {
			count++
		}
	}
	return count
}

func isShortID(s string) bool {
	if len(s) != 12 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// parseSize reads docker CLI sizes like "500MB" or "1.5GB". Unparseable
// input counts as zero rather than failing a whole report.
func parseSize(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0
	}
	return n
}

// parseContainerTimestamp handles the CLI's "2024-01-15 10:30:45 +0000 UTC"
// format.
func parseContainerTimestamp(s string) time.Time {
	if len(s) < 19 {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02 15:04:05", s[:19])
	if err != nil {
		return time.Time{}
	}
	return t
}

func jsonLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
