package update

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jsprague84/updatectl/internal/executor"
	"github.com/jsprague84/updatectl/internal/log"
)

const dockerBin = "/usr/bin/docker"

// Image is a locally present Docker image and whether the registry holds a
// newer digest for its tag.
type Image struct {
	Repository string
	Tag        string
	HasUpdate  bool
}

// Ref returns the repository:tag reference.
func (i Image) Ref() string { return i.Repository + ":" + i.Tag }

func (i Image) String() string {
	if i.HasUpdate {
		return i.Ref() + " (update available)"
	}
	return i.Ref()
}

// imageLine is one line of `docker images --format '{{json .}}'`.
type imageLine struct {
	Repository string `json:"Repository"`
	Tag        string `json:"Tag"`
}

// CheckDocker lists local images and checks each tag against its registry.
// Registry failures (private registries, rate limits, network) degrade to
// "no update" rather than failing the whole check.
func CheckDocker(ctx context.Context, r executor.Runner, logger *log.Logger) ([]Image, error) {
	out, err := r.Run(ctx, dockerBin+" images --format '{{json .}}'")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var images []Image
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var info imageLine
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			logger.Warn("skipping unparseable docker image line %q: %v", line, err)
			continue
		}
		if info.Repository == "<none>" || info.Tag == "<none>" {
			continue
		}
		ref := info.Repository + ":" + info.Tag
		if seen[ref] {
			continue
		}
		seen[ref] = true

		hasUpdate, err := imageHasUpdate(ctx, r, info.Repository, info.Tag, logger)
		if err != nil {
			logger.Warn("could not check updates for %s on %s: %v", ref, r.Server().DisplayHost(), err)
			hasUpdate = false
		}
		images = append(images, Image{Repository: info.Repository, Tag: info.Tag, HasUpdate: hasUpdate})
	}

	sort.Slice(images, func(a, b int) bool { return images[a].Ref() < images[b].Ref() })
	return images, nil
}

// imageHasUpdate compares the local RepoDigest against the digest the
// registry currently serves for the tag. Anything that prevents a clean
// comparison means "no update": a false positive would trigger pointless
// pulls and restarts.
func imageHasUpdate(ctx context.Context, r executor.Runner, repo, tag string, logger *log.Logger) (bool, error) {
	ref := repo + ":" + tag
	out, err := r.Run(ctx, fmt.Sprintf("%s inspect %s --format '{{index .RepoDigests 0}}'", dockerBin, ref))
	if err != nil {
		return false, err
	}

	localRepoDigest := strings.TrimSpace(out)
	if localRepoDigest == "" || localRepoDigest == "<no value>" {
		logger.Debug("no RepoDigest for %s", ref)
		return false, nil
	}
	// RepoDigest format is "image@sha256:...".
	_, localDigest, found := strings.Cut(localRepoDigest, "@")
	if !found {
		logger.Debug("unexpected RepoDigest %q for %s", localRepoDigest, ref)
		return false, nil
	}

	manifestOut, err := r.Run(ctx, fmt.Sprintf("%s manifest inspect %s", dockerBin, ref))
	if err != nil {
		logger.Debug("could not fetch remote manifest for %s: %v", ref, err)
		return false, nil
	}

	remoteDigest := parseManifestDigest(manifestOut)
	if remoteDigest == "" {
		logger.Debug("no digest in manifest for %s", ref)
		return false, nil
	}
	logger.Debug("%s digests local=%s remote=%s", ref, localDigest, remoteDigest)
	return remoteDigest != localDigest, nil
}

// parseManifestDigest extracts a digest from `docker manifest inspect`
// output. Plain image manifests carry it at config.digest; multi-arch
// manifest lists carry per-platform digests, where the first entry stands in
// for the whole list.
func parseManifestDigest(manifestJSON string) string {
	var manifest struct {
		Config struct {
			Digest string `json:"digest"`
		} `json:"config"`
		Manifests []struct {
			Digest string `json:"digest"`
		} `json:"manifests"`
	}
	if err := json.Unmarshal([]byte(manifestJSON), &manifest); err != nil {
		return ""
	}
	if manifest.Config.Digest != "" {
		return manifest.Config.Digest
	}
	if len(manifest.Manifests) > 0 {
		return manifest.Manifests[0].Digest
	}
	return ""
}
