package update

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsprague84/updatectl/internal/log"
)

const imagesJSON = `{"Repository":"nginx","Tag":"latest","ID":"abc"}
{"Repository":"redis","Tag":"7","ID":"def"}
{"Repository":"<none>","Tag":"<none>","ID":"ghi"}
{"Repository":"nginx","Tag":"latest","ID":"abc"}
`

const manifestSingle = `{
  "schemaVersion": 2,
  "config": {"mediaType": "application/vnd.docker.container.image.v1+json", "digest": "sha256:new111"}
}`

const manifestList = `{
  "schemaVersion": 2,
  "manifests": [
    {"digest": "sha256:arch111", "platform": {"architecture": "amd64"}},
    {"digest": "sha256:arch222", "platform": {"architecture": "arm64"}}
  ]
}`

func TestCheckDockerComparesDigests(t *testing.T) {
	r := newFakeRunner("web", func(cmd string) (string, error) {
		switch {
		case strings.Contains(cmd, "images --format"):
			return imagesJSON, nil
		case strings.Contains(cmd, "manifest inspect nginx:latest"):
			return manifestSingle, nil
		case strings.Contains(cmd, "inspect nginx:latest"):
			return "nginx@sha256:old000\n", nil
		case strings.Contains(cmd, "manifest inspect redis:7"):
			return `{"config":{"digest":"sha256:same42"}}`, nil
		case strings.Contains(cmd, "inspect redis:7"):
			return "redis@sha256:same42\n", nil
		}
		return "", errors.New("unexpected command: " + cmd)
	})

	images, err := CheckDocker(context.Background(), r, log.New())
	require.NoError(t, err)
	require.Len(t, images, 2, "untagged and duplicate entries are dropped")

	assert.Equal(t, "nginx:latest", images[0].Ref())
	assert.True(t, images[0].HasUpdate, "differing digest means update available")
	assert.Equal(t, "redis:7", images[1].Ref())
	assert.False(t, images[1].HasUpdate, "matching digest means no update")
}

func TestCheckDockerManifestList(t *testing.T) {
	r := newFakeRunner("web", func(cmd string) (string, error) {
		switch {
		case strings.Contains(cmd, "images --format"):
			return `{"Repository":"nginx","Tag":"latest"}` + "\n", nil
		case strings.Contains(cmd, "manifest inspect"):
			return manifestList, nil
		case strings.Contains(cmd, "inspect nginx:latest"):
			return "nginx@sha256:arch111\n", nil
		}
		return "", errors.New("unexpected command: " + cmd)
	})

	images, err := CheckDocker(context.Background(), r, log.New())
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.False(t, images[0].HasUpdate, "first manifest entry matches local digest")
}

func TestCheckDockerRegistryFailureMeansNoUpdate(t *testing.T) {
	r := newFakeRunner("web", func(cmd string) (string, error) {
		switch {
		case strings.Contains(cmd, "images --format"):
			return `{"Repository":"private.example.com/app","Tag":"v1"}` + "\n", nil
		case strings.Contains(cmd, "inspect private.example.com/app:v1 --format"):
			return "private.example.com/app@sha256:aaa\n", nil
		case strings.Contains(cmd, "manifest inspect"):
			return "", errors.New("unauthorized")
		}
		return "", errors.New("unexpected command: " + cmd)
	})

	images, err := CheckDocker(context.Background(), r, log.New())
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.False(t, images[0].HasUpdate)
}

func TestCheckDockerNoRepoDigest(t *testing.T) {
	r := newFakeRunner("web", func(cmd string) (string, error) {
		switch {
		case strings.Contains(cmd, "images --format"):
			return `{"Repository":"localbuild","Tag":"dev"}` + "\n", nil
		case strings.Contains(cmd, "inspect localbuild:dev"):
			return "<no value>\n", nil
		}
		return "", errors.New("unexpected command: " + cmd)
	})

	images, err := CheckDocker(context.Background(), r, log.New())
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.False(t, images[0].HasUpdate, "locally built images without RepoDigest cannot have registry updates")

	for _, cmd := range r.commands {
		assert.NotContains(t, cmd, "manifest inspect", "no registry call without a local digest")
	}
}

func TestCheckDockerNoImages(t *testing.T) {
	r := newFakeRunner("web", func(cmd string) (string, error) {
		return "\n", nil
	})
	images, err := CheckDocker(context.Background(), r, log.New())
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestParseManifestDigest(t *testing.T) {
	assert.Equal(t, "sha256:new111", parseManifestDigest(manifestSingle))
	assert.Equal(t, "sha256:arch111", parseManifestDigest(manifestList))
	assert.Equal(t, "", parseManifestDigest("not json"))
	assert.Equal(t, "", parseManifestDigest("{}"))
}
