package update

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsprague84/updatectl/internal/executor"
	"github.com/jsprague84/updatectl/internal/registry"
)

// fakeRunner scripts command responses and records every command issued.
type fakeRunner struct {
	server   registry.Server
	handler  func(command string) (string, error)
	commands []string
}

func (f *fakeRunner) Run(_ context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	if f.handler == nil {
		return "", nil
	}
	return f.handler(command)
}

func (f *fakeRunner) Server() registry.Server { return f.server }

func newFakeRunner(name string, handler func(string) (string, error)) *fakeRunner {
	return &fakeRunner{server: registry.Server{Name: name}, handler: handler}
}

const aptSample = `Listing...
docker-ce/jammy 5:25.0.0-1~ubuntu.22.04~jammy amd64 [upgradable from: 5:24.0.7-1~ubuntu.22.04~jammy]
linux-image-generic/jammy-security 5.15.0.91.89 amd64 [upgradable from: 5.15.0.89.87]
vim/jammy 2:8.2.3995-1ubuntu2.15 amd64 [upgradable from: 2:8.2.3995-1ubuntu2.14]
`

const dnfSample = `docker-ce.x86_64                    3:25.0.0-1.fc39                    docker-ce-stable
kernel.x86_64                       6.6.8-200.fc39                     updates
vim-enhanced.x86_64                 2:9.0.2120-1.fc39                  updates
`

const pacmanSample = `docker 1:25.0.0-1 -> 1:25.0.1-1
linux 6.6.8.arch1-1 -> 6.6.9.arch1-1
vim 9.0.2120-1 -> 9.0.2121-1
`

func TestParseAptPending(t *testing.T) {
	packages := Apt.ParsePending(aptSample)
	assert.Equal(t, []string{"docker-ce", "linux-image-generic (security)", "vim"}, packages)
}

func TestParseAptPendingEmpty(t *testing.T) {
	assert.Empty(t, Apt.ParsePending("Listing...\n"))
}

func TestParseDnfPending(t *testing.T) {
	packages := Dnf.ParsePending(dnfSample)
	assert.Equal(t, []string{"docker-ce", "kernel", "vim-enhanced"}, packages)
}

func TestParseDnfPendingSkipsObsoleteSection(t *testing.T) {
	out := "kernel.x86_64  6.6.8-200.fc39  updates\n# some comment\nOrphaned\n"
	assert.Equal(t, []string{"kernel"}, Dnf.ParsePending(out))
}

func TestParsePacmanPending(t *testing.T) {
	packages := Pacman.ParsePending(pacmanSample)
	assert.Equal(t, []string{"docker", "linux", "vim"}, packages)
}

func TestParsePacmanPendingEmpty(t *testing.T) {
	assert.Empty(t, Pacman.ParsePending(""))
}

func TestDetectPrefersApt(t *testing.T) {
	r := newFakeRunner("web", func(cmd string) (string, error) {
		if strings.Contains(cmd, "/usr/bin/apt ") || strings.Contains(cmd, "/usr/bin/apt &&") {
			return "found\n", nil
		}
		return "", &executor.ExitError{Host: "web", Command: cmd, Code: 1}
	})
	pm, err := Detect(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Apt, pm)
}

func TestDetectFallsThroughToPacman(t *testing.T) {
	r := newFakeRunner("arch", func(cmd string) (string, error) {
		if strings.Contains(cmd, "/usr/bin/pacman") {
			return "found\n", nil
		}
		return "", &executor.ExitError{Host: "arch", Command: cmd, Code: 1}
	})
	pm, err := Detect(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Pacman, pm)
}

func TestDetectNoManager(t *testing.T) {
	r := newFakeRunner("bare", func(cmd string) (string, error) {
		return "", &executor.ExitError{Host: "bare", Command: cmd, Code: 1}
	})
	_, err := Detect(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no supported package manager")
}

func TestCheckOSApt(t *testing.T) {
	r := newFakeRunner("web", func(cmd string) (string, error) {
		switch {
		case strings.Contains(cmd, "test -x /usr/bin/apt"):
			return "found\n", nil
		case strings.Contains(cmd, "list --upgradable"):
			return aptSample, nil
		}
		return "", &executor.ExitError{Host: "web", Command: cmd, Code: 1}
	})
	report, err := CheckOS(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Apt, report.Manager)
	assert.Len(t, report.Packages, 3)
}

func TestCheckOSDnfExit100MeansUpdates(t *testing.T) {
	r := newFakeRunner("fedora", func(cmd string) (string, error) {
		switch {
		case strings.Contains(cmd, "test -x /usr/bin/dnf"):
			return "found\n", nil
		case strings.Contains(cmd, "check-update"):
			return "", &executor.ExitError{Host: "fedora", Command: cmd, Code: 100, Stdout: dnfSample}
		}
		return "", &executor.ExitError{Host: "fedora", Command: cmd, Code: 1}
	})
	report, err := CheckOS(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Dnf, report.Manager)
	assert.Equal(t, []string{"docker-ce", "kernel", "vim-enhanced"}, report.Packages)
}

func TestCheckOSPacmanExit2MeansNone(t *testing.T) {
	r := newFakeRunner("arch", func(cmd string) (string, error) {
		switch {
		case strings.Contains(cmd, "test -x /usr/bin/pacman"):
			return "found\n", nil
		case strings.Contains(cmd, "checkupdates"):
			return "", &executor.ExitError{Host: "arch", Command: cmd, Code: 2}
		}
		return "", &executor.ExitError{Host: "arch", Command: cmd, Code: 1}
	})
	report, err := CheckOS(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Pacman, report.Manager)
	assert.Empty(t, report.Packages)
}

func TestCheckOSOtherExitCodeIsError(t *testing.T) {
	r := newFakeRunner("web", func(cmd string) (string, error) {
		switch {
		case strings.Contains(cmd, "test -x /usr/bin/apt"):
			return "found\n", nil
		default:
			return "", &executor.ExitError{Host: "web", Command: cmd, Code: 1, Stderr: "broken"}
		}
	})
	_, err := CheckOS(context.Background(), r)
	require.Error(t, err)
}
