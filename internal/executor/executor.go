// Package executor runs shell commands on registry servers, either in a
// local subprocess or over SSH, behind a single Runner interface.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/jsprague84/updatectl/internal/log"
	"github.com/jsprague84/updatectl/internal/registry"
)

const (
	// DefaultTimeout bounds a single command execution. Package upgrades
	// can be slow, so this is generous.
	DefaultTimeout = 10 * time.Minute

	// DefaultSSHPort is used unless overridden through options.
	DefaultSSHPort = 22

	defaultMaxAttempts  = 3
	defaultInitialDelay = 100 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
)

// Runner executes a shell command and returns its stdout. Implementations
// must return an *ExitError when the command runs but exits non-zero, so
// callers can inspect exit codes and captured output.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
	Server() registry.Server
}

// Executor is the concrete Runner for a single server. Local servers run
// commands through `sh -c`; remote servers open one SSH session per command
// against a connection authenticated with the configured private key.
type Executor struct {
	server  registry.Server
	keyPath string
	sshPort int
	timeout time.Duration
	logger  *log.Logger

	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration

	signerOnce sync.Once
	signer     ssh.Signer
	signerErr  error
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout overrides the per-command deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithSSHPort overrides the SSH port for remote servers.
func WithSSHPort(port int) Option {
	return func(e *Executor) {
		if port > 0 {
			e.sshPort = port
		}
	}
}

// WithRetry overrides the retry schedule for transient failures.
func WithRetry(attempts int, initial, max time.Duration) Option {
	return func(e *Executor) {
		if attempts > 0 {
			e.maxAttempts = attempts
		}
		if initial > 0 {
			e.initialDelay = initial
		}
		if max > 0 {
			e.maxDelay = max
		}
	}
}

// New creates an Executor for the given server. keyPath may be empty for
// local servers.
func New(server registry.Server, keyPath string, logger *log.Logger, opts ...Option) *Executor {
	e := &Executor{
		server:       server,
		keyPath:      keyPath,
		sshPort:      DefaultSSHPort,
		timeout:      DefaultTimeout,
		logger:       logger,
		maxAttempts:  defaultMaxAttempts,
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Server returns the server this executor targets.
func (e *Executor) Server() registry.Server { return e.server }

// Run executes a command, retrying transient connection and timeout
// failures. Authentication failures and non-zero exits are returned
// immediately.
func (e *Executor) Run(ctx context.Context, command string) (string, error) {
	out, err := runWithRetry(ctx, e.logger, e.server.DisplayHost(), retrySchedule{
		maxAttempts:  e.maxAttempts,
		initialDelay: e.initialDelay,
		maxDelay:     e.maxDelay,
	}, func() (string, error) {
		return e.RunOnce(ctx, command)
	})
	// Command output can be large; only format it when debug is on.
	if err == nil && e.logger.IsDebugEnabled() {
		e.logger.Debug("%s: %q -> %s", e.server.DisplayHost(), command, strings.TrimSpace(out))
	}
	return out, err
}

// RunOnce executes a command exactly once, without retry.
func (e *Executor) RunOnce(ctx context.Context, command string) (string, error) {
	if e.server.Local() {
		return e.runLocal(ctx, command)
	}
	return e.runSSH(ctx, command)
}

func (e *Executor) runLocal(ctx context.Context, command string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.logger.Debug("local exec: %s", command)

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", &TimeoutError{Host: e.server.DisplayHost(), Timeout: e.timeout}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &ExitError{
			Host:    e.server.DisplayHost(),
			Command: command,
			Code:    exitErr.ExitCode(),
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
		}
	}
	return "", fmt.Errorf("executing %q locally: %w", command, err)
}

func (e *Executor) runSSH(ctx context.Context, command string) (string, error) {
	signer, err := e.loadSigner()
	if err != nil {
		return "", err
	}

	host := e.server.DisplayHost()
	addr := net.JoinHostPort(e.server.Host, fmt.Sprintf("%d", e.sshPort))
	cfg := &ssh.ClientConfig{
		User:            e.server.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	e.logger.Debug("ssh exec on %s: %s", host, command)

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return "", classifyDialError(host, err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return "", &ConnectionError{Host: host, Err: err}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if err := sess.Start(command); err != nil {
		return "", &ConnectionError{Host: host, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		sess.Signal(ssh.SIGKILL)
		return "", &TimeoutError{Host: host, Timeout: e.timeout}
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	}

	if err == nil {
		return stdout.String(), nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return "", &ExitError{
			Host:    host,
			Command: command,
			Code:    exitErr.ExitStatus(),
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
		}
	}
	return "", fmt.Errorf("executing %q on %s: %w", command, host, err)
}

func (e *Executor) loadSigner() (ssh.Signer, error) {
	e.signerOnce.Do(func() {
		if e.keyPath == "" {
			e.signerErr = &KeyError{Path: "", Err: errors.New("no ssh key configured")}
			return
		}
		key, err := os.ReadFile(e.keyPath)
		if err != nil {
			e.signerErr = &KeyError{Path: e.keyPath, Err: err}
			return
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			e.signerErr = &KeyError{Path: e.keyPath, Err: err}
			return
		}
		e.signer = signer
	})
	return e.signer, e.signerErr
}

// classifyDialError maps an ssh.Dial failure onto the error taxonomy.
// Only refused/reset/DNS failures become transient ConnectionErrors;
// anything mentioning authentication becomes a permanent AuthError.
func classifyDialError(host string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied") {
		return &AuthError{Host: host, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ConnectionError{Host: host, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return &ConnectionError{Host: host, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectionError{Host: host, Err: err}
	}
	return fmt.Errorf("ssh dial %s: %w", host, err)
}
