package executor

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionError indicates a transient network failure while reaching a
// host: connection refused or reset, or a DNS resolution failure. These are
// the only connection classes the retry loop will attempt again.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError indicates the host rejected our key. Never retried.
type AuthError struct {
	Host string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Host, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// KeyError indicates the configured private key could not be loaded.
type KeyError struct {
	Path string
	Err  error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("ssh key %s unusable: %v", e.Path, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// TimeoutError indicates the command exceeded its deadline. The remote
// process is not guaranteed to have been killed.
type TimeoutError struct {
	Host    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout executing command on %s (exceeded %s)", e.Host, e.Timeout)
}

// ExitError indicates the command itself ran and returned a non-zero exit
// code. Captured output is kept because some tools signal conditions
// through their exit code (dnf check-update exits 100 when updates exist).
type ExitError struct {
	Host    string
	Command string
	Code    int
	Stdout  string
	Stderr  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d on %s: %s", e.Code, e.Host, e.Command)
}

// IsTransient reports whether an error belongs to a class worth retrying.
// Authentication failures and command exit codes are deliberately excluded.
func IsTransient(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}
