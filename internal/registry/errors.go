package registry

import "fmt"

// MalformedSpecError indicates a server entry that is neither a remote
// connection spec nor a recognized local alias.
type MalformedSpecError struct {
	Spec string
}

func (e *MalformedSpecError) Error() string {
	return fmt.Sprintf("invalid server format: %q, expected 'name:user@host' or 'user@host'", e.Spec)
}

// UnknownServerError indicates a requested name that matches no configured
// or ad-hoc entry.
type UnknownServerError struct {
	Name string
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("server %q not found in configuration", e.Name)
}
