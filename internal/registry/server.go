package registry

import (
	"fmt"
	"strings"
)

// Server identifies a single execution target. A server with an empty Host
// is the local machine and never needs a credential.
type Server struct {
	Name string
	User string
	Host string
}

// Local reports whether this server is the local machine.
func (s Server) Local() bool {
	return s.Host == ""
}

// DisplayHost returns a human-readable connection string.
func (s Server) DisplayHost() string {
	if s.Local() {
		return "local"
	}
	if s.User == "" {
		return s.Host
	}
	return fmt.Sprintf("%s@%s", s.User, s.Host)
}

func (s Server) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.DisplayHost())
}

// isLocalAlias reports whether the given token names the local machine.
func isLocalAlias(token string) bool {
	return strings.EqualFold(token, "local") || strings.EqualFold(token, "localhost")
}

// ParseServer parses a single server entry.
//
// Accepted forms:
//
//	name:user@host    named remote server
//	user@host         remote server, name derived from the host part
//	name:local        named alias for the local machine
//	local             the local machine
func ParseServer(entry, localName string) (Server, error) {
	entry = strings.TrimSpace(entry)

	name, target, hasName := strings.Cut(entry, ":")
	if !hasName {
		target = entry
		name = ""
	}
	name = strings.TrimSpace(name)
	target = strings.TrimSpace(target)

	if isLocalAlias(target) {
		if name == "" {
			name = localName
		}
		return Server{Name: name}, nil
	}

	user, host, hasAt := strings.Cut(target, "@")
	if !hasAt || user == "" || host == "" {
		return Server{}, &MalformedSpecError{Spec: entry}
	}

	if name == "" {
		name = host
	}
	return Server{Name: name, User: user, Host: host}, nil
}
