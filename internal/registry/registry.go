// Package registry resolves human-specified server identifiers into
// connection targets. Parsing is pure string work with no network I/O, so a
// Registry is safe to share across goroutines once built.
package registry

import (
	"sort"
	"strings"
)

// Registry holds the configured servers keyed by name. Entry order from the
// configuration string is preserved for deterministic listing and batch
// reporting.
type Registry struct {
	servers   map[string]Server
	order     []string
	localName string
}

// Parse builds a Registry from a comma-separated server list. Empty entries
// are skipped. A later entry with the same name overrides the earlier one
// but keeps its original position.
func Parse(spec, localName string) (*Registry, error) {
	if localName == "" {
		localName = "localhost"
	}
	r := &Registry{
		servers:   make(map[string]Server),
		localName: localName,
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		server, err := ParseServer(entry, localName)
		if err != nil {
			return nil, err
		}
		if _, seen := r.servers[server.Name]; !seen {
			r.order = append(r.order, server.Name)
		}
		r.servers[server.Name] = server
	}

	return r, nil
}

// Local returns the local execution target.
func (r *Registry) Local() Server {
	return Server{Name: r.localName}
}

// Len returns the number of configured servers.
func (r *Registry) Len() int {
	return len(r.servers)
}

// All returns the configured servers in configuration order.
func (r *Registry) All() []Server {
	out := make([]Server, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.servers[name])
	}
	return out
}

// Names returns the configured server names sorted alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a name or an ad-hoc connection spec to a server. Lookup by
// name is case-sensitive. The bare tokens "local" and "localhost" always
// resolve to the local target, whether or not one is configured. Anything
// containing '@' or ':' is parsed as a connection spec on the fly.
func (r *Registry) Resolve(nameOrSpec string) (Server, error) {
	nameOrSpec = strings.TrimSpace(nameOrSpec)

	if server, ok := r.servers[nameOrSpec]; ok {
		return server, nil
	}
	if isLocalAlias(nameOrSpec) {
		return r.Local(), nil
	}
	if strings.ContainsAny(nameOrSpec, "@:") {
		return ParseServer(nameOrSpec, r.localName)
	}
	return Server{}, &UnknownServerError{Name: nameOrSpec}
}

// ResolveList resolves a comma-separated list of names or specs, preserving
// input order.
func (r *Registry) ResolveList(input string) ([]Server, error) {
	var servers []Server
	for _, token := range strings.Split(input, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		server, err := r.Resolve(token)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, nil
}
