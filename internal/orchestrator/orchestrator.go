// Package orchestrator fans one operation out across a set of servers in
// parallel and collects per-server results without letting one failure
// affect another.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/jsprague84/updatectl/internal/registry"
)

// Result holds one server's outcome. Exactly one of Value and Err is
// meaningful.
type Result[T any] struct {
	Server registry.Server
	Value  T
	Err    error
}

// Failed reports whether this server's operation failed.
func (r Result[T]) Failed() bool { return r.Err != nil }

// Run launches op once per target in its own goroutine and waits for all of
// them. Results are returned in target order, not completion order, so
// reports stay deterministic. A panicking op is confined to its own slot.
func Run[T any](ctx context.Context, targets []registry.Server, op func(ctx context.Context, server registry.Server) (T, error)) []Result[T] {
	results := make([]Result[T], len(targets))

	var wg sync.WaitGroup
	for i, server := range targets {
		wg.Add(1)
		go func(i int, server registry.Server) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result[T]{Server: server, Err: fmt.Errorf("panic on %s: %v", server.DisplayHost(), r)}
				}
			}()
			value, err := op(ctx, server)
			results[i] = Result[T]{Server: server, Value: value, Err: err}
		}(i, server)
	}
	wg.Wait()

	return results
}

// FailedCount returns how many results carry an error.
func FailedCount[T any](results []Result[T]) int {
	count := 0
	for _, r := range results {
		if r.Failed() {
			count++
		}
	}
	return count
}
