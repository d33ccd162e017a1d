package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsprague84/updatectl/internal/registry"
)

func servers(n int) []registry.Server {
	out := make([]registry.Server, n)
	for i := range out {
		out[i] = registry.Server{Name: fmt.Sprintf("s%d", i), User: "deploy", Host: fmt.Sprintf("h%d", i)}
	}
	return out
}

func TestRunPreservesTargetOrder(t *testing.T) {
	targets := servers(12)

	// Random per-task delays make completion order differ from target
	// order; results must still come back in target order.
	results := Run(context.Background(), targets, func(_ context.Context, s registry.Server) (string, error) {
		time.Sleep(time.Duration(rand.Intn(30)) * time.Millisecond)
		return s.Name, nil
	})

	require.Len(t, results, len(targets))
	for i, r := range results {
		assert.Equal(t, targets[i].Name, r.Server.Name)
		assert.Equal(t, targets[i].Name, r.Value)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	targets := servers(4)
	boom := errors.New("unreachable")

	results := Run(context.Background(), targets, func(_ context.Context, s registry.Server) (int, error) {
		if s.Name == "s2" {
			return 0, boom
		}
		return 42, nil
	})

	assert.Equal(t, 1, FailedCount(results))
	for i, r := range results {
		if i == 2 {
			assert.ErrorIs(t, r.Err, boom)
		} else {
			require.NoError(t, r.Err)
			assert.Equal(t, 42, r.Value)
		}
	}
}

func TestRunConfinesPanics(t *testing.T) {
	targets := servers(3)

	results := Run(context.Background(), targets, func(_ context.Context, s registry.Server) (string, error) {
		if s.Name == "s1" {
			panic("kaboom")
		}
		return "ok", nil
	})

	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	assert.Contains(t, results[1].Err.Error(), "kaboom")
	require.NoError(t, results[2].Err)
}

func TestRunEmptyTargets(t *testing.T) {
	results := Run(context.Background(), nil, func(_ context.Context, _ registry.Server) (string, error) {
		return "never", nil
	})
	assert.Empty(t, results)
}

func TestRunPassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	results := Run(ctx, servers(1), func(ctx context.Context, _ registry.Server) (any, error) {
		return ctx.Value(key{}), nil
	})
	require.Len(t, results, 1)
	assert.Equal(t, "v", results[0].Value)
}
