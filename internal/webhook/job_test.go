package webhook

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	job := newJob(OpUpdateOS, "web")
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobPending, job.State())

	require.NoError(t, job.transition(JobRunning, ""))
	assert.Equal(t, JobRunning, job.State())

	require.NoError(t, job.transition(JobCompleted, "Up to date"))
	assert.Equal(t, JobCompleted, job.State())
	assert.Equal(t, "Up to date", job.Message())
}

func TestJobStateOnlyMovesForward(t *testing.T) {
	job := newJob(OpCleanupSafe, "web")

	require.Error(t, job.transition(JobCompleted, ""), "pending cannot jump to completed")
	require.NoError(t, job.transition(JobRunning, ""))
	require.Error(t, job.transition(JobPending, ""), "no moving backwards")
	require.NoError(t, job.transition(JobFailed, "boom"))

	// Terminal states are final.
	require.Error(t, job.transition(JobRunning, ""))
	require.Error(t, job.transition(JobCompleted, ""))
	assert.Equal(t, JobFailed, job.State())
	assert.Equal(t, "boom", job.Message())
}

func TestJobStore(t *testing.T) {
	store := newJobStore()
	job := newJob(OpUpdateDockerAll, "web")
	store.add(job)

	got, ok := store.get(job.ID)
	require.True(t, ok)
	assert.Same(t, job, got)

	_, ok = store.get("missing")
	assert.False(t, ok)

	store.remove(job.ID)
	_, ok = store.get(job.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, store.len())
}

func TestTokenMatches(t *testing.T) {
	secret := "a-sufficiently-long-shared-secret!"

	assert.True(t, tokenMatches(secret, secret))
	assert.False(t, tokenMatches("wrong", secret))
	assert.False(t, tokenMatches("", secret))
	assert.False(t, tokenMatches(secret+"x", secret))
	assert.False(t, tokenMatches(strings.Repeat("x", 100000), secret))

	// An unset secret must never authenticate anything, including "".
	assert.False(t, tokenMatches("", ""))
	assert.False(t, tokenMatches("anything", ""))
}

// Rejection time must not depend on where the first wrong byte sits, or an
// attacker could recover the secret position by position. Hashing both
// sides first makes the comparison length-fixed; this samples it to make
// sure no position-dependent path sneaks in. The bound is deliberately
// loose to survive scheduler noise.
func TestTokenMatchesTimingPositionIndependent(t *testing.T) {
	secret := strings.Repeat("s", 64)
	firstByteWrong := "X" + strings.Repeat("s", 63)
	lastByteWrong := strings.Repeat("s", 63) + "X"

	sample := func(token string) time.Duration {
		best := time.Duration(1<<63 - 1)
		for run := 0; run < 5; run++ {
			start := time.Now()
			for i := 0; i < 2000; i++ {
				tokenMatches(token, secret)
			}
			if d := time.Since(start); d < best {
				best = d
			}
		}
		return best
	}

	early := sample(firstByteWrong)
	late := sample(lastByteWrong)

	slow, fast := early, late
	if slow < fast {
		slow, fast = fast, slow
	}
	assert.Less(t, float64(slow)/float64(fast), 5.0,
		"rejection time varied with mismatch position (early=%v late=%v)", early, late)
}
