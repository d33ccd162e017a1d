package webhook

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operation names a webhook-triggerable action.
type Operation string

const (
	OpUpdateOS          Operation = "update-os"
	OpUpdateDockerAll   Operation = "update-docker-all"
	OpUpdateDockerImage Operation = "update-docker-image"
	OpCleanupSafe       Operation = "cleanup-safe"
	OpPruneUnusedImages Operation = "cleanup-prune-unused"
)

// JobState is the lifecycle stage of a dispatched job. Transitions only
// move forward: Pending → Running → Completed or Failed.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is one background task spawned by an accepted webhook request.
type Job struct {
	ID        string
	Operation Operation
	Server    string

	mu         sync.Mutex
	state      JobState
	message    string
	startedAt  time.Time
	finishedAt time.Time
}

func newJob(op Operation, server string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Operation: op,
		Server:    server,
		state:     JobPending,
		startedAt: time.Now(),
	}
}

// State returns the job's current lifecycle stage.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Message returns the job's final result or error text.
func (j *Job) Message() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.message
}

var validTransitions = map[JobState][]JobState{
	JobPending: {JobRunning},
	JobRunning: {JobCompleted, JobFailed},
}

// transition advances the job state. Moving backwards or out of a terminal
// state is an error; terminal states are final.
func (j *Job) transition(to JobState, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, allowed := range validTransitions[j.state] {
		if to == allowed {
			j.state = to
			j.message = message
			if to == JobCompleted || to == JobFailed {
				j.finishedAt = time.Now()
			}
			return nil
		}
	}
	return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, j.state, to)
}

// jobStore keeps in-flight jobs for introspection. A job is discarded once
// it reaches a terminal state and its notification has gone out.
type jobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[string]*Job)}
}

func (s *jobStore) add(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *jobStore) get(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

func (s *jobStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *jobStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
