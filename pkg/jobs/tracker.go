// Package jobs tracks asynchronous query jobs dispatched to the backend.
package jobs

import (
	"sync"
	"time"

	"github.com/branchsight/branchsight-engine/pkg/models"
)

// Tracker is the in-process registry of dispatched jobs. The executing
// backend owns job results; the tracker only remembers enough to relay the
// completion signal and answer status queries. Terminal jobs are evicted
// once notified.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewTracker creates an empty job tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*models.Job)}
}

// Register records a freshly dispatched job in the pending state.
func (t *Tracker) Register(job *models.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job.Status = models.JobPending
	if job.DispatchAt.IsZero() {
		job.DispatchAt = time.Now()
	}
	t.jobs[job.JobID] = job
}

// Get returns a copy of the tracked job, or false if unknown.
func (t *Tracker) Get(jobID string) (models.Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// Complete transitions a job to its terminal state and removes it from the
// registry. Returns the final job record, or false if the job was never
// tracked by this process (the callback may reach a different instance; the
// relay publish still goes out).
func (t *Tracker) Complete(jobID string, status models.JobStatus) (models.Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return models.Job{}, false
	}
	job.Status = status
	final := *job
	delete(t.jobs, jobID)
	return final, true
}

// Len returns the number of tracked (pending) jobs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}
