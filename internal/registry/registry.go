// Package registry tracks the jobs that are currently active.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/lms-courier/internal/job"
)

var (
	// ErrNotFound is returned when no active job has the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicate is returned when registering an id that is already active.
	ErrDuplicate = errors.New("job already registered")
)

// Registry is a concurrency-safe map of active jobs. Entries are shared
// pointers; status changes go through the job itself, never the registry.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{jobs: make(map[string]*job.Job)}
}

// Register adds a job and returns the handle other components share.
func (r *Registry) Register(j *job.Job) (*job.Job, error) {
	if j == nil {
		return nil, errors.New("job is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[j.ID()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, j.ID())
	}
	r.jobs[j.ID()] = j
	return j, nil
}

// Get looks up an active job by id.
func (r *Registry) Get(id string) (*job.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

// List returns a snapshot of the active jobs, oldest first.
func (r *Registry) List() []*job.Job {
	r.mu.RLock()
	out := make([]*job.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		return out[a].StartedAt().Before(out[b].StartedAt())
	})
	return out
}

// Remove deletes a job. Removing an absent id is a no-op; the return value
// tells the caller whether this call was the one that removed it.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	return true
}

// Len returns the number of active jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
