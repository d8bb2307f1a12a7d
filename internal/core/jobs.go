package core

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job tracks one background compilation.
type Job struct {
	ID        string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Progress  string    `json:"progress,omitempty"`
	TreeID    string    `json:"tree_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether the job reached a final state.
func (j Job) Done() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// Jobs is an in-process job table. Jobs are lost on restart.
type Jobs struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	now   func() time.Time
	newID func() string
}

func NewJobs() *Jobs {
	return &Jobs{
		jobs:  map[string]*Job{},
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Create registers a pending job and returns a copy of it.
func (j *Jobs) Create() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now().UTC()
	job := &Job{ID: j.newID(), Status: JobPending, CreatedAt: now, UpdatedAt: now}
	j.jobs[job.ID] = job
	return *job
}

// Update applies fn to the job under the lock. Unknown ids are ignored.
func (j *Jobs) Update(id string, fn func(*Job)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = j.now().UTC()
}

func (j *Jobs) Get(id string) (Job, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	job, ok := j.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns all jobs, oldest first.
func (j *Jobs) List() []Job {
	j.mu.RLock()
	out := make([]Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		out = append(out, *job)
	}
	j.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}
