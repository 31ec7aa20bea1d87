package service

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
)

const maxRetainedJobs = 50

// JobTracker manages background jobs in memory and fans out progress
// updates to subscribers.
type JobTracker struct {
	mu   sync.RWMutex
	jobs map[string]*domain.JobStatus
	subs map[string][]chan domain.JobStatus // subscribers per job
}

// NewJobTracker creates a new job tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{
		jobs: make(map[string]*domain.JobStatus),
		subs: make(map[string][]chan domain.JobStatus),
	}
}

// CreateJob registers a running job and returns its id.
func (t *JobTracker) CreateJob(jobType string, total int) string {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &domain.JobStatus{
		ID:        id,
		Type:      jobType,
		Status:    domain.JobStatusRunning,
		Total:     total,
		StartedAt: time.Now(),
	}
	t.pruneLocked()
	return id
}

// UpdateJob applies fn to the job and notifies subscribers.
func (t *JobTracker) UpdateJob(id string, fn func(job *domain.JobStatus)) {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	fn(job)
	if job.Status != domain.JobStatusRunning && job.CompletedAt == nil {
		now := time.Now()
		job.CompletedAt = &now
	}
	snapshot := *job

	// Sends stay under the lock: Unsubscribe closes channels while holding it.
	for _, ch := range t.subs[id] {
		select {
		case ch <- snapshot:
		default:
		}
	}
	t.mu.Unlock()
}

// GetJob returns a copy of the job status.
func (t *JobTracker) GetJob(id string) (*domain.JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// RecentJobs returns up to limit jobs, newest first.
func (t *JobTracker) RecentJobs(limit int) []domain.JobStatus {
	t.mu.RLock()
	out := make([]domain.JobStatus, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, *j)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Subscribe returns a channel that receives job updates.
func (t *JobTracker) Subscribe(id string) chan domain.JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribeLocked(id)
}

func (t *JobTracker) subscribeLocked(id string) chan domain.JobStatus {
	ch := make(chan domain.JobStatus, 10)
	t.subs[id] = append(t.subs[id], ch)
	return ch
}

// Watch returns the job's current status and, while it is still running, a
// channel subscribed under the same lock so no later update is missed. A
// finished job yields a nil channel. ok is false for unknown jobs.
func (t *JobTracker) Watch(id string) (ch chan domain.JobStatus, current *domain.JobStatus, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, nil, false
	}
	snapshot := *job
	if job.Status != domain.JobStatusRunning {
		return nil, &snapshot, true
	}
	return t.subscribeLocked(id), &snapshot, true
}

// Unsubscribe removes a channel from subscribers.
func (t *JobTracker) Unsubscribe(id string, ch chan domain.JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[id]
	for i, s := range subs {
		if s == ch {
			t.subs[id] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(t.subs[id]) == 0 {
		delete(t.subs, id)
	}
}

// pruneLocked drops the oldest finished jobs beyond maxRetainedJobs.
func (t *JobTracker) pruneLocked() {
	if len(t.jobs) <= maxRetainedJobs {
		return
	}
	finished := make([]*domain.JobStatus, 0, len(t.jobs))
	for _, j := range t.jobs {
		if j.Status != domain.JobStatusRunning {
			finished = append(finished, j)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].StartedAt.Before(finished[j].StartedAt) })
	for _, j := range finished {
		if len(t.jobs) <= maxRetainedJobs {
			return
		}
		delete(t.jobs, j.ID)
	}
}
