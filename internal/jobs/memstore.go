package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/store"
)

// MemStore is an in-memory schemas.JobStore, used when no database is
// configured. Jobs are lost on exit.
type MemStore struct {
	mu   sync.RWMutex
	jobs map[string]*schemas.Job
}

var _ schemas.JobStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]*schemas.Job)}
}

func (m *MemStore) CreateJob(_ context.Context, job *schemas.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *MemStore) MarkRunning(_ context.Context, id string, startedAt time.Time, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, id)
	}
	job.Status = schemas.JobRunning
	job.StartedAt = &startedAt
	job.Attempts = attempts
	return nil
}

func (m *MemStore) CompleteJob(_ context.Context, id string, status schemas.JobStatus, result *schemas.WorkflowResult, log []string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, id)
	}
	job.Status = status
	job.Results = nil
	if result != nil {
		r := *result
		job.Results = &r
	}
	job.Log = append([]string{}, log...)
	job.CompletedAt = &completedAt
	return nil
}

func (m *MemStore) GetJob(_ context.Context, id string) (*schemas.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, id)
	}
	return copyJob(job), nil
}

// ListJobs returns up to limit jobs, newest first.
func (m *MemStore) ListJobs(_ context.Context, limit int) ([]schemas.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]schemas.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func copyJob(in *schemas.Job) *schemas.Job {
	out := *in
	out.Log = append([]string{}, in.Log...)
	if in.Parameters.User != nil {
		out.Parameters.User = make(map[string]string, len(in.Parameters.User))
		for k, v := range in.Parameters.User {
			out.Parameters.User[k] = v
		}
	}
	if in.Results != nil {
		r := *in.Results
		out.Results = &r
	}
	if in.StartedAt != nil {
		t := *in.StartedAt
		out.StartedAt = &t
	}
	if in.CompletedAt != nil {
		t := *in.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
