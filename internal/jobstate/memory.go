package jobstate

import (
	"context"
	"sync"
)

// Compile-time check that MemStore implements Store.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory implementation of Store. It mirrors the DynamoDB
// conditional-create semantics and is used by tests and local runs.
type MemStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemStore creates an empty in-memory job store.
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]*Job)}
}

// Create conditionally inserts a queued job record; existing IDs are a no-op.
func (s *MemStore) Create(_ context.Context, jobID, objectKey, objectBucket, objectVersion string) error {
	if jobID == "" {
		return ErrJobIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; ok {
		return nil
	}

	now := nowISO()
	s.jobs[jobID] = &Job{
		JobID:         jobID,
		Status:        StatusQueued,
		CurrentStage:  StageQueued,
		ObjectKey:     objectKey,
		ObjectBucket:  objectBucket,
		ObjectVersion: objectVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return nil
}

// Get retrieves a copy of a job, or (nil, nil) when it does not exist.
func (s *MemStore) Get(_ context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, ErrJobIDRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}

// Update applies a partial update and refreshes updated_at.
func (s *MemStore) Update(_ context.Context, jobID string, u Update) error {
	if jobID == "" {
		return ErrJobIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		// Match DynamoDB UpdateItem: upsert a bare record.
		job = &Job{JobID: jobID, CreatedAt: nowISO()}
		s.jobs[jobID] = job
	}

	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.CurrentStage != nil {
		job.CurrentStage = *u.CurrentStage
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = *u.ErrorMessage
	}
	if u.ResultKey != nil {
		job.ResultKey = *u.ResultKey
	}
	if u.FailureReportKey != nil {
		job.FailureReportKey = *u.FailureReportKey
	}
	if u.TaskHandle != nil {
		job.TaskHandle = *u.TaskHandle
	}
	if u.Timings != nil {
		job.Timings = u.Timings.Merge(nil)
	}
	job.UpdatedAt = nowISO()
	return nil
}

// List returns jobs, optionally filtered by status.
func (s *MemStore) List(_ context.Context, statusFilter Status, limit int) ([]*Job, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if statusFilter != "" && job.Status != statusFilter {
			continue
		}
		if len(jobs) >= limit {
			break
		}
		jobs = append(jobs, cloneJob(job))
	}
	return jobs, nil
}

// FindQueuedByObjectKey returns the job ID of a queued job for objectKey.
func (s *MemStore) FindQueuedByObjectKey(_ context.Context, objectKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.ObjectKey == objectKey && job.Status == StatusQueued {
			return job.JobID, nil
		}
	}
	return "", nil
}

// Delete removes a job record.
func (s *MemStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func cloneJob(j *Job) *Job {
	out := *j
	if j.Timings != nil {
		out.Timings = j.Timings.Merge(nil)
	}
	return &out
}
