package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/driveimport/pkg/models"
)

type memoryJob struct {
	mu    sync.Mutex
	job   models.Job
	items map[string]struct{}
}

// MemoryStore keeps jobs in process memory. Each job has its own mutex so
// reports for different jobs never contend.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*memoryJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*memoryJob)}
}

func (s *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateJob
	}
	j := *job
	j.Imported = append([]models.ImportedRecord{}, job.Imported...)
	s.jobs[job.ID] = &memoryJob{job: j, items: make(map[string]struct{})}
	return nil
}

// Get returns a copy that later reports do not mutate.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	mj, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	mj.mu.Lock()
	defer mj.mu.Unlock()
	return snapshot(&mj.job), nil
}

func (s *MemoryStore) Apply(ctx context.Context, o models.Outcome, now time.Time) (ApplyResult, error) {
	if err := ValidateOutcome(o); err != nil {
		return ApplyResult{}, err
	}
	mj, ok := s.lookup(o.JobID)
	if !ok {
		return ApplyResult{}, ErrNotFound
	}

	mj.mu.Lock()
	defer mj.mu.Unlock()

	if mj.job.Status == models.JobStatusCompleted {
		return ignored(&mj.job), nil
	}
	if _, seen := mj.items[o.ItemID]; seen {
		return ignored(&mj.job), nil
	}
	if !fits(&mj.job, o) {
		return ignored(&mj.job), nil
	}
	mj.items[o.ItemID] = struct{}{}
	return applyTo(&mj.job, o, now), nil
}

func (s *MemoryStore) lookup(id string) (*memoryJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mj, ok := s.jobs[id]
	return mj, ok
}

func snapshot(job *models.Job) *models.Job {
	cp := *job
	cp.Imported = append([]models.ImportedRecord{}, job.Imported...)
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
