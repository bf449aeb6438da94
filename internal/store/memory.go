package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
)

// MemoryJobStore keeps jobs in process. All access is serialized by one
// mutex and callers only ever see copies.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[string]*models.Job{}}
}

func (s *MemoryJobStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; ok {
		return fmt.Errorf("job %s: %w", job.JobID, models.ErrAlreadyExists)
	}
	s.jobs[job.JobID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) LatestJob(_ context.Context, merchantID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Job
	for _, job := range s.jobs {
		if job.MerchantID != merchantID {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) ||
			(job.CreatedAt.Equal(latest.CreatedAt) && job.JobID > latest.JobID) {
			latest = job
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no job for merchant %s: %w", merchantID, models.ErrNotFound)
	}
	return latest.Clone(), nil
}

// UpdateJob applies mutate to a copy and commits it only when mutate succeeds.
func (s *MemoryJobStore) UpdateJob(_ context.Context, jobID string, mutate func(*models.Job) error) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	cp := job.Clone()
	if err := mutate(cp); err != nil {
		return nil, err
	}
	s.jobs[jobID] = cp
	return cp.Clone(), nil
}

func (s *MemoryJobStore) DeleteMerchantJobs(_ context.Context, merchantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.MerchantID == merchantID {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// MemoryMerchantStore keeps merchants in process.
type MemoryMerchantStore struct {
	mu        sync.Mutex
	merchants map[string]models.Merchant
}

func NewMemoryMerchantStore() *MemoryMerchantStore {
	return &MemoryMerchantStore{merchants: map[string]models.Merchant{}}
}

func (s *MemoryMerchantStore) GetMerchant(_ context.Context, merchantID string) (*models.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[merchantID]
	if !ok {
		return nil, fmt.Errorf("merchant %s: %w", merchantID, models.ErrNotFound)
	}
	return copyMerchant(m), nil
}

func (s *MemoryMerchantStore) UpsertMerchant(_ context.Context, m *models.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.merchants[m.MerchantID]; ok && m.CreatedAt.IsZero() {
		m.CreatedAt = existing.CreatedAt
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.merchants[m.MerchantID] = *copyMerchant(*m)
	return nil
}

func (s *MemoryMerchantStore) UpdateMerchant(_ context.Context, merchantID string, mutate func(*models.Merchant) error) (*models.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.merchants[merchantID]
	if !ok {
		return nil, fmt.Errorf("merchant %s: %w", merchantID, models.ErrNotFound)
	}
	m := copyMerchant(existing)
	if err := mutate(m); err != nil {
		return nil, err
	}
	m.MerchantID = merchantID
	m.UpdatedAt = time.Now()
	s.merchants[merchantID] = *copyMerchant(*m)
	return m, nil
}

func (s *MemoryMerchantStore) ListMerchants(_ context.Context, userID string) ([]models.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Merchant
	for _, m := range s.merchants {
		if m.Status == models.MerchantDeleted || (userID != "" && m.UserID != userID) {
			continue
		}
		out = append(out, *copyMerchant(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].MerchantID < out[j].MerchantID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryMerchantStore) SoftDeleteMerchant(_ context.Context, merchantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[merchantID]
	if !ok {
		return fmt.Errorf("merchant %s: %w", merchantID, models.ErrNotFound)
	}
	m.Status = models.MerchantDeleted
	m.DeletedAt = &at
	m.VertexDatastoreID = ""
	m.ConfigPath = ""
	m.UpdatedAt = at
	s.merchants[merchantID] = m
	return nil
}

func copyMerchant(m models.Merchant) *models.Merchant {
	cp := m
	cp.TopQuestions = append([]string(nil), m.TopQuestions...)
	cp.TopProducts = append([]string(nil), m.TopProducts...)
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}
