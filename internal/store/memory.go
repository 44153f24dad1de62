package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/videojobs/pkg/models"
)

// MemoryStore is an in-process Store. It is used for local development
// (STORE_DRIVER=memory) and as the store behind package tests.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.VideoJob
	channels map[string]*models.Channel
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[uuid.UUID]*models.VideoJob),
		channels: make(map[string]*models.Channel),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// PutChannel inserts or replaces a channel.
func (s *MemoryStore) PutChannel(c *models.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.channels[c.ID] = &cp
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.VideoJob) error {
	if err := job.Validate(); err != nil {
		return ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Work on a copy so a rejected update leaves the stored record untouched.
	next := current.Clone()
	changed, err := applyJobUpdate(next, s.now(), opts)
	if err != nil {
		return nil, err
	}
	if !changed {
		return current.Clone(), nil
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []*models.VideoJob{}
	for _, j := range s.jobs {
		if filter.ChannelID != "" && j.Scope() != filter.ChannelID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, j.Status) {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !j.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		jobs = append(jobs, j.Clone())
	}
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID.String() > jobs[b].ID.String()
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return []*models.VideoJob{}, nil
		}
		jobs = jobs[filter.Offset:]
	}
	if limit := filter.limit(); len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) CountNonTerminalJobs(_ context.Context, channelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, j := range s.jobs {
		if channelID != "" && j.Scope() != channelID {
			continue
		}
		if !j.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) GetChannel(_ context.Context, id string) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func containsStatus(statuses []models.JobStatus, s models.JobStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
