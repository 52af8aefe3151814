package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/safetymv/api/internal/model"
)

// ErrJobNotFound is returned when a job id does not exist or has expired.
var ErrJobNotFound = errors.New("job not found")

const jobTTL = 24 * time.Hour

// JobStore persists job records as JSON blobs in Redis. All mutations go
// through Update, which serializes read-modify-write per job id so that
// concurrent workers never interleave partial writes.
type JobStore struct {
	rdb *redis.Client
	ttl time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewJobStore creates a job store backed by the given Redis client.
func NewJobStore(rdb *redis.Client) *JobStore {
	return &JobStore{
		rdb:   rdb,
		ttl:   jobTTL,
		locks: make(map[string]*sync.Mutex),
	}
}

func jobKey(jobID string) string {
	return "job:" + jobID
}

func (s *JobStore) lockFor(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	return l
}

// Create persists a new job record.
func (s *JobStore) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.rdb.Set(ctx, jobKey(job.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// Get loads a job record by id.
func (s *JobStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Update applies mutate to the stored record under the per-job lock and
// writes the whole record back. mutate returning an error aborts the write.
func (s *JobStore) Update(ctx context.Context, jobID string, mutate func(*model.Job) error) (*model.Job, error) {
	l := s.lockFor(jobID)
	l.Lock()
	defer l.Unlock()

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := mutate(job); err != nil {
		return nil, err
	}
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.rdb.Set(ctx, jobKey(jobID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	return job, nil
}
