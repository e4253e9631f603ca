package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

const stateTTL = 24 * time.Hour

func stateKey(jobID string) string { return "job:state:" + jobID }
func metaKey(jobID string) string  { return "job:meta:" + jobID }

// JobStateStore mirrors live job state in Redis so the dashboard can poll
// without touching the queue store or the ledger. Writes are best-effort;
// the queue store remains the source of truth while a job is in flight.
type JobStateStore interface {
	SetState(ctx context.Context, jobID string, state domain.JobState) error
	GetState(ctx context.Context, jobID string) (domain.JobState, error)
	SetJobMeta(ctx context.Context, job *domain.Job) error
	GetJobMeta(ctx context.Context, jobID string) (*domain.Job, error)
	Ping(ctx context.Context) error
}

type jobStateStore struct {
	client *redis.Client
}

// NewJobStateStore creates a Redis-backed JobStateStore.
func NewJobStateStore(client *redis.Client) JobStateStore {
	return &jobStateStore{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *jobStateStore) SetState(ctx context.Context, jobID string, state domain.JobState) error {
	err := s.client.Set(ctx, stateKey(jobID), string(state), stateTTL).Err()
	if err != nil {
		return fmt.Errorf("redis set state for %s: %w", jobID, err)
	}
	return nil
}

func (s *jobStateStore) GetState(ctx context.Context, jobID string) (domain.JobState, error) {
	val, err := s.client.Get(ctx, stateKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", &domain.JobNotFoundError{JobID: jobID}
		}
		return "", fmt.Errorf("redis get state for %s: %w", jobID, err)
	}
	return domain.JobState(val), nil
}

func (s *jobStateStore) SetJobMeta(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job meta: %w", err)
	}
	if err := s.client.Set(ctx, metaKey(job.ID), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("redis set meta for %s: %w", job.ID, err)
	}
	return nil
}

func (s *jobStateStore) GetJobMeta(ctx context.Context, jobID string) (*domain.Job, error) {
	data, err := s.client.Get(ctx, metaKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.JobNotFoundError{JobID: jobID}
		}
		return nil, fmt.Errorf("redis get meta for %s: %w", jobID, err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job meta: %w", err)
	}
	return &job, nil
}

func (s *jobStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
