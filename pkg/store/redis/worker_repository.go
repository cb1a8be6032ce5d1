package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"starbench/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	workerKeyPrefix = "worker:"        // Worker records
	workerSetKey    = "workers:active" // Set of known worker ids
	workerDataTTL   = 5 * time.Minute  // Records age out if the manager stops refreshing them
)

// WorkerRepository persists pool worker records in Redis (ephemeral data
// with TTL). Lets a restarted manager rediscover its pool before the
// next heartbeat cycle completes.
type WorkerRepository struct {
	redis *redis.Client
}

// NewWorkerRepository creates a worker repository
func NewWorkerRepository(redisClient *RedisClient) *WorkerRepository {
	return &WorkerRepository{redis: redisClient.GetClient()}
}

// Save writes one worker record.
func (r *WorkerRepository) Save(ctx context.Context, worker *model.Worker) error {
	data, err := json.Marshal(worker)
	if err != nil {
		return fmt.Errorf("failed to marshal worker: %w", err)
	}

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, workerKeyPrefix+worker.ID, data, workerDataTTL)
	pipe.SAdd(ctx, workerSetKey, worker.ID)
	pipe.Expire(ctx, workerSetKey, workerDataTTL*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

// Get retrieves one worker record.
func (r *WorkerRepository) Get(ctx context.Context, workerID string) (*model.Worker, error) {
	data, err := r.redis.Get(ctx, workerKeyPrefix+workerID).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("worker not found: %s", workerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	var worker model.Worker
	if err := json.Unmarshal([]byte(data), &worker); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker: %w", err)
	}
	return &worker, nil
}

// GetAll retrieves all persisted worker records.
func (r *WorkerRepository) GetAll(ctx context.Context) ([]*model.Worker, error) {
	ids, err := r.redis.SMembers(ctx, workerSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get worker list: %w", err)
	}
	if len(ids) == 0 {
		return []*model.Worker{}, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.Get(ctx, workerKeyPrefix+id))
	}
	_, err = pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load workers: %w", err)
	}

	workers := make([]*model.Worker, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			continue
		}
		var worker model.Worker
		if err := json.Unmarshal([]byte(data), &worker); err != nil {
			continue
		}
		workers = append(workers, &worker)
	}
	return workers, nil
}

// Delete removes a drained worker's record.
func (r *WorkerRepository) Delete(ctx context.Context, workerID string) error {
	pipe := r.redis.Pipeline()
	pipe.Del(ctx, workerKeyPrefix+workerID)
	pipe.SRem(ctx, workerSetKey, workerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete worker: %w", err)
	}
	return nil
}
