package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/logger"
)

const (
	// ScheduleKey is the sorted set scoring every task by next run
	ScheduleKey = "redbeat::schedule"

	// taskKeyPrefix namespaces the per-task hashes
	taskKeyPrefix = "redbeat:"

	// dataField is the hash field holding the serialized task
	dataField = "data"
)

// Store persists periodic tasks in Redis
type Store struct {
	rdb *redis.Client
	log logger.Logger
}

// NewStore connects the task store to Redis
func NewStore(cfg *config.Config, log logger.Logger) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Store{rdb: rdb, log: log}
}

// NewStoreWithClient wraps an existing Redis client, used by tests
func NewStoreWithClient(rdb *redis.Client, log logger.Logger) *Store {
	return &Store{rdb: rdb, log: log}
}

// Close releases the Redis connection
func (s *Store) Close() error {
	return s.rdb.Close()
}

// TaskKey returns the Redis key of a task's hash
func TaskKey(name string) string {
	return taskKeyPrefix + name
}

// Get loads a task by name. The second return value reports presence.
func (s *Store) Get(ctx context.Context, name string) (PeriodicTask, bool, error) {
	var task PeriodicTask

	raw, err := s.rdb.HGet(ctx, TaskKey(name), dataField).Result()
	if err == redis.Nil {
		return task, false, nil
	}
	if err != nil {
		return task, false, fmt.Errorf("failed to load task %s: %w", name, err)
	}

	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return task, false, fmt.Errorf("failed to decode task %s: %w", name, err)
	}
	return task, true, nil
}

// Upsert writes the task and schedules its next run
func (s *Store) Upsert(ctx context.Context, name string, task PeriodicTask) error {
	next, err := NextRun(task.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron for task %s: %w", name, err)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", name, err)
	}

	key := TaskKey(name)
	if err := s.rdb.HSet(ctx, key, dataField, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to store task %s: %w", name, err)
	}
	if err := s.rdb.ZAdd(ctx, ScheduleKey, redis.Z{
		Score:  float64(next.Unix()),
		Member: key,
	}).Err(); err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", name, err)
	}
	return nil
}

// Remove deletes the task and unschedules it
func (s *Store) Remove(ctx context.Context, name string) error {
	key := TaskKey(name)
	if err := s.rdb.ZRem(ctx, ScheduleKey, key).Err(); err != nil {
		return fmt.Errorf("failed to unschedule task %s: %w", name, err)
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", name, err)
	}
	return nil
}

// Reconcile makes the stored task match the desired state. A nil cron
// removes the task, a changed task is rewritten, an identical task is
// left untouched so its schedule position survives.
func (s *Store) Reconcile(ctx context.Context, name string, desired PeriodicTask, cronExpr *string) error {
	stored, exists, err := s.Get(ctx, name)
	if err != nil {
		return err
	}

	if cronExpr == nil || *cronExpr == "" {
		if exists {
			if err := s.Remove(ctx, name); err != nil {
				return err
			}
			s.log.Info("Task removed", "task", name)
		}
		return nil
	}

	desired.Cron = NormalizeCron(*cronExpr)

	if exists {
		if stored.equal(desired) {
			return nil
		}
		if err := s.Upsert(ctx, name, desired); err != nil {
			return err
		}
		s.log.Info("Task updated", "task", name)
		return nil
	}

	if err := s.Upsert(ctx, name, desired); err != nil {
		return err
	}
	s.log.Info("Task created", "task", name)
	return nil
}
