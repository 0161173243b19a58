package scheduler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Portabase/agent/internal/logger"
)

// tickInterval is how often the schedule is polled for due tasks
const tickInterval = time.Second

// Handler executes one task kind
type Handler func(ctx context.Context, task PeriodicTask) error

// Scheduler polls the task store and fires due tasks
type Scheduler struct {
	store    *Store
	log      logger.Logger
	handlers map[string]Handler
}

// New creates a scheduler on top of the given store
func New(store *Store, log logger.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		log:      log,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task kind. Tasks with an unregistered
// kind are logged and rescheduled without running.
func (s *Scheduler) Register(kind string, handler Handler) {
	s.handlers[kind] = handler
}

// Run polls for due tasks until the context is canceled
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.log.Info("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every task whose next run is not in the future. The next
// run is rescheduled before the handler executes, so a slow run never
// stalls the schedule.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().Unix()

	due, err := s.store.rdb.ZRangeByScore(ctx, ScheduleKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		s.log.Error("Failed to poll schedule", "error", err)
		return
	}

	for _, key := range due {
		raw, err := s.store.rdb.HGet(ctx, key, dataField).Result()
		if err == redis.Nil {
			// Orphaned schedule entry, drop it
			s.store.rdb.ZRem(ctx, ScheduleKey, key)
			continue
		}
		if err != nil {
			s.log.Error("Failed to load due task", "key", key, "error", err)
			continue
		}

		var task PeriodicTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			s.log.Error("Failed to decode due task", "key", key, "error", err)
			continue
		}

		if !task.Enabled {
			s.reschedule(ctx, key, task.Cron)
			continue
		}

		s.reschedule(ctx, key, task.Cron)

		handler, ok := s.handlers[task.Task]
		if !ok {
			s.log.Error("No handler for task kind", "task", task.Task)
			continue
		}

		s.log.Info("Executing task", "task", task.Task, "args", strings.Join(task.Args, ","))
		go func(task PeriodicTask) {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("Task handler panicked", "task", task.Task, "panic", r)
				}
			}()
			if err := handler(ctx, task); err != nil {
				s.log.Error("Task execution failed", "task", task.Task, "error", err)
			}
		}(task)
	}
}

func (s *Scheduler) reschedule(ctx context.Context, key, cronExpr string) {
	next, err := NextRun(cronExpr)
	if err != nil {
		s.log.Error("Failed to compute next run, unscheduling", "key", key, "error", err)
		s.store.rdb.ZRem(ctx, ScheduleKey, key)
		return
	}

	err = s.store.rdb.ZAdd(ctx, ScheduleKey, redis.Z{
		Score:  float64(next.Unix()),
		Member: key,
	}).Err()
	if err != nil {
		s.log.Error("Failed to reschedule task", "key", key, "error", err)
	}
}
