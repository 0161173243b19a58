package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// makeDue rewinds a task's schedule entry into the past
func makeDue(t *testing.T, store *Store, name string) {
	t.Helper()
	err := store.rdb.ZAdd(context.Background(), ScheduleKey, redis.Z{
		Score:  float64(time.Now().Add(-time.Minute).Unix()),
		Member: TaskKey(name),
	}).Err()
	if err != nil {
		t.Fatal(err)
	}
}

func TestSchedulerTick(t *testing.T) {
	t.Run("fires due tasks and reschedules", func(t *testing.T) {
		store, _ := testStore(t)
		ctx := context.Background()

		if err := store.Upsert(ctx, "t1", sampleTask()); err != nil {
			t.Fatal(err)
		}
		makeDue(t, store, "t1")

		fired := make(chan PeriodicTask, 1)
		s := New(store, store.log)
		s.Register(TaskPeriodicBackup, func(ctx context.Context, task PeriodicTask) error {
			fired <- task
			return nil
		})

		s.tick(ctx)

		select {
		case task := <-fired:
			if task.Args[0] != "gid-1" {
				t.Errorf("handler received wrong task: %+v", task)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("handler never fired")
		}

		// The next run must be back in the future
		score, err := store.rdb.ZScore(ctx, ScheduleKey, TaskKey("t1")).Result()
		if err != nil {
			t.Fatal(err)
		}
		if int64(score) <= time.Now().Add(-time.Second).Unix() {
			t.Errorf("task not rescheduled: score %f", score)
		}
	})

	t.Run("skips tasks that are not due", func(t *testing.T) {
		store, _ := testStore(t)
		ctx := context.Background()

		task := sampleTask()
		task.Cron = "0 0 3 * * *"
		if err := store.Upsert(ctx, "t1", task); err != nil {
			t.Fatal(err)
		}

		s := New(store, store.log)
		s.Register(TaskPeriodicBackup, func(ctx context.Context, task PeriodicTask) error {
			t.Error("handler fired for a future task")
			return nil
		})

		s.tick(ctx)
		time.Sleep(50 * time.Millisecond)
	})

	t.Run("disabled tasks are rescheduled without running", func(t *testing.T) {
		store, _ := testStore(t)
		ctx := context.Background()

		task := sampleTask()
		task.Enabled = false
		if err := store.Upsert(ctx, "t1", task); err != nil {
			t.Fatal(err)
		}
		makeDue(t, store, "t1")

		s := New(store, store.log)
		s.Register(TaskPeriodicBackup, func(ctx context.Context, task PeriodicTask) error {
			t.Error("handler fired for a disabled task")
			return nil
		})

		s.tick(ctx)
		time.Sleep(50 * time.Millisecond)

		score, err := store.rdb.ZScore(ctx, ScheduleKey, TaskKey("t1")).Result()
		if err != nil {
			t.Fatal(err)
		}
		if int64(score) <= time.Now().Unix() {
			t.Error("disabled task left due, it would busy-loop the scheduler")
		}
	})

	t.Run("orphaned schedule entries are dropped", func(t *testing.T) {
		store, mr := testStore(t)
		ctx := context.Background()

		err := store.rdb.ZAdd(ctx, ScheduleKey, redis.Z{
			Score:  1,
			Member: TaskKey("ghost"),
		}).Err()
		if err != nil {
			t.Fatal(err)
		}

		s := New(store, store.log)
		s.tick(ctx)

		if _, err := mr.ZScore(ScheduleKey, TaskKey("ghost")); err == nil {
			t.Error("orphaned entry survived the tick")
		}
	})

	t.Run("unknown task kind does not panic", func(t *testing.T) {
		store, _ := testStore(t)
		ctx := context.Background()

		task := sampleTask()
		task.Task = "tasks.unknown"
		if err := store.Upsert(ctx, "t1", task); err != nil {
			t.Fatal(err)
		}
		makeDue(t, store, "t1")

		s := New(store, store.log)
		s.tick(ctx)
	})
}
