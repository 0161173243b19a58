// Package scheduler persists periodic tasks in Redis and fires them
// when due. The storage layout is compatible with redbeat: one hash
// per task plus a sorted set scoring every task by its next run.
package scheduler

import "encoding/json"

// TaskPeriodicBackup is the only task kind the agent schedules today
const TaskPeriodicBackup = "tasks.database.periodic_backup"

// PeriodicTask is the persisted form of one scheduled task
type PeriodicTask struct {
	Task     string         `json:"task"`
	Cron     string         `json:"cron"`
	Args     []string       `json:"args"`
	Enabled  bool           `json:"enabled"`
	Metadata map[string]any `json:"metadata"`
}

// equal compares two tasks by their persisted form
func (t PeriodicTask) equal(other PeriodicTask) bool {
	a, errA := json.Marshal(t)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}
