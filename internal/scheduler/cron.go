package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts six-field expressions with a seconds column
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NormalizeCron widens a standard five-field expression to the
// six-field form by pinning the seconds column to zero
func NormalizeCron(expr string) string {
	if len(strings.Fields(expr)) == 5 {
		return "0 " + strings.TrimSpace(expr)
	}
	return strings.TrimSpace(expr)
}

// NextRun returns the first fire time strictly after now, in local time
func NextRun(expr string) (time.Time, error) {
	schedule, err := cronParser.Parse(NormalizeCron(expr))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(time.Now().Local()), nil
}
