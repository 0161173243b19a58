package scheduler

import (
	"testing"
	"time"
)

func TestNormalizeCron(t *testing.T) {
	cases := map[string]string{
		"*/5 * * * *":  "0 */5 * * * *",
		"0 3 * * *":    "0 0 3 * * *",
		"30 0 3 * * *": "30 0 3 * * *",
		" 0 3 * * * ":  "0 0 3 * * *",
	}
	for in, want := range cases {
		if got := NormalizeCron(in); got != want {
			t.Errorf("NormalizeCron(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNextRun(t *testing.T) {
	t.Run("strictly after now", func(t *testing.T) {
		next, err := NextRun("* * * * *")
		if err != nil {
			t.Fatalf("NextRun failed: %v", err)
		}
		if !next.After(time.Now()) {
			t.Errorf("next run %v is not in the future", next)
		}
		if next.Sub(time.Now()) > time.Minute {
			t.Errorf("every-minute schedule fired too far out: %v", next)
		}
	})

	t.Run("six field form", func(t *testing.T) {
		next, err := NextRun("30 * * * * *")
		if err != nil {
			t.Fatalf("NextRun failed: %v", err)
		}
		if next.Second() != 30 {
			t.Errorf("seconds column ignored: %v", next)
		}
	})

	t.Run("invalid expression", func(t *testing.T) {
		if _, err := NextRun("not a cron"); err == nil {
			t.Error("expected error for invalid expression")
		}
	})
}
