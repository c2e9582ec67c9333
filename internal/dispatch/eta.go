package dispatch

import (
	"fmt"
	"time"
)

// Estimate returns the expected total wait of a run with total tasks.
func Estimate(total int, pacing PacingConfig) time.Duration {
	return EstimateRemaining(0, total, pacing)
}

// EstimateRemaining returns the expected wait still ahead once completed of
// total tasks are done: the fixed delay (or the random midpoint) once per
// remaining task, plus a full rest for every auto-rest boundary still ahead.
func EstimateRemaining(completed, total int, pacing PacingConfig) time.Duration {
	if total <= 0 || completed >= total {
		return 0
	}
	completed = max(completed, 0)
	d := time.Duration(total-completed) * pacing.meanDelay()
	if r := pacing.AutoRest; r != nil && r.AfterCount > 0 {
		// Boundaries b with completed < b < total; none after the last task.
		windows := (total-1)/r.AfterCount - completed/r.AfterCount
		d += time.Duration(windows) * r.Duration()
	}
	return d
}

// RestWindows counts the auto-rest waits a run of total tasks will take.
func RestWindows(total int, pacing PacingConfig) int {
	if pacing.AutoRest == nil || pacing.AutoRest.AfterCount < 1 || total <= 1 {
		return 0
	}
	return (total - 1) / pacing.AutoRest.AfterCount
}

// FormatETA renders d as "1h 05m 00s", "4m 10s" or "35s". Zero renders empty.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	secs := int64(d.Round(time.Second) / time.Second)
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
