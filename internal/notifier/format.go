package notifier

import (
	"fmt"
	"strings"
	"time"

	"bulksend/internal/dispatch"
	"bulksend/internal/eventbus"
)

// tracker turns controller events into operator messages. It remembers the
// latest counters of the current run for the closing summary.
type tracker struct {
	reportFailures bool

	runID string
	last  dispatch.Progress
}

func (t *tracker) message(e eventbus.Event) (string, bool) {
	if e.RunID != "" && e.RunID != t.runID {
		t.runID = e.RunID
		t.last = dispatch.Progress{}
	}

	switch d := e.Data.(type) {
	case dispatch.Progress:
		t.last = d
		if d.Err == "" || !t.reportFailures {
			return "", false
		}
		return fmt.Sprintf("❌ %s via %s failed: %s (%d/%d)", d.Recipient, d.ProfileID, d.Err, d.Sent, d.Total), true

	case dispatch.Rest:
		if !d.AutoRest {
			return "", false
		}
		return fmt.Sprintf("😴 Auto-rest for %s, resuming at %s", dispatch.FormatETA(d.Duration), d.Until.Format("15:04:05")), true

	case dispatch.StateChange:
		return t.stateText(d)
	}
	return "", false
}

func (t *tracker) stateText(sc dispatch.StateChange) (string, bool) {
	id := shortID(t.runID)
	switch {
	case sc.From == dispatch.StatusIdle && sc.To == dispatch.StatusRunning:
		return fmt.Sprintf("▶️ Bulk send %s started", id), true
	case sc.To == dispatch.StatusPaused:
		return fmt.Sprintf("⏸ Bulk send %s paused%s", id, t.counts()), true
	case sc.From == dispatch.StatusPaused && sc.To == dispatch.StatusRunning:
		return fmt.Sprintf("▶️ Bulk send %s resumed%s", id, t.counts()), true
	case sc.To == dispatch.StatusCompleted:
		return fmt.Sprintf("✅ Bulk send %s finished%s", id, t.counts()), true
	case sc.To == dispatch.StatusStopped:
		return fmt.Sprintf("⏹ Bulk send %s stopped%s", id, t.counts()), true
	}
	return "", false
}

func (t *tracker) counts() string {
	if t.last.Total == 0 {
		return ""
	}
	return fmt.Sprintf(": %d/%d sent, %d failed", t.last.Sent, t.last.Total, t.last.Failed)
}

// statusText renders a snapshot for /status.
func statusText(s dispatch.Snapshot) string {
	var b strings.Builder
	if !s.Status.Active() {
		b.WriteString("Idle")
		if r := s.Last; r != nil {
			fmt.Fprintf(&b, "\nLast run %s %s: %d/%d sent, %d failed in %s",
				shortID(r.RunID), r.Status, r.Sent, r.Total, r.Failed, r.Elapsed().Round(time.Second))
			if r.Err != "" {
				fmt.Fprintf(&b, " (%s)", r.Err)
			}
		}
		return b.String()
	}
	fmt.Fprintf(&b, "Run %s %s\n%d/%d sent, %d failed", shortID(s.RunID), s.Status, s.Sent, s.Total, s.Failed)
	if eta := s.ETA(); eta != "" {
		fmt.Fprintf(&b, "\nETA %s", eta)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
