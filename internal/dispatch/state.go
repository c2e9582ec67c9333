package dispatch

import "time"

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
)

func (s Status) String() string { return string(s) }

// Active reports whether a run owns the controller.
func (s Status) Active() bool { return s == StatusRunning || s == StatusPaused }

// runState is owned by Controller.mu.
type runState struct {
	runID     string
	status    Status
	tasks     []SendTask
	cursor    int // index of the next task to execute
	sent      int // completed tasks, success or failure
	failed    int
	pacing    PacingConfig
	startedAt time.Time
}

// Snapshot is a read-only view of the controller for display.
type Snapshot struct {
	RunID     string        `json:"run_id,omitempty"`
	Status    Status        `json:"status"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Total     int           `json:"total"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Remaining time.Duration `json:"remaining_ns"`
	Last      *Result       `json:"last,omitempty"`
}

// ETA formats the remaining wait.
func (s Snapshot) ETA() string { return FormatETA(s.Remaining) }

// Result summarises a finished run.
type Result struct {
	RunID      string    `json:"run_id"`
	Status     Status    `json:"status"` // StatusCompleted or StatusStopped
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Err        string    `json:"err,omitempty"`
}

func (r Result) Elapsed() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
