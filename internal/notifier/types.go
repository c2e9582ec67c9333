package notifier

import (
	"context"
	"time"

	"bulksend/internal/dispatch"
)

// Config controls the notification pipeline.
type Config struct {
	Enabled       bool
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// ReportFailures posts one message per failed send.
	ReportFailures bool
}

// Messenger delivers a text to the operator chat.
type Messenger interface {
	Send(ctx context.Context, text string) error
}

// Controller is the part of *dispatch.Controller the commands drive.
type Controller interface {
	Pause() error
	Resume() error
	Stop() error
	Snapshot() dispatch.Snapshot
}

type HistoryItem struct {
	At   time.Time
	Text string
	Err  string
}
