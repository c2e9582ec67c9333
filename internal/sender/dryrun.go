package sender

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"bulksend/internal/dispatch"
	logx "bulksend/pkg/logx"
)

// ErrSimulated is the failure injected by the dry-run driver.
var ErrSimulated = errors.New("simulated send failure")

type DryRunConfig struct {
	Latency time.Duration
	// FailEvery fails every n-th send (0 never fails).
	FailEvery int
	// FailRecipients always fail.
	FailRecipients []string
}

// DryRun logs every task instead of delivering it.
type DryRun struct {
	cfg   DryRunConfig
	fail  map[string]bool
	log   logx.Logger
	count atomic.Int64
}

func NewDryRun(cfg DryRunConfig, log logx.Logger) *DryRun {
	if log.IsZero() {
		log = logx.Nop()
	}
	fail := make(map[string]bool, len(cfg.FailRecipients))
	for _, r := range cfg.FailRecipients {
		fail[r] = true
	}
	return &DryRun{cfg: cfg, fail: fail, log: log.With(logx.String("driver", "dryrun"))}
}

func (d *DryRun) Send(ctx context.Context, t dispatch.SendTask) error {
	n := d.count.Add(1)
	if d.cfg.Latency > 0 {
		timer := time.NewTimer(d.cfg.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if d.fail[t.Recipient] || (d.cfg.FailEvery > 0 && n%int64(d.cfg.FailEvery) == 0) {
		return fmt.Errorf("send #%d to %s: %w", n, t.Recipient, ErrSimulated)
	}
	d.log.Info("dry-run send",
		logx.Int64("n", n),
		logx.String("recipient", t.Recipient),
		logx.String("profile", t.ProfileID),
		logx.Int("text_len", len(t.Payload.Text)),
		logx.Bool("image", t.Payload.ImageRef != ""),
		logx.Bool("audio", t.Payload.AudioRef != ""),
	)
	return nil
}

// Sent returns how many sends were attempted.
func (d *DryRun) Sent() int64 { return d.count.Load() }

func (d *DryRun) Close() error { return nil }
