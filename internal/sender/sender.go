// Package sender holds the drivers that deliver one dispatch task to a
// messaging backend. Every driver satisfies dispatch.Sender.
package sender

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bulksend/internal/dispatch"
	logx "bulksend/pkg/logx"
)

// Driver is a dispatch.Sender owning backend resources.
type Driver interface {
	dispatch.Sender
	Close() error
}

type Config struct {
	Driver string // dryrun | http | amqp

	// RatePerSecond caps sends across all runs (0 disables the guard).
	RatePerSecond float64
	Burst         int

	DryRun DryRunConfig
	HTTP   HTTPConfig
	AMQP   AMQPConfig
}

// Open builds the configured driver, wrapped by the rate guard when enabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Driver, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "sender"))

	var (
		d   Driver
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "dryrun", "dry-run":
		d = NewDryRun(cfg.DryRun, log)
	case "http":
		d, err = NewHTTP(cfg.HTTP, log)
	case "amqp", "rabbitmq":
		d, err = DialAMQP(ctx, cfg.AMQP, log)
	default:
		return nil, fmt.Errorf("unknown sender driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RatePerSecond > 0 {
		d = NewLimited(d, cfg.RatePerSecond, cfg.Burst)
	}
	log.Info("sender ready", logx.String("driver", driverName(cfg.Driver)), logx.Float64("rate", cfg.RatePerSecond))
	return d, nil
}

func driverName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "dryrun"
	}
	return s
}

// withTimeout bounds a send when the driver has a timeout configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
