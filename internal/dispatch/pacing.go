package dispatch

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

type PacingMode string

const (
	PacingFixed  PacingMode = "fixed"
	PacingRandom PacingMode = "random"
)

// Defaults applied when the config leaves pacing fields empty.
const (
	DefaultFixedDelay      = 30 * time.Second
	DefaultRandomMin       = 60 * time.Second
	DefaultRandomMax       = 240 * time.Second
	DefaultAutoRestAfter   = 30
	DefaultAutoRestMinutes = 15
)

// AutoRest inserts a RestMinutes-long wait after every AfterCount completed tasks.
type AutoRest struct {
	AfterCount  int
	RestMinutes int
}

func (a AutoRest) Duration() time.Duration { return time.Duration(a.RestMinutes) * time.Minute }

type PacingConfig struct {
	Mode  PacingMode
	Fixed time.Duration // PacingFixed
	Min   time.Duration // PacingRandom
	Max   time.Duration // PacingRandom

	AutoRest *AutoRest
}

func (c PacingConfig) Validate() error {
	var errs []error
	switch c.Mode {
	case PacingFixed:
		if c.Fixed < 0 {
			errs = append(errs, fmt.Errorf("fixed delay must be >= 0, got %s", c.Fixed))
		}
	case PacingRandom:
		if c.Min < 0 || c.Max < 0 {
			errs = append(errs, fmt.Errorf("random bounds must be >= 0, got [%s, %s]", c.Min, c.Max))
		}
		if c.Min > c.Max {
			errs = append(errs, fmt.Errorf("random min %s exceeds max %s", c.Min, c.Max))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown pacing mode %q", c.Mode))
	}
	if c.AutoRest != nil {
		if c.AutoRest.AfterCount < 1 {
			errs = append(errs, fmt.Errorf("auto-rest after_count must be >= 1, got %d", c.AutoRest.AfterCount))
		}
		if c.AutoRest.RestMinutes < 1 {
			errs = append(errs, fmt.Errorf("auto-rest rest_minutes must be >= 1, got %d", c.AutoRest.RestMinutes))
		}
	}
	return errors.Join(errs...)
}

// meanDelay is the expected ordinary per-gap delay.
func (c PacingConfig) meanDelay() time.Duration {
	if c.Mode == PacingRandom {
		return c.Min + (c.Max-c.Min)/2
	}
	return c.Fixed
}

// isRestBoundary reports whether an auto-rest replaces the delay after
// completed of total tasks.
func (c PacingConfig) isRestBoundary(completed, total int) bool {
	return c.AutoRest != nil && c.AutoRest.AfterCount > 0 &&
		completed > 0 && completed < total && completed%c.AutoRest.AfterCount == 0
}

// Delay is the wait the controller performs before the next task.
type Delay struct {
	Duration time.Duration
	AutoRest bool
}

// Policy computes inter-task delays. It is safe for concurrent use.
type Policy struct {
	cfg PacingConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy returns a policy for cfg. A nil rng uses a randomly seeded source.
func NewPolicy(cfg PacingConfig, rng *rand.Rand) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Policy{cfg: cfg, rng: rng}
}

func (p *Policy) Config() PacingConfig { return p.cfg }

// NextDelay is called after completed of total tasks finished and before the
// next one starts. An auto-rest boundary overrides the ordinary delay; no
// delay follows the last task.
func (p *Policy) NextDelay(completed, total int) Delay {
	if completed >= total {
		return Delay{}
	}
	if p.cfg.isRestBoundary(completed, total) {
		return Delay{Duration: p.cfg.AutoRest.Duration(), AutoRest: true}
	}
	switch p.cfg.Mode {
	case PacingRandom:
		return Delay{Duration: p.drawRandom()}
	default:
		return Delay{Duration: p.cfg.Fixed}
	}
}

// drawRandom is uniform over [Min, Max] at millisecond resolution.
func (p *Policy) drawRandom() time.Duration {
	span := int64((p.cfg.Max - p.cfg.Min) / time.Millisecond)
	if span <= 0 {
		return p.cfg.Min
	}
	p.mu.Lock()
	ms := p.rng.Int64N(span + 1)
	p.mu.Unlock()
	return p.cfg.Min + time.Duration(ms)*time.Millisecond
}
