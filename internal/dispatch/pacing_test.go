package dispatch

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestNextDelayFixed(t *testing.T) {
	t.Parallel()

	p := NewPolicy(fixedPacing(5*time.Second), nil)
	for k := 1; k < 4; k++ {
		if d := p.NextDelay(k, 4); d.Duration != 5*time.Second || d.AutoRest {
			t.Fatalf("k=%d got %+v", k, d)
		}
	}
	if d := p.NextDelay(4, 4); d.Duration != 0 {
		t.Fatalf("no delay after the last task, got %+v", d)
	}
}

func TestNextDelayRandomWithinBounds(t *testing.T) {
	t.Parallel()

	cfg := PacingConfig{Mode: PacingRandom, Min: 2 * time.Second, Max: 3 * time.Second}
	p := NewPolicy(cfg, rand.New(rand.NewPCG(1, 2)))
	seenLow, seenHigh := false, false
	for i := 0; i < 5000; i++ {
		d := p.NextDelay(1, 10).Duration
		if d < cfg.Min || d > cfg.Max {
			t.Fatalf("draw %s outside [%s, %s]", d, cfg.Min, cfg.Max)
		}
		if d < cfg.Min+100*time.Millisecond {
			seenLow = true
		}
		if d > cfg.Max-100*time.Millisecond {
			seenHigh = true
		}
	}
	if !seenLow || !seenHigh {
		t.Fatalf("draws do not cover the range: low=%v high=%v", seenLow, seenHigh)
	}
}

func TestNextDelayRandomDegenerate(t *testing.T) {
	t.Parallel()

	p := NewPolicy(PacingConfig{Mode: PacingRandom, Min: time.Second, Max: time.Second}, nil)
	if d := p.NextDelay(1, 3).Duration; d != time.Second {
		t.Fatalf("got %s", d)
	}
}

func TestNextDelayAutoRestOverrides(t *testing.T) {
	t.Parallel()

	cfg := fixedPacing(2 * time.Second)
	cfg.AutoRest = &AutoRest{AfterCount: 5, RestMinutes: 10}
	p := NewPolicy(cfg, nil)

	rests := 0
	for k := 1; k < 12; k++ {
		d := p.NextDelay(k, 12)
		if k%5 == 0 {
			if !d.AutoRest || d.Duration != 10*time.Minute {
				t.Fatalf("k=%d expected auto-rest, got %+v", k, d)
			}
			rests++
			continue
		}
		if d.AutoRest || d.Duration != 2*time.Second {
			t.Fatalf("k=%d expected base delay, got %+v", k, d)
		}
	}
	if rests != 2 {
		t.Fatalf("rests=%d", rests)
	}

	// A boundary that coincides with the last task rests nowhere.
	if d := p.NextDelay(10, 10); d.Duration != 0 {
		t.Fatalf("got %+v", d)
	}
}

func TestPacingValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  PacingConfig
		ok   bool
	}{
		{"fixed zero", fixedPacing(0), true},
		{"fixed negative", fixedPacing(-time.Second), false},
		{"random ok", PacingConfig{Mode: PacingRandom, Min: time.Second, Max: 2 * time.Second}, true},
		{"random inverted", PacingConfig{Mode: PacingRandom, Min: 3 * time.Second, Max: 2 * time.Second}, false},
		{"unknown mode", PacingConfig{Mode: "burst"}, false},
		{"rest count zero", PacingConfig{Mode: PacingFixed, AutoRest: &AutoRest{AfterCount: 0, RestMinutes: 1}}, false},
		{"rest minutes zero", PacingConfig{Mode: PacingFixed, AutoRest: &AutoRest{AfterCount: 3, RestMinutes: 0}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("ok=%v err=%v", tc.ok, err)
			}
		})
	}
}
