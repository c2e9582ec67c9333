package config

import (
	"strings"
	"time"

	"bulksend/internal/dispatch"
)

// Overlay returns p with every field set in o replacing its counterpart.
func (p PacingConfig) Overlay(o *PacingConfig) PacingConfig {
	if o == nil {
		return p
	}
	out := p
	if strings.TrimSpace(o.Mode) != "" {
		out.Mode = o.Mode
	}
	if strings.TrimSpace(o.Fixed) != "" {
		out.Fixed = o.Fixed
	}
	if strings.TrimSpace(o.Min) != "" {
		out.Min = o.Min
	}
	if strings.TrimSpace(o.Max) != "" {
		out.Max = o.Max
	}
	if o.AutoRest != nil {
		r := *o.AutoRest
		out.AutoRest = &r
	}
	return out
}

// Dispatch converts p to controller pacing. Empty fields take the built-in
// defaults; a zero "0s" stays zero.
func (p PacingConfig) Dispatch(path string) (dispatch.PacingConfig, error) {
	out := dispatch.PacingConfig{
		Mode:  dispatch.PacingMode(strings.ToLower(strings.TrimSpace(p.Mode))),
		Fixed: dispatch.DefaultFixedDelay,
		Min:   dispatch.DefaultRandomMin,
		Max:   dispatch.DefaultRandomMax,
	}
	if out.Mode == "" {
		out.Mode = dispatch.PacingFixed
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"fixed", p.Fixed, &out.Fixed},
		{"min", p.Min, &out.Min},
		{"max", p.Max, &out.Max},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := ParseDurationField(path+"."+f.name, f.raw)
		if err != nil {
			return dispatch.PacingConfig{}, err
		}
		*f.dst = d
	}
	if r := p.AutoRest; r != nil {
		out.AutoRest = &dispatch.AutoRest{AfterCount: r.AfterCount, RestMinutes: r.RestMinutes}
	}
	if err := out.Validate(); err != nil {
		return dispatch.PacingConfig{}, err
	}
	return out, nil
}
