package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"bulksend/internal/config"
	"bulksend/internal/dispatch"
)

// pacingFlags override the configured default pacing.
type pacingFlags struct {
	mode        string
	fixed       string
	min         string
	max         string
	restAfter   int
	restMinutes int
	noRest      bool
}

func (p *pacingFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&p.mode, "mode", "", "pacing mode: fixed or random")
	fs.StringVar(&p.fixed, "fixed", "", "fixed delay between messages, e.g. 30s")
	fs.StringVar(&p.min, "min", "", "random delay lower bound, e.g. 60s")
	fs.StringVar(&p.max, "max", "", "random delay upper bound, e.g. 240s")
	fs.IntVar(&p.restAfter, "rest-after", 0, "auto-rest after this many messages")
	fs.IntVar(&p.restMinutes, "rest-minutes", 0, "auto-rest length in minutes")
	fs.BoolVar(&p.noRest, "no-rest", false, "disable auto-rest even when configured")
}

// resolve overlays the flags on base and fills in defaults.
func (p *pacingFlags) resolve(base config.PacingConfig) (dispatch.PacingConfig, error) {
	o := &config.PacingConfig{Mode: p.mode, Fixed: p.fixed, Min: p.min, Max: p.max}
	if p.restAfter > 0 || p.restMinutes > 0 {
		r := config.AutoRestConfig{AfterCount: dispatch.DefaultAutoRestAfter, RestMinutes: dispatch.DefaultAutoRestMinutes}
		if base.AutoRest != nil {
			r = *base.AutoRest
		}
		if p.restAfter > 0 {
			r.AfterCount = p.restAfter
		}
		if p.restMinutes > 0 {
			r.RestMinutes = p.restMinutes
		}
		o.AutoRest = &r
	}
	merged := base.Overlay(o)
	if p.noRest {
		merged.AutoRest = nil
	}
	return merged.Dispatch("pacing")
}

// payloadFlags collect per-profile content given as ID=VALUE pairs.
type payloadFlags struct {
	texts  []string
	images []string
	audios []string
}

func (p *payloadFlags) register(fs *pflag.FlagSet) {
	fs.StringArrayVar(&p.texts, "profile", nil, "profile and its message as ID=TEXT (repeatable, order kept)")
	fs.StringArrayVar(&p.images, "image", nil, "image attachment as ID=PATH (repeatable)")
	fs.StringArrayVar(&p.audios, "audio", nil, "audio attachment as ID=PATH (repeatable)")
}

func (p *payloadFlags) empty() bool {
	return len(p.texts) == 0 && len(p.images) == 0 && len(p.audios) == 0
}

// assignments returns profiles in first-mention order, --profile flags first.
func (p *payloadFlags) assignments() ([]dispatch.Assignment, error) {
	var order []string
	payloads := map[string]*dispatch.Payload{}
	get := func(id string) *dispatch.Payload {
		if pl, ok := payloads[id]; ok {
			return pl
		}
		pl := &dispatch.Payload{}
		payloads[id] = pl
		order = append(order, id)
		return pl
	}
	for _, set := range []struct {
		flag  string
		pairs []string
		apply func(pl *dispatch.Payload, v string)
	}{
		{"profile", p.texts, func(pl *dispatch.Payload, v string) { pl.Text = v }},
		{"image", p.images, func(pl *dispatch.Payload, v string) { pl.ImageRef = v }},
		{"audio", p.audios, func(pl *dispatch.Payload, v string) { pl.AudioRef = v }},
	} {
		for _, kv := range set.pairs {
			id, v, ok := strings.Cut(kv, "=")
			id = strings.TrimSpace(id)
			if !ok || id == "" {
				return nil, fmt.Errorf("--%s %q: want ID=VALUE", set.flag, kv)
			}
			set.apply(get(id), v)
		}
	}
	out := make([]dispatch.Assignment, len(order))
	for i, id := range order {
		out[i] = dispatch.Assignment{ProfileID: id, Payload: *payloads[id]}
	}
	return out, nil
}

func readRecipients(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--recipients is required")
	}
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	return dispatch.ParseRecipients(string(b)), nil
}
