// Package scheduler starts saved profile groups against recipient files on
// cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bulksend/internal/config"
	"bulksend/internal/dispatch"
	"bulksend/internal/eventlog"
	"bulksend/internal/profiles"
	logx "bulksend/pkg/logx"
)

var ErrUnknownCampaign = errors.New("unknown campaign")

// Starter begins a dispatch run. *dispatch.Controller implements it.
type Starter interface {
	Start(ctx context.Context, cfg dispatch.DispatchConfig) (string, error)
}

// GroupSource resolves a saved group by id or name. *profiles.Groups implements it.
type GroupSource interface {
	Get(ctx context.Context, idOrName string) (profiles.Group, error)
}

type Config struct {
	Enabled  bool
	Timezone string
	// Pacing is the base pacing; a campaign's own pacing overlays it.
	Pacing    config.PacingConfig
	Campaigns []config.CampaignConfig
}

func FromConfig(cfg *config.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		Enabled:   cfg.Scheduler.Enabled,
		Timezone:  cfg.Scheduler.Timezone,
		Pacing:    cfg.Dispatch.Pacing,
		Campaigns: cfg.Scheduler.Campaigns,
	}
}

// Entry is a registered campaign and its next activation.
type Entry struct {
	Name string
	Next time.Time
}

type Option func(*Service)

// WithEventLog records skipped and failed activations in the operator log.
func WithEventLog(l *eventlog.Log) Option { return func(s *Service) { s.events = l } }

// WithReadFile replaces os.ReadFile for recipient files.
func WithReadFile(fn func(name string) ([]byte, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.readFile = fn
		}
	}
}

type Service struct {
	starter Starter
	groups  GroupSource
	log     logx.Logger
	events  *eventlog.Log

	readFile func(name string) ([]byte, error)

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	loc     *time.Location
	baseCtx context.Context
	entries map[string]cron.EntryID
}

func New(cfg Config, starter Starter, groups GroupSource, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		starter:  starter,
		groups:   groups,
		log:      log.With(logx.String("comp", "scheduler")),
		readFile: os.ReadFile,
		cfg:      cfg,
		entries:  map[string]cron.EntryID{},
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Start begins cron triggering. Runs started by a trigger inherit ctx, so
// cancelling it stops them.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.baseCtx = ctx
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(config.CronParser), cron.WithLocation(s.loc))
	s.entries = map[string]cron.EntryID{}
	for _, camp := range s.cfg.Campaigns {
		if camp.Disabled {
			continue
		}
		name := strings.TrimSpace(camp.Name)
		id, err := s.c.AddFunc(strings.TrimSpace(camp.Schedule), func() { s.fire(name) })
		if err != nil {
			s.log.Warn("campaign not scheduled", logx.String("campaign", name), logx.Err(err))
			continue
		}
		s.entries[name] = id
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("campaigns", len(s.entries)))
}

// Stop stops triggering. Runs already started are not affected.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// Apply swaps the configuration and re-registers campaigns when running.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.baseCtx == nil {
		return
	}
	if s.c != nil {
		// A trigger blocked on s.mu would deadlock a waited stop.
		s.c.Stop()
		s.c = nil
	}
	s.entries = map[string]cron.EntryID{}
	if !cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.startLocked()
}

// Entries lists registered campaigns sorted by name.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		e := Entry{Name: name}
		if s.c != nil {
			e.Next = s.c.Entry(id).Next
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Trigger starts the named campaign now. It returns the controller's error
// unchanged, so dispatch.ErrInvalidTransition means another run is active.
func (s *Service) Trigger(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	camp, ok := s.findLocked(name)
	base := s.cfg.Pacing
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCampaign, name)
	}

	dc, err := s.dispatchConfig(ctx, camp, base)
	if err != nil {
		return "", fmt.Errorf("campaign %q: %w", camp.Name, err)
	}
	return s.starter.Start(ctx, dc)
}

func (s *Service) dispatchConfig(ctx context.Context, camp config.CampaignConfig, base config.PacingConfig) (dispatch.DispatchConfig, error) {
	g, err := s.groups.Get(ctx, camp.Group)
	if err != nil {
		return dispatch.DispatchConfig{}, err
	}
	raw, err := s.readFile(strings.TrimSpace(camp.RecipientsFile))
	if err != nil {
		return dispatch.DispatchConfig{}, fmt.Errorf("recipients: %w", err)
	}
	pacing, err := base.Overlay(camp.Pacing).Dispatch("pacing")
	if err != nil {
		return dispatch.DispatchConfig{}, err
	}
	return dispatch.DispatchConfig{
		Recipients:  dispatch.ParseRecipients(string(raw)),
		Assignments: g.Assignments(),
		Pacing:      pacing,
	}, nil
}

func (s *Service) fire(name string) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	runID, err := s.Trigger(ctx, name)
	switch {
	case err == nil:
		s.log.Info("campaign started", logx.String("campaign", name), logx.RunID(runID))
	case errors.Is(err, dispatch.ErrInvalidTransition):
		s.log.Warn("campaign skipped; a run is active", logx.String("campaign", name))
		s.record(ctx, eventlog.KindInfo, fmt.Sprintf("scheduled campaign %q skipped: another run is active", name))
	default:
		s.log.Error("campaign failed to start", logx.String("campaign", name), logx.Err(err))
		s.record(ctx, eventlog.KindError, fmt.Sprintf("scheduled campaign %q failed to start: %v", name, err))
	}
}

func (s *Service) record(ctx context.Context, kind eventlog.Kind, text string) {
	if s.events == nil {
		return
	}
	s.events.Append(ctx, eventlog.Entry{Kind: kind, Text: text})
}

func (s *Service) findLocked(name string) (config.CampaignConfig, bool) {
	name = strings.TrimSpace(name)
	for _, c := range s.cfg.Campaigns {
		if strings.TrimSpace(c.Name) == name {
			return c, true
		}
	}
	return config.CampaignConfig{}, false
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
