package scheduler

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"bulksend/internal/config"
	"bulksend/internal/dispatch"
	"bulksend/internal/eventlog"
	"bulksend/internal/profiles"
	logx "bulksend/pkg/logx"
)

type fakeStarter struct {
	mu    sync.Mutex
	calls []dispatch.DispatchConfig
	err   error
	fired chan struct{}
}

func (f *fakeStarter) Start(_ context.Context, cfg dispatch.DispatchConfig) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cfg)
	err := f.err
	f.mu.Unlock()
	if f.fired != nil {
		select {
		case f.fired <- struct{}{}:
		default:
		}
	}
	if err != nil {
		return "", err
	}
	return "run-1", nil
}

type fakeGroups map[string]profiles.Group

func (f fakeGroups) Get(_ context.Context, name string) (profiles.Group, error) {
	g, ok := f[name]
	if !ok {
		return profiles.Group{}, profiles.ErrGroupNotFound
	}
	return g, nil
}

var promo = profiles.Group{
	ID:       "g1",
	Name:     "promo",
	Profiles: []string{"alpha", "beta"},
	Payloads: map[string]dispatch.Payload{
		"alpha": {Text: "hi from alpha"},
		"beta":  {Text: "hi from beta"},
	},
}

func readFiles(files map[string]string) func(string) ([]byte, error) {
	return func(name string) ([]byte, error) {
		s, ok := files[name]
		if !ok {
			return nil, os.ErrNotExist
		}
		return []byte(s), nil
	}
}

func testConfig(schedule string) Config {
	return Config{
		Enabled:  true,
		Timezone: "UTC",
		Pacing:   config.PacingConfig{Mode: "fixed", Fixed: "5s"},
		Campaigns: []config.CampaignConfig{{
			Name:           "morning",
			Schedule:       schedule,
			Group:          "promo",
			RecipientsFile: "list.txt",
			Pacing:         &config.PacingConfig{AutoRest: &config.AutoRestConfig{AfterCount: 2, RestMinutes: 1}},
		}},
	}
}

func TestTriggerBuildsDispatchConfig(t *testing.T) {
	t.Parallel()

	st := &fakeStarter{}
	s := New(testConfig("0 9 * * *"), st, fakeGroups{"promo": promo}, logx.Nop(),
		WithReadFile(readFiles(map[string]string{"list.txt": "# vip\n111\n\n222\n"})))

	runID, err := s.Trigger(context.Background(), "morning")
	if err != nil || runID != "run-1" {
		t.Fatalf("Trigger: %q %v", runID, err)
	}
	if len(st.calls) != 1 {
		t.Fatalf("calls=%d", len(st.calls))
	}
	got := st.calls[0]
	if !reflect.DeepEqual(got.Recipients, []string{"111", "222"}) {
		t.Fatalf("recipients=%v", got.Recipients)
	}
	if !reflect.DeepEqual(got.ProfileIDs(), []string{"alpha", "beta"}) {
		t.Fatalf("profiles=%v", got.ProfileIDs())
	}
	if got.Pacing.Mode != dispatch.PacingFixed || got.Pacing.Fixed != 5*time.Second {
		t.Fatalf("pacing=%+v", got.Pacing)
	}
	if got.Pacing.AutoRest == nil || got.Pacing.AutoRest.AfterCount != 2 {
		t.Fatalf("auto-rest override lost: %+v", got.Pacing.AutoRest)
	}
}

func TestTriggerErrors(t *testing.T) {
	t.Parallel()

	st := &fakeStarter{}
	s := New(testConfig("0 9 * * *"), st, fakeGroups{}, logx.Nop(), WithReadFile(readFiles(nil)))

	if _, err := s.Trigger(context.Background(), "evening"); !errors.Is(err, ErrUnknownCampaign) {
		t.Fatalf("err=%v", err)
	}
	if _, err := s.Trigger(context.Background(), "morning"); !errors.Is(err, profiles.ErrGroupNotFound) {
		t.Fatalf("err=%v", err)
	}

	s = New(testConfig("0 9 * * *"), st, fakeGroups{"promo": promo}, logx.Nop(), WithReadFile(readFiles(nil)))
	if _, err := s.Trigger(context.Background(), "morning"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v", err)
	}
	if len(st.calls) != 0 {
		t.Fatalf("starter called %d times", len(st.calls))
	}
}

func TestFireRecordsSkippedRun(t *testing.T) {
	t.Parallel()

	st := &fakeStarter{err: dispatch.ErrInvalidTransition}
	events := eventlog.New(nil, logx.Nop())
	s := New(testConfig("0 9 * * *"), st, fakeGroups{"promo": promo}, logx.Nop(),
		WithEventLog(events),
		WithReadFile(readFiles(map[string]string{"list.txt": "111\n"})))
	s.baseCtx = context.Background()

	s.fire("morning")

	entries := events.Entries()
	if len(entries) != 1 || entries[0].Kind != eventlog.KindInfo || !strings.Contains(entries[0].Text, "skipped") {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestCronFiresCampaign(t *testing.T) {
	t.Parallel()

	st := &fakeStarter{fired: make(chan struct{}, 1)}
	s := New(testConfig("@every 1s"), st, fakeGroups{"promo": promo}, logx.Nop(),
		WithReadFile(readFiles(map[string]string{"list.txt": "111\n"})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if e := s.Entries(); len(e) != 1 || e[0].Name != "morning" || e[0].Next.IsZero() {
		t.Fatalf("entries=%+v", e)
	}
	select {
	case <-st.fired:
	case <-time.After(5 * time.Second):
		t.Fatalf("campaign never fired")
	}
}

func TestApplyDisablesAndReenables(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeStarter{}, fakeGroups{}, logx.Nop())
	s.Start(context.Background())
	if len(s.Entries()) != 0 {
		t.Fatalf("disabled scheduler registered campaigns")
	}

	cfg := testConfig("0 9 * * *")
	cfg.Campaigns = append(cfg.Campaigns, config.CampaignConfig{Name: "off", Schedule: "0 10 * * *", Disabled: true})
	s.Apply(cfg)
	if e := s.Entries(); len(e) != 1 || e[0].Name != "morning" {
		t.Fatalf("entries=%+v", e)
	}

	cfg.Enabled = false
	s.Apply(cfg)
	if len(s.Entries()) != 0 {
		t.Fatalf("entries survived disable")
	}
	s.Stop(context.Background())
}
