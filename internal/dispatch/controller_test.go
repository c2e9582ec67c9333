package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulksend/internal/eventbus"
	"bulksend/internal/eventlog"
	"bulksend/internal/storage"
	logx "bulksend/pkg/logx"
)

const testPoll = 7 * time.Millisecond

// fakeSleeper records every wait and returns quickly unless the delay is
// listed in block, in which case it waits for cancellation.
type fakeSleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	block  map[time.Duration]bool
	polled chan struct{}
}

func newFakeSleeper() *fakeSleeper {
	return &fakeSleeper{block: map[time.Duration]bool{}, polled: make(chan struct{}, 1)}
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	blocked := s.block[d]
	if d != testPoll {
		s.waits = append(s.waits, d)
	}
	s.mu.Unlock()

	if d == testPoll {
		select {
		case s.polled <- struct{}{}:
		default:
		}
	}
	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
		return nil
	}
}

func (s *fakeSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

type fakeSender struct {
	mu     sync.Mutex
	calls  []SendTask
	fail   map[string]error
	onSend func(n int, t SendTask)
}

func (f *fakeSender) Send(ctx context.Context, t SendTask) error {
	f.mu.Lock()
	f.calls = append(f.calls, t)
	n := len(f.calls)
	hook := f.onSend
	err := f.fail[t.Recipient]
	f.mu.Unlock()
	if hook != nil {
		hook(n, t)
	}
	return err
}

func (f *fakeSender) Calls() []SendTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SendTask(nil), f.calls...)
}

type harness struct {
	ctrl    *Controller
	sender  *fakeSender
	sleeper *fakeSleeper
	log     *eventlog.Log
	states  <-chan eventbus.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := eventbus.New()
	states, unsub := bus.Subscribe(64, TopicState)
	t.Cleanup(unsub)

	h := &harness{
		sender:  &fakeSender{fail: map[string]error{}},
		sleeper: newFakeSleeper(),
		log:     eventlog.New(storage.NewMemory(), logx.Nop()),
		states:  states,
	}
	h.ctrl = New(h.sender, h.log,
		WithBus(bus),
		WithSleep(h.sleeper.Sleep),
		WithPollInterval(testPoll),
	)
	return h
}

func (h *harness) wait(t *testing.T) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.ctrl.Wait(ctx)
	require.NoError(t, err)
	return res
}

func (h *harness) transitions() []StateChange {
	var out []StateChange
	for {
		select {
		case e := <-h.states:
			out = append(out, e.Data.(StateChange))
		default:
			return out
		}
	}
}

func (h *harness) entries(kind eventlog.Kind) []eventlog.Entry {
	var out []eventlog.Entry
	all := h.log.Entries()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Kind == kind {
			out = append(out, all[i])
		}
	}
	return out
}

func oneProfile(recipients ...string) DispatchConfig {
	return DispatchConfig{
		Recipients:  recipients,
		Assignments: []Assignment{{ProfileID: "alpha", Payload: Payload{Text: "hello"}}},
		Pacing:      fixedPacing(5 * time.Second),
	}
}

func TestRunCompletesWithFixedDelay(t *testing.T) {
	h := newHarness(t)

	runID, err := h.ctrl.Start(context.Background(), oneProfile("+1", "+2"))
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	res := h.wait(t)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.Total)
	assert.Zero(t, res.Failed)
	assert.Equal(t, runID, res.RunID)

	assert.Equal(t, []time.Duration{5 * time.Second}, h.sleeper.Waits())

	pauses := h.entries(eventlog.KindPauseWindow)
	require.Len(t, pauses, 1)
	assert.InDelta(t, 5.0, pauses[0].DurationSeconds, 0.001)
	assert.False(t, pauses[0].AutoRest)
	assert.Equal(t, 5*time.Second, pauses[0].PauseEndsAt.Sub(pauses[0].Time))

	results := h.entries(eventlog.KindTaskResult)
	require.Len(t, results, 2)
	assert.Equal(t, "+1", results[0].Recipient)
	assert.Equal(t, "+2", results[1].Recipient)

	assert.Equal(t, []StateChange{
		{From: StatusIdle, To: StatusRunning},
		{From: StatusRunning, To: StatusCompleted},
		{From: StatusCompleted, To: StatusIdle},
	}, h.transitions())

	snap := h.ctrl.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	require.NotNil(t, snap.Last)
	assert.Equal(t, StatusCompleted, snap.Last.Status)
}

func TestRunAutoRestWindows(t *testing.T) {
	h := newHarness(t)

	recipients := make([]string, 12)
	for i := range recipients {
		recipients[i] = "+" + string(rune('a'+i))
	}
	cfg := oneProfile(recipients...)
	cfg.Pacing = PacingConfig{
		Mode:     PacingFixed,
		Fixed:    2 * time.Second,
		AutoRest: &AutoRest{AfterCount: 5, RestMinutes: 1},
	}

	_, err := h.ctrl.Start(context.Background(), cfg)
	require.NoError(t, err)
	res := h.wait(t)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 12, res.Sent)

	two, rest := 2*time.Second, time.Minute
	assert.Equal(t, []time.Duration{two, two, two, two, rest, two, two, two, two, rest, two}, h.sleeper.Waits())

	var rests []eventlog.Entry
	for _, e := range h.entries(eventlog.KindPauseWindow) {
		if e.AutoRest {
			rests = append(rests, e)
		}
	}
	require.Len(t, rests, 2)
	for _, e := range rests {
		assert.Equal(t, time.Minute, e.PauseEndsAt.Sub(e.Time))
	}
}

func TestFailedSendDoesNotAbortRun(t *testing.T) {
	h := newHarness(t)
	h.sender.fail["+2"] = errors.New("gateway rejected")

	_, err := h.ctrl.Start(context.Background(), oneProfile("+1", "+2", "+3"))
	require.NoError(t, err)
	res := h.wait(t)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, h.sender.Calls(), 3)

	errs := h.entries(eventlog.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, "+2", errs[0].Recipient)
	assert.Contains(t, errs[0].Text, "gateway rejected")
}

func TestZeroDelayWritesNoPauseWindow(t *testing.T) {
	h := newHarness(t)
	cfg := oneProfile("+1", "+2", "+3")
	cfg.Pacing = fixedPacing(0)

	_, err := h.ctrl.Start(context.Background(), cfg)
	require.NoError(t, err)
	h.wait(t)

	assert.Empty(t, h.entries(eventlog.KindPauseWindow))
	assert.Empty(t, h.sleeper.Waits())
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t)
	cfg := oneProfile("+1")
	cfg.Assignments = append(cfg.Assignments, Assignment{ProfileID: "beta"})

	_, err := h.ctrl.Start(context.Background(), cfg)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"beta"}, verr.EmptyPayloadProfiles)

	assert.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)
	assert.Zero(t, h.log.Len())
	_, err = h.ctrl.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoRun)
}

func TestControlFromWrongState(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.ctrl.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.Stop(), ErrInvalidTransition)

	h.sleeper.block[5*time.Second] = true
	_, err := h.ctrl.Start(context.Background(), oneProfile("+1", "+2"))
	require.NoError(t, err)

	_, err = h.ctrl.Start(context.Background(), oneProfile("+3"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.Resume(), ErrInvalidTransition)

	require.NoError(t, h.ctrl.Stop())
	h.wait(t)
}

func TestStopDuringDelay(t *testing.T) {
	h := newHarness(t)
	h.sleeper.block[5*time.Second] = true

	_, err := h.ctrl.Start(context.Background(), oneProfile("+1", "+2", "+3"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.sleeper.Waits()) == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, h.ctrl.Stop())

	res := h.wait(t)
	assert.Equal(t, StatusStopped, res.Status)
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, h.sender.Calls(), 1)

	last := h.log.Entries()[0]
	assert.Equal(t, eventlog.KindError, last.Kind)
	assert.Contains(t, last.Text, "1/3")
}

func TestStopLetsInFlightSendFinish(t *testing.T) {
	h := newHarness(t)
	h.sender.onSend = func(n int, _ SendTask) {
		if n == 1 {
			assert.NoError(t, h.ctrl.Stop())
		}
	}

	_, err := h.ctrl.Start(context.Background(), oneProfile("+1", "+2"))
	require.NoError(t, err)
	res := h.wait(t)

	assert.Equal(t, StatusStopped, res.Status)
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, h.sender.Calls(), 1)
	require.Len(t, h.entries(eventlog.KindTaskResult), 1)
	assert.Empty(t, h.entries(eventlog.KindPauseWindow))
}

func TestStopDuringLastSendCompletes(t *testing.T) {
	h := newHarness(t)
	h.sender.onSend = func(n int, _ SendTask) {
		if n == 2 {
			assert.NoError(t, h.ctrl.Stop())
		}
	}

	_, err := h.ctrl.Start(context.Background(), oneProfile("+1", "+2"))
	require.NoError(t, err)
	res := h.wait(t)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.Total)
	require.Len(t, h.entries(eventlog.KindTaskResult), 2)
	assert.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)
	assert.Equal(t, StatusCompleted, h.ctrl.Snapshot().Last.Status)
}

func TestStopWhilePaused(t *testing.T) {
	h := newHarness(t)
	h.sender.onSend = func(n int, _ SendTask) {
		if n == 1 {
			assert.NoError(t, h.ctrl.Pause())
		}
	}

	_, err := h.ctrl.Start(context.Background(), oneProfile("+1", "+2", "+3"))
	require.NoError(t, err)

	select {
	case <-h.sleeper.polled:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never polled while paused")
	}
	assert.Equal(t, StatusPaused, h.ctrl.Snapshot().Status)
	require.NoError(t, h.ctrl.Stop())

	res := h.wait(t)
	assert.Equal(t, StatusStopped, res.Status)
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, h.sender.Calls(), 1)
	assert.Contains(t, h.transitions(), StateChange{From: StatusPaused, To: StatusStopped})
}

func TestPauseResumeMatchesUninterruptedRun(t *testing.T) {
	cfg := DispatchConfig{
		Recipients: []string{"+1", "+2", "+3"},
		Assignments: []Assignment{
			{ProfileID: "alpha", Payload: Payload{Text: "a"}},
			{ProfileID: "beta", Payload: Payload{Text: "b"}},
		},
		Pacing: fixedPacing(3 * time.Second),
	}

	plain := newHarness(t)
	_, err := plain.ctrl.Start(context.Background(), cfg)
	require.NoError(t, err)
	plainRes := plain.wait(t)

	paused := newHarness(t)
	resumed := make(chan struct{})
	paused.sender.onSend = func(n int, _ SendTask) {
		if n == 2 {
			assert.NoError(t, paused.ctrl.Pause())
		}
	}
	go func() {
		defer close(resumed)
		<-paused.sleeper.polled
		<-paused.sleeper.polled
		_ = paused.ctrl.Resume()
	}()
	_, err = paused.ctrl.Start(context.Background(), cfg)
	require.NoError(t, err)
	pausedRes := paused.wait(t)
	<-resumed

	assert.Equal(t, plainRes.Status, pausedRes.Status)
	assert.Equal(t, plainRes.Sent, pausedRes.Sent)
	assert.Equal(t, plain.sender.Calls(), paused.sender.Calls())
	assert.Equal(t, plain.sleeper.Waits(), paused.sleeper.Waits())
	assert.Equal(t, taskKeys(plain.entries(eventlog.KindTaskResult)), taskKeys(paused.entries(eventlog.KindTaskResult)))
	assert.Len(t, paused.entries(eventlog.KindPauseWindow), len(plain.entries(eventlog.KindPauseWindow)))
}

func TestSequentialRunsStartFresh(t *testing.T) {
	h := newHarness(t)

	first, err := h.ctrl.Start(context.Background(), oneProfile("+1"))
	require.NoError(t, err)
	h.wait(t)

	second, err := h.ctrl.Start(context.Background(), oneProfile("+2", "+3"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	res := h.wait(t)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.Total)
}

func TestParentContextCancelStopsRun(t *testing.T) {
	h := newHarness(t)
	h.sleeper.block[5*time.Second] = true

	ctx, cancel := context.WithCancel(context.Background())
	_, err := h.ctrl.Start(ctx, oneProfile("+1", "+2"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.sleeper.Waits()) == 1 }, 2*time.Second, time.Millisecond)
	cancel()

	res := h.wait(t)
	assert.Equal(t, StatusStopped, res.Status)
	assert.Equal(t, 1, res.Sent)
}

func TestSnapshotReportsProgress(t *testing.T) {
	h := newHarness(t)
	h.sleeper.block[5*time.Second] = true

	_, err := h.ctrl.Start(context.Background(), oneProfile("+1", "+2", "+3"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.sleeper.Waits()) == 1 }, 2*time.Second, time.Millisecond)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, 1, snap.Sent)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 10*time.Second, snap.Remaining)
	assert.Equal(t, "10s", snap.ETA())

	require.NoError(t, h.ctrl.Stop())
	h.wait(t)
}

func taskKeys(entries []eventlog.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Recipient + "/" + e.ProfileID
	}
	return out
}
