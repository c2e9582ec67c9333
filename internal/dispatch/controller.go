package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"bulksend/internal/eventbus"
	"bulksend/internal/eventlog"
	logx "bulksend/pkg/logx"
)

// Sender delivers one task. A returned error marks the task failed; the run
// continues either way.
type Sender interface {
	Send(ctx context.Context, t SendTask) error
}

type SenderFunc func(ctx context.Context, t SendTask) error

func (f SenderFunc) Send(ctx context.Context, t SendTask) error { return f(ctx, t) }

const DefaultPollInterval = 500 * time.Millisecond

type Option func(*Controller)

func WithLogger(l logx.Logger) Option { return func(c *Controller) { c.log = l } }

func WithBus(b eventbus.Bus) Option { return func(c *Controller) { c.bus = b } }

// WithPollInterval sets how often a paused run re-checks its status.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithSleep replaces the context-aware wait used for delays and pause polling.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRand seeds the random pacing source of every run.
func WithRand(rng *rand.Rand) Option { return func(c *Controller) { c.rng = rng } }

// Controller executes at most one run at a time.
//
// Lifecycle: Idle -> Running <-> Paused -> Stopped | Completed -> Idle.
// A finished run is torn down to Idle once its summary is logged; its
// outcome stays available through Wait and Snapshot.Last.
type Controller struct {
	sender Sender
	events *eventlog.Log
	bus    eventbus.Bus
	log    logx.Logger

	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
	rng          *rand.Rand

	mu     sync.Mutex
	state  runState
	policy *Policy
	cancel context.CancelFunc
	done   chan struct{}
	last   *Result
}

func New(sender Sender, events *eventlog.Log, opts ...Option) *Controller {
	c := &Controller{
		sender:       sender,
		events:       events,
		pollInterval: DefaultPollInterval,
		sleep:        sleepContext,
		now:          time.Now,
		state:        runState{status: StatusIdle},
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "dispatch"))
	if c.bus == nil {
		c.bus = eventbus.Nop()
	}
	if c.events == nil {
		c.events = eventlog.New(nil, c.log)
	}
	return c
}

// Start validates cfg, expands it into tasks and begins the loop in the
// background. It fails with a *ValidationError for a bad cfg and with
// ErrInvalidTransition unless the controller is Idle.
//
// Cancelling ctx stops the run like Stop does. An in-flight send always
// runs to completion.
func (c *Controller) Start(ctx context.Context, cfg DispatchConfig) (string, error) {
	tasks, err := Build(cfg)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.state.status != StatusIdle {
		from := c.state.status
		c.mu.Unlock()
		return "", transitionError(from, StatusRunning)
	}
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	sendCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	c.state = runState{
		runID:     runID,
		status:    StatusRunning,
		tasks:     tasks,
		pacing:    cfg.Pacing,
		startedAt: c.now(),
	}
	c.policy = NewPolicy(cfg.Pacing, c.rng)
	c.cancel = cancel
	c.done = done
	c.last = nil
	c.mu.Unlock()

	total := len(tasks)
	c.log.Info("run started",
		logx.RunID(runID),
		logx.Int("total", total),
		logx.Int("recipients", len(cfg.Recipients)),
		logx.Int("profiles", len(cfg.Assignments)),
	)
	c.appendEntry(ctx, eventlog.Entry{
		Kind:  eventlog.KindInfo,
		RunID: runID,
		Text: fmt.Sprintf("bulk send started: %d messages (%d recipients x %d profiles), estimated %s",
			total, len(cfg.Recipients), len(cfg.Assignments), orNone(FormatETA(Estimate(total, cfg.Pacing)))),
	})
	c.publishState(runID, StatusIdle, StatusRunning)

	go c.run(runCtx, sendCtx, runID, done)
	return runID, nil
}

// Pause takes effect before the next task; an in-flight send completes.
func (c *Controller) Pause() error {
	return c.toggle(StatusRunning, StatusPaused, "bulk send paused")
}

func (c *Controller) Resume() error {
	return c.toggle(StatusPaused, StatusRunning, "bulk send resumed")
}

func (c *Controller) toggle(from, to Status, text string) error {
	c.mu.Lock()
	if c.state.status != from {
		cur := c.state.status
		c.mu.Unlock()
		return transitionError(cur, to)
	}
	c.state.status = to
	runID := c.state.runID
	sent, total := c.state.sent, len(c.state.tasks)
	c.mu.Unlock()

	c.log.Info("run "+to.String(), logx.RunID(runID), logx.Int("sent", sent), logx.Int("total", total))
	c.appendEntry(context.Background(), eventlog.Entry{
		Kind:  eventlog.KindInfo,
		RunID: runID,
		Text:  fmt.Sprintf("%s at %d/%d", text, sent, total),
	})
	c.publishState(runID, from, to)
	return nil
}

// Stop ends the active run. The loop observes it at the next check point
// (before a send, during a delay, while paused); a send already in flight
// is completed and recorded first.
func (c *Controller) Stop() error {
	c.mu.Lock()
	from := c.state.status
	if !from.Active() {
		c.mu.Unlock()
		return transitionError(from, StatusStopped)
	}
	c.state.status = StatusStopped
	runID := c.state.runID
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.log.Info("stop requested", logx.RunID(runID))
	c.publishState(runID, from, StatusStopped)
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		RunID:     c.state.runID,
		Status:    c.state.status,
		Sent:      c.state.sent,
		Failed:    c.state.failed,
		Total:     len(c.state.tasks),
		StartedAt: c.state.startedAt,
	}
	if s.Status.Active() {
		s.Remaining = EstimateRemaining(s.Sent, s.Total, c.state.pacing)
	}
	if c.last != nil {
		r := *c.last
		s.Last = &r
	}
	return s
}

// Done is closed when the current (or last) run has been torn down.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Wait blocks until the current run is torn down and returns its result.
// After a run has finished it returns that run's result immediately.
func (c *Controller) Wait(ctx context.Context) (Result, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return Result{}, ErrNoRun
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-done:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Result{}, ErrNoRun
	}
	return *c.last, nil
}

// Events returns the run log.
func (c *Controller) Events() *eventlog.Log { return c.events }

func (c *Controller) run(runCtx, sendCtx context.Context, runID string, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in dispatch loop",
				logx.RunID(runID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			c.finish(runID, false, fmt.Errorf("panic: %v", r))
		}
	}()

	for {
		if !c.awaitRunnable(runCtx) {
			c.finish(runID, false, nil)
			return
		}
		delay, finished := c.step(runCtx, sendCtx, runID)
		if finished {
			c.finish(runID, true, nil)
			return
		}
		if delay.Duration <= 0 {
			continue
		}
		if err := c.sleep(runCtx, delay.Duration); err != nil {
			c.finish(runID, false, nil)
			return
		}
		if delay.AutoRest {
			c.appendEntry(sendCtx, eventlog.Entry{
				Kind:  eventlog.KindInfo,
				RunID: runID,
				Text:  "auto-rest finished, continuing",
			})
		}
	}
}

// awaitRunnable blocks while the run is paused. It returns false once the
// run has been stopped.
func (c *Controller) awaitRunnable(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		c.mu.Lock()
		paused := c.state.status == StatusPaused
		c.mu.Unlock()
		if !paused {
			return true
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return false
		}
	}
}

// step executes the task at the cursor and returns the delay to wait before
// the next one, or finished once every task has been attempted.
func (c *Controller) step(runCtx, sendCtx context.Context, runID string) (Delay, bool) {
	c.mu.Lock()
	task := c.state.tasks[c.state.cursor]
	total := len(c.state.tasks)
	c.mu.Unlock()

	started := c.now()
	err := c.sender.Send(sendCtx, task)
	took := c.now().Sub(started)

	c.mu.Lock()
	c.state.cursor++
	c.state.sent++
	if err != nil {
		c.state.failed++
	}
	sent, failed := c.state.sent, c.state.failed
	c.mu.Unlock()

	entry := eventlog.Entry{
		RunID:           runID,
		Recipient:       task.Recipient,
		ProfileID:       task.ProfileID,
		DurationSeconds: took.Seconds(),
	}
	progress := Progress{
		Recipient: task.Recipient,
		ProfileID: task.ProfileID,
		Took:      took,
		Sent:      sent,
		Failed:    failed,
		Total:     total,
	}
	if err != nil {
		entry.Kind = eventlog.KindError
		entry.Text = fmt.Sprintf("send failed (%d/%d): %v", sent, total, err)
		progress.Err = err.Error()
		c.log.Warn("send failed",
			logx.RunID(runID),
			logx.String("recipient", task.Recipient),
			logx.String("profile", task.ProfileID),
			logx.Err(err),
		)
	} else {
		entry.Kind = eventlog.KindTaskResult
		entry.Text = fmt.Sprintf("sent (%d/%d)", sent, total)
		c.log.Debug("sent",
			logx.RunID(runID),
			logx.String("recipient", task.Recipient),
			logx.String("profile", task.ProfileID),
			logx.Duration("took", took),
		)
	}
	c.appendEntry(sendCtx, entry)
	c.bus.Publish(eventbus.Event{Type: TopicProgress, RunID: runID, Data: progress})

	if sent >= total {
		return Delay{}, true
	}
	if runCtx.Err() != nil {
		return Delay{}, false
	}

	delay := c.policy.NextDelay(sent, total)
	if delay.Duration <= 0 {
		return delay, false
	}
	now := c.now()
	until := now.Add(delay.Duration)
	pause := eventlog.Entry{
		Time:            now,
		Kind:            eventlog.KindPauseWindow,
		RunID:           runID,
		DurationSeconds: delay.Duration.Seconds(),
		PauseEndsAt:     until,
		AutoRest:        delay.AutoRest,
	}
	if delay.AutoRest {
		pause.Text = fmt.Sprintf("auto-rest after %d messages, resting %s", sent, FormatETA(delay.Duration))
		c.log.Info("auto-rest", logx.RunID(runID), logx.Int("sent", sent), logx.Duration("rest", delay.Duration))
	} else {
		pause.Text = fmt.Sprintf("waiting %s before next message", FormatETA(delay.Duration))
	}
	c.appendEntry(sendCtx, pause)
	c.bus.Publish(eventbus.Event{Type: TopicRest, RunID: runID, Data: Rest{
		Duration: delay.Duration,
		Until:    until,
		AutoRest: delay.AutoRest,
	}})
	return delay, false
}

// finish records the outcome and tears the run down to Idle.
func (c *Controller) finish(runID string, completed bool, runErr error) {
	c.mu.Lock()
	from := c.state.status
	// Every task attempted is a completed run, even if Stop raced the last send.
	final := StatusStopped
	if completed {
		final = StatusCompleted
	}
	c.state.status = final
	res := Result{
		RunID:      runID,
		Status:     final,
		Sent:       c.state.sent,
		Failed:     c.state.failed,
		Total:      len(c.state.tasks),
		StartedAt:  c.state.startedAt,
		FinishedAt: c.now(),
	}
	if runErr != nil {
		res.Err = runErr.Error()
	}
	c.mu.Unlock()

	ctx := context.Background()
	if final == StatusCompleted {
		c.appendEntry(ctx, eventlog.Entry{
			Kind:  eventlog.KindInfo,
			RunID: runID,
			Text:  fmt.Sprintf("bulk send finished: %d/%d sent, %d failed", res.Sent, res.Total, res.Failed),
		})
	} else {
		text := fmt.Sprintf("bulk send stopped: %d/%d sent, %d failed", res.Sent, res.Total, res.Failed)
		if res.Err != "" {
			text += ": " + res.Err
		}
		c.appendEntry(ctx, eventlog.Entry{Kind: eventlog.KindError, RunID: runID, Text: text})
	}
	c.log.Info("run finished",
		logx.RunID(runID),
		logx.String("status", final.String()),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Int("total", res.Total),
		logx.Duration("elapsed", res.Elapsed()),
	)
	if from != final {
		c.publishState(runID, from, final)
	}

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.policy = nil
	c.last = &res
	c.state = runState{status: StatusIdle}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.publishState(runID, final, StatusIdle)
}

func (c *Controller) appendEntry(ctx context.Context, e eventlog.Entry) {
	if e.Time.IsZero() {
		e.Time = c.now()
	}
	c.events.Append(ctx, e)
}

func (c *Controller) publishState(runID string, from, to Status) {
	c.bus.Publish(eventbus.Event{Type: TopicState, RunID: runID, Data: StateChange{From: from, To: to}})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func orNone(s string) string {
	if s == "" {
		return "no wait"
	}
	return s
}
