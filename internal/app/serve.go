package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"bulksend/internal/config"
	"bulksend/internal/dispatch"
	"bulksend/internal/notifier"
	"bulksend/internal/observability/statushttp"
	"bulksend/internal/runtime/supervisor"
	"bulksend/internal/scheduler"
	logx "bulksend/pkg/logx"
)

// Serve runs the daemon (cron campaigns, Telegram notifier, config hot
// reload) until ctx is cancelled or a supervised goroutine fails. An active
// run is stopped on the way out. Cancel ctx with a StopReason cause to have
// it logged.
func (a *App) Serve(ctx context.Context) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	cfg := a.Config()

	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := c.Dispatch.Pacing.Dispatch("dispatch.pacing"); err != nil {
			return err
		}
		if _, err := mapStatusConfig(c); err != nil {
			return err
		}
		_, err := mapTelegramConfig(c)
		return err
	})

	statusCfg, err := mapStatusConfig(cfg)
	if err != nil {
		return err
	}
	svc := &services{
		sched:  scheduler.New(scheduler.FromConfig(cfg), a, a.groups, a.log, scheduler.WithEventLog(a.events)),
		status: statushttp.New(statusCfg, a.ctrl, a.events, a.log),
	}
	var bot *notifier.Telegram
	svc.notif, bot, err = a.openNotifier(cfg)
	if err != nil {
		return err
	}
	if bot != nil {
		sup.GoRestart("telegram.poll", bot.Run, 500*time.Millisecond, 10*time.Second)
	}
	// The notifier outlives the supervisor context so the final run summary
	// is still delivered; shutdown stops it explicitly.
	svc.notif.Start(context.WithoutCancel(sup.Context()))
	svc.sched.Start(sup.Context())
	svc.status.Start(sup.Context())

	sup.Go("config.watch", a.cfgm.Watch)
	sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, svc) })
	a.watchdog(sup)

	notifySystemd(a.log, daemon.SdNotifyReady)
	a.log.Info("serving",
		logx.Int("campaigns", len(svc.sched.Entries())),
		logx.Bool("notifier", bot != nil),
		logx.Bool("status_http", statusCfg.Enabled),
	)

	<-sup.Context().Done()
	reason := StopUnknown
	if r, ok := context.Cause(ctx).(StopReason); ok {
		reason = r
	}
	if sup.Err() != nil {
		reason = StopFatalError
	}
	return a.shutdown(sup, svc, reason)
}

// services are the daemon components that follow config reloads.
type services struct {
	sched  *scheduler.Service
	notif  *notifier.Service
	status *statushttp.Service
}

func (a *App) openNotifier(cfg *config.Config) (*notifier.Service, *notifier.Telegram, error) {
	ncfg := mapNotifierConfig(cfg)
	if !ncfg.Enabled {
		return notifier.New(ncfg, nil, a.bus, a.log), nil, nil
	}
	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	bot, err := notifier.NewTelegram(tcfg, a.log)
	if err != nil {
		return nil, nil, fmt.Errorf("notifier: %w", err)
	}
	if cfg.Notifier.Commands {
		bot.HandleCommands(a.ctrl)
	}
	return notifier.New(ncfg, bot, a.bus, a.log), bot, nil
}

func (a *App) reloadLoop(ctx context.Context, svc *services) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			notifySystemd(a.log, daemon.SdNotifyReloading)
			a.applyConfig(ctx, lastApplied, newCfg, svc)
			lastApplied = newCfg
			notifySystemd(a.log, daemon.SdNotifyReady)
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config, svc *services) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))
	svc.sched.Apply(scheduler.FromConfig(newCfg))
	svc.notif.Apply(mapNotifierConfig(newCfg))
	if st, err := mapStatusConfig(newCfg); err == nil {
		svc.status.Reconfigure(ctx, st)
	}
	oldT, _ := mapTelegramConfig(oldCfg)
	newT, _ := mapTelegramConfig(newCfg)
	if !reflect.DeepEqual(oldT, newT) || notifierCommands(oldCfg) != notifierCommands(newCfg) {
		a.log.Warn("telegram settings changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// watchdog pings systemd at half the configured interval.
func (a *App) watchdog(sup *supervisor.Supervisor) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				notifySystemd(a.log, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) shutdown(sup *supervisor.Supervisor, svc *services, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		c, cancel := context.WithTimeout(context.Background(), max)
		defer cancel()
		fn(c)
		if c.Err() != nil {
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 2*time.Second, svc.sched.Stop)
	// A send in flight is allowed to finish and be recorded.
	step("dispatch", 90*time.Second, func(c context.Context) {
		if err := a.ctrl.Stop(); err != nil && !errors.Is(err, dispatch.ErrInvalidTransition) {
			a.log.Warn("dispatch stop", logx.Err(err))
		}
		_, _ = a.ctrl.Wait(c)
	})
	step("notifier", 3*time.Second, svc.notif.Stop)
	step("status", 2*time.Second, func(c context.Context) { _ = svc.status.Stop(c) })

	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := sup.Stop(c)
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("supervised goroutines still running after stop", logx.Int64("active", sup.Active()))
		err = nil
	}
	a.log.Info("stopped")
	return err
}

func notifierCommands(cfg *config.Config) bool {
	return cfg.Notifier != nil && cfg.Notifier.Commands
}

func notifySystemd(log logx.Logger, state string) {
	if sent, err := daemon.SdNotify(false, state); err != nil {
		log.Debug("systemd notify failed", logx.String("state", state), logx.Err(err))
	} else if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}
