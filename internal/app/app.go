package app

import (
	"context"
	"errors"
	"fmt"

	"bulksend/internal/config"
	"bulksend/internal/dispatch"
	"bulksend/internal/eventbus"
	"bulksend/internal/eventlog"
	"bulksend/internal/profiles"
	"bulksend/internal/sender"
	"bulksend/internal/storage"
	logx "bulksend/pkg/logx"
)

// App owns the components shared by every command: storage, event log,
// sender driver, profile directory, groups and the dispatch controller.
type App struct {
	cfgm *config.ConfigManager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	events *eventlog.Log
	driver sender.Driver
	dir    profiles.Directory
	groups *profiles.Groups
	ctrl   *dispatch.Controller
}

// New loads the config at cfgPath and builds the app.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	if _, err := cfgm.Load(); err != nil {
		return nil, err
	}
	return NewWithManager(ctx, cfgm)
}

// NewWithManager builds the app from an already loaded manager.
func NewWithManager(ctx context.Context, cfgm *config.ConfigManager) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log)
	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: eventbus.New()}

	if err := a.open(ctx, cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.log.Debug("storage ready", logx.String("driver", sc.Driver))

	a.events = eventlog.New(a.store, log)
	if err := a.events.Load(ctx); err != nil {
		return fmt.Errorf("event log: %w", err)
	}

	pc, err := mapProfilesConfig(cfg)
	if err != nil {
		return err
	}
	if a.dir, err = profiles.OpenDirectory(pc); err != nil {
		return err
	}
	a.groups = profiles.NewGroups(a.store, log)

	senderCfg, err := mapSenderConfig(cfg)
	if err != nil {
		return err
	}
	if a.driver, err = sender.Open(ctx, senderCfg, log); err != nil {
		return fmt.Errorf("sender: %w", err)
	}

	poll, err := mapPollInterval(cfg)
	if err != nil {
		return err
	}
	a.ctrl = dispatch.New(a.driver, a.events,
		dispatch.WithLogger(log),
		dispatch.WithBus(a.bus),
		dispatch.WithPollInterval(poll),
	)
	return nil
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger { return a.log }
func (a *App) Bus() eventbus.Bus { return a.bus }
func (a *App) Events() *eventlog.Log { return a.events }
func (a *App) Groups() *profiles.Groups { return a.groups }
func (a *App) Directory() profiles.Directory { return a.dir }
func (a *App) Controller() *dispatch.Controller { return a.ctrl }
func (a *App) ConfigManager() *config.ConfigManager { return a.cfgm }

// DefaultPacing is the configured pacing with built-in defaults filled in.
func (a *App) DefaultPacing() (dispatch.PacingConfig, error) {
	return a.Config().Dispatch.Pacing.Dispatch("dispatch.pacing")
}

// Start checks the selected profiles against the directory and starts a run.
func (a *App) Start(ctx context.Context, dc dispatch.DispatchConfig) (string, error) {
	if err := profiles.CheckSelection(ctx, a.dir, dc.ProfileIDs()); err != nil {
		return "", err
	}
	return a.ctrl.Start(ctx, dc)
}

// Close releases the sender, the store and the log file.
func (a *App) Close() error {
	var errs []error
	if a.driver != nil {
		errs = append(errs, a.driver.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
