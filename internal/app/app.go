// Package app wires the daemon together: config file -> logging ->
// storage -> event bus -> action registry -> scheduler, plus live config
// reload through the manager's watcher.
package app

import (
	"context"
	"fmt"

	"taskd/internal/actions"
	"taskd/internal/config"
	"taskd/internal/eventbus"
	rtsup "taskd/internal/runtime/supervisor"
	"taskd/internal/sched"
	"taskd/internal/storage"
	logx "taskd/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    storage.Store
	bus      eventbus.Bus
	registry *actions.Map
	sched    *sched.Scheduler

	sup *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	schedCfg, err := SchedulerConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	storeCfg, err := StorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()
	registry := actions.NewMap()
	if err := registry.Register("exec", actions.Exec); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	s := sched.New(schedCfg, store, registry, log.With(logx.String("comp", "sched")), bus)

	// Reject config edits that would not map cleanly before they commit.
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := SchedulerConfig(c); err != nil {
			return err
		}
		_, err := StorageConfig(c)
		return err
	})

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		bus:      bus,
		registry: registry,
		sched:    s,
	}, nil
}

func (a *App) Scheduler() *sched.Scheduler { return a.sched }
func (a *App) Registry() *actions.Map      { return a.registry }
func (a *App) Bus() eventbus.Bus           { return a.bus }
func (a *App) Logger() logx.Logger         { return a.log }

func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return err
	}

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "app"))))
	a.sup.GoRestart("config.watch", a.cfgMgr.Watch)

	updates := a.cfgMgr.Subscribe(1)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	a.log.Info("taskd started")
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	schedCfg, err := SchedulerConfig(cfg)
	if err != nil {
		// The validator should have rejected this; keep running on the
		// previous settings.
		a.log.Warn("config apply skipped", logx.Err(err))
		return
	}
	a.sched.Apply(schedCfg)
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	a.sched.Stop(ctx)
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
		a.sup = nil
	}
	err := a.store.Close()
	_ = a.logSvc.Close()
	return err
}
