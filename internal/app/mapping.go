package app

import (
	"time"

	"taskd/internal/config"
	"taskd/internal/sched"
	"taskd/internal/storage"
)

// SchedulerConfig maps the on-disk scheduler block (duration strings) onto
// the engine's parsed Config.
func SchedulerConfig(cfg *config.Config) (sched.Config, error) {
	var out sched.Config
	if cfg == nil {
		return out, nil
	}
	sc := cfg.Scheduler

	var err error
	if out.TickInterval, err = config.ParseDurationOrDefault("scheduler.tick_interval", sc.TickInterval, time.Second); err != nil {
		return out, err
	}
	if out.WorkerRetryDelay, err = config.ParseDurationOrDefault("scheduler.worker_retry_delay", sc.WorkerRetryDelay, 30*time.Second); err != nil {
		return out, err
	}
	if out.DepBaseDelay, err = config.ParseDurationOrDefault("scheduler.dependency.base_delay", sc.Dependency.BaseDelay, 5*time.Second); err != nil {
		return out, err
	}
	if out.DepMaxDelay, err = config.ParseDurationOrDefault("scheduler.dependency.max_delay", sc.Dependency.MaxDelay, 5*time.Minute); err != nil {
		return out, err
	}
	if out.DepMaxWait, err = config.ParseDurationOrDefault("scheduler.dependency.max_wait", sc.Dependency.MaxWait, 24*time.Hour); err != nil {
		return out, err
	}
	out.MaxWorkers = sc.MaxWorkers
	out.DepMaxAttempts = sc.Dependency.MaxAttempts
	return out, nil
}

// StorageConfig maps the on-disk storage block onto storage.Config.
func StorageConfig(cfg *config.Config) (storage.Config, error) {
	var out storage.Config
	if cfg == nil {
		return out, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return out, err
	}
	out.Driver = cfg.Storage.Driver
	out.Path = cfg.Storage.Path
	out.BusyTimeout = busy
	return out, nil
}
