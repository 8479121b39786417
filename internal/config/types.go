package config

// Config is the daemon's on-disk configuration.
//
// Both JSON and YAML files are accepted; YAML is coerced to JSON so the
// strict decoder (DisallowUnknownFields) covers both formats.
//
// All duration fields are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type LoggingConfig struct {
	Level   string         `json:"level,omitempty"`
	Console *bool          `json:"console,omitempty"` // pointer: omitted means true
	File    FileLogConfig  `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Driver: "memory" (default) or "sqlite".
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`

	// BusyTimeout applies to sqlite only.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the tick loop and the execution dispatcher.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "1s"
//   - max_workers: 4
//   - worker_retry_delay: "30s"
//   - dependency.base_delay: "5s"
//   - dependency.max_delay: "5m"
//   - dependency.max_attempts: 20
//   - dependency.max_wait: "24h"
type SchedulerConfig struct {
	// TickInterval is the loop's polling period.
	TickInterval string `json:"tick_interval,omitempty"`

	// MaxWorkers bounds concurrently running tasks.
	MaxWorkers int `json:"max_workers,omitempty"`

	// WorkerRetryDelay is the fixed requeue delay when all worker slots
	// are busy. Capacity exhaustion is not an error condition.
	WorkerRetryDelay string `json:"worker_retry_delay,omitempty"`

	Dependency DependencyConfig `json:"dependency,omitempty"`
}

// DependencyConfig bounds how long a task may wait for unmet dependencies
// before it is failed with a dependency-unmet error. Whichever cap trips
// first (attempts or wall-clock wait) wins.
type DependencyConfig struct {
	BaseDelay   string `json:"base_delay,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	MaxWait     string `json:"max_wait,omitempty"`
}

func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}
