package bus

import (
	"runtime"
	"time"
)

// Config holds Bus construction options, the exact table from spec.md §6.
type Config struct {
	ThreadPoolSize     int           `yaml:"thread_pool_size"`
	ProcessPoolMax     int           `yaml:"process_pool_max"`
	ProcessIdleTimeout time.Duration `yaml:"process_idle_timeout"`
	HealthInterval     time.Duration `yaml:"health_interval"`
	HealthGraceMisses  int           `yaml:"health_grace_misses"`
	DefaultTimeout     time.Duration `yaml:"default_timeout"`
	DefaultMaxRetries  int           `yaml:"default_max_retries"`

	// WorkerBinaryPath is the eventbus-corelet executable spawned for
	// corelet-mode events. Required if any event ever publishes with
	// ExecCorelet.
	WorkerBinaryPath      string   `yaml:"worker_binary_path"`
	WorkerBinaryExtraArgs []string `yaml:"worker_binary_extra_args"`
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		ThreadPoolSize:     runtime.NumCPU(),
		ProcessPoolMax:     runtime.NumCPU(),
		ProcessIdleTimeout: 600 * time.Second,
		HealthInterval:     5 * time.Second,
		HealthGraceMisses:  1,
		DefaultTimeout:     30 * time.Second,
		DefaultMaxRetries:  3,
	}
}

// withDefaults fills any zero-valued field with DefaultConfig's value,
// mirroring internal/cli.go's "config file may be partial" loading style.
// DefaultMaxRetries is the exception: zero is kept as a valid setting and
// only a negative value is replaced.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ThreadPoolSize <= 0 {
		c.ThreadPoolSize = d.ThreadPoolSize
	}
	if c.ProcessPoolMax <= 0 {
		c.ProcessPoolMax = d.ProcessPoolMax
	}
	if c.ProcessIdleTimeout <= 0 {
		c.ProcessIdleTimeout = d.ProcessIdleTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.HealthGraceMisses <= 0 {
		c.HealthGraceMisses = d.HealthGraceMisses
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = d.DefaultMaxRetries
	}
	return c
}
