package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

const (
	ProviderThread  = "thread"
	ProviderProcess = "process"
)

// ParallelConfig contains configuration for jobs started by the library and CLI.
type ParallelConfig struct {
	Pool    PoolConfig    `mapstructure:"pool"`
	Env     EnvConfig     `mapstructure:"env"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Worker  ProcessConfig `mapstructure:"worker"`
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	MaxWorkers  int           `mapstructure:"max_workers"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	Provider    string        `mapstructure:"provider"`
	EvalPath    string        `mapstructure:"eval_path"`
}

// EnvConfig contains the base environment handed to every task.
type EnvConfig struct {
	Namespace string         `mapstructure:"namespace"`
	Values    map[string]any `mapstructure:"values"`
}

// MetricsConfig contains the prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ProcessConfig contains settings for worker subprocesses.
type ProcessConfig struct {
	GRPC         WorkerGRPCConfig `mapstructure:"grpc"`
	StartTimeout time.Duration    `mapstructure:"start_timeout"`
}

// LoadParallel loads the configuration from the given path.
// If configPath is empty, it looks for parallel.yaml in the config/ directory.
// Environment variables with GOPARALLEL_ prefix override config file values.
func LoadParallel(configPath string) (*ParallelConfig, error) {
	v := viper.New()

	v.SetDefault("pool.max_workers", runtime.NumCPU())
	v.SetDefault("pool.idle_timeout", time.Duration(0))
	v.SetDefault("pool.provider", ProviderThread)
	v.SetDefault("pool.eval_path", "")
	v.SetDefault("env.namespace", "env")
	v.SetDefault("env.values", map[string]any{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("worker.grpc.keepalive_time", 30*time.Second)
	v.SetDefault("worker.grpc.keepalive_timeout", 5*time.Second)
	v.SetDefault("worker.start_timeout", 10*time.Second)

	var cfg ParallelConfig
	if err := load(v, configPath, "parallel", "GOPARALLEL", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ParallelConfig) Validate() error {
	if c.Pool.MaxWorkers < 1 {
		return fmt.Errorf("pool.max_workers must be positive, got %d", c.Pool.MaxWorkers)
	}
	switch c.Pool.Provider {
	case ProviderThread, ProviderProcess:
	default:
		return fmt.Errorf("unknown pool.provider %q", c.Pool.Provider)
	}
	if c.Pool.EvalPath != "" && c.Pool.Provider != ProviderProcess {
		return fmt.Errorf("pool.eval_path requires pool.provider %q, got %q", ProviderProcess, c.Pool.Provider)
	}
	return nil
}
