package config

import (
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig contains configuration for a worker subprocess.
type WorkerConfig struct {
	GRPC    WorkerGRPCConfig `mapstructure:"grpc"`
	Logging LoggingConfig    `mapstructure:"logging"`
}

// WorkerGRPCConfig contains keepalive settings shared by both ends of the
// worker connection.
type WorkerGRPCConfig struct {
	KeepaliveTime    time.Duration `mapstructure:"keepalive_time"`
	KeepaliveTimeout time.Duration `mapstructure:"keepalive_timeout"`
}

// LoadWorker loads the worker configuration from the given path.
// If configPath is empty, it looks for worker.yaml in the config/ directory.
// Environment variables with GOPARALLEL_WORKER_ prefix override config file values.
func LoadWorker(configPath string) (*WorkerConfig, error) {
	v := viper.New()

	v.SetDefault("grpc.keepalive_time", 30*time.Second)
	v.SetDefault("grpc.keepalive_timeout", 5*time.Second)
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "json")

	var cfg WorkerConfig
	if err := load(v, configPath, "worker", "GOPARALLEL_WORKER", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
