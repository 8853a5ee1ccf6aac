package process

import (
	"context"
	"fmt"
	"os"

	"github.com/nemanja-m/goparallel/internal/shared/config"
	"github.com/nemanja-m/goparallel/internal/shared/logging"
	grpcapi "github.com/nemanja-m/goparallel/internal/worker/api/grpc"
	"github.com/nemanja-m/goparallel/internal/worker/service"
)

const (
	EnvSocket   = "GOPARALLEL_WORKER_SOCKET"
	EnvWorkerID = "GOPARALLEL_WORKER_ID"
)

// IsWorker reports whether the current process was started as a worker.
func IsWorker() bool {
	return os.Getenv(EnvSocket) != ""
}

// Serve runs the worker side of the bootstrap contract: it serves tasks on
// the socket named by GOPARALLEL_WORKER_SOCKET until stdin closes or ctx is
// done. Callables are resolved through resolver.
func Serve(ctx context.Context, resolver service.Resolver) error {
	socket := os.Getenv(EnvSocket)
	if socket == "" {
		return fmt.Errorf("%s is not set", EnvSocket)
	}

	cfg, err := config.LoadWorker("")
	if err != nil {
		return err
	}
	logger := logging.With(
		logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format),
		"worker_id", os.Getenv(EnvWorkerID),
	)

	executor := service.NewExecutor(resolver, logger)
	server := grpcapi.NewServer(cfg.GRPC, executor, logger)
	return service.NewWorkerService(server, socket, os.Stdin, logger).Run(ctx)
}
