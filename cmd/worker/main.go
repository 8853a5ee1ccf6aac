// Command worker is a standalone bootstrap for the process provider. Point
// pool.eval_path at it to run tasks in a binary separate from the caller.
// Every callable the caller sends must be registered here too.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nemanja-m/goparallel/internal/shared/logging"
	"github.com/nemanja-m/goparallel/pkg/parallel"

	_ "github.com/nemanja-m/goparallel/examples/arith"
	_ "github.com/nemanja-m/goparallel/examples/grep"
	_ "github.com/nemanja-m/goparallel/examples/wordcount"
)

func main() {
	logger := logging.New(os.Stderr, slog.LevelInfo, "json")
	if !parallel.IsWorker() {
		logger.Fatal("Worker must be started by the process provider")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := parallel.ServeWorker(ctx); err != nil {
		logger.Fatal("Worker failed", "error", err)
	}
}
