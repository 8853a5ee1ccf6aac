package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/nemanja-m/goparallel/internal/shared/logging"
)

type WorkerService interface {
	Run(ctx context.Context) error
}

// TaskServer serves task execution requests on a listener.
type TaskServer interface {
	Serve(lis net.Listener) error
	Stop()
}

type workerService struct {
	server TaskServer
	socket string
	parent io.Reader
	logger logging.Logger
}

// NewWorkerService serves tasks on the unix socket until ctx is done or
// parent reaches EOF. The parent process holds the write end of parent, so
// its death ends the worker.
func NewWorkerService(server TaskServer, socket string, parent io.Reader, logger logging.Logger) WorkerService {
	return &workerService{
		server: server,
		socket: socket,
		parent: parent,
		logger: logger,
	}
}

func (w *workerService) Run(ctx context.Context) error {
	if err := os.Remove(w.socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", w.socket)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.socket, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if w.parent != nil {
		go w.watchParent(cancel)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Serve(lis)
	}()

	w.logger.Debug("Worker serving", "socket", w.socket)

	select {
	case <-ctx.Done():
		w.logger.Debug("Worker stopping", "socket", w.socket)
		w.server.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (w *workerService) watchParent(cancel context.CancelFunc) {
	defer cancel()
	if _, err := io.Copy(io.Discard, w.parent); err != nil {
		w.logger.Warn("Parent pipe failed", "error", err)
	}
}
