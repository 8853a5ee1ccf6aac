// Package process runs workers as child processes. A child re-executes a
// bootstrap binary that carries the same function registrations and serves
// tasks over gRPC on a unix socket.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/goparallel/internal/shared/config"
	"github.com/nemanja-m/goparallel/internal/shared/logging"
	grpcapi "github.com/nemanja-m/goparallel/internal/worker/api/grpc"
	"github.com/nemanja-m/goparallel/pkg/core"
)

var ErrTerminated = errors.New("worker process terminated")

type Config struct {
	GRPC         config.WorkerGRPCConfig
	StartTimeout time.Duration
	// Args are passed to the bootstrap binary.
	Args []string
	// SocketDir holds the worker sockets. Defaults to os.TempDir().
	SocketDir string
	Logger    logging.Logger
}

type Provider struct {
	cfg    Config
	logger logging.Logger
}

func NewProvider(cfg Config) *Provider {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = os.TempDir()
	}
	if cfg.GRPC.KeepaliveTime <= 0 {
		cfg.GRPC.KeepaliveTime = 30 * time.Second
	}
	if cfg.GRPC.KeepaliveTimeout <= 0 {
		cfg.GRPC.KeepaliveTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	return &Provider{cfg: cfg, logger: cfg.Logger}
}

// Spawn starts the bootstrap binary at ref, or the running executable when
// ref is empty, and connects to it once its socket appears.
func (p *Provider) Spawn(ctx context.Context, ref string) (core.Handle, error) {
	path := ref
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve bootstrap binary: %w", err)
		}
		path = exe
	}

	id := uuid.NewString()
	socket := filepath.Join(p.cfg.SocketDir, "goparallel-"+id[:8]+".sock")

	cmd := exec.Command(path, p.cfg.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(), EnvSocket+"="+socket, EnvWorkerID+"="+id)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", path, err)
	}

	h := &handle{
		id:     id,
		cmd:    cmd,
		stdin:  stdin,
		socket: socket,
		logger: p.logger,
		exited: make(chan struct{}),
	}
	go h.wait()

	if err := h.awaitSocket(ctx, p.cfg.StartTimeout); err != nil {
		_ = h.Terminate()
		return nil, err
	}

	client, err := grpcapi.NewWorkerClient(socket, p.cfg.GRPC)
	if err != nil {
		_ = h.Terminate()
		return nil, err
	}
	h.client = client

	p.logger.Debug("Worker process started", "worker_id", id, "pid", cmd.Process.Pid, "socket", socket)
	return h, nil
}

type handle struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	socket string
	client *grpcapi.WorkerClient
	logger logging.Logger

	exited   chan struct{}
	exitErr  error
	stopping atomic.Bool
	once     sync.Once

	mu        sync.Mutex
	onMessage func(*core.TaskResult)
	onError   func(error)
}

func (h *handle) ID() string {
	return h.id
}

func (h *handle) OnMessage(fn func(*core.TaskResult)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

func (h *handle) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

func (h *handle) Send(task *core.Task) error {
	if h.stopping.Load() {
		return ErrTerminated
	}
	go func() {
		result, err := h.client.Execute(context.Background(), task)
		if h.stopping.Load() {
			return
		}
		var serr *core.SerializationError
		switch {
		case errors.As(err, &serr):
			h.emit(core.Failure(task, err))
		case err != nil:
			h.emitError(err)
		default:
			h.emit(result)
		}
	}()
	return nil
}

// Terminate closes the connection, kills the worker's process group and
// waits for the process to exit.
func (h *handle) Terminate() error {
	var err error
	h.once.Do(func() {
		h.stopping.Store(true)
		_ = h.stdin.Close()
		if h.client != nil {
			_ = h.client.Close()
		}
		if killErr := killProcessGroup(h.cmd); killErr != nil && !errors.Is(killErr, syscall.ESRCH) {
			err = killErr
		}
		<-h.exited
		_ = os.Remove(h.socket)
	})
	return err
}

func (h *handle) wait() {
	h.exitErr = h.cmd.Wait()
	close(h.exited)
	if !h.stopping.Load() {
		h.emitError(fmt.Errorf("worker process exited: %v", h.exitErr))
	}
}

func (h *handle) awaitSocket(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(h.socket); err == nil {
			return nil
		}
		select {
		case <-h.exited:
			return fmt.Errorf("worker process exited before serving: %v", h.exitErr)
		case <-ctx.Done():
			return fmt.Errorf("worker did not start within %s: %w", timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (h *handle) emit(result *core.TaskResult) {
	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()
	if fn != nil {
		fn(result)
	}
}

func (h *handle) emitError(err error) {
	h.mu.Lock()
	fn := h.onError
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// killProcessGroup sends SIGKILL to the whole process group of cmd.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}
