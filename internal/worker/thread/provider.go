// Package thread runs workers as goroutines inside the calling process.
// Every task and result crosses the boundary as protobuf bytes, so the
// callable never shares memory with the caller.
package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nemanja-m/goparallel/internal/shared/logging"
	"github.com/nemanja-m/goparallel/internal/shared/wire"
	"github.com/nemanja-m/goparallel/internal/worker/service"
	"github.com/nemanja-m/goparallel/pkg/core"
)

var ErrTerminated = errors.New("worker terminated")

type Provider struct {
	executor service.TaskExecutor
	logger   logging.Logger
}

func NewProvider(executor service.TaskExecutor, logger logging.Logger) *Provider {
	return &Provider{executor: executor, logger: logger}
}

// Spawn starts one worker goroutine. ref is only used for logging, every
// thread worker runs the in-process executor.
func (p *Provider) Spawn(ctx context.Context, ref string) (core.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := &handle{
		id:       "thread-" + uuid.NewString(),
		executor: p.executor,
		logger:   p.logger,
		inbox:    make(chan envelope, 1),
		done:     make(chan struct{}),
	}
	h.wg.Go(h.run)
	p.logger.Debug("Worker spawned", "worker_id", h.id, "bootstrap", ref)
	return h, nil
}

// envelope carries either an encoded task or a result that failed before
// it could be encoded.
type envelope struct {
	payload []byte
	failed  *core.TaskResult
}

type handle struct {
	id       string
	executor service.TaskExecutor
	logger   logging.Logger

	inbox chan envelope
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

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
	env := envelope{}
	payload, err := wire.MarshalTask(task)
	if err != nil {
		env.failed = core.Failure(task, err)
	} else {
		env.payload = payload
	}

	select {
	case <-h.done:
		return ErrTerminated
	default:
	}
	select {
	case <-h.done:
		return ErrTerminated
	case h.inbox <- env:
		return nil
	}
}

// Terminate stops the worker. A task already running finishes, but its
// result is dropped.
func (h *handle) Terminate() error {
	h.once.Do(func() {
		close(h.done)
	})
	return nil
}

func (h *handle) run() {
	for {
		select {
		case <-h.done:
			return
		case env := <-h.inbox:
			result, err := h.process(env)
			select {
			case <-h.done:
				return
			default:
			}
			if err != nil {
				h.emitError(err)
				continue
			}
			h.emit(result)
		}
	}
}

func (h *handle) process(env envelope) (result *core.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s crashed: %v", h.id, r)
		}
	}()

	if env.failed != nil {
		return env.failed, nil
	}
	task, err := wire.UnmarshalTask(env.payload)
	if err != nil {
		return nil, err
	}
	out, err := wire.MarshalResult(h.executor.Execute(context.Background(), task))
	if err != nil {
		return nil, err
	}
	return wire.UnmarshalResult(out)
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
	h.logger.Error("Worker failed", "worker_id", h.id, "error", err)
	h.mu.Lock()
	fn := h.onError
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
