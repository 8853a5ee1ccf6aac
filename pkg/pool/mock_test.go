package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nemanja-m/goparallel/pkg/core"
)

var errCrash = errors.New("worker crashed")

// mockProvider spawns handles that run tasks on goroutines through run. A
// run returning errCrash makes the handle report OnError instead of a result.
type mockProvider struct {
	run      func(task *core.Task) (*core.TaskResult, error)
	spawnErr error

	mu      sync.Mutex
	handles []*mockHandle

	active    atomic.Int32
	maxActive atomic.Int32
}

func (p *mockProvider) Spawn(ctx context.Context, ref string) (core.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spawnErr != nil {
		return nil, p.spawnErr
	}
	h := &mockHandle{id: fmt.Sprintf("mock-%d", len(p.handles)), provider: p}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *mockProvider) spawned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func (p *mockProvider) terminated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.handles {
		if h.terminated.Load() {
			n++
		}
	}
	return n
}

type mockHandle struct {
	id       string
	provider *mockProvider

	mu        sync.Mutex
	onMessage func(*core.TaskResult)
	onError   func(error)

	terminated atomic.Bool
}

func (h *mockHandle) ID() string { return h.id }

func (h *mockHandle) OnMessage(fn func(*core.TaskResult)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

func (h *mockHandle) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

func (h *mockHandle) Send(task *core.Task) error {
	if h.terminated.Load() {
		return errors.New("terminated")
	}
	go func() {
		p := h.provider
		n := p.active.Add(1)
		for {
			m := p.maxActive.Load()
			if n <= m || p.maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		result, err := p.run(task)
		p.active.Add(-1)

		h.mu.Lock()
		onMessage, onError := h.onMessage, h.onError
		h.mu.Unlock()
		if err != nil {
			onError(err)
			return
		}
		onMessage(result)
	}()
	return nil
}

func (h *mockHandle) Terminate() error {
	h.terminated.Store(true)
	return nil
}

func echo(task *core.Task) (*core.TaskResult, error) {
	return core.Success(task, task.Data), nil
}
