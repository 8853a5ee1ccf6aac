// Package pool runs tasks on a fixed-size set of isolated workers.
//
// All pool state is owned by a single loop goroutine. Public methods and
// worker callbacks post closures to the loop, so nothing in the pool is
// guarded by a mutex.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nemanja-m/goparallel/internal/shared/logging"
	"github.com/nemanja-m/goparallel/internal/shared/metrics"
	"github.com/nemanja-m/goparallel/pkg/core"
)

var ErrPoolClosed = errors.New("pool is closed")

type Config struct {
	// Size is the maximum number of live workers. Defaults to runtime.NumCPU().
	Size int
	// Provider creates the workers. Required.
	Provider core.Provider
	// Bootstrap is passed to Provider.Spawn for every worker.
	Bootstrap string
	// IdleTimeout terminates workers idle for longer than this. 0 disables it.
	IdleTimeout time.Duration
	Logger      logging.Logger
	Metrics     *metrics.Collector
}

type Stats struct {
	Size   int
	Live   int
	Busy   int
	Idle   int
	Queued int

	Submitted uint64
	Completed uint64
	Failed    uint64
	Spawned   uint64
	Retired   uint64

	Closed bool
}

// Ticket is the pending outcome of one submitted task. It is resolved exactly
// once, with a result or with ErrPoolClosed.
type Ticket struct {
	task    *core.Task
	done    chan struct{}
	settled atomic.Bool
	result  *core.TaskResult
	err     error

	dispatched time.Time
}

func newTicket(task *core.Task) *Ticket {
	return &Ticket{task: task, done: make(chan struct{})}
}

// Wait blocks until the task has a result. A task failure is reported in the
// result, not as an error.
func (t *Ticket) Wait(ctx context.Context) (*core.TaskResult, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Ticket) resolve(result *core.TaskResult, err error) {
	if !t.settled.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("pool: ticket for task %s resolved twice", t.task.ID))
	}
	t.result = result
	t.err = err
	close(t.done)
}

type slot struct {
	handle   core.Handle
	ticket   *Ticket
	lastUsed time.Time
	retired  bool
}

type Pool struct {
	cfg     Config
	logger  logging.Logger
	events  chan func()
	stopped chan struct{}

	// Owned by the loop goroutine.
	slots    map[*slot]struct{}
	idle     []*slot
	queue    waitQueue
	busy     int
	spawning int
	closing  bool
	quit     bool
	waiters  []chan struct{}
	counters Stats

	// Written by the loop right before it exits.
	final Stats
}

func New(cfg Config) *Pool {
	if cfg.Provider == nil {
		panic("pool: provider is required")
	}
	if cfg.Size <= 0 {
		cfg.Size = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	p := &Pool{
		cfg:     cfg,
		logger:  cfg.Logger,
		events:  make(chan func()),
		stopped: make(chan struct{}),
		slots:   make(map[*slot]struct{}),
	}
	go p.loop()
	return p
}

func (p *Pool) Size() int {
	return p.cfg.Size
}

// Submit hands task to the first free worker, or queues it until one frees
// up. Queueing never rejects.
func (p *Pool) Submit(task *core.Task) *Ticket {
	t := newTicket(task)
	if !p.post(func() { p.submit(t) }) {
		t.resolve(nil, ErrPoolClosed)
	}
	return t
}

func (p *Pool) Stats() Stats {
	reply := make(chan Stats, 1)
	if !p.post(func() { reply <- p.snapshot() }) {
		return p.final
	}
	return <-reply
}

// Close stops accepting tasks, waits for queued and running tasks to finish
// and terminates every worker. If ctx ends first, unfinished tickets are
// resolved with ErrPoolClosed.
func (p *Pool) Close(ctx context.Context) error {
	drained := make(chan struct{})
	if !p.post(func() { p.beginClose(drained) }) {
		return nil
	}

	var closeErr error
	select {
	case <-drained:
	case <-ctx.Done():
		closeErr = ctx.Err()
		p.post(p.abort)
	}

	reply := make(chan []core.Handle, 1)
	if !p.post(func() { reply <- p.stop() }) {
		return closeErr
	}

	var g errgroup.Group
	for _, h := range <-reply {
		g.Go(h.Terminate)
	}
	if err := g.Wait(); err != nil {
		return errors.Join(closeErr, fmt.Errorf("failed to terminate workers: %w", err))
	}
	return closeErr
}

func (p *Pool) post(fn func()) bool {
	select {
	case p.events <- fn:
		return true
	case <-p.stopped:
		return false
	}
}

func (p *Pool) loop() {
	defer close(p.stopped)

	var tick <-chan time.Time
	if p.cfg.IdleTimeout > 0 {
		ticker := time.NewTicker(max(p.cfg.IdleTimeout/2, 10*time.Millisecond))
		defer ticker.Stop()
		tick = ticker.C
	}

	for !p.quit {
		select {
		case fn := <-p.events:
			fn()
		case <-tick:
			p.reapIdle()
		}
	}
}

func (p *Pool) submit(t *Ticket) {
	if p.closing {
		t.resolve(nil, ErrPoolClosed)
		return
	}
	p.counters.Submitted++
	p.cfg.Metrics.RecordSubmit(string(t.task.Kind))
	p.queue.Push(t)
	p.dispatch()
	p.report()
}

func (p *Pool) dispatch() {
	for p.queue.Len() > 0 {
		s, ok := p.acquire()
		if !ok {
			return
		}
		t, _ := p.queue.Pop()
		p.assign(s, t)
	}
}

// acquire returns an idle worker without blocking. When none is idle it starts
// workers for the waiting tasks, up to Size, and reports false.
func (p *Pool) acquire() (*slot, bool) {
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return s, true
	}
	for p.queue.Len() > p.spawning && len(p.slots)+p.spawning < p.cfg.Size {
		p.spawn()
	}
	return nil, false
}

// release returns a worker that finished its task. The next waiting task is
// assigned to it before it can become idle.
func (p *Pool) release(s *slot) {
	if t, err := p.queue.Pop(); err == nil {
		p.assign(s, t)
		return
	}
	s.lastUsed = time.Now()
	p.idle = append(p.idle, s)
	p.checkDrained()
}

func (p *Pool) assign(s *slot, t *Ticket) {
	s.ticket = t
	p.busy++
	t.dispatched = time.Now()

	p.logger.Debug("Dispatching task",
		"task_id", t.task.ID,
		"job_id", t.task.JobID,
		"kind", t.task.Kind,
		"index", t.task.Index,
		"worker_id", s.handle.ID(),
	)

	if err := s.handle.Send(t.task); err != nil {
		p.retire(s, err)
		p.dispatch()
	}
}

func (p *Pool) spawn() {
	p.spawning++
	go func() {
		h, err := p.cfg.Provider.Spawn(context.Background(), p.cfg.Bootstrap)
		if !p.post(func() { p.spawned(h, err) }) && h != nil {
			_ = h.Terminate()
		}
	}()
}

func (p *Pool) spawned(h core.Handle, err error) {
	p.spawning--
	if err != nil {
		p.logger.Error("Failed to start worker", "bootstrap", p.cfg.Bootstrap, "error", err)
		if len(p.slots)+p.spawning == 0 {
			for _, t := range p.queue.Drain() {
				p.finish(t, core.Failure(t.task, fmt.Errorf("failed to start worker: %w", err)))
			}
		}
		p.checkDrained()
		p.report()
		return
	}

	s := &slot{handle: h}
	p.slots[s] = struct{}{}
	p.counters.Spawned++
	p.cfg.Metrics.RecordSpawn()
	p.logger.Debug("Worker started", "worker_id", h.ID())

	h.OnMessage(func(r *core.TaskResult) {
		p.post(func() { p.complete(s, r) })
	})
	h.OnError(func(err error) {
		p.post(func() { p.crashed(s, err) })
	})

	p.release(s)
	p.report()
}

func (p *Pool) complete(s *slot, r *core.TaskResult) {
	if s.retired || s.ticket == nil {
		p.logger.Debug("Dropping result from released worker", "worker_id", s.handle.ID(), "task_id", r.TaskID)
		return
	}
	t := s.ticket
	if r.TaskID != t.task.ID {
		p.logger.Warn("Dropping result for unexpected task", "worker_id", s.handle.ID(), "task_id", r.TaskID, "expected", t.task.ID)
		return
	}
	s.ticket = nil
	p.busy--
	p.finish(t, r)
	p.release(s)
	p.report()
}

// crashed fails the worker's current task and replaces the worker on demand.
func (p *Pool) crashed(s *slot, err error) {
	if s.retired {
		return
	}
	p.logger.Warn("Worker failed, replacing", "worker_id", s.handle.ID(), "error", err)
	p.retire(s, err)
	p.dispatch()
	p.checkDrained()
	p.report()
}

func (p *Pool) retire(s *slot, cause error) {
	s.retired = true
	delete(p.slots, s)
	for i, idle := range p.idle {
		if idle == s {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	p.counters.Retired++
	p.cfg.Metrics.RecordRetire()

	if t := s.ticket; t != nil {
		s.ticket = nil
		p.busy--
		p.finish(t, core.Failure(t.task, fmt.Errorf("worker %s failed: %w", s.handle.ID(), cause)))
	}

	h := s.handle
	go func() {
		if err := h.Terminate(); err != nil {
			p.logger.Warn("Failed to terminate worker", "worker_id", h.ID(), "error", err)
		}
	}()
}

func (p *Pool) finish(t *Ticket, r *core.TaskResult) {
	if r.Failed() {
		p.counters.Failed++
	} else {
		p.counters.Completed++
	}
	latency := 0.0
	if !t.dispatched.IsZero() {
		latency = time.Since(t.dispatched).Seconds()
	}
	p.cfg.Metrics.RecordResult(string(t.task.Kind), r.Failed(), latency)
	t.resolve(r, nil)
}

func (p *Pool) reapIdle() {
	now := time.Now()
	var stale []*slot
	for _, s := range p.idle {
		if now.Sub(s.lastUsed) >= p.cfg.IdleTimeout {
			stale = append(stale, s)
		}
	}
	for _, s := range stale {
		p.logger.Debug("Removing idle worker", "worker_id", s.handle.ID())
		p.retire(s, nil)
	}
	if len(stale) > 0 {
		p.report()
	}
}

func (p *Pool) beginClose(drained chan struct{}) {
	p.closing = true
	p.waiters = append(p.waiters, drained)
	p.checkDrained()
}

func (p *Pool) checkDrained() {
	if !p.closing || p.queue.Len() > 0 || p.busy > 0 {
		return
	}
	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil
}

// abort resolves every unfinished ticket with ErrPoolClosed. Results that
// arrive later for running tasks are dropped.
func (p *Pool) abort() {
	for _, t := range p.queue.Drain() {
		t.resolve(nil, ErrPoolClosed)
	}
	for s := range p.slots {
		if t := s.ticket; t != nil {
			s.ticket = nil
			p.busy--
			t.resolve(nil, ErrPoolClosed)
		}
	}
	p.checkDrained()
}

func (p *Pool) stop() []core.Handle {
	p.abort()

	handles := make([]core.Handle, 0, len(p.slots))
	for s := range p.slots {
		s.retired = true
		handles = append(handles, s.handle)
	}
	p.counters.Retired += uint64(len(handles))
	p.slots = map[*slot]struct{}{}
	p.idle = nil

	p.final = p.snapshot()
	p.final.Closed = true
	p.quit = true
	p.report()
	return handles
}

func (p *Pool) snapshot() Stats {
	s := p.counters
	s.Size = p.cfg.Size
	s.Live = len(p.slots)
	s.Busy = p.busy
	s.Idle = len(p.idle)
	s.Queued = p.queue.Len()
	s.Closed = p.closing
	return s
}

func (p *Pool) report() {
	p.cfg.Metrics.UpdatePoolStats(len(p.slots), p.busy, p.queue.Len())
}
