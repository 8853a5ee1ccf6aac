// Package parallel runs registered functions over a collection on a pool of
// isolated workers and chains the results like promises.
//
//	p := parallel.New([]any{1, 2, 3}, parallel.Options{MaxWorkers: 2})
//	defer p.Close(context.Background())
//	v, err := p.Map(addOne).Reduce(sum).Wait(ctx)
//
// Each operator returns a new handle whose stage settles once, with a value
// or an error. Callables cross the worker boundary by their registered
// symbol, see package funcs.
package parallel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nemanja-m/goparallel/internal/shared/config"
	"github.com/nemanja-m/goparallel/internal/shared/logging"
	"github.com/nemanja-m/goparallel/internal/shared/metrics"
	"github.com/nemanja-m/goparallel/internal/worker/process"
	"github.com/nemanja-m/goparallel/internal/worker/service"
	"github.com/nemanja-m/goparallel/internal/worker/thread"
	"github.com/nemanja-m/goparallel/pkg/core"
	"github.com/nemanja-m/goparallel/pkg/funcs"
	"github.com/nemanja-m/goparallel/pkg/pool"
)

const DefaultUnhandledDelay = 50 * time.Millisecond

// unhandledOutput receives unhandled rejections of jobs built without a
// logger.
var unhandledOutput io.Writer = os.Stderr

type Options struct {
	// MaxWorkers bounds the pool. Defaults to runtime.NumCPU().
	MaxWorkers int
	// Env is the base environment of every task. It is never mutated.
	Env map[string]any
	// EnvNamespace names the env binding inside workers. Defaults to "env".
	EnvNamespace string
	// EvalPath is the worker bootstrap binary. Setting it selects the process
	// provider unless Provider is set.
	EvalPath string
	// Provider overrides the execution context provider.
	Provider core.Provider
	// Pool runs the tasks instead of a pool owned by the job. It is not closed
	// by Close.
	Pool        *pool.Pool
	IdleTimeout time.Duration
	Registry    *funcs.Registry
	Logger      logging.Logger
	// Metrics registers pool metrics when set.
	Metrics prometheus.Registerer

	// OnUnhandledRejection receives rejections no stage or caller observed
	// within UnhandledDelay. Defaults to logging them at error level, to
	// stderr when Logger is nil.
	OnUnhandledRejection func(error)
	UnhandledDelay       time.Duration
}

// OptionsFromConfig maps loaded configuration onto Options. The eval path is
// only carried over for the process provider.
func OptionsFromConfig(cfg *config.ParallelConfig, logger logging.Logger) Options {
	opts := Options{
		MaxWorkers:   cfg.Pool.MaxWorkers,
		Env:          cfg.Env.Values,
		EnvNamespace: cfg.Env.Namespace,
		IdleTimeout:  cfg.Pool.IdleTimeout,
		Logger:       logger,
	}
	if cfg.Pool.Provider == config.ProviderProcess {
		opts.EvalPath = cfg.Pool.EvalPath
		opts.Provider = process.NewProvider(process.Config{
			GRPC:         cfg.Worker.GRPC,
			StartTimeout: cfg.Worker.StartTimeout,
			Logger:       logger,
		})
	}
	return opts
}

// IsWorker reports whether this process was started as a worker by the
// process provider. Binaries used as EvalPath call it first thing in main.
func IsWorker() bool {
	return process.IsWorker()
}

// ServeWorker serves tasks until the parent goes away. Callables resolve
// through the default registry.
func ServeWorker(ctx context.Context) error {
	return process.Serve(ctx, funcs.Default)
}

type job struct {
	id        uuid.UUID
	pool      *pool.Pool
	ownsPool  bool
	registry  *funcs.Registry
	namespace string
	logger    logging.Logger

	unhandled      func(error)
	unhandledDelay time.Duration

	mu           sync.Mutex
	env          map[string]any
	requirements []core.Requirement
	requireErr   error
	// lazy holds helper symbols registered for this job only.
	lazy []string
}

// snapshot is the env and requirement state captured when an operator is
// called.
type snapshot struct {
	env          map[string]any
	requirements []core.Requirement
	err          error
}

func (j *job) snapshot(overrides []map[string]any) snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return snapshot{
		env:          core.MergeEnv(j.env, overrides...),
		requirements: append([]core.Requirement(nil), j.requirements...),
		err:          j.requireErr,
	}
}

func (j *job) newFuture() *future {
	return newFuture(j.unhandled, j.unhandledDelay)
}

type Parallel struct {
	job   *job
	stage *future
}

// New starts a job over data. The returned handle is already fulfilled with
// data.
func New(data any, opts Options) *Parallel {
	report := opts.Logger
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
		report = logging.New(unhandledOutput, slog.LevelError, "json")
	}
	if opts.Registry == nil {
		opts.Registry = funcs.Default
	}
	if opts.UnhandledDelay <= 0 {
		opts.UnhandledDelay = DefaultUnhandledDelay
	}

	id := uuid.New()
	logger := logging.With(opts.Logger, "job_id", id.String())

	j := &job{
		id:             id,
		registry:       opts.Registry,
		namespace:      opts.EnvNamespace,
		logger:         logger,
		unhandled:      opts.OnUnhandledRejection,
		unhandledDelay: opts.UnhandledDelay,
		env:            opts.Env,
	}
	if j.namespace == "" {
		j.namespace = core.DefaultNamespace
	}
	if j.unhandled == nil {
		report = logging.With(report, "job_id", id.String())
		j.unhandled = func(err error) {
			report.Error("Unhandled rejection", "error", err)
		}
	}

	if opts.Pool != nil {
		j.pool = opts.Pool
	} else {
		j.pool = pool.New(pool.Config{
			Size:        opts.MaxWorkers,
			Provider:    providerFor(opts, logger),
			Bootstrap:   opts.EvalPath,
			IdleTimeout: opts.IdleTimeout,
			Logger:      logger,
			Metrics:     collectorFor(opts.Metrics),
		})
		j.ownsPool = true
	}

	root := j.newFuture()
	root.fulfill(data)
	return &Parallel{job: j, stage: root}
}

func providerFor(opts Options, logger logging.Logger) core.Provider {
	switch {
	case opts.Provider != nil:
		return opts.Provider
	case opts.EvalPath != "":
		return process.NewProvider(process.Config{Logger: logger})
	default:
		return thread.NewProvider(service.NewExecutor(opts.Registry, logger), logger)
	}
}

func collectorFor(reg prometheus.Registerer) *metrics.Collector {
	if reg == nil {
		return nil
	}
	return metrics.NewCollector(reg)
}

// Spawn runs fn once on the whole settled value of the current stage.
func (p *Parallel) Spawn(fn core.Func, env ...map[string]any) *Parallel {
	return p.operate(core.KindSpawn, fn, env)
}

// Map applies fn to every element, partitioned across the pool. The output
// keeps the input order.
func (p *Parallel) Map(fn core.Func, env ...map[string]any) *Parallel {
	return p.operate(core.KindMap, fn, env)
}

// Reduce folds the elements pairwise in rounds until one value remains. fn
// receives each pair as a two-element []any.
func (p *Parallel) Reduce(fn core.Func, env ...map[string]any) *Parallel {
	return p.operate(core.KindReduce, fn, env)
}

func (p *Parallel) operate(kind core.Kind, fn core.Func, env []map[string]any) *Parallel {
	next := p.chain()
	snap := p.job.snapshot(env)
	symbol, serr := p.job.registry.Serialize(fn)

	go func() {
		defer p.job.registry.Release(symbol)

		input, err := p.stage.result()
		switch {
		case err != nil:
			next.reject(err)
			return
		case serr != nil:
			next.reject(&core.TaskExecutionError{Message: serr.Error(), Cause: serr})
			return
		case snap.err != nil:
			next.reject(&core.TaskExecutionError{Message: snap.err.Error(), Cause: snap.err})
			return
		}

		value, err := p.job.run(kind, symbol, input, snap)
		if err != nil {
			next.reject(err)
			return
		}
		next.fulfill(value)
	}()

	return &Parallel{job: p.job, stage: next}
}

// Then runs onFulfilled with the stage's value, or the first onRejected with
// its error. The handler's result settles the returned stage; a returned
// error or a panic rejects it. A nil onFulfilled passes the value through;
// without onRejected a rejection propagates unchanged.
func (p *Parallel) Then(onFulfilled func(any) (any, error), onRejected ...func(error) (any, error)) *Parallel {
	next := p.chain()
	var rejected func(error) (any, error)
	if len(onRejected) > 0 {
		rejected = onRejected[0]
	}

	go func() {
		value, err := p.stage.result()
		var out any
		switch {
		case err == nil && onFulfilled == nil:
			out = value
		case err == nil:
			out, err = invoke(func() (any, error) { return onFulfilled(value) })
		case rejected != nil:
			out, err = invoke(func() (any, error) { return rejected(err) })
		}
		if err != nil {
			next.reject(err)
			return
		}
		next.fulfill(out)
	}()

	return &Parallel{job: p.job, stage: next}
}

func invoke(fn func() (any, error)) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = core.NewPanicError(r)
		}
	}()
	return fn()
}

// Require adds helpers that every later operator sends with its tasks. It
// returns the same handle. Items may be a core.Helper (bound under its
// declared name), a core.Requirement (bound under Name), or the name of a
// library registered with funcs.RegisterLibrary.
func (p *Parallel) Require(items ...any) *Parallel {
	j := p.job
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, item := range items {
		req, err := j.requirement(item)
		if err != nil {
			if j.requireErr == nil {
				j.requireErr = err
			}
			j.logger.Warn("Invalid requirement", "error", err)
			continue
		}
		j.requirements = append(j.requirements, req)
	}
	return p
}

func (j *job) requirement(item any) (core.Requirement, error) {
	switch v := item.(type) {
	case core.Helper:
		return j.helperRequirement("", v)
	case func(...any) (any, error):
		return j.helperRequirement("", v)
	case core.Requirement:
		if v.Fn != nil {
			return j.helperRequirement(v.Name, v.Fn)
		}
		if v.Symbol == "" {
			return core.Requirement{}, &core.SerializationError{Name: v.Name, Message: fmt.Sprintf("requirement %q has no function", v.Name)}
		}
		if v.Name == "" && !v.Library {
			v.Name = funcs.ShortName(v.Symbol)
		}
		return v, nil
	case *core.Requirement:
		if v == nil {
			return core.Requirement{}, &core.SerializationError{Message: "cannot require a nil requirement"}
		}
		return j.requirement(*v)
	case string:
		if _, ok := j.registry.LookupLibrary(v); ok {
			return core.Requirement{Name: v, Symbol: v, Library: true}, nil
		}
		if _, ok := j.registry.LookupHelper(v); ok {
			return core.Requirement{Name: funcs.ShortName(v), Symbol: v}, nil
		}
		return core.Requirement{}, &core.SerializationError{Name: v, Message: fmt.Sprintf("no library or helper registered as %s", v)}
	default:
		return core.Requirement{}, &core.SerializationError{Name: fmt.Sprintf("%T", item), Message: fmt.Sprintf("cannot require %T", item)}
	}
}

func (j *job) helperRequirement(name string, fn core.Helper) (core.Requirement, error) {
	symbol, err := j.registry.SerializeHelper(fn)
	if err != nil {
		return core.Requirement{}, err
	}
	if funcs.IsLazy(symbol) {
		j.lazy = append(j.lazy, symbol)
	}
	if name == "" {
		name = funcs.ShortName(symbol)
	}
	return core.Requirement{Name: name, Symbol: symbol}, nil
}

// chain creates the next stage and marks the current one as observed.
func (p *Parallel) chain() *future {
	p.stage.observe()
	return p.job.newFuture()
}

// Wait blocks until the stage settles or ctx is done.
func (p *Parallel) Wait(ctx context.Context) (any, error) {
	p.stage.observe()
	select {
	case <-p.stage.done:
		return p.stage.value, p.stage.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the stage settles.
func (p *Parallel) Done() <-chan struct{} {
	p.stage.observe()
	return p.stage.done
}

func (p *Parallel) State() State {
	return State(p.stage.state.Load())
}

// Close shuts down the job's pool and drops the helpers registered for the
// job alone. Stages still running fail with pool.ErrPoolClosed if ctx ends
// before they finish. A pool passed in Options is left open.
func (p *Parallel) Close(ctx context.Context) error {
	j := p.job
	j.mu.Lock()
	for _, symbol := range j.lazy {
		j.registry.Release(symbol)
	}
	j.lazy = nil
	j.mu.Unlock()

	if !j.ownsPool {
		return nil
	}
	return j.pool.Close(ctx)
}
