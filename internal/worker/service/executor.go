package service

import (
	"context"
	"fmt"

	"github.com/nemanja-m/goparallel/internal/shared/logging"
	"github.com/nemanja-m/goparallel/pkg/core"
)

type TaskExecutor interface {
	Execute(ctx context.Context, task *core.Task) *core.TaskResult
}

// Resolver resolves transmitted symbols back to callables. *funcs.Registry
// satisfies it.
type Resolver interface {
	Lookup(symbol string) (core.Func, bool)
	LookupHelper(symbol string) (core.Helper, bool)
	LookupLibrary(name string) (map[string]core.Helper, bool)
}

type executor struct {
	resolver Resolver
	logger   logging.Logger
}

// NewExecutor returns the evaluator that runs inside every worker. It builds a
// fresh scope per task from the task's env and requirements and applies the
// operator to the task's slice.
func NewExecutor(resolver Resolver, logger logging.Logger) TaskExecutor {
	return &executor{resolver: resolver, logger: logger}
}

func (e *executor) Execute(ctx context.Context, task *core.Task) *core.TaskResult {
	fn, ok := e.resolver.Lookup(task.Fn)
	if !ok {
		return core.Failure(task, &core.SerializationError{
			Name:    task.Fn,
			Message: fmt.Sprintf("function %s is not registered in the worker", task.Fn),
		})
	}

	helpers, err := e.bind(task.Requirements)
	if err != nil {
		return core.Failure(task, err)
	}
	scope := core.NewScope(task.Namespace, task.Env, helpers)

	value, err := e.run(fn, scope, task)
	if err != nil {
		e.logger.Debug("Task failed", "task_id", task.ID, "kind", task.Kind, "index", task.Index, "error", err)
		return core.Failure(task, err)
	}
	return core.Success(task, value)
}

// bind materializes requirements in order. A later binding overwrites an
// earlier one with the same name.
func (e *executor) bind(reqs []core.Requirement) (map[string]core.Helper, error) {
	helpers := make(map[string]core.Helper, len(reqs))
	for _, req := range reqs {
		if req.Library {
			lib, ok := e.resolver.LookupLibrary(req.Symbol)
			if !ok {
				return nil, &core.SerializationError{
					Name:    req.Symbol,
					Message: fmt.Sprintf("library %s is not registered in the worker", req.Symbol),
				}
			}
			for name, fn := range lib {
				helpers[name] = fn
			}
			continue
		}
		fn, ok := e.resolver.LookupHelper(req.Symbol)
		if !ok {
			return nil, &core.SerializationError{
				Name:    req.Symbol,
				Message: fmt.Sprintf("helper %s is not registered in the worker", req.Symbol),
			}
		}
		helpers[req.Name] = fn
	}
	return helpers, nil
}

func (e *executor) run(fn core.Func, scope *core.Scope, task *core.Task) (any, error) {
	switch task.Kind {
	case core.KindSpawn:
		return call(fn, scope, task.Data)
	case core.KindMap, core.KindReduce:
		items, err := core.Sequence(task.Data)
		if err != nil {
			return nil, fmt.Errorf("%s expects a sequence: %w", task.Kind, err)
		}
		out := make([]any, len(items))
		for i, item := range items {
			if task.Kind == core.KindReduce {
				if _, _, err := core.Pair(item); err != nil {
					return nil, err
				}
			}
			if out[i], err = call(fn, scope, item); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func call(fn core.Func, scope *core.Scope, value any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewPanicError(r)
		}
	}()
	return fn(scope, value)
}
