package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/goparallel/internal/shared/logging"
	"github.com/nemanja-m/goparallel/pkg/core"
	"github.com/nemanja-m/goparallel/pkg/funcs"
)

func addOne(_ *core.Scope, v any) (any, error) {
	f, err := core.Float(v)
	return f + 1, err
}

func sumPair(_ *core.Scope, v any) (any, error) {
	a, b, err := core.Pair(v)
	if err != nil {
		return nil, err
	}
	x, _ := core.Float(a)
	y, _ := core.Float(b)
	return x + y, nil
}

func addEnv(s *core.Scope, v any) (any, error) {
	env, ok := s.Global("other")
	if !ok {
		return nil, errors.New("namespace not bound")
	}
	f, _ := core.Float(v)
	a, _ := core.Float(env["a"])
	return f + a, nil
}

func useHelper(s *core.Scope, v any) (any, error) {
	return s.Call("square", v)
}

func failing(_ *core.Scope, v any) (any, error) {
	if v == 2.0 {
		return nil, errors.New("boom")
	}
	return v, nil
}

func panicking(_ *core.Scope, _ any) (any, error) {
	panic("kaboom")
}

func length(_ *core.Scope, v any) (any, error) {
	s, err := core.Sequence(v)
	return float64(len(s)), err
}

func square(args ...any) (any, error) {
	f, err := core.Float(args[0])
	return f * f, err
}

func newTestExecutor(t *testing.T) TaskExecutor {
	t.Helper()
	r := funcs.NewRegistry()
	for name, fn := range map[string]core.Func{
		"addOne": addOne, "sumPair": sumPair, "addEnv": addEnv, "useHelper": useHelper,
		"failing": failing, "panicking": panicking, "length": length,
	} {
		require.NoError(t, r.Register(name, fn))
	}
	require.NoError(t, r.RegisterHelper("pkg.square", square))
	require.NoError(t, r.RegisterLibrary("math", map[string]core.Helper{"square": square}))
	return NewExecutor(r, logging.NewNopLogger())
}

func newTask(kind core.Kind, fn string, data any) *core.Task {
	return &core.Task{ID: uuid.New(), JobID: uuid.New(), Kind: kind, Fn: fn, Data: data, Index: 1}
}

func TestExecutor_Map(t *testing.T) {
	e := newTestExecutor(t)
	result := e.Execute(context.Background(), newTask(core.KindMap, "addOne", []any{1.0, 2.0, 3.0}))

	require.False(t, result.Failed())
	require.Equal(t, 1, result.Index)
	require.Equal(t, []any{2.0, 3.0, 4.0}, result.Value)
}

func TestExecutor_Reduce(t *testing.T) {
	e := newTestExecutor(t)
	pairs := []any{[]any{1.0, 2.0}, []any{3.0, 4.0}}
	result := e.Execute(context.Background(), newTask(core.KindReduce, "sumPair", pairs))

	require.False(t, result.Failed())
	require.Equal(t, []any{3.0, 7.0}, result.Value)
}

func TestExecutor_ReduceRejectsNonPair(t *testing.T) {
	e := newTestExecutor(t)
	result := e.Execute(context.Background(), newTask(core.KindReduce, "sumPair", []any{1.0}))

	require.True(t, result.Failed())
	require.Equal(t, core.ErrorKindExecution, result.Err.Kind)
}

func TestExecutor_SpawnGetsWholeInput(t *testing.T) {
	e := newTestExecutor(t)
	result := e.Execute(context.Background(), newTask(core.KindSpawn, "length", []any{1.0, 2.0, 3.0}))

	require.False(t, result.Failed())
	require.Equal(t, 3.0, result.Value)
}

func TestExecutor_Namespace(t *testing.T) {
	e := newTestExecutor(t)
	task := newTask(core.KindMap, "addEnv", []any{1.0})
	task.Env = map[string]any{"a": 10.0}
	task.Namespace = "other"

	result := e.Execute(context.Background(), task)
	require.False(t, result.Failed())
	require.Equal(t, []any{11.0}, result.Value)
}

func TestExecutor_Requirements(t *testing.T) {
	e := newTestExecutor(t)

	task := newTask(core.KindMap, "useHelper", []any{3.0})
	task.Requirements = []core.Requirement{{Name: "square", Symbol: "pkg.square"}}
	result := e.Execute(context.Background(), task)
	require.False(t, result.Failed())
	require.Equal(t, []any{9.0}, result.Value)

	task = newTask(core.KindMap, "useHelper", []any{4.0})
	task.Requirements = []core.Requirement{{Symbol: "math", Library: true}}
	result = e.Execute(context.Background(), task)
	require.False(t, result.Failed())
	require.Equal(t, []any{16.0}, result.Value)
}

func TestExecutor_MissingRequirement(t *testing.T) {
	e := newTestExecutor(t)
	result := e.Execute(context.Background(), newTask(core.KindMap, "useHelper", []any{3.0}))

	require.True(t, result.Failed())
	require.Equal(t, "square is not defined", result.Err.Message)
}

func TestExecutor_UnregisteredSymbols(t *testing.T) {
	e := newTestExecutor(t)

	result := e.Execute(context.Background(), newTask(core.KindMap, "nope", []any{1.0}))
	require.True(t, result.Failed())
	require.Equal(t, core.ErrorKindSerialization, result.Err.Kind)
	require.Contains(t, result.Err.Message, "nope")

	task := newTask(core.KindMap, "useHelper", []any{1.0})
	task.Requirements = []core.Requirement{{Name: "x", Symbol: "pkg.missing"}}
	result = e.Execute(context.Background(), task)
	require.True(t, result.Failed())
	require.Equal(t, core.ErrorKindSerialization, result.Err.Kind)

	task.Requirements = []core.Requirement{{Symbol: "nolib", Library: true}}
	result = e.Execute(context.Background(), task)
	require.True(t, result.Failed())
	require.Equal(t, core.ErrorKindSerialization, result.Err.Kind)
}

func TestExecutor_ErrorStopsSlice(t *testing.T) {
	e := newTestExecutor(t)
	result := e.Execute(context.Background(), newTask(core.KindMap, "failing", []any{1.0, 2.0, 3.0}))

	require.True(t, result.Failed())
	require.Equal(t, "boom", result.Err.Message)
}

func TestExecutor_PanicCapturesStack(t *testing.T) {
	e := newTestExecutor(t)
	result := e.Execute(context.Background(), newTask(core.KindSpawn, "panicking", nil))

	require.True(t, result.Failed())
	require.Equal(t, "kaboom", result.Err.Message)
	require.NotEmpty(t, result.Err.Stack)
}

func TestExecutor_MapRequiresSequence(t *testing.T) {
	e := newTestExecutor(t)
	result := e.Execute(context.Background(), newTask(core.KindMap, "addOne", 5.0))

	require.True(t, result.Failed())
	require.Contains(t, result.Err.Message, fmt.Sprintf("%s expects a sequence", core.KindMap))
}
